package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Nancyzolla/Groupe8-SI3/internal/services"
	pkghttp "github.com/Nancyzolla/Groupe8-SI3/pkg/http"
)

// maxInspectedBody caps how much of a request body the detection engine
// reads. Larger bodies are inspected up to this limit and passed through
// untouched beyond it.
const maxInspectedBody = 64 * 1024

// ThreatEvaluator runs detection checks against a single request.
type ThreatEvaluator interface {
	Evaluate(req services.RequestContext) services.Decision
}

// ThreatGateConfig controls per-route behavior of the detection gate.
type ThreatGateConfig struct {
	// SkipFrequencyChecks exempts the route from volume-based detection.
	// Auth routes set this; they carry their own per-account lockout.
	SkipFrequencyChecks bool
	// InspectBody enables body capture for injection and credential
	// stuffing analysis. Only useful on routes that accept JSON bodies.
	InspectBody bool
}

// ThreatGate returns a middleware that runs every request through the
// detection engine before it reaches the handler. Blocked requests get a
// 403 with the block reason; everything else passes through. A panic in
// the engine is contained and the request is allowed, the gate must not
// take the service down with it.
func ThreatGate(engine ThreatEvaluator, ipConfig *pkghttp.IPConfig, logger *slog.Logger, cfg ThreatGateConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqCtx := services.RequestContext{
				IP:                  pkghttp.ExtractClientIP(r, ipConfig),
				Method:              r.Method,
				Path:                r.URL.Path,
				Query:               r.URL.RawQuery,
				UserAgent:           r.UserAgent(),
				BearerToken:         bearerToken(r),
				SkipFrequencyChecks: cfg.SkipFrequencyChecks,
			}

			if cfg.InspectBody && r.Body != nil {
				body, err := io.ReadAll(io.LimitReader(r.Body, maxInspectedBody))
				if err != nil {
					pkghttp.WriteBadRequest(w, "Failed to read request body")
					return
				}
				r.Body = struct {
					io.Reader
					io.Closer
				}{io.MultiReader(bytes.NewReader(body), r.Body), r.Body}
				reqCtx.Body = string(body)
				reqCtx.Username = usernameFromBody(body)
			}

			decision := evaluate(engine, logger, reqCtx)
			if decision.Blocked {
				logger.Warn("request blocked",
					slog.String("ip_address", reqCtx.IP),
					slog.String("path", reqCtx.Path),
					slog.String("reason", decision.Reason))
				pkghttp.WriteForbidden(w, decision.Reason+"; contact the administrator if you believe this is an error")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// evaluate contains engine panics so a detection bug cannot crash the host.
func evaluate(engine ThreatEvaluator, logger *slog.Logger, req services.RequestContext) (d services.Decision) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("detection engine panic",
				slog.Any("panic", rec),
				slog.String("path", req.Path))
			d = services.Decision{}
		}
	}()
	return engine.Evaluate(req)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return h[7:]
	}
	return ""
}

// usernameFromBody pulls the username out of a JSON login payload so the
// engine can track distinct usernames per source. Non-JSON bodies and
// payloads without a username field yield an empty string.
func usernameFromBody(body []byte) string {
	var payload struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(payload.Username))
}
