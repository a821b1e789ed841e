package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Nancyzolla/Groupe8-SI3/internal/config"
	"github.com/Nancyzolla/Groupe8-SI3/internal/models"
	"github.com/Nancyzolla/Groupe8-SI3/internal/threat"
)

// RequestContext is one request as seen by the detection engine. Body,
// BearerToken and Username are optional; empty values skip the checks that
// need them.
type RequestContext struct {
	IP          string
	Method      string
	Path        string // request path, no query string
	Query       string // raw query string, pattern-matched but never counted
	UserAgent   string
	Body        string
	BearerToken string
	Username    string

	// SkipFrequencyChecks exempts the request from the volume-based checks.
	// Set for auth routes, which carry their own per-account policy.
	SkipFrequencyChecks bool
}

// target reassembles the request-line form for the pattern matchers. The
// windowed counters key on Path alone so query variations on one endpoint
// cannot inflate the distinct-endpoint count.
func (r RequestContext) target() string {
	if r.Query == "" {
		return r.Path
	}
	return r.Path + "?" + r.Query
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Blocked bool
	Reason  string
}

// ThreatService is the detection engine. Checks run in a fixed order and the
// first blocking match wins; non-blocking matches log and let evaluation
// continue. All counters live in memory; the alert trail and ban mirror are
// written outside the window locks.
type ThreatService struct {
	cfg    config.ThreatConfig
	bans   *BanService
	alerts *AlertService
	logger *slog.Logger

	requests  *threat.WindowMap    // per-IP request instants, flood + volume
	endpoints *threat.MemberWindow // per-IP distinct paths
	usernames *threat.MemberWindow // per-IP distinct login usernames
	tokenIPs  *threat.MemberWindow // per-token-hash distinct source IPs

	// Clock is overridable for deterministic tests.
	Clock func() time.Time
}

// NewThreatService creates a new ThreatService
func NewThreatService(cfg config.ThreatConfig, bans *BanService, alerts *AlertService, logger *slog.Logger) *ThreatService {
	retention := cfg.BruteForceWindow
	if cfg.FloodWindow > retention {
		retention = cfg.FloodWindow
	}

	return &ThreatService{
		cfg:       cfg,
		bans:      bans,
		alerts:    alerts,
		logger:    logger,
		requests:  threat.NewWindowMap(retention),
		endpoints: threat.NewMemberWindow(cfg.ScanWindow),
		usernames: threat.NewMemberWindow(cfg.StuffingWindow),
		tokenIPs:  threat.NewMemberWindow(cfg.ReplayWindow),
		Clock:     time.Now,
	}
}

// Evaluate analyzes one request and decides whether to block it.
func (s *ThreatService) Evaluate(req RequestContext) Decision {
	now := s.Clock()

	s.logger.Debug("evaluating request",
		slog.String("method", req.Method),
		slog.String("path", req.Path),
		slog.String("ip_address", req.IP))

	// Ban enforcement runs first and is never skipped.
	if rec, banned := s.bans.IsBanned(req.IP); banned {
		remaining := rec.RemainingSeconds(now)
		s.alerts.Record(req.IP, models.AttackBanEnforced, models.SeverityHigh,
			fmt.Sprintf("ban active, %ds remaining", remaining), true)
		return Decision{Blocked: true, Reason: fmt.Sprintf("IP banned, %ds remaining", remaining)}
	}

	if !req.SkipFrequencyChecks {
		if d, hit := s.checkFlood(req.IP, now); hit {
			return d
		}
		if d, hit := s.checkRequestVolume(req.IP, req.Path, now); hit {
			return d
		}
		if d, hit := s.checkEndpointScan(req.IP, req.Path, now); hit {
			return d
		}
	}

	if d, hit := s.checkPathTraversal(req.IP, req.target()); hit {
		return d
	}
	if d, hit := s.checkKnownScanner(req.IP, req.UserAgent); hit {
		return d
	}
	if req.Body != "" {
		if d, hit := s.checkInjection(req.IP, req.Body); hit {
			return d
		}
	}
	if req.Username != "" {
		if d, hit := s.checkCredentialStuffing(req.IP, req.Username, now); hit {
			return d
		}
	}
	if req.BearerToken != "" {
		s.checkTokenReplay(req.IP, req.BearerToken, now)
	}

	return Decision{}
}

// checkFlood counts requests already in the flood window without recording
// the current one; recording happens in the volume check that follows.
func (s *ThreatService) checkFlood(ip string, now time.Time) (Decision, bool) {
	n := s.requests.Count(ip, s.cfg.FloodWindow, now)
	limit := s.cfg.FloodPerSecond * int(s.cfg.FloodWindow/time.Second)
	if n < limit {
		return Decision{}, false
	}

	windowSec := int(s.cfg.FloodWindow / time.Second)
	s.alerts.Record(ip, models.AttackFlood, models.SeverityCritical,
		fmt.Sprintf("%d requests in %ds", n, windowSec), true)
	s.bans.Ban(ip, models.AttackFlood, models.SeverityCritical)
	return Decision{Blocked: true, Reason: "flood detected"}, true
}

// checkRequestVolume records the request and grades the per-IP volume against
// the base threshold: 3x bans, 2x logs HIGH, 1x logs MEDIUM.
func (s *ThreatService) checkRequestVolume(ip, path string, now time.Time) (Decision, bool) {
	n := s.requests.Record(ip, s.cfg.BruteForceWindow, now)
	base := s.cfg.BruteForcePerWindow
	windowSec := int(s.cfg.BruteForceWindow / time.Second)

	switch {
	case n >= base*3:
		s.alerts.Record(ip, models.AttackBruteForceIP, models.SeverityCritical,
			fmt.Sprintf("%d req/%ds on %s", n, windowSec, path), true)
		s.bans.Ban(ip, models.AttackBruteForceIP, models.SeverityCritical)
		return Decision{Blocked: true, Reason: "brute force detected"}, true
	case n >= base*2:
		s.alerts.Record(ip, models.AttackBruteForceIP, models.SeverityHigh,
			fmt.Sprintf("%d req/%ds", n, windowSec), false)
	case n >= base:
		s.alerts.Record(ip, models.AttackRateLimit, models.SeverityMedium,
			fmt.Sprintf("%d req/%ds", n, windowSec), false)
	}
	return Decision{}, false
}

func (s *ThreatService) checkEndpointScan(ip, path string, now time.Time) (Decision, bool) {
	n, _ := s.endpoints.Observe(ip, path, now)
	if n < s.cfg.ScanEndpoints {
		return Decision{}, false
	}

	windowSec := int(s.cfg.ScanWindow / time.Second)
	s.alerts.Record(ip, models.AttackEndpointScan, models.SeverityHigh,
		fmt.Sprintf("%d endpoints in %ds", n, windowSec), true)
	s.bans.Ban(ip, models.AttackEndpointScan, models.SeverityHigh)
	return Decision{Blocked: true, Reason: "endpoint scan detected"}, true
}

func (s *ThreatService) checkPathTraversal(ip, path string) (Decision, bool) {
	if _, hit := threat.MatchPathTraversal(path); !hit {
		return Decision{}, false
	}

	s.alerts.Record(ip, models.AttackPathTraversal, models.SeverityHigh,
		fmt.Sprintf("traversal: %s", truncate(path, 80)), true)
	s.bans.Ban(ip, models.AttackPathTraversal, models.SeverityHigh)
	return Decision{Blocked: true, Reason: "path traversal detected"}, true
}

func (s *ThreatService) checkKnownScanner(ip, userAgent string) (Decision, bool) {
	if userAgent == "" {
		s.logger.Debug("request without user agent", slog.String("ip_address", ip))
		return Decision{}, false
	}
	if _, hit := threat.MatchKnownScanner(userAgent); !hit {
		return Decision{}, false
	}

	s.alerts.Record(ip, models.AttackKnownScanner, models.SeverityHigh,
		fmt.Sprintf("suspicious user agent: %s", truncate(userAgent, 80)), true)
	s.bans.Ban(ip, models.AttackKnownScanner, models.SeverityHigh)
	return Decision{Blocked: true, Reason: "attack tool detected"}, true
}

// checkInjection runs SQL patterns before XSS patterns; SQL is graded
// CRITICAL, XSS HIGH.
func (s *ThreatService) checkInjection(ip, body string) (Decision, bool) {
	if sig, hit := threat.MatchSQLInjection(body); hit {
		s.alerts.Record(ip, models.AttackSQLInjection, models.SeverityCritical,
			fmt.Sprintf("pattern: %s", sig), true)
		s.bans.Ban(ip, models.AttackSQLInjection, models.SeverityCritical)
		return Decision{Blocked: true, Reason: "injection detected"}, true
	}
	if sig, hit := threat.MatchXSS(body); hit {
		s.alerts.Record(ip, models.AttackXSS, models.SeverityHigh,
			fmt.Sprintf("pattern: %s", sig), true)
		s.bans.Ban(ip, models.AttackXSS, models.SeverityHigh)
		return Decision{Blocked: true, Reason: "injection detected"}, true
	}
	return Decision{}, false
}

// checkCredentialStuffing blocks at the full threshold and logs without
// blocking at half of it.
func (s *ThreatService) checkCredentialStuffing(ip, username string, now time.Time) (Decision, bool) {
	n, _ := s.usernames.Observe(ip, username, now)

	switch {
	case n >= s.cfg.StuffingUsernames:
		s.alerts.Record(ip, models.AttackCredentialStuffing, models.SeverityCritical,
			fmt.Sprintf("%d usernames from %s", n, ip), true)
		s.bans.Ban(ip, models.AttackCredentialStuffing, models.SeverityCritical)
		return Decision{Blocked: true, Reason: "credential stuffing detected"}, true
	case n >= s.cfg.StuffingUsernames/2:
		s.alerts.Record(ip, models.AttackCredentialStuffing, models.SeverityHigh,
			fmt.Sprintf("%d usernames", n), false)
	}
	return Decision{}, false
}

// checkTokenReplay associates bearer tokens with the IPs that present them.
// A token arriving from a new IP while already known elsewhere logs an alert
// but never blocks.
func (s *ThreatService) checkTokenReplay(ip, token string, now time.Time) {
	key := hashToken(token)

	knownIPs, known := s.tokenIPs.ObserveMembers(key, ip, now)
	if known || len(knownIPs) == 0 {
		return
	}

	sort.Strings(knownIPs)
	if len(knownIPs) > 3 {
		knownIPs = knownIPs[:3]
	}
	s.alerts.Record(ip, models.AttackTokenReplay, models.SeverityHigh,
		fmt.Sprintf("token presented from new IP (known: %s)", strings.Join(knownIPs, ",")), false)
}

// PruneWindows garbage-collects idle per-key state. Called by the background
// cleanup loop.
func (s *ThreatService) PruneWindows() int {
	now := s.Clock()
	grace := s.cfg.WindowGrace

	removed := s.requests.Prune(grace, now)
	removed += s.endpoints.Prune(grace, now)
	removed += s.usernames.Prune(grace, now)
	removed += s.tokenIPs.Prune(grace, now)
	return removed
}

// hashToken derives a short stable key so raw bearer tokens never sit in
// memory maps or alert rows.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:16]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
