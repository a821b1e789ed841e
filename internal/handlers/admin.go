package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/Nancyzolla/Groupe8-SI3/internal/models"
	pkghttp "github.com/Nancyzolla/Groupe8-SI3/pkg/http"
)

// BanAdministrator defines the interface for manual ban management
type BanAdministrator interface {
	Unban(ctx context.Context, ip string) error
	ListActive() []*models.BanRecord
}

// AlertReader defines the interface for reading the alert trail
type AlertReader interface {
	ListRecent(ctx context.Context, limit int) ([]*models.AlertEvent, error)
}

// AdminHandler handles the operator surface: manual unbans and read access
// to the detection trail. All routes require the admin role.
type AdminHandler struct {
	bans   BanAdministrator
	alerts AlertReader
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(bans BanAdministrator, alerts AlertReader) *AdminHandler {
	return &AdminHandler{
		bans:   bans,
		alerts: alerts,
	}
}

// UnbanRequest represents the request body for a manual ban release
type UnbanRequest struct {
	IPAddress string `json:"ip_address" validate:"required,ip"`
}

// Unban releases a banned IP. Releasing an IP that is not banned succeeds.
func (h *AdminHandler) Unban(w http.ResponseWriter, r *http.Request) {
	var req UnbanRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.bans.Unban(r.Context(), req.IPAddress); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"message": "IP unbanned",
	})
}

// ListBans returns the currently active bans.
func (h *AdminHandler) ListBans(w http.ResponseWriter, r *http.Request) {
	type banEntry struct {
		IPAddress string `json:"ip_address"`
		Reason    string `json:"reason"`
		StartedAt string `json:"started_at"`
		ExpiresAt string `json:"expires_at"`
		BanCount  int    `json:"ban_count"`
	}

	records := h.bans.ListActive()
	out := make([]banEntry, 0, len(records))
	for _, rec := range records {
		out = append(out, banEntry{
			IPAddress: rec.IPAddress,
			Reason:    rec.Reason,
			StartedAt: rec.StartedAt.Format(time.RFC3339),
			ExpiresAt: rec.ExpiresAt.Format(time.RFC3339),
			BanCount:  rec.BanCount,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"bans":  out,
		"count": len(out),
	})
}

// ListAlerts returns recent alert events, newest first. The limit query
// parameter caps the page size.
func (h *AdminHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			pkghttp.WriteBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	events, err := h.alerts.ListRecent(r.Context(), limit)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"alerts": events,
		"count":  len(events),
	})
}
