package api

import (
	"context"
	"net/http"

	"github.com/flowpbx/gatebridge/internal/database/models"
	"github.com/flowpbx/gatebridge/internal/ipacl"
)

// requireDashboardAddr rejects requests whose source address is outside
// the configured dashboard networks.
func (s *Server) requireDashboardAddr(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.guard.Allowed(r.RemoteAddr) {
			s.logger.Warn("dashboard access denied",
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			writePlain(w, http.StatusForbidden, "forbidden")
			s.recordAfterResponse(r.Context(), w, models.EventDashboardDenied, clientIP(r.RemoteAddr))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleDashboard renders the HTML status page.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	snap, err := s.ledger.Snapshot(r.Context(), s.cfg.DashboardRecentLimit)
	if err != nil {
		s.logger.Error("failed to read activity snapshot", "error", err)
		writePlain(w, http.StatusInternalServerError, "internal server error")
		return
	}

	page, err := s.pages.Render(snap, s.cfg.DashboardRecentLimit)
	if err != nil {
		s.logger.Error("failed to render dashboard", "error", err)
		writePlain(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeHTML(w, http.StatusOK, page)
	s.recordAfterResponse(r.Context(), w, models.EventDashboardView, clientIP(r.RemoteAddr))
}

// activityResponse is the JSON form of a ledger snapshot.
type activityResponse struct {
	Total  int64                  `json:"total"`
	Counts map[string]int64       `json:"counts"`
	Recent []models.ActivityEvent `json:"recent"`
}

// handleActivity returns the same snapshot as the dashboard as JSON.
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	snap, err := s.ledger.Snapshot(r.Context(), s.cfg.DashboardRecentLimit)
	if err != nil {
		s.logger.Error("failed to read activity snapshot", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read activity")
		return
	}

	recent := snap.Recent
	if recent == nil {
		recent = []models.ActivityEvent{}
	}
	writeJSON(w, http.StatusOK, activityResponse{
		Total:  snap.Total,
		Counts: snap.Counts,
		Recent: recent,
	})
}

// recordAfterResponse flushes the response already written to w, then
// records one ledger event under the ledger write deadline.
func (s *Server) recordAfterResponse(ctx context.Context, w http.ResponseWriter, kind, detail string) {
	if err := http.NewResponseController(w).Flush(); err != nil {
		s.logger.Debug("response not flushed before ledger write", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.ledgerTimeout)
	defer cancel()
	if err := s.ledger.Record(ctx, kind, detail, "", ""); err != nil {
		s.logger.Error("failed to record activity event", "kind", kind, "error", err)
	}
}

// clientIP returns the bare address from a RemoteAddr, or the input
// unchanged when it cannot be parsed.
func clientIP(remoteAddr string) string {
	addr, err := ipacl.ParseAddr(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return addr.String()
}
