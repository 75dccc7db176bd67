package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/elektrummon/elektrummon/pkg/log"
	"github.com/elektrummon/elektrummon/pkg/monitor"
	"github.com/elektrummon/elektrummon/pkg/utility"
)

type updateResult struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// handleUpdate refreshes every instance. It is the external daily trigger,
// e.g. for Cloud Scheduler. A failing instance does not fail the request.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	errs := s.registry.RefreshAll(ctx)
	monitors := s.registry.List()
	results := make([]updateResult, 0, len(monitors))
	for _, m := range monitors {
		res := updateResult{ID: m.ID(), OK: true}
		if err, ok := errs[m.ID()]; ok {
			res.OK = false
			if errors.Is(err, monitor.ErrRefreshInProgress) {
				res.Error = "in_progress"
			} else {
				res.Error = utility.ErrorKind(err)
			}
		}
		results = append(results, res)
	}

	log.Ctx(ctx).InfoContext(ctx, "update finished", slog.Int("instances", len(results)), slog.Int("failed", len(errs)))
	writeJSON(w, struct {
		Results []updateResult `json:"results"`
	}{Results: results}, http.StatusOK)
}
