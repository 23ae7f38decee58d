package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/veilletech/sitewatch/internal/cycle"
	"github.com/veilletech/sitewatch/internal/watch"
)

const (
	defaultReportLimit = 10
	maxReportLimit     = 100
	reportsTimeout     = 5 * time.Second
)

// triggerCycle handles POST /v1/watch/run. It answers 202 immediately and
// runs the cycle in the background; a cycle already in flight makes the
// scheduled one a no-op on the run lock, it is never queued.
func (s *Server) triggerCycle(w http.ResponseWriter, r *http.Request) {
	cycleID, err := s.idGen.NewID()
	if err != nil {
		s.logger.Error("cycle id generation failed", zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to schedule cycle")
		return
	}

	go func() {
		// Detached from the request: the 202 has long been written when
		// the cycle finishes.
		if _, err := s.runner.Run(context.Background(), cycleID); err != nil && !errors.Is(err, cycle.ErrCycleRunning) {
			s.logger.Error("scheduled cycle failed",
				zap.String("cycle_id", cycleID),
				zap.Error(err))
		}
	}()

	writeJSON(s.logger, w, http.StatusAccepted, map[string]string{
		"status":   "scheduled",
		"cycle_id": cycleID,
	})
}

// listReports handles GET /v1/reports?limit=n. It returns the most recent
// entries, newest first, as {"reports": [...]} — 400 for an invalid limit,
// 500 when memory cannot be loaded.
func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultReportLimit, maxReportLimit)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), reportsTimeout)
	defer cancel()

	mem, err := s.store.Load(ctx)
	if err != nil {
		s.logger.Error("load memory failed", zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to load reports")
		return
	}

	entries := mem.Reports
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]watch.ReportEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i])
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"reports": out})
}

// getDigest handles GET /v1/digest. It builds the digest from the current
// watch list keywords and returns {"articles": [...]}; mailing it is best
// effort and never fails the request.
func (s *Server) getDigest(w http.ResponseWriter, r *http.Request) {
	if s.digest == nil {
		writeError(s.logger, w, http.StatusServiceUnavailable, "digest unavailable")
		return
	}
	list, err := watch.LoadList(s.cfg.Watch.ListPath)
	if err != nil {
		s.logger.Error("load watch list failed", zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to load watch list")
		return
	}

	articles, err := s.digest.Build(r.Context(), list.Keywords)
	if err != nil {
		s.logger.Error("digest build failed", zap.Error(err))
		writeError(s.logger, w, http.StatusBadGateway, "digest provider failed")
		return
	}

	if s.cfg.Digest.Notify {
		if err := s.digest.Send(r.Context(), articles); err != nil {
			s.logger.Warn("digest mail failed", zap.Error(err))
		}
	}

	writeJSON(s.logger, w, http.StatusOK, map[string]any{"articles": articles})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	if val > maxLimit {
		val = maxLimit
	}
	return val, nil
}
