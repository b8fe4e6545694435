package server

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// startJanitor schedules the periodic sweeps: expired sessions, idle
// rate-limit windows, and operation history beyond what connected members
// still need.
func (s *Server) startJanitor() {
	interval := s.config.Sync.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}

	s.cron = cron.New()
	spec := fmt.Sprintf("@every %s", interval)
	s.cron.AddFunc(spec, s.sweepSessions)
	s.cron.AddFunc(spec, s.sweepLimiters)
	s.cron.AddFunc(spec, s.pruneHistory)
	s.cron.Start()
}

func (s *Server) sweepSessions() {
	if removed := s.sessions.SweepExpired(time.Now()); removed > 0 {
		s.logger.Info("janitor removed expired sessions", "removed", removed)
	}
}

func (s *Server) sweepLimiters() {
	s.limiters.Sweep(time.Now())
}

// pruneHistory advances each board's retention watermark. History below the
// lowest version any connected member still depends on is always safe to
// drop; the retention cap additionally bounds memory for boards with laggard
// or absent members, who are steered to resynchronize instead.
func (s *Server) pruneHistory() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	retention := int64(s.config.Sync.HistoryRetention)
	for _, boardID := range s.transformer.Boards() {
		current := s.transformer.CurrentVersion(boardID)

		watermark := current - retention
		if minKnown, ok := s.minKnownVersion(boardID); ok && minKnown > watermark {
			watermark = minKnown
		}
		if watermark <= 0 {
			continue
		}

		before := s.transformer.HistoryLen(boardID)
		s.transformer.Cleanup(boardID, watermark)
		pruned := before - s.transformer.HistoryLen(boardID)
		if pruned > 0 {
			s.logger.Debug("pruned operation history",
				"board_id", boardID, "below_version", watermark, "pruned", pruned)
		}

		if err := s.store.DeleteBefore(ctx, boardID, watermark); err != nil {
			s.logger.Warn("prune operation log", "board_id", boardID, "error", err)
		}
	}
}
