package tracker

import (
	"context"
	"time"

	logx "factbot/pkg/logx"
)

// runMonitor is the per-session health monitor. It polls on a short fixed
// period so silence is caught within one poll regardless of how long the
// delivery cadence is. Expiry is left to the delivery loop.
func (r *Registry) runMonitor(ctx context.Context, s *session) {
	defer close(s.monitorDone)
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("health monitor panic",
				logx.String("session", s.id), logx.Any("panic", rec))
		}
	}()

	pol := s.pol
	expiry := s.expiry()
	ticker := time.NewTicker(pol.HealthPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := time.Now()
		if !now.Before(expiry) {
			return
		}
		_, last := s.snapshot()
		if now.Sub(last) > pol.SilenceThreshold {
			r.log.Info("silence detected",
				logx.Int64("user", s.userID),
				logx.String("session", s.id),
				logx.Duration("since_update", now.Sub(last)))
			r.notifyTerminal(s, EventSilentStop)
			s.cancelDelivery()
			return
		}
	}
}
