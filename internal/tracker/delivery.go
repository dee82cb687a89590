package tracker

import (
	"context"
	"fmt"
	"time"

	logx "factbot/pkg/logx"
)

// runDelivery is the per-session delivery loop. It paces fact delivery to
// the requested interval, compensating for generation latency, and ends
// the session on expiry or silence. Cancellation is the normal
// termination signal, not an error.
func (r *Registry) runDelivery(ctx context.Context, s *session) {
	defer close(s.deliveryDone)
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("delivery loop panic",
				logx.String("session", s.id), logx.Any("panic", rec))
		}
	}()
	defer r.removeSession(s)
	defer s.cancelMonitor()

	pol := s.pol
	expiry := s.expiry()

	// The first fact should land roughly one interval after start. A
	// generation call eats into that, so the initial wait is shortened
	// by the expected latency, floored to keep it sane for short
	// intervals.
	initial := s.interval - pol.LatencyEstimate
	if initial < pol.MinInitialWait {
		initial = pol.MinInitialWait
	}
	if !sleepCtx(ctx, initial) {
		return
	}

	for {
		now := time.Now()
		if !now.Before(expiry) {
			r.notifyTerminal(s, EventExpired)
			return
		}
		pos, last := s.snapshot()
		if now.Sub(last) > pol.SilenceThreshold {
			r.notifyTerminal(s, EventSilentStop)
			return
		}

		cycleStart := time.Now()
		seq := s.nextSeq()
		exclude := s.excludeTail(pol.ExcludeRecent)

		genCtx, cancel := context.WithTimeout(ctx, pol.GenerationTimeout)
		content, err := r.gen.Generate(genCtx, pos, exclude, s.language)
		cancel()
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			r.log.Warn("fact generation failed",
				logx.String("session", s.id), logx.Int("seq", seq), logx.Err(err))
			// Numbering stays continuous: the user gets a numbered
			// placeholder instead of a silent gap.
			if derr := r.msg.DeliverFailure(ctx, s.chatID, s.language, seq); derr != nil {
				r.log.Warn("placeholder delivery failed",
					logx.String("session", s.id), logx.Int("seq", seq), logx.Err(derr))
			}
			r.archive(s, seq, pos, Content{}, true)
		} else {
			s.appendHistory(historyEntry(content), pol.HistoryLimit)
			if derr := r.msg.DeliverFact(ctx, s.chatID, s.language, seq, content); derr != nil {
				r.log.Warn("fact delivery failed",
					logx.String("session", s.id), logx.Int("seq", seq), logx.Err(derr))
			}
			r.archive(s, seq, pos, content, false)
		}

		elapsed := time.Since(cycleStart)
		pause := s.interval - elapsed
		if pause < pol.FloorSleep {
			pause = pol.FloorSleep
		}
		if !sleepCtx(ctx, pause) {
			return
		}
	}
}

// historyEntry is the exclusion-list form of a delivered fact.
func historyEntry(c Content) string {
	place := c.Place
	if place == "" {
		place = "?"
	}
	return fmt.Sprintf("%s: %s", place, c.Fact)
}

// sleepCtx sleeps for d, returning false if ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
