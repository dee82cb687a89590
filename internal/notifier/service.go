// Package notifier composes localized user-facing messages and pushes
// them through the transport adapter with a global send rate limit.
package notifier

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"factbot/internal/tracker"
	kit "factbot/internal/transport"
	logx "factbot/pkg/logx"
)

var ErrNoAdapter = errors.New("notifier: no adapter")

type Config struct {
	// RatePerSec caps outgoing sends across all chats. Telegram allows
	// roughly 30 msg/s globally; stay well below.
	RatePerSec float64
}

// Service implements the delivery side of a tracking session: numbered
// facts, failure placeholders, venue hints and terminal notices.
type Service struct {
	log     logx.Logger
	adapter kit.Adapter

	mu      sync.Mutex
	limiter *rate.Limiter
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, adapter: adapter}
	s.Apply(cfg)
	return s
}

// Apply installs new settings; safe while sends are in flight.
func (s *Service) Apply(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	s.mu.Lock()
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	s.mu.Unlock()
}

func (s *Service) wait(ctx context.Context) error {
	s.mu.Lock()
	lim := s.limiter
	s.mu.Unlock()
	return lim.Wait(ctx)
}

func (s *Service) send(ctx context.Context, chatID int64, text string) error {
	if s.adapter == nil {
		return ErrNoAdapter
	}
	if err := s.wait(ctx); err != nil {
		return err
	}
	_, err := s.adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{ParseMode: "Markdown"})
	return err
}

// DeliverFact sends one numbered fact, then a best-effort venue hint for
// navigation when the generator produced a companion coordinate.
func (s *Service) DeliverFact(ctx context.Context, chatID int64, language string, seq int, c tracker.Content) error {
	place := c.Place
	if place == "" {
		place = Text(language, "near_you")
	}
	if err := s.send(ctx, chatID, Textf(language, "live_fact_format", seq, place, c.Fact)); err != nil {
		return err
	}
	if c.Venue != nil {
		s.sendVenue(ctx, chatID, language, place, c.Venue)
	}
	return nil
}

// sendVenue is a navigation aid on top of the fact. Failures degrade to a
// bare location pin, then to nothing.
func (s *Service) sendVenue(ctx context.Context, chatID int64, language, place string, v *tracker.Venue) {
	if s.adapter == nil {
		return
	}
	title := v.Title
	if title == "" {
		title = place
	}
	address := v.Address
	if address == "" {
		address = Textf(language, "attraction_address", place)
	}
	if err := s.wait(ctx); err != nil {
		return
	}
	err := s.adapter.SendVenue(ctx, kit.ChatTarget{ChatID: chatID}, kit.Venue{
		Lat:     v.Lat,
		Lon:     v.Lon,
		Title:   title,
		Address: address,
	})
	if err == nil {
		return
	}
	s.log.Warn("venue send failed, falling back to location", logx.Int64("chat", chatID), logx.Err(err))
	if err := s.wait(ctx); err != nil {
		return
	}
	if err := s.adapter.SendLocation(ctx, kit.ChatTarget{ChatID: chatID}, v.Lat, v.Lon); err != nil {
		s.log.Warn("location fallback failed", logx.Int64("chat", chatID), logx.Err(err))
	}
}

// DeliverFailure keeps the numbering continuous when generation failed.
func (s *Service) DeliverFailure(ctx context.Context, chatID int64, language string, seq int) error {
	return s.send(ctx, chatID, Textf(language, "fact_error", seq))
}

// Notify sends a terminal session notice.
func (s *Service) Notify(ctx context.Context, chatID int64, language string, kind tracker.EventKind) error {
	var key string
	switch kind {
	case tracker.EventExpired:
		key = "session_expired"
	case tracker.EventSilentStop:
		key = "silent_stop"
	case tracker.EventManualStop:
		key = "manual_stop"
	default:
		return nil
	}
	return s.send(ctx, chatID, Text(language, key))
}

// StaticFact answers a one-shot (non-live) location.
func (s *Service) StaticFact(ctx context.Context, chatID int64, language string, c tracker.Content) error {
	place := c.Place
	if place == "" {
		place = Text(language, "near_you")
	}
	if err := s.send(ctx, chatID, Textf(language, "static_fact_format", place, c.Fact)); err != nil {
		return err
	}
	if c.Venue != nil {
		s.sendVenue(ctx, chatID, language, place, c.Venue)
	}
	return nil
}
