// Package guide produces short location facts from an LLM backend.
//
// A Provider is a thin completion client; Service adds prompt assembly,
// response parsing and timeouts on top of it.
package guide

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "factbot/pkg/logx"
)

// Request describes one fact lookup.
type Request struct {
	Lat      float64
	Lon      float64
	Language string   // BCP-47-ish code, e.g. "ru", "en"
	Exclude  []string // recent facts the answer must not repeat
	Live     bool     // live session vs one-shot static location
}

// Content is a parsed model answer.
type Content struct {
	Place  string // specific place name, may be empty
	Search string // geocoder-friendly query, may be empty
	Fact   string // the fact text; falls back to the raw answer
	Raw    string
}

// Provider is a minimal completion backend.
type Provider interface {
	Complete(ctx context.Context, system, user string) (string, error)
	Name() string
}

// Config configures the guide service.
type Config struct {
	Provider string // "openai" or "anthropic"
	APIKey   string
	Model    string
	Timeout  time.Duration // per-call; 0 means no extra deadline
}

// NewProvider builds the configured backend.
func NewProvider(cfg Config) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openai":
		return newOpenAIProvider(cfg.APIKey, cfg.Model), nil
	case "anthropic":
		return newAnthropicProvider(cfg.APIKey, cfg.Model), nil
	default:
		return nil, errors.New("unsupported guide provider: " + cfg.Provider)
	}
}

// Service turns coordinates into parsed facts.
type Service struct {
	provider Provider
	timeout  time.Duration
	log      logx.Logger
}

func New(p Provider, timeout time.Duration, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{provider: p, timeout: timeout, log: log}
}

// NearbyFact asks the backend for a fact about the given coordinates.
func (s *Service) NearbyFact(ctx context.Context, req Request) (Content, error) {
	if s == nil || s.provider == nil {
		return Content{}, errors.New("guide: no provider configured")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	system := systemPrompt(req)
	user := userPrompt(req)

	start := time.Now()
	raw, err := s.provider.Complete(ctx, system, user)
	if err != nil {
		s.log.Warn("guide call failed",
			logx.String("provider", s.provider.Name()),
			logx.Duration("took", time.Since(start)),
			logx.Err(err))
		return Content{}, err
	}
	s.log.Debug("guide call ok",
		logx.String("provider", s.provider.Name()),
		logx.Duration("took", time.Since(start)),
		logx.Int("len", len(raw)))

	return ParseAnswer(raw), nil
}
