package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"factbot/internal/config"
	"factbot/internal/guide"
	"factbot/internal/notifier"
	"factbot/internal/storage"
	"factbot/internal/tracker"
	logx "factbot/pkg/logx"
)

// mapLoggingConfig translates the config section into the logx service
// config. Telegram forwarding stays off until withTelegram is true, so the
// boot phase can't try to send before the adapter exists.
func mapLoggingConfig(cfg *Config, withTelegram bool) logx.Config {
	lc := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
	if withTelegram {
		lc.Telegram = logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		}
	}
	return lc
}

// groupLogChatID parses telegram.group_log; 0 means unset.
func groupLogChatID(cfg *Config) int64 {
	s := strings.TrimSpace(cfg.Telegram.GroupLog)
	if s == "" {
		return 0
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func mapGuideConfig(cfg *Config) (guide.Config, error) {
	timeout, err := config.ParseDurationOrDefault("guide.timeout", cfg.Guide.Timeout, 2*time.Minute)
	if err != nil {
		return guide.Config{}, err
	}
	return guide.Config{
		Provider: cfg.Guide.Provider,
		APIKey:   cfg.Guide.APIKey,
		Model:    cfg.Guide.Model,
		Timeout:  timeout,
	}, nil
}

// mapTrackerPolicy builds the scheduling policy. Zero values stay zero;
// the tracker substitutes its own defaults.
func mapTrackerPolicy(cfg *Config) (tracker.Policy, error) {
	var p tracker.Policy
	var err error
	tc := cfg.Tracker

	if p.SilenceThreshold, err = config.ParseDurationField("tracker.silence_threshold", tc.SilenceThreshold); err != nil {
		return p, err
	}
	if p.HealthPoll, err = config.ParseDurationField("tracker.health_poll", tc.HealthPoll); err != nil {
		return p, err
	}
	if p.LatencyEstimate, err = config.ParseDurationField("tracker.latency_estimate", tc.LatencyEstimate); err != nil {
		return p, err
	}
	if p.MinInitialWait, err = config.ParseDurationField("tracker.min_initial_wait", tc.MinInitialWait); err != nil {
		return p, err
	}
	if p.FloorSleep, err = config.ParseDurationField("tracker.floor_sleep", tc.FloorSleep); err != nil {
		return p, err
	}
	if p.GenerationTimeout, err = config.ParseDurationField("tracker.generation_timeout", tc.GenerationTimeout); err != nil {
		return p, err
	}
	if tc.HistoryLimit < 0 {
		return p, fmt.Errorf("tracker.history_limit must be >= 0")
	}
	if tc.ExcludeRecent < 0 {
		return p, fmt.Errorf("tracker.exclude_recent must be >= 0")
	}
	p.HistoryLimit = tc.HistoryLimit
	p.ExcludeRecent = tc.ExcludeRecent
	return p, nil
}

func mapNotifierConfig(cfg *Config) notifier.Config {
	var nc notifier.Config
	if cfg.Notifier != nil {
		nc.RatePerSec = float64(cfg.Notifier.RatePerSec)
	}
	return nc
}

// mapStorageConfig returns (config, enabled, error). Storage is optional;
// an absent or "none" driver disables it.
func mapStorageConfig(cfg *Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(cfg.Storage.Path)

	switch driver {
	case "file":
		if path == "" {
			path = "./factbot"
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver)
	}
}

const (
	defaultPruneSchedule = "0 4 * * *"
	defaultRetainDays    = 30
)

func maintenanceSettings(cfg *Config) (schedule string, retain time.Duration, enabled bool) {
	mc := cfg.Maintenance
	if mc == nil || !mc.Enabled {
		return "", 0, false
	}
	schedule = strings.TrimSpace(mc.PruneSchedule)
	if schedule == "" {
		schedule = defaultPruneSchedule
	}
	days := mc.RetainDays
	if days <= 0 {
		days = defaultRetainDays
	}
	return schedule, time.Duration(days) * 24 * time.Hour, true
}

// validateConfig is the reload gate: a config that fails here is rejected
// without touching the running services.
func validateConfig(_ context.Context, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Guide.Provider)) {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("guide.provider must be openai or anthropic")
	}
	if strings.TrimSpace(cfg.Guide.APIKey) == "" {
		return fmt.Errorf("guide.api_key is required")
	}
	if _, err := mapGuideConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTrackerPolicy(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}
