package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Guide    GuideConfig    `json:"guide"`

	// Tracker holds the live-session scheduling policy. Every knob has a
	// default, so an empty block is valid.
	Tracker TrackerConfig `json:"tracker"`

	Notifier    *NotifierConfig    `json:"notifier,omitempty"`
	Storage     *StorageConfig     `json:"storage,omitempty"`
	Maintenance *MaintenanceConfig `json:"maintenance,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the chat id (as string) receiving forwarded warn/error logs.
	GroupLog string `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// GuideConfig selects and configures the fact-generation backend.
//
// Provider is "openai" or "anthropic". Timeout bounds a single generation
// call from the delivery loop's perspective.
type GuideConfig struct {
	Provider string `json:"provider"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model,omitempty"`
	// Language is the fallback reply language when a user has no stored
	// preference ("ru" or "en"; default "ru").
	Language string `json:"language,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

// TrackerConfig tunes the per-user session scheduler.
//
// All durations are Go duration strings. The silence threshold and health
// poll interval trade false-positive stop detection against responsiveness;
// they are configuration, not constants, for exactly that reason.
//
// Defaults (when fields are omitted/zero):
//   - silence_threshold: "3m"
//   - health_poll: "30s"
//   - latency_estimate: "3m" (expected generation latency, offsets the first wait)
//   - min_initial_wait: "30s"
//   - floor_sleep: "15s"
//   - generation_timeout: "2m"
//   - history_limit: 10
//   - exclude_recent: 5
type TrackerConfig struct {
	SilenceThreshold  string `json:"silence_threshold,omitempty"`
	HealthPoll        string `json:"health_poll,omitempty"`
	LatencyEstimate   string `json:"latency_estimate,omitempty"`
	MinInitialWait    string `json:"min_initial_wait,omitempty"`
	FloorSleep        string `json:"floor_sleep,omitempty"`
	GenerationTimeout string `json:"generation_timeout,omitempty"`
	HistoryLimit      int    `json:"history_limit,omitempty"`
	ExcludeRecent     int    `json:"exclude_recent,omitempty"`
}

// NotifierConfig controls outbound delivery throttling.
// If the whole section is omitted, defaults apply.
type NotifierConfig struct {
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// StorageConfig controls the optional persistence layer
// (user language preferences + delivered-fact archive).
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./factbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// MaintenanceConfig schedules background housekeeping.
//
// PruneSchedule is a standard 5-field cron expression evaluated in local
// time; RetainDays bounds the fact archive age.
type MaintenanceConfig struct {
	Enabled       bool   `json:"enabled"`
	PruneSchedule string `json:"prune_schedule,omitempty"` // default "0 4 * * *"
	RetainDays    int    `json:"retain_days,omitempty"`    // default 30
}
