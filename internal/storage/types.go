package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// FactEntry records one delivered (or failed) fact.
// Keep it compact and schema-stable.
type FactEntry struct {
	At        time.Time `json:"at"`
	SessionID string    `json:"session_id,omitempty"` // empty for static-location facts
	UserID    int64     `json:"user_id"`
	ChatID    int64     `json:"chat_id"`
	Seq       int       `json:"seq"` // per-session fact number; 0 for static
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Place     string    `json:"place,omitempty"`
	Fact      string    `json:"fact,omitempty"`
	Failed    bool      `json:"failed,omitempty"`
}
