// Package tracker schedules per-user live-location sessions.
//
// Each session runs two cooperating tasks over shared state: a delivery
// loop that paces fact delivery against the requested cadence, and a
// health monitor that detects silent abandonment faster than the delivery
// cadence would. The Registry is the single owner of the user -> session
// map; everything else observes session state by reference.
package tracker

import (
	"context"
	"errors"
	"time"
)

// ErrNotRunning is returned by StartSession before Start or after Stop.
var ErrNotRunning = errors.New("tracker: registry not running")

// Position is a reported coordinate pair.
type Position struct {
	Lat float64
	Lon float64
}

// Venue is an optional navigation aid attached to a fact.
type Venue struct {
	Lat     float64
	Lon     float64
	Title   string
	Address string
}

// Content is one generated fact ready for delivery.
type Content struct {
	Place string
	Fact  string
	Venue *Venue
}

// EventKind identifies a terminal session notification.
type EventKind int

const (
	EventExpired EventKind = iota + 1 // requested duration elapsed
	EventSilentStop                   // no position updates within the threshold
	EventManualStop                   // explicit stop confirmation, sent by the caller
)

func (k EventKind) String() string {
	switch k {
	case EventExpired:
		return "expired"
	case EventSilentStop:
		return "silent_stop"
	case EventManualStop:
		return "manual_stop"
	default:
		return "unknown"
	}
}

// Generator produces location content. Calls may take seconds and are
// bounded by Policy.GenerationTimeout from the loop's perspective.
type Generator interface {
	Generate(ctx context.Context, pos Position, exclude []string, language string) (Content, error)
}

// Messenger delivers facts and terminal notifications. All methods are
// best-effort from the scheduler's point of view: errors are logged and
// never terminate a session.
type Messenger interface {
	DeliverFact(ctx context.Context, chatID int64, language string, seq int, c Content) error
	DeliverFailure(ctx context.Context, chatID int64, language string, seq int) error
	Notify(ctx context.Context, chatID int64, language string, kind EventKind) error
}

// Record is one archived delivery attempt.
type Record struct {
	At        time.Time
	SessionID string
	UserID    int64
	ChatID    int64
	Seq       int
	Position  Position
	Place     string
	Fact      string
	Failed    bool
}

// Archiver persists delivery records. Optional; failures are logged only.
type Archiver interface {
	Record(ctx context.Context, rec Record) error
}

// Policy holds the scheduling knobs. The silence threshold and poll period
// trade false-positive stop detection against responsiveness; they are
// configuration, not constants.
type Policy struct {
	SilenceThreshold  time.Duration // no updates for this long means the user stopped sharing
	HealthPoll        time.Duration // monitor wake period
	LatencyEstimate   time.Duration // expected generation time, subtracted from the initial wait
	MinInitialWait    time.Duration // lower bound on the initial wait
	FloorSleep        time.Duration // lower bound on the inter-cycle pause
	GenerationTimeout time.Duration // per-call bound on the generator
	HistoryLimit      int           // max retained history entries
	ExcludeRecent     int           // history tail passed to the generator
}

// DefaultPolicy mirrors the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		SilenceThreshold:  3 * time.Minute,
		HealthPoll:        30 * time.Second,
		LatencyEstimate:   3 * time.Minute,
		MinInitialWait:    30 * time.Second,
		FloorSleep:        15 * time.Second,
		GenerationTimeout: 2 * time.Minute,
		HistoryLimit:      10,
		ExcludeRecent:     5,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.SilenceThreshold <= 0 {
		p.SilenceThreshold = d.SilenceThreshold
	}
	if p.HealthPoll <= 0 {
		p.HealthPoll = d.HealthPoll
	}
	if p.LatencyEstimate <= 0 {
		p.LatencyEstimate = d.LatencyEstimate
	}
	if p.MinInitialWait <= 0 {
		p.MinInitialWait = d.MinInitialWait
	}
	if p.FloorSleep <= 0 {
		p.FloorSleep = d.FloorSleep
	}
	if p.GenerationTimeout <= 0 {
		p.GenerationTimeout = d.GenerationTimeout
	}
	if p.HistoryLimit <= 0 {
		p.HistoryLimit = d.HistoryLimit
	}
	if p.ExcludeRecent <= 0 {
		p.ExcludeRecent = d.ExcludeRecent
	}
	return p
}
