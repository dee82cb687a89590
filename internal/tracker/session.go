package tracker

import (
	"context"
	"sync"
	"time"
)

// session is one user's active tracking run. Identity fields are immutable
// after creation; the mutable block is guarded by mu. The two task handles
// are cancelled by the registry, the sibling task, or session teardown.
type session struct {
	id       string
	userID   int64
	chatID   int64
	language string

	start    time.Time
	duration time.Duration
	interval time.Duration
	pol      Policy

	mu         sync.Mutex
	pos        Position
	lastUpdate time.Time
	count      int
	history    []string

	cancelDelivery context.CancelFunc
	cancelMonitor  context.CancelFunc
	deliveryDone   chan struct{}
	monitorDone    chan struct{}

	// Guards the single terminal notification. Explicit stop fires it
	// empty so the loops stay quiet during teardown.
	terminalOnce sync.Once
}

func (s *session) expiry() time.Time {
	return s.start.Add(s.duration)
}

// snapshot returns the latest position and update time. Best-effort
// consistency is fine here; staleness is tolerated up to the silence
// threshold anyway.
func (s *session) snapshot() (Position, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos, s.lastUpdate
}

func (s *session) setPosition(pos Position, now time.Time) {
	s.mu.Lock()
	s.pos = pos
	s.lastUpdate = now
	s.mu.Unlock()
}

// nextSeq increments the delivery counter and returns the new value.
// It counts failed attempts too, so user-facing numbering has no gaps.
func (s *session) nextSeq() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	return s.count
}

func (s *session) deliveries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *session) appendHistory(entry string, limit int) {
	if entry == "" {
		return
	}
	s.mu.Lock()
	s.history = append(s.history, entry)
	if n := len(s.history); n > limit {
		s.history = append(s.history[:0], s.history[n-limit:]...)
	}
	s.mu.Unlock()
}

// excludeTail returns a copy of the most recent n history entries in
// insertion order.
func (s *session) excludeTail(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return nil
	}
	start := len(s.history) - n
	if start < 0 {
		start = 0
	}
	out := make([]string, len(s.history)-start)
	copy(out, s.history[start:])
	return out
}

// markStopped suppresses any pending terminal notification. Used on
// explicit stop, where the caller sends its own confirmation.
func (s *session) markStopped() {
	s.terminalOnce.Do(func() {})
}

// stopAndWait cancels both tasks and awaits their settlement, delivery
// first. Safe to call more than once.
func (s *session) stopAndWait() {
	s.cancelDelivery()
	<-s.deliveryDone
	s.cancelMonitor()
	<-s.monitorDone
}
