package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type genCall struct {
	pos     Position
	exclude []string
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls []genCall
	err   error
}

func (g *fakeGenerator) Generate(ctx context.Context, pos Position, exclude []string, language string) (Content, error) {
	_ = ctx
	_ = language
	g.mu.Lock()
	snapshot := append([]string(nil), exclude...)
	g.calls = append(g.calls, genCall{pos: pos, exclude: snapshot})
	n := len(g.calls)
	err := g.err
	g.mu.Unlock()
	if err != nil {
		return Content{}, err
	}
	return Content{Place: "place", Fact: factText(n)}, nil
}

func factText(n int) string {
	return "fact-" + string(rune('0'+n%10))
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *fakeGenerator) call(i int) genCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[i]
}

type delivered struct {
	seq     int
	content Content
	at      time.Time
}

type fakeMessenger struct {
	mu       sync.Mutex
	facts    []delivered
	failures []int
	events   []EventKind
}

func (m *fakeMessenger) DeliverFact(ctx context.Context, chatID int64, language string, seq int, c Content) error {
	_, _, _ = ctx, chatID, language
	m.mu.Lock()
	m.facts = append(m.facts, delivered{seq: seq, content: c, at: time.Now()})
	m.mu.Unlock()
	return nil
}

func (m *fakeMessenger) DeliverFailure(ctx context.Context, chatID int64, language string, seq int) error {
	_, _, _ = ctx, chatID, language
	m.mu.Lock()
	m.failures = append(m.failures, seq)
	m.mu.Unlock()
	return nil
}

func (m *fakeMessenger) Notify(ctx context.Context, chatID int64, language string, kind EventKind) error {
	_, _, _ = ctx, chatID, language
	m.mu.Lock()
	m.events = append(m.events, kind)
	m.mu.Unlock()
	return nil
}

func (m *fakeMessenger) factCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.facts)
}

func (m *fakeMessenger) failureCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.failures)
}

func (m *fakeMessenger) eventList() []EventKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EventKind(nil), m.events...)
}

// fastPolicy compresses the production timings into milliseconds so the
// scheduling behavior is observable in tests.
func fastPolicy() Policy {
	return Policy{
		SilenceThreshold:  2 * time.Second,
		HealthPoll:        25 * time.Millisecond,
		LatencyEstimate:   60 * time.Millisecond,
		MinInitialWait:    20 * time.Millisecond,
		FloorSleep:        10 * time.Millisecond,
		GenerationTimeout: time.Second,
		HistoryLimit:      10,
		ExcludeRecent:     5,
	}
}

func newTestRegistry(t *testing.T, gen Generator, msg Messenger, pol Policy) *Registry {
	t.Helper()
	r := New(gen, msg, WithPolicy(pol))
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Stop(ctx)
	})
	return r
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartSessionRequiresRunningRegistry(t *testing.T) {
	t.Parallel()

	r := New(&fakeGenerator{}, &fakeMessenger{})
	err := r.StartSession(1, 1, "en", Position{}, time.Hour, time.Minute)
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("err = %v, want ErrNotRunning", err)
	}
}

func TestSecondStartReplacesFirstSession(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{}
	msg := &fakeMessenger{}
	r := newTestRegistry(t, gen, msg, fastPolicy())

	if err := r.StartSession(7, 70, "en", Position{Lat: 1}, time.Hour, 5*time.Minute); err != nil {
		t.Fatalf("first StartSession: %v", err)
	}
	first, _ := r.Status(7)
	if err := r.StartSession(7, 70, "en", Position{Lat: 2}, time.Hour, 10*time.Minute); err != nil {
		t.Fatalf("second StartSession: %v", err)
	}

	if got := r.ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount = %d, want 1", got)
	}
	info, ok := r.Status(7)
	if !ok {
		t.Fatal("Status: session missing")
	}
	if info.ID == first.ID {
		t.Fatal("second start kept the first session")
	}
	if info.Interval != 10*time.Minute {
		t.Fatalf("interval = %v, want parameters of the second start", info.Interval)
	}
	// Replacement is silent; neither loop sends a terminal event.
	if ev := msg.eventList(); len(ev) != 0 {
		t.Fatalf("unexpected notifications: %v", ev)
	}
}

func TestStopSessionIsImmediateAndSilent(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{}
	msg := &fakeMessenger{}
	r := newTestRegistry(t, gen, msg, fastPolicy())

	if err := r.StartSession(3, 30, "en", Position{}, time.Hour, 50*time.Millisecond); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	waitFor(t, 2*time.Second, "first delivery", func() bool { return msg.factCount() >= 1 })

	r.StopSession(3)
	if r.IsTracking(3) {
		t.Fatal("IsTracking true right after StopSession")
	}
	n := msg.factCount()
	time.Sleep(200 * time.Millisecond)
	if got := msg.factCount(); got != n {
		t.Fatalf("deliveries continued after stop: %d -> %d", n, got)
	}
	if ev := msg.eventList(); len(ev) != 0 {
		t.Fatalf("explicit stop must not notify from the loops, got %v", ev)
	}

	// Idempotent for untracked users.
	r.StopSession(3)
	r.StopSession(12345)
}

func TestExpiryNotifiesOnceAndRemoves(t *testing.T) {
	t.Parallel()

	pol := fastPolicy()
	pol.MinInitialWait = 300 * time.Millisecond // longer than the session
	gen := &fakeGenerator{}
	msg := &fakeMessenger{}
	r := newTestRegistry(t, gen, msg, pol)

	if err := r.StartSession(5, 50, "en", Position{}, 150*time.Millisecond, time.Hour); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	start := time.Now()
	waitFor(t, 3*time.Second, "expiry notification", func() bool { return len(msg.eventList()) > 0 })

	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Fatalf("expired after %v, before the requested duration", elapsed)
	}
	waitFor(t, time.Second, "registry removal", func() bool { return !r.IsTracking(5) })

	time.Sleep(100 * time.Millisecond)
	ev := msg.eventList()
	if len(ev) != 1 || ev[0] != EventExpired {
		t.Fatalf("events = %v, want exactly one EventExpired", ev)
	}
	if gen.callCount() != 0 {
		t.Fatalf("expired session still generated %d facts", gen.callCount())
	}
}

func TestSilenceDetectedWithinOnePoll(t *testing.T) {
	t.Parallel()

	pol := fastPolicy()
	pol.SilenceThreshold = 120 * time.Millisecond
	pol.HealthPoll = 30 * time.Millisecond
	pol.MinInitialWait = 10 * time.Second // delivery cadence far slower than detection
	gen := &fakeGenerator{}
	msg := &fakeMessenger{}
	r := newTestRegistry(t, gen, msg, pol)

	if err := r.StartSession(9, 90, "en", Position{}, time.Hour, time.Hour); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	waitFor(t, 2*time.Second, "silence notification", func() bool { return len(msg.eventList()) > 0 })
	waitFor(t, time.Second, "registry removal", func() bool { return !r.IsTracking(9) })

	ev := msg.eventList()
	if len(ev) != 1 || ev[0] != EventSilentStop {
		t.Fatalf("events = %v, want exactly one EventSilentStop", ev)
	}
}

func TestPositionUpdatesKeepSessionAliveAndFeedGenerator(t *testing.T) {
	t.Parallel()

	pol := fastPolicy()
	pol.SilenceThreshold = 150 * time.Millisecond
	pol.HealthPoll = 25 * time.Millisecond
	pol.MinInitialWait = 60 * time.Millisecond
	gen := &fakeGenerator{}
	msg := &fakeMessenger{}
	r := newTestRegistry(t, gen, msg, pol)

	if err := r.StartSession(4, 40, "en", Position{Lat: 1, Lon: 1}, time.Hour, 40*time.Millisecond); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	r.UpdatePosition(4, Position{Lat: 2.5, Lon: 3.5})

	// Keep updates flowing so the session stays alive across cycles.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tick := time.NewTicker(50 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				r.UpdatePosition(4, Position{Lat: 2.5, Lon: 3.5})
			}
		}
	}()

	waitFor(t, 3*time.Second, "three deliveries", func() bool { return gen.callCount() >= 3 })
	close(stop)
	wg.Wait()
	r.StopSession(4)

	if got := gen.call(0).pos; got != (Position{Lat: 2.5, Lon: 3.5}) {
		t.Fatalf("first cycle used %+v, want the updated position", got)
	}

	// Update for an untracked user is a silent no-op.
	r.UpdatePosition(999, Position{Lat: 9})
}

func TestDeliveryNumberingAndHistory(t *testing.T) {
	t.Parallel()

	pol := fastPolicy()
	pol.ExcludeRecent = 2
	pol.HistoryLimit = 3
	gen := &fakeGenerator{}
	msg := &fakeMessenger{}
	r := newTestRegistry(t, gen, msg, pol)

	if err := r.StartSession(8, 80, "en", Position{}, time.Hour, 30*time.Millisecond); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	waitFor(t, 5*time.Second, "five deliveries", func() bool { return msg.factCount() >= 5 })
	r.StopSession(8)

	msg.mu.Lock()
	facts := append([]delivered(nil), msg.facts...)
	msg.mu.Unlock()
	for i, f := range facts[:5] {
		if f.seq != i+1 {
			t.Fatalf("fact %d has seq %d", i, f.seq)
		}
	}

	// First cycle starts with no history; later cycles carry the most
	// recent entries, capped at ExcludeRecent.
	if got := gen.call(0).exclude; len(got) != 0 {
		t.Fatalf("first exclusion list = %v, want empty", got)
	}
	if got := gen.call(1).exclude; len(got) != 1 {
		t.Fatalf("second exclusion list = %v, want one entry", got)
	}
	fourth := gen.call(3).exclude
	if len(fourth) != 2 {
		t.Fatalf("exclusion list = %v, want capped at 2", fourth)
	}
	// Most recent last.
	if fourth[1] != "place: "+factText(3) {
		t.Fatalf("exclusion tail = %q", fourth[1])
	}
}

func TestGenerationFailureSendsNumberedPlaceholder(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{err: errors.New("model unavailable")}
	msg := &fakeMessenger{}
	r := newTestRegistry(t, gen, msg, fastPolicy())

	if err := r.StartSession(2, 20, "en", Position{}, time.Hour, 30*time.Millisecond); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	waitFor(t, 3*time.Second, "two placeholders", func() bool { return msg.failureCount() >= 2 })
	r.StopSession(2)

	if msg.factCount() != 0 {
		t.Fatal("failed cycles must not deliver facts")
	}
	msg.mu.Lock()
	failures := append([]int(nil), msg.failures...)
	msg.mu.Unlock()
	if failures[0] != 1 || failures[1] != 2 {
		t.Fatalf("placeholder seqs = %v, numbering must stay continuous", failures[:2])
	}
}

func TestPacingNeverCollapsesBelowFloor(t *testing.T) {
	t.Parallel()

	pol := fastPolicy()
	pol.FloorSleep = 40 * time.Millisecond
	gen := &fakeGenerator{}
	msg := &fakeMessenger{}
	r := newTestRegistry(t, gen, msg, pol)

	// Interval shorter than the floor: the floor wins.
	if err := r.StartSession(6, 60, "en", Position{}, time.Hour, 5*time.Millisecond); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	waitFor(t, 3*time.Second, "four deliveries", func() bool { return msg.factCount() >= 4 })
	r.StopSession(6)

	msg.mu.Lock()
	facts := append([]delivered(nil), msg.facts...)
	msg.mu.Unlock()
	for i := 1; i < 4; i++ {
		gap := facts[i].at.Sub(facts[i-1].at)
		if gap < pol.FloorSleep {
			t.Fatalf("gap %d = %v, below floor %v", i, gap, pol.FloorSleep)
		}
	}
}

func TestHistoryCapAcrossManyCycles(t *testing.T) {
	t.Parallel()

	pol := fastPolicy()
	pol.HistoryLimit = 3
	pol.ExcludeRecent = 5
	gen := &fakeGenerator{}
	msg := &fakeMessenger{}
	r := newTestRegistry(t, gen, msg, pol)

	if err := r.StartSession(11, 110, "en", Position{}, time.Hour, 20*time.Millisecond); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	waitFor(t, 5*time.Second, "six deliveries", func() bool { return gen.callCount() >= 6 })
	r.StopSession(11)

	// Even with ExcludeRecent above the cap, history itself is bounded.
	last := gen.call(5).exclude
	if len(last) > pol.HistoryLimit {
		t.Fatalf("exclusion list has %d entries, history cap is %d", len(last), pol.HistoryLimit)
	}
}

func TestRegistryStopTearsDownAllSessions(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{}
	msg := &fakeMessenger{}
	r := New(gen, msg, WithPolicy(fastPolicy()))
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := int64(1); i <= 3; i++ {
		if err := r.StartSession(i, i*10, "en", Position{}, time.Hour, time.Hour); err != nil {
			t.Fatalf("StartSession(%d): %v", i, err)
		}
	}
	if got := r.ActiveCount(); got != 3 {
		t.Fatalf("ActiveCount = %d, want 3", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := r.ActiveCount(); got != 0 {
		t.Fatalf("ActiveCount after Stop = %d", got)
	}
	if ev := msg.eventList(); len(ev) != 0 {
		t.Fatalf("shutdown must not notify sessions, got %v", ev)
	}
	if err := r.StartSession(1, 10, "en", Position{}, time.Hour, time.Hour); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("StartSession after Stop = %v, want ErrNotRunning", err)
	}
}

func TestEventSinkSeesLifecycle(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var kinds []string
	sink := func(e SessionEvent) {
		mu.Lock()
		kinds = append(kinds, e.Kind)
		mu.Unlock()
	}

	r := New(&fakeGenerator{}, &fakeMessenger{}, WithPolicy(fastPolicy()), WithEventSink(sink))
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Stop(ctx)
	})

	if err := r.StartSession(1, 10, "en", Position{}, time.Hour, time.Hour); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	r.StopSession(1)

	mu.Lock()
	got := append([]string(nil), kinds...)
	mu.Unlock()
	if len(got) != 2 || got[0] != "started" || got[1] != "stopped" {
		t.Fatalf("events = %v, want [started stopped]", got)
	}
}
