package router

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"factbot/internal/guide"
	"factbot/internal/notifier"
	"factbot/internal/storage"
	"factbot/internal/tracker"
	kit "factbot/internal/transport"
	logx "factbot/pkg/logx"
)

type recordedSend struct {
	chatID int64
	text   string
	markup bool
}

type fakeAdapter struct {
	mu    sync.Mutex
	sends []recordedSend
	edits []string
	acks  int
}

func (a *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (a *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	hasMarkup := opt != nil && opt.ReplyMarkupAdapter != nil
	a.sends = append(a.sends, recordedSend{chatID: to.ChatID, text: text, markup: hasMarkup})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(a.sends)}, nil
}

func (a *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	a.mu.Lock()
	a.edits = append(a.edits, text)
	a.mu.Unlock()
	return nil
}

func (a *fakeAdapter) SendLocation(ctx context.Context, to kit.ChatTarget, lat, lon float64) error {
	return nil
}

func (a *fakeAdapter) SendVenue(ctx context.Context, to kit.ChatTarget, v kit.Venue) error {
	return nil
}

func (a *fakeAdapter) AnswerCallback(ctx context.Context, callbackID, text string) error {
	a.mu.Lock()
	a.acks++
	a.mu.Unlock()
	return nil
}

func (a *fakeAdapter) allSends(t *testing.T) []recordedSend {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]recordedSend(nil), a.sends...)
}

type fakeGen struct{}

func (fakeGen) Generate(ctx context.Context, pos tracker.Position, exclude []string, language string) (tracker.Content, error) {
	return tracker.Content{Place: "place", Fact: "fact"}, nil
}

type fakeProvider struct{}

func (fakeProvider) Name() string { return "fake" }
func (fakeProvider) Complete(ctx context.Context, system, user string) (string, error) {
	return "<answer>\nLocation: Test Place\nSearch: Test Place, City\nInteresting fact: A thing happened here.\n</answer>", nil
}

func newTestRouter(t *testing.T) (*Router, *fakeAdapter, *tracker.Registry) {
	t.Helper()
	a := &fakeAdapter{}

	store, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "factbot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ntf := notifier.New(notifier.Config{RatePerSec: 1000}, a, logx.Nop())
	reg := tracker.New(fakeGen{}, ntf, tracker.WithPolicy(tracker.Policy{
		SilenceThreshold: time.Second,
		HealthPoll:       20 * time.Millisecond,
		MinInitialWait:   10 * time.Second, // no deliveries during these tests
		FloorSleep:       10 * time.Millisecond,
		LatencyEstimate:  10 * time.Millisecond,
	}))
	if err := reg.Start(context.Background()); err != nil {
		t.Fatalf("tracker start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = reg.Stop(ctx)
	})

	r := New(logx.Nop(), Deps{
		Adapter:  a,
		Tracker:  reg,
		Guide:    guide.New(fakeProvider{}, time.Second, logx.Nop()),
		Notifier: ntf,
		Store:    store,
		Owners:   []int64{900},
	})
	return r, a, reg
}

func TestStatsCommandIsOwnerOnly(t *testing.T) {
	t.Parallel()

	r, a, _ := newTestRouter(t)
	ctx := context.Background()

	r.handle(ctx, kit.Update{
		Kind:    kit.UpdateMessage,
		Message: &kit.Message{ChatID: 80, FromID: 8, Text: "/stats"},
	})
	if sends := a.allSends(t); len(sends) != 0 {
		t.Fatalf("non-owner got a reply: %+v", sends)
	}

	r.handle(ctx, kit.Update{
		Kind:    kit.UpdateMessage,
		Message: &kit.Message{ChatID: 80, FromID: 900, Text: "/stats"},
	})
	sends := a.allSends(t)
	if len(sends) != 1 || !strings.Contains(sends[0].text, "sessions: 0") {
		t.Fatalf("owner stats = %+v", sends)
	}
}

func TestIntervalDataRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		minutes  int
		lat, lon float64
		period   int
	}{
		{5, 48.8584, 2.2945, 3600},
		{60, -33.865143, 151.2099, 28800},
		{10, 0, 0, 900},
	}
	for _, tt := range tests {
		data := encodeIntervalData(tt.minutes, tt.lat, tt.lon, tt.period)
		if len(data) > 64 {
			t.Fatalf("callback data %q exceeds Telegram's 64-byte limit", data)
		}
		m, lat, lon, p, ok := decodeIntervalData(data)
		if !ok {
			t.Fatalf("decode failed for %q", data)
		}
		if m != tt.minutes || p != tt.period {
			t.Fatalf("roundtrip %q: got %d/%d", data, m, p)
		}
		// Coordinates carry 6 decimal places (~0.1m).
		if diff := lat - tt.lat; diff > 1e-6 || diff < -1e-6 {
			t.Fatalf("lat drift: %v", diff)
		}
		if diff := lon - tt.lon; diff > 1e-6 || diff < -1e-6 {
			t.Fatalf("lon drift: %v", diff)
		}
	}
}

func TestDecodeIntervalDataRejectsGarbage(t *testing.T) {
	t.Parallel()

	for _, data := range []string{
		"",
		"interval_",
		"interval_x_1_2_3",
		"other_5_1.0_2.0_3600",
		"interval_5_1.0_2.0",
		"interval_0_1.0_2.0_3600",
		"interval_5_1.0_2.0_0",
	} {
		if _, _, _, _, ok := decodeIntervalData(data); ok {
			t.Fatalf("decode accepted %q", data)
		}
	}
}

func TestLiveShareOffersIntervalKeyboard(t *testing.T) {
	t.Parallel()

	r, a, reg := newTestRouter(t)
	r.handle(context.Background(), kit.Update{
		Kind: kit.UpdateLocation,
		Location: &kit.LocationUpdate{
			ChatID: 10, FromID: 1, Lat: 48.85, Lon: 2.29, LivePeriod: 3600,
		},
	})

	sends := a.allSends(t)
	if len(sends) != 1 || !sends[0].markup {
		t.Fatalf("sends = %+v, want one message with a keyboard", sends)
	}
	if reg.IsTracking(1) {
		t.Fatal("session must not start before an interval is chosen")
	}
}

func TestCallbackStartsSession(t *testing.T) {
	t.Parallel()

	r, a, reg := newTestRouter(t)
	r.handle(context.Background(), kit.Update{
		Kind: kit.UpdateCallback,
		Callback: &kit.Callback{
			ID: "cb1", FromID: 2, ChatID: 20, MessageID: 5,
			Data: encodeIntervalData(10, 48.85, 2.29, 3600),
		},
	})

	if !reg.IsTracking(2) {
		t.Fatal("session not started from callback")
	}
	info, _ := reg.Status(2)
	if info.Interval != 10*time.Minute {
		t.Fatalf("interval = %v", info.Interval)
	}
	until := time.Until(info.ExpiresAt)
	if until < 59*time.Minute || until > 61*time.Minute {
		t.Fatalf("expiry %v away, want about an hour", until)
	}
	a.mu.Lock()
	acks, edits := a.acks, len(a.edits)
	a.mu.Unlock()
	if acks != 1 {
		t.Fatalf("acks = %d", acks)
	}
	if edits != 1 {
		t.Fatal("activation should replace the keyboard message")
	}
}

func TestEditedLocationFeedsTracker(t *testing.T) {
	t.Parallel()

	r, _, reg := newTestRouter(t)
	r.handle(context.Background(), kit.Update{
		Kind: kit.UpdateCallback,
		Callback: &kit.Callback{
			ID: "cb1", FromID: 3, ChatID: 30,
			Data: encodeIntervalData(5, 1, 1, 3600),
		},
	})
	before, _ := reg.Status(3)

	time.Sleep(5 * time.Millisecond)
	r.handle(context.Background(), kit.Update{
		Kind: kit.UpdateLocation,
		Location: &kit.LocationUpdate{
			ChatID: 30, FromID: 3, Lat: 2, Lon: 2, LivePeriod: 3600, Edited: true,
		},
	})
	after, _ := reg.Status(3)
	if !after.LastUpdate.After(before.LastUpdate) {
		t.Fatal("edited location did not refresh the session")
	}
}

func TestPlainLocationWhileTrackingStops(t *testing.T) {
	t.Parallel()

	r, a, reg := newTestRouter(t)
	r.handle(context.Background(), kit.Update{
		Kind: kit.UpdateCallback,
		Callback: &kit.Callback{
			ID: "cb1", FromID: 4, ChatID: 40,
			Data: encodeIntervalData(5, 1, 1, 3600),
		},
	})
	if !reg.IsTracking(4) {
		t.Fatal("setup: session not started")
	}

	r.handle(context.Background(), kit.Update{
		Kind: kit.UpdateLocation,
		Location: &kit.LocationUpdate{
			ChatID: 40, FromID: 4, Lat: 1, Lon: 1,
		},
	})
	if reg.IsTracking(4) {
		t.Fatal("plain location while tracking must stop the session")
	}
	var confirmed bool
	for _, s := range a.allSends(t) {
		if strings.Contains(s.text, "остановлено") {
			confirmed = true
		}
	}
	if !confirmed {
		t.Fatal("no stop confirmation sent")
	}
}

func TestStaticLocationSendsOneShotFact(t *testing.T) {
	t.Parallel()

	r, a, reg := newTestRouter(t)
	r.handle(context.Background(), kit.Update{
		Kind: kit.UpdateLocation,
		Location: &kit.LocationUpdate{
			ChatID: 50, FromID: 5, MessageID: 9, Lat: 48.85, Lon: 2.29,
		},
	})

	if reg.IsTracking(5) {
		t.Fatal("static location must not start a session")
	}
	a.mu.Lock()
	edits := append([]string(nil), a.edits...)
	a.mu.Unlock()
	if len(edits) != 1 || !strings.Contains(edits[0], "Test Place") {
		t.Fatalf("edits = %v, want the parsed fact", edits)
	}
}

func TestLangCommandPersists(t *testing.T) {
	t.Parallel()

	r, a, _ := newTestRouter(t)
	ctx := context.Background()

	r.handle(ctx, kit.Update{
		Kind:    kit.UpdateMessage,
		Message: &kit.Message{ChatID: 60, FromID: 6, Text: "/lang en"},
	})
	if got := r.userLanguage(ctx, 6); got != "en" {
		t.Fatalf("language = %q after /lang en", got)
	}
	// Unset users stay on the default.
	if got := r.userLanguage(ctx, 777); got != defaultLanguage {
		t.Fatalf("default language = %q", got)
	}

	r.handle(ctx, kit.Update{
		Kind:    kit.UpdateMessage,
		Message: &kit.Message{ChatID: 60, FromID: 6, Text: "/lang klingon"},
	})
	sends := a.allSends(t)
	last := sends[len(sends)-1].text
	if !strings.Contains(last, "/lang") {
		t.Fatalf("invalid code should show usage, got %q", last)
	}
}

func TestStatusCommand(t *testing.T) {
	t.Parallel()

	r, a, _ := newTestRouter(t)
	ctx := context.Background()

	r.handle(ctx, kit.Update{
		Kind:    kit.UpdateMessage,
		Message: &kit.Message{ChatID: 70, FromID: 7, Text: "/status"},
	})
	sends := a.allSends(t)
	if len(sends) == 0 || !strings.Contains(sends[len(sends)-1].text, "⚪️") {
		t.Fatalf("idle status missing, sends = %+v", sends)
	}

	r.handle(ctx, kit.Update{
		Kind: kit.UpdateCallback,
		Callback: &kit.Callback{
			ID: "cb", FromID: 7, ChatID: 70,
			Data: encodeIntervalData(30, 1, 1, 7200),
		},
	})
	r.handle(ctx, kit.Update{
		Kind:    kit.UpdateMessage,
		Message: &kit.Message{ChatID: 70, FromID: 7, Text: "/status"},
	})
	sends = a.allSends(t)
	if !strings.Contains(sends[len(sends)-1].text, "30") {
		t.Fatalf("active status should show the cadence, got %q", sends[len(sends)-1].text)
	}
}
