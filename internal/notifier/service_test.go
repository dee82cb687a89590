package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"factbot/internal/tracker"
	kit "factbot/internal/transport"
	logx "factbot/pkg/logx"
)

type sentText struct {
	chatID int64
	text   string
}

type fakeAdapter struct {
	mu        sync.Mutex
	texts     []sentText
	venues    []kit.Venue
	locations int
	venueErr  error
}

func (a *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (a *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	a.texts = append(a.texts, sentText{chatID: to.ChatID, text: text})
	a.mu.Unlock()
	return kit.MessageRef{}, nil
}

func (a *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	return nil
}

func (a *fakeAdapter) SendLocation(ctx context.Context, to kit.ChatTarget, lat, lon float64) error {
	a.mu.Lock()
	a.locations++
	a.mu.Unlock()
	return nil
}

func (a *fakeAdapter) SendVenue(ctx context.Context, to kit.ChatTarget, v kit.Venue) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.venueErr != nil {
		return a.venueErr
	}
	a.venues = append(a.venues, v)
	return nil
}

func (a *fakeAdapter) AnswerCallback(ctx context.Context, callbackID, text string) error { return nil }

func (a *fakeAdapter) lastText(t *testing.T) sentText {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.texts) == 0 {
		t.Fatal("nothing sent")
	}
	return a.texts[len(a.texts)-1]
}

func newTestService(adapter kit.Adapter) *Service {
	// High rate so tests never wait on the limiter.
	return New(Config{RatePerSec: 1000}, adapter, logx.Nop())
}

func TestDeliverFactNumbersAndLocalizes(t *testing.T) {
	t.Parallel()

	a := &fakeAdapter{}
	s := newTestService(a)

	c := tracker.Content{Place: "Эрмитаж", Fact: "В подвалах живут коты."}
	if err := s.DeliverFact(context.Background(), 42, "ru", 3, c); err != nil {
		t.Fatalf("DeliverFact: %v", err)
	}
	got := a.lastText(t)
	if got.chatID != 42 {
		t.Fatalf("chatID = %d", got.chatID)
	}
	if !strings.Contains(got.text, "Факт #3") || !strings.Contains(got.text, "Эрмитаж") {
		t.Fatalf("text = %q", got.text)
	}
}

func TestDeliverFactPlaceFallback(t *testing.T) {
	t.Parallel()

	a := &fakeAdapter{}
	s := newTestService(a)

	if err := s.DeliverFact(context.Background(), 1, "en", 1, tracker.Content{Fact: "something"}); err != nil {
		t.Fatalf("DeliverFact: %v", err)
	}
	if got := a.lastText(t).text; !strings.Contains(got, "near you") {
		t.Fatalf("text = %q, want the near-you fallback", got)
	}
}

func TestVenueFallsBackToLocation(t *testing.T) {
	t.Parallel()

	a := &fakeAdapter{venueErr: errors.New("venue rejected")}
	s := newTestService(a)

	c := tracker.Content{
		Place: "Tower",
		Fact:  "fact",
		Venue: &tracker.Venue{Lat: 1, Lon: 2},
	}
	if err := s.DeliverFact(context.Background(), 1, "en", 1, c); err != nil {
		t.Fatalf("DeliverFact: %v", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.venues) != 0 {
		t.Fatal("venue should have failed")
	}
	if a.locations != 1 {
		t.Fatalf("locations = %d, want the bare-pin fallback", a.locations)
	}
}

func TestDeliverFailureKeepsNumbering(t *testing.T) {
	t.Parallel()

	a := &fakeAdapter{}
	s := newTestService(a)

	if err := s.DeliverFailure(context.Background(), 5, "ru", 7); err != nil {
		t.Fatalf("DeliverFailure: %v", err)
	}
	if got := a.lastText(t).text; !strings.Contains(got, "#7") {
		t.Fatalf("text = %q, want the attempt number", got)
	}
}

func TestNotifyKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind tracker.EventKind
		want string
	}{
		{tracker.EventExpired, "завершена"},
		{tracker.EventSilentStop, "остановлено"},
		{tracker.EventManualStop, "остановлено"},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			t.Parallel()
			a := &fakeAdapter{}
			s := newTestService(a)
			if err := s.Notify(context.Background(), 1, "ru", tt.kind); err != nil {
				t.Fatalf("Notify: %v", err)
			}
			if got := a.lastText(t).text; !strings.Contains(got, tt.want) {
				t.Fatalf("text = %q, want substring %q", got, tt.want)
			}
		})
	}
}

func TestTextFallbacks(t *testing.T) {
	t.Parallel()

	if got := Text("de", "near_you"); got != "near you" {
		t.Fatalf("unknown language = %q, want the English entry", got)
	}
	if got := Text("en", "no_such_key"); got != "no_such_key" {
		t.Fatalf("unknown key = %q, want the key itself", got)
	}
}
