package router

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"factbot/internal/guide"
	"factbot/internal/notifier"
	"factbot/internal/storage"
	"factbot/internal/tracker"
	kit "factbot/internal/transport"
	logx "factbot/pkg/logx"
)

// Live-period cap Telegram enforces is 8h; the interval choices mirror
// the original product.
var intervalChoices = []int{5, 10, 30, 60}

func (r *Router) handleLocation(ctx context.Context, loc *kit.LocationUpdate) {
	chat := kit.ChatTarget{ChatID: loc.ChatID, ThreadID: loc.ThreadID}
	lang := r.userLanguage(ctx, loc.FromID)
	pos := tracker.Position{Lat: loc.Lat, Lon: loc.Lon}

	// Edits are the live stream itself.
	if loc.Edited {
		if loc.LivePeriod == 0 && r.deps.Tracker.IsTracking(loc.FromID) {
			// The client signals "stopped sharing" by editing the live
			// period away.
			r.stopFromSignal(ctx, chat, loc.FromID, lang)
			return
		}
		r.deps.Tracker.UpdatePosition(loc.FromID, pos)
		return
	}

	if loc.LivePeriod > 0 {
		r.offerIntervals(ctx, chat, lang, loc)
		return
	}

	// A plain location while a session is active is a stop signal; some
	// clients send one when live sharing ends.
	if r.deps.Tracker.IsTracking(loc.FromID) {
		r.stopFromSignal(ctx, chat, loc.FromID, lang)
		return
	}

	r.staticFact(ctx, chat, loc, lang, pos)
}

func (r *Router) stopFromSignal(ctx context.Context, chat kit.ChatTarget, userID int64, lang string) {
	r.deps.Tracker.StopSession(userID)
	if err := r.deps.Notifier.Notify(ctx, chat.ChatID, lang, tracker.EventManualStop); err != nil {
		r.log.Warn("stop confirmation failed", logx.Int64("user", userID), logx.Err(err))
	}
}

// offerIntervals asks how often to send facts before the session starts.
func (r *Router) offerIntervals(ctx context.Context, chat kit.ChatTarget, lang string, loc *kit.LocationUpdate) {
	minutes := loc.LivePeriod / 60
	text := notifier.Textf(lang, "live_location_received", minutes)
	markup := intervalKeyboard(lang, loc.Lat, loc.Lon, loc.LivePeriod)
	_, err := r.deps.Adapter.SendText(ctx, chat, text, &kit.SendOptions{
		ParseMode:          "Markdown",
		ReplyMarkupAdapter: markup,
	})
	if err != nil {
		r.log.Warn("interval offer failed", logx.Int64("chat", chat.ChatID), logx.Err(err))
	}
}

// staticFact answers a one-shot location right away.
func (r *Router) staticFact(ctx context.Context, chat kit.ChatTarget, loc *kit.LocationUpdate, lang string, pos tracker.Position) {
	searching, err := r.deps.Adapter.SendText(ctx, chat, notifier.Text(lang, "searching"),
		&kit.SendOptions{ReplyTo: loc.MessageID})
	if err != nil {
		r.log.Warn("searching notice failed", logx.Int64("chat", chat.ChatID), logx.Err(err))
	}

	content, gerr := r.deps.Guide.NearbyFact(ctx, guide.Request{
		Lat:      pos.Lat,
		Lon:      pos.Lon,
		Language: lang,
	})
	if searching.MessageID != 0 {
		// Replace the placeholder instead of stacking messages.
		text := notifier.Text(lang, "error_no_info")
		if gerr == nil {
			place := content.Place
			if place == "" {
				place = notifier.Text(lang, "near_you")
			}
			text = notifier.Textf(lang, "static_fact_format", place, content.Fact)
		}
		if err := r.deps.Adapter.EditText(ctx, searching, text, &kit.SendOptions{ParseMode: "Markdown"}); err == nil {
			r.archiveStatic(loc, content, gerr != nil)
			return
		}
	}
	if gerr != nil {
		r.reply(ctx, chat, notifier.Text(lang, "error_no_info"))
		r.archiveStatic(loc, guide.Content{}, true)
		return
	}
	if err := r.deps.Notifier.StaticFact(ctx, chat.ChatID, lang, tracker.Content{
		Place: content.Place,
		Fact:  content.Fact,
	}); err != nil {
		r.log.Warn("static fact delivery failed", logx.Int64("chat", chat.ChatID), logx.Err(err))
	}
	r.archiveStatic(loc, content, false)
}

func (r *Router) archiveStatic(loc *kit.LocationUpdate, c guide.Content, failed bool) {
	if r.deps.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := r.deps.Store.AppendFact(ctx, storageFact(loc, c, failed))
	if err != nil {
		r.log.Debug("static fact archive failed", logx.Err(err))
	}
}

func storageFact(loc *kit.LocationUpdate, c guide.Content, failed bool) storage.FactEntry {
	return storage.FactEntry{
		At:     time.Now(),
		UserID: loc.FromID,
		ChatID: loc.ChatID,
		Lat:    loc.Lat,
		Lon:    loc.Lon,
		Place:  c.Place,
		Fact:   c.Fact,
		Failed: failed,
	}
}

func (r *Router) handleCallback(ctx context.Context, cb *kit.Callback) {
	minutes, lat, lon, period, ok := decodeIntervalData(cb.Data)
	if !ok {
		return
	}
	if err := r.deps.Adapter.AnswerCallback(ctx, cb.ID, ""); err != nil {
		r.log.Debug("callback ack failed", logx.Err(err))
	}

	lang := r.userLanguage(ctx, cb.FromID)
	duration := time.Duration(period) * time.Second
	interval := time.Duration(minutes) * time.Minute

	err := r.deps.Tracker.StartSession(cb.FromID, cb.ChatID, lang,
		tracker.Position{Lat: lat, Lon: lon}, duration, interval)
	if err != nil {
		r.log.Warn("session start failed", logx.Int64("user", cb.FromID), logx.Err(err))
		return
	}

	chat := kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
	text := notifier.Textf(lang, "live_activated", period/60, minutes)
	ref := kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
	// Swap the keyboard message for the confirmation.
	if err := r.deps.Adapter.EditText(ctx, ref, text, &kit.SendOptions{ParseMode: "Markdown"}); err != nil {
		r.reply(ctx, chat, text)
	}
}

// intervalKeyboard builds the cadence picker. The callback data carries
// the choice plus the original coordinates and live period, so the
// session can start without extra state.
func intervalKeyboard(lang string, lat, lon float64, period int) *tele.ReplyMarkup {
	rows := make([][]tele.InlineButton, 0, len(intervalChoices))
	for _, m := range intervalChoices {
		rows = append(rows, []tele.InlineButton{{
			Text: notifier.Textf(lang, "interval_option", m),
			Data: encodeIntervalData(m, lat, lon, period),
		}})
	}
	return &tele.ReplyMarkup{InlineKeyboard: rows}
}

func encodeIntervalData(minutes int, lat, lon float64, period int) string {
	return fmt.Sprintf("interval_%d_%.6f_%.6f_%d", minutes, lat, lon, period)
}

func decodeIntervalData(data string) (minutes int, lat, lon float64, period int, ok bool) {
	parts := strings.Split(strings.TrimSpace(data), "_")
	if len(parts) != 5 || parts[0] != "interval" {
		return 0, 0, 0, 0, false
	}
	var err error
	if minutes, err = strconv.Atoi(parts[1]); err != nil || minutes <= 0 {
		return 0, 0, 0, 0, false
	}
	if lat, err = strconv.ParseFloat(parts[2], 64); err != nil {
		return 0, 0, 0, 0, false
	}
	if lon, err = strconv.ParseFloat(parts[3], 64); err != nil {
		return 0, 0, 0, 0, false
	}
	if period, err = strconv.Atoi(parts[4]); err != nil || period <= 0 {
		return 0, 0, 0, 0, false
	}
	return minutes, lat, lon, period, true
}
