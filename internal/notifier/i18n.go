package notifier

import (
	"fmt"
	"strings"
)

// Message catalog. Russian is the default; unknown languages fall back to
// English, unknown keys fall back to the key itself so a missing entry is
// visible instead of silent.
var catalog = map[string]map[string]string{
	"ru": {
		"live_fact_format":   "🔴 *Факт #%d*\n\n📍 *Место:* %s\n\n💡 *Факт:* %s",
		"static_fact_format": "📍 *Место:* %s\n\n💡 *Факт:* %s",
		"fact_error":         "🔴 *Факт #%d*\n\n😔 *Упс!*\n\nНе удалось найти интересную информацию о текущем месте.",
		"near_you":           "рядом с вами",
		"attraction_address": "Достопримечательность: %s",
		"session_expired":    "🏁 Сессия живой локации завершена. Спасибо за прогулку!",
		"silent_stop":        "📍 Похоже, вы перестали делиться локацией. Отслеживание остановлено.",
		"manual_stop":        "✅ Отслеживание остановлено.",
		"welcome":            "👋 Привет! Отправьте мне локацию, и я расскажу интересный факт о месте рядом.\n\n🔴 Поделитесь *живой локацией*, и я буду присылать факты по пути.\n\nКоманды: /status, /stop, /lang",
		"help":               "📍 Обычная локация — один интересный факт о месте рядом.\n🔴 Живая локация — факты по пути с выбранной периодичностью.\n\n/status — состояние отслеживания\n/stop — остановить отслеживание\n/lang ru|en — язык ответов",
		"live_location_received": "🔴 *Живая локация получена!*\n\n📍 Отслеживание на %d минут\n\nКак часто присылать интересные факты?",
		"interval_option":    "Каждые %d минут",
		"live_activated":     "🔴 *Живая локация активирована!*\n\n📍 Отслеживание: %d минут\n⏰ Факты каждые: %d минут\n\n🚀 Первый факт уже готовится, дальше буду присылать автоматически.\n\nОстановите трансляцию, чтобы завершить сессию.",
		"error_no_info":      "😔 *Упс!*\n\nНе удалось найти интересную информацию о данном месте.\nПопробуйте немного сместиться или отправить другую локацию.",
		"searching":          "🔍 Ищу интересный факт о месте рядом...",
		"status_active":      "🟢 Отслеживание активно\n⏰ Факты каждые: %d минут\n📨 Отправлено фактов: %d\n🏁 Завершение: %s",
		"status_idle":        "⚪️ Нет активной сессии. Отправьте живую локацию, чтобы начать.",
		"stop_none":          "⚪️ Сейчас ничего не отслеживается.",
		"lang_set":           "✅ Язык сохранён: %s",
		"lang_usage":         "Использование: /lang ru|en",
	},
	"en": {
		"live_fact_format":   "🔴 *Fact #%d*\n\n📍 *Place:* %s\n\n💡 *Fact:* %s",
		"static_fact_format": "📍 *Place:* %s\n\n💡 *Fact:* %s",
		"fact_error":         "🔴 *Fact #%d*\n\n😔 *Oops!*\n\nCouldn't find interesting information about the current location.",
		"near_you":           "near you",
		"attraction_address": "Attraction: %s",
		"session_expired":    "🏁 Live location session ended. Thanks for the walk!",
		"silent_stop":        "📍 Looks like you stopped sharing your location. Tracking stopped.",
		"manual_stop":        "✅ Tracking stopped.",
		"welcome":            "👋 Hi! Send me a location and I'll share an interesting fact about a place nearby.\n\n🔴 Share a *live location* and I'll keep sending facts along your way.\n\nCommands: /status, /stop, /lang",
		"help":               "📍 Regular location — one interesting fact about a nearby place.\n🔴 Live location — facts along your way at a chosen cadence.\n\n/status — tracking state\n/stop — stop tracking\n/lang ru|en — reply language",
		"live_location_received": "🔴 *Live location received!*\n\n📍 Tracking for %d minutes\n\nHow often should I send interesting facts?",
		"interval_option":    "Every %d minutes",
		"live_activated":     "🔴 *Live location activated!*\n\n📍 Tracking: %d minutes\n⏰ Facts every: %d minutes\n\n🚀 The first fact is on its way; I'll keep them coming automatically.\n\nStop sharing to end the session.",
		"error_no_info":      "😔 *Oops!*\n\nCouldn't find interesting information about this location.\nTry moving slightly or sending a different location.",
		"searching":          "🔍 Looking for an interesting fact about a place nearby...",
		"status_active":      "🟢 Tracking active\n⏰ Facts every: %d minutes\n📨 Facts sent: %d\n🏁 Ends at: %s",
		"status_idle":        "⚪️ No active session. Share a live location to start.",
		"stop_none":          "⚪️ Nothing is being tracked right now.",
		"lang_set":           "✅ Language saved: %s",
		"lang_usage":         "Usage: /lang ru|en",
	},
}

// Text returns the catalog entry for lang, falling back to English.
func Text(lang, key string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if m, ok := catalog[lang]; ok {
		if s, ok := m[key]; ok {
			return s
		}
	}
	if s, ok := catalog["en"][key]; ok {
		return s
	}
	return key
}

// Textf formats a catalog entry with fmt verbs.
func Textf(lang, key string, args ...any) string {
	return fmt.Sprintf(Text(lang, key), args...)
}
