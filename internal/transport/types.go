package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
	UpdateLocation UpdateKind = "location"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
	Location *LocationUpdate
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

// LocationUpdate carries a shared location.
//
// Telegram delivers live-location streams as a first message with a
// live_period followed by edits of that message; Edited distinguishes the
// stream updates from the initial share. LivePeriod==0 on a fresh message
// means a static (one-shot) location.
type LocationUpdate struct {
	MessageID  int
	ChatID     int64
	ThreadID   int
	FromID     int64
	Lat        float64
	Lon        float64
	LivePeriod int // seconds; 0 for a static location
	Edited     bool
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	ReplyTo            int // message id to reply to (0 = none)
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// Venue is a named point of interest, rendered by Telegram as a map pin
// with a title and address.
type Venue struct {
	Lat     float64
	Lon     float64
	Title   string
	Address string
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	SendLocation(ctx context.Context, to ChatTarget, lat, lon float64) error
	SendVenue(ctx context.Context, to ChatTarget, v Venue) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
