// Package router turns transport updates into tracking actions: commands,
// location shares and interval-keyboard callbacks.
package router

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"factbot/internal/guide"
	"factbot/internal/notifier"
	rtsup "factbot/internal/runtime/supervisor"
	"factbot/internal/storage"
	"factbot/internal/tracker"
	kit "factbot/internal/transport"
	logx "factbot/pkg/logx"
)

const defaultLanguage = "ru"

// Deps are the router's collaborators. Store may be nil (language falls
// back to the default, facts are not archived). Owners gates the /stats
// command.
type Deps struct {
	Adapter  kit.Adapter
	Tracker  *tracker.Registry
	Guide    *guide.Service
	Notifier *notifier.Service
	Store    storage.Store
	Owners   []int64
}

type Router struct {
	log       logx.Logger
	deps      Deps
	startedAt time.Time

	jobs chan func()

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
}

func New(log logx.Logger, deps Deps) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		log:       log,
		deps:      deps,
		startedAt: time.Now(),
		jobs:      make(chan func(), 256),
	}
}

// DispatchLoop consumes updates until ctx is cancelled or the channel
// closes. Handlers run on a bounded worker pool so one slow generation
// call cannot stall unrelated users.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}

	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(r.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	r.setRunning(sup, true)
	r.log.Info("dispatcher started", logx.Int("workers", workers))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			r.setRunning(sup, false)
			close(r.jobs)
		})
	}

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("router.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					if job == nil {
						continue
					}
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in update handler",
									logx.Int("worker", idx),
									logx.Any("panic", rec),
									logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.enqueue(ctx, up)
		}
	}
}

func (r *Router) setRunning(sup *rtsup.Supervisor, running bool) {
	r.runMu.Lock()
	r.sup = sup
	r.running = running
	r.runMu.Unlock()
}

func (r *Router) enqueue(ctx context.Context, up kit.Update) {
	job := func() {
		// Per-update budget; generation dominates.
		hctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
		defer cancel()
		r.handle(hctx, up)
	}
	select {
	case r.jobs <- job:
	default:
		r.log.Warn("update dropped (job queue full)", logx.String("kind", string(up.Kind)))
	}
}

func (r *Router) handle(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			r.handleMessage(ctx, up.Message)
		}
	case kit.UpdateLocation:
		if up.Location != nil {
			r.handleLocation(ctx, up.Location)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			r.handleCallback(ctx, up.Callback)
		}
	}
}

// userLanguage resolves the user's stored preference, defaulting to ru.
func (r *Router) userLanguage(ctx context.Context, userID int64) string {
	if r.deps.Store == nil {
		return defaultLanguage
	}
	lang, ok, err := r.deps.Store.GetUserLanguage(ctx, userID)
	if err != nil {
		r.log.Debug("language lookup failed", logx.Int64("user", userID), logx.Err(err))
		return defaultLanguage
	}
	if !ok {
		return defaultLanguage
	}
	return lang
}

func (r *Router) reply(ctx context.Context, chat kit.ChatTarget, text string) {
	_, err := r.deps.Adapter.SendText(ctx, chat, text, &kit.SendOptions{ParseMode: "Markdown"})
	if err != nil {
		r.log.Warn("reply failed", logx.Int64("chat", chat.ChatID), logx.Err(err))
	}
}

func (r *Router) handleMessage(ctx context.Context, m *kit.Message) {
	text := strings.TrimSpace(m.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	fields := strings.Fields(text)
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	// Group chats address commands as /cmd@botname.
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	args := fields[1:]
	chat := kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
	lang := r.userLanguage(ctx, m.FromID)

	switch cmd {
	case "start":
		r.reply(ctx, chat, notifier.Text(lang, "welcome"))
	case "help":
		r.reply(ctx, chat, notifier.Text(lang, "help"))
	case "stop":
		r.cmdStop(ctx, chat, m.FromID, lang)
	case "status":
		r.cmdStatus(ctx, chat, m.FromID, lang)
	case "lang":
		r.cmdLang(ctx, chat, m.FromID, lang, args)
	case "stats":
		r.cmdStats(ctx, chat, m.FromID)
	}
}

func (r *Router) isOwner(userID int64) bool {
	for _, id := range r.deps.Owners {
		if id == userID {
			return true
		}
	}
	return false
}

// cmdStats is an owner-only operational snapshot; silent for everyone else.
func (r *Router) cmdStats(ctx context.Context, chat kit.ChatTarget, userID int64) {
	if !r.isOwner(userID) {
		return
	}
	uptime := time.Since(r.startedAt).Round(time.Second)
	text := fmt.Sprintf("sessions: %d\nuptime: %s",
		r.deps.Tracker.ActiveCount(), uptime)
	r.reply(ctx, chat, text)
}

func (r *Router) cmdStop(ctx context.Context, chat kit.ChatTarget, userID int64, lang string) {
	if !r.deps.Tracker.IsTracking(userID) {
		r.reply(ctx, chat, notifier.Text(lang, "stop_none"))
		return
	}
	r.deps.Tracker.StopSession(userID)
	if err := r.deps.Notifier.Notify(ctx, chat.ChatID, lang, tracker.EventManualStop); err != nil {
		r.log.Warn("stop confirmation failed", logx.Int64("user", userID), logx.Err(err))
	}
}

func (r *Router) cmdStatus(ctx context.Context, chat kit.ChatTarget, userID int64, lang string) {
	info, ok := r.deps.Tracker.Status(userID)
	if !ok {
		r.reply(ctx, chat, notifier.Text(lang, "status_idle"))
		return
	}
	minutes := int(info.Interval / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	ends := info.ExpiresAt.Format("15:04")
	r.reply(ctx, chat, notifier.Textf(lang, "status_active", minutes, info.Deliveries, ends))
}

func (r *Router) cmdLang(ctx context.Context, chat kit.ChatTarget, userID int64, lang string, args []string) {
	if len(args) != 1 {
		r.reply(ctx, chat, notifier.Text(lang, "lang_usage"))
		return
	}
	code := strings.ToLower(strings.TrimSpace(args[0]))
	if code != "ru" && code != "en" {
		r.reply(ctx, chat, notifier.Text(lang, "lang_usage"))
		return
	}
	if r.deps.Store != nil {
		if err := r.deps.Store.SetUserLanguage(ctx, userID, code); err != nil {
			r.log.Warn("language save failed", logx.Int64("user", userID), logx.Err(err))
		}
	}
	r.reply(ctx, chat, notifier.Textf(code, "lang_set", code))
}
