// Package app wires configuration, transport, generation, tracking and
// persistence into one runnable bot.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"factbot/internal/config"
	"factbot/internal/eventbus"
	"factbot/internal/guide"
	"factbot/internal/notifier"
	rtsup "factbot/internal/runtime/supervisor"
	"factbot/internal/storage"
	"factbot/internal/tracker"
	kit "factbot/internal/transport"
	tgadapter "factbot/internal/transport/telegram/adapter"
	"factbot/internal/transport/telegram/router"
	logx "factbot/pkg/logx"
)

// Config re-exports the config schema so callers don't import
// internal/config directly.
type Config = config.Config

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger
	bus  eventbus.Bus

	adapter  *tgadapter.Adapter
	store    storage.Store
	guide    *guide.Service
	geocoder *guide.Geocoder
	notifier *notifier.Service
	tracker  *tracker.Registry
	router   *router.Router

	cron *cron.Cron

	updates chan kit.Update

	// prevCfg is the last applied snapshot; touched only by the reload
	// goroutine after Start.
	prevCfg *Config

	mu      sync.Mutex
	sup     *rtsup.Supervisor
	started bool
}

// New loads and validates the config file, then constructs every service
// in dependency order. Nothing starts running until Start.
func New(configPath string) (*App, error) {
	cfgm := config.NewManager(configPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := validateConfig(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// The adapter is built first with a plain console logger; the real log
	// service needs the adapter as its Telegram sink.
	bootLog := logx.NewConsole(cfg.Logging.Level)
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := tgadapter.New(tgadapter.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog.With(logx.String("comp", "telegram.adapter")))
	if err != nil {
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}

	// Boot the log service with Telegram forwarding off, point it at the
	// operator chat, then apply the full config.
	logs, log := logx.New(mapLoggingConfig(cfg, false), adapter)
	if chatID := groupLogChatID(cfg); chatID != 0 {
		logs.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
	logs.Apply(mapLoggingConfig(cfg, true))

	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(validateConfig)

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		store, err = storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
	}

	gc, err := mapGuideConfig(cfg)
	if err != nil {
		return nil, err
	}
	provider, err := guide.NewProvider(gc)
	if err != nil {
		return nil, err
	}
	guideSvc := guide.New(provider, gc.Timeout, log.With(logx.String("comp", "guide")))
	geocoder := guide.NewGeocoder(log.With(logx.String("comp", "geocode")))

	notifySvc := notifier.New(mapNotifierConfig(cfg), adapter, log.With(logx.String("comp", "notifier")))

	pol, err := mapTrackerPolicy(cfg)
	if err != nil {
		return nil, err
	}
	gen := &factGenerator{guide: guideSvc, geocoder: geocoder, log: log}
	trackerOpts := []tracker.Option{
		tracker.WithLogger(log.With(logx.String("comp", "tracker"))),
		tracker.WithPolicy(pol),
		tracker.WithEventSink(func(e tracker.SessionEvent) {
			bus.Publish(eventbus.Event{Type: "session." + e.Kind, Data: e})
		}),
	}
	if store != nil {
		trackerOpts = append(trackerOpts, tracker.WithArchiver(&storeArchiver{store: store}))
	}
	registry := tracker.New(gen, notifySvc, trackerOpts...)

	rt := router.New(log.With(logx.String("comp", "router")), router.Deps{
		Adapter:  adapter,
		Tracker:  registry,
		Guide:    guideSvc,
		Notifier: notifySvc,
		Store:    store,
		Owners:   cfg.Telegram.OwnerUserIDs,
	})

	return &App{
		cfgm:     cfgm,
		logs:     logs,
		log:      log.With(logx.String("comp", "app")),
		bus:      bus,
		adapter:  adapter,
		store:    store,
		guide:    guideSvc,
		geocoder: geocoder,
		notifier: notifySvc,
		tracker:  registry,
		router:   rt,
		cron:     cron.New(),
		updates:  make(chan kit.Update, 256),
		prevCfg:  cfg,
	}, nil
}

// Logger exposes the root application logger (for cmd wiring).
func (a *App) Logger() logx.Logger { return a.log }

func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return errors.New("app already started")
	}

	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(true),
	)
	a.sup = sup

	if err := a.adapter.Start(sup.Context(), a.updates); err != nil {
		return fmt.Errorf("start adapter: %w", err)
	}
	if err := a.tracker.Start(sup.Context()); err != nil {
		return fmt.Errorf("start tracker: %w", err)
	}

	sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	// Event log tap: everything published on the bus shows up at debug.
	events, unsub := a.bus.Subscribe(32)
	sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	a.startConfigReload(sup)
	sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.updateCommandMenu(sup.Context())
	a.startMaintenance()

	a.started = true
	a.log.Info("app started")
	a.bus.Publish(eventbus.Event{Type: "app.started"})
	return nil
}

// startConfigReload consumes validated config snapshots from the manager
// and applies the hot-reloadable parts. Bursts are coalesced: only the
// latest snapshot is applied.
func (a *App) startConfigReload(sup *rtsup.Supervisor) {
	ch := a.cfgm.Subscribe(4)
	sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(ch)
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-ch:
				if !ok {
					return
				}
			DRAIN:
				for {
					select {
					case next, ok := <-ch:
						if !ok {
							break DRAIN
						}
						if next != nil {
							cfg = next
						}
					default:
						break DRAIN
					}
				}
				if cfg == nil {
					continue
				}
				a.applyReload(cfg)
			}
		}
	})
}

func (a *App) applyReload(cfg *Config) {
	old := a.prevCfg
	a.prevCfg = cfg

	a.logs.Apply(mapLoggingConfig(cfg, true))
	if chatID := groupLogChatID(cfg); chatID != 0 {
		a.logs.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}

	if pol, err := mapTrackerPolicy(cfg); err == nil {
		a.tracker.SetPolicy(pol)
	} else {
		a.log.Warn("tracker policy not applied", logx.Err(err))
	}
	a.notifier.Apply(mapNotifierConfig(cfg))

	// Constructor-time settings need a restart; say so instead of silently
	// ignoring the change.
	if old != nil {
		if old.Telegram.Token != cfg.Telegram.Token {
			a.log.Warn("telegram.token changed; restart required to take effect")
		}
		if old.Guide != cfg.Guide {
			a.log.Warn("guide settings changed; restart required to take effect")
		}
	}

	a.log.Info("config applied")
	a.bus.Publish(eventbus.Event{Type: "config.reloaded"})
}

// updateCommandMenu pushes the bot command list; best effort.
func (a *App) updateCommandMenu(ctx context.Context) {
	cmu, ok := any(a.adapter).(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	err := cmu.UpdateMenuCommands(cctx, []kit.BotCommand{
		{Command: "start", Description: "What this bot does"},
		{Command: "help", Description: "How to use it"},
		{Command: "status", Description: "Current tracking session"},
		{Command: "stop", Description: "Stop tracking"},
		{Command: "lang", Description: "Reply language (ru/en)"},
	})
	if err != nil {
		a.log.Warn("command menu update failed", logx.Err(err))
	}
}

// startMaintenance schedules the nightly fact-archive prune when storage
// and the maintenance block are both configured.
func (a *App) startMaintenance() {
	cfg := a.cfgm.Get()
	if cfg == nil || a.store == nil {
		return
	}
	schedule, retain, enabled := maintenanceSettings(cfg)
	if !enabled {
		return
	}
	_, err := a.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		cutoff := time.Now().Add(-retain)
		removed, err := a.store.PruneFacts(ctx, cutoff)
		if err != nil {
			a.log.Warn("fact prune failed", logx.Err(err))
			return
		}
		total, _ := a.store.CountFacts(ctx, time.Time{})
		a.log.Info("fact archive pruned",
			logx.Int64("removed", removed),
			logx.Int64("remaining", total),
			logx.Time("cutoff", cutoff))
		a.bus.Publish(eventbus.Event{Type: "storage.pruned", Data: removed})
	})
	if err != nil {
		a.log.Warn("maintenance schedule rejected",
			logx.String("schedule", schedule), logx.Err(err))
		return
	}
	// Daily activity summary, offset from the prune.
	_, _ = a.cron.AddFunc("0 9 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		day, err := a.store.CountFacts(ctx, time.Now().Add(-24*time.Hour))
		if err != nil {
			return
		}
		a.log.Info("daily summary",
			logx.Int64("facts_24h", day),
			logx.Int("active_sessions", a.tracker.ActiveCount()))
	})
	a.cron.Start()
	a.log.Info("maintenance scheduled",
		logx.String("schedule", schedule),
		logx.Duration("retain", retain))
}

// Stop tears the app down in reverse dependency order. Every step gets a
// bounded slice of the caller's deadline so one stuck component cannot
// consume the whole shutdown budget.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	started := a.started
	a.started = false
	a.mu.Unlock()
	if !started {
		return nil
	}

	var firstErr error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		sctx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		start := time.Now()
		err := fn(sctx)
		took := time.Since(start)
		switch {
		case err != nil:
			a.log.Warn("shutdown step failed",
				logx.String("step", name), logx.Duration("took", took), logx.Err(err))
			if firstErr == nil {
				firstErr = err
			}
		case took > max/2:
			a.log.Debug("shutdown step slow",
				logx.String("step", name), logx.Duration("took", took))
		}
	}

	step("cron", 5*time.Second, func(c context.Context) error {
		done := a.cron.Stop().Done()
		select {
		case <-done:
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	step("tracker", 10*time.Second, a.tracker.Stop)
	if sup != nil {
		step("supervisor", 10*time.Second, func(c context.Context) error {
			sup.Cancel()
			return sup.Wait(c)
		})
	}
	step("adapter", 5*time.Second, a.adapter.Stop)
	if a.store != nil {
		step("storage", 5*time.Second, func(context.Context) error {
			return a.store.Close()
		})
	}

	a.log.Info("app stopped")
	_ = a.logs.Close()
	return firstErr
}
