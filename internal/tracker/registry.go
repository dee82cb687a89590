package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	logx "factbot/pkg/logx"
)

// Registry owns the user -> session map. All structural changes (insert,
// replace, remove) happen under one mutex; session field access uses the
// session's own lock.
type Registry struct {
	gen Generator
	msg Messenger
	arc Archiver
	log logx.Logger

	mu         sync.Mutex
	pol        Policy
	sessions   map[int64]*session
	running    bool
	baseCtx    context.Context
	baseCancel context.CancelFunc

	events func(SessionEvent)
}

// SessionEvent is a lifecycle signal for observers. Kind is "started",
// "stopped", or a terminal EventKind string.
type SessionEvent struct {
	UserID    int64
	SessionID string
	Kind      string
}

type Option func(*Registry)

func WithLogger(log logx.Logger) Option {
	return func(r *Registry) { r.log = log }
}

func WithPolicy(p Policy) Option {
	return func(r *Registry) { r.pol = p }
}

func WithArchiver(a Archiver) Option {
	return func(r *Registry) { r.arc = a }
}

// WithEventSink installs a lifecycle observer. The sink must not block;
// it is called outside the registry lock.
func WithEventSink(fn func(SessionEvent)) Option {
	return func(r *Registry) { r.events = fn }
}

func New(gen Generator, msg Messenger, opts ...Option) *Registry {
	r := &Registry{
		gen:      gen,
		msg:      msg,
		log:      logx.Nop(),
		pol:      DefaultPolicy(),
		sessions: map[int64]*session{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.pol = r.pol.withDefaults()
	return r
}

// Start makes the registry accept sessions.
func (r *Registry) Start(ctx context.Context) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	// Sessions outlive the Start caller's context; shutdown goes
	// through Stop.
	r.baseCtx, r.baseCancel = context.WithCancel(context.Background())
	r.running = true
	return nil
}

// Stop tears down every active session and waits for settlement, bounded
// by ctx.
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	active := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		active = append(active, s)
	}
	r.sessions = map[int64]*session{}
	cancel := r.baseCancel
	r.mu.Unlock()

	// Shutdown is not a user-visible session end.
	for _, s := range active {
		s.markStopped()
	}
	cancel()

	done := make(chan struct{})
	go func() {
		for _, s := range active {
			<-s.deliveryDone
			<-s.monitorDone
		}
		close(done)
	}()
	select {
	case <-done:
		if len(active) > 0 {
			r.log.Info("tracker stopped", logx.Int("sessions", len(active)))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartSession begins tracking a user. An existing session for the same
// user is fully stopped and removed first, so at most one delivery
// pipeline runs per user.
func (r *Registry) StartSession(userID, chatID int64, language string, pos Position, duration, interval time.Duration) error {
	if language == "" {
		language = "ru"
	}

	// Settle any previous session before inserting the new one. The old
	// session's tasks take r.mu during cleanup, so waiting happens
	// outside the lock; the loop re-checks until the slot is free.
	for {
		r.mu.Lock()
		if !r.running {
			r.mu.Unlock()
			return ErrNotRunning
		}
		old := r.sessions[userID]
		if old == nil {
			break // lock still held
		}
		delete(r.sessions, userID)
		r.mu.Unlock()
		old.markStopped()
		old.stopAndWait()
		r.log.Debug("previous session replaced",
			logx.Int64("user", userID), logx.String("session", old.id))
	}

	now := time.Now()
	dctx, cancelDelivery := context.WithCancel(r.baseCtx)
	mctx, cancelMonitor := context.WithCancel(r.baseCtx)
	s := &session{
		id:             uuid.NewString(),
		userID:         userID,
		chatID:         chatID,
		language:       language,
		start:          now,
		duration:       duration,
		interval:       interval,
		pol:            r.pol,
		pos:            pos,
		lastUpdate:     now,
		cancelDelivery: cancelDelivery,
		cancelMonitor:  cancelMonitor,
		deliveryDone:   make(chan struct{}),
		monitorDone:    make(chan struct{}),
	}
	r.sessions[userID] = s
	go r.runDelivery(dctx, s)
	go r.runMonitor(mctx, s)
	activeCount := len(r.sessions)
	r.mu.Unlock()

	r.log.Info("tracking session started",
		logx.Int64("user", userID),
		logx.String("session", s.id),
		logx.Duration("duration", duration),
		logx.Duration("interval", interval),
		logx.Int("active", activeCount))
	r.emit(SessionEvent{UserID: userID, SessionID: s.id, Kind: "started"})
	return nil
}

func (r *Registry) emit(e SessionEvent) {
	if r.events != nil {
		r.events(e)
	}
}

// UpdatePosition records a fresh coordinate for a tracked user. Updates
// for untracked users are dropped silently.
func (r *Registry) UpdatePosition(userID int64, pos Position) {
	r.mu.Lock()
	s := r.sessions[userID]
	r.mu.Unlock()
	if s == nil {
		return
	}
	s.setPosition(pos, time.Now())
}

// StopSession stops a user's session explicitly. The loops stay quiet;
// any confirmation message is the caller's job. No-op if untracked.
func (r *Registry) StopSession(userID int64) {
	r.mu.Lock()
	s := r.sessions[userID]
	if s != nil {
		delete(r.sessions, userID)
	}
	r.mu.Unlock()
	if s == nil {
		return
	}
	s.markStopped()
	s.stopAndWait()
	r.log.Info("tracking session stopped",
		logx.Int64("user", userID), logx.String("session", s.id))
	r.emit(SessionEvent{UserID: userID, SessionID: s.id, Kind: "stopped"})
}

func (r *Registry) IsTracking(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[userID]
	return ok
}

func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// SessionInfo is a point-in-time view of one session for status reporting.
type SessionInfo struct {
	ID         string
	StartedAt  time.Time
	ExpiresAt  time.Time
	Interval   time.Duration
	Deliveries int
	LastUpdate time.Time
}

func (r *Registry) Status(userID int64) (SessionInfo, bool) {
	r.mu.Lock()
	s := r.sessions[userID]
	r.mu.Unlock()
	if s == nil {
		return SessionInfo{}, false
	}
	_, last := s.snapshot()
	return SessionInfo{
		ID:         s.id,
		StartedAt:  s.start,
		ExpiresAt:  s.expiry(),
		Interval:   s.interval,
		Deliveries: s.deliveries(),
		LastUpdate: last,
	}, true
}

// SetPolicy applies new scheduling knobs. Running sessions keep the
// policy they started with; new sessions pick up the change.
func (r *Registry) SetPolicy(p Policy) {
	r.mu.Lock()
	r.pol = p.withDefaults()
	r.mu.Unlock()
}

// removeSession drops the entry if it still points at this session.
// Idempotent; both loops and the explicit stop path may race here.
func (r *Registry) removeSession(s *session) {
	r.mu.Lock()
	if cur, ok := r.sessions[s.userID]; ok && cur == s {
		delete(r.sessions, s.userID)
	}
	r.mu.Unlock()
}

// notifyTerminal sends the session's single terminal notification. The
// delivery loop and the monitor can both reach a terminal state; only the
// first one talks.
func (r *Registry) notifyTerminal(s *session, kind EventKind) {
	s.terminalOnce.Do(func() {
		// Deliberately not the task context: the notification should
		// still go out when the loop was cancelled by its sibling.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.msg.Notify(ctx, s.chatID, s.language, kind); err != nil {
			r.log.Warn("terminal notification failed",
				logx.String("session", s.id),
				logx.String("kind", kind.String()),
				logx.Err(err))
		}
		r.log.Info("session ended",
			logx.Int64("user", s.userID),
			logx.String("session", s.id),
			logx.String("reason", kind.String()),
			logx.Int("deliveries", s.deliveries()))
		r.emit(SessionEvent{UserID: s.userID, SessionID: s.id, Kind: kind.String()})
	})
}

func (r *Registry) archive(s *session, seq int, pos Position, c Content, failed bool) {
	if r.arc == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := r.arc.Record(ctx, Record{
		At:        time.Now(),
		SessionID: s.id,
		UserID:    s.userID,
		ChatID:    s.chatID,
		Seq:       seq,
		Position:  pos,
		Place:     c.Place,
		Fact:      c.Fact,
		Failed:    failed,
	})
	if err != nil {
		r.log.Debug("fact archive failed", logx.String("session", s.id), logx.Err(err))
	}
}
