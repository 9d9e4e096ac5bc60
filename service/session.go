package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/layer-3/barong-agent/core"
	"github.com/layer-3/barong-agent/eventbus"
	"github.com/layer-3/barong-agent/ports"
	"github.com/layer-3/barong-agent/scheduler"
	"github.com/layer-3/barong-agent/signals"
	"github.com/sirupsen/logrus"
)

type opKind int

const (
	opNone opKind = iota
	opLogin
	opRefresh
)

// operation is a login or refresh waiting for the auth server.
type operation struct {
	kind  opKind
	creds core.Credentials
	reply chan error
}

// Session drives the lifecycle of an OAuth2 access/refresh token pair:
// restoring it from storage, refreshing it ahead of expiry, reacting to
// connectivity and app activity, and tearing it down on logout.
//
// All state changes happen on a single loop goroutine. Event handlers are
// called on that goroutine and must not block on Session methods other
// than the accessors and Resolve callbacks.
type Session struct {
	store   ports.TokenStore
	client  ports.AuthClient
	bus     *eventbus.Bus
	history *eventbus.History
	signals *signals.Aggregator
	clock   clockwork.Clock
	cfg     scheduler.Config
	logger  logrus.FieldLogger

	awaitDispatch bool
	awaitToken    bool
	onForeground  func()
	initial       [3]bool

	inbox     *mailbox
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	started   atomic.Bool
	closeOnce sync.Once

	// Owned by the loop goroutine.
	state     core.State
	token     *core.Token
	expiresAt time.Time
	expiry    *scheduler.Timer
	cooldown  *scheduler.Timer
	guard     scheduler.Guard
	inflight  opKind
	queue     []*operation
	waiters   []chan error
	epoch     uint64
	handshake uint64

	mu   sync.RWMutex
	snap core.Snapshot
}

// Option configures a Session.
type Option func(*Session)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Session) {
		s.clock = clock
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithConfig sets expiry and retry timings. Zero fields take defaults.
func WithConfig(cfg scheduler.Config) Option {
	return func(s *Session) {
		s.cfg = cfg.WithDefaults()
	}
}

func WithHistory(history *eventbus.History) Option {
	return func(s *Session) {
		s.history = history
	}
}

// WithSignals sets the initial app activity, network and backend
// reachability. All three default to true.
func WithSignals(appActive, networkConnected, backendReachable bool) Option {
	return func(s *Session) {
		s.initial = [3]bool{appActive, networkConnected, backendReachable}
	}
}

// WithDispatchHandshake makes the session wait in DISPATCHING until the
// Dispatching event is resolved.
func WithDispatchHandshake() Option {
	return func(s *Session) {
		s.awaitDispatch = true
	}
}

// WithTokenHandshake makes the session wait in USABLE_TOKEN until the
// UsableToken event is resolved.
func WithTokenHandshake() Option {
	return func(s *Session) {
		s.awaitToken = true
	}
}

// WithForegroundHook registers fn to run on the loop whenever the app
// returns to the foreground, before the token is re-checked. It must not
// block; it is meant to kick off a reachability probe.
func WithForegroundHook(fn func()) Option {
	return func(s *Session) {
		s.onForeground = fn
	}
}

// NewSession creates a session backed by store and client. Call Start to
// restore the persisted token and begin processing.
func NewSession(store ports.TokenStore, client ports.AuthClient, opts ...Option) *Session {
	s := &Session{
		store:   store,
		client:  client,
		bus:     eventbus.New(),
		clock:   clockwork.NewRealClock(),
		cfg:     scheduler.DefaultConfig(),
		logger:  logrus.StandardLogger().WithField("component", "session"),
		initial: [3]bool{true, true, true},
		inbox:   newMailbox(),
		done:    make(chan struct{}),
		state:   core.StateInitial,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.history == nil {
		s.history = eventbus.NewHistory(eventbus.WithHistoryClock(s.clock))
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.expiry = scheduler.NewTimer(s.clock)
	s.cooldown = scheduler.NewTimer(s.clock)
	s.signals = signals.NewAggregator(s.initial[0], s.initial[1], s.initial[2])
	s.signals.OnChange(s.onCanRefreshChange)
	s.bus.Subscribe(s.history.Record)
	s.publish()
	return s
}

// Start launches the session loop and restores the persisted token. It
// returns once the stored token has been evaluated.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return core.ErrSessionStarted
	}
	go s.run()

	restored := make(chan struct{})
	s.post(func() {
		defer close(restored)
		s.restore()
	})

	select {
	case <-restored:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return core.ErrSessionClosed
	}
}

// Close stops the loop. Pending calls fail with core.ErrSessionClosed.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		if s.started.Load() {
			<-s.done
			return
		}
		s.shutdown()
	})
}

// Done is closed once the loop has stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) run() {
	defer close(s.done)
	defer s.shutdown()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.inbox.wake:
			for _, fn := range s.inbox.take() {
				if s.ctx.Err() != nil {
					return
				}
				fn()
			}
		}
	}
}

func (s *Session) shutdown() {
	s.expiry.Cancel()
	s.cooldown.Cancel()
	for _, w := range s.waiters {
		w <- core.ErrSessionClosed
	}
	s.waiters = nil
	for _, op := range s.queue {
		op.reply <- core.ErrSessionClosed
	}
	s.queue = nil
	s.bus.Close()
}

// post hands fn to the loop. It reports false once the session is closed.
func (s *Session) post(fn func()) bool {
	if s.ctx.Err() != nil {
		return false
	}
	s.inbox.post(fn)
	return true
}

// call runs fn on the loop and waits for it to reply.
func (s *Session) call(ctx context.Context, fn func(reply chan error)) error {
	if !s.started.Load() {
		return core.ErrSessionNotStarted
	}
	reply := make(chan error, 1)
	if !s.post(func() { fn(reply) }) {
		return core.ErrSessionClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return core.ErrSessionClosed
	}
}

// Login exchanges creds for a token. It returns once the token is stored
// and LoggedIn has been emitted. A login issued while another login or a
// refresh is in flight waits for it to finish first.
func (s *Session) Login(ctx context.Context, creds core.Credentials) error {
	return s.call(ctx, func(reply chan error) {
		op := &operation{kind: opLogin, creds: creds, reply: reply}
		if s.guard.Busy() {
			s.queue = append(s.queue, op)
			return
		}
		s.startLogin(op)
	})
}

// Refresh forces a token refresh and returns its outcome. Concurrent
// calls share a single request to the auth server.
func (s *Session) Refresh(ctx context.Context) error {
	return s.call(ctx, s.requestRefresh)
}

// Logout clears the token locally and then revokes the refresh token on
// the server unless forced is set. Revocation failures are logged, not
// returned; Logout only fails when the session is not running or ctx
// ends before the local teardown.
func (s *Session) Logout(ctx context.Context, forced bool) error {
	revoked := make(chan struct{})
	err := s.call(ctx, func(reply chan error) {
		s.logout(forced, revoked)
		reply <- nil
	})
	if err != nil {
		return err
	}
	select {
	case <-revoked:
	case <-ctx.Done():
	}
	return nil
}

// ForceCheckStorage re-reads the persisted token into the session.
func (s *Session) ForceCheckStorage(ctx context.Context) error {
	return s.call(ctx, func(reply chan error) {
		reply <- s.checkStorage()
	})
}

// SetAppActive reports whether the app is in the foreground.
func (s *Session) SetAppActive(active bool) {
	s.post(func() {
		if !active {
			s.apply(triggerBackgrounded, "App backgrounded")
		}
		s.signals.SetAppActive(active)
		s.publish()
		if active {
			if s.onForeground != nil {
				s.onForeground()
			}
			s.apply(triggerForegrounded, "App foregrounded")
		}
	})
}

func (s *Session) SetNetworkConnected(connected bool) {
	s.post(func() {
		s.signals.SetNetworkConnected(connected)
		s.publish()
	})
}

func (s *Session) SetBackendReachable(reachable bool) {
	s.post(func() {
		s.signals.SetBackendReachable(reachable)
		s.publish()
	})
}

// Subscribe registers h for session events. Handlers run on the session
// loop in subscription order.
func (s *Session) Subscribe(h eventbus.Handler) (unsubscribe func()) {
	return s.bus.Subscribe(h)
}

func (s *Session) History() *eventbus.History {
	return s.history
}

// Snapshot returns a consistent view of the session.
func (s *Session) Snapshot() core.Snapshot {
	s.mu.RLock()
	snap := s.snap
	s.mu.RUnlock()

	if snap.Token != nil {
		tok := *snap.Token
		snap.Token = &tok
	}
	snap.AccessTokenExpired = snap.Token == nil ||
		scheduler.IsExpired(s.clock.Now(), snap.TokenExpiresAt, s.cfg.Grace)
	return snap
}

func (s *Session) State() core.State {
	return s.Snapshot().State
}

// Token returns a copy of the held token, or nil.
func (s *Session) Token() *core.Token {
	return s.Snapshot().Token
}

func (s *Session) TokenExpiresAt() time.Time {
	return s.Snapshot().TokenExpiresAt
}

// AccessTokenExpired reports whether the held access token is inside the
// grace window or gone.
func (s *Session) AccessTokenExpired() bool {
	return s.Snapshot().AccessTokenExpired
}

// Authorization is the Authorization header value for the held token.
func (s *Session) Authorization() string {
	return s.Snapshot().Authorization()
}

func (s *Session) CanRefresh() bool {
	return s.Snapshot().CanRefresh
}
