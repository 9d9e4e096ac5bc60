package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/layer-3/barong-agent/adapters/store"
	"github.com/layer-3/barong-agent/core"
	"github.com/layer-3/barong-agent/scheduler"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type mockAuthClient struct {
	mock.Mock
}

func (m *mockAuthClient) Authenticate(ctx context.Context, creds core.Credentials) (core.Token, error) {
	args := m.Called(ctx, creds)
	return args.Get(0).(core.Token), args.Error(1)
}

func (m *mockAuthClient) Refresh(ctx context.Context, refreshToken string) (core.Token, error) {
	args := m.Called(ctx, refreshToken)
	return args.Get(0).(core.Token), args.Error(1)
}

func (m *mockAuthClient) Revoke(ctx context.Context, refreshToken string) error {
	args := m.Called(ctx, refreshToken)
	return args.Error(0)
}

// blockUntil holds a mocked call until release is closed or the call's
// context ends.
func blockUntil(release <-chan struct{}) func(mock.Arguments) {
	return func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		select {
		case <-release:
		case <-ctx.Done():
		}
	}
}

type recorder struct {
	mu     sync.Mutex
	events []core.Event
}

func (r *recorder) record(e core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Event(nil), r.events...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// index returns the position of the first event of type typ emitted in
// state, searching from position from, or -1.
func (r *recorder) index(from int, typ core.EventType, state core.State) int {
	events := r.all()
	for i := from; i < len(events); i++ {
		if events[i].Type() == typ && events[i].AuthState() == state {
			return i
		}
	}
	return -1
}

func (r *recorder) has(typ core.EventType, state core.State) bool {
	return r.index(0, typ, state) >= 0
}

func (r *recorder) count(typ core.EventType) int {
	n := 0
	for _, e := range r.all() {
		if e.Type() == typ {
			n++
		}
	}
	return n
}

func (r *recorder) reasons(typ core.EventType) []string {
	var out []string
	for _, e := range r.all() {
		if e.Type() == typ {
			out = append(out, core.ReasonOf(e))
		}
	}
	return out
}

type harness struct {
	t       *testing.T
	ctx     context.Context
	clock   *clockwork.FakeClock
	store   *store.MemoryStore
	client  *mockAuthClient
	session *Session
	events  *recorder
}

func testLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)
	h := &harness{
		t:      t,
		ctx:    context.Background(),
		clock:  clock,
		store:  store.NewMemoryStore(store.NewKeys("test", "https://auth.example.com"), clock),
		client: &mockAuthClient{},
		events: &recorder{},
	}
	base := []Option{
		WithClock(clock),
		WithLogger(testLogger()),
		WithConfig(scheduler.DefaultConfig()),
	}
	h.session = NewSession(h.store, h.client, append(base, opts...)...)
	h.session.Subscribe(h.events.record)
	t.Cleanup(h.session.Close)
	return h
}

func (h *harness) seed(tok core.Token) {
	h.t.Helper()
	_, err := h.store.StoreToken(h.ctx, tok)
	require.NoError(h.t, err)
}

func (h *harness) start() {
	h.t.Helper()
	require.NoError(h.t, h.session.Start(h.ctx))
}

// waitTimers blocks until n timers are armed on the fake clock.
func (h *harness) waitTimers(n int) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(h.ctx, waitFor)
	defer cancel()
	require.NoError(h.t, h.clock.BlockUntilContext(ctx, n))
}

func (h *harness) eventuallyState(state core.State) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.session.State() == state }, waitFor, tick,
		"want %s, have %s", state, h.session.State())
}

func (h *harness) stored() *core.Token {
	h.t.Helper()
	tok, err := h.store.Token(h.ctx)
	require.NoError(h.t, err)
	return tok
}

func token(n string, lifetime int64) core.Token {
	return core.Token{
		AccessToken:  "access-" + n,
		RefreshToken: "refresh-" + n,
		TokenType:    "Bearer",
		ExpiresIn:    lifetime,
	}
}
