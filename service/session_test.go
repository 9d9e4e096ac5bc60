package service

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/layer-3/barong-agent/adapters/store"
	"github.com/layer-3/barong-agent/core"
	"github.com/layer-3/barong-agent/ports"
	"github.com/layer-3/barong-agent/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestStartWithoutStoredToken(t *testing.T) {
	h := newHarness(t)
	h.start()

	assert.Equal(t, core.StateUnauthenticated, h.session.State())
	assert.Nil(t, h.session.Token())
	assert.True(t, h.session.AccessTokenExpired())
	assert.Empty(t, h.session.Authorization())
	assert.Equal(t, []string{"No stored token"}, h.events.reasons(core.EventUnauthenticated))
}

func TestStartRestoresValidToken(t *testing.T) {
	h := newHarness(t)
	h.seed(token("1", 3600))
	h.start()

	assert.Equal(t, core.StateAuthenticated, h.session.State())
	require.NotNil(t, h.session.Token())
	assert.Equal(t, "access-1", h.session.Token().AccessToken)
	assert.Equal(t, "Bearer access-1", h.session.Authorization())
	assert.False(t, h.session.AccessTokenExpired())
	assert.True(t, h.session.TokenExpiresAt().Equal(t0.Add(time.Hour)))

	var types []core.EventType
	for _, e := range h.events.all() {
		types = append(types, e.Type())
	}
	assert.Equal(t, []core.EventType{
		core.EventRestoring,
		core.EventDispatching,
		core.EventUsableToken,
		core.EventAuthenticated,
	}, types)
	h.client.AssertNotCalled(t, "Refresh", mock.Anything, mock.Anything)
}

// tokenStoreOnly hides the optional single-read accessor of the store.
type tokenStoreOnly struct {
	ports.TokenStore
}

func TestStartRestoresFromTwoReads(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	backing := store.NewMemoryStore(store.NewKeys("test", "https://auth.example.com"), clock)
	_, err := backing.StoreToken(context.Background(), token("1", 3600))
	require.NoError(t, err)

	s := NewSession(tokenStoreOnly{backing}, &mockAuthClient{}, WithClock(clock), WithLogger(testLogger()))
	t.Cleanup(s.Close)
	require.NoError(t, s.Start(context.Background()))

	assert.Equal(t, core.StateAuthenticated, s.State())
	assert.True(t, s.TokenExpiresAt().Equal(t0.Add(time.Hour)))
}

func TestStartTwice(t *testing.T) {
	h := newHarness(t)
	h.start()
	assert.ErrorIs(t, h.session.Start(h.ctx), core.ErrSessionStarted)
}

func TestCallsBeforeStart(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.session.Refresh(h.ctx), core.ErrSessionNotStarted)
	assert.Equal(t, core.StateInitial, h.session.State())
}

func TestScheduledRefreshAtGraceBoundary(t *testing.T) {
	h := newHarness(t, WithConfig(scheduler.Config{
		Grace:            10 * time.Second,
		MaxCheckInterval: time.Hour,
	}))
	h.seed(token("1", 600))
	h.client.On("Refresh", mock.Anything, "refresh-1").Return(token("2", 600), nil).Once()
	h.start()
	h.waitTimers(1)

	h.clock.Advance(589 * time.Second)
	assert.Equal(t, core.StateAuthenticated, h.session.State())
	h.client.AssertNotCalled(t, "Refresh", mock.Anything, mock.Anything)

	h.clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		tok := h.session.Token()
		return h.session.State() == core.StateAuthenticated && tok != nil && tok.AccessToken == "access-2"
	}, waitFor, tick)

	assert.Equal(t, "access-2", h.stored().AccessToken)
	assert.True(t, h.session.TokenExpiresAt().Equal(t0.Add(590*time.Second+600*time.Second)))

	expiration := h.events.index(0, core.EventTokenExpiration, core.StateNeedsRefresh)
	check := h.events.index(expiration, core.EventCheckRefresh, core.StateNeedsRefresh)
	refreshing := h.events.index(check, core.EventRefreshing, core.StateRefreshing)
	authenticated := h.events.index(refreshing, core.EventAuthenticated, core.StateAuthenticated)
	assert.True(t, expiration >= 0 && check > expiration && refreshing > check && authenticated > refreshing)
	h.client.AssertExpectations(t)
}

func TestExpiryChecksPollAtMaxInterval(t *testing.T) {
	h := newHarness(t)
	h.seed(token("1", 600))
	h.start()
	h.waitTimers(1)

	h.clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return h.events.count(core.EventExpiryCheck) == 1 }, waitFor, tick)
	assert.Equal(t, core.StateAuthenticated, h.session.State())

	for _, e := range h.session.History().Entries() {
		assert.NotEqual(t, core.EventExpiryCheck, e.Event.Type())
	}
	for _, e := range h.events.all() {
		if check, ok := e.(core.ExpiryCheck); ok {
			assert.Equal(t, time.Minute, check.NextCheckIn)
		}
	}
}

func TestExpiredStoredTokenRejected(t *testing.T) {
	h := newHarness(t)
	h.seed(token("1", 600))
	h.clock.Advance(700 * time.Second)
	h.client.On("Refresh", mock.Anything, "refresh-1").
		Return(core.Token{}, &core.ClientError{Status: http.StatusUnauthorized}).Once()

	h.start()
	h.eventuallyState(core.StateUnauthenticated)

	assert.Nil(t, h.stored())
	assert.Nil(t, h.session.Token())
	removal := h.events.index(0, core.EventTokenRemoval, core.StateTokenRemoval)
	require.GreaterOrEqual(t, removal, 0)
	assert.Equal(t, removal+1, h.events.index(removal, core.EventUnauthenticated, core.StateUnauthenticated))
	assert.Equal(t, []string{core.ReasonRefreshRejected}, h.events.reasons(core.EventTokenRemoval))
}

func TestBackendFailureRetriesAfterCooldown(t *testing.T) {
	h := newHarness(t)
	h.seed(token("1", 600))
	h.clock.Advance(700 * time.Second)
	var calls atomic.Int32
	h.client.On("Refresh", mock.Anything, "refresh-1").
		Run(func(mock.Arguments) { calls.Add(1) }).
		Return(core.Token{}, &core.ClientError{Status: http.StatusInternalServerError})

	h.start()
	h.eventuallyState(core.StateBackendFailure)

	assert.Equal(t, "access-1", h.stored().AccessToken, "token kept on transient failure")
	assert.Equal(t, "access-1", h.session.Token().AccessToken)
	failure := h.events.index(0, core.EventTokenExpiration, core.StateBackendFailure)
	require.GreaterOrEqual(t, failure, 0)

	h.waitTimers(1)
	h.clock.Advance(scheduler.DefaultFailureCooldown)

	require.Eventually(t, func() bool {
		return h.events.index(failure, core.EventCheckRefresh, core.StateNeedsRefresh) > failure
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		return calls.Load() == 2 && h.session.State() == core.StateBackendFailure
	}, waitFor, tick)
}

func TestBackgroundAndForeground(t *testing.T) {
	h := newHarness(t)
	h.seed(token("1", 3600))
	h.start()
	h.events.reset()

	h.session.SetAppActive(false)
	h.eventuallyState(core.StateBackgrounded)
	require.Eventually(t, func() bool { return !h.session.CanRefresh() }, waitFor, tick)

	h.session.SetAppActive(true)
	require.Eventually(t, func() bool {
		return h.events.has(core.EventAuthenticated, core.StateAuthenticated)
	}, waitFor, tick)

	background := h.events.index(0, core.EventBackgrounded, core.StateBackgrounded)
	check := h.events.index(background, core.EventCheckRefresh, core.StateNeedsRefresh)
	assert.Equal(t, 0, background)
	assert.Greater(t, check, background)
	checkEvent := h.events.all()[check].(core.CheckRefresh)
	assert.Equal(t, "App foregrounded", checkEvent.Reason)
	assert.False(t, checkEvent.TokenExpired)
	h.client.AssertNotCalled(t, "Refresh", mock.Anything, mock.Anything)
}

func TestForegroundWithExpiredTokenRefreshes(t *testing.T) {
	var foregrounds atomic.Int32
	h := newHarness(t, WithForegroundHook(func() { foregrounds.Add(1) }))
	h.seed(token("1", 600))
	h.client.On("Refresh", mock.Anything, "refresh-1").Return(token("2", 600), nil).Once()
	h.start()

	h.session.SetAppActive(false)
	h.eventuallyState(core.StateBackgrounded)
	h.clock.Advance(time.Hour)

	h.session.SetAppActive(true)
	require.Eventually(t, func() bool {
		tok := h.session.Token()
		return tok != nil && tok.AccessToken == "access-2"
	}, waitFor, tick)
	h.eventuallyState(core.StateAuthenticated)
	assert.Equal(t, int32(1), foregrounds.Load())
}

func TestConcurrentRefreshIsSingleFlight(t *testing.T) {
	h := newHarness(t)
	h.seed(token("1", 3600))
	release := make(chan struct{})
	h.client.On("Refresh", mock.Anything, "refresh-1").
		Run(blockUntil(release)).
		Return(token("2", 3600), nil).Once()
	h.start()

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { errs <- h.session.Refresh(h.ctx) }()
	}

	require.Eventually(t, func() bool { return h.events.count(core.EventRefreshing) == 2 }, waitFor, tick)
	assert.Equal(t, []string{"Refresh requested", core.ReasonRefreshInProgress}, h.events.reasons(core.EventRefreshing))
	close(release)

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			assert.NoError(t, err)
		case <-time.After(waitFor):
			t.Fatal("refresh did not return")
		}
	}
	h.client.AssertNumberOfCalls(t, "Refresh", 1)
	assert.Equal(t, core.StateAuthenticated, h.session.State())
	assert.Equal(t, "access-2", h.session.Token().AccessToken)
}

func TestRefreshPropagatesTypedErrors(t *testing.T) {
	h := newHarness(t)
	h.seed(token("1", 3600))
	h.client.On("Refresh", mock.Anything, "refresh-1").
		Return(core.Token{}, &core.ClientError{Status: http.StatusBadGateway, Body: "upstream"}).Once()
	h.start()

	err := h.session.Refresh(h.ctx)
	var clientErr *core.ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, http.StatusBadGateway, clientErr.Status)
	assert.Equal(t, core.StateBackendFailure, h.session.State())
}

func TestRefreshWithoutToken(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.events.reset()

	assert.ErrorIs(t, h.session.Refresh(h.ctx), core.ErrNotAuthenticated)
	h.client.AssertNotCalled(t, "Refresh", mock.Anything, mock.Anything)
	assert.Equal(t, core.StateUnauthenticated, h.session.State())
	assert.Equal(t, []string{reasonTokenLost}, h.events.reasons(core.EventUnauthenticated))
}

func TestRefreshWithoutTokenWhileOffline(t *testing.T) {
	h := newHarness(t, WithSignals(true, false, true))
	h.start()
	h.eventuallyState(core.StateUnauthenticatedOffline)
	h.events.reset()

	assert.ErrorIs(t, h.session.Refresh(h.ctx), core.ErrNotAuthenticated)
	assert.Equal(t, core.StateUnauthenticatedOffline, h.session.State())
	assert.Equal(t, []string{reasonTokenLost}, h.events.reasons(core.EventUnauthenticated))
	assert.Equal(t, 1, h.events.count(core.EventUnauthenticatedOffline))
}

func TestRefreshStoresInvalidTokenAsFailure(t *testing.T) {
	h := newHarness(t)
	h.seed(token("1", 3600))
	h.client.On("Refresh", mock.Anything, "refresh-1").Return(token("2", 0), nil).Once()
	h.start()

	err := h.session.Refresh(h.ctx)
	require.ErrorIs(t, err, core.ErrInvalidToken)
	assert.Equal(t, core.StateBackendFailure, h.session.State())
	assert.Equal(t, "access-1", h.stored().AccessToken)
}

func TestLateRefreshWhileBackgroundedIsKept(t *testing.T) {
	h := newHarness(t)
	h.seed(token("1", 600))
	h.clock.Advance(700 * time.Second)
	release := make(chan struct{})
	h.client.On("Refresh", mock.Anything, "refresh-1").
		Run(blockUntil(release)).
		Return(token("2", 600), nil).Once()
	h.start()
	h.eventuallyState(core.StateRefreshing)

	h.session.SetAppActive(false)
	h.eventuallyState(core.StateBackgrounded)
	close(release)

	require.Eventually(t, func() bool {
		tok, err := h.store.Token(h.ctx)
		return err == nil && tok != nil && tok.AccessToken == "access-2"
	}, waitFor, tick)
	assert.Equal(t, core.StateBackgrounded, h.session.State())
	assert.Equal(t, "access-2", h.session.Token().AccessToken)
}

func TestLateRefreshFailureWhileBackgroundedIsDropped(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusInternalServerError} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			h := newHarness(t)
			h.seed(token("1", 600))
			h.clock.Advance(700 * time.Second)
			release := make(chan struct{})
			h.client.On("Refresh", mock.Anything, "refresh-1").
				Run(blockUntil(release)).
				Return(core.Token{}, &core.ClientError{Status: status}).Once()
			h.start()
			h.eventuallyState(core.StateRefreshing)

			h.session.SetAppActive(false)
			h.eventuallyState(core.StateBackgrounded)
			h.events.reset()

			// Joins the in-flight request so the late result can be awaited.
			errc := make(chan error, 1)
			go func() { errc <- h.session.Refresh(h.ctx) }()
			require.Eventually(t, func() bool {
				return h.events.count(core.EventRefreshing) == 1
			}, waitFor, tick)
			close(release)

			select {
			case err := <-errc:
				var ce *core.ClientError
				require.ErrorAs(t, err, &ce)
				assert.Equal(t, status, ce.Status)
			case <-time.After(waitFor):
				t.Fatal("refresh did not return")
			}

			assert.Equal(t, core.StateBackgrounded, h.session.State())
			assert.Equal(t, "access-1", h.stored().AccessToken)
			assert.Equal(t, "access-1", h.session.Token().AccessToken)
			assert.Zero(t, h.events.count(core.EventTokenRemoval))
			assert.Zero(t, h.events.count(core.EventTokenExpiration))
			assert.Equal(t, []string{core.ReasonRefreshInProgress}, h.events.reasons(core.EventRefreshing))
		})
	}
}

func TestLogoutDiscardsInFlightRefresh(t *testing.T) {
	h := newHarness(t)
	h.seed(token("1", 3600))
	release := make(chan struct{})
	h.client.On("Refresh", mock.Anything, "refresh-1").
		Run(blockUntil(release)).
		Return(token("2", 3600), nil).Once()
	h.start()

	refreshed := make(chan error, 1)
	go func() { refreshed <- h.session.Refresh(h.ctx) }()
	h.eventuallyState(core.StateRefreshing)

	require.NoError(t, h.session.Logout(h.ctx, true))
	assert.Equal(t, core.StateUnauthenticated, h.session.State())
	close(release)

	select {
	case err := <-refreshed:
		assert.ErrorIs(t, err, core.ErrSuperseded)
	case <-time.After(waitFor):
		t.Fatal("refresh did not return")
	}
	assert.Nil(t, h.stored())
	assert.Nil(t, h.session.Token())
	assert.Equal(t, core.StateUnauthenticated, h.session.State())
}

func TestCloseFailsPendingCalls(t *testing.T) {
	h := newHarness(t)
	h.seed(token("1", 3600))
	release := make(chan struct{})
	defer close(release)
	h.client.On("Refresh", mock.Anything, "refresh-1").
		Run(blockUntil(release)).
		Return(token("2", 3600), nil).Maybe()
	h.start()

	refreshed := make(chan error, 1)
	go func() { refreshed <- h.session.Refresh(h.ctx) }()
	h.eventuallyState(core.StateRefreshing)

	h.session.Close()
	select {
	case err := <-refreshed:
		assert.ErrorIs(t, err, core.ErrSessionClosed)
	case <-time.After(waitFor):
		t.Fatal("refresh did not return")
	}
	assert.ErrorIs(t, h.session.Login(context.Background(), core.Credentials{}), core.ErrSessionClosed)
	<-h.session.Done()
}
