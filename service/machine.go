package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/layer-3/barong-agent/core"
	"github.com/layer-3/barong-agent/ports"
	"github.com/layer-3/barong-agent/scheduler"
	"github.com/sirupsen/logrus"
)

const (
	reasonCannotRefresh = "Cannot reach the backend"
	reasonTokenLost     = "Token data was lost while refreshing"
)

func (s *Session) header() core.Header {
	return core.Header{State: s.state}
}

func (s *Session) emit(e core.Event) {
	s.bus.Notify(e)
}

// publish refreshes the snapshot read by accessors. It runs before every
// emit so handlers observe committed state.
func (s *Session) publish() {
	appActive, network, backend := s.signals.Values()
	snap := core.Snapshot{
		State:            s.state,
		TokenExpiresAt:   s.expiresAt,
		CanRefresh:       s.signals.CanRefresh(),
		AppActive:        appActive,
		NetworkConnected: network,
		BackendReachable: backend,
	}
	if s.token != nil {
		tok := *s.token
		snap.Token = &tok
	}

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}

// apply feeds t through the transition table and runs the entry actions
// of the resulting state. It reports false when t had no effect.
func (s *Session) apply(t trigger, reason string) bool {
	from := s.state
	to, ok := transition(from, t)
	if !ok {
		s.logger.WithFields(logrus.Fields{"state": from, "trigger": t}).Debug("trigger ignored")
		return false
	}

	if to != core.StateAuthenticated {
		s.expiry.Cancel()
	}
	if to != core.StateBackendFailure {
		s.cooldown.Cancel()
	}
	s.state = to
	s.publish()

	s.logger.WithFields(logrus.Fields{
		"from":    from,
		"to":      to,
		"trigger": t,
		"reason":  reason,
	}).Debug("session state changed")

	s.enter(t, reason)
	return true
}

func (s *Session) enter(t trigger, reason string) {
	switch s.state {
	case core.StateUnauthenticated:
		s.emit(core.Unauthenticated{Header: s.header(), Reason: reason})
		if !s.signals.CanRefresh() {
			s.apply(triggerCanRefreshOff, reasonCannotRefresh)
		}

	case core.StateUnauthenticatedOffline:
		s.emit(core.UnauthenticatedOffline{Header: s.header()})

	case core.StateRestoring:
		if s.token == nil {
			s.loseToken()
			return
		}
		if t == triggerLoginSucceeded {
			s.emit(core.LoggedIn{Header: s.header(), AccessToken: s.token.AccessToken})
		} else {
			s.emit(core.Restoring{Header: s.header()})
		}
		s.apply(triggerRestored, reason)

	case core.StateDispatching:
		s.handshakeStep(triggerDispatched, reason, s.awaitDispatch, func(resolve func()) core.Event {
			return core.Dispatching{Header: s.header(), Resolve: resolve}
		})

	case core.StateUsableToken:
		s.handshakeStep(triggerTokenProcessed, reason, s.awaitToken, func(resolve func()) core.Event {
			return core.UsableToken{Header: s.header(), Resolve: resolve}
		})

	case core.StateAuthenticated:
		if s.token == nil {
			s.loseToken()
			return
		}
		s.emit(core.Authenticated{
			Header:         s.header(),
			AccessToken:    s.token.AccessToken,
			Authorization:  s.token.Authorization(),
			TokenExpiresAt: s.expiresAt,
		})
		if !s.signals.CanRefresh() {
			s.apply(triggerCanRefreshOff, reasonCannotRefresh)
			return
		}
		s.armExpiryCheck()

	case core.StateNeedsRefresh:
		s.checkRefresh(t, reason)

	case core.StateRefreshing:
		s.startRefresh(reason)

	case core.StateBackendFailure:
		s.emit(core.TokenExpiration{Header: s.header(), Reason: reason})
		s.cooldown.Arm(s.cfg.FailureCooldown, func(gen uint64) {
			s.post(func() { s.onCooldown(gen) })
		})

	case core.StateBackendInaccessible:
		s.emit(core.BackendInaccessible{Header: s.header(), Reason: reason})

	case core.StateBackgrounded:
		s.emit(core.Backgrounded{Header: s.header()})

	case core.StateTokenRemoval:
		s.dropToken()
		s.emit(core.TokenRemoval{Header: s.header(), Reason: reason})
		s.apply(triggerRemoved, reason)
	}
}

// handshakeStep emits the event built by build and moves on with next,
// either immediately or once the event's Resolve is called.
func (s *Session) handshakeStep(next trigger, reason string, await bool, build func(resolve func()) core.Event) {
	if !await {
		s.emit(build(func() {}))
		s.apply(next, reason)
		return
	}

	s.handshake++
	id, state := s.handshake, s.state
	var once sync.Once
	resolve := func() {
		once.Do(func() {
			s.post(func() {
				if s.handshake != id || s.state != state {
					return
				}
				s.apply(next, reason)
			})
		})
	}
	s.emit(build(resolve))
}

// checkRefresh evaluates the held token on entry to NEEDS_REFRESH.
func (s *Session) checkRefresh(t trigger, reason string) {
	expired := scheduler.IsExpired(s.clock.Now(), s.expiresAt, s.cfg.Grace)
	if t == triggerExpired || t == triggerStorageExpired {
		s.emit(core.TokenExpiration{Header: s.header(), Reason: reason})
	}
	s.emit(core.CheckRefresh{Header: s.header(), Reason: reason, TokenExpired: expired})

	switch {
	case !s.signals.CanRefresh():
		s.apply(triggerCanRefreshOff, reasonCannotRefresh)
	case expired:
		s.apply(triggerCanRefreshOn, reason)
	default:
		s.apply(triggerStillValid, "Access token still valid")
	}
}

func (s *Session) armExpiryCheck() time.Duration {
	d := scheduler.TimeToNextCheck(s.clock.Now(), s.expiresAt, s.cfg.Grace, s.cfg.MaxCheckInterval)
	s.expiry.Arm(d, func(gen uint64) {
		s.post(func() { s.onExpiryCheck(gen) })
	})
	return d
}

func (s *Session) onExpiryCheck(gen uint64) {
	if !s.expiry.Claim(gen) || s.state != core.StateAuthenticated {
		return
	}
	if scheduler.IsExpired(s.clock.Now(), s.expiresAt, s.cfg.Grace) {
		s.apply(triggerExpired, "Access token expired")
		return
	}
	next := s.armExpiryCheck()
	s.emit(core.ExpiryCheck{Header: s.header(), NextCheckIn: next})
}

func (s *Session) onCooldown(gen uint64) {
	if !s.cooldown.Claim(gen) {
		return
	}
	s.apply(triggerCooldownElapsed, "Retrying after backend failure")
}

// onCanRefreshChange runs on the loop, from inside the signal setters.
func (s *Session) onCanRefreshChange(canRefresh bool) {
	s.publish()
	if canRefresh {
		s.apply(triggerCanRefreshOn, "Backend reachable")
		return
	}
	s.apply(triggerCanRefreshOff, reasonCannotRefresh)
}

func (s *Session) adopt(tok *core.Token, expiresAt time.Time) {
	held := *tok
	s.token = &held
	s.expiresAt = expiresAt
	s.publish()
}

// dropToken forgets the held token and clears storage.
func (s *Session) dropToken() {
	s.expiry.Cancel()
	s.cooldown.Cancel()
	s.token = nil
	s.expiresAt = time.Time{}
	if err := s.store.Clear(s.ctx); err != nil {
		s.logger.WithError(err).Error("failed to clear token storage")
	}
	s.publish()
}

func (s *Session) load(ctx context.Context) (*core.Token, time.Time, error) {
	if pr, ok := s.store.(ports.TokenPairReader); ok {
		return pr.TokenPair(ctx)
	}
	tok, err := s.store.Token(ctx)
	if err != nil || tok == nil {
		return nil, time.Time{}, err
	}
	expiresAt, err := s.store.ExpiresAt(ctx)
	if err != nil {
		return nil, time.Time{}, err
	}
	return tok, expiresAt, nil
}

// restore evaluates the persisted token once, on start.
func (s *Session) restore() {
	tok, expiresAt, err := s.load(s.ctx)
	if err != nil {
		s.logger.WithError(err).Warn("failed to read stored token")
		if errors.Is(err, core.ErrInvalidToken) {
			s.dropToken()
		}
		s.apply(triggerStorageEmpty, "Stored token is unreadable")
		return
	}
	if tok == nil {
		s.apply(triggerStorageEmpty, "No stored token")
		return
	}

	s.adopt(tok, expiresAt)
	if scheduler.IsExpired(s.clock.Now(), expiresAt, s.cfg.Grace) {
		s.apply(triggerStorageExpired, "Stored token expired")
		return
	}
	s.apply(triggerStorageValid, "Stored token restored")
}
