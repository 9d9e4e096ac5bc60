package service

import (
	"context"
	"fmt"

	"github.com/layer-3/barong-agent/core"
	"github.com/sirupsen/logrus"
)

func (s *Session) startLogin(op *operation) {
	s.guard.TryAcquire()
	s.inflight = opLogin
	epoch := s.epoch

	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.RequestTimeout)
		defer cancel()
		tok, err := s.client.Authenticate(ctx, op.creds)
		s.post(func() { s.onLoginResult(op, epoch, tok, err) })
	}()
}

func (s *Session) onLoginResult(op *operation, epoch uint64, tok core.Token, err error) {
	s.guard.Release()
	s.inflight = opNone
	defer s.drain()

	if epoch != s.epoch {
		s.logger.Info("discarding login result after logout")
		op.reply <- core.ErrSuperseded
		return
	}

	var stored bool
	if err == nil {
		expiresAt, serr := s.store.StoreToken(s.ctx, tok)
		if serr == nil {
			s.epoch++
			s.adopt(&tok, expiresAt)
			stored = true

			fields := logrus.Fields{"expires_at": expiresAt}
			if claims, cerr := core.PeekAccessClaims(tok.AccessToken); cerr == nil {
				fields["subject"] = claims.Subject
			}
			s.logger.WithFields(fields).Info("logged in")
		}
		err = serr
	}

	switch {
	case stored:
		s.apply(triggerLoginSucceeded, "Logged in")
	case core.IsUnauthorized(err):
		s.logger.WithError(err).Warn("login rejected")
		if s.state.HoldsToken() {
			s.apply(triggerRemoveToken, "Credentials rejected")
		} else {
			s.dropToken()
		}
	default:
		s.logger.WithError(err).Warn("login failed")
	}
	op.reply <- err
}

// requestRefresh handles an explicit refresh call.
func (s *Session) requestRefresh(reply chan error) {
	if s.guard.Busy() {
		if s.inflight == opLogin {
			s.queue = append(s.queue, &operation{kind: opRefresh, reply: reply})
			return
		}
		s.emit(core.Refreshing{Header: s.header(), Reason: core.ReasonRefreshInProgress})
		s.waiters = append(s.waiters, reply)
		return
	}
	if !s.state.HoldsToken() {
		s.apply(triggerTokenLost, reasonTokenLost)
		reply <- core.ErrNotAuthenticated
		return
	}
	if s.token == nil {
		s.loseToken()
		reply <- fmt.Errorf("%w: %s without a token", core.ErrInvariantViolation, s.state)
		return
	}

	s.waiters = append(s.waiters, reply)
	if !s.apply(triggerRefreshRequested, "Refresh requested") {
		// Mid handshake: refresh without leaving the current state.
		s.startRefresh("Refresh requested")
	}
}

// startRefresh issues the refresh request unless one is already in flight.
func (s *Session) startRefresh(reason string) {
	if s.token == nil || s.token.RefreshToken == "" {
		s.loseToken()
		return
	}
	if !s.guard.TryAcquire() {
		s.emit(core.Refreshing{Header: s.header(), Reason: core.ReasonRefreshInProgress})
		return
	}
	s.inflight = opRefresh
	s.emit(core.Refreshing{Header: s.header(), Reason: reason})

	refreshToken, epoch := s.token.RefreshToken, s.epoch
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.RequestTimeout)
		defer cancel()
		tok, err := s.client.Refresh(ctx, refreshToken)
		s.post(func() { s.onRefreshResult(epoch, tok, err) })
	}()
}

func (s *Session) onRefreshResult(epoch uint64, tok core.Token, err error) {
	s.guard.Release()
	s.inflight = opNone
	waiters := s.waiters
	s.waiters = nil
	defer s.drain()

	if epoch != s.epoch {
		s.logger.Debug("discarding refresh result for a replaced token")
		replyAll(waiters, core.ErrSuperseded)
		return
	}

	if err == nil {
		expiresAt, serr := s.store.StoreToken(s.ctx, tok)
		if serr == nil {
			s.adopt(&tok, expiresAt)
		}
		err = serr
	}
	log := s.logger.WithField("state", s.state)

	if s.state != core.StateRefreshing {
		// The session moved on while the request was in flight. A new
		// token for the same credential is kept; failures are dropped.
		switch {
		case err != nil:
			log.WithError(err).Debug("discarding late refresh failure")
		case s.state == core.StateAuthenticated:
			s.armExpiryCheck()
		}
		replyAll(waiters, err)
		return
	}

	switch {
	case err == nil:
		log.WithField("expires_at", s.expiresAt).Info("token refreshed")
		s.apply(triggerRefreshSucceeded, "Token refreshed")
	case core.IsUnauthorized(err):
		log.WithError(err).Warn("refresh token rejected")
		s.apply(triggerRefreshRejected, core.ReasonRefreshRejected)
	default:
		log.WithError(err).Warn("token refresh failed")
		s.apply(triggerRefreshFailed, fmt.Sprintf("Backend failure: %v", err))
	}
	replyAll(waiters, err)
}

// loseToken recovers from holding a token-bearing state with no token.
func (s *Session) loseToken() {
	s.logger.WithError(core.ErrInvariantViolation).
		WithField("state", s.state).
		Error("token data was lost")
	replyAll(s.waiters, core.ErrInvariantViolation)
	s.waiters = nil
	s.dropToken()
	s.apply(triggerTokenLost, reasonTokenLost)
}

func (s *Session) logout(forced bool, revoked chan struct{}) {
	var refreshToken string
	if s.token != nil {
		refreshToken = s.token.RefreshToken
	}

	s.epoch++
	for _, op := range s.queue {
		op.reply <- core.ErrSuperseded
	}
	s.queue = nil

	reason := "Logged out"
	if forced {
		reason = "Forced logout"
	}
	s.apply(triggerRemoveToken, reason)
	s.logger.WithField("forced", forced).Info("logged out")

	if forced || refreshToken == "" {
		close(revoked)
		return
	}
	go func() {
		defer close(revoked)
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.RequestTimeout)
		defer cancel()
		if err := s.client.Revoke(ctx, refreshToken); err != nil {
			s.logger.WithError(err).Warn("failed to revoke refresh token")
		}
	}()
}

func (s *Session) checkStorage() error {
	tok, expiresAt, err := s.load(s.ctx)
	if err != nil {
		return fmt.Errorf("failed to read token storage: %w", err)
	}
	if tok == nil {
		if s.state.HoldsToken() {
			s.apply(triggerRemoveToken, "Token missing from storage")
		} else if s.token != nil {
			s.token = nil
			s.publish()
		}
		return nil
	}

	if s.token == nil || s.token.RefreshToken != tok.RefreshToken {
		// In-flight results for the previous credential no longer apply.
		s.epoch++
	}
	s.adopt(tok, expiresAt)
	s.emit(core.TokenReloaded{Header: s.header(), TokenExpiresAt: expiresAt})
	if s.state == core.StateAuthenticated {
		s.armExpiryCheck()
	}
	return nil
}

// drain starts queued operations once nothing is in flight, and resumes a
// refresh whose request was discarded.
func (s *Session) drain() {
	for !s.guard.Busy() && len(s.queue) > 0 {
		op := s.queue[0]
		s.queue = s.queue[1:]
		switch op.kind {
		case opLogin:
			s.startLogin(op)
		case opRefresh:
			s.requestRefresh(op.reply)
		}
	}
	if !s.guard.Busy() && s.state == core.StateRefreshing {
		s.startRefresh("Resuming refresh")
	}
}

func replyAll(waiters []chan error, err error) {
	for _, w := range waiters {
		w <- err
	}
}
