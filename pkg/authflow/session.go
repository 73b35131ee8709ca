// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	kcerrors "github.com/stacklok/umakit/pkg/errors"
	"github.com/stacklok/umakit/pkg/logger"
	"github.com/stacklok/umakit/pkg/oauth"
	"github.com/stacklok/umakit/pkg/tokencache"
)

// State is where a Session is in its login lifecycle.
type State string

// Session states
const (
	StateUnauthenticated State = "unauthenticated"
	StatePendingCallback State = "pending_callback"
	StateAuthenticated   State = "authenticated"
	StateExpired         State = "expired"
)

// Session tracks one end user from login to logout.
type Session struct {
	id     string
	flow   *Flow
	tokens *tokencache.Cache
	now    func() time.Time

	mu    sync.Mutex
	state State
}

// NewSession creates an unauthenticated session with a random id. tokens must be a
// session cache (tokencache.NewSession).
func NewSession(flow *Flow, tokens *tokencache.Cache) *Session {
	return &Session{
		id:     uuid.NewString(),
		flow:   flow,
		tokens: tokens,
		now:    flow.now,
		state:  StateUnauthenticated,
	}
}

// ID returns the key the session's pending login is stored under.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state. An authenticated session whose access token has
// expired reports StateExpired until the next AccessToken call refreshes it.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateAuthenticated && s.tokens.Peek().Expired(s.now()) {
		return StateExpired
	}
	return s.state
}

// Login starts a login and returns the URL to send the user to.
func (s *Session) Login(ctx context.Context, scopes []string) (string, error) {
	authURL, err := s.flow.StartSession(ctx, s.id, scopes)
	if err != nil {
		return "", err
	}
	s.setState(StatePendingCallback)
	return authURL, nil
}

// Callback completes the login with the values the provider redirected back with.
// Any failure leaves the session unauthenticated.
func (s *Session) Callback(ctx context.Context, state, code string) (*oauth.TokenSet, error) {
	ts, err := s.flow.FinishSession(ctx, s.id, state, code)
	if err != nil {
		s.tokens.Invalidate()
		s.setState(StateUnauthenticated)
		return nil, err
	}
	s.tokens.Store(ts)
	s.setState(StateAuthenticated)
	logger.Debugw("session authenticated", "session", s.id)
	return ts.Clone(), nil
}

// AccessToken returns a valid access token, refreshing it when expired. A failed
// refresh ends the session.
func (s *Session) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state != StateAuthenticated {
		return "", kcerrors.NewTokenRefreshError("session is not authenticated", nil)
	}

	ts, err := s.tokens.Get(ctx)
	if err != nil {
		if kcerrors.RequiresReauthentication(err) {
			s.setState(StateUnauthenticated)
		}
		return "", err
	}
	return ts.AccessToken, nil
}

// Logout ends the provider session and drops local tokens. The local session ends even
// when the provider call fails; that error is returned.
func (s *Session) Logout(ctx context.Context) error {
	ts := s.tokens.Peek()
	s.tokens.Invalidate()
	s.setState(StateUnauthenticated)

	if ts == nil || ts.RefreshToken == "" {
		return nil
	}
	return s.flow.Logout(ctx, ts.AccessToken, ts.RefreshToken)
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != state {
		logger.Debugw("session state changed", "session", s.id, "from", s.state, "to", state)
	}
	s.state = state
}
