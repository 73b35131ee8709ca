// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package authflow drives the authorization-code login of an end user and the CSRF
// state bookkeeping around it.
//
// A login starts with Begin or StartSession, which build the provider's authorization
// URL with a fresh random state. The provider later redirects the user back with that
// state and a code; FinishSession checks the state against the stored one before the
// code is exchanged. Complete performs the exchange alone for callers that keep the
// state themselves.
package authflow

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	kcerrors "github.com/stacklok/umakit/pkg/errors"
	"github.com/stacklok/umakit/pkg/logger"
	"github.com/stacklok/umakit/pkg/metrics"
	"github.com/stacklok/umakit/pkg/networking"
	"github.com/stacklok/umakit/pkg/oauth"
	"github.com/stacklok/umakit/pkg/oidc"
)

// stateBytes is the amount of randomness in a state nonce.
const stateBytes = 32

// DefaultScope is requested when Begin is given no scopes.
const DefaultScope = "openid"

// Option configures a Flow.
type Option func(*Flow)

// WithPKCE adds an S256 code challenge to every login.
func WithPKCE(enabled bool) Option {
	return func(f *Flow) {
		f.usePKCE = enabled
	}
}

// WithRecorder records logout and userinfo calls.
func WithRecorder(r metrics.Recorder) Option {
	return func(f *Flow) {
		f.recorder = metrics.OrNoop(r)
	}
}

// WithClock overrides time.Now for PendingLogin.CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(f *Flow) {
		f.now = now
	}
}

// Flow is the authorization-code login of one confidential client.
type Flow struct {
	client     *oauth.Client
	discoverer *oidc.Discoverer
	store      StateStore
	usePKCE    bool
	recorder   metrics.Recorder
	now        func() time.Time
}

// NewFlow creates a Flow. store may be nil when only Begin and Complete are used.
func NewFlow(client *oauth.Client, discoverer *oidc.Discoverer, store StateStore, opts ...Option) *Flow {
	f := &Flow{
		client:     client,
		discoverer: discoverer,
		store:      store,
		recorder:   metrics.Noop{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Begin builds the authorization URL for a new login and returns it together with the
// login the caller must remember until the callback arrives.
func (f *Flow) Begin(ctx context.Context, scopes []string) (string, *PendingLogin, error) {
	if len(scopes) == 0 {
		scopes = []string{DefaultScope}
	}
	cfg, err := f.client.OAuth2Config(ctx, scopes, oauth2.AuthStyleInParams)
	if err != nil {
		return "", nil, err
	}
	if cfg.RedirectURL == "" {
		return "", nil, kcerrors.NewConfigurationError("redirect_uri is required for the login flow", nil)
	}

	state, err := generateState()
	if err != nil {
		return "", nil, err
	}
	login := &PendingLogin{
		State:     state,
		Scopes:    scopes,
		CreatedAt: f.now(),
	}

	var opts []oauth2.AuthCodeOption
	if f.usePKCE {
		login.Verifier = oauth2.GenerateVerifier()
		opts = append(opts, oauth2.S256ChallengeOption(login.Verifier))
	}

	return cfg.AuthCodeURL(state, opts...), login, nil
}

// Complete exchanges an authorization code for tokens. It does not check state; use
// FinishSession for that.
func (f *Flow) Complete(ctx context.Context, code string) (*oauth.TokenSet, error) {
	return f.client.Exchange(ctx, code, "")
}

// StartSession begins a login for sessionID and stores it until FinishSession.
func (f *Flow) StartSession(ctx context.Context, sessionID string, scopes []string) (string, error) {
	if f.store == nil {
		return "", kcerrors.NewConfigurationError("no state store configured", nil)
	}
	if sessionID == "" {
		return "", errors.New("session id is required")
	}

	authURL, login, err := f.Begin(ctx, scopes)
	if err != nil {
		return "", err
	}
	if err := f.store.Put(ctx, sessionID, login); err != nil {
		return "", fmt.Errorf("failed to store pending login: %w", err)
	}

	logger.Debugw("login started", "session", sessionID, "state", logger.Secret(login.State), "pkce", login.Verifier != "")
	return authURL, nil
}

// FinishSession handles the callback of a login started with StartSession. The stored
// login is removed whatever the outcome, so a state can be used only once.
func (f *Flow) FinishSession(ctx context.Context, sessionID, state, code string) (*oauth.TokenSet, error) {
	if f.store == nil {
		return nil, kcerrors.NewConfigurationError("no state store configured", nil)
	}

	login, err := f.store.Take(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return nil, kcerrors.NewInvalidStateError("no login in progress for this session", err)
		}
		return nil, err
	}

	if state == "" || subtle.ConstantTimeCompare([]byte(login.State), []byte(state)) != 1 {
		logger.Warnw("login callback state mismatch", "session", sessionID)
		return nil, kcerrors.NewInvalidStateError("state does not match the login in progress", nil)
	}

	return f.client.Exchange(ctx, code, login.Verifier)
}

// Logout ends the provider session bound to refreshToken. The local session is not
// touched; callers drop their tokens whether or not this succeeds.
func (f *Flow) Logout(ctx context.Context, accessToken, refreshToken string) error {
	eps, err := f.discoverer.Discover(ctx)
	if err != nil {
		return err
	}

	form := url.Values{
		"client_id":     {f.client.ClientID()},
		"client_secret": {f.client.ClientSecret()},
		"refresh_token": {refreshToken},
	}
	opts := []networking.FetchOption{
		networking.WithMethod(http.MethodPost),
		networking.WithHeader("Content-Type", networking.ContentTypeFormURLEncoded),
		networking.WithBody(strings.NewReader(form.Encode())),
	}
	if accessToken != "" {
		opts = append(opts, networking.WithBearerToken(accessToken))
	}

	_, err = networking.Send(ctx, f.discoverer.HTTPClient(), eps.EndSession, opts...)
	f.recorder.Record(metrics.OpLogout, err)
	if err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}
	return nil
}

// UserInfo is the userinfo response for an access token.
type UserInfo struct {
	Subject           string         `json:"sub"`
	PreferredUsername string         `json:"preferred_username,omitempty"`
	Email             string         `json:"email,omitempty"`
	EmailVerified     bool           `json:"email_verified,omitempty"`
	Claims            map[string]any `json:"-"`
}

// UserInfo fetches the claims the provider holds about the owner of accessToken.
func (f *Flow) UserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	provider, err := f.discoverer.Provider(ctx)
	if err != nil {
		return nil, err
	}

	ctx = gooidc.ClientContext(ctx, f.discoverer.HTTPClient())
	info, err := provider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	f.recorder.Record(metrics.OpUserInfo, err)
	if err != nil {
		return nil, kcerrors.NewNetworkError("userinfo request failed", err)
	}

	out := &UserInfo{
		Subject:       info.Subject,
		Email:         info.Email,
		EmailVerified: info.EmailVerified,
	}
	if err := info.Claims(&out.Claims); err != nil {
		return nil, fmt.Errorf("failed to decode userinfo claims: %w", err)
	}
	if v, ok := out.Claims["preferred_username"].(string); ok {
		out.PreferredUsername = v
	}
	return out, nil
}

func generateState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
