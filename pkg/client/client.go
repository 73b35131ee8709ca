// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package client assembles the realm capabilities (authentication, token caching,
// token verification and UMA authorization) into one explicitly constructed Client.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stacklok/umakit/pkg/authflow"
	"github.com/stacklok/umakit/pkg/config"
	"github.com/stacklok/umakit/pkg/jwks"
	"github.com/stacklok/umakit/pkg/logger"
	"github.com/stacklok/umakit/pkg/metrics"
	"github.com/stacklok/umakit/pkg/oauth"
	"github.com/stacklok/umakit/pkg/oidc"
	"github.com/stacklok/umakit/pkg/token"
	"github.com/stacklok/umakit/pkg/tokencache"
	"github.com/stacklok/umakit/pkg/uma"
)

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks -source=client.go Authenticator,TokenCache,Verifier,AuthorizationBroker

// Authenticator runs the authorization code flow for end users.
type Authenticator interface {
	// Begin returns the authorization URL and the login the caller must keep until the callback.
	Begin(ctx context.Context, scopes []string) (string, *authflow.PendingLogin, error)
	// Complete redeems an authorization code without checking state.
	Complete(ctx context.Context, code string) (*oauth.TokenSet, error)
	// StartSession begins a login whose state is kept in the state store under sessionID.
	StartSession(ctx context.Context, sessionID string, scopes []string) (string, error)
	// FinishSession checks state against the stored login, consuming it, and redeems code.
	FinishSession(ctx context.Context, sessionID, state, code string) (*oauth.TokenSet, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
	UserInfo(ctx context.Context, accessToken string) (*authflow.UserInfo, error)
}

// TokenCache holds the client's own protection API token.
type TokenCache interface {
	Get(ctx context.Context) (*oauth.TokenSet, error)
	Invalidate()
}

// Verifier checks signed tokens issued by the realm.
type Verifier interface {
	Verify(ctx context.Context, raw, issuer, audience string) (jwt.MapClaims, error)
}

// AuthorizationBroker obtains and inspects UMA permissions.
type AuthorizationBroker interface {
	Ticket(ctx context.Context, requests []uma.PermissionRequest, accessToken string) (*uma.PermissionTicket, error)
	RPT(ctx context.Context, ticket, accessToken string) (*uma.RPT, error)
	Introspect(ctx context.Context, rpt string) (*uma.IntrospectionResult, error)
	Authorize(
		ctx context.Context, aat string, requests []uma.PermissionRequest, resourceName, scope string,
	) (uma.Decision, error)
}

// Option configures New.
type Option func(*options)

type options struct {
	httpClient    *http.Client
	recorder      metrics.Recorder
	stateStore    authflow.StateStore
	authenticator Authenticator
	tokens        TokenCache
	verifier      Verifier
	broker        AuthorizationBroker
}

// WithHTTPClient replaces the client built from the configuration.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithRecorder records every provider call.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *options) {
		o.recorder = r
	}
}

// WithStateStore replaces the state store selected by the configuration.
// The Client closes it on Close.
func WithStateStore(s authflow.StateStore) Option {
	return func(o *options) {
		o.stateStore = s
	}
}

// WithAuthenticator replaces the authorization code flow.
func WithAuthenticator(a Authenticator) Option {
	return func(o *options) {
		o.authenticator = a
	}
}

// WithTokenCache replaces the PAT cache.
func WithTokenCache(t TokenCache) Option {
	return func(o *options) {
		o.tokens = t
	}
}

// WithVerifier replaces the JWKS-backed verifier.
func WithVerifier(v Verifier) Option {
	return func(o *options) {
		o.verifier = v
	}
}

// WithBroker replaces the UMA broker.
func WithBroker(b AuthorizationBroker) Option {
	return func(o *options) {
		o.broker = b
	}
}

// Client is one configured realm client. It is safe for concurrent use.
type Client struct {
	Authenticator Authenticator
	Tokens        TokenCache
	Verifier      Verifier
	Broker        AuthorizationBroker

	Resources *uma.ResourceClient
	Policies  *uma.PolicyClient

	cfg        *config.Config
	discoverer *oidc.Discoverer
	oauth      *oauth.Client
	flow       *authflow.Flow
	keys       *jwks.Store
	store      authflow.StateStore
}

// New validates cfg, discovers the realm endpoints and wires every capability.
// It fails fast when the configuration is invalid or discovery does not yield a
// complete endpoint set.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	rec := metrics.OrNoop(o.recorder)

	httpClient := o.httpClient
	if httpClient == nil {
		var err error
		if httpClient, err = cfg.HTTPClient(); err != nil {
			return nil, err
		}
	}

	d := oidc.NewDiscovererFromConfig(cfg, httpClient, oidc.WithRecorder(rec))
	eps, err := d.Discover(ctx)
	if err != nil {
		return nil, err
	}
	logger.Debugw("realm endpoints discovered", "issuer", eps.Issuer)

	c := &Client{
		cfg:        cfg,
		discoverer: d,
		oauth:      oauth.NewClient(cfg, d, httpClient, oauth.WithRecorder(rec)),
	}

	c.keys = jwks.NewStore(c.jwksURL, httpClient, jwks.WithTTL(cfg.JWKSCacheTTL), jwks.WithRecorder(rec))
	c.Verifier = o.verifier
	if c.Verifier == nil {
		c.Verifier = token.NewVerifier(c.keys, token.WithLeeway(cfg.ClockSkew))
	}

	c.Tokens = o.tokens
	if c.Tokens == nil {
		c.Tokens = tokencache.NewPAT(cfg, c.oauth)
	}

	c.store = o.stateStore
	if c.store == nil {
		if c.store, err = authflow.NewStateStore(ctx, cfg.StateStore); err != nil {
			return nil, err
		}
	}
	c.flow = authflow.NewFlow(c.oauth, d, c.store, authflow.WithPKCE(cfg.UsePKCE), authflow.WithRecorder(rec))
	c.Authenticator = o.authenticator
	if c.Authenticator == nil {
		c.Authenticator = c.flow
	}

	c.Broker = o.broker
	if c.Broker == nil {
		c.Broker = uma.NewBroker(c.oauth, httpClient, uma.WithVerifier(c.Verifier), uma.WithRecorder(rec))
	}

	c.Resources = uma.NewResourceClient(c.oauth, c, httpClient, rec)
	c.Policies = uma.NewPolicyClient(c.oauth, c, httpClient, rec)

	return c, nil
}

func (c *Client) jwksURL(ctx context.Context) (string, error) {
	eps, err := c.discoverer.Discover(ctx)
	if err != nil {
		return "", err
	}
	return eps.JWKS, nil
}

// Config returns the configuration the client was built from.
func (c *Client) Config() *config.Config {
	return c.cfg
}

// Issuer returns the realm issuer URL.
func (c *Client) Issuer() string {
	return c.discoverer.Issuer()
}

// Endpoints returns the discovered realm endpoints.
func (c *Client) Endpoints(ctx context.Context) (*oidc.EndpointSet, error) {
	return c.discoverer.Discover(ctx)
}

// Keys returns the realm signing key store.
func (c *Client) Keys() *jwks.Store {
	return c.keys
}

// VerifyToken verifies raw against the realm issuer. A non-empty audience must be
// among the token's aud values.
func (c *Client) VerifyToken(ctx context.Context, raw, audience string) (jwt.MapClaims, error) {
	eps, err := c.discoverer.Discover(ctx)
	if err != nil {
		return nil, err
	}
	return c.Verifier.Verify(ctx, raw, eps.Issuer, audience)
}

// PAT returns a valid protection API token for the client.
func (c *Client) PAT(ctx context.Context) (string, error) {
	ts, err := c.Tokens.Get(ctx)
	if err != nil {
		return "", err
	}
	return ts.AccessToken, nil
}

// NewSession starts tracking one end user. It needs the built-in authenticator.
func (c *Client) NewSession() *authflow.Session {
	return authflow.NewSession(c.flow, tokencache.NewSession(c.oauth))
}

// Close releases the state store.
func (c *Client) Close() error {
	if c.store == nil {
		return nil
	}
	if err := c.store.Close(); err != nil {
		return fmt.Errorf("failed to close state store: %w", err)
	}
	return nil
}
