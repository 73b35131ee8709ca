// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/stacklok/umakit/pkg/config"
	kcerrors "github.com/stacklok/umakit/pkg/errors"
	"github.com/stacklok/umakit/pkg/logger"
	"github.com/stacklok/umakit/pkg/metrics"
	"github.com/stacklok/umakit/pkg/networking"
	"github.com/stacklok/umakit/pkg/oidc"
)

// EndpointResolver yields the realm endpoints, typically an *oidc.Discoverer.
type EndpointResolver interface {
	Discover(ctx context.Context) (*oidc.EndpointSet, error)
}

// Option configures a Client.
type Option func(*Client)

// WithRecorder records every token endpoint call.
func WithRecorder(r metrics.Recorder) Option {
	return func(c *Client) {
		c.recorder = metrics.OrNoop(r)
	}
}

// WithClock overrides time.Now for IssuedAt.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// Client performs token endpoint grants for one confidential client.
type Client struct {
	clientID     string
	clientSecret string
	redirectURI  string
	scopes       []string

	endpoints  EndpointResolver
	httpClient *http.Client
	recorder   metrics.Recorder
	now        func() time.Time
}

// NewClient creates a Client for the credentials in cfg.
func NewClient(cfg *config.Config, endpoints EndpointResolver, httpClient *http.Client, opts ...Option) *Client {
	c := &Client{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURI:  cfg.RedirectURI,
		scopes:       cfg.Scopes,
		endpoints:    endpoints,
		httpClient:   httpClient,
		recorder:     metrics.Noop{},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClientID returns the client identifier.
func (c *Client) ClientID() string {
	return c.clientID
}

// ClientSecret returns the client secret, for provider calls outside the token endpoint.
func (c *Client) ClientSecret() string {
	return c.clientSecret
}

// Endpoints returns the resolved realm endpoints.
func (c *Client) Endpoints(ctx context.Context) (*oidc.EndpointSet, error) {
	return c.endpoints.Discover(ctx)
}

// OAuth2Config returns the golang.org/x/oauth2 view of the client. Credentials are
// sent with HTTP Basic authentication unless authStyle says otherwise.
func (c *Client) OAuth2Config(ctx context.Context, scopes []string, authStyle oauth2.AuthStyle) (*oauth2.Config, error) {
	eps, err := c.endpoints.Discover(ctx)
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		scopes = c.scopes
	}
	if authStyle == oauth2.AuthStyleAutoDetect {
		authStyle = oauth2.AuthStyleInHeader
	}
	return &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		RedirectURL:  c.redirectURI,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   eps.Authorization,
			TokenURL:  eps.Token,
			AuthStyle: authStyle,
		},
	}, nil
}

// ClientCredentials obtains a token for the client's service account.
func (c *Client) ClientCredentials(ctx context.Context) (*TokenSet, error) {
	eps, err := c.endpoints.Discover(ctx)
	if err != nil {
		return nil, err
	}
	cc := &clientcredentials.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		TokenURL:     eps.Token,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	logger.Debugw("requesting client credentials token", "token_endpoint", eps.Token)
	tok, err := cc.Token(c.context(ctx))
	return c.finish(metrics.OpTokenGrant, eps.Token, tok, err)
}

// Password obtains a token with the resource-owner password grant.
func (c *Client) Password(ctx context.Context, username, password string) (*TokenSet, error) {
	cfg, err := c.OAuth2Config(ctx, nil, oauth2.AuthStyleInHeader)
	if err != nil {
		return nil, err
	}

	logger.Debugw("requesting password grant token", "token_endpoint", cfg.Endpoint.TokenURL, "username", username)
	tok, err := cfg.PasswordCredentialsToken(c.context(ctx), username, password)
	return c.finish(metrics.OpTokenGrant, cfg.Endpoint.TokenURL, tok, err)
}

// Refresh redeems refreshToken for a new set. Providers that rotate refresh tokens
// return a new one; otherwise the old one is carried over.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	if refreshToken == "" {
		return nil, kcerrors.NewTokenRefreshError("no refresh token available", nil)
	}
	cfg, err := c.OAuth2Config(ctx, nil, oauth2.AuthStyleInHeader)
	if err != nil {
		return nil, err
	}

	logger.Debugw("refreshing token", "token_endpoint", cfg.Endpoint.TokenURL)
	tok, err := cfg.TokenSource(c.context(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	return c.finish(metrics.OpTokenRefresh, cfg.Endpoint.TokenURL, tok, err)
}

// Exchange redeems an authorization code. verifier is the PKCE code verifier, or
// empty when the login did not use PKCE. Client credentials travel in the form body.
func (c *Client) Exchange(ctx context.Context, code, verifier string) (*TokenSet, error) {
	if code == "" {
		return nil, fmt.Errorf("authorization code is required")
	}
	cfg, err := c.OAuth2Config(ctx, nil, oauth2.AuthStyleInParams)
	if err != nil {
		return nil, err
	}

	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}

	logger.Debugw("exchanging authorization code", "token_endpoint", cfg.Endpoint.TokenURL, "pkce", verifier != "")
	tok, err := cfg.Exchange(c.context(ctx), code, opts...)
	return c.finish(metrics.OpCodeExchange, cfg.Endpoint.TokenURL, tok, err)
}

func (c *Client) context(ctx context.Context) context.Context {
	if c.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func (c *Client) finish(op, tokenURL string, tok *oauth2.Token, err error) (*TokenSet, error) {
	err = TranslateError(tokenURL, err)
	c.recorder.Record(op, err)
	if err != nil {
		return nil, err
	}
	return FromOAuth2(tok, c.now()), nil
}

// TranslateError converts token endpoint rejections into *networking.HTTPError so that
// callers can inspect the status code and response body the same way for every
// provider call. Transport failures become network errors.
func TranslateError(tokenURL string, err error) error {
	if err == nil {
		return nil
	}
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) || re.Response == nil {
		if kcerrors.IsTokenRefresh(err) {
			return err
		}
		return kcerrors.NewNetworkError("token endpoint request failed", err)
	}
	httpErr := networking.NewHTTPError(re.Response.StatusCode, tokenURL, string(re.Body))
	if re.ErrorCode != "" {
		return fmt.Errorf("token endpoint returned %s: %w", re.ErrorCode, httpErr)
	}
	return httpErr
}
