// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package tokencache keeps one principal's token set fresh.
//
// A Cache hands out copies of its current token set, refreshing it with the refresh
// grant once it has expired and falling back to a new grant when no refresh token is
// usable. Concurrent callers that find the cache stale share one upstream request.
package tokencache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/stacklok/umakit/pkg/config"
	kcerrors "github.com/stacklok/umakit/pkg/errors"
	"github.com/stacklok/umakit/pkg/logger"
	"github.com/stacklok/umakit/pkg/oauth"
)

// Grants is the token endpoint surface a Cache needs. *oauth.Client implements it.
type Grants interface {
	ClientCredentials(ctx context.Context) (*oauth.TokenSet, error)
	Password(ctx context.Context, username, password string) (*oauth.TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth.TokenSet, error)
}

// Kind names how a Cache obtains a token set when it has none.
type Kind string

// Cache kinds
const (
	KindClientCredentials Kind = "client_credentials"
	KindPassword          Kind = "password"
	KindSession           Kind = "session"
)

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// Cache holds the token set of one principal. It is the only writer of that set;
// callers always receive copies.
type Cache struct {
	kind     Kind
	grants   Grants
	username string
	password string
	now      func() time.Time

	mu         sync.Mutex
	tokens     *oauth.TokenSet
	generation uint64

	group singleflight.Group
}

func newCache(kind Kind, grants Grants, opts []Option) *Cache {
	c := &Cache{
		kind:   kind,
		grants: grants,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientCredentials returns a cache for the client's own service-account token.
func NewClientCredentials(grants Grants, opts ...Option) *Cache {
	return newCache(KindClientCredentials, grants, opts)
}

// NewPassword returns a cache that logs in with the resource-owner password grant.
func NewPassword(grants Grants, username, password string, opts ...Option) *Cache {
	c := newCache(KindPassword, grants, opts)
	c.username = username
	c.password = password
	return c
}

// NewSession returns a cache for an end user. It starts empty and is seeded with
// Store once the user has logged in; it can refresh but never log in by itself.
func NewSession(grants Grants, opts ...Option) *Cache {
	return newCache(KindSession, grants, opts)
}

// NewPAT returns the cache for the protection API token described by cfg: the password
// grant when a username is configured, client credentials otherwise.
func NewPAT(cfg *config.Config, grants Grants, opts ...Option) *Cache {
	if cfg.UsesPasswordGrant() {
		return NewPassword(grants, cfg.Username, cfg.Password, opts...)
	}
	return NewClientCredentials(grants, opts...)
}

// Kind reports how the cache obtains new tokens.
func (c *Cache) Kind() Kind {
	return c.kind
}

// Get returns a valid token set, obtaining or refreshing it first when needed.
func (c *Cache) Get(ctx context.Context) (*oauth.TokenSet, error) {
	c.mu.Lock()
	if c.tokens != nil && !c.tokens.Expired(c.now()) {
		ts := c.tokens.Clone()
		c.mu.Unlock()
		return ts, nil
	}
	c.mu.Unlock()

	ch := c.group.DoChan("tokens", func() (any, error) {
		return c.renew(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*oauth.TokenSet).Clone(), nil
	}
}

// PAT returns the current access token.
func (c *Cache) PAT(ctx context.Context) (string, error) {
	ts, err := c.Get(ctx)
	if err != nil {
		return "", err
	}
	return ts.AccessToken, nil
}

// Peek returns a copy of the cached set without renewing it, or nil when empty.
func (c *Cache) Peek() *oauth.TokenSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens.Clone()
}

// Store replaces the cached set, typically with the result of a code exchange.
func (c *Cache) Store(ts *oauth.TokenSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = ts.Clone()
	c.generation++
}

// Invalidate drops the cached set. The next Get starts over.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = nil
	c.generation++
}

// TokenSource adapts the cache to oauth2.TokenSource. ctx bounds every Token call.
func (c *Cache) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, cache: c}
}

type tokenSource struct {
	ctx   context.Context
	cache *Cache
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	ts, err := s.cache.Get(s.ctx)
	if err != nil {
		return nil, err
	}
	return ts.OAuth2Token(), nil
}

func (c *Cache) renew(ctx context.Context) (*oauth.TokenSet, error) {
	c.mu.Lock()
	current := c.tokens.Clone()
	generation := c.generation
	c.mu.Unlock()

	now := c.now()
	if current != nil && !current.Expired(now) {
		return current, nil
	}

	var (
		ts  *oauth.TokenSet
		err error
	)
	if current != nil && current.HasRefreshToken() && !refreshExpired(current, now) {
		logger.Debugw("access token expired, refreshing", "kind", c.kind)
		ts, err = c.grants.Refresh(ctx, current.RefreshToken)
		if err != nil {
			logger.Warnw("token refresh failed, clearing cached tokens", "kind", c.kind, "error", err)
			c.replace(generation, nil)
			if kcerrors.IsTokenRefresh(err) {
				return nil, err
			}
			return nil, kcerrors.NewTokenRefreshError("refresh grant rejected", err)
		}
	} else {
		ts, err = c.grant(ctx, current != nil)
		if err != nil {
			if current != nil {
				c.replace(generation, nil)
			}
			return nil, err
		}
	}

	c.replace(generation, ts)
	return ts, nil
}

func (c *Cache) grant(ctx context.Context, expired bool) (*oauth.TokenSet, error) {
	switch c.kind {
	case KindClientCredentials:
		logger.Debugw("requesting new token", "kind", c.kind, "expired", expired)
		return c.grants.ClientCredentials(ctx)
	case KindPassword:
		logger.Debugw("requesting new token", "kind", c.kind, "expired", expired, "username", c.username)
		return c.grants.Password(ctx, c.username, c.password)
	default:
		if expired {
			return nil, kcerrors.NewTokenRefreshError("session expired and cannot be refreshed", nil)
		}
		return nil, kcerrors.NewTokenRefreshError("no session tokens, login required", nil)
	}
}

// replace installs ts unless Store or Invalidate ran since generation was read.
func (c *Cache) replace(generation uint64, ts *oauth.TokenSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != generation {
		return
	}
	c.tokens = ts.Clone()
	c.generation++
}

func refreshExpired(ts *oauth.TokenSet, now time.Time) bool {
	exp := ts.RefreshExpiry()
	return !exp.IsZero() && !now.Before(exp)
}
