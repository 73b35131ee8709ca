// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package jwks keeps the provider's published signing keys, indexed by key id.
package jwks

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"golang.org/x/sync/singleflight"

	kcerrors "github.com/stacklok/umakit/pkg/errors"
	"github.com/stacklok/umakit/pkg/logger"
	"github.com/stacklok/umakit/pkg/metrics"
	"github.com/stacklok/umakit/pkg/networking"
)

// DefaultTTL is how long a fetched key set is served before it is considered stale.
const DefaultTTL = 10 * time.Minute

// Family groups the key types a signing algorithm accepts.
type Family string

// Key families
const (
	FamilyRSA  Family = "RSA"
	FamilyEC   Family = "EC"
	FamilyHMAC Family = "HMAC"
)

// Key is one exported verification key.
type Key struct {
	ID     string
	Family Family

	// Material is *rsa.PublicKey, *ecdsa.PublicKey or []byte depending on Family.
	Material any
}

// URLResolver returns the jwks_uri to fetch. It is called on every fetch so that a
// resolver backed by discovery can defer the network until the keys are needed.
type URLResolver func(ctx context.Context) (string, error)

// StaticURL returns a resolver for a fixed jwks_uri.
func StaticURL(u string) URLResolver {
	return func(context.Context) (string, error) {
		return u, nil
	}
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithRecorder records each JWKS fetch.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Store) {
		s.recorder = metrics.OrNoop(r)
	}
}

// Store caches the key set behind a jwks_uri.
type Store struct {
	resolve  URLResolver
	client   networking.HTTPClient
	ttl      time.Duration
	now      func() time.Time
	recorder metrics.Recorder

	mu        sync.Mutex
	keys      map[string]Key
	fetchedAt time.Time

	group singleflight.Group
}

// NewStore creates a Store. No network call is made until the keys are first needed.
func NewStore(resolve URLResolver, client networking.HTTPClient, opts ...Option) *Store {
	s := &Store{
		resolve:  resolve,
		client:   client,
		ttl:      DefaultTTL,
		now:      time.Now,
		recorder: metrics.Noop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Keys returns the current key set, fetching it when absent or stale.
func (s *Store) Keys(ctx context.Context) (map[string]Key, error) {
	keys, _, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	return maps.Clone(keys), nil
}

// Find returns the key with the given id. A miss against a cached set triggers one
// re-fetch, which covers provider key rotation.
func (s *Store) Find(ctx context.Context, kid string) (Key, error) {
	keys, fetched, err := s.current(ctx)
	if err != nil {
		return Key{}, err
	}
	if k, ok := keys[kid]; ok {
		return k, nil
	}

	if !fetched {
		logger.Debugw("signing key not cached, re-fetching key set", "kid", kid)
		keys, err = s.fetch(ctx)
		if err != nil {
			return Key{}, err
		}
		if k, ok := keys[kid]; ok {
			return k, nil
		}
	}

	return Key{}, kcerrors.NewUnknownKeyError(fmt.Sprintf("no signing key with kid %q", kid), nil)
}

// Invalidate drops the cached key set.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = nil
	s.fetchedAt = time.Time{}
}

// current returns a fresh key set and whether this call had to fetch it.
func (s *Store) current(ctx context.Context) (map[string]Key, bool, error) {
	s.mu.Lock()
	if s.keys != nil && s.now().Before(s.fetchedAt.Add(s.ttl)) {
		keys := s.keys
		s.mu.Unlock()
		return keys, false, nil
	}
	s.mu.Unlock()

	keys, err := s.fetch(ctx)
	return keys, true, err
}

// fetch retrieves the key set; concurrent callers share one request.
func (s *Store) fetch(ctx context.Context) (map[string]Key, error) {
	ch := s.group.DoChan("jwks", func() (any, error) {
		fetchCtx := context.WithoutCancel(ctx)
		keys, err := s.download(fetchCtx)
		s.recorder.Record(metrics.OpJWKS, err)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.keys = keys
		s.fetchedAt = s.now()
		s.mu.Unlock()
		return keys, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(map[string]Key), nil
	}
}

func (s *Store) download(ctx context.Context) (map[string]Key, error) {
	jwksURL, err := s.resolve(ctx)
	if err != nil {
		return nil, err
	}

	result, err := networking.FetchJSON[json.RawMessage](ctx, s.client, jwksURL,
		networking.WithoutContentTypeValidation())
	if err != nil {
		return nil, kcerrors.NewNetworkError("failed to fetch signing keys", err)
	}

	keys, err := Parse(result.Data)
	if err != nil {
		return nil, kcerrors.NewNetworkError("failed to parse signing keys", err)
	}

	logger.Debugw("signing keys fetched", "url", jwksURL, "count", len(keys))
	return keys, nil
}

// Parse decodes a JWKS document into verification keys. Keys without a kid, keys
// not meant for signatures and key types no supported algorithm uses are skipped.
func Parse(data []byte) (map[string]Key, error) {
	set, err := jwk.Parse(data)
	if err != nil {
		return nil, err
	}

	keys := make(map[string]Key, set.Len())
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		kid, ok := key.KeyID()
		if !ok || kid == "" {
			continue
		}
		if use, ok := key.KeyUsage(); ok && use != "" && use != "sig" {
			continue
		}

		k, err := export(kid, key)
		if err != nil {
			logger.Debugw("skipping signing key", "kid", kid, "error", err)
			continue
		}
		keys[kid] = k
	}
	return keys, nil
}

var errUnsupportedKeyType = errors.New("unsupported key type")

func export(kid string, key jwk.Key) (Key, error) {
	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return Key{}, err
	}

	switch m := raw.(type) {
	case *rsa.PublicKey:
		return Key{ID: kid, Family: FamilyRSA, Material: m}, nil
	case *rsa.PrivateKey:
		return Key{ID: kid, Family: FamilyRSA, Material: &m.PublicKey}, nil
	case *ecdsa.PublicKey:
		return Key{ID: kid, Family: FamilyEC, Material: m}, nil
	case *ecdsa.PrivateKey:
		return Key{ID: kid, Family: FamilyEC, Material: &m.PublicKey}, nil
	case []byte:
		return Key{ID: kid, Family: FamilyHMAC, Material: m}, nil
	default:
		return Key{}, fmt.Errorf("%w: %T", errUnsupportedKeyType, raw)
	}
}
