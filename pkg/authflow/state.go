// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/stacklok/umakit/pkg/config"
)

// ErrStateNotFound is returned by StateStore.Take when no pending login exists for a
// key, including when it has expired or was already consumed.
var ErrStateNotFound = errors.New("pending login not found")

func validatePut(key string, login *PendingLogin) error {
	if key == "" {
		return errors.New("state key cannot be empty")
	}
	if login == nil {
		return errors.New("pending login cannot be nil")
	}
	return nil
}

// PendingLogin is what a client remembers between redirecting a user to the provider
// and receiving the callback. It is consumed exactly once.
type PendingLogin struct {
	State     string    `json:"state"`
	Verifier  string    `json:"verifier,omitempty"`
	Scopes    []string  `json:"scopes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy.
func (p *PendingLogin) Clone() *PendingLogin {
	if p == nil {
		return nil
	}
	out := *p
	out.Scopes = slices.Clone(p.Scopes)
	return &out
}

// StateStore keeps pending logins keyed by session id.
type StateStore interface {
	// Put stores login under key, replacing any previous login of that key.
	Put(ctx context.Context, key string, login *PendingLogin) error

	// Take removes and returns the login stored under key. It returns
	// ErrStateNotFound when there is none.
	Take(ctx context.Context, key string) (*PendingLogin, error)

	// Close releases the store's resources.
	Close() error
}

// NewStateStore creates the store selected by cfg.
func NewStateStore(ctx context.Context, cfg config.StateStore) (StateStore, error) {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = config.DefaultStateTTL
	}

	switch cfg.Type {
	case "", config.StateStoreMemory:
		return NewMemoryStateStore(ttl), nil
	case config.StateStoreRedis:
		return NewRedisStateStore(ctx, cfg.Redis, ttl)
	default:
		return nil, fmt.Errorf("unknown state store type %q", cfg.Type)
	}
}
