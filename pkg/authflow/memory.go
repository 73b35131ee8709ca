// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authflow

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStateStore keeps pending logins in process memory. Expired entries are purged
// by a background goroutine until Close is called.
type MemoryStateStore struct {
	cache    *ttlcache.Cache[string, *PendingLogin]
	stopOnce sync.Once
}

// NewMemoryStateStore creates a store whose entries live for ttl.
func NewMemoryStateStore(ttl time.Duration) *MemoryStateStore {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *PendingLogin](ttl),
		ttlcache.WithDisableTouchOnHit[string, *PendingLogin](),
	)

	go cache.Start()

	return &MemoryStateStore{cache: cache}
}

// Put implements StateStore.
func (s *MemoryStateStore) Put(_ context.Context, key string, login *PendingLogin) error {
	if err := validatePut(key, login); err != nil {
		return err
	}
	s.cache.Set(key, login.Clone(), ttlcache.DefaultTTL)
	return nil
}

// Take implements StateStore.
func (s *MemoryStateStore) Take(_ context.Context, key string) (*PendingLogin, error) {
	item, ok := s.cache.GetAndDelete(key)
	if !ok || item == nil {
		return nil, ErrStateNotFound
	}
	return item.Value(), nil
}

// Len returns the number of pending logins, including expired ones not yet purged.
func (s *MemoryStateStore) Len() int {
	return s.cache.Len()
}

// Close stops the purge goroutine. It is safe to call more than once.
func (s *MemoryStateStore) Close() error {
	s.stopOnce.Do(s.cache.Stop)
	return nil
}
