// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package jwks

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kcerrors "github.com/stacklok/umakit/pkg/errors"
	"github.com/stacklok/umakit/pkg/metrics"
	"github.com/stacklok/umakit/pkg/testkit"
)

var sharedSecret = []byte("0123456789abcdef0123456789abcdef")

func newStore(t *testing.T, realm *testkit.Realm, opts ...Option) *Store {
	t.Helper()
	client, err := realm.Config().HTTPClient()
	require.NoError(t, err)
	return NewStore(StaticURL(realm.Issuer()+"/protocol/openid-connect/certs"), client, opts...)
}

func TestStore_Keys(t *testing.T) {
	t.Parallel()

	realm := testkit.NewTestRealm(t, testkit.WithSharedSecret(sharedSecret))
	s := newStore(t, realm)

	keys, err := s.Keys(context.Background())
	require.NoError(t, err)

	require.Contains(t, keys, realm.RSAKeyID())
	require.Contains(t, keys, realm.ECKeyID())
	require.Contains(t, keys, testkit.SharedSecretKeyID)
	assert.NotContains(t, keys, testkit.EncryptionKeyID, "keys whose use is enc are skipped")

	assert.Equal(t, FamilyRSA, keys[realm.RSAKeyID()].Family)
	assert.IsType(t, &rsa.PublicKey{}, keys[realm.RSAKeyID()].Material)
	assert.Equal(t, FamilyEC, keys[realm.ECKeyID()].Family)
	assert.IsType(t, &ecdsa.PublicKey{}, keys[realm.ECKeyID()].Material)
	assert.Equal(t, FamilyHMAC, keys[testkit.SharedSecretKeyID].Family)
	assert.Equal(t, sharedSecret, keys[testkit.SharedSecretKeyID].Material)

	// The returned map is a copy.
	delete(keys, realm.RSAKeyID())
	again, err := s.Keys(context.Background())
	require.NoError(t, err)
	assert.Contains(t, again, realm.RSAKeyID())
	assert.Equal(t, 1, realm.Hits(testkit.RouteCerts))
}

func TestStore_TTL(t *testing.T) {
	t.Parallel()

	realm := testkit.NewTestRealm(t)
	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
	}

	s := newStore(t, realm, WithTTL(time.Minute), WithClock(clock))

	_, err := s.Keys(context.Background())
	require.NoError(t, err)
	advance(30 * time.Second)
	_, err = s.Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, realm.Hits(testkit.RouteCerts))

	advance(31 * time.Second)
	_, err = s.Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, realm.Hits(testkit.RouteCerts))
}

func TestStore_FindRefetchesOnceAfterRotation(t *testing.T) {
	t.Parallel()

	realm := testkit.NewTestRealm(t)
	s := newStore(t, realm)

	old, err := s.Find(context.Background(), realm.RSAKeyID())
	require.NoError(t, err)
	assert.Equal(t, realm.RSAKeyID(), old.ID)

	require.NoError(t, realm.RotateKeys())

	rotated, err := s.Find(context.Background(), realm.RSAKeyID())
	require.NoError(t, err)
	assert.Equal(t, realm.RSAKeyID(), rotated.ID)
	assert.Equal(t, 2, realm.Hits(testkit.RouteCerts))

	_, err = s.Find(context.Background(), "never-published")
	require.Error(t, err)
	assert.True(t, kcerrors.IsUnknownKey(err))
	assert.Equal(t, 3, realm.Hits(testkit.RouteCerts), "a miss triggers exactly one re-fetch")
}

func TestStore_FindOnFirstFetchDoesNotRefetch(t *testing.T) {
	t.Parallel()

	realm := testkit.NewTestRealm(t)
	s := newStore(t, realm)

	_, err := s.Find(context.Background(), "unknown")
	require.Error(t, err)
	assert.True(t, kcerrors.IsUnknownKey(err))
	assert.Equal(t, 1, realm.Hits(testkit.RouteCerts))
}

func TestStore_ConcurrentMissesShareOneFetch(t *testing.T) {
	t.Parallel()

	realm := testkit.NewTestRealm(t)
	doc := publicSet(t)
	release := make(chan struct{})
	realm.Handle(testkit.RouteCerts, func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(doc)
	})

	s := newStore(t, realm)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Keys(context.Background())
			assert.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, realm.Hits(testkit.RouteCerts))
}

func TestStore_FetchErrors(t *testing.T) {
	t.Parallel()

	realm := testkit.NewTestRealm(t)
	realm.Handle(testkit.RouteCerts, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	reg := prometheus.NewRegistry()
	collector, err := metrics.NewCollector(reg)
	require.NoError(t, err)

	s := newStore(t, realm, WithRecorder(collector))
	_, err = s.Keys(context.Background())
	require.Error(t, err)
	assert.True(t, kcerrors.IsNetwork(err))

	count, err := testutil.GatherAndCount(reg, "umakit_upstream_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStore_Invalidate(t *testing.T) {
	t.Parallel()

	realm := testkit.NewTestRealm(t)
	s := newStore(t, realm)

	_, err := s.Keys(context.Background())
	require.NoError(t, err)
	s.Invalidate()
	_, err = s.Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, realm.Hits(testkit.RouteCerts))
}

func TestParse(t *testing.T) {
	t.Parallel()

	t.Run("skips keys without kid", func(t *testing.T) {
		t.Parallel()

		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		key, err := jwk.Import(&priv.PublicKey)
		require.NoError(t, err)
		set := jwk.NewSet()
		require.NoError(t, set.AddKey(key))
		data, err := json.Marshal(set)
		require.NoError(t, err)

		keys, err := Parse(data)
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("private keys export their public half", func(t *testing.T) {
		t.Parallel()

		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		key, err := jwk.Import(priv)
		require.NoError(t, err)
		require.NoError(t, key.Set(jwk.KeyIDKey, "priv"))
		set := jwk.NewSet()
		require.NoError(t, set.AddKey(key))
		data, err := json.Marshal(set)
		require.NoError(t, err)

		keys, err := Parse(data)
		require.NoError(t, err)
		require.Contains(t, keys, "priv")
		assert.IsType(t, &rsa.PublicKey{}, keys["priv"].Material)
	})

	t.Run("rejects invalid documents", func(t *testing.T) {
		t.Parallel()

		_, err := Parse([]byte(`{"keys": "nope"}`))
		assert.Error(t, err)
	})
}

func publicSet(t *testing.T) []byte {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	key, err := jwk.Import(&priv.PublicKey)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, "k1"))
	require.NoError(t, key.Set(jwk.AlgorithmKey, "RS256"))
	require.NoError(t, key.Set(jwk.KeyUsageKey, "sig"))
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(key))
	data, err := json.Marshal(set)
	require.NoError(t, err)
	return data
}
