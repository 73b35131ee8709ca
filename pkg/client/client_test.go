// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/umakit/pkg/authflow"
	"github.com/stacklok/umakit/pkg/client/mocks"
	"github.com/stacklok/umakit/pkg/config"
	kcerrors "github.com/stacklok/umakit/pkg/errors"
	"github.com/stacklok/umakit/pkg/metrics"
	"github.com/stacklok/umakit/pkg/oauth"
	"github.com/stacklok/umakit/pkg/testkit"
	"github.com/stacklok/umakit/pkg/uma"
)

func newClient(t *testing.T, realm *testkit.Realm, opts ...Option) *Client {
	t.Helper()
	c, err := New(context.Background(), realm.Config(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// followLogin plays the browser for an authorization URL and returns the callback query.
func followLogin(t *testing.T, authURL string) url.Values {
	t.Helper()
	browser := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	resp, err := browser.Get(authURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	return loc.Query()
}

func TestNew(t *testing.T) {
	t.Parallel()

	realm := testkit.NewTestRealm(t)
	rec := &testkit.Recorder{}
	c := newClient(t, realm, WithRecorder(rec))
	ctx := context.Background()

	assert.Equal(t, realm.Issuer(), c.Issuer())
	assert.Equal(t, realm.ClientID, c.Config().ClientID)
	assert.Equal(t, 1, rec.Count(metrics.OpDiscovery, metrics.OutcomeSuccess))

	eps, err := c.Endpoints(ctx)
	require.NoError(t, err)
	assert.Equal(t, realm.Issuer()+"/protocol/openid-connect/token", eps.Token)

	pat, err := c.PAT(ctx)
	require.NoError(t, err)
	again, err := c.PAT(ctx)
	require.NoError(t, err)
	assert.Equal(t, pat, again)
	assert.Equal(t, 1, realm.Hits(testkit.RouteToken))

	claims, err := c.VerifyToken(ctx, pat, realm.ClientID)
	require.NoError(t, err)
	assert.Equal(t, realm.ServiceAccount(), claims["sub"])

	keys, err := c.Keys().Keys(ctx)
	require.NoError(t, err)
	assert.Contains(t, keys, realm.RSAKeyID())
}

func TestNew_Authorize(t *testing.T) {
	t.Parallel()

	realm := testkit.NewTestRealm(t)
	c := newClient(t, realm)
	ctx := context.Background()

	created, err := c.Resources.Create(ctx, &uma.Resource{Name: "r1", Scopes: []string{"read", "write"}})
	require.NoError(t, err)
	realm.Grant(realm.Username, created.ID, "read")

	_, err = c.Policies.Create(ctx, created.ID, &uma.Policy{Name: "readers", Scopes: []string{"read"}})
	require.NoError(t, err)

	aat, err := realm.AccessToken(realm.Username)
	require.NoError(t, err)
	requests := []uma.PermissionRequest{{ResourceID: created.ID, ResourceScopes: []string{"read"}}}

	d, err := c.Broker.Authorize(ctx, aat, requests, "r1", "read")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = c.Broker.Authorize(ctx, aat, requests, "r1", "write")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, uma.ReasonNoPermission, d.Reason)

	rpt, err := c.Broker.RPT(ctx, "", aat)
	require.NoError(t, err)
	assert.True(t, rpt.Permissions.Allows("r1", "read"), "RPTs are verified against the realm keys")
}

func TestNew_Session(t *testing.T) {
	t.Parallel()

	realm := testkit.NewTestRealm(t)
	mr := miniredis.RunT(t)
	cfg := realm.Config()
	cfg.UsePKCE = true
	cfg.StateStore = config.StateStore{Type: config.StateStoreRedis, Redis: config.RedisConfig{Addr: mr.Addr()}}

	c, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	s := c.NewSession()
	authURL, err := s.Login(ctx, nil)
	require.NoError(t, err)
	assert.True(t, mr.Exists(config.DefaultRedisKeyPrefix+s.ID()), "the pending login lives in Redis")

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, "S256", u.Query().Get("code_challenge_method"))

	back := followLogin(t, authURL)
	_, err = s.Callback(ctx, back.Get("state"), back.Get("code"))
	require.NoError(t, err)
	assert.Equal(t, authflow.StateAuthenticated, s.State())
	assert.False(t, mr.Exists(config.DefaultRedisKeyPrefix+s.ID()))

	token, err := s.AccessToken(ctx)
	require.NoError(t, err)
	info, err := c.Authenticator.UserInfo(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, realm.Username, info.Subject)

	require.NoError(t, s.Logout(ctx))
	assert.Equal(t, 1, realm.Hits(testkit.RouteLogout))
}

func TestNew_Failures(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), nil)
	assert.Error(t, err)

	realm := testkit.NewTestRealm(t)

	cfg := realm.Config()
	cfg.ClientID = ""
	_, err = New(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, kcerrors.IsConfiguration(err))

	broken := testkit.NewTestRealm(t)
	broken.Handle(testkit.RouteUMA2Configuration, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})
	_, err = New(context.Background(), broken.Config())
	require.Error(t, err)
	assert.True(t, kcerrors.IsConfiguration(err), "an incomplete endpoint set fails fast")

	cfg = realm.Config()
	cfg.StateStore = config.StateStore{Type: config.StateStoreRedis, Redis: config.RedisConfig{Addr: "127.0.0.1:1"}}
	_, err = New(context.Background(), cfg)
	assert.Error(t, err, "an unreachable Redis fails fast")
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	realm := testkit.NewTestRealm(t)
	ctrl := gomock.NewController(t)
	ctx := context.Background()

	verifier := mocks.NewMockVerifier(ctrl)
	tokens := mocks.NewMockTokenCache(ctrl)
	broker := mocks.NewMockAuthorizationBroker(ctrl)
	auth := mocks.NewMockAuthenticator(ctrl)

	c := newClient(t, realm,
		WithVerifier(verifier),
		WithTokenCache(tokens),
		WithBroker(broker),
		WithAuthenticator(auth),
		WithStateStore(authflow.NewMemoryStateStore(time.Minute)),
	)

	verifier.EXPECT().
		Verify(gomock.Any(), "raw", realm.Issuer(), "aud").
		Return(jwt.MapClaims{"sub": "alice"}, nil)
	claims, err := c.VerifyToken(ctx, "raw", "aud")
	require.NoError(t, err)
	assert.Equal(t, "alice", claims["sub"])

	tokens.EXPECT().Get(gomock.Any()).Return(&oauth.TokenSet{AccessToken: "pat"}, nil).Times(2)
	pat, err := c.PAT(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pat", pat)

	// The protection clients draw their PAT from the injected cache.
	realm.Handle(testkit.RouteResourceSet, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer pat", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	})
	ids, err := c.Resources.List(ctx, uma.ResourceQuery{})
	require.NoError(t, err)
	assert.Empty(t, ids)

	boom := errors.New("boom")
	tokens.EXPECT().Get(gomock.Any()).Return(nil, boom)
	_, err = c.PAT(ctx)
	assert.ErrorIs(t, err, boom)

	broker.EXPECT().
		Authorize(gomock.Any(), "aat", gomock.Nil(), "r1", "read").
		Return(uma.Decision{Allowed: true}, nil)
	d, err := c.Broker.Authorize(ctx, "aat", nil, "r1", "read")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	auth.EXPECT().Begin(gomock.Any(), []string{"openid"}).Return("https://login", &authflow.PendingLogin{State: "s"}, nil)
	authURL, login, err := c.Authenticator.Begin(ctx, []string{"openid"})
	require.NoError(t, err)
	assert.Equal(t, "https://login", authURL)
	assert.Equal(t, "s", login.State)

	tokens.EXPECT().Invalidate()
	c.Tokens.Invalidate()
}
