// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/toolhive-core/env/mocks"

	kcerrors "github.com/stacklok/umakit/pkg/errors"
)

const validJSON = `{
  "client_id": "my-app",
  "client_secret": "s3cret",
  "realm": "demo",
  "hostname": "https://kc.example.com/",
  "redirect_uri": "http://localhost:8000/callback"
}`

func TestParse_JSONWithDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(validJSON))
	require.NoError(t, err)

	assert.Equal(t, "my-app", cfg.ClientID)
	assert.Equal(t, "https://kc.example.com", cfg.Hostname)
	assert.Equal(t, []string{"openid"}, cfg.Scopes)
	assert.Equal(t, DefaultJWKSCacheTTL, cfg.JWKSCacheTTL)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, StateStoreMemory, cfg.StateStore.Type)
	assert.Equal(t, DefaultStateTTL, cfg.StateStore.TTL)
	assert.Equal(t, "https://kc.example.com/realms/demo", cfg.IssuerURL())
	assert.False(t, cfg.UsesPasswordGrant())
}

func TestParse_YAML(t *testing.T) {
	t.Parallel()

	doc := `
client_id: my-app
client_secret: s3cret
realm: demo
hostname: https://kc.example.com
base_path: auth
username: alice
password: wonderland
jwks_cache_ttl: 2m
clock_skew: 5s
scopes: [openid, profile]
state_store:
  type: redis
  redis:
    addr: localhost:6379
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "/auth", cfg.BasePath)
	assert.Equal(t, "https://kc.example.com/auth/realms/demo", cfg.IssuerURL())
	assert.Equal(t, 2*time.Minute, cfg.JWKSCacheTTL)
	assert.Equal(t, 5*time.Second, cfg.ClockSkew)
	assert.Equal(t, []string{"openid", "profile"}, cfg.Scopes)
	assert.True(t, cfg.UsesPasswordGrant())
	assert.Equal(t, DefaultRedisKeyPrefix, cfg.StateStore.Redis.KeyPrefix)
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`{"client_id":"a","client_secret":"b","realm":"r","hostname":"https://h","clientId":"typo"}`))
	require.Error(t, err)
	assert.True(t, kcerrors.IsConfiguration(err))
	assert.Contains(t, err.Error(), "clientId")
}

func TestParse_Empty(t *testing.T) {
	t.Parallel()

	_, err := Parse(nil)
	require.Error(t, err)
	assert.True(t, kcerrors.IsConfiguration(err))
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Hostname:         "kc.example.com",
		Username:         "alice",
		DiscoveryRetries: 99,
		StateStore:       StateStore{Type: "etcd"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, kcerrors.IsConfiguration(err))

	msg := err.Error()
	for _, want := range []string{
		"client_id is required",
		"client_secret is required",
		"realm is required",
		"hostname must be an absolute http(s) URL",
		"password is required when username is set",
		"discovery_retries must be between 0 and 10",
		`state_store.type "etcd"`,
	} {
		assert.Contains(t, msg, want)
	}
}

func TestValidate_Redis(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(validJSON))
	require.NoError(t, err)

	cfg.StateStore.Type = StateStoreRedis
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state_store.redis.addr is required")
}

func TestValidate_StaticEndpoints(t *testing.T) {
	t.Parallel()

	base := "https://kc.example.com/realms/demo"
	doc := `
client_id: my-app
client_secret: s3cret
endpoints:
  issuer: ` + base + `
  authorization_endpoint: ` + base + `/protocol/openid-connect/auth
  token_endpoint: ` + base + `/protocol/openid-connect/token
  userinfo_endpoint: ` + base + `/protocol/openid-connect/userinfo
  end_session_endpoint: ` + base + `/protocol/openid-connect/logout
  jwks_uri: ` + base + `/protocol/openid-connect/certs
  resource_registration_endpoint: ` + base + `/authz/protection/resource_set
  permission_endpoint: ` + base + `/authz/protection/permission
  policy_endpoint: ` + base + `/authz/protection/uma-policy
  introspection_endpoint: ` + base + `/protocol/openid-connect/token/introspect
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, base, cfg.IssuerURL())

	cfg.Endpoints.PolicyEndpoint = ""
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoints.policy_endpoint")
}

func TestString_RedactsSecrets(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(validJSON))
	require.NoError(t, err)
	cfg.Password = "hunter2"

	s := cfg.String()
	assert.NotContains(t, s, "s3cret")
	assert.NotContains(t, s, "hunter2")
	assert.Contains(t, s, "[REDACTED]")
}

func TestLoadWithEnv(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "keycloak.json")
	require.NoError(t, os.WriteFile(path, []byte(validJSON), 0o600))

	ctrl := gomock.NewController(t)
	mockEnv := mocks.NewMockReader(ctrl)
	mockEnv.EXPECT().Getenv(gomock.Any()).DoAndReturn(func(name string) string {
		switch name {
		case SettingsEnvVar:
			return path
		case "KEYCLOAK_CLIENT_SECRET":
			return "from-env"
		case "KEYCLOAK_REALM":
			return "other"
		}
		return ""
	}).AnyTimes()

	cfg, err := LoadWithEnv("", mockEnv)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.ClientSecret)
	assert.Equal(t, "other", cfg.Realm)
	assert.Equal(t, "my-app", cfg.ClientID)
}

func TestLoadWithEnv_MissingFile(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	mockEnv := mocks.NewMockReader(ctrl)
	mockEnv.EXPECT().Getenv(gomock.Any()).Return("").AnyTimes()

	_, err := LoadWithEnv(filepath.Join(t.TempDir(), "nope.json"), mockEnv)
	require.Error(t, err)
	assert.True(t, kcerrors.IsConfiguration(err))
	assert.True(t, strings.Contains(err.Error(), "unable to read settings file"))
}

func TestHTTPClient(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(validJSON))
	require.NoError(t, err)

	client, err := cfg.HTTPClient()
	require.NoError(t, err)
	assert.Equal(t, cfg.HTTPTimeout, client.Timeout)

	cfg.CACertPath = filepath.Join(t.TempDir(), "missing.pem")
	_, err = cfg.HTTPClient()
	require.Error(t, err)
	assert.True(t, kcerrors.IsConfiguration(err))
}
