// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config loads and validates the client settings shared by every umakit component.
//
// Settings live in a single YAML or JSON document (keycloak.json by default). Unknown keys
// are rejected so that typos surface at load time rather than as silent defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/toolhive-core/env"

	kcerrors "github.com/stacklok/umakit/pkg/errors"
	"github.com/stacklok/umakit/pkg/networking"
)

const (
	// SettingsEnvVar names the environment variable holding the settings file path.
	SettingsEnvVar = "KEYCLOAK_SETTINGS"

	// DefaultSettingsFile is used when neither a flag nor SettingsEnvVar names a file.
	DefaultSettingsFile = "keycloak.json"

	// DefaultJWKSCacheTTL bounds how long fetched signing keys are trusted before a re-fetch.
	DefaultJWKSCacheTTL = 10 * time.Minute

	// DefaultStateTTL bounds how long a pending login waits for its callback.
	DefaultStateTTL = 10 * time.Minute

	// DefaultRedisKeyPrefix namespaces pending-login records in Redis.
	DefaultRedisKeyPrefix = "umakit:state:"

	// maxDiscoveryRetries caps DiscoveryRetries.
	maxDiscoveryRetries = 10
)

// State store backends
const (
	StateStoreMemory = "memory"
	StateStoreRedis  = "redis"
)

// Config is the complete client configuration.
type Config struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Realm        string `yaml:"realm"`

	// Hostname is the provider base URL, e.g. https://keycloak.example.com.
	Hostname string `yaml:"hostname"`

	// BasePath is inserted between Hostname and /realms. Keycloak releases before 17 use /auth.
	BasePath string `yaml:"base_path,omitempty"`

	RedirectURI string   `yaml:"redirect_uri,omitempty"`
	Scopes      []string `yaml:"scopes,omitempty"`
	UsePKCE     bool     `yaml:"use_pkce,omitempty"`

	// Username and Password select the resource-owner password grant for the PAT.
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`

	JWKSCacheTTL time.Duration `yaml:"jwks_cache_ttl,omitempty"`
	ClockSkew    time.Duration `yaml:"clock_skew,omitempty"`
	HTTPTimeout  time.Duration `yaml:"http_timeout,omitempty"`

	CACertPath        string `yaml:"ca_cert_path,omitempty"`
	AllowPrivateIP    bool   `yaml:"allow_private_ip,omitempty"`
	InsecureAllowHTTP bool   `yaml:"insecure_allow_http,omitempty"`

	DiscoveryRetries int `yaml:"discovery_retries,omitempty"`

	StateStore StateStore `yaml:"state_store,omitempty"`

	// Endpoints, when set, replaces discovery.
	Endpoints *Endpoints `yaml:"endpoints,omitempty"`
}

// StateStore selects where pending logins are kept between Begin and the callback.
type StateStore struct {
	Type  string        `yaml:"type,omitempty"`
	TTL   time.Duration `yaml:"ttl,omitempty"`
	Redis RedisConfig   `yaml:"redis,omitempty"`
}

// RedisConfig configures the Redis state store.
type RedisConfig struct {
	Addr      string `yaml:"addr,omitempty"`
	Username  string `yaml:"username,omitempty"`
	Password  string `yaml:"password,omitempty"`
	DB        int    `yaml:"db,omitempty"`
	KeyPrefix string `yaml:"key_prefix,omitempty"`
}

// Endpoints is a static endpoint set, named after the discovery document fields.
type Endpoints struct {
	Issuer                       string `yaml:"issuer"`
	AuthorizationEndpoint        string `yaml:"authorization_endpoint"`
	TokenEndpoint                string `yaml:"token_endpoint"`
	UserinfoEndpoint             string `yaml:"userinfo_endpoint"`
	EndSessionEndpoint           string `yaml:"end_session_endpoint"`
	JWKSURI                      string `yaml:"jwks_uri"`
	ResourceRegistrationEndpoint string `yaml:"resource_registration_endpoint"`
	PermissionEndpoint           string `yaml:"permission_endpoint"`
	PolicyEndpoint               string `yaml:"policy_endpoint"`
	IntrospectionEndpoint        string `yaml:"introspection_endpoint"`
}

// String returns a representation safe for logs.
func (c *Config) String() string {
	if c == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Config{ClientID: %s, ClientSecret: [REDACTED], Realm: %s, Hostname: %s, BasePath: %q, "+
		"RedirectURI: %s, Username: %q, StateStore: %s}",
		c.ClientID, c.Realm, c.Hostname, c.BasePath, c.RedirectURI, c.Username, c.StateStore.Type)
}

// IssuerURL returns {hostname}{basePath}/realms/{realm}, or the static issuer when endpoints are configured.
func (c *Config) IssuerURL() string {
	if c.Endpoints != nil && c.Endpoints.Issuer != "" {
		return c.Endpoints.Issuer
	}
	return networking.JoinURL(c.Hostname, c.BasePath, "realms", c.Realm)
}

// UsesPasswordGrant reports whether the PAT is obtained with the resource-owner password grant.
func (c *Config) UsesPasswordGrant() bool {
	return c.Username != ""
}

// HTTPClient builds the HTTP client all provider calls go through.
func (c *Config) HTTPClient() (*http.Client, error) {
	client, err := networking.NewHttpClientBuilder().
		WithTimeout(c.HTTPTimeout).
		WithCABundle(c.CACertPath).
		WithPrivateIPs(c.AllowPrivateIP).
		WithInsecureAllowHTTP(c.InsecureAllowHTTP).
		Build()
	if err != nil {
		return nil, kcerrors.NewConfigurationError("failed to build HTTP client", err)
	}
	return client, nil
}

// ApplyDefaults fills optional fields left empty.
func (c *Config) ApplyDefaults() {
	if len(c.Scopes) == 0 {
		c.Scopes = []string{"openid"}
	}
	if c.JWKSCacheTTL == 0 {
		c.JWKSCacheTTL = DefaultJWKSCacheTTL
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = networking.HttpTimeout
	}
	if c.StateStore.Type == "" {
		c.StateStore.Type = StateStoreMemory
	}
	if c.StateStore.TTL == 0 {
		c.StateStore.TTL = DefaultStateTTL
	}
	if c.StateStore.Type == StateStoreRedis && c.StateStore.Redis.KeyPrefix == "" {
		c.StateStore.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if c.BasePath != "" && !strings.HasPrefix(c.BasePath, "/") {
		c.BasePath = "/" + c.BasePath
	}
	c.BasePath = strings.TrimRight(c.BasePath, "/")
	c.Hostname = strings.TrimRight(c.Hostname, "/")
}

// Validate reports every problem found as a single configuration error.
func (c *Config) Validate() error {
	var problems []string
	missing := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			problems = append(problems, field+" is required")
		}
	}

	missing("client_id", c.ClientID)
	missing("client_secret", c.ClientSecret)

	if c.Endpoints == nil {
		missing("realm", c.Realm)
		missing("hostname", c.Hostname)
		if c.Hostname != "" && !networking.IsURL(c.Hostname) {
			problems = append(problems, "hostname must be an absolute http(s) URL")
		}
	} else {
		problems = append(problems, c.Endpoints.problems()...)
	}

	if c.RedirectURI != "" && !networking.IsURL(c.RedirectURI) {
		problems = append(problems, "redirect_uri must be an absolute http(s) URL")
	}
	if c.Username != "" && c.Password == "" {
		problems = append(problems, "password is required when username is set")
	}
	if c.JWKSCacheTTL < 0 || c.ClockSkew < 0 || c.HTTPTimeout < 0 || c.StateStore.TTL < 0 {
		problems = append(problems, "durations must not be negative")
	}
	if c.DiscoveryRetries < 0 || c.DiscoveryRetries > maxDiscoveryRetries {
		problems = append(problems, fmt.Sprintf("discovery_retries must be between 0 and %d", maxDiscoveryRetries))
	}

	switch c.StateStore.Type {
	case "", StateStoreMemory:
	case StateStoreRedis:
		missing("state_store.redis.addr", c.StateStore.Redis.Addr)
	default:
		problems = append(problems, fmt.Sprintf("state_store.type %q is not one of memory, redis", c.StateStore.Type))
	}

	if len(problems) > 0 {
		return kcerrors.NewConfigurationError("invalid configuration", errors.New(strings.Join(problems, "; ")))
	}
	return nil
}

func (e *Endpoints) problems() []string {
	fields := []struct {
		name  string
		value string
	}{
		{"endpoints.issuer", e.Issuer},
		{"endpoints.authorization_endpoint", e.AuthorizationEndpoint},
		{"endpoints.token_endpoint", e.TokenEndpoint},
		{"endpoints.userinfo_endpoint", e.UserinfoEndpoint},
		{"endpoints.end_session_endpoint", e.EndSessionEndpoint},
		{"endpoints.jwks_uri", e.JWKSURI},
		{"endpoints.resource_registration_endpoint", e.ResourceRegistrationEndpoint},
		{"endpoints.permission_endpoint", e.PermissionEndpoint},
		{"endpoints.policy_endpoint", e.PolicyEndpoint},
		{"endpoints.introspection_endpoint", e.IntrospectionEndpoint},
	}
	var out []string
	for _, f := range fields {
		if !networking.IsURL(f.value) {
			out = append(out, f.name+" must be an absolute http(s) URL")
		}
	}
	return out
}

// Parse decodes, defaults and validates a settings document. YAML and JSON are both accepted.
func Parse(data []byte) (*Config, error) {
	cfg, err := decode(data)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, kcerrors.NewConfigurationError("settings document is empty", nil)
		}
		return nil, kcerrors.NewConfigurationError("failed to decode settings", err)
	}
	return &cfg, nil
}

// Load reads the settings file at path, falling back to DefaultPath when path is empty.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, &env.OSReader{})
}

// LoadWithEnv is Load with an injectable environment, which also supplies the KEYCLOAK_* overlay.
func LoadWithEnv(path string, envReader env.Reader) (*Config, error) {
	if path == "" {
		path = DefaultPath(envReader)
	}

	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 - path is chosen by the operator
	if err != nil {
		return nil, kcerrors.NewConfigurationError(fmt.Sprintf("unable to read settings file %s", path), err)
	}

	cfg, err := decode(data)
	if err != nil {
		return nil, err
	}
	applyEnv(cfg, envReader)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultPath resolves the settings file: $KEYCLOAK_SETTINGS, then ./keycloak.json,
// then umakit/keycloak.json under the XDG config directories.
func DefaultPath(envReader env.Reader) string {
	if p := envReader.Getenv(SettingsEnvVar); p != "" {
		return p
	}
	if _, err := os.Stat(DefaultSettingsFile); err == nil {
		return DefaultSettingsFile
	}
	if p, err := xdg.SearchConfigFile(filepath.Join("umakit", DefaultSettingsFile)); err == nil {
		return p
	}
	return DefaultSettingsFile
}

// envOverlay maps KEYCLOAK_* variables onto string fields.
var envOverlay = []struct {
	name  string
	field func(*Config) *string
}{
	{"KEYCLOAK_CLIENT_ID", func(c *Config) *string { return &c.ClientID }},
	{"KEYCLOAK_CLIENT_SECRET", func(c *Config) *string { return &c.ClientSecret }},
	{"KEYCLOAK_REALM", func(c *Config) *string { return &c.Realm }},
	{"KEYCLOAK_HOSTNAME", func(c *Config) *string { return &c.Hostname }},
	{"KEYCLOAK_BASE_PATH", func(c *Config) *string { return &c.BasePath }},
	{"KEYCLOAK_REDIRECT_URI", func(c *Config) *string { return &c.RedirectURI }},
	{"KEYCLOAK_USERNAME", func(c *Config) *string { return &c.Username }},
	{"KEYCLOAK_PASSWORD", func(c *Config) *string { return &c.Password }},
	{"KEYCLOAK_REDIS_ADDR", func(c *Config) *string { return &c.StateStore.Redis.Addr }},
	{"KEYCLOAK_REDIS_PASSWORD", func(c *Config) *string { return &c.StateStore.Redis.Password }},
}

func applyEnv(cfg *Config, envReader env.Reader) {
	for _, o := range envOverlay {
		if v := envReader.Getenv(o.name); v != "" {
			*o.field(cfg) = v
		}
	}
}
