// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package oidc resolves the provider endpoints a realm publishes through its
// OpenID Connect and UMA 2.0 discovery documents.
package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/sync/singleflight"

	"github.com/stacklok/umakit/pkg/config"
	kcerrors "github.com/stacklok/umakit/pkg/errors"
	"github.com/stacklok/umakit/pkg/logger"
	"github.com/stacklok/umakit/pkg/metrics"
	"github.com/stacklok/umakit/pkg/networking"
)

const (
	// OpenIDConfigurationPath is appended to the issuer for the OIDC discovery document.
	OpenIDConfigurationPath = "/.well-known/openid-configuration"

	// UMA2ConfigurationPath is appended to the issuer for the UMA discovery document.
	UMA2ConfigurationPath = "/.well-known/uma2-configuration"
)

// EndpointSet is every provider URL the client talks to.
type EndpointSet struct {
	Issuer               string `json:"issuer"`
	Authorization        string `json:"authorization_endpoint"`
	Token                string `json:"token_endpoint"`
	UserInfo             string `json:"userinfo_endpoint"`
	EndSession           string `json:"end_session_endpoint"`
	JWKS                 string `json:"jwks_uri"`
	ResourceRegistration string `json:"resource_registration_endpoint"`
	Permission           string `json:"permission_endpoint"`
	Policy               string `json:"policy_endpoint"`
	Introspection        string `json:"introspection_endpoint"`
}

// Validate returns a configuration error naming every missing or non-URL field.
func (e *EndpointSet) Validate() error {
	fields := []struct {
		name  string
		value string
	}{
		{"issuer", e.Issuer},
		{"authorization_endpoint", e.Authorization},
		{"token_endpoint", e.Token},
		{"userinfo_endpoint", e.UserInfo},
		{"end_session_endpoint", e.EndSession},
		{"jwks_uri", e.JWKS},
		{"resource_registration_endpoint", e.ResourceRegistration},
		{"permission_endpoint", e.Permission},
		{"policy_endpoint", e.Policy},
		{"introspection_endpoint", e.Introspection},
	}
	var missing []string
	for _, f := range fields {
		if !networking.IsURL(f.value) {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return kcerrors.NewConfigurationError("discovery is missing required endpoints",
			errors.New(strings.Join(missing, ", ")))
	}
	return nil
}

// FromStatic converts configured endpoints into an EndpointSet.
func FromStatic(e *config.Endpoints) *EndpointSet {
	return &EndpointSet{
		Issuer:               e.Issuer,
		Authorization:        e.AuthorizationEndpoint,
		Token:                e.TokenEndpoint,
		UserInfo:             e.UserinfoEndpoint,
		EndSession:           e.EndSessionEndpoint,
		JWKS:                 e.JWKSURI,
		ResourceRegistration: e.ResourceRegistrationEndpoint,
		Permission:           e.PermissionEndpoint,
		Policy:               e.PolicyEndpoint,
		Introspection:        e.IntrospectionEndpoint,
	}
}

// openIDDocument holds the discovery fields go-oidc does not expose directly.
type openIDDocument struct {
	EndSessionEndpoint    string `json:"end_session_endpoint"`
	IntrospectionEndpoint string `json:"introspection_endpoint"`
}

// umaDocument is the subset of uma2-configuration the client uses.
type umaDocument struct {
	Issuer                       string `json:"issuer"`
	ResourceRegistrationEndpoint string `json:"resource_registration_endpoint"`
	PermissionEndpoint           string `json:"permission_endpoint"`
	PolicyEndpoint               string `json:"policy_endpoint"`
	IntrospectionEndpoint        string `json:"introspection_endpoint"`
}

// Option configures a Discoverer.
type Option func(*Discoverer)

// WithRecorder records each discovery round trip.
func WithRecorder(r metrics.Recorder) Option {
	return func(d *Discoverer) {
		d.recorder = metrics.OrNoop(r)
	}
}

// WithRetries retries transient discovery failures with exponential backoff.
func WithRetries(n int) Option {
	return func(d *Discoverer) {
		d.retries = n
	}
}

// WithStaticEndpoints skips the network and serves e after validation.
func WithStaticEndpoints(e *EndpointSet) Option {
	return func(d *Discoverer) {
		d.static = e
	}
}

// Discoverer fetches and caches a realm's endpoints for the lifetime of the process.
type Discoverer struct {
	issuer   string
	client   *http.Client
	retries  int
	recorder metrics.Recorder
	static   *EndpointSet

	mu        sync.Mutex
	endpoints *EndpointSet
	provider  *oidc.Provider

	group singleflight.Group
}

// NewDiscoverer creates a Discoverer for issuer.
func NewDiscoverer(issuer string, client *http.Client, opts ...Option) *Discoverer {
	if client == nil {
		client = &http.Client{Timeout: networking.HttpTimeout}
	}
	d := &Discoverer{
		issuer:   strings.TrimRight(issuer, "/"),
		client:   client,
		recorder: metrics.Noop{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewDiscovererFromConfig creates a Discoverer honouring the static endpoints and retry settings of cfg.
func NewDiscovererFromConfig(cfg *config.Config, client *http.Client, opts ...Option) *Discoverer {
	base := []Option{WithRetries(cfg.DiscoveryRetries)}
	if cfg.Endpoints != nil {
		base = append(base, WithStaticEndpoints(FromStatic(cfg.Endpoints)))
	}
	return NewDiscoverer(cfg.IssuerURL(), client, append(base, opts...)...)
}

// Issuer returns the issuer URL the Discoverer was built for.
func (d *Discoverer) Issuer() string {
	return d.issuer
}

// Discover returns the realm's endpoints, fetching them on first use.
// Concurrent first calls share one fetch.
func (d *Discoverer) Discover(ctx context.Context) (*EndpointSet, error) {
	eps, _, err := d.load(ctx)
	if err != nil {
		return nil, err
	}
	out := *eps
	return &out, nil
}

// Provider returns the go-oidc provider, used for userinfo requests.
func (d *Discoverer) Provider(ctx context.Context) (*oidc.Provider, error) {
	_, p, err := d.load(ctx)
	return p, err
}

// HTTPClient returns the client discovery uses, which callers share for the realm.
func (d *Discoverer) HTTPClient() *http.Client {
	return d.client
}

type discovered struct {
	endpoints *EndpointSet
	provider  *oidc.Provider
}

func (d *Discoverer) load(ctx context.Context) (*EndpointSet, *oidc.Provider, error) {
	d.mu.Lock()
	if d.endpoints != nil {
		eps, p := d.endpoints, d.provider
		d.mu.Unlock()
		return eps, p, nil
	}
	d.mu.Unlock()

	ch := d.group.DoChan(d.issuer, func() (any, error) {
		d.mu.Lock()
		if d.endpoints != nil {
			res := &discovered{endpoints: d.endpoints, provider: d.provider}
			d.mu.Unlock()
			return res, nil
		}
		d.mu.Unlock()

		// The shared fetch outlives any single caller's cancellation.
		fetchCtx := context.WithoutCancel(ctx)
		res, err := networking.Retry(fetchCtx, "discovery", d.retries, func() (*discovered, error) {
			res, err := d.fetch(fetchCtx)
			d.recorder.Record(metrics.OpDiscovery, err)
			return res, err
		})
		if err != nil {
			return nil, err
		}

		d.mu.Lock()
		d.endpoints, d.provider = res.endpoints, res.provider
		d.mu.Unlock()
		return res, nil
	})

	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, nil, r.Err
		}
		res := r.Val.(*discovered)
		return res.endpoints, res.provider, nil
	}
}

func (d *Discoverer) fetch(ctx context.Context) (*discovered, error) {
	ctx = oidc.ClientContext(ctx, d.client)

	if d.static != nil {
		if err := d.static.Validate(); err != nil {
			return nil, err
		}
		provider := (&oidc.ProviderConfig{
			IssuerURL:   d.static.Issuer,
			AuthURL:     d.static.Authorization,
			TokenURL:    d.static.Token,
			UserInfoURL: d.static.UserInfo,
			JWKSURL:     d.static.JWKS,
		}).NewProvider(ctx)
		eps := *d.static
		return &discovered{endpoints: &eps, provider: provider}, nil
	}

	logger.Debugw("discovering provider endpoints", "issuer", d.issuer)

	// go-oidc fetches the openid-configuration and rejects an issuer mismatch.
	provider, err := oidc.NewProvider(ctx, d.issuer)
	if err != nil {
		return nil, classify("failed to fetch OpenID configuration", err)
	}

	var extra openIDDocument
	if err := provider.Claims(&extra); err != nil {
		return nil, kcerrors.NewConfigurationError("failed to decode OpenID configuration", err)
	}

	uma, err := networking.FetchJSON[umaDocument](ctx, d.client, d.issuer+UMA2ConfigurationPath)
	if err != nil {
		return nil, classify("failed to fetch UMA configuration", err)
	}
	if uma.Data.Issuer != "" && strings.TrimRight(uma.Data.Issuer, "/") != d.issuer {
		return nil, kcerrors.NewConfigurationError("UMA configuration issuer mismatch",
			fmt.Errorf("expected %q, got %q", d.issuer, uma.Data.Issuer))
	}

	endpoint := provider.Endpoint()
	eps := &EndpointSet{
		Issuer:               d.issuer,
		Authorization:        endpoint.AuthURL,
		Token:                endpoint.TokenURL,
		UserInfo:             provider.UserInfoEndpoint(),
		EndSession:           extra.EndSessionEndpoint,
		JWKS:                 jwksURI(provider),
		ResourceRegistration: uma.Data.ResourceRegistrationEndpoint,
		Permission:           uma.Data.PermissionEndpoint,
		Policy:               uma.Data.PolicyEndpoint,
		Introspection:        firstNonEmpty(extra.IntrospectionEndpoint, uma.Data.IntrospectionEndpoint),
	}
	if err := eps.Validate(); err != nil {
		return nil, err
	}

	logger.Debugw("provider endpoints discovered", "issuer", d.issuer, "token_endpoint", eps.Token)
	return &discovered{endpoints: eps, provider: provider}, nil
}

// classify keeps transient failures retryable while reporting them as configuration errors.
func classify(msg string, err error) error {
	if networking.IsClientError(err) {
		return kcerrors.NewConfigurationError(msg, err)
	}
	return kcerrors.NewConfigurationError(msg, kcerrors.NewNetworkError("provider unreachable", err))
}

func jwksURI(p *oidc.Provider) string {
	var doc struct {
		JWKSURI string `json:"jwks_uri"`
	}
	_ = p.Claims(&doc)
	return doc.JWKSURI
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
