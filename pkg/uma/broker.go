// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package uma talks to the UMA 2.0 authorization services of a realm: permission
// tickets, requesting party tokens (RPTs), RPT introspection and the protection API
// for resources and user-managed policies.
package uma

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	kcerrors "github.com/stacklok/umakit/pkg/errors"
	"github.com/stacklok/umakit/pkg/logger"
	"github.com/stacklok/umakit/pkg/metrics"
	"github.com/stacklok/umakit/pkg/networking"
	"github.com/stacklok/umakit/pkg/oauth"
	"github.com/stacklok/umakit/pkg/oidc"
)

const (
	// GrantTypeUMATicket is the token endpoint grant that issues RPTs.
	GrantTypeUMATicket = "urn:ietf:params:oauth:grant-type:uma-ticket"

	// TokenTypeHintRPT tells the introspection endpoint the token is an RPT.
	TokenTypeHintRPT = "requesting_party_token"
)

// Credentials identifies the confidential client and where its realm lives.
// *oauth.Client implements it.
type Credentials interface {
	ClientID() string
	ClientSecret() string
	Endpoints(ctx context.Context) (*oidc.EndpointSet, error)
}

// TokenVerifier checks a signed token. *token.Verifier implements it.
type TokenVerifier interface {
	Verify(ctx context.Context, raw, issuer, audience string) (jwt.MapClaims, error)
}

// PermissionTicket is the permission endpoint's answer to a set of requests.
type PermissionTicket struct {
	Ticket string `json:"ticket"`
}

// RPT is a requesting party token. Permissions and Claims are only set when the
// broker has a verifier.
type RPT struct {
	oauth.TokenSet

	Upgraded    bool
	Permissions Permissions
	Claims      map[string]any
}

// IntrospectionResult is the introspection endpoint's view of an RPT.
type IntrospectionResult struct {
	Active      bool        `json:"active"`
	Subject     string      `json:"sub,omitempty"`
	ClientID    string      `json:"client_id,omitempty"`
	Type        string      `json:"typ,omitempty"`
	Expiry      int64       `json:"exp,omitempty"`
	Permissions Permissions `json:"permissions,omitempty"`
}

// Allows reports whether the token is active and grants scope on resourceName.
func (r *IntrospectionResult) Allows(resourceName, scope string) bool {
	return r != nil && r.Active && r.Permissions.Allows(resourceName, scope)
}

type rptResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
	Upgraded         bool   `json:"upgraded"`
}

// Option configures a Broker.
type Option func(*Broker)

// WithVerifier verifies issued RPTs and decodes their permissions.
func WithVerifier(v TokenVerifier) Option {
	return func(b *Broker) {
		b.verifier = v
	}
}

// WithRecorder records every provider call.
func WithRecorder(r metrics.Recorder) Option {
	return func(b *Broker) {
		b.recorder = metrics.OrNoop(r)
	}
}

// WithClock overrides time.Now for RPT IssuedAt.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) {
		b.now = now
	}
}

// Broker requests tickets and RPTs on behalf of callers and introspects RPTs.
type Broker struct {
	creds      Credentials
	httpClient networking.HTTPClient
	verifier   TokenVerifier
	recorder   metrics.Recorder
	now        func() time.Time
}

// NewBroker creates a Broker for the client described by creds.
func NewBroker(creds Credentials, httpClient networking.HTTPClient, opts ...Option) *Broker {
	b := &Broker{
		creds:      creds,
		httpClient: httpClient,
		recorder:   metrics.Noop{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Ticket asks the permission endpoint for a ticket covering requests, under the
// caller's access token. A 4xx answer is an InvalidTicketError.
func (b *Broker) Ticket(ctx context.Context, requests []PermissionRequest, accessToken string) (*PermissionTicket, error) {
	if len(requests) == 0 {
		return nil, errors.New("at least one permission request is required")
	}
	for _, r := range requests {
		if r.ResourceID == "" {
			return nil, errors.New("permission request is missing resource_id")
		}
	}
	eps, err := b.creds.Endpoints(ctx)
	if err != nil {
		return nil, err
	}

	logger.Debugw("requesting permission ticket", "permission_endpoint", eps.Permission, "resources", len(requests))
	res, err := networking.FetchJSONWithBody[PermissionTicket](ctx, b.httpClient, eps.Permission, requests,
		networking.WithBearerToken(accessToken))
	if err == nil && res.Data.Ticket == "" {
		err = kcerrors.NewInvalidTicketError("permission endpoint returned no ticket", nil)
	}
	err = rejected("permission ticket request rejected", err)
	b.recorder.Record(metrics.OpTicket, err)
	if err != nil {
		return nil, err
	}
	return &res.Data, nil
}

// RPT exchanges a ticket for an RPT under the caller's access token. Without a ticket
// the RPT is requested for the client's own audience, carrying every permission the
// caller holds on the client's resources. A 4xx answer is an InvalidTicketError.
func (b *Broker) RPT(ctx context.Context, ticket, accessToken string) (*RPT, error) {
	eps, err := b.creds.Endpoints(ctx)
	if err != nil {
		return nil, err
	}

	form := url.Values{"grant_type": {GrantTypeUMATicket}}
	if ticket != "" {
		form.Set("ticket", ticket)
	} else {
		form.Set("audience", b.creds.ClientID())
	}

	logger.Debugw("requesting RPT", "token_endpoint", eps.Token, "ticket", logger.Secret(ticket))
	issuedAt := b.now()
	res, err := networking.FetchJSONWithForm[rptResponse](ctx, b.httpClient, eps.Token, form,
		networking.WithBearerToken(accessToken))
	if err == nil && res.Data.AccessToken == "" {
		err = kcerrors.NewInvalidTicketError("token endpoint returned no RPT", nil)
	}
	err = rejected("RPT request rejected", err)
	b.recorder.Record(metrics.OpRPT, err)
	if err != nil {
		return nil, err
	}

	rpt := &RPT{
		TokenSet: oauth.TokenSet{
			AccessToken:      res.Data.AccessToken,
			RefreshToken:     res.Data.RefreshToken,
			TokenType:        res.Data.TokenType,
			ExpiresIn:        seconds(res.Data.ExpiresIn),
			RefreshExpiresIn: seconds(res.Data.RefreshExpiresIn),
			IssuedAt:         issuedAt,
		},
		Upgraded: res.Data.Upgraded,
	}
	if b.verifier == nil {
		return rpt, nil
	}

	claims, err := b.verifier.Verify(ctx, rpt.AccessToken, eps.Issuer, b.creds.ClientID())
	if err != nil {
		return nil, fmt.Errorf("RPT failed verification: %w", err)
	}
	perms, err := permissionsFromClaims(claims)
	if err != nil {
		return nil, kcerrors.NewTokenValidationError("RPT carries malformed permissions", err)
	}
	rpt.Claims = claims
	rpt.Permissions = perms
	return rpt, nil
}

// Introspect asks the provider whether rpt is active and what it grants. The client
// authenticates with HTTP Basic credentials.
func (b *Broker) Introspect(ctx context.Context, rpt string) (*IntrospectionResult, error) {
	if rpt == "" {
		return nil, errors.New("token to introspect is required")
	}
	eps, err := b.creds.Endpoints(ctx)
	if err != nil {
		return nil, err
	}

	form := url.Values{
		"token":           {rpt},
		"token_type_hint": {TokenTypeHintRPT},
	}
	logger.Debugw("introspecting RPT", "introspection_endpoint", eps.Introspection)
	res, err := networking.FetchJSONWithForm[IntrospectionResult](ctx, b.httpClient, eps.Introspection, form,
		networking.WithBasicAuth(b.creds.ClientID(), b.creds.ClientSecret()))
	err = providerError("introspection failed", err)
	b.recorder.Record(metrics.OpIntrospection, err)
	if err != nil {
		return nil, err
	}
	return &res.Data, nil
}

// rejected turns 4xx answers into InvalidTicketErrors that keep the HTTPError.
func rejected(msg string, err error) error {
	if err == nil || kcerrors.IsInvalidTicket(err) {
		return err
	}
	if networking.IsClientError(err) {
		return kcerrors.NewInvalidTicketError(msg, err)
	}
	return providerError(msg, err)
}

func providerError(msg string, err error) error {
	switch {
	case err == nil:
		return nil
	case networking.IsHTTPError(err, 0):
		return fmt.Errorf("%s: %w", msg, err)
	default:
		return kcerrors.NewNetworkError(msg, err)
	}
}

func seconds(n int64) time.Duration {
	if n < 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
