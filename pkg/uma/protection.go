// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package uma

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/stacklok/umakit/pkg/logger"
	"github.com/stacklok/umakit/pkg/metrics"
	"github.com/stacklok/umakit/pkg/networking"
	"github.com/stacklok/umakit/pkg/oidc"
)

// EndpointSource yields the realm endpoints.
type EndpointSource interface {
	Endpoints(ctx context.Context) (*oidc.EndpointSet, error)
}

// PATSource yields a protection API token. *tokencache.Cache implements it.
type PATSource interface {
	PAT(ctx context.Context) (string, error)
}

// Resource is a resource registered with the resource server.
type Resource struct {
	ID                 string              `json:"_id,omitempty"`
	Name               string              `json:"name"`
	DisplayName        string              `json:"displayName,omitempty"`
	Type               string              `json:"type,omitempty"`
	URIs               []string            `json:"uris,omitempty"`
	IconURI            string              `json:"icon_uri,omitempty"`
	OwnerManagedAccess bool                `json:"ownerManagedAccess,omitempty"`
	Attributes         map[string][]string `json:"attributes,omitempty"`
	Scopes             []string            `json:"resource_scopes,omitempty"`
	Owner              string              `json:"owner,omitempty"`
}

// UnmarshalJSON accepts scopes as names or {"name": ...} objects and the owner as an
// id or {"id": ...} object, the shapes providers answer with.
func (r *Resource) UnmarshalJSON(data []byte) error {
	type alias Resource
	aux := struct {
		*alias
		Scopes []json.RawMessage `json:"resource_scopes"`
		Owner  json.RawMessage   `json:"owner"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	r.Scopes = nil
	for _, raw := range aux.Scopes {
		name, err := nameOrObject(raw, "name")
		if err != nil {
			return fmt.Errorf("invalid resource scope: %w", err)
		}
		r.Scopes = append(r.Scopes, name)
	}
	r.Owner = ""
	if len(aux.Owner) > 0 && string(aux.Owner) != "null" {
		owner, err := nameOrObject(aux.Owner, "id")
		if err != nil {
			return fmt.Errorf("invalid resource owner: %w", err)
		}
		r.Owner = owner
	}
	return nil
}

func nameOrObject(raw json.RawMessage, field string) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("%s is neither a string nor an object", raw)
	}
	s, ok := obj[field].(string)
	if !ok {
		return "", fmt.Errorf("%s has no %q", raw, field)
	}
	return s, nil
}

// ResourceQuery filters List. Zero values are not sent.
type ResourceQuery struct {
	Name  string
	URI   string
	Owner string
	Type  string
	Scope string
	First int
	Max   int
}

func (q ResourceQuery) values() url.Values {
	v := url.Values{}
	set := func(key, value string) {
		if value != "" {
			v.Set(key, value)
		}
	}
	set("name", q.Name)
	set("uri", q.URI)
	set("owner", q.Owner)
	set("type", q.Type)
	set("scope", q.Scope)
	if q.First > 0 {
		v.Set("first", strconv.Itoa(q.First))
	}
	if q.Max > 0 {
		v.Set("max", strconv.Itoa(q.Max))
	}
	return v
}

// protection holds what every protection API client needs.
type protection struct {
	endpoints  EndpointSource
	pats       PATSource
	httpClient networking.HTTPClient
	recorder   metrics.Recorder
	operation  string
}

func (p *protection) prepare(ctx context.Context, endpoint func(*oidc.EndpointSet) string) (string, networking.FetchOption, error) {
	eps, err := p.endpoints.Endpoints(ctx)
	if err != nil {
		return "", nil, err
	}
	pat, err := p.pats.PAT(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("failed to obtain protection API token: %w", err)
	}
	return endpoint(eps), networking.WithBearerToken(pat), nil
}

func (p *protection) record(msg string, err error) error {
	err = providerError(msg, err)
	p.recorder.Record(p.operation, err)
	return err
}

func resourceSet(eps *oidc.EndpointSet) string { return eps.ResourceRegistration }
func policyEndpoint(eps *oidc.EndpointSet) string { return eps.Policy }

// ResourceClient manages resources through the protection API.
type ResourceClient struct {
	protection
}

// NewResourceClient creates a ResourceClient authenticated with tokens from pats.
func NewResourceClient(
	endpoints EndpointSource,
	pats PATSource,
	httpClient networking.HTTPClient,
	recorder metrics.Recorder,
) *ResourceClient {
	return &ResourceClient{protection{
		endpoints:  endpoints,
		pats:       pats,
		httpClient: httpClient,
		recorder:   metrics.OrNoop(recorder),
		operation:  metrics.OpResource,
	}}
}

// List returns the ids of the resources matching q.
func (c *ResourceClient) List(ctx context.Context, q ResourceQuery) ([]string, error) {
	base, auth, err := c.prepare(ctx, resourceSet)
	if err != nil {
		return nil, err
	}
	target := base
	if v := q.values(); len(v) > 0 {
		target += "?" + v.Encode()
	}

	logger.Debugw("listing resources", "resource_registration_endpoint", base)
	res, err := networking.FetchJSON[[]string](ctx, c.httpClient, target, auth)
	if err = c.record("failed to list resources", err); err != nil {
		return nil, err
	}
	return res.Data, nil
}

// All returns every resource matching q with its details.
func (c *ResourceClient) All(ctx context.Context, q ResourceQuery) ([]Resource, error) {
	ids, err := c.List(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]Resource, 0, len(ids))
	for _, id := range ids {
		r, err := c.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, nil
}

// Get returns one resource.
func (c *ResourceClient) Get(ctx context.Context, id string) (*Resource, error) {
	if id == "" {
		return nil, errors.New("resource id is required")
	}
	base, auth, err := c.prepare(ctx, resourceSet)
	if err != nil {
		return nil, err
	}

	res, err := networking.FetchJSON[Resource](ctx, c.httpClient, networking.JoinURL(base, url.PathEscape(id)), auth)
	if err = c.record("failed to get resource "+id, err); err != nil {
		return nil, err
	}
	return &res.Data, nil
}

// Create registers r and returns it as stored, with its id.
func (c *ResourceClient) Create(ctx context.Context, r *Resource) (*Resource, error) {
	if r == nil || r.Name == "" {
		return nil, errors.New("resource name is required")
	}
	base, auth, err := c.prepare(ctx, resourceSet)
	if err != nil {
		return nil, err
	}

	logger.Debugw("creating resource", "name", r.Name)
	res, err := networking.FetchJSONWithBody[Resource](ctx, c.httpClient, base, r, auth)
	if err = c.record("failed to create resource "+r.Name, err); err != nil {
		return nil, err
	}
	return &res.Data, nil
}

// Update replaces the resource with id r.ID.
func (c *ResourceClient) Update(ctx context.Context, r *Resource) error {
	if r == nil || r.ID == "" {
		return errors.New("resource id is required")
	}
	base, auth, err := c.prepare(ctx, resourceSet)
	if err != nil {
		return err
	}

	logger.Debugw("updating resource", "id", r.ID)
	_, err = networking.SendJSON(ctx, c.httpClient, networking.JoinURL(base, url.PathEscape(r.ID)), r, auth)
	return c.record("failed to update resource "+r.ID, err)
}

// Delete removes a resource and the policies attached to it.
func (c *ResourceClient) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("resource id is required")
	}
	base, auth, err := c.prepare(ctx, resourceSet)
	if err != nil {
		return err
	}

	logger.Debugw("deleting resource", "id", id)
	_, err = networking.Send(ctx, c.httpClient, networking.JoinURL(base, url.PathEscape(id)),
		networking.WithMethod(http.MethodDelete), auth)
	return c.record("failed to delete resource "+id, err)
}

// Policy is a user-managed permission on a resource.
type Policy struct {
	ID               string   `json:"id,omitempty"`
	Name             string   `json:"name"`
	Description      string   `json:"description,omitempty"`
	Type             string   `json:"type,omitempty"`
	Scopes           []string `json:"scopes,omitempty"`
	Roles            []string `json:"roles,omitempty"`
	Groups           []string `json:"groups,omitempty"`
	Clients          []string `json:"clients,omitempty"`
	Condition        string   `json:"condition,omitempty"`
	Logic            string   `json:"logic,omitempty"`
	DecisionStrategy string   `json:"decisionStrategy,omitempty"`
	Owner            string   `json:"owner,omitempty"`
}

// PolicyClient manages user-managed policies through the protection API.
type PolicyClient struct {
	protection
}

// NewPolicyClient creates a PolicyClient authenticated with tokens from pats.
func NewPolicyClient(
	endpoints EndpointSource,
	pats PATSource,
	httpClient networking.HTTPClient,
	recorder metrics.Recorder,
) *PolicyClient {
	return &PolicyClient{protection{
		endpoints:  endpoints,
		pats:       pats,
		httpClient: httpClient,
		recorder:   metrics.OrNoop(recorder),
		operation:  metrics.OpPolicy,
	}}
}

// List returns the policies attached to resourceID, or every policy the PAT can see
// when resourceID is empty.
func (c *PolicyClient) List(ctx context.Context, resourceID string) ([]Policy, error) {
	base, auth, err := c.prepare(ctx, policyEndpoint)
	if err != nil {
		return nil, err
	}
	target := base
	if resourceID != "" {
		target += "?" + url.Values{"resource": {resourceID}}.Encode()
	}

	res, err := networking.FetchJSON[[]Policy](ctx, c.httpClient, target, auth)
	if err = c.record("failed to list policies", err); err != nil {
		return nil, err
	}
	return res.Data, nil
}

// Create attaches p to resourceID and returns it as stored.
func (c *PolicyClient) Create(ctx context.Context, resourceID string, p *Policy) (*Policy, error) {
	if resourceID == "" {
		return nil, errors.New("resource id is required")
	}
	if p == nil || p.Name == "" {
		return nil, errors.New("policy name is required")
	}
	base, auth, err := c.prepare(ctx, policyEndpoint)
	if err != nil {
		return nil, err
	}

	logger.Debugw("creating policy", "resource", resourceID, "name", p.Name)
	res, err := networking.FetchJSONWithBody[Policy](ctx, c.httpClient,
		networking.JoinURL(base, url.PathEscape(resourceID)), p, auth)
	if err = c.record("failed to create policy "+p.Name, err); err != nil {
		return nil, err
	}
	return &res.Data, nil
}

// Update replaces the policy with id p.ID.
func (c *PolicyClient) Update(ctx context.Context, p *Policy) error {
	if p == nil || p.ID == "" {
		return errors.New("policy id is required")
	}
	base, auth, err := c.prepare(ctx, policyEndpoint)
	if err != nil {
		return err
	}

	_, err = networking.SendJSON(ctx, c.httpClient, networking.JoinURL(base, url.PathEscape(p.ID)), p, auth)
	return c.record("failed to update policy "+p.ID, err)
}

// Delete removes a policy.
func (c *PolicyClient) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("policy id is required")
	}
	base, auth, err := c.prepare(ctx, policyEndpoint)
	if err != nil {
		return err
	}

	_, err = networking.Send(ctx, c.httpClient, networking.JoinURL(base, url.PathEscape(id)),
		networking.WithMethod(http.MethodDelete), auth)
	return c.record("failed to delete policy "+id, err)
}
