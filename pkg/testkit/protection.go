// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package testkit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Resource is a resource registered through the protection API. Scopes are served as
// {"name": ...} objects and accepted either as objects or plain strings.
type Resource struct {
	ID                 string              `json:"_id,omitempty"`
	Name               string              `json:"name"`
	DisplayName        string              `json:"displayName,omitempty"`
	Type               string              `json:"type,omitempty"`
	URIs               []string            `json:"uris,omitempty"`
	IconURI            string              `json:"icon_uri,omitempty"`
	OwnerManagedAccess bool                `json:"ownerManagedAccess"`
	Attributes         map[string][]string `json:"attributes,omitempty"`
	Scopes             []string            `json:"-"`
	Owner              string              `json:"-"`
}

type scopeObject struct {
	Name string `json:"name"`
}

type ownerObject struct {
	ID string `json:"id"`
}

// MarshalJSON implements json.Marshaler.
func (r Resource) MarshalJSON() ([]byte, error) {
	type alias Resource
	scopes := make([]scopeObject, 0, len(r.Scopes))
	for _, s := range r.Scopes {
		scopes = append(scopes, scopeObject{Name: s})
	}
	return json.Marshal(struct {
		alias
		ResourceScopes []scopeObject `json:"resource_scopes"`
		Owner          ownerObject   `json:"owner"`
	}{
		alias:          alias(r),
		ResourceScopes: scopes,
		Owner:          ownerObject{ID: r.Owner},
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Resource) UnmarshalJSON(data []byte) error {
	type alias Resource
	aux := struct {
		*alias
		ResourceScopes []json.RawMessage `json:"resource_scopes"`
		Owner          json.RawMessage   `json:"owner"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	r.Scopes = nil
	for _, raw := range aux.ResourceScopes {
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			var obj scopeObject
			if err := json.Unmarshal(raw, &obj); err != nil {
				return fmt.Errorf("invalid resource scope %s", raw)
			}
			name = obj.Name
		}
		r.Scopes = append(r.Scopes, name)
	}

	if len(aux.Owner) > 0 {
		var owner string
		if err := json.Unmarshal(aux.Owner, &owner); err != nil {
			var obj ownerObject
			if err := json.Unmarshal(aux.Owner, &obj); err != nil {
				return fmt.Errorf("invalid resource owner %s", aux.Owner)
			}
			owner = obj.ID
		}
		r.Owner = owner
	}
	return nil
}

// Policy is a user-managed permission attached to a resource.
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

	resourceID string
}

func (r *Realm) requireBearer(w http.ResponseWriter, req *http.Request) (string, bool) {
	subject := r.bearerSubject(req)
	if subject == "" {
		w.Header().Set("WWW-Authenticate", `Bearer realm="`+r.Name+`"`)
		oauthError(w, http.StatusUnauthorized, "invalid_token", "Bearer token required")
		return "", false
	}
	return subject, true
}

func (r *Realm) permissionHandler(w http.ResponseWriter, req *http.Request) {
	if _, ok := r.requireBearer(w, req); !ok {
		return
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		oauthError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	var requested []PermissionRequest
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '{' {
		var single PermissionRequest
		err = json.Unmarshal(trimmed, &single)
		requested = []PermissionRequest{single}
	} else {
		err = json.Unmarshal(body, &requested)
	}
	if err != nil || len(requested) == 0 {
		oauthError(w, http.StatusBadRequest, "invalid_request", "Invalid permission request")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range requested {
		res, ok := r.resources[p.ResourceID]
		if !ok {
			oauthError(w, http.StatusBadRequest, "invalid_resource_id",
				fmt.Sprintf("Resource with id [%s] does not exist.", p.ResourceID))
			return
		}
		for _, s := range p.ResourceScopes {
			if !slices.Contains(res.Scopes, s) {
				oauthError(w, http.StatusBadRequest, "invalid_scope",
					fmt.Sprintf("Scope [%s] is invalid", s))
				return
			}
		}
	}

	ticket := uuid.NewString()
	r.tickets[ticket] = requested
	writeJSON(w, http.StatusCreated, map[string]string{"ticket": ticket})
}

func (r *Realm) listResourcesHandler(w http.ResponseWriter, req *http.Request) {
	if _, ok := r.requireBearer(w, req); !ok {
		return
	}
	name := req.URL.Query().Get("name")

	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.resourceOrder))
	for _, id := range r.resourceOrder {
		if name != "" && r.resources[id].Name != name {
			continue
		}
		ids = append(ids, id)
	}
	writeJSON(w, http.StatusOK, ids)
}

func (r *Realm) createResourceHandler(w http.ResponseWriter, req *http.Request) {
	if _, ok := r.requireBearer(w, req); !ok {
		return
	}
	var res Resource
	if err := json.NewDecoder(req.Body).Decode(&res); err != nil {
		oauthError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(res.Name) == "" {
		oauthError(w, http.StatusBadRequest, "invalid_request", "Resource name is required")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.resources {
		if existing.Name == res.Name {
			oauthError(w, http.StatusConflict, "conflict",
				fmt.Sprintf("Resource with name [%s] already exists.", res.Name))
			return
		}
	}
	res.ID = uuid.NewString()
	if res.Owner == "" {
		res.Owner = r.ClientID
	}
	r.addResourceLocked(&res)
	writeJSON(w, http.StatusCreated, res)
}

func (r *Realm) getResourceHandler(w http.ResponseWriter, req *http.Request) {
	if _, ok := r.requireBearer(w, req); !ok {
		return
	}
	id := chi.URLParam(req, "id")

	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.resources[id]
	if !ok {
		resourceNotFound(w, id)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (r *Realm) updateResourceHandler(w http.ResponseWriter, req *http.Request) {
	if _, ok := r.requireBearer(w, req); !ok {
		return
	}
	id := chi.URLParam(req, "id")
	var res Resource
	if err := json.NewDecoder(req.Body).Decode(&res); err != nil {
		oauthError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.resources[id]
	if !ok {
		resourceNotFound(w, id)
		return
	}
	res.ID = id
	if res.Owner == "" {
		res.Owner = existing.Owner
	}
	r.resources[id] = &res
	w.WriteHeader(http.StatusNoContent)
}

func (r *Realm) deleteResourceHandler(w http.ResponseWriter, req *http.Request) {
	if _, ok := r.requireBearer(w, req); !ok {
		return
	}
	id := chi.URLParam(req, "id")

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.resources[id]; !ok {
		resourceNotFound(w, id)
		return
	}
	delete(r.resources, id)
	r.resourceOrder = slices.DeleteFunc(r.resourceOrder, func(s string) bool { return s == id })
	for pid, p := range r.policies {
		if p.resourceID == id {
			delete(r.policies, pid)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func resourceNotFound(w http.ResponseWriter, id string) {
	oauthError(w, http.StatusNotFound, "not_found", fmt.Sprintf("Resource with id [%s] does not exist.", id))
}

func (r *Realm) listPoliciesHandler(w http.ResponseWriter, req *http.Request) {
	if _, ok := r.requireBearer(w, req); !ok {
		return
	}
	resourceID := req.URL.Query().Get("resource")

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Policy, 0)
	for _, p := range r.policies {
		if resourceID != "" && p.resourceID != resourceID {
			continue
		}
		out = append(out, *p)
	}
	slices.SortFunc(out, func(a, b Policy) int { return strings.Compare(a.Name, b.Name) })
	writeJSON(w, http.StatusOK, out)
}

func (r *Realm) createPolicyHandler(w http.ResponseWriter, req *http.Request) {
	subject, ok := r.requireBearer(w, req)
	if !ok {
		return
	}
	resourceID := chi.URLParam(req, "id")
	var p Policy
	if err := json.NewDecoder(req.Body).Decode(&p); err != nil {
		oauthError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(p.Name) == "" {
		oauthError(w, http.StatusBadRequest, "invalid_request", "Policy name is required")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.resources[resourceID]; !ok {
		resourceNotFound(w, resourceID)
		return
	}
	p.ID = uuid.NewString()
	p.Type = "uma"
	p.Owner = subject
	p.resourceID = resourceID
	r.policies[p.ID] = &p
	writeJSON(w, http.StatusOK, p)
}

func (r *Realm) updatePolicyHandler(w http.ResponseWriter, req *http.Request) {
	if _, ok := r.requireBearer(w, req); !ok {
		return
	}
	id := chi.URLParam(req, "id")
	var p Policy
	if err := json.NewDecoder(req.Body).Decode(&p); err != nil {
		oauthError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.policies[id]
	if !ok {
		oauthError(w, http.StatusNotFound, "not_found", fmt.Sprintf("Policy with id [%s] does not exist.", id))
		return
	}
	p.ID, p.Type, p.Owner, p.resourceID = id, existing.Type, existing.Owner, existing.resourceID
	r.policies[id] = &p
	w.WriteHeader(http.StatusNoContent)
}

func (r *Realm) deletePolicyHandler(w http.ResponseWriter, req *http.Request) {
	if _, ok := r.requireBearer(w, req); !ok {
		return
	}
	id := chi.URLParam(req, "id")

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.policies[id]; !ok {
		oauthError(w, http.StatusNotFound, "not_found", fmt.Sprintf("Policy with id [%s] does not exist.", id))
		return
	}
	delete(r.policies, id)
	w.WriteHeader(http.StatusNoContent)
}
