// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package uma

import (
	"encoding/json"
	"fmt"
	"slices"
)

// PermissionRequest asks for scopes of one registered resource. No scopes asks for the
// resource itself.
type PermissionRequest struct {
	ResourceID     string   `json:"resource_id"`
	ResourceScopes []string `json:"resource_scopes,omitempty"`
}

// Permission is one granted resource and the scopes granted on it.
type Permission struct {
	ResourceID   string   `json:"rsid"`
	ResourceName string   `json:"rsname,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
}

// UnmarshalJSON accepts both the RPT claim layout (rsid, scopes) and the introspection
// layout (resource_id, resource_scopes).
func (p *Permission) UnmarshalJSON(data []byte) error {
	var aux struct {
		RSID           string   `json:"rsid"`
		ResourceID     string   `json:"resource_id"`
		RSName         string   `json:"rsname"`
		Scopes         []string `json:"scopes"`
		ResourceScopes []string `json:"resource_scopes"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("invalid permission: %w", err)
	}
	p.ResourceID = aux.RSID
	if p.ResourceID == "" {
		p.ResourceID = aux.ResourceID
	}
	p.ResourceName = aux.RSName
	p.Scopes = aux.Scopes
	if len(p.Scopes) == 0 {
		p.Scopes = aux.ResourceScopes
	}
	return nil
}

// Permissions is the permission list embedded in an RPT.
type Permissions []Permission

// Allows reports whether a permission names resourceName exactly and contains scope.
// An empty scope checks the resource only. An empty list allows nothing.
func (p Permissions) Allows(resourceName, scope string) bool {
	if resourceName == "" {
		return false
	}
	for _, perm := range p {
		if perm.ResourceName != resourceName {
			continue
		}
		if scope == "" || slices.Contains(perm.Scopes, scope) {
			return true
		}
	}
	return false
}

// permissionsFromClaims decodes authorization.permissions from verified RPT claims.
func permissionsFromClaims(claims map[string]any) (Permissions, error) {
	authz, ok := claims["authorization"]
	if !ok {
		return nil, nil
	}
	raw, err := json.Marshal(authz)
	if err != nil {
		return nil, err
	}
	var decoded struct {
		Permissions Permissions `json:"permissions"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("invalid authorization claim: %w", err)
	}
	return decoded.Permissions, nil
}
