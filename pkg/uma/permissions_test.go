// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package uma

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermissions_Allows(t *testing.T) {
	t.Parallel()

	perms := Permissions{
		{ResourceID: "1", ResourceName: "r1", Scopes: []string{"read"}},
		{ResourceID: "2", ResourceName: "r2"},
	}

	tests := []struct {
		name     string
		perms    Permissions
		resource string
		scope    string
		want     bool
	}{
		{"granted scope", perms, "r1", "read", true},
		{"missing scope", perms, "r1", "write", false},
		{"resource only", perms, "r1", "", true},
		{"resource without scopes", perms, "r2", "", true},
		{"resource without scopes denies scoped check", perms, "r2", "read", false},
		{"unknown resource", perms, "r3", "read", false},
		{"case sensitive", perms, "R1", "read", false},
		{"empty resource name", Permissions{{Scopes: []string{"read"}}}, "", "read", false},
		{"no permissions", nil, "r1", "read", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.perms.Allows(tt.resource, tt.scope))
		})
	}
}

func TestPermission_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	var fromClaim Permission
	require.NoError(t, json.Unmarshal([]byte(`{"rsid":"1","rsname":"r1","scopes":["read"]}`), &fromClaim))
	assert.Equal(t, Permission{ResourceID: "1", ResourceName: "r1", Scopes: []string{"read"}}, fromClaim)

	var fromIntrospection Permission
	require.NoError(t, json.Unmarshal(
		[]byte(`{"resource_id":"1","rsname":"r1","resource_scopes":["read","write"]}`), &fromIntrospection))
	assert.Equal(t, Permission{ResourceID: "1", ResourceName: "r1", Scopes: []string{"read", "write"}}, fromIntrospection)

	var bad Permission
	assert.Error(t, json.Unmarshal([]byte(`{"scopes":"read"}`), &bad))
}

func TestPermissionsFromClaims(t *testing.T) {
	t.Parallel()

	perms, err := permissionsFromClaims(map[string]any{"sub": "alice"})
	require.NoError(t, err)
	assert.Nil(t, perms)

	perms, err = permissionsFromClaims(map[string]any{
		"authorization": map[string]any{
			"permissions": []any{
				map[string]any{"rsid": "1", "rsname": "r1", "scopes": []any{"read"}},
			},
		},
	})
	require.NoError(t, err)
	assert.True(t, perms.Allows("r1", "read"))

	_, err = permissionsFromClaims(map[string]any{"authorization": "nope"})
	assert.Error(t, err)
}
