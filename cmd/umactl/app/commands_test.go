// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kcerrors "github.com/stacklok/umakit/pkg/errors"
	"github.com/stacklok/umakit/pkg/testkit"
	"github.com/stacklok/umakit/pkg/uma"
	"github.com/stacklok/umakit/pkg/versions"
)

// The commands share viper and the logger singleton, so these tests do not run in parallel.

func writeSettings(t *testing.T, realm *testkit.Realm, redirectURI string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keycloak.yaml")
	settings := fmt.Sprintf(`client_id: %s
client_secret: %s
realm: %s
hostname: %s
redirect_uri: %s
allow_private_ip: true
insecure_allow_http: true
`, realm.ClientID, realm.ClientSecret, realm.Name, realm.Server.URL, redirectURI)
	require.NoError(t, os.WriteFile(path, []byte(settings), 0o600))
	return path
}

func run(args ...string) (string, string, error) {
	viper.Reset()
	cmd := NewRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestDiscover(t *testing.T) {
	realm := testkit.NewTestRealm(t)
	settings := writeSettings(t, realm, realm.RedirectURI())

	stdout, stderr, err := run("--config", settings, "--metrics", "discover")
	require.NoError(t, err)

	var eps map[string]string
	require.NoError(t, json.Unmarshal([]byte(stdout), &eps))
	assert.Equal(t, realm.Issuer(), eps["issuer"])
	assert.Equal(t, realm.Issuer()+"/authz/protection/permission", eps["permission_endpoint"])
	assert.Contains(t, stderr, `umakit_upstream_requests_total{operation="discovery",outcome="success"} 1`)
}

func TestTokenAndVerify(t *testing.T) {
	realm := testkit.NewTestRealm(t)
	settings := writeSettings(t, realm, realm.RedirectURI())

	stdout, _, err := run("--config", settings, "token")
	require.NoError(t, err)
	pat := strings.TrimSpace(stdout)
	require.NotEmpty(t, pat)

	stdout, _, err = run("--config", settings, "verify", pat, "--audience", realm.ClientID)
	require.NoError(t, err)
	var claims map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &claims))
	assert.Equal(t, realm.ServiceAccount(), claims["sub"])

	_, _, err = run("--config", settings, "verify", pat, "--audience", "someone-else")
	assert.Error(t, err)

	stdout, _, err = run("--config", settings, "token", "--json")
	require.NoError(t, err)
	var summary tokenSummary
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary))
	assert.Equal(t, "Bearer", summary.TokenType)
	assert.Contains(t, summary.AccessToken, "[REDACTED]")
	assert.False(t, summary.HasRefreshToken)
}

func TestRPTAndIntrospect(t *testing.T) {
	realm := testkit.NewTestRealm(t)
	settings := writeSettings(t, realm, realm.RedirectURI())
	r1 := realm.AddResource("r1", "read")
	realm.Grant(realm.Username, r1, "read")
	aat, err := realm.AccessToken(realm.Username)
	require.NoError(t, err)

	stdout, _, err := run("--config", settings, "rpt", "--token", aat)
	require.NoError(t, err)
	var rpt rptOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &rpt))
	require.NotEmpty(t, rpt.AccessToken)
	assert.True(t, rpt.Permissions.Allows("r1", "read"))

	stdout, _, err = run("--config", settings, "introspect", rpt.AccessToken)
	require.NoError(t, err)
	var res uma.IntrospectionResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.True(t, res.Active)
	assert.True(t, res.Allows("r1", "read"))

	_, _, err = run("--config", settings, "rpt", "--token", aat, "--ticket", "bogus")
	require.Error(t, err)
	assert.True(t, kcerrors.IsInvalidTicket(err))
}

func TestAuthorize(t *testing.T) {
	realm := testkit.NewTestRealm(t)
	settings := writeSettings(t, realm, realm.RedirectURI())
	r1 := realm.AddResource("r1", "read", "write")
	realm.Grant(realm.Username, r1, "read")
	aat, err := realm.AccessToken(realm.Username)
	require.NoError(t, err)

	stdout, _, err := run("--config", settings, "authorize", "--token", aat,
		"--resource-id", r1, "--resource-name", "r1", "--scope", "read")
	require.NoError(t, err)
	var d decisionOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &d))
	assert.True(t, d.Allowed)

	stdout, _, err = run("--config", settings, "authorize", "--token", aat,
		"--resource-id", r1, "--resource-name", "r1", "--scope", "write")
	require.Error(t, err)
	assert.ErrorIs(t, err, errDenied)
	require.NoError(t, json.Unmarshal([]byte(stdout), &d))
	assert.False(t, d.Allowed)
	assert.Equal(t, uma.ReasonNotAuthorized, d.Reason)

	_, _, err = run("--config", settings, "authorize", "--token", aat)
	assert.Error(t, err, "--resource-name is required")
}

func TestLogin(t *testing.T) {
	realm := testkit.NewTestRealm(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	settings := writeSettings(t, realm, fmt.Sprintf("http://127.0.0.1:%d/callback", port))

	var opened string
	original := openBrowser
	openBrowser = func(u string) error {
		opened = u
		resp, err := http.Get(u)
		if err != nil {
			return err
		}
		return resp.Body.Close()
	}
	t.Cleanup(func() { openBrowser = original })

	stdout, stderr, err := run("--config", settings, "login", "--scope", "openid", "--timeout", "10s")
	require.NoError(t, err)
	assert.Contains(t, stderr, opened)

	var out loginOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, realm.Username, out.Subject)
	assert.True(t, out.Tokens.HasRefreshToken)
	assert.True(t, out.Tokens.HasIDToken)
	assert.Equal(t, 1, realm.Hits(testkit.RouteUserInfo))
}

func TestLogin_RejectsRemoteRedirect(t *testing.T) {
	realm := testkit.NewTestRealm(t)
	settings := writeSettings(t, realm, "https://app.example.com/callback")

	_, _, err := run("--config", settings, "login", "--no-browser")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not point at this machine")
}

func TestInvalidSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keycloak.yaml")
	require.NoError(t, os.WriteFile(path, []byte("client_id: only\nunknown_key: x\n"), 0o600))

	_, _, err := run("--config", path, "discover")
	require.Error(t, err)
	assert.True(t, kcerrors.IsConfiguration(err))

	_, _, err = run("--config", filepath.Join(t.TempDir(), "missing.yaml"), "discover")
	require.Error(t, err)
	assert.True(t, kcerrors.IsConfiguration(err))
}

func TestVersion(t *testing.T) {
	stdout, _, err := run("version", "--json")
	require.NoError(t, err)

	var info versions.VersionInfo
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.Equal(t, versions.GetVersionInfo(), info)
}
