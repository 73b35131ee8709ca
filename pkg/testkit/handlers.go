// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package testkit

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const umaTicketGrant = "urn:ietf:params:oauth:grant-type:uma-ticket"

// Permission is one entry of an RPT's authorization.permissions claim.
type Permission struct {
	ResourceID   string   `json:"rsid"`
	ResourceName string   `json:"rsname,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
}

// PermissionRequest is one entry of a permission endpoint request body.
type PermissionRequest struct {
	ResourceID     string   `json:"resource_id"`
	ResourceScopes []string `json:"resource_scopes,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func oauthError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}

func (r *Realm) openIDConfigurationHandler(w http.ResponseWriter, _ *http.Request) {
	iss := r.Issuer()
	oc := iss + "/protocol/openid-connect"
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                iss,
		"authorization_endpoint":                oc + "/auth",
		"token_endpoint":                        oc + "/token",
		"introspection_endpoint":                oc + "/token/introspect",
		"userinfo_endpoint":                     oc + "/userinfo",
		"end_session_endpoint":                  oc + "/logout",
		"jwks_uri":                              oc + "/certs",
		"response_types_supported":              []string{"code"},
		"code_challenge_methods_supported":      []string{"S256"},
		"id_token_signing_alg_values_supported": []string{"RS256", "ES256"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_basic", "client_secret_post"},
		"scopes_supported":                      []string{"openid", "profile", "email"},
		"grant_types_supported": []string{
			"authorization_code", "client_credentials", "password", "refresh_token", umaTicketGrant,
		},
	})
}

func (r *Realm) uma2ConfigurationHandler(w http.ResponseWriter, _ *http.Request) {
	iss := r.Issuer()
	oc := iss + "/protocol/openid-connect"
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                         iss,
		"authorization_endpoint":         oc + "/auth",
		"token_endpoint":                 oc + "/token",
		"introspection_endpoint":         oc + "/token/introspect",
		"end_session_endpoint":           oc + "/logout",
		"jwks_uri":                       oc + "/certs",
		"resource_registration_endpoint": iss + "/authz/protection/resource_set",
		"permission_endpoint":            iss + "/authz/protection/permission",
		"policy_endpoint":                iss + "/authz/protection/uma-policy",
		"grant_types_supported":          []string{"authorization_code", umaTicketGrant},
	})
}

func (r *Realm) certsHandler(w http.ResponseWriter, _ *http.Request) {
	r.mu.Lock()
	keySet := r.keySet
	r.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(keySet)
}

// authHandler logs the realm user in without interaction and redirects back with a code.
func (r *Realm) authHandler(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	if q.Get("client_id") != r.ClientID {
		oauthError(w, http.StatusBadRequest, "unauthorized_client", "Client not found.")
		return
	}
	if q.Get("response_type") != "code" {
		oauthError(w, http.StatusBadRequest, "unsupported_response_type", "Only code is supported.")
		return
	}
	redirectURI, err := url.Parse(q.Get("redirect_uri"))
	if err != nil || !redirectURI.IsAbs() {
		oauthError(w, http.StatusBadRequest, "invalid_request", "Invalid parameter: redirect_uri")
		return
	}
	challenge := q.Get("code_challenge")
	if method := q.Get("code_challenge_method"); challenge != "" && method != "S256" {
		oauthError(w, http.StatusBadRequest, "invalid_request", "Invalid parameter: code_challenge_method")
		return
	}

	r.mu.Lock()
	code := uuid.NewString()
	r.codes[code] = codeRecord{
		redirectURI: redirectURI.String(),
		challenge:   challenge,
		subject:     r.Username,
		scope:       q.Get("scope"),
	}
	r.mu.Unlock()

	back := redirectURI.Query()
	back.Set("code", code)
	back.Set("state", q.Get("state"))
	redirectURI.RawQuery = back.Encode()
	http.Redirect(w, req, redirectURI.String(), http.StatusFound)
}

func (r *Realm) tokenHandler(w http.ResponseWriter, req *http.Request) {
	if err := req.ParseForm(); err != nil {
		oauthError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	grant := req.PostForm.Get("grant_type")
	if grant == umaTicketGrant {
		r.umaTicket(w, req)
		return
	}
	if !r.clientAuthenticated(req) {
		oauthError(w, http.StatusUnauthorized, "invalid_client", "Invalid client or Invalid client credentials")
		return
	}

	scope := req.PostForm.Get("scope")

	r.mu.Lock()
	defer r.mu.Unlock()

	switch grant {
	case "client_credentials":
		r.writeTokensLocked(w, r.ServiceAccount(), scope, false)

	case "password":
		if req.PostForm.Get("username") != r.Username || req.PostForm.Get("password") != r.Password {
			oauthError(w, http.StatusUnauthorized, "invalid_grant", "Invalid user credentials")
			return
		}
		r.writeTokensLocked(w, r.Username, scope, true)

	case "authorization_code":
		code := req.PostForm.Get("code")
		rec, ok := r.codes[code]
		delete(r.codes, code)
		if !ok {
			oauthError(w, http.StatusBadRequest, "invalid_grant", "Code not valid")
			return
		}
		if rec.redirectURI != req.PostForm.Get("redirect_uri") {
			oauthError(w, http.StatusBadRequest, "invalid_grant", "Incorrect redirect_uri")
			return
		}
		if rec.challenge != "" && s256(req.PostForm.Get("code_verifier")) != rec.challenge {
			oauthError(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
			return
		}
		if scope == "" {
			scope = rec.scope
		}
		r.writeTokensLocked(w, rec.subject, scope, true)

	case "refresh_token":
		refresh := req.PostForm.Get("refresh_token")
		rec, ok := r.refreshTokens[refresh]
		delete(r.refreshTokens, refresh)
		if !ok {
			oauthError(w, http.StatusBadRequest, "invalid_grant", "Token is not active")
			return
		}
		r.writeTokensLocked(w, rec.subject, rec.scope, true)

	default:
		oauthError(w, http.StatusBadRequest, "unsupported_grant_type", "Unsupported grant_type")
	}
}

func (r *Realm) umaTicket(w http.ResponseWriter, req *http.Request) {
	subject := r.bearerSubject(req)
	if subject == "" {
		oauthError(w, http.StatusUnauthorized, "invalid_token", "Bearer token required")
		return
	}
	ticket := req.PostForm.Get("ticket")
	audience := req.PostForm.Get("audience")

	r.mu.Lock()
	defer r.mu.Unlock()

	var perms []Permission
	switch {
	case ticket != "":
		requested, ok := r.tickets[ticket]
		delete(r.tickets, ticket)
		if !ok {
			oauthError(w, http.StatusBadRequest, "invalid_grant", "Invalid ticket")
			return
		}
		perms = r.decideLocked(subject, requested)
	case audience == r.ClientID:
		perms = r.grantedLocked(subject)
	default:
		oauthError(w, http.StatusBadRequest, "invalid_request", "Ticket or audience required")
		return
	}

	if len(perms) == 0 {
		oauthError(w, http.StatusForbidden, "access_denied", "not_authorized")
		return
	}

	now := time.Now()
	claims := r.claimsLocked(subject, now)
	claims["authorization"] = map[string]any{"permissions": perms}
	raw, err := r.signLocked(jwt.SigningMethodRS256, claims)
	if err != nil {
		oauthError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	r.accessTokens[raw] = subject
	r.rpts[raw] = rptRecord{subject: subject, permissions: perms, expiresAt: now.Add(r.accessTTL)}

	refresh := uuid.NewString()
	r.refreshTokens[refresh] = refreshRecord{subject: subject}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":       raw,
		"token_type":         "Bearer",
		"expires_in":         int(r.accessTTL.Seconds()),
		"refresh_token":      refresh,
		"refresh_expires_in": int(defaultRefreshTTL.Seconds()),
		"upgraded":           false,
		"not-before-policy":  0,
	})
}

// decideLocked keeps, for each requested resource, the requested scopes subject was
// granted. A request without scopes receives every granted scope of the resource.
func (r *Realm) decideLocked(subject string, requested []PermissionRequest) []Permission {
	var out []Permission
	for _, want := range requested {
		var (
			granted bool
			scopes  []string
		)
		for _, g := range r.grants[subject] {
			if g.ResourceID != want.ResourceID {
				continue
			}
			granted = true
			for _, s := range g.Scopes {
				if (len(want.ResourceScopes) == 0 || slices.Contains(want.ResourceScopes, s)) && !slices.Contains(scopes, s) {
					scopes = append(scopes, s)
				}
			}
		}
		if !granted || (len(want.ResourceScopes) > 0 && len(scopes) == 0) {
			continue
		}
		out = append(out, Permission{
			ResourceID:   want.ResourceID,
			ResourceName: r.resourceNameLocked(want.ResourceID),
			Scopes:       scopes,
		})
	}
	return out
}

func (r *Realm) grantedLocked(subject string) []Permission {
	out := make([]Permission, 0, len(r.grants[subject]))
	for _, g := range r.grants[subject] {
		g.ResourceName = r.resourceNameLocked(g.ResourceID)
		out = append(out, g)
	}
	return out
}

func (r *Realm) resourceNameLocked(id string) string {
	if res, ok := r.resources[id]; ok {
		return res.Name
	}
	return ""
}

func (r *Realm) writeTokensLocked(w http.ResponseWriter, subject, scope string, user bool) {
	access, err := r.issueAccessLocked(subject, scope, nil)
	if err != nil {
		oauthError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	resp := map[string]any{
		"access_token":      access,
		"token_type":        "Bearer",
		"expires_in":        int(r.accessTTL.Seconds()),
		"scope":             scope,
		"not-before-policy": 0,
	}

	if user {
		refresh := uuid.NewString()
		r.refreshTokens[refresh] = refreshRecord{subject: subject, scope: scope}
		resp["refresh_token"] = refresh
		resp["refresh_expires_in"] = int(defaultRefreshTTL.Seconds())
		resp["session_state"] = uuid.NewString()

		if slices.Contains(strings.Fields(scope), "openid") {
			claims := r.claimsLocked(subject, time.Now())
			claims["aud"] = r.ClientID
			claims["typ"] = "ID"
			idToken, err := r.signLocked(jwt.SigningMethodRS256, claims)
			if err != nil {
				oauthError(w, http.StatusInternalServerError, "server_error", err.Error())
				return
			}
			resp["id_token"] = idToken
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (r *Realm) issueAccessLocked(subject, scope string, extra jwt.MapClaims) (string, error) {
	claims := r.claimsLocked(subject, time.Now())
	if scope != "" {
		claims["scope"] = scope
	}
	for k, v := range extra {
		claims[k] = v
	}
	raw, err := r.signLocked(jwt.SigningMethodRS256, claims)
	if err != nil {
		return "", err
	}
	r.accessTokens[raw] = subject
	return raw, nil
}

func (r *Realm) introspectHandler(w http.ResponseWriter, req *http.Request) {
	if err := req.ParseForm(); err != nil {
		oauthError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if !r.clientAuthenticated(req) {
		oauthError(w, http.StatusUnauthorized, "invalid_client", "Authentication failed.")
		return
	}
	token := req.PostForm.Get("token")

	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.rpts[token]; ok {
		if !time.Now().Before(rec.expiresAt) {
			writeJSON(w, http.StatusOK, map[string]any{"active": false})
			return
		}
		perms := make([]map[string]any, 0, len(rec.permissions))
		for _, p := range rec.permissions {
			perms = append(perms, map[string]any{
				"rsid":            p.ResourceID,
				"rsname":          p.ResourceName,
				"resource_id":     p.ResourceID,
				"resource_scopes": p.Scopes,
				"scopes":          p.Scopes,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"active":      true,
			"sub":         rec.subject,
			"client_id":   r.ClientID,
			"typ":         "Bearer",
			"exp":         rec.expiresAt.Unix(),
			"permissions": perms,
		})
		return
	}

	if subject, ok := r.accessTokens[token]; ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"active":    true,
			"sub":       subject,
			"client_id": r.ClientID,
			"typ":       "Bearer",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"active": false})
}

func (r *Realm) userInfoHandler(w http.ResponseWriter, req *http.Request) {
	subject := r.bearerSubject(req)
	if subject == "" {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		oauthError(w, http.StatusUnauthorized, "invalid_token", "Token verification failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sub":                subject,
		"preferred_username": subject,
		"email":              subject + "@example.com",
		"email_verified":     true,
	})
}

func (r *Realm) logoutHandler(w http.ResponseWriter, req *http.Request) {
	if err := req.ParseForm(); err != nil {
		oauthError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if !r.clientAuthenticated(req) {
		oauthError(w, http.StatusUnauthorized, "unauthorized_client", "Invalid client credentials")
		return
	}

	refresh := req.PostForm.Get("refresh_token")
	bearer := bearerToken(req)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.refreshTokens[refresh]; !ok {
		oauthError(w, http.StatusBadRequest, "invalid_grant", "Invalid refresh token")
		return
	}
	delete(r.refreshTokens, refresh)
	if bearer != "" {
		delete(r.accessTokens, bearer)
	}
	w.WriteHeader(http.StatusNoContent)
}

// clientAuthenticated accepts client_secret_basic and client_secret_post. The form must
// already be parsed.
func (r *Realm) clientAuthenticated(req *http.Request) bool {
	if user, pass, ok := req.BasicAuth(); ok {
		id, err1 := url.QueryUnescape(user)
		secret, err2 := url.QueryUnescape(pass)
		return err1 == nil && err2 == nil && id == r.ClientID && secret == r.ClientSecret
	}
	return req.PostForm.Get("client_id") == r.ClientID && req.PostForm.Get("client_secret") == r.ClientSecret
}

func (r *Realm) bearerSubject(req *http.Request) string {
	token := bearerToken(req)
	if token == "" {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accessTokens[token]
}

func bearerToken(req *http.Request) string {
	scheme, token, ok := strings.Cut(req.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func s256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
