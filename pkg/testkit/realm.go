// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package testkit provides an in-process identity provider for tests.
//
// A Realm serves the discovery documents, the OpenID Connect protocol endpoints and the
// UMA protection API of a single Keycloak-style realm from an httptest.Server. It keeps
// just enough state (issued tokens, codes, tickets, resources, policies and grants) for
// the umakit packages to be exercised end to end without a real provider.
package testkit

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/stacklok/umakit/pkg/config"
)

// Route names accepted by Hits and Handle.
const (
	RouteOpenIDConfiguration = "openid-configuration"
	RouteUMA2Configuration   = "uma2-configuration"
	RouteAuth                = "auth"
	RouteToken               = "token"
	RouteIntrospect          = "introspect"
	RouteUserInfo            = "userinfo"
	RouteLogout              = "logout"
	RouteCerts               = "certs"
	RoutePermission          = "permission"
	RouteResourceSet         = "resource_set"
	RoutePolicy              = "uma-policy"
)

// Defaults for a new realm.
const (
	DefaultRealmName    = "umakit"
	DefaultClientID     = "umakit-client"
	DefaultClientSecret = "umakit-secret"
	DefaultUsername     = "alice"
	DefaultPassword     = "wonderland"

	defaultAccessTTL  = 5 * time.Minute
	defaultRefreshTTL = 30 * time.Minute

	// SharedSecretKeyID identifies the oct key published by WithSharedSecret.
	SharedSecretKeyID = "hs-1"

	// EncryptionKeyID identifies a published key whose use is enc.
	EncryptionKeyID = "enc-1"
)

// RealmOption configures a Realm before it starts serving.
type RealmOption func(*Realm) error

// WithMiddlewares wraps every route with the given middlewares, after the
// request id and panic recovery middlewares.
func WithMiddlewares(middlewares ...func(http.Handler) http.Handler) RealmOption {
	return func(r *Realm) error {
		if len(r.middlewares) > 0 {
			return fmt.Errorf("middlewares already set")
		}
		r.middlewares = middlewares
		return nil
	}
}

// WithRealmName overrides DefaultRealmName.
func WithRealmName(name string) RealmOption {
	return func(r *Realm) error {
		if name == "" {
			return fmt.Errorf("realm name must not be empty")
		}
		r.Name = name
		return nil
	}
}

// WithUser overrides the single end user the realm knows.
func WithUser(username, password string) RealmOption {
	return func(r *Realm) error {
		r.Username = username
		r.Password = password
		return nil
	}
}

// WithSharedSecret publishes secret as an HMAC signing key with kid SharedSecretKeyID.
func WithSharedSecret(secret []byte) RealmOption {
	return func(r *Realm) error {
		if len(secret) < 32 {
			return fmt.Errorf("shared secret must be at least 32 bytes")
		}
		r.secret = secret
		return nil
	}
}

// WithAccessTokenTTL sets the lifetime of issued access tokens and RPTs.
func WithAccessTokenTTL(d time.Duration) RealmOption {
	return func(r *Realm) error {
		r.accessTTL = d
		return nil
	}
}

// Realm is a fake provider realm backed by an httptest.Server.
type Realm struct {
	Server *httptest.Server

	Name         string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string

	middlewares []func(http.Handler) http.Handler

	mu         sync.Mutex
	generation int
	rsaKey     *rsa.PrivateKey
	ecKey      *ecdsa.PrivateKey
	encKey     *rsa.PrivateKey
	secret     []byte
	keySet     []byte
	accessTTL  time.Duration

	accessTokens  map[string]string
	refreshTokens map[string]refreshRecord
	codes         map[string]codeRecord
	tickets       map[string][]PermissionRequest
	rpts          map[string]rptRecord
	resources     map[string]*Resource
	resourceOrder []string
	policies      map[string]*Policy
	grants        map[string][]Permission

	hits      map[string]int
	overrides map[string]http.HandlerFunc
}

type refreshRecord struct {
	subject string
	scope   string
}

type codeRecord struct {
	redirectURI string
	challenge   string
	subject     string
	scope       string
}

type rptRecord struct {
	subject     string
	permissions []Permission
	expiresAt   time.Time
}

// NewRealm starts a realm. Callers must Close it.
func NewRealm(options ...RealmOption) (*Realm, error) {
	r := &Realm{
		Name:          DefaultRealmName,
		ClientID:      DefaultClientID,
		ClientSecret:  DefaultClientSecret,
		Username:      DefaultUsername,
		Password:      DefaultPassword,
		accessTTL:     defaultAccessTTL,
		accessTokens:  make(map[string]string),
		refreshTokens: make(map[string]refreshRecord),
		codes:         make(map[string]codeRecord),
		tickets:       make(map[string][]PermissionRequest),
		rpts:          make(map[string]rptRecord),
		resources:     make(map[string]*Resource),
		policies:      make(map[string]*Policy),
		grants:        make(map[string][]Permission),
		hits:          make(map[string]int),
		overrides:     make(map[string]http.HandlerFunc),
	}

	for _, option := range options {
		if err := option(r); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	encKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	r.encKey = encKey
	if err := r.RotateKeys(); err != nil {
		return nil, err
	}

	router := chi.NewRouter()
	router.Use(append(
		[]func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.Recoverer,
		},
		r.middlewares...,
	)...)

	router.Route("/realms/"+r.Name, func(rt chi.Router) {
		rt.Get("/.well-known/openid-configuration", r.route(RouteOpenIDConfiguration, r.openIDConfigurationHandler))
		rt.Get("/.well-known/uma2-configuration", r.route(RouteUMA2Configuration, r.uma2ConfigurationHandler))

		rt.Route("/protocol/openid-connect", func(oc chi.Router) {
			oc.Get("/auth", r.route(RouteAuth, r.authHandler))
			oc.Post("/token", r.route(RouteToken, r.tokenHandler))
			oc.Post("/token/introspect", r.route(RouteIntrospect, r.introspectHandler))
			oc.Get("/userinfo", r.route(RouteUserInfo, r.userInfoHandler))
			oc.Post("/userinfo", r.route(RouteUserInfo, r.userInfoHandler))
			oc.Post("/logout", r.route(RouteLogout, r.logoutHandler))
			oc.Get("/certs", r.route(RouteCerts, r.certsHandler))
		})

		rt.Route("/authz/protection", func(pr chi.Router) {
			pr.Post("/permission", r.route(RoutePermission, r.permissionHandler))

			pr.Get("/resource_set", r.route(RouteResourceSet, r.listResourcesHandler))
			pr.Post("/resource_set", r.route(RouteResourceSet, r.createResourceHandler))
			pr.Get("/resource_set/{id}", r.route(RouteResourceSet, r.getResourceHandler))
			pr.Put("/resource_set/{id}", r.route(RouteResourceSet, r.updateResourceHandler))
			pr.Delete("/resource_set/{id}", r.route(RouteResourceSet, r.deleteResourceHandler))

			pr.Get("/uma-policy", r.route(RoutePolicy, r.listPoliciesHandler))
			pr.Post("/uma-policy/{id}", r.route(RoutePolicy, r.createPolicyHandler))
			pr.Put("/uma-policy/{id}", r.route(RoutePolicy, r.updatePolicyHandler))
			pr.Delete("/uma-policy/{id}", r.route(RoutePolicy, r.deletePolicyHandler))
		})
	})

	r.Server = httptest.NewServer(router)
	return r, nil
}

// NewTestRealm starts a realm that is closed when t finishes.
func NewTestRealm(t testing.TB, options ...RealmOption) *Realm {
	t.Helper()
	r, err := NewRealm(options...)
	if err != nil {
		t.Fatalf("failed to start realm: %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

// Close stops the server.
func (r *Realm) Close() {
	r.Server.Close()
}

// Issuer returns {server}/realms/{name}.
func (r *Realm) Issuer() string {
	return r.Server.URL + "/realms/" + r.Name
}

// RedirectURI is the callback URL Config registers for the client.
func (r *Realm) RedirectURI() string {
	return "http://127.0.0.1:8250/callback"
}

// ServiceAccount returns the subject of client-credentials tokens.
func (r *Realm) ServiceAccount() string {
	return "service-account-" + r.ClientID
}

// Config returns a validated client configuration pointing at the realm. Private
// addresses and plain HTTP are allowed since the server listens on loopback.
func (r *Realm) Config() *config.Config {
	cfg := &config.Config{
		ClientID:          r.ClientID,
		ClientSecret:      r.ClientSecret,
		Realm:             r.Name,
		Hostname:          r.Server.URL,
		RedirectURI:       r.RedirectURI(),
		AllowPrivateIP:    true,
		InsecureAllowHTTP: true,
	}
	cfg.ApplyDefaults()
	return cfg
}

// Hits returns how many requests reached route.
func (r *Realm) Hits(route string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hits[route]
}

// Handle replaces the handler of route. Hits are still counted.
func (r *Realm) Handle(route string, h http.HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[route] = h
}

// SetAccessTokenTTL changes the lifetime of tokens issued from now on.
func (r *Realm) SetAccessTokenTTL(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accessTTL = d
}

// RevokeRefreshTokens invalidates every refresh token issued so far.
func (r *Realm) RevokeRefreshTokens() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.refreshTokens)
}

// RotateKeys replaces the RSA and EC signing keys with new ones under new key ids.
func (r *Realm) RotateKeys() error {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return err
	}
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation++
	r.rsaKey, r.ecKey = rsaKey, ecKey

	keySet, err := r.buildKeySet()
	if err != nil {
		return err
	}
	r.keySet = keySet
	return nil
}

// RSAKeyID returns the kid of the current RSA signing key.
func (r *Realm) RSAKeyID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rsaKID()
}

// ECKeyID returns the kid of the current EC signing key.
func (r *Realm) ECKeyID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ecKID()
}

func (r *Realm) rsaKID() string { return fmt.Sprintf("rsa-%d", r.generation) }
func (r *Realm) ecKID() string  { return fmt.Sprintf("ec-%d", r.generation) }

// Sign signs claims with the current RSA key (RS256).
func (r *Realm) Sign(claims jwt.MapClaims) (string, error) {
	return r.SignWith(jwt.SigningMethodRS256, claims)
}

// SignWith signs claims with the realm key matching method's family.
func (r *Realm) SignWith(method jwt.SigningMethod, claims jwt.MapClaims) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.signLocked(method, claims)
}

func (r *Realm) signLocked(method jwt.SigningMethod, claims jwt.MapClaims) (string, error) {
	var (
		kid string
		key any
	)
	switch method.(type) {
	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
		kid, key = r.rsaKID(), r.rsaKey
	case *jwt.SigningMethodECDSA:
		if method.Alg() != jwt.SigningMethodES256.Alg() {
			return "", fmt.Errorf("realm EC key is P-256, cannot sign %s", method.Alg())
		}
		kid, key = r.ecKID(), r.ecKey
	case *jwt.SigningMethodHMAC:
		if r.secret == nil {
			return "", fmt.Errorf("realm has no shared secret")
		}
		kid, key = SharedSecretKeyID, r.secret
	default:
		return "", fmt.Errorf("unsupported signing method %s", method.Alg())
	}

	tok := jwt.NewWithClaims(method, claims)
	tok.Header["kid"] = kid
	return tok.SignedString(key)
}

// Claims returns the standard claims of a token issued by the realm at now.
func (r *Realm) Claims(subject string, now time.Time) jwt.MapClaims {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.claimsLocked(subject, now)
}

func (r *Realm) claimsLocked(subject string, now time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":                r.Issuer(),
		"aud":                []string{r.ClientID, "account"},
		"azp":                r.ClientID,
		"sub":                subject,
		"typ":                "Bearer",
		"jti":                uuid.NewString(),
		"iat":                now.Unix(),
		"exp":                now.Add(r.accessTTL).Unix(),
		"preferred_username": subject,
	}
}

// AccessToken issues an access token for subject as if it came from the token endpoint.
func (r *Realm) AccessToken(subject string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.issueAccessLocked(subject, "openid", nil)
}

// IssueCode registers an authorization code for the realm user, as the authorization
// endpoint would after a successful login. challenge is an S256 PKCE challenge or empty.
func (r *Realm) IssueCode(redirectURI, challenge string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	code := uuid.NewString()
	r.codes[code] = codeRecord{
		redirectURI: redirectURI,
		challenge:   challenge,
		subject:     r.Username,
		scope:       "openid",
	}
	return code
}

// AddResource registers a resource owned by the client and returns its id.
func (r *Realm) AddResource(name string, scopes ...string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := &Resource{
		ID:     uuid.NewString(),
		Name:   name,
		Owner:  r.ClientID,
		Scopes: append([]string(nil), scopes...),
	}
	r.addResourceLocked(res)
	return res.ID
}

// Resource returns a registered resource.
func (r *Realm) Resource(id string) (Resource, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.resources[id]
	if !ok {
		return Resource{}, false
	}
	return *res, true
}

// Policies returns the policies attached to a resource.
func (r *Realm) Policies(resourceID string) []Policy {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Policy
	for _, p := range r.policies {
		if p.resourceID == resourceID {
			out = append(out, *p)
		}
	}
	return out
}

// Grant lets subject obtain an RPT for scopes of a resource. Granting no scopes
// grants the resource itself.
func (r *Realm) Grant(subject, resourceID string, scopes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := ""
	if res, ok := r.resources[resourceID]; ok {
		name = res.Name
	}
	r.grants[subject] = append(r.grants[subject], Permission{
		ResourceID:   resourceID,
		ResourceName: name,
		Scopes:       append([]string(nil), scopes...),
	})
}

func (r *Realm) addResourceLocked(res *Resource) {
	r.resources[res.ID] = res
	r.resourceOrder = append(r.resourceOrder, res.ID)
}

func (r *Realm) buildKeySet() ([]byte, error) {
	set := jwk.NewSet()

	add := func(raw any, kid, alg, use string) error {
		key, err := jwk.Import(raw)
		if err != nil {
			return fmt.Errorf("failed to import %s: %w", kid, err)
		}
		if err := key.Set(jwk.KeyIDKey, kid); err != nil {
			return err
		}
		if err := key.Set(jwk.AlgorithmKey, alg); err != nil {
			return err
		}
		if err := key.Set(jwk.KeyUsageKey, use); err != nil {
			return err
		}
		return set.AddKey(key)
	}

	if err := add(&r.rsaKey.PublicKey, r.rsaKID(), "RS256", "sig"); err != nil {
		return nil, err
	}
	if err := add(&r.ecKey.PublicKey, r.ecKID(), "ES256", "sig"); err != nil {
		return nil, err
	}
	if err := add(&r.encKey.PublicKey, EncryptionKeyID, "RSA-OAEP", "enc"); err != nil {
		return nil, err
	}
	if r.secret != nil {
		if err := add(r.secret, SharedSecretKeyID, "HS256", "sig"); err != nil {
			return nil, err
		}
	}
	return json.Marshal(set)
}

func (r *Realm) route(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		r.hits[name]++
		override := r.overrides[name]
		r.mu.Unlock()

		if override != nil {
			override(w, req)
			return
		}
		h(w, req)
	}
}
