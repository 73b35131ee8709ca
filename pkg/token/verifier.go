// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package token verifies JWTs issued by the provider against its published signing keys.
package token

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	kcerrors "github.com/stacklok/umakit/pkg/errors"
	"github.com/stacklok/umakit/pkg/jwks"
)

// Verification failures. Every error returned by Verify that is not a key lookup or
// algorithm problem is a TokenValidationError wrapping one of these.
var (
	ErrMalformedToken   = errors.New("malformed token")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrTokenExpired     = errors.New("token has expired")
	ErrTokenNotYetValid = errors.New("token is not valid yet")
	ErrClaimMismatch    = errors.New("token claim mismatch")
	ErrInvalidIssuer    = fmt.Errorf("%w: issuer", ErrClaimMismatch)
	ErrInvalidAudience  = fmt.Errorf("%w: audience", ErrClaimMismatch)
)

// algorithm binds a JOSE alg name to the only key family allowed to verify it.
type algorithm struct {
	family jwks.Family
	method jwt.SigningMethod
}

var algorithms = map[string]algorithm{
	"ES256": {jwks.FamilyEC, jwt.SigningMethodES256},
	"ES384": {jwks.FamilyEC, jwt.SigningMethodES384},
	"ES512": {jwks.FamilyEC, jwt.SigningMethodES512},
	"HS256": {jwks.FamilyHMAC, jwt.SigningMethodHS256},
	"HS384": {jwks.FamilyHMAC, jwt.SigningMethodHS384},
	"HS512": {jwks.FamilyHMAC, jwt.SigningMethodHS512},
	"RS256": {jwks.FamilyRSA, jwt.SigningMethodRS256},
	"RS384": {jwks.FamilyRSA, jwt.SigningMethodRS384},
	"RS512": {jwks.FamilyRSA, jwt.SigningMethodRS512},
	"PS256": {jwks.FamilyRSA, jwt.SigningMethodPS256},
	"PS384": {jwks.FamilyRSA, jwt.SigningMethodPS384},
	"PS512": {jwks.FamilyRSA, jwt.SigningMethodPS512},
}

// SupportedAlgorithms lists the accepted alg header values.
func SupportedAlgorithms() []string {
	out := make([]string, 0, len(algorithms))
	for name := range algorithms {
		out = append(out, name)
	}
	return out
}

// KeyFinder resolves a signing key by id.
type KeyFinder interface {
	Find(ctx context.Context, kid string) (jwks.Key, error)
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithLeeway tolerates clock skew on exp and nbf.
func WithLeeway(d time.Duration) Option {
	return func(v *Verifier) {
		v.leeway = d
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		v.now = now
	}
}

// Verifier checks signatures and standard claims.
type Verifier struct {
	keys   KeyFinder
	leeway time.Duration
	now    func() time.Time
}

// NewVerifier creates a Verifier resolving keys through keys.
func NewVerifier(keys KeyFinder, opts ...Option) *Verifier {
	v := &Verifier{
		keys: keys,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

type header struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
}

// Verify checks raw and returns its claims. The algorithm is taken from the token
// header and must appear in the static table; the key it resolves to must belong to
// that algorithm's family. Empty issuer or audience skips that check; exp is always required.
func (v *Verifier) Verify(ctx context.Context, raw, issuer, audience string) (jwt.MapClaims, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, invalid(ErrMalformedToken, fmt.Errorf("expected 3 segments, got %d", len(parts)))
	}
	// Signatures are computed over the unpadded encoding.
	for i := range parts {
		parts[i] = strings.TrimRight(parts[i], "=")
	}

	hdr, err := decodeHeader(parts[0])
	if err != nil {
		return nil, invalid(ErrMalformedToken, err)
	}

	alg, ok := algorithms[hdr.Alg]
	if !ok {
		return nil, kcerrors.NewUnsupportedAlgorithmError(fmt.Sprintf("algorithm %q is not supported", hdr.Alg), nil)
	}

	key, err := v.keys.Find(ctx, hdr.Kid)
	if err != nil {
		return nil, err
	}
	if key.Family != alg.family {
		return nil, invalid(ErrInvalidSignature,
			fmt.Errorf("key %q is a %s key, %s requires %s", key.ID, key.Family, hdr.Alg, alg.family))
	}

	if _, err := decodeSegment(parts[2]); err != nil {
		return nil, invalid(ErrInvalidSignature, err)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{alg.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
		jwt.WithStrictDecoding(),
	}
	if issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(audience))
	}

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(strings.Join(parts, "."), claims, func(*jwt.Token) (any, error) {
		return key.Material, nil
	}, parserOpts...)
	if err != nil {
		return nil, classify(err)
	}
	return claims, nil
}

// classify maps golang-jwt errors onto the package sentinels. Signature errors are
// checked first because the parser reports them before any claim.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return invalid(ErrMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return invalid(ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return invalid(ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return invalid(ErrTokenNotYetValid, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return invalid(ErrInvalidIssuer, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return invalid(ErrInvalidAudience, err)
	default:
		return invalid(ErrClaimMismatch, err)
	}
}

func invalid(sentinel, cause error) error {
	return kcerrors.NewTokenValidationError(sentinel.Error(), fmt.Errorf("%w: %w", sentinel, cause))
}

func decodeHeader(seg string) (*header, error) {
	data, err := decodeSegment(seg)
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	return &h, nil
}

// decodeSegment accepts both padded and unpadded base64url. Trailing bits that do
// not fit a whole byte must be zero.
func decodeSegment(seg string) ([]byte, error) {
	return base64.RawURLEncoding.Strict().DecodeString(strings.TrimRight(seg, "="))
}

// UnverifiedHeader returns the alg and kid of raw without checking anything else.
func UnverifiedHeader(raw string) (alg, kid string, err error) {
	seg, _, ok := strings.Cut(raw, ".")
	if !ok {
		return "", "", ErrMalformedToken
	}
	h, err := decodeHeader(seg)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
	return h.Alg, h.Kid, nil
}
