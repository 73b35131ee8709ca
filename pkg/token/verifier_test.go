// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kcerrors "github.com/stacklok/umakit/pkg/errors"
	"github.com/stacklok/umakit/pkg/jwks"
)

const (
	testIssuer   = "https://idp.example.com/realms/test"
	testAudience = "umakit"
)

type staticKeys map[string]jwks.Key

func (s staticKeys) Find(_ context.Context, kid string) (jwks.Key, error) {
	k, ok := s[kid]
	if !ok {
		return jwks.Key{}, kcerrors.NewUnknownKeyError("no key "+kid, nil)
	}
	return k, nil
}

type testKeys struct {
	rsa  *rsa.PrivateKey
	ec   *ecdsa.PrivateKey
	hmac []byte
}

func newTestKeys(t *testing.T) (*testKeys, staticKeys) {
	t.Helper()

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	secret := []byte("0123456789abcdef0123456789abcdef")

	return &testKeys{rsa: rsaKey, ec: ecKey, hmac: secret}, staticKeys{
		"rsa": {ID: "rsa", Family: jwks.FamilyRSA, Material: &rsaKey.PublicKey},
		"ec":  {ID: "ec", Family: jwks.FamilyEC, Material: &ecKey.PublicKey},
		"hs":  {ID: "hs", Family: jwks.FamilyHMAC, Material: secret},
	}
}

func validClaims(now time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"iss": testIssuer,
		"aud": testAudience,
		"sub": "alice",
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
	}
}

func sign(t *testing.T, method jwt.SigningMethod, kid string, key any, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(method, claims)
	tok.Header["kid"] = kid
	raw, err := tok.SignedString(key)
	require.NoError(t, err)
	return raw
}

func TestVerify_SupportedAlgorithms(t *testing.T) {
	t.Parallel()

	keys, finder := newTestKeys(t)
	now := time.Now()

	tests := []struct {
		method jwt.SigningMethod
		kid    string
		key    any
	}{
		{jwt.SigningMethodRS256, "rsa", keys.rsa},
		{jwt.SigningMethodRS512, "rsa", keys.rsa},
		{jwt.SigningMethodPS256, "rsa", keys.rsa},
		{jwt.SigningMethodES256, "ec", keys.ec},
		{jwt.SigningMethodHS256, "hs", keys.hmac},
		{jwt.SigningMethodHS384, "hs", keys.hmac},
	}

	v := NewVerifier(finder)
	for _, tt := range tests {
		t.Run(tt.method.Alg(), func(t *testing.T) {
			t.Parallel()
			raw := sign(t, tt.method, tt.kid, tt.key, validClaims(now))

			claims, err := v.Verify(context.Background(), raw, testIssuer, testAudience)
			require.NoError(t, err)
			assert.Equal(t, "alice", claims["sub"])
		})
	}
}

func TestVerify_Rejections(t *testing.T) {
	t.Parallel()

	keys, finder := newTestKeys(t)
	now := time.Now()
	v := NewVerifier(finder)

	otherRSA, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	expired := validClaims(now)
	expired["exp"] = now.Add(-time.Minute).Unix()
	notYet := validClaims(now)
	notYet["nbf"] = now.Add(time.Hour).Unix()
	noExp := validClaims(now)
	delete(noExp, "exp")

	tests := []struct {
		name     string
		raw      string
		issuer   string
		audience string
		want     error
	}{
		{
			name: "two segments",
			raw:  "a.b",
			want: ErrMalformedToken,
		},
		{
			name: "header not base64",
			raw:  "!!!.e30.sig",
			want: ErrMalformedToken,
		},
		{
			name: "wrong key",
			raw:  sign(t, jwt.SigningMethodRS256, "rsa", otherRSA, validClaims(now)),
			want: ErrInvalidSignature,
		},
		{
			name: "expired",
			raw:  sign(t, jwt.SigningMethodRS256, "rsa", keys.rsa, expired),
			want: ErrTokenExpired,
		},
		{
			name: "not yet valid",
			raw:  sign(t, jwt.SigningMethodRS256, "rsa", keys.rsa, notYet),
			want: ErrTokenNotYetValid,
		},
		{
			name: "missing exp",
			raw:  sign(t, jwt.SigningMethodRS256, "rsa", keys.rsa, noExp),
			want: ErrClaimMismatch,
		},
		{
			name:   "issuer mismatch",
			raw:    sign(t, jwt.SigningMethodRS256, "rsa", keys.rsa, validClaims(now)),
			issuer: "https://evil.example.com/realms/test",
			want:   ErrInvalidIssuer,
		},
		{
			name:     "audience mismatch",
			raw:      sign(t, jwt.SigningMethodRS256, "rsa", keys.rsa, validClaims(now)),
			audience: "someone-else",
			want:     ErrInvalidAudience,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			issuer, audience := tt.issuer, tt.audience
			if issuer == "" {
				issuer = testIssuer
			}
			if audience == "" {
				audience = testAudience
			}

			_, err := v.Verify(context.Background(), tt.raw, issuer, audience)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, kcerrors.IsTokenValidation(err))
		})
	}
}

func TestVerify_ClaimMismatchSentinels(t *testing.T) {
	t.Parallel()

	assert.ErrorIs(t, ErrInvalidIssuer, ErrClaimMismatch)
	assert.ErrorIs(t, ErrInvalidAudience, ErrClaimMismatch)
}

func TestVerify_UnsupportedAlgorithm(t *testing.T) {
	t.Parallel()

	_, finder := newTestKeys(t)
	v := NewVerifier(finder)

	for _, alg := range []string{"none", "EdDSA", "ES521", ""} {
		t.Run("alg="+alg, func(t *testing.T) {
			t.Parallel()
			hdr := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"` + alg + `","kid":"rsa"}`))
			body := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"alice"}`))

			_, err := v.Verify(context.Background(), hdr+"."+body+".", "", "")
			require.Error(t, err)
			assert.True(t, kcerrors.IsUnsupportedAlgorithm(err))
		})
	}
}

func TestVerify_AlgorithmConfusion(t *testing.T) {
	t.Parallel()

	keys, finder := newTestKeys(t)
	v := NewVerifier(finder)
	now := time.Now()

	t.Run("HS256 with an RSA key id", func(t *testing.T) {
		t.Parallel()
		// An attacker signs with the public key bytes as the HMAC secret.
		raw := sign(t, jwt.SigningMethodHS256, "rsa", keys.rsa.PublicKey.N.Bytes(), validClaims(now))

		_, err := v.Verify(context.Background(), raw, testIssuer, testAudience)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("RS256 with an EC key id", func(t *testing.T) {
		t.Parallel()
		raw := sign(t, jwt.SigningMethodRS256, "ec", keys.rsa, validClaims(now))

		_, err := v.Verify(context.Background(), raw, testIssuer, testAudience)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})
}

func TestVerify_UnknownKey(t *testing.T) {
	t.Parallel()

	keys, finder := newTestKeys(t)
	v := NewVerifier(finder)

	raw := sign(t, jwt.SigningMethodRS256, "rotated-away", keys.rsa, validClaims(time.Now()))
	_, err := v.Verify(context.Background(), raw, testIssuer, testAudience)
	require.Error(t, err)
	assert.True(t, kcerrors.IsUnknownKey(err))
}

func TestVerify_UndecodableSignature(t *testing.T) {
	t.Parallel()

	keys, finder := newTestKeys(t)
	v := NewVerifier(finder)

	raw := sign(t, jwt.SigningMethodRS256, "rsa", keys.rsa, validClaims(time.Now()))
	parts := strings.Split(raw, ".")
	tampered := parts[0] + "." + parts[1] + ".***"

	_, err := v.Verify(context.Background(), tampered, testIssuer, testAudience)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_AnySignatureCharacterChangeFails(t *testing.T) {
	t.Parallel()

	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

	keys, finder := newTestKeys(t)
	v := NewVerifier(finder)
	now := time.Now()

	tests := []struct {
		method jwt.SigningMethod
		kid    string
		key    any
	}{
		{jwt.SigningMethodRS256, "rsa", keys.rsa},
		{jwt.SigningMethodES256, "ec", keys.ec},
		{jwt.SigningMethodHS256, "hs", keys.hmac},
	}

	for _, tt := range tests {
		t.Run(tt.method.Alg(), func(t *testing.T) {
			t.Parallel()

			raw := sign(t, tt.method, tt.kid, tt.key, validClaims(now))
			cut := strings.LastIndex(raw, ".") + 1
			signed, sig := raw[:cut], raw[cut:]

			for i := range len(sig) {
				for _, c := range []byte(alphabet) {
					if c == sig[i] {
						continue
					}
					tampered := []byte(sig)
					tampered[i] = c

					_, err := v.Verify(context.Background(), signed+string(tampered), testIssuer, testAudience)
					if !assert.ErrorIs(t, err, ErrInvalidSignature, "position %d: %q -> %q", i, sig[i], c) {
						return
					}
				}
			}
		})
	}
}

func TestVerify_PaddedSegments(t *testing.T) {
	t.Parallel()

	keys, finder := newTestKeys(t)
	v := NewVerifier(finder)

	claims := validClaims(time.Now())
	claims["x"] = "pad"
	raw := sign(t, jwt.SigningMethodHS256, "hs", keys.hmac, claims)

	parts := strings.Split(raw, ".")
	for i := range parts {
		if rem := len(parts[i]) % 4; rem != 0 {
			parts[i] += strings.Repeat("=", 4-rem)
		}
	}

	_, err := v.Verify(context.Background(), strings.Join(parts, "."), testIssuer, testAudience)
	require.NoError(t, err)
}

func TestVerify_LeewayAndClock(t *testing.T) {
	t.Parallel()

	keys, finder := newTestKeys(t)
	issued := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	raw := sign(t, jwt.SigningMethodRS256, "rsa", keys.rsa, validClaims(issued))

	late := issued.Add(5*time.Minute + 10*time.Second)

	strict := NewVerifier(finder, WithClock(func() time.Time { return late }))
	_, err := strict.Verify(context.Background(), raw, "", "")
	assert.ErrorIs(t, err, ErrTokenExpired)

	lenient := NewVerifier(finder, WithClock(func() time.Time { return late }), WithLeeway(30*time.Second))
	_, err = lenient.Verify(context.Background(), raw, "", "")
	assert.NoError(t, err)
}

func TestVerify_KeyLookupErrorPassesThrough(t *testing.T) {
	t.Parallel()

	keys, _ := newTestKeys(t)
	boom := kcerrors.NewNetworkError("jwks unreachable", errors.New("dial tcp"))
	v := NewVerifier(failingKeys{err: boom})

	raw := sign(t, jwt.SigningMethodRS256, "rsa", keys.rsa, validClaims(time.Now()))
	_, err := v.Verify(context.Background(), raw, "", "")
	assert.ErrorIs(t, err, boom)
}

type failingKeys struct{ err error }

func (f failingKeys) Find(context.Context, string) (jwks.Key, error) { return jwks.Key{}, f.err }

func TestUnverifiedHeader(t *testing.T) {
	t.Parallel()

	keys, _ := newTestKeys(t)
	raw := sign(t, jwt.SigningMethodES256, "ec", keys.ec, validClaims(time.Now()))

	alg, kid, err := UnverifiedHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, "ES256", alg)
	assert.Equal(t, "ec", kid)

	_, _, err = UnverifiedHeader("garbage")
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestSupportedAlgorithms(t *testing.T) {
	t.Parallel()

	algs := SupportedAlgorithms()
	assert.Len(t, algs, 12)
	assert.NotContains(t, algs, "none")
}
