// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package oauth performs the token endpoint grants of a confidential client and models
// the credentials they return.
package oauth

import (
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/stacklok/umakit/pkg/logger"
)

// TokenSet is the credential material returned by one token endpoint call.
// IssuedAt is taken from the client clock when the response was received.
type TokenSet struct {
	AccessToken      string
	RefreshToken     string
	IDToken          string
	TokenType        string
	Scope            string
	ExpiresIn        time.Duration
	RefreshExpiresIn time.Duration
	IssuedAt         time.Time
}

// Expiry returns IssuedAt + ExpiresIn.
func (t *TokenSet) Expiry() time.Time {
	return t.IssuedAt.Add(t.ExpiresIn)
}

// Expired reports whether now - IssuedAt >= ExpiresIn. A nil set is expired.
func (t *TokenSet) Expired(now time.Time) bool {
	if t == nil {
		return true
	}
	return now.Sub(t.IssuedAt) >= t.ExpiresIn
}

// RefreshExpiry returns when the refresh token stops being accepted, or the zero time
// when the provider did not say.
func (t *TokenSet) RefreshExpiry() time.Time {
	if t.RefreshExpiresIn == 0 {
		return time.Time{}
	}
	return t.IssuedAt.Add(t.RefreshExpiresIn)
}

// HasRefreshToken reports whether the set can be refreshed.
func (t *TokenSet) HasRefreshToken() bool {
	return t != nil && t.RefreshToken != ""
}

// Clone returns a copy that shares nothing with t.
func (t *TokenSet) Clone() *TokenSet {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}

// OAuth2Token converts the set for use with golang.org/x/oauth2.
func (t *TokenSet) OAuth2Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry(),
		ExpiresIn:    int64(t.ExpiresIn / time.Second),
	}
	if t.IDToken != "" {
		tok = tok.WithExtra(map[string]any{"id_token": t.IDToken})
	}
	return tok
}

// String returns a representation safe for logs.
func (t *TokenSet) String() string {
	if t == nil {
		return "<nil>"
	}
	return fmt.Sprintf("TokenSet{AccessToken: %s, RefreshToken: %s, IDToken: %s, TokenType: %s, Scope: %q, "+
		"ExpiresIn: %s, RefreshExpiresIn: %s, IssuedAt: %s}",
		logger.Redact(t.AccessToken), logger.Redact(t.RefreshToken), logger.Redact(t.IDToken),
		t.TokenType, t.Scope, t.ExpiresIn, t.RefreshExpiresIn, t.IssuedAt.Format(time.RFC3339))
}

// FromOAuth2 builds a TokenSet from a token endpoint response received at issuedAt.
// The lifetime is the expires_in the server sent; Expiry is only used when the raw
// response is gone, since x/oauth2 computes it from the wall clock. Negative lifetimes
// are clamped to zero.
func FromOAuth2(tok *oauth2.Token, issuedAt time.Time) *TokenSet {
	ts := &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		IssuedAt:     issuedAt,
		ExpiresIn:    seconds(tok.ExpiresIn),
	}
	if ts.ExpiresIn == 0 {
		ts.ExpiresIn = seconds(extraInt(tok, "expires_in"))
	}
	if ts.ExpiresIn == 0 && !tok.Expiry.IsZero() {
		ts.ExpiresIn = max(tok.Expiry.Sub(issuedAt), 0)
	}
	if v, ok := tok.Extra("id_token").(string); ok {
		ts.IDToken = v
	}
	if v, ok := tok.Extra("scope").(string); ok {
		ts.Scope = v
	}
	ts.RefreshExpiresIn = seconds(extraInt(tok, "refresh_expires_in"))
	return ts
}

func seconds(n int64) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

// extraInt reads a numeric response field. JSON responses carry float64, form
// encoded ones carry strings.
func extraInt(tok *oauth2.Token, key string) int64 {
	switch v := tok.Extra(key).(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case string:
		var n int64
		if _, err := fmt.Sscan(v, &n); err == nil {
			return n
		}
	}
	return 0
}
