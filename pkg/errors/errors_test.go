// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "error with cause",
			err: &Error{
				Type:    ErrConfiguration,
				Message: "test message",
				Cause:   errors.New("underlying error"),
			},
			want: "configuration: test message: underlying error",
		},
		{
			name: "error without cause",
			err: &Error{
				Type:    ErrInvalidState,
				Message: "test message",
				Cause:   nil,
			},
			want: "invalid_state: test message",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := tt.err.Error()
			if got != tt.want {
				t.Errorf("Error.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("underlying error")
	err := &Error{
		Type:    ErrNetwork,
		Message: "test message",
		Cause:   cause,
	}

	if got := err.Unwrap(); got != cause {
		t.Errorf("Error.Unwrap() = %v, want %v", got, cause)
	}

	errNoCause := &Error{
		Type:    ErrNetwork,
		Message: "test message",
		Cause:   nil,
	}

	if got := errNoCause.Unwrap(); got != nil {
		t.Errorf("Error.Unwrap() = %v, want nil", got)
	}
}

func TestNewError(t *testing.T) {
	t.Parallel()

	cause := errors.New("underlying error")
	err := NewError(ErrTokenValidation, "test message", cause)

	if err.Type != ErrTokenValidation {
		t.Errorf("NewError().Type = %v, want %v", err.Type, ErrTokenValidation)
	}
	if err.Message != "test message" {
		t.Errorf("NewError().Message = %v, want %v", err.Message, "test message")
	}
	if err.Cause != cause {
		t.Errorf("NewError().Cause = %v, want %v", err.Cause, cause)
	}
}

func TestTypeChecks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		err   error
		check func(error) bool
		want  bool
	}{
		{"configuration", NewConfigurationError("x", nil), IsConfiguration, true},
		{"network", NewNetworkError("x", nil), IsNetwork, true},
		{"invalid state", NewInvalidStateError("x", nil), IsInvalidState, true},
		{"unsupported algorithm", NewUnsupportedAlgorithmError("x", nil), IsUnsupportedAlgorithm, true},
		{"token validation", NewTokenValidationError("x", nil), IsTokenValidation, true},
		{"token refresh", NewTokenRefreshError("x", nil), IsTokenRefresh, true},
		{"invalid ticket", NewInvalidTicketError("x", nil), IsInvalidTicket, true},
		{"unknown key", NewUnknownKeyError("x", nil), IsUnknownKey, true},
		{"wrong type", NewNetworkError("x", nil), IsConfiguration, false},
		{"plain error", errors.New("x"), IsNetwork, false},
		{"nil", nil, IsNetwork, false},
		{
			name:  "wrapped with fmt",
			err:   fmt.Errorf("outer: %w", NewInvalidTicketError("x", nil)),
			check: IsInvalidTicket,
			want:  true,
		},
		{
			name:  "nested typed cause",
			err:   NewNetworkError("outer", NewUnknownKeyError("inner", nil)),
			check: IsUnknownKey,
			want:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.check(tt.err); got != tt.want {
				t.Errorf("check(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRequiresReauthentication(t *testing.T) {
	t.Parallel()

	if !RequiresReauthentication(NewTokenRefreshError("refresh rejected", nil)) {
		t.Error("expected refresh failure to require re-authentication")
	}
	if !RequiresReauthentication(NewInvalidStateError("state mismatch", nil)) {
		t.Error("expected state mismatch to require re-authentication")
	}
	if RequiresReauthentication(NewNetworkError("timeout", nil)) {
		t.Error("expected network error not to require re-authentication")
	}
}
