// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package errors defines the error taxonomy shared by every umakit component.
//
// Provider-facing failures are surfaced as *Error values carrying a Type so that
// callers can decide between re-login, explicit deny and plain failure without
// string matching. HTTP status failures are represented by networking.HTTPError
// and are usually found in the Cause chain.
package errors

import (
	"errors"
	"fmt"
)

// Error types
const (
	// ErrConfiguration is returned when discovery or credentials are missing or invalid
	ErrConfiguration = "configuration"

	// ErrNetwork is returned when the provider could not be reached or answered with a non-2xx status
	ErrNetwork = "network"

	// ErrInvalidState is returned when a login callback carries a state that does not match
	ErrInvalidState = "invalid_state"

	// ErrUnsupportedAlgorithm is returned when a JWT header names an algorithm outside the allow-list
	ErrUnsupportedAlgorithm = "unsupported_algorithm"

	// ErrTokenValidation is returned when a JWT fails signature, expiry or claim checks
	ErrTokenValidation = "token_validation"

	// ErrTokenRefresh is returned when the provider rejects a refresh grant
	ErrTokenRefresh = "token_refresh"

	// ErrInvalidTicket is returned when a permission ticket or RPT exchange is rejected
	ErrInvalidTicket = "invalid_ticket"

	// ErrUnknownKey is returned when no signing key matches a key id, even after a re-fetch
	ErrUnknownKey = "unknown_key"
)

// Error represents an error in the client
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigurationError creates a new configuration error
func NewConfigurationError(message string, cause error) *Error {
	return NewError(ErrConfiguration, message, cause)
}

// NewNetworkError creates a new network error
func NewNetworkError(message string, cause error) *Error {
	return NewError(ErrNetwork, message, cause)
}

// NewInvalidStateError creates a new invalid state error
func NewInvalidStateError(message string, cause error) *Error {
	return NewError(ErrInvalidState, message, cause)
}

// NewUnsupportedAlgorithmError creates a new unsupported algorithm error
func NewUnsupportedAlgorithmError(message string, cause error) *Error {
	return NewError(ErrUnsupportedAlgorithm, message, cause)
}

// NewTokenValidationError creates a new token validation error
func NewTokenValidationError(message string, cause error) *Error {
	return NewError(ErrTokenValidation, message, cause)
}

// NewTokenRefreshError creates a new token refresh error
func NewTokenRefreshError(message string, cause error) *Error {
	return NewError(ErrTokenRefresh, message, cause)
}

// NewInvalidTicketError creates a new invalid ticket error
func NewInvalidTicketError(message string, cause error) *Error {
	return NewError(ErrInvalidTicket, message, cause)
}

// NewUnknownKeyError creates a new unknown key error
func NewUnknownKeyError(message string, cause error) *Error {
	return NewError(ErrUnknownKey, message, cause)
}

// isType reports whether any *Error in the chain of err has the given type.
func isType(err error, errorType string) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errorType {
			return true
		}
		err = e.Cause
	}
	return false
}

// IsConfiguration checks if the error is a configuration error
func IsConfiguration(err error) bool {
	return isType(err, ErrConfiguration)
}

// IsNetwork checks if the error is a network error
func IsNetwork(err error) bool {
	return isType(err, ErrNetwork)
}

// IsInvalidState checks if the error is an invalid state error
func IsInvalidState(err error) bool {
	return isType(err, ErrInvalidState)
}

// IsUnsupportedAlgorithm checks if the error is an unsupported algorithm error
func IsUnsupportedAlgorithm(err error) bool {
	return isType(err, ErrUnsupportedAlgorithm)
}

// IsTokenValidation checks if the error is a token validation error
func IsTokenValidation(err error) bool {
	return isType(err, ErrTokenValidation)
}

// IsTokenRefresh checks if the error is a token refresh error
func IsTokenRefresh(err error) bool {
	return isType(err, ErrTokenRefresh)
}

// IsInvalidTicket checks if the error is an invalid ticket error
func IsInvalidTicket(err error) bool {
	return isType(err, ErrInvalidTicket)
}

// IsUnknownKey checks if the error is an unknown key error
func IsUnknownKey(err error) bool {
	return isType(err, ErrUnknownKey)
}

// RequiresReauthentication reports whether the caller should drop the session and
// send the user back through login.
func RequiresReauthentication(err error) bool {
	return IsTokenRefresh(err) || IsInvalidState(err)
}
