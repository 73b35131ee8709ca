// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package logger holds the process-wide *slog.Logger that umakit logs through.
//
// Embedders route umakit's output into their own handler with [Set]. umactl calls
// [Initialize] after its flags are bound. Credentials never reach a log line in the
// clear: pass them through [Redact] or wrap them in [Secret].
package logger

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/spf13/viper"

	"github.com/stacklok/toolhive-core/env"
	"github.com/stacklok/toolhive-core/logging"
)

// UnstructuredLogsEnvVar selects text output when true (the default) and JSON when false.
const UnstructuredLogsEnvVar = "UNSTRUCTURED_LOGS"

const (
	redactKeep   = 6
	redactedMark = "[REDACTED]"
	emptyMark    = "<empty>"
)

var current atomic.Pointer[slog.Logger]

func init() {
	current.Store(logging.New())
}

// Set routes all umakit logging to l.
func Set(l *slog.Logger) {
	current.Store(l)
}

// Initialize configures the logger for umactl: text unless UNSTRUCTURED_LOGS is false,
// debug level when viper's "debug" is set.
func Initialize() {
	InitializeWithEnv(&env.OSReader{})
}

// InitializeWithEnv is Initialize reading the environment through envReader.
func InitializeWithEnv(envReader env.Reader) {
	var opts []logging.Option
	if textFormat(envReader) {
		opts = append(opts, logging.WithFormat(logging.FormatText))
	}
	if viper.GetBool("debug") {
		opts = append(opts, logging.WithLevel(slog.LevelDebug))
	}
	current.Store(logging.New(opts...))
}

func textFormat(envReader env.Reader) bool {
	text, err := strconv.ParseBool(envReader.Getenv(UnstructuredLogsEnvVar))
	if err != nil {
		return true
	}
	return text
}

// Debugf logs a formatted message at debug level.
func Debugf(msg string, args ...any) {
	current.Load().Debug(fmt.Sprintf(msg, args...))
}

// Debugw logs msg at debug level with key-value pairs.
func Debugw(msg string, keysAndValues ...any) {
	current.Load().Debug(msg, keysAndValues...)
}

// Warnf logs a formatted message at warning level.
func Warnf(msg string, args ...any) {
	current.Load().Warn(fmt.Sprintf(msg, args...))
}

// Warnw logs msg at warning level with key-value pairs.
func Warnw(msg string, keysAndValues ...any) {
	current.Load().Warn(msg, keysAndValues...)
}

// Errorf logs a formatted message at error level.
func Errorf(msg string, args ...any) {
	current.Load().Error(fmt.Sprintf(msg, args...))
}

// Redact keeps the first few characters of a credential, enough to tell tokens apart
// (a JWT keeps part of its header) without making it usable. Short values are hidden
// entirely.
func Redact(secret string) string {
	switch {
	case secret == "":
		return emptyMark
	case len(secret) <= redactKeep*2:
		return redactedMark
	default:
		return secret[:redactKeep] + "..." + redactedMark
	}
}

// Secret is a credential that logs in redacted form, both as a slog attribute and
// through fmt.
type Secret string

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(Redact(string(s)))
}

// String implements fmt.Stringer.
func (s Secret) String() string {
	return Redact(string(s))
}
