// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package metrics counts calls made to the identity provider.
package metrics

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stacklok/umakit/pkg/networking"
)

// Operations recorded by umakit components.
const (
	OpDiscovery     = "discovery"
	OpJWKS          = "jwks"
	OpTokenGrant    = "token_grant"
	OpTokenRefresh  = "token_refresh"
	OpCodeExchange  = "code_exchange"
	OpLogout        = "logout"
	OpUserInfo      = "userinfo"
	OpTicket        = "permission_ticket"
	OpRPT           = "rpt"
	OpIntrospection = "introspection"
	OpResource      = "resource"
	OpPolicy        = "policy"
)

// Outcomes
const (
	OutcomeSuccess     = "success"
	OutcomeClientError = "client_error"
	OutcomeServerError = "server_error"
	OutcomeCanceled    = "canceled"
	OutcomeError       = "error"
)

// Recorder records the outcome of one upstream call.
type Recorder interface {
	Record(operation string, err error)
}

// Noop discards every observation.
type Noop struct{}

// Record implements Recorder.
func (Noop) Record(string, error) {}

// Collector is a Recorder backed by a Prometheus counter vector.
type Collector struct {
	requests *prometheus.CounterVec
}

// NewCollector registers umakit_upstream_requests_total with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "umakit",
		Name:      "upstream_requests_total",
		Help:      "Requests sent to the identity provider, by operation and outcome.",
	}, []string{"operation", "outcome"})

	if err := reg.Register(requests); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}
		requests = existing
	}
	return &Collector{requests: requests}, nil
}

// Record implements Recorder.
func (c *Collector) Record(operation string, err error) {
	c.requests.WithLabelValues(operation, Outcome(err)).Inc()
}

// Outcome classifies err into one of the outcome label values.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	case networking.IsClientError(err):
		return OutcomeClientError
	case networking.StatusCode(err) >= 500:
		return OutcomeServerError
	default:
		return OutcomeError
	}
}

// OrNoop returns r, or Noop when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return Noop{}
	}
	return r
}
