// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package uma

import (
	"context"

	kcerrors "github.com/stacklok/umakit/pkg/errors"
	"github.com/stacklok/umakit/pkg/logger"
)

// Deny reasons
const (
	ReasonTicketRejected = "permission ticket rejected"
	ReasonNotAuthorized  = "not authorized"
	ReasonInactive       = "rpt is not active"
	ReasonNoPermission   = "no matching permission"
)

// Decision is the outcome of Authorize. A denied decision always carries a Reason.
type Decision struct {
	Allowed     bool
	Reason      string
	Permissions Permissions
}

func deny(reason string, perms Permissions) Decision {
	return Decision{Reason: reason, Permissions: perms}
}

// Authorize decides whether the holder of aat may use scope on resourceName. It asks
// for a ticket covering requests (or a ticketless RPT when requests is empty), redeems
// it, introspects the RPT and matches its permissions. Rejections by the provider are
// returned as a denied Decision; only transport and configuration failures are errors.
func (b *Broker) Authorize(
	ctx context.Context,
	aat string,
	requests []PermissionRequest,
	resourceName, scope string,
) (Decision, error) {
	var ticket string
	if len(requests) > 0 {
		t, err := b.Ticket(ctx, requests, aat)
		if kcerrors.IsInvalidTicket(err) {
			logger.Debugw("authorization denied", "resource", resourceName, "scope", scope, "reason", ReasonTicketRejected)
			return deny(ReasonTicketRejected, nil), nil
		}
		if err != nil {
			return Decision{}, err
		}
		ticket = t.Ticket
	}

	rpt, err := b.RPT(ctx, ticket, aat)
	if kcerrors.IsInvalidTicket(err) {
		logger.Debugw("authorization denied", "resource", resourceName, "scope", scope, "reason", ReasonNotAuthorized)
		return deny(ReasonNotAuthorized, nil), nil
	}
	if err != nil {
		return Decision{}, err
	}

	result, err := b.Introspect(ctx, rpt.AccessToken)
	if err != nil {
		return Decision{}, err
	}
	switch {
	case !result.Active:
		return deny(ReasonInactive, nil), nil
	case !result.Permissions.Allows(resourceName, scope):
		logger.Debugw("authorization denied", "resource", resourceName, "scope", scope, "reason", ReasonNoPermission)
		return deny(ReasonNoPermission, result.Permissions), nil
	}
	return Decision{Allowed: true, Permissions: result.Permissions}, nil
}
