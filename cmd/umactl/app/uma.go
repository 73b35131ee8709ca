// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stacklok/umakit/pkg/uma"
)

// errDenied is returned by authorize so that scripts can test the exit status.
var errDenied = errors.New("access denied")

const tokenFlagUsage = "Bearer token of the requesting party (defaults to the client's PAT)"

func newRPTCmd(rt *runtime) *cobra.Command {
	var ticket string

	cmd := &cobra.Command{
		Use:   "rpt",
		Short: "Obtain a requesting party token",
		Long: `Exchange a permission ticket for a requesting party token (RPT). Without --ticket
the realm is asked for every permission the requesting party holds on resources of
the configured client.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := rt.newClient(cmd)
			if err != nil {
				return err
			}
			defer closeClient(c)

			token, err := bearerToken(cmd, c)
			if err != nil {
				return err
			}
			rpt, err := c.Broker.RPT(cmd.Context(), ticket, token)
			if err != nil {
				return err
			}
			return printJSON(cmd, rptOutput{
				AccessToken: rpt.AccessToken,
				ExpiresAt:   rpt.Expiry().UTC(),
				Upgraded:    rpt.Upgraded,
				Permissions: rpt.Permissions,
			})
		},
	}

	cmd.Flags().StringVar(&ticket, "ticket", "", "Permission ticket to exchange")
	cmd.Flags().String("token", "", tokenFlagUsage)

	return cmd
}

type rptOutput struct {
	AccessToken string          `json:"access_token"`
	ExpiresAt   time.Time       `json:"expires_at"`
	Upgraded    bool            `json:"upgraded,omitempty"`
	Permissions uma.Permissions `json:"permissions"`
}

func newIntrospectCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "introspect <rpt>",
		Short: "Introspect a requesting party token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := rt.newClient(cmd)
			if err != nil {
				return err
			}
			defer closeClient(c)

			res, err := c.Broker.Introspect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

type decisionOutput struct {
	Allowed     bool            `json:"allowed"`
	Reason      string          `json:"reason,omitempty"`
	Permissions uma.Permissions `json:"permissions,omitempty"`
}

func newAuthorizeCmd(rt *runtime) *cobra.Command {
	var (
		resourceIDs  []string
		resourceName string
		scope        string
	)

	cmd := &cobra.Command{
		Use:   "authorize",
		Short: "Decide whether the requesting party may use a resource",
		Long: `Run the whole UMA flow for one access check: request a permission ticket for the
given resource ids (skipped when none are given), exchange it for an RPT, introspect
the RPT and look for --resource-name with --scope among its permissions.

The decision is printed; the command exits non-zero when access is denied.`,
		Example: `  umactl authorize --resource-id 7f3c --resource-name Documents --scope view`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := rt.newClient(cmd)
			if err != nil {
				return err
			}
			defer closeClient(c)

			token, err := bearerToken(cmd, c)
			if err != nil {
				return err
			}

			var requests []uma.PermissionRequest
			for _, id := range resourceIDs {
				req := uma.PermissionRequest{ResourceID: id}
				if scope != "" {
					req.ResourceScopes = []string{scope}
				}
				requests = append(requests, req)
			}

			d, err := c.Broker.Authorize(cmd.Context(), token, requests, resourceName, scope)
			if err != nil {
				return err
			}
			if err := printJSON(cmd, decisionOutput{Allowed: d.Allowed, Reason: d.Reason, Permissions: d.Permissions}); err != nil {
				return err
			}
			if !d.Allowed {
				return fmt.Errorf("%w: %s", errDenied, d.Reason)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&resourceIDs, "resource-id", nil, "Resource id to request a permission ticket for (repeatable)")
	cmd.Flags().StringVar(&resourceName, "resource-name", "", "Resource name that must be granted")
	cmd.Flags().StringVar(&scope, "scope", "", "Scope that must be granted on the resource")
	cmd.Flags().String("token", "", tokenFlagUsage)
	_ = cmd.MarkFlagRequired("resource-name")

	return cmd
}
