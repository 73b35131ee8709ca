// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDiscoverCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Print the realm endpoints",
		Long: `Fetch the OpenID Connect and UMA discovery documents of the configured realm
and print the resulting endpoint set. Static endpoints from the settings file are
printed as configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := rt.newClient(cmd)
			if err != nil {
				return err
			}
			defer closeClient(c)

			eps, err := c.Endpoints(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, eps)
		},
	}
}

func newTokenCmd(rt *runtime) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Obtain a protection API token",
		Long: `Obtain a protection API token (PAT) for the configured client. The password grant
is used when the settings carry a username and password, the client credentials
grant otherwise.

The raw access token is printed so that it can be piped into other tools.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := rt.newClient(cmd)
			if err != nil {
				return err
			}
			defer closeClient(c)

			ts, err := c.Tokens.Get(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, summarize(ts))
			}
			fmt.Fprintln(cmd.OutOrStdout(), ts.AccessToken)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print a redacted summary of the token set instead")

	return cmd
}

func newVerifyCmd(rt *runtime) *cobra.Command {
	var audience string

	cmd := &cobra.Command{
		Use:   "verify <jwt>",
		Short: "Verify a token signed by the realm",
		Long: `Verify the signature, issuer and lifetime of a JWT against the realm signing keys
and print its claims. With --audience the token must also carry that audience.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := rt.newClient(cmd)
			if err != nil {
				return err
			}
			defer closeClient(c)

			claims, err := c.VerifyToken(cmd.Context(), args[0], audience)
			if err != nil {
				return err
			}
			return printJSON(cmd, claims)
		},
	}

	cmd.Flags().StringVar(&audience, "audience", "", "Audience the token must carry")

	return cmd
}
