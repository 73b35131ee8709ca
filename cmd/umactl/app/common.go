// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/umakit/pkg/client"
	"github.com/stacklok/umakit/pkg/config"
	"github.com/stacklok/umakit/pkg/logger"
	"github.com/stacklok/umakit/pkg/oauth"
)

// newClient loads the settings and builds a client that records into the invocation's registry.
func (rt *runtime) newClient(cmd *cobra.Command) (*client.Client, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	logger.Debugw("loaded settings", "config", cfg.String())

	c, err := client.New(cmd.Context(), cfg, client.WithRecorder(rt.collector))
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return c, nil
}

// closeClient releases c, logging rather than failing the command.
func closeClient(c *client.Client) {
	if err := c.Close(); err != nil {
		logger.Warnf("failed to close client: %v", err)
	}
}

// bearerToken returns the --token flag, or the client's own PAT.
func bearerToken(cmd *cobra.Command, c *client.Client) (string, error) {
	if t, _ := cmd.Flags().GetString("token"); t != "" {
		return t, nil
	}
	return c.PAT(cmd.Context())
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

// tokenSummary is what umactl prints about a token set. Credentials are redacted.
type tokenSummary struct {
	TokenType       string    `json:"token_type"`
	Scope           string    `json:"scope,omitempty"`
	AccessToken     string    `json:"access_token"`
	ExpiresAt       time.Time `json:"expires_at"`
	HasRefreshToken bool      `json:"has_refresh_token"`
	RefreshExpires  time.Time `json:"refresh_expires_at,omitzero"`
	HasIDToken      bool      `json:"has_id_token"`
}

func summarize(ts *oauth.TokenSet) tokenSummary {
	return tokenSummary{
		TokenType:       ts.TokenType,
		Scope:           ts.Scope,
		AccessToken:     logger.Redact(ts.AccessToken),
		ExpiresAt:       ts.Expiry().UTC(),
		HasRefreshToken: ts.HasRefreshToken(),
		RefreshExpires:  ts.RefreshExpiry().UTC(),
		HasIDToken:      ts.IDToken != "",
	}
}
