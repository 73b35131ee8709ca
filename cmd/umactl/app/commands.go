// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the commands of the umactl command-line application.
package app

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/umakit/pkg/logger"
	"github.com/stacklok/umakit/pkg/metrics"
)

// runtime carries what the subcommands share for one invocation.
type runtime struct {
	registry  *prometheus.Registry
	collector *metrics.Collector
}

// NewRootCmd creates a new root command for the umactl CLI.
func NewRootCmd() *cobra.Command {
	rt := &runtime{}

	rootCmd := &cobra.Command{
		Use:               "umactl",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Short:             "umactl talks to a Keycloak realm as a confidential UMA client",
		Long: `umactl discovers a Keycloak realm, obtains protection API tokens, verifies
signed tokens and exercises the UMA 2.0 authorization flow: permission tickets,
requesting party tokens and their introspection.

The client is configured by a settings file (--config, $KEYCLOAK_SETTINGS or
keycloak.json) and KEYCLOAK_* environment variables.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range []string{"config", "debug", "metrics"} {
				if err := viper.BindPFlag(name, cmd.Root().PersistentFlags().Lookup(name)); err != nil {
					return fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
			logger.Initialize()

			rt.registry = prometheus.NewRegistry()
			collector, err := metrics.NewCollector(rt.registry)
			if err != nil {
				return err
			}
			rt.collector = collector
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if !viper.GetBool("metrics") {
				return nil
			}
			return rt.writeMetrics(cmd)
		},
		Run: func(cmd *cobra.Command, _ []string) {
			// If no subcommand is provided, print help
			if err := cmd.Help(); err != nil {
				logger.Errorf("Error displaying help: %v", err)
			}
		},
	}

	rootCmd.PersistentFlags().String("config", "", "Path to the settings file")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	rootCmd.PersistentFlags().Bool("metrics", false, "Print the upstream request counters to stderr on exit")

	rootCmd.AddCommand(newDiscoverCmd(rt))
	rootCmd.AddCommand(newTokenCmd(rt))
	rootCmd.AddCommand(newVerifyCmd(rt))
	rootCmd.AddCommand(newRPTCmd(rt))
	rootCmd.AddCommand(newIntrospectCmd(rt))
	rootCmd.AddCommand(newAuthorizeCmd(rt))
	rootCmd.AddCommand(newLoginCmd(rt))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// writeMetrics prints one line per counter in the Prometheus text style.
func (rt *runtime) writeMetrics(cmd *cobra.Command) error {
	if rt.registry == nil {
		return nil
	}
	families, err := rt.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, l := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
			}
			lines = append(lines, fmt.Sprintf("%s{%s} %g", mf.GetName(), strings.Join(labels, ","), m.GetCounter().GetValue()))
		}
	}
	sort.Strings(lines)
	for _, line := range lines {
		fmt.Fprintln(cmd.ErrOrStderr(), line)
	}
	return nil
}
