// Package cmd contains the pluginhub command line.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	v1 "ocm.software/open-component-model/pluginhub/configuration/v1"
	"ocm.software/open-component-model/pluginhub/log"
)

// Execute runs the root command and exits non-zero on failure.
// This is called by main.main().
func Execute() {
	if err := New().Execute(); err != nil {
		os.Exit(1)
	}
}

// New returns the root command.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pluginhub [sub-command]",
		Short: "Plugin management service for the OCM console",
		Long: `pluginhub installs, upgrades and configures console plugins, tracks their
running state and serves their merged script and stylesheet bundles.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := log.GetBaseLogger(cmd)
			if err != nil {
				return fmt.Errorf("could not retrieve logger: %w", err)
			}
			slog.SetDefault(logger)
			return nil
		},
		SilenceUsage:      true,
		DisableAutoGenTag: true,
	}

	v1.RegisterConfigFlag(cmd)
	log.RegisterLoggingFlags(cmd)
	cmd.AddCommand(NewServeCommand())
	return cmd
}
