// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the credkeeper command-line application.
package app

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/credkeeper/pkg/logger"
	"github.com/stacklok/credkeeper/pkg/versions"
)

// NewRootCmd creates a new root command for the credkeeper CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "credkeeper",
		DisableAutoGenTag: true,
		Short:             "credkeeper keeps an OAuth session fresh on this machine",
		Long: `credkeeper stores the credentials of an identity provider session and hands
out access tokens that stay valid for as long as the caller needs, renewing
them with the refresh token when they do not.

Credentials can be kept in an encrypted file, an SQLite database, the OS
keyring or a shared Redis instance. The serve command exposes the same
operations to local applications over HTTP.`,
		Run: func(cmd *cobra.Command, _ []string) {
			// If no subcommand is provided, print help
			if err := cmd.Help(); err != nil {
				logger.Errorf("Error displaying help: %v", err)
			}
		},
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Initialize()
		},
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the credkeeper configuration file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}

	rootCmd.PersistentFlags().String("store-key", "", "Name of the stored session (overrides store.key)")
	if err := viper.BindPFlag("store.key", rootCmd.PersistentFlags().Lookup("store-key")); err != nil {
		logger.Errorf("Error binding store-key flag: %v", err)
	}

	rootCmd.PersistentFlags().String("store-type", "", "Credential store: file, sqlite, keyring, redis or memory (overrides store.type)")
	if err := viper.BindPFlag("store.type", rootCmd.PersistentFlags().Lookup("store-type")); err != nil {
		logger.Errorf("Error binding store-type flag: %v", err)
	}

	rootCmd.AddCommand(
		newGetCmd(),
		newSaveCmd(),
		newHasValidCmd(),
		newClearCmd(),
		newRenewCmd(),
		newRevokeCmd(),
		newUserCmd(),
		newServeCmd(),
		newSecretCmd(),
		newPasscodeCmd(),
		newVersionCmd(),
	)

	// Silence printing the usage on error
	rootCmd.SilenceUsage = true

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the version of credkeeper",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printJSON(cmd.OutOrStdout(), versions.GetVersionInfo())
		},
	}
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
