// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stacklok/credkeeper/pkg/secrets"
)

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage the master secret of encrypted stores",
		Long: `The file, sqlite and redis stores encrypt credentials with a key derived
from a master secret. The secret is read from ` + secrets.PasswordEnvVar + ` or kept
in the OS keyring, where it is created on first use.`,
	}
	cmd.AddCommand(newSecretResetKeyringCmd())
	return cmd
}

func newSecretResetKeyringCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-keyring",
		Short: "Delete the master secret from the OS keyring",
		Long: `Delete the master secret from the OS keyring.

Credentials encrypted with the old secret can no longer be read; they are
treated as absent and replaced on the next save.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resolver := secrets.NewResolver()
			if err := resolver.ResetKeyringSecret(); err != nil {
				return fmt.Errorf("failed to reset the keyring secret: %w", err)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Master secret removed from %s\n", resolver.Keyring().Name())
			return err
		},
	}
}
