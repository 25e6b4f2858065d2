// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/stacklok/credkeeper/pkg/bridge"
)

type getFlags struct {
	minTTL int64
	scopes []string
	params map[string]string
	force  bool
}

func newGetCmd() *cobra.Command {
	var flags getFlags
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print credentials, renewing them if needed",
		Long: `Print the stored credentials as JSON.

The access token is renewed with the refresh token first when it expires
within --min-ttl seconds, when --scope differs from the stored scope, or when
--force is given. Concurrent renewals for the same session share a single
request to the identity provider.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return callMethod(cmd, bridge.MethodGetCredentials, flags.arguments())
		},
	}
	cmd.Flags().Int64Var(&flags.minTTL, "min-ttl", 0, "Seconds the access token must remain valid")
	cmd.Flags().StringSliceVar(&flags.scopes, "scope", nil, "Scope to request (repeatable)")
	cmd.Flags().StringToStringVar(&flags.params, "param", nil, "Extra parameter sent on renewal, as key=value")
	cmd.Flags().BoolVar(&flags.force, "force", false, "Renew even when the stored token is fresh")
	return cmd
}

func (f getFlags) arguments() map[string]any {
	args := map[string]any{
		"minTtl":       f.minTTL,
		"forceRefresh": f.force,
	}
	if len(f.scopes) > 0 {
		args["scopes"] = f.scopes
	}
	if len(f.params) > 0 {
		args["parameters"] = f.params
	}
	return args
}

func newSaveCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Store credentials read as JSON",
		Long: `Store a set of credentials, replacing any stored session.

The credentials are read from --file, or from stdin when it is not given,
as a JSON object with the fields accessToken, idToken, tokenType, expiresAt
(RFC 3339), scopes and optionally refreshToken.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := cmd.InOrStdin()
			if file != "" {
				f, err := os.Open(file) // #nosec G304 - path is supplied by the user
				if err != nil {
					return fmt.Errorf("failed to open credentials file: %w", err)
				}
				defer f.Close()
				in = f
			}
			creds, err := readCredentials(in)
			if err != nil {
				return err
			}
			return callMethod(cmd, bridge.MethodSaveCredentials, map[string]any{"credentials": creds})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read credentials from this file instead of stdin")
	return cmd
}

func readCredentials(r io.Reader) (map[string]any, error) {
	data, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	var creds map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	return creds, nil
}

func newHasValidCmd() *cobra.Command {
	var minTTL int64
	cmd := &cobra.Command{
		Use:   "has-valid",
		Short: "Report whether usable credentials are stored",
		Long: `Print true when the stored access token stays valid for --min-ttl seconds
or can be renewed with the stored refresh token, false otherwise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return callMethod(cmd, bridge.MethodHasValidCredentials, map[string]any{"minTtl": minTTL})
		},
	}
	cmd.Flags().Int64Var(&minTTL, "min-ttl", 0, "Seconds the access token must remain valid")
	return cmd
}

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return callMethod(cmd, bridge.MethodClearCredentials, map[string]any{})
		},
	}
}

func newRenewCmd() *cobra.Command {
	var params map[string]string
	cmd := &cobra.Command{
		Use:   "renew",
		Short: "Renew the credentials now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			args := map[string]any{}
			if len(params) > 0 {
				args["parameters"] = params
			}
			return callMethod(cmd, bridge.MethodRenewCredentials, args)
		},
	}
	cmd.Flags().StringToStringVar(&params, "param", nil, "Extra parameter sent on renewal, as key=value")
	return cmd
}

func newRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke",
		Short: "Revoke the refresh token and delete the stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return callMethod(cmd, bridge.MethodRevokeCredentials, map[string]any{})
		},
	}
}

func newUserCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "user",
		Short: "Print the user profile from the stored ID token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return callMethod(cmd, bridge.MethodGetUserInfo, map[string]any{})
		},
	}
}

// callMethod runs method against the configured account and prints its
// result as JSON.
func callMethod(cmd *cobra.Command, method string, args map[string]any) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	result, err := rt.dispatcher.Handle(ctx, method, args)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}
