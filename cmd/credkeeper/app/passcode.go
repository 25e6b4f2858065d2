// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/stacklok/credkeeper/pkg/config"
	"github.com/stacklok/credkeeper/pkg/localauth"
)

func newPasscodeCmd() *cobra.Command {
	var disable bool
	cmd := &cobra.Command{
		Use:   "passcode",
		Short: "Set the passcode required before credentials are handed out",
		Long: `Set the passcode that must be entered before get returns credentials.
The passcode is stored as a bcrypt hash in the configuration file and local
authentication is enabled. Use --disable to turn the prompt off again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath := viper.GetString("config")
			if disable {
				return config.Update(configPath, func(c *config.Config) {
					c.LocalAuth.Enabled = false
					c.LocalAuth.PasscodeHash = ""
				})
			}

			passcode, err := readPasscode(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			hash, err := localauth.HashPasscode(passcode)
			if err != nil {
				return err
			}
			if err := config.Update(configPath, func(c *config.Config) {
				c.LocalAuth.Enabled = true
				c.LocalAuth.PasscodeHash = hash
			}); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "Passcode updated")
			return err
		},
	}
	cmd.Flags().BoolVar(&disable, "disable", false, "Disable local authentication")
	return cmd
}

// readPasscode reads the passcode twice, without echo when in is a terminal.
func readPasscode(in io.Reader, out io.Writer) (string, error) {
	read := lineReader(in)
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		read = func() (string, error) {
			b, err := term.ReadPassword(int(f.Fd()))
			_, _ = fmt.Fprintln(out)
			return string(b), err
		}
	}

	_, _ = fmt.Fprint(out, "New passcode: ")
	first, err := read()
	if err != nil {
		return "", fmt.Errorf("failed to read passcode: %w", err)
	}
	if first == "" {
		return "", errors.New("passcode cannot be empty")
	}
	_, _ = fmt.Fprint(out, "Repeat passcode: ")
	second, err := read()
	if err != nil {
		return "", fmt.Errorf("failed to read passcode: %w", err)
	}
	if first != second {
		return "", errors.New("passcodes do not match")
	}
	return first, nil
}

func lineReader(in io.Reader) func() (string, error) {
	scanner := bufio.NewScanner(in)
	return func() (string, error) {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		return strings.TrimRight(scanner.Text(), "\r"), nil
	}
}
