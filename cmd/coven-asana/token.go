// ABOUTME: token commands: keep the Asana access token in the OS keyring and
// ABOUTME: issue management API tokens signed with auth.jwt_secret

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-asana/internal/asana"
	"github.com/2389/coven-asana/internal/config"
	"github.com/2389/coven-asana/internal/credential"
)

// openCredentials opens the keyring named by the config. A missing config
// file falls back to the default service name.
var openCredentials = func(configPath string) (*credential.Store, error) {
	service := "coven-asana"
	if cfg, err := config.Load(configPath); err == nil {
		service = cfg.Asana.KeyringService
	}
	return credential.Open(service, getDataPath())
}

func newTokenCmd(configPath func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the Asana access token and management API tokens",
	}

	var skipVerify bool
	set := &cobra.Command{
		Use:   "set [TOKEN]",
		Short: "Store the Asana personal access token in the OS keyring (reads stdin when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := tokenArg(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if !skipVerify {
				me, err := verifyAsanaToken(cmd.Context(), configPath(), token)
				if err != nil {
					return fmt.Errorf("token rejected by asana: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "authenticated as %s (%s)\n", me.Name, me.GID)
			}
			creds, err := openCredentials(configPath())
			if err != nil {
				return err
			}
			if err := creds.Set(credential.AccessTokenKey, token); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s token stored in keyring\n", color.GreenString("✓"))
			return nil
		},
	}
	set.Flags().BoolVar(&skipVerify, "skip-verify", false, "store without checking the token against Asana")
	cmd.AddCommand(set)

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove the Asana access token from the OS keyring",
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := openCredentials(configPath())
			if err != nil {
				return err
			}
			if err := creds.Delete(credential.AccessTokenKey); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s token removed\n", color.GreenString("✓"))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show where the Asana access token comes from",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg, err := config.Load(configPath()); err == nil && cfg.Asana.AccessToken != "" {
				fmt.Fprintln(cmd.OutOrStdout(), "access token: set in config file")
				return nil
			}
			creds, err := openCredentials(configPath())
			if err != nil {
				return err
			}
			_, err = creds.Get(credential.AccessTokenKey)
			switch {
			case errors.Is(err, credential.ErrNotFound):
				fmt.Fprintln(cmd.OutOrStdout(), "access token: not configured")
			case err != nil:
				return err
			default:
				fmt.Fprintln(cmd.OutOrStdout(), "access token: stored in keyring")
			}
			return nil
		},
	})

	var (
		principal string
		ttl       time.Duration
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Print a management API token signed with auth.jwt_secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			token, err := mintToken(cfg, principal, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	issue.Flags().StringVar(&principal, "principal", "admin", "subject recorded in the token")
	issue.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.AddCommand(issue)

	return cmd
}

func tokenArg(args []string, in io.Reader) (string, error) {
	if len(args) == 1 {
		return strings.TrimSpace(args[0]), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading token: %w", err)
	}
	token := strings.TrimSpace(line)
	if token == "" {
		return "", errors.New("no token given")
	}
	return token, nil
}

func verifyAsanaToken(ctx context.Context, configPath, token string) (*asana.User, error) {
	apiURL := config.DefaultAsanaAPIURL
	if cfg, err := config.Load(configPath); err == nil {
		apiURL = cfg.Asana.APIURL
	}
	return asana.NewClient(token, asana.WithBaseURL(apiURL)).GetMe(ctx)
}
