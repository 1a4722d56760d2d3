// ABOUTME: webhook commands: inspect, register and remove the instance's Asana webhook
// ABOUTME: Calls the management API of a running server, which must answer the handshake

package main

import (
	"fmt"
	"io"
	"net/http"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-asana/internal/gateway"
	"github.com/2389/coven-asana/internal/webhook"
)

func newWebhookCmd(configPath func() string) *cobra.Command {
	var flags apiFlags

	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage the Asana webhook for this instance",
	}
	flags.register(cmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the registered webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client(configPath())
			if err != nil {
				return err
			}
			var st webhook.Status
			if err := c.do(cmd.Context(), http.MethodGet, "/asana/webhook/status", &st); err != nil {
				return err
			}
			printWebhookStatus(cmd.OutOrStdout(), st)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Register (or replace) the webhook on the configured project",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client(configPath())
			if err != nil {
				return err
			}
			var resp gateway.WebhookCreateResponse
			if err := c.do(cmd.Context(), http.MethodPost, "/asana/webhook/create", &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s webhook %s created for %s\n", color.GreenString("✓"), resp.WebhookGID, resp.TargetURL)
			if resp.ResourceName != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "  resource: %s\n", resp.ResourceName)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete",
		Short: "Remove every webhook targeting this instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client(configPath())
			if err != nil {
				return err
			}
			var resp gateway.WebhookDeleteResponse
			if err := c.do(cmd.Context(), http.MethodDelete, "/asana/webhook", &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s deleted %d webhook(s)\n", color.GreenString("✓"), resp.Deleted)
			return nil
		},
	})

	return cmd
}

func printWebhookStatus(w io.Writer, st webhook.Status) {
	if st.ErrorMessage != "" {
		fmt.Fprintf(w, "%s %s\n", color.RedString("error:"), st.ErrorMessage)
	}
	if !st.IsRegistered {
		fmt.Fprintln(w, "not registered")
		return
	}

	active := "unknown"
	if st.IsActive != nil {
		active = fmt.Sprint(*st.IsActive)
	}
	fmt.Fprintf(w, "registered:    %s\n", st.WebhookGID)
	fmt.Fprintf(w, "active:        %s\n", active)
	fmt.Fprintf(w, "target:        %s\n", st.TargetURL)
	if st.ResourceName != "" {
		fmt.Fprintf(w, "resource:      %s\n", st.ResourceName)
	}
	if st.LastSuccessAt != nil {
		fmt.Fprintf(w, "last success:  %s\n", *st.LastSuccessAt)
	}
	if st.LastFailureAt != nil {
		fmt.Fprintf(w, "last failure:  %s\n", *st.LastFailureAt)
	}
}
