// ABOUTME: mappings and conversations commands backed by the management API
// ABOUTME: Lists task -> conversation pairs and removes conversations with their mapping

package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-asana/internal/gateway"
)

func newMappingsCmd(configPath func() string) *cobra.Command {
	var flags apiFlags

	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "Inspect task to conversation mappings",
	}
	flags.register(cmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every mapped task",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client(configPath())
			if err != nil {
				return err
			}
			var resp gateway.ListMappingsResponse
			if err := c.do(cmd.Context(), http.MethodGet, "/asana/mappings", &resp); err != nil {
				return err
			}
			if len(resp.Mappings) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no mappings")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TASK\tCONVERSATION")
			for _, m := range resp.Mappings {
				fmt.Fprintf(tw, "%s\t%s\n", m.TaskGID, m.ConversationID)
			}
			return tw.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove CONVERSATION_ID",
		Short: "Delete a conversation and its task mapping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client(configPath())
			if err != nil {
				return err
			}
			if err := c.do(cmd.Context(), http.MethodDelete, "/asana/mappings/"+url.PathEscape(args[0]), nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s removed %s\n", color.GreenString("✓"), args[0])
			return nil
		},
	})

	return cmd
}

func newConversationsCmd(configPath func() string) *cobra.Command {
	var (
		flags apiFlags
		limit int
	)

	cmd := &cobra.Command{
		Use:   "conversations",
		Short: "List recent agent conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client(configPath())
			if err != nil {
				return err
			}
			var resp gateway.ListConversationsResponse
			if err := c.do(cmd.Context(), http.MethodGet, "/asana/conversations?limit="+strconv.Itoa(limit), &resp); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTASK\tSTATE\tUPDATED\tTITLE")
			for _, conv := range resp.Conversations {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", conv.ID, conv.TaskGID, conv.State, conv.UpdatedAt, conv.Title)
			}
			return tw.Flush()
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum conversations to list")
	return cmd
}
