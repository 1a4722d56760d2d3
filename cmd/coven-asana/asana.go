// ABOUTME: asana commands: look up the gids needed in the config file
// ABOUTME: Talks to Asana directly with the configured or keyring access token

package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/2389/coven-asana/internal/asana"
	"github.com/2389/coven-asana/internal/config"
	"github.com/2389/coven-asana/internal/credential"
)

func asanaClient(configPath string) (*asana.Client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	token := cfg.Asana.AccessToken
	if token == "" {
		creds, err := credential.Open(cfg.Asana.KeyringService, getDataPath())
		if err != nil {
			return nil, err
		}
		token, err = creds.ResolveToken("")
		if errors.Is(err, credential.ErrNotFound) {
			return nil, errors.New("no asana access token; run 'coven-asana token set'")
		}
		if err != nil {
			return nil, err
		}
	}
	return asana.NewClient(token,
		asana.WithBaseURL(cfg.Asana.APIURL),
		asana.WithWorkspace(cfg.Asana.WorkspaceGID),
	), nil
}

func newAsanaCmd(configPath func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "asana",
		Short: "Look up Asana users, workspaces and projects",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "whoami",
		Short: "Show the user that owns the access token (use its gid as asana.agent_user_gid)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := asanaClient(configPath())
			if err != nil {
				return err
			}
			me, err := c.GetMe(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", me.GID, me.Name, me.Email)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "user GID",
		Short: "Show a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := asanaClient(configPath())
			if err != nil {
				return err
			}
			u, err := c.GetUser(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", u.GID, u.Name, u.Email)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "workspaces",
		Short: "List workspaces visible to the access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := asanaClient(configPath())
			if err != nil {
				return err
			}
			workspaces, err := c.GetWorkspaces(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "GID\tNAME")
			for _, ws := range workspaces {
				fmt.Fprintf(tw, "%s\t%s\n", ws.GID, ws.Name)
			}
			return tw.Flush()
		},
	})

	var workspace string
	projects := &cobra.Command{
		Use:   "projects",
		Short: "List projects in a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := asanaClient(configPath())
			if err != nil {
				return err
			}
			list, err := c.GetProjects(cmd.Context(), workspace)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "GID\tNAME\tARCHIVED")
			for _, p := range list {
				fmt.Fprintf(tw, "%s\t%s\t%v\n", p.GID, p.Name, p.Archived)
			}
			return tw.Flush()
		},
	}
	projects.Flags().StringVar(&workspace, "workspace", "", "workspace gid (default asana.workspace_gid)")
	cmd.AddCommand(projects)

	var completed bool
	tasks := &cobra.Command{
		Use:   "tasks [USER_GID]",
		Short: "List tasks assigned to a user (default: the token owner)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := asanaClient(configPath())
			if err != nil {
				return err
			}
			user := "me"
			if len(args) == 1 {
				user = args[0]
			}
			list, err := c.GetTasksForUser(cmd.Context(), user, workspace, completed)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "GID\tNAME\tCOMPLETED")
			for _, t := range list {
				fmt.Fprintf(tw, "%s\t%s\t%v\n", t.GID, t.Name, t.Completed)
			}
			return tw.Flush()
		},
	}
	tasks.Flags().StringVar(&workspace, "workspace", "", "workspace gid (default asana.workspace_gid)")
	tasks.Flags().BoolVar(&completed, "completed", false, "include completed tasks")
	cmd.AddCommand(tasks)

	return cmd
}
