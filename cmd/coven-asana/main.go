// ABOUTME: Entry point for coven-asana, the Asana webhook bridge for coven agents
// ABOUTME: Builds the cobra command tree and resolves config and data paths

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const banner = `
  ___ _____   _____ _ __        __ _ ___  __ _ _ __   __ _
 / __/ _ \ \ / / _ \ '_ \ _____/ _' / __|/ _' | '_ \ / _' |
| (_| (_) \ V /  __/ | | |_____| (_| \__ \ (_| | | | | (_| |
 \___\___/ \_/ \___|_| |_|      \__,_|___/\__,_|_| |_|\__,_|
`

// getConfigPath returns the path to the config file.
// Priority: --config flag > COVEN_ASANA_CONFIG > XDG_CONFIG_HOME/coven-asana/config.yaml > ~/.config/coven-asana/config.yaml
func getConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if envPath := os.Getenv("COVEN_ASANA_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven-asana", "config.yaml")
}

// getDataPath returns the coven-asana data directory.
// Priority: XDG_DATA_HOME/coven-asana > ~/.local/share/coven-asana
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven-asana")
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "coven-asana",
		Short:         "Asana webhook bridge for coven agents",
		Long:          "coven-asana turns Asana task assignments and @mentions into coven agent conversations and reports results back as task comments.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default $COVEN_ASANA_CONFIG or ~/.config/coven-asana/config.yaml)")

	cfgPath := func() string { return getConfigPath(configPath) }

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd(cfgPath))
	cmd.AddCommand(newHealthCmd(cfgPath))
	cmd.AddCommand(newWebhookCmd(cfgPath))
	cmd.AddCommand(newMappingsCmd(cfgPath))
	cmd.AddCommand(newConversationsCmd(cfgPath))
	cmd.AddCommand(newTokenCmd(cfgPath))
	cmd.AddCommand(newAsanaCmd(cfgPath))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "coven-asana %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
