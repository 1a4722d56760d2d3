// ABOUTME: serve command: loads config, resolves the Asana token and runs the gateway
// ABOUTME: Runs until SIGINT or SIGTERM, then shuts down gracefully

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-asana/internal/config"
	"github.com/2389/coven-asana/internal/credential"
	"github.com/2389/coven-asana/internal/gateway"
)

func newServeCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook bridge server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runServe(ctx, configPath())
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", Version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)
	applyBaseURL(cfg, logger)
	resolveAccessToken(cfg, getDataPath(), logger)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Webhook:   %s\n", cfg.WebhookTargetURL())
	green.Print("    ▶ ")
	fmt.Printf("Agent:     %s @ %s\n", cfg.Gateway.AgentID, cfg.Gateway.URL)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	fmt.Println()

	logger.Info("starting coven-asana",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"base_url", cfg.Server.BaseURL,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// applyBaseURL honors COVEN_ASANA_BASE_URL and derives a tailnet URL when
// nothing else is configured.
func applyBaseURL(cfg *config.Config, logger *slog.Logger) {
	if env := os.Getenv("COVEN_ASANA_BASE_URL"); env != "" {
		cfg.Server.BaseURL = env
		return
	}
	if cfg.Server.BaseURL == "" && cfg.Tailscale.Enabled {
		cfg.Server.BaseURL = "https://" + cfg.Tailscale.Hostname
		logger.Warn("server.base_url not set, using tailscale hostname; set it to the full funnel DNS name",
			"base_url", cfg.Server.BaseURL)
	}
}

// resolveAccessToken fills in the Asana token from the OS keyring when the
// config file does not carry one.
func resolveAccessToken(cfg *config.Config, dataDir string, logger *slog.Logger) {
	if cfg.Asana.AccessToken != "" {
		return
	}

	creds, err := credential.Open(cfg.Asana.KeyringService, dataDir)
	if err != nil {
		logger.Warn("could not open keyring", "error", err)
		return
	}
	token, err := creds.ResolveToken("")
	if errors.Is(err, credential.ErrNotFound) {
		logger.Warn("no asana access token in config or keyring; run 'coven-asana token set'")
		return
	}
	if err != nil {
		logger.Warn("could not read asana token from keyring", "error", err)
		return
	}
	cfg.Asana.AccessToken = token
	logger.Info("asana access token loaded from keyring")
}
