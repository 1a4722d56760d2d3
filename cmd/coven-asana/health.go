// ABOUTME: health command: probes a running server's liveness and readiness endpoints
// ABOUTME: Exits non-zero when either endpoint does not answer 200

package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/coven-asana/internal/config"
)

func newHealthCmd(configPath func() string) *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			base := serverURL
			if base == "" {
				cfg, err := config.Load(configPath())
				if err != nil {
					return fmt.Errorf("loading config: %w", err)
				}
				base = localURL(cfg)
			}
			client := &http.Client{Timeout: 10 * time.Second}

			for _, path := range []string{"/health", "/health/ready"} {
				req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, strings.TrimRight(base, "/")+path, nil)
				if err != nil {
					return fmt.Errorf("creating request: %w", err)
				}
				resp, err := client.Do(req)
				if err != nil {
					return fmt.Errorf("health check failed: %w", err)
				}
				body, _ := io.ReadAll(resp.Body)
				resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					return fmt.Errorf("unhealthy: %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-14s %s\n", path, strings.TrimSpace(string(body)))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "healthy")
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "url", "", "server URL (default derived from server.http_addr)")
	return cmd
}
