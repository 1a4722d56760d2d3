// ABOUTME: HTTP client for the JWT-protected management API of a running server
// ABOUTME: Mints a short-lived token from auth.jwt_secret when none is supplied

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/coven-asana/internal/auth"
	"github.com/2389/coven-asana/internal/config"
)

// apiClient talks to the management endpoints of a coven-asana server.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

type apiFlags struct {
	url   string
	token string
}

func (f *apiFlags) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.url, "url", "", "server URL (default derived from server.http_addr)")
	cmd.PersistentFlags().StringVar(&f.token, "token", "", "management API token (default $COVEN_ASANA_API_TOKEN, or minted from auth.jwt_secret)")
}

// client builds an apiClient from flags, environment and config.
func (f *apiFlags) client(configPath string) (*apiClient, error) {
	token := f.token
	if token == "" {
		token = os.Getenv("COVEN_ASANA_API_TOKEN")
	}

	baseURL := f.url
	if baseURL == "" || token == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		if baseURL == "" {
			baseURL = localURL(cfg)
		}
		if token == "" {
			token, err = mintToken(cfg, "cli", 5*time.Minute)
			if err != nil {
				return nil, err
			}
		}
	}

	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 90 * time.Second},
	}, nil
}

// localURL is how a CLI on the same host reaches the server.
func localURL(cfg *config.Config) string {
	if cfg.Tailscale.Enabled || cfg.Server.HTTPAddr == "" {
		return cfg.Server.BaseURL
	}
	addr := cfg.Server.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func mintToken(cfg *config.Config, principal string, ttl time.Duration) (string, error) {
	if cfg.Auth.JWTSecret == "" {
		return "", fmt.Errorf("auth.jwt_secret is not configured; pass --token or set COVEN_ASANA_API_TOKEN")
	}
	v, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return "", err
	}
	return v.Generate(principal, ttl)
}

// do sends a request and decodes a JSON response into out when non-nil.
// Non-2xx responses become errors carrying the server's error message.
func (c *apiClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error          string `json:"error"`
			UpstreamStatus int    `json:"upstream_status"`
			UpstreamBody   string `json:"upstream_body"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			if apiErr.UpstreamStatus != 0 {
				return fmt.Errorf("%s (asana status %d): %s", apiErr.Error, apiErr.UpstreamStatus, apiErr.UpstreamBody)
			}
			return fmt.Errorf("%s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
