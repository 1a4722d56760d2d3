// ABOUTME: Tests for the coven-asana command tree, logging setup and management client
// ABOUTME: Management commands run against an httptest server standing in for coven-asana

package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-asana/internal/auth"
	"github.com/2389/coven-asana/internal/config"
	"github.com/2389/coven-asana/internal/gateway"
	"github.com/2389/coven-asana/internal/mapping"
	"github.com/2389/coven-asana/internal/webhook"
)

const testSecret = "test-secret-key-for-jwt-signing!"

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestVersionCmd(t *testing.T) {
	out, err := runCmd(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "coven-asana dev") {
		t.Errorf("expected output to contain 'coven-asana dev', got: %s", out)
	}
	if !strings.Contains(out, "commit: none") {
		t.Errorf("expected output to contain 'commit: none', got: %s", out)
	}
}

func TestRootCmdHasSubcommands(t *testing.T) {
	cmd := newRootCmd()
	want := []string{"version", "serve", "health", "webhook", "mappings", "conversations", "token", "asana"}
	for _, name := range want {
		found := false
		for _, sub := range cmd.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("COVEN_ASANA_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")

	if got := getConfigPath("/flag.yaml"); got != "/flag.yaml" {
		t.Errorf("flag should win, got %q", got)
	}
	if got := getConfigPath(""); got != filepath.Join("/xdg", "coven-asana", "config.yaml") {
		t.Errorf("unexpected XDG path %q", got)
	}

	t.Setenv("COVEN_ASANA_CONFIG", "/env.yaml")
	if got := getConfigPath(""); got != "/env.yaml" {
		t.Errorf("env should win over XDG, got %q", got)
	}
}

func TestGetDataPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	if got := getDataPath(); got != filepath.Join("/data", "coven-asana") {
		t.Errorf("unexpected data path %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestColorHandler(t *testing.T) {
	orig := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = orig }()

	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "info"}, &buf)

	logger.Debug("hidden")
	logger.With("component", "gateway").WithGroup("req").Info("hello", "id", 7)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug record should be filtered: %s", out)
	}
	if !strings.Contains(out, "hello") {
		t.Errorf("missing message: %s", out)
	}
	if !strings.Contains(out, " component=gateway") {
		t.Errorf("missing handler attr: %s", out)
	}
	if !strings.Contains(out, "req.id=") {
		t.Errorf("missing grouped attr: %s", out)
	}
	if strings.Count(out, "\n") != 1 {
		t.Errorf("expected one line, got: %q", out)
	}
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	logger.Debug("visible", "k", "v")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected JSON log line: %v (%s)", err, buf.String())
	}
	if rec["msg"] != "visible" || rec["k"] != "v" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestLocalURL(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{HTTPAddr: ":8080", BaseURL: "https://bridge.example.com"}}
	if got := localURL(cfg); got != "http://localhost:8080" {
		t.Errorf("got %q", got)
	}

	cfg.Server.HTTPAddr = "127.0.0.1:9000"
	if got := localURL(cfg); got != "http://127.0.0.1:9000" {
		t.Errorf("got %q", got)
	}

	cfg.Tailscale.Enabled = true
	if got := localURL(cfg); got != "https://bridge.example.com" {
		t.Errorf("tailscale should use base url, got %q", got)
	}
}

func TestApplyBaseURL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	t.Setenv("COVEN_ASANA_BASE_URL", "")
	cfg := &config.Config{Tailscale: config.TailscaleConfig{Enabled: true, Hostname: "asana-bridge"}}
	applyBaseURL(cfg, logger)
	if cfg.Server.BaseURL != "https://asana-bridge" {
		t.Errorf("got %q", cfg.Server.BaseURL)
	}

	t.Setenv("COVEN_ASANA_BASE_URL", "https://override.example.com")
	applyBaseURL(cfg, logger)
	if cfg.Server.BaseURL != "https://override.example.com" {
		t.Errorf("env override ignored, got %q", cfg.Server.BaseURL)
	}
}

func TestTokenArg(t *testing.T) {
	got, err := tokenArg([]string{" 1/abc "}, strings.NewReader(""))
	if err != nil || got != "1/abc" {
		t.Errorf("arg: got %q, %v", got, err)
	}

	got, err = tokenArg(nil, strings.NewReader("2/def\n"))
	if err != nil || got != "2/def" {
		t.Errorf("stdin: got %q, %v", got, err)
	}

	if _, err := tokenArg(nil, strings.NewReader("\n")); err == nil {
		t.Error("expected error for empty input")
	}
}

// fakeServer checks the bearer token and serves canned management responses.
func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	verifier, err := auth.NewJWTVerifier([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("GET /asana/webhook/status", func(w http.ResponseWriter, r *http.Request) {
		active := true
		writeJSON(w, http.StatusOK, webhook.Status{IsRegistered: true, WebhookGID: "W1", IsActive: &active, TargetURL: "https://bridge.example.com/webhooks/asana"})
	})
	mux.HandleFunc("POST /asana/webhook/create", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "webhook target must not be a loopback address"})
	})
	mux.HandleFunc("DELETE /asana/webhook", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "asana request failed", "upstream_status": 403, "upstream_body": "forbidden"})
	})
	mux.HandleFunc("GET /asana/mappings", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, gateway.ListMappingsResponse{Mappings: []mapping.Entry{{TaskGID: "T1", ConversationID: "conv-1"}}})
	})
	mux.HandleFunc("DELETE /asana/mappings/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "conv-1" {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "mapping not found"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	return httptest.NewServer(auth.HTTPAuthMiddleware(verifier, nil)(mux))
}

func TestManagementCommands(t *testing.T) {
	srv := fakeServer(t)
	defer srv.Close()

	cfgPath := writeConfig(t, `
server:
  http_addr: "127.0.0.1:1"
database:
  path: "`+filepath.Join(t.TempDir(), "asana.db")+`"
auth:
  jwt_secret: "`+testSecret+`"
gateway:
  url: "http://127.0.0.1:2"
  agent_id: "agent-1"
`)

	t.Run("webhook status", func(t *testing.T) {
		out, err := runCmd(t, "--config", cfgPath, "webhook", "status", "--url", srv.URL)
		if err != nil {
			t.Fatalf("status failed: %v", err)
		}
		if !strings.Contains(out, "W1") || !strings.Contains(out, "active:        true") {
			t.Errorf("unexpected output: %s", out)
		}
	})

	t.Run("webhook create error", func(t *testing.T) {
		_, err := runCmd(t, "--config", cfgPath, "webhook", "create", "--url", srv.URL)
		if err == nil || !strings.Contains(err.Error(), "loopback") {
			t.Errorf("expected loopback error, got %v", err)
		}
	})

	t.Run("webhook delete upstream error", func(t *testing.T) {
		_, err := runCmd(t, "--config", cfgPath, "webhook", "delete", "--url", srv.URL)
		if err == nil || !strings.Contains(err.Error(), "asana status 403") {
			t.Errorf("expected upstream error, got %v", err)
		}
	})

	t.Run("mappings list", func(t *testing.T) {
		out, err := runCmd(t, "--config", cfgPath, "mappings", "list", "--url", srv.URL)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if !strings.Contains(out, "T1") || !strings.Contains(out, "conv-1") {
			t.Errorf("unexpected output: %s", out)
		}
	})

	t.Run("mappings remove", func(t *testing.T) {
		out, err := runCmd(t, "--config", cfgPath, "mappings", "remove", "conv-1", "--url", srv.URL)
		if err != nil {
			t.Fatalf("remove failed: %v", err)
		}
		if !strings.Contains(out, "removed conv-1") {
			t.Errorf("unexpected output: %s", out)
		}

		_, err = runCmd(t, "--config", cfgPath, "mappings", "remove", "conv-2", "--url", srv.URL)
		if err == nil || !strings.Contains(err.Error(), "mapping not found") {
			t.Errorf("expected not found, got %v", err)
		}
	})

	t.Run("bad token rejected", func(t *testing.T) {
		_, err := runCmd(t, "--config", cfgPath, "mappings", "list", "--url", srv.URL, "--token", "nope")
		if err == nil || !strings.Contains(err.Error(), "401") {
			t.Errorf("expected 401, got %v", err)
		}
	})
}

func TestAsanaTasksCmd(t *testing.T) {
	var gotQuery url.Values
	asanaSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tasks" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.Query()
		_, _ = io.WriteString(w, `{"data":[{"gid":"T7","name":"Write release notes","completed":false}]}`)
	}))
	defer asanaSrv.Close()

	cfgPath := writeConfig(t, `
server:
  http_addr: "127.0.0.1:1"
database:
  path: "`+filepath.Join(t.TempDir(), "asana.db")+`"
gateway:
  url: "http://127.0.0.1:2"
  agent_id: "agent-1"
asana:
  access_token: "pat"
  workspace_gid: "W1"
  api_url: "`+asanaSrv.URL+`"
`)

	out, err := runCmd(t, "--config", cfgPath, "asana", "tasks")
	if err != nil {
		t.Fatalf("tasks failed: %v", err)
	}
	if !strings.Contains(out, "T7") || !strings.Contains(out, "Write release notes") {
		t.Errorf("unexpected output: %s", out)
	}
	if gotQuery.Get("assignee") != "me" || gotQuery.Get("workspace") != "W1" || gotQuery.Get("completed_since") != "now" {
		t.Errorf("unexpected query: %v", gotQuery)
	}
}

func TestTokenIssue(t *testing.T) {
	cfgPath := writeConfig(t, `
server:
  http_addr: "127.0.0.1:1"
database:
  path: "`+filepath.Join(t.TempDir(), "asana.db")+`"
auth:
  jwt_secret: "`+testSecret+`"
gateway:
  url: "http://127.0.0.1:2"
  agent_id: "agent-1"
`)

	out, err := runCmd(t, "--config", cfgPath, "token", "issue", "--principal", "ops", "--ttl", "1h")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	verifier, err := auth.NewJWTVerifier([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	principal, err := verifier.Verify(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if principal != "ops" {
		t.Errorf("principal = %q, want ops", principal)
	}
}

func TestMintToken_RequiresSecret(t *testing.T) {
	if _, err := mintToken(&config.Config{}, "cli", time.Minute); err == nil {
		t.Error("expected error without jwt_secret")
	}
}
