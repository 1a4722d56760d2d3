// ABOUTME: Gateway orchestrator that wires the Asana bridge and serves HTTP
// ABOUTME: Manages store, conversation runtime, reporters, webhooks and the listener lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/coven-asana/internal/agent"
	"github.com/2389/coven-asana/internal/asana"
	"github.com/2389/coven-asana/internal/auth"
	"github.com/2389/coven-asana/internal/bridge"
	"github.com/2389/coven-asana/internal/config"
	"github.com/2389/coven-asana/internal/conversation"
	"github.com/2389/coven-asana/internal/dedupe"
	"github.com/2389/coven-asana/internal/mapping"
	"github.com/2389/coven-asana/internal/reporter"
	"github.com/2389/coven-asana/internal/store"
	"github.com/2389/coven-asana/internal/webhook"
)

// Gateway orchestrates the coven-asana server components.
type Gateway struct {
	config      *config.Config
	store       *store.SQLiteStore
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	asana         *asana.Client
	conversations *conversation.Service
	broadcaster   *conversation.EventBroadcaster
	reporters     *reporter.Registry
	mappings      *mapping.Store
	reconciler    *bridge.Reconciler
	sweeper       *bridge.Sweeper
	dedupe        *dedupe.Cache
	secrets       *webhook.SecretCache
	webhooks      *webhook.Handler
	registrar     *webhook.Registrar
}

// initStore creates the sqlite store, honoring COVEN_ASANA_DB_PATH.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("COVEN_ASANA_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a Gateway. The Asana access token must already be resolved
// into cfg.Asana.AccessToken; without one the webhook endpoint still
// answers but every Asana call fails and webhook management reports it.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	gw := &Gateway{
		config: cfg,
		store:  s,
		logger: logger.With("component", "gateway"),
	}

	gw.asana = asana.NewClient(cfg.Asana.AccessToken,
		asana.WithBaseURL(cfg.Asana.APIURL),
		asana.WithWorkspace(cfg.Asana.WorkspaceGID),
		asana.WithLogger(logger),
	)
	if cfg.Asana.AccessToken == "" {
		gw.logger.Warn("no asana access token configured; asana calls will fail until one is set")
	}
	if cfg.Asana.AgentUserGID == "" {
		gw.logger.Warn("asana.agent_user_gid not set; every assignment is accepted and mentions are ignored")
	}

	agentClient := agent.NewClient(cfg.Gateway.URL, cfg.Gateway.Token, cfg.Gateway.Timeout, logger)
	gw.broadcaster = conversation.NewEventBroadcaster(logger)
	gw.conversations = conversation.New(s, agentClient, gw.broadcaster, conversation.Options{
		AgentID: cfg.Gateway.AgentID,
		Sender:  cfg.Gateway.Sender,
	}, logger)

	gw.reporters = reporter.NewRegistry(reporter.Config{
		AgentUserGID:    cfg.Asana.AgentUserGID,
		MaxResultLength: cfg.Reporter.MaxResultLength,
		CatchUpLimit:    cfg.Reporter.CatchUpLimit,
		CatchUpDelay:    cfg.Reporter.CatchUpDelay,
		ReportTimeout:   cfg.Reporter.Timeout,
		ProgressEvery:   cfg.Reporter.ProgressInterval,
		ConversationURL: cfg.ConversationURL,
	}, gw.asana, gw.conversations, logger)

	gw.mappings = mapping.New(cfg.Database.MappingPath, logger)
	gw.reconciler = bridge.New(bridge.Config{
		AgentUserGID:    cfg.Asana.AgentUserGID,
		ConversationURL: cfg.ConversationURL,
	}, gw.asana, gw.conversations, gw.mappings, gw.reporters, logger)

	var hooks bridge.WebhookLister
	var hookAPI webhook.WebhookAPI
	if cfg.Asana.AccessToken != "" && cfg.Asana.WorkspaceGID != "" {
		hooks, hookAPI = gw.asana, gw.asana
	} else if cfg.Asana.AccessToken != "" {
		hookAPI = gw.asana
	}
	gw.sweeper = bridge.NewSweeper(gw.reconciler, hooks, cfg.WebhookTargetURL(), cfg.Sweep.Schedule, logger)

	gw.dedupe = dedupe.New(cfg.Webhooks.DedupeTTL, cfg.Webhooks.DedupeMax)
	gw.secrets = webhook.NewSecretCache(s, logger)
	gw.webhooks = webhook.NewHandler(webhook.Config{}, gw.reconciler, gw.secrets, gw.dedupe, logger)
	gw.registrar = webhook.NewRegistrar(webhook.RegistrarConfig{
		WorkspaceGID: cfg.Asana.WorkspaceGID,
		ProjectGID:   cfg.Asana.ProjectGID,
		TargetURL:    cfg.WebhookTargetURL(),
	}, hookAPI, gw.secrets, logger)

	mux := http.NewServeMux()

	// Unauthenticated: health, Asana deliveries and the progress page
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)
	gw.webhooks.Register(mux)
	mux.HandleFunc("GET /conversations/{id}", gw.handleConversationPage)

	if err := gw.registerManagementRoutes(mux); err != nil {
		_ = s.Close()
		return nil, err
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// registerManagementRoutes mounts the JWT-protected management API. Without
// a jwt_secret the API is not served at all.
func (g *Gateway) registerManagementRoutes(mux *http.ServeMux) error {
	if g.config.Auth.JWTSecret == "" {
		g.logger.Warn("management API disabled - no jwt_secret configured")
		return nil
	}

	verifier, err := auth.NewJWTVerifier([]byte(g.config.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating HTTP JWT verifier: %w", err)
	}
	authMiddleware := auth.HTTPAuthMiddleware(verifier, g.logger)

	mux.Handle("GET /asana/webhook/status", authMiddleware(http.HandlerFunc(g.handleWebhookStatus)))
	mux.Handle("POST /asana/webhook/create", authMiddleware(http.HandlerFunc(g.handleWebhookCreate)))
	mux.Handle("DELETE /asana/webhook", authMiddleware(http.HandlerFunc(g.handleWebhookDelete)))
	mux.Handle("GET /asana/mappings", authMiddleware(http.HandlerFunc(g.handleListMappings)))
	mux.Handle("DELETE /asana/mappings/{conversation_id}", authMiddleware(http.HandlerFunc(g.handleDeleteMapping)))
	mux.Handle("GET /asana/conversations", authMiddleware(http.HandlerFunc(g.handleListConversations)))
	g.logger.Info("management API enabled")
	return nil
}

// Handler returns the root HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// setupTCPListener creates the standard TCP listener.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr, "base_url", g.config.Server.BaseURL)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// Run starts serving and the maintenance sweep, and blocks until the
// context is canceled. Returns nil on graceful shutdown, or an error if
// the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	if g.config.Sweep.Enabled {
		if err := g.sweeper.Start(ctx); err != nil {
			_ = ln.Close()
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout,
// since the run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "coven-asana", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListener joins the tailnet and listens on Funnel (public
// HTTPS, which Asana needs to reach us) or plain tailnet HTTP.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	var ln net.Listener
	if tsCfg.Funnel {
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err = g.tsnetServer.ListenFunnel("tcp", ":443")
	} else {
		g.logger.Warn("tailscale funnel disabled; Asana cannot reach a tailnet-only address")
		ln, err = g.tsnetServer.Listen("tcp", ":80")
	}
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale: %w", err)
	}
	return ln, nil
}

// logTailscaleStatus logs the node's address and warns when the public
// DNS name does not match the configured base URL.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = strings.TrimSuffix(status.Self.DNSName, ".")
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)

	if dnsName != "" && !strings.Contains(g.config.Server.BaseURL, dnsName) {
		g.logger.Warn("server.base_url does not use the tailnet DNS name; webhook and conversation links may be unreachable",
			"base_url", g.config.Server.BaseURL, "expected", "https://"+dnsName)
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// waitOrTimeout runs wait and gives up when ctx is done.
func waitOrTimeout(ctx context.Context, wait func()) error {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting requests, drains queued webhook events and
// in-flight agent streams, then releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "webhook drain", g.webhooks.Drain(ctx))
	g.sweeper.Stop()
	errs = appendCloseError(errs, "conversation drain", waitOrTimeout(ctx, g.conversations.Wait))
	g.reporters.Close()
	g.broadcaster.Close()
	g.dedupe.Close()

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReady returns 200 OK if the database answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := g.store.DB().PingContext(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("database unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d active listeners)", g.reporters.Len())
}
