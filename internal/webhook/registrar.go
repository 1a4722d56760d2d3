// ABOUTME: Registers, inspects and removes the Asana webhook that targets this instance
// ABOUTME: Creating replaces any existing hook on the same callback URL and stores its secret

package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/2389/coven-asana/internal/asana"
)

var (
	// ErrNotConfigured wraps missing token, workspace or project settings.
	ErrNotConfigured = errors.New("asana not configured")
	// ErrLoopbackTarget is returned when the callback URL is not publicly reachable.
	ErrLoopbackTarget = errors.New("cannot create webhook for a loopback address; Asana requires a publicly accessible HTTPS URL, set server.base_url")
	// ErrNoWebhook is returned by Delete when no webhook targets this instance.
	ErrNoWebhook = errors.New("no webhook found to delete")
)

// WebhookAPI is the part of the Asana client used to manage webhooks.
type WebhookAPI interface {
	GetWebhooks(ctx context.Context, workspaceGID string) ([]asana.Webhook, error)
	CreateWebhook(ctx context.Context, req asana.WebhookCreateRequest) (*asana.Webhook, string, error)
	DeleteWebhook(ctx context.Context, webhookGID string) error
}

// RegistrarConfig names the watched resources and our callback URL.
type RegistrarConfig struct {
	WorkspaceGID string
	ProjectGID   string
	TargetURL    string
}

// Status describes the webhook registered for this instance.
type Status struct {
	IsRegistered  bool    `json:"is_registered"`
	WebhookGID    string  `json:"webhook_gid,omitempty"`
	IsActive      *bool   `json:"is_active,omitempty"`
	TargetURL     string  `json:"target_url,omitempty"`
	ResourceName  string  `json:"resource_name,omitempty"`
	LastSuccessAt *string `json:"last_success_at,omitempty"`
	LastFailureAt *string `json:"last_failure_at,omitempty"`
	ErrorMessage  string  `json:"error_message,omitempty"`
}

// Registrar manages the instance's webhook registration.
type Registrar struct {
	cfg     RegistrarConfig
	api     WebhookAPI // nil when no access token is available
	secrets *SecretCache
	logger  *slog.Logger
}

// NewRegistrar creates a Registrar. api may be nil when Asana has no token.
func NewRegistrar(cfg RegistrarConfig, api WebhookAPI, secrets *SecretCache, logger *slog.Logger) *Registrar {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registrar{
		cfg:     cfg,
		api:     api,
		secrets: secrets,
		logger:  logger.With("component", "webhook-registrar"),
	}
}

// TargetURL returns the callback URL Asana should deliver to.
func (r *Registrar) TargetURL() string {
	return r.cfg.TargetURL
}

func (r *Registrar) requireClient(needProject bool) error {
	switch {
	case r.api == nil:
		return fmt.Errorf("%w: access token missing", ErrNotConfigured)
	case r.cfg.WorkspaceGID == "":
		return fmt.Errorf("%w: workspace gid missing", ErrNotConfigured)
	case needProject && r.cfg.ProjectGID == "":
		return fmt.Errorf("%w: project gid missing", ErrNotConfigured)
	}
	return nil
}

// Status looks up the webhook targeting this instance. Lookup failures are
// reported in the result rather than as an error.
func (r *Registrar) Status(ctx context.Context) Status {
	if err := r.requireClient(false); err != nil {
		return Status{ErrorMessage: err.Error()}
	}

	hooks, err := r.api.GetWebhooks(ctx, r.cfg.WorkspaceGID)
	if err != nil {
		r.logger.Error("failed to check webhook status", "error", err)
		return Status{ErrorMessage: err.Error()}
	}

	for _, h := range hooks {
		if h.Target != r.cfg.TargetURL {
			continue
		}
		active := h.Active
		return Status{
			IsRegistered:  true,
			WebhookGID:    h.GID,
			IsActive:      &active,
			TargetURL:     h.Target,
			ResourceName:  h.Resource.Name,
			LastSuccessAt: formatTime(h.LastSuccessAt),
			LastFailureAt: formatTime(h.LastFailureAt),
		}
	}
	return Status{}
}

// Create replaces any webhook targeting this instance with a new one on the
// configured project and stores the handshake secret. This server must
// already be serving the callback URL, since Asana performs the handshake
// before the create call returns.
func (r *Registrar) Create(ctx context.Context) (*asana.Webhook, error) {
	if err := r.requireClient(true); err != nil {
		return nil, err
	}
	if IsLoopbackURL(r.cfg.TargetURL) {
		return nil, ErrLoopbackTarget
	}

	hooks, err := r.api.GetWebhooks(ctx, r.cfg.WorkspaceGID)
	if err != nil {
		return nil, fmt.Errorf("listing webhooks: %w", err)
	}
	for _, h := range hooks {
		if h.Target == r.cfg.TargetURL {
			r.logger.Info("deleting existing webhook", "webhook_gid", h.GID)
			if err := r.api.DeleteWebhook(ctx, h.GID); err != nil {
				return nil, fmt.Errorf("deleting existing webhook %s: %w", h.GID, err)
			}
		}
	}

	hook, secret, err := r.api.CreateWebhook(ctx, asana.WebhookCreateRequest{
		Resource: r.cfg.ProjectGID,
		Target:   r.cfg.TargetURL,
		Filters: []asana.WebhookFilter{
			{ResourceType: "task", Action: "changed", Fields: []string{"assignee"}},
			{ResourceType: "story", Action: "added"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating webhook: %w", err)
	}

	if secret == "" {
		r.logger.Warn("webhook created but no secret received", "webhook_gid", hook.GID)
		return hook, nil
	}
	if err := r.secrets.Set(ctx, secret); err != nil {
		return hook, err
	}
	r.logger.Info("webhook created and secret stored", "webhook_gid", hook.GID)
	return hook, nil
}

// Delete removes every webhook targeting this instance and clears the
// stored secret. It returns ErrNoWebhook when there was nothing to delete.
func (r *Registrar) Delete(ctx context.Context) (int, error) {
	if err := r.requireClient(false); err != nil {
		return 0, err
	}

	hooks, err := r.api.GetWebhooks(ctx, r.cfg.WorkspaceGID)
	if err != nil {
		return 0, fmt.Errorf("listing webhooks: %w", err)
	}

	deleted := 0
	for _, h := range hooks {
		if h.Target != r.cfg.TargetURL {
			continue
		}
		if err := r.api.DeleteWebhook(ctx, h.GID); err != nil {
			return deleted, fmt.Errorf("deleting webhook %s: %w", h.GID, err)
		}
		deleted++
		r.logger.Info("deleted webhook", "webhook_gid", h.GID)
	}
	if deleted == 0 {
		return 0, ErrNoWebhook
	}

	if err := r.secrets.Clear(ctx); err != nil {
		return deleted, err
	}
	return deleted, nil
}

// IsLoopbackURL reports whether rawURL points at localhost or a loopback IP.
// Unparseable URLs count as loopback since Asana could not reach them either.
func IsLoopbackURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return true
	}
	host := strings.ToLower(u.Hostname())
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
