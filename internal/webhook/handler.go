// ABOUTME: HTTP endpoint Asana delivers webhooks to: handshake, signature check, parse, dispatch
// ABOUTME: Events are processed in tracked background goroutines so Asana never waits on agents

package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"

	"github.com/2389/coven-asana/internal/asana"
	"github.com/2389/coven-asana/internal/dedupe"
)

const (
	// HeaderSecret carries the handshake secret, request and response.
	HeaderSecret = "X-Hook-Secret"
	// HeaderSignature carries the hex HMAC-SHA256 of a delivery body.
	HeaderSignature = "X-Hook-Signature"

	DefaultMaxBodyBytes = 1 << 20
)

// Dispatcher runs the reconciliation protocols.
type Dispatcher interface {
	ProcessTaskAssignment(ctx context.Context, taskGID string) (string, error)
	ProcessStoryMention(ctx context.Context, storyGID, parentGID string) (string, error)
}

// Config holds handler settings.
type Config struct {
	MaxBodyBytes int64
}

// Handler serves the webhook routes.
type Handler struct {
	cfg        Config
	dispatcher Dispatcher
	secrets    *SecretCache
	dedupe     *dedupe.Cache
	logger     *slog.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	draining bool
}

// NewHandler creates a Handler.
func NewHandler(cfg Config, dispatcher Dispatcher, secrets *SecretCache, cache *dedupe.Cache, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		cfg:        cfg,
		dispatcher: dispatcher,
		secrets:    secrets,
		dedupe:     cache,
		logger:     logger.With("component", "webhook"),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Register mounts the webhook routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/asana", h.HandleWebhook)
	mux.HandleFunc("GET /webhooks/asana/status", h.HandleStatus)
}

// HandleWebhook handles POST /webhooks/asana.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Warn("webhook body too large", "limit", tooLarge.Limit)
		}
		sendJSONError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	if secret := r.Header.Get(HeaderSecret); secret != "" {
		h.logger.Info("received webhook handshake")
		if err := h.secrets.Set(r.Context(), secret); err != nil {
			h.logger.Error("failed to persist webhook secret", "error", err)
		}
		w.Header().Set(HeaderSecret, secret)
		w.WriteHeader(http.StatusOK)
		return
	}

	signature := r.Header.Get(HeaderSignature)
	if signature == "" {
		h.logger.Warn("unsigned webhook delivery rejected")
		sendJSONError(w, http.StatusUnauthorized, "missing signature")
		return
	}
	secret, ok := h.secrets.Get(r.Context())
	if !ok {
		h.logger.Warn("no webhook secret stored, cannot verify signature")
		sendJSONError(w, http.StatusUnauthorized, "no webhook secret configured")
		return
	}
	if !VerifySignature(body, signature, secret) {
		h.logger.Warn("invalid webhook signature")
		sendJSONError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var payload asana.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.logger.Error("failed to parse webhook payload", "error", err)
		sendJSONError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	if len(payload.Events) == 0 {
		h.logger.Debug("received heartbeat")
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "message": "heartbeat received"})
		return
	}

	for _, raw := range payload.Events {
		if !h.dispatch(Decode(raw)) {
			// Asana redelivers on non-2xx; events already queued are deduped then.
			h.logger.Warn("shutting down, rejecting webhook delivery", "count", len(payload.Events))
			sendJSONError(w, http.StatusServiceUnavailable, "shutting down")
			return
		}
	}
	h.logger.Info("webhook events queued", "count", len(payload.Events))
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "queued": len(payload.Events)})
}

// HandleStatus handles GET /webhooks/asana/status.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{
		"configured_secrets":     h.secrets.Count(),
		"processed_events_count": h.dedupe.Len(),
	})
}

// dispatch processes event in a tracked goroutine. It returns false once
// Drain has started.
func (h *Handler) dispatch(event Event) bool {
	h.mu.Lock()
	if h.draining {
		h.mu.Unlock()
		return false
	}
	h.wg.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("panic processing webhook event",
					"event", event, "panic", rec, "stack", string(debug.Stack()))
			}
		}()
		h.process(h.ctx, event)
	}()
	return true
}

func (h *Handler) process(ctx context.Context, event Event) {
	if _, ignored := event.(Ignored); !ignored && h.dedupe.CheckAndMark(event.DedupeKey()) {
		h.logger.Info("skipping duplicate event", "key", event.DedupeKey())
		return
	}

	switch e := event.(type) {
	case TaskChanged:
		logger := h.logger.With("task_gid", e.TaskGID, "change_field", e.Field, "user_gid", e.UserGID)
		convID, err := h.dispatcher.ProcessTaskAssignment(ctx, e.TaskGID)
		switch {
		case err != nil:
			logger.Error("task assignment failed", "error", err)
		case convID == "":
			logger.Info("task skipped")
		default:
			logger.Info("task handled", "conversation_id", convID)
		}
	case StoryAdded:
		logger := h.logger.With("story_gid", e.StoryGID, "parent_gid", e.ParentGID, "user_gid", e.UserGID)
		convID, err := h.dispatcher.ProcessStoryMention(ctx, e.StoryGID, e.ParentGID)
		switch {
		case err != nil:
			logger.Error("story mention failed", "error", err)
		case convID == "":
			logger.Info("story skipped")
		default:
			logger.Info("story handled", "conversation_id", convID)
		}
	case Ignored:
		h.logger.Debug("ignoring event", "resource_type", e.ResourceType, "action", e.Action, "gid", e.GID)
	}
}

// Wait blocks until all queued events have been processed.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// Drain stops accepting events, waits for queued ones until ctx is done,
// then cancels the rest.
func (h *Handler) Drain(ctx context.Context) error {
	h.mu.Lock()
	h.draining = true
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.cancel()
		return nil
	case <-ctx.Done():
		h.cancel()
		return ctx.Err()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
