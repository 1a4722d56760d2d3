// ABOUTME: JWT-protected management API for the Asana webhook and task mappings
// ABOUTME: Provides webhook status/create/delete and mapping list/remove endpoints

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/coven-asana/internal/asana"
	"github.com/2389/coven-asana/internal/auth"
	"github.com/2389/coven-asana/internal/conversation"
	"github.com/2389/coven-asana/internal/mapping"
	"github.com/2389/coven-asana/internal/webhook"
)

// WebhookCreateResponse is the JSON response for POST /asana/webhook/create.
type WebhookCreateResponse struct {
	WebhookGID   string `json:"webhook_gid"`
	TargetURL    string `json:"target_url"`
	ResourceName string `json:"resource_name,omitempty"`
	Active       bool   `json:"active"`
}

// WebhookDeleteResponse is the JSON response for DELETE /asana/webhook.
type WebhookDeleteResponse struct {
	Deleted int `json:"deleted"`
}

// ListMappingsResponse is the JSON response for GET /asana/mappings.
type ListMappingsResponse struct {
	Mappings []mapping.Entry `json:"mappings"`
}

// ConversationSummary describes one conversation for GET /asana/conversations.
type ConversationSummary struct {
	ID        string `json:"id"`
	TaskGID   string `json:"task_gid"`
	Title     string `json:"title"`
	State     string `json:"state"`
	URL       string `json:"url"`
	Reporting bool   `json:"reporting"`
	UpdatedAt string `json:"updated_at"`
}

// ListConversationsResponse is the JSON response for GET /asana/conversations.
type ListConversationsResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
}

// handleWebhookStatus handles GET /asana/webhook/status. Problems talking
// to Asana are reported inside the status body rather than as an HTTP error.
func (g *Gateway) handleWebhookStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.registrar.Status(r.Context()))
}

// handleWebhookCreate handles POST /asana/webhook/create.
func (g *Gateway) handleWebhookCreate(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalID(r.Context())

	hook, err := g.registrar.Create(r.Context())
	if err != nil {
		g.logger.Warn("webhook create failed", "principal", principal, "error", err)
		g.sendManagementError(w, err)
		return
	}

	g.logger.Info("webhook created via API", "principal", principal, "webhook_gid", hook.GID)
	writeJSON(w, http.StatusCreated, WebhookCreateResponse{
		WebhookGID:   hook.GID,
		TargetURL:    g.registrar.TargetURL(),
		ResourceName: hook.Resource.Name,
		Active:       hook.Active,
	})
}

// handleWebhookDelete handles DELETE /asana/webhook.
func (g *Gateway) handleWebhookDelete(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalID(r.Context())

	n, err := g.registrar.Delete(r.Context())
	if err != nil {
		g.logger.Warn("webhook delete failed", "principal", principal, "error", err)
		g.sendManagementError(w, err)
		return
	}

	g.logger.Info("webhook deleted via API", "principal", principal, "deleted", n)
	writeJSON(w, http.StatusOK, WebhookDeleteResponse{Deleted: n})
}

// handleListMappings handles GET /asana/mappings.
func (g *Gateway) handleListMappings(w http.ResponseWriter, r *http.Request) {
	entries := g.reconciler.Mappings()
	if entries == nil {
		entries = []mapping.Entry{}
	}
	writeJSON(w, http.StatusOK, ListMappingsResponse{Mappings: entries})
}

// handleDeleteMapping handles DELETE /asana/mappings/{conversation_id}.
// The conversation itself is removed along with its mapping and listener.
func (g *Gateway) handleDeleteMapping(w http.ResponseWriter, r *http.Request) {
	convID := r.PathValue("conversation_id")
	if convID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "conversation_id required")
		return
	}

	removed, err := g.reconciler.RemoveConversation(r.Context(), convID)
	if err != nil {
		g.logger.Error("failed to remove conversation", "error", err, "conversation_id", convID)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !removed {
		g.sendJSONError(w, http.StatusNotFound, "mapping not found")
		return
	}

	g.logger.Info("mapping removed via API", "principal", auth.PrincipalID(r.Context()), "conversation_id", convID)
	w.WriteHeader(http.StatusNoContent)
}

// handleListConversations handles GET /asana/conversations, optionally
// limited by ?limit=N.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	threads, err := g.store.ListThreads(r.Context(), limit)
	if err != nil {
		g.logger.Error("failed to list conversations", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := ListConversationsResponse{Conversations: make([]ConversationSummary, 0, len(threads))}
	for _, t := range threads {
		_, reporting := g.reporters.Get(t.ID)
		resp.Conversations = append(resp.Conversations, ConversationSummary{
			ID:        t.ID,
			TaskGID:   t.ExternalID,
			Title:     t.Title,
			State:     t.State,
			URL:       g.config.ConversationURL(t.ID),
			Reporting: reporting,
			UpdatedAt: t.UpdatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// sendManagementError maps registrar and Asana errors onto HTTP statuses.
func (g *Gateway) sendManagementError(w http.ResponseWriter, err error) {
	var apiErr *asana.APIError
	switch {
	case errors.Is(err, webhook.ErrNotConfigured), errors.Is(err, webhook.ErrLoopbackTarget):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, webhook.ErrNoWebhook), errors.Is(err, conversation.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &apiErr):
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":           "asana request failed",
			"upstream_status": apiErr.StatusCode,
			"upstream_body":   apiErr.Body,
		})
	default:
		g.logger.Error("management request failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
