// ABOUTME: Read-only conversation page linked from the pinned Asana comment
// ABOUTME: Renders the ledger as HTML, with agent messages converted from markdown

package gateway

import (
	"bytes"
	"errors"
	"html/template"
	"net/http"

	"github.com/yuin/goldmark"

	"github.com/2389/coven-asana/internal/conversation"
	"github.com/2389/coven-asana/internal/store"
)

var conversationTemplate = template.Must(template.ParseFS(templateFS, "templates/conversation.html"))

type conversationEntry struct {
	Author    string
	Kind      string
	Timestamp string
	Text      string
	HTML      template.HTML
}

type conversationPageData struct {
	Title   string
	TaskGID string
	State   string
	Running bool
	Cost    float64
	HasCost bool
	Entries []conversationEntry
}

// handleConversationPage handles GET /conversations/{id}. Conversation ids
// are random UUIDs; the page is readable by anyone holding the link.
func (g *Gateway) handleConversationPage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	thread, err := g.conversations.Get(r.Context(), id)
	if errors.Is(err, conversation.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		g.logger.Error("failed to load conversation", "error", err, "conversation_id", id)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	events, err := g.conversations.Events(r.Context(), id)
	if err != nil {
		g.logger.Error("failed to load conversation events", "error", err, "conversation_id", id)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	cost, hasCost, err := g.conversations.TotalCost(r.Context(), id)
	if err != nil {
		g.logger.Warn("failed to total conversation cost", "error", err, "conversation_id", id)
	}

	data := conversationPageData{
		Title:   thread.Title,
		TaskGID: thread.ExternalID,
		State:   thread.State,
		Running: !conversation.IsTerminal(thread.State),
		Cost:    cost,
		HasCost: hasCost,
		Entries: buildConversationEntries(events),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := conversationTemplate.Execute(w, data); err != nil {
		g.logger.Error("failed to render conversation", "error", err)
	}
}

// buildConversationEntries keeps the events a reader cares about. Usage
// and state events only feed the header.
func buildConversationEntries(events []*store.LedgerEvent) []conversationEntry {
	entries := make([]conversationEntry, 0, len(events))
	for _, e := range events {
		entry := conversationEntry{
			Author:    e.Author,
			Kind:      string(e.Type),
			Timestamp: e.Timestamp.Format("2006-01-02 15:04:05"),
		}
		switch e.Type {
		case store.EventTypeUsage, store.EventTypeState:
			continue
		case store.EventTypeMessage:
			if e.Direction == store.EventDirectionOutbound {
				entry.HTML = renderMarkdown(e.Text)
			} else {
				entry.Text = e.Text
			}
		default:
			entry.Text = e.Text
		}
		entries = append(entries, entry)
	}
	return entries
}

// renderMarkdown converts agent output to HTML. goldmark drops raw HTML by
// default, so the result is safe to embed.
func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}
