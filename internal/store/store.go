// ABOUTME: Store interface and data types for coven-asana persistence
// ABOUTME: Defines conversation threads, ledger events and instance settings

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateThread is returned when trying to create a thread that already exists
var ErrDuplicateThread = errors.New("thread already exists")

// Thread is a conversation with the agent, started for one Asana task.
type Thread struct {
	ID         string
	ExternalID string // Asana task gid
	AgentID    string
	// RemoteThreadID is the coven-gateway thread id, learned from the first
	// streamed response and reused for follow-up messages.
	RemoteThreadID string
	Title          string
	State          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EventDirection indicates whether an event is inbound (to agent) or outbound (from agent)
type EventDirection string

const (
	EventDirectionInbound  EventDirection = "inbound_to_agent"
	EventDirectionOutbound EventDirection = "outbound_from_agent"
)

// EventType categorizes the kind of event
type EventType string

const (
	EventTypeMessage    EventType = "message"
	EventTypeThinking   EventType = "thinking"
	EventTypeToolCall   EventType = "tool_call"
	EventTypeToolResult EventType = "tool_result"
	EventTypeUsage      EventType = "usage"
	EventTypeState      EventType = "state" // Text holds the new agent state
	EventTypeError      EventType = "error"
)

// LedgerEvent is one entry in a conversation's history. Seq is assigned on
// save and gives a total order within the store.
type LedgerEvent struct {
	ID        string
	Seq       int64
	ThreadID  string
	Direction EventDirection
	Author    string
	Type      EventType
	Text      string
	Timestamp time.Time
}

// SettingWebhookSecret holds the X-Hook-Secret from the last handshake.
const SettingWebhookSecret = "asana.webhook_secret"

// Store defines the interface for conversation and settings persistence
type Store interface {
	// Threads
	CreateThread(ctx context.Context, thread *Thread) error
	GetThread(ctx context.Context, id string) (*Thread, error)
	UpdateThread(ctx context.Context, thread *Thread) error
	DeleteThread(ctx context.Context, id string) error
	ListThreads(ctx context.Context, limit int) ([]*Thread, error)

	// Ledger events
	SaveEvent(ctx context.Context, event *LedgerEvent) error
	// ListEvents returns a thread's events oldest first. limit <= 0 means all.
	ListEvents(ctx context.Context, threadID string, limit int) ([]*LedgerEvent, error)
	// ListRecentEvents returns up to limit of a thread's events, newest first.
	ListRecentEvents(ctx context.Context, threadID string, limit int) ([]*LedgerEvent, error)

	// Settings
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	DeleteSetting(ctx context.Context, key string) error

	// Close releases any resources held by the store
	Close() error
}
