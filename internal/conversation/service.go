// ABOUTME: Conversation runtime: creates conversations, relays messages to the agent
// ABOUTME: Every streamed event is persisted first and then published to subscribers

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-asana/internal/agent"
	"github.com/2389/coven-asana/internal/store"
)

// ErrNotFound is returned for operations on a conversation that does not exist.
var ErrNotFound = errors.New("conversation not found")

// ConversationStore defines what the service needs from storage
type ConversationStore interface {
	CreateThread(ctx context.Context, thread *store.Thread) error
	GetThread(ctx context.Context, id string) (*store.Thread, error)
	UpdateThread(ctx context.Context, thread *store.Thread) error
	DeleteThread(ctx context.Context, id string) error

	SaveEvent(ctx context.Context, event *store.LedgerEvent) error
	ListEvents(ctx context.Context, threadID string, limit int) ([]*store.LedgerEvent, error)
	ListRecentEvents(ctx context.Context, threadID string, limit int) ([]*store.LedgerEvent, error)
}

// MessageSender defines what the service needs from the agent layer
type MessageSender interface {
	SendMessage(ctx context.Context, req *agent.SendRequest) (<-chan *agent.Response, error)
}

// Options configures a Service.
type Options struct {
	AgentID string
	Sender  string // author recorded for inbound messages
}

// Service is the conversation runtime. Messages are recorded before they
// are sent to the agent, and agent output is recorded as it streams back.
type Service struct {
	store       ConversationStore
	sender      MessageSender
	broadcaster *EventBroadcaster
	opts        Options
	logger      *slog.Logger

	wg sync.WaitGroup
}

// New creates a conversation Service.
func New(store ConversationStore, sender MessageSender, broadcaster *EventBroadcaster, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Sender == "" {
		opts.Sender = "asana"
	}
	return &Service{
		store:       store,
		sender:      sender,
		broadcaster: broadcaster,
		opts:        opts,
		logger:      logger.With("component", "conversation"),
	}
}

// CreateRequest starts a new conversation.
type CreateRequest struct {
	ExternalID     string // Asana task gid
	Title          string
	InitialMessage string
}

// Create records a new conversation and sends its first message. The agent
// response streams in the background; Create returns once the message is
// accepted by the gateway.
func (s *Service) Create(ctx context.Context, req CreateRequest) (string, error) {
	if strings.TrimSpace(req.InitialMessage) == "" {
		return "", fmt.Errorf("initial message is required")
	}

	thread := &store.Thread{
		ID:         uuid.New().String(),
		ExternalID: req.ExternalID,
		AgentID:    s.opts.AgentID,
		Title:      req.Title,
	}
	if err := s.store.CreateThread(ctx, thread); err != nil {
		return "", fmt.Errorf("creating thread: %w", err)
	}

	if err := s.send(ctx, thread, req.InitialMessage); err != nil {
		// Leave no half-created conversation behind for the mapping to point at.
		if delErr := s.store.DeleteThread(context.WithoutCancel(ctx), thread.ID); delErr != nil {
			s.logger.Warn("failed to clean up conversation", "conversation_id", thread.ID, "error", delErr)
		}
		return "", err
	}

	s.logger.Info("conversation created", "conversation_id", thread.ID, "external_id", req.ExternalID)
	return thread.ID, nil
}

// Exists reports whether a conversation is still present.
func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.store.GetThread(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Get returns conversation metadata.
func (s *Service) Get(ctx context.Context, id string) (*store.Thread, error) {
	thread, err := s.store.GetThread(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return thread, err
}

// Send delivers a follow-up message into an existing conversation.
func (s *Service) Send(ctx context.Context, id, content string) error {
	thread, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.send(ctx, thread, content)
}

func (s *Service) send(ctx context.Context, thread *store.Thread, content string) error {
	// 1. Record user message first
	s.record(ctx, thread.ID, store.EventDirectionInbound, s.opts.Sender, store.EventTypeMessage, content)

	// 2. Send to agent
	stream, err := s.sender.SendMessage(ctx, &agent.SendRequest{
		ThreadID: thread.RemoteThreadID,
		Sender:   s.opts.Sender,
		Content:  content,
		AgentID:  thread.AgentID,
	})
	if err != nil {
		s.record(ctx, thread.ID, store.EventDirectionOutbound, s.agentAuthor(thread), store.EventTypeError, err.Error())
		return fmt.Errorf("agent send failed: %w", err)
	}

	s.setState(ctx, thread, StateRunning)

	// 3. Persist the stream in the background
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.persistResponses(thread, stream)
	}()
	return nil
}

// persistResponses drains one agent stream, persisting and publishing as it goes.
func (s *Service) persistResponses(thread *store.Thread, in <-chan *agent.Response) {
	ctx := context.Background()
	author := s.agentAuthor(thread)

	var textBuffer strings.Builder
	for resp := range in {
		switch resp.Event {
		case agent.EventStarted:
			if resp.ThreadID != "" && resp.ThreadID != thread.RemoteThreadID {
				thread.RemoteThreadID = resp.ThreadID
				s.updateThread(ctx, thread)
			}

		case agent.EventText:
			// Accumulate text for final save (don't save each chunk)
			textBuffer.WriteString(resp.Text)

		case agent.EventThinking:
			s.record(ctx, thread.ID, store.EventDirectionOutbound, author, store.EventTypeThinking, resp.Text)

		case agent.EventToolUse:
			if resp.ToolUse != nil {
				toolText := fmt.Sprintf(`{"name":%q,"id":%q,"input":%q}`, resp.ToolUse.Name, resp.ToolUse.ID, resp.ToolUse.InputJSON)
				s.record(ctx, thread.ID, store.EventDirectionOutbound, author, store.EventTypeToolCall, toolText)
			}

		case agent.EventToolResult:
			if resp.ToolResult != nil {
				toolResultText := fmt.Sprintf(`{"id":%q,"output":%q,"is_error":%t}`, resp.ToolResult.ID, resp.ToolResult.Output, resp.ToolResult.IsError)
				s.record(ctx, thread.ID, store.EventDirectionOutbound, author, store.EventTypeToolResult, toolResultText)
			}

		case agent.EventUsage:
			if resp.Usage != nil {
				raw, _ := json.Marshal(Usage{
					InputTokens:  resp.Usage.InputTokens,
					OutputTokens: resp.Usage.OutputTokens,
					Cost:         resp.Usage.Cost,
				})
				s.record(ctx, thread.ID, store.EventDirectionOutbound, author, store.EventTypeUsage, string(raw))
			}

		case agent.EventDone:
			// Non-streaming agents only send the full response with done
			content := textBuffer.String()
			if content == "" {
				content = resp.Text
			}
			if content != "" {
				s.record(ctx, thread.ID, store.EventDirectionOutbound, author, store.EventTypeMessage, content)
			}
			s.setState(ctx, thread, StateAwaitingUserInput)

		case agent.EventError:
			s.record(ctx, thread.ID, store.EventDirectionOutbound, author, store.EventTypeError, resp.Error)
			s.setState(ctx, thread, StateError)

		case agent.EventCancelled:
			s.setState(ctx, thread, StateStopped)
		}
	}
}

// Usage is the payload of a usage ledger event.
type Usage struct {
	InputTokens  int32   `json:"input_tokens"`
	OutputTokens int32   `json:"output_tokens"`
	Cost         float64 `json:"cost,omitempty"`
}

// Events returns a conversation's full history, oldest first.
func (s *Service) Events(ctx context.Context, id string) ([]*store.LedgerEvent, error) {
	return s.store.ListEvents(ctx, id, 0)
}

// RecentEvents returns up to limit events, newest first.
func (s *Service) RecentEvents(ctx context.Context, id string, limit int) ([]*store.LedgerEvent, error) {
	return s.store.ListRecentEvents(ctx, id, limit)
}

// LastAgentMessage returns the most recent message written by the agent.
func (s *Service) LastAgentMessage(ctx context.Context, id string) (string, error) {
	events, err := s.store.ListEvents(ctx, id, 0)
	if err != nil {
		return "", err
	}
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if e.Type == store.EventTypeMessage && e.Direction == store.EventDirectionOutbound {
			return e.Text, nil
		}
	}
	return "", nil
}

// TotalCost sums the reported cost of every usage event. known is false
// when the gateway never reported a cost.
func (s *Service) TotalCost(ctx context.Context, id string) (cost float64, known bool, err error) {
	events, err := s.store.ListEvents(ctx, id, 0)
	if err != nil {
		return 0, false, err
	}
	for _, e := range events {
		if e.Type != store.EventTypeUsage {
			continue
		}
		var u Usage
		if json.Unmarshal([]byte(e.Text), &u) != nil {
			continue
		}
		if u.Cost > 0 {
			cost += u.Cost
			known = true
		}
	}
	return cost, known, nil
}

// Subscribe streams newly persisted events for one conversation.
func (s *Service) Subscribe(ctx context.Context, id string) (<-chan *store.LedgerEvent, string) {
	return s.broadcaster.Subscribe(ctx, id)
}

// Unsubscribe ends a subscription created by Subscribe.
func (s *Service) Unsubscribe(id, subID string) {
	s.broadcaster.Unsubscribe(id, subID)
}

// Delete removes a conversation and its history.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.store.DeleteThread(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	s.logger.Info("conversation deleted", "conversation_id", id)
	return nil
}

// Wait blocks until every in-flight agent stream has been persisted.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) agentAuthor(thread *store.Thread) string {
	return "agent:" + thread.AgentID
}

func (s *Service) setState(ctx context.Context, thread *store.Thread, state string) {
	thread.State = state
	s.updateThread(ctx, thread)
	s.record(ctx, thread.ID, store.EventDirectionOutbound, s.agentAuthor(thread), store.EventTypeState, state)
}

func (s *Service) updateThread(ctx context.Context, thread *store.Thread) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.store.UpdateThread(saveCtx, thread); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("failed to update thread", "error", err, "conversation_id", thread.ID)
	}
}

// record saves a ledger event with its own timeout and publishes it.
// Persistence continues even if the request context is cancelled.
func (s *Service) record(ctx context.Context, threadID string, dir store.EventDirection, author string, typ store.EventType, text string) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	event := &store.LedgerEvent{
		ThreadID:  threadID,
		Direction: dir,
		Author:    author,
		Type:      typ,
		Text:      text,
	}
	if err := s.store.SaveEvent(saveCtx, event); err != nil {
		s.logger.Error("failed to save event",
			"error", err,
			"conversation_id", threadID,
			"type", typ)
		return
	}
	s.logger.Debug("event saved", "event_id", event.ID, "conversation_id", threadID, "type", typ)
	s.broadcaster.Publish(threadID, event)
}
