// ABOUTME: Result listener registry: one listener per conversation that reports back to Asana
// ABOUTME: A listener posts once per terminal agent state until re-armed by a follow-up message

package reporter

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-asana/internal/asana"
	"github.com/2389/coven-asana/internal/conversation"
	"github.com/2389/coven-asana/internal/store"
)

// CommentPoster posts comments on Asana tasks.
type CommentPoster interface {
	AddComment(ctx context.Context, taskGID string, req asana.CommentRequest) (*asana.Story, error)
}

// EventSource is the part of the conversation runtime a listener reads.
type EventSource interface {
	Subscribe(ctx context.Context, conversationID string) (<-chan *store.LedgerEvent, string)
	RecentEvents(ctx context.Context, conversationID string, limit int) ([]*store.LedgerEvent, error)
	LastAgentMessage(ctx context.Context, conversationID string) (string, error)
	TotalCost(ctx context.Context, conversationID string) (float64, bool, error)
}

// Config tunes reporting.
type Config struct {
	AgentUserGID    string
	MaxResultLength int
	CatchUpLimit    int
	CatchUpDelay    time.Duration
	ReportTimeout   time.Duration
	// ProgressEvery is the minimum gap between interim updates posted from
	// agent messages while a run is in flight. Zero disables them.
	ProgressEvery time.Duration
	// ConversationURL builds the link placed in error comments.
	ConversationURL func(conversationID string) string
}

func (c *Config) applyDefaults() {
	if c.MaxResultLength <= 0 {
		c.MaxResultLength = 10000
	}
	if c.CatchUpLimit <= 0 {
		c.CatchUpLimit = 50
	}
	if c.CatchUpDelay < 0 {
		c.CatchUpDelay = 0
	}
	if c.ReportTimeout <= 0 {
		c.ReportTimeout = 60 * time.Second
	}
	if c.ProgressEvery < 0 {
		c.ProgressEvery = 0
	}
	if c.ConversationURL == nil {
		c.ConversationURL = func(string) string { return "" }
	}
}

// Listener tracks reporting for one conversation.
type Listener struct {
	TaskGID        string
	ConversationID string

	mu           sync.Mutex
	reported     bool
	startedAt    time.Time
	lastProgress time.Time
	cancel       context.CancelFunc
}

// claim marks the listener reported. Only the first caller since the last
// re-arm gets true.
func (l *Listener) claim() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reported {
		return false
	}
	l.reported = true
	return true
}

// progressDue reports whether an interim update may be posted at now, and
// records it as posted when so. Nothing is due once a result is out, or
// until every has elapsed since the window began or the last update.
func (l *Listener) progressDue(now time.Time, every time.Duration) bool {
	if every <= 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reported {
		return false
	}
	since := l.startedAt
	if l.lastProgress.After(since) {
		since = l.lastProgress
	}
	if now.Sub(since) < every {
		return false
	}
	l.lastProgress = now
	return true
}

// Reported reports whether a result has been posted since the last re-arm.
func (l *Listener) Reported() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reported
}

// StartedAt returns when the current reporting window began.
func (l *Listener) StartedAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.startedAt
}

// Registry holds the active listeners, keyed by conversation id.
type Registry struct {
	cfg    Config
	poster CommentPoster
	events EventSource
	logger *slog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	listeners map[string]*Listener
}

// NewRegistry creates an empty listener registry.
func NewRegistry(cfg Config, poster CommentPoster, events EventSource, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		cfg:       cfg,
		poster:    poster,
		events:    events,
		logger:    logger.With("component", "reporter"),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[string]*Listener),
	}
}

// Subscribe attaches a listener to a conversation, replacing any existing
// one. After CatchUpDelay it scans recent history so a terminal state that
// fired before the subscription existed is still reported exactly once.
func (r *Registry) Subscribe(conversationID, taskGID string) *Listener {
	ctx, cancel := context.WithCancel(r.ctx)
	l := &Listener{
		TaskGID:        taskGID,
		ConversationID: conversationID,
		startedAt:      r.now(),
		cancel:         cancel,
	}

	r.mu.Lock()
	if old, ok := r.listeners[conversationID]; ok {
		old.cancel()
	}
	r.listeners[conversationID] = l
	r.mu.Unlock()

	ch, _ := r.events.Subscribe(ctx, conversationID)

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		r.watch(l, ch)
	}()
	go func() {
		defer r.wg.Done()
		r.catchUp(ctx, l)
	}()

	r.logger.Info("listener subscribed", "conversation_id", conversationID, "task_gid", taskGID)
	return l
}

// Rearm resets a listener so the next terminal state is reported again.
// Returns false when no listener exists for the conversation.
func (r *Registry) Rearm(conversationID string) bool {
	r.mu.Lock()
	l, ok := r.listeners[conversationID]
	r.mu.Unlock()
	if !ok {
		return false
	}

	l.mu.Lock()
	l.reported = false
	l.startedAt = r.now()
	l.mu.Unlock()

	r.logger.Debug("listener re-armed", "conversation_id", conversationID)
	return true
}

// Remove detaches and forgets a conversation's listener.
func (r *Registry) Remove(conversationID string) {
	r.mu.Lock()
	l, ok := r.listeners[conversationID]
	delete(r.listeners, conversationID)
	r.mu.Unlock()

	if ok {
		l.cancel()
		r.logger.Info("listener removed", "conversation_id", conversationID)
	}
}

// Get returns a conversation's listener.
func (r *Registry) Get(conversationID string) (*Listener, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.listeners[conversationID]
	return l, ok
}

// Len returns the number of active listeners.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}

// Close stops every listener and waits for in-flight reports.
func (r *Registry) Close() {
	r.cancel()
	r.wg.Wait()
}

func (r *Registry) watch(l *Listener, ch <-chan *store.LedgerEvent) {
	for ev := range ch {
		if ev.Type == store.EventTypeMessage && ev.Direction == store.EventDirectionOutbound {
			if ev.Text != "" && l.progressDue(r.now(), r.cfg.ProgressEvery) {
				r.progress(l, ev.Text)
			}
			continue
		}
		if ev.Type != store.EventTypeState {
			continue
		}
		if !conversation.IsTerminal(ev.Text) {
			continue
		}
		if !l.claim() {
			continue
		}
		r.logger.Info("conversation reached terminal state",
			"conversation_id", l.ConversationID,
			"task_gid", l.TaskGID,
			"state", ev.Text)
		r.report(l, ev.Text)
	}
}

func (r *Registry) catchUp(ctx context.Context, l *Listener) {
	if r.cfg.CatchUpDelay > 0 {
		select {
		case <-time.After(r.cfg.CatchUpDelay):
		case <-ctx.Done():
			return
		}
	}

	events, err := r.events.RecentEvents(ctx, l.ConversationID, r.cfg.CatchUpLimit)
	if err != nil {
		r.logger.Warn("catch-up scan failed", "conversation_id", l.ConversationID, "error", err)
		return
	}

	// Newest first: the first state event is the current state.
	for _, ev := range events {
		if ev.Type != store.EventTypeState {
			continue
		}
		if conversation.IsTerminal(ev.Text) && l.claim() {
			r.logger.Info("catch-up found terminal state",
				"conversation_id", l.ConversationID,
				"state", ev.Text)
			r.report(l, ev.Text)
		}
		return
	}
}

// report posts the result comment within ReportTimeout. Expiry is logged
// and the report abandoned.
func (r *Registry) report(l *Listener, state string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), r.cfg.ReportTimeout)
	defer cancel()

	message, err := r.events.LastAgentMessage(ctx, l.ConversationID)
	if err != nil {
		r.logger.Warn("failed to read agent message", "conversation_id", l.ConversationID, "error", err)
	}

	if state == conversation.StateError && message == "" {
		r.ReportError(ctx, l.TaskGID, r.lastError(ctx, l.ConversationID), r.cfg.ConversationURL(l.ConversationID))
		return
	}

	elapsed := r.now().Sub(l.StartedAt())
	var costPtr *float64
	if cost, known, err := r.events.TotalCost(ctx, l.ConversationID); err == nil && known {
		costPtr = &cost
	}

	ok := r.ReportResult(ctx, l.TaskGID, message, &elapsed, costPtr)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		r.logger.Error("timed out reporting to Asana",
			"conversation_id", l.ConversationID,
			"task_gid", l.TaskGID,
			"timeout", r.cfg.ReportTimeout)
		return
	}
	r.logger.Info("reported result", "conversation_id", l.ConversationID, "task_gid", l.TaskGID, "success", ok)
}

func (r *Registry) progress(l *Listener, markdown string) {
	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.ReportTimeout)
	defer cancel()
	ok := r.ReportProgress(ctx, l.TaskGID, markdown, r.cfg.ConversationURL(l.ConversationID))
	r.logger.Debug("reported progress", "conversation_id", l.ConversationID, "task_gid", l.TaskGID, "success", ok)
}

func (r *Registry) lastError(ctx context.Context, conversationID string) string {
	events, err := r.events.RecentEvents(ctx, conversationID, r.cfg.CatchUpLimit)
	if err == nil {
		for _, ev := range events {
			if ev.Type == store.EventTypeError && ev.Text != "" {
				return ev.Text
			}
		}
	}
	return "agent stopped with an error"
}

// ReportResult posts the agent's final message with the metrics footer.
func (r *Registry) ReportResult(ctx context.Context, taskGID, message string, elapsed *time.Duration, cost *float64) bool {
	body := FormatResult(message, r.cfg.AgentUserGID, r.cfg.MaxResultLength, FormatMetrics(elapsed, cost))
	return r.post(ctx, taskGID, "result", wrapBody(body))
}

// ReportError posts a fixed-format error comment.
func (r *Registry) ReportError(ctx context.Context, taskGID, message, conversationURL string) bool {
	return r.post(ctx, taskGID, "error", wrapBody(FormatError(message, conversationURL)))
}

// ReportProgress posts an interim update from agent markdown.
func (r *Registry) ReportProgress(ctx context.Context, taskGID, markdown, conversationURL string) bool {
	return r.post(ctx, taskGID, "progress", wrapBody(FormatProgress(markdown, r.cfg.AgentUserGID, conversationURL)))
}

func (r *Registry) post(ctx context.Context, taskGID, kind, htmlText string) bool {
	if _, err := r.poster.AddComment(ctx, taskGID, asana.CommentRequest{HTMLText: htmlText}); err != nil {
		r.logger.Error("failed to post comment", "task_gid", taskGID, "kind", kind, "error", err)
		return false
	}
	r.logger.Debug("posted comment", "task_gid", taskGID, "kind", kind, "length", len(htmlText))
	return true
}
