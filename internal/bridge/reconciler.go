// ABOUTME: Maps Asana task assignments and @mentions onto agent conversations
// ABOUTME: Owns the task -> conversation mapping and arms result listeners

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/coven-asana/internal/asana"
	"github.com/2389/coven-asana/internal/conversation"
	"github.com/2389/coven-asana/internal/format"
	"github.com/2389/coven-asana/internal/mapping"
	"github.com/2389/coven-asana/internal/reporter"
)

// AsanaAPI is the part of the Asana client the reconciler uses.
type AsanaAPI interface {
	GetTask(ctx context.Context, taskGID string) (*asana.Task, error)
	LikeTask(ctx context.Context, taskGID string) error
	AddComment(ctx context.Context, taskGID string, req asana.CommentRequest) (*asana.Story, error)
	GetStory(ctx context.Context, storyGID string) (*asana.Story, error)
	GetTaskStories(ctx context.Context, taskGID string) ([]asana.Story, error)
	LikeStory(ctx context.Context, storyGID string) error
}

// Conversations is the conversation runtime.
type Conversations interface {
	Create(ctx context.Context, req conversation.CreateRequest) (string, error)
	Exists(ctx context.Context, id string) (bool, error)
	Send(ctx context.Context, id, content string) error
	Delete(ctx context.Context, id string) error
}

// Mappings persists task -> conversation pairs.
type Mappings interface {
	Get(taskGID string) (string, bool)
	Set(taskGID, conversationID string) error
	Delete(taskGID string) error
	RemoveConversation(conversationID string) (string, bool, error)
	All() []mapping.Entry
}

// Listeners arms result reporting for conversations.
type Listeners interface {
	Subscribe(conversationID, taskGID string) *reporter.Listener
	Rearm(conversationID string) bool
	Remove(conversationID string)
}

// Config holds reconciler settings.
type Config struct {
	// AgentUserGID is the Asana user the agent acts as. Assignment events
	// for other assignees are ignored, and mentions need it to be detected.
	AgentUserGID    string
	ConversationURL func(conversationID string) string
}

// Reconciler turns Asana events into conversation lifecycle operations.
// Both entry points return the conversation id they acted on, or "" with a
// nil error when the event required no action.
type Reconciler struct {
	cfg           Config
	asana         AsanaAPI
	conversations Conversations
	mappings      Mappings
	listeners     Listeners
	logger        *slog.Logger
}

// New creates a Reconciler.
func New(cfg Config, api AsanaAPI, conversations Conversations, mappings Mappings, listeners Listeners, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConversationURL == nil {
		cfg.ConversationURL = func(id string) string { return id }
	}
	return &Reconciler{
		cfg:           cfg,
		asana:         api,
		conversations: conversations,
		mappings:      mappings,
		listeners:     listeners,
		logger:        logger.With("component", "reconciler"),
	}
}

// ProcessTaskAssignment handles a task whose assignee changed.
func (r *Reconciler) ProcessTaskAssignment(ctx context.Context, taskGID string) (string, error) {
	logger := r.logger.With("task_gid", taskGID)

	task, err := r.asana.GetTask(ctx, taskGID)
	if err != nil {
		return "", fmt.Errorf("fetching task %s: %w", taskGID, err)
	}

	if r.cfg.AgentUserGID != "" && task.AssigneeGID() != r.cfg.AgentUserGID {
		logger.Info("task not assigned to agent", "assignee", task.AssigneeGID())
		return "", nil
	}

	BestEffort(logger, "like task", func() error { return r.asana.LikeTask(ctx, taskGID) })

	if existing := r.liveConversation(ctx, taskGID); existing != "" {
		logger.Info("task already has a conversation", "conversation_id", existing)
		return existing, nil
	}

	convID, err := r.conversations.Create(ctx, conversation.CreateRequest{
		ExternalID:     taskGID,
		Title:          task.Name,
		InitialMessage: BuildTaskMessage(task),
	})
	if err != nil {
		BestEffort(logger, "post failure comment", func() error {
			_, cerr := r.asana.AddComment(ctx, taskGID, asana.CommentRequest{
				Text: fmt.Sprintf("❌ Failed to start agent: %v", err),
			})
			return cerr
		})
		return "", fmt.Errorf("creating conversation for task %s: %w", taskGID, err)
	}

	r.listeners.Subscribe(convID, taskGID)
	if err := r.mappings.Set(taskGID, convID); err != nil {
		logger.Error("failed to store mapping", "conversation_id", convID, "error", err)
	}

	BestEffort(logger, "post pinned conversation link", func() error {
		_, cerr := r.asana.AddComment(ctx, taskGID, asana.CommentRequest{
			Text:     "🧑🏽‍💻 Follow progress here:\n" + r.cfg.ConversationURL(convID),
			IsPinned: true,
		})
		return cerr
	}, "conversation_id", convID)

	logger.Info("conversation started for task", "conversation_id", convID, "task_name", task.Name)
	return convID, nil
}

// ProcessStoryMention handles a new comment. parentGID may be empty, in
// which case the story's target is used.
func (r *Reconciler) ProcessStoryMention(ctx context.Context, storyGID, parentGID string) (string, error) {
	logger := r.logger.With("story_gid", storyGID)

	if r.cfg.AgentUserGID == "" {
		logger.Warn("agent user gid not configured, ignoring mentions")
		return "", nil
	}

	story, err := r.asana.GetStory(ctx, storyGID)
	if err != nil {
		return "", fmt.Errorf("fetching story %s: %w", storyGID, err)
	}
	if !story.IsComment() {
		logger.Debug("story is not a comment", "subtype", story.ResourceSubtype)
		return "", nil
	}
	if !strings.Contains(story.HTMLText, r.cfg.AgentUserGID) {
		logger.Debug("agent not mentioned")
		return "", nil
	}

	text := storyText(story)
	if strings.TrimSpace(text) == "" {
		logger.Debug("mention has no text")
		return "", nil
	}

	taskGID := parentGID
	if taskGID == "" && story.Target != nil {
		taskGID = story.Target.GID
	}
	if taskGID == "" {
		logger.Warn("could not determine parent task")
		return "", nil
	}
	logger = logger.With("task_gid", taskGID)

	BestEffort(logger, "like story", func() error { return r.asana.LikeStory(ctx, storyGID) })

	comment := format.CleanComment(text)

	if existing := r.liveConversation(ctx, taskGID); existing != "" {
		err := r.deliver(ctx, existing, taskGID, comment)
		if err == nil {
			logger.Info("mention delivered to existing conversation", "conversation_id", existing)
			return existing, nil
		}
		logger.Warn("could not deliver to existing conversation, starting a new one",
			"conversation_id", existing, "error", err)
	}

	initial, title := comment, "Comment follow-up (story "+storyGID+")"
	if task, err := r.asana.GetTask(ctx, taskGID); err != nil {
		logger.Warn("failed to fetch task for context", "error", err)
	} else {
		var previous []asana.Story
		stories, err := r.asana.GetTaskStories(ctx, taskGID)
		if err != nil {
			logger.Warn("failed to fetch previous comments", "error", err)
		}
		for _, s := range stories {
			if s.IsComment() && s.GID != storyGID {
				previous = append(previous, s)
			}
		}
		initial = BuildTaskMessageWithQuestion(task, comment, previous)
		title = task.Name
	}

	convID, err := r.conversations.Create(ctx, conversation.CreateRequest{
		ExternalID:     taskGID,
		Title:          title,
		InitialMessage: initial,
	})
	if err != nil {
		return "", fmt.Errorf("creating conversation for story %s: %w", storyGID, err)
	}

	r.listeners.Subscribe(convID, taskGID)
	if err := r.mappings.Set(taskGID, convID); err != nil {
		logger.Error("failed to store mapping", "conversation_id", convID, "error", err)
	}

	logger.Info("conversation started for mention", "conversation_id", convID)
	return convID, nil
}

// deliver sends a follow-up message and makes sure its result is reported.
// An existing listener is re-armed before sending so a fast reply is not
// missed; a missing one is created after sending and catches up.
func (r *Reconciler) deliver(ctx context.Context, convID, taskGID, message string) error {
	rearmed := r.listeners.Rearm(convID)
	if err := r.conversations.Send(ctx, convID, message); err != nil {
		return err
	}
	if !rearmed {
		r.logger.Info("re-creating listener", "conversation_id", convID, "task_gid", taskGID)
		r.listeners.Subscribe(convID, taskGID)
	}
	return nil
}

// liveConversation returns the task's mapped conversation if it still
// exists. Stale mappings are dropped.
func (r *Reconciler) liveConversation(ctx context.Context, taskGID string) string {
	convID, _, err := r.checkMapping(ctx, taskGID)
	if err != nil {
		r.logger.Warn("could not check conversation", "task_gid", taskGID, "error", err)
		return ""
	}
	return convID
}

// checkMapping returns the live conversation mapped to a task. A mapping
// whose conversation is gone is dropped along with its listener and pruned
// is true. When existence cannot be checked the mapping is left alone.
func (r *Reconciler) checkMapping(ctx context.Context, taskGID string) (convID string, pruned bool, err error) {
	convID, ok := r.mappings.Get(taskGID)
	if !ok {
		return "", false, nil
	}

	exists, err := r.conversations.Exists(ctx, convID)
	if err != nil {
		return "", false, fmt.Errorf("checking conversation %s: %w", convID, err)
	}
	if exists {
		return convID, false, nil
	}

	r.logger.Info("mapped conversation no longer exists", "task_gid", taskGID, "conversation_id", convID)
	if err := r.mappings.Delete(taskGID); err != nil {
		r.logger.Warn("failed to delete stale mapping", "task_gid", taskGID, "error", err)
	}
	r.listeners.Remove(convID)
	return "", true, nil
}

// RemoveConversation tears down a conversation: its history, its mapping
// and its listener. It reports whether a mapping existed.
func (r *Reconciler) RemoveConversation(ctx context.Context, convID string) (bool, error) {
	if err := r.conversations.Delete(ctx, convID); err != nil && !errors.Is(err, conversation.ErrNotFound) {
		return false, fmt.Errorf("deleting conversation: %w", err)
	}
	r.listeners.Remove(convID)

	taskGID, removed, err := r.mappings.RemoveConversation(convID)
	if err != nil {
		return false, fmt.Errorf("removing mapping: %w", err)
	}
	if removed {
		r.logger.Info("conversation removed", "conversation_id", convID, "task_gid", taskGID)
	}
	return removed, nil
}

// Mappings returns every task -> conversation pair.
func (r *Reconciler) Mappings() []mapping.Entry {
	return r.mappings.All()
}
