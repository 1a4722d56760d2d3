// ABOUTME: Closed set of inbound webhook event variants decoded once at the HTTP boundary
// ABOUTME: Routing switches over the concrete type instead of resource_type strings

package webhook

import (
	"github.com/2389/coven-asana/internal/asana"
	"github.com/2389/coven-asana/internal/dedupe"
)

// Event is one decoded webhook event: TaskChanged, StoryAdded or Ignored.
type Event interface {
	// DedupeKey identifies the delivery for duplicate suppression.
	DedupeKey() string
	event()
}

// TaskChanged is a "changed" action on a task, typically an assignee change.
type TaskChanged struct {
	TaskGID   string
	UserGID   string
	CreatedAt string
	Field     string
}

// StoryAdded is a new story on a task. ParentGID may be empty.
type StoryAdded struct {
	StoryGID  string
	ParentGID string
	UserGID   string
	CreatedAt string
}

// Ignored is any event the bridge does not act on.
type Ignored struct {
	ResourceType string
	GID          string
	Action       string
	CreatedAt    string
}

func (e TaskChanged) DedupeKey() string { return dedupe.Key("task", e.TaskGID, e.CreatedAt) }
func (e StoryAdded) DedupeKey() string  { return dedupe.Key("story", e.StoryGID, e.CreatedAt) }
func (e Ignored) DedupeKey() string     { return dedupe.Key(e.ResourceType, e.GID, e.CreatedAt) }

func (TaskChanged) event() {}
func (StoryAdded) event()  {}
func (Ignored) event()     {}

// Decode classifies a raw Asana event.
func Decode(raw asana.WebhookEvent) Event {
	var userGID string
	if raw.User != nil {
		userGID = raw.User.GID
	}

	switch {
	case raw.Resource.ResourceType == "task" && raw.Action == "changed":
		e := TaskChanged{TaskGID: raw.Resource.GID, UserGID: userGID, CreatedAt: raw.CreatedAt}
		if raw.Change != nil {
			e.Field = raw.Change.Field
		}
		return e
	case raw.Resource.ResourceType == "story" && raw.Action == "added":
		e := StoryAdded{StoryGID: raw.Resource.GID, UserGID: userGID, CreatedAt: raw.CreatedAt}
		if raw.Parent != nil {
			e.ParentGID = raw.Parent.GID
		}
		return e
	default:
		return Ignored{
			ResourceType: raw.Resource.ResourceType,
			GID:          raw.Resource.GID,
			Action:       raw.Action,
			CreatedAt:    raw.CreatedAt,
		}
	}
}
