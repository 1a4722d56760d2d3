// ABOUTME: Asana REST resource types: tasks, stories, webhooks and their request bodies
// ABOUTME: Field sets mirror the opt_fields allowlists requested by the client

package asana

import "time"

// Resource is the compact reference Asana embeds for related objects.
type Resource struct {
	GID          string `json:"gid"`
	ResourceType string `json:"resource_type,omitempty"`
	Name         string `json:"name,omitempty"`
}

// User is an Asana user reference.
type User struct {
	GID   string `json:"gid"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Project is an Asana project.
type Project struct {
	GID      string `json:"gid"`
	Name     string `json:"name,omitempty"`
	Archived bool   `json:"archived,omitempty"`
}

// Workspace is an Asana workspace.
type Workspace struct {
	GID  string `json:"gid"`
	Name string `json:"name,omitempty"`
}

// Task is a snapshot of an Asana task. It is fetched on demand and never cached.
type Task struct {
	GID          string     `json:"gid"`
	ResourceType string     `json:"resource_type,omitempty"`
	Name         string     `json:"name"`
	Notes        string     `json:"notes,omitempty"`
	HTMLNotes    string     `json:"html_notes,omitempty"`
	Completed    bool       `json:"completed"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	DueOn        string     `json:"due_on,omitempty"`
	DueAt        *time.Time `json:"due_at,omitempty"`
	Assignee     *User      `json:"assignee,omitempty"`
	Projects     []Project  `json:"projects,omitempty"`
	Workspace    *Workspace `json:"workspace,omitempty"`
	PermalinkURL string     `json:"permalink_url,omitempty"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
	ModifiedAt   *time.Time `json:"modified_at,omitempty"`
	Parent       *Resource  `json:"parent,omitempty"`
}

// AssigneeGID returns the assignee's gid or "" when unassigned.
func (t *Task) AssigneeGID() string {
	if t.Assignee == nil {
		return ""
	}
	return t.Assignee.GID
}

// StorySubtypeComment marks a story that is a genuine user comment rather
// than system activity.
const StorySubtypeComment = "comment_added"

// Story is an Asana story: either a user comment or a system activity record.
type Story struct {
	GID             string     `json:"gid"`
	Text            string     `json:"text,omitempty"`
	HTMLText        string     `json:"html_text,omitempty"`
	Type            string     `json:"type,omitempty"`
	ResourceSubtype string     `json:"resource_subtype,omitempty"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	CreatedBy       *User      `json:"created_by,omitempty"`
	IsPinned        bool       `json:"is_pinned"`
	Target          *Resource  `json:"target,omitempty"`
}

// IsComment reports whether the story is a user comment.
func (s *Story) IsComment() bool {
	return s.ResourceSubtype == StorySubtypeComment
}

// WebhookFilter narrows which events a webhook delivers.
type WebhookFilter struct {
	ResourceType    string   `json:"resource_type"`
	ResourceSubtype string   `json:"resource_subtype,omitempty"`
	Action          string   `json:"action,omitempty"`
	Fields          []string `json:"fields,omitempty"`
}

// Webhook is a registered Asana webhook.
type Webhook struct {
	GID                string          `json:"gid"`
	Active             bool            `json:"active"`
	Resource           Resource        `json:"resource"`
	Target             string          `json:"target"`
	CreatedAt          *time.Time      `json:"created_at,omitempty"`
	LastFailureAt      *time.Time      `json:"last_failure_at,omitempty"`
	LastFailureContent string          `json:"last_failure_content,omitempty"`
	LastSuccessAt      *time.Time      `json:"last_success_at,omitempty"`
	Filters            []WebhookFilter `json:"filters,omitempty"`
}

// WebhookCreateRequest is the body of POST /webhooks.
type WebhookCreateRequest struct {
	Resource string          `json:"resource"`
	Target   string          `json:"target"`
	Filters  []WebhookFilter `json:"filters,omitempty"`
}

// Change describes which field a "changed" event touched.
type Change struct {
	Field  string `json:"field"`
	Action string `json:"action,omitempty"`
}

// WebhookEvent is one entry of a webhook delivery's events array.
type WebhookEvent struct {
	User      *User     `json:"user,omitempty"`
	CreatedAt string    `json:"created_at"`
	Action    string    `json:"action"`
	Resource  Resource  `json:"resource"`
	Parent    *Resource `json:"parent,omitempty"`
	Change    *Change   `json:"change,omitempty"`
}

// WebhookPayload is the body Asana POSTs to a webhook target.
type WebhookPayload struct {
	Events []WebhookEvent `json:"events"`
}

// CommentRequest is the body of POST /tasks/{gid}/stories. Set either Text
// or HTMLText; HTMLText must be wrapped in <body>.
type CommentRequest struct {
	Text     string `json:"text,omitempty"`
	HTMLText string `json:"html_text,omitempty"`
	IsPinned bool   `json:"is_pinned"`
}

// TaskUpdate is the body of PUT /tasks/{gid}. Nil fields are omitted.
type TaskUpdate struct {
	Completed *bool   `json:"completed,omitempty"`
	Name      *string `json:"name,omitempty"`
	Notes     *string `json:"notes,omitempty"`
	Assignee  *string `json:"assignee,omitempty"`
	DueOn     *string `json:"due_on,omitempty"`
	Liked     *bool   `json:"liked,omitempty"`
}

// StoryUpdate is the body of PUT /stories/{gid}. Nil fields are omitted.
type StoryUpdate struct {
	Text     *string `json:"text,omitempty"`
	HTMLText *string `json:"html_text,omitempty"`
	IsPinned *bool   `json:"is_pinned,omitempty"`
	Liked    *bool   `json:"liked,omitempty"`
}
