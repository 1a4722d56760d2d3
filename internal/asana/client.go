// ABOUTME: Typed HTTP client for the Asana REST API with bearer auth via oauth2
// ABOUTME: Every read requests an explicit opt_fields allowlist; no automatic retries

package asana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultBaseURL is the Asana REST API root.
const DefaultBaseURL = "https://app.asana.com/api/1.0"

// ErrWorkspaceRequired is returned by workspace-scoped calls when no workspace gid is known.
var ErrWorkspaceRequired = errors.New("workspace gid is required")

// APIError is returned for non-2xx responses and carries the upstream status and body.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("asana API error (%d) on %s %s: %s", e.StatusCode, e.Method, e.Path, e.Body)
}

// IsNotFound reports whether err is an Asana 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

var (
	taskFields = []string{
		"gid", "resource_type", "name", "notes", "html_notes",
		"completed", "completed_at", "due_on", "due_at",
		"assignee", "assignee.gid", "assignee.name", "assignee.email",
		"projects", "projects.gid", "projects.name",
		"workspace", "workspace.gid", "workspace.name",
		"permalink_url", "created_at", "modified_at", "parent",
	}
	storyFields = []string{
		"text", "html_text", "type", "resource_subtype", "created_at",
		"created_by", "created_by.name", "is_pinned",
		"target", "target.gid", "target.name",
	}
	taskStoryFields = []string{
		"text", "html_text", "type", "resource_subtype", "created_at",
		"created_by", "created_by.name", "is_pinned",
	}
	userFields    = []string{"gid", "name", "email"}
	webhookFields = []string{
		"active", "resource", "resource.name", "target", "created_at",
		"last_failure_at", "last_failure_content", "last_success_at",
		"filters", "filters.action", "filters.resource_type", "filters.fields",
	}
)

// Client talks to the Asana REST API on behalf of one access token.
type Client struct {
	baseURL      string
	workspaceGID string
	httpClient   *http.Client
	logger       *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API root, used by tests against httptest servers.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithWorkspace sets the default workspace for workspace-scoped calls.
func WithWorkspace(gid string) Option {
	return func(c *Client) { c.workspaceGID = gid }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithHTTPTransport sets the base transport beneath the bearer-token transport.
func WithHTTPTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.httpClient.Transport.(*oauth2.Transport).Base = rt
	}
}

// NewClient creates a client authenticating with a personal access token.
func NewClient(accessToken string, opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "asana")
	return c
}

// WorkspaceGID returns the default workspace.
func (c *Client) WorkspaceGID() string {
	return c.workspaceGID
}

// envelope is Asana's {"data": ...} response wrapper.
type envelope struct {
	Data json.RawMessage `json:"data"`
}

func fieldsQuery(fields []string) url.Values {
	return url.Values{"opt_fields": {strings.Join(fields, ",")}}
}

// do sends a request and returns the raw response body after status checks.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(map[string]any{"data": body})
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return respBody, nil
}

// call performs a request and decodes the data envelope into result (when non-nil).
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, result any) error {
	respBody, err := c.do(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if result == nil || len(respBody) == 0 {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	if err := json.Unmarshal(env.Data, result); err != nil {
		return fmt.Errorf("decoding %s %s data: %w", method, path, err)
	}
	return nil
}

// GetTask fetches a task.
func (c *Client) GetTask(ctx context.Context, taskGID string) (*Task, error) {
	c.logger.Debug("fetching task", "task_gid", taskGID)
	var task Task
	if err := c.call(ctx, http.MethodGet, "/tasks/"+url.PathEscape(taskGID), fieldsQuery(taskFields), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// UpdateTask applies a partial update to a task.
func (c *Client) UpdateTask(ctx context.Context, taskGID string, update TaskUpdate) (*Task, error) {
	c.logger.Info("updating task", "task_gid", taskGID)
	var task Task
	if err := c.call(ctx, http.MethodPut, "/tasks/"+url.PathEscape(taskGID), nil, update, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// CompleteTask marks a task complete.
func (c *Client) CompleteTask(ctx context.Context, taskGID string) (*Task, error) {
	done := true
	return c.UpdateTask(ctx, taskGID, TaskUpdate{Completed: &done})
}

// LikeTask hearts a task. Used as a quick acknowledgment.
func (c *Client) LikeTask(ctx context.Context, taskGID string) error {
	liked := true
	_, err := c.UpdateTask(ctx, taskGID, TaskUpdate{Liked: &liked})
	return err
}

// AddComment posts a story on a task.
func (c *Client) AddComment(ctx context.Context, taskGID string, req CommentRequest) (*Story, error) {
	c.logger.Info("adding comment", "task_gid", taskGID, "pinned", req.IsPinned, "html", req.HTMLText != "")
	var story Story
	if err := c.call(ctx, http.MethodPost, "/tasks/"+url.PathEscape(taskGID)+"/stories", nil, req, &story); err != nil {
		return nil, err
	}
	return &story, nil
}

// GetStory fetches a story.
func (c *Client) GetStory(ctx context.Context, storyGID string) (*Story, error) {
	c.logger.Debug("fetching story", "story_gid", storyGID)
	var story Story
	if err := c.call(ctx, http.MethodGet, "/stories/"+url.PathEscape(storyGID), fieldsQuery(storyFields), nil, &story); err != nil {
		return nil, err
	}
	return &story, nil
}

// GetTaskStories lists a task's stories, oldest first.
func (c *Client) GetTaskStories(ctx context.Context, taskGID string) ([]Story, error) {
	c.logger.Debug("fetching task stories", "task_gid", taskGID)
	var stories []Story
	if err := c.call(ctx, http.MethodGet, "/tasks/"+url.PathEscape(taskGID)+"/stories", fieldsQuery(taskStoryFields), nil, &stories); err != nil {
		return nil, err
	}
	return stories, nil
}

// UpdateStory applies a partial update to a story.
func (c *Client) UpdateStory(ctx context.Context, storyGID string, update StoryUpdate) (*Story, error) {
	c.logger.Info("updating story", "story_gid", storyGID)
	var story Story
	if err := c.call(ctx, http.MethodPut, "/stories/"+url.PathEscape(storyGID), nil, update, &story); err != nil {
		return nil, err
	}
	return &story, nil
}

// LikeStory hearts a comment.
func (c *Client) LikeStory(ctx context.Context, storyGID string) error {
	liked := true
	_, err := c.UpdateStory(ctx, storyGID, StoryUpdate{Liked: &liked})
	return err
}

func (c *Client) workspace(gid string) (string, error) {
	if gid != "" {
		return gid, nil
	}
	if c.workspaceGID != "" {
		return c.workspaceGID, nil
	}
	return "", ErrWorkspaceRequired
}

// GetWebhooks lists webhooks in a workspace. An empty gid uses the client default.
func (c *Client) GetWebhooks(ctx context.Context, workspaceGID string) ([]Webhook, error) {
	ws, err := c.workspace(workspaceGID)
	if err != nil {
		return nil, err
	}
	q := fieldsQuery(webhookFields)
	q.Set("workspace", ws)

	var hooks []Webhook
	if err := c.call(ctx, http.MethodGet, "/webhooks", q, nil, &hooks); err != nil {
		return nil, err
	}
	return hooks, nil
}

// CreateWebhook registers a webhook and returns it with the handshake secret.
// Asana performs the handshake against req.Target before this call returns,
// so the target endpoint must already be serving.
func (c *Client) CreateWebhook(ctx context.Context, req WebhookCreateRequest) (*Webhook, string, error) {
	c.logger.Info("creating webhook", "resource", req.Resource, "target", req.Target)

	respBody, err := c.do(ctx, http.MethodPost, "/webhooks", nil, req)
	if err != nil {
		c.logger.Error("webhook creation failed", "error", err)
		return nil, "", err
	}

	var result struct {
		Data   Webhook `json:"data"`
		Secret string  `json:"X-Hook-Secret"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, "", fmt.Errorf("decoding webhook create response: %w", err)
	}

	c.logger.Info("webhook created", "webhook_gid", result.Data.GID)
	return &result.Data, result.Secret, nil
}

// DeleteWebhook removes a webhook.
func (c *Client) DeleteWebhook(ctx context.Context, webhookGID string) error {
	c.logger.Info("deleting webhook", "webhook_gid", webhookGID)
	return c.call(ctx, http.MethodDelete, "/webhooks/"+url.PathEscape(webhookGID), nil, nil, nil)
}

// GetMe returns the user that owns the access token.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var u User
	if err := c.call(ctx, http.MethodGet, "/users/me", fieldsQuery(userFields), nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUser fetches a user.
func (c *Client) GetUser(ctx context.Context, userGID string) (*User, error) {
	var u User
	if err := c.call(ctx, http.MethodGet, "/users/"+url.PathEscape(userGID), fieldsQuery(userFields), nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetTasksForUser lists the tasks assigned to a user in a workspace. Only
// incomplete tasks are returned unless includeCompleted is set. An empty
// workspace gid uses the client default.
func (c *Client) GetTasksForUser(ctx context.Context, userGID, workspaceGID string, includeCompleted bool) ([]Task, error) {
	ws, err := c.workspace(workspaceGID)
	if err != nil {
		return nil, err
	}
	q := fieldsQuery(taskFields)
	q.Set("assignee", userGID)
	q.Set("workspace", ws)
	if !includeCompleted {
		q.Set("completed_since", "now")
	}

	var tasks []Task
	if err := c.call(ctx, http.MethodGet, "/tasks", q, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetWorkspaces lists the workspaces visible to the token.
func (c *Client) GetWorkspaces(ctx context.Context) ([]Workspace, error) {
	var ws []Workspace
	if err := c.call(ctx, http.MethodGet, "/workspaces", fieldsQuery([]string{"gid", "name"}), nil, &ws); err != nil {
		return nil, err
	}
	return ws, nil
}

// GetProjects lists non-archived projects in a workspace.
func (c *Client) GetProjects(ctx context.Context, workspaceGID string) ([]Project, error) {
	ws, err := c.workspace(workspaceGID)
	if err != nil {
		return nil, err
	}
	q := fieldsQuery([]string{"gid", "name", "archived"})
	q.Set("workspace", ws)

	var all []Project
	if err := c.call(ctx, http.MethodGet, "/projects", q, nil, &all); err != nil {
		return nil, err
	}

	projects := make([]Project, 0, len(all))
	for _, p := range all {
		if !p.Archived {
			projects = append(projects, p)
		}
	}
	return projects, nil
}
