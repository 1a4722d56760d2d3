// ABOUTME: In-memory fakes for the reconciler's collaborators
// ABOUTME: Record every call so tests can assert on side effects

package bridge

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/2389/coven-asana/internal/asana"
	"github.com/2389/coven-asana/internal/conversation"
	"github.com/2389/coven-asana/internal/mapping"
	"github.com/2389/coven-asana/internal/reporter"
)

type fakeAsana struct {
	mu       sync.Mutex
	tasks    map[string]*asana.Task
	stories  map[string]*asana.Story
	taskErr  error
	likeErr  error
	liked    []string
	comments []asana.CommentRequest
}

func newFakeAsana() *fakeAsana {
	return &fakeAsana{tasks: map[string]*asana.Task{}, stories: map[string]*asana.Story{}}
}

func (f *fakeAsana) GetTask(ctx context.Context, gid string) (*asana.Task, error) {
	if f.taskErr != nil {
		return nil, f.taskErr
	}
	t, ok := f.tasks[gid]
	if !ok {
		return nil, &asana.APIError{StatusCode: 404, Body: "not found"}
	}
	return t, nil
}

func (f *fakeAsana) LikeTask(ctx context.Context, gid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.liked = append(f.liked, gid)
	return f.likeErr
}

func (f *fakeAsana) AddComment(ctx context.Context, gid string, req asana.CommentRequest) (*asana.Story, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments = append(f.comments, req)
	return &asana.Story{GID: fmt.Sprintf("c%d", len(f.comments))}, nil
}

func (f *fakeAsana) GetStory(ctx context.Context, gid string) (*asana.Story, error) {
	s, ok := f.stories[gid]
	if !ok {
		return nil, &asana.APIError{StatusCode: 404}
	}
	return s, nil
}

func (f *fakeAsana) GetTaskStories(ctx context.Context, gid string) ([]asana.Story, error) {
	var out []asana.Story
	for _, s := range f.stories {
		if s.Target != nil && s.Target.GID == gid {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeAsana) LikeStory(ctx context.Context, gid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.liked = append(f.liked, gid)
	return f.likeErr
}

type fakeConversations struct {
	mu        sync.Mutex
	next      int
	live      map[string]bool
	created   []conversation.CreateRequest
	sent      map[string][]string
	createErr error
	sendErr   error
	existsErr error
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{live: map[string]bool{}, sent: map[string][]string{}}
}

func (f *fakeConversations) Create(ctx context.Context, req conversation.CreateRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.next++
	id := fmt.Sprintf("conv-%d", f.next)
	f.live[id] = true
	f.created = append(f.created, req)
	return id, nil
}

func (f *fakeConversations) Exists(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return f.live[id], nil
}

func (f *fakeConversations) Send(ctx context.Context, id, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent[id] = append(f.sent[id], content)
	return nil
}

func (f *fakeConversations) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.live[id] {
		return conversation.ErrNotFound
	}
	delete(f.live, id)
	return nil
}

type fakeListeners struct {
	mu         sync.Mutex
	subscribed map[string]string // conv -> task
	rearmed    []string
	removed    []string
}

func newFakeListeners() *fakeListeners {
	return &fakeListeners{subscribed: map[string]string{}}
}

func (f *fakeListeners) Subscribe(convID, taskGID string) *reporter.Listener {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed[convID] = taskGID
	return &reporter.Listener{ConversationID: convID, TaskGID: taskGID}
}

func (f *fakeListeners) Rearm(convID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subscribed[convID]; !ok {
		return false
	}
	f.rearmed = append(f.rearmed, convID)
	return true
}

func (f *fakeListeners) Remove(convID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subscribed, convID)
	f.removed = append(f.removed, convID)
}

type harness struct {
	asana     *fakeAsana
	convs     *fakeConversations
	mappings  *mapping.Store
	listeners *fakeListeners
	r         *Reconciler
}

const agentGID = "1209999"

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		asana:     newFakeAsana(),
		convs:     newFakeConversations(),
		mappings:  mapping.New(filepath.Join(t.TempDir(), mapping.DefaultFileName), nil),
		listeners: newFakeListeners(),
	}
	h.r = New(Config{
		AgentUserGID:    agentGID,
		ConversationURL: func(id string) string { return "https://bridge.example.com/conversations/" + id },
	}, h.asana, h.convs, h.mappings, h.listeners, nil)
	return h
}
