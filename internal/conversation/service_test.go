// ABOUTME: Tests for the conversation runtime
// ABOUTME: Uses MockStore and a scripted MessageSender in place of coven-gateway

package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-asana/internal/agent"
	"github.com/2389/coven-asana/internal/store"
)

// scriptedSender replies to every message with a fixed list of responses.
type scriptedSender struct {
	mu        sync.Mutex
	responses []*agent.Response
	err       error
	requests  []*agent.SendRequest
}

func (m *scriptedSender) SendMessage(ctx context.Context, req *agent.SendRequest) (<-chan *agent.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	ch := make(chan *agent.Response, len(m.responses))
	for _, r := range m.responses {
		ch <- r
	}
	close(ch)
	return ch, nil
}

func (m *scriptedSender) lastRequest() *agent.SendRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[len(m.requests)-1]
}

func newTestService(t *testing.T, sender MessageSender) (*Service, *store.MockStore) {
	t.Helper()
	st := store.NewMockStore()
	b := NewEventBroadcaster(nil)
	t.Cleanup(b.Close)
	return New(st, sender, b, Options{AgentID: "agent-1", Sender: "asana"}, nil), st
}

func completedReply(text string, cost float64) []*agent.Response {
	return []*agent.Response{
		{Event: agent.EventStarted, ThreadID: "remote-1"},
		{Event: agent.EventText, Text: text},
		{Event: agent.EventUsage, Usage: &agent.UsageEvent{InputTokens: 100, OutputTokens: 20, Cost: cost}},
		{Event: agent.EventDone, Done: true},
	}
}

func TestCreate_PersistsStreamAndState(t *testing.T) {
	sender := &scriptedSender{responses: completedReply("All done", 0.25)}
	svc, st := newTestService(t, sender)
	ctx := context.Background()

	id, err := svc.Create(ctx, CreateRequest{ExternalID: "1200001", Title: "Fix login", InitialMessage: "# Asana Task"})
	require.NoError(t, err)
	svc.Wait()

	thread, err := st.GetThread(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "remote-1", thread.RemoteThreadID)
	assert.Equal(t, StateAwaitingUserInput, thread.State)
	assert.Equal(t, "1200001", thread.ExternalID)

	msg, err := svc.LastAgentMessage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "All done", msg)

	cost, known, err := svc.TotalCost(ctx, id)
	require.NoError(t, err)
	assert.True(t, known)
	assert.InDelta(t, 0.25, cost, 1e-9)

	recent, err := svc.RecentEvents(ctx, id, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, store.EventTypeState, recent[0].Type)
	assert.Equal(t, StateAwaitingUserInput, recent[0].Text)

	assert.Equal(t, "agent-1", sender.lastRequest().AgentID)
	assert.Empty(t, sender.lastRequest().ThreadID)
}

func TestSend_ReusesRemoteThread(t *testing.T) {
	sender := &scriptedSender{responses: completedReply("first", 0)}
	svc, _ := newTestService(t, sender)
	ctx := context.Background()

	id, err := svc.Create(ctx, CreateRequest{ExternalID: "t", InitialMessage: "hi"})
	require.NoError(t, err)
	svc.Wait()

	require.NoError(t, svc.Send(ctx, id, "follow up"))
	svc.Wait()

	assert.Equal(t, "remote-1", sender.lastRequest().ThreadID)
	assert.Equal(t, "follow up", sender.lastRequest().Content)

	_, known, err := svc.TotalCost(ctx, id)
	require.NoError(t, err)
	assert.False(t, known)
}

func TestSend_UnknownConversation(t *testing.T) {
	svc, _ := newTestService(t, &scriptedSender{})
	err := svc.Send(context.Background(), "missing", "hi")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreate_SendFailureRemovesConversation(t *testing.T) {
	svc, st := newTestService(t, &scriptedSender{err: errors.New("gateway down")})
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateRequest{ExternalID: "t", InitialMessage: "hi"})
	require.Error(t, err)

	threads, err := st.ListThreads(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, threads)
}

func TestCreate_RequiresMessage(t *testing.T) {
	svc, _ := newTestService(t, &scriptedSender{})
	_, err := svc.Create(context.Background(), CreateRequest{ExternalID: "t", InitialMessage: "  "})
	assert.Error(t, err)
}

func TestStreamStates(t *testing.T) {
	tests := []struct {
		name  string
		reply []*agent.Response
		want  string
	}{
		{"error", []*agent.Response{{Event: agent.EventError, Error: "boom", Done: true}}, StateError},
		{"cancelled", []*agent.Response{{Event: agent.EventCancelled, Done: true}}, StateStopped},
		{"done", []*agent.Response{{Event: agent.EventDone, Text: "full", Done: true}}, StateAwaitingUserInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, st := newTestService(t, &scriptedSender{responses: tt.reply})
			id, err := svc.Create(context.Background(), CreateRequest{ExternalID: "t", InitialMessage: "hi"})
			require.NoError(t, err)
			svc.Wait()

			thread, err := st.GetThread(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, thread.State)
		})
	}
}

func TestSubscribe_ReceivesStateChanges(t *testing.T) {
	release := make(chan *agent.Response, 1)
	sender := &gatedSender{ch: release}
	svc, _ := newTestService(t, sender)
	ctx := context.Background()

	id, err := svc.Create(ctx, CreateRequest{ExternalID: "t", InitialMessage: "hi"})
	require.NoError(t, err)

	events, subID := svc.Subscribe(ctx, id)
	defer svc.Unsubscribe(id, subID)

	release <- &agent.Response{Event: agent.EventDone, Text: "ok", Done: true}
	close(release)

	var states []string
	timeout := time.After(2 * time.Second)
	for len(states) == 0 {
		select {
		case e := <-events:
			if e.Type == store.EventTypeState {
				states = append(states, e.Text)
			}
		case <-timeout:
			t.Fatal("no state change published")
		}
	}
	assert.Equal(t, []string{StateAwaitingUserInput}, states)
	svc.Wait()
}

// gatedSender hands back a channel the test controls.
type gatedSender struct {
	ch chan *agent.Response
}

func (g *gatedSender) SendMessage(ctx context.Context, req *agent.SendRequest) (<-chan *agent.Response, error) {
	return g.ch, nil
}

func TestDeleteAndExists(t *testing.T) {
	svc, _ := newTestService(t, &scriptedSender{responses: completedReply("x", 0)})
	ctx := context.Background()

	id, err := svc.Create(ctx, CreateRequest{ExternalID: "t", InitialMessage: "hi"})
	require.NoError(t, err)
	svc.Wait()

	ok, err := svc.Exists(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, svc.Delete(ctx, id))
	ok, err = svc.Exists(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, svc.Delete(ctx, id), ErrNotFound)
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []string{StateFinished, StateStopped, StateError, StateRejected, StateAwaitingUserInput} {
		assert.True(t, IsTerminal(s), s)
	}
	assert.False(t, IsTerminal(StateRunning))
	assert.False(t, IsTerminal(""))
}
