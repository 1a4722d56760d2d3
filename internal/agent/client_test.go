// ABOUTME: Tests for the coven-gateway SSE client
// ABOUTME: Uses httptest servers that emit canned event streams

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseServer(t *testing.T, events []string, check func(r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range events {
			fmt.Fprint(w, e)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func collect(t *testing.T, ch <-chan *Response) []*Response {
	t.Helper()
	var out []*Response
	timeout := time.After(5 * time.Second)
	for {
		select {
		case r, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, r)
		case <-timeout:
			t.Fatal("timed out reading stream")
		}
	}
}

func TestSendMessage_StreamsEvents(t *testing.T) {
	var got SendRequest
	srv := sseServer(t, []string{
		"event: started\ndata: {\"thread_id\":\"th-1\"}\n\n",
		"event: thinking\ndata: {\"text\":\"hmm\"}\n\n",
		"event: text\ndata: {\"text\":\"Hello \"}\n\n",
		"event: tool_use\ndata: {\"id\":\"t1\",\"name\":\"bash\",\"input_json\":\"{}\"}\n\n",
		"event: tool_result\ndata: {\"id\":\"t1\",\"output\":\"ok\",\"is_error\":false}\n\n",
		"event: usage\ndata: {\"input_tokens\":10,\"output_tokens\":5,\"cost\":0.0123}\n\n",
		"event: done\ndata: {\"full_response\":\"Hello world\"}\n\n",
	}, func(r *http.Request) {
		assert.Equal(t, "/api/send", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	})

	c := NewClient(srv.URL+"/", "secret", time.Minute, nil)
	ch, err := c.SendMessage(context.Background(), &SendRequest{Sender: "asana", Content: "hi", AgentID: "agent-1"})
	require.NoError(t, err)

	resps := collect(t, ch)
	require.Len(t, resps, 7)
	assert.Equal(t, "agent-1", got.AgentID)
	assert.Equal(t, "hi", got.Content)

	assert.Equal(t, EventStarted, resps[0].Event)
	assert.Equal(t, "th-1", resps[0].ThreadID)
	assert.Equal(t, EventText, resps[2].Event)
	assert.Equal(t, "Hello ", resps[2].Text)
	assert.Equal(t, "bash", resps[3].ToolUse.Name)
	assert.Equal(t, "ok", resps[4].ToolResult.Output)
	require.NotNil(t, resps[5].Usage)
	assert.InDelta(t, 0.0123, resps[5].Usage.Cost, 1e-9)
	assert.Equal(t, int32(10), resps[5].Usage.InputTokens)
	assert.Equal(t, EventDone, resps[6].Event)
	assert.True(t, resps[6].Done)
	assert.Equal(t, "Hello world", resps[6].Text)
}

func TestSendMessage_ErrorEvent(t *testing.T) {
	srv := sseServer(t, []string{
		"event: error\ndata: {\"error\":\"agent crashed\"}\n\n",
		"event: text\ndata: {\"text\":\"never read\"}\n\n",
	}, nil)

	c := NewClient(srv.URL, "", time.Minute, nil)
	ch, err := c.SendMessage(context.Background(), &SendRequest{Content: "hi", AgentID: "a"})
	require.NoError(t, err)

	resps := collect(t, ch)
	require.Len(t, resps, 1)
	assert.Equal(t, EventError, resps[0].Event)
	assert.Equal(t, "agent crashed", resps[0].Error)
}

func TestSendMessage_TruncatedStream(t *testing.T) {
	srv := sseServer(t, []string{
		"event: text\ndata: {\"text\":\"partial\"}\n\n",
	}, nil)

	c := NewClient(srv.URL, "", time.Minute, nil)
	ch, err := c.SendMessage(context.Background(), &SendRequest{Content: "hi", AgentID: "a"})
	require.NoError(t, err)

	resps := collect(t, ch)
	require.Len(t, resps, 2)
	assert.Equal(t, EventError, resps[1].Event)
	assert.Contains(t, resps[1].Error, "without completion")
}

func TestSendMessage_SkipsUnknownAndMalformed(t *testing.T) {
	srv := sseServer(t, []string{
		"event: session_init\ndata: {\"session_id\":\"x\"}\n\n",
		"event: text\ndata: not-json\n\n",
		"event: cancelled\ndata: {\"reason\":\"user\"}\n\n",
	}, nil)

	c := NewClient(srv.URL, "", time.Minute, nil)
	ch, err := c.SendMessage(context.Background(), &SendRequest{Content: "hi", AgentID: "a"})
	require.NoError(t, err)

	resps := collect(t, ch)
	require.Len(t, resps, 1)
	assert.Equal(t, EventCancelled, resps[0].Event)
	assert.Equal(t, "user", resps[0].Error)
}

func TestSendMessage_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"no agents connected"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Minute, nil)
	_, err := c.SendMessage(context.Background(), &SendRequest{Content: "hi", AgentID: "a"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAgentUnavailable)
	assert.Contains(t, err.Error(), "no agents connected")
}

func TestSendMessage_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 100*time.Millisecond, nil)
	ch, err := c.SendMessage(context.Background(), &SendRequest{Content: "hi", AgentID: "a"})
	require.NoError(t, err)

	resps := collect(t, ch)
	require.Len(t, resps, 1)
	assert.Equal(t, EventError, resps[0].Event)
}

func TestStreamSSE_MultiLineData(t *testing.T) {
	var events, datas []string
	body := strings.NewReader("event: text\ndata: line1\ndata: line2\n\n: comment\n\n")
	err := streamSSE(context.Background(), body, func(e, d string) bool {
		events = append(events, e)
		datas = append(datas, d)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"text"}, events)
	assert.Equal(t, []string{"line1\nline2"}, datas)
}

func TestResponseEvent_String(t *testing.T) {
	assert.Equal(t, "done", EventDone.String())
	assert.Equal(t, "tool_use", EventToolUse.String())
	assert.True(t, EventCancelled.Terminal())
	assert.False(t, EventText.Terminal())
}
