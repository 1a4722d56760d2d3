// ABOUTME: HTTP client for a coven-gateway's /api/send endpoint
// ABOUTME: Sends one message and streams the agent's server-sent events back as Responses

package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrAgentUnavailable is returned when the gateway has no agent to take the message.
var ErrAgentUnavailable = errors.New("agent unavailable")

// SendRequest is the JSON request body for POST /api/send.
type SendRequest struct {
	ThreadID string `json:"thread_id,omitempty"`
	Sender   string `json:"sender"`
	Content  string `json:"content"`
	AgentID  string `json:"agent_id"`
}

// Client talks to a coven-gateway over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
}

// NewClient creates a gateway client. token may be empty when the gateway
// runs without auth. timeout bounds one whole streamed response.
func NewClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
		timeout:    timeout,
		logger:     logger.With("component", "agent"),
	}
}

// SendMessage posts a message and returns a channel of streamed responses.
// The channel is closed after a terminal event, a stream error or timeout.
// A stream that ends without a terminal event yields a synthetic EventError.
func (c *Client) SendMessage(ctx context.Context, req *SendRequest) (<-chan *Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	// The stream outlives the caller's request context; only the timeout bounds it.
	streamCtx := context.WithoutCancel(ctx)
	var cancel context.CancelFunc = func() {}
	if c.timeout > 0 {
		streamCtx, cancel = context.WithTimeout(streamCtx, c.timeout)
	}

	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, c.baseURL+"/api/send", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("sending request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer cancel()
		defer resp.Body.Close()
		return nil, statusError(resp)
	}

	out := make(chan *Response, 16)
	go func() {
		defer cancel()
		defer close(out)
		defer resp.Body.Close()

		terminal := false
		err := streamSSE(streamCtx, resp.Body, func(event, data string) bool {
			r, perr := parseEvent(event, data)
			if perr != nil {
				c.logger.Warn("skipping malformed event", "event", event, "error", perr)
				return true
			}
			if r == nil {
				return true
			}
			out <- r
			terminal = r.Event.Terminal()
			return !terminal
		})
		if terminal {
			return
		}
		msg := "stream ended without completion"
		if err != nil {
			msg = err.Error()
		}
		c.logger.Warn("agent stream interrupted", "agent_id", req.AgentID, "error", msg)
		out <- &Response{Event: EventError, Error: msg, Done: true}
	}()

	return out, nil
}

func statusError(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if json.Unmarshal(raw, &errResp) == nil && errResp.Error != "" {
		if resp.StatusCode == http.StatusServiceUnavailable {
			return fmt.Errorf("%w: %s", ErrAgentUnavailable, errResp.Error)
		}
		return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, errResp.Error)
	}
	return fmt.Errorf("gateway returned status %d", resp.StatusCode)
}

// streamSSE reads server-sent events and hands each complete one to handle.
// handle returns false to stop reading.
func streamSSE(ctx context.Context, body io.Reader, handle func(event, data string) bool) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var eventType string
	var dataLines []string

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Text()

		// Empty line signals end of event
		if line == "" {
			if eventType != "" && len(dataLines) > 0 {
				if !handle(eventType, strings.Join(dataLines, "\n")) {
					return nil
				}
			}
			eventType = ""
			dataLines = nil
			continue
		}

		if strings.HasPrefix(line, "event:") {
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			continue
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	return ctx.Err()
}

// wireEvent is the union of every data payload the gateway emits.
type wireEvent struct {
	ThreadID     string   `json:"thread_id"`
	Text         string   `json:"text"`
	FullResponse string   `json:"full_response"`
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	InputJSON    string   `json:"input_json"`
	Output       string   `json:"output"`
	IsError      bool     `json:"is_error"`
	InputTokens  int32    `json:"input_tokens"`
	OutputTokens int32    `json:"output_tokens"`
	Cost         *float64 `json:"cost"`
	Error        string   `json:"error"`
	Reason       string   `json:"reason"`
}

// parseEvent converts one SSE event to a Response. Unknown event types
// return nil so newer gateways can add events without breaking the stream.
func parseEvent(event, data string) (*Response, error) {
	kind, ok := eventNames[event]
	if !ok {
		return nil, nil
	}

	var w wireEvent
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		return nil, fmt.Errorf("parsing event data: %w", err)
	}

	r := &Response{Event: kind, Done: kind.Terminal()}
	switch kind {
	case EventStarted:
		r.ThreadID = w.ThreadID
	case EventThinking, EventText:
		r.Text = w.Text
	case EventToolUse:
		r.ToolUse = &ToolUseEvent{ID: w.ID, Name: w.Name, InputJSON: w.InputJSON}
	case EventToolResult:
		r.ToolResult = &ToolResultEvent{ID: w.ID, Output: w.Output, IsError: w.IsError}
	case EventUsage:
		r.Usage = &UsageEvent{InputTokens: w.InputTokens, OutputTokens: w.OutputTokens}
		if w.Cost != nil {
			r.Usage.Cost = *w.Cost
		}
	case EventDone:
		r.Text = w.FullResponse
	case EventError:
		r.Error = w.Error
	case EventCancelled:
		r.Error = w.Reason
	}
	return r, nil
}
