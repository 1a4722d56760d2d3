// ABOUTME: Response types streamed back from a coven agent
// ABOUTME: One Response per server-sent event on the /api/send stream

package agent

// Response represents a response event from an agent.
type Response struct {
	Event      ResponseEvent
	Text       string
	ThreadID   string // For EventStarted
	ToolUse    *ToolUseEvent
	ToolResult *ToolResultEvent
	Usage      *UsageEvent // For EventUsage
	Error      string
	Done       bool
}

// ResponseEvent indicates the type of response event.
type ResponseEvent int

const (
	EventStarted ResponseEvent = iota
	EventThinking
	EventText
	EventToolUse
	EventToolResult
	EventUsage
	EventDone
	EventError
	EventCancelled
)

var eventNames = map[string]ResponseEvent{
	"started":     EventStarted,
	"thinking":    EventThinking,
	"text":        EventText,
	"tool_use":    EventToolUse,
	"tool_result": EventToolResult,
	"usage":       EventUsage,
	"done":        EventDone,
	"error":       EventError,
	"cancelled":   EventCancelled,
}

func (e ResponseEvent) String() string {
	for name, ev := range eventNames {
		if ev == e {
			return name
		}
	}
	return "unknown"
}

// Terminal reports whether no further events follow this one.
func (e ResponseEvent) Terminal() bool {
	return e == EventDone || e == EventError || e == EventCancelled
}

// ToolUseEvent represents a tool invocation by the agent.
type ToolUseEvent struct {
	ID        string
	Name      string
	InputJSON string
}

// ToolResultEvent represents the result of a tool invocation.
type ToolResultEvent struct {
	ID      string
	Output  string
	IsError bool
}

// UsageEvent represents token consumption from an LLM call. Cost is in USD
// and zero when the gateway does not report it.
type UsageEvent struct {
	InputTokens  int32
	OutputTokens int32
	Cost         float64
}
