// ABOUTME: Builds the Asana HTML comments the bridge posts back to tasks
// ABOUTME: Result, error and progress comments plus the elapsed-time/cost footer

package reporter

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/2389/coven-asana/internal/format"
)

// FormatMetrics renders the result footer, e.g. "⏱️ 0m 51s • 💰 $0.0354".
// Missing values are left out; both missing yields "".
func FormatMetrics(elapsed *time.Duration, cost *float64) string {
	var parts []string
	if elapsed != nil {
		secs := int(elapsed.Seconds())
		parts = append(parts, fmt.Sprintf("⏱️ %dm %ds", secs/60, secs%60))
	}
	if cost != nil {
		parts = append(parts, fmt.Sprintf("💰 $%.4f", *cost))
	}
	return strings.Join(parts, " • ")
}

// FormatResult converts the agent's last message to Asana HTML, truncated to
// maxLength, followed by the metrics footer. The caller wraps it in <body>.
func FormatResult(message, agentUserGID string, maxLength int, metrics string) string {
	var b strings.Builder
	if message != "" {
		b.WriteString(format.Truncate(format.MarkdownToHTML(message, agentUserGID), maxLength))
		b.WriteString("\n\n")
	}
	if metrics != "" {
		b.WriteString("<em>" + metrics + "</em>")
	}
	return b.String()
}

// FormatError renders a fixed-format error comment.
func FormatError(message, conversationURL string) string {
	s := "<strong>❌ Agent Error</strong>\n\n<code>" + escapeText(message) + "</code>"
	return s + conversationLink(conversationURL)
}

// FormatProgress renders a progress update from agent markdown.
func FormatProgress(markdown, agentUserGID, conversationURL string) string {
	s := "<strong>🔄 Agent Update</strong>\n\n" + format.MarkdownToHTML(markdown, agentUserGID)
	return s + conversationLink(conversationURL)
}

func conversationLink(url string) string {
	if url == "" {
		return ""
	}
	return "\n\n" + `<a href="` + html.EscapeString(url) + `">View conversation →</a>`
}

// escapeText escapes markup characters but leaves quotes alone.
var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeText(s string) string {
	return textEscaper.Replace(s)
}

func wrapBody(s string) string {
	return "<body>" + s + "</body>"
}
