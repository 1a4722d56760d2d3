// ABOUTME: Mention sanitization and comment cleanup for text moving between Asana and agents
// ABOUTME: Keeps the agent from @mentioning itself and strips Asana profile-link noise

package format

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// TruncationMarker is appended to HTML cut short by Truncate.
const TruncationMarker = "...\n<em>(truncated)</em>"

var (
	excessNewlines   = regexp.MustCompile(`\n{3,}`)
	profileURL       = regexp.MustCompile(`(?i)https?://app\.asana\.com/\d+/profile/\d+\s*`)
	profileLinkTag   = regexp.MustCompile(`(?i)<a[^>]*href=["']https?://app\.asana\.com/\d+/profile/\d+["'][^>]*>[^<]*</a>\s*`)
	linkRemovedLabel = "[link removed]"
)

// collapseNewlines squeezes runs of 3+ newlines to one blank line and trims.
func collapseNewlines(s string) string {
	return strings.TrimSpace(excessNewlines.ReplaceAllString(s, "\n\n"))
}

// SanitizeAgentMentions removes references to agentUserGID: Asana mention
// anchors, markdown links pointing at it, then any remaining URL containing it.
// An empty gid leaves text untouched.
func SanitizeAgentMentions(text, agentUserGID string) string {
	if text == "" || agentUserGID == "" {
		return text
	}
	gid := regexp.QuoteMeta(agentUserGID)

	mentionTag := regexp.MustCompile(`(?i)<a[^>]*data-asana-gid="` + gid + `"[^>]*>@[^<]*</a>`)
	text = mentionTag.ReplaceAllString(text, "")

	mdLink := regexp.MustCompile(`(?i)\[[^\]]*\]\([^)]*` + gid + `[^)]*\)`)
	text = mdLink.ReplaceAllString(text, "")

	gidURL := regexp.MustCompile(`(?i)https?://[^\s<>"]*` + gid + `[^\s<>"]*`)
	text = gidURL.ReplaceAllLiteralString(text, linkRemovedLabel)

	return text
}

// CleanComment strips bare Asana profile URLs left behind by mentions and
// normalizes blank lines.
func CleanComment(text string) string {
	if text == "" {
		return text
	}
	return collapseNewlines(profileURL.ReplaceAllString(text, ""))
}

// Truncate cuts s to max bytes, backing off to a rune boundary, and appends
// TruncationMarker. Strings within the limit are returned unchanged.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + TruncationMarker
}
