// ABOUTME: Builds the initial agent prompts for Asana tasks and @mention questions
// ABOUTME: Task descriptions arrive as Asana HTML and are converted to markdown

package bridge

import (
	"fmt"
	"strings"

	"github.com/2389/coven-asana/internal/asana"
	"github.com/2389/coven-asana/internal/format"
)

// BuildTaskMessage builds the first message of a conversation started by
// assigning a task to the agent.
func BuildTaskMessage(task *asana.Task) string {
	var lines []string
	lines = append(lines, "# Asana Task: "+task.Name, "")
	lines = appendDescription(lines, task)

	lines = append(lines, "## Task Details", "- **Task ID**: "+task.GID)
	if task.PermalinkURL != "" {
		lines = append(lines, "- **Link**: "+task.PermalinkURL)
	}
	if task.DueOn != "" {
		lines = append(lines, "- **Due Date**: "+task.DueOn)
	}
	var projects []string
	for _, p := range task.Projects {
		if p.Name != "" {
			projects = append(projects, p.Name)
		}
	}
	if len(projects) > 0 {
		lines = append(lines, "- **Projects**: "+strings.Join(projects, ", "))
	}

	lines = append(lines, "", "---", "", "Please analyze this task and work on completing it.")
	return strings.Join(lines, "\n")
}

// BuildTaskMessageWithQuestion builds the first message of a conversation
// started by an @mention: the task description, earlier comments for
// context, then the question itself.
func BuildTaskMessageWithQuestion(task *asana.Task, question string, previous []asana.Story) string {
	var lines []string
	lines = appendDescription(lines, task)

	if len(previous) > 0 {
		lines = append(lines, "## Previous Comments", "")
		for _, c := range previous {
			lines = append(lines, commentHeader(c), storyText(&c), "")
		}
	}

	lines = append(lines, "---", "", "## Question", "", question)
	return strings.Join(lines, "\n")
}

// appendDescription prefers the rich-text notes. Rich notes that convert to
// nothing suppress the section rather than falling back to plain notes.
func appendDescription(lines []string, task *asana.Task) []string {
	switch {
	case task.HTMLNotes != "":
		if desc := format.HTMLToMarkdown(task.HTMLNotes); desc != "" {
			lines = append(lines, "## Description", desc, "")
		}
	case task.Notes != "":
		lines = append(lines, "## Description", task.Notes, "")
	}
	return lines
}

func commentHeader(c asana.Story) string {
	author := "Unknown"
	var authorGID string
	if c.CreatedBy != nil {
		if c.CreatedBy.Name != "" {
			author = c.CreatedBy.Name
		}
		authorGID = c.CreatedBy.GID
	}

	var timestamp string
	if c.CreatedAt != nil {
		timestamp = " (" + c.CreatedAt.Format("2006-01-02 15:04") + ")"
	}

	if authorGID != "" {
		return fmt.Sprintf("**%s**%s (https://app.asana.com/0/%s):", author, timestamp, authorGID)
	}
	return fmt.Sprintf("**%s**%s:", author, timestamp)
}

// storyText returns a story's text as markdown.
func storyText(s *asana.Story) string {
	if s.HTMLText != "" {
		return format.HTMLToMarkdown(s.HTMLText)
	}
	return s.Text
}
