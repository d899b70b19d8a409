package extract

import (
	"fmt"
	"strings"
)

// maxMessageChars is the per-message truncation spec.md §4.5 specifies.
const maxMessageChars = 2000

// systemPrompt is sent verbatim on every extraction call (spec.md §6:
// "request: system prompt (verbatim)").
const systemPrompt = `You are a memory extraction engine for a coding assistant. Given a rolling summary of a conversation and a batch of new messages, decide what is worth remembering long-term.

Extract only facts, decisions, and preferences that would still matter in a future session: project conventions, stated preferences, decisions and their rationale, recurring corrections. Do not extract one-off implementation details, transient debugging state, or anything already captured by the rolling summary.

Respond with JSON only, no prose, no markdown fences, matching exactly this shape:
{"memories":[{"summary":"<=40 tokens","full_content":"the fuller detail","entities":["..."],"importance":"high|normal","scope":"global|project"}],"updatedSummary":"the rolling summary, updated to fold in this batch"}

"scope":"global" for facts true across all projects (user preferences, general conventions). "scope":"project" for facts specific to the current project. If nothing is worth remembering, return an empty memories array and carry the previous summary forward unchanged.`

// TruncateMessage enforces the 2000-char per-message cap.
func TruncateMessage(content string) string {
	if len(content) <= maxMessageChars {
		return content
	}
	return content[:maxMessageChars]
}

// ComposeUserContent builds the user-turn content: previous summary,
// project name, and the truncated new messages (spec.md §6).
func ComposeUserContent(previousSummary, project string, messages []Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n\n", project)
	if previousSummary != "" {
		fmt.Fprintf(&b, "Previous summary:\n%s\n\n", previousSummary)
	} else {
		b.WriteString("Previous summary: (none — this is the first batch)\n\n")
	}
	b.WriteString("New messages:\n")
	for _, m := range messages {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, TruncateMessage(m.Content))
	}
	return b.String()
}
