package agent

import (
	"fmt"
	"strings"

	"github.com/cadre-oss/memchat/internal/memory"
	"github.com/cadre-oss/memchat/internal/state"
)

// PrimingQuery builds the memory search query from the trailing messages.
func PrimingQuery(msgs []state.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if c := strings.TrimSpace(m.Content); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, "\n")
}

// FormatMemories renders search hits as the <memories> block appended to
// the system prompt. No hits yields an empty string.
func FormatMemories(hits []memory.Scored) string {
	if len(hits) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("<memories>\n")
	for _, h := range hits {
		b.WriteString(h.Key)
		b.WriteString(": ")
		b.WriteString(h.Content)
		if h.Context != "" {
			b.WriteString(" [context: ")
			b.WriteString(h.Context)
			b.WriteString("]")
		}
		fmt.Fprintf(&b, " (similarity: %.3f)\n", h.Score)
	}
	b.WriteString("</memories>")
	return b.String()
}

// SystemPrompt joins the base prompt, any system messages carried in the
// history and the memory block.
func SystemPrompt(base string, extra []string, memories string) string {
	parts := []string{strings.TrimSpace(base)}
	for _, e := range extra {
		if e = strings.TrimSpace(e); e != "" {
			parts = append(parts, e)
		}
	}
	if memories != "" {
		parts = append(parts, memories)
	}
	return strings.Join(parts, "\n\n")
}
