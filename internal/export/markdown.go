package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/iksnae/opencode-sync/internal/classifier"
)

// MarkdownExporter exports transcripts in Markdown format
type MarkdownExporter struct{}

// Export exports a transcript to Markdown format
func (e *MarkdownExporter) Export(t *Transcript, w io.Writer) error {
	title := t.Title
	if title == "" {
		title = t.SessionID
	}
	_, _ = fmt.Fprintf(w, "# Session %s\n\n", title)

	if t.Title != "" {
		_, _ = fmt.Fprintf(w, "**ID:** %s  \n", t.SessionID)
	}
	if t.Project != "" {
		_, _ = fmt.Fprintf(w, "**Project:** %s  \n", t.Project)
	}
	if t.Server != "" {
		_, _ = fmt.Fprintf(w, "**Server:** %s  \n", t.Server)
	}
	_, _ = fmt.Fprintf(w, "**Messages:** %d\n\n", len(t.Messages))

	_, _ = fmt.Fprintf(w, "---\n\n")
	_, _ = fmt.Fprintf(w, "## Messages\n\n")

	for i, msg := range t.Messages {
		meta := ""
		if msg.Timestamp != 0 {
			meta = fmt.Sprintf(" (%s)", time.UnixMilli(msg.Timestamp).UTC().Format(time.RFC3339))
		}
		if msg.Mode != "" && roleOf(msg) == classifier.RoleAssistant {
			meta += fmt.Sprintf(" [%s]", msg.Mode)
		}

		_, _ = fmt.Fprintf(w, "**%s:**%s\n\n%s\n\n", roleOf(msg), meta, escapeMarkdown(msg.Text))

		if msg.Reasoning != "" {
			_, _ = fmt.Fprintf(w, "<details><summary>Reasoning</summary>\n\n%s\n\n</details>\n\n", escapeMarkdown(msg.Reasoning))
		}

		if i < len(t.Messages)-1 {
			_, _ = fmt.Fprintf(w, "---\n\n")
		}
	}

	return nil
}

// escapeMarkdown escapes markdown special characters
func escapeMarkdown(text string) string {
	// Basic escaping - preserve code blocks
	lines := strings.Split(text, "\n")
	var result []string
	inCodeBlock := false

	for _, line := range lines {
		if strings.HasPrefix(line, "```") {
			inCodeBlock = !inCodeBlock
			result = append(result, line)
		} else if inCodeBlock {
			result = append(result, line)
		} else {
			// Escape markdown syntax outside code blocks
			line = strings.ReplaceAll(line, "**", "\\*\\*")
			line = strings.ReplaceAll(line, "__", "\\_\\_")
			result = append(result, line)
		}
	}

	return strings.Join(result, "\n")
}

// Extension returns the file extension for this format
func (e *MarkdownExporter) Extension() string {
	return "md"
}
