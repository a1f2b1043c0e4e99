package export

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// MarkdownExporter writes a readable transcript.
type MarkdownExporter struct{}

func (e *MarkdownExporter) Export(t *Transcript, w io.Writer) error {
	title := t.Title
	if title == "" {
		title = t.ID
	}
	_, _ = fmt.Fprintf(w, "# %s\n\n", escapeMarkdown(title))
	_, _ = fmt.Fprintf(w, "**Chat:** %s  \n", t.ID)
	if t.ModelID != "" {
		_, _ = fmt.Fprintf(w, "**Model:** %s  \n", t.ModelID)
	}
	if t.OriginChatID != "" {
		_, _ = fmt.Fprintf(w, "**Forked from:** %s  \n", t.OriginChatID)
	}
	_, _ = fmt.Fprintf(w, "**Messages:** %d\n\n", len(t.Messages))
	_, _ = fmt.Fprintf(w, "---\n\n")

	for i, msg := range t.Messages {
		header := string(msg.Role)
		if msg.Versions > 1 {
			header += fmt.Sprintf(" [%d/%d]", msg.Version, msg.Versions)
		}
		if !msg.Timestamp.IsZero() {
			header += fmt.Sprintf(" (%s)", msg.Timestamp.Format(time.RFC3339))
		}
		_, _ = fmt.Fprintf(w, "**%s:**\n\n", header)

		if msg.Thinking != "" {
			_, _ = fmt.Fprintf(w, "<details><summary>Thinking</summary>\n\n%s\n\n</details>\n\n", msg.Thinking)
		}
		_, _ = fmt.Fprintf(w, "%s\n\n", escapeMarkdown(msg.Content))
		for _, name := range msg.Attachments {
			_, _ = fmt.Fprintf(w, "- attachment: %s\n", name)
		}
		if len(msg.Attachments) > 0 {
			_, _ = fmt.Fprintln(w)
		}
		if msg.Error != "" {
			_, _ = fmt.Fprintf(w, "> **Error:** %s\n\n", msg.Error)
		}

		if i < len(t.Messages)-1 {
			_, _ = fmt.Fprintf(w, "---\n\n")
		}
	}
	return nil
}

// escapeMarkdown escapes emphasis markers outside fenced code blocks.
func escapeMarkdown(text string) string {
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
			line = strings.ReplaceAll(line, "**", "\\*\\*")
			line = strings.ReplaceAll(line, "__", "\\_\\_")
			result = append(result, line)
		}
	}

	return strings.Join(result, "\n")
}

func (e *MarkdownExporter) Extension() string {
	return "md"
}
