package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/iksnae/chatsync/internal/export"
	"github.com/iksnae/chatsync/internal/store"
	"github.com/iksnae/chatsync/internal/tree"
)

var (
	limit      int
	showFormat string
	showTree   bool
)

var (
	chatHeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")).
			Padding(0, 1).
			MarginBottom(1)

	chatMetaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			MarginBottom(1)

	messageContentStyle = lipgloss.NewStyle().
				Padding(0, 2).
				MarginBottom(1)

	timestampStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)
)

var showCmd = &cobra.Command{
	Use:   "show <chat-id>",
	Short: "Show the selected branch of a chat",
	Long: `Display the messages on the active branch of a chat. Messages with other
versions carry a [n/m] badge; use 'chatsync select' to switch.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			id, err := resolveChatID(cmd.Context(), a, args[0])
			if err != nil {
				return err
			}
			if err := a.store.OpenChat(cmd.Context(), id); err != nil {
				return err
			}
			chat := a.store.CurrentChat().Get()
			out := cmd.OutOrStdout()

			if showFormat != "" {
				exp, err := export.NewExporter(showFormat)
				if err != nil {
					return err
				}
				return exp.Export(export.NewTranscript(chat), out)
			}
			if showTree {
				displayTree(out, chat)
				return nil
			}
			displayChat(out, chat, limit)
			return nil
		})
	},
}

func displayChat(out io.Writer, chat *store.Chat, limit int) {
	path := chat.ActivePath()
	_, _ = fmt.Fprintln(out, chatHeaderStyle.Render("💬 "+chat.Title))

	meta := []string{
		"ID: " + chat.ID,
		fmt.Sprintf("Messages: %d", len(path)),
	}
	if chat.ModelID != "" {
		meta = append(meta, "Model: "+chat.ModelID)
	}
	if chat.OriginChatID != "" {
		meta = append(meta, "Forked from: "+shortID(chat.OriginChatID))
	}
	_, _ = fmt.Fprintln(out, chatMetaStyle.Render(strings.Join(meta, " • ")))

	start := 0
	if limit > 0 && limit < len(path) {
		start = len(path) - limit
		_, _ = fmt.Fprintln(out, timestampStyle.Render(fmt.Sprintf("... (%d earlier message(s))", start)))
		_, _ = fmt.Fprintln(out)
	}
	for _, n := range path[start:] {
		displayMessage(out, &chat.Root, n)
	}
}

func displayMessage(out io.Writer, root *tree.MessageBranch, n *tree.MessageNode) {
	style, ok := roleStyles[string(n.Role)]
	if !ok {
		style = roleStyles["system"]
	}
	header := style.Render(string(n.Role)) + " " + idStyle.Render(shortID(n.ID))
	if index, total := tree.SiblingInfo(root, n.ID); total > 1 {
		header += " " + countStyle.Render(fmt.Sprintf("[%d/%d]", index+1, total))
	}
	if !n.Timestamp.IsZero() {
		header += " " + timestampStyle.Render(n.Timestamp.Local().Format("15:04:05"))
	}
	_, _ = fmt.Fprintln(out, header)

	if n.Thinking != "" {
		_, _ = fmt.Fprintln(out, messageContentStyle.Foreground(lipgloss.Color("240")).Render(wrapText(n.Thinking, 80)))
	}
	content := strings.TrimSpace(n.Content)
	if content != "" {
		_, _ = fmt.Fprintln(out, messageContentStyle.Render(wrapText(content, 80)))
	} else {
		_, _ = fmt.Fprintln(out, messageContentStyle.Foreground(lipgloss.Color("240")).Render("(empty message)"))
	}
	if n.Error != "" {
		_, _ = fmt.Fprintln(out, errorStyle.Render("  ✗ "+n.Error))
	}
	_, _ = fmt.Fprintln(out)
}

// displayTree prints every message indented by depth, marking the active
// branch.
func displayTree(out io.Writer, chat *store.Chat) {
	onPath := make(map[string]bool)
	for _, n := range chat.ActivePath() {
		onPath[n.ID] = true
	}
	_, _ = fmt.Fprintln(out, chatHeaderStyle.Render("🌳 "+chat.Title))
	tree.Walk(&chat.Root, func(n *tree.MessageNode, depth int) bool {
		marker := "  "
		if onPath[n.ID] {
			marker = countStyle.Render("● ")
		}
		line := strings.SplitN(strings.TrimSpace(n.Content), "\n", 2)[0]
		_, _ = fmt.Fprintf(out, "%s%s%s %s %s\n", strings.Repeat("  ", depth), marker,
			idStyle.Render(shortID(n.ID)), roleStyles[string(n.Role)].Render(string(n.Role)), truncate(line, 60))
		return true
	})
}

func wrapText(text string, width int) string {
	lines := strings.Split(text, "\n")
	var wrapped []string

	for _, line := range lines {
		if len(line) <= width {
			wrapped = append(wrapped, line)
			continue
		}

		words := strings.Fields(line)
		currentLine := ""
		for _, word := range words {
			if len(currentLine)+len(word)+1 > width {
				if currentLine != "" {
					wrapped = append(wrapped, currentLine)
					currentLine = word
				} else {
					wrapped = append(wrapped, word)
					currentLine = ""
				}
			} else {
				if currentLine == "" {
					currentLine = word
				} else {
					currentLine += " " + word
				}
			}
		}
		if currentLine != "" {
			wrapped = append(wrapped, currentLine)
		}
	}

	return strings.Join(wrapped, "\n")
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().IntVarP(&limit, "limit", "n", 0, "Only show the last n messages")
	showCmd.Flags().StringVarP(&showFormat, "format", "f", "", "Print as md, json, jsonl or yaml instead")
	showCmd.Flags().BoolVar(&showTree, "tree", false, "Show every branch, not only the selected one")
}
