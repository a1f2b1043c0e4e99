package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/iksnae/chatsync/internal/store"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List chats and groups",
	Long:  `List the sidebar: top-level chats and groups with their chats, in order.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			items := a.store.Sidebar().Get()
			if listJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(items)
			}
			displaySidebar(cmd.OutOrStdout(), items, a.store.Tasks().Get(), time.Now())
			return nil
		})
	},
}

func displaySidebar(out io.Writer, items []store.SidebarItem, running []string, now time.Time) {
	if len(items) == 0 {
		_, _ = fmt.Fprintln(out, headerStyle.Render("📋 No chats yet"))
		_, _ = fmt.Fprintln(out, idStyle.Render("💡 Tip: create one with `chatsync new --sample`"))
		return
	}
	active := make(map[string]bool, len(running))
	for _, id := range running {
		active[id] = true
	}

	chats := 0
	var first string
	for _, it := range items {
		switch it.Type {
		case store.ItemChat:
			chats++
		case store.ItemGroup:
			chats += len(it.Group.Items)
		}
	}
	_, _ = fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("📋 %d chat(s)", chats)))
	_, _ = fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, titleStyle.Render("ID")+"\t"+titleStyle.Render("Title")+"\t"+titleStyle.Render("Updated")+"\t")
	_, _ = fmt.Fprintln(w, strings.Repeat("─", 72))

	row := func(m *store.ChatMeta, indent string) {
		if first == "" {
			first = m.ID
		}
		title := m.Title
		if title == "" {
			title = store.DefaultTitle
		}
		title = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Render(indent + truncate(title, 50))
		if active[m.ID] {
			title += " " + countStyle.Render("●")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t\n", idStyle.Render(shortID(m.ID)), title, dateStyle.Render(formatWhen(m.UpdatedAt, now)))
	}
	for _, it := range items {
		switch it.Type {
		case store.ItemChat:
			row(it.Chat, "")
		case store.ItemGroup:
			marker := "▾"
			if it.Group.IsCollapsed {
				marker = "▸"
			}
			name := fmt.Sprintf("%s %s (%d)", marker, it.Group.Name, len(it.Group.Items))
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t\n", idStyle.Render(shortID(it.ID)), groupStyle.Render(name), "")
			if it.Group.IsCollapsed {
				continue
			}
			for _, child := range it.Group.Items {
				row(child.Chat, "  ")
			}
		}
	}
	_ = w.Flush()

	if first != "" {
		_, _ = fmt.Fprintln(out)
		_, _ = fmt.Fprintln(out, idStyle.Render("💡 Tip: any unique ID prefix works, e.g. ")+
			lipgloss.NewStyle().Foreground(lipgloss.Color("62")).Render("chatsync show "+shortID(first)))
	}
}

// resolveChatID expands a unique prefix of a visible chat id.
func resolveChatID(ctx context.Context, a *app, arg string) (string, error) {
	metas, err := a.docs.ListChats(ctx)
	if err != nil {
		return "", err
	}
	var matches []string
	for _, m := range metas {
		if m.ID == arg {
			return arg, nil
		}
		if strings.HasPrefix(m.ID, arg) {
			matches = append(matches, m.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no chat matches %q", arg)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%q matches %d chats, use a longer prefix", arg, len(matches))
	}
}

// resolveGroupID expands a unique prefix of a listed group id.
func resolveGroupID(ctx context.Context, a *app, arg string) (string, error) {
	h, err := a.docs.LoadHierarchy(ctx)
	if err != nil {
		return "", err
	}
	var matches []string
	for _, id := range h.GroupIDs() {
		if id == arg {
			return arg, nil
		}
		if strings.HasPrefix(id, arg) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no group matches %q", arg)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%q matches %d groups, use a longer prefix", arg, len(matches))
	}
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Print the sidebar as JSON")
}
