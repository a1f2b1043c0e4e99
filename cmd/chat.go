package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iksnae/chatsync/internal/store"
)

var (
	newSample bool
	newTitle  string
	newGroup  string
	newModel  string
)

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a chat",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			var chat *store.Chat
			var err error
			if newSample {
				chat, err = a.store.NewSampleChat(cmd.Context())
			} else {
				opts := store.NewChatOptions{Title: newTitle, ModelID: newModel}
				if newGroup != "" {
					if opts.GroupID, err = resolveGroupID(cmd.Context(), a, newGroup); err != nil {
						return err
					}
				}
				chat, err = a.store.NewChat(cmd.Context(), opts)
			}
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", successStyle.Render("✓ Created"), chat.ID, titleStyle.Render(chat.Title))
			return nil
		})
	},
}

var renameCmd = &cobra.Command{
	Use:   "rename <chat-id> <title>",
	Short: "Rename a chat",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			id, err := resolveChatID(cmd.Context(), a, args[0])
			if err != nil {
				return err
			}
			title := strings.Join(args[1:], " ")
			if err := a.store.RenameChat(cmd.Context(), id, title); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", successStyle.Render("✓ Renamed"), titleStyle.Render(title))
			return nil
		})
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <chat-id>...",
	Aliases: []string{"delete"},
	Short:   "Delete chats",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			for _, arg := range args {
				id, err := resolveChatID(cmd.Context(), a, arg)
				if err != nil {
					return err
				}
				if err := a.store.DeleteChat(cmd.Context(), id); err != nil {
					return fmt.Errorf("failed to delete %s: %w", id, err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", successStyle.Render("✓ Deleted"), id)
			}
			return nil
		})
	},
}

var forkCmd = &cobra.Command{
	Use:   "fork <chat-id> <message-id>",
	Short: "Copy a chat up to a message into a new chat",
	Long: `Fork copies the path from the first message to the given one into a new
chat, listed right above the source (or first in the source's group).`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			id, err := resolveChatID(cmd.Context(), a, args[0])
			if err != nil {
				return err
			}
			nodeID, err := resolveNodeID(cmd, a, id, args[1])
			if err != nil {
				return err
			}
			fork, err := a.store.Fork(cmd.Context(), id, nodeID)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", successStyle.Render("✓ Forked into"), fork.ID)
			return nil
		})
	},
}

var selectCmd = &cobra.Command{
	Use:   "select <chat-id> <message-id>",
	Short: "Switch to the branch through a message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			id, err := resolveChatID(cmd.Context(), a, args[0])
			if err != nil {
				return err
			}
			nodeID, err := resolveNodeID(cmd, a, id, args[1])
			if err != nil {
				return err
			}
			if err := a.store.OpenChat(cmd.Context(), id); err != nil {
				return err
			}
			if err := a.store.SelectNode(cmd.Context(), id, nodeID); err != nil {
				return err
			}
			displayChat(cmd.OutOrStdout(), a.store.CurrentChat().Get(), 0)
			return nil
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <keywords>...",
	Short: "Search chat titles and messages",
	Long:  `Find chats whose title or messages contain every keyword, case-insensitively.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			hits, err := a.store.Search(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(hits) == 0 {
				_, _ = fmt.Fprintln(out, headerStyle.Render("🔍 No matches"))
				return nil
			}
			_, _ = fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("🔍 %d chat(s)", len(hits))))
			for _, h := range hits {
				_, _ = fmt.Fprintf(out, "\n%s %s\n", idStyle.Render(shortID(h.ChatID)), titleStyle.Render(h.Title))
				for _, m := range h.Matches {
					_, _ = fmt.Fprintf(out, "  %s %s %s\n", idStyle.Render(shortID(m.NodeID)),
						roleStyles[string(m.Role)].Render(string(m.Role)), m.Snippet)
				}
			}
			return nil
		})
	},
}

// resolveNodeID expands a unique prefix of a message id in chatID.
func resolveNodeID(cmd *cobra.Command, a *app, chatID, arg string) (string, error) {
	chat, err := a.docs.LoadChat(cmd.Context(), chatID)
	if err != nil {
		return "", err
	}
	if chat == nil {
		return "", fmt.Errorf("chat %s not found", chatID)
	}
	var matches []string
	for _, id := range treeNodeIDs(chat) {
		if id == arg {
			return arg, nil
		}
		if strings.HasPrefix(id, arg) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no message in %s matches %q", shortID(chatID), arg)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%q matches %d messages, use a longer prefix", arg, len(matches))
	}
}

func init() {
	rootCmd.AddCommand(newCmd, renameCmd, rmCmd, forkCmd, selectCmd, searchCmd)
	newCmd.Flags().BoolVar(&newSample, "sample", false, "Create the branching demo chat")
	newCmd.Flags().StringVar(&newTitle, "title", "", "Chat title")
	newCmd.Flags().StringVar(&newGroup, "group", "", "Create inside this group")
	newCmd.Flags().StringVar(&newModel, "model", "", "Model id recorded on the chat")
}
