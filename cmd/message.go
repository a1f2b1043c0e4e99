package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/iksnae/chatsync/internal/generation"
	"github.com/iksnae/chatsync/internal/store"
	"github.com/iksnae/chatsync/internal/tree"
)

var (
	sendAttach []string
	abortWait  time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send <chat-id> <message>",
	Short: "Send a message and stream the answer",
	Long: `Append a user message after the selected branch and stream the model's
answer. Ctrl-C aborts the generation; the partial answer is kept.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			ctx := cmd.Context()
			id, err := resolveChatID(ctx, a, args[0])
			if err != nil {
				return err
			}
			var attachments []tree.Attachment
			for _, path := range sendAttach {
				att, err := attachFile(ctx, a.docs, path)
				if err != nil {
					return err
				}
				attachments = append(attachments, att)
			}
			text := strings.Join(args[1:], " ")
			return streamGeneration(cmd, a, id, func() (*generation.Handle, error) {
				return a.store.SendMessage(ctx, id, text, attachments...)
			})
		})
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <chat-id> <message-id> <content>",
	Short: "Add a new version of a message",
	Long: `Edit adds a new version next to a message and selects it. Editing a user
message asks for a new answer; editing an answer does not.`,
	Args: cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			ctx := cmd.Context()
			id, err := resolveChatID(ctx, a, args[0])
			if err != nil {
				return err
			}
			nodeID, err := resolveNodeID(cmd, a, id, args[1])
			if err != nil {
				return err
			}
			content := strings.Join(args[2:], " ")
			return streamGeneration(cmd, a, id, func() (*generation.Handle, error) {
				return a.store.EditMessage(ctx, id, nodeID, content)
			})
		})
	},
}

var regenerateCmd = &cobra.Command{
	Use:     "regenerate <chat-id> [message-id]",
	Aliases: []string{"regen"},
	Short:   "Ask for a new answer",
	Long: `Regenerate an answer as a new version of it, or ask for another answer to a
user message. Without a message id the last message of the selected branch
is used.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			ctx := cmd.Context()
			id, err := resolveChatID(ctx, a, args[0])
			if err != nil {
				return err
			}
			var nodeID string
			if len(args) == 2 {
				if nodeID, err = resolveNodeID(cmd, a, id, args[1]); err != nil {
					return err
				}
			} else {
				chat, err := a.docs.LoadChat(ctx, id)
				if err != nil {
					return err
				}
				path := chat.ActivePath()
				if len(path) == 0 {
					return fmt.Errorf("chat %s has no messages", shortID(id))
				}
				nodeID = path[len(path)-1].ID
			}
			return streamGeneration(cmd, a, id, func() (*generation.Handle, error) {
				return a.store.Regenerate(ctx, id, nodeID)
			})
		})
	},
}

var abortCmd = &cobra.Command{
	Use:   "abort <chat-id>",
	Short: "Stop a generation, in this or any connected process",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			ctx := cmd.Context()
			id, err := resolveChatID(ctx, a, args[0])
			if err != nil {
				return err
			}
			// running actors announce themselves shortly after we join
			deadline := time.Now().Add(abortWait)
			for !a.store.IsTaskRunning(id) && time.Now().Before(deadline) {
				time.Sleep(50 * time.Millisecond)
			}
			if !a.store.Abort(id) {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), warningStyle.Render("⚠️  No generation running for "+shortID(id)))
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", successStyle.Render("✓ Abort sent to"), id)
			return nil
		})
	},
}

// streamGeneration opens chatID, runs start and prints the answer as it
// grows until the generation ends. An interrupt aborts it.
func streamGeneration(cmd *cobra.Command, a *app, chatID string, start func() (*generation.Handle, error)) error {
	ctx := cmd.Context()
	if err := a.store.OpenChat(ctx, chatID); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	s := &streamer{out: out}
	unsub := a.store.CurrentChat().Subscribe(s.update)
	defer unsub()

	h, err := start()
	if err != nil {
		return err
	}
	chat := a.store.CurrentChat().Get()
	if h == nil {
		displayChat(out, chat, 2)
		return nil
	}
	s.follow(chat)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	select {
	case <-h.Done():
	case <-sigCtx.Done():
		a.store.Abort(chatID)
		<-h.Done()
	}
	s.update(a.store.CurrentChat().Get())
	_, _ = fmt.Fprintln(out)

	if msg := s.failure(); msg != "" {
		return fmt.Errorf("generation failed: %s", msg)
	}
	return nil
}

// streamer prints the growth of one node across chat snapshots.
type streamer struct {
	out io.Writer

	mu      sync.Mutex
	leafID  string
	printed int
	last    *store.Chat
}

func (s *streamer) follow(chat *store.Chat) {
	s.mu.Lock()
	if n := tree.Find(&chat.Root, chat.CurrentLeafID); n != nil {
		header := roleStyles[string(n.Role)].Render(string(n.Role)) + " " + idStyle.Render(shortID(n.ID))
		_, _ = fmt.Fprintln(s.out, header)
	}
	s.leafID = chat.CurrentLeafID
	s.mu.Unlock()
	s.update(chat)
}

func (s *streamer) update(chat *store.Chat) {
	if chat == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = chat
	if s.leafID == "" {
		return
	}
	n := tree.Find(&chat.Root, s.leafID)
	if n == nil || len(n.Content) <= s.printed {
		return
	}
	_, _ = io.WriteString(s.out, n.Content[s.printed:])
	s.printed = len(n.Content)
}

func (s *streamer) failure() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return ""
	}
	if n := tree.Find(&s.last.Root, s.leafID); n != nil {
		return n.Error
	}
	return ""
}

func treeNodeIDs(chat *store.Chat) []string {
	var ids []string
	tree.Walk(&chat.Root, func(n *tree.MessageNode, _ int) bool {
		ids = append(ids, n.ID)
		return true
	})
	return ids
}

// attachFile stores a file as a content-addressed blob.
func attachFile(ctx context.Context, p store.Provider, path string) (tree.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tree.Attachment{}, fmt.Errorf("failed to read attachment: %w", err)
	}
	name := filepath.Base(path)
	id, err := p.SaveFile(ctx, data, "", name)
	if err != nil {
		return tree.Attachment{}, err
	}
	att := tree.Attachment{ID: id, Name: name, Size: int64(len(data))}
	if f, err := p.GetFile(ctx, id); err == nil && f != nil {
		att.MimeType = f.MimeType
	}
	return att, nil
}

func init() {
	rootCmd.AddCommand(sendCmd, editCmd, regenerateCmd, abortCmd)
	sendCmd.Flags().StringSliceVarP(&sendAttach, "attach", "a", nil, "Attach a file (repeatable)")
	abortCmd.Flags().DurationVar(&abortWait, "wait", 2*time.Second, "How long to wait for running generations to announce themselves")
}
