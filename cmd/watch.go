package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/iksnae/chatsync/internal/reconcile"
	"github.com/iksnae/chatsync/internal/settings"
	"github.com/iksnae/chatsync/internal/store"
)

var watchChat string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow changes made by other processes",
	Long: `Print a line whenever the sidebar, the settings or the set of running
generations change. With --chat the chat's selected branch is followed too.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return withApp(ctx, func(a *app) error {
			if a.hub == nil {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), warningStyle.Render("⚠️  Not connected to a hub, only local changes are shown"))
			}
			if watchChat != "" {
				id, err := resolveChatID(ctx, a, watchChat)
				if err != nil {
					return err
				}
				if err := a.store.OpenChat(ctx, id); err != nil {
					return err
				}
			}
			return watch(ctx, cmd.OutOrStdout(), a)
		})
	},
}

// watch prints observable changes until ctx is done or the hub connection
// drops.
func watch(ctx context.Context, out io.Writer, a *app) error {
	w := &watcher{out: out, now: time.Now}
	unsubs := []func(){
		a.store.Sidebar().Subscribe(w.sidebar),
		a.store.Tasks().Subscribe(w.tasks),
		a.store.Settings().Subscribe(func(g settings.Global) {
			w.printf("settings  endpoint=%s model=%s", g.EndpointType, g.ModelID)
		}),
		a.store.CurrentChat().Subscribe(w.chat),
		a.store.States().Subscribe(func(s reconcile.State) {
			if s == reconcile.Idle {
				w.printf("synced")
			}
		}),
	}
	defer func() {
		for _, u := range unsubs {
			u()
		}
	}()
	w.sidebar(a.store.Sidebar().Get())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	if a.hub != nil {
		g.Go(func() error {
			select {
			case <-a.hub.Done():
				return fmt.Errorf("lost connection to hub %s", cfg.HubURL)
			case <-ctx.Done():
				return nil
			}
		})
	}
	return g.Wait()
}

type watcher struct {
	out io.Writer
	now func() time.Time

	mu       sync.Mutex
	titles   map[string]string
	running  string
	lastLeaf string
	lastLen  int
}

func (w *watcher) printf(format string, args ...interface{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.printfLocked(format, args...)
}

func (w *watcher) printfLocked(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(w.out, "%s %s\n", dateStyle.Render(w.now().Format("15:04:05")), fmt.Sprintf(format, args...))
}

// sidebar reports added, removed and renamed chats.
func (w *watcher) sidebar(items []store.SidebarItem) {
	next := make(map[string]string)
	for _, it := range items {
		switch it.Type {
		case store.ItemChat:
			next[it.ID] = it.Chat.Title
		case store.ItemGroup:
			for _, c := range it.Group.Items {
				next[c.ID] = c.Chat.Title
			}
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.titles == nil {
		w.titles = next
		w.printfLocked("watching %d chat(s)", len(next))
		return
	}
	for _, id := range sortedIDs(next) {
		old, ok := w.titles[id]
		switch {
		case !ok:
			w.printfLocked("%s %s %s", successStyle.Render("+"), idStyle.Render(shortID(id)), next[id])
		case old != next[id]:
			w.printfLocked("%s %s %s → %s", infoStyle.Render("~"), idStyle.Render(shortID(id)), old, next[id])
		}
	}
	for _, id := range sortedIDs(w.titles) {
		if _, ok := next[id]; !ok {
			w.printfLocked("%s %s %s", errorStyle.Render("-"), idStyle.Render(shortID(id)), w.titles[id])
		}
	}
	w.titles = next
}

func (w *watcher) tasks(ids []string) {
	short := make([]string, len(ids))
	for i, id := range ids {
		short[i] = shortID(id)
	}
	line := strings.Join(short, " ")

	w.mu.Lock()
	defer w.mu.Unlock()
	if line == w.running {
		return
	}
	w.running = line
	if line == "" {
		w.printfLocked("generating: none")
		return
	}
	w.printfLocked("generating: %s", countStyle.Render(line))
}

// chat reports growth of the open chat's last message.
func (w *watcher) chat(c *store.Chat) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if c == nil {
		if w.lastLeaf != "" {
			w.printfLocked("chat closed")
		}
		w.lastLeaf, w.lastLen = "", 0
		return
	}
	path := c.ActivePath()
	if len(path) == 0 {
		return
	}
	leaf := path[len(path)-1]
	if leaf.ID == w.lastLeaf && len(leaf.Content) == w.lastLen {
		return
	}
	w.lastLeaf, w.lastLen = leaf.ID, len(leaf.Content)
	line := strings.SplitN(strings.TrimSpace(leaf.Content), "\n", 2)[0]
	w.printfLocked("%s %s %s", roleStyles[string(leaf.Role)].Render(string(leaf.Role)), idStyle.Render(shortID(leaf.ID)), truncate(line, 60))
}

func sortedIDs(m map[string]string) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchChat, "chat", "", "Also follow this chat")
}
