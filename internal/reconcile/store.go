// Package reconcile keeps one actor's view of the chat data in step with
// shared storage. It owns the open chat, the open group, the sidebar and the
// global settings, and refreshes them when change events arrive without
// overwriting a chat that is streaming locally.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/iksnae/chatsync/internal"
	"github.com/iksnae/chatsync/internal/bus"
	"github.com/iksnae/chatsync/internal/clock"
	"github.com/iksnae/chatsync/internal/generation"
	"github.com/iksnae/chatsync/internal/settings"
	"github.com/iksnae/chatsync/internal/store"
)

var (
	ErrChatNotFound = errors.New("chat not found")
	ErrNodeNotFound = errors.New("message not found")
	ErrDisposed     = errors.New("store disposed")
)

const (
	DefaultDebounce    = 300 * time.Millisecond
	DefaultMaxDebounce = time.Second

	migrationWait = 5 * time.Second
)

// State is the reconciliation state.
type State int

const (
	Idle State = iota
	Reconciling
)

func (s State) String() string {
	if s == Reconciling {
		return "reconciling"
	}
	return "idle"
}

// Options configure a Store. Provider and Signals are required.
type Options struct {
	Provider store.Provider
	Signals  generation.Signaler
	// Models answers generation requests. Defaults to a provider that
	// fails every request.
	Models generation.Provider
	Clock  clock.Clock

	Debounce    time.Duration
	MaxDebounce time.Duration
	// PersistEvery saves streamed content periodically so other actors can
	// follow a generation. Zero saves only the final result.
	PersistEvery time.Duration

	// OnError receives failures of background reconciliation passes.
	OnError func(error)
}

// Store is one actor's view state plus the operations that change it.
type Store struct {
	provider  store.Provider
	clock     clock.Clock
	models    generation.Provider
	onError   func(error)
	registry  *generation.Registry
	runner    *generation.Runner
	debouncer *bus.Debouncer

	ctx    context.Context
	cancel context.CancelFunc

	passMu sync.Mutex

	// mu guards the fields below and every live chat tree, including the
	// ones generations stream into.
	mu       sync.Mutex
	chat     *store.Chat
	group    *store.ChatGroup
	global   settings.Global
	pending  scope
	busy     map[string]int
	state    State
	version  uint64
	disposed bool
	unsubs   []func()

	currentChat  *Observable[*store.Chat]
	currentGroup *Observable[*store.ChatGroup]
	sidebar      *Observable[[]store.SidebarItem]
	settings     *Observable[settings.Global]
	tasks        *Observable[[]string]
	states       *Observable[State]
}

// New creates a store. Call Init before use and Dispose when done.
func New(opts Options) (*Store, error) {
	if opts.Provider == nil {
		return nil, errors.New("reconcile: provider is required")
	}
	if opts.Signals == nil {
		return nil, errors.New("reconcile: signals are required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Models == nil {
		opts.Models = generation.ProviderFunc(func(context.Context, generation.Request, func(generation.Chunk)) error {
			return errors.New("no model provider configured")
		})
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.MaxDebounce == 0 {
		opts.MaxDebounce = DefaultMaxDebounce
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		provider:     opts.Provider,
		clock:        opts.Clock,
		models:       opts.Models,
		onError:      opts.OnError,
		registry:     generation.NewRegistry(opts.Signals),
		ctx:          ctx,
		cancel:       cancel,
		global:       settings.Default(),
		busy:         make(map[string]int),
		currentChat:  newObservable[*store.Chat](nil),
		currentGroup: newObservable[*store.ChatGroup](nil),
		sidebar:      newObservable([]store.SidebarItem{}),
		settings:     newObservable(settings.Default()),
		tasks:        newObservable([]string{}),
		states:       newObservable(Idle),
	}
	s.runner = &generation.Runner{
		Registry:     s.registry,
		Store:        s.provider,
		Now:          s.clock.Now,
		Lock:         &s.mu,
		PersistEvery: opts.PersistEvery,
	}
	s.debouncer = bus.NewDebouncer(s.clock, opts.Debounce, opts.MaxDebounce, s.reconcile)
	return s, nil
}

// Init subscribes to change events and loads the sidebar and settings.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	s.unsubs = append(s.unsubs,
		s.provider.Subscribe(s.onEvent),
		s.registry.Subscribe(s.onTasks),
	)
	s.mu.Unlock()

	items, err := store.LoadSidebar(ctx, s.provider)
	if err != nil {
		return err
	}
	global, err := s.provider.LoadSettings(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.global = global
	v := s.bump()
	s.mu.Unlock()
	s.sidebar.set(items, v)
	s.settings.set(global, v)
	return nil
}

// Dispose stops reconciliation and aborts local generations. The store
// cannot be used afterwards.
func (s *Store) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	s.debouncer.Stop()
	for _, fn := range unsubs {
		fn()
	}
	s.registry.Close()
	s.cancel()
}

func (s *Store) CurrentChat() *Observable[*store.Chat] { return s.currentChat }
func (s *Store) CurrentGroup() *Observable[*store.ChatGroup] { return s.currentGroup }
func (s *Store) Sidebar() *Observable[[]store.SidebarItem] { return s.sidebar }
func (s *Store) Settings() *Observable[settings.Global] { return s.settings }
func (s *Store) Tasks() *Observable[[]string] { return s.tasks }
func (s *Store) States() *Observable[State] { return s.states }
func (s *Store) Registry() *generation.Registry { return s.registry }
func (s *Store) Provider() store.Provider { return s.provider }

// State reports whether a reconciliation pass is pending or running.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Sync runs a pending reconciliation pass now instead of waiting for the
// debounce window.
func (s *Store) Sync() {
	s.debouncer.Flush()
}

func (s *Store) onEvent(e bus.Event) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.pending.add(e)
	s.state = Reconciling
	v := s.bump()
	s.mu.Unlock()

	internal.LogDebug("change event %s %s", e.Type, e.ID)
	s.states.set(Reconciling, v)
	s.debouncer.Trigger()
}

func (s *Store) onTasks() {
	running := s.registry.Running()
	s.mu.Lock()
	v := s.bump()
	s.mu.Unlock()
	s.tasks.set(running, v)
}

// reconcile is the debounced pass. Passes never overlap.
func (s *Store) reconcile() {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	sc := s.pending
	s.pending = scope{}
	s.mu.Unlock()

	switch {
	case sc.migration:
		s.migrate(s.ctx)
	case !sc.empty():
		s.apply(s.ctx, sc)
	}

	s.mu.Lock()
	if s.pending.empty() {
		s.state = Idle
	}
	state := s.state
	v := s.bump()
	s.mu.Unlock()
	s.states.set(state, v)
}

// loaded is everything one pass read before committing.
type loaded struct {
	sidebar   []store.SidebarItem
	hierarchy store.Hierarchy
	global    *settings.Global

	chatMeta *store.ChatMeta
	chat     *store.Chat
	chatGone bool

	group     *store.ChatGroup
	groupGone bool
}

// apply loads every slice sc touches and commits them together. A storage
// failure leaves the view untouched.
func (s *Store) apply(ctx context.Context, sc scope) {
	s.mu.Lock()
	chatID, groupID := s.currentIDs()
	s.mu.Unlock()

	l, err := s.load(ctx, sc, chatID, groupID)
	if err != nil {
		s.report(err)
		return
	}

	var abort string
	s.mu.Lock()
	v := s.bump()
	curChat, curGroup := s.currentIDs()
	chatChanged, groupChanged := false, false

	if chatID != "" && curChat == chatID {
		switch {
		case l.chatGone:
			if s.registry.IsRunningLocally(chatID) {
				abort = chatID
			}
			s.chat = nil
			chatChanged = true
		case l.chat != nil && s.busy[chatID] == 0 && !s.registry.IsRunningLocally(chatID):
			s.chat = l.chat
			chatChanged = true
		case l.chatMeta != nil:
			// keep the tree, it may be streaming
			s.chat.ChatMeta = *l.chatMeta
			chatChanged = true
		}
		if s.chat != nil && l.hierarchy != nil {
			if gid, found := l.hierarchy.GroupOf(chatID); found && gid != s.chat.GroupID {
				s.chat.GroupID = gid
				chatChanged = true
			}
		}
	}
	if groupID != "" && curGroup == groupID {
		switch {
		case l.groupGone:
			s.group = nil
			groupChanged = true
		case l.group != nil:
			s.group = l.group
			groupChanged = true
		}
	}
	if l.global != nil {
		s.global = *l.global
	}
	chatSnap, groupSnap := s.chat.Clone(), snapshotGroup(s.group)
	s.mu.Unlock()

	if abort != "" {
		internal.LogInfo("chat %s was deleted while generating, aborting", abort)
		s.registry.Abort(abort)
	}
	if l.sidebar != nil {
		s.sidebar.set(l.sidebar, v)
	}
	if l.global != nil {
		s.settings.set(*l.global, v)
	}
	if chatChanged {
		s.currentChat.set(chatSnap, v)
	}
	if groupChanged {
		s.currentGroup.set(groupSnap, v)
	}
}

func (s *Store) load(ctx context.Context, sc scope, chatID, groupID string) (*loaded, error) {
	l := &loaded{}
	var err error
	if sc.sidebar {
		if l.hierarchy, err = s.provider.LoadHierarchy(ctx); err != nil {
			return nil, &internal.ReloadError{Scope: "sidebar", Err: err}
		}
		if l.sidebar, err = store.LoadSidebar(ctx, s.provider); err != nil {
			return nil, &internal.ReloadError{Scope: "sidebar", Err: err}
		}
	}
	if sc.settings {
		g, err := s.provider.LoadSettings(ctx)
		if err != nil {
			return nil, &internal.ReloadError{Scope: "settings", Err: err}
		}
		l.global = &g
	}

	_, metaHit := sc.meta[chatID]
	_, contentHit := sc.content[chatID]
	if chatID != "" && (metaHit || contentHit) {
		if l.chatMeta, err = s.provider.LoadChatMeta(ctx, chatID); err != nil {
			return nil, &internal.ReloadError{Scope: "chat " + chatID, Err: err}
		}
		l.chatGone = l.chatMeta == nil || (l.hierarchy != nil && !l.hierarchy.HasChat(chatID))
		if contentHit && !l.chatGone && !s.registry.IsRunningLocally(chatID) {
			if l.chat, err = s.provider.LoadChat(ctx, chatID); err != nil {
				return nil, &internal.ReloadError{Scope: "chat " + chatID, Err: err}
			}
			l.chatGone = l.chat == nil
		}
	}

	if groupID != "" && sc.sidebar {
		if l.group, err = s.provider.LoadChatGroup(ctx, groupID); err != nil {
			return nil, &internal.ReloadError{Scope: "group " + groupID, Err: err}
		}
		l.groupGone = l.group == nil || !l.hierarchy.HasGroup(groupID)
	}
	return l, nil
}

// migrate drops all view state after storage was replaced wholesale.
func (s *Store) migrate(ctx context.Context) {
	internal.LogInfo("storage was replaced, reloading everything")
	s.registry.AbortAll()
	waitCtx, cancel := context.WithTimeout(ctx, migrationWait)
	for _, id := range s.registry.Running() {
		if err := s.registry.Wait(waitCtx, id); err != nil {
			internal.LogWarn("generation for chat %s did not stop: %v", id, err)
		}
	}
	cancel()

	s.mu.Lock()
	s.chat = nil
	s.group = nil
	v := s.bump()
	s.mu.Unlock()
	s.currentChat.set(nil, v)
	s.currentGroup.set(nil, v)
	s.sidebar.set([]store.SidebarItem{}, v)

	s.apply(ctx, scope{sidebar: true, settings: true})
}

func snapshotGroup(g *store.ChatGroup) *store.ChatGroup {
	c := g.Clone()
	if c != nil {
		c.Items = append([]store.SidebarItem(nil), g.Items...)
	}
	return c
}

func (s *Store) currentIDs() (chatID, groupID string) {
	if s.chat != nil {
		chatID = s.chat.ID
	}
	if s.group != nil {
		groupID = s.group.ID
	}
	return chatID, groupID
}

// bump returns a new view version. Callers hold mu.
func (s *Store) bump() uint64 {
	s.version++
	return s.version
}

func (s *Store) report(err error) {
	if s.onError != nil {
		s.onError(err)
		return
	}
	internal.LogError("%v", err)
}

// scope accumulates what pending events touched.
type scope struct {
	sidebar   bool
	settings  bool
	migration bool
	meta      map[string]struct{}
	content   map[string]struct{}
}

func (sc *scope) add(e bus.Event) {
	switch e.Type {
	case bus.ChatMetaAndChatGroup:
		sc.sidebar = true
		if e.ID != "" {
			if sc.meta == nil {
				sc.meta = make(map[string]struct{})
			}
			sc.meta[e.ID] = struct{}{}
		}
	case bus.ChatContent:
		if e.ID != "" {
			if sc.content == nil {
				sc.content = make(map[string]struct{})
			}
			sc.content[e.ID] = struct{}{}
		}
	case bus.Settings:
		sc.settings = true
		sc.sidebar = true
	case bus.Migration:
		sc.migration = true
	}
}

func (sc scope) empty() bool {
	return !sc.sidebar && !sc.settings && !sc.migration && len(sc.meta) == 0 && len(sc.content) == 0
}
