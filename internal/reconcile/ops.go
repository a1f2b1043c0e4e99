package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/iksnae/chatsync/internal"
	"github.com/iksnae/chatsync/internal/generation"
	"github.com/iksnae/chatsync/internal/settings"
	"github.com/iksnae/chatsync/internal/store"
	"github.com/iksnae/chatsync/internal/tree"
)

// OpenChat makes id the current chat. A chat generating locally is shown
// from its live tree.
func (s *Store) OpenChat(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	var live *store.Chat
	if h := s.registry.Handle(id); h != nil && h.Chat != nil {
		live = h.Chat
	} else {
		c, err := s.provider.LoadChat(ctx, id)
		if err != nil {
			return err
		}
		if c == nil {
			return fmt.Errorf("open %s: %w", id, ErrChatNotFound)
		}
		live = c
	}
	s.mu.Lock()
	s.chat = live
	v := s.bump()
	snap := live.Clone()
	s.mu.Unlock()
	s.currentChat.set(snap, v)
	return nil
}

// CloseChat clears the current chat.
func (s *Store) CloseChat() {
	s.mu.Lock()
	s.chat = nil
	v := s.bump()
	s.mu.Unlock()
	s.currentChat.set(nil, v)
}

// OpenGroup makes id the current group. An empty id clears it.
func (s *Store) OpenGroup(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	var g *store.ChatGroup
	if id != "" {
		h, err := s.provider.LoadHierarchy(ctx)
		if err != nil {
			return err
		}
		if h.HasGroup(id) {
			if g, err = s.provider.LoadChatGroup(ctx, id); err != nil {
				return err
			}
		}
		if g == nil {
			return fmt.Errorf("group %s: %w", id, store.ErrNotFound)
		}
	}
	s.mu.Lock()
	s.group = g
	v := s.bump()
	snap := snapshotGroup(g)
	s.mu.Unlock()
	s.currentGroup.set(snap, v)
	return nil
}

// NewChat creates an empty chat and opens it.
func (s *Store) NewChat(ctx context.Context, opts store.NewChatOptions) (*store.Chat, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if opts.Now.IsZero() {
		opts.Now = s.clock.Now()
	}
	chat, err := store.CreateChat(ctx, s.provider, opts)
	if err != nil {
		return nil, err
	}
	if err := s.refreshSidebar(ctx); err != nil {
		return chat, err
	}
	return chat, s.OpenChat(ctx, chat.ID)
}

// NewSampleChat stores the demo chat and opens it.
func (s *Store) NewSampleChat(ctx context.Context) (*store.Chat, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	chat, err := store.SaveSampleChat(ctx, s.provider, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.refreshSidebar(ctx); err != nil {
		return chat, err
	}
	return chat, s.OpenChat(ctx, chat.ID)
}

// RenameChat sets the title of a chat.
func (s *Store) RenameChat(ctx context.Context, id, title string) error {
	return s.updateMeta(ctx, id, func(m *store.ChatMeta) {
		m.Title = title
	})
}

// UpdateChatOverrides replaces the settings overrides of a chat. nil
// removes them.
func (s *Store) UpdateChatOverrides(ctx context.Context, id string, o *settings.Overrides) error {
	if o.IsZero() {
		o = nil
	}
	return s.updateMeta(ctx, id, func(m *store.ChatMeta) {
		m.Overrides = o
	})
}

// DeleteChat aborts a local generation for the chat, waits for it, then
// removes the chat.
func (s *Store) DeleteChat(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.registry.AbortAndWait(ctx, id); err != nil {
		return err
	}
	if err := s.provider.DeleteChat(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	closed := s.chat != nil && s.chat.ID == id
	if closed {
		s.chat = nil
	}
	v := s.bump()
	s.mu.Unlock()
	if closed {
		s.currentChat.set(nil, v)
	}
	return s.refreshSidebar(ctx)
}

// MoveChat moves a chat to the top of groupID, or to the top level when
// groupID is empty.
func (s *Store) MoveChat(ctx context.Context, chatID, groupID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	var missing error
	err := s.provider.UpdateHierarchy(ctx, func(h store.Hierarchy) store.Hierarchy {
		if !h.HasChat(chatID) {
			missing = fmt.Errorf("move %s: %w", chatID, ErrChatNotFound)
			return nil
		}
		if groupID != "" && !h.HasGroup(groupID) {
			missing = fmt.Errorf("group %s: %w", groupID, store.ErrNotFound)
			return nil
		}
		return h.MoveChat(chatID, groupID)
	})
	if err != nil {
		return err
	}
	if missing != nil {
		return missing
	}
	return s.updateMeta(ctx, chatID, func(m *store.ChatMeta) {
		m.GroupID = groupID
	})
}

// CreateGroup adds an empty group at the top of the sidebar.
func (s *Store) CreateGroup(ctx context.Context, name string) (*store.ChatGroup, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	g := &store.ChatGroup{ID: uuid.NewString(), Name: name, UpdatedAt: s.clock.Now()}
	err := s.provider.UpdateChatGroup(ctx, g.ID, func(*store.ChatGroup) *store.ChatGroup {
		return g.Clone()
	})
	if err != nil {
		return nil, err
	}
	err = s.provider.UpdateHierarchy(ctx, func(h store.Hierarchy) store.Hierarchy {
		return h.AddGroup(g.ID)
	})
	if err != nil {
		return nil, err
	}
	return g, s.refreshSidebar(ctx)
}

// RenameGroup sets the name of a group.
func (s *Store) RenameGroup(ctx context.Context, id, name string) error {
	return s.updateGroup(ctx, id, func(g *store.ChatGroup) {
		g.Name = name
	})
}

// SetGroupCollapsed folds or unfolds a group in the sidebar.
func (s *Store) SetGroupCollapsed(ctx context.Context, id string, collapsed bool) error {
	return s.updateGroup(ctx, id, func(g *store.ChatGroup) {
		g.IsCollapsed = collapsed
	})
}

// UpdateGroupOverrides replaces the settings overrides of a group.
func (s *Store) UpdateGroupOverrides(ctx context.Context, id string, o *settings.Overrides) error {
	if o.IsZero() {
		o = nil
	}
	return s.updateGroup(ctx, id, func(g *store.ChatGroup) {
		g.Overrides = o
	})
}

// DeleteGroup removes a group. Its chats move to the top level.
func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.provider.DeleteChatGroup(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	closed := s.group != nil && s.group.ID == id
	if closed {
		s.group = nil
	}
	if s.chat != nil && s.chat.GroupID == id {
		s.chat.GroupID = ""
	}
	v := s.bump()
	chatSnap := s.chat.Clone()
	s.mu.Unlock()
	if closed {
		s.currentGroup.set(nil, v)
	}
	s.currentChat.set(chatSnap, v)
	return s.refreshSidebar(ctx)
}

// UpdateSettings changes the global settings.
func (s *Store) UpdateSettings(ctx context.Context, fn store.SettingsUpdater) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.provider.UpdateSettings(ctx, fn); err != nil {
		return err
	}
	g, err := s.provider.LoadSettings(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.global = g
	v := s.bump()
	s.mu.Unlock()
	s.settings.set(g, v)
	return nil
}

// ResolvedSettings returns the effective settings of a chat.
func (s *Store) ResolvedSettings(ctx context.Context, chatID string) (settings.Resolved, error) {
	s.mu.Lock()
	var meta *store.ChatMeta
	if s.chat != nil && s.chat.ID == chatID {
		meta = s.chat.ChatMeta.Clone()
	}
	s.mu.Unlock()
	if meta == nil {
		m, err := s.provider.LoadChatMeta(ctx, chatID)
		if err != nil {
			return settings.Resolved{}, err
		}
		if m == nil {
			return settings.Resolved{}, fmt.Errorf("settings of %s: %w", chatID, ErrChatNotFound)
		}
		meta = m
	}
	r, _, err := s.resolve(ctx, meta)
	return r, err
}

// SendMessage appends a user message after the active leaf, with an empty
// assistant reply that a new generation streams into.
func (s *Store) SendMessage(ctx context.Context, chatID, text string, attachments ...tree.Attachment) (_ *generation.Handle, err error) {
	live, release, err := s.acquire(ctx, chatID)
	if err != nil {
		return nil, err
	}
	defer release()
	h, err := s.claim(ctx, live)
	if err != nil {
		return nil, err
	}
	defer s.unclaim(h, &err)

	resolved, global, err := s.resolveLive(ctx, live)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()

	s.mu.Lock()
	path := live.ActivePath()
	branch := &live.Root
	if len(path) > 0 {
		branch = &path[len(path)-1].Replies
	}
	user := tree.NewNode(tree.RoleUser, text, now)
	user.Attachments = attachments
	tree.AppendChild(branch, user)
	reply := tree.NewNode(tree.RoleAssistant, "", now)
	reply.ModelID = resolved.ModelID
	tree.AppendChild(&user.Replies, reply)
	live.CurrentLeafID = reply.ID
	req := generation.NewRequest(resolved, append(path, user))
	s.mu.Unlock()

	if err := s.saveContent(ctx, live); err != nil {
		return nil, err
	}
	err = s.touch(ctx, live, func(m *store.ChatMeta) {
		if global.AutoTitle && store.IsUntitled(m.Title) {
			if title := store.DeriveTitle(text); title != "" {
				m.Title = title
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return s.start(ctx, h, live, reply, req)
}

// EditMessage adds a new version of nodeID with content. Editing a user
// message starts a new answer; editing an assistant message does not, and
// the returned handle is nil. A running generation is aborted first.
func (s *Store) EditMessage(ctx context.Context, chatID, nodeID, content string) (_ *generation.Handle, err error) {
	if err := s.registry.AbortAndWait(ctx, chatID); err != nil {
		return nil, err
	}
	live, release, err := s.acquire(ctx, chatID)
	if err != nil {
		return nil, err
	}
	defer release()

	s.mu.Lock()
	node := tree.Find(&live.Root, nodeID)
	s.mu.Unlock()
	if node == nil {
		return nil, fmt.Errorf("edit %s in %s: %w", nodeID, chatID, ErrNodeNotFound)
	}
	var h *generation.Handle
	if node.Role == tree.RoleUser {
		if h, err = s.claim(ctx, live); err != nil {
			return nil, err
		}
		defer s.unclaim(h, &err)
	}

	resolved, _, err := s.resolveLive(ctx, live)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()

	s.mu.Lock()
	version := tree.NewNode(node.Role, content, now)
	version.Attachments = node.Attachments
	version.ModelID = node.ModelID
	tree.CreateVersion(&live.Root, nodeID, version)

	var reply *tree.MessageNode
	var req generation.Request
	if node.Role == tree.RoleUser {
		reply = tree.NewNode(tree.RoleAssistant, "", now)
		reply.ModelID = resolved.ModelID
		tree.AppendChild(&version.Replies, reply)
		path, _ := tree.PathTo(&live.Root, version.ID)
		req = generation.NewRequest(resolved, path)
		live.CurrentLeafID = reply.ID
	} else {
		live.CurrentLeafID = version.ID
	}
	s.mu.Unlock()

	if err := s.saveContent(ctx, live); err != nil {
		return nil, err
	}
	if err := s.touch(ctx, live, nil); err != nil {
		return nil, err
	}
	if reply == nil {
		return nil, nil
	}
	return s.start(ctx, h, live, reply, req)
}

// Regenerate asks for a new answer. For an assistant message the answer
// becomes its new version; for a user message it becomes a new reply. A
// running generation is aborted first.
func (s *Store) Regenerate(ctx context.Context, chatID, nodeID string) (_ *generation.Handle, err error) {
	if err := s.registry.AbortAndWait(ctx, chatID); err != nil {
		return nil, err
	}
	live, release, err := s.acquire(ctx, chatID)
	if err != nil {
		return nil, err
	}
	defer release()
	h, err := s.claim(ctx, live)
	if err != nil {
		return nil, err
	}
	defer s.unclaim(h, &err)

	resolved, _, err := s.resolveLive(ctx, live)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()

	s.mu.Lock()
	path, ok := tree.PathTo(&live.Root, nodeID)
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("regenerate %s in %s: %w", nodeID, chatID, ErrNodeNotFound)
	}
	node := path[len(path)-1]
	reply := tree.NewNode(tree.RoleAssistant, "", now)
	reply.ModelID = resolved.ModelID
	var history []*tree.MessageNode
	switch node.Role {
	case tree.RoleAssistant:
		tree.CreateVersion(&live.Root, nodeID, reply)
		history = path[:len(path)-1]
	case tree.RoleUser:
		tree.AppendChild(&node.Replies, reply)
		history = path
	default:
		s.mu.Unlock()
		return nil, fmt.Errorf("cannot regenerate a %s message", node.Role)
	}
	live.CurrentLeafID = reply.ID
	req := generation.NewRequest(resolved, history)
	s.mu.Unlock()

	if err := s.saveContent(ctx, live); err != nil {
		return nil, err
	}
	if err := s.touch(ctx, live, nil); err != nil {
		return nil, err
	}
	return s.start(ctx, h, live, reply, req)
}

// SelectNode makes the branch through nodeID active, continuing to its
// newest descendant.
func (s *Store) SelectNode(ctx context.Context, chatID, nodeID string) error {
	live, release, err := s.acquire(ctx, chatID)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	node := tree.Find(&live.Root, nodeID)
	if node == nil {
		s.mu.Unlock()
		return fmt.Errorf("select %s in %s: %w", nodeID, chatID, ErrNodeNotFound)
	}
	live.CurrentLeafID = tree.DeepestLast(node).ID
	s.mu.Unlock()

	return s.saveContent(ctx, live)
}

// Fork copies the path to nodeID into a new chat and opens it.
func (s *Store) Fork(ctx context.Context, chatID, nodeID string) (*store.Chat, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	fork, err := store.ForkChat(ctx, s.provider, chatID, nodeID, s.clock.Now())
	switch {
	case errors.Is(err, store.ErrNodeNotFound):
		return nil, fmt.Errorf("%w: %w", ErrNodeNotFound, err)
	case errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("%w: %w", ErrChatNotFound, err)
	case err != nil:
		return nil, err
	}
	if err := s.refreshSidebar(ctx); err != nil {
		return fork, err
	}
	return fork, s.OpenChat(ctx, fork.ID)
}

// Abort stops the generation for chatID on whichever actor runs it.
func (s *Store) Abort(chatID string) bool {
	return s.registry.Abort(chatID)
}

// IsTaskRunning reports whether any actor generates for chatID.
func (s *Store) IsTaskRunning(chatID string) bool {
	return s.registry.IsRunning(chatID)
}

// Search finds chats whose title or messages contain every keyword.
func (s *Store) Search(ctx context.Context, query string) ([]store.ChatHits, error) {
	return store.SearchChats(ctx, s.provider, query)
}

func (s *Store) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	return nil
}

// acquire returns the live object for chatID: the open chat, the chat a
// local generation streams into, or a fresh load. Content reloads skip the
// chat until release is called.
func (s *Store) acquire(ctx context.Context, chatID string) (*store.Chat, func(), error) {
	h := s.registry.Handle(chatID)

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil, nil, ErrDisposed
	}
	s.busy[chatID]++
	var live *store.Chat
	switch {
	case s.chat != nil && s.chat.ID == chatID:
		live = s.chat
	case h != nil && h.Chat != nil:
		live = h.Chat
	}
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		if s.busy[chatID]--; s.busy[chatID] <= 0 {
			delete(s.busy, chatID)
		}
		s.mu.Unlock()
	}
	if live != nil {
		return live, release, nil
	}
	c, err := s.provider.LoadChat(ctx, chatID)
	if err != nil {
		release()
		return nil, nil, err
	}
	if c == nil {
		release()
		return nil, nil, fmt.Errorf("chat %s: %w", chatID, ErrChatNotFound)
	}
	return c, release, nil
}

// claim takes the generation slot for live before its tree changes, so a
// second start on this actor fails without side effects.
func (s *Store) claim(ctx context.Context, live *store.Chat) (*generation.Handle, error) {
	return s.registry.Begin(ctx, live.ID, live)
}

// unclaim gives the slot back when the operation failed before launching.
func (s *Store) unclaim(h *generation.Handle, err *error) {
	if *err != nil {
		s.registry.End(h.ChatID)
	}
}

func (s *Store) start(ctx context.Context, h *generation.Handle, live *store.Chat, reply *tree.MessageNode, req generation.Request) (*generation.Handle, error) {
	internal.LogDebug("starting generation for chat %s: %s", live.ID, generation.Describe(req))
	err := s.runner.Launch(ctx, h, generation.Job{
		Chat:     live,
		Node:     reply,
		Request:  req,
		Provider: s.models,
		OnUpdate: func() { s.publishIfCurrent(live) },
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// saveContent writes the live tree. A chat deleted meanwhile stays deleted.
func (s *Store) saveContent(ctx context.Context, live *store.Chat) error {
	s.mu.Lock()
	content := live.ChatContent.Clone()
	s.mu.Unlock()
	s.publishIfCurrent(live)

	return s.provider.UpdateChatContent(ctx, live.ID, func(cur *store.ChatContent) *store.ChatContent {
		if cur == nil {
			return nil
		}
		return content
	})
}

// touch applies fn to the stored meta, bumps UpdatedAt and copies the
// result into the live chat.
func (s *Store) touch(ctx context.Context, live *store.Chat, fn func(*store.ChatMeta)) error {
	var written *store.ChatMeta
	err := s.provider.UpdateChatMeta(ctx, live.ID, func(m *store.ChatMeta) *store.ChatMeta {
		if m == nil {
			return nil
		}
		if fn != nil {
			fn(m)
		}
		m.UpdatedAt = s.clock.Now()
		written = m.Clone()
		return m
	})
	if err != nil || written == nil {
		return err
	}
	s.mu.Lock()
	live.ChatMeta = *written
	s.mu.Unlock()
	s.publishIfCurrent(live)
	return nil
}

// updateMeta changes a chat's meta and refreshes the views that show it.
func (s *Store) updateMeta(ctx context.Context, id string, fn func(*store.ChatMeta)) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	var written *store.ChatMeta
	err := s.provider.UpdateChatMeta(ctx, id, func(m *store.ChatMeta) *store.ChatMeta {
		if m == nil {
			return nil
		}
		fn(m)
		m.UpdatedAt = s.clock.Now()
		written = m.Clone()
		return m
	})
	if err != nil {
		return err
	}
	if written == nil {
		return fmt.Errorf("chat %s: %w", id, ErrChatNotFound)
	}

	s.mu.Lock()
	var snap *store.Chat
	if s.chat != nil && s.chat.ID == id {
		s.chat.ChatMeta = *written
		snap = s.chat.Clone()
	}
	v := s.bump()
	s.mu.Unlock()
	if snap != nil {
		s.currentChat.set(snap, v)
	}
	return s.refreshSidebar(ctx)
}

// updateGroup changes a group and refreshes the views that show it.
func (s *Store) updateGroup(ctx context.Context, id string, fn func(*store.ChatGroup)) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	found := false
	err := s.provider.UpdateChatGroup(ctx, id, func(g *store.ChatGroup) *store.ChatGroup {
		if g == nil {
			return nil
		}
		found = true
		fn(g)
		g.UpdatedAt = s.clock.Now()
		return g
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("group %s: %w", id, store.ErrNotFound)
	}

	s.mu.Lock()
	isCurrent := s.group != nil && s.group.ID == id
	s.mu.Unlock()
	if isCurrent {
		if err := s.OpenGroup(ctx, id); err != nil {
			return err
		}
	}
	return s.refreshSidebar(ctx)
}

func (s *Store) refreshSidebar(ctx context.Context) error {
	items, err := store.LoadSidebar(ctx, s.provider)
	if err != nil {
		return err
	}
	s.mu.Lock()
	v := s.bump()
	s.mu.Unlock()
	s.sidebar.set(items, v)
	return nil
}

// publishIfCurrent shows the latest state of live if it is the open chat.
func (s *Store) publishIfCurrent(live *store.Chat) {
	s.mu.Lock()
	if s.chat != live {
		s.mu.Unlock()
		return
	}
	v := s.bump()
	snap := live.Clone()
	s.mu.Unlock()
	s.currentChat.set(snap, v)
}

// resolveLive resolves settings for a live chat.
func (s *Store) resolveLive(ctx context.Context, live *store.Chat) (settings.Resolved, settings.Global, error) {
	s.mu.Lock()
	meta := live.ChatMeta.Clone()
	s.mu.Unlock()
	return s.resolve(ctx, meta)
}

func (s *Store) resolve(ctx context.Context, meta *store.ChatMeta) (settings.Resolved, settings.Global, error) {
	global, err := s.provider.LoadSettings(ctx)
	if err != nil {
		return settings.Resolved{}, global, err
	}
	var group *settings.Overrides
	if meta.GroupID != "" {
		g, err := s.provider.LoadChatGroup(ctx, meta.GroupID)
		if err != nil {
			return settings.Resolved{}, global, err
		}
		if g != nil {
			group = g.Overrides
		}
	}
	return settings.Resolve(meta.Overrides, group, global), global, nil
}
