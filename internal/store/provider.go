package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/iksnae/chatsync/internal"
	"github.com/iksnae/chatsync/internal/bus"
	"github.com/iksnae/chatsync/internal/settings"
)

// Updaters receive a private copy of the current record, or nil when it does
// not exist, and return the record to write. Returning nil skips the write
// and no event is sent.
type (
	MetaUpdater      func(*ChatMeta) *ChatMeta
	ContentUpdater   func(*ChatContent) *ChatContent
	GroupUpdater     func(*ChatGroup) *ChatGroup
	HierarchyUpdater func(Hierarchy) Hierarchy
	SettingsUpdater  func(settings.Global) settings.Global
)

// Provider is the storage contract the rest of the application depends on.
// Every mutation notifies subscribers after it commits. Load methods return
// nil, nil for records that do not exist or are only half present.
type Provider interface {
	ListChats(ctx context.Context) ([]*ChatMeta, error)
	ListChatGroups(ctx context.Context) ([]*ChatGroup, error)
	LoadHierarchy(ctx context.Context) (Hierarchy, error)
	LoadChat(ctx context.Context, id string) (*Chat, error)
	LoadChatMeta(ctx context.Context, id string) (*ChatMeta, error)
	LoadChatGroup(ctx context.Context, id string) (*ChatGroup, error)
	LoadSettings(ctx context.Context) (settings.Global, error)

	SaveChat(ctx context.Context, chat *Chat) error
	UpdateChatMeta(ctx context.Context, id string, fn MetaUpdater) error
	UpdateChatContent(ctx context.Context, id string, fn ContentUpdater) error
	UpdateHierarchy(ctx context.Context, fn HierarchyUpdater) error
	UpdateChatGroup(ctx context.Context, id string, fn GroupUpdater) error
	UpdateSettings(ctx context.Context, fn SettingsUpdater) error
	DeleteChat(ctx context.Context, id string) error
	DeleteChatGroup(ctx context.Context, id string) error

	SaveFile(ctx context.Context, data []byte, id, name string) (string, error)
	GetFile(ctx context.Context, id string) (*File, error)
	GetBinaryObject(ctx context.Context, id string) ([]byte, error)

	ReplaceAll(ctx context.Context, snap *Snapshot) error
	Export(ctx context.Context) (*Snapshot, error)

	Subscribe(fn func(bus.Event)) (unsubscribe func())
	Notify(e bus.Event)
	Close() error
}

// Notifier is the change channel a DocStore reports to.
type Notifier interface {
	Notify(e bus.Event)
	Subscribe(fn func(bus.Event)) (unsubscribe func())
}

// Backend is the raw record layer of a storage medium. Get methods return
// nil, nil for missing records. Backends do not notify.
type Backend interface {
	Name() string

	GetMeta(ctx context.Context, id string) (*ChatMeta, error)
	ListMetas(ctx context.Context) ([]*ChatMeta, error)
	PutMeta(ctx context.Context, meta *ChatMeta) error
	DeleteMeta(ctx context.Context, id string) error

	GetContent(ctx context.Context, id string) (*ChatContent, error)
	PutContent(ctx context.Context, id string, content *ChatContent) error
	DeleteContent(ctx context.Context, id string) error

	GetGroup(ctx context.Context, id string) (*ChatGroup, error)
	ListGroups(ctx context.Context) ([]*ChatGroup, error)
	PutGroup(ctx context.Context, group *ChatGroup) error
	DeleteGroup(ctx context.Context, id string) error

	GetHierarchy(ctx context.Context) (Hierarchy, error)
	PutHierarchy(ctx context.Context, h Hierarchy) error

	GetSettings(ctx context.Context) (*settings.Global, error)
	PutSettings(ctx context.Context, g settings.Global) error

	PutBlob(ctx context.Context, f *File) error
	GetBlob(ctx context.Context, id string) (*File, error)

	// Reset replaces all records except blobs with snap.
	Reset(ctx context.Context, snap *Snapshot) error
	Close() error
}

// DocStore implements Provider on top of a Backend. Read-modify-write
// updates are serialized within one DocStore; across actors the last
// writer wins per record.
type DocStore struct {
	backend  Backend
	notifier Notifier
	private  *bus.Bus
	mu       sync.Mutex
}

// New wraps backend. A nil notifier gets a private bus, closed with the store.
func New(backend Backend, notifier Notifier) *DocStore {
	s := &DocStore{backend: backend, notifier: notifier}
	if notifier == nil {
		s.private = bus.New()
		s.notifier = s.private
	}
	return s
}

// Backend returns the underlying record layer.
func (s *DocStore) Backend() Backend {
	return s.backend
}

func (s *DocStore) wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *internal.StorageError
	if errors.As(err, &se) {
		return err
	}
	return &internal.StorageError{Backend: s.backend.Name(), Op: op, Key: key, Err: err}
}

func (s *DocStore) ListChats(ctx context.Context) ([]*ChatMeta, error) {
	h, err := s.backend.GetHierarchy(ctx)
	if err != nil {
		return nil, s.wrap("read", "hierarchy", err)
	}
	metas, err := s.backend.ListMetas(ctx)
	if err != nil {
		return nil, s.wrap("read", "chats", err)
	}
	byID := make(map[string]*ChatMeta, len(metas))
	for _, m := range metas {
		byID[m.ID] = m
	}
	out := []*ChatMeta{}
	for _, id := range h.ChatIDs() {
		if m, ok := byID[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *DocStore) ListChatGroups(ctx context.Context) ([]*ChatGroup, error) {
	h, err := s.backend.GetHierarchy(ctx)
	if err != nil {
		return nil, s.wrap("read", "hierarchy", err)
	}
	groups, err := s.backend.ListGroups(ctx)
	if err != nil {
		return nil, s.wrap("read", "groups", err)
	}
	metas, err := s.backend.ListMetas(ctx)
	if err != nil {
		return nil, s.wrap("read", "chats", err)
	}
	items := BuildSidebar(h, indexMetas(metas), indexGroups(groups))
	out := []*ChatGroup{}
	for _, item := range items {
		if item.Type == ItemGroup {
			out = append(out, item.Group)
		}
	}
	return out, nil
}

// Sidebar loads the hierarchy with every record it references.
func (s *DocStore) Sidebar(ctx context.Context) ([]SidebarItem, error) {
	return LoadSidebar(ctx, s)
}

func (s *DocStore) LoadHierarchy(ctx context.Context) (Hierarchy, error) {
	h, err := s.backend.GetHierarchy(ctx)
	if err != nil {
		return nil, s.wrap("read", "hierarchy", err)
	}
	return h, nil
}

func (s *DocStore) LoadChat(ctx context.Context, id string) (*Chat, error) {
	meta, err := s.backend.GetMeta(ctx, id)
	if err != nil {
		return nil, s.wrap("read", id, err)
	}
	if meta == nil {
		return nil, nil
	}
	content, err := s.backend.GetContent(ctx, id)
	if err != nil {
		return nil, s.wrap("read", id, err)
	}
	if content == nil {
		internal.LogDebug("chat %s has meta but no content", id)
		return nil, nil
	}
	return &Chat{ChatMeta: *meta, ChatContent: *content}, nil
}

func (s *DocStore) LoadChatMeta(ctx context.Context, id string) (*ChatMeta, error) {
	meta, err := s.backend.GetMeta(ctx, id)
	return meta, s.wrap("read", id, err)
}

func (s *DocStore) LoadChatGroup(ctx context.Context, id string) (*ChatGroup, error) {
	g, err := s.backend.GetGroup(ctx, id)
	if err != nil || g == nil {
		return nil, s.wrap("read", id, err)
	}
	h, err := s.backend.GetHierarchy(ctx)
	if err != nil {
		return nil, s.wrap("read", "hierarchy", err)
	}
	for _, e := range h {
		if e.Type != ItemGroup || e.ID != id {
			continue
		}
		for _, chatID := range e.ChatIDs {
			m, err := s.backend.GetMeta(ctx, chatID)
			if err != nil {
				return nil, s.wrap("read", chatID, err)
			}
			if m != nil {
				g.Items = append(g.Items, SidebarItem{Type: ItemChat, ID: chatID, Chat: m})
			}
		}
	}
	return g, nil
}

func (s *DocStore) LoadSettings(ctx context.Context) (settings.Global, error) {
	g, err := s.backend.GetSettings(ctx)
	if err != nil {
		return settings.Global{}, s.wrap("read", "settings", err)
	}
	if g == nil {
		return settings.Default(), nil
	}
	return *g, nil
}

// SaveChat writes content before meta so a listed chat always has content.
func (s *DocStore) SaveChat(ctx context.Context, chat *Chat) error {
	s.mu.Lock()
	content := chat.ChatContent
	if err := s.backend.PutContent(ctx, chat.ID, &content); err != nil {
		s.mu.Unlock()
		return s.wrap("write", chat.ID, err)
	}
	meta := chat.ChatMeta
	if err := s.backend.PutMeta(ctx, &meta); err != nil {
		s.mu.Unlock()
		return s.wrap("write", chat.ID, err)
	}
	s.mu.Unlock()
	s.Notify(bus.Event{Type: bus.ChatContent, ID: chat.ID})
	s.Notify(bus.Event{Type: bus.ChatMetaAndChatGroup, ID: chat.ID})
	return nil
}

func (s *DocStore) UpdateChatMeta(ctx context.Context, id string, fn MetaUpdater) error {
	s.mu.Lock()
	cur, err := s.backend.GetMeta(ctx, id)
	if err != nil {
		s.mu.Unlock()
		return s.wrap("read", id, err)
	}
	next := fn(cur)
	if next == nil {
		s.mu.Unlock()
		return nil
	}
	next.ID = id
	if err := s.backend.PutMeta(ctx, next); err != nil {
		s.mu.Unlock()
		return s.wrap("write", id, err)
	}
	s.mu.Unlock()
	s.Notify(bus.Event{Type: bus.ChatMetaAndChatGroup, ID: id})
	return nil
}

func (s *DocStore) UpdateChatContent(ctx context.Context, id string, fn ContentUpdater) error {
	s.mu.Lock()
	cur, err := s.backend.GetContent(ctx, id)
	if err != nil {
		s.mu.Unlock()
		return s.wrap("read", id, err)
	}
	next := fn(cur)
	if next == nil {
		s.mu.Unlock()
		return nil
	}
	if err := s.backend.PutContent(ctx, id, next); err != nil {
		s.mu.Unlock()
		return s.wrap("write", id, err)
	}
	s.mu.Unlock()
	s.Notify(bus.Event{Type: bus.ChatContent, ID: id})
	return nil
}

func (s *DocStore) UpdateHierarchy(ctx context.Context, fn HierarchyUpdater) error {
	s.mu.Lock()
	cur, err := s.backend.GetHierarchy(ctx)
	if err != nil {
		s.mu.Unlock()
		return s.wrap("read", "hierarchy", err)
	}
	next := fn(cur)
	if next == nil {
		s.mu.Unlock()
		return nil
	}
	if err := s.backend.PutHierarchy(ctx, next); err != nil {
		s.mu.Unlock()
		return s.wrap("write", "hierarchy", err)
	}
	s.mu.Unlock()
	s.Notify(bus.Event{Type: bus.ChatMetaAndChatGroup})
	return nil
}

func (s *DocStore) UpdateChatGroup(ctx context.Context, id string, fn GroupUpdater) error {
	s.mu.Lock()
	cur, err := s.backend.GetGroup(ctx, id)
	if err != nil {
		s.mu.Unlock()
		return s.wrap("read", id, err)
	}
	next := fn(cur)
	if next == nil {
		s.mu.Unlock()
		return nil
	}
	next.ID = id
	if err := s.backend.PutGroup(ctx, next); err != nil {
		s.mu.Unlock()
		return s.wrap("write", id, err)
	}
	s.mu.Unlock()
	s.Notify(bus.Event{Type: bus.ChatMetaAndChatGroup, ID: id})
	return nil
}

func (s *DocStore) UpdateSettings(ctx context.Context, fn SettingsUpdater) error {
	s.mu.Lock()
	cur, err := s.backend.GetSettings(ctx)
	if err != nil {
		s.mu.Unlock()
		return s.wrap("read", "settings", err)
	}
	base := settings.Default()
	if cur != nil {
		base = *cur
	}
	if err := s.backend.PutSettings(ctx, fn(base)); err != nil {
		s.mu.Unlock()
		return s.wrap("write", "settings", err)
	}
	s.mu.Unlock()
	s.Notify(bus.Event{Type: bus.Settings})
	return nil
}

// DeleteChat removes content first, then meta, then the hierarchy entry.
// A failure part way leaves a half chat that LoadChat reports as missing.
func (s *DocStore) DeleteChat(ctx context.Context, id string) error {
	s.mu.Lock()
	if err := s.backend.DeleteContent(ctx, id); err != nil {
		s.mu.Unlock()
		return s.wrap("delete", id, err)
	}
	if err := s.backend.DeleteMeta(ctx, id); err != nil {
		s.mu.Unlock()
		return s.wrap("delete", id, err)
	}
	h, err := s.backend.GetHierarchy(ctx)
	if err == nil && h.HasChat(id) {
		err = s.backend.PutHierarchy(ctx, h.RemoveChat(id))
	}
	s.mu.Unlock()
	s.Notify(bus.Event{Type: bus.ChatMetaAndChatGroup, ID: id})
	return s.wrap("write", "hierarchy", err)
}

// DeleteChatGroup removes the group. Its chats move to the top level where
// the group was.
func (s *DocStore) DeleteChatGroup(ctx context.Context, id string) error {
	s.mu.Lock()
	h, err := s.backend.GetHierarchy(ctx)
	if err != nil {
		s.mu.Unlock()
		return s.wrap("read", "hierarchy", err)
	}
	if h.HasGroup(id) {
		for _, e := range h {
			if e.Type != ItemGroup || e.ID != id {
				continue
			}
			for _, chatID := range e.ChatIDs {
				m, err := s.backend.GetMeta(ctx, chatID)
				if err != nil || m == nil {
					continue
				}
				m.GroupID = ""
				if err := s.backend.PutMeta(ctx, m); err != nil {
					internal.LogWarn("failed to detach chat %s from group %s: %v", chatID, id, err)
				}
			}
		}
		if err := s.backend.PutHierarchy(ctx, h.DissolveGroup(id)); err != nil {
			s.mu.Unlock()
			return s.wrap("write", "hierarchy", err)
		}
	}
	if err := s.backend.DeleteGroup(ctx, id); err != nil {
		s.mu.Unlock()
		return s.wrap("delete", id, err)
	}
	s.mu.Unlock()
	s.Notify(bus.Event{Type: bus.ChatMetaAndChatGroup, ID: id})
	return nil
}

// SaveFile stores an attachment. An empty id is replaced by the SHA-256 of
// data. Blobs are immutable, so no event is sent.
func (s *DocStore) SaveFile(ctx context.Context, data []byte, id, name string) (string, error) {
	if id == "" {
		sum := sha256.Sum256(data)
		id = hex.EncodeToString(sum[:])
	}
	f := &File{
		ID:       id,
		Name:     name,
		MimeType: http.DetectContentType(data),
		Size:     int64(len(data)),
		Data:     data,
	}
	if err := s.backend.PutBlob(ctx, f); err != nil {
		return "", s.wrap("write", id, err)
	}
	return id, nil
}

func (s *DocStore) GetFile(ctx context.Context, id string) (*File, error) {
	f, err := s.backend.GetBlob(ctx, id)
	return f, s.wrap("read", id, err)
}

func (s *DocStore) GetBinaryObject(ctx context.Context, id string) ([]byte, error) {
	f, err := s.GetFile(ctx, id)
	if err != nil || f == nil {
		return nil, err
	}
	return f.Data, nil
}

// ReplaceAll swaps the entire dataset and announces a migration.
func (s *DocStore) ReplaceAll(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		snap = &Snapshot{}
	}
	s.mu.Lock()
	err := s.backend.Reset(ctx, snap)
	s.mu.Unlock()
	if err != nil {
		return s.wrap("reset", "all", err)
	}
	s.Notify(bus.Event{Type: bus.Migration})
	return nil
}

// Export returns every visible chat and group.
func (s *DocStore) Export(ctx context.Context) (*Snapshot, error) {
	h, err := s.LoadHierarchy(ctx)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Hierarchy: h, Chats: []*Chat{}}
	for _, id := range h.ChatIDs() {
		chat, err := s.LoadChat(ctx, id)
		if err != nil {
			return nil, err
		}
		if chat != nil {
			snap.Chats = append(snap.Chats, chat)
		}
	}
	if snap.Groups, err = s.ListChatGroups(ctx); err != nil {
		return nil, err
	}
	g, err := s.LoadSettings(ctx)
	if err != nil {
		return nil, err
	}
	snap.Settings = &g
	return snap, nil
}

func (s *DocStore) Subscribe(fn func(bus.Event)) func() {
	return s.notifier.Subscribe(fn)
}

func (s *DocStore) Notify(e bus.Event) {
	s.notifier.Notify(e)
}

func (s *DocStore) Close() error {
	if s.private != nil {
		_ = s.private.Close()
	}
	if err := s.backend.Close(); err != nil {
		return fmt.Errorf("close %s backend: %w", s.backend.Name(), err)
	}
	return nil
}

func indexMetas(metas []*ChatMeta) map[string]*ChatMeta {
	out := make(map[string]*ChatMeta, len(metas))
	for _, m := range metas {
		out[m.ID] = m
	}
	return out
}

func indexGroups(groups []*ChatGroup) map[string]*ChatGroup {
	out := make(map[string]*ChatGroup, len(groups))
	for _, g := range groups {
		out[g.ID] = g
	}
	return out
}

// LoadSidebar builds the sidebar from any provider.
func LoadSidebar(ctx context.Context, p Provider) ([]SidebarItem, error) {
	h, err := p.LoadHierarchy(ctx)
	if err != nil {
		return nil, err
	}
	metas, err := p.ListChats(ctx)
	if err != nil {
		return nil, err
	}
	groups, err := p.ListChatGroups(ctx)
	if err != nil {
		return nil, err
	}
	return BuildSidebar(h, indexMetas(metas), indexGroups(groups)), nil
}
