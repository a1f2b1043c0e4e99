package store

import (
	"context"
	"sync"

	"github.com/iksnae/chatsync/internal/settings"
)

// MemoryBackend keeps records in maps. Several DocStores may share one
// MemoryBackend to act as separate actors over the same storage.
type MemoryBackend struct {
	mu        sync.RWMutex
	metas     map[string]*ChatMeta
	contents  map[string]*ChatContent
	groups    map[string]*ChatGroup
	hierarchy Hierarchy
	settings  *settings.Global
	blobs     map[string]*File
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		metas:    make(map[string]*ChatMeta),
		contents: make(map[string]*ChatContent),
		groups:   make(map[string]*ChatGroup),
		blobs:    make(map[string]*File),
	}
}

// NewMemory returns a provider over a fresh in-memory backend.
func NewMemory(notifier Notifier) *DocStore {
	return New(NewMemoryBackend(), notifier)
}

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) GetMeta(_ context.Context, id string) (*ChatMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metas[id].Clone(), nil
}

func (m *MemoryBackend) ListMetas(_ context.Context) ([]*ChatMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ChatMeta, 0, len(m.metas))
	for _, meta := range m.metas {
		out = append(out, meta.Clone())
	}
	return out, nil
}

func (m *MemoryBackend) PutMeta(_ context.Context, meta *ChatMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metas[meta.ID] = meta.Clone()
	return nil
}

func (m *MemoryBackend) DeleteMeta(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.metas, id)
	return nil
}

func (m *MemoryBackend) GetContent(_ context.Context, id string) (*ChatContent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.contents[id].Clone(), nil
}

func (m *MemoryBackend) PutContent(_ context.Context, id string, content *ChatContent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contents[id] = content.Clone()
	return nil
}

func (m *MemoryBackend) DeleteContent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.contents, id)
	return nil
}

func (m *MemoryBackend) GetGroup(_ context.Context, id string) (*ChatGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.groups[id].Clone(), nil
}

func (m *MemoryBackend) ListGroups(_ context.Context) ([]*ChatGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ChatGroup, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, g.Clone())
	}
	return out, nil
}

func (m *MemoryBackend) PutGroup(_ context.Context, group *ChatGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[group.ID] = group.Clone()
	return nil
}

func (m *MemoryBackend) DeleteGroup(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.groups, id)
	return nil
}

func (m *MemoryBackend) GetHierarchy(_ context.Context) (Hierarchy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hierarchy.Clone(), nil
}

func (m *MemoryBackend) PutHierarchy(_ context.Context, h Hierarchy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hierarchy = h.Clone()
	return nil
}

func (m *MemoryBackend) GetSettings(_ context.Context) (*settings.Global, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.settings == nil {
		return nil, nil
	}
	g := CloneGlobal(*m.settings)
	return &g, nil
}

func (m *MemoryBackend) PutSettings(_ context.Context, g settings.Global) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := CloneGlobal(g)
	m.settings = &c
	return nil
}

func (m *MemoryBackend) PutBlob(_ context.Context, f *File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *f
	c.Data = append([]byte(nil), f.Data...)
	m.blobs[f.ID] = &c
	return nil
}

func (m *MemoryBackend) GetBlob(_ context.Context, id string) (*File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.blobs[id]
	if !ok {
		return nil, nil
	}
	c := *f
	c.Data = append([]byte(nil), f.Data...)
	return &c, nil
}

func (m *MemoryBackend) Reset(_ context.Context, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metas = make(map[string]*ChatMeta)
	m.contents = make(map[string]*ChatContent)
	m.groups = make(map[string]*ChatGroup)
	for _, c := range snap.Chats {
		m.metas[c.ID] = c.ChatMeta.Clone()
		m.contents[c.ID] = c.ChatContent.Clone()
	}
	for _, g := range snap.Groups {
		m.groups[g.ID] = g.Clone()
	}
	m.hierarchy = snap.Hierarchy.Clone()
	m.settings = nil
	if snap.Settings != nil {
		g := CloneGlobal(*snap.Settings)
		m.settings = &g
	}
	return nil
}

func (m *MemoryBackend) Close() error { return nil }
