package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/iksnae/chatsync/internal"
	"github.com/iksnae/chatsync/internal/settings"
	"gopkg.in/yaml.v3"
)

// metaIndex is the single document holding every chat meta, every group and
// the hierarchy.
type metaIndex struct {
	Chats     []*ChatMeta  `yaml:"chats"`
	Groups    []*ChatGroup `yaml:"groups"`
	Hierarchy Hierarchy    `yaml:"hierarchy"`
}

// SplitFileBackend stores the meta index as YAML and each chat's content as
// its own JSON file:
//
//	<dir>/index.yaml
//	<dir>/settings.yaml
//	<dir>/chats/chat_<id>.json
//	<dir>/files/<id>.bin, <id>.yaml
//
// Every read goes to disk so writes from other processes are visible.
type SplitFileBackend struct {
	dir string
}

// NewSplitFileBackend prepares dir for use.
func NewSplitFileBackend(dir string) (*SplitFileBackend, error) {
	b := &SplitFileBackend{dir: dir}
	for _, d := range []string{dir, b.chatsDir(), b.filesDir()} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, &internal.StorageError{Backend: "file", Op: "open", Key: d, Err: err}
		}
	}
	return b, nil
}

// NewSplitFile returns a provider over a split-file backend in dir.
func NewSplitFile(dir string, notifier Notifier) (*DocStore, error) {
	b, err := NewSplitFileBackend(dir)
	if err != nil {
		return nil, err
	}
	return New(b, notifier), nil
}

func (b *SplitFileBackend) Name() string { return "file" }

// Dir returns the data directory.
func (b *SplitFileBackend) Dir() string { return b.dir }

func (b *SplitFileBackend) indexPath() string    { return filepath.Join(b.dir, "index.yaml") }
func (b *SplitFileBackend) settingsPath() string { return filepath.Join(b.dir, "settings.yaml") }
func (b *SplitFileBackend) chatsDir() string     { return filepath.Join(b.dir, "chats") }
func (b *SplitFileBackend) filesDir() string     { return filepath.Join(b.dir, "files") }

// ContentPath returns the content file of a chat.
func (b *SplitFileBackend) ContentPath(id string) string {
	return filepath.Join(b.chatsDir(), fmt.Sprintf("chat_%s.json", id))
}

func checkID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("invalid id %q", id)
	}
	return nil
}

// writeFileAtomic replaces path through a temp file and rename.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (b *SplitFileBackend) loadIndex() (*metaIndex, error) {
	data, err := os.ReadFile(b.indexPath())
	if os.IsNotExist(err) {
		return &metaIndex{}, nil
	}
	if err != nil {
		return nil, err
	}
	var idx metaIndex
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return nil, &internal.ParseError{Source: "index", Key: b.indexPath(), Err: err}
	}
	return &idx, nil
}

func (b *SplitFileBackend) saveIndex(idx *metaIndex) error {
	data, err := yaml.Marshal(idx)
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}
	return writeFileAtomic(b.indexPath(), data)
}

func (b *SplitFileBackend) updateIndex(fn func(idx *metaIndex)) error {
	idx, err := b.loadIndex()
	if err != nil {
		return err
	}
	fn(idx)
	return b.saveIndex(idx)
}

func (b *SplitFileBackend) GetMeta(_ context.Context, id string) (*ChatMeta, error) {
	idx, err := b.loadIndex()
	if err != nil {
		return nil, err
	}
	for _, m := range idx.Chats {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, nil
}

func (b *SplitFileBackend) ListMetas(_ context.Context) ([]*ChatMeta, error) {
	idx, err := b.loadIndex()
	if err != nil {
		return nil, err
	}
	return idx.Chats, nil
}

func (b *SplitFileBackend) PutMeta(_ context.Context, meta *ChatMeta) error {
	return b.updateIndex(func(idx *metaIndex) {
		for i, m := range idx.Chats {
			if m.ID == meta.ID {
				idx.Chats[i] = meta
				return
			}
		}
		idx.Chats = append(idx.Chats, meta)
	})
}

func (b *SplitFileBackend) DeleteMeta(_ context.Context, id string) error {
	return b.updateIndex(func(idx *metaIndex) {
		kept := idx.Chats[:0]
		for _, m := range idx.Chats {
			if m.ID != id {
				kept = append(kept, m)
			}
		}
		idx.Chats = kept
	})
}

func (b *SplitFileBackend) GetContent(_ context.Context, id string) (*ChatContent, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(b.ContentPath(id))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var c ChatContent
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, &internal.ParseError{Source: "content", Key: id, Err: err}
	}
	return &c, nil
}

func (b *SplitFileBackend) PutContent(_ context.Context, id string, content *ChatContent) error {
	if err := checkID(id); err != nil {
		return err
	}
	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal content: %w", err)
	}
	return writeFileAtomic(b.ContentPath(id), data)
}

func (b *SplitFileBackend) DeleteContent(_ context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	if err := os.Remove(b.ContentPath(id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (b *SplitFileBackend) GetGroup(_ context.Context, id string) (*ChatGroup, error) {
	idx, err := b.loadIndex()
	if err != nil {
		return nil, err
	}
	for _, g := range idx.Groups {
		if g.ID == id {
			return g, nil
		}
	}
	return nil, nil
}

func (b *SplitFileBackend) ListGroups(_ context.Context) ([]*ChatGroup, error) {
	idx, err := b.loadIndex()
	if err != nil {
		return nil, err
	}
	return idx.Groups, nil
}

func (b *SplitFileBackend) PutGroup(_ context.Context, group *ChatGroup) error {
	return b.updateIndex(func(idx *metaIndex) {
		for i, g := range idx.Groups {
			if g.ID == group.ID {
				idx.Groups[i] = group
				return
			}
		}
		idx.Groups = append(idx.Groups, group)
	})
}

func (b *SplitFileBackend) DeleteGroup(_ context.Context, id string) error {
	return b.updateIndex(func(idx *metaIndex) {
		kept := idx.Groups[:0]
		for _, g := range idx.Groups {
			if g.ID != id {
				kept = append(kept, g)
			}
		}
		idx.Groups = kept
	})
}

func (b *SplitFileBackend) GetHierarchy(_ context.Context) (Hierarchy, error) {
	idx, err := b.loadIndex()
	if err != nil {
		return nil, err
	}
	return idx.Hierarchy, nil
}

func (b *SplitFileBackend) PutHierarchy(_ context.Context, h Hierarchy) error {
	return b.updateIndex(func(idx *metaIndex) {
		idx.Hierarchy = h
	})
}

func (b *SplitFileBackend) GetSettings(_ context.Context) (*settings.Global, error) {
	data, err := os.ReadFile(b.settingsPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var g settings.Global
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, &internal.ParseError{Source: "settings", Key: b.settingsPath(), Err: err}
	}
	return &g, nil
}

func (b *SplitFileBackend) PutSettings(_ context.Context, g settings.Global) error {
	data, err := yaml.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	return writeFileAtomic(b.settingsPath(), data)
}

func (b *SplitFileBackend) PutBlob(_ context.Context, f *File) error {
	if err := checkID(f.ID); err != nil {
		return err
	}
	base := filepath.Join(b.filesDir(), f.ID)
	if err := writeFileAtomic(base+".bin", f.Data); err != nil {
		return err
	}
	info, err := yaml.Marshal(f)
	if err != nil {
		return err
	}
	return writeFileAtomic(base+".yaml", info)
}

func (b *SplitFileBackend) GetBlob(_ context.Context, id string) (*File, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	base := filepath.Join(b.filesDir(), id)
	data, err := os.ReadFile(base + ".bin")
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	f := &File{ID: id, Size: int64(len(data))}
	if info, err := os.ReadFile(base + ".yaml"); err == nil {
		if err := yaml.Unmarshal(info, f); err != nil {
			internal.LogWarn("unreadable file info for %s: %v", id, err)
		}
	}
	f.Data = data
	return f, nil
}

// Reset rewrites the index and settings and removes every content file not
// in snap.
func (b *SplitFileBackend) Reset(ctx context.Context, snap *Snapshot) error {
	keep := make(map[string]bool, len(snap.Chats))
	idx := &metaIndex{Hierarchy: snap.Hierarchy}
	for _, c := range snap.Chats {
		content := c.ChatContent
		if err := b.PutContent(ctx, c.ID, &content); err != nil {
			return err
		}
		meta := c.ChatMeta
		idx.Chats = append(idx.Chats, &meta)
		keep[filepath.Base(b.ContentPath(c.ID))] = true
	}
	idx.Groups = append(idx.Groups, snap.Groups...)
	if err := b.saveIndex(idx); err != nil {
		return err
	}

	entries, err := os.ReadDir(b.chatsDir())
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range entries {
		if !e.IsDir() && !keep[e.Name()] {
			if err := os.Remove(filepath.Join(b.chatsDir(), e.Name())); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if snap.Settings != nil {
		errs = append(errs, b.PutSettings(ctx, *snap.Settings))
	} else if err := os.Remove(b.settingsPath()); err != nil && !os.IsNotExist(err) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (b *SplitFileBackend) Close() error { return nil }
