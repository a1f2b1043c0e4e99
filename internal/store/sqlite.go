package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/iksnae/chatsync/internal"
	"github.com/iksnae/chatsync/internal/settings"
	_ "modernc.org/sqlite"
)

const (
	kvHierarchy = "hierarchy"
	kvSettings  = "settings"
)

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS chat_meta (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		group_id TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL DEFAULT 0,
		data TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chat_content (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chat_groups (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		data TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS files (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		mime_type TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL DEFAULT 0,
		data BLOB
	)`,
}

// SQLiteBackend keeps each record as a JSON document in SQLite.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

// NewSQLiteBackend opens or creates the database at path. ":memory:" gives
// a private in-memory database.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, &internal.StorageError{Backend: "sqlite", Op: "open", Key: path, Err: err}
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA busy_timeout = 5000;")
	_, _ = db.Exec("PRAGMA journal_mode = WAL;")

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	for _, m := range sqliteMigrations {
		if _, err := db.Exec(m); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	return &SQLiteBackend{db: db, path: path}, nil
}

// NewSQLite returns a provider over a SQLite database at path.
func NewSQLite(path string, notifier Notifier) (*DocStore, error) {
	b, err := NewSQLiteBackend(path)
	if err != nil {
		return nil, err
	}
	return New(b, notifier), nil
}

func (b *SQLiteBackend) Name() string { return "sqlite" }

// DB exposes the connection for health checks.
func (b *SQLiteBackend) DB() *sql.DB { return b.db }

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func getDoc[T any](ctx context.Context, q queryer, source, query, key string) (*T, error) {
	var data string
	err := q.QueryRowContext(ctx, query, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, &internal.ParseError{Source: source, Key: key, Err: err}
	}
	return &v, nil
}

func listDocs[T any](ctx context.Context, db *sql.DB, source, query string) ([]*T, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	out := []*T{}
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		var v T
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, &internal.ParseError{Source: source, Key: id, Err: err}
		}
		out = append(out, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

func (b *SQLiteBackend) GetMeta(ctx context.Context, id string) (*ChatMeta, error) {
	return getDoc[ChatMeta](ctx, b.db, "meta", "SELECT data FROM chat_meta WHERE id = ?", id)
}

func (b *SQLiteBackend) ListMetas(ctx context.Context) ([]*ChatMeta, error) {
	return listDocs[ChatMeta](ctx, b.db, "meta", "SELECT id, data FROM chat_meta ORDER BY updated_at DESC")
}

func putMeta(ctx context.Context, q queryer, meta *ChatMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO chat_meta (id, title, group_id, updated_at, data) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title=excluded.title, group_id=excluded.group_id,
		 updated_at=excluded.updated_at, data=excluded.data`,
		meta.ID, meta.Title, meta.GroupID, meta.UpdatedAt.UnixMilli(), string(data))
	return err
}

func (b *SQLiteBackend) PutMeta(ctx context.Context, meta *ChatMeta) error {
	return putMeta(ctx, b.db, meta)
}

func (b *SQLiteBackend) DeleteMeta(ctx context.Context, id string) error {
	_, err := b.db.ExecContext(ctx, "DELETE FROM chat_meta WHERE id = ?", id)
	return err
}

func (b *SQLiteBackend) GetContent(ctx context.Context, id string) (*ChatContent, error) {
	return getDoc[ChatContent](ctx, b.db, "content", "SELECT data FROM chat_content WHERE id = ?", id)
}

func putContent(ctx context.Context, q queryer, id string, content *ChatContent) error {
	data, err := json.Marshal(content)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO chat_content (id, data) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET data=excluded.data`, id, string(data))
	return err
}

func (b *SQLiteBackend) PutContent(ctx context.Context, id string, content *ChatContent) error {
	return putContent(ctx, b.db, id, content)
}

func (b *SQLiteBackend) DeleteContent(ctx context.Context, id string) error {
	_, err := b.db.ExecContext(ctx, "DELETE FROM chat_content WHERE id = ?", id)
	return err
}

func (b *SQLiteBackend) GetGroup(ctx context.Context, id string) (*ChatGroup, error) {
	return getDoc[ChatGroup](ctx, b.db, "group", "SELECT data FROM chat_groups WHERE id = ?", id)
}

func (b *SQLiteBackend) ListGroups(ctx context.Context) ([]*ChatGroup, error) {
	return listDocs[ChatGroup](ctx, b.db, "group", "SELECT id, data FROM chat_groups")
}

func putGroup(ctx context.Context, q queryer, g *ChatGroup) error {
	data, err := json.Marshal(g)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO chat_groups (id, name, data) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, data=excluded.data`,
		g.ID, g.Name, string(data))
	return err
}

func (b *SQLiteBackend) PutGroup(ctx context.Context, g *ChatGroup) error {
	return putGroup(ctx, b.db, g)
}

func (b *SQLiteBackend) DeleteGroup(ctx context.Context, id string) error {
	_, err := b.db.ExecContext(ctx, "DELETE FROM chat_groups WHERE id = ?", id)
	return err
}

func putKV(ctx context.Context, q queryer, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, string(data))
	return err
}

func (b *SQLiteBackend) GetHierarchy(ctx context.Context) (Hierarchy, error) {
	h, err := getDoc[Hierarchy](ctx, b.db, "hierarchy", "SELECT value FROM kv WHERE key = ?", kvHierarchy)
	if err != nil || h == nil {
		return nil, err
	}
	return *h, nil
}

func (b *SQLiteBackend) PutHierarchy(ctx context.Context, h Hierarchy) error {
	if h == nil {
		h = Hierarchy{}
	}
	return putKV(ctx, b.db, kvHierarchy, h)
}

func (b *SQLiteBackend) GetSettings(ctx context.Context) (*settings.Global, error) {
	return getDoc[settings.Global](ctx, b.db, "settings", "SELECT value FROM kv WHERE key = ?", kvSettings)
}

func (b *SQLiteBackend) PutSettings(ctx context.Context, g settings.Global) error {
	return putKV(ctx, b.db, kvSettings, g)
}

func (b *SQLiteBackend) PutBlob(ctx context.Context, f *File) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO files (id, name, mime_type, size, data) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, mime_type=excluded.mime_type,
		 size=excluded.size, data=excluded.data`,
		f.ID, f.Name, f.MimeType, f.Size, f.Data)
	return err
}

func (b *SQLiteBackend) GetBlob(ctx context.Context, id string) (*File, error) {
	f := &File{ID: id}
	err := b.db.QueryRowContext(ctx,
		"SELECT name, mime_type, size, data FROM files WHERE id = ?", id).
		Scan(&f.Name, &f.MimeType, &f.Size, &f.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Reset replaces every table except files in one transaction.
func (b *SQLiteBackend) Reset(ctx context.Context, snap *Snapshot) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"chat_meta", "chat_content", "chat_groups", "kv"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	for _, c := range snap.Chats {
		if err := putContent(ctx, tx, c.ID, &c.ChatContent); err != nil {
			return err
		}
		if err := putMeta(ctx, tx, &c.ChatMeta); err != nil {
			return err
		}
	}
	for _, g := range snap.Groups {
		if err := putGroup(ctx, tx, g); err != nil {
			return err
		}
	}
	h := snap.Hierarchy
	if h == nil {
		h = Hierarchy{}
	}
	if err := putKV(ctx, tx, kvHierarchy, h); err != nil {
		return err
	}
	if snap.Settings != nil {
		if err := putKV(ctx, tx, kvSettings, *snap.Settings); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
