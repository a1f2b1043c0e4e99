package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/iksnae/chatsync/internal/settings"
	"github.com/iksnae/chatsync/internal/tree"
)

var (
	// ErrNotFound is returned when a chat or group does not exist or is not
	// visible.
	ErrNotFound = errors.New("not found")
	// ErrNodeNotFound is returned when a message id is not in a chat.
	ErrNodeNotFound = errors.New("message not found")
)

const maxTitleRunes = 100

// NewChatOptions describes a chat to create.
type NewChatOptions struct {
	Title     string
	GroupID   string
	ModelID   string
	Overrides *settings.Overrides
	Now       time.Time
}

// CreateChat saves an empty chat and lists it first at the top level, or
// first inside GroupID.
func CreateChat(ctx context.Context, p Provider, opts NewChatOptions) (*Chat, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	title := opts.Title
	if title == "" {
		title = DefaultTitle
	}
	chat := &Chat{ChatMeta: ChatMeta{
		ID:        uuid.NewString(),
		Title:     title,
		GroupID:   opts.GroupID,
		ModelID:   opts.ModelID,
		CreatedAt: now,
		UpdatedAt: now,
		Overrides: opts.Overrides,
	}}
	return chat, insertChat(ctx, p, chat, func(h Hierarchy) Hierarchy {
		if opts.GroupID != "" && h.HasGroup(opts.GroupID) {
			return h.InsertChatInGroup(chat.ID, opts.GroupID, 0)
		}
		return h.PrependChat(chat.ID)
	})
}

func insertChat(ctx context.Context, p Provider, chat *Chat, place HierarchyUpdater) error {
	// The group is only known once the hierarchy is read, so the meta is
	// corrected after placement.
	saved := chat.GroupID
	if err := p.SaveChat(ctx, chat); err != nil {
		return err
	}
	var groupID string
	err := p.UpdateHierarchy(ctx, func(h Hierarchy) Hierarchy {
		next := place(h)
		groupID, _ = next.GroupOf(chat.ID)
		return next
	})
	if err != nil {
		return err
	}
	chat.GroupID = groupID
	if groupID != saved {
		return p.UpdateChatMeta(ctx, chat.ID, func(m *ChatMeta) *ChatMeta {
			if m == nil {
				return nil
			}
			m.GroupID = groupID
			return m
		})
	}
	return nil
}

// ForkChat copies the path from the root of sourceID to nodeID into a new
// chat. The copy is listed directly above a top-level source, or first in
// the source's group. The source is not modified.
func ForkChat(ctx context.Context, p Provider, sourceID, nodeID string, now time.Time) (*Chat, error) {
	src, err := p.LoadChat(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("fork %s: %w", sourceID, ErrNotFound)
	}
	path, ok := tree.PathTo(&src.Root, nodeID)
	if !ok {
		return nil, fmt.Errorf("fork %s at %s: %w", sourceID, nodeID, ErrNodeNotFound)
	}
	if now.IsZero() {
		now = time.Now()
	}
	meta := src.ChatMeta.Clone()
	fork := &Chat{
		ChatMeta: *meta,
		ChatContent: ChatContent{
			Root:          tree.LinearBranch(path),
			CurrentLeafID: nodeID,
		},
	}
	fork.ID = uuid.NewString()
	fork.CreatedAt = now
	fork.UpdatedAt = now
	fork.OriginChatID = sourceID
	fork.OriginMessageID = nodeID

	err = insertChat(ctx, p, fork, func(h Hierarchy) Hierarchy {
		if groupID, found := h.GroupOf(sourceID); found && groupID != "" {
			return h.InsertChatInGroup(fork.ID, groupID, 0)
		}
		return h.InsertChatBefore(fork.ID, sourceID)
	})
	if err != nil {
		return nil, err
	}
	return fork, nil
}

// DeriveTitle turns a first user message into a chat title.
func DeriveTitle(message string) string {
	line := strings.TrimSpace(message)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	line = strings.Trim(line, "\"'`“”‘’")
	line = strings.TrimSpace(line)
	if utf8.RuneCountInString(line) > maxTitleRunes {
		line = string([]rune(line)[:maxTitleRunes])
	}
	if line == "" {
		return DefaultTitle
	}
	return line
}

// IsUntitled reports whether a chat still carries a placeholder title.
func IsUntitled(title string) bool {
	return title == "" || title == DefaultTitle
}

// ChatHits are the search results for one chat.
type ChatHits struct {
	ChatID     string       `json:"chatId"`
	Title      string       `json:"title"`
	TitleMatch bool         `json:"titleMatch"`
	Matches    []tree.Match `json:"matches"`
}

// SearchChats runs a keyword search over the titles and messages of every
// visible chat.
func SearchChats(ctx context.Context, p Provider, query string) ([]ChatHits, error) {
	keywords := tree.Keywords(query)
	if len(keywords) == 0 {
		return nil, nil
	}
	metas, err := p.ListChats(ctx)
	if err != nil {
		return nil, err
	}
	var out []ChatHits
	for _, m := range metas {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chat, err := p.LoadChat(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		if chat == nil {
			continue
		}
		hits := ChatHits{
			ChatID:     m.ID,
			Title:      m.Title,
			TitleMatch: tree.MatchesAll(m.Title, keywords),
			Matches:    tree.SearchTree(&chat.Root, query),
		}
		if hits.TitleMatch || len(hits.Matches) > 0 {
			out = append(out, hits)
		}
	}
	return out, nil
}

// SampleChat builds a small demo chat with an edited question, so both
// versions of the branch can be browsed.
func SampleChat(now time.Time) *Chat {
	q1 := tree.NewNode(tree.RoleUser, "What is a goroutine?", now)
	a1 := tree.NewNode(tree.RoleAssistant,
		"A goroutine is a function running concurrently with other goroutines in the same address space. Start one with the go keyword.", now)
	a1.ModelID = "sample"
	q2a := tree.NewNode(tree.RoleUser, "How do goroutines communicate?", now)
	a2a := tree.NewNode(tree.RoleAssistant,
		"Mostly through channels: typed conduits you send values into and receive values from.", now)
	a2a.ModelID = "sample"
	q2b := tree.NewNode(tree.RoleUser, "How many goroutines can I start?", now)
	a2b := tree.NewNode(tree.RoleAssistant,
		"Hundreds of thousands is common. Each starts with a small stack that grows as needed.", now)
	a2b.ModelID = "sample"

	tree.AppendChild(&q2a.Replies, a2a)
	tree.AppendChild(&q2b.Replies, a2b)
	tree.AppendChild(&a1.Replies, q2a)
	tree.AppendChild(&a1.Replies, q2b)
	tree.AppendChild(&q1.Replies, a1)

	chat := &Chat{
		ChatMeta: ChatMeta{
			ID:        uuid.NewString(),
			Title:     "Sample: goroutines",
			ModelID:   "sample",
			CreatedAt: now,
			UpdatedAt: now,
		},
		ChatContent: ChatContent{CurrentLeafID: a2b.ID},
	}
	tree.AppendChild(&chat.Root, q1)
	return chat
}

// SaveSampleChat stores SampleChat at the top of the sidebar.
func SaveSampleChat(ctx context.Context, p Provider, now time.Time) (*Chat, error) {
	chat := SampleChat(now)
	return chat, insertChat(ctx, p, chat, func(h Hierarchy) Hierarchy {
		return h.PrependChat(chat.ID)
	})
}
