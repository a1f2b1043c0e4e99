package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/iksnae/chatsync/internal/store"
	"github.com/iksnae/chatsync/internal/tree"
)

// FixedTime is the timestamp used by fixtures.
var FixedTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// Node builds a message with fixed id and timestamp.
func Node(id string, role tree.Role, content string, replies ...*tree.MessageNode) *tree.MessageNode {
	return &tree.MessageNode{
		ID:        id,
		Role:      role,
		Content:   content,
		Timestamp: FixedTime,
		Replies:   tree.MessageBranch{Items: replies},
	}
}

// BranchingTree returns:
//
//	u1 -> a1 -> u2a -> a2a
//	         -> u2b -> a2b
func BranchingTree() tree.MessageBranch {
	return tree.MessageBranch{Items: []*tree.MessageNode{
		Node("u1", tree.RoleUser, "Plan a trip to Kyoto",
			Node("a1", tree.RoleAssistant, "Spring is the best season for temples.",
				Node("u2a", tree.RoleUser, "Which temples first?",
					Node("a2a", tree.RoleAssistant, "Start with Kiyomizu-dera early in the morning.")),
				Node("u2b", tree.RoleUser, "What about food?",
					Node("a2b", tree.RoleAssistant, "Try Nishiki Market for street food.")),
			)),
	}}
}

// NewChat builds a chat around root with the given leaf selected.
func NewChat(id, title string, root tree.MessageBranch, leafID string) *store.Chat {
	return &store.Chat{
		ChatMeta: store.ChatMeta{
			ID:        id,
			Title:     title,
			ModelID:   "echo",
			CreatedAt: FixedTime,
			UpdatedAt: FixedTime,
		},
		ChatContent: store.ChatContent{Root: root, CurrentLeafID: leafID},
	}
}

// SeedChat saves chat and lists it at the end of the top level.
func SeedChat(t *testing.T, p store.Provider, chat *store.Chat) {
	t.Helper()
	ctx := context.Background()
	if err := p.SaveChat(ctx, chat); err != nil {
		t.Fatalf("SaveChat(%s) error = %v", chat.ID, err)
	}
	err := p.UpdateHierarchy(ctx, func(h store.Hierarchy) store.Hierarchy {
		return append(h.RemoveChat(chat.ID), store.HierarchyEntry{Type: store.ItemChat, ID: chat.ID})
	})
	if err != nil {
		t.Fatalf("UpdateHierarchy() error = %v", err)
	}
}

// SeedGroup saves a group containing chatIDs and lists it at the end of the
// top level. The chats must already be seeded.
func SeedGroup(t *testing.T, p store.Provider, id, name string, chatIDs ...string) {
	t.Helper()
	ctx := context.Background()
	err := p.UpdateChatGroup(ctx, id, func(*store.ChatGroup) *store.ChatGroup {
		return &store.ChatGroup{ID: id, Name: name, UpdatedAt: FixedTime}
	})
	if err != nil {
		t.Fatalf("UpdateChatGroup(%s) error = %v", id, err)
	}
	for _, chatID := range chatIDs {
		err := p.UpdateChatMeta(ctx, chatID, func(m *store.ChatMeta) *store.ChatMeta {
			if m == nil {
				return nil
			}
			m.GroupID = id
			return m
		})
		if err != nil {
			t.Fatalf("UpdateChatMeta(%s) error = %v", chatID, err)
		}
	}
	err = p.UpdateHierarchy(ctx, func(h store.Hierarchy) store.Hierarchy {
		for _, chatID := range chatIDs {
			h = h.RemoveChat(chatID)
		}
		return append(h, store.HierarchyEntry{Type: store.ItemGroup, ID: id, ChatIDs: chatIDs})
	})
	if err != nil {
		t.Fatalf("UpdateHierarchy() error = %v", err)
	}
}
