package store

// HierarchyEntry is a top-level sidebar slot: a chat, or a group listing
// its chats in order.
type HierarchyEntry struct {
	Type    ItemType `json:"type" yaml:"type"`
	ID      string   `json:"id" yaml:"id"`
	ChatIDs []string `json:"chat_ids,omitempty" yaml:"chat_ids,omitempty"`
}

// Hierarchy orders the sidebar and decides visibility. Anything not listed
// here is an orphan. All methods return a modified copy.
type Hierarchy []HierarchyEntry

// Clone deep-copies h.
func (h Hierarchy) Clone() Hierarchy {
	out := make(Hierarchy, len(h))
	for i, e := range h {
		out[i] = e
		if e.ChatIDs != nil {
			out[i].ChatIDs = append([]string(nil), e.ChatIDs...)
		}
	}
	return out
}

// ChatIDs lists every visible chat id in sidebar order.
func (h Hierarchy) ChatIDs() []string {
	var ids []string
	for _, e := range h {
		switch e.Type {
		case ItemChat:
			ids = append(ids, e.ID)
		case ItemGroup:
			ids = append(ids, e.ChatIDs...)
		}
	}
	return ids
}

// GroupIDs lists visible group ids in order.
func (h Hierarchy) GroupIDs() []string {
	var ids []string
	for _, e := range h {
		if e.Type == ItemGroup {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// HasChat reports whether chatID is visible.
func (h Hierarchy) HasChat(chatID string) bool {
	_, found := h.GroupOf(chatID)
	return found
}

// HasGroup reports whether groupID is visible.
func (h Hierarchy) HasGroup(groupID string) bool {
	return h.indexOf(ItemGroup, groupID) >= 0
}

// GroupOf returns the group holding chatID; "" means top level.
func (h Hierarchy) GroupOf(chatID string) (groupID string, found bool) {
	for _, e := range h {
		switch e.Type {
		case ItemChat:
			if e.ID == chatID {
				return "", true
			}
		case ItemGroup:
			for _, id := range e.ChatIDs {
				if id == chatID {
					return e.ID, true
				}
			}
		}
	}
	return "", false
}

func (h Hierarchy) indexOf(t ItemType, id string) int {
	for i, e := range h {
		if e.Type == t && e.ID == id {
			return i
		}
	}
	return -1
}

// RemoveChat drops chatID wherever it appears.
func (h Hierarchy) RemoveChat(chatID string) Hierarchy {
	out := make(Hierarchy, 0, len(h))
	for _, e := range h.Clone() {
		switch e.Type {
		case ItemChat:
			if e.ID == chatID {
				continue
			}
		case ItemGroup:
			kept := make([]string, 0, len(e.ChatIDs))
			for _, id := range e.ChatIDs {
				if id != chatID {
					kept = append(kept, id)
				}
			}
			e.ChatIDs = kept
		}
		out = append(out, e)
	}
	return out
}

// PrependChat places chatID first at the top level.
func (h Hierarchy) PrependChat(chatID string) Hierarchy {
	h = h.RemoveChat(chatID)
	return append(Hierarchy{{Type: ItemChat, ID: chatID}}, h...)
}

// InsertChatBefore places chatID directly above the top-level entry for
// beforeID, or first when beforeID is not a top-level chat.
func (h Hierarchy) InsertChatBefore(chatID, beforeID string) Hierarchy {
	h = h.RemoveChat(chatID)
	idx := h.indexOf(ItemChat, beforeID)
	if idx < 0 {
		idx = 0
	}
	out := make(Hierarchy, 0, len(h)+1)
	out = append(out, h[:idx]...)
	out = append(out, HierarchyEntry{Type: ItemChat, ID: chatID})
	return append(out, h[idx:]...)
}

// InsertChatInGroup places chatID at position index inside groupID. Out of
// range indexes append. When the group is not listed the chat goes to the
// top level.
func (h Hierarchy) InsertChatInGroup(chatID, groupID string, index int) Hierarchy {
	h = h.RemoveChat(chatID)
	gi := h.indexOf(ItemGroup, groupID)
	if gi < 0 {
		return h.PrependChat(chatID)
	}
	ids := h[gi].ChatIDs
	if index < 0 || index > len(ids) {
		index = len(ids)
	}
	next := make([]string, 0, len(ids)+1)
	next = append(next, ids[:index]...)
	next = append(next, chatID)
	h[gi].ChatIDs = append(next, ids[index:]...)
	return h
}

// MoveChat moves chatID to the top of groupID, or to the top level when
// groupID is empty.
func (h Hierarchy) MoveChat(chatID, groupID string) Hierarchy {
	if groupID == "" {
		return h.PrependChat(chatID)
	}
	return h.InsertChatInGroup(chatID, groupID, 0)
}

// AddGroup places an empty group first.
func (h Hierarchy) AddGroup(groupID string) Hierarchy {
	if h.HasGroup(groupID) {
		return h.Clone()
	}
	return append(Hierarchy{{Type: ItemGroup, ID: groupID, ChatIDs: []string{}}}, h.Clone()...)
}

// RemoveGroup drops the group entry and every chat listed in it.
func (h Hierarchy) RemoveGroup(groupID string) Hierarchy {
	out := make(Hierarchy, 0, len(h))
	for _, e := range h.Clone() {
		if e.Type == ItemGroup && e.ID == groupID {
			continue
		}
		out = append(out, e)
	}
	return out
}

// DissolveGroup replaces the group entry with its chats, as top-level
// entries at the group's position.
func (h Hierarchy) DissolveGroup(groupID string) Hierarchy {
	out := make(Hierarchy, 0, len(h))
	for _, e := range h.Clone() {
		if e.Type == ItemGroup && e.ID == groupID {
			for _, id := range e.ChatIDs {
				out = append(out, HierarchyEntry{Type: ItemChat, ID: id})
			}
			continue
		}
		out = append(out, e)
	}
	return out
}

// BuildSidebar resolves the hierarchy against loaded records. Entries whose
// record is missing are skipped.
func BuildSidebar(h Hierarchy, metas map[string]*ChatMeta, groups map[string]*ChatGroup) []SidebarItem {
	items := make([]SidebarItem, 0, len(h))
	for _, e := range h {
		switch e.Type {
		case ItemChat:
			if m, ok := metas[e.ID]; ok {
				items = append(items, SidebarItem{Type: ItemChat, ID: e.ID, Chat: m})
			}
		case ItemGroup:
			g, ok := groups[e.ID]
			if !ok {
				continue
			}
			g = g.Clone()
			g.Items = make([]SidebarItem, 0, len(e.ChatIDs))
			for _, id := range e.ChatIDs {
				if m, ok := metas[id]; ok {
					g.Items = append(g.Items, SidebarItem{Type: ItemChat, ID: id, Chat: m})
				}
			}
			items = append(items, SidebarItem{Type: ItemGroup, ID: e.ID, Group: g})
		}
	}
	return items
}
