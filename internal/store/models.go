// Package store persists chats, groups, the sidebar hierarchy, settings and
// attachment blobs. Chats are split into a small meta record and a content
// record so listings never load message trees.
package store

import (
	"time"

	"github.com/iksnae/chatsync/internal/settings"
	"github.com/iksnae/chatsync/internal/tree"
)

// DefaultTitle is given to chats until their first message names them.
const DefaultTitle = "New Chat"

// ChatMeta is everything about a chat except its message tree.
type ChatMeta struct {
	ID              string              `json:"id" yaml:"id"`
	Title           string              `json:"title" yaml:"title"`
	GroupID         string              `json:"groupId,omitempty" yaml:"group_id,omitempty"`
	ModelID         string              `json:"modelId" yaml:"model_id"`
	CreatedAt       time.Time           `json:"createdAt" yaml:"created_at"`
	UpdatedAt       time.Time           `json:"updatedAt" yaml:"updated_at"`
	DebugEnabled    bool                `json:"debugEnabled" yaml:"debug_enabled"`
	Overrides       *settings.Overrides `json:"overrides,omitempty" yaml:"overrides,omitempty"`
	OriginChatID    string              `json:"originChatId,omitempty" yaml:"origin_chat_id,omitempty"`
	OriginMessageID string              `json:"originMessageId,omitempty" yaml:"origin_message_id,omitempty"`
}

// ChatContent is the message tree of a chat and its selected leaf.
type ChatContent struct {
	Root          tree.MessageBranch `json:"root" yaml:"root"`
	CurrentLeafID string             `json:"currentLeafId,omitempty" yaml:"current_leaf_id,omitempty"`
}

// Chat joins both halves.
type Chat struct {
	ChatMeta    `yaml:",inline"`
	ChatContent `yaml:",inline"`
}

// ActivePath returns the messages on the selected branch.
func (c *Chat) ActivePath() []*tree.MessageNode {
	return tree.ActivePath(&c.Root, c.CurrentLeafID)
}

// ItemType distinguishes sidebar entries
type ItemType string

const (
	ItemChat  ItemType = "chat"
	ItemGroup ItemType = "chat_group"
)

// SidebarItem is a rendered sidebar row: a chat, or a group with its chats.
type SidebarItem struct {
	Type  ItemType   `json:"type"`
	ID    string     `json:"id"`
	Chat  *ChatMeta  `json:"chat,omitempty"`
	Group *ChatGroup `json:"group,omitempty"`
}

// ChatGroup is a named folder of chats whose overrides apply to its members.
// Items is derived from the hierarchy and never persisted.
type ChatGroup struct {
	ID          string              `json:"id" yaml:"id"`
	Name        string              `json:"name" yaml:"name"`
	IsCollapsed bool                `json:"isCollapsed" yaml:"is_collapsed"`
	Items       []SidebarItem       `json:"-" yaml:"-"`
	UpdatedAt   time.Time           `json:"updatedAt" yaml:"updated_at"`
	Overrides   *settings.Overrides `json:"overrides,omitempty" yaml:"overrides,omitempty"`
}

// File is a stored attachment.
type File struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	MimeType string `json:"mimeType" yaml:"mime_type"`
	Size     int64  `json:"size" yaml:"size"`
	Data     []byte `json:"-" yaml:"-"`
}

// Snapshot is a complete copy of the visible data, used for import and
// export.
type Snapshot struct {
	Chats     []*Chat          `json:"chats" yaml:"chats"`
	Groups    []*ChatGroup     `json:"groups" yaml:"groups"`
	Hierarchy Hierarchy        `json:"hierarchy" yaml:"hierarchy"`
	Settings  *settings.Global `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// Clone returns a deep copy of m.
func (m *ChatMeta) Clone() *ChatMeta {
	if m == nil {
		return nil
	}
	c := *m
	c.Overrides = cloneOverrides(m.Overrides)
	return &c
}

// Clone returns a deep copy of c.
func (c *ChatContent) Clone() *ChatContent {
	if c == nil {
		return nil
	}
	return &ChatContent{Root: tree.Clone(c.Root), CurrentLeafID: c.CurrentLeafID}
}

// Clone returns a deep copy of c.
func (c *Chat) Clone() *Chat {
	if c == nil {
		return nil
	}
	return &Chat{ChatMeta: *c.ChatMeta.Clone(), ChatContent: *c.ChatContent.Clone()}
}

// Clone returns a deep copy of g without derived items.
func (g *ChatGroup) Clone() *ChatGroup {
	if g == nil {
		return nil
	}
	c := *g
	c.Items = nil
	c.Overrides = cloneOverrides(g.Overrides)
	return &c
}

func cloneOverrides(o *settings.Overrides) *settings.Overrides {
	if o == nil {
		return nil
	}
	c := *o
	if o.SystemPrompt != nil {
		p := *o.SystemPrompt
		c.SystemPrompt = &p
	}
	if o.LMParameters != nil {
		p := o.LMParameters.Clone()
		c.LMParameters = &p
	}
	return &c
}

// CloneGlobal deep-copies global settings.
func CloneGlobal(g settings.Global) settings.Global {
	g.LMParameters = g.LMParameters.Clone()
	return g
}
