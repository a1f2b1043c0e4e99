// Package tree implements the branching message tree: every message owns an
// ordered list of alternative continuations, and a single leaf id selects
// the active conversation through it.
package tree

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Attachment references a stored blob by its content id
type Attachment struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	MimeType string `json:"mimeType,omitempty" yaml:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty" yaml:"size,omitempty"`
}

// MessageNode is one message plus all of its continuations
type MessageNode struct {
	ID          string        `json:"id" yaml:"id"`
	Role        Role          `json:"role" yaml:"role"`
	Content     string        `json:"content" yaml:"content"`
	Timestamp   time.Time     `json:"timestamp" yaml:"timestamp"`
	Thinking    string        `json:"thinking,omitempty" yaml:"thinking,omitempty"`
	ModelID     string        `json:"modelId,omitempty" yaml:"model_id,omitempty"`
	Error       string        `json:"error,omitempty" yaml:"error,omitempty"`
	Attachments []Attachment  `json:"attachments,omitempty" yaml:"attachments,omitempty"`
	Replies     MessageBranch `json:"replies" yaml:"replies"`
}

// MessageBranch holds sibling versions in creation order. Index 0 is the
// first version.
type MessageBranch struct {
	Items []*MessageNode `json:"items" yaml:"items"`
}

// NewNode creates a message with a fresh id.
func NewNode(role Role, content string, ts time.Time) *MessageNode {
	return &MessageNode{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: ts,
	}
}

// Last returns the most recently created sibling, or nil.
func (b *MessageBranch) Last() *MessageNode {
	if b == nil || len(b.Items) == 0 {
		return nil
	}
	return b.Items[len(b.Items)-1]
}

// Len returns the number of siblings.
func (b *MessageBranch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Items)
}

// ActivePath returns the nodes from the root down to leafID. When leafID is
// empty or not in the tree it follows the last sibling at every level.
func ActivePath(root *MessageBranch, leafID string) []*MessageNode {
	if root.Len() == 0 {
		return []*MessageNode{}
	}
	if leafID != "" {
		if path, ok := PathTo(root, leafID); ok {
			return path
		}
	}
	path := []*MessageNode{}
	for n := root.Last(); n != nil; n = n.Replies.Last() {
		path = append(path, n)
	}
	return path
}

// PathTo returns the root-to-node path for id.
func PathTo(root *MessageBranch, id string) ([]*MessageNode, bool) {
	if root == nil || id == "" {
		return nil, false
	}
	var path []*MessageNode
	var visit func(b *MessageBranch) bool
	visit = func(b *MessageBranch) bool {
		for _, n := range b.Items {
			path = append(path, n)
			if n.ID == id || visit(&n.Replies) {
				return true
			}
			path = path[:len(path)-1]
		}
		return false
	}
	if !visit(root) {
		return nil, false
	}
	return path, true
}

// Find returns the node with id, or nil.
func Find(root *MessageBranch, id string) *MessageNode {
	var found *MessageNode
	Walk(root, func(n *MessageNode, _ int) bool {
		if n.ID == id {
			found = n
			return false
		}
		return true
	})
	return found
}

// ParentBranch returns the branch that holds id and its index in it.
func ParentBranch(root *MessageBranch, id string) (*MessageBranch, int) {
	if root == nil {
		return nil, -1
	}
	for i, n := range root.Items {
		if n.ID == id {
			return root, i
		}
		if b, idx := ParentBranch(&n.Replies, id); b != nil {
			return b, idx
		}
	}
	return nil, -1
}

// AppendChild adds node as the newest continuation in branch.
func AppendChild(branch *MessageBranch, node *MessageNode) {
	branch.Items = append(branch.Items, node)
}

// CreateVersion adds node as a new sibling of nodeID. The new version is
// appended so it becomes the last-created one at that position.
func CreateVersion(root *MessageBranch, nodeID string, node *MessageNode) bool {
	b, idx := ParentBranch(root, nodeID)
	if b == nil || idx < 0 {
		return false
	}
	AppendChild(b, node)
	return true
}

// DeepestLast follows the newest continuation from n down to a leaf.
func DeepestLast(n *MessageNode) *MessageNode {
	if n == nil {
		return nil
	}
	for n.Replies.Len() > 0 {
		n = n.Replies.Last()
	}
	return n
}

// Walk visits every node depth-first in sibling order until fn returns false.
func Walk(root *MessageBranch, fn func(n *MessageNode, depth int) bool) {
	var visit func(b *MessageBranch, depth int) bool
	visit = func(b *MessageBranch, depth int) bool {
		for _, n := range b.Items {
			if !fn(n, depth) || !visit(&n.Replies, depth+1) {
				return false
			}
		}
		return true
	}
	if root != nil {
		visit(root, 0)
	}
}

// Count returns the number of nodes in the tree.
func Count(root *MessageBranch) int {
	count := 0
	Walk(root, func(*MessageNode, int) bool {
		count++
		return true
	})
	return count
}

// Branches lists every root-to-leaf path.
func Branches(root *MessageBranch) [][]*MessageNode {
	var out [][]*MessageNode
	var visit func(b *MessageBranch, prefix []*MessageNode)
	visit = func(b *MessageBranch, prefix []*MessageNode) {
		for _, n := range b.Items {
			path := append(append([]*MessageNode{}, prefix...), n)
			if n.Replies.Len() == 0 {
				out = append(out, path)
				continue
			}
			visit(&n.Replies, path)
		}
	}
	if root != nil {
		visit(root, nil)
	}
	return out
}

// SiblingInfo reports the zero-based version index of id and how many
// versions exist at its position.
func SiblingInfo(root *MessageBranch, id string) (index, total int) {
	b, idx := ParentBranch(root, id)
	if b == nil {
		return -1, 0
	}
	return idx, len(b.Items)
}

// CloneNode deep-copies n including its replies.
func CloneNode(n *MessageNode) *MessageNode {
	if n == nil {
		return nil
	}
	c := *n
	if n.Attachments != nil {
		c.Attachments = append([]Attachment(nil), n.Attachments...)
	}
	c.Replies = Clone(n.Replies)
	return &c
}

// Clone deep-copies a branch.
func Clone(b MessageBranch) MessageBranch {
	if b.Items == nil {
		return MessageBranch{}
	}
	out := MessageBranch{Items: make([]*MessageNode, len(b.Items))}
	for i, n := range b.Items {
		out.Items[i] = CloneNode(n)
	}
	return out
}

// LinearBranch copies path into a single-version chain, dropping any
// siblings and continuations not on the path.
func LinearBranch(path []*MessageNode) MessageBranch {
	var root MessageBranch
	branch := &root
	for _, n := range path {
		c := *n
		if n.Attachments != nil {
			c.Attachments = append([]Attachment(nil), n.Attachments...)
		}
		c.Replies = MessageBranch{}
		AppendChild(branch, &c)
		branch = &c.Replies
	}
	return root
}
