package export

import (
	"time"

	"github.com/iksnae/chatsync/internal/store"
	"github.com/iksnae/chatsync/internal/tree"
)

// Transcript is the selected branch of a chat, flattened for export.
type Transcript struct {
	ID           string    `json:"id" yaml:"id"`
	Title        string    `json:"title" yaml:"title"`
	GroupID      string    `json:"groupId,omitempty" yaml:"group_id,omitempty"`
	ModelID      string    `json:"modelId,omitempty" yaml:"model_id,omitempty"`
	OriginChatID string    `json:"originChatId,omitempty" yaml:"origin_chat_id,omitempty"`
	CreatedAt    time.Time `json:"createdAt" yaml:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" yaml:"updated_at"`
	Messages     []Message `json:"messages" yaml:"messages"`
}

// Message is one exported message. Version and Versions are 1-based and
// only set when the message has siblings.
type Message struct {
	ID          string    `json:"id" yaml:"id"`
	Role        tree.Role `json:"role" yaml:"role"`
	Content     string    `json:"content" yaml:"content"`
	Thinking    string    `json:"thinking,omitempty" yaml:"thinking,omitempty"`
	Error       string    `json:"error,omitempty" yaml:"error,omitempty"`
	ModelID     string    `json:"modelId,omitempty" yaml:"model_id,omitempty"`
	Timestamp   time.Time `json:"timestamp" yaml:"timestamp"`
	Version     int       `json:"version,omitempty" yaml:"version,omitempty"`
	Versions    int       `json:"versions,omitempty" yaml:"versions,omitempty"`
	Attachments []string  `json:"attachments,omitempty" yaml:"attachments,omitempty"`
}

// NewTranscript flattens the active path of chat.
func NewTranscript(chat *store.Chat) *Transcript {
	t := &Transcript{
		ID:           chat.ID,
		Title:        chat.Title,
		GroupID:      chat.GroupID,
		ModelID:      chat.ModelID,
		OriginChatID: chat.OriginChatID,
		CreatedAt:    chat.CreatedAt,
		UpdatedAt:    chat.UpdatedAt,
		Messages:     []Message{},
	}
	for _, n := range chat.ActivePath() {
		m := Message{
			ID:        n.ID,
			Role:      n.Role,
			Content:   n.Content,
			Thinking:  n.Thinking,
			Error:     n.Error,
			ModelID:   n.ModelID,
			Timestamp: n.Timestamp,
		}
		if index, total := tree.SiblingInfo(&chat.Root, n.ID); total > 1 {
			m.Version, m.Versions = index+1, total
		}
		for _, a := range n.Attachments {
			m.Attachments = append(m.Attachments, a.Name)
		}
		t.Messages = append(t.Messages, m)
	}
	return t
}
