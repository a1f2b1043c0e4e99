// Package bus broadcasts change events and generation task signals between
// actors that share a storage backend.
package bus

import "time"

// EventType is the scope of a storage change
type EventType string

const (
	ChatContent          EventType = "chat_content"
	ChatMetaAndChatGroup EventType = "chat_meta_and_chat_group"
	Settings             EventType = "settings"
	Migration            EventType = "migration"
)

// Event is the change notification wire format. Timestamp is in
// milliseconds since the epoch.
type Event struct {
	Type      EventType `json:"type"`
	ID        string    `json:"id,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// Time returns the event timestamp as a time.Time.
func (e Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// TaskState describes a generation lifecycle signal
type TaskState string

const (
	TaskStarted TaskState = "started"
	TaskStopped TaskState = "stopped"
	TaskAbort   TaskState = "abort"
	// TaskSync asks every actor to re-announce its running tasks.
	TaskSync TaskState = "sync"
)

// TaskSignal announces generation state for a chat.
type TaskSignal struct {
	ChatID string    `json:"chatId,omitempty"`
	State  TaskState `json:"state"`
	Origin string    `json:"origin"`
}

// Envelope is what transports carry. Seq increases per origin; exactly one
// of Event and Task is set.
type Envelope struct {
	Origin string      `json:"origin"`
	Seq    uint64      `json:"seq"`
	Event  *Event      `json:"event,omitempty"`
	Task   *TaskSignal `json:"task,omitempty"`
}

// Transport moves envelopes between actors. Delivery to a subscriber must
// preserve the publish order of each origin.
type Transport interface {
	Publish(env Envelope) error
	Subscribe(fn func(Envelope)) (unsubscribe func())
	Close() error
}
