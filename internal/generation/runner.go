package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/iksnae/chatsync/internal"
	"github.com/iksnae/chatsync/internal/settings"
	"github.com/iksnae/chatsync/internal/store"
	"github.com/iksnae/chatsync/internal/tree"
)

// AbortMarker is appended to the content of an aborted assistant message.
const AbortMarker = "[Generation Aborted]"

// Message is one entry of the conversation sent to a model.
type Message struct {
	Role    tree.Role
	Content string
}

// Request describes a completion call.
type Request struct {
	EndpointType string
	EndpointURL  string
	Model        string
	Messages     []Message
	Parameters   settings.LMParameters
}

// Chunk is a streamed piece of the answer.
type Chunk struct {
	Content  string
	Thinking string
}

// Provider streams a completion. It must return promptly once ctx is done.
type Provider interface {
	Generate(ctx context.Context, req Request, onChunk func(Chunk)) error
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request, onChunk func(Chunk)) error

func (f ProviderFunc) Generate(ctx context.Context, req Request, onChunk func(Chunk)) error {
	return f(ctx, req, onChunk)
}

// NewRequest builds a request from resolved settings and the messages that
// precede the answer. Empty messages are skipped.
func NewRequest(r settings.Resolved, history []*tree.MessageNode) Request {
	req := Request{
		EndpointType: r.EndpointType,
		EndpointURL:  r.EndpointURL,
		Model:        r.ModelID,
		Parameters:   r.LMParameters,
	}
	for _, p := range r.SystemPromptMessages {
		req.Messages = append(req.Messages, Message{Role: tree.RoleSystem, Content: p})
	}
	for _, n := range history {
		if n.Content == "" {
			continue
		}
		req.Messages = append(req.Messages, Message{Role: n.Role, Content: n.Content})
	}
	return req
}

// WithAbortMarker appends AbortMarker after a blank line.
func WithAbortMarker(content string) string {
	if content == "" {
		return AbortMarker
	}
	return content + "\n\n" + AbortMarker
}

// Job is one generation to run.
type Job struct {
	// Chat is the live in-memory chat. Node must belong to its tree and be
	// persisted already.
	Chat     *store.Chat
	Node     *tree.MessageNode
	Request  Request
	Provider Provider
	// OnUpdate runs after every chunk and once more before the handle ends.
	OnUpdate func()
}

// Runner streams jobs into the tree and persists the result.
type Runner struct {
	Registry *Registry
	Store    store.Provider
	Now      func() time.Time
	// Lock guards Job.Chat. It is held while chunks are applied.
	Lock sync.Locker
	// PersistEvery saves partial content while streaming. Zero saves only
	// the final result.
	PersistEvery time.Duration
}

// Start begins a generation in the background.
func (r *Runner) Start(ctx context.Context, job Job) (*Handle, error) {
	if err := job.check(); err != nil {
		return nil, err
	}
	h, err := r.Registry.Begin(ctx, job.Chat.ID, job.Chat)
	if err != nil {
		return nil, err
	}
	r.launch(ctx, h, job)
	return h, nil
}

// Launch runs job on h, a handle the caller claimed with Registry.Begin
// before changing the tree. On error h is left to the caller to End.
func (r *Runner) Launch(ctx context.Context, h *Handle, job Job) error {
	if err := job.check(); err != nil {
		return err
	}
	if h == nil || h.ChatID != job.Chat.ID {
		return fmt.Errorf("generation handle does not belong to chat %s", job.Chat.ID)
	}
	r.launch(ctx, h, job)
	return nil
}

func (job Job) check() error {
	if job.Chat == nil || job.Node == nil || job.Provider == nil {
		return errors.New("generation job is incomplete")
	}
	return nil
}

func (r *Runner) launch(ctx context.Context, h *Handle, job Job) {
	internal.SafeGo("generation "+job.Chat.ID, func() {
		r.run(context.WithoutCancel(ctx), h, job)
	})
}

// Run is Start followed by waiting for the end.
func (r *Runner) Run(ctx context.Context, job Job) error {
	h, err := r.Start(ctx, job)
	if err != nil {
		return err
	}
	<-h.Done()
	r.lock()
	defer r.unlock()
	if job.Node.Error != "" {
		return &internal.GenerationError{ChatID: job.Chat.ID, Err: errors.New(job.Node.Error)}
	}
	return nil
}

func (r *Runner) run(ctx context.Context, h *Handle, job Job) {
	defer func() {
		if job.OnUpdate != nil {
			job.OnUpdate()
		}
		r.Registry.End(h.ChatID)
	}()

	var lastSave time.Time
	if r.PersistEvery > 0 {
		lastSave = r.now()
	}
	err := job.Provider.Generate(h.Context(), job.Request, func(c Chunk) {
		r.lock()
		job.Node.Content += c.Content
		job.Node.Thinking += c.Thinking
		r.unlock()
		if job.OnUpdate != nil {
			job.OnUpdate()
		}
		if r.PersistEvery > 0 && r.now().Sub(lastSave) >= r.PersistEvery {
			lastSave = r.now()
			if err := r.persist(ctx, job); err != nil {
				internal.LogWarn("partial save of chat %s failed: %v", h.ChatID, err)
			}
		}
	})

	r.lock()
	switch {
	case err == nil:
		// an abort after the last chunk changes nothing
	case h.IsCancelled() || errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled):
		job.Node.Content = WithAbortMarker(job.Node.Content)
		internal.LogInfo("generation for chat %s aborted", h.ChatID)
	default:
		job.Node.Error = err.Error()
		internal.LogError("generation for chat %s failed: %v", h.ChatID, err)
	}
	r.unlock()

	if err := r.persist(ctx, job); err != nil {
		internal.LogError("%v", &internal.GenerationError{ChatID: h.ChatID, Err: err})
		return
	}
	err = r.Store.UpdateChatMeta(ctx, h.ChatID, func(m *store.ChatMeta) *store.ChatMeta {
		if m == nil {
			return nil
		}
		m.UpdatedAt = r.now()
		return m
	})
	if err != nil {
		internal.LogError("%v", &internal.GenerationError{ChatID: h.ChatID, Err: err})
	}
}

// persist copies the streamed fields into the stored tree. A chat or node
// deleted meanwhile is left alone.
func (r *Runner) persist(ctx context.Context, job Job) error {
	r.lock()
	id := job.Node.ID
	content, thinking, failure := job.Node.Content, job.Node.Thinking, job.Node.Error
	r.unlock()

	return r.Store.UpdateChatContent(ctx, job.Chat.ID, func(c *store.ChatContent) *store.ChatContent {
		if c == nil {
			return nil
		}
		n := tree.Find(&c.Root, id)
		if n == nil {
			return nil
		}
		n.Content, n.Thinking, n.Error = content, thinking, failure
		return c
	})
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) lock() {
	if r.Lock != nil {
		r.Lock.Lock()
	}
}

func (r *Runner) unlock() {
	if r.Lock != nil {
		r.Lock.Unlock()
	}
}

// Describe summarizes a request for debug logs.
func Describe(req Request) string {
	return fmt.Sprintf("%s/%s (%d messages)", req.EndpointType, req.Model, len(req.Messages))
}
