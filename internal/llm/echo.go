package llm

import (
	"context"
	"strings"
	"time"

	"github.com/iksnae/chatsync/internal/generation"
	"github.com/iksnae/chatsync/internal/tree"
)

// Echo answers with the last user message, one word per chunk. It needs no
// network and is the default endpoint.
type Echo struct {
	// Delay is slept between chunks.
	Delay time.Duration
}

func (e *Echo) Generate(ctx context.Context, req generation.Request, onChunk func(generation.Chunk)) error {
	var last string
	for _, m := range req.Messages {
		if m.Role == tree.RoleUser {
			last = m.Content
		}
	}
	for _, word := range strings.SplitAfter(last, " ") {
		if err := ctx.Err(); err != nil {
			return err
		}
		if word == "" {
			continue
		}
		onChunk(generation.Chunk{Content: word})
		if e.Delay > 0 {
			select {
			case <-time.After(e.Delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}
