package generation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iksnae/chatsync/internal"
	"github.com/iksnae/chatsync/internal/bus"
	"github.com/iksnae/chatsync/internal/clock"
	"github.com/iksnae/chatsync/internal/settings"
	"github.com/iksnae/chatsync/internal/store"
	"github.com/iksnae/chatsync/internal/tree"
	"github.com/iksnae/chatsync/testutil"
)

// scripted emits its chunks, then blocks until released or cancelled.
type scripted struct {
	chunks  []string
	release chan struct{}
	err     error
	started chan struct{}
}

func newScripted(chunks ...string) *scripted {
	return &scripted{chunks: chunks, release: make(chan struct{}), started: make(chan struct{})}
}

func (s *scripted) Generate(ctx context.Context, _ Request, onChunk func(Chunk)) error {
	for _, c := range s.chunks {
		onChunk(Chunk{Content: c})
	}
	close(s.started)
	select {
	case <-s.release:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type fixture struct {
	bus    *bus.Bus
	store  *store.DocStore
	runner *Runner
	chat   *store.Chat
	node   *tree.MessageNode
	mu     sync.Mutex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{bus: bus.New()}
	f.store = store.NewMemory(f.bus)
	reg := NewRegistry(f.bus)
	t.Cleanup(func() {
		reg.Close()
		_ = f.bus.Close()
	})
	f.runner = &Runner{Registry: reg, Store: f.store, Now: func() time.Time { return testutil.FixedTime }, Lock: &f.mu}

	user := testutil.Node("u1", tree.RoleUser, "hello")
	f.node = testutil.Node("a1", tree.RoleAssistant, "")
	user.Replies.Items = []*tree.MessageNode{f.node}
	chat := testutil.NewChat("c1", "Hello", tree.MessageBranch{Items: []*tree.MessageNode{user}}, "a1")
	testutil.SeedChat(t, f.store, chat)
	f.chat = chat
	return f
}

func (f *fixture) stored(t *testing.T) *tree.MessageNode {
	t.Helper()
	c, err := f.store.LoadChat(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, c)
	n := tree.Find(&c.Root, "a1")
	require.NotNil(t, n)
	return n
}

func TestRunnerCompletes(t *testing.T) {
	f := newFixture(t)
	p := newScripted("Hel", "lo")
	close(p.release)

	updates := 0
	err := f.runner.Run(context.Background(), Job{
		Chat: f.chat, Node: f.node, Provider: p,
		OnUpdate: func() { updates++ },
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello", f.node.Content)
	assert.Equal(t, "Hello", f.stored(t).Content)
	assert.Equal(t, 3, updates)
	assert.False(t, f.runner.Registry.IsRunning("c1"))
}

func TestRunnerAbort(t *testing.T) {
	f := newFixture(t)
	p := newScripted("partial")

	h, err := f.runner.Start(context.Background(), Job{Chat: f.chat, Node: f.node, Provider: p})
	require.NoError(t, err)
	<-p.started

	f.runner.Registry.Abort("c1")
	<-h.Done()

	want := "partial\n\n" + AbortMarker
	f.mu.Lock()
	assert.Equal(t, want, f.node.Content)
	f.mu.Unlock()
	assert.Equal(t, want, f.stored(t).Content)
	assert.Empty(t, f.stored(t).Error)
}

func TestRunnerProviderError(t *testing.T) {
	f := newFixture(t)
	p := newScripted()
	p.err = errors.New("connection refused")
	close(p.release)

	err := f.runner.Run(context.Background(), Job{Chat: f.chat, Node: f.node, Provider: p})
	var genErr *internal.GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, "c1", genErr.ChatID)

	assert.Equal(t, "connection refused", f.stored(t).Error)
	assert.False(t, f.runner.Registry.IsRunning("c1"))
}

func TestRunnerChatDeletedMidStream(t *testing.T) {
	f := newFixture(t)
	p := newScripted("x")

	h, err := f.runner.Start(context.Background(), Job{Chat: f.chat, Node: f.node, Provider: p})
	require.NoError(t, err)
	<-p.started
	require.NoError(t, f.store.DeleteChat(context.Background(), "c1"))
	close(p.release)
	<-h.Done()

	c, err := f.store.LoadChat(context.Background(), "c1")
	require.NoError(t, err)
	assert.Nil(t, c, "deleted chat must not be resurrected")
}

func TestRunnerRejectsSecondStart(t *testing.T) {
	f := newFixture(t)
	p := newScripted()
	h, err := f.runner.Start(context.Background(), Job{Chat: f.chat, Node: f.node, Provider: p})
	require.NoError(t, err)
	<-p.started

	_, err = f.runner.Start(context.Background(), Job{Chat: f.chat, Node: f.node, Provider: newScripted()})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(p.release)
	<-h.Done()
}

func TestRunnerSavesWhileStreaming(t *testing.T) {
	f := newFixture(t)
	clk := clock.NewFake(testutil.FixedTime)
	f.runner.Now = clk.Now
	f.runner.PersistEvery = time.Second

	f.bus.Flush()
	var wmu sync.Mutex
	writes := 0
	unsub := f.store.Subscribe(func(e bus.Event) {
		if e.Type == bus.ChatContent {
			wmu.Lock()
			writes++
			wmu.Unlock()
		}
	})
	defer unsub()

	content := func() string {
		c, _ := f.store.LoadChat(context.Background(), "c1")
		if c == nil {
			return ""
		}
		if n := tree.Find(&c.Root, "a1"); n != nil {
			return n.Content
		}
		return ""
	}
	var seen []string
	p := ProviderFunc(func(ctx context.Context, _ Request, onChunk func(Chunk)) error {
		onChunk(Chunk{Content: "a"})
		seen = append(seen, content())
		clk.Advance(time.Second)
		onChunk(Chunk{Content: "b"})
		seen = append(seen, content())
		onChunk(Chunk{Content: "c"})
		seen = append(seen, content())
		return nil
	})
	require.NoError(t, f.runner.Run(context.Background(), Job{Chat: f.chat, Node: f.node, Provider: p}))

	assert.Equal(t, []string{"", "ab", "ab"}, seen, "partial saves follow the interval")
	assert.Equal(t, "abc", f.stored(t).Content)
	f.bus.Flush()
	wmu.Lock()
	assert.Equal(t, 2, writes, "one partial write, then the final one")
	wmu.Unlock()
}

func TestRunnerAbortAfterLastChunk(t *testing.T) {
	f := newFixture(t)
	var h *Handle
	p := ProviderFunc(func(ctx context.Context, _ Request, onChunk func(Chunk)) error {
		onChunk(Chunk{Content: "done"})
		// the answer is complete; an abort arriving now is too late
		h.Cancel()
		return nil
	})
	var err error
	f.mu.Lock()
	h, err = f.runner.Start(context.Background(), Job{Chat: f.chat, Node: f.node, Provider: p})
	f.mu.Unlock()
	require.NoError(t, err)
	<-h.Done()

	assert.Equal(t, "done", f.stored(t).Content)
	assert.Empty(t, f.stored(t).Error)
}

func TestNewRequest(t *testing.T) {
	r := settings.Resolve(
		&settings.Overrides{SystemPrompt: &settings.SystemPrompt{Behavior: settings.BehaviorAppend, Content: "be brief"}},
		nil,
		settings.Global{EndpointType: "openai", ModelID: "gpt-4o", SystemPrompt: "you are helpful"},
	)
	history := []*tree.MessageNode{
		testutil.Node("u1", tree.RoleUser, "hi"),
		testutil.Node("a1", tree.RoleAssistant, "hello"),
		testutil.Node("u2", tree.RoleUser, "bye"),
		testutil.Node("a2", tree.RoleAssistant, ""),
	}
	req := NewRequest(r, history)

	assert.Equal(t, "openai", req.EndpointType)
	assert.Equal(t, "gpt-4o", req.Model)
	var got []string
	for _, m := range req.Messages {
		got = append(got, string(m.Role)+":"+m.Content)
	}
	assert.Equal(t, "system:you are helpful|system:be brief|user:hi|assistant:hello|user:bye", strings.Join(got, "|"))
}

func TestWithAbortMarker(t *testing.T) {
	assert.Equal(t, AbortMarker, WithAbortMarker(""))
	assert.Equal(t, "abc\n\n"+AbortMarker, WithAbortMarker("abc"))
}
