package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/iksnae/chatsync/internal"
	"github.com/iksnae/chatsync/internal/bus"
	"github.com/iksnae/chatsync/internal/llm"
	"github.com/iksnae/chatsync/internal/reconcile"
	"github.com/iksnae/chatsync/internal/store"
)

// app is one actor: a storage provider, its bus, an optional hub
// connection and the reconciling store on top.
type app struct {
	bus    *bus.Bus
	docs   *store.DocStore
	hub    *bus.WSTransport
	models *llm.Router
	store  *reconcile.Store
}

// openApp wires an actor from the loaded config.
func openApp(ctx context.Context) (*app, error) {
	var opts []bus.Option
	if cfg.ActorName != "" {
		opts = append(opts, bus.WithOrigin(cfg.ActorName))
	}
	a := &app{bus: bus.New(opts...)}

	if cfg.HubURL != "" {
		t, err := bus.DialWebSocket(ctx, cfg.HubURL)
		if err != nil {
			// Offline is fine, this actor just will not see others.
			internal.LogWarn("sync hub unavailable at %s: %v", cfg.HubURL, err)
		} else {
			a.hub = t
			a.bus.Attach(t)
		}
	}

	docs, err := store.Open(cfg.Backend, cfg.DataDir, a.bus)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Backend, err)
	}
	a.docs = docs
	a.models = llm.NewRouter(llm.Config{
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		OllamaHost:      cfg.OllamaHost,
	})

	s, err := reconcile.New(reconcile.Options{
		Provider:     docs,
		Signals:      a.bus,
		Models:       a.models,
		Debounce:     cfg.Debounce,
		MaxDebounce:  cfg.MaxDebounce,
		PersistEvery: cfg.PersistEvery,
		OnError: func(err error) {
			internal.LogError("sync: %v", err)
		},
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.store = s
	if err := s.Init(ctx); err != nil {
		a.close()
		return nil, err
	}
	internal.LogDebug("actor %s opened %s storage at %s", a.bus.Origin(), cfg.Backend, cfg.DataDir)
	return a, nil
}

func (a *app) close() error {
	if a.store != nil {
		a.store.Dispose()
	}
	// let queued events reach the hub before disconnecting
	a.bus.Flush()
	var errs []error
	errs = append(errs, a.bus.Close())
	if a.hub != nil {
		errs = append(errs, a.hub.Close())
	}
	if a.docs != nil {
		errs = append(errs, a.docs.Close())
	}
	return errors.Join(errs...)
}

// withApp opens an actor, runs fn and closes the actor again.
func withApp(ctx context.Context, fn func(*app) error) (err error) {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(a)
}
