// Package llm connects generation requests to model endpoints.
package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/iksnae/chatsync/internal/generation"
)

// Endpoint types understood by the router.
const (
	EndpointEcho      = "echo"
	EndpointOpenAI    = "openai"
	EndpointAnthropic = "anthropic"
	EndpointOllama    = "ollama"
)

// Config carries credentials and defaults for the endpoints.
type Config struct {
	OpenAIAPIKey    string
	AnthropicAPIKey string
	OllamaHost      string
}

// Factory builds a provider for one endpoint and model.
type Factory func(cfg Config, endpointURL, model string) (generation.Provider, error)

// Router picks a provider per request from its endpoint type. It implements
// generation.Provider.
type Router struct {
	cfg Config

	mu        sync.Mutex
	factories map[string]Factory
	cache     map[string]generation.Provider
}

// NewRouter registers the built-in endpoints.
func NewRouter(cfg Config) *Router {
	r := &Router{
		cfg:       cfg,
		factories: make(map[string]Factory),
		cache:     make(map[string]generation.Provider),
	}
	r.Register(EndpointEcho, func(Config, string, string) (generation.Provider, error) {
		return &Echo{}, nil
	})
	r.Register(EndpointOpenAI, newOpenAI)
	r.Register(EndpointAnthropic, newAnthropic)
	r.Register(EndpointOllama, newOllama)
	return r
}

// Register adds or replaces an endpoint type.
func (r *Router) Register(endpointType string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[endpointType] = f
	for key := range r.cache {
		if strings.HasPrefix(key, endpointType+"|") {
			delete(r.cache, key)
		}
	}
}

// Endpoints lists the registered endpoint types.
func (r *Router) Endpoints() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Router) provider(req generation.Request) (generation.Provider, error) {
	endpoint := req.EndpointType
	if endpoint == "" {
		endpoint = EndpointEcho
	}
	key := endpoint + "|" + req.EndpointURL + "|" + req.Model

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.cache[key]; ok {
		return p, nil
	}
	f, ok := r.factories[endpoint]
	if !ok {
		return nil, fmt.Errorf("unknown endpoint type %q", endpoint)
	}
	p, err := f(r.cfg, req.EndpointURL, req.Model)
	if err != nil {
		return nil, fmt.Errorf("create %s provider: %w", endpoint, err)
	}
	r.cache[key] = p
	return p, nil
}

// Generate forwards to the provider for req.EndpointType.
func (r *Router) Generate(ctx context.Context, req generation.Request, onChunk func(generation.Chunk)) error {
	p, err := r.provider(req)
	if err != nil {
		return err
	}
	return p.Generate(ctx, req, onChunk)
}
