package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"

	"github.com/iksnae/chatsync/internal/generation"
	"github.com/iksnae/chatsync/internal/tree"
)

// LangChain streams through a langchaingo model.
type LangChain struct {
	llm llms.Model
}

func newAnthropic(cfg Config, endpointURL, model string) (generation.Provider, error) {
	if cfg.AnthropicAPIKey == "" {
		return nil, errors.New("Anthropic API key required")
	}
	opts := []anthropic.Option{
		anthropic.WithToken(cfg.AnthropicAPIKey),
		anthropic.WithModel(model),
	}
	if endpointURL != "" {
		opts = append(opts, anthropic.WithBaseURL(endpointURL))
	}
	m, err := anthropic.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create anthropic model: %w", err)
	}
	return &LangChain{llm: m}, nil
}

func newOllama(cfg Config, endpointURL, model string) (generation.Provider, error) {
	host := endpointURL
	if host == "" {
		host = cfg.OllamaHost
	}
	opts := []ollama.Option{ollama.WithModel(model)}
	if host != "" {
		opts = append(opts, ollama.WithServerURL(host))
	}
	m, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create ollama model: %w", err)
	}
	return &LangChain{llm: m}, nil
}

func (p *LangChain) Generate(ctx context.Context, req generation.Request, onChunk func(generation.Chunk)) error {
	messages := make([]llms.MessageContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, llms.TextParts(langChainRole(m.Role), m.Content))
	}

	opts := []llms.CallOption{
		llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) > 0 {
				onChunk(generation.Chunk{Content: string(chunk)})
			}
			return ctx.Err()
		}),
	}
	opts = append(opts, callOptions(req)...)

	if _, err := p.llm.GenerateContent(ctx, messages, opts...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("generate: %w", err)
	}
	return nil
}

func callOptions(req generation.Request) []llms.CallOption {
	var opts []llms.CallOption
	if req.Model != "" {
		opts = append(opts, llms.WithModel(req.Model))
	}
	params := req.Parameters
	if params.Temperature != nil {
		opts = append(opts, llms.WithTemperature(*params.Temperature))
	}
	if params.TopP != nil {
		opts = append(opts, llms.WithTopP(*params.TopP))
	}
	if params.MaxTokens != nil {
		opts = append(opts, llms.WithMaxTokens(*params.MaxTokens))
	}
	if params.FrequencyPenalty != nil {
		opts = append(opts, llms.WithFrequencyPenalty(*params.FrequencyPenalty))
	}
	if params.PresencePenalty != nil {
		opts = append(opts, llms.WithPresencePenalty(*params.PresencePenalty))
	}
	if len(params.Stop) > 0 {
		opts = append(opts, llms.WithStopWords(params.Stop))
	}
	return opts
}

func langChainRole(r tree.Role) schema.ChatMessageType {
	switch r {
	case tree.RoleSystem:
		return schema.ChatMessageTypeSystem
	case tree.RoleAssistant:
		return schema.ChatMessageTypeAI
	default:
		return schema.ChatMessageTypeHuman
	}
}
