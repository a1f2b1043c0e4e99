package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sashabaranov/go-openai"

	"github.com/iksnae/chatsync/internal/generation"
	"github.com/iksnae/chatsync/internal/tree"
)

// OpenAI streams from the chat completions API or any compatible server.
type OpenAI struct {
	client *openai.Client
	model  string
}

func newOpenAI(cfg Config, endpointURL, model string) (generation.Provider, error) {
	// empty keys are allowed for local compatible servers
	clientConfig := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if endpointURL != "" {
		clientConfig.BaseURL = endpointURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(clientConfig), model: model}, nil
}

func (p *OpenAI) Generate(ctx context.Context, req generation.Request, onChunk func(generation.Chunk)) error {
	stream, err := p.client.CreateChatCompletionStream(ctx, p.request(req))
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("stream error: %w", err)
		}
		if len(resp.Choices) > 0 && resp.Choices[0].Delta.Content != "" {
			onChunk(generation.Chunk{Content: resp.Choices[0].Delta.Content})
		}
	}
}

func (p *OpenAI) request(req generation.Request) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = p.model
	}
	out := openai.ChatCompletionRequest{
		Model:  model,
		Stream: true,
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, openai.ChatCompletionMessage{
			Role:    openAIRole(m.Role),
			Content: m.Content,
		})
	}
	params := req.Parameters
	if params.Temperature != nil {
		out.Temperature = float32(*params.Temperature)
	}
	if params.TopP != nil {
		out.TopP = float32(*params.TopP)
	}
	if params.MaxTokens != nil {
		out.MaxTokens = *params.MaxTokens
	}
	if params.FrequencyPenalty != nil {
		out.FrequencyPenalty = float32(*params.FrequencyPenalty)
	}
	if params.PresencePenalty != nil {
		out.PresencePenalty = float32(*params.PresencePenalty)
	}
	out.Stop = params.Stop
	return out
}

func openAIRole(r tree.Role) string {
	switch r {
	case tree.RoleSystem:
		return openai.ChatMessageRoleSystem
	case tree.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}
