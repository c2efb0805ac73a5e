package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/omnireply/omnireply/internal/completion"
	"github.com/omnireply/omnireply/internal/model"
)

// Provider calls the OpenAI chat completions API.
type Provider struct {
	client openai.Client
}

func New(apiKey string) *Provider {
	return &Provider{client: openai.NewClient(option.WithAPIKey(apiKey))}
}

func (p *Provider) Complete(ctx context.Context, systemPrompt string, msgs []completion.Message, params completion.Params) (*completion.Result, error) {
	parts := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if systemPrompt != "" {
		parts = append(parts, openai.SystemMessage(systemPrompt))
	}
	for _, m := range msgs {
		switch m.Role {
		case model.RoleAssistant:
			parts = append(parts, openai.AssistantMessage(m.Content))
		case model.RoleSystem:
			parts = append(parts, openai.SystemMessage(m.Content))
		default:
			parts = append(parts, openai.UserMessage(m.Content))
		}
	}

	req := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(params.Model),
		Messages: parts,
	}
	if params.MaxTokens > 0 {
		req.MaxTokens = openai.Int(int64(params.MaxTokens))
	}
	if params.Temperature > 0 {
		req.Temperature = openai.Float(params.Temperature)
	}

	resp, err := p.client.Chat.Completions.New(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("openai returned no content")
	}
	return &completion.Result{
		Content:    resp.Choices[0].Message.Content,
		Model:      resp.Model,
		TokensUsed: int(resp.Usage.TotalTokens),
	}, nil
}
