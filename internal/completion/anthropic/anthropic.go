package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/omnireply/omnireply/internal/completion"
	"github.com/omnireply/omnireply/internal/model"
)

// Provider calls the Anthropic messages API.
type Provider struct {
	client anthropic.Client
}

func New(apiKey string) *Provider {
	return &Provider{client: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

func (p *Provider) Complete(ctx context.Context, systemPrompt string, msgs []completion.Message, params completion.Params) (*completion.Result, error) {
	parts := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		// The messages API has no per-message system role; system-authored
		// turns are folded into the user side of the transcript.
		if m.Role == model.RoleAssistant {
			parts = append(parts, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		} else {
			parts = append(parts, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	req := anthropic.MessageNewParams{
		Model:     anthropic.Model(params.Model),
		MaxTokens: int64(maxTokens),
		Messages:  parts,
	}
	if systemPrompt != "" {
		req.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if params.Temperature > 0 {
		req.Temperature = anthropic.Float(params.Temperature)
	}

	resp, err := p.client.Messages.New(ctx, req)
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, fmt.Errorf("anthropic returned no content")
	}
	return &completion.Result{
		Content:    sb.String(),
		Model:      string(resp.Model),
		TokensUsed: int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}, nil
}
