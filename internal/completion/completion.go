// Package completion abstracts AI completion backends.
package completion

import (
	"context"

	"github.com/omnireply/omnireply/internal/model"
)

// Message is one prior turn supplied as context to the completion call.
type Message struct {
	Role    model.Role
	Content string
}

// Params are per-call model parameters.
type Params struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Result is a successful completion.
type Result struct {
	Content    string
	Model      string
	TokensUsed int
}

// Provider generates one assistant reply from a system prompt and prior turns.
type Provider interface {
	Complete(ctx context.Context, systemPrompt string, msgs []Message, params Params) (*Result, error)
}
