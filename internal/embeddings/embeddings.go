package embeddings

import "context"

// Provider produces vector representations for message text.
// Embeddings are advisory everywhere they are used: a provider failure
// degrades semantic search, it never fails message creation.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
