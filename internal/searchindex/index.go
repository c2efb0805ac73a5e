package searchindex

import (
	"context"

	"github.com/omnireply/omnireply/internal/model"
)

// Index provides vector search over stored messages and index maintenance.
// All operations are best-effort from the caller's point of view: an
// unavailable index degrades semantic search, it never blocks classification
// or reply generation.
type Index interface {
	// UpsertMessage indexes a message vector with its payload. The object id
	// must be the message id.
	UpsertMessage(ctx context.Context, messageID string, vec []float32, payload map[string]interface{}) error

	// SearchSimilar returns up to limit messages in the conversation whose
	// vectors score at or above threshold against vec, best first.
	SearchSimilar(ctx context.Context, conversationID string, vec []float32, limit int, threshold float64) ([]model.SimilarMessage, error)

	// DeleteConversation removes every indexed message of a conversation.
	DeleteConversation(ctx context.Context, conversationID string) error
}

// HealthPinger is optionally implemented by an Index to expose specialized
// health check logic. Returns nil when healthy.
type HealthPinger interface {
	HealthPing(ctx context.Context) error
}
