package searchindex

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/omnireply/omnireply/internal/embeddings"
	"github.com/omnireply/omnireply/internal/model"
)

// IndexMessageBestEffort embeds and indexes a stored message. Failures are
// logged as warnings and swallowed: a missing embedding degrades semantic
// search, it must never fail message creation.
func IndexMessageBestEffort(ctx context.Context, emb embeddings.Provider, idx Index, msg *model.Message, log zerolog.Logger) {
	if emb == nil || idx == nil || msg.Content == "" {
		return
	}
	vec, err := emb.Embed(ctx, msg.Content)
	if err != nil || len(vec) == 0 {
		log.Warn().Err(err).Str("messageId", msg.MessageID).Msg("embedding generation failed; message not indexed")
		return
	}
	payload := map[string]interface{}{
		"messageId":      msg.MessageID,
		"conversationId": msg.ConversationID,
		"accountId":      msg.AccountID,
		"role":           string(msg.Role),
		"content":        msg.Content,
		"creationTime":   msg.CreationTime.UTC().Format(time.RFC3339),
	}
	if err := idx.UpsertMessage(ctx, msg.MessageID, vec, payload); err != nil {
		log.Warn().Err(err).Str("messageId", msg.MessageID).Msg("search index upsert failed; message not indexed")
	}
}
