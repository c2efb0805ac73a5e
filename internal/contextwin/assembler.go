// Package contextwin assembles bounded context windows for AI completion
// calls from conversation history.
package contextwin

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/omnireply/omnireply/internal/embeddings"
	"github.com/omnireply/omnireply/internal/model"
	"github.com/omnireply/omnireply/internal/searchindex"
	"github.com/omnireply/omnireply/internal/store"
	"github.com/omnireply/omnireply/internal/tokens"
)

// truncationMarker is appended when a single message is hard-truncated to fit
// the token budget.
const truncationMarker = "...[truncated]"

// Overrides replace individual caps from account settings. Zero means "use
// the account setting".
type Overrides struct {
	Days     int
	Messages int
	Tokens   int
}

// Stats reports what was asked for versus what came back. Observability and
// testing only; nothing downstream makes decisions on it.
type Stats struct {
	DaysRequested     int `json:"daysRequested"`
	MessagesRequested int `json:"messagesRequested"`
	TokensRequested   int `json:"tokensRequested"`
	MessagesReturned  int `json:"messagesReturned"`
}

// Window is an assembled context: messages in chronological order, their
// estimated token total, and whether the token budget forced trimming.
type Window struct {
	Messages    []*model.Message
	TotalTokens int
	Truncated   bool
	Stats       Stats
}

// SplitWindow labels provenance for callers that care which bucket a message
// came from. Messages is the combined chronological sequence.
type SplitWindow struct {
	Messages    []*model.Message
	Recent      []*model.Message
	Semantic    []*model.Message
	TotalTokens int
	Truncated   bool
	Stats       Stats
}

// Assembler combines store queries, account settings and the token estimator
// into a bounded context window for one AI turn.
type Assembler struct {
	store store.Store
	emb   embeddings.Provider // optional
	idx   searchindex.Index   // optional
	log   zerolog.Logger
}

func New(s store.Store, emb embeddings.Provider, idx searchindex.Index, log zerolog.Logger) *Assembler {
	return &Assembler{store: s, emb: emb, idx: idx, log: log}
}

func (a *Assembler) resolveCaps(ctx context.Context, accountID string, ov Overrides) (days, msgs, budget int, settings *model.AccountSettings, err error) {
	settings, err = a.store.Settings().Get(ctx, accountID)
	if err != nil {
		return 0, 0, 0, nil, err
	}
	days, msgs, budget = settings.ContextWindowDays, settings.ContextWindowMessages, settings.MaxContextTokens
	if ov.Days > 0 {
		days = ov.Days
	}
	if ov.Messages > 0 {
		msgs = ov.Messages
	}
	if ov.Tokens > 0 {
		budget = ov.Tokens
	}
	return days, msgs, budget, settings, nil
}

// LoadConversationContext fetches the day-based and count-based candidate
// sets independently, keeps whichever has more messages, and trims the result
// to the token budget.
//
// Ties between the two candidate sets favor the day-based one. That is a
// deterministic tie-break, not a contract.
func (a *Assembler) LoadConversationContext(ctx context.Context, accountID, conversationID string, ov Overrides) (*Window, error) {
	days, msgs, budget, _, err := a.resolveCaps(ctx, accountID, ov)
	if err != nil {
		return nil, err
	}

	byDays, err := a.store.Messages().List(ctx, model.ListMessagesRequest{
		ConversationID:           conversationID,
		SinceDays:                days,
		ExcludePrecedesUserReply: true,
	})
	if err != nil {
		return nil, err
	}
	byCount, err := a.store.Messages().List(ctx, model.ListMessagesRequest{
		ConversationID:           conversationID,
		Limit:                    msgs,
		ExcludePrecedesUserReply: true,
	})
	if err != nil {
		return nil, err
	}

	// Straight size comparison, not a union: the two caps answer different
	// conversation shapes (sparse-slow vs dense-fast) and the larger set
	// avoids starving context in either regime.
	chosen := byDays
	if len(byCount) > len(byDays) {
		chosen = byCount
	}

	trimmed, total, truncated := trimToBudget(chosen, budget)
	return &Window{
		Messages:    trimmed,
		TotalTokens: total,
		Truncated:   truncated,
		Stats: Stats{
			DaysRequested:     days,
			MessagesRequested: msgs,
			TokensRequested:   budget,
			MessagesReturned:  len(trimmed),
		},
	}, nil
}

// LoadContextWithSemanticSearch blends half the recency window with the top
// semantically similar older messages, de-duplicates in favor of the recent
// set, and applies the same token trim. Semantic failures degrade to an empty
// semantic bucket; the call still succeeds on recent messages alone.
func (a *Assembler) LoadContextWithSemanticSearch(ctx context.Context, accountID, conversationID, queryText string, ov Overrides) (*SplitWindow, error) {
	days, msgs, budget, settings, err := a.resolveCaps(ctx, accountID, ov)
	if err != nil {
		return nil, err
	}

	recentCap := msgs / 2
	if recentCap < 1 {
		recentCap = 1
	}
	recent, err := a.store.Messages().List(ctx, model.ListMessagesRequest{
		ConversationID:           conversationID,
		Limit:                    recentCap,
		ExcludePrecedesUserReply: true,
	})
	if err != nil {
		return nil, err
	}

	semantic := a.semanticCandidates(ctx, conversationID, queryText, settings, recent)

	combined := make([]*model.Message, 0, len(recent)+len(semantic))
	combined = append(combined, recent...)
	combined = append(combined, semantic...)
	sort.SliceStable(combined, func(i, j int) bool {
		return combined[i].CreationTime.Before(combined[j].CreationTime)
	})

	trimmed, total, truncated := trimToBudget(combined, budget)

	recentIDs := make(map[string]struct{}, len(recent))
	for _, m := range recent {
		recentIDs[m.MessageID] = struct{}{}
	}
	out := &SplitWindow{
		Messages:    trimmed,
		TotalTokens: total,
		Truncated:   truncated,
		Stats: Stats{
			DaysRequested:     days,
			MessagesRequested: msgs,
			TokensRequested:   budget,
			MessagesReturned:  len(trimmed),
		},
	}
	for _, m := range trimmed {
		if _, ok := recentIDs[m.MessageID]; ok {
			out.Recent = append(out.Recent, m)
		} else {
			out.Semantic = append(out.Semantic, m)
		}
	}
	return out, nil
}

// semanticCandidates returns similar messages outside the recent set. Every
// failure path logs a warning and returns nil; semantic search never fails
// the context load.
func (a *Assembler) semanticCandidates(ctx context.Context, conversationID, queryText string, settings *model.AccountSettings, recent []*model.Message) []*model.Message {
	if !settings.EnableSemanticSearch || a.emb == nil || a.idx == nil || queryText == "" {
		return nil
	}
	vec, err := a.emb.Embed(ctx, queryText)
	if err != nil {
		a.log.Warn().Err(err).Str("conversationId", conversationID).Msg("embedding failed; semantic context degraded")
		return nil
	}
	hits, err := a.idx.SearchSimilar(ctx, conversationID, vec, settings.SemanticSearchLimit, settings.SemanticSimilarityThreshold)
	if err != nil {
		a.log.Warn().Err(err).Str("conversationId", conversationID).Msg("semantic search failed; semantic context degraded")
		return nil
	}

	recentIDs := make(map[string]struct{}, len(recent))
	for _, m := range recent {
		recentIDs[m.MessageID] = struct{}{}
	}
	var out []*model.Message
	for _, hit := range hits {
		if _, ok := recentIDs[hit.MessageID]; ok {
			continue // kept in the recent bucket
		}
		msg, err := a.store.Messages().GetByID(ctx, conversationID, hit.MessageID)
		if err != nil {
			a.log.Warn().Err(err).Str("messageId", hit.MessageID).Msg("semantic hit not in store; skipped")
			continue
		}
		if msg.PrecedesUserReply {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// trimToBudget walks from the most recent message backward, accumulating
// estimated tokens, and stops the moment the next older message would exceed
// the budget. The result is restored to chronological order.
//
// If not even the most recent message fits, that one message is returned with
// its content hard-truncated to budget*4 characters plus a marker.
func trimToBudget(msgs []*model.Message, budget int) ([]*model.Message, int, bool) {
	if len(msgs) == 0 {
		return nil, 0, false
	}

	var kept []*model.Message
	total := 0
	truncated := false
	for i := len(msgs) - 1; i >= 0; i-- {
		cost := tokens.Estimate(msgs[i].Content)
		if total+cost > budget {
			truncated = true
			break
		}
		kept = append(kept, msgs[i])
		total += cost
	}

	if len(kept) == 0 {
		// A single message alone exceeds the budget. Hard-truncate it rather
		// than returning an empty window.
		last := *msgs[len(msgs)-1]
		cut := budget * tokens.CharsPerToken
		if cut < len(last.Content) {
			last.Content = last.Content[:cut] + truncationMarker
		}
		return []*model.Message{&last}, tokens.Estimate(last.Content), true
	}

	// kept was built newest-first; restore chronological order.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept, total, truncated
}
