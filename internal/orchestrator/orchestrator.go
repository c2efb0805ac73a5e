// Package orchestrator runs the inbound-message-to-AI-reply pipeline as an
// explicit state machine.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/omnireply/omnireply/internal/channel"
	"github.com/omnireply/omnireply/internal/completion"
	"github.com/omnireply/omnireply/internal/contextwin"
	"github.com/omnireply/omnireply/internal/convlock"
	"github.com/omnireply/omnireply/internal/embeddings"
	"github.com/omnireply/omnireply/internal/model"
	"github.com/omnireply/omnireply/internal/searchindex"
	"github.com/omnireply/omnireply/internal/store"
)

// State enumerates the pipeline stages. Transitions only happen inside step,
// which makes illegal sequences (e.g. sending without a persisted reply)
// unrepresentable.
type State int

const (
	StateLoadingConversation State = iota
	StateContextAssembly
	StateGenerating
	StatePersistingReply
	StateSending
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLoadingConversation:
		return "LOADING_CONVERSATION"
	case StateContextAssembly:
		return "CONTEXT_ASSEMBLY"
	case StateGenerating:
		return "GENERATING"
	case StatePersistingReply:
		return "PERSISTING_REPLY"
	case StateSending:
		return "SENDING"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

const replyMaxTokens = 1024

// Outcome reports how far the pipeline got for one inbound message. Failures
// are terminal for that message; the provider's own webhook retry policy is
// the only retry mechanism in play.
type Outcome struct {
	State             State
	FailureReason     string
	Err               error
	Reply             *model.Message
	ProviderMessageID string
	TokensUsed        int
}

// Succeeded reports whether the pipeline reached DONE.
func (o *Outcome) Succeeded() bool { return o.State == StateDone }

// Orchestrator generates and delivers one AI reply per inbound message.
type Orchestrator struct {
	store      store.Store
	assembler  *contextwin.Assembler
	providers  map[model.AIProvider]completion.Provider
	channel    channel.Provider
	emb        embeddings.Provider
	idx        searchindex.Index
	locks      *convlock.KeyedMutex
	genTimeout time.Duration
	log        zerolog.Logger
}

func New(
	s store.Store,
	assembler *contextwin.Assembler,
	providers map[model.AIProvider]completion.Provider,
	ch channel.Provider,
	emb embeddings.Provider,
	idx searchindex.Index,
	genTimeout time.Duration,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:      s,
		assembler:  assembler,
		providers:  providers,
		channel:    ch,
		emb:        emb,
		idx:        idx,
		locks:      convlock.New(),
		genTimeout: genTimeout,
		log:        log,
	}
}

// run carries the pipeline's intermediate state between transitions.
type run struct {
	state   State
	inbound *model.Message

	conv     *model.Conversation
	account  *model.Account
	settings *model.AccountSettings
	window   *contextwin.SplitWindow
	result   *completion.Result
	reply    *model.Message

	failureReason string
	err           error
}

func (r *run) fail(reason string, err error) {
	r.state = StateFailed
	r.failureReason = reason
	r.err = err
}

// Respond runs the full pipeline for one freshly classified inbound message.
// Processing is serialized per conversation id.
func (o *Orchestrator) Respond(ctx context.Context, accountID string, inbound *model.Message) *Outcome {
	unlock := o.locks.Lock(inbound.ConversationID)
	defer unlock()

	r := &run{state: StateLoadingConversation, inbound: inbound}
	for r.state != StateDone && r.state != StateFailed {
		o.step(ctx, accountID, r)
	}

	out := &Outcome{
		State:         r.state,
		FailureReason: r.failureReason,
		Err:           r.err,
		Reply:         r.reply,
	}
	if r.result != nil {
		out.TokensUsed = r.result.TokensUsed
	}
	if r.reply != nil && r.reply.ExternalMessageID != nil {
		out.ProviderMessageID = *r.reply.ExternalMessageID
	}
	if r.state == StateFailed {
		o.log.Error().Stack().Err(r.err).
			Str("conversationId", inbound.ConversationID).
			Str("reason", r.failureReason).
			Msg("reply pipeline failed")
	}
	return out
}

// step performs exactly one state transition.
func (o *Orchestrator) step(ctx context.Context, accountID string, r *run) {
	switch r.state {
	case StateLoadingConversation:
		conv, err := o.store.Conversations().GetByID(ctx, accountID, r.inbound.ConversationID)
		if err != nil {
			r.fail("conversation not found", err)
			return
		}
		account, err := o.store.Accounts().Get(ctx, accountID)
		if err != nil {
			r.fail("account not found", err)
			return
		}
		if !account.ChannelConnected {
			// Configuration problem, not a transient one; never retried.
			r.fail("channel not connected", model.ErrNotConfigured)
			return
		}
		settings, err := o.store.Settings().Get(ctx, accountID)
		if err != nil {
			r.fail("settings unavailable", err)
			return
		}
		r.conv, r.account, r.settings = conv, account, settings
		r.state = StateContextAssembly

	case StateContextAssembly:
		window, err := o.assembler.LoadContextWithSemanticSearch(ctx, accountID, r.conv.ConversationID, r.inbound.Content, contextwin.Overrides{})
		if err != nil {
			r.fail("context assembly failed", err)
			return
		}
		if len(window.Messages) == 0 {
			r.fail("no context available", nil)
			return
		}
		r.window = window
		r.state = StateGenerating

	case StateGenerating:
		provider, ok := o.providers[r.settings.DefaultAIProvider]
		if !ok {
			r.fail(fmt.Sprintf("no completion provider for %s", r.settings.DefaultAIProvider), model.ErrNotConfigured)
			return
		}
		msgs := make([]completion.Message, 0, len(r.window.Messages))
		for _, m := range r.window.Messages {
			msgs = append(msgs, completion.Message{Role: m.Role, Content: m.Content})
		}
		genCtx, cancel := context.WithTimeout(ctx, o.genTimeout)
		defer cancel()
		result, err := provider.Complete(genCtx, o.systemPrompt(r), msgs, completion.Params{
			Model:     o.modelFor(r.settings),
			MaxTokens: replyMaxTokens,
		})
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				r.fail("completion timeout", err)
				return
			}
			r.fail("completion failed", err)
			return
		}
		if result.Content == "" {
			r.fail("completion returned no content", nil)
			return
		}
		r.result = result
		r.state = StatePersistingReply

	case StatePersistingReply:
		// The reply is written before any delivery attempt. The outbound
		// webhook handler relies on this prior write to recognize the
		// provider echo as our own send.
		reply, err := o.store.Messages().Create(ctx, &model.Message{
			ConversationID: r.conv.ConversationID,
			AccountID:      r.conv.AccountID,
			Role:           model.RoleAssistant,
			Content:        r.result.Content,
			Direction:      model.DirectionOutbound,
			Source:         model.SourceAIAgent,
			Channel:        r.conv.Channel,
			Metadata: map[string]interface{}{
				"model":      r.result.Model,
				"tokensUsed": r.result.TokensUsed,
			},
		})
		if err != nil {
			// No send without a durable record.
			r.fail("reply persistence failed", err)
			return
		}
		if err := o.store.Conversations().Touch(ctx, r.conv.ConversationID); err != nil {
			o.log.Warn().Err(err).Str("conversationId", r.conv.ConversationID).Msg("conversation touch failed")
		}
		r.reply = reply
		r.state = StateSending

	case StateSending:
		res, err := o.channel.Send(ctx, o.sendRequest(r))
		if err != nil {
			// Keep the persisted reply as an audit trail of generated-but-
			// undelivered content; flag it so future context excludes it.
			flag := true
			if _, uerr := o.store.Messages().Update(ctx, r.conv.ConversationID, r.reply.MessageID, model.MessagePatch{PrecedesUserReply: &flag}); uerr != nil {
				o.log.Error().Stack().Err(uerr).Str("messageId", r.reply.MessageID).Msg("failed to flag undelivered reply")
			}
			r.reply.PrecedesUserReply = true
			r.fail("channel send failed", err)
			return
		}
		updated, err := o.store.Messages().Update(ctx, r.conv.ConversationID, r.reply.MessageID, model.MessagePatch{
			ExternalMessageID: &res.ProviderMessageID,
		})
		if err != nil {
			o.log.Warn().Err(err).Str("messageId", r.reply.MessageID).Msg("failed to record provider message id")
		} else {
			r.reply = updated
		}
		searchindex.IndexMessageBestEffort(ctx, o.emb, o.idx, r.reply, o.log)
		r.state = StateDone
	}
}

func (o *Orchestrator) modelFor(s *model.AccountSettings) string {
	if s.DefaultAIProvider == model.AIProviderAnthropic {
		return s.AnthropicModel
	}
	return s.OpenAIModel
}

func (o *Orchestrator) systemPrompt(r *run) string {
	name := "the contact"
	if r.conv.ContactName != nil && *r.conv.ContactName != "" {
		name = *r.conv.ContactName
	}
	prompt := fmt.Sprintf(
		"You are an AI assistant replying to %s over %s on behalf of %s. "+
			"You have the last %d messages of the conversation as context.",
		name, r.conv.Channel, r.account.Name, len(r.window.Messages))
	if r.window.Truncated {
		prompt += " Older history was trimmed to fit the context budget."
	}
	if r.conv.Channel == model.ChannelSMS || r.conv.Channel == model.ChannelWhatsApp {
		prompt += " Keep replies short and conversational."
	}
	return prompt
}

func (o *Orchestrator) sendRequest(r *run) channel.SendRequest {
	req := channel.SendRequest{
		Channel:                r.conv.Channel,
		ContactID:              r.conv.ExternalContactID,
		ExternalConversationID: r.conv.ExternalConversationID,
		Message:                r.result.Content,
	}
	if r.conv.Channel == model.ChannelEmail {
		req.Subject = emailSubject(r.inbound)
		req.HTML = r.result.Content
	}
	return req
}

// emailSubject threads the reply under the inbound subject when the webhook
// carried one.
func emailSubject(inbound *model.Message) string {
	if inbound.Metadata != nil {
		if s, ok := inbound.Metadata["subject"].(string); ok && s != "" {
			return "Re: " + s
		}
	}
	return "Re: your message"
}
