// Package classify resolves conversations and message authorship for
// channel-provider webhooks.
package classify

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/omnireply/omnireply/internal/embeddings"
	"github.com/omnireply/omnireply/internal/model"
	"github.com/omnireply/omnireply/internal/searchindex"
	"github.com/omnireply/omnireply/internal/store"
)

// Classification is the stored outcome of one webhook delivery.
type Classification struct {
	Conversation        *model.Conversation
	Message             *model.Message
	Source              model.Source
	Role                model.Role
	CreatedConversation bool
	// Duplicate is true when this delivery matched an already stored message.
	// Callers use it to skip side effects that must run once per message.
	Duplicate bool
}

// Classifier persists webhook messages exactly once and decides authorship.
type Classifier struct {
	store store.Store
	emb   embeddings.Provider // optional
	idx   searchindex.Index   // optional
	log   zerolog.Logger
}

func New(s store.Store, emb embeddings.Provider, idx searchindex.Index, log zerolog.Logger) *Classifier {
	return &Classifier{store: s, emb: emb, idx: idx, log: log}
}

// HandleInbound stores a contact-authored message. Inbound classification is
// trivial: direction=inbound, source=contact, role=user, always.
func (c *Classifier) HandleInbound(ctx context.Context, accountID string, p Payload) (*Classification, error) {
	conv, created, err := c.findOrCreateConversation(ctx, accountID, p)
	if err != nil {
		return nil, err
	}
	msg, dup, err := c.storeMessage(ctx, conv, p, model.DirectionInbound, model.SourceContact, model.RoleUser)
	if err != nil {
		return nil, err
	}
	return &Classification{
		Conversation:        conv,
		Message:             msg,
		Source:              model.SourceContact,
		Role:                model.RoleUser,
		CreatedConversation: created,
		Duplicate:           dup,
	}, nil
}

// HandleOutbound classifies a platform-to-contact message echoed back by the
// provider and stores it.
func (c *Classifier) HandleOutbound(ctx context.Context, accountID string, p Payload) (*Classification, error) {
	conv, err := c.resolveConversation(ctx, accountID, p)
	if errors.Is(err, model.ErrNotFound) {
		// An outbound webhook arrived before any inbound one did. Create a
		// bare conversation and store the message as a system fallback so the
		// webhook handler never fails on missing conversation state.
		c.log.Warn().
			Str("accountId", accountID).
			Str("contactId", p.Common().ContactID).
			Msg("outbound webhook for unknown conversation; storing with system source")
		conv, err = c.createConversation(ctx, accountID, p)
		if err != nil {
			return nil, err
		}
		msg, dup, err := c.storeMessage(ctx, conv, p, model.DirectionOutbound, model.SourceSystem, model.RoleSystem)
		if err != nil {
			return nil, err
		}
		return &Classification{
			Conversation:        conv,
			Message:             msg,
			Source:              model.SourceSystem,
			Role:                model.RoleSystem,
			CreatedConversation: true,
			Duplicate:           dup,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	source, role := c.determineMessageSource(ctx, conv, p)
	msg, dup, err := c.storeMessage(ctx, conv, p, model.DirectionOutbound, source, role)
	if err != nil {
		return nil, err
	}
	// A duplicate delivery returns the originally stored row; report its
	// classification, not the fallback one this delivery would have picked.
	if msg.Source != source {
		source, role = msg.Source, msg.Role
	}
	return &Classification{
		Conversation: conv,
		Message:      msg,
		Source:       source,
		Role:         role,
		Duplicate:    dup,
	}, nil
}

// determineMessageSource runs the outbound authorship decision in strict
// priority order:
//
//  1. A stored message with this external id and role=assistant is our own
//     prior write (the orchestrator persists replies before sending), so the
//     provider echo is the AI agent's send. Our own ground truth outranks any
//     payload field.
//  2. A userId field means a human CRM operator sent it manually.
//  3. Anything else is an automated workflow/rule send.
func (c *Classifier) determineMessageSource(ctx context.Context, conv *model.Conversation, p Payload) (model.Source, model.Role) {
	common := p.Common()
	if common.ExternalMessageID != "" {
		stored, err := c.store.Messages().FindByExternalID(ctx, conv.ConversationID, common.ExternalMessageID)
		if err == nil && stored.Role == model.RoleAssistant {
			return model.SourceAIAgent, model.RoleAssistant
		}
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			c.log.Warn().Err(err).Str("conversationId", conv.ConversationID).Msg("stored-message lookup failed during classification")
		}
	}
	if common.UserID != "" {
		// A human response is user-adjacent, not assistant: it did not come
		// from the AI.
		return model.SourceCRMUser, model.RoleUser
	}
	return model.SourceCRMAutomation, model.RoleSystem
}

// resolveConversation matches by provider conversation id first, then by
// active contact. The provider id is the most specific match and must win so
// two genuinely distinct threads for one contact are never merged.
func (c *Classifier) resolveConversation(ctx context.Context, accountID string, p Payload) (*model.Conversation, error) {
	common := p.Common()
	if common.ExternalConversationID != "" {
		conv, err := c.store.Conversations().FindByExternalConversationID(ctx, accountID, common.ExternalConversationID)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, model.ErrNotFound) {
			return nil, err
		}
	}
	return c.store.Conversations().FindActiveByContact(ctx, accountID, common.ContactID)
}

func (c *Classifier) findOrCreateConversation(ctx context.Context, accountID string, p Payload) (*model.Conversation, bool, error) {
	conv, err := c.resolveConversation(ctx, accountID, p)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, false, err
	}
	conv, err = c.createConversation(ctx, accountID, p)
	if err != nil {
		return nil, false, err
	}
	return conv, true, nil
}

func (c *Classifier) createConversation(ctx context.Context, accountID string, p Payload) (*model.Conversation, error) {
	common := p.Common()
	conv := &model.Conversation{
		AccountID:         accountID,
		ExternalContactID: common.ContactID,
		Channel:           p.Channel(),
	}
	if common.ExternalConversationID != "" {
		v := common.ExternalConversationID
		conv.ExternalConversationID = &v
	}
	if common.ContactName != "" {
		v := common.ContactName
		conv.ContactName = &v
	}
	if common.Email != "" {
		v := common.Email
		conv.ContactEmail = &v
	}
	if common.Phone != "" {
		v := common.Phone
		conv.ContactPhone = &v
	}
	return c.store.Conversations().Create(ctx, conv)
}

func (c *Classifier) storeMessage(ctx context.Context, conv *model.Conversation, p Payload, dir model.Direction, source model.Source, role model.Role) (*model.Message, bool, error) {
	msg := &model.Message{
		ConversationID: conv.ConversationID,
		AccountID:      conv.AccountID,
		Role:           role,
		Content:        p.Content(),
		Direction:      dir,
		Source:         source,
		Channel:        p.Channel(),
		Metadata:       p.Common().Raw,
	}
	if id := p.Common().ExternalMessageID; id != "" {
		msg.ExternalMessageID = &id
		// Redelivered webhook: hand back the original row without touching
		// counters or the index again. The store's unique constraint closes
		// the race this check leaves open.
		if existing, err := c.store.Messages().FindByExternalID(ctx, conv.ConversationID, id); err == nil && existing.Direction == dir {
			return existing, true, nil
		}
	}
	created, err := c.store.Messages().Create(ctx, msg)
	if err != nil {
		return nil, false, err
	}
	if err := c.store.Conversations().Touch(ctx, conv.ConversationID); err != nil {
		c.log.Warn().Err(err).Str("conversationId", conv.ConversationID).Msg("conversation touch failed")
	}
	searchindex.IndexMessageBestEffort(ctx, c.emb, c.idx, created, c.log)
	return created, false, nil
}
