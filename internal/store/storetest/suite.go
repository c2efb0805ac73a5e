// Package storetest provides a compliance suite run against store.Store
// implementations. Implementations should return a clean, isolated store from
// makeStore.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/omnireply/omnireply/internal/model"
	"github.com/omnireply/omnireply/internal/store"
)

// Run exercises the compliance suite against a store.Store implementation.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()

	s := makeStore(t)
	ctx := context.Background()

	acc, err := s.Accounts().Create(ctx, &model.Account{Name: "acme", ChannelConnected: true})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if got, err := s.Accounts().Get(ctx, acc.AccountID); err != nil || got.Name != "acme" {
		t.Fatalf("GetAccount: got=%v err=%v", got, err)
	}

	// Conversation lifecycle
	contactID := "contact-" + uuid.New().String()
	conv, err := s.Conversations().Create(ctx, &model.Conversation{
		AccountID:         acc.AccountID,
		ExternalContactID: contactID,
		Channel:           model.ChannelSMS,
	})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if !conv.Active {
		t.Fatalf("CreateConversation: expected active=true")
	}
	if got, err := s.Conversations().FindActiveByContact(ctx, acc.AccountID, contactID); err != nil || got.ConversationID != conv.ConversationID {
		t.Fatalf("FindActiveByContact: got=%v err=%v", got, err)
	}
	if _, err := s.Conversations().FindActiveByContact(ctx, acc.AccountID, "never-seen"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("FindActiveByContact miss: want ErrNotFound, got %v", err)
	}
	if err := s.Conversations().Touch(ctx, conv.ConversationID); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if got, err := s.Conversations().GetByID(ctx, acc.AccountID, conv.ConversationID); err != nil || got.MessageCount != 1 || got.LastMessageAt == nil {
		t.Fatalf("GetByID after Touch: got=%v err=%v", got, err)
	}

	// External conversation id resolution
	extConvID := "prov-conv-1"
	conv2, err := s.Conversations().Create(ctx, &model.Conversation{
		AccountID:              acc.AccountID,
		ExternalContactID:      contactID,
		ExternalConversationID: &extConvID,
		Channel:                model.ChannelEmail,
	})
	if err != nil {
		t.Fatalf("CreateConversation 2: %v", err)
	}
	if got, err := s.Conversations().FindByExternalConversationID(ctx, acc.AccountID, extConvID); err != nil || got.ConversationID != conv2.ConversationID {
		t.Fatalf("FindByExternalConversationID: got=%v err=%v", got, err)
	}

	// Messages: plain create
	m1, err := s.Messages().Create(ctx, &model.Message{
		ConversationID: conv.ConversationID,
		AccountID:      acc.AccountID,
		Role:           model.RoleUser,
		Content:        "hello there",
		Direction:      model.DirectionInbound,
		Source:         model.SourceContact,
		Channel:        model.ChannelSMS,
	})
	if err != nil {
		t.Fatalf("CreateMessage m1: %v", err)
	}
	if got, err := s.Messages().GetByID(ctx, conv.ConversationID, m1.MessageID); err != nil || got.Content != "hello there" {
		t.Fatalf("GetMessage: got=%v err=%v", got, err)
	}

	// Direction/source consistency is enforced at the store boundary.
	if _, err := s.Messages().Create(ctx, &model.Message{
		ConversationID: conv.ConversationID,
		AccountID:      acc.AccountID,
		Role:           model.RoleUser,
		Content:        "bad",
		Direction:      model.DirectionOutbound,
		Source:         model.SourceContact,
		Channel:        model.ChannelSMS,
	}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("inconsistent source/direction: want ErrValidation, got %v", err)
	}

	// Idempotent insert on (conversation, external id, direction)
	extID := "ext-123"
	m2, err := s.Messages().Create(ctx, &model.Message{
		ConversationID:    conv.ConversationID,
		AccountID:         acc.AccountID,
		Role:              model.RoleAssistant,
		Content:           "first delivery",
		Direction:         model.DirectionOutbound,
		Source:            model.SourceAIAgent,
		Channel:           model.ChannelSMS,
		ExternalMessageID: &extID,
	})
	if err != nil {
		t.Fatalf("CreateMessage m2: %v", err)
	}
	dup, err := s.Messages().Create(ctx, &model.Message{
		ConversationID:    conv.ConversationID,
		AccountID:         acc.AccountID,
		Role:              model.RoleSystem,
		Content:           "second delivery",
		Direction:         model.DirectionOutbound,
		Source:            model.SourceCRMAutomation,
		Channel:           model.ChannelSMS,
		ExternalMessageID: &extID,
	})
	if err != nil {
		t.Fatalf("CreateMessage duplicate: %v", err)
	}
	if dup.MessageID != m2.MessageID || dup.Content != "first delivery" {
		t.Fatalf("duplicate insert must return the original row, got %+v", dup)
	}
	if n, err := s.Messages().CountByConversation(ctx, conv.ConversationID); err != nil || n != 2 {
		t.Fatalf("CountByConversation: n=%d err=%v", n, err)
	}
	if got, err := s.Messages().FindByExternalID(ctx, conv.ConversationID, extID); err != nil || got.MessageID != m2.MessageID {
		t.Fatalf("FindByExternalID: got=%v err=%v", got, err)
	}

	// List excludes interrupted assistant turns when asked.
	flag := true
	if _, err := s.Messages().Update(ctx, conv.ConversationID, m2.MessageID, model.MessagePatch{PrecedesUserReply: &flag}); err != nil {
		t.Fatalf("UpdateMessage: %v", err)
	}
	lst, err := s.Messages().List(ctx, model.ListMessagesRequest{
		ConversationID:           conv.ConversationID,
		ExcludePrecedesUserReply: true,
	})
	if err != nil || len(lst) != 1 || lst[0].MessageID != m1.MessageID {
		t.Fatalf("List with exclusion: n=%d err=%v", len(lst), err)
	}
	lst, err = s.Messages().List(ctx, model.ListMessagesRequest{ConversationID: conv.ConversationID})
	if err != nil || len(lst) != 2 {
		t.Fatalf("List without exclusion: n=%d err=%v", len(lst), err)
	}
	if lst[0].CreationTime.After(lst[1].CreationTime) {
		t.Fatalf("List must be chronological")
	}

	// Role filter
	lst, err = s.Messages().List(ctx, model.ListMessagesRequest{
		ConversationID: conv.ConversationID,
		Roles:          []model.Role{model.RoleUser},
	})
	if err != nil || len(lst) != 1 || lst[0].Role != model.RoleUser {
		t.Fatalf("List role filter: n=%d err=%v", len(lst), err)
	}

	// Settings: defaults when absent, range-validated on upsert
	st, err := s.Settings().Get(ctx, acc.AccountID)
	if err != nil || st.ContextWindowDays != 30 {
		t.Fatalf("Settings defaults: got=%v err=%v", st, err)
	}
	st.ContextWindowDays = 400
	if _, err := s.Settings().Upsert(ctx, st); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("Settings out of range: want ErrValidation, got %v", err)
	}
	st.ContextWindowDays = 7
	st.EnableSemanticSearch = true
	if _, err := s.Settings().Upsert(ctx, st); err != nil {
		t.Fatalf("Settings upsert: %v", err)
	}
	if got, err := s.Settings().Get(ctx, acc.AccountID); err != nil || got.ContextWindowDays != 7 || !got.EnableSemanticSearch {
		t.Fatalf("Settings roundtrip: got=%v err=%v", got, err)
	}

	// Archive removes the conversation from active-contact lookup.
	if err := s.Conversations().Archive(ctx, acc.AccountID, conv2.ConversationID); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if got, err := s.Conversations().FindActiveByContact(ctx, acc.AccountID, contactID); err != nil || got.ConversationID != conv.ConversationID {
		t.Fatalf("FindActiveByContact after archive: got=%v err=%v", got, err)
	}

	// Cleanup path
	if err := s.Messages().DeleteByConversation(ctx, conv.ConversationID); err != nil {
		t.Fatalf("DeleteByConversation: %v", err)
	}
	if n, _ := s.Messages().CountByConversation(ctx, conv.ConversationID); n != 0 {
		t.Fatalf("DeleteByConversation left %d rows", n)
	}
}
