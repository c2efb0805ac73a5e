package store

import (
	"context"

	"github.com/omnireply/omnireply/internal/model"
)

// Store exposes persistence operations required by the classifier, context
// assembler and orchestrator. Implementations live under
// internal/store/<driver>/ (postgres, memstore).
type Store interface {
	Accounts() Accounts
	Conversations() Conversations
	Messages() Messages
	Settings() Settings
}

type Accounts interface {
	Create(ctx context.Context, a *model.Account) (*model.Account, error)
	Get(ctx context.Context, accountID string) (*model.Account, error)
}

type Conversations interface {
	Create(ctx context.Context, c *model.Conversation) (*model.Conversation, error)
	GetByID(ctx context.Context, accountID, conversationID string) (*model.Conversation, error)
	// FindByExternalConversationID matches the provider-assigned thread id.
	// Returns model.ErrNotFound when absent.
	FindByExternalConversationID(ctx context.Context, accountID, externalConversationID string) (*model.Conversation, error)
	// FindActiveByContact returns the most recently updated active
	// conversation for the contact, or model.ErrNotFound.
	FindActiveByContact(ctx context.Context, accountID, externalContactID string) (*model.Conversation, error)
	// Touch bumps message_count and last_message_at.
	Touch(ctx context.Context, conversationID string) error
	Archive(ctx context.Context, accountID, conversationID string) error
	// ArchiveIdle archives active conversations whose last message is older
	// than idleDays. Returns the number archived.
	ArchiveIdle(ctx context.Context, idleDays int) (int, error)
	List(ctx context.Context, accountID string) ([]*model.Conversation, error)
}

type Messages interface {
	// Create inserts a message. Inserts are idempotent on
	// (conversation_id, external_message_id, direction): a duplicate delivery
	// returns the previously stored row unchanged.
	Create(ctx context.Context, m *model.Message) (*model.Message, error)
	GetByID(ctx context.Context, conversationID, messageID string) (*model.Message, error)
	// List returns messages chronologically (oldest first) after applying the
	// request filters.
	List(ctx context.Context, req model.ListMessagesRequest) ([]*model.Message, error)
	FindByExternalID(ctx context.Context, conversationID, externalMessageID string) (*model.Message, error)
	Update(ctx context.Context, conversationID, messageID string, patch model.MessagePatch) (*model.Message, error)
	CountByConversation(ctx context.Context, conversationID string) (int, error)
	// DeleteByConversation hard-deletes all messages in a conversation.
	// Test and cleanup paths only.
	DeleteByConversation(ctx context.Context, conversationID string) error
}

type Settings interface {
	// Get returns the stored settings, or defaults when the account never
	// customized anything.
	Get(ctx context.Context, accountID string) (*model.AccountSettings, error)
	Upsert(ctx context.Context, s *model.AccountSettings) (*model.AccountSettings, error)
}
