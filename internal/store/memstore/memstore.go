// Package memstore provides an in-memory store.Store used by tests and by
// deployments that run without Postgres (DB_DRIVER=memory).
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omnireply/omnireply/internal/model"
	"github.com/omnireply/omnireply/internal/store"
)

// New returns an empty in-memory store.
func New() store.Store {
	s := &memStore{
		accounts:      map[string]*model.Account{},
		conversations: map[string]*model.Conversation{},
		messages:      map[string][]*model.Message{},
		settings:      map[string]*model.AccountSettings{},
	}
	return s
}

type memStore struct {
	mu            sync.RWMutex
	accounts      map[string]*model.Account
	conversations map[string]*model.Conversation
	messages      map[string][]*model.Message // keyed by conversation id, append order
	settings      map[string]*model.AccountSettings
	lastTS        time.Time
}

func (s *memStore) Accounts() store.Accounts           { return (*accounts)(s) }
func (s *memStore) Conversations() store.Conversations { return (*conversations)(s) }
func (s *memStore) Messages() store.Messages           { return (*messages)(s) }
func (s *memStore) Settings() store.Settings           { return (*settings)(s) }

// HealthPing implements health.HealthPinger; the in-memory store is always up.
func (s *memStore) HealthPing(ctx context.Context) error { return nil }

// now returns a strictly increasing timestamp so creation-time ordering is
// deterministic even when rows are created within the same clock tick.
func (s *memStore) now() time.Time {
	t := time.Now().UTC()
	if !t.After(s.lastTS) {
		t = s.lastTS.Add(time.Microsecond)
	}
	s.lastTS = t
	return t
}

// --- Accounts ---

type accounts memStore

func (a *accounts) Create(ctx context.Context, in *model.Account) (*model.Account, error) {
	s := (*memStore)(a)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := *in
	if out.AccountID == "" {
		out.AccountID = uuid.New().String()
	}
	if _, ok := s.accounts[out.AccountID]; ok {
		return nil, model.ErrConflict
	}
	out.CreationTime = s.now()
	s.accounts[out.AccountID] = &out
	cp := out
	return &cp, nil
}

func (a *accounts) Get(ctx context.Context, accountID string) (*model.Account, error) {
	s := (*memStore)(a)
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[accountID]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *acc
	return &cp, nil
}

// --- Conversations ---

type conversations memStore

func (c *conversations) Create(ctx context.Context, in *model.Conversation) (*model.Conversation, error) {
	s := (*memStore)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := *in
	if out.ConversationID == "" {
		out.ConversationID = uuid.New().String()
	}
	if _, ok := s.conversations[out.ConversationID]; ok {
		return nil, model.ErrConflict
	}
	out.Active = true
	out.CreationTime = s.now()
	s.conversations[out.ConversationID] = &out
	cp := out
	return &cp, nil
}

func (c *conversations) GetByID(ctx context.Context, accountID, conversationID string) (*model.Conversation, error) {
	s := (*memStore)(c)
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok || conv.AccountID != accountID {
		return nil, model.ErrNotFound
	}
	cp := *conv
	return &cp, nil
}

func (c *conversations) FindByExternalConversationID(ctx context.Context, accountID, externalConversationID string) (*model.Conversation, error) {
	s := (*memStore)(c)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *model.Conversation
	for _, conv := range s.conversations {
		if conv.AccountID != accountID || conv.ExternalConversationID == nil {
			continue
		}
		if *conv.ExternalConversationID != externalConversationID {
			continue
		}
		if best == nil || conv.CreationTime.After(best.CreationTime) {
			best = conv
		}
	}
	if best == nil {
		return nil, model.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (c *conversations) FindActiveByContact(ctx context.Context, accountID, externalContactID string) (*model.Conversation, error) {
	s := (*memStore)(c)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *model.Conversation
	for _, conv := range s.conversations {
		if conv.AccountID != accountID || conv.ExternalContactID != externalContactID || !conv.Active {
			continue
		}
		if best == nil || lastActivity(conv).After(lastActivity(best)) {
			best = conv
		}
	}
	if best == nil {
		return nil, model.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func lastActivity(c *model.Conversation) time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreationTime
}

func (c *conversations) Touch(ctx context.Context, conversationID string) error {
	s := (*memStore)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return model.ErrNotFound
	}
	conv.MessageCount++
	ts := s.now()
	conv.LastMessageAt = &ts
	return nil
}

func (c *conversations) Archive(ctx context.Context, accountID, conversationID string) error {
	s := (*memStore)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok || conv.AccountID != accountID {
		return model.ErrNotFound
	}
	conv.Active = false
	return nil
}

func (c *conversations) ArchiveIdle(ctx context.Context, idleDays int) (int, error) {
	s := (*memStore)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().AddDate(0, 0, -idleDays)
	n := 0
	for _, conv := range s.conversations {
		if conv.Active && conv.LastMessageAt != nil && conv.LastMessageAt.Before(cutoff) {
			conv.Active = false
			n++
		}
	}
	return n, nil
}

func (c *conversations) List(ctx context.Context, accountID string) ([]*model.Conversation, error) {
	s := (*memStore)(c)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []*model.Conversation
	for _, conv := range s.conversations {
		if conv.AccountID != accountID {
			continue
		}
		cp := *conv
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool {
		return lastActivity(res[i]).After(lastActivity(res[j]))
	})
	return res, nil
}

// --- Messages ---

type messages memStore

func (m *messages) Create(ctx context.Context, in *model.Message) (*model.Message, error) {
	s := (*memStore)(m)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !in.Source.ConsistentWith(in.Direction) {
		return nil, fmt.Errorf("%w: source %q is inconsistent with direction %q", model.ErrValidation, in.Source, in.Direction)
	}
	// Idempotent on (conversation, external id, direction): a redelivered
	// webhook gets the originally stored row back.
	if in.ExternalMessageID != nil {
		for _, existing := range s.messages[in.ConversationID] {
			if existing.ExternalMessageID != nil &&
				*existing.ExternalMessageID == *in.ExternalMessageID &&
				existing.Direction == in.Direction {
				cp := *existing
				return &cp, nil
			}
		}
	}
	out := *in
	if out.MessageID == "" {
		out.MessageID = uuid.New().String()
	}
	if out.CreationTime.IsZero() {
		out.CreationTime = s.now()
	}
	s.messages[out.ConversationID] = append(s.messages[out.ConversationID], &out)
	cp := out
	return &cp, nil
}

func (m *messages) GetByID(ctx context.Context, conversationID, messageID string) (*model.Message, error) {
	s := (*memStore)(m)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, msg := range s.messages[conversationID] {
		if msg.MessageID == messageID {
			cp := *msg
			return &cp, nil
		}
	}
	return nil, model.ErrNotFound
}

func (m *messages) List(ctx context.Context, req model.ListMessagesRequest) ([]*model.Message, error) {
	s := (*memStore)(m)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var cutoff time.Time
	if req.SinceDays > 0 {
		cutoff = time.Now().UTC().AddDate(0, 0, -req.SinceDays)
	}
	var res []*model.Message
	for _, msg := range s.messages[req.ConversationID] {
		if req.ExcludePrecedesUserReply && msg.PrecedesUserReply {
			continue
		}
		if req.SinceDays > 0 && msg.CreationTime.Before(cutoff) {
			continue
		}
		if len(req.Roles) > 0 && !containsRole(req.Roles, msg.Role) {
			continue
		}
		cp := *msg
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreationTime.Before(res[j].CreationTime) })
	if req.Limit > 0 && len(res) > req.Limit {
		// Keep the most recent rows; output stays chronological.
		res = res[len(res)-req.Limit:]
	}
	return res, nil
}

func containsRole(roles []model.Role, r model.Role) bool {
	for _, v := range roles {
		if v == r {
			return true
		}
	}
	return false
}

func (m *messages) FindByExternalID(ctx context.Context, conversationID, externalMessageID string) (*model.Message, error) {
	s := (*memStore)(m)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, msg := range s.messages[conversationID] {
		if msg.ExternalMessageID != nil && *msg.ExternalMessageID == externalMessageID {
			cp := *msg
			return &cp, nil
		}
	}
	return nil, model.ErrNotFound
}

func (m *messages) Update(ctx context.Context, conversationID, messageID string, patch model.MessagePatch) (*model.Message, error) {
	s := (*memStore)(m)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.messages[conversationID] {
		if msg.MessageID != messageID {
			continue
		}
		if patch.ExternalMessageID != nil {
			v := *patch.ExternalMessageID
			msg.ExternalMessageID = &v
		}
		if patch.PrecedesUserReply != nil {
			msg.PrecedesUserReply = *patch.PrecedesUserReply
		}
		if patch.Metadata != nil {
			msg.Metadata = patch.Metadata
		}
		cp := *msg
		return &cp, nil
	}
	return nil, model.ErrNotFound
}

func (m *messages) CountByConversation(ctx context.Context, conversationID string) (int, error) {
	s := (*memStore)(m)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[conversationID]), nil
}

func (m *messages) DeleteByConversation(ctx context.Context, conversationID string) error {
	s := (*memStore)(m)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, conversationID)
	return nil
}

// --- Settings ---

type settings memStore

func (st *settings) Get(ctx context.Context, accountID string) (*model.AccountSettings, error) {
	s := (*memStore)(st)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.settings[accountID]; ok {
		cp := *v
		return &cp, nil
	}
	return model.DefaultSettings(accountID), nil
}

func (st *settings) Upsert(ctx context.Context, in *model.AccountSettings) (*model.AccountSettings, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	s := (*memStore)(st)
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *in
	s.settings[in.AccountID] = &cp
	out := cp
	return &out, nil
}
