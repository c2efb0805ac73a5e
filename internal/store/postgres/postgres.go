package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/omnireply/omnireply/internal/model"
	"github.com/omnireply/omnireply/internal/store"
)

// Open opens a PostgreSQL connection using the pgx stdlib driver and verifies
// connectivity.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewWithDB constructs a Postgres store backed directly by database/sql.
func NewWithDB(db *sql.DB) store.Store { return &pgStore{db: db} }

type pgStore struct{ db *sql.DB }

func (s *pgStore) Accounts() store.Accounts           { return &accounts{db: s.db} }
func (s *pgStore) Conversations() store.Conversations { return &conversations{db: s.db} }
func (s *pgStore) Messages() store.Messages           { return &messages{db: s.db} }
func (s *pgStore) Settings() store.Settings           { return &settings{db: s.db} }

// HealthPing implements health.HealthPinger for the Postgres-backed store.
func (s *pgStore) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	return err
}

// --- Accounts ---

type accounts struct{ db *sql.DB }

func (a *accounts) Create(ctx context.Context, m *model.Account) (*model.Account, error) {
	id := m.AccountID
	if id == "" {
		id = uuid.New().String()
	}
	var created time.Time
	row := a.db.QueryRowContext(ctx, `
        INSERT INTO accounts (account_id, name, location_id, channel_connected)
        VALUES ($1,$2,$3,$4)
        RETURNING creation_time
    `, id, m.Name, m.LocationID, m.ChannelConnected)
	if err := row.Scan(&created); err != nil {
		return nil, err
	}
	out := *m
	out.AccountID = id
	out.CreationTime = created
	return &out, nil
}

func (a *accounts) Get(ctx context.Context, accountID string) (*model.Account, error) {
	var out model.Account
	row := a.db.QueryRowContext(ctx, `
        SELECT account_id, name, location_id, channel_connected, creation_time
        FROM accounts WHERE account_id=$1
    `, accountID)
	if err := row.Scan(&out.AccountID, &out.Name, &out.LocationID, &out.ChannelConnected, &out.CreationTime); err != nil {
		return nil, mapNotFound(err)
	}
	return &out, nil
}

// --- Conversations ---

type conversations struct{ db *sql.DB }

const conversationCols = `conversation_id, account_id, external_contact_id, external_conversation_id,
       contact_name, contact_email, contact_phone, channel, active, message_count, last_message_at, creation_time`

func scanConversation(row interface{ Scan(...interface{}) error }) (*model.Conversation, error) {
	var out model.Conversation
	var channel string
	if err := row.Scan(&out.ConversationID, &out.AccountID, &out.ExternalContactID, &out.ExternalConversationID,
		&out.ContactName, &out.ContactEmail, &out.ContactPhone, &channel, &out.Active,
		&out.MessageCount, &out.LastMessageAt, &out.CreationTime); err != nil {
		return nil, err
	}
	out.Channel = model.Channel(channel)
	return &out, nil
}

func (c *conversations) Create(ctx context.Context, m *model.Conversation) (*model.Conversation, error) {
	id := m.ConversationID
	if id == "" {
		id = uuid.New().String()
	}
	var created time.Time
	row := c.db.QueryRowContext(ctx, `
        INSERT INTO conversations
            (conversation_id, account_id, external_contact_id, external_conversation_id,
             contact_name, contact_email, contact_phone, channel, active)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,TRUE)
        RETURNING creation_time
    `, id, m.AccountID, m.ExternalContactID, m.ExternalConversationID,
		m.ContactName, m.ContactEmail, m.ContactPhone, string(m.Channel))
	if err := row.Scan(&created); err != nil {
		return nil, err
	}
	out := *m
	out.ConversationID = id
	out.Active = true
	out.CreationTime = created
	return &out, nil
}

func (c *conversations) GetByID(ctx context.Context, accountID, conversationID string) (*model.Conversation, error) {
	row := c.db.QueryRowContext(ctx, `
        SELECT `+conversationCols+` FROM conversations
        WHERE account_id=$1 AND conversation_id=$2
    `, accountID, conversationID)
	out, err := scanConversation(row)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return out, nil
}

func (c *conversations) FindByExternalConversationID(ctx context.Context, accountID, externalConversationID string) (*model.Conversation, error) {
	row := c.db.QueryRowContext(ctx, `
        SELECT `+conversationCols+` FROM conversations
        WHERE account_id=$1 AND external_conversation_id=$2
        ORDER BY creation_time DESC LIMIT 1
    `, accountID, externalConversationID)
	out, err := scanConversation(row)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return out, nil
}

func (c *conversations) FindActiveByContact(ctx context.Context, accountID, externalContactID string) (*model.Conversation, error) {
	// active=true keeps stale archived threads from being revived.
	row := c.db.QueryRowContext(ctx, `
        SELECT `+conversationCols+` FROM conversations
        WHERE account_id=$1 AND external_contact_id=$2 AND active=TRUE
        ORDER BY last_message_at DESC NULLS LAST, creation_time DESC
        LIMIT 1
    `, accountID, externalContactID)
	out, err := scanConversation(row)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return out, nil
}

func (c *conversations) Touch(ctx context.Context, conversationID string) error {
	res, err := c.db.ExecContext(ctx, `
        UPDATE conversations
        SET message_count = message_count + 1, last_message_at = now()
        WHERE conversation_id=$1
    `, conversationID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (c *conversations) Archive(ctx context.Context, accountID, conversationID string) error {
	res, err := c.db.ExecContext(ctx, `
        UPDATE conversations SET active=FALSE
        WHERE account_id=$1 AND conversation_id=$2
    `, accountID, conversationID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (c *conversations) ArchiveIdle(ctx context.Context, idleDays int) (int, error) {
	res, err := c.db.ExecContext(ctx, `
        UPDATE conversations SET active=FALSE
        WHERE active=TRUE
          AND last_message_at IS NOT NULL
          AND last_message_at < now() - make_interval(days => $1)
    `, idleDays)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (c *conversations) List(ctx context.Context, accountID string) ([]*model.Conversation, error) {
	rows, err := c.db.QueryContext(ctx, `
        SELECT `+conversationCols+` FROM conversations
        WHERE account_id=$1
        ORDER BY last_message_at DESC NULLS LAST, creation_time DESC
    `, accountID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []*model.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, conv)
	}
	return res, rows.Err()
}

// --- Messages ---

type messages struct{ db *sql.DB }

const messageCols = `message_id, conversation_id, account_id, role, content, direction, source,
       channel, external_message_id, precedes_user_reply, metadata, creation_time`

func scanMessage(row interface{ Scan(...interface{}) error }) (*model.Message, error) {
	var out model.Message
	var role, direction, source, channel string
	var metadata []byte
	if err := row.Scan(&out.MessageID, &out.ConversationID, &out.AccountID, &role, &out.Content,
		&direction, &source, &channel, &out.ExternalMessageID, &out.PrecedesUserReply,
		&metadata, &out.CreationTime); err != nil {
		return nil, err
	}
	out.Role = model.Role(role)
	out.Direction = model.Direction(direction)
	out.Source = model.Source(source)
	out.Channel = model.Channel(channel)
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &out.Metadata)
	}
	return &out, nil
}

func (m *messages) Create(ctx context.Context, msg *model.Message) (*model.Message, error) {
	if !msg.Source.ConsistentWith(msg.Direction) {
		return nil, fmt.Errorf("%w: source %q is inconsistent with direction %q", model.ErrValidation, msg.Source, msg.Direction)
	}
	id := msg.MessageID
	if id == "" {
		id = uuid.New().String()
	}
	var metadata []byte
	if msg.Metadata != nil {
		b, err := json.Marshal(msg.Metadata)
		if err != nil {
			return nil, err
		}
		metadata = b
	}
	var created time.Time
	row := m.db.QueryRowContext(ctx, `
        INSERT INTO messages
            (message_id, conversation_id, account_id, role, content, direction, source,
             channel, external_message_id, precedes_user_reply, metadata)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        ON CONFLICT (conversation_id, external_message_id, direction)
            WHERE external_message_id IS NOT NULL
            DO NOTHING
        RETURNING creation_time
    `, id, msg.ConversationID, msg.AccountID, string(msg.Role), msg.Content,
		string(msg.Direction), string(msg.Source), string(msg.Channel),
		msg.ExternalMessageID, msg.PrecedesUserReply, metadata)
	if err := row.Scan(&created); err != nil {
		if errors.Is(err, sql.ErrNoRows) && msg.ExternalMessageID != nil {
			// Duplicate webhook delivery: return the row the first delivery
			// stored, unchanged.
			return m.FindByExternalID(ctx, msg.ConversationID, *msg.ExternalMessageID)
		}
		return nil, err
	}
	out := *msg
	out.MessageID = id
	out.CreationTime = created
	return &out, nil
}

func (m *messages) GetByID(ctx context.Context, conversationID, messageID string) (*model.Message, error) {
	row := m.db.QueryRowContext(ctx, `
        SELECT `+messageCols+` FROM messages
        WHERE conversation_id=$1 AND message_id=$2
    `, conversationID, messageID)
	out, err := scanMessage(row)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return out, nil
}

func (m *messages) List(ctx context.Context, req model.ListMessagesRequest) ([]*model.Message, error) {
	q := `SELECT ` + messageCols + ` FROM messages WHERE conversation_id=$1`
	args := []interface{}{req.ConversationID}
	if req.ExcludePrecedesUserReply {
		q += ` AND precedes_user_reply=FALSE`
	}
	if req.SinceDays > 0 {
		args = append(args, req.SinceDays)
		q += fmt.Sprintf(` AND creation_time >= now() - make_interval(days => $%d)`, len(args))
	}
	if len(req.Roles) > 0 {
		placeholders := ""
		for i, r := range req.Roles {
			args = append(args, string(r))
			if i > 0 {
				placeholders += ","
			}
			placeholders += fmt.Sprintf("$%d", len(args))
		}
		q += ` AND role IN (` + placeholders + `)`
	}
	// Fetch newest-first so LIMIT keeps the most recent rows, then restore
	// chronological order in memory.
	q += ` ORDER BY creation_time DESC`
	if req.Limit > 0 {
		args = append(args, req.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	rows, err := m.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []*model.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
		res[i], res[j] = res[j], res[i]
	}
	return res, nil
}

func (m *messages) FindByExternalID(ctx context.Context, conversationID, externalMessageID string) (*model.Message, error) {
	row := m.db.QueryRowContext(ctx, `
        SELECT `+messageCols+` FROM messages
        WHERE conversation_id=$1 AND external_message_id=$2
        ORDER BY creation_time ASC LIMIT 1
    `, conversationID, externalMessageID)
	out, err := scanMessage(row)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return out, nil
}

func (m *messages) Update(ctx context.Context, conversationID, messageID string, patch model.MessagePatch) (*model.Message, error) {
	q := `UPDATE messages SET `
	args := []interface{}{}
	sep := ""
	if patch.ExternalMessageID != nil {
		args = append(args, *patch.ExternalMessageID)
		q += fmt.Sprintf("%sexternal_message_id=$%d", sep, len(args))
		sep = ", "
	}
	if patch.PrecedesUserReply != nil {
		args = append(args, *patch.PrecedesUserReply)
		q += fmt.Sprintf("%sprecedes_user_reply=$%d", sep, len(args))
		sep = ", "
	}
	if patch.Metadata != nil {
		b, err := json.Marshal(patch.Metadata)
		if err != nil {
			return nil, err
		}
		args = append(args, b)
		q += fmt.Sprintf("%smetadata=$%d", sep, len(args))
		sep = ", "
	}
	if sep == "" {
		return m.GetByID(ctx, conversationID, messageID)
	}
	args = append(args, conversationID)
	q += fmt.Sprintf(" WHERE conversation_id=$%d", len(args))
	args = append(args, messageID)
	q += fmt.Sprintf(" AND message_id=$%d RETURNING "+messageCols, len(args))

	row := m.db.QueryRowContext(ctx, q, args...)
	out, err := scanMessage(row)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return out, nil
}

func (m *messages) CountByConversation(ctx context.Context, conversationID string) (int, error) {
	var n int
	row := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE conversation_id=$1`, conversationID)
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (m *messages) DeleteByConversation(ctx context.Context, conversationID string) error {
	_, err := m.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id=$1`, conversationID)
	return err
}

// --- Settings ---

type settings struct{ db *sql.DB }

func (s *settings) Get(ctx context.Context, accountID string) (*model.AccountSettings, error) {
	var out model.AccountSettings
	var provider string
	row := s.db.QueryRowContext(ctx, `
        SELECT account_id, context_window_days, context_window_messages, max_context_tokens,
               enable_semantic_search, semantic_search_limit, semantic_similarity_threshold,
               default_ai_provider, openai_model, anthropic_model
        FROM account_settings WHERE account_id=$1
    `, accountID)
	err := row.Scan(&out.AccountID, &out.ContextWindowDays, &out.ContextWindowMessages,
		&out.MaxContextTokens, &out.EnableSemanticSearch, &out.SemanticSearchLimit,
		&out.SemanticSimilarityThreshold, &provider, &out.OpenAIModel, &out.AnthropicModel)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DefaultSettings(accountID), nil
	}
	if err != nil {
		return nil, err
	}
	out.DefaultAIProvider = model.AIProvider(provider)
	return &out, nil
}

func (s *settings) Upsert(ctx context.Context, in *model.AccountSettings) (*model.AccountSettings, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO account_settings
            (account_id, context_window_days, context_window_messages, max_context_tokens,
             enable_semantic_search, semantic_search_limit, semantic_similarity_threshold,
             default_ai_provider, openai_model, anthropic_model)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (account_id) DO UPDATE SET
            context_window_days=EXCLUDED.context_window_days,
            context_window_messages=EXCLUDED.context_window_messages,
            max_context_tokens=EXCLUDED.max_context_tokens,
            enable_semantic_search=EXCLUDED.enable_semantic_search,
            semantic_search_limit=EXCLUDED.semantic_search_limit,
            semantic_similarity_threshold=EXCLUDED.semantic_similarity_threshold,
            default_ai_provider=EXCLUDED.default_ai_provider,
            openai_model=EXCLUDED.openai_model,
            anthropic_model=EXCLUDED.anthropic_model
    `, in.AccountID, in.ContextWindowDays, in.ContextWindowMessages, in.MaxContextTokens,
		in.EnableSemanticSearch, in.SemanticSearchLimit, in.SemanticSimilarityThreshold,
		string(in.DefaultAIProvider), in.OpenAIModel, in.AnthropicModel)
	if err != nil {
		return nil, err
	}
	return in, nil
}
