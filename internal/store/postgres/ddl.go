package postgres

import (
	"context"
	"database/sql"
)

// Schema statements for the Postgres store. Compose/ops environments normally
// run migrations; EnsureSchema exists for local development and tests.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
        account_id        TEXT PRIMARY KEY,
        name              TEXT NOT NULL,
        location_id       TEXT,
        channel_connected BOOLEAN NOT NULL DEFAULT FALSE,
        creation_time     TIMESTAMPTZ NOT NULL DEFAULT now()
    )`,
	`CREATE TABLE IF NOT EXISTS conversations (
        conversation_id          TEXT PRIMARY KEY,
        account_id               TEXT NOT NULL REFERENCES accounts(account_id),
        external_contact_id      TEXT NOT NULL,
        external_conversation_id TEXT,
        contact_name             TEXT,
        contact_email            TEXT,
        contact_phone            TEXT,
        channel                  TEXT NOT NULL,
        active                   BOOLEAN NOT NULL DEFAULT TRUE,
        message_count            INTEGER NOT NULL DEFAULT 0,
        last_message_at          TIMESTAMPTZ,
        creation_time            TIMESTAMPTZ NOT NULL DEFAULT now()
    )`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_contact
        ON conversations (account_id, external_contact_id) WHERE active`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_external
        ON conversations (account_id, external_conversation_id)`,
	`CREATE TABLE IF NOT EXISTS messages (
        message_id          TEXT PRIMARY KEY,
        conversation_id     TEXT NOT NULL REFERENCES conversations(conversation_id),
        account_id          TEXT NOT NULL,
        role                TEXT NOT NULL,
        content             TEXT NOT NULL,
        direction           TEXT NOT NULL,
        source              TEXT NOT NULL,
        channel             TEXT NOT NULL,
        external_message_id TEXT,
        precedes_user_reply BOOLEAN NOT NULL DEFAULT FALSE,
        metadata            JSONB,
        creation_time       TIMESTAMPTZ NOT NULL DEFAULT now()
    )`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation_time
        ON messages (conversation_id, creation_time)`,
	// Closes the duplicate-webhook gap: redelivered payloads collapse onto
	// the first stored row instead of inserting twice.
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_messages_external
        ON messages (conversation_id, external_message_id, direction)
        WHERE external_message_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS account_settings (
        account_id                    TEXT PRIMARY KEY REFERENCES accounts(account_id),
        context_window_days           INTEGER NOT NULL,
        context_window_messages       INTEGER NOT NULL,
        max_context_tokens            INTEGER NOT NULL,
        enable_semantic_search        BOOLEAN NOT NULL,
        semantic_search_limit         INTEGER NOT NULL,
        semantic_similarity_threshold DOUBLE PRECISION NOT NULL,
        default_ai_provider           TEXT NOT NULL,
        openai_model                  TEXT NOT NULL,
        anthropic_model               TEXT NOT NULL
    )`,
}

// EnsureSchema creates the tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
