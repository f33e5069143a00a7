package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/domain"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool
// and runs migrations.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			conversation_id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			model TEXT NOT NULL,
			mode TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(conversation_id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			model TEXT,
			token_usage INTEGER,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS attachments (
			attachment_id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(conversation_id) ON DELETE CASCADE,
			filename TEXT NOT NULL,
			size BIGINT NOT NULL,
			content_type TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attachments_conversation ON attachments(conversation_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateConversation creates a new conversation.
func (s *PostgresStore) CreateConversation(ctx context.Context, c *domain.Conversation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (conversation_id, title, model, mode, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.Title, c.Model, string(c.Mode), c.CreatedAt, c.UpdatedAt)
	return err
}

// GetConversation retrieves a conversation by ID.
func (s *PostgresStore) GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := s.pool.QueryRow(ctx, `
		SELECT conversation_id, title, model, mode, created_at, updated_at
		FROM conversations WHERE conversation_id = $1
	`, conversationID).Scan(&c.ID, &c.Title, &c.Model, &c.Mode, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// ListConversations retrieves all conversations, most recently updated first.
func (s *PostgresStore) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT conversation_id, title, model, mode, created_at, updated_at
		FROM conversations ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []domain.Conversation
	for rows.Next() {
		var c domain.Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.Model, &c.Mode, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

// DeleteConversation deletes a conversation; ON DELETE CASCADE removes
// its messages and attachment records.
func (s *PostgresStore) DeleteConversation(ctx context.Context, conversationID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM conversations WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage inserts a message and bumps the conversation's updated_at
// in one transaction.
func (s *PostgresStore) AppendMessage(ctx context.Context, m *domain.Message) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE conversations SET updated_at = $1 WHERE conversation_id = $2`,
		m.CreatedAt, m.ConversationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	var model sql.NullString
	if m.Model != "" {
		model = sql.NullString{String: m.Model, Valid: true}
	}
	var usage sql.NullInt64
	if m.TokenUsage != nil {
		usage = sql.NullInt64{Int64: int64(*m.TokenUsage), Valid: true}
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO messages (message_id, conversation_id, role, content, model, token_usage, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, m.ID, m.ConversationID, string(m.Role), m.Content, model, usage, m.CreatedAt)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ListMessages retrieves all messages of a conversation in ascending
// creation-time order.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT message_id, conversation_id, role, content, model, token_usage, created_at
		FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC, message_id ASC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var m domain.Message
		var model sql.NullString
		var usage sql.NullInt64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &model, &usage, &m.CreatedAt); err != nil {
			return nil, err
		}
		if model.Valid {
			m.Model = model.String
		}
		if usage.Valid {
			u := int(usage.Int64)
			m.TokenUsage = &u
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// DeleteMessage deletes a single message.
func (s *PostgresStore) DeleteMessage(ctx context.Context, messageID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM messages WHERE message_id = $1`, messageID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddAttachment records an attachment's metadata.
func (s *PostgresStore) AddAttachment(ctx context.Context, a *domain.Attachment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO attachments (attachment_id, conversation_id, filename, size, content_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, a.ID, a.ConversationID, a.Filename, a.Size, a.ContentType, a.CreatedAt)
	return err
}

// ListAttachments retrieves attachment records for a conversation.
func (s *PostgresStore) ListAttachments(ctx context.Context, conversationID string) ([]domain.Attachment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT attachment_id, conversation_id, filename, size, content_type, created_at
		FROM attachments WHERE conversation_id = $1 ORDER BY created_at ASC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attachments []domain.Attachment
	for rows.Next() {
		var a domain.Attachment
		if err := rows.Scan(&a.ID, &a.ConversationID, &a.Filename, &a.Size, &a.ContentType, &a.CreatedAt); err != nil {
			return nil, err
		}
		attachments = append(attachments, a)
	}
	return attachments, rows.Err()
}
