// Package store defines the persistence interface and implementations.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/anonymousbeing0001-cmyk/CasperAi/internal/domain"
)

// ErrNotFound is returned when a referenced entity does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the interface for conversation persistence. Both
// SQLiteStore and PostgresStore implement this interface.
//
// AppendMessage also bumps the owning conversation's updated_at, and
// ListMessages returns messages in ascending creation-time order; that
// ordering is the canonical transcript replayed to completion backends.
type Store interface {
	// Conversation operations
	CreateConversation(ctx context.Context, conversation *domain.Conversation) error
	GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error)
	ListConversations(ctx context.Context) ([]domain.Conversation, error)
	// DeleteConversation cascades to the conversation's messages and
	// attachment records. Deleting an unknown id returns ErrNotFound.
	DeleteConversation(ctx context.Context, conversationID string) error

	// Message operations
	AppendMessage(ctx context.Context, message *domain.Message) error
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error

	// Attachment operations
	AddAttachment(ctx context.Context, attachment *domain.Attachment) error
	ListAttachments(ctx context.Context, conversationID string) ([]domain.Attachment, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// Open selects a store implementation from the DSN: postgres:// URLs get
// the Postgres store, everything else is treated as a SQLite DSN.
func Open(ctx context.Context, dsn string) (Store, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return NewPostgresStore(ctx, dsn)
	}
	return NewSQLiteStore(dsn)
}
