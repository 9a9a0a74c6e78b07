// Package store defines the persistence contract of the sync engine.
// The engine is the only writer of threads, emails, addresses and
// attachments; it reads accounts and writes back their cursor.
package store

import (
	"context"
	"errors"

	"github.com/vdavid/mailsync/internal/models"
)

var (
	// ErrAccountNotFound is returned when a requested account cannot be found.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAddressNotFound is returned when no address exists for an account and address string.
	ErrAddressNotFound = errors.New("address not found")
	// ErrThreadNotFound is returned when a requested thread cannot be found.
	ErrThreadNotFound = errors.New("thread not found")
	// ErrEmailNotFound is returned when a requested email cannot be found.
	ErrEmailNotFound = errors.New("email not found")
)

// Store is the account-level persistence used by the orchestrator.
type Store interface {
	GetOrCreateUser(ctx context.Context, email string) (string, error)
	FindAccountByID(ctx context.Context, id string) (*models.Account, error)
	// ListSyncableAccounts returns accounts that carry a password or an access token.
	ListSyncableAccounts(ctx context.Context) ([]*models.Account, error)
	// UpdateCursorAndTimestamp stores the durable cursor and sets last_synced_at to now.
	// A nil cursor keeps the stored one.
	UpdateCursorAndTimestamp(ctx context.Context, id string, cursor *string) error
	MarkNeedsAttention(ctx context.Context, id string, needs bool) error
	AppendSyncLog(ctx context.Context, entry *models.SyncLog) error

	// WithTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the message-level persistence used by the reconciler. Every write is
// an idempotent upsert keyed by the entity's identifier.
type Tx interface {
	GetAddress(ctx context.Context, accountID, address string) (*models.Address, error)
	SaveAddress(ctx context.Context, address *models.Address) error

	GetThread(ctx context.Context, id string) (*models.Thread, error)
	SaveThread(ctx context.Context, thread *models.Thread) error
	UpdateThreadFlags(ctx context.Context, id string, inbox, sent, draft bool) error

	GetEmail(ctx context.Context, id string) (*models.Email, error)
	// FindEmailByMessageID looks up an email of the account by its Message-ID header.
	FindEmailByMessageID(ctx context.Context, accountID, messageID string) (*models.Email, error)
	// FindEmailsByThreadID returns the thread's emails ordered by receipt time.
	FindEmailsByThreadID(ctx context.Context, threadID string) ([]*models.Email, error)
	SaveEmail(ctx context.Context, email *models.Email) error

	SaveAttachment(ctx context.Context, attachment *models.Attachment) error
}
