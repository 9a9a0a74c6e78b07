package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/store"
)

// Store is the PostgreSQL implementation of store.Store.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ store.Store = (*Store)(nil)
	_ store.Tx    = (*txStore)(nil)
)

// NewStore wraps a connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) GetOrCreateUser(ctx context.Context, email string) (string, error) {
	return GetOrCreateUser(ctx, s.pool, email)
}

func (s *Store) FindAccountByID(ctx context.Context, id string) (*models.Account, error) {
	return FindAccountByID(ctx, s.pool, id)
}

func (s *Store) ListSyncableAccounts(ctx context.Context) ([]*models.Account, error) {
	return ListSyncableAccounts(ctx, s.pool)
}

func (s *Store) UpdateCursorAndTimestamp(ctx context.Context, id string, cursor *string) error {
	return UpdateCursorAndTimestamp(ctx, s.pool, id, cursor)
}

func (s *Store) MarkNeedsAttention(ctx context.Context, id string, needs bool) error {
	return MarkNeedsAttention(ctx, s.pool, id, needs)
}

func (s *Store) AppendSyncLog(ctx context.Context, entry *models.SyncLog) error {
	return AppendSyncLog(ctx, s.pool, entry)
}

// WithTx runs fn in a transaction that commits only when fn returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&txStore{q: tx})
	})
}

type txStore struct {
	q Querier
}

func (t *txStore) GetAddress(ctx context.Context, accountID, address string) (*models.Address, error) {
	return GetAddress(ctx, t.q, accountID, address)
}

func (t *txStore) SaveAddress(ctx context.Context, address *models.Address) error {
	return SaveAddress(ctx, t.q, address)
}

func (t *txStore) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	return GetThreadByID(ctx, t.q, id)
}

func (t *txStore) SaveThread(ctx context.Context, thread *models.Thread) error {
	return SaveThread(ctx, t.q, thread)
}

func (t *txStore) UpdateThreadFlags(ctx context.Context, id string, inbox, sent, draft bool) error {
	return UpdateThreadFlags(ctx, t.q, id, inbox, sent, draft)
}

func (t *txStore) GetEmail(ctx context.Context, id string) (*models.Email, error) {
	return GetEmail(ctx, t.q, id)
}

func (t *txStore) FindEmailByMessageID(ctx context.Context, accountID, messageID string) (*models.Email, error) {
	return FindEmailByMessageID(ctx, t.q, accountID, messageID)
}

func (t *txStore) FindEmailsByThreadID(ctx context.Context, threadID string) ([]*models.Email, error) {
	return FindEmailsByThreadID(ctx, t.q, threadID)
}

func (t *txStore) SaveEmail(ctx context.Context, email *models.Email) error {
	return SaveEmail(ctx, t.q, email)
}

func (t *txStore) SaveAttachment(ctx context.Context, attachment *models.Attachment) error {
	return SaveAttachment(ctx, t.q, attachment)
}
