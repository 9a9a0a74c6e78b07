package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/store"
)

const accountColumns = `
	id,
	user_id,
	email_address,
	kind,
	imap_host,
	imap_port,
	imap_username,
	encrypted_password,
	encrypted_access_token,
	cursor,
	last_synced_at,
	needs_attention,
	created_at`

func scanAccount(row pgx.Row) (*models.Account, error) {
	var account models.Account
	err := row.Scan(
		&account.ID,
		&account.UserID,
		&account.EmailAddress,
		&account.Kind,
		&account.IMAPHost,
		&account.IMAPPort,
		&account.IMAPUsername,
		&account.EncryptedPassword,
		&account.EncryptedAccessToken,
		&account.Cursor,
		&account.LastSyncedAt,
		&account.NeedsAttention,
		&account.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// SaveAccount creates or updates a linked account. The cursor and sync
// timestamp are left alone on update; only the orchestrator moves them.
func SaveAccount(ctx context.Context, q Querier, account *models.Account) error {
	_, err := q.Exec(ctx, `
		INSERT INTO accounts (
			id,
			user_id,
			email_address,
			kind,
			imap_host,
			imap_port,
			imap_username,
			encrypted_password,
			encrypted_access_token,
			cursor
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			email_address = EXCLUDED.email_address,
			kind = EXCLUDED.kind,
			imap_host = EXCLUDED.imap_host,
			imap_port = EXCLUDED.imap_port,
			imap_username = EXCLUDED.imap_username,
			encrypted_password = EXCLUDED.encrypted_password,
			encrypted_access_token = EXCLUDED.encrypted_access_token
	`,
		account.ID,
		account.UserID,
		account.EmailAddress,
		account.Kind,
		account.IMAPHost,
		account.IMAPPort,
		account.IMAPUsername,
		account.EncryptedPassword,
		account.EncryptedAccessToken,
		account.Cursor,
	)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// FindAccountByID returns an account by its id.
func FindAccountByID(ctx context.Context, q Querier, id string) (*models.Account, error) {
	account, err := scanAccount(q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// ListSyncableAccounts returns every account that has credentials to sync with.
func ListSyncableAccounts(ctx context.Context, q Querier) ([]*models.Account, error) {
	rows, err := q.Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE encrypted_password IS NOT NULL OR encrypted_access_token IS NOT NULL
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}

// UpdateCursorAndTimestamp stores the durable cursor and the sync time.
// A nil cursor keeps the stored one.
func UpdateCursorAndTimestamp(ctx context.Context, q Querier, id string, cursor *string) error {
	tag, err := q.Exec(ctx, `
		UPDATE accounts
		SET cursor = COALESCE($2, cursor),
			last_synced_at = now()
		WHERE id = $1
	`, id, cursor)
	if err != nil {
		return fmt.Errorf("failed to update cursor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrAccountNotFound
	}
	return nil
}

// MarkNeedsAttention flags or clears an account whose credentials were rejected.
func MarkNeedsAttention(ctx context.Context, q Querier, id string, needs bool) error {
	_, err := q.Exec(ctx, `UPDATE accounts SET needs_attention = $2 WHERE id = $1`, id, needs)
	if err != nil {
		return fmt.Errorf("failed to mark account: %w", err)
	}
	return nil
}

// AppendSyncLog writes the record of one sync run.
func AppendSyncLog(ctx context.Context, q Querier, entry *models.SyncLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	_, err := q.Exec(ctx, `
		INSERT INTO sync_logs (id, account_id, status, messages_synced, error_message, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.AccountID, entry.Status, entry.MessagesSynced, entry.Error, entry.StartedAt, entry.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to append sync log: %w", err)
	}
	return nil
}

// GetSyncLogs returns an account's sync logs, newest first.
func GetSyncLogs(ctx context.Context, q Querier, accountID string) ([]*models.SyncLog, error) {
	rows, err := q.Query(ctx, `
		SELECT id, account_id, status, messages_synced, error_message, started_at, completed_at
		FROM sync_logs
		WHERE account_id = $1
		ORDER BY started_at DESC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.SyncLog
	for rows.Next() {
		var entry models.SyncLog
		if err := rows.Scan(
			&entry.ID,
			&entry.AccountID,
			&entry.Status,
			&entry.MessagesSynced,
			&entry.Error,
			&entry.StartedAt,
			&entry.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		logs = append(logs, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync logs: %w", err)
	}

	return logs, nil
}
