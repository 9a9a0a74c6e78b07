package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/store"
)

// SaveThread saves or updates a thread in the database.
func SaveThread(ctx context.Context, q Querier, thread *models.Thread) error {
	_, err := q.Exec(ctx, `
		INSERT INTO threads (
			id,
			account_id,
			subject,
			last_message_at,
			inbox_status,
			sent_status,
			draft_status,
			participant_ids
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			subject = EXCLUDED.subject,
			last_message_at = EXCLUDED.last_message_at,
			inbox_status = EXCLUDED.inbox_status,
			sent_status = EXCLUDED.sent_status,
			draft_status = EXCLUDED.draft_status,
			participant_ids = EXCLUDED.participant_ids
	`,
		thread.ID,
		thread.AccountID,
		thread.Subject,
		thread.LastMessageAt,
		thread.InboxStatus,
		thread.SentStatus,
		thread.DraftStatus,
		nonNil(thread.ParticipantIDs),
	)
	if err != nil {
		return fmt.Errorf("failed to save thread: %w", err)
	}
	return nil
}

// GetThreadByID returns a thread by its ID.
func GetThreadByID(ctx context.Context, q Querier, threadID string) (*models.Thread, error) {
	var thread models.Thread

	err := q.QueryRow(ctx, `
		SELECT id, account_id, subject, last_message_at, inbox_status, sent_status, draft_status, participant_ids
		FROM threads
		WHERE id = $1
	`, threadID).Scan(
		&thread.ID,
		&thread.AccountID,
		&thread.Subject,
		&thread.LastMessageAt,
		&thread.InboxStatus,
		&thread.SentStatus,
		&thread.DraftStatus,
		&thread.ParticipantIDs,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrThreadNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}

	return &thread, nil
}

// UpdateThreadFlags sets the folder flags derived from the thread's emails.
func UpdateThreadFlags(ctx context.Context, q Querier, threadID string, inbox, sent, draft bool) error {
	tag, err := q.Exec(ctx, `
		UPDATE threads
		SET inbox_status = $2, sent_status = $3, draft_status = $4
		WHERE id = $1
	`, threadID, inbox, sent, draft)
	if err != nil {
		return fmt.Errorf("failed to update thread flags: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrThreadNotFound
	}
	return nil
}

// GetThreadsForAccount returns an account's threads, most recent first.
func GetThreadsForAccount(ctx context.Context, q Querier, accountID string, limit, offset int) ([]*models.Thread, error) {
	rows, err := q.Query(ctx, `
		SELECT id, account_id, subject, last_message_at, inbox_status, sent_status, draft_status, participant_ids
		FROM threads
		WHERE account_id = $1
		ORDER BY last_message_at DESC NULLS LAST
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get threads: %w", err)
	}
	defer rows.Close()

	var threads []*models.Thread
	for rows.Next() {
		var thread models.Thread
		if err := rows.Scan(
			&thread.ID,
			&thread.AccountID,
			&thread.Subject,
			&thread.LastMessageAt,
			&thread.InboxStatus,
			&thread.SentStatus,
			&thread.DraftStatus,
			&thread.ParticipantIDs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		threads = append(threads, &thread)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating threads: %w", err)
	}

	return threads, nil
}

// nonNil keeps NOT NULL array columns from receiving NULL.
func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
