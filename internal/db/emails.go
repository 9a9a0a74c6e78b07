package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/store"
)

const emailColumns = `
	id,
	thread_id,
	account_id,
	message_id_header,
	in_reply_to,
	email_references,
	from_id,
	to_ids,
	cc_ids,
	bcc_ids,
	reply_to_ids,
	subject,
	sent_at,
	received_at,
	created_time,
	last_modified_time,
	body_html,
	body_text,
	snippet,
	sys_labels,
	label,
	has_attachments,
	is_read,
	is_starred`

func scanEmail(row pgx.Row) (*models.Email, error) {
	var email models.Email
	err := row.Scan(
		&email.ID,
		&email.ThreadID,
		&email.AccountID,
		&email.MessageIDHeader,
		&email.InReplyTo,
		&email.References,
		&email.FromID,
		&email.ToIDs,
		&email.CcIDs,
		&email.BccIDs,
		&email.ReplyToIDs,
		&email.Subject,
		&email.SentAt,
		&email.ReceivedAt,
		&email.CreatedTime,
		&email.LastModifiedTime,
		&email.BodyHTML,
		&email.BodyText,
		&email.Snippet,
		&email.SysLabels,
		&email.Label,
		&email.HasAttachments,
		&email.IsRead,
		&email.IsStarred,
	)
	if err != nil {
		return nil, err
	}
	return &email, nil
}

// SaveEmail creates or overwrites an email keyed by its id.
func SaveEmail(ctx context.Context, q Querier, email *models.Email) error {
	_, err := q.Exec(ctx, `
		INSERT INTO emails (`+emailColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
		ON CONFLICT (id) DO UPDATE SET
			thread_id = EXCLUDED.thread_id,
			message_id_header = EXCLUDED.message_id_header,
			in_reply_to = EXCLUDED.in_reply_to,
			email_references = EXCLUDED.email_references,
			from_id = EXCLUDED.from_id,
			to_ids = EXCLUDED.to_ids,
			cc_ids = EXCLUDED.cc_ids,
			bcc_ids = EXCLUDED.bcc_ids,
			reply_to_ids = EXCLUDED.reply_to_ids,
			subject = EXCLUDED.subject,
			sent_at = EXCLUDED.sent_at,
			received_at = EXCLUDED.received_at,
			created_time = EXCLUDED.created_time,
			last_modified_time = EXCLUDED.last_modified_time,
			body_html = EXCLUDED.body_html,
			body_text = EXCLUDED.body_text,
			snippet = EXCLUDED.snippet,
			sys_labels = EXCLUDED.sys_labels,
			label = EXCLUDED.label,
			has_attachments = EXCLUDED.has_attachments,
			is_read = EXCLUDED.is_read,
			is_starred = EXCLUDED.is_starred
	`,
		email.ID,
		email.ThreadID,
		email.AccountID,
		email.MessageIDHeader,
		email.InReplyTo,
		nonNil(email.References),
		email.FromID,
		nonNil(email.ToIDs),
		nonNil(email.CcIDs),
		nonNil(email.BccIDs),
		nonNil(email.ReplyToIDs),
		email.Subject,
		email.SentAt,
		email.ReceivedAt,
		email.CreatedTime,
		email.LastModifiedTime,
		email.BodyHTML,
		email.BodyText,
		email.Snippet,
		nonNil(email.SysLabels),
		email.Label,
		email.HasAttachments,
		email.IsRead,
		email.IsStarred,
	)
	if err != nil {
		return fmt.Errorf("failed to save email: %w", err)
	}
	return nil
}

// GetEmail returns an email by its id.
func GetEmail(ctx context.Context, q Querier, id string) (*models.Email, error) {
	email, err := scanEmail(q.QueryRow(ctx, `SELECT `+emailColumns+` FROM emails WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrEmailNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email: %w", err)
	}
	return email, nil
}

// FindEmailByMessageID looks up an account's email by its Message-ID header.
// When several match, the lowest id wins so the answer is stable.
func FindEmailByMessageID(ctx context.Context, q Querier, accountID, messageID string) (*models.Email, error) {
	email, err := scanEmail(q.QueryRow(ctx, `
		SELECT `+emailColumns+`
		FROM emails
		WHERE account_id = $1 AND message_id_header = $2
		ORDER BY id
		LIMIT 1
	`, accountID, messageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrEmailNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find email by message id: %w", err)
	}
	return email, nil
}

// FindEmailsByThreadID returns the thread's emails ordered by receipt time.
func FindEmailsByThreadID(ctx context.Context, q Querier, threadID string) ([]*models.Email, error) {
	rows, err := q.Query(ctx, `
		SELECT `+emailColumns+`
		FROM emails
		WHERE thread_id = $1
		ORDER BY received_at, id
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to get emails for thread: %w", err)
	}
	defer rows.Close()

	var emails []*models.Email
	for rows.Next() {
		email, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan email: %w", err)
		}
		emails = append(emails, email)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating emails: %w", err)
	}

	return emails, nil
}

// SaveAttachment creates or updates an attachment keyed by its id.
func SaveAttachment(ctx context.Context, q Querier, attachment *models.Attachment) error {
	_, err := q.Exec(ctx, `
		INSERT INTO attachments (id, email_id, filename, mime_type, size, content_id, inline, content, storage_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			filename = EXCLUDED.filename,
			mime_type = EXCLUDED.mime_type,
			size = EXCLUDED.size,
			content_id = EXCLUDED.content_id,
			inline = EXCLUDED.inline,
			content = EXCLUDED.content,
			storage_path = EXCLUDED.storage_path
	`,
		attachment.ID,
		attachment.EmailID,
		attachment.Filename,
		attachment.MimeType,
		attachment.Size,
		attachment.ContentID,
		attachment.Inline,
		attachment.Content,
		attachment.StoragePath,
	)
	if err != nil {
		return fmt.Errorf("failed to save attachment: %w", err)
	}
	return nil
}

// GetAttachmentsForEmail returns the attachment metadata of an email.
func GetAttachmentsForEmail(ctx context.Context, q Querier, emailID string) ([]models.Attachment, error) {
	rows, err := q.Query(ctx, `
		SELECT id, email_id, filename, mime_type, size, content_id, inline, storage_path
		FROM attachments
		WHERE email_id = $1
		ORDER BY id
	`, emailID)
	if err != nil {
		return nil, fmt.Errorf("failed to get attachments: %w", err)
	}
	defer rows.Close()

	var attachments []models.Attachment
	for rows.Next() {
		var attachment models.Attachment
		if err := rows.Scan(
			&attachment.ID,
			&attachment.EmailID,
			&attachment.Filename,
			&attachment.MimeType,
			&attachment.Size,
			&attachment.ContentID,
			&attachment.Inline,
			&attachment.StoragePath,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		attachments = append(attachments, attachment)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attachments: %w", err)
	}

	return attachments, nil
}
