package normalize

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/provider"
	"go.uber.org/zap"
)

// FromRecord converts a provider record. The record id becomes the email id.
func FromRecord(rec provider.EmailRecord, log *zap.Logger) (*Draft, error) {
	if strings.TrimSpace(rec.ID) == "" {
		return nil, fmt.Errorf("%w: record without id", ErrMalformed)
	}

	created, ok := tryParseTime(rec.CreatedTime)
	if !ok {
		if rec.CreatedTime != "" {
			log.Warn("Unparseable record time, using now", zap.String("message_id", rec.ID), zap.String("created_time", rec.CreatedTime))
		}
		created = time.Now().UTC()
	}

	d := &Draft{
		ID:              rec.ID,
		RemoteThreadID:  strings.TrimSpace(rec.ThreadID),
		MessageIDHeader: cleanID(rec.InternetMessageID),
		InReplyTo:       firstID(rec.InReplyTo),
		References:      splitIDs(rec.References),

		From:    ExtractAddress(rec.From),
		To:      ExtractAddresses(rec.To),
		Cc:      ExtractAddresses(rec.Cc),
		Bcc:     ExtractAddresses(rec.Bcc),
		ReplyTo: ExtractAddresses(rec.ReplyTo),

		Subject:          strings.TrimSpace(rec.Subject),
		CreatedTime:      created,
		SentAt:           parseTime(rec.SentAt, created),
		ReceivedAt:       parseTime(rec.ReceivedAt, created),
		LastModifiedTime: parseTime(rec.LastModifiedTime, created),

		BodyHTML: rec.Body,
		Snippet:  Snippet(cleanText(rec.BodySnippet)),

		SysLabels: append([]string(nil), rec.SysLabels...),
		Label:     ClassifyLabels(rec.SysLabels),
		IsRead:    !hasLabel(rec.SysLabels, "unread"),
		IsStarred: hasLabel(rec.SysLabels, "flagged"),
	}
	if d.SysLabels == nil {
		d.SysLabels = []string{}
	}

	for _, attachment := range rec.Attachments {
		d.Attachments = append(d.Attachments, models.Attachment{
			ID:        attachment.ID,
			Filename:  attachment.Name,
			MimeType:  attachment.MimeType,
			Size:      attachment.Size,
			ContentID: cleanID(attachment.ContentID),
			Inline:    attachment.Inline,
			Content:   decodeContent(attachment.Content),
		})
	}
	d.HasAttachments = rec.HasAttachments || len(d.Attachments) > 0

	d.sanitize()
	return d, nil
}

// parseTime accepts RFC 3339 with or without fractional seconds and returns
// fallback for empty or unparseable input.
func parseTime(value string, fallback time.Time) time.Time {
	if parsed, ok := tryParseTime(value); ok {
		return parsed
	}
	return fallback
}

func tryParseTime(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}

func hasLabel(labels []string, name string) bool {
	for _, label := range labels {
		if strings.EqualFold(label, name) {
			return true
		}
	}
	return false
}

func decodeContent(content string) []byte {
	if content == "" {
		return nil
	}
	for _, encoding := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if decoded, err := encoding.DecodeString(content); err == nil {
			return decoded
		}
	}
	return nil
}
