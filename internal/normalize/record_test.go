package normalize

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/provider"
	"go.uber.org/zap"
)

func TestFromRecord(t *testing.T) {
	rec := provider.EmailRecord{
		ID:                "m1",
		ThreadID:          "t1",
		CreatedTime:       "2024-03-01T10:00:00Z",
		LastModifiedTime:  "2024-03-01T11:00:00.123Z",
		SentAt:            "2024-03-01T09:59:00Z",
		ReceivedAt:        "not a date",
		InternetMessageID: "<m1@example.com>",
		Subject:           " Hello ",
		SysLabels:         []string{"sent", "unread"},
		From:              json.RawMessage(`{"address":"alice@example.com","name":"Alice"}`),
		To:                json.RawMessage(`[{"address":"bob@example.com"}]`),
		Cc:                json.RawMessage(`{"value":[{"address":"carol@example.com"}]}`),
		Body:              "<p>Hi</p>",
		BodySnippet:       "Hi  there",
		References:        "<m0@example.com>",
		Attachments: []provider.EmailAttachment{{
			Name:     "a.txt",
			MimeType: "text/plain",
			Size:     3,
			Content:  base64.StdEncoding.EncodeToString([]byte("abc")),
		}},
	}

	d, err := FromRecord(rec, zap.NewNop())
	require.NoError(t, err)

	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "m1", d.ID)
	assert.Equal(t, "t1", d.RemoteThreadID)
	assert.Equal(t, "m1@example.com", d.MessageIDHeader)
	assert.Equal(t, "Hello", d.Subject)
	assert.Equal(t, created, d.CreatedTime)
	assert.Equal(t, created, d.ReceivedAt, "unparseable dates fall back to createdTime")
	assert.Equal(t, time.Date(2024, 3, 1, 9, 59, 0, 0, time.UTC), d.SentAt)
	assert.Equal(t, models.LabelSent, d.Label)
	assert.False(t, d.IsRead)
	assert.Equal(t, "alice@example.com", d.From.Address)
	require.Len(t, d.To, 1)
	require.Len(t, d.Cc, 1)
	assert.Equal(t, "Hi there", d.Snippet)
	assert.Equal(t, []string{"m0@example.com"}, d.References)
	assert.True(t, d.HasAttachments)
	require.Len(t, d.Attachments, 1)
	assert.Equal(t, []byte("abc"), d.Attachments[0].Content)
}

func TestFromRecordDefaults(t *testing.T) {
	before := time.Now().UTC()
	d, err := FromRecord(provider.EmailRecord{ID: "m2", CreatedTime: "garbage"}, zap.NewNop())
	require.NoError(t, err)

	assert.False(t, d.CreatedTime.Before(before))
	assert.Equal(t, d.CreatedTime, d.SentAt)
	assert.Equal(t, models.LabelInbox, d.Label)
	assert.True(t, d.IsRead)
	assert.Empty(t, d.From.Address)
	assert.NotNil(t, d.To)
	assert.NotNil(t, d.SysLabels)
}

func TestFromRecordWithoutID(t *testing.T) {
	_, err := FromRecord(provider.EmailRecord{Subject: "x"}, zap.NewNop())
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestFromRecordSanitizesText(t *testing.T) {
	labels := []string{"inbox"}
	rec := provider.EmailRecord{
		ID:          "m3",
		Subject:     "Hi\x00there",
		Body:        "<p>a\x00b\xffc</p>",
		BodySnippet: "a\x00b",
		SysLabels:   labels,
		From:        json.RawMessage(`{"address":"alice@example.com","name":"Al\u0000ice"}`),
		Attachments: []provider.EmailAttachment{{ID: "att\x001", Name: "r\xffport.pdf"}},
	}

	d, err := FromRecord(rec, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "Hithere", d.Subject)
	assert.Equal(t, "<p>ab\uFFFDc</p>", d.BodyHTML)
	assert.Equal(t, "ab", d.Snippet)
	assert.Equal(t, "Alice", d.From.Name)
	require.Len(t, d.Attachments, 1)
	assert.Equal(t, "att1", d.Attachments[0].ID)
	assert.True(t, utf8.ValidString(d.Attachments[0].Filename))
	assert.Equal(t, []string{"inbox"}, labels)
}
