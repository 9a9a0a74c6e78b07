package normalize

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailsync/internal/models"
	"go.uber.org/zap"
)

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func TestFromMIME(t *testing.T) {
	src := crlf(`Message-ID: <m2@example.com>
In-Reply-To: <m1@example.com>
References: <m0@example.com> <m1@example.com>
Date: Fri, 01 Mar 2024 10:00:00 +0000
From: Alice <alice@example.com>
To: bob@example.com, Carol <carol@example.com>
Cc: dave@example.com
Subject: Re: Plans
Content-Type: text/plain; charset=utf-8

See you   at
noon.
`)

	received := time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC)
	d, err := FromMIME(src, MIMEMeta{Flags: []string{imap.SeenFlag, imap.FlaggedFlag}, InternalDate: received}, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "m2@example.com", d.ID)
	assert.Equal(t, "m2@example.com", d.MessageIDHeader)
	assert.False(t, d.UsedFallbackID)
	assert.Equal(t, "m1@example.com", d.InReplyTo)
	assert.Equal(t, []string{"m0@example.com", "m1@example.com"}, d.References)
	assert.Equal(t, Address{Address: "alice@example.com", Name: "Alice", Raw: "Alice <alice@example.com>"}, d.From)
	require.Len(t, d.To, 2)
	assert.Equal(t, "carol@example.com", d.To[1].Address)
	require.Len(t, d.Cc, 1)
	assert.Equal(t, "Re: Plans", d.Subject)
	assert.True(t, d.SentAt.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, received, d.ReceivedAt)
	assert.Equal(t, "See you at noon.", d.Snippet)
	assert.Contains(t, d.BodyHTML, "<br>")
	assert.Equal(t, models.LabelInbox, d.Label)
	assert.True(t, d.IsRead)
	assert.True(t, d.IsStarred)
	assert.False(t, d.HasAttachments)
	assert.Equal(t, "dave@example.com", d.Cc[0].Address)
}

func TestFromMIMEStripsNULBytes(t *testing.T) {
	src := []byte("Message-ID: <nul@example.com>\r\n" +
		"From: alice@example.com\r\n" +
		"Subject: Bad\x00subject\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"body\x00with\xffjunk\r\n")

	d, err := FromMIME(src, MIMEMeta{InternalDate: time.Now()}, zap.NewNop())
	require.NoError(t, err)

	for name, value := range map[string]string{
		"subject":   d.Subject,
		"body text": d.BodyText,
		"body html": d.BodyHTML,
		"snippet":   d.Snippet,
	} {
		assert.NotContains(t, value, "\x00", name)
		assert.True(t, utf8.ValidString(value), name)
	}
	assert.Equal(t, "Badsubject", d.Subject)
	assert.Contains(t, d.BodyText, "bodywith")
}

func TestFromMIMEFallbackID(t *testing.T) {
	src := crlf(`Date: Fri, 01 Mar 2024 10:00:00 +0000
From: alice@example.com
To: bob@example.com
Subject: No id here
Content-Type: text/plain

body
`)

	first, err := FromMIME(src, MIMEMeta{InternalDate: time.Now()}, zap.NewNop())
	require.NoError(t, err)
	second, err := FromMIME(src, MIMEMeta{InternalDate: time.Now().Add(time.Hour)}, zap.NewNop())
	require.NoError(t, err)

	assert.True(t, first.UsedFallbackID)
	assert.Empty(t, first.MessageIDHeader)
	assert.Equal(t, "alice@example.com_No_id_here_2024-03-01T10_00_00Z", first.ID)
	assert.Equal(t, first.ID, second.ID)
}

func TestFromMIMELowercaseHeader(t *testing.T) {
	src := crlf(`message-id: <lower@example.com>
From: alice@example.com
Subject: x
Content-Type: text/plain

body
`)

	d, err := FromMIME(src, MIMEMeta{}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "lower@example.com", d.ID)
}

func TestFromMIMEAttachments(t *testing.T) {
	src := crlf(`Message-ID: <att@example.com>
From: alice@example.com
To: bob@example.com
Subject: Report
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="XYZ"

--XYZ
Content-Type: text/html; charset=utf-8

<p>Attached</p>
--XYZ
Content-Type: text/plain; name="report.txt"
Content-Disposition: attachment; filename="report.txt"

numbers
--XYZ--
`)

	d, err := FromMIME(src, MIMEMeta{}, zap.NewNop())
	require.NoError(t, err)

	assert.True(t, d.HasAttachments)
	require.Len(t, d.Attachments, 1)
	assert.Equal(t, "report.txt", d.Attachments[0].Filename)
	assert.Equal(t, "text/plain", d.Attachments[0].MimeType)
	assert.False(t, d.Attachments[0].Inline)
	assert.Contains(t, d.BodyHTML, "<p>Attached</p>")
	assert.False(t, d.IsRead)
}

func TestFromMIMEMalformed(t *testing.T) {
	_, err := FromMIME(nil, MIMEMeta{}, zap.NewNop())
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = FromMIME([]byte("   \r\n"), MIMEMeta{}, zap.NewNop())
	assert.ErrorIs(t, err, ErrMalformed)
}
