package normalize

import (
	"bytes"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/jhillyerd/enmime"
	"github.com/vdavid/mailsync/internal/models"
	"go.uber.org/zap"
)

// messageIDHeaders are tried in order when the canonical lookup finds nothing.
var messageIDHeaders = []string{"Message-ID", "Message-Id", "message-id", "MESSAGE-ID"}

// MIMEMeta carries what the server reports next to the message source.
type MIMEMeta struct {
	Flags        []string
	InternalDate time.Time
}

// FromMIME parses an RFC 822 message fetched from an INBOX.
func FromMIME(src []byte, meta MIMEMeta, log *zap.Logger) (*Draft, error) {
	if len(bytes.TrimSpace(src)) == 0 {
		return nil, fmt.Errorf("%w: empty source", ErrMalformed)
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	now := time.Now().UTC()
	sentAt, dateErr := env.Date()
	if dateErr != nil {
		sentAt = time.Time{}
	}
	receivedAt := meta.InternalDate
	if receivedAt.IsZero() {
		receivedAt = sentAt
	}
	if receivedAt.IsZero() {
		receivedAt = now
	}

	d := &Draft{
		InReplyTo:  firstID(env.GetHeader("In-Reply-To")),
		References: splitIDs(env.GetHeader("References")),
		From:       firstAddress(env, "From"),
		To:         addressList(env, "To"),
		Cc:         addressList(env, "Cc"),
		Bcc:        addressList(env, "Bcc"),
		ReplyTo:    addressList(env, "Reply-To"),
		Subject:    strings.TrimSpace(env.GetHeader("Subject")),

		ReceivedAt:       receivedAt,
		CreatedTime:      receivedAt,
		LastModifiedTime: receivedAt,

		BodyHTML: env.HTML,
		BodyText: env.Text,

		SysLabels: []string{string(models.LabelInbox)},
		Label:     models.LabelInbox,
	}

	d.SentAt = sentAt
	if d.SentAt.IsZero() {
		d.SentAt = receivedAt
	}

	if d.BodyHTML == "" && d.BodyText != "" {
		d.BodyHTML = strings.ReplaceAll(html.EscapeString(d.BodyText), "\n", "<br>")
	}
	d.Snippet = Snippet(cleanText(d.BodyText))

	for _, flag := range meta.Flags {
		switch flag {
		case imap.SeenFlag:
			d.IsRead = true
		case imap.FlaggedFlag:
			d.IsStarred = true
		}
	}

	d.MessageIDHeader = resolveMessageID(env)
	d.ID = d.MessageIDHeader
	if d.ID == "" {
		d.ID = FallbackID(d.From.Address, d.Subject, sentAt)
		d.UsedFallbackID = true
		log.Warn("Message has no Message-ID, using fallback identifier",
			zap.String("message_id", d.ID),
			zap.String("subject", d.Subject),
		)
	}

	for _, part := range env.Attachments {
		d.Attachments = append(d.Attachments, attachmentFromPart(part, false))
	}
	for _, part := range env.Inlines {
		d.Attachments = append(d.Attachments, attachmentFromPart(part, true))
	}
	d.HasAttachments = len(env.Attachments) > 0

	d.sanitize()
	return d, nil
}

func resolveMessageID(env *enmime.Envelope) string {
	for _, name := range messageIDHeaders {
		if id := cleanID(env.GetHeader(name)); id != "" {
			return id
		}
	}
	for _, key := range env.GetHeaderKeys() {
		if strings.EqualFold(key, "message-id") {
			if id := cleanID(env.GetHeader(key)); id != "" {
				return id
			}
		}
	}
	return ""
}

func firstID(value string) string {
	ids := splitIDs(value)
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

func addressList(env *enmime.Envelope, header string) []Address {
	list, err := env.AddressList(header)
	if err != nil {
		// A header that fails strict parsing may still hold usable addresses.
		return ExtractAddresses(env.GetHeader(header))
	}
	result := make([]Address, 0, len(list))
	for _, address := range list {
		if converted := fromMail(address); converted.Address != "" {
			result = append(result, converted)
		}
	}
	return result
}

func firstAddress(env *enmime.Envelope, header string) Address {
	list := addressList(env, header)
	if len(list) == 0 {
		return Address{}
	}
	return list[0]
}

func attachmentFromPart(part *enmime.Part, inline bool) models.Attachment {
	return models.Attachment{
		Filename:  part.FileName,
		MimeType:  part.ContentType,
		Size:      int64(len(part.Content)),
		ContentID: cleanID(part.ContentID),
		Inline:    inline || part.ContentID != "",
		Content:   part.Content,
	}
}
