// Package normalize turns raw protocol messages and provider records into a
// common Draft that the reconciler persists.
package normalize

import (
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vdavid/mailsync/internal/models"
)

// ErrMalformed is returned for a source that cannot be parsed at all.
var ErrMalformed = errors.New("malformed message")

const snippetLength = 200

// Address is a parsed participant before it is registered.
type Address struct {
	Address string
	Name    string
	Raw     string
}

// Draft is a normalized message that has not been stored yet.
type Draft struct {
	// ID is the resolved message identifier, used as the email's primary key.
	ID string
	// RemoteThreadID is set when the source names the thread explicitly.
	RemoteThreadID  string
	MessageIDHeader string
	InReplyTo       string
	References      []string

	From    Address
	To      []Address
	Cc      []Address
	Bcc     []Address
	ReplyTo []Address

	Subject          string
	SentAt           time.Time
	ReceivedAt       time.Time
	CreatedTime      time.Time
	LastModifiedTime time.Time

	BodyHTML string
	BodyText string
	Snippet  string

	SysLabels      []string
	Label          models.Label
	HasAttachments bool
	IsRead         bool
	IsStarred      bool
	Attachments    []models.Attachment

	// UsedFallbackID is true when no Message-ID was present.
	UsedFallbackID bool
}

// sanitize makes every text field storable in a Postgres TEXT column:
// NUL bytes are dropped and invalid UTF-8 sequences become U+FFFD.
func (d *Draft) sanitize() {
	d.ID = cleanText(d.ID)
	d.RemoteThreadID = cleanText(d.RemoteThreadID)
	d.MessageIDHeader = cleanText(d.MessageIDHeader)
	d.InReplyTo = cleanText(d.InReplyTo)
	for i := range d.References {
		d.References[i] = cleanText(d.References[i])
	}

	d.From = d.From.sanitized()
	for _, list := range [][]Address{d.To, d.Cc, d.Bcc, d.ReplyTo} {
		for i := range list {
			list[i] = list[i].sanitized()
		}
	}

	d.Subject = cleanText(d.Subject)
	d.BodyHTML = cleanText(d.BodyHTML)
	d.BodyText = cleanText(d.BodyText)
	d.Snippet = cleanText(d.Snippet)
	for i := range d.SysLabels {
		d.SysLabels[i] = cleanText(d.SysLabels[i])
	}

	for i := range d.Attachments {
		a := &d.Attachments[i]
		a.ID = cleanText(a.ID)
		a.Filename = cleanText(a.Filename)
		a.MimeType = cleanText(a.MimeType)
		a.ContentID = cleanText(a.ContentID)
	}
}

func (a Address) sanitized() Address {
	return Address{Address: cleanText(a.Address), Name: cleanText(a.Name), Raw: cleanText(a.Raw)}
}

func cleanText(s string) string {
	if strings.IndexByte(s, 0) >= 0 {
		s = strings.ReplaceAll(s, "\x00", "")
	}
	return strings.ToValidUTF8(s, "\uFFFD")
}

var unsafeIDChars = regexp.MustCompile(`[^a-zA-Z0-9@.\-]`)

// FallbackID builds a deterministic identifier for a message without a
// Message-ID. A zero date leaves the date segment empty.
func FallbackID(from, subject string, date time.Time) string {
	var formatted string
	if !date.IsZero() {
		formatted = date.UTC().Format(time.RFC3339)
	}
	return unsafeIDChars.ReplaceAllString(from+":"+subject+":"+formatted, "_")
}

// ClassifyLabels maps provider system labels to a single folder label.
func ClassifyLabels(sysLabels []string) models.Label {
	has := func(name string) bool {
		for _, label := range sysLabels {
			if strings.EqualFold(label, name) {
				return true
			}
		}
		return false
	}

	switch {
	case has("inbox"), has("important"):
		return models.LabelInbox
	case has("sent"):
		return models.LabelSent
	case has("draft"):
		return models.LabelDraft
	default:
		return models.LabelInbox
	}
}

// Snippet returns the first runes of text with whitespace collapsed.
func Snippet(text string) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(collapsed) <= snippetLength {
		return collapsed
	}
	runes := []rune(collapsed)
	return string(runes[:snippetLength])
}

// cleanID strips whitespace and angle brackets from a message identifier.
func cleanID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return strings.TrimSpace(id)
}

// splitIDs parses a References-style list of identifiers.
func splitIDs(value string) []string {
	var ids []string
	for _, field := range strings.Fields(strings.ReplaceAll(value, ",", " ")) {
		if id := cleanID(field); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
