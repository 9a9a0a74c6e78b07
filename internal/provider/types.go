package provider

import "encoding/json"

// StartSyncResponse is returned by POST /email/sync.
type StartSyncResponse struct {
	SyncUpdatedToken string `json:"syncUpdatedToken"`
	SyncDeletedToken string `json:"syncDeletedToken"`
	Ready            bool   `json:"ready"`
}

// ChangesPage is one page of GET /email/sync/updated.
type ChangesPage struct {
	NextPageToken  string        `json:"nextPageToken"`
	NextDeltaToken string        `json:"nextDeltaToken"`
	Length         int           `json:"length"`
	Records        []EmailRecord `json:"records"`
}

// EmailRecord is a message as the provider reports it. Address fields stay raw
// because the provider sends them in several shapes.
type EmailRecord struct {
	ID                 string            `json:"id"`
	ThreadID           string            `json:"threadId"`
	CreatedTime        string            `json:"createdTime"`
	LastModifiedTime   string            `json:"lastModifiedTime"`
	SentAt             string            `json:"sentAt"`
	ReceivedAt         string            `json:"receivedAt"`
	InternetMessageID  string            `json:"internetMessageId"`
	Subject            string            `json:"subject"`
	SysLabels          []string          `json:"sysLabels"`
	Keywords           []string          `json:"keywords"`
	SysClassifications []string          `json:"sysClassifications"`
	From               json.RawMessage   `json:"from"`
	To                 json.RawMessage   `json:"to"`
	Cc                 json.RawMessage   `json:"cc"`
	Bcc                json.RawMessage   `json:"bcc"`
	ReplyTo            json.RawMessage   `json:"replyTo"`
	HasAttachments     bool              `json:"hasAttachments"`
	Body               string            `json:"body"`
	BodySnippet        string            `json:"bodySnippet"`
	InReplyTo          string            `json:"inReplyTo"`
	References         string            `json:"references"`
	Attachments        []EmailAttachment `json:"attachments"`
}

// EmailAttachment carries base64 content when the provider inlines it.
type EmailAttachment struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	MimeType  string `json:"mimeType"`
	Size      int64  `json:"size"`
	Inline    bool   `json:"inline"`
	ContentID string `json:"contentId"`
	Content   string `json:"content"`
}

// Subscription is a webhook registration for change notifications.
type Subscription struct {
	ID              int    `json:"id"`
	Resource        string `json:"resource"`
	NotificationURL string `json:"notificationUrl"`
	Active          bool   `json:"active"`
}

// Notification is the body of a change webhook.
type Notification struct {
	Subscription int                   `json:"subscription"`
	Resource     string                `json:"resource"`
	AccountID    AccountID             `json:"accountId"`
	Payloads     []NotificationPayload `json:"payloads"`
}

type NotificationPayload struct {
	ID         string `json:"id"`
	ChangeType string `json:"changeType"`
}

// AccountID accepts the account id as a JSON number or string.
type AccountID string

func (a *AccountID) UnmarshalJSON(data []byte) error {
	var number json.Number
	if err := json.Unmarshal(data, &number); err == nil {
		*a = AccountID(number.String())
		return nil
	}

	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	*a = AccountID(text)
	return nil
}
