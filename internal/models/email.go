package models

import "time"

// Label is the folder classification of a single email.
type Label string

const (
	LabelInbox Label = "inbox"
	LabelSent  Label = "sent"
	LabelDraft Label = "draft"
)

// Address is a sender or recipient identity scoped to one account.
type Address struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Address   string `json:"address"`
	Name      string `json:"name"`
	Raw       string `json:"raw"`
}

// Thread groups emails of one conversation. The folder flags are derived
// from the labels of all emails currently in the thread.
type Thread struct {
	ID             string     `json:"id"`
	AccountID      string     `json:"account_id"`
	Subject        string     `json:"subject"`
	LastMessageAt  *time.Time `json:"last_message_at"`
	InboxStatus    bool       `json:"inbox_status"`
	SentStatus     bool       `json:"sent_status"`
	DraftStatus    bool       `json:"draft_status"`
	ParticipantIDs []string   `json:"participant_ids"`
}

type Email struct {
	ID               string       `json:"id"`
	ThreadID         *string      `json:"thread_id"`
	AccountID        string       `json:"account_id"`
	MessageIDHeader  string       `json:"message_id_header"`
	InReplyTo        string       `json:"in_reply_to"`
	References       []string     `json:"references"`
	FromID           string       `json:"from_id"`
	ToIDs            []string     `json:"to_ids"`
	CcIDs            []string     `json:"cc_ids"`
	BccIDs           []string     `json:"bcc_ids"`
	ReplyToIDs       []string     `json:"reply_to_ids"`
	Subject          string       `json:"subject"`
	SentAt           time.Time    `json:"sent_at"`
	ReceivedAt       time.Time    `json:"received_at"`
	CreatedTime      time.Time    `json:"created_time"`
	LastModifiedTime time.Time    `json:"last_modified_time"`
	BodyHTML         string       `json:"body_html"`
	BodyText         string       `json:"body_text"`
	Snippet          string       `json:"snippet"`
	SysLabels        []string     `json:"sys_labels"`
	Label            Label        `json:"label"`
	HasAttachments   bool         `json:"has_attachments"`
	IsRead           bool         `json:"is_read"`
	IsStarred        bool         `json:"is_starred"`
	Attachments      []Attachment `json:"attachments,omitempty"`
}

type Attachment struct {
	ID          string `json:"id"`
	EmailID     string `json:"email_id"`
	Filename    string `json:"filename"`
	MimeType    string `json:"mime_type"`
	Size        int64  `json:"size"`
	ContentID   string `json:"content_id,omitempty"`
	Inline      bool   `json:"inline"`
	Content     []byte `json:"-"`
	StoragePath string `json:"storage_path,omitempty"`
}
