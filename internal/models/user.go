package models

import (
	"time"
)

// User owns one or more linked mail accounts.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AccountKind selects how an account's mailbox is fetched.
type AccountKind string

const (
	// AccountKindIMAP accounts are polled over IMAP with a stored password.
	AccountKindIMAP AccountKind = "imap"
	// AccountKindProvider accounts are synced through the unified provider API.
	AccountKindProvider AccountKind = "provider"
)

// Account is a linked remote mailbox. Credentials are stored encrypted and
// only decrypted for the lifetime of a single sync.
type Account struct {
	ID                   string      `json:"id"`
	UserID               string      `json:"user_id"`
	EmailAddress         string      `json:"email_address"`
	Kind                 AccountKind `json:"kind"`
	IMAPHost             string      `json:"imap_host"`
	IMAPPort             int         `json:"imap_port"`
	IMAPUsername         string      `json:"imap_username"`
	EncryptedPassword    []byte      `json:"-"`
	EncryptedAccessToken []byte      `json:"-"`
	Cursor               *string     `json:"cursor"`
	LastSyncedAt         *time.Time  `json:"last_synced_at"`
	NeedsAttention       bool        `json:"needs_attention"`
	CreatedAt            time.Time   `json:"created_at"`
}

// SyncStatus is the outcome of one sync run.
type SyncStatus string

const (
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusFailed  SyncStatus = "failed"
)

// SyncLog is an append-only record of one sync run.
type SyncLog struct {
	ID             string     `json:"id"`
	AccountID      string     `json:"account_id"`
	Status         SyncStatus `json:"status"`
	MessagesSynced int        `json:"messages_synced"`
	Error          string     `json:"error,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at"`
}
