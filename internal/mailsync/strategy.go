// Package mailsync orchestrates account syncs: it pulls a batch through the
// account's fetch strategy, normalizes and reconciles every message, and
// commits the cursor only when the whole batch is stored.
package mailsync

import (
	"context"
	"time"

	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/normalize"
	"github.com/vdavid/mailsync/internal/provider"
	"github.com/vdavid/mailsync/internal/reconcile"
	"go.uber.org/zap"
)

// Credentials are the decrypted secrets of an account.
type Credentials struct {
	Password    string
	AccessToken string
}

// RawMessage is a fetched message before normalization. Exactly one of
// Source and Record is set.
type RawMessage struct {
	Source       []byte
	Flags        []string
	InternalDate time.Time
	Record       *provider.EmailRecord
}

// Normalize converts the message into a draft.
func (m RawMessage) Normalize(log *zap.Logger) (*normalize.Draft, error) {
	if m.Record != nil {
		return normalize.FromRecord(*m.Record, log)
	}
	return normalize.FromMIME(m.Source, normalize.MIMEMeta{Flags: m.Flags, InternalDate: m.InternalDate}, log)
}

// Batch is the result of one pull.
type Batch struct {
	Messages []RawMessage
	// NextCursor is persisted after the batch is stored. Nil keeps the current cursor.
	NextCursor *string
}

// Strategy fetches new or changed messages for one kind of account.
type Strategy interface {
	Name() string
	// Mode tells the reconciler how to treat messages that are already stored.
	Mode() reconcile.Mode
	Pull(ctx context.Context, account *models.Account, creds Credentials) (*Batch, error)
}
