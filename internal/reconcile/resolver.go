package reconcile

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/vdavid/mailsync/internal/normalize"
	"github.com/vdavid/mailsync/internal/store"
)

// ThreadResolver picks the thread a message belongs to.
type ThreadResolver struct{}

// Resolve returns the thread id for d, or nil when the message has neither
// a thread reference nor a subject. created reports a newly synthesized id.
//
// Order: explicit remote thread id, then the thread of the message named by
// In-Reply-To or References, then a new thread if there is a subject.
func (ThreadResolver) Resolve(ctx context.Context, tx store.Tx, accountID string, d *normalize.Draft) (threadID *string, created bool, err error) {
	if d.RemoteThreadID != "" {
		id := d.RemoteThreadID
		_, err := tx.GetThread(ctx, id)
		if errors.Is(err, store.ErrThreadNotFound) {
			return &id, true, nil
		}
		if err != nil {
			return nil, false, err
		}
		return &id, false, nil
	}

	for _, ref := range referenceChain(d) {
		parent, err := tx.FindEmailByMessageID(ctx, accountID, ref)
		if errors.Is(err, store.ErrEmailNotFound) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		if parent.ThreadID != nil && parent.ID != d.ID {
			id := *parent.ThreadID
			return &id, false, nil
		}
	}

	if d.Subject != "" {
		id := uuid.NewString()
		return &id, true, nil
	}

	return nil, false, nil
}

func referenceChain(d *normalize.Draft) []string {
	chain := make([]string, 0, 1+len(d.References))
	if d.InReplyTo != "" {
		chain = append(chain, d.InReplyTo)
	}
	for _, ref := range d.References {
		if ref != d.InReplyTo {
			chain = append(chain, ref)
		}
	}
	return chain
}
