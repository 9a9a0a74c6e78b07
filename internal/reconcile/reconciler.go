package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/normalize"
	"github.com/vdavid/mailsync/internal/store"
	"go.uber.org/zap"
)

// ErrAddressResolution is returned when a participant cannot be registered.
// Only the message is skipped; nothing it wrote is kept.
var ErrAddressResolution = errors.New("failed to resolve addresses")

// Mode controls what happens to an email that is already stored.
type Mode int

const (
	// SkipExisting leaves a stored email untouched. Used for protocol polling,
	// which sees the same messages on every run.
	SkipExisting Mode = iota
	// Refresh overwrites every field. Used for provider deltas, which only
	// report changed messages.
	Refresh
)

func (m Mode) String() string {
	switch m {
	case SkipExisting:
		return "skip_existing"
	case Refresh:
		return "refresh"
	default:
		return "mode(" + strconv.Itoa(int(m)) + ")"
	}
}

// Outcome is what Reconcile did with a message.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
)

// Reconciler writes drafts to the store.
type Reconciler struct {
	store    store.Store
	registry AddressRegistry
	resolver ThreadResolver
	log      *zap.Logger
}

// NewReconciler creates a reconciler over s.
func NewReconciler(s store.Store, log *zap.Logger) *Reconciler {
	return &Reconciler{store: s, log: log}
}

// Reconcile persists d for the account in a single transaction. On any error
// the transaction is rolled back and no partial state remains.
func (r *Reconciler) Reconcile(ctx context.Context, accountID string, d *normalize.Draft, mode Mode) (Outcome, error) {
	var outcome Outcome

	err := r.store.WithTx(ctx, func(tx store.Tx) error {
		existing, err := tx.GetEmail(ctx, d.ID)
		switch {
		case errors.Is(err, store.ErrEmailNotFound):
			existing = nil
		case err != nil:
			return err
		}

		if existing != nil && mode == SkipExisting {
			outcome = OutcomeSkipped
			return nil
		}

		email, participantIDs, err := r.resolveAddresses(ctx, tx, accountID, d)
		if err != nil {
			return err
		}

		var threadID *string
		if existing != nil && existing.ThreadID != nil && d.RemoteThreadID == "" {
			id := *existing.ThreadID
			threadID = &id
		} else {
			threadID, _, err = r.resolver.Resolve(ctx, tx, accountID, d)
			if err != nil {
				return fmt.Errorf("failed to resolve thread: %w", err)
			}
		}

		if threadID != nil {
			if err := r.upsertThread(ctx, tx, accountID, *threadID, d, participantIDs); err != nil {
				return err
			}
		}
		email.ThreadID = threadID

		if err := tx.SaveEmail(ctx, email); err != nil {
			return err
		}

		for i, attachment := range d.Attachments {
			attachment.EmailID = email.ID
			if attachment.ID == "" {
				attachment.ID = email.ID + "/" + strconv.Itoa(i)
			}
			if err := tx.SaveAttachment(ctx, &attachment); err != nil {
				return err
			}
		}

		if threadID != nil {
			if err := recomputeFlags(ctx, tx, *threadID); err != nil {
				return err
			}
		}
		if existing != nil && existing.ThreadID != nil && (threadID == nil || *threadID != *existing.ThreadID) {
			if err := rebuildThread(ctx, tx, *existing.ThreadID); err != nil {
				return fmt.Errorf("failed to rebuild previous thread: %w", err)
			}
		}

		if existing != nil {
			outcome = OutcomeUpdated
		} else {
			outcome = OutcomeCreated
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if d.UsedFallbackID && outcome == OutcomeCreated {
		r.log.Debug("Stored message under fallback identifier", zap.String("account_id", accountID), zap.String("message_id", d.ID))
	}
	return outcome, nil
}

func (r *Reconciler) resolveAddresses(ctx context.Context, tx store.Tx, accountID string, d *normalize.Draft) (*models.Email, []string, error) {
	email := &models.Email{
		ID:               d.ID,
		AccountID:        accountID,
		MessageIDHeader:  d.MessageIDHeader,
		InReplyTo:        d.InReplyTo,
		References:       d.References,
		Subject:          d.Subject,
		SentAt:           d.SentAt,
		ReceivedAt:       d.ReceivedAt,
		CreatedTime:      d.CreatedTime,
		LastModifiedTime: d.LastModifiedTime,
		BodyHTML:         d.BodyHTML,
		BodyText:         d.BodyText,
		Snippet:          d.Snippet,
		SysLabels:        d.SysLabels,
		Label:            d.Label,
		HasAttachments:   d.HasAttachments,
		IsRead:           d.IsRead,
		IsStarred:        d.IsStarred,
	}

	var participantIDs []string
	add := func(ids ...string) {
		for _, id := range ids {
			participantIDs = appendUnique(participantIDs, id)
		}
	}

	if d.From.Address != "" {
		from, err := r.registry.Upsert(ctx, tx, accountID, d.From)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: from: %v", ErrAddressResolution, err)
		}
		email.FromID = from.ID
		add(from.ID)
	}

	lists := []struct {
		name      string
		addresses []normalize.Address
		target    *[]string
		isMember  bool
	}{
		{"to", d.To, &email.ToIDs, true},
		{"cc", d.Cc, &email.CcIDs, true},
		{"bcc", d.Bcc, &email.BccIDs, true},
		{"reply-to", d.ReplyTo, &email.ReplyToIDs, false},
	}
	for _, list := range lists {
		ids, err := r.registry.UpsertAll(ctx, tx, accountID, list.addresses)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrAddressResolution, list.name, err)
		}
		*list.target = ids
		if list.isMember {
			add(ids...)
		}
	}

	return email, participantIDs, nil
}

func (r *Reconciler) upsertThread(ctx context.Context, tx store.Tx, accountID, threadID string, d *normalize.Draft, participantIDs []string) error {
	thread, err := tx.GetThread(ctx, threadID)
	switch {
	case errors.Is(err, store.ErrThreadNotFound):
		thread = &models.Thread{ID: threadID, AccountID: accountID}
	case err != nil:
		return err
	}

	if thread.Subject == "" {
		thread.Subject = d.Subject
	}
	if !d.SentAt.IsZero() && (thread.LastMessageAt == nil || d.SentAt.After(*thread.LastMessageAt)) {
		sentAt := d.SentAt
		thread.LastMessageAt = &sentAt
	}
	for _, id := range participantIDs {
		thread.ParticipantIDs = appendUnique(thread.ParticipantIDs, id)
	}

	return tx.SaveThread(ctx, thread)
}

// rebuildThread recomputes a thread that lost an email: its latest
// timestamp, participants and flags come from the emails still in it.
func rebuildThread(ctx context.Context, tx store.Tx, threadID string) error {
	thread, err := tx.GetThread(ctx, threadID)
	if err != nil {
		return err
	}
	emails, err := tx.FindEmailsByThreadID(ctx, threadID)
	if err != nil {
		return err
	}

	thread.LastMessageAt = nil
	thread.ParticipantIDs = nil
	for _, email := range emails {
		if !email.SentAt.IsZero() && (thread.LastMessageAt == nil || email.SentAt.After(*thread.LastMessageAt)) {
			sentAt := email.SentAt
			thread.LastMessageAt = &sentAt
		}
		if email.FromID != "" {
			thread.ParticipantIDs = appendUnique(thread.ParticipantIDs, email.FromID)
		}
		for _, ids := range [][]string{email.ToIDs, email.CcIDs, email.BccIDs} {
			for _, id := range ids {
				thread.ParticipantIDs = appendUnique(thread.ParticipantIDs, id)
			}
		}
	}
	if err := tx.SaveThread(ctx, thread); err != nil {
		return err
	}

	return setFlags(ctx, tx, threadID, emails)
}

// recomputeFlags derives the thread's folder from all of its emails.
// Exactly one flag is set: inbox wins over draft, draft over sent.
func recomputeFlags(ctx context.Context, tx store.Tx, threadID string) error {
	emails, err := tx.FindEmailsByThreadID(ctx, threadID)
	if err != nil {
		return err
	}
	return setFlags(ctx, tx, threadID, emails)
}

// setFlags clears every flag of a thread with no emails left.
func setFlags(ctx context.Context, tx store.Tx, threadID string, emails []*models.Email) error {
	if len(emails) == 0 {
		return tx.UpdateThreadFlags(ctx, threadID, false, false, false)
	}

	var hasInbox, hasDraft, hasSent bool
	for _, email := range emails {
		switch email.Label {
		case models.LabelInbox:
			hasInbox = true
		case models.LabelDraft:
			hasDraft = true
		case models.LabelSent:
			hasSent = true
		}
	}

	folder := models.LabelInbox
	switch {
	case hasInbox:
	case hasDraft:
		folder = models.LabelDraft
	case hasSent:
		folder = models.LabelSent
	}

	return tx.UpdateThreadFlags(ctx, threadID,
		folder == models.LabelInbox,
		folder == models.LabelSent,
		folder == models.LabelDraft,
	)
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
