// Package memory is an in-memory implementation of store.Store used by the
// engine's tests. Transactions are copy-on-write so a failed transaction
// leaves no trace.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/store"
)

// Hooks lets tests inject failures into individual writes.
type Hooks struct {
	SaveAddress              func(address *models.Address) error
	SaveThread               func(thread *models.Thread) error
	SaveEmail                func(email *models.Email) error
	SaveAttachment           func(attachment *models.Attachment) error
	UpdateCursorAndTimestamp func(accountID string, cursor *string) error
}

// state holds every table. Map values are never mutated in place; writes
// store fresh copies, so a shallow clone of the maps is a snapshot.
type state struct {
	addresses   map[string]*models.Address // id -> address
	byAddress   map[string]string          // accountID + "\x00" + address -> id
	threads     map[string]*models.Thread
	emails      map[string]*models.Email
	attachments map[string]*models.Attachment
}

func newState() *state {
	return &state{
		addresses:   make(map[string]*models.Address),
		byAddress:   make(map[string]string),
		threads:     make(map[string]*models.Thread),
		emails:      make(map[string]*models.Email),
		attachments: make(map[string]*models.Attachment),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.addresses {
		c.addresses[k] = v
	}
	for k, v := range s.byAddress {
		c.byAddress[k] = v
	}
	for k, v := range s.threads {
		c.threads[k] = v
	}
	for k, v := range s.emails {
		c.emails[k] = v
	}
	for k, v := range s.attachments {
		c.attachments[k] = v
	}
	return c
}

// Store keeps users, accounts and the mirrored mailbox in memory.
type Store struct {
	mu       sync.Mutex
	users    map[string]string // email -> id
	accounts map[string]*models.Account
	syncLogs []*models.SyncLog
	data     *state

	// CursorUpdates counts successful UpdateCursorAndTimestamp calls.
	CursorUpdates int
	Hooks         Hooks
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		users:    make(map[string]string),
		accounts: make(map[string]*models.Account),
		data:     newState(),
	}
}

var _ store.Store = (*Store)(nil)

// AddAccount inserts or replaces an account.
func (s *Store) AddAccount(account *models.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *account
	if cp.ID == "" {
		cp.ID = uuid.NewString()
		account.ID = cp.ID
	}
	s.accounts[cp.ID] = &cp
}

func (s *Store) GetOrCreateUser(_ context.Context, email string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.users[email]; ok {
		return id, nil
	}
	id := uuid.NewString()
	s.users[email] = id
	return id, nil
}

func (s *Store) FindAccountByID(_ context.Context, id string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	cp := *account
	return &cp, nil
}

func (s *Store) ListSyncableAccounts(_ context.Context) ([]*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var accounts []*models.Account
	for _, account := range s.accounts {
		if len(account.EncryptedPassword) == 0 && len(account.EncryptedAccessToken) == 0 {
			continue
		}
		cp := *account
		accounts = append(accounts, &cp)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

func (s *Store) UpdateCursorAndTimestamp(_ context.Context, id string, cursor *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Hooks.UpdateCursorAndTimestamp != nil {
		if err := s.Hooks.UpdateCursorAndTimestamp(id, cursor); err != nil {
			return fmt.Errorf("failed to update cursor: %w", err)
		}
	}

	account, ok := s.accounts[id]
	if !ok {
		return store.ErrAccountNotFound
	}
	cp := *account
	if cursor != nil {
		c := *cursor
		cp.Cursor = &c
	}
	now := time.Now()
	cp.LastSyncedAt = &now
	s.accounts[id] = &cp
	s.CursorUpdates++
	return nil
}

func (s *Store) MarkNeedsAttention(_ context.Context, id string, needs bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return store.ErrAccountNotFound
	}
	cp := *account
	cp.NeedsAttention = needs
	s.accounts[id] = &cp
	return nil
}

func (s *Store) AppendSyncLog(_ context.Context, entry *models.SyncLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		return errors.New("sync log has no id")
	}
	for _, existing := range s.syncLogs {
		if existing.ID == entry.ID {
			return fmt.Errorf("duplicate sync log id %q", entry.ID)
		}
	}
	cp := *entry
	s.syncLogs = append(s.syncLogs, &cp)
	return nil
}

// SyncLogs returns a copy of every sync log written so far.
func (s *Store) SyncLogs() []models.SyncLog {
	s.mu.Lock()
	defer s.mu.Unlock()

	logs := make([]models.SyncLog, 0, len(s.syncLogs))
	for _, entry := range s.syncLogs {
		logs = append(logs, *entry)
	}
	return logs
}

// Counts returns the number of stored addresses, threads, emails and attachments.
func (s *Store) Counts() (addresses, threads, emails, attachments int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.addresses), len(s.data.threads), len(s.data.emails), len(s.data.attachments)
}

// Thread returns a stored thread, or nil.
func (s *Store) Thread(id string) *models.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.data.threads[id]
	if !ok {
		return nil
	}
	return copyThread(t)
}

// Email returns a stored email, or nil.
func (s *Store) Email(id string) *models.Email {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data.emails[id]
	if !ok {
		return nil
	}
	return copyEmail(e)
}

// Address returns the stored address for an account, or nil.
func (s *Store) Address(accountID, address string) *models.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.data.byAddress[addressKey(accountID, address)]
	if !ok {
		return nil
	}
	cp := *s.data.addresses[id]
	return &cp
}

// WithTx runs fn against a snapshot and publishes it only when fn succeeds.
// Transactions are serialized.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(&tx{data: snapshot, hooks: s.Hooks}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.data = snapshot
	return nil
}

type tx struct {
	data  *state
	hooks Hooks
}

func addressKey(accountID, address string) string {
	return accountID + "\x00" + address
}

func (t *tx) GetAddress(_ context.Context, accountID, address string) (*models.Address, error) {
	id, ok := t.data.byAddress[addressKey(accountID, address)]
	if !ok {
		return nil, store.ErrAddressNotFound
	}
	cp := *t.data.addresses[id]
	return &cp, nil
}

func (t *tx) SaveAddress(_ context.Context, address *models.Address) error {
	if t.hooks.SaveAddress != nil {
		if err := t.hooks.SaveAddress(address); err != nil {
			return fmt.Errorf("failed to save address: %w", err)
		}
	}

	key := addressKey(address.AccountID, address.Address)
	if id, ok := t.data.byAddress[key]; ok {
		address.ID = id
	} else if address.ID == "" {
		address.ID = uuid.NewString()
	}
	cp := *address
	t.data.addresses[cp.ID] = &cp
	t.data.byAddress[key] = cp.ID
	return nil
}

func (t *tx) GetThread(_ context.Context, id string) (*models.Thread, error) {
	thread, ok := t.data.threads[id]
	if !ok {
		return nil, store.ErrThreadNotFound
	}
	return copyThread(thread), nil
}

func (t *tx) SaveThread(_ context.Context, thread *models.Thread) error {
	if t.hooks.SaveThread != nil {
		if err := t.hooks.SaveThread(thread); err != nil {
			return fmt.Errorf("failed to save thread: %w", err)
		}
	}
	t.data.threads[thread.ID] = copyThread(thread)
	return nil
}

func (t *tx) UpdateThreadFlags(_ context.Context, id string, inbox, sent, draft bool) error {
	thread, ok := t.data.threads[id]
	if !ok {
		return store.ErrThreadNotFound
	}
	cp := copyThread(thread)
	cp.InboxStatus, cp.SentStatus, cp.DraftStatus = inbox, sent, draft
	t.data.threads[id] = cp
	return nil
}

func (t *tx) GetEmail(_ context.Context, id string) (*models.Email, error) {
	email, ok := t.data.emails[id]
	if !ok {
		return nil, store.ErrEmailNotFound
	}
	return copyEmail(email), nil
}

func (t *tx) FindEmailByMessageID(_ context.Context, accountID, messageID string) (*models.Email, error) {
	var found *models.Email
	for _, email := range t.data.emails {
		if email.AccountID != accountID || email.MessageIDHeader != messageID {
			continue
		}
		// Lowest id wins so lookups are stable across map iteration order.
		if found == nil || email.ID < found.ID {
			found = email
		}
	}
	if found == nil {
		return nil, store.ErrEmailNotFound
	}
	return copyEmail(found), nil
}

func (t *tx) FindEmailsByThreadID(_ context.Context, threadID string) ([]*models.Email, error) {
	var emails []*models.Email
	for _, email := range t.data.emails {
		if email.ThreadID != nil && *email.ThreadID == threadID {
			emails = append(emails, copyEmail(email))
		}
	}
	sort.Slice(emails, func(i, j int) bool {
		if emails[i].ReceivedAt.Equal(emails[j].ReceivedAt) {
			return emails[i].ID < emails[j].ID
		}
		return emails[i].ReceivedAt.Before(emails[j].ReceivedAt)
	})
	return emails, nil
}

func (t *tx) SaveEmail(_ context.Context, email *models.Email) error {
	if t.hooks.SaveEmail != nil {
		if err := t.hooks.SaveEmail(email); err != nil {
			return fmt.Errorf("failed to save email: %w", err)
		}
	}
	cp := copyEmail(email)
	cp.Attachments = nil
	t.data.emails[cp.ID] = cp
	return nil
}

func (t *tx) SaveAttachment(_ context.Context, attachment *models.Attachment) error {
	if t.hooks.SaveAttachment != nil {
		if err := t.hooks.SaveAttachment(attachment); err != nil {
			return fmt.Errorf("failed to save attachment: %w", err)
		}
	}
	cp := *attachment
	t.data.attachments[cp.ID] = &cp
	return nil
}

func copyThread(t *models.Thread) *models.Thread {
	cp := *t
	cp.ParticipantIDs = append([]string(nil), t.ParticipantIDs...)
	if t.LastMessageAt != nil {
		ts := *t.LastMessageAt
		cp.LastMessageAt = &ts
	}
	return &cp
}

func copyEmail(e *models.Email) *models.Email {
	cp := *e
	if e.ThreadID != nil {
		id := *e.ThreadID
		cp.ThreadID = &id
	}
	cp.References = append([]string(nil), e.References...)
	cp.ToIDs = append([]string(nil), e.ToIDs...)
	cp.CcIDs = append([]string(nil), e.CcIDs...)
	cp.BccIDs = append([]string(nil), e.BccIDs...)
	cp.ReplyToIDs = append([]string(nil), e.ReplyToIDs...)
	cp.SysLabels = append([]string(nil), e.SysLabels...)
	cp.Attachments = append([]models.Attachment(nil), e.Attachments...)
	return &cp
}
