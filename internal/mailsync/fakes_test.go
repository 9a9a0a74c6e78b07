package mailsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vdavid/mailsync/internal/imap"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/provider"
	"github.com/vdavid/mailsync/internal/store/memory"
	"github.com/vdavid/mailsync/internal/testutil"
	"go.uber.org/zap"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// fakeProviderAPI serves change pages keyed by delta or page token.
type fakeProviderAPI struct {
	mu         sync.Mutex
	startSync  func(call int) (*provider.StartSyncResponse, error)
	pages      map[string]*provider.ChangesPage
	failOn     map[string]error
	startCalls int
	pulls      []string
}

func (f *fakeProviderAPI) StartSync(_ context.Context, _ string, _ int) (*provider.StartSyncResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	if f.startSync == nil {
		return &provider.StartSyncResponse{Ready: true, SyncUpdatedToken: "initial"}, nil
	}
	return f.startSync(f.startCalls)
}

func (f *fakeProviderAPI) PullChanges(_ context.Context, _ string, deltaToken, pageToken string) (*provider.ChangesPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := deltaToken
	if pageToken != "" {
		key = pageToken
	}
	f.pulls = append(f.pulls, key)

	if err, ok := f.failOn[key]; ok {
		return nil, err
	}
	page, ok := f.pages[key]
	if !ok {
		return nil, fmt.Errorf("unexpected token %q", key)
	}
	return page, nil
}

func (f *fakeProviderAPI) pulled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pulls...)
}

// fakeSession serves messages from a slice, sequence number i+1 for index i.
type fakeSession struct {
	messages   [][]byte
	logoutErr  error
	loggedOut  bool
	fetchFrom  uint32
	fetchTo    uint32
	fetchCalls int
}

func (s *fakeSession) SelectInbox() (uint32, error) {
	return uint32(len(s.messages)), nil
}

func (s *fakeSession) FetchRange(from, to uint32) ([]imap.Fetched, error) {
	s.fetchCalls++
	s.fetchFrom, s.fetchTo = from, to

	var out []imap.Fetched
	for seq := from; seq <= to; seq++ {
		out = append(out, imap.Fetched{
			SeqNum:       seq,
			UID:          seq,
			Raw:          s.messages[seq-1],
			InternalDate: time.Date(2024, 1, 1, 0, 0, int(seq), 0, time.UTC),
		})
	}
	return out, nil
}

func (s *fakeSession) Logout() error {
	s.loggedOut = true
	return s.logoutErr
}

type fakeDialer struct {
	mu      sync.Mutex
	session *fakeSession
	errs    []error
	calls   int
}

func (d *fakeDialer) dial(_ context.Context, _ imap.Options) (ProtocolSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return d.session, nil
}

func record(id, threadID, subject string, labels ...string) provider.EmailRecord {
	return provider.EmailRecord{
		ID:          id,
		ThreadID:    threadID,
		Subject:     subject,
		SysLabels:   labels,
		CreatedTime: "2024-03-01T10:00:00Z",
		SentAt:      "2024-03-01T10:00:00Z",
		ReceivedAt:  "2024-03-01T10:00:01Z",
		From:        json.RawMessage(`{"address":"alice@example.com","name":"Alice"}`),
		To:          json.RawMessage(`[{"address":"bob@example.com"}]`),
	}
}

func providerAccount(t *testing.T, cursor string) *models.Account {
	t.Helper()
	account := &models.Account{
		ID:                   "acc-" + t.Name(),
		UserID:               "user-1",
		EmailAddress:         "bob@example.com",
		Kind:                 models.AccountKindProvider,
		EncryptedAccessToken: testutil.MustEncrypt(t, "access-token"),
	}
	if cursor != "" {
		account.Cursor = &cursor
	}
	return account
}

func imapAccount(t *testing.T, id string) *models.Account {
	t.Helper()
	return &models.Account{
		ID:                id,
		UserID:            "user-1",
		EmailAddress:      "bob@example.com",
		Kind:              models.AccountKindIMAP,
		IMAPHost:          "imap.example.com",
		IMAPPort:          993,
		EncryptedPassword: testutil.MustEncrypt(t, "password"),
	}
}

func newTestOrchestrator(t *testing.T, st *memory.Store, strategies map[models.AccountKind]Strategy) *Orchestrator {
	t.Helper()
	return NewOrchestrator(st, testutil.GetTestEncryptor(t), strategies, nil, zap.NewNop(), 4).WithSleep(noSleep)
}

func newProviderStrategy(api ProviderAPI, sleep SleepFunc) *ProviderDelta {
	return NewProviderDelta(api, DefaultProviderConfig(), zap.NewNop()).WithSleep(sleep)
}
