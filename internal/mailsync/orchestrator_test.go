package mailsync

import (
	"context"
	"errors"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailsync/internal/imap"
	"github.com/vdavid/mailsync/internal/metrics"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/provider"
	"github.com/vdavid/mailsync/internal/reconcile"
	"github.com/vdavid/mailsync/internal/store"
	"github.com/vdavid/mailsync/internal/store/memory"
	"github.com/vdavid/mailsync/internal/testutil"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestSyncAccount_ProviderDelta(t *testing.T) {
	ctx := context.Background()

	t.Run("stores the batch and advances the cursor", func(t *testing.T) {
		st := memory.NewStore()
		account := providerAccount(t, "T0")
		st.AddAccount(account)

		api := &fakeProviderAPI{pages: map[string]*provider.ChangesPage{
			"T0": {NextDeltaToken: "T1", Records: []provider.EmailRecord{record("m1", "t1", "Hi", "inbox")}},
		}}
		o := newTestOrchestrator(t, st, map[models.AccountKind]Strategy{
			models.AccountKindProvider: newProviderStrategy(api, noSleep),
		})

		result, err := o.SyncAccount(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, "provider", result.Strategy)
		assert.Equal(t, 1, result.Fetched)
		assert.Equal(t, 1, result.Created)

		thread := st.Thread("t1")
		require.NotNil(t, thread)
		assert.True(t, thread.InboxStatus)
		assert.False(t, thread.SentStatus)

		email := st.Email("m1")
		require.NotNil(t, email)
		require.NotNil(t, email.ThreadID)
		assert.Equal(t, "t1", *email.ThreadID)

		stored, err := st.FindAccountByID(ctx, account.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.Cursor)
		assert.Equal(t, "T1", *stored.Cursor)
		assert.NotNil(t, stored.LastSyncedAt)

		logs := st.SyncLogs()
		require.Len(t, logs, 1)
		assert.Equal(t, models.SyncStatusSuccess, logs[0].Status)
		assert.Equal(t, 1, logs[0].MessagesSynced)
		assert.NotNil(t, logs[0].CompletedAt)
	})

	t.Run("writes one sync log with its own id per run", func(t *testing.T) {
		st := memory.NewStore()
		account := providerAccount(t, "T0")
		st.AddAccount(account)

		api := &fakeProviderAPI{pages: map[string]*provider.ChangesPage{
			"T0": {NextDeltaToken: "T1", Records: []provider.EmailRecord{record("m1", "t1", "Hi", "inbox")}},
			"T1": {NextDeltaToken: "T2"},
		}}
		o := newTestOrchestrator(t, st, map[models.AccountKind]Strategy{
			models.AccountKindProvider: newProviderStrategy(api, noSleep),
		})

		for range 2 {
			_, err := o.SyncAccount(ctx, account.ID)
			require.NoError(t, err)
		}

		logs := st.SyncLogs()
		require.Len(t, logs, 2)
		assert.NotEmpty(t, logs[0].ID)
		assert.NotEmpty(t, logs[1].ID)
		assert.NotEqual(t, logs[0].ID, logs[1].ID)
	})

	t.Run("keeps the cursor when a message cannot be stored", func(t *testing.T) {
		st := memory.NewStore()
		account := providerAccount(t, "T0")
		st.AddAccount(account)
		st.Hooks.SaveEmail = func(email *models.Email) error {
			if email.ID == "m1" {
				return errors.New("connection reset by peer")
			}
			return nil
		}

		api := &fakeProviderAPI{pages: map[string]*provider.ChangesPage{
			"T0": {NextDeltaToken: "T1", Records: []provider.EmailRecord{record("m1", "t1", "Hi", "inbox")}},
		}}
		o := newTestOrchestrator(t, st, map[models.AccountKind]Strategy{
			models.AccountKindProvider: newProviderStrategy(api, noSleep),
		})

		result, err := o.SyncAccount(ctx, account.ID)
		require.ErrorIs(t, err, ErrBatchIncomplete)
		assert.Equal(t, ClassStore, Classify(err))
		assert.Equal(t, 1, result.StoreFailures)

		stored, err := st.FindAccountByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, "T0", *stored.Cursor)
		assert.Nil(t, stored.LastSyncedAt)
		assert.Nil(t, st.Thread("t1"))
		assert.Zero(t, st.CursorUpdates)

		logs := st.SyncLogs()
		require.Len(t, logs, 1)
		assert.Equal(t, models.SyncStatusFailed, logs[0].Status)
		assert.Contains(t, logs[0].Error, "batch incomplete")
	})

	t.Run("continues the batch after a store failure", func(t *testing.T) {
		st := memory.NewStore()
		account := providerAccount(t, "T0")
		st.AddAccount(account)
		st.Hooks.SaveEmail = func(email *models.Email) error {
			if email.ID == "m1" {
				return errors.New("boom")
			}
			return nil
		}

		api := &fakeProviderAPI{pages: map[string]*provider.ChangesPage{
			"T0": {NextDeltaToken: "T1", Records: []provider.EmailRecord{
				record("m1", "t1", "Hi", "inbox"),
				record("m2", "t2", "Other", "inbox"),
			}},
		}}
		o := newTestOrchestrator(t, st, map[models.AccountKind]Strategy{
			models.AccountKindProvider: newProviderStrategy(api, noSleep),
		})

		result, err := o.SyncAccount(ctx, account.ID)
		require.ErrorIs(t, err, ErrBatchIncomplete)
		assert.Equal(t, 1, result.Created)
		assert.NotNil(t, st.Email("m2"))
		assert.Zero(t, st.CursorUpdates)
	})

	t.Run("commits the last page's delta token once", func(t *testing.T) {
		st := memory.NewStore()
		account := providerAccount(t, "T0")
		st.AddAccount(account)

		api := &fakeProviderAPI{pages: map[string]*provider.ChangesPage{
			"T0":     {NextPageToken: "page-2", NextDeltaToken: "A", Records: []provider.EmailRecord{record("m1", "t1", "One")}},
			"page-2": {NextPageToken: "page-3", NextDeltaToken: "B", Records: []provider.EmailRecord{record("m2", "t2", "Two")}},
			"page-3": {NextDeltaToken: "C", Records: []provider.EmailRecord{record("m3", "t3", "Three")}},
		}}
		o := newTestOrchestrator(t, st, map[models.AccountKind]Strategy{
			models.AccountKindProvider: newProviderStrategy(api, noSleep),
		})

		result, err := o.SyncAccount(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, result.Created)
		assert.Equal(t, []string{"T0", "page-2", "page-3"}, api.pulled())
		assert.Equal(t, 1, st.CursorUpdates)

		stored, err := st.FindAccountByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, "C", *stored.Cursor)
	})

	t.Run("commits nothing when a middle page fails", func(t *testing.T) {
		st := memory.NewStore()
		account := providerAccount(t, "T0")
		st.AddAccount(account)

		api := &fakeProviderAPI{
			pages: map[string]*provider.ChangesPage{
				"T0":     {NextPageToken: "page-2", NextDeltaToken: "A", Records: []provider.EmailRecord{record("m1", "t1", "One")}},
				"page-3": {NextDeltaToken: "C"},
			},
			failOn: map[string]error{"page-2": &provider.APIError{StatusCode: 400, Message: "invalid page token"}},
		}
		o := newTestOrchestrator(t, st, map[models.AccountKind]Strategy{
			models.AccountKindProvider: newProviderStrategy(api, noSleep),
		})

		_, err := o.SyncAccount(ctx, account.ID)
		require.Error(t, err)
		assert.Zero(t, st.CursorUpdates)

		stored, err := st.FindAccountByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, "T0", *stored.Cursor)

		_, _, emails, _ := st.Counts()
		assert.Zero(t, emails)
	})

	t.Run("refreshes an edited message", func(t *testing.T) {
		st := memory.NewStore()
		account := providerAccount(t, "T0")
		st.AddAccount(account)

		unread := record("m1", "t1", "Hi", "inbox", "unread")
		read := record("m1", "t1", "Hi", "inbox")
		api := &fakeProviderAPI{pages: map[string]*provider.ChangesPage{
			"T0": {NextDeltaToken: "T1", Records: []provider.EmailRecord{unread}},
			"T1": {NextDeltaToken: "T2", Records: []provider.EmailRecord{read}},
		}}
		o := newTestOrchestrator(t, st, map[models.AccountKind]Strategy{
			models.AccountKindProvider: newProviderStrategy(api, noSleep),
		})

		_, err := o.SyncAccount(ctx, account.ID)
		require.NoError(t, err)
		assert.False(t, st.Email("m1").IsRead)

		result, err := o.SyncAccount(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Updated)
		assert.True(t, st.Email("m1").IsRead)

		_, threads, emails, _ := st.Counts()
		assert.Equal(t, 1, threads)
		assert.Equal(t, 1, emails)
	})

	t.Run("initializes an account without a cursor", func(t *testing.T) {
		st := memory.NewStore()
		account := providerAccount(t, "")
		st.AddAccount(account)

		api := &fakeProviderAPI{pages: map[string]*provider.ChangesPage{
			"initial": {NextDeltaToken: "T1", Records: []provider.EmailRecord{record("m1", "t1", "Hi", "inbox")}},
		}}
		o := newTestOrchestrator(t, st, map[models.AccountKind]Strategy{
			models.AccountKindProvider: newProviderStrategy(api, noSleep),
		})

		_, err := o.SyncAccount(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, api.startCalls)

		stored, err := st.FindAccountByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, "T1", *stored.Cursor)
	})
}

func TestSyncAccount_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("cursor commit failure fails the run", func(t *testing.T) {
		st := memory.NewStore()
		account := providerAccount(t, "T0")
		st.AddAccount(account)
		st.Hooks.UpdateCursorAndTimestamp = func(string, *string) error {
			return errors.New("deadlock detected")
		}

		api := &fakeProviderAPI{pages: map[string]*provider.ChangesPage{
			"T0": {NextDeltaToken: "T1", Records: []provider.EmailRecord{record("m1", "t1", "Hi", "inbox")}},
		}}
		o := newTestOrchestrator(t, st, map[models.AccountKind]Strategy{
			models.AccountKindProvider: newProviderStrategy(api, noSleep),
		})

		_, err := o.SyncAccount(ctx, account.ID)
		require.ErrorIs(t, err, ErrCursorCommit)
		assert.Equal(t, ClassCursor, Classify(err))

		stored, err := st.FindAccountByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, "T0", *stored.Cursor)
		// Already stored messages stay; the next run sees them again.
		assert.NotNil(t, st.Email("m1"))
	})

	t.Run("unknown account", func(t *testing.T) {
		st := memory.NewStore()
		o := newTestOrchestrator(t, st, nil)

		result, err := o.SyncAccount(ctx, "missing")
		require.ErrorIs(t, err, store.ErrAccountNotFound)
		assert.Equal(t, "missing", result.AccountID)
		assert.Empty(t, st.SyncLogs())
	})

	t.Run("account kind without strategy", func(t *testing.T) {
		st := memory.NewStore()
		account := providerAccount(t, "T0")
		st.AddAccount(account)
		o := newTestOrchestrator(t, st, map[models.AccountKind]Strategy{})

		_, err := o.SyncAccount(ctx, account.ID)
		require.ErrorIs(t, err, ErrNoStrategy)
	})

	t.Run("undecryptable credentials abort only that account", func(t *testing.T) {
		st := memory.NewStore()
		account := providerAccount(t, "T0")
		account.EncryptedAccessToken = []byte("not a ciphertext at all")
		st.AddAccount(account)

		api := &fakeProviderAPI{}
		o := newTestOrchestrator(t, st, map[models.AccountKind]Strategy{
			models.AccountKindProvider: newProviderStrategy(api, noSleep),
		})

		_, err := o.SyncAccount(ctx, account.ID)
		require.Error(t, err)
		assert.Equal(t, ClassDecryption, Classify(err))
		assert.Empty(t, api.pulled())
	})

	t.Run("authentication failure flags the account without retrying", func(t *testing.T) {
		st := memory.NewStore()
		account := imapAccount(t, "acc-auth")
		st.AddAccount(account)

		dialer := &fakeDialer{
			session: &fakeSession{},
			errs:    []error{imap.ErrAuthentication},
		}
		o := newTestOrchestrator(t, st, map[models.AccountKind]Strategy{
			models.AccountKindIMAP: NewProtocolPolling(dialer.dial, ProtocolConfig{}, zap.NewNop()),
		})

		_, err := o.SyncAccount(ctx, account.ID)
		require.ErrorIs(t, err, imap.ErrAuthentication)
		assert.Equal(t, 1, dialer.calls)

		stored, err := st.FindAccountByID(ctx, account.ID)
		require.NoError(t, err)
		assert.True(t, stored.NeedsAttention)

		// A later successful run clears the flag.
		_, err = o.SyncAccount(ctx, account.ID)
		require.NoError(t, err)
		stored, err = st.FindAccountByID(ctx, account.ID)
		require.NoError(t, err)
		assert.False(t, stored.NeedsAttention)
	})

	t.Run("transient pull failures are retried with backoff", func(t *testing.T) {
		st := memory.NewStore()
		account := imapAccount(t, "acc-transient")
		st.AddAccount(account)

		refused := &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
		dialer := &fakeDialer{
			session: &fakeSession{messages: [][]byte{rawMessage("<a@example.com>", "", "Hello")}},
			errs:    []error{refused, refused},
		}
		sleeps := &sleepRecorder{}
		o := newTestOrchestrator(t, st, map[models.AccountKind]Strategy{
			models.AccountKindIMAP: NewProtocolPolling(dialer.dial, ProtocolConfig{}, zap.NewNop()),
		}).WithSleep(sleeps.sleep)

		result, err := o.SyncAccount(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Created)
		assert.Equal(t, 3, dialer.calls)
		assert.Equal(t, []time.Duration{time.Second, 1500 * time.Millisecond}, sleeps.recorded())
	})

	t.Run("transient failures give up after the attempt cap", func(t *testing.T) {
		st := memory.NewStore()
		account := imapAccount(t, "acc-down")
		st.AddAccount(account)

		refused := &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
		dialer := &fakeDialer{session: &fakeSession{}, errs: []error{refused, refused, refused, refused}}
		o := newTestOrchestrator(t, st, map[models.AccountKind]Strategy{
			models.AccountKindIMAP: NewProtocolPolling(dialer.dial, ProtocolConfig{}, zap.NewNop()),
		})

		_, err := o.SyncAccount(ctx, account.ID)
		require.Error(t, err)
		assert.Equal(t, ClassTransient, Classify(err))
		assert.Equal(t, 3, dialer.calls)
		assert.Nil(t, mustAccount(t, st, account.ID).LastSyncedAt)
	})
}

func TestSyncAccount_Protocol(t *testing.T) {
	ctx := context.Background()

	t.Run("rerun is a no-op", func(t *testing.T) {
		st := memory.NewStore()
		account := imapAccount(t, "acc-rerun")
		st.AddAccount(account)

		session := &fakeSession{messages: [][]byte{
			rawMessage("<a@example.com>", "", "Lunch"),
			rawMessage("<b@example.com>", "<a@example.com>", "Re: Lunch"),
		}}
		dialer := &fakeDialer{session: session}
		o := newTestOrchestrator(t, st, map[models.AccountKind]Strategy{
			models.AccountKindIMAP: NewProtocolPolling(dialer.dial, ProtocolConfig{}, zap.NewNop()),
		})

		first, err := o.SyncAccount(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, first.Created)
		addresses, threads, emails, _ := st.Counts()

		second, err := o.SyncAccount(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, second.Created)
		assert.Equal(t, 2, second.Skipped)

		a2, t2, e2, _ := st.Counts()
		assert.Equal(t, []int{addresses, threads, emails}, []int{a2, t2, e2})
		assert.Equal(t, 1, threads)
		assert.Nil(t, mustAccount(t, st, account.ID).Cursor)
	})

	t.Run("malformed messages are skipped", func(t *testing.T) {
		st := memory.NewStore()
		account := imapAccount(t, "acc-malformed")
		st.AddAccount(account)

		session := &fakeSession{messages: [][]byte{
			[]byte("   "),
			rawMessage("<ok@example.com>", "", "Fine"),
		}}
		dialer := &fakeDialer{session: session}
		o := newTestOrchestrator(t, st, map[models.AccountKind]Strategy{
			models.AccountKindIMAP: NewProtocolPolling(dialer.dial, ProtocolConfig{}, zap.NewNop()),
		})

		result, err := o.SyncAccount(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Malformed)
		assert.Equal(t, 1, result.Created)
		assert.Equal(t, 1, st.CursorUpdates)
	})

	t.Run("address failures are skipped", func(t *testing.T) {
		st := memory.NewStore()
		account := imapAccount(t, "acc-address")
		st.AddAccount(account)
		st.Hooks.SaveAddress = func(address *models.Address) error {
			if address.Address == "broken@example.com" {
				return errors.New("constraint violation")
			}
			return nil
		}

		broken := []byte("Message-ID: <x@example.com>\r\nFrom: broken@example.com\r\nTo: bob@example.com\r\nSubject: Nope\r\n\r\nbody\r\n")
		session := &fakeSession{messages: [][]byte{broken, rawMessage("<ok@example.com>", "", "Fine")}}
		dialer := &fakeDialer{session: session}
		o := newTestOrchestrator(t, st, map[models.AccountKind]Strategy{
			models.AccountKindIMAP: NewProtocolPolling(dialer.dial, ProtocolConfig{}, zap.NewNop()),
		})

		result, err := o.SyncAccount(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, result.AddressFailures)
		assert.Equal(t, 1, result.Created)
		assert.Nil(t, st.Email("x@example.com"))
	})
}

func TestSyncAccount_RejectsOverlappingRuns(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	account := imapAccount(t, "acc-busy")
	st.AddAccount(account)

	strategy := &blockingStrategy{started: make(chan struct{}), release: make(chan struct{})}
	o := newTestOrchestrator(t, st, map[models.AccountKind]Strategy{models.AccountKindIMAP: strategy})

	done := make(chan error, 1)
	go func() {
		_, err := o.SyncAccount(ctx, account.ID)
		done <- err
	}()
	<-strategy.started

	result, err := o.SyncAccount(ctx, account.ID)
	require.ErrorIs(t, err, ErrSyncInProgress)
	assert.Equal(t, ErrSyncInProgress.Error(), result.Error)

	close(strategy.release)
	require.NoError(t, <-done)
	assert.Len(t, st.SyncLogs(), 1)

	// The lock is released after the run.
	_, err = o.SyncAccount(ctx, account.ID)
	require.NoError(t, err)
}

func TestSyncAll(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx := context.Background()
	st := memory.NewStore()

	good := providerAccount(t, "good-T0")
	good.ID = "acc-good"
	bad := providerAccount(t, "bad-T0")
	bad.ID = "acc-bad"
	locked := imapAccount(t, "acc-undecryptable")
	locked.EncryptedPassword = []byte("garbage")
	idle := &models.Account{ID: "acc-no-credentials", Kind: models.AccountKindIMAP}
	for _, a := range []*models.Account{good, bad, locked, idle} {
		st.AddAccount(a)
	}

	api := &fakeProviderAPI{
		pages: map[string]*provider.ChangesPage{
			"good-T0": {NextDeltaToken: "good-T1", Records: []provider.EmailRecord{record("m1", "t1", "Hi", "inbox")}},
		},
		failOn: map[string]error{"bad-T0": &provider.APIError{StatusCode: 400, Message: "bad request"}},
	}
	reg := prometheus.NewRegistry()
	m := metrics.NewSync(reg)
	o := NewOrchestrator(st, testutil.GetTestEncryptor(t), map[models.AccountKind]Strategy{
		models.AccountKindProvider: newProviderStrategy(api, noSleep),
		models.AccountKindIMAP:     NewProtocolPolling((&fakeDialer{session: &fakeSession{}}).dial, ProtocolConfig{}, zap.NewNop()),
	}, m, zap.NewNop(), 2).WithSleep(noSleep)

	results, err := o.SyncAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 3)

	byID := make(map[string]Result)
	for _, r := range results {
		byID[r.AccountID] = r
	}
	assert.NoError(t, byID["acc-good"].Err)
	assert.Equal(t, 1, byID["acc-good"].Created)
	assert.Error(t, byID["acc-bad"].Err)
	assert.Equal(t, ClassDecryption, Classify(byID["acc-undecryptable"].Err))

	assert.Equal(t, "good-T1", *mustAccount(t, st, "acc-good").Cursor)
	assert.Equal(t, "bad-T0", *mustAccount(t, st, "acc-bad").Cursor)

	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.RunsTotal.WithLabelValues("provider", "success")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.RunsTotal.WithLabelValues("provider", "failed")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.MessagesTotal.WithLabelValues("provider", string(reconcile.OutcomeCreated))))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.CursorCommits.WithLabelValues("provider")))
}

func TestSyncAccount_AgainstIMAPServer(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping IMAP server test in short mode")
	}

	ctx := context.Background()
	server := testutil.NewTestIMAPServer(t)
	server.ClearInbox(t)

	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	server.AppendMessage(t, testutil.TestMessage{
		MessageID: "<root@example.com>", From: "Alice <alice@example.com>", To: "bob@example.com",
		Subject: "Plans", Date: base, Body: "Dinner?",
	})
	server.AppendMessage(t, testutil.TestMessage{
		MessageID: "<reply@example.com>", InReplyTo: "<root@example.com>", References: "<root@example.com>",
		From: "bob@example.com", To: "alice@example.com", Subject: "Re: Plans", Date: base.Add(time.Hour), Body: "Sure",
	}, `\Seen`)
	server.AppendMessage(t, testutil.TestMessage{
		MessageID: "<other@example.com>", From: "carol@example.com", To: "bob@example.com",
		Subject: "Unrelated", Date: base.Add(2 * time.Hour), Body: "Hi",
	})

	st := memory.NewStore()
	account := &models.Account{
		ID:                "acc-imap",
		UserID:            "user-1",
		EmailAddress:      "bob@example.com",
		Kind:              models.AccountKindIMAP,
		IMAPHost:          server.Host(),
		IMAPPort:          server.Port(),
		IMAPUsername:      server.Username(),
		EncryptedPassword: testutil.MustEncrypt(t, server.Password()),
	}
	st.AddAccount(account)

	o := newTestOrchestrator(t, st, map[models.AccountKind]Strategy{
		models.AccountKindIMAP: NewProtocolPolling(nil, ProtocolConfig{FetchLimit: 100, Timeout: 5 * time.Second}, zap.NewNop()),
	})

	result, err := o.SyncAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Created)

	root := st.Email("root@example.com")
	reply := st.Email("reply@example.com")
	other := st.Email("other@example.com")
	require.NotNil(t, root)
	require.NotNil(t, reply)
	require.NotNil(t, other)
	require.NotNil(t, root.ThreadID)
	assert.Equal(t, *root.ThreadID, *reply.ThreadID)
	assert.NotEqual(t, *root.ThreadID, *other.ThreadID)
	assert.True(t, reply.IsRead)
	assert.False(t, root.IsRead)

	again, err := o.SyncAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, again.Skipped)
}

type blockingStrategy struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (s *blockingStrategy) Name() string { return "blocking" }

func (s *blockingStrategy) Mode() reconcile.Mode { return reconcile.SkipExisting }

func (s *blockingStrategy) Pull(ctx context.Context, _ *models.Account, _ Credentials) (*Batch, error) {
	s.once.Do(func() {
		close(s.started)
		select {
		case <-s.release:
		case <-ctx.Done():
		}
	})
	return &Batch{}, nil
}

func rawMessage(messageID, inReplyTo, subject string) []byte {
	return testutil.TestMessage{
		MessageID: messageID,
		InReplyTo: inReplyTo,
		From:      "Alice <alice@example.com>",
		To:        "bob@example.com",
		Subject:   subject,
		Date:      time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC),
		Body:      "hello",
	}.Raw()
}

func mustAccount(t *testing.T, st *memory.Store, id string) *models.Account {
	t.Helper()
	account, err := st.FindAccountByID(context.Background(), id)
	require.NoError(t, err)
	return account
}
