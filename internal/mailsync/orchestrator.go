package mailsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vdavid/mailsync/internal/metrics"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/reconcile"
	"github.com/vdavid/mailsync/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Decrypter opens stored account credentials.
type Decrypter interface {
	Decrypt(ciphertext []byte) (string, error)
}

// Result summarizes one SyncAccount run.
type Result struct {
	AccountID       string  `json:"account_id"`
	Strategy        string  `json:"strategy,omitempty"`
	Fetched         int     `json:"fetched"`
	Created         int     `json:"created"`
	Updated         int     `json:"updated"`
	Skipped         int     `json:"skipped"`
	Malformed       int     `json:"malformed"`
	AddressFailures int     `json:"address_failures"`
	StoreFailures   int     `json:"store_failures"`
	Cursor          *string `json:"cursor,omitempty"`
	Err             error   `json:"-"`
	Error           string  `json:"error,omitempty"`
}

// Synced is the number of messages that reached the store.
func (r *Result) Synced() int {
	return r.Created + r.Updated
}

func (r *Result) fail(err error) {
	r.Err = err
	r.Error = err.Error()
}

// Orchestrator runs account syncs. Runs for different accounts are
// independent; runs for the same account never overlap.
type Orchestrator struct {
	store      store.Store
	decrypter  Decrypter
	strategies map[models.AccountKind]Strategy
	reconciler *reconcile.Reconciler
	metrics    *metrics.Sync
	log        *zap.Logger
	workers    int

	pullRetry Backoff
	sleep     SleepFunc
	now       func() time.Time

	locks sync.Map // account ID -> *sync.Mutex
}

// NewOrchestrator creates an orchestrator. SyncAll runs at most workers
// accounts at a time.
func NewOrchestrator(
	s store.Store,
	decrypter Decrypter,
	strategies map[models.AccountKind]Strategy,
	m *metrics.Sync,
	log *zap.Logger,
	workers int,
) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{
		store:      s,
		decrypter:  decrypter,
		strategies: strategies,
		reconciler: reconcile.NewReconciler(s, log),
		metrics:    m,
		log:        log,
		workers:    workers,
		pullRetry:  Backoff{Base: time.Second, Factor: 1.5, MaxAttempts: 3},
		sleep:      Sleep,
		now:        time.Now,
	}
}

// WithSleep replaces the wait between pull retries.
func (o *Orchestrator) WithSleep(sleep SleepFunc) *Orchestrator {
	o.sleep = sleep
	return o
}

func (o *Orchestrator) lock(accountID string) (*sync.Mutex, bool) {
	v, _ := o.locks.LoadOrStore(accountID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	return mu, mu.TryLock()
}

// SyncAccount pulls and stores new messages for one account. The stored
// cursor only moves when every message of the batch was stored or
// deliberately skipped. The returned Result is never nil.
func (o *Orchestrator) SyncAccount(ctx context.Context, accountID string) (*Result, error) {
	result := &Result{AccountID: accountID}

	mu, ok := o.lock(accountID)
	if !ok {
		result.fail(ErrSyncInProgress)
		return result, ErrSyncInProgress
	}
	defer mu.Unlock()

	started := o.now()
	log := o.log.With(zap.String("account_id", accountID))

	err := o.run(ctx, log, result)
	if err != nil {
		result.fail(err)
	}

	strategy := result.Strategy
	if strategy == "" {
		strategy = "none"
	}
	status := models.SyncStatusSuccess
	if err != nil {
		status = models.SyncStatusFailed
	}
	o.metrics.ObserveRun(strategy, string(status), o.now().Sub(started))
	o.metrics.AddMessages(strategy, string(reconcile.OutcomeCreated), result.Created)
	o.metrics.AddMessages(strategy, string(reconcile.OutcomeUpdated), result.Updated)
	o.metrics.AddMessages(strategy, string(reconcile.OutcomeSkipped), result.Skipped)
	o.metrics.AddMessages(strategy, string(ClassMalformed), result.Malformed)
	o.metrics.AddMessages(strategy, string(ClassAddress), result.AddressFailures)
	o.metrics.AddMessages(strategy, string(ClassStore), result.StoreFailures)

	if !errors.Is(err, store.ErrAccountNotFound) {
		o.writeSyncLog(ctx, log, result, status, started)
	}

	if err != nil {
		log.Error("Account sync failed",
			zap.String("strategy", strategy),
			zap.String("error_class", string(Classify(err))),
			zap.Int("synced", result.Synced()),
			zap.Error(err),
		)
		return result, err
	}

	log.Info("Account synced",
		zap.String("strategy", strategy),
		zap.Int("fetched", result.Fetched),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("skipped", result.Skipped),
		zap.Int("malformed", result.Malformed),
		zap.Int("address_failures", result.AddressFailures),
		zap.Duration("duration", o.now().Sub(started)),
	)
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, log *zap.Logger, result *Result) error {
	account, err := o.store.FindAccountByID(ctx, result.AccountID)
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}

	strategy, ok := o.strategies[account.Kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoStrategy, account.Kind)
	}
	result.Strategy = strategy.Name()
	log = log.With(zap.String("strategy", strategy.Name()))

	creds, err := o.credentials(account)
	if err != nil {
		return err
	}

	batch, err := o.pull(ctx, log, strategy, account, creds)
	if err != nil {
		if Classify(err) == ClassAuthentication {
			o.flagAttention(ctx, log, account.ID, true)
		}
		return err
	}
	result.Fetched = len(batch.Messages)

	for i, raw := range batch.Messages {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.process(ctx, log, account.ID, strategy.Mode(), i, raw, result)
	}

	if result.StoreFailures > 0 {
		return fmt.Errorf("%w: %d of %d messages failed to store", ErrBatchIncomplete, result.StoreFailures, result.Fetched)
	}

	if err := o.store.UpdateCursorAndTimestamp(ctx, account.ID, batch.NextCursor); err != nil {
		log.Error("Failed to commit cursor", storeErrorFields(err)...)
		return fmt.Errorf("%w: %w", ErrCursorCommit, err)
	}
	o.metrics.CursorCommitted(strategy.Name())
	result.Cursor = batch.NextCursor

	if account.NeedsAttention {
		o.flagAttention(ctx, log, account.ID, false)
	}
	return nil
}

func (o *Orchestrator) credentials(account *models.Account) (Credentials, error) {
	var creds Credentials
	var err error

	if len(account.EncryptedPassword) > 0 {
		creds.Password, err = o.decrypter.Decrypt(account.EncryptedPassword)
		if err != nil {
			return creds, fmt.Errorf("failed to decrypt password: %w", err)
		}
	}
	if len(account.EncryptedAccessToken) > 0 {
		creds.AccessToken, err = o.decrypter.Decrypt(account.EncryptedAccessToken)
		if err != nil {
			return creds, fmt.Errorf("failed to decrypt access token: %w", err)
		}
	}
	return creds, nil
}

// pull retries transient failures a few times before giving up on the run.
func (o *Orchestrator) pull(ctx context.Context, log *zap.Logger, strategy Strategy, account *models.Account, creds Credentials) (*Batch, error) {
	for attempt := 1; ; attempt++ {
		batch, err := strategy.Pull(ctx, account, creds)
		if err == nil {
			return batch, nil
		}
		if Classify(err) != ClassTransient || errors.Is(err, ErrInitializationTimeout) || attempt >= o.pullRetry.MaxAttempts {
			return nil, err
		}

		delay := o.pullRetry.Delay(attempt)
		log.Warn("Pull failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := o.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (o *Orchestrator) process(ctx context.Context, log *zap.Logger, accountID string, mode reconcile.Mode, index int, raw RawMessage, result *Result) {
	draft, err := raw.Normalize(log)
	if err != nil {
		result.Malformed++
		log.Warn("Skipping malformed message", zap.Int("index", index), zap.Error(err))
		return
	}

	msgLog := log.With(zap.String("message_id", draft.ID))

	outcome, err := o.reconciler.Reconcile(ctx, accountID, draft, mode)
	switch {
	case err == nil:
	case errors.Is(err, reconcile.ErrAddressResolution):
		result.AddressFailures++
		msgLog.Warn("Skipping message with unresolvable addresses", zap.Error(err))
		return
	default:
		result.StoreFailures++
		msgLog.Error("Failed to store message", storeErrorFields(err)...)
		return
	}

	switch outcome {
	case reconcile.OutcomeCreated:
		result.Created++
	case reconcile.OutcomeUpdated:
		result.Updated++
	default:
		result.Skipped++
	}
}

func (o *Orchestrator) flagAttention(ctx context.Context, log *zap.Logger, accountID string, needs bool) {
	if err := o.store.MarkNeedsAttention(ctx, accountID, needs); err != nil {
		log.Warn("Failed to update attention flag", zap.Bool("needs_attention", needs), zap.Error(err))
	}
}

func (o *Orchestrator) writeSyncLog(ctx context.Context, log *zap.Logger, result *Result, status models.SyncStatus, started time.Time) {
	completed := o.now()
	entry := &models.SyncLog{
		ID:             uuid.NewString(),
		AccountID:      result.AccountID,
		Status:         status,
		MessagesSynced: result.Synced(),
		Error:          result.Error,
		StartedAt:      started,
		CompletedAt:    &completed,
	}
	// The run's own context may already be canceled.
	if err := o.store.AppendSyncLog(context.WithoutCancel(ctx), entry); err != nil {
		log.Warn("Failed to write sync log", zap.Error(err))
	}
}

// SyncAll syncs every syncable account, at most workers at a time. A failing
// account never stops the others; its error is in its Result. The returned
// error is only set when the account list cannot be loaded.
func (o *Orchestrator) SyncAll(ctx context.Context) ([]Result, error) {
	accounts, err := o.store.ListSyncableAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	results := make([]Result, len(accounts))
	g := new(errgroup.Group)
	g.SetLimit(o.workers)

	for i, account := range accounts {
		g.Go(func() error {
			res, _ := o.SyncAccount(ctx, account.ID)
			results[i] = *res
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	o.log.Info("Sync pass finished", zap.Int("accounts", len(accounts)), zap.Int("failed", failed))

	return results, nil
}
