package mailsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/provider"
	"github.com/vdavid/mailsync/internal/reconcile"
	"go.uber.org/zap"
)

// ProviderAPI is the part of the provider client the delta strategy uses.
type ProviderAPI interface {
	StartSync(ctx context.Context, token string, daysWithin int) (*provider.StartSyncResponse, error)
	PullChanges(ctx context.Context, token, deltaToken, pageToken string) (*provider.ChangesPage, error)
}

// ProviderConfig configures the delta strategy.
type ProviderConfig struct {
	DaysWithin int
	// Init is the schedule for "not initialized" start-sync responses.
	Init Backoff
	// ReadyPollInterval is the fixed wait while the provider reports not ready
	// after initialization succeeded.
	ReadyPollInterval time.Duration
	ReadyMaxPolls     int
}

// DefaultProviderConfig returns the production schedule: 2s base, x1.5, 10 attempts.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		DaysWithin:        2,
		Init:              Backoff{Base: 2 * time.Second, Factor: 1.5, MaxAttempts: 10},
		ReadyPollInterval: time.Second,
		ReadyMaxPolls:     30,
	}
}

// ProviderDelta pulls changed records from the provider API, starting from
// the account's cursor. An account without a cursor is initialized first.
type ProviderDelta struct {
	api   ProviderAPI
	cfg   ProviderConfig
	sleep SleepFunc
	log   *zap.Logger
}

var _ Strategy = (*ProviderDelta)(nil)

// NewProviderDelta creates the strategy.
func NewProviderDelta(api ProviderAPI, cfg ProviderConfig, log *zap.Logger) *ProviderDelta {
	return &ProviderDelta{api: api, cfg: cfg, sleep: Sleep, log: log}
}

// WithSleep replaces the wait function. Tests use it to record delays.
func (p *ProviderDelta) WithSleep(sleep SleepFunc) *ProviderDelta {
	p.sleep = sleep
	return p
}

func (p *ProviderDelta) Name() string { return "provider" }

func (p *ProviderDelta) Mode() reconcile.Mode { return reconcile.Refresh }

func (p *ProviderDelta) Pull(ctx context.Context, account *models.Account, creds Credentials) (*Batch, error) {
	if creds.AccessToken == "" {
		return nil, fmt.Errorf("account %s has no access token: %w", account.ID, provider.ErrUnauthorized)
	}

	cursor := ""
	if account.Cursor != nil {
		cursor = *account.Cursor
	}

	if cursor == "" {
		token, err := p.initialize(ctx, account.ID, creds.AccessToken)
		if err != nil {
			return nil, err
		}
		cursor = token
	}

	return p.pullPages(ctx, account.ID, creds.AccessToken, cursor)
}

// initialize starts the provider-side sync and returns the first delta token.
func (p *ProviderDelta) initialize(ctx context.Context, accountID, token string) (string, error) {
	var resp *provider.StartSyncResponse

	for attempt := 1; ; attempt++ {
		var err error
		resp, err = p.api.StartSync(ctx, token, p.cfg.DaysWithin)
		if err == nil {
			break
		}
		if !errors.Is(err, provider.ErrNotReady) {
			return "", fmt.Errorf("failed to start sync: %w", err)
		}
		if attempt >= p.cfg.Init.MaxAttempts {
			p.log.Warn("Provider account did not initialize",
				zap.String("account_id", accountID),
				zap.Int("attempts", attempt),
			)
			return "", fmt.Errorf("%w after %d attempts: %w", ErrInitializationTimeout, attempt, err)
		}

		delay := p.cfg.Init.Delay(attempt)
		p.log.Info("Provider account not initialized yet, retrying",
			zap.String("account_id", accountID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
		)
		if err := p.sleep(ctx, delay); err != nil {
			return "", err
		}
	}

	for polls := 0; !resp.Ready; polls++ {
		if polls >= p.cfg.ReadyMaxPolls {
			return "", fmt.Errorf("%w: not ready after %d polls", ErrInitializationTimeout, polls)
		}
		if err := p.sleep(ctx, p.cfg.ReadyPollInterval); err != nil {
			return "", err
		}

		var err error
		resp, err = p.api.StartSync(ctx, token, p.cfg.DaysWithin)
		if err != nil && !errors.Is(err, provider.ErrNotReady) {
			return "", fmt.Errorf("failed to poll sync readiness: %w", err)
		}
		if err != nil {
			resp = &provider.StartSyncResponse{}
		}
	}

	if resp.SyncUpdatedToken == "" {
		return "", fmt.Errorf("provider returned no sync token for account %s", accountID)
	}
	return resp.SyncUpdatedToken, nil
}

// pullPages follows the page chain from cursor. The durable cursor is the last
// delta token seen; a failing page fails the whole pull so the stored cursor
// stays where it was.
func (p *ProviderDelta) pullPages(ctx context.Context, accountID, token, cursor string) (*Batch, error) {
	batch := &Batch{}
	next := cursor
	pageToken := ""

	for pages := 0; ; pages++ {
		deltaToken := ""
		if pageToken == "" {
			deltaToken = cursor
		}

		page, err := p.pullPage(ctx, token, deltaToken, pageToken)
		if err != nil {
			return nil, fmt.Errorf("failed to pull page %d: %w", pages+1, err)
		}

		for i := range page.Records {
			batch.Messages = append(batch.Messages, RawMessage{Record: &page.Records[i]})
		}
		if page.NextDeltaToken != "" {
			next = page.NextDeltaToken
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	p.log.Debug("Pulled provider changes",
		zap.String("account_id", accountID),
		zap.Int("records", len(batch.Messages)),
	)
	batch.NextCursor = &next
	return batch, nil
}

// pullPage retries a "not ready" page on a fixed short interval.
func (p *ProviderDelta) pullPage(ctx context.Context, token, deltaToken, pageToken string) (*provider.ChangesPage, error) {
	for polls := 0; ; polls++ {
		page, err := p.api.PullChanges(ctx, token, deltaToken, pageToken)
		if err == nil {
			return page, nil
		}
		if !errors.Is(err, provider.ErrNotReady) || polls >= p.cfg.ReadyMaxPolls {
			return nil, err
		}
		if err := p.sleep(ctx, p.cfg.ReadyPollInterval); err != nil {
			return nil, err
		}
	}
}
