package mailsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vdavid/mailsync/internal/metrics"
	"go.uber.org/zap"
)

// Syncer is what the scheduler drives.
type Syncer interface {
	SyncAccount(ctx context.Context, accountID string) (*Result, error)
	SyncAll(ctx context.Context) ([]Result, error)
}

const triggerQueueSize = 64

// Scheduler runs SyncAll on a fixed interval and on-demand account syncs
// queued through Trigger.
type Scheduler struct {
	syncer   Syncer
	interval time.Duration
	metrics  *metrics.Sync
	log      *zap.Logger

	triggers chan string
	mu       sync.Mutex
	pending  map[string]struct{}
}

// NewScheduler creates a scheduler.
func NewScheduler(syncer Syncer, interval time.Duration, m *metrics.Sync, log *zap.Logger) *Scheduler {
	return &Scheduler{
		syncer:   syncer,
		interval: interval,
		metrics:  m,
		log:      log,
		triggers: make(chan string, triggerQueueSize),
		pending:  make(map[string]struct{}),
	}
}

// Trigger queues a sync of one account. It returns false when the account is
// already queued or the queue is full.
func (s *Scheduler) Trigger(source, accountID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[accountID]; ok {
		s.metrics.Triggered(source, false)
		return false
	}

	select {
	case s.triggers <- accountID:
		s.pending[accountID] = struct{}{}
		s.metrics.Triggered(source, true)
		return true
	default:
		s.log.Warn("Sync trigger queue full, dropping", zap.String("account_id", accountID), zap.String("source", source))
		s.metrics.Triggered(source, false)
		return false
	}
}

// Run syncs all accounts right away and then every interval until ctx is
// done. It waits for triggered syncs to finish before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	s.syncAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.syncAll(ctx)
		case accountID := <-s.triggers:
			s.mu.Lock()
			delete(s.pending, accountID)
			s.mu.Unlock()

			wg.Go(func() {
				s.syncOne(ctx, accountID)
			})
		}
	}
}

func (s *Scheduler) syncAll(ctx context.Context) {
	if _, err := s.syncer.SyncAll(ctx); err != nil && ctx.Err() == nil {
		s.log.Error("Scheduled sync failed", zap.Error(err))
	}
}

func (s *Scheduler) syncOne(ctx context.Context, accountID string) {
	_, err := s.syncer.SyncAccount(ctx, accountID)
	if errors.Is(err, ErrSyncInProgress) {
		s.log.Debug("Triggered sync skipped, account busy", zap.String("account_id", accountID))
	}
}
