package mailsync

import (
	"context"
	"sync"

	"github.com/vdavid/mailsync/internal/imap"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/store"
	"go.uber.org/zap"
)

// WatchFunc blocks until ctx is done, calling onChange on mailbox updates.
type WatchFunc func(ctx context.Context, opts imap.Options, onChange func()) error

// TriggerFunc queues an account sync.
type TriggerFunc func(source, accountID string) bool

// IdleSupervisor keeps one IDLE watch per protocol account and triggers a
// sync whenever INBOX changes. Accounts linked after Run started are picked
// up on the next start.
type IdleSupervisor struct {
	store     store.Store
	decrypter Decrypter
	cfg       ProtocolConfig
	watch     WatchFunc
	trigger   TriggerFunc
	log       *zap.Logger
}

// NewIdleSupervisor creates a supervisor. A nil watch uses imap.Watcher.
func NewIdleSupervisor(s store.Store, decrypter Decrypter, cfg ProtocolConfig, watch WatchFunc, trigger TriggerFunc, log *zap.Logger) *IdleSupervisor {
	if watch == nil {
		watch = imap.NewWatcher(log).Watch
	}
	return &IdleSupervisor{store: s, decrypter: decrypter, cfg: cfg, watch: watch, trigger: trigger, log: log}
}

// Run blocks until ctx is done and every watch has stopped.
func (s *IdleSupervisor) Run(ctx context.Context) error {
	accounts, err := s.store.ListSyncableAccounts(ctx)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, account := range accounts {
		if account.Kind != models.AccountKindIMAP || len(account.EncryptedPassword) == 0 {
			continue
		}

		password, err := s.decrypter.Decrypt(account.EncryptedPassword)
		if err != nil {
			s.log.Warn("Not watching account, password cannot be decrypted", zap.String("account_id", account.ID), zap.Error(err))
			continue
		}

		opts := s.cfg.IMAPOptions(account, password)
		accountID := account.ID
		wg.Go(func() {
			err := s.watch(ctx, opts, func() {
				s.trigger("idle", accountID)
			})
			if err != nil && ctx.Err() == nil {
				s.log.Warn("IDLE watch stopped", zap.String("account_id", accountID), zap.Error(err))
			}
		})
	}

	wg.Wait()
	return nil
}
