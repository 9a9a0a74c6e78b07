package mailsync

import (
	"context"
	"fmt"
	"time"

	"github.com/vdavid/mailsync/internal/imap"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/reconcile"
	"go.uber.org/zap"
)

// ProtocolSession is the part of an IMAP session the poller uses.
type ProtocolSession interface {
	SelectInbox() (uint32, error)
	FetchRange(from, to uint32) ([]imap.Fetched, error)
	Logout() error
}

// DialFunc opens a logged-in session.
type DialFunc func(ctx context.Context, opts imap.Options) (ProtocolSession, error)

// DialIMAP is the DialFunc backed by a real IMAP connection.
func DialIMAP(ctx context.Context, opts imap.Options) (ProtocolSession, error) {
	session, err := imap.Dial(ctx, opts)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ProtocolConfig configures IMAP polling.
type ProtocolConfig struct {
	// FetchLimit is how many of the newest INBOX messages each poll reads.
	FetchLimit int
	Timeout    time.Duration
	UseTLS     bool
}

// IMAPOptions builds connection options for an account.
func (c ProtocolConfig) IMAPOptions(account *models.Account, password string) imap.Options {
	port := account.IMAPPort
	if port == 0 {
		port = 993
	}
	username := account.IMAPUsername
	if username == "" {
		username = account.EmailAddress
	}
	return imap.Options{
		Host:     account.IMAPHost,
		Port:     port,
		Username: username,
		Password: password,
		UseTLS:   c.UseTLS,
		Timeout:  c.Timeout,
	}
}

// ProtocolPolling reads the last FetchLimit messages of INBOX on every run.
// It keeps no cursor; already stored messages are skipped by the reconciler.
type ProtocolPolling struct {
	dial DialFunc
	cfg  ProtocolConfig
	log  *zap.Logger
}

var _ Strategy = (*ProtocolPolling)(nil)

// NewProtocolPolling creates the strategy. A nil dial uses DialIMAP.
func NewProtocolPolling(dial DialFunc, cfg ProtocolConfig, log *zap.Logger) *ProtocolPolling {
	if dial == nil {
		dial = DialIMAP
	}
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &ProtocolPolling{dial: dial, cfg: cfg, log: log}
}

func (p *ProtocolPolling) Name() string { return "protocol" }

func (p *ProtocolPolling) Mode() reconcile.Mode { return reconcile.SkipExisting }

func (p *ProtocolPolling) Pull(ctx context.Context, account *models.Account, creds Credentials) (*Batch, error) {
	session, err := p.dial(ctx, p.cfg.IMAPOptions(account, creds.Password))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", account.IMAPHost, err)
	}
	defer func() {
		if err := session.Logout(); err != nil {
			p.log.Warn("IMAP logout failed", zap.String("account_id", account.ID), zap.Error(err))
		}
	}()

	total, err := session.SelectInbox()
	if err != nil {
		return nil, err
	}

	batch := &Batch{}
	if total == 0 {
		return batch, nil
	}

	from := uint32(1)
	if limit := uint32(p.cfg.FetchLimit); total > limit {
		from = total - limit + 1
	}

	fetched, err := session.FetchRange(from, total)
	if err != nil {
		return nil, err
	}

	for _, msg := range fetched {
		batch.Messages = append(batch.Messages, RawMessage{
			Source:       msg.Raw,
			Flags:        msg.Flags,
			InternalDate: msg.InternalDate,
		})
	}

	p.log.Debug("Fetched INBOX tail",
		zap.String("account_id", account.ID),
		zap.Uint32("total", total),
		zap.Uint32("from", from),
		zap.Int("fetched", len(batch.Messages)),
	)
	return batch, nil
}
