package imap

import (
	"context"
	"errors"
	"fmt"
	"time"

	idle "github.com/emersion/go-imap-idle"
	imapclient "github.com/emersion/go-imap/client"
	"go.uber.org/zap"
)

// idleRetryDelay is the backoff after a failed or ended IDLE session.
const idleRetryDelay = 10 * time.Second

// Watcher keeps an IDLE session on INBOX and reports new messages.
type Watcher struct {
	log        *zap.Logger
	retryDelay time.Duration
	// pollInterval is used when the server has no IDLE support.
	pollInterval time.Duration
}

// NewWatcher creates a watcher.
func NewWatcher(log *zap.Logger) *Watcher {
	return &Watcher{log: log, retryDelay: idleRetryDelay, pollInterval: 5 * time.Second}
}

// Watch blocks until ctx is done, calling onChange whenever INBOX reports a
// new message count. Connection failures are logged and retried; a rejected
// login ends the watch.
func (w *Watcher) Watch(ctx context.Context, opts Options, onChange func()) error {
	for {
		err := w.watchOnce(ctx, opts, onChange)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if isAuthError(err) {
				return err
			}
			w.log.Warn("IMAP IDLE session ended", zap.String("host", opts.Host), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.retryDelay):
		}
	}
}

func (w *Watcher) watchOnce(ctx context.Context, opts Options, onChange func()) error {
	session, err := Dial(ctx, opts)
	if err != nil {
		return err
	}

	c := session.client
	updates := make(chan imapclient.Update, 10)
	c.Updates = updates

	// The client blocks its reader on a full Updates channel, so updates are
	// consumed until the session is gone.
	loggedOut := make(chan struct{})
	defer func() {
		go drainUpdates(updates, loggedOut)
		if err := session.Logout(); err != nil {
			w.log.Warn("IMAP logout failed", zap.String("host", opts.Host), zap.Error(err))
		}
		close(loggedOut)
	}()

	known, err := session.SelectInbox()
	if err != nil {
		return err
	}

	// IDLE has no per-command deadline.
	c.Timeout = 0

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- idle.NewClient(c).IdleWithFallback(stop, w.pollInterval)
	}()

	for {
		select {
		case <-ctx.Done():
			close(stop)
			idleDone := make(chan struct{})
			go drainUpdates(updates, idleDone)
			<-done
			close(idleDone)
			return nil
		case err := <-done:
			if err != nil {
				return fmt.Errorf("idle failed: %w", err)
			}
			return nil
		case update := <-updates:
			known = handleUpdate(update, known, onChange)
		}
	}
}

// drainUpdates discards updates until stop is closed.
func drainUpdates(updates <-chan imapclient.Update, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-updates:
		}
	}
}

// handleUpdate calls onChange when INBOX grew and returns the new message count.
func handleUpdate(update imapclient.Update, known uint32, onChange func()) uint32 {
	mailbox, ok := update.(*imapclient.MailboxUpdate)
	if !ok || mailbox.Mailbox == nil {
		return known
	}
	if mailbox.Mailbox.Messages > known {
		onChange()
	}
	return mailbox.Mailbox.Messages
}

func isAuthError(err error) bool {
	return errors.Is(err, ErrAuthentication)
}
