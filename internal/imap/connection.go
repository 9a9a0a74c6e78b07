// Package imap wraps the go-imap client for the protocol sync strategy:
// dial and login, read the INBOX tail, and watch INBOX with IDLE.
package imap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/client"
)

// ErrAuthentication is returned when the server rejects the credentials.
var ErrAuthentication = errors.New("imap authentication failed")

const inbox = "INBOX"

// Options describe how to reach and log in to a mailbox.
type Options struct {
	Host     string
	Port     int
	Username string
	Password string
	// UseTLS selects implicit TLS. Tests use plain TCP against the in-memory server.
	UseTLS  bool
	Timeout time.Duration
}

// Address returns host:port.
func (o Options) Address() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// Session is one logged-in connection. It is not safe for concurrent use.
type Session struct {
	client *client.Client
}

// Dial connects and logs in. The connect timeout is Options.Timeout, capped by
// the context deadline; the same timeout then applies to every command.
func Dial(ctx context.Context, opts Options) (*Session, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	dialer := &net.Dialer{Timeout: opts.Timeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}

	var (
		c   *client.Client
		err error
	)
	if opts.UseTLS {
		c, err = client.DialWithDialerTLS(dialer, opts.Address(), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to dial with TLS: %w", err)
		}
	} else {
		c, err = client.DialWithDialer(dialer, opts.Address())
		if err != nil {
			return nil, fmt.Errorf("failed to dial: %w", err)
		}
	}
	c.Timeout = opts.Timeout

	if err := c.Login(opts.Username, opts.Password); err != nil {
		_ = c.Terminate()
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	return &Session{client: c}, nil
}

// SelectInbox opens INBOX read-only and returns its message count.
func (s *Session) SelectInbox() (uint32, error) {
	status, err := s.client.Select(inbox, true)
	if err != nil {
		return 0, fmt.Errorf("failed to select INBOX: %w", err)
	}
	return status.Messages, nil
}

// Logout ends the session and closes the connection.
func (s *Session) Logout() error {
	if err := s.client.Logout(); err != nil {
		_ = s.client.Terminate()
		return fmt.Errorf("failed to logout: %w", err)
	}
	return nil
}
