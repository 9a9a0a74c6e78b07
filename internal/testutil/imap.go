package testutil

import (
	"bytes"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
)

// TestIMAPServer is an in-memory IMAP server on a random local port.
// The memory backend has one user, "username" / "password", whose INBOX
// starts with a single message.
type TestIMAPServer struct {
	Server  *server.Server
	Address string
	Backend *memory.Backend
}

// StartIMAPServer starts a server outside of a test. The caller closes it.
func StartIMAPServer() (*TestIMAPServer, error) {
	be := memory.New()
	s := server.New(be)
	s.AllowInsecureAuth = true

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	go func() {
		_ = s.Serve(listener)
	}()

	return &TestIMAPServer{
		Server:  s,
		Address: listener.Addr().String(),
		Backend: be,
	}, nil
}

// NewTestIMAPServer starts a server that is closed when the test finishes.
func NewTestIMAPServer(t *testing.T) *TestIMAPServer {
	t.Helper()

	s, err := StartIMAPServer()
	if err != nil {
		t.Fatalf("Failed to start IMAP server: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

// Close stops the server.
func (s *TestIMAPServer) Close() error {
	return s.Server.Close()
}

func (s *TestIMAPServer) Username() string { return "username" }

func (s *TestIMAPServer) Password() string { return "password" }

// Host returns the listening host.
func (s *TestIMAPServer) Host() string {
	host, _, _ := net.SplitHostPort(s.Address)
	return host
}

// Port returns the listening port.
func (s *TestIMAPServer) Port() int {
	_, port, _ := net.SplitHostPort(s.Address)
	n, _ := strconv.Atoi(port)
	return n
}

// Connect opens a logged-in client. It is logged out when the test finishes.
func (s *TestIMAPServer) Connect(t *testing.T) *imapclient.Client {
	t.Helper()

	c, err := imapclient.Dial(s.Address)
	if err != nil {
		t.Fatalf("Failed to connect to test server: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Logout()
	})

	if err := c.Login(s.Username(), s.Password()); err != nil {
		t.Fatalf("Failed to login: %v", err)
	}
	return c
}

// ClearInbox removes every message from INBOX.
func (s *TestIMAPServer) ClearInbox(t *testing.T) {
	t.Helper()

	c := s.Connect(t)
	status, err := c.Select("INBOX", false)
	if err != nil {
		t.Fatalf("Failed to select INBOX: %v", err)
	}
	if status.Messages == 0 {
		return
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(1, status.Messages)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.Store(seqSet, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
		t.Fatalf("Failed to flag messages: %v", err)
	}
	if err := c.Expunge(nil); err != nil {
		t.Fatalf("Failed to expunge: %v", err)
	}
}

// Append appends an RFC 822 message to INBOX over a fresh connection.
func (s *TestIMAPServer) Append(raw []byte, flags ...string) error {
	c, err := imapclient.Dial(s.Address)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() {
		_ = c.Logout()
	}()

	if err := c.Login(s.Username(), s.Password()); err != nil {
		return fmt.Errorf("failed to login: %w", err)
	}
	if err := c.Append("INBOX", flags, time.Now(), bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// AppendRaw appends an RFC 822 message to INBOX.
func (s *TestIMAPServer) AppendRaw(t *testing.T, raw []byte, flags ...string) {
	t.Helper()

	if err := s.Append(raw, flags...); err != nil {
		t.Fatalf("Failed to append message: %v", err)
	}
}

// TestMessage is a plain-text message for AppendMessage.
type TestMessage struct {
	MessageID  string
	InReplyTo  string
	References string
	From       string
	To         string
	Subject    string
	Date       time.Time
	Body       string
}

// Raw renders the message as RFC 822 with CRLF line endings.
func (m TestMessage) Raw() []byte {
	var buf bytes.Buffer
	if m.MessageID != "" {
		fmt.Fprintf(&buf, "Message-ID: %s\r\n", m.MessageID)
	}
	if m.InReplyTo != "" {
		fmt.Fprintf(&buf, "In-Reply-To: %s\r\n", m.InReplyTo)
	}
	if m.References != "" {
		fmt.Fprintf(&buf, "References: %s\r\n", m.References)
	}
	if !m.Date.IsZero() {
		fmt.Fprintf(&buf, "Date: %s\r\n", m.Date.Format(time.RFC1123Z))
	}
	fmt.Fprintf(&buf, "From: %s\r\n", m.From)
	fmt.Fprintf(&buf, "To: %s\r\n", m.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", m.Subject)
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	buf.WriteString(m.Body)
	buf.WriteString("\r\n")
	return buf.Bytes()
}

// AppendMessage appends a rendered TestMessage to INBOX.
func (s *TestIMAPServer) AppendMessage(t *testing.T, m TestMessage, flags ...string) {
	t.Helper()
	s.AppendRaw(t, m.Raw(), flags...)
}
