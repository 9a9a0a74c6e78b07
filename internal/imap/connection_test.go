package imap

import (
	"context"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailsync/internal/testutil"
)

func testOptions(server *testutil.TestIMAPServer) Options {
	return Options{
		Host:     server.Host(),
		Port:     server.Port(),
		Username: server.Username(),
		Password: server.Password(),
		Timeout:  5 * time.Second,
	}
}

func TestDial(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)

	t.Run("logs in and selects INBOX", func(t *testing.T) {
		session, err := Dial(context.Background(), testOptions(server))
		require.NoError(t, err)

		total, err := session.SelectInbox()
		require.NoError(t, err)
		assert.Equal(t, uint32(1), total)

		assert.NoError(t, session.Logout())
	})

	t.Run("rejects wrong password", func(t *testing.T) {
		opts := testOptions(server)
		opts.Password = "wrong"

		_, err := Dial(context.Background(), opts)
		assert.ErrorIs(t, err, ErrAuthentication)
	})

	t.Run("fails to reach closed port", func(t *testing.T) {
		opts := testOptions(server)
		opts.Port = 1
		opts.Timeout = time.Second

		_, err := Dial(context.Background(), opts)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrAuthentication)
	})
}

func TestFetchRange(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)
	server.ClearInbox(t)

	date := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, subject := range []string{"first", "second", "third"} {
		server.AppendMessage(t, testutil.TestMessage{
			MessageID: "<" + subject + "@example.com>",
			From:      "alice@example.com",
			To:        "bob@example.com",
			Subject:   subject,
			Date:      date.Add(time.Duration(i) * time.Hour),
			Body:      "body " + subject,
		}, imap.SeenFlag)
	}

	session, err := Dial(context.Background(), testOptions(server))
	require.NoError(t, err)
	defer func() { _ = session.Logout() }()

	total, err := session.SelectInbox()
	require.NoError(t, err)
	require.Equal(t, uint32(3), total)

	fetched, err := session.FetchRange(2, 3)
	require.NoError(t, err)
	require.Len(t, fetched, 2)

	assert.Equal(t, uint32(2), fetched[0].SeqNum)
	assert.Contains(t, string(fetched[0].Raw), "Subject: second")
	assert.Contains(t, string(fetched[1].Raw), "Subject: third")
	assert.Contains(t, fetched[1].Flags, imap.SeenFlag)

	_, err = session.FetchRange(0, 1)
	assert.Error(t, err)
}

func TestSelectInboxEmpty(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)
	server.ClearInbox(t)

	session, err := Dial(context.Background(), testOptions(server))
	require.NoError(t, err)
	defer func() { _ = session.Logout() }()

	total, err := session.SelectInbox()
	require.NoError(t, err)
	assert.Zero(t, total)
}
