package imap

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap"
)

// Fetched is one message as read from the server.
type Fetched struct {
	SeqNum       uint32
	UID          uint32
	Flags        []string
	InternalDate time.Time
	Raw          []byte
}

// FetchRange returns the full source and flags of messages from..to by
// sequence number. The selected mailbox is not modified.
func (s *Session) FetchRange(from, to uint32) ([]Fetched, error) {
	if from == 0 || to < from {
		return nil, fmt.Errorf("invalid sequence range %d:%d", from, to)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(from, to)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{
		imap.FetchFlags,
		imap.FetchUid,
		imap.FetchInternalDate,
		section.FetchItem(),
	}

	messages := make(chan *imap.Message, to-from+1)
	done := make(chan error, 1)

	go func() {
		done <- s.client.Fetch(seqSet, items, messages)
	}()

	var result []Fetched
	for msg := range messages {
		fetched := Fetched{
			SeqNum:       msg.SeqNum,
			UID:          msg.Uid,
			Flags:        msg.Flags,
			InternalDate: msg.InternalDate,
		}
		if body := msg.GetBody(section); body != nil {
			raw, err := io.ReadAll(body)
			if err == nil {
				fetched.Raw = raw
			}
		}
		result = append(result, fetched)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	return result, nil
}
