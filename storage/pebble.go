package storage

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chatkit/message"
)

// PebbleStore is a HistoryStore over an embedded pebble database.
//
// Keys are ordered so a prefix scan yields one conversation's log in
// append order:
//
//	conv:<conversationID, query-escaped>:msg:<seq, zero-padded>
//
// The ID is escaped so IDs containing ":" cannot collide with the key
// layout. Values are the JSON-encoded message. Edits and status changes
// overwrite in place; deletes remove the key.
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) the database at path.
func OpenPebble(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening history store: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "OpenPebble",
		"path":     path,
	}).Info("Durable history store opened")

	return &PebbleStore{db: db}, nil
}

func msgKey(conversationID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("conv:%s:msg:%020d", url.QueryEscape(conversationID), seq))
}

func convPrefix(conversationID string) []byte {
	return []byte("conv:" + url.QueryEscape(conversationID) + ":msg:")
}

// SaveMessage writes the message's current state.
func (p *PebbleStore) SaveMessage(conversationID string, m *message.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding message %s: %w", m.ID, err)
	}
	if err := p.db.Set(msgKey(conversationID, m.Seq), data, pebble.Sync); err != nil {
		return fmt.Errorf("writing message %s: %w", m.ID, err)
	}
	return nil
}

// LoadConversation returns the stored log in append order.
func (p *PebbleStore) LoadConversation(conversationID string) ([]*message.Message, error) {
	prefix := convPrefix(conversationID)
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("scanning conversation %s: %w", conversationID, err)
	}
	defer iter.Close()

	var out []*message.Message
	for iter.First(); iter.Valid(); iter.Next() {
		var m message.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "LoadConversation",
				"key":      string(iter.Key()),
				"error":    err.Error(),
			}).Warn("Skipping undecodable stored message")
			continue
		}
		out = append(out, &m)
	}
	return out, iter.Error()
}

// Conversations returns every stored conversation ID.
func (p *PebbleStore) Conversations() ([]string, error) {
	prefix := []byte("conv:")
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("scanning conversations: %w", err)
	}
	defer iter.Close()

	seen := make(map[string]bool)
	var out []string
	for iter.First(); iter.Valid(); iter.Next() {
		key := string(iter.Key())
		rest := strings.TrimPrefix(key, "conv:")
		idx := strings.Index(rest, ":msg:")
		if idx < 0 {
			continue
		}
		id, err := url.QueryUnescape(rest[:idx])
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Conversations",
				"key":      key,
			}).Warn("Skipping key with undecodable conversation ID")
			continue
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, iter.Error()
}

// DeleteMessage removes the stored message; unknown keys are a no-op.
func (p *PebbleStore) DeleteMessage(conversationID string, seq uint64) error {
	if err := p.db.Delete(msgKey(conversationID, seq), pebble.Sync); err != nil {
		return fmt.Errorf("deleting message seq %d: %w", seq, err)
	}
	return nil
}

// Close closes the underlying database.
func (p *PebbleStore) Close() error {
	logrus.WithFields(logrus.Fields{
		"function": "Close",
	}).Info("Durable history store closed")
	return p.db.Close()
}

// upperBound returns the smallest key greater than every key with the
// given prefix.
func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
