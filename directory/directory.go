// Package directory maintains the conversation summary table: one row
// per peer with a kind-aware preview of the tail message, the last
// activity timestamp, and an unread counter. Rows are kept in sync with
// the message store by resyncing after every mutation and are served
// sorted by recency.
package directory

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chatkit/message"
)

// Entry is one row of the conversation directory.
type Entry struct {
	PeerID       string    `json:"peerId"`
	Preview      string    `json:"preview"`
	LastSender   string    `json:"lastSender"`
	LastActivity time.Time `json:"lastActivity"`
	Unread       int       `json:"unread"`
}

// Directory is the summary table for one session. Safe for concurrent
// use.
type Directory struct {
	mu      sync.Mutex
	store   *message.Store
	selfID  string
	entries map[string]*entry
}

type entry struct {
	Entry
	countedSeq uint64
}

// New creates an empty directory over the session store. selfID is the
// local user; inbound tail messages from anyone else bump the unread
// counter.
func New(store *message.Store, selfID string) *Directory {
	return &Directory{
		store:   store,
		selfID:  selfID,
		entries: make(map[string]*entry),
	}
}

// Resync recomputes the conversation's row from the store's tail
// message. Called after every store mutation affecting the conversation.
func (d *Directory) Resync(conversationID string) {
	tail, ok := d.store.Last(conversationID)

	d.mu.Lock()
	defer d.mu.Unlock()

	if !ok {
		delete(d.entries, conversationID)
		return
	}

	e, exists := d.entries[conversationID]
	if !exists {
		e = &entry{Entry: Entry{PeerID: conversationID}}
		d.entries[conversationID] = e
	}

	// Only the arrival of an inbound message is unseen activity. A delete
	// can re-expose an older inbound tail; its sequence was already
	// counted, so it must not bump the counter again.
	if tail.Seq > e.countedSeq && tail.Sender != d.selfID {
		e.Unread++
	}
	if tail.Seq > e.countedSeq {
		e.countedSeq = tail.Seq
	}
	e.Preview = Preview(tail)
	e.LastSender = tail.Sender
	e.LastActivity = tail.CreatedAt

	logrus.WithFields(logrus.Fields{
		"function":     "Resync",
		"conversation": conversationID,
		"unread":       e.Unread,
	}).Debug("Directory row resynced")
}

// MarkRead clears the unread counter for the conversation, e.g. when the
// viewer opens it.
func (d *Directory) MarkRead(conversationID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[conversationID]; ok {
		e.Unread = 0
	}
}

// Get returns the row for the conversation.
func (d *Directory) Get(conversationID string) (Entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[conversationID]; ok {
		return e.Entry, true
	}
	return Entry{}, false
}

// Entries returns every row sorted by last activity, most recent first.
func (d *Directory) Entries() []Entry {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Entry, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, e.Entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}

// Preview renders the kind-aware one-line summary of a message for list
// views.
func Preview(m *message.Message) string {
	switch m.Kind {
	case message.KindImage:
		return "Sent an image"
	case message.KindVoice:
		return "Voice message"
	case message.KindFile:
		if m.File != nil && m.File.Name != "" {
			return m.File.Name
		}
		return "Sent a file"
	case message.KindCall:
		return callPreview(m)
	default:
		return m.Body
	}
}

func callPreview(m *message.Message) string {
	if m.Call == nil {
		return "Call"
	}
	label := "Voice call"
	if m.Call.CallType == "video" {
		label = "Video call"
	}
	switch m.Call.Outcome {
	case "missed":
		return "Missed " + lower(label)
	case "completed":
		return fmt.Sprintf("%s · %s", label, formatDuration(m.Call.Duration))
	default:
		return label
	}
}

func lower(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'A' && b[0] <= 'Z' {
		b[0] += 'a' - 'A'
	}
	return string(b)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%d:%02d", m, s)
}
