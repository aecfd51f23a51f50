package message

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Store holds every conversation log for one session. All mutation is
// serialized behind a single mutex: timer callbacks, user actions, and
// the call bridge all funnel through here, so readers never race writers.
//
// Update and Remove on a nonexistent (conversation, id) pair are no-ops,
// not errors; timed callbacks may legally race user deletes.
type Store struct {
	mu   sync.RWMutex
	logs map[string][]*Message
}

// NewStore creates an empty store. The store is owned by the session that
// created it; there is no process-wide instance.
func NewStore() *Store {
	return &Store{
		logs: make(map[string][]*Message),
	}
}

// Append adds the message at the tail of the conversation log. Appends
// are the only way a log grows; ordering is append order and is never
// revisited.
func (s *Store) Append(conversationID string, msg *Message) {
	s.mu.Lock()
	s.logs[conversationID] = append(s.logs[conversationID], msg)
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":     "Append",
		"conversation": conversationID,
		"message_id":   msg.ID,
		"kind":         msg.Kind.String(),
	}).Debug("Message appended to conversation log")
}

// Find returns a copy of the message with the given id, or (nil, false)
// if it does not exist or was deleted.
func (s *Store) Find(conversationID, id string) (*Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.logs[conversationID] {
		if m.ID == id {
			return m.Clone(), true
		}
	}
	return nil, false
}

// Update applies patch to the message with the given id under the store
// lock. Returns false without calling patch when the message is missing.
func (s *Store) Update(conversationID, id string, patch func(*Message)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.logs[conversationID] {
		if m.ID == id {
			patch(m)
			return true
		}
	}
	return false
}

// Remove deletes the message with the given id in place. The surrounding
// order is preserved; messages replying to the removed one keep their
// dangling reference. Returns false when the message is missing.
func (s *Store) Remove(conversationID, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logs[conversationID]
	for i, m := range log {
		if m.ID == id {
			s.logs[conversationID] = append(log[:i], log[i+1:]...)
			logrus.WithFields(logrus.Fields{
				"function":     "Remove",
				"conversation": conversationID,
				"message_id":   id,
			}).Debug("Message removed from conversation log")
			return true
		}
	}
	return false
}

// Len returns the number of messages in the conversation log.
func (s *Store) Len(conversationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs[conversationID])
}

// Tail returns copies of the last n messages of the conversation in log
// order. n larger than the log returns the whole log.
func (s *Store) Tail(conversationID string, n int) []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.logs[conversationID]
	if n > len(log) {
		n = len(log)
	}
	if n <= 0 {
		return nil
	}
	out := make([]*Message, 0, n)
	for _, m := range log[len(log)-n:] {
		out = append(out, m.Clone())
	}
	return out
}

// All returns copies of every message in the conversation in log order.
func (s *Store) All(conversationID string) []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.logs[conversationID]
	out := make([]*Message, 0, len(log))
	for _, m := range log {
		out = append(out, m.Clone())
	}
	return out
}

// Last returns a copy of the tail message, or (nil, false) when the
// conversation is empty.
func (s *Store) Last(conversationID string) (*Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.logs[conversationID]
	if len(log) == 0 {
		return nil, false
	}
	return log[len(log)-1].Clone(), true
}

// Conversations returns the IDs of every conversation with at least one
// message.
func (s *Store) Conversations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.logs))
	for id, log := range s.logs {
		if len(log) > 0 {
			out = append(out, id)
		}
	}
	return out
}

// MarkRead flips every outstanding message authored by sender in the
// conversation to StatusRead and returns the IDs transitioned, in log
// order. Messages whose status cannot legally advance are left alone.
//
// Read receipts are conversation-wide: the final delivery timer marks
// every outstanding self message read together.
func (s *Store) MarkRead(conversationID, sender string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var flipped []string
	for _, m := range s.logs[conversationID] {
		if m.Sender == sender && m.Status.CanAdvance(StatusRead) {
			m.Status = StatusRead
			flipped = append(flipped, m.ID)
		}
	}
	return flipped
}

// Restore replaces the conversation log wholesale. Used by savedata
// loading only; normal operation never rewrites a log.
func (s *Store) Restore(conversationID string, msgs []*Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := make([]*Message, 0, len(msgs))
	for _, m := range msgs {
		log = append(log, m.Clone())
	}
	s.logs[conversationID] = log
}
