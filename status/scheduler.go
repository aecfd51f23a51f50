// Package status implements the timed delivery-status pipeline for
// self-authored messages.
//
// The scheduler advances each tracked message through the state machine
//
//	sending -> sent -> delivered -> read
//
// on configurable delays, standing in for what a real messaging backend
// would report. A message has at most one pending transition chain; the
// chain is cancelled when the message is deleted, and every timer also
// re-checks existence at fire time, so a deleted message is never
// resurrected or moved.
//
// Example:
//
//	sched := status.NewScheduler(store, "self", nil)
//	defer sched.Close()
//	sched.OnTransition(func(convID, msgID string, st message.Status) {
//	    log.Printf("%s -> %s", msgID, st)
//	})
//	sched.Track("conv-1", msg.ID)
package status

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chatkit/message"
)

// Default transition delays, chosen to feel like a responsive backend.
const (
	DefaultSentDelay    = 500 * time.Millisecond
	DefaultDeliverDelay = 1000 * time.Millisecond
	DefaultReadDelay    = 1500 * time.Millisecond
)

// Config holds the per-hop delays of the pipeline. Each delay is measured
// from the previous hop, not from the send.
type Config struct {
	SentDelay    time.Duration `yaml:"sent_delay"`
	DeliverDelay time.Duration `yaml:"deliver_delay"`
	ReadDelay    time.Duration `yaml:"read_delay"`
}

// DefaultConfig returns the standard pipeline timing.
func DefaultConfig() Config {
	return Config{
		SentDelay:    DefaultSentDelay,
		DeliverDelay: DefaultDeliverDelay,
		ReadDelay:    DefaultReadDelay,
	}
}

// Observer is notified after a status transition has been applied to the
// store. Called from timer goroutines; implementations must be safe for
// concurrent use.
type Observer func(conversationID, messageID string, st message.Status)

// chain is one pending transition sequence for a single message.
type chain struct {
	conversationID string
	timer          *time.Timer
	cancelled      bool
}

// Scheduler drives delivery-status progression for tracked messages.
// Safe for concurrent use.
type Scheduler struct {
	mu       sync.Mutex
	store    *message.Store
	selfID   string
	cfg      Config
	observer Observer
	chains   map[string]*chain
	closed   bool
}

// NewScheduler creates a scheduler bound to the session's store. selfID
// identifies the authoring party whose messages get read receipts. A nil
// cfg delay set falls back to defaults.
func NewScheduler(store *message.Store, selfID string, cfg *Config) *Scheduler {
	c := DefaultConfig()
	if cfg != nil {
		c = *cfg
	}

	logrus.WithFields(logrus.Fields{
		"function":      "NewScheduler",
		"sent_delay":    c.SentDelay,
		"deliver_delay": c.DeliverDelay,
		"read_delay":    c.ReadDelay,
	}).Info("Creating delivery status scheduler")

	return &Scheduler{
		store:  store,
		selfID: selfID,
		cfg:    c,
		chains: make(map[string]*chain),
	}
}

// OnTransition sets the observer callback. Replaces any previous observer.
func (s *Scheduler) OnTransition(obs Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = obs
}

// Track begins the timed transition chain for a freshly sent message.
// A message already being tracked is left alone; re-sending must not
// create duplicate chains.
func (s *Scheduler) Track(conversationID, messageID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, exists := s.chains[messageID]; exists {
		s.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function":   "Track",
			"message_id": messageID,
		}).Debug("Message already tracked, ignoring duplicate chain")
		return
	}

	ch := &chain{conversationID: conversationID}
	s.chains[messageID] = ch
	ch.timer = time.AfterFunc(s.cfg.SentDelay, func() {
		s.fire(messageID, message.StatusSent)
	})
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":     "Track",
		"conversation": conversationID,
		"message_id":   messageID,
	}).Debug("Delivery chain started")
}

// Cancel stops any pending transitions for the message. Called when the
// message is deleted or retried; a missing chain is a no-op.
func (s *Scheduler) Cancel(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(messageID)
}

func (s *Scheduler) cancelLocked(messageID string) {
	ch, ok := s.chains[messageID]
	if !ok {
		return
	}
	ch.cancelled = true
	if ch.timer != nil {
		ch.timer.Stop()
	}
	delete(s.chains, messageID)
}

// Fail transitions a message in StatusSending straight to StatusFailed
// and drops its chain. Used for send failures; see Session.Retry for the
// recovery path.
func (s *Scheduler) Fail(conversationID, messageID string) {
	s.mu.Lock()
	s.cancelLocked(messageID)
	obs := s.observer
	s.mu.Unlock()

	applied := s.store.Update(conversationID, messageID, func(m *message.Message) {
		if m.Status.CanAdvance(message.StatusFailed) {
			m.Status = message.StatusFailed
		}
	})
	if !applied {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":     "Fail",
		"conversation": conversationID,
		"message_id":   messageID,
	}).Warn("Message send failed")

	if obs != nil {
		obs(conversationID, messageID, message.StatusFailed)
	}
}

// Pending reports whether the message has a live transition chain.
func (s *Scheduler) Pending(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.chains[messageID]
	return ok
}

// Close cancels every pending chain. Further Track calls are no-ops.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.chains {
		ch.cancelled = true
		if ch.timer != nil {
			ch.timer.Stop()
		}
		delete(s.chains, id)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Close",
	}).Info("Delivery status scheduler closed")
}

// fire applies one transition and arms the next hop. Transitions are
// guarded twice: the chain may have been cancelled while the timer was in
// flight, and the message must still exist and accept the move.
func (s *Scheduler) fire(messageID string, next message.Status) {
	s.mu.Lock()
	ch, ok := s.chains[messageID]
	if !ok || ch.cancelled || s.closed {
		s.mu.Unlock()
		return
	}
	conversationID := ch.conversationID
	obs := s.observer
	s.mu.Unlock()

	applied := s.store.Update(conversationID, messageID, func(m *message.Message) {
		if m.Status.CanAdvance(next) {
			m.Status = next
		} else {
			next = m.Status // keep the reported status truthful
		}
	})
	if !applied {
		// Deleted between scheduling and firing; drop the chain.
		s.Cancel(messageID)
		logrus.WithFields(logrus.Fields{
			"function":   "fire",
			"message_id": messageID,
		}).Debug("Transition target no longer exists, chain dropped")
		return
	}

	if obs != nil {
		obs(conversationID, messageID, next)
	}

	switch next {
	case message.StatusSent:
		s.arm(messageID, s.cfg.DeliverDelay, message.StatusDelivered)
	case message.StatusDelivered:
		s.arm(messageID, s.cfg.ReadDelay, message.StatusRead)
	case message.StatusRead:
		s.finishRead(conversationID, messageID, obs)
	default:
		s.Cancel(messageID)
	}
}

// arm schedules the next hop on the message's existing chain.
func (s *Scheduler) arm(messageID string, delay time.Duration, next message.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.chains[messageID]
	if !ok || ch.cancelled || s.closed {
		return
	}
	ch.timer = time.AfterFunc(delay, func() {
		s.fire(messageID, next)
	})
}

// finishRead completes a chain's read hop: every outstanding self message
// in the conversation flips to read together, matching how a backend
// reports a conversation-level read receipt.
func (s *Scheduler) finishRead(conversationID, messageID string, obs Observer) {
	s.Cancel(messageID)

	flipped := s.store.MarkRead(conversationID, s.selfID)
	for _, id := range flipped {
		if id == messageID {
			continue // already reported by fire
		}
		s.Cancel(id)
		if obs != nil {
			obs(conversationID, id, message.StatusRead)
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":     "finishRead",
		"conversation": conversationID,
		"read_count":   len(flipped) + 1,
	}).Debug("Conversation read receipt applied")
}
