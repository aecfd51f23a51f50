// Package chatkit implements the conversation messaging core of a
// social-networking client.
//
// A Session owns per-peer message history, the simulated delivery-status
// pipeline, windowed history loading, and message mutation operations
// (edit, delete, reply, react), plus a conversation directory kept in
// sync with every mutation. All state is owned by the Session; there is
// no process-wide store.
//
// Example:
//
//	opts := chatkit.NewOptions()
//	session, err := chatkit.New(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close()
//
//	session.OnStatusChange(func(convID, msgID string, st message.Status) {
//	    fmt.Printf("message %s is now %s\n", msgID, st)
//	})
//
//	msg, err := session.SendText("alice", "Hello!", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
package chatkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chatkit/call"
	"github.com/opd-ai/chatkit/directory"
	"github.com/opd-ai/chatkit/history"
	"github.com/opd-ai/chatkit/media"
	"github.com/opd-ai/chatkit/message"
	"github.com/opd-ai/chatkit/partner"
	"github.com/opd-ai/chatkit/status"
	"github.com/opd-ai/chatkit/storage"
)

// Facade errors. Missing-entity conditions are deliberately not errors;
// see the individual operations.
var (
	// ErrEmptyMessage is returned when a text send has no content.
	ErrEmptyMessage = errors.New("message text cannot be empty")
	// ErrNotAuthor is returned when editing a message authored by
	// someone else.
	ErrNotAuthor = errors.New("message was authored by another user")
	// ErrNotFailed is returned when retrying a message that has not
	// failed.
	ErrNotFailed = errors.New("message has not failed")
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session is closed")
)

// MessageCallback is invoked when a message is appended to any
// conversation, whether sent locally or received from the peer side.
type MessageCallback func(msg *message.Message)

// StatusCallback is invoked after a delivery status transition.
type StatusCallback func(conversationID, messageID string, st message.Status)

// TypingCallback is invoked when the peer side starts or stops typing.
type TypingCallback func(conversationID string, typing bool)

// DirectoryCallback is invoked when conversation directory rows change,
// with the rows sorted most-recent first.
type DirectoryCallback func(entries []directory.Entry)

// SendOptions carries optional send parameters.
type SendOptions struct {
	// ReplyTo references an earlier message in the same conversation.
	// The reference is weak: deleting the referent later leaves it
	// dangling and ResolveReply reports it as unavailable.
	ReplyTo string
}

// Session is the conversation messaging core for one logged-in user.
// It is constructed at session start, torn down with Close, and safe for
// concurrent use.
type Session struct {
	opts      *Options
	store     *message.Store
	ids       *message.IDGenerator
	scheduler *status.Scheduler
	dir       *directory.Directory
	behavior  partner.Behavior
	bridge    *call.Bridge
	hist      storage.HistoryStore

	winMu   sync.Mutex
	windows map[string]*history.Window

	cbMu        sync.RWMutex
	onMessage   MessageCallback
	onStatus    StatusCallback
	onTyping    TypingCallback
	onDirectory DirectoryCallback

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeMu sync.Mutex
	closed  bool

	timeProvider message.TimeProvider
}

// New creates a Session with the given options. A nil opts uses
// defaults. When opts.HistoryPath is set, previously stored history is
// loaded before the session becomes usable.
func New(opts *Options) (*Session, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if opts.SelfID == "" {
		return nil, errors.New("options must set SelfID")
	}

	logrus.WithFields(logrus.Fields{
		"function":        "New",
		"self_id":         opts.SelfID,
		"page_size":       opts.PageSize,
		"partner_enabled": opts.PartnerEnabled,
		"durable_history": opts.HistoryPath != "",
	}).Info("Creating chat session")

	store := message.NewStore()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		opts:         opts,
		store:        store,
		ids:          message.NewIDGenerator(),
		scheduler:    status.NewScheduler(store, opts.SelfID, &opts.Status),
		dir:          directory.New(store, opts.SelfID),
		hist:         storage.Nop{},
		windows:      make(map[string]*history.Window),
		ctx:          ctx,
		cancel:       cancel,
		timeProvider: message.GetDefaultTimeProvider(),
	}
	s.bridge = call.NewBridge(s)

	if opts.PartnerEnabled {
		popts := []partner.CannedOption{
			partner.WithDelays(opts.TypingDelay, opts.ReplyDelay),
		}
		if len(opts.PartnerReplies) > 0 {
			popts = append(popts, partner.WithReplies(opts.PartnerReplies))
		}
		s.behavior = partner.NewCannedReplier(popts...)
	} else {
		s.behavior = partner.Silent{}
	}

	s.scheduler.OnTransition(s.handleTransition)

	if opts.HistoryPath != "" {
		hist, err := storage.OpenPebble(opts.HistoryPath)
		if err != nil {
			cancel()
			return nil, err
		}
		s.hist = hist
		if err := s.loadHistory(); err != nil {
			hist.Close()
			cancel()
			return nil, err
		}
	}

	return s, nil
}

// SetPartnerBehavior replaces the conversation partner behavior, e.g.
// to swap the canned replier for a real backend adapter.
func (s *Session) SetPartnerBehavior(b partner.Behavior) {
	if b == nil {
		b = partner.Silent{}
	}
	s.cbMu.Lock()
	s.behavior = b
	s.cbMu.Unlock()
}

// CallBridge returns the bridge the call subsystem uses to record call
// logs in conversations.
func (s *Session) CallBridge() *call.Bridge {
	return s.bridge
}

// OnMessage sets the new-message callback.
func (s *Session) OnMessage(cb MessageCallback) {
	s.cbMu.Lock()
	s.onMessage = cb
	s.cbMu.Unlock()
}

// OnStatusChange sets the delivery status callback.
func (s *Session) OnStatusChange(cb StatusCallback) {
	s.cbMu.Lock()
	s.onStatus = cb
	s.cbMu.Unlock()
}

// OnTyping sets the peer typing indicator callback.
func (s *Session) OnTyping(cb TypingCallback) {
	s.cbMu.Lock()
	s.onTyping = cb
	s.cbMu.Unlock()
}

// OnDirectoryChange sets the directory update callback.
func (s *Session) OnDirectoryChange(cb DirectoryCallback) {
	s.cbMu.Lock()
	s.onDirectory = cb
	s.cbMu.Unlock()
}

// SendText sends a plain text message to the conversation. The message
// enters the delivery pipeline in StatusSending; for text sends the
// conversation partner behavior may produce a delayed reply.
func (s *Session) SendText(conversationID, body string, opts *SendOptions) (*message.Message, error) {
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyMessage
	}
	m := s.newOutbound(conversationID, message.KindText, body, opts)
	return s.commitOutbound(m)
}

// SendImage sends an image message. Body is the caption.
func (s *Session) SendImage(conversationID string, img message.ImagePayload, caption string, opts *SendOptions) (*message.Message, error) {
	m := s.newOutbound(conversationID, message.KindImage, caption, opts)
	m.Image = &img
	return s.commitOutbound(m)
}

// SendVoice sends a voice message with collaborator-supplied duration
// and waveform.
func (s *Session) SendVoice(conversationID string, voice message.VoicePayload, opts *SendOptions) (*message.Message, error) {
	m := s.newOutbound(conversationID, message.KindVoice, "Voice message", opts)
	m.Voice = &voice
	return s.commitOutbound(m)
}

// SendVoiceClip analyzes a captured Ogg Opus clip and sends it as a
// voice message with derived duration and waveform. Clips in other
// formats must go through SendVoice with collaborator-supplied metadata.
func (s *Session) SendVoiceClip(conversationID string, clip *media.Clip, opts *SendOptions) (*message.Message, error) {
	analysis, err := media.AnalyzeVoice(clip, media.DefaultWaveformBuckets)
	if err != nil {
		return nil, fmt.Errorf("analyzing voice clip: %w", err)
	}
	return s.SendVoice(conversationID, message.VoicePayload{
		URL:      clip.URL,
		Duration: analysis.Duration,
		Waveform: analysis.Waveform,
	}, opts)
}

// SendFile sends a file attachment. Body carries the filename for
// previews.
func (s *Session) SendFile(conversationID string, file message.FilePayload, opts *SendOptions) (*message.Message, error) {
	m := s.newOutbound(conversationID, message.KindFile, file.Name, opts)
	m.File = &file
	return s.commitOutbound(m)
}

// CaptureAndSendImage captures a photo through the media collaborator
// and sends it. Capture failures abort the operation; no message is
// created.
func (s *Session) CaptureAndSendImage(ctx context.Context, conversationID string, capture media.Capture, caption string) (*message.Message, error) {
	clip, err := capture.CaptureImage(ctx)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":     "CaptureAndSendImage",
			"conversation": conversationID,
			"error":        err.Error(),
		}).Warn("Image capture failed, no message created")
		return nil, fmt.Errorf("capturing image: %w", err)
	}
	return s.SendImage(conversationID, message.ImagePayload{URL: clip.URL}, caption, nil)
}

// CaptureAndSendVoice records an audio clip through the media
// collaborator and sends it as a voice message. Capture failures abort
// the operation; no message is created.
func (s *Session) CaptureAndSendVoice(ctx context.Context, conversationID string, capture media.Capture) (*message.Message, error) {
	clip, err := capture.CaptureAudio(ctx)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":     "CaptureAndSendVoice",
			"conversation": conversationID,
			"error":        err.Error(),
		}).Warn("Audio capture failed, no message created")
		return nil, fmt.Errorf("capturing audio: %w", err)
	}
	return s.SendVoiceClip(conversationID, clip, nil)
}

// SendCallLog stores a synthetic call-log entry. Call entries carry no
// delivery status and never trigger the partner behavior. Implements
// call.Sender.
func (s *Session) SendCallLog(conversationID, body string, payload message.CallPayload) (*message.Message, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	m := message.New(s.ids.Next(), conversationID, s.opts.SelfID, message.KindCall, body)
	m.CreatedAt = s.timeProvider.Now()
	m.Call = &payload
	s.append(m)
	return m.Clone(), nil
}

// ReceivePeerMessage stores a message authored by the peer side, e.g.
// from a real backend replacing the canned partner. Peer messages carry
// no delivery status and bump the conversation's unread counter.
func (s *Session) ReceivePeerMessage(conversationID, sender, body string) (*message.Message, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyMessage
	}
	m := message.New(s.ids.Next(), conversationID, sender, message.KindText, body)
	m.CreatedAt = s.timeProvider.Now()
	s.append(m)
	return m.Clone(), nil
}

// Edit replaces the body of a message the local user authored, marks it
// edited, and refreshes its display timestamp. ID and reply reference
// are preserved. Editing a missing message is a no-op; editing someone
// else's message returns ErrNotAuthor.
func (s *Session) Edit(conversationID, messageID, newBody string) error {
	if strings.TrimSpace(newBody) == "" {
		return ErrEmptyMessage
	}

	var notAuthor bool
	var edited *message.Message
	s.store.Update(conversationID, messageID, func(m *message.Message) {
		if m.Sender != s.opts.SelfID {
			notAuthor = true
			return
		}
		m.Body = newBody
		m.Edited = true
		m.CreatedAt = s.timeProvider.Now()
		edited = m.Clone()
	})
	if notAuthor {
		return ErrNotAuthor
	}
	if edited == nil {
		return nil // missing message, tolerated
	}

	s.persist(edited)
	s.dir.Resync(conversationID)
	s.emitDirectory()
	return nil
}

// Delete removes a message. Any pending delivery transitions become
// no-ops, and messages replying to the deleted one keep their dangling
// reference. Deleting a missing message is a no-op.
func (s *Session) Delete(conversationID, messageID string) error {
	m, ok := s.store.Find(conversationID, messageID)
	if !ok {
		return nil
	}

	s.scheduler.Cancel(messageID)
	s.store.Remove(conversationID, messageID)
	if err := s.hist.DeleteMessage(conversationID, m.Seq); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "Delete",
			"message_id": messageID,
			"error":      err.Error(),
		}).Warn("Could not delete message from durable history")
	}
	s.dir.Resync(conversationID)
	s.emitDirectory()
	return nil
}

// React toggles userID's reaction on a message. A user holds at most one
// emoji per message: repeating the current emoji removes it, any other
// emoji replaces it. Reacting to a missing message is a no-op.
func (s *Session) React(conversationID, messageID, emoji, userID string) error {
	var updated *message.Message
	s.store.Update(conversationID, messageID, func(m *message.Message) {
		m.ToggleReaction(userID, emoji)
		updated = m.Clone()
	})
	if updated != nil {
		s.persist(updated)
	}
	return nil
}

// ResolveReply looks up the message a reply references. Returns
// (nil, false) when the message has no reference or the referent has
// been deleted; callers render a "message unavailable" fallback.
func (s *Session) ResolveReply(conversationID, messageID string) (*message.Message, bool) {
	m, ok := s.store.Find(conversationID, messageID)
	if !ok || m.ReplyTo == "" {
		return nil, false
	}
	return s.store.Find(conversationID, m.ReplyTo)
}

// Retry puts a failed message back into the delivery pipeline. Returns
// ErrNotFailed when the message is not in StatusFailed; a missing
// message is a no-op.
func (s *Session) Retry(conversationID, messageID string) error {
	var notFailed bool
	var retried bool
	s.store.Update(conversationID, messageID, func(m *message.Message) {
		if m.Status != message.StatusFailed {
			notFailed = true
			return
		}
		m.Status = message.StatusSending
		retried = true
	})
	if notFailed {
		return ErrNotFailed
	}
	if !retried {
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"function":     "Retry",
		"conversation": conversationID,
		"message_id":   messageID,
	}).Info("Retrying failed message")

	s.emitStatus(conversationID, messageID, message.StatusSending)
	s.scheduler.Track(conversationID, messageID)
	return nil
}

// FailSend transitions a message in StatusSending straight to
// StatusFailed. Called by the transport collaborator when a send cannot
// proceed.
func (s *Session) FailSend(conversationID, messageID string) {
	s.scheduler.Fail(conversationID, messageID)
}

// MarkConversationRead clears the conversation's unread counter, e.g.
// when the viewer opens it.
func (s *Session) MarkConversationRead(conversationID string) {
	s.dir.MarkRead(conversationID)
	s.emitDirectory()
}

// Directory returns the conversation rows sorted by recency.
func (s *Session) Directory() []directory.Entry {
	return s.dir.Entries()
}

// Messages returns the full log of a conversation in append order.
func (s *Session) Messages(conversationID string) []*message.Message {
	return s.store.All(conversationID)
}

// Window returns the pagination window for the conversation, creating it
// on first use. The window persists until ResetWindow.
func (s *Session) Window(conversationID string) *history.Window {
	s.winMu.Lock()
	defer s.winMu.Unlock()

	w, ok := s.windows[conversationID]
	if !ok {
		w = history.NewWindow(s.store, conversationID,
			history.WithPageSize(s.opts.PageSize),
			history.WithLoadLatency(s.opts.LoadLatency),
		)
		s.windows[conversationID] = w
	}
	return w
}

// ResetWindow discards the conversation's window so the next Window call
// starts a fresh viewing session with only the last page revealed.
func (s *Session) ResetWindow(conversationID string) {
	s.winMu.Lock()
	defer s.winMu.Unlock()
	delete(s.windows, conversationID)
}

// Close tears the session down: pending delivery chains and partner
// replies are cancelled and the durable history store is closed.
func (s *Session) Close() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	s.closeMu.Unlock()

	s.cancel()
	s.scheduler.Close()
	s.wg.Wait()

	err := s.hist.Close()

	logrus.WithFields(logrus.Fields{
		"function": "Close",
		"self_id":  s.opts.SelfID,
	}).Info("Chat session closed")

	return err
}

func (s *Session) isClosed() bool {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	return s.closed
}

// newOutbound builds a self-authored message entering the delivery
// pipeline.
func (s *Session) newOutbound(conversationID string, kind message.Kind, body string, opts *SendOptions) *message.Message {
	m := message.New(s.ids.Next(), conversationID, s.opts.SelfID, kind, body)
	m.CreatedAt = s.timeProvider.Now()
	m.Status = message.StatusSending
	if opts != nil {
		m.ReplyTo = opts.ReplyTo
	}
	return m
}

// commitOutbound stores a self-authored message, starts its delivery
// chain, and consults the partner behavior.
func (s *Session) commitOutbound(m *message.Message) (*message.Message, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}

	s.append(m)
	s.scheduler.Track(m.ConversationID, m.ID)
	s.consultPartner(m)

	logrus.WithFields(logrus.Fields{
		"function":     "commitOutbound",
		"conversation": m.ConversationID,
		"message_id":   m.ID,
		"kind":         m.Kind.String(),
		"reply_to":     m.ReplyTo,
	}).Debug("Outbound message committed")

	return m.Clone(), nil
}

// append is the single path by which messages enter the store: append at
// the tail, mirror to durable history, grow the window, resync the
// directory, and notify the rendering layer.
func (s *Session) append(m *message.Message) {
	s.store.Append(m.ConversationID, m)
	s.persist(m)

	s.winMu.Lock()
	if w, ok := s.windows[m.ConversationID]; ok {
		w.NoteAppend()
	}
	s.winMu.Unlock()

	s.dir.Resync(m.ConversationID)
	s.emitMessage(m.Clone())
	s.emitDirectory()
}

// consultPartner asks the behavior for a reply and schedules the typing
// indicator and reply delivery.
func (s *Session) consultPartner(m *message.Message) {
	s.cbMu.RLock()
	behavior := s.behavior
	s.cbMu.RUnlock()

	reply, ok := behavior.OnMessage(s.ctx, m.ConversationID, m.Clone())
	if !ok {
		return
	}

	conversationID := m.ConversationID
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		typingAt := reply.TypingDelay
		replyAt := reply.ReplyDelay
		if replyAt < typingAt {
			replyAt = typingAt
		}

		select {
		case <-time.After(typingAt):
		case <-s.ctx.Done():
			return
		}
		s.emitTyping(conversationID, true)

		select {
		case <-time.After(replyAt - typingAt):
		case <-s.ctx.Done():
			s.emitTyping(conversationID, false)
			return
		}
		s.emitTyping(conversationID, false)

		// The peer of a direct conversation is the conversation itself.
		if _, err := s.ReceivePeerMessage(conversationID, conversationID, reply.Body); err != nil && !errors.Is(err, ErrClosed) {
			logrus.WithFields(logrus.Fields{
				"function":     "consultPartner",
				"conversation": conversationID,
				"error":        err.Error(),
			}).Warn("Partner reply could not be stored")
		}
	}()
}

// handleTransition mirrors scheduler transitions to durable history and
// the status callback.
func (s *Session) handleTransition(conversationID, messageID string, st message.Status) {
	if m, ok := s.store.Find(conversationID, messageID); ok {
		s.persist(m)
	}
	s.emitStatus(conversationID, messageID, st)
}

// persist mirrors a message's current state to the durable history
// store. Persistence failures are logged, never fatal.
func (s *Session) persist(m *message.Message) {
	if err := s.hist.SaveMessage(m.ConversationID, m); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "persist",
			"message_id": m.ID,
			"error":      err.Error(),
		}).Warn("Could not mirror message to durable history")
	}
}

// loadHistory restores conversation logs from the durable history store.
// Messages still in the outbound stage when the previous session shut
// down are marked failed; their timers are gone and the user can retry.
// Sent messages left the sender and keep their status.
func (s *Session) loadHistory() error {
	convs, err := s.hist.Conversations()
	if err != nil {
		return fmt.Errorf("listing stored conversations: %w", err)
	}

	var maxSeq uint64
	for _, convID := range convs {
		msgs, err := s.hist.LoadConversation(convID)
		if err != nil {
			return fmt.Errorf("loading conversation %s: %w", convID, err)
		}
		for _, m := range msgs {
			if m.Status == message.StatusSending {
				m.Status = message.StatusFailed
			}
			if m.Seq > maxSeq {
				maxSeq = m.Seq
			}
		}
		s.store.Restore(convID, msgs)
		s.dir.Resync(convID)
	}
	s.ids.Advance(maxSeq)

	logrus.WithFields(logrus.Fields{
		"function":      "loadHistory",
		"conversations": len(convs),
	}).Info("Durable history restored")

	return nil
}

func (s *Session) emitMessage(m *message.Message) {
	s.cbMu.RLock()
	cb := s.onMessage
	s.cbMu.RUnlock()
	if cb != nil {
		cb(m)
	}
}

func (s *Session) emitStatus(conversationID, messageID string, st message.Status) {
	s.cbMu.RLock()
	cb := s.onStatus
	s.cbMu.RUnlock()
	if cb != nil {
		cb(conversationID, messageID, st)
	}
}

func (s *Session) emitTyping(conversationID string, typing bool) {
	s.cbMu.RLock()
	cb := s.onTyping
	s.cbMu.RUnlock()
	if cb != nil {
		cb(conversationID, typing)
	}
}

func (s *Session) emitDirectory() {
	s.cbMu.RLock()
	cb := s.onDirectory
	s.cbMu.RUnlock()
	if cb != nil {
		cb(s.dir.Entries())
	}
}
