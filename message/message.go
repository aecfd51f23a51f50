// Package message implements the message model and per-conversation
// message store for the chat core.
//
// This package defines message kinds, the delivery status state machine,
// reactions, and the append-only conversation log. It is a pure data
// layer: timed status progression lives in the status package and
// user-facing mutation rules live in the chatkit facade.
//
// Example:
//
//	store := message.NewStore()
//	msg := message.New(ids.Next(), "conv-1", "self", message.KindText, "Hello!")
//	store.Append("conv-1", msg)
package message

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Kind represents the payload variant a message carries.
type Kind uint8

const (
	// KindText is a plain text message.
	KindText Kind = iota
	// KindImage is an image message; Body carries the caption.
	KindImage
	// KindVoice is a voice clip with a waveform for rendering.
	KindVoice
	// KindFile is an arbitrary file attachment; Body carries the filename.
	KindFile
	// KindCall is a synthetic call-log entry produced by the call bridge.
	KindCall
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindImage:
		return "image"
	case KindVoice:
		return "voice"
	case KindFile:
		return "file"
	case KindCall:
		return "call"
	default:
		return "unknown"
	}
}

// ImagePayload carries image-specific message data.
type ImagePayload struct {
	URL       string `json:"url"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// VoicePayload carries voice-clip data. Waveform holds normalized
// amplitude samples in [0, 1] for rendering.
type VoicePayload struct {
	URL      string        `json:"url"`
	Duration time.Duration `json:"duration"`
	Waveform []float64     `json:"waveform,omitempty"`
}

// FilePayload carries file attachment metadata.
type FilePayload struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType,omitempty"`
	URL      string `json:"url"`
}

// CallPayload carries call-log data for KindCall messages.
type CallPayload struct {
	CallType string        `json:"callType"`          // "voice" or "video"
	Outcome  string        `json:"outcome,omitempty"` // "started", "completed", "missed", ...
	Duration time.Duration `json:"duration,omitempty"`
}

// Message represents a single entry in a conversation log.
//
// Reactions maps an emoji to the set of user IDs that applied it. A user
// holds at most one reaction per message; ToggleReaction enforces this.
// ReplyTo is a weak reference: the referent may have been deleted, in
// which case lookups return nothing and callers render a fallback.
type Message struct {
	ID             string              `json:"id"`
	Seq            uint64              `json:"seq"`
	ConversationID string              `json:"conversationId"`
	Sender         string              `json:"sender"`
	Kind           Kind                `json:"kind"`
	Body           string              `json:"body"`
	CreatedAt      time.Time           `json:"createdAt"`
	Status         Status              `json:"status,omitempty"`
	ReplyTo        string              `json:"replyTo,omitempty"`
	Reactions      map[string][]string `json:"reactions,omitempty"`
	Edited         bool                `json:"edited,omitempty"`

	Image *ImagePayload `json:"image,omitempty"`
	Voice *VoicePayload `json:"voice,omitempty"`
	File  *FilePayload  `json:"file,omitempty"`
	Call  *CallPayload  `json:"call,omitempty"`
}

// New creates a message with the given identity and content. The caller
// sets kind-specific payloads and ReplyTo afterwards.
func New(id ID, conversationID, sender string, kind Kind, body string) *Message {
	return &Message{
		ID:             id.Value,
		Seq:            id.Seq,
		ConversationID: conversationID,
		Sender:         sender,
		Kind:           kind,
		Body:           body,
		CreatedAt:      defaultTimeProvider.Now(),
	}
}

// Clone returns a deep copy of the message. Store reads hand out clones
// so readers never observe in-place mutation.
func (m *Message) Clone() *Message {
	c := *m
	if m.Reactions != nil {
		c.Reactions = make(map[string][]string, len(m.Reactions))
		for emoji, users := range m.Reactions {
			c.Reactions[emoji] = append([]string(nil), users...)
		}
	}
	if m.Image != nil {
		img := *m.Image
		c.Image = &img
	}
	if m.Voice != nil {
		v := *m.Voice
		v.Waveform = append([]float64(nil), m.Voice.Waveform...)
		c.Voice = &v
	}
	if m.File != nil {
		f := *m.File
		c.File = &f
	}
	if m.Call != nil {
		cl := *m.Call
		c.Call = &cl
	}
	return &c
}

// ToggleReaction applies exclusive reaction semantics for one user:
// repeating the user's current emoji removes it, any other emoji replaces
// whatever the user had. Returns true if the user holds the emoji after
// the call.
func (m *Message) ToggleReaction(userID, emoji string) bool {
	if m.Reactions == nil {
		m.Reactions = make(map[string][]string)
	}

	had := containsUser(m.Reactions[emoji], userID)

	// One reaction per (message, user): clear the user everywhere first.
	for e, users := range m.Reactions {
		m.Reactions[e] = removeUser(users, userID)
		if len(m.Reactions[e]) == 0 {
			delete(m.Reactions, e)
		}
	}

	if had {
		return false
	}
	m.Reactions[emoji] = append(m.Reactions[emoji], userID)
	return true
}

// ReactedWith returns the emoji the user currently holds on this message,
// or "" if none.
func (m *Message) ReactedWith(userID string) string {
	for emoji, users := range m.Reactions {
		if containsUser(users, userID) {
			return emoji
		}
	}
	return ""
}

func containsUser(users []string, userID string) bool {
	for _, u := range users {
		if u == userID {
			return true
		}
	}
	return false
}

func removeUser(users []string, userID string) []string {
	out := users[:0]
	for _, u := range users {
		if u != userID {
			out = append(out, u)
		}
	}
	return out
}

// ID is a generated message identity: a collision-resistant value plus a
// session-monotonic sequence used for ordering and storage keys.
type ID struct {
	Value string
	Seq   uint64
}

// IDGenerator produces message IDs. Safe for concurrent use.
//
// Timestamp-derived identifiers collide under rapid sends within the same
// tick, so IDs combine a UUID with an atomic sequence counter.
type IDGenerator struct {
	seq atomic.Uint64
}

// NewIDGenerator creates a generator starting at sequence 1.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{}
}

// Next returns a fresh message ID.
func (g *IDGenerator) Next() ID {
	return ID{
		Value: uuid.NewString(),
		Seq:   g.seq.Add(1),
	}
}

// Advance moves the sequence forward so future IDs sort after seq. Used
// when restoring history from durable storage.
func (g *IDGenerator) Advance(seq uint64) {
	for {
		cur := g.seq.Load()
		if cur >= seq || g.seq.CompareAndSwap(cur, seq) {
			return
		}
	}
}
