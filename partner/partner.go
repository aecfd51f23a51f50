// Package partner defines the pluggable conversation-partner behavior:
// given a message the local user just sent, a Behavior may produce a
// delayed reply, optionally preceded by a typing indicator. The default
// CannedReplier stands in for a real remote peer or bot and can be
// swapped for a real backend without touching the core.
package partner

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/opd-ai/chatkit/message"
)

// Default timing for the canned replier.
const (
	DefaultTypingDelay = 800 * time.Millisecond
	DefaultReplyDelay  = 2 * time.Second
)

// Reply describes a pending peer response. TypingDelay is when the
// typing indicator should appear, ReplyDelay when the reply message
// arrives; both are measured from the triggering send.
type Reply struct {
	Body        string
	TypingDelay time.Duration
	ReplyDelay  time.Duration
}

// Behavior decides how the remote side of a conversation reacts to a
// message sent by the local user. Returning false means no reply.
// Implementations must be safe for concurrent use.
type Behavior interface {
	OnMessage(ctx context.Context, conversationID string, msg *message.Message) (Reply, bool)
}

// Silent is a Behavior that never replies. Used in tests and when a real
// backend delivers peer messages itself.
type Silent struct{}

// OnMessage always declines to reply.
func (Silent) OnMessage(context.Context, string, *message.Message) (Reply, bool) {
	return Reply{}, false
}

// CannedReplier replies to plain text sends with a rotating canned
// response after a typing delay, like a peer who is always at the
// keyboard.
type CannedReplier struct {
	mu          sync.Mutex
	replies     []string
	next        int
	typingDelay time.Duration
	replyDelay  time.Duration
	jitter      time.Duration
	rng         *rand.Rand
}

// defaultReplies is the stock response set used when none is supplied.
var defaultReplies = []string{
	"Sounds good!",
	"Haha, totally.",
	"Let me check and get back to you.",
	"That's great news 🎉",
	"On my way!",
	"Can we talk about this later?",
}

// CannedOption configures a CannedReplier.
type CannedOption func(*CannedReplier)

// WithReplies overrides the stock response set.
func WithReplies(replies []string) CannedOption {
	return func(c *CannedReplier) {
		if len(replies) > 0 {
			c.replies = replies
		}
	}
}

// WithDelays overrides the typing and reply delays. Tests use short
// values.
func WithDelays(typing, reply time.Duration) CannedOption {
	return func(c *CannedReplier) {
		c.typingDelay = typing
		c.replyDelay = reply
	}
}

// WithJitter adds up to d of random extra delay before the reply.
func WithJitter(d time.Duration) CannedOption {
	return func(c *CannedReplier) {
		c.jitter = d
	}
}

// NewCannedReplier creates the default partner behavior.
func NewCannedReplier(opts ...CannedOption) *CannedReplier {
	c := &CannedReplier{
		replies:     defaultReplies,
		typingDelay: DefaultTypingDelay,
		replyDelay:  DefaultReplyDelay,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnMessage replies to plain text messages only; media, files, and call
// logs get no canned response.
func (c *CannedReplier) OnMessage(_ context.Context, _ string, msg *message.Message) (Reply, bool) {
	if msg.Kind != message.KindText {
		return Reply{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	body := c.replies[c.next%len(c.replies)]
	c.next++

	delay := c.replyDelay
	if c.jitter > 0 {
		delay += time.Duration(c.rng.Int63n(int64(c.jitter)))
	}
	return Reply{
		Body:        body,
		TypingDelay: c.typingDelay,
		ReplyDelay:  delay,
	}, true
}
