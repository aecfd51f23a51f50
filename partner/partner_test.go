package partner

import (
	"context"
	"testing"
	"time"

	"github.com/opd-ai/chatkit/message"
)

func textMessage(body string) *message.Message {
	gen := message.NewIDGenerator()
	return message.New(gen.Next(), "conv", "self", message.KindText, body)
}

// TestCannedReplierRepliesToText tests that text sends get a reply and
// other kinds do not.
func TestCannedReplierRepliesToText(t *testing.T) {
	c := NewCannedReplier(WithDelays(time.Millisecond, 2*time.Millisecond))

	t.Run("text gets a reply", func(t *testing.T) {
		reply, ok := c.OnMessage(context.Background(), "conv", textMessage("hello"))
		if !ok {
			t.Fatal("expected a reply")
		}
		if reply.Body == "" {
			t.Error("reply has no body")
		}
		if reply.TypingDelay != time.Millisecond || reply.ReplyDelay != 2*time.Millisecond {
			t.Errorf("delays not applied: %+v", reply)
		}
	})

	t.Run("media gets none", func(t *testing.T) {
		m := textMessage("caption")
		m.Kind = message.KindImage
		if _, ok := c.OnMessage(context.Background(), "conv", m); ok {
			t.Error("image sends should not trigger a canned reply")
		}

		m.Kind = message.KindCall
		if _, ok := c.OnMessage(context.Background(), "conv", m); ok {
			t.Error("call logs should not trigger a canned reply")
		}
	})
}

// TestCannedReplierRotation tests that replies rotate through the set.
func TestCannedReplierRotation(t *testing.T) {
	c := NewCannedReplier(WithReplies([]string{"one", "two"}))

	want := []string{"one", "two", "one"}
	for i, w := range want {
		reply, ok := c.OnMessage(context.Background(), "conv", textMessage("ping"))
		if !ok {
			t.Fatal("expected a reply")
		}
		if reply.Body != w {
			t.Errorf("reply %d = %q, want %q", i, reply.Body, w)
		}
	}
}

// TestCannedReplierJitter tests that jitter only ever extends the delay.
func TestCannedReplierJitter(t *testing.T) {
	base := 10 * time.Millisecond
	c := NewCannedReplier(WithDelays(time.Millisecond, base), WithJitter(5*time.Millisecond))

	for i := 0; i < 50; i++ {
		reply, _ := c.OnMessage(context.Background(), "conv", textMessage("ping"))
		if reply.ReplyDelay < base || reply.ReplyDelay > base+5*time.Millisecond {
			t.Fatalf("reply delay %v outside [%v, %v]", reply.ReplyDelay, base, base+5*time.Millisecond)
		}
	}
}

// TestSilent tests that the silent behavior never replies.
func TestSilent(t *testing.T) {
	if _, ok := (Silent{}).OnMessage(context.Background(), "conv", textMessage("hello")); ok {
		t.Error("silent behavior replied")
	}
}
