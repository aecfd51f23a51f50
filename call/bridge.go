// Package call implements the bridge between the call subsystem and the
// message core. The core does not run calls; on call start and end the
// subsystem hands it synthetic call-log entries that are stored and
// rendered like any other message. Call entries carry no delivery
// status.
package call

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chatkit/message"
)

// Type is the media class of a call.
type Type uint8

const (
	// TypeVoice is an audio-only call.
	TypeVoice Type = iota
	// TypeVideo is a video call.
	TypeVideo
)

// String returns the wire name of the call type.
func (t Type) String() string {
	if t == TypeVideo {
		return "video"
	}
	return "voice"
}

// Outcome is how a finished call ended.
type Outcome uint8

const (
	// OutcomeCompleted means the call connected and ended normally.
	OutcomeCompleted Outcome = iota
	// OutcomeMissed means the callee never answered.
	OutcomeMissed
	// OutcomeDeclined means the callee rejected the call.
	OutcomeDeclined
	// OutcomeFailed means the call could not be established.
	OutcomeFailed
)

// String returns the wire name of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeMissed:
		return "missed"
	case OutcomeDeclined:
		return "declined"
	case OutcomeFailed:
		return "failed"
	default:
		return "completed"
	}
}

// Sender is the slice of the session the bridge needs: storing a
// synthetic call-log message in a conversation.
type Sender interface {
	SendCallLog(conversationID, body string, payload message.CallPayload) (*message.Message, error)
}

// Bridge converts call lifecycle events into call-log messages.
type Bridge struct {
	sender Sender
}

// NewBridge creates a bridge that stores call logs through the given
// sender.
func NewBridge(sender Sender) *Bridge {
	return &Bridge{sender: sender}
}

// CallStarted records the start of a call in the conversation.
func (b *Bridge) CallStarted(conversationID string, t Type) (*message.Message, error) {
	body := fmt.Sprintf("%s call started", title(t.String()))

	logrus.WithFields(logrus.Fields{
		"function":     "CallStarted",
		"conversation": conversationID,
		"call_type":    t.String(),
	}).Info("Recording call start")

	return b.sender.SendCallLog(conversationID, body, message.CallPayload{
		CallType: t.String(),
		Outcome:  "started",
	})
}

// CallEnded records the end of a call, with its outcome and duration.
func (b *Bridge) CallEnded(conversationID string, t Type, outcome Outcome, duration time.Duration) (*message.Message, error) {
	var body string
	switch outcome {
	case OutcomeMissed:
		body = fmt.Sprintf("Missed %s call", t.String())
	case OutcomeDeclined:
		body = fmt.Sprintf("%s call declined", title(t.String()))
	case OutcomeFailed:
		body = fmt.Sprintf("%s call failed", title(t.String()))
	default:
		body = fmt.Sprintf("%s call · %s", title(t.String()), formatDuration(duration))
	}

	logrus.WithFields(logrus.Fields{
		"function":     "CallEnded",
		"conversation": conversationID,
		"call_type":    t.String(),
		"outcome":      outcome.String(),
		"duration":     duration,
	}).Info("Recording call end")

	return b.sender.SendCallLog(conversationID, body, message.CallPayload{
		CallType: t.String(),
		Outcome:  outcome.String(),
		Duration: duration,
	})
}

func title(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
