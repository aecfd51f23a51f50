package call

import (
	"testing"
	"time"

	"github.com/opd-ai/chatkit/message"
)

type fakeSender struct {
	conv    string
	body    string
	payload message.CallPayload
	calls   int
}

func (f *fakeSender) SendCallLog(conversationID, body string, payload message.CallPayload) (*message.Message, error) {
	f.conv = conversationID
	f.body = body
	f.payload = payload
	f.calls++
	gen := message.NewIDGenerator()
	m := message.New(gen.Next(), conversationID, "self", message.KindCall, body)
	m.Call = &payload
	return m, nil
}

// TestBridgeCallStarted tests the start-of-call log entry.
func TestBridgeCallStarted(t *testing.T) {
	sender := &fakeSender{}
	bridge := NewBridge(sender)

	m, err := bridge.CallStarted("alice", TypeVideo)
	if err != nil {
		t.Fatalf("CallStarted: %v", err)
	}
	if sender.body != "Video call started" {
		t.Errorf("body %q", sender.body)
	}
	if sender.payload.CallType != "video" || sender.payload.Outcome != "started" {
		t.Errorf("payload %+v", sender.payload)
	}
	if m.Kind != message.KindCall {
		t.Error("bridge must produce a call-log message")
	}
	if m.Status != message.StatusNone {
		t.Error("call entries carry no delivery status")
	}
}

// TestBridgeCallEnded tests end-of-call log entries per outcome.
func TestBridgeCallEnded(t *testing.T) {
	tests := []struct {
		name     string
		callType Type
		outcome  Outcome
		duration time.Duration
		wantBody string
	}{
		{"completed voice", TypeVoice, OutcomeCompleted, 95 * time.Second, "Voice call · 1:35"},
		{"missed video", TypeVideo, OutcomeMissed, 0, "Missed video call"},
		{"declined voice", TypeVoice, OutcomeDeclined, 0, "Voice call declined"},
		{"failed video", TypeVideo, OutcomeFailed, 0, "Video call failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			bridge := NewBridge(sender)

			if _, err := bridge.CallEnded("bob", tt.callType, tt.outcome, tt.duration); err != nil {
				t.Fatalf("CallEnded: %v", err)
			}
			if sender.body != tt.wantBody {
				t.Errorf("body %q, want %q", sender.body, tt.wantBody)
			}
			if sender.payload.Outcome != tt.outcome.String() {
				t.Errorf("outcome %q, want %q", sender.payload.Outcome, tt.outcome)
			}
			if sender.payload.Duration != tt.duration {
				t.Errorf("duration %v, want %v", sender.payload.Duration, tt.duration)
			}
		})
	}
}
