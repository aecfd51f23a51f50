package message

import (
	"encoding/json"
	"fmt"
)

// Status represents the delivery state of a self-authored message.
//
// Statuses only move forward:
//
//	Sending -> Sent -> Delivered -> Read
//	Sending -> Failed
//
// Read and Failed are terminal. StatusNone marks messages the pipeline
// does not apply to (inbound messages and call-log entries).
type Status uint8

const (
	// StatusNone means delivery tracking does not apply to this message.
	StatusNone Status = iota
	// StatusSending means the message is in the local outbound pipeline.
	StatusSending
	// StatusSent means the message has left the sender.
	StatusSent
	// StatusDelivered means the message reached the recipient.
	StatusDelivered
	// StatusRead means the recipient has read the message.
	StatusRead
	// StatusFailed means the send failed. Terminal; retry restarts the
	// pipeline from StatusSending.
	StatusFailed
)

var statusNames = map[Status]string{
	StatusNone:      "",
	StatusSending:   "sending",
	StatusSent:      "sent",
	StatusDelivered: "delivered",
	StatusRead:      "read",
	StatusFailed:    "failed",
}

// String returns the wire name of the status.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusRead || s == StatusFailed
}

// CanAdvance reports whether a transition from s to next is a legal
// forward move in the state machine. Backward moves and transitions out
// of terminal states are rejected.
func (s Status) CanAdvance(next Status) bool {
	switch s {
	case StatusSending:
		return next == StatusSent || next == StatusFailed
	case StatusSent:
		return next == StatusDelivered || next == StatusRead
	case StatusDelivered:
		return next == StatusRead
	default:
		return false
	}
}

// MarshalJSON encodes the status as its string name so the rendering
// layer and savedata stay readable.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a status from its string name.
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for st, n := range statusNames {
		if n == name {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown message status %q", name)
}
