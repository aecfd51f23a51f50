package message

import (
	"encoding/json"
	"testing"
)

// TestStatusCanAdvance tests the delivery state machine transitions.
func TestStatusCanAdvance(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"sending to sent", StatusSending, StatusSent, true},
		{"sending to failed", StatusSending, StatusFailed, true},
		{"sent to delivered", StatusSent, StatusDelivered, true},
		{"sent to read", StatusSent, StatusRead, true},
		{"delivered to read", StatusDelivered, StatusRead, true},
		{"sending to delivered skips sent", StatusSending, StatusDelivered, false},
		{"sent to sending moves backward", StatusSent, StatusSending, false},
		{"delivered to sent moves backward", StatusDelivered, StatusSent, false},
		{"read is terminal", StatusRead, StatusRead, false},
		{"read cannot fail", StatusRead, StatusFailed, false},
		{"failed is terminal", StatusFailed, StatusSending, false},
		{"delivered cannot fail", StatusDelivered, StatusFailed, false},
		{"none has no transitions", StatusNone, StatusSent, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanAdvance(tt.to); got != tt.want {
				t.Errorf("CanAdvance(%v -> %v) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

// TestStatusTerminal tests terminal state detection.
func TestStatusTerminal(t *testing.T) {
	if !StatusRead.Terminal() {
		t.Error("read should be terminal")
	}
	if !StatusFailed.Terminal() {
		t.Error("failed should be terminal")
	}
	if StatusSending.Terminal() || StatusSent.Terminal() || StatusDelivered.Terminal() {
		t.Error("pipeline states should not be terminal")
	}
}

// TestStatusJSON tests that statuses round-trip through their string
// names.
func TestStatusJSON(t *testing.T) {
	for _, st := range []Status{StatusSending, StatusSent, StatusDelivered, StatusRead, StatusFailed} {
		data, err := json.Marshal(st)
		if err != nil {
			t.Fatalf("marshal %v: %v", st, err)
		}
		var got Status
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if got != st {
			t.Errorf("round trip of %v produced %v", st, got)
		}
	}

	var bad Status
	if err := json.Unmarshal([]byte(`"teleported"`), &bad); err == nil {
		t.Error("unknown status name should fail to unmarshal")
	}
}

// TestToggleReaction tests exclusive per-user reaction semantics.
func TestToggleReaction(t *testing.T) {
	t.Run("new reaction is added", func(t *testing.T) {
		m := newTestMessage("conv", "alice")
		if !m.ToggleReaction("bob", "❤️") {
			t.Error("expected reaction to be held after toggle")
		}
		if m.ReactedWith("bob") != "❤️" {
			t.Errorf("expected ❤️, got %q", m.ReactedWith("bob"))
		}
	})

	t.Run("repeating the emoji removes it", func(t *testing.T) {
		m := newTestMessage("conv", "alice")
		m.ToggleReaction("bob", "❤️")
		if m.ToggleReaction("bob", "❤️") {
			t.Error("expected reaction to be removed on repeat")
		}
		if m.ReactedWith("bob") != "" {
			t.Error("user should hold no reaction after toggle off")
		}
		if len(m.Reactions) != 0 {
			t.Errorf("empty reactor sets should be pruned, got %v", m.Reactions)
		}
	})

	t.Run("different emoji replaces the previous one", func(t *testing.T) {
		m := newTestMessage("conv", "alice")
		m.ToggleReaction("bob", "❤️")
		m.ToggleReaction("bob", "🔥")

		if m.ReactedWith("bob") != "🔥" {
			t.Errorf("expected 🔥, got %q", m.ReactedWith("bob"))
		}
		if len(m.Reactions["❤️"]) != 0 {
			t.Error("previous reaction should be revoked")
		}
	})

	t.Run("users are independent", func(t *testing.T) {
		m := newTestMessage("conv", "alice")
		m.ToggleReaction("bob", "❤️")
		m.ToggleReaction("carol", "❤️")
		m.ToggleReaction("bob", "🔥")

		if m.ReactedWith("carol") != "❤️" {
			t.Error("another user's reaction must not be affected")
		}
	})

	t.Run("exclusivity holds under arbitrary sequences", func(t *testing.T) {
		m := newTestMessage("conv", "alice")
		emojis := []string{"❤️", "🔥", "😀", "👍", "❤️", "❤️", "🔥"}
		for _, e := range emojis {
			m.ToggleReaction("bob", e)

			held := 0
			for _, users := range m.Reactions {
				for _, u := range users {
					if u == "bob" {
						held++
					}
				}
			}
			if held > 1 {
				t.Fatalf("user appears in %d reactor sets, want at most 1", held)
			}
		}
	})
}

// TestClone tests that clones are deep copies.
func TestClone(t *testing.T) {
	m := newTestMessage("conv", "alice")
	m.ToggleReaction("bob", "❤️")
	m.Voice = &VoicePayload{URL: "blob:1", Waveform: []float64{0.1, 0.9}}

	c := m.Clone()
	c.ToggleReaction("carol", "🔥")
	c.Voice.Waveform[0] = 0.5
	c.Body = "changed"

	if m.Body == "changed" {
		t.Error("clone shares Body with original")
	}
	if _, ok := m.Reactions["🔥"]; ok {
		t.Error("clone shares Reactions with original")
	}
	if m.Voice.Waveform[0] == 0.5 {
		t.Error("clone shares Waveform with original")
	}
}

// TestIDGenerator tests uniqueness and monotonic sequencing.
func TestIDGenerator(t *testing.T) {
	g := NewIDGenerator()

	seen := make(map[string]bool)
	var lastSeq uint64
	for i := 0; i < 1000; i++ {
		id := g.Next()
		if seen[id.Value] {
			t.Fatalf("duplicate id %s", id.Value)
		}
		seen[id.Value] = true
		if id.Seq <= lastSeq {
			t.Fatalf("sequence not increasing: %d after %d", id.Seq, lastSeq)
		}
		lastSeq = id.Seq
	}

	g.Advance(5000)
	if id := g.Next(); id.Seq != 5001 {
		t.Errorf("Advance(5000) then Next() = seq %d, want 5001", id.Seq)
	}
	g.Advance(10) // moving backward must be a no-op
	if id := g.Next(); id.Seq != 5002 {
		t.Errorf("backward Advance changed sequence: got %d, want 5002", id.Seq)
	}
}

func newTestMessage(conversationID, sender string) *Message {
	gen := NewIDGenerator()
	return New(gen.Next(), conversationID, sender, KindText, "hello")
}
