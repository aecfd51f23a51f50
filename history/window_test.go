package history

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/opd-ai/chatkit/message"
)

func seedStore(t *testing.T, n int) (*message.Store, []string) {
	t.Helper()
	store := message.NewStore()
	gen := message.NewIDGenerator()
	var ids []string
	for i := 0; i < n; i++ {
		m := message.New(gen.Next(), "conv", "self", message.KindText, fmt.Sprintf("msg %d", i))
		ids = append(ids, m.ID)
		store.Append("conv", m)
	}
	return store, ids
}

// TestWindowInitialReveal tests that a new window shows the last page.
func TestWindowInitialReveal(t *testing.T) {
	t.Run("long log", func(t *testing.T) {
		store, ids := seedStore(t, 20)
		w := NewWindow(store, "conv", WithLoadLatency(0))

		if got := w.Revealed(); got != DefaultPageSize {
			t.Errorf("revealed %d, want %d", got, DefaultPageSize)
		}
		if !w.HasMore() {
			t.Error("expected more history")
		}

		slice := w.Slice()
		if slice[0].ID != ids[20-DefaultPageSize] {
			t.Error("window does not start at the right message")
		}
		if slice[len(slice)-1].ID != ids[19] {
			t.Error("window does not end at the tail")
		}
	})

	t.Run("short log", func(t *testing.T) {
		store, _ := seedStore(t, 4)
		w := NewWindow(store, "conv", WithLoadLatency(0))

		if got := w.Revealed(); got != 4 {
			t.Errorf("revealed %d, want 4", got)
		}
		if w.HasMore() {
			t.Error("no more history should remain")
		}
	})

	t.Run("empty log", func(t *testing.T) {
		store := message.NewStore()
		w := NewWindow(store, "conv", WithLoadLatency(0))
		if w.Revealed() != 0 || w.HasMore() {
			t.Error("empty conversation should reveal nothing")
		}
	})
}

// TestWindowLoadMore tests the 20-send scenario: initial window of 15,
// one load reveals all 20 with nothing left.
func TestWindowLoadMore(t *testing.T) {
	store, ids := seedStore(t, 20)
	w := NewWindow(store, "conv", WithLoadLatency(0))

	prepend, err := w.LoadMore(context.Background())
	if err != nil {
		t.Fatalf("LoadMore: %v", err)
	}
	if prepend.Added != 5 {
		t.Errorf("added %d, want 5", prepend.Added)
	}
	if prepend.AnchorID != ids[5] {
		t.Error("anchor should be the previously topmost message")
	}
	if w.Revealed() != 20 {
		t.Errorf("revealed %d, want 20", w.Revealed())
	}
	if w.HasMore() {
		t.Error("hasMore should be false once everything is revealed")
	}

	// The revealed pages form exactly the full log, no gaps, no dupes.
	slice := w.Slice()
	if len(slice) != 20 {
		t.Fatalf("slice length %d, want 20", len(slice))
	}
	for i, m := range slice {
		if m.ID != ids[i] {
			t.Fatalf("slice position %d holds wrong message", i)
		}
	}

	// A further load is a no-op.
	prepend, err = w.LoadMore(context.Background())
	if err != nil || prepend.Added != 0 {
		t.Errorf("exhausted load returned (%v, %v)", prepend, err)
	}
}

// TestWindowPagesAreContiguous tests coverage across many loads.
func TestWindowPagesAreContiguous(t *testing.T) {
	store, ids := seedStore(t, 53)
	w := NewWindow(store, "conv", WithPageSize(10), WithLoadLatency(0))

	for w.HasMore() {
		if _, err := w.LoadMore(context.Background()); err != nil {
			t.Fatalf("LoadMore: %v", err)
		}
	}

	slice := w.Slice()
	if len(slice) != len(ids) {
		t.Fatalf("revealed %d messages, want %d", len(slice), len(ids))
	}
	for i, m := range slice {
		if m.ID != ids[i] {
			t.Fatalf("slice position %d holds wrong message", i)
		}
	}
}

// TestWindowLoadSuppression tests that concurrent loads are suppressed
// while one is in flight.
func TestWindowLoadSuppression(t *testing.T) {
	store, _ := seedStore(t, 40)
	w := NewWindow(store, "conv", WithLoadLatency(50*time.Millisecond))

	done := make(chan error, 1)
	go func() {
		_, err := w.LoadMore(context.Background())
		done <- err
	}()

	// Wait for the first load to be in flight.
	deadline := time.Now().Add(time.Second)
	for !w.Loading() {
		if time.Now().After(deadline) {
			t.Fatal("first load never started")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := w.LoadMore(context.Background()); !errors.Is(err, ErrLoadInProgress) {
		t.Errorf("second load returned %v, want ErrLoadInProgress", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("first load failed: %v", err)
	}
	if w.Loading() {
		t.Error("loading flag stuck after completion")
	}
	if w.Revealed() != DefaultPageSize*2 {
		t.Errorf("revealed %d, want %d", w.Revealed(), DefaultPageSize*2)
	}
}

// TestWindowLoadCancel tests that cancelling the context leaves the
// window unchanged.
func TestWindowLoadCancel(t *testing.T) {
	store, _ := seedStore(t, 40)
	w := NewWindow(store, "conv", WithLoadLatency(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := w.LoadMore(ctx)
		done <- err
	}()

	deadline := time.Now().Add(time.Second)
	for !w.Loading() {
		if time.Now().After(deadline) {
			t.Fatal("load never started")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled load returned %v", err)
	}
	if w.Revealed() != DefaultPageSize {
		t.Errorf("revealed changed by cancelled load: %d", w.Revealed())
	}
	if w.Loading() {
		t.Error("loading flag stuck after cancel")
	}
}

// TestWindowNoteAppend tests tail growth and the stick-to-bottom signal.
func TestWindowNoteAppend(t *testing.T) {
	store, _ := seedStore(t, 20)
	gen := message.NewIDGenerator()
	w := NewWindow(store, "conv", WithLoadLatency(0))

	before := w.Slice()[0].ID

	m := message.New(gen.Next(), "conv", "peer", message.KindText, "new arrival")
	store.Append("conv", m)
	if !w.NoteAppend() {
		t.Error("appends should tell the renderer to stick to the bottom")
	}

	slice := w.Slice()
	if slice[len(slice)-1].ID != m.ID {
		t.Error("window does not include the appended message")
	}
	if slice[0].ID != before {
		t.Error("append shifted the top of the window")
	}
	if w.Revealed() != DefaultPageSize+1 {
		t.Errorf("revealed %d, want %d", w.Revealed(), DefaultPageSize+1)
	}
}

// TestWindowRevealedMonotonic tests that revealedCount never decreases,
// including across deletes.
func TestWindowRevealedMonotonic(t *testing.T) {
	store, ids := seedStore(t, 30)
	w := NewWindow(store, "conv", WithPageSize(10), WithLoadLatency(0))

	observed := []int{w.Revealed()}
	w.LoadMore(context.Background())
	observed = append(observed, w.Revealed())

	store.Remove("conv", ids[29])
	observed = append(observed, w.Revealed())

	w.LoadMore(context.Background())
	observed = append(observed, w.Revealed())

	for i := 1; i < len(observed); i++ {
		if observed[i] < observed[i-1] {
			t.Fatalf("revealed shrank: %v", observed)
		}
	}
}
