// Package history implements the pagination window over a conversation
// log: a bounded, contiguous tail slice that grows on demand without
// breaking the viewer's scroll position.
//
// The window reveals the last PageSize messages initially and extends
// backwards in PageSize steps via LoadMore, which simulates a history
// fetch with artificial latency. The revealed count only ever grows for
// a given viewing session.
package history

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chatkit/message"
)

// Defaults for window sizing and the simulated fetch latency.
const (
	DefaultPageSize    = 15
	DefaultLoadLatency = 500 * time.Millisecond
)

// ErrLoadInProgress is returned by LoadMore while a previous load is
// still in flight. Callers treat it as "nothing to do", not a failure.
var ErrLoadInProgress = errors.New("history load already in progress")

// Prepend describes the outcome of a LoadMore for the rendering layer's
// scroll-anchor correction: Added older messages were revealed above
// AnchorID, the message that was previously at the top of the viewport.
// The renderer measures the height of the new rows and offsets the
// scroll position by that delta so AnchorID stays under the viewer's eye.
type Prepend struct {
	Added    int
	AnchorID string
}

// Window is the revealed tail slice of one conversation for one viewing
// session. Safe for concurrent use.
type Window struct {
	mu       sync.Mutex
	store    *message.Store
	convID   string
	pageSize int
	latency  time.Duration
	revealed int
	loading  bool
}

// Option configures a Window.
type Option func(*Window)

// WithPageSize overrides the default page size.
func WithPageSize(n int) Option {
	return func(w *Window) {
		if n > 0 {
			w.pageSize = n
		}
	}
}

// WithLoadLatency overrides the simulated fetch latency. Tests use short
// latencies; zero disables the delay entirely.
func WithLoadLatency(d time.Duration) Option {
	return func(w *Window) {
		w.latency = d
	}
}

// NewWindow creates a window over the conversation, revealing the last
// page immediately.
func NewWindow(store *message.Store, conversationID string, opts ...Option) *Window {
	w := &Window{
		store:    store,
		convID:   conversationID,
		pageSize: DefaultPageSize,
		latency:  DefaultLoadLatency,
	}
	for _, opt := range opts {
		opt(w)
	}

	total := store.Len(conversationID)
	w.revealed = w.pageSize
	if w.revealed > total {
		w.revealed = total
	}

	logrus.WithFields(logrus.Fields{
		"function":     "NewWindow",
		"conversation": conversationID,
		"revealed":     w.revealed,
		"total":        total,
	}).Debug("Pagination window opened")

	return w
}

// Slice returns the revealed messages: a contiguous suffix of the full
// log, oldest first.
func (w *Window) Slice() []*message.Message {
	w.mu.Lock()
	n := w.revealed
	w.mu.Unlock()
	return w.store.Tail(w.convID, n)
}

// Revealed returns how many trailing messages are currently visible.
func (w *Window) Revealed() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.revealed
}

// HasMore reports whether older history remains beyond the window.
func (w *Window) HasMore() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.revealed < w.store.Len(w.convID)
}

// Loading reports whether a LoadMore is in flight.
func (w *Window) Loading() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loading
}

// LoadMore reveals up to one more page of older messages after the
// simulated fetch latency. Concurrent calls are suppressed with
// ErrLoadInProgress; a call with nothing left to reveal returns an empty
// Prepend. The context cancels the wait, leaving the window unchanged.
func (w *Window) LoadMore(ctx context.Context) (Prepend, error) {
	w.mu.Lock()
	if w.loading {
		w.mu.Unlock()
		return Prepend{}, ErrLoadInProgress
	}
	if w.revealed >= w.store.Len(w.convID) {
		w.mu.Unlock()
		return Prepend{}, nil
	}
	w.loading = true
	anchorID := ""
	if top := w.store.Tail(w.convID, w.revealed); len(top) > 0 {
		anchorID = top[0].ID
	}
	latency := w.latency
	w.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			w.mu.Lock()
			w.loading = false
			w.mu.Unlock()
			return Prepend{}, ctx.Err()
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.loading = false
	total := w.store.Len(w.convID)
	added := w.pageSize
	if w.revealed+added > total {
		added = total - w.revealed
	}
	if added < 0 {
		added = 0
	}
	w.revealed += added

	logrus.WithFields(logrus.Fields{
		"function":     "LoadMore",
		"conversation": w.convID,
		"added":        added,
		"revealed":     w.revealed,
		"total":        total,
	}).Debug("Older history revealed")

	return Prepend{Added: added, AnchorID: anchorID}, nil
}

// NoteAppend extends the window over a message just appended at the
// tail, so the visible suffix keeps covering the same oldest message.
// Returns true, meaning the renderer should stick to the bottom of the
// viewport rather than correct the scroll offset.
func (w *Window) NoteAppend() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.revealed < w.store.Len(w.convID) {
		w.revealed++
	}
	return true
}
