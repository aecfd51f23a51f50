// Package media defines the contracts between the message core and the
// media capture collaborators (camera, microphone), and derives voice
// message metadata from captured audio clips.
//
// The core never touches devices itself: a Capture implementation
// produces a Clip (binary payload plus content URL), and the core stores
// it as an image or voice message. Permission failures abort the
// operation before any message is created.
package media

import (
	"context"
	"errors"
)

// Capture failure taxonomy. Both are surfaced to the user as descriptive
// errors; no partial message is created.
var (
	// ErrPermissionDenied means the user refused camera or microphone
	// access.
	ErrPermissionDenied = errors.New("media capture permission denied")
	// ErrDeviceUnavailable means no usable capture device exists.
	ErrDeviceUnavailable = errors.New("media capture device unavailable")
)

// Clip is a captured media payload. URL is the content address the
// rendering layer loads; Data is the raw bytes when available locally.
type Clip struct {
	URL      string
	MimeType string
	Data     []byte
}

// Capture produces media clips from the user's devices. Implementations
// live outside the core.
type Capture interface {
	// CaptureImage takes a photo. Returns ErrPermissionDenied or
	// ErrDeviceUnavailable when the camera cannot be used.
	CaptureImage(ctx context.Context) (*Clip, error)
	// CaptureAudio records an audio clip. Returns ErrPermissionDenied or
	// ErrDeviceUnavailable when the microphone cannot be used.
	CaptureAudio(ctx context.Context) (*Clip, error)
}
