package message

import "time"

// TimeProvider abstracts the clock for deterministic testing. Message
// timestamps are the only time the core consumes, so the seam is a
// single method. Implementations must be safe for concurrent use.
type TimeProvider interface {
	Now() time.Time
}

// DefaultTimeProvider uses the standard library clock.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// defaultTimeProvider is the package-level default for functions that need time.
var defaultTimeProvider TimeProvider = DefaultTimeProvider{}

// SetDefaultTimeProvider sets the package-level time provider for testing.
// Pass nil to reset to the default implementation.
func SetDefaultTimeProvider(tp TimeProvider) {
	if tp == nil {
		tp = DefaultTimeProvider{}
	}
	defaultTimeProvider = tp
}

// GetDefaultTimeProvider returns the current package-level time provider.
func GetDefaultTimeProvider() TimeProvider {
	return defaultTimeProvider
}
