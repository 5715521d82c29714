// Package recording provides the call-event source that request timings are
// computed from.
package recording

import (
	"time"

	"github.com/pkg/errors"
)

// ErrRecorderUnavailable is returned when the recorder can no longer be
// started or stopped.
var ErrRecorderUnavailable = errors.New("recorder unavailable")

// A Source records call events into a process-wide buffer.
//
// The buffer is append-only while the source is active. Clear discards the
// whole buffer at once; a Drain running concurrently with a Clear returns
// either everything before the clear or nothing recorded before it, never a
// mix.
type Source interface {
	// Start begins recording. Starting an active source does nothing.
	Start() error

	// Stop halts recording without discarding buffered events. Stopping an
	// inactive source does nothing.
	Stop() error

	// Drain returns all the events recorded since the last Clear, ordered by
	// start time. The events stay in the buffer.
	Drain() []CallEvent

	// DrainSince is like Drain but only returns the events that started at
	// or after t.
	DrainSince(t time.Time) []CallEvent

	// NumEvents returns the number of buffered events.
	NumEvents() int

	// Clear discards all buffered events.
	Clear()

	// BufferSize returns the number of bytes the buffer is using.
	BufferSize() uint64

	// IsActive tells if the source is recording.
	IsActive() bool
}

// A TimeTeller can tell the current time.
type TimeTeller interface {
	Now() time.Time
}

// WallClock tells the wall-clock time.
type WallClock struct{}

// Now returns time.Now().
func (WallClock) Now() time.Time {
	return time.Now()
}
