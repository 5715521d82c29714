// Package guard bounds the memory used by the shared event buffer.
package guard

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/sarchlab/servertiming/recording"
)

// DefaultThreshold is the buffer size, in bytes, over which the buffer is
// discarded.
const DefaultThreshold uint64 = 50_000_000

// A Guard discards the buffer of a Source once it grows over a threshold.
//
// Discarding is a full clear. Calls recorded for requests that are still in
// flight are lost, and those requests report fewer metrics, or none. This is
// not treated as an error.
type Guard struct {
	source    recording.Source
	threshold uint64
	logger    log.Logger

	lock sync.Mutex
}

// New creates a Guard. A nil logger discards logs.
func New(
	source recording.Source,
	threshold uint64,
	logger log.Logger,
) *Guard {
	if source == nil {
		panic("source must not be nil")
	}

	if logger == nil {
		logger = log.NewNopLogger()
	}

	return &Guard{
		source:    source,
		threshold: threshold,
		logger:    logger,
	}
}

// Threshold returns the buffer size that triggers a clear.
func (g *Guard) Threshold() uint64 {
	return g.threshold
}

// Check stops, clears, and restarts the source if its buffer is larger than
// the threshold. It reports whether the buffer was cleared. If another check
// is running, Check returns immediately.
func (g *Guard) Check() (bool, error) {
	if !g.lock.TryLock() {
		return false, nil
	}
	defer g.lock.Unlock()

	size := g.source.BufferSize()
	if size <= g.threshold {
		return false, nil
	}

	if err := g.source.Stop(); err != nil {
		return false, errors.Wrap(err, "stop source before clear")
	}

	g.source.Clear()

	if err := g.source.Start(); err != nil {
		return true, errors.Wrap(err, "restart source after clear")
	}

	level.Debug(g.logger).Log(
		"msg", "event buffer over threshold, cleared",
		"buffer_bytes", size,
		"threshold", g.threshold,
	)

	return true, nil
}

// Run checks the source every interval until ctx is done.
func (g *Guard) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := g.Check(); err != nil {
				level.Warn(g.logger).Log("msg", "memory guard check failed", "err", err)
			}
		}
	}
}
