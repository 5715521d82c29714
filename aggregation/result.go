package aggregation

import (
	"time"

	"github.com/sarchlab/servertiming/timingheader"
	"github.com/sarchlab/servertiming/tracking"
)

// An Entry is the total duration of one group.
type Entry struct {
	Tag         string
	Description string
	Duration    time.Duration
	Calls       int
}

// Result holds the durations attributed to one request, in group order.
type Result struct {
	ContextID tracking.ContextID
	entries   []Entry
}

// Len returns the number of groups that matched at least one call.
func (r Result) Len() int {
	return len(r.entries)
}

// IsEmpty tells if no group matched.
func (r Result) IsEmpty() bool {
	return len(r.entries) == 0
}

// Entries returns the entries in group order.
func (r Result) Entries() []Entry {
	entries := make([]Entry, len(r.entries))
	copy(entries, r.entries)

	return entries
}

// Get returns the duration of the group with the tag.
func (r Result) Get(tag string) (time.Duration, bool) {
	for _, e := range r.entries {
		if e.Tag == tag {
			return e.Duration, true
		}
	}

	return 0, false
}

// Metrics converts the result to Server-Timing metrics.
func (r Result) Metrics() []timingheader.Metric {
	metrics := make([]timingheader.Metric, 0, len(r.entries))
	for _, e := range r.entries {
		m := timingheader.Metric{
			Name:        e.Tag,
			Description: e.Description,
		}
		metrics = append(metrics, m.WithDuration(e.Duration))
	}

	return metrics
}
