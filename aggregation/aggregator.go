// Package aggregation sums recorded call durations per tracked group for one
// request.
//
// The recorder does not know which request a call belongs to, so calls are
// attributed by time: every call that started after the request scope opened
// counts toward the request. Two requests that overlap in time both count
// the calls made in the overlap, including calls made by the other request.
// Concurrent identical work is therefore not isolated between requests that
// truly run in parallel. A clear of the shared buffer while a request is in
// flight also loses the calls that request made before the clear.
package aggregation

import (
	"time"

	"github.com/sarchlab/servertiming/recording"
	"github.com/sarchlab/servertiming/tracking"
)

// EventFilter is a function that can filter interesting events. If this
// function returns true, the event is considered.
type EventFilter func(e recording.CallEvent) bool

// StartedSince selects the events that started at or after t.
func StartedSince(t time.Time) EventFilter {
	return func(e recording.CallEvent) bool {
		return !e.Start.Before(t)
	}
}

// Aggregate attributes events to the request identified by id, whose scope
// opened at scopeStart, and sums their durations per group. Groups without
// matching events are left out of the result. Events of functions that no
// group tracks are ignored. A function that belongs to several groups is
// counted in each of them.
func Aggregate(
	id tracking.ContextID,
	scopeStart time.Time,
	groups Groups,
	events []recording.CallEvent,
) Result {
	return AggregateFiltered(id, StartedSince(scopeStart), groups, events)
}

// AggregateFiltered is Aggregate with a custom event filter.
func AggregateFiltered(
	id tracking.ContextID,
	filter EventFilter,
	groups Groups,
	events []recording.CallEvent,
) Result {
	totals := make([]time.Duration, len(groups))
	calls := make([]int, len(groups))

	for _, evt := range events {
		if !filter(evt) {
			continue
		}

		for i, g := range groups {
			if g.Contains(evt.Func) {
				totals[i] += evt.Duration()
				calls[i]++
			}
		}
	}

	result := Result{ContextID: id}
	for i, g := range groups {
		if calls[i] == 0 {
			continue
		}

		result.entries = append(result.entries, Entry{
			Tag:         g.tag,
			Description: g.description,
			Duration:    totals[i],
			Calls:       calls[i],
		})
	}

	return result
}
