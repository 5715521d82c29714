package recording

import (
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sarchlab/servertiming/hooking"
)

// A list of hook positions that the Recorder triggers.
var (
	// HookPosCallEnd is triggered after a call is recorded. The item is the
	// CallEvent.
	HookPosCallEnd = &hooking.HookPos{Name: "RecorderCallEnd"}

	// HookPosClear is triggered after the buffer is cleared. The item is the
	// number of events discarded.
	HookPosClear = &hooking.HookPos{Name: "RecorderClear"}
)

// Recorder is an in-process Source. Instrumented code reports its calls
// explicitly through Begin, Track, or Time.
//
// The Recorder does not know about requests. It only records which function
// ran and when.
type Recorder struct {
	*hooking.HookableBase

	timeTeller TimeTeller
	active     atomic.Bool
	closed     atomic.Bool

	lock   sync.Mutex
	events []CallEvent
	size   uint64
}

// NewRecorder creates a stopped Recorder. If timeTeller is nil, the wall clock
// is used.
func NewRecorder(timeTeller TimeTeller) *Recorder {
	if timeTeller == nil {
		timeTeller = WallClock{}
	}

	return &Recorder{
		HookableBase: hooking.NewHookableBase(),
		timeTeller:   timeTeller,
	}
}

// Start begins recording.
func (r *Recorder) Start() error {
	if r.closed.Load() {
		return errors.Wrap(ErrRecorderUnavailable, "start")
	}

	r.active.Store(true)

	return nil
}

// Stop halts recording. Buffered events are kept.
func (r *Recorder) Stop() error {
	if r.closed.Load() {
		return errors.Wrap(ErrRecorderUnavailable, "stop")
	}

	r.active.Store(false)

	return nil
}

// Close shuts the recorder down. A closed recorder cannot be started again.
func (r *Recorder) Close() {
	r.closed.Store(true)
	r.active.Store(false)
}

// IsActive tells if the recorder is recording.
func (r *Recorder) IsActive() bool {
	return r.active.Load()
}

// Now returns the time as seen by the recorder.
func (r *Recorder) Now() time.Time {
	return r.timeTeller.Now()
}

// Drain returns a copy of the buffered events, ordered by start time.
func (r *Recorder) Drain() []CallEvent {
	return r.DrainSince(time.Time{})
}

// DrainSince returns a copy of the buffered events that started at or after
// t, ordered by start time.
func (r *Recorder) DrainSince(t time.Time) []CallEvent {
	r.lock.Lock()
	defer r.lock.Unlock()

	from := sort.Search(len(r.events), func(i int) bool {
		return !r.events[i].Start.Before(t)
	})

	return slices.Clone(r.events[from:])
}

// NumEvents returns the number of buffered events.
func (r *Recorder) NumEvents() int {
	r.lock.Lock()
	defer r.lock.Unlock()

	return len(r.events)
}

// Clear discards all buffered events.
func (r *Recorder) Clear() {
	r.lock.Lock()
	discarded := len(r.events)
	r.events = nil
	r.size = 0
	r.lock.Unlock()

	r.InvokeHook(hooking.HookCtx{
		Domain: r,
		Pos:    HookPosClear,
		Item:   discarded,
	})
}

// BufferSize returns the estimated number of bytes used by buffered events.
func (r *Recorder) BufferSize() uint64 {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.size
}

// Begin marks the start of a call to fn. The returned Call must be ended
// with End. If the recorder is not active, Begin returns nil, and ending a
// nil Call does nothing.
func (r *Recorder) Begin(fn FuncID) *Call {
	if !r.active.Load() {
		return nil
	}

	return &Call{
		recorder: r,
		fn:       fn,
		start:    r.timeTeller.Now(),
	}
}

// Track records the execution of body as a call to fn.
func (r *Recorder) Track(fn FuncID, body func()) {
	c := r.Begin(fn)
	defer c.End()

	body()
}

// Time records the execution of body as a call to fn and returns what body
// returns.
func Time[T any](r *Recorder, fn FuncID, body func() (T, error)) (T, error) {
	c := r.Begin(fn)
	defer c.End()

	return body()
}

func (r *Recorder) record(evt CallEvent) {
	// Calls that end after the recorder stopped are dropped.
	if !r.active.Load() {
		return
	}

	r.lock.Lock()
	r.insert(evt)
	r.size += eventFootprint
	r.lock.Unlock()

	r.InvokeHook(hooking.HookCtx{
		Domain: r,
		Pos:    HookPosCallEnd,
		Item:   evt,
	})
}

// insert keeps the buffer ordered by start time. Calls end in roughly the
// order they start, so an out-of-order event lands near the tail.
func (r *Recorder) insert(evt CallEvent) {
	n := len(r.events)
	if n == 0 || !evt.Start.Before(r.events[n-1].Start) {
		r.events = append(r.events, evt)
		return
	}

	i := sort.Search(n, func(i int) bool {
		return evt.Start.Before(r.events[i].Start)
	})
	r.events = slices.Insert(r.events, i, evt)
}

// A Call is an in-flight instrumented call.
type Call struct {
	recorder *Recorder
	fn       FuncID
	start    time.Time
	ended    atomic.Bool
}

// End marks the end of the call. Only the first End is recorded.
func (c *Call) End() {
	if c == nil || !c.ended.CompareAndSwap(false, true) {
		return
	}

	end := c.recorder.timeTeller.Now()
	if end.Before(c.start) {
		end = c.start
	}

	c.recorder.record(CallEvent{
		Func:  c.fn,
		Start: c.start,
		End:   end,
	})
}

var _ Source = (*Recorder)(nil)
