package middleware

import (
	"github.com/go-kit/log"
	"github.com/sarchlab/servertiming/aggregation"
	"github.com/sarchlab/servertiming/guard"
	"github.com/sarchlab/servertiming/recording"
	"github.com/sarchlab/servertiming/timingheader"
	"github.com/sarchlab/servertiming/tracking"
)

// Builder can build Middlewares.
type Builder struct {
	source      recording.Source
	groups      aggregation.Groups
	tracker     *tracking.Tracker
	maxMemory   uint64
	overwrite   timingheader.OverwriteBehavior
	emptyHeader bool
	headerName  string
	logger      log.Logger
}

// MakeBuilder creates a Builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		maxMemory:  guard.DefaultThreshold,
		overwrite:  timingheader.OverwriteNone,
		headerName: timingheader.HeaderName,
		logger:     log.NewNopLogger(),
	}
}

// WithSource sets the event source that tracked calls are recorded into.
func (b Builder) WithSource(source recording.Source) Builder {
	b.source = source
	return b
}

// WithGroups sets the groups that are reported, in reporting order.
func (b Builder) WithGroups(groups aggregation.Groups) Builder {
	b.groups = groups
	return b
}

// WithTracker sets the tracker that opens request scopes. By default, a
// tracker with sequential IDs is created. It uses the clock of the source if
// the source can tell time.
func (b Builder) WithTracker(tracker *tracking.Tracker) Builder {
	b.tracker = tracker
	return b
}

// WithMaxMemory sets the buffer size, in bytes, over which the source is
// cleared.
func (b Builder) WithMaxMemory(bytes uint64) Builder {
	b.maxMemory = bytes
	return b
}

// WithOverwriteBehavior sets how the middleware treats a Server-Timing header
// that the handler has already set.
func (b Builder) WithOverwriteBehavior(
	behavior timingheader.OverwriteBehavior,
) Builder {
	b.overwrite = behavior
	return b
}

// WithEmptyHeader sets whether a header with an empty value is sent when no
// group matched. By default, the header is omitted.
func (b Builder) WithEmptyHeader(send bool) Builder {
	b.emptyHeader = send
	return b
}

// WithHeaderName sets the name of the response header.
func (b Builder) WithHeaderName(name string) Builder {
	b.headerName = name
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(logger log.Logger) Builder {
	b.logger = logger
	return b
}

// Build creates the Middleware.
func (b Builder) Build() *Middleware {
	b.mustBeValid()

	m := &Middleware{
		source:      b.source,
		groups:      b.groups,
		tracker:     b.tracker,
		overwrite:   b.overwrite,
		emptyHeader: b.emptyHeader,
		headerName:  b.headerName,
		logger:      b.logger,
	}

	if m.tracker == nil {
		m.tracker = b.defaultTracker()
	}

	m.guard = guard.New(b.source, b.maxMemory, b.logger)

	return m
}

func (b Builder) defaultTracker() *tracking.Tracker {
	tb := tracking.MakeBuilder()

	if clock, ok := b.source.(tracking.TimeTeller); ok {
		tb = tb.WithTimeTeller(clock)
	}

	return tb.Build()
}

func (b Builder) mustBeValid() {
	if b.source == nil {
		panic("source is not set")
	}

	if b.logger == nil {
		panic("logger is not set")
	}

	if b.headerName == "" {
		panic("header name is not set")
	}
}
