package tracking

// Builder can build Trackers.
type Builder struct {
	idGenerator IDGenerator
	timeTeller  TimeTeller
}

// MakeBuilder creates a Builder with a sequential ID generator and the wall
// clock.
func MakeBuilder() Builder {
	return Builder{}
}

// WithIDGenerator sets the generator of ContextIDs.
func (b Builder) WithIDGenerator(g IDGenerator) Builder {
	b.idGenerator = g
	return b
}

// WithTimeTeller sets the clock that stamps scope start times. It must be the
// clock of the event source.
func (b Builder) WithTimeTeller(t TimeTeller) Builder {
	b.timeTeller = t
	return b
}

// Build creates the Tracker.
func (b Builder) Build() *Tracker {
	t := &Tracker{
		idGenerator: b.idGenerator,
		timeTeller:  b.timeTeller,
	}

	if t.idGenerator == nil {
		t.idGenerator = NewSequentialIDGenerator()
	}

	if t.timeTeller == nil {
		t.timeTeller = wallClock{}
	}

	return t
}
