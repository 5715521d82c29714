package tracking

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/xid"
)

// ContextID identifies the execution scope of one request.
type ContextID string

// IDGenerator can generate ContextIDs. Generated IDs must never repeat within
// a process.
type IDGenerator interface {
	Generate() ContextID
}

// NewSequentialIDGenerator returns a generator whose first ID is "1". IDs are
// deterministic, which helps tests and log reading.
func NewSequentialIDGenerator() IDGenerator {
	return &sequentialIDGenerator{}
}

// NewParallelIDGenerator returns a generator of globally unique IDs that do
// not reveal how many requests the process has served.
func NewParallelIDGenerator() IDGenerator {
	return parallelIDGenerator{}
}

// NewUUIDGenerator returns a generator of random UUIDs, for IDs that are
// shared with systems that expect them.
func NewUUIDGenerator() IDGenerator {
	return uuidGenerator{}
}

type sequentialIDGenerator struct {
	nextID uint64
}

func (g *sequentialIDGenerator) Generate() ContextID {
	idNumber := atomic.AddUint64(&g.nextID, 1)

	return ContextID(strconv.FormatUint(idNumber, 10))
}

type parallelIDGenerator struct{}

func (parallelIDGenerator) Generate() ContextID {
	return ContextID(xid.New().String())
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() ContextID {
	return ContextID(uuid.NewString())
}
