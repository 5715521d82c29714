package recording

import (
	"time"
	"unsafe"
)

// A CallEvent is the record of one instrumented call.
type CallEvent struct {
	Func  FuncID
	Start time.Time
	End   time.Time

	// Context is the execution context reported by the recorder. Recorders
	// that cannot observe request scopes leave it empty; attribution is then
	// done by matching time windows.
	Context string
}

// Duration returns the wall time that the call took.
func (e CallEvent) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// eventFootprint is the number of bytes a buffered event is accounted for.
// Function names are shared between events and are not counted.
const eventFootprint = uint64(unsafe.Sizeof(CallEvent{}))
