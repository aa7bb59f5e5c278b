// Package event provides the unified event type and event bus for hidflux.
// Dispatch sources publish events to the bus; exporters subscribe and
// consume them.
package event

import (
	"sync"
	"time"
)

// Kind identifies which stage of the engine an event came from.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInput        // input report dispatched
	KindOutput       // output report dispatched
	KindFeature      // feature report dispatched
	KindFixup        // report-descriptor fixup at probe time
	KindLifecycle    // device connect / disconnect / destroy
)

// String returns the human-readable name of the event kind.
func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindOutput:
		return "output"
	case KindFeature:
		return "feature"
	case KindFixup:
		return "fixup"
	case KindLifecycle:
		return "lifecycle"
	default:
		return "unknown"
	}
}

// Verdict summarizes the outcome of one dispatch pass.
type Verdict uint8

const (
	VerdictUnknown   Verdict = iota
	VerdictDelivered         // pass completed, report handed to the host
	VerdictAborted           // a program returned a negative code
	VerdictOverflow          // event or resize exceeded buffer capacity
)

// String returns the human-readable verdict name.
func (v Verdict) String() string {
	switch v {
	case VerdictDelivered:
		return "delivered"
	case VerdictAborted:
		return "aborted"
	case VerdictOverflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// Event is the envelope for everything flowing out of the dispatch engine.
// Pool-allocated — call Release() when done to avoid GC pressure.
//
// Design: structured fields for common attributes + maps for extension
// data, keeping a single pipeline type without giant union structs.
type Event struct {
	Kind      Kind
	Verdict   Verdict
	Timestamp time.Time

	// Device identity
	DeviceID   uint32
	DeviceName string
	Bus        string

	// Pass shape
	InSize    int
	OutSize   int
	Programs  int
	AbortCode int32
	Interrupt bool

	// Extension key-value fields (low cardinality strings)
	Labels map[string]string

	// Extension numeric values (latencies, sizes)
	Numeric map[string]float64
}

// pool is the sync.Pool for Event objects, reducing GC pressure on the hot path.
var pool = sync.Pool{
	New: func() any {
		return &Event{
			Labels:  make(map[string]string, 4),
			Numeric: make(map[string]float64, 4),
		}
	},
}

// Acquire retrieves a pre-allocated Event from the pool.
// The caller must call Release() when done processing the event.
func Acquire() *Event {
	return pool.Get().(*Event)
}

// Release returns the Event to the pool after clearing all fields.
// The event must not be used after calling Release.
func (e *Event) Release() {
	// Clear fields but keep allocated maps
	e.Kind = KindUnknown
	e.Verdict = VerdictUnknown
	e.Timestamp = time.Time{}
	e.DeviceID = 0
	e.DeviceName = ""
	e.Bus = ""
	e.InSize = 0
	e.OutSize = 0
	e.Programs = 0
	e.AbortCode = 0
	e.Interrupt = false
	for k := range e.Labels {
		delete(e.Labels, k)
	}
	for k := range e.Numeric {
		delete(e.Numeric, k)
	}
	pool.Put(e)
}

// SetLabel sets an extension string attribute.
func (e *Event) SetLabel(key, value string) {
	e.Labels[key] = value
}

// SetNumeric sets an extension numeric attribute.
func (e *Event) SetNumeric(key string, value float64) {
	e.Numeric[key] = value
}

// Label returns a label value, or empty string if not present.
func (e *Event) Label(key string) string {
	return e.Labels[key]
}

// NumericVal returns a numeric value, or 0 if not present.
func (e *Event) NumericVal(key string) float64 {
	return e.Numeric[key]
}
