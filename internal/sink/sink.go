// Package sink defines the media sink contract: a writer that accepts
// decoded frames in presentation order and produces the final output
// artifact.
package sink

import (
	"fmt"

	"github.com/zsiec/remux/internal/media"
)

// Status reports the writer's lifecycle state.
type Status int

// Writer lifecycle states.
const (
	StatusIdle      Status = iota // Open not yet called
	StatusWriting                 // open and accepting frames
	StatusFinishing               // input marked finished, finalize pending
	StatusDone                    // finalized successfully
	StatusFailed                  // unusable after an internal fault
)

var statusNames = map[Status]string{
	StatusIdle:      "idle",
	StatusWriting:   "writing",
	StatusFinishing: "finishing",
	StatusDone:      "done",
	StatusFailed:    "failed",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Config carries the stream parameters the writer may need to set up its
// container: the decoder configuration record and the conversion's frame
// rate and expected dimensions, forwarded opaquely.
type Config struct {
	Record    []byte
	FrameRate int
	Width     int
	Height    int
}

// Writer is the external media sink capability. It is driven entirely from
// the orchestrator's goroutine and need not be safe for concurrent use.
//
// Readiness contract: Ready delivers wakeup signals whenever the writer may
// have capacity for more input, at least once after Open and after every
// accepted Append. The orchestrator gates each individual Append on
// CanAcceptMoreInput; Ready is a hint, not a permit.
type Writer interface {
	// Open starts a writing session targeting dest.
	Open(dest string, cfg Config) error
	CanAcceptMoreInput() bool
	Ready() <-chan struct{}
	// Append writes one frame at the given presentation time. A false
	// return means the writer failed; Err reports the cause.
	Append(frame []byte, at media.Time) bool
	Err() error
	Status() Status
	// MarkInputFinished declares that no further frames will be appended.
	MarkInputFinished()
	// EndSession closes the writing session at the given end timestamp.
	EndSession(at media.Time)
	// Finalize asynchronously completes the output artifact. The returned
	// channel delivers exactly one value.
	Finalize() <-chan error
}
