package media

import "fmt"

// Time is a rational media timestamp: Value ticks on a timescale of Scale
// ticks per second. The pipeline derives presentation times as
// frameIndex/frameRate, so Scale is the configured frame rate.
type Time struct {
	Value int64
	Scale int32
}

// Seconds converts the timestamp to floating-point seconds.
func (t Time) Seconds() float64 {
	if t.Scale == 0 {
		return 0
	}
	return float64(t.Value) / float64(t.Scale)
}

func (t Time) String() string {
	return fmt.Sprintf("%d/%d", t.Value, t.Scale)
}
