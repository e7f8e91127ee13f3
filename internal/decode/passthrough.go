package decode

import (
	"errors"
	"sync/atomic"

	"github.com/zsiec/remux/internal/media"
)

// resultBufferSize bounds how many undelivered frames a Passthrough holds
// before Submit blocks. The orchestrator drains results continuously, so the
// bound is only hit if the consumer stalls.
const resultBufferSize = 64

// ErrNotConfigured is returned by Setup when the configuration record is
// missing.
var ErrNotConfigured = errors.New("decode: empty decoder configuration record")

// Passthrough is a Decoder that returns each submitted packet's payload,
// unmodified, as the decoded frame. It stands in where a hardware decoder
// would be wired in production, which makes the full pipeline runnable (and
// testable) without decode hardware: the conversion degrades to an
// Annex B to length-prefixed remux.
type Passthrough struct {
	results     chan Result
	invalidated atomic.Bool
}

// NewPassthrough creates a Passthrough decoder.
func NewPassthrough() *Passthrough {
	return &Passthrough{
		results: make(chan Result, resultBufferSize),
	}
}

// Setup validates the configuration record. The record is not otherwise used;
// a passthrough has nothing to initialize.
func (p *Passthrough) Setup(cfg Config) error {
	if len(cfg.Record) == 0 {
		return ErrNotConfigured
	}
	return nil
}

// Submit copies the packet payload into a pinned frame buffer and delivers it
// on the results channel. Submissions after Invalidate are dropped.
func (p *Passthrough) Submit(pkt media.Packet) {
	if p.invalidated.Load() {
		return
	}
	data := make([]byte, len(pkt.Payload))
	copy(data, pkt.Payload)
	p.results <- Result{Frame: &pinnedBuffer{data: data}}
}

// Results returns the decoded frame channel.
func (p *Passthrough) Results() <-chan Result {
	return p.results
}

// Invalidate stops the decoder. Idempotent.
func (p *Passthrough) Invalidate() {
	p.invalidated.Store(true)
}

// pinnedBuffer is a FrameBuffer backed by an owned copy of the payload. A
// second Release is a caller bug and panics.
type pinnedBuffer struct {
	data     []byte
	released atomic.Bool
}

func (b *pinnedBuffer) Bytes() []byte {
	return b.data
}

func (b *pinnedBuffer) Release() {
	if !b.released.CompareAndSwap(false, true) {
		panic("decode: frame buffer released twice")
	}
	b.data = nil
}
