// Package decode defines the contract between the conversion pipeline and an
// external video decoder: packets go in one at a time, decoded frames come
// back asynchronously.
package decode

import (
	"github.com/zsiec/remux/internal/media"
)

// Config carries the decoder initialization parameters: the AVC decoder
// configuration record derived from the stream's parameter sets, and the
// expected frame dimensions (forwarded as-is, not validated against the
// bitstream).
type Config struct {
	Record []byte
	Width  int
	Height int
}

// Result is one asynchronous decode outcome: either a pinned frame buffer or
// an error, never both.
type Result struct {
	Frame media.FrameBuffer
	Err   error
}

// Decoder is an external decoding capability. Setup must be called exactly
// once before the first Submit. Submit is fire-and-forget: every submitted
// packet eventually yields exactly one Result on the Results channel, in
// submission order. Frame buffers delivered in Results stay pinned until the
// receiver calls Release. Invalidate releases decoder resources; it is
// idempotent and safe to call after a failed Setup.
type Decoder interface {
	Setup(cfg Config) error
	Submit(pkt media.Packet)
	Results() <-chan Result
	Invalidate()
}
