// Package annexb splits a raw H.264 Annex B byte stream into NAL-unit
// packets at 4-byte start-code boundaries.
package annexb

import (
	"bytes"
	"errors"
	"io"

	"github.com/zsiec/remux/internal/media"
)

// readChunkSize is how much the framer pulls from the underlying stream per
// refill (512 KiB).
const readChunkSize = 512 << 10

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// Framer reads an Annex B elementary stream and produces one packet per
// start-code-delimited NAL unit. A stream whose buffered bytes do not begin
// with the 4-byte start code ends packet production; misalignment is never a
// distinct error.
type Framer struct {
	r     io.Reader
	buf   []byte
	chunk []byte
	eof   bool // underlying reader exhausted
	done  bool // no further packets will be produced
}

// NewFramer creates a Framer reading from r.
func NewFramer(r io.Reader) *Framer {
	return &Framer{
		r:     r,
		chunk: make([]byte, readChunkSize),
	}
}

// ParseNext returns the next packet from the stream. It returns io.EOF once
// the stream is exhausted or no further start-code-aligned packet can be
// produced, and any other error only when the underlying reader fails.
func (f *Framer) ParseNext() (media.Packet, error) {
	if f.done {
		return media.Packet{}, io.EOF
	}

	for len(f.buf) < len(startCode) && !f.eof {
		if err := f.refill(); err != nil {
			f.done = true
			return media.Packet{}, err
		}
	}

	if len(f.buf) < len(startCode) || !bytes.Equal(f.buf[:len(startCode)], startCode) {
		f.done = true
		return media.Packet{}, io.EOF
	}

	// Scan forward from just past the leading start code for the next one.
	// The scan cursor survives refills; only a found code or EOF ends it.
	scan := len(startCode)
	for {
		if i := bytes.Index(f.buf[scan:], startCode); i >= 0 {
			end := scan + i
			pkt := media.NewPacket(f.buf[len(startCode):end])
			f.buf = f.buf[end:]
			return pkt, nil
		}

		if f.eof {
			// Flush the tail as a final packet. A buffer holding nothing
			// beyond the start code is plain end-of-stream.
			if len(f.buf) <= len(startCode) {
				f.done = true
				return media.Packet{}, io.EOF
			}
			pkt := media.NewPacket(f.buf[len(startCode):])
			f.buf = nil
			f.done = true
			return pkt, nil
		}

		// Keep a 3-byte overlap so a start code split across refills is
		// still found.
		if n := len(f.buf) - (len(startCode) - 1); n > scan {
			scan = n
		}
		if err := f.refill(); err != nil {
			f.done = true
			return media.Packet{}, err
		}
	}
}

func (f *Framer) refill() error {
	n, err := f.r.Read(f.chunk)
	if n > 0 {
		f.buf = append(f.buf, f.chunk[:n]...)
	}
	if err != nil {
		f.eof = true
		if !errors.Is(err, io.EOF) {
			return err
		}
	}
	return nil
}
