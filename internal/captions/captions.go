// Package captions extracts CEA-608 closed captions carried in H.264 SEI
// NAL units, decoding caption pairs into display text as the stream is
// converted.
package captions

import (
	"github.com/zsiec/ccx"

	"github.com/zsiec/remux/internal/media"
)

// Frame is one decoded caption update: the presentation time of the packet
// that carried it, the CEA-608 channel (1-4), and the accumulated display
// text.
type Frame struct {
	Time    media.Time
	Channel int
	Text    string
}

// Extractor decodes CEA-608 caption pairs found in SEI payloads. Each of the
// four caption channels gets a dedicated decoder. Extracted frames are
// delivered to the emit callback.
type Extractor struct {
	decoders map[int]*ccx.CEA608Decoder
	emit     func(Frame)
}

// NewExtractor creates an Extractor delivering caption frames to emit.
func NewExtractor(emit func(Frame)) *Extractor {
	return &Extractor{
		decoders: map[int]*ccx.CEA608Decoder{
			1: ccx.NewCEA608Decoder(),
			2: ccx.NewCEA608Decoder(),
			3: ccx.NewCEA608Decoder(),
			4: ccx.NewCEA608Decoder(),
		},
		emit: emit,
	}
}

// ProcessSEI feeds one SEI packet payload (NAL header byte included, start
// code excluded) through caption extraction. Payloads without caption user
// data are ignored.
func (e *Extractor) ProcessSEI(payload []byte, at media.Time) {
	cd := ccx.ExtractCaptions(payload)
	if cd == nil {
		return
	}

	for _, pair := range cd.CC608Pairs {
		dec := e.decoders[pair.Channel]
		if dec == nil {
			continue
		}
		text := dec.Decode(pair.Data[0], pair.Data[1])
		if text != "" && e.emit != nil {
			e.emit(Frame{Time: at, Channel: pair.Channel, Text: text})
		}
	}
}
