// Package avcc builds AVC decoder configuration records and provides the
// 4-byte length-prefix framing used downstream of the decoder.
package avcc

import (
	"encoding/binary"
	"errors"
)

// Reasons BuildDecoderConfig can reject its parameter sets.
var (
	ErrShortSPS = errors.New("avcc: SPS must be at least 4 bytes")
	ErrEmptyPPS = errors.New("avcc: PPS must not be empty")
)

// BuildDecoderConfig builds an AVCDecoderConfigurationRecord
// (ISO 14496-15 §5.2.4.1.1) from raw SPS and PPS NAL data (without start
// codes). The SPS must include the NAL header byte (0x67); its bytes 1-3
// supply the profile, compatibility, and level fields. The output is
// deterministic and always 11+len(sps)+len(pps) bytes.
func BuildDecoderConfig(sps, pps []byte) ([]byte, error) {
	if len(sps) < 4 {
		return nil, ErrShortSPS
	}
	if len(pps) == 0 {
		return nil, ErrEmptyPPS
	}

	buf := make([]byte, 0, 11+len(sps)+len(pps))
	buf = append(buf, 1)      // configurationVersion
	buf = append(buf, sps[1]) // AVCProfileIndication
	buf = append(buf, sps[2]) // profile_compatibility
	buf = append(buf, sps[3]) // AVCLevelIndication
	buf = append(buf, 0xFF)   // lengthSizeMinusOne = 3 | reserved 0xFC
	buf = append(buf, 0xE1)   // numOfSequenceParameterSets = 1 | reserved 0xE0

	// SPS
	buf = append(buf, byte(len(sps)>>8), byte(len(sps)))
	buf = append(buf, sps...)

	// PPS
	buf = append(buf, 1) // numOfPictureParameterSets
	buf = append(buf, byte(len(pps)>>8), byte(len(pps)))
	buf = append(buf, pps...)

	return buf, nil
}

// LengthPrefix frames data with a 4-byte big-endian length, the NAL framing
// convention the configuration record's lengthSizeMinusOne field announces.
func LengthPrefix(data []byte) []byte {
	out := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(out, uint32(len(data)))
	copy(out[4:], data)
	return out
}
