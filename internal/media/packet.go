// Package media defines the shared packet, timestamp, and frame-buffer types
// that flow through the remux conversion pipeline, from Annex B framing
// through sink delivery.
package media

import "fmt"

// Kind classifies an H.264 NAL unit as defined in ITU-T H.264 Table 7-1.
type Kind int

// NAL unit kinds recognized by the pipeline. Types outside the mapped range
// (and any byte with the forbidden_zero_bit set) classify as KindUndefined.
const (
	KindUndefined Kind = iota
	KindCodedSlice
	KindDataPartitionA
	KindDataPartitionB
	KindDataPartitionC
	KindIDR
	KindSupplementalInfo
	KindSequenceParameterSet
	KindPictureParameterSet
	KindAccessUnitDelimiter
	KindEndOfSequence
	KindEndOfStream
	KindFillerData
)

var kindNames = map[Kind]string{
	KindUndefined:            "undefined",
	KindCodedSlice:           "coded-slice",
	KindDataPartitionA:       "data-partition-a",
	KindDataPartitionB:       "data-partition-b",
	KindDataPartitionC:       "data-partition-c",
	KindIDR:                  "idr",
	KindSupplementalInfo:     "sei",
	KindSequenceParameterSet: "sps",
	KindPictureParameterSet:  "pps",
	KindAccessUnitDelimiter:  "aud",
	KindEndOfSequence:        "end-of-sequence",
	KindEndOfStream:          "end-of-stream",
	KindFillerData:           "filler",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// KindOf classifies a NAL unit from its header byte. The classification is a
// pure function of that single byte: if the forbidden_zero_bit (high bit) is
// set the unit is undefined, otherwise the low 5 bits select the type.
func KindOf(header byte) Kind {
	if header&0x80 != 0 {
		return KindUndefined
	}
	switch header & 0x1F {
	case 1:
		return KindCodedSlice
	case 2:
		return KindDataPartitionA
	case 3:
		return KindDataPartitionB
	case 4:
		return KindDataPartitionC
	case 5:
		return KindIDR
	case 6:
		return KindSupplementalInfo
	case 7:
		return KindSequenceParameterSet
	case 8:
		return KindPictureParameterSet
	case 9:
		return KindAccessUnitDelimiter
	case 10:
		return KindEndOfSequence
	case 11:
		return KindEndOfStream
	case 12:
		return KindFillerData
	default:
		return KindUndefined
	}
}

// Packet is one NAL unit extracted from an Annex B stream: the raw payload
// bytes (start code excluded, NAL header byte included) and the kind derived
// from the payload's first byte. Packets are immutable after construction.
type Packet struct {
	Kind    Kind
	Payload []byte
}

// NewPacket builds a Packet, classifying its kind once from the first payload
// byte. An empty payload classifies as undefined.
func NewPacket(payload []byte) Packet {
	if len(payload) == 0 {
		return Packet{Kind: KindUndefined}
	}
	return Packet{Kind: KindOf(payload[0]), Payload: payload}
}
