// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package wire implements the on-the-wire encodings shared by the node and
// base protocols: the 4-byte Observation record and the addressed, framed,
// length-prefixed link-layer Frame.
package wire

import "fmt"

// Kind identifies the type of reading an Observation carries.
type Kind byte

const (
	Call Kind = iota
	Temperature
	Humidity
	Light
	Other
)

func (k Kind) String() string {
	switch k {
	case Call:
		return "Call"
	case Temperature:
		return "Temperature"
	case Humidity:
		return "Humidity"
	case Light:
		return "Light"
	case Other:
		return "Other"
	default:
		return fmt.Sprintf("Kind(%#x)", byte(k))
	}
}

// DayWrap is the modulus for time-of-day seconds (24h).
const DayWrap = 86400

// Observation is a single recorded event, 4 bytes wide on the wire.
//
// Time is a full seconds-of-day counter (0..DayWrap-1); only its low 17
// bits are ever carried on the wire (time_lo in the low 16 bits of the
// Observation and bit 16 stolen from the top bit of Kind). The internal
// representation does not mirror the wire's bit-split.
type Observation struct {
	Time    uint32 // seconds of day at creation, 0..DayWrap-1
	Kind    Kind
	Payload byte // Call: low 7 bits click count, bit 7 female flag; sensors: reduced 8-bit reading
}

// ClickCount returns the click count carried in a Call Observation's payload.
func (o Observation) ClickCount() int { return int(o.Payload & 0x7f) }

// FemaleResponse reports whether a Call Observation's female-response flag is set.
func (o Observation) FemaleResponse() bool { return o.Payload&0x80 != 0 }

// NewCall builds a Call Observation from a click count and female flag.
func NewCall(t uint32, clicks int, female bool) Observation {
	p := byte(clicks) & 0x7f
	if female {
		p |= 0x80
	}
	return Observation{Time: t % DayWrap, Kind: Call, Payload: p}
}

// Encode writes the Observation's 4-byte wire encoding: [time_lo:u16][kind:u8][payload:u8].
func (o Observation) Encode() [4]byte {
	t := o.Time % DayWrap
	var buf [4]byte
	buf[0] = byte(t)
	buf[1] = byte(t >> 8)
	buf[2] = byte(o.Kind) & 0x7f
	if t&0x10000 != 0 {
		buf[2] |= 0x80
	}
	buf[3] = o.Payload
	return buf
}

// DecodeObservation parses a 4-byte wire encoding produced by Encode.
func DecodeObservation(buf []byte) (Observation, error) {
	if len(buf) < 4 {
		return Observation{}, fmt.Errorf("wire: observation too short: %d bytes", len(buf))
	}
	timeLo := uint32(buf[0]) | uint32(buf[1])<<8
	msb := uint32(0)
	if buf[2]&0x80 != 0 {
		msb = 1 << 16
	}
	return Observation{
		Time:    (timeLo | msb) % DayWrap,
		Kind:    Kind(buf[2] & 0x7f),
		Payload: buf[3],
	}, nil
}

// SplitTime splits a seconds-of-day value into its low 16 bits and bit 16,
// the representation carried by TimeSync, Ack and BeaconAck frames.
func SplitTime(t uint32) (lo uint16, msb bool) {
	t %= DayWrap
	return uint16(t), t&0x10000 != 0
}

// JoinTime reassembles a seconds-of-day value from SplitTime's halves.
func JoinTime(lo uint16, msb bool) uint32 {
	t := uint32(lo)
	if msb {
		t |= 1 << 16
	}
	return t % DayWrap
}
