// Package magic validates and builds magic packets.
//
// A magic packet is six 0xFF bytes followed by the target hardware address
// repeated sixteen times. Unlike wake-on-LAN receivers the marker may sit
// anywhere in the datagram, but only its first occurrence is considered.
package magic

import (
	"bytes"

	"sleeponlan/internal/identity"
)

const (
	// MarkerSize is the length of the synchronization marker.
	MarkerSize = 6
	// Repetitions is how many times the target address must repeat.
	Repetitions = 16
	// PayloadSize is the minimum payload length after the marker (16 * 6 = 96 bytes).
	PayloadSize = Repetitions * len(identity.HardwareAddr{})
	// PacketSize is the size of a minimal packet (6 + 96 = 102 bytes).
	PacketSize = MarkerSize + PayloadSize
)

var marker = bytes.Repeat([]byte{0xFF}, MarkerSize)

// Verdict is the outcome of inspecting a datagram.
type Verdict int

const (
	Accepted Verdict = iota
	NoMarker
	ShortPayload
	UnknownTarget
	BadRepetition
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case NoMarker:
		return "no sync marker"
	case ShortPayload:
		return "payload too short"
	case UnknownTarget:
		return "target not allowed"
	case BadRepetition:
		return "target repetition mismatch"
	default:
		return "unknown"
	}
}

// Inspect runs the validation steps in order and reports the first failing one.
// The returned address is the candidate target, zero when none could be read.
func Inspect(data []byte, allowed identity.Set) (identity.HardwareAddr, Verdict) {
	start := bytes.Index(data, marker)
	if start < 0 {
		return identity.HardwareAddr{}, NoMarker
	}

	payload := data[start+MarkerSize:]
	if len(payload) < PayloadSize {
		return identity.HardwareAddr{}, ShortPayload
	}

	target := identity.FromBytes(payload)
	if !allowed.ContainsString(target.String()) {
		return target, UnknownTarget
	}

	step := len(target)
	for i := 0; i < Repetitions; i++ {
		if !bytes.Equal(payload[i*step:(i+1)*step], target[:]) {
			return target, BadRepetition
		}
	}

	return target, Accepted
}

// Valid reports whether data carries a magic packet for an allowed target.
func Valid(data []byte, allowed identity.Set) bool {
	_, v := Inspect(data, allowed)
	return v == Accepted
}

// Build returns a minimal magic packet for target.
func Build(target identity.HardwareAddr) []byte {
	packet := make([]byte, 0, PacketSize)
	packet = append(packet, marker...)
	for i := 0; i < Repetitions; i++ {
		packet = append(packet, target[:]...)
	}
	return packet
}
