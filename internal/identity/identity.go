// Package identity resolves the hardware addresses this machine answers to.
package identity

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
)

// ErrInvalidHardwareAddr is returned when a string is not a 6-octet MAC address.
var ErrInvalidHardwareAddr = errors.New("invalid hardware address")

// HardwareAddr is a 6-octet link-layer address.
type HardwareAddr [6]byte

// ParseHardwareAddr accepts colon or dash separated 6-octet addresses in any case.
func ParseHardwareAddr(s string) (HardwareAddr, error) {
	var h HardwareAddr
	mac, err := net.ParseMAC(strings.TrimSpace(s))
	if err != nil {
		return h, fmt.Errorf("%w: %q", ErrInvalidHardwareAddr, s)
	}
	if len(mac) != len(h) {
		return h, fmt.Errorf("%w: %q has %d octets", ErrInvalidHardwareAddr, s, len(mac))
	}
	copy(h[:], mac)
	return h, nil
}

// FromBytes copies the first six bytes of b. b must hold at least six bytes.
func FromBytes(b []byte) HardwareAddr {
	var h HardwareAddr
	copy(h[:], b[:len(h)])
	return h
}

// String returns the canonical AA:BB:CC:DD:EE:FF form.
func (h HardwareAddr) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", h[0], h[1], h[2], h[3], h[4], h[5])
}

// IsZero reports whether every octet is zero.
func (h HardwareAddr) IsZero() bool {
	return h == HardwareAddr{}
}

// Set is an immutable collection of hardware addresses.
type Set struct {
	addrs map[string]HardwareAddr
}

// NewSet builds a Set, silently dropping the all-zero address.
func NewSet(addrs ...HardwareAddr) Set {
	s := Set{addrs: make(map[string]HardwareAddr, len(addrs))}
	for _, a := range addrs {
		if a.IsZero() {
			continue
		}
		s.addrs[a.String()] = a
	}
	return s
}

// Contains reports whether the canonical form of a is in the set.
func (s Set) Contains(a HardwareAddr) bool {
	return s.ContainsString(a.String())
}

// ContainsString looks up an already canonical address string.
func (s Set) ContainsString(canonical string) bool {
	_, ok := s.addrs[canonical]
	return ok
}

// Len returns the number of addresses.
func (s Set) Len() int {
	return len(s.addrs)
}

// Strings returns the canonical forms, sorted.
func (s Set) Strings() []string {
	out := make([]string, 0, len(s.addrs))
	for k := range s.addrs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s Set) String() string {
	return "[" + strings.Join(s.Strings(), " ") + "]"
}

// Resolver produces the allowed address set. It is called once at startup.
type Resolver interface {
	Resolve() (Set, error)
}

// Static is a Resolver returning a fixed set of addresses.
type Static []HardwareAddr

// Resolve implements Resolver.
func (s Static) Resolve() (Set, error) {
	return NewSet(s...), nil
}
