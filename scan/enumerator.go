// Package scan generates and filters candidate IPv4 addresses for the
// bootstrap scan phase. The enumerator visits the entire 32-bit address
// space exactly once, in an order that depends on a per-process seed, so
// that concurrently started nodes spread their probes over different
// parts of the space.
package scan

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"net/netip"
)

// ErrExhausted is returned by Next once all 2^32 addresses were issued.
// The enumerator does not wrap around.
var ErrExhausted = errors.New("scan: address space exhausted")

const feistelRounds = 4

// Enumerator is a lazy permutation of [0, 2^32). It encrypts an
// incrementing counter with a small balanced Feistel network keyed by the
// seed. A Feistel network is invertible for any round function, so
// distinct counter values can never produce the same address - full
// coverage without duplicates, with no state beyond the counter itself.
//
// Enumerator is not safe for concurrent use.
type Enumerator struct {
	keys    [feistelRounds]uint32
	counter uint64
}

func NewEnumerator(seed uint32) *Enumerator {
	e := &Enumerator{}

	// Derive per-round keys from the seed with an xorshift walk so that
	// numerically close seeds still produce unrelated key schedules.
	s := uint64(seed)*0x9E3779B97F4A7C15 + 1
	for i := range e.keys {
		s ^= s << 13
		s ^= s >> 7
		s ^= s << 17
		e.keys[i] = uint32(s >> 16)
	}

	return e
}

// NewSeed produces a fresh scan seed. Seeds are never persisted, each
// process start gets its own traversal order.
func NewSeed() uint32 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing is effectively unrecoverable, but the seed
		// only randomizes probe order, so a constant is an acceptable out.
		return 0x5EED5EED
	}
	return binary.BigEndian.Uint32(buf[:])
}

// Next returns the next candidate address, or ErrExhausted after 2^32 calls.
func (e *Enumerator) Next() (netip.Addr, error) {
	if e.counter > 0xFFFFFFFF {
		return netip.Addr{}, ErrExhausted
	}

	v := e.permute(uint32(e.counter))
	e.counter++

	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b), nil
}

// Remaining reports how many addresses the enumerator can still issue.
func (e *Enumerator) Remaining() uint64 {
	return 1<<32 - e.counter
}

func (e *Enumerator) permute(v uint32) uint32 {
	l := uint16(v >> 16)
	r := uint16(v)

	for i := 0; i < feistelRounds; i++ {
		l, r = r, l^feistelRound(r, e.keys[i])
	}

	return uint32(l)<<16 | uint32(r)
}

// feistelRound mixes one 16-bit half with a round key. The mixing needs
// no invertibility of its own, the Feistel structure provides it.
func feistelRound(r uint16, key uint32) uint16 {
	x := uint32(r)*0x9E3779B1 + key
	x ^= x >> 15
	x *= 0x85EBCA6B
	x ^= x >> 13
	return uint16(x ^ x>>16)
}
