package scan

import "net/netip"

// Ranges that are pointless or impolite to probe: loopback, RFC1918,
// CGNAT, link-local, documentation and benchmark nets, multicast,
// class E and broadcast. The exact list is policy, not contract.
var skippedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("224.0.0.0/4"),
	netip.MustParsePrefix("240.0.0.0/4"),
}

// Probeable reports whether an enumerated address is worth a connection
// attempt, i.e. it could plausibly belong to a publicly reachable peer.
func Probeable(addr netip.Addr) bool {
	if !addr.Is4() || addr.IsUnspecified() {
		return false
	}
	for _, p := range skippedPrefixes {
		if p.Contains(addr) {
			return false
		}
	}
	return true
}

// Sampler passes every n-th candidate it is offered. It bounds the
// outbound connection-attempt rate of the scan without biasing which
// part of the address space gets probed (the enumerator order is already
// seed-randomized).
type Sampler struct {
	every int
	seen  int
}

// NewSampler returns a sampler passing one in every candidates.
// every < 1 passes everything.
func NewSampler(every int) *Sampler {
	if every < 1 {
		every = 1
	}
	return &Sampler{every: every}
}

func (s *Sampler) Take() bool {
	s.seen++
	if s.seen >= s.every {
		s.seen = 0
		return true
	}
	return false
}
