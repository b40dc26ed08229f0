package scan

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProbeable(t *testing.T) {
	cases := []struct {
		addr string
		want bool
	}{
		{"8.8.8.8", true},
		{"1.1.1.1", true},
		{"203.0.112.7", true},
		{"0.1.2.3", false},        // "this" network
		{"10.20.30.40", false},    // RFC1918
		{"100.64.0.1", false},     // CGNAT
		{"127.0.0.1", false},      // loopback
		{"169.254.12.1", false},   // link-local
		{"172.16.0.9", false},     // RFC1918
		{"172.32.0.9", true},      // just outside 172.16.0.0/12
		{"192.0.2.55", false},     // TEST-NET-1
		{"192.168.1.1", false},    // RFC1918
		{"198.18.4.4", false},     // benchmark
		{"198.51.100.1", false},   // TEST-NET-2
		{"203.0.113.200", false},  // TEST-NET-3
		{"224.0.0.1", false},      // multicast
		{"240.1.2.3", false},      // class E
		{"255.255.255.255", false},
	}

	for _, c := range cases {
		got := Probeable(netip.MustParseAddr(c.addr))
		assert.Equal(t, c.want, got, "Probeable(%s)", c.addr)
	}
}

func TestSampler(t *testing.T) {
	s := NewSampler(4)

	taken := 0
	for i := 0; i < 100; i++ {
		if s.Take() {
			taken++
		}
	}
	assert.Equal(t, 25, taken)

	// every < 1 passes everything
	all := NewSampler(0)
	for i := 0; i < 10; i++ {
		assert.True(t, all.Take())
	}
}
