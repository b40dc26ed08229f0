// Package directory tracks the peers currently considered alive. It is
// the only owner of live peer state: the RPC handlers, the announcement
// handler, the bootstrap result and the eviction sweep all go through it.
package directory

import (
	"context"
	"headcount/helper/timer"
	"headcount/oid"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	log "github.com/sirupsen/logrus"
)

// Peer is one tracked peer. Address is empty for peers known only
// through the rendezvous layer, PublicKey is nil until we learned it.
type Peer struct {
	ID             oid.Oid
	SequenceNumber uint64
	LastSeen       time.Time
	Address        string
	PublicKey      []byte
}

type Directory struct {
	mu       sync.Mutex
	clock    clock.Clock
	capacity int
	peers    map[string]*Peer

	// Sequence number for this node's own outgoing announcements
	seq uint64
}

// New creates a directory holding at most capacity peers. clk may be nil,
// in which case the wall clock is used.
func New(capacity int, clk clock.Clock) *Directory {
	if clk == nil {
		clk = clock.New()
	}
	return &Directory{
		clock:    clk,
		capacity: capacity,
		peers:    make(map[string]*Peer),
	}
}

// Admit reports whether an upsert for id would be accepted: always true
// for already-known peers, true for unknown peers only while there is
// capacity left. Callers gate Upsert on it for peers they do not know yet.
func (d *Directory) Admit(id *oid.Oid) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.peers[id.String()]; ok {
		return true
	}
	return len(d.peers) < d.capacity
}

// Upsert inserts or refreshes a peer and reports whether it was newly
// inserted. LastSeen is always reset to now. Fields are overwritten
// unconditionally, except that an empty address or nil key never clears
// a previously learned one.
func (d *Directory) Upsert(id *oid.Oid, seq uint64, address string, publicKey []byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()

	p, ok := d.peers[id.String()]
	if !ok {
		d.peers[id.String()] = &Peer{
			ID:             *id,
			SequenceNumber: seq,
			LastSeen:       now,
			Address:        address,
			PublicKey:      publicKey,
		}
		return true
	}

	if seq < p.SequenceNumber {
		log.Debugf("Directory: sequence regressed for %s: %d -> %d", id.String(), p.SequenceNumber, seq)
	}

	p.SequenceNumber = seq
	p.LastSeen = now
	if address != "" {
		p.Address = address
	}
	if publicKey != nil {
		p.PublicKey = publicKey
	}
	return false
}

// EvictStale removes every peer not seen for longer than timeout and
// returns how many were removed.
func (d *Directory) EvictStale(timeout time.Duration) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := d.clock.Now().Add(-timeout)
	evicted := 0
	for key, p := range d.peers {
		if p.LastSeen.Before(cutoff) {
			log.Debugf("Directory: evicting %s, last seen %s", p.ID.String(), p.LastSeen)
			delete(d.peers, key)
			evicted++
		}
	}
	return evicted
}

// Count returns the number of currently tracked peers. This is the
// number surfaced to the presentation layer.
func (d *Directory) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.peers)
}

// Get returns a copy of the peer record for id.
func (d *Directory) Get(id *oid.Oid) (Peer, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.peers[id.String()]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// Snapshot returns copies of all tracked peers, most recently seen first.
func (d *Directory) Snapshot() []Peer {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Peer, 0, len(d.peers))
	for _, p := range d.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out
}

// NextSequence increments and returns this node's own announcement
// sequence number.
func (d *Directory) NextSequence() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	return d.seq
}

// RunEviction sweeps stale peers on a jittered interval until the
// context is cancelled. Run via the node's errgroup.
func (d *Directory) RunEviction(ctx context.Context, interval time.Duration, timeout time.Duration) error {
	iv := &timer.Interval{
		Duration: interval,
		Jitter:   interval / 10,
	}
	return timer.RunWithTicker(ctx, iv, func(ctx context.Context) error {
		if n := d.EvictStale(timeout); n > 0 {
			log.Infof("Directory: evicted %d stale peers, %d remaining", n, d.Count())
		}
		return nil
	})
}
