package directory

import (
	"headcount/oid"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func newTestID(t *testing.T) *oid.Oid {
	t.Helper()
	id, err := oid.Random(oid.OidTypeNode)
	require.NoError(t, err)
	return id
}

func TestUpsertInsertsOncePerID(t *testing.T) {
	clk := clock.NewMock()
	d := New(16, clk)

	id := newTestID(t)

	require.True(t, d.Upsert(id, 1, "10.0.0.1:7381", []byte{1, 2, 3}))
	require.Equal(t, 1, d.Count())

	// Same ID again: overwrite, not duplicate
	require.False(t, d.Upsert(id, 2, "10.0.0.2:7381", nil))
	require.Equal(t, 1, d.Count())

	p, ok := d.Get(id)
	require.True(t, ok)
	require.Equal(t, uint64(2), p.SequenceNumber)
	require.Equal(t, "10.0.0.2:7381", p.Address)
	// nil key must not clear the previously learned one
	require.Equal(t, []byte{1, 2, 3}, p.PublicKey)
}

func TestAdmitEnforcesCapacityForNewIDsOnly(t *testing.T) {
	clk := clock.NewMock()
	d := New(2, clk)

	a := newTestID(t)
	b := newTestID(t)
	c := newTestID(t)

	require.True(t, d.Admit(a))
	d.Upsert(a, 1, "", nil)
	require.True(t, d.Admit(b))
	d.Upsert(b, 1, "", nil)

	// Directory is full: unknown IDs are denied...
	require.False(t, d.Admit(c))

	// ...but already-known IDs always pass, and their upserts succeed
	require.True(t, d.Admit(a))
	require.False(t, d.Upsert(a, 5, "", nil))
	require.Equal(t, 2, d.Count())
}

func TestEvictStaleRemovesExactlyTheExpired(t *testing.T) {
	clk := clock.NewMock()
	d := New(16, clk)

	a := newTestID(t) // will be 61s old
	b := newTestID(t) // will be 20s old
	c := newTestID(t) // will be 5s old

	d.Upsert(a, 1, "", nil)
	clk.Add(41 * time.Second)
	d.Upsert(b, 1, "", nil)
	clk.Add(15 * time.Second)
	d.Upsert(c, 1, "", nil)
	clk.Add(5 * time.Second)

	removed := d.EvictStale(60 * time.Second)
	require.Equal(t, 1, removed)
	require.Equal(t, 2, d.Count())

	_, ok := d.Get(a)
	require.False(t, ok, "the 61s-old peer should be gone")
	_, ok = d.Get(b)
	require.True(t, ok)
	_, ok = d.Get(c)
	require.True(t, ok)
}

func TestUpsertRefreshesLastSeen(t *testing.T) {
	clk := clock.NewMock()
	d := New(16, clk)

	id := newTestID(t)
	d.Upsert(id, 1, "", nil)

	clk.Add(59 * time.Second)
	d.Upsert(id, 2, "", nil)
	clk.Add(59 * time.Second)

	// Without the refresh the peer would be 118s old by now
	require.Equal(t, 0, d.EvictStale(60*time.Second))
	require.Equal(t, 1, d.Count())
}

func TestSnapshotMostRecentFirst(t *testing.T) {
	clk := clock.NewMock()
	d := New(16, clk)

	a := newTestID(t)
	b := newTestID(t)

	d.Upsert(a, 1, "", nil)
	clk.Add(time.Second)
	d.Upsert(b, 1, "", nil)

	snap := d.Snapshot()
	require.Len(t, snap, 2)
	require.True(t, snap[0].ID.Equal(b))
	require.True(t, snap[1].ID.Equal(a))
}

func TestNextSequenceMonotonic(t *testing.T) {
	d := New(16, clock.NewMock())

	prev := uint64(0)
	for i := 0; i < 100; i++ {
		seq := d.NextSequence()
		require.Greater(t, seq, prev)
		prev = seq
	}
}
