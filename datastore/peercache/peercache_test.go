package peercache

import (
	"headcount/oid"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testPeer(t *testing.T, ip string, lastSeen time.Time) CachedPeer {
	t.Helper()
	id, err := oid.Random(oid.OidTypeNode)
	require.NoError(t, err)
	return CachedPeer{
		ID:       id,
		IP:       ip,
		Port:     7381,
		LastSeen: lastSeen.UnixMilli(),
	}
}

func TestRoundTripRecencyOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peercache.json")
	c := New(path, true, 50, nil)

	now := time.Now()
	p1 := testPeer(t, "1.2.3.4", now)
	p2 := testPeer(t, "5.6.7.8", now.Add(-time.Minute))

	// Saved out of order; load must return freshest first
	require.NoError(t, c.Save([]CachedPeer{p2, p1}))

	got := c.Load(time.Hour)
	require.Len(t, got, 2)
	require.Equal(t, p1.IP, got[0].IP)
	require.Equal(t, p2.IP, got[1].IP)
	require.True(t, got[0].ID.Equal(p1.ID))
}

func TestLoadPrunesStaleEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peercache.json")
	c := New(path, true, 50, nil)

	fresh := testPeer(t, "1.2.3.4", time.Now())
	stale := testPeer(t, "5.6.7.8", time.Now().Add(-48*time.Hour))

	require.NoError(t, c.Save([]CachedPeer{fresh, stale}))

	got := c.Load(24 * time.Hour)
	require.Len(t, got, 1)
	require.Equal(t, fresh.IP, got[0].IP)
}

func TestLoadMissingFile(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "nope.json"), true, 50, nil)
	require.Empty(t, c.Load(time.Hour))
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peercache.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	c := New(path, true, 50, nil)
	require.Empty(t, c.Load(time.Hour))
}

func TestLoadVersionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peercache.json")
	data := `{"version": 99, "timestamp": 0, "peers": [{"id": null, "ip": "1.2.3.4", "port": 1, "lastSeen": 99999999999999}]}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	c := New(path, true, 50, nil)
	require.Empty(t, c.Load(time.Hour))
}

func TestSaveCapsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peercache.json")
	c := New(path, true, 3, nil)

	now := time.Now()
	peers := []CachedPeer{}
	for i := 0; i < 10; i++ {
		peers = append(peers, testPeer(t, "9.9.9.9", now.Add(-time.Duration(i)*time.Minute)))
	}

	require.NoError(t, c.Save(peers))

	got := c.Load(time.Hour)
	require.Len(t, got, 3)
	// The freshest three survived
	require.Equal(t, peers[0].LastSeen, got[0].LastSeen)
	require.Equal(t, peers[2].LastSeen, got[2].LastSeen)
}

func TestDisabledCacheDoesNoIO(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peercache.json")
	c := New(path, false, 50, nil)

	require.NoError(t, c.Save([]CachedPeer{testPeer(t, "1.2.3.4", time.Now())}))
	require.Empty(t, c.Load(time.Hour))

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err), "disabled cache must not touch the disk")
}

func TestSaveReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peercache.json")
	c := New(path, true, 50, nil)

	require.NoError(t, c.Save([]CachedPeer{testPeer(t, "1.1.1.1", time.Now())}))
	require.NoError(t, c.Save([]CachedPeer{testPeer(t, "2.2.2.2", time.Now())}))

	got := c.Load(time.Hour)
	require.Len(t, got, 1)
	require.Equal(t, "2.2.2.2", got[0].IP)

	// No leftover temp files
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
