package bootstrap

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"headcount/datastore/peercache"
	"headcount/oid"
)

// fakeProber answers probes from a fixed table and records every
// attempted address.
type fakeProber struct {
	mu    sync.Mutex
	calls []string
	alive map[string]*Peer

	// delay per probe, honoring context cancellation
	delay time.Duration
}

func (f *fakeProber) Probe(ctx context.Context, address string) (*Peer, error) {
	f.mu.Lock()
	f.calls = append(f.calls, address)
	p := f.alive[address]
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if p != nil {
		return p, nil
	}
	return nil, errors.New("connection refused")
}

func (f *fakeProber) attempted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.calls...)
}

func testID(t *testing.T) *oid.Oid {
	t.Helper()
	id, err := oid.Random(oid.OidTypeNode)
	require.NoError(t, err)
	return id
}

func testCache(t *testing.T, enabled bool) *peercache.Cache {
	t.Helper()
	return peercache.New(filepath.Join(t.TempDir(), "peercache.json"), enabled, 50, nil)
}

func cachedPeer(t *testing.T, ip string, age time.Duration) peercache.CachedPeer {
	t.Helper()
	return peercache.CachedPeer{
		ID:       testID(t),
		IP:       ip,
		Port:     7381,
		LastSeen: time.Now().Add(-age).UnixMilli(),
	}
}

func TestDebugPeerShortCircuitsOtherPhases(t *testing.T) {
	cache := testCache(t, true)
	require.NoError(t, cache.Save([]peercache.CachedPeer{
		cachedPeer(t, "9.9.9.9", time.Minute),
	}))

	prober := &fakeProber{alive: map[string]*Peer{
		"debug.example:7381": {ID: testID(t), Address: "debug.example:7381"},
	}}

	b := New(Config{
		DebugPeer:       "debug.example:7381",
		CacheMaxAge:     time.Hour,
		ScanEnabled:     true,
		ScanPort:        7381,
		ScanDeadline:    time.Second,
		ScanSampleEvery: 1,
	}, cache, prober)

	p, err := b.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, "debug.example:7381", p.Address)

	// Neither the cached candidate nor any scanned address was probed
	require.Equal(t, []string{"debug.example:7381"}, prober.attempted())
}

func TestCacheReplayRecencyOrderFirstMatch(t *testing.T) {
	cache := testCache(t, true)

	fresh := cachedPeer(t, "1.1.1.1", time.Minute)
	older := cachedPeer(t, "2.2.2.2", time.Hour)
	require.NoError(t, cache.Save([]peercache.CachedPeer{older, fresh}))

	wantID := testID(t)
	prober := &fakeProber{alive: map[string]*Peer{
		"2.2.2.2:7381": {ID: wantID, Address: "2.2.2.2:7381"},
	}}

	b := New(Config{CacheMaxAge: 24 * time.Hour}, cache, prober)

	p, err := b.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, p)
	require.True(t, p.ID.Equal(wantID))

	// Freshest candidate tried first, then the one that answered
	require.Equal(t, []string{"1.1.1.1:7381", "2.2.2.2:7381"}, prober.attempted())
}

func TestCacheReplaySkipsStaleEntries(t *testing.T) {
	cache := testCache(t, true)
	require.NoError(t, cache.Save([]peercache.CachedPeer{
		cachedPeer(t, "3.3.3.3", 48*time.Hour),
	}))

	prober := &fakeProber{}
	b := New(Config{CacheMaxAge: 24 * time.Hour}, cache, prober)

	p, err := b.Run(context.Background())
	require.NoError(t, err)
	require.Nil(t, p)
	require.Empty(t, prober.attempted())
}

func TestScanDeadlineBoundsThePhase(t *testing.T) {
	const deadline = 100 * time.Millisecond

	prober := &fakeProber{delay: 2 * time.Millisecond}
	b := New(Config{
		ScanEnabled:     true,
		ScanPort:        7381,
		ScanDeadline:    deadline,
		ScanSampleEvery: 1,
		ScanParallelism: 8,
	}, testCache(t, false), prober)

	start := time.Now()
	p, err := b.Run(context.Background())
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Nil(t, p, "nothing is alive, scan must come up empty")
	require.GreaterOrEqual(t, elapsed, deadline, "scan gave up before its deadline")
	require.Less(t, elapsed, 10*deadline, "scan overran its deadline")
	require.NotEmpty(t, prober.attempted(), "scan never probed anything")
}

func TestScanStopsOnFirstSuccess(t *testing.T) {
	// succeedingProber answers every address, so the very first probes win.
	id := testID(t)
	prober := &succeedingProber{peer: &Peer{ID: id}}

	b := New(Config{
		ScanEnabled:     true,
		ScanPort:        7381,
		ScanDeadline:    10 * time.Second,
		ScanSampleEvery: 1,
		ScanParallelism: 4,
	}, testCache(t, false), prober)

	start := time.Now()
	p, err := b.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, p)
	require.True(t, p.ID.Equal(id))
	require.Less(t, time.Since(start), 5*time.Second, "success did not cancel the scan")
}

type succeedingProber struct {
	mu    sync.Mutex
	peer  *Peer
	calls int
}

func (s *succeedingProber) Probe(ctx context.Context, address string) (*Peer, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	p := *s.peer
	p.Address = address
	return &p, nil
}

func TestFallbackSignalWhenAllPhasesFail(t *testing.T) {
	prober := &fakeProber{}
	b := New(Config{CacheMaxAge: time.Hour}, testCache(t, false), prober)

	p, err := b.Run(context.Background())
	require.NoError(t, err)
	require.Nil(t, p, "no peer and no error is the rendezvous-fallback signal")
	require.Empty(t, prober.attempted())
}

func TestSuccessfulBootstrapPersistsToCache(t *testing.T) {
	cache := testCache(t, true)

	id := testID(t)
	prober := &fakeProber{alive: map[string]*Peer{
		"4.4.4.4:7381": {ID: id, Address: "4.4.4.4:7381", PublicKey: []byte{9}},
	}}

	b := New(Config{
		DebugPeer:   "4.4.4.4:7381",
		CacheMaxAge: time.Hour,
	}, cache, prober)

	p, err := b.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, p)

	got := cache.Load(time.Hour)
	require.Len(t, got, 1)
	require.True(t, got[0].ID.Equal(id))
	require.Equal(t, "4.4.4.4", got[0].IP)
	require.NotNil(t, got[0].Key)
}

func TestRunHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := New(Config{CacheMaxAge: time.Hour}, testCache(t, false), &fakeProber{})

	_, err := b.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
