// Package peercache persists a small snapshot of recently seen peers so
// that the next process start can reconnect without scanning. The cache
// is a hint: it must never block or fail bootstrap, so every load-side
// problem degrades to an empty candidate list.
package peercache

import (
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"

	"headcount/oid"

	log "github.com/sirupsen/logrus"
)

// SnapshotVersion is bumped on incompatible format changes. A snapshot
// with any other version is treated as unreadable and discarded.
const SnapshotVersion = 1

// CachedPeer is the simplified peer record stored on disk.
type CachedPeer struct {
	ID       *oid.Oid `json:"id"`
	IP       string   `json:"ip"`
	Port     int      `json:"port"`
	LastSeen int64    `json:"lastSeen"` // ms since epoch
	Key      *string  `json:"key"`      // hex public key, null if unknown
}

// Address renders the cached endpoint in host:port form.
func (p *CachedPeer) Address() string {
	return net.JoinHostPort(p.IP, strconv.Itoa(p.Port))
}

type snapshot struct {
	Version   int          `json:"version"`
	Timestamp int64        `json:"timestamp"`
	Peers     []CachedPeer `json:"peers"`
}

type Cache struct {
	path       string
	enabled    bool
	maxEntries int
	clock      clock.Clock
}

// New creates a peer cache at path. A disabled cache loads nothing and
// saves nothing, so no disk I/O happens at all. clk may be nil for the
// wall clock.
func New(path string, enabled bool, maxEntries int, clk clock.Clock) *Cache {
	if clk == nil {
		clk = clock.New()
	}
	if maxEntries < 1 {
		maxEntries = 50
	}
	return &Cache{
		path:       path,
		enabled:    enabled,
		maxEntries: maxEntries,
		clock:      clk,
	}
}

func (c *Cache) Enabled() bool {
	return c.enabled
}

// Load reads the snapshot and returns candidates younger than maxAge,
// freshest first. A missing, corrupt or version-mismatched file yields
// an empty result, never an error.
func (c *Cache) Load(maxAge time.Duration) []CachedPeer {
	if !c.enabled {
		return nil
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("PeerCache: failed to read %s: %v", c.path, err)
		}
		return nil
	}

	snap := &snapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		log.Warnf("PeerCache: discarding corrupt snapshot %s: %v", c.path, err)
		return nil
	}
	if snap.Version != SnapshotVersion {
		log.Warnf("PeerCache: discarding snapshot %s with version %d (want %d)", c.path, snap.Version, SnapshotVersion)
		return nil
	}

	cutoff := c.clock.Now().Add(-maxAge).UnixMilli()
	peers := make([]CachedPeer, 0, len(snap.Peers))
	for _, p := range snap.Peers {
		if p.LastSeen < cutoff {
			log.Debugf("PeerCache: pruning stale entry %s", p.Address())
			continue
		}
		peers = append(peers, p)
	}

	sort.Slice(peers, func(i, j int) bool {
		return peers[i].LastSeen > peers[j].LastSeen
	})

	log.Infof("PeerCache: loaded %d candidates from %s (%d pruned)", len(peers), c.path, len(snap.Peers)-len(peers))

	return peers
}

// Save writes a snapshot of the given peers, freshest first, capped at
// the configured entry count. The write goes through a temp file and a
// rename so a crash mid-write never leaves an unparseable snapshot.
func (c *Cache) Save(peers []CachedPeer) error {
	if !c.enabled {
		return nil
	}

	sorted := make([]CachedPeer, len(peers))
	copy(sorted, peers)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].LastSeen > sorted[j].LastSeen
	})
	if len(sorted) > c.maxEntries {
		sorted = sorted[:c.maxEntries]
	}

	snap := &snapshot{
		Version:   SnapshotVersion,
		Timestamp: c.clock.Now().UnixMilli(),
		Peers:     sorted,
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(c.path)
	if err := ensureDir(dir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".peercache-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	log.Infof("PeerCache: saved %d peers to %s", len(sorted), c.path)

	return nil
}

// ensureDir checks if a directory exists at the given path, and if not, creates it.
func ensureDir(path string) error {
	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(path, 0755)
		}
		return err
	}
	if !stat.IsDir() {
		return &os.PathError{Op: "ensureDir", Path: path, Err: os.ErrExist}
	}
	return nil
}
