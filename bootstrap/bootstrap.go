// Package bootstrap locates the first reachable peer at startup. Phases
// run in strict order - configured debug peer, cached peers, randomized
// IPv4 scan - and the first successful probe wins. When every phase
// comes up empty the caller is expected to fall back to rendezvous
// discovery; that outcome is a nil result, not an error.
package bootstrap

import (
	"context"
	"encoding/hex"
	"errors"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"headcount/datastore/peercache"
	"headcount/oid"
	"headcount/scan"

	log "github.com/sirupsen/logrus"
)

// Peer is the result of a successful probe.
type Peer struct {
	ID             *oid.Oid
	Address        string
	PublicKey      []byte
	SequenceNumber uint64
	PeerCount      uint32
}

// Prober attempts a presence handshake with the given address, bounded
// by the context. Implemented by the swarm node on top of crpc.
type Prober interface {
	Probe(ctx context.Context, address string) (*Peer, error)
}

type Config struct {
	// Optional fixed peer tried first with a generous timeout
	DebugPeer    string
	DebugTimeout time.Duration

	// Per-candidate timeout for cache replay and scan probes
	AttemptTimeout time.Duration

	// Cached entries older than this are discarded on load
	CacheMaxAge time.Duration

	ScanEnabled     bool
	ScanPort        int
	ScanDeadline    time.Duration
	ScanSampleEvery int
	ScanParallelism int
}

type Bootstrap struct {
	cfg    Config
	cache  *peercache.Cache
	prober Prober

	// Per-process scan seed; never persisted, so concurrently started
	// nodes walk the address space in different orders
	seed uint32
}

func New(cfg Config, cache *peercache.Cache, prober Prober) *Bootstrap {
	if cfg.DebugTimeout == 0 {
		cfg.DebugTimeout = 10 * time.Second
	}
	if cfg.AttemptTimeout == 0 {
		cfg.AttemptTimeout = 2 * time.Second
	}
	if cfg.ScanParallelism < 1 {
		cfg.ScanParallelism = 64
	}
	return &Bootstrap{
		cfg:    cfg,
		cache:  cache,
		prober: prober,
		seed:   scan.NewSeed(),
	}
}

// Run executes the bootstrap phases and returns the first reachable
// peer. A nil peer with a nil error means no phase succeeded and the
// caller should register with the rendezvous layer. The only error
// returned is the context's.
func (b *Bootstrap) Run(ctx context.Context) (*Peer, error) {
	// Phase 1: debug override
	if b.cfg.DebugPeer != "" {
		log.Infof("Bootstrap: trying debug peer %s", b.cfg.DebugPeer)
		actx, cancel := context.WithTimeout(ctx, b.cfg.DebugTimeout)
		p, err := b.prober.Probe(actx, b.cfg.DebugPeer)
		cancel()
		if err == nil {
			b.persist(p, nil)
			return p, nil
		}
		log.Warnf("Bootstrap: debug peer %s unreachable: %v", b.cfg.DebugPeer, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Phase 2: cache replay, freshest candidates first
	candidates := b.cache.Load(b.cfg.CacheMaxAge)
	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		actx, cancel := context.WithTimeout(ctx, b.cfg.AttemptTimeout)
		p, err := b.prober.Probe(actx, cand.Address())
		cancel()
		if err != nil {
			log.Debugf("Bootstrap: cached peer %s unreachable: %v", cand.Address(), err)
			continue
		}
		log.Infof("Bootstrap: reconnected to cached peer %s", cand.Address())
		b.persist(p, candidates)
		return p, nil
	}

	// Phase 3: address-space scan
	if b.cfg.ScanEnabled {
		if p := b.scanIPv4Space(ctx); p != nil {
			b.persist(p, candidates)
			return p, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	// Phase 4: nothing reachable, signal the rendezvous fallback
	log.Info("Bootstrap: no peer found, proceeding with rendezvous discovery")
	return nil, nil
}

// scanIPv4Space probes seed-randomized candidate addresses with a
// bounded worker pool until one responds or the deadline expires.
// Reaching the deadline is the expected outcome on the public internet.
func (b *Bootstrap) scanIPv4Space(ctx context.Context) *Peer {
	log.Infof("Bootstrap: scanning IPv4 space with seed %08x, deadline %v", b.seed, b.cfg.ScanDeadline)

	sctx, cancel := context.WithTimeout(ctx, b.cfg.ScanDeadline)
	defer cancel()

	enum := scan.NewEnumerator(b.seed)
	sampler := scan.NewSampler(b.cfg.ScanSampleEvery)

	// The enumerator and sampler are not concurrency-safe; all workers
	// pull candidates through this guarded closure.
	var mu sync.Mutex
	next := func() (string, bool) {
		mu.Lock()
		defer mu.Unlock()
		for {
			addr, err := enum.Next()
			if err != nil {
				return "", false
			}
			if !scan.Probeable(addr) {
				continue
			}
			if !sampler.Take() {
				continue
			}
			return net.JoinHostPort(addr.String(), strconv.Itoa(b.cfg.ScanPort)), true
		}
	}

	var found *Peer
	var once sync.Once

	wg, wctx := errgroup.WithContext(sctx)
	for i := 0; i < b.cfg.ScanParallelism; i++ {
		wg.Go(func() error {
			for {
				select {
				case <-wctx.Done():
					return nil
				default:
				}

				addr, ok := next()
				if !ok {
					return nil
				}

				actx, acancel := context.WithTimeout(wctx, b.cfg.AttemptTimeout)
				p, err := b.prober.Probe(actx, addr)
				acancel()
				if err != nil {
					// Refused, unreachable, timed out: try the next one
					continue
				}

				log.Infof("Bootstrap: scan found peer %s at %s", p.ID.String(), addr)
				once.Do(func() { found = p })
				// Cancels the group context and stops the other workers
				return errScanDone
			}
		})
	}

	// errScanDone is the success signal, not a failure
	if err := wg.Wait(); err != nil && err != errScanDone {
		log.Warnf("Bootstrap: scan worker error: %v", err)
	}

	if found == nil {
		log.Infof("Bootstrap: scan deadline reached without finding a peer")
	}
	return found
}

var errScanDone = errors.New("scan: peer found")

// persist hands the freshly reached peer to the cache, together with the
// still-fresh prior candidates. Reachability now is enough to cache; the
// cache is a hint, not a guarantee.
func (b *Bootstrap) persist(p *Peer, prior []peercache.CachedPeer) {
	entry, ok := cacheEntry(p)
	if !ok {
		return
	}

	peers := []peercache.CachedPeer{entry}
	for _, c := range prior {
		if c.ID.Equal(p.ID) || c.Address() == p.Address {
			continue
		}
		peers = append(peers, c)
	}

	if err := b.cache.Save(peers); err != nil {
		log.Warnf("Bootstrap: failed to persist peer cache: %v", err)
	}
}

func cacheEntry(p *Peer) (peercache.CachedPeer, bool) {
	host, portStr, err := net.SplitHostPort(p.Address)
	if err != nil {
		log.Warnf("Bootstrap: not caching unparseable address %q: %v", p.Address, err)
		return peercache.CachedPeer{}, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return peercache.CachedPeer{}, false
	}
	if _, err := netip.ParseAddr(host); err != nil {
		// Hostnames (e.g. a debug peer given by name) are cached as-is
		log.Debugf("Bootstrap: caching non-literal host %q", host)
	}

	entry := peercache.CachedPeer{
		ID:       p.ID,
		IP:       host,
		Port:     port,
		LastSeen: time.Now().UnixMilli(),
	}
	if len(p.PublicKey) > 0 {
		key := hex.EncodeToString(p.PublicKey)
		entry.Key = &key
	}
	return entry, true
}
