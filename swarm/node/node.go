package node

import (
	"context"
	"errors"
	"headcount/bootstrap"
	"headcount/config"
	"headcount/datamodel/peer"
	"headcount/datastore/peercache"
	"headcount/directory"
	"headcount/helper/timer"
	"headcount/net/crpc"
	"headcount/net/mpubsub"
	"headcount/oid"
	"headcount/rendezvous"
	"headcount/swarm/protocol"
	"net"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	log "github.com/sirupsen/logrus"
)

const (
	announceInterval = 5 * time.Second
	reportInterval   = 30 * time.Second
)

type Node struct {
	// Node identity
	NodeID    *oid.Oid
	Addresses []string

	// Peer state
	Directory *directory.Directory
	Cache     *peercache.Cache
	Sightings peer.SightingIndex // may be nil

	// Networking
	RpcServer  *crpc.Server
	PubSub     *mpubsub.PubSub       // nil when multicast is disabled
	Rendezvous rendezvous.PeerSource // nil when no fallback is configured

	// RPC implementation
	RpcHandlers *Server

	cfg       *config.Config
	publicKey []byte

	// Deduplicates concurrent dial-backs triggered by announcements
	sg singleflight.Group
}

func New(cfg *config.Config, dir *directory.Directory, cache *peercache.Cache, sightings peer.SightingIndex,
	rpcServer *crpc.Server, pubsub *mpubsub.PubSub, rv rendezvous.PeerSource) (*Node, error) {

	if err := cfg.CheckIdentity(); err != nil {
		return nil, err
	}

	node := &Node{
		NodeID:     cfg.Node.NodeID,
		Directory:  dir,
		Cache:      cache,
		Sightings:  sightings,
		Rendezvous: rv,
		cfg:        cfg,
		publicKey:  cfg.Node.PublicKey,
	}

	if cfg.Network.RPCAdvertizedAddress != "" {
		node.Addresses = append(node.Addresses, cfg.Network.RPCAdvertizedAddress)
	} else {
		// Figure out the IP addresses and ports on which the RPC server is listening:
		addrs := rpcServer.Addr()

		// Populate node.Addresses with non-loopback addresses from the addrs slice.
		for _, addr := range addrs {
			if tcpAddr, ok := addr.(*net.TCPAddr); ok {
				if !tcpAddr.IP.IsLoopback() {
					node.Addresses = append(node.Addresses, tcpAddr.String())
				}
			}
		}
	}

	if len(node.Addresses) == 0 {
		return nil, errors.New("no non-loopback addresses found")
	}

	// Set up the RPC server
	node.RpcHandlers = &Server{node: node}
	node.RpcServer = rpcServer
	node.RpcServer.Register(node.RpcHandlers)

	// Set up the multicast announcement channel
	if pubsub != nil {
		node.PubSub = pubsub
		node.PubSub.Handle(protocol.MethodAnnouncement, node.handleAnnouncement)
	}

	log.Infof("I am %s, listening on %s", node.NodeID.String(), node.Addresses)

	return node, nil
}

// This is run via the RunWithTicker() helper
func (n *Node) publishAnnouncement(ctx context.Context) error {
	msg := &protocol.Announcement{
		NodeID:         *n.NodeID,
		Addresses:      n.Addresses,
		SequenceNumber: n.Directory.NextSequence(),
		PublicKey:      n.publicKey,
	}

	if err := n.PubSub.Publish(protocol.MethodAnnouncement, msg); err != nil {
		log.Errorf("Failed to publish announcement: %v", err)
	}

	return nil
}

// This is run via the RunWithTicker() helper
func (n *Node) reportCount(ctx context.Context) error {
	log.Infof("Presence: %d peers online", n.Directory.Count())
	return nil
}

// acquirePeers runs the bootstrap phases and, if they all come up empty,
// keeps probing addresses supplied by the rendezvous layer.
func (n *Node) acquirePeers(ctx context.Context) error {
	b := bootstrap.New(bootstrap.Config{
		DebugPeer:       n.cfg.Network.DebugPeerAddress,
		CacheMaxAge:     n.cfg.CacheMaxAge(),
		ScanEnabled:     n.cfg.Scan.Enabled,
		ScanPort:        n.cfg.Scan.Port,
		ScanDeadline:    n.cfg.ScanTimeout(),
		ScanSampleEvery: n.cfg.Scan.SampleEvery,
		ScanParallelism: n.cfg.Scan.Parallelism,
	}, n.Cache, n)

	p, err := b.Run(ctx)
	if err != nil {
		return err
	}
	if p != nil {
		log.Infof("Bootstrap complete: first peer %s at %s reports %d peers online", p.ID.String(), p.Address, p.PeerCount)
		return nil
	}

	if n.Rendezvous == nil {
		log.Info("No rendezvous source configured, relying on incoming announcements")
		return nil
	}

	topic, err := oid.FromTopic(n.cfg.Rendezvous.Topic)
	if err != nil {
		return err
	}

	addrs, err := n.Rendezvous.Join(ctx, topic)
	if err != nil {
		log.Warnf("Failed to join rendezvous topic: %v", err)
		return nil
	}
	defer n.Rendezvous.Leave()

	for addr := range addrs {
		actx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := n.Probe(actx, addr)
		cancel()
		if err != nil {
			log.Debugf("Rendezvous peer %s unreachable: %v", addr, err)
		}
	}

	return nil
}

// recordSighting persists the observation to the sighting index,
// best effort: a failing index never disturbs live peer tracking.
func (n *Node) recordSighting(id *oid.Oid, addresses []string, publicKey []byte) {
	if n.Sightings == nil {
		return
	}

	now := time.Now()

	s, err := n.Sightings.Get(id)
	if err != nil {
		// Never seen before
		s = &peer.Sighting{
			NodeID:    *id,
			FirstSeen: now,
		}
	}

	if len(addresses) > 0 {
		s.Addresses = addresses
	}
	if publicKey != nil {
		s.PublicKey = publicKey
	}
	s.LastSeen = now
	s.Count++

	if _, err := n.Sightings.Put(s); err != nil {
		log.Warnf("Failed to record sighting of %s: %v", id.String(), err)
	}
}

func (n *Node) Run(ctx context.Context) error {
	wg, cctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		return n.RpcServer.Serve(cctx)
	})

	if n.PubSub != nil {
		wg.Go(func() error {
			return n.PubSub.Listen(cctx)
		})

		wg.Go(func() error {
			interval := &timer.Interval{
				Duration:  announceInterval,
				Jitter:    announceInterval / 10,
				Immediate: true,
			}
			return timer.RunWithTicker(cctx, interval, n.publishAnnouncement)
		})
	}

	wg.Go(func() error {
		return n.Directory.RunEviction(cctx, n.cfg.EvictInterval(), n.cfg.PeerTimeout())
	})

	wg.Go(func() error {
		interval := &timer.Interval{
			Duration: reportInterval,
			Jitter:   0,
		}
		return timer.RunWithTicker(cctx, interval, n.reportCount)
	})

	wg.Go(func() error {
		return n.acquirePeers(cctx)
	})

	return wg.Wait()
}
