package commands

import (
	"context"
	"errors"
	"headcount/config"
	"headcount/datamodel/peer"
	"headcount/datastore/leveldb"
	"headcount/datastore/peercache"
	"headcount/directory"
	"headcount/net/crpc"
	"headcount/net/mpubsub"
	"headcount/rendezvous"
	"headcount/swarm/node"
	"net"

	log "github.com/sirupsen/logrus"
)

func RunServe(ctx context.Context, cfg *config.Config) {
	dir := directory.New(cfg.Directory.Capacity, nil)
	cache := peercache.New(cfg.Cache.Path, cfg.Cache.Enabled, cfg.Cache.MaxEntries, nil)

	// The sighting index is best effort; a failing LevelDB open must not
	// keep the node from serving
	var sightings peer.SightingIndex
	if cfg.DataStore.SightingsPath != "" {
		sidx, err := leveldb.NewSightingIndex(cfg.DataStore.SightingsPath)
		if err != nil {
			log.Warnf("Failed to open sighting index: %v, continuing without", err)
		} else {
			sightings = sidx
			defer sidx.Close()
		}
	}

	// Create the RPC server and listener
	rpcl, err := net.Listen("tcp4", cfg.Network.RPCListenAddress)
	if err != nil {
		log.Fatalf("Failed to create RPC listener: %v", err)
	}

	rsrv := crpc.NewServer(rpcl)

	log.Infof("RPC server listening on %s", rsrv.Addr())

	// Create the multicast announcement channel
	var pubsub *mpubsub.PubSub
	if cfg.Network.UseMulticast {
		psaddr, err := net.ResolveUDPAddr("udp4", cfg.Network.MulticastAddress)
		if err != nil {
			log.Fatalf("Failed to resolve multicast address: %v", err)
		}

		rs, err := net.ListenMulticastUDP("udp4", nil, psaddr)
		if err != nil {
			log.Fatalf("Failed to create multicast listener: %v", err)
		}

		ws, err := net.DialUDP("udp4", nil, psaddr)
		if err != nil {
			log.Fatalf("Failed to create multicast writer: %v", err)
		}

		pubsub = mpubsub.New(rs, ws)
	}

	var rv rendezvous.PeerSource
	if len(cfg.Rendezvous.Seeds) > 0 {
		rv = rendezvous.NewStatic(cfg.Rendezvous.Seeds)
	}

	// Create the node
	n, err := node.New(cfg, dir, cache, sightings, rsrv, pubsub, rv)
	if err != nil {
		log.Fatalf("Failed to create node: %v", err)
	}

	// Run the node
	if err := n.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Failed to run node: %v", err)
	}
}
