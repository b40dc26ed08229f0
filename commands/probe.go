package commands

import (
	"context"
	"headcount/config"
	"headcount/net/crpc"
	"headcount/swarm/protocol"
	"time"

	log "github.com/sirupsen/logrus"
)

// RunProbe performs a single presence handshake with the given address
// and reports the result. Useful for checking reachability by hand.
func RunProbe(ctx context.Context, cfg *config.Config, address string) {
	if err := cfg.CheckIdentity(); err != nil {
		log.Fatalf("Invalid node identity: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cli, err := crpc.DialContext(ctx, "tcp4", address)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", address, err)
	}
	defer cli.Close()

	req := &protocol.HelloRequest{
		NodeID:    *cfg.Node.NodeID,
		PublicKey: cfg.Node.PublicKey,
	}
	res := &protocol.HelloResponse{}

	if err := cli.Call(ctx, protocol.MethodHello, req, res); err != nil {
		log.Fatalf("Hello to %s failed: %v", address, err)
	}

	log.Infof("Peer %s at %s is alive, seq: %d, reports %d peers online",
		res.NodeID.String(), address, res.SequenceNumber, res.PeerCount)
}
