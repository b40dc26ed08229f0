package node

import (
	"context"
	"errors"
	"headcount/bootstrap"
	"headcount/net/crpc"
	"headcount/swarm/protocol"
)

// ErrSelfConnection is returned when a probe reaches this very node,
// which the address scan can legitimately do.
var ErrSelfConnection = errors.New("probe reached ourselves")

var _ bootstrap.Prober = (*Node)(nil)

// Probe implements bootstrap.Prober: dial the address, run the Hello
// handshake and record the responder as a live peer.
func (n *Node) Probe(ctx context.Context, address string) (*bootstrap.Peer, error) {
	cli, err := crpc.DialContext(ctx, "tcp4", address)
	if err != nil {
		return nil, err
	}
	defer cli.Close()

	req := &protocol.HelloRequest{
		NodeID:         *n.NodeID,
		Addresses:      n.Addresses,
		SequenceNumber: n.Directory.NextSequence(),
		PublicKey:      n.publicKey,
	}
	res := &protocol.HelloResponse{}
	if err := cli.Call(ctx, protocol.MethodHello, req, res); err != nil {
		return nil, err
	}

	if res.NodeID.Equal(n.NodeID) {
		return nil, ErrSelfConnection
	}

	if n.Directory.Admit(&res.NodeID) {
		n.Directory.Upsert(&res.NodeID, res.SequenceNumber, address, res.PublicKey)
		n.recordSighting(&res.NodeID, []string{address}, res.PublicKey)
	}

	return &bootstrap.Peer{
		ID:             &res.NodeID,
		Address:        address,
		PublicKey:      res.PublicKey,
		SequenceNumber: res.SequenceNumber,
		PeerCount:      res.PeerCount,
	}, nil
}
