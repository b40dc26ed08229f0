package node

import (
	"errors"
	"headcount/swarm/protocol"

	log "github.com/sirupsen/logrus"
)

var ErrNotAdmitted = errors.New("peer directory at capacity")

type Server struct {
	node *Node
}

// RPC: Hello
// The presence handshake. The caller is recorded as a live peer, subject
// to admission control for previously unknown peers.
func (s *Server) Hello(req *protocol.HelloRequest, res *protocol.HelloResponse) error {
	log.Infof("Server.Hello from %s, seq: %d", req.NodeID.String(), req.SequenceNumber)

	if !req.NodeID.Equal(s.node.NodeID) {
		if s.node.Directory.Admit(&req.NodeID) {
			addr := ""
			if len(req.Addresses) > 0 {
				addr = req.Addresses[0]
			}
			s.node.Directory.Upsert(&req.NodeID, req.SequenceNumber, addr, req.PublicKey)
			s.node.recordSighting(&req.NodeID, req.Addresses, req.PublicKey)
		} else {
			// The caller still gets a response; we just don't track it
			log.Debugf("Server.Hello: not admitting %s, directory full", req.NodeID.String())
		}
	}

	res.NodeID = *s.node.NodeID
	res.SequenceNumber = s.node.Directory.NextSequence()
	res.PublicKey = s.node.publicKey
	res.PeerCount = uint32(s.node.Directory.Count())
	return nil
}

// RPC: Ping
// Refreshes liveness for an already-known caller without the full
// handshake. Unknown callers are not inserted, a Ping carries no address
// or key material to track them by.
func (s *Server) Ping(req *protocol.PingRequest, res *protocol.PingResponse) error {
	log.Debugf("Server.Ping from %s", req.NodeID.String())

	if p, ok := s.node.Directory.Get(&req.NodeID); ok {
		s.node.Directory.Upsert(&req.NodeID, p.SequenceNumber, "", nil)
	}

	res.NodeID = *s.node.NodeID
	res.SequenceNumber = s.node.Directory.NextSequence()
	return nil
}
