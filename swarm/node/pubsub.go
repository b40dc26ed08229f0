package node

import (
	"context"
	"headcount/swarm/protocol"
	"time"

	"github.com/fxamacker/cbor/v2"

	log "github.com/sirupsen/logrus"
)

// handleAnnouncement processes one multicast presence announcement.
// Registered with the PubSub for protocol.MethodAnnouncement.
func (n *Node) handleAnnouncement(body cbor.RawMessage) {
	msg := &protocol.Announcement{}
	if err := cbor.Unmarshal(body, msg); err != nil {
		log.Errorf("Failed to decode announcement: %v", err)
		return
	}

	// Check if we received our own announcement
	if msg.NodeID.Equal(n.NodeID) {
		log.Debugf("Received our own announcement - ignoring")
		return
	}

	log.Debugf("Announcement: node: %s, addresses: %s, seq: %d", msg.NodeID.String(), msg.Addresses, msg.SequenceNumber)

	if !n.Directory.Admit(&msg.NodeID) {
		log.Debugf("Not admitting announced peer %s, directory full", msg.NodeID.String())
		return
	}

	addr := ""
	if len(msg.Addresses) > 0 {
		addr = msg.Addresses[0]
	}

	isNew := n.Directory.Upsert(&msg.NodeID, msg.SequenceNumber, addr, msg.PublicKey)
	n.recordSighting(&msg.NodeID, msg.Addresses, msg.PublicKey)

	// Dial back newly announced peers once to confirm they are reachable
	// and learn their view of the swarm. Deduplicated so an announcement
	// burst does not trigger parallel handshakes with the same peer.
	if isNew && addr != "" {
		go func() {
			_, err, _ := n.sg.Do(msg.NodeID.String(), func() (interface{}, error) {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()

				p, err := n.Probe(ctx, addr)
				if err != nil {
					return nil, err
				}
				log.Infof("Confirmed announced peer %s at %s, it reports %d peers online", p.ID.String(), addr, p.PeerCount)
				return nil, nil
			})
			if err != nil {
				log.Debugf("Dial-back to announced peer %s failed: %v", addr, err)
			}
		}()
	}
}
