package peer

import (
	"headcount/oid"
	"time"
)

// Sighting is the durable record of a peer observed by this node,
// accumulated across process restarts.
type Sighting struct {
	NodeID    oid.Oid   `cbor:"1,keyasint,omitempty"` // Peer identifier
	Addresses []string  `cbor:"2,keyasint,omitempty"` // Last advertised addresses
	PublicKey []byte    `cbor:"3,keyasint,omitempty"` // Last known public key, nil if never learned
	FirstSeen time.Time `cbor:"4,keyasint,omitempty"` // First time we ever saw this peer
	LastSeen  time.Time `cbor:"5,keyasint,omitempty"` // Most recent observation
	Count     uint64    `cbor:"6,keyasint,omitempty"` // Number of distinct observations
}

// SightingIndex is the interface for the persistent sighting store.
type SightingIndex interface {
	// Get retrieves the sighting record for a peer, or an error if the
	// peer was never recorded.
	Get(*oid.Oid) (*Sighting, error)

	// Put stores or replaces a sighting record.
	Put(*Sighting) (*Sighting, error)

	// Enumerate returns the OIDs of all recorded peers.
	Enumerate() ([]*oid.Oid, error)
}
