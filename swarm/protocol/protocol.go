package protocol

import (
	"headcount/oid"
)

// Method names on the wire
const (
	MethodAnnouncement = "Presence.Announcement" // multicast pubsub
	MethodHello        = "Server.Hello"          // crpc
	MethodPing         = "Server.Ping"           // crpc
)

// Announcement is periodically multicast so peers on the same network
// segment learn about each other without scanning.
type Announcement struct {
	NodeID         oid.Oid  `cbor:"1,keyasint,omitempty"` // Announcing node
	Addresses      []string `cbor:"2,keyasint,omitempty"` // Dialable RPC addresses
	SequenceNumber uint64   `cbor:"3,keyasint,omitempty"` // Announcement counter, detects replayed/out-of-order gossip
	PublicKey      []byte   `cbor:"4,keyasint,omitempty"` // Announcer's public key
}

// Hello is the presence handshake. Every successful probe is a Hello
// exchange; both sides learn the other's identity and record it.
type HelloRequest struct {
	NodeID         oid.Oid  `cbor:"1,keyasint,omitempty"` // Caller's node ID
	Addresses      []string `cbor:"2,keyasint,omitempty"` // Caller's dialable RPC addresses
	SequenceNumber uint64   `cbor:"3,keyasint,omitempty"` // Caller's announcement counter
	PublicKey      []byte   `cbor:"4,keyasint,omitempty"` // Caller's public key
}

type HelloResponse struct {
	NodeID         oid.Oid `cbor:"1,keyasint,omitempty"` // Responder's node ID
	SequenceNumber uint64  `cbor:"2,keyasint,omitempty"` // Responder's announcement counter
	PublicKey      []byte  `cbor:"3,keyasint,omitempty"` // Responder's public key
	PeerCount      uint32  `cbor:"4,keyasint,omitempty"` // Responder's current directory count
}

// Ping refreshes liveness without the full handshake.
type PingRequest struct {
	NodeID oid.Oid `cbor:"1,keyasint,omitempty"` // Caller's node ID
}

type PingResponse struct {
	NodeID         oid.Oid `cbor:"1,keyasint,omitempty"` // Responder's node ID
	SequenceNumber uint64  `cbor:"2,keyasint,omitempty"` // Responder's announcement counter
}
