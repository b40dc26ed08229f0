package config

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"headcount/oid"
)

var ErrorNoIdentity = errors.New("node identity not initialized, run init first")

// GenerateIdentity creates a fresh ed25519 keypair and derives the NodeID from it.
// An existing identity is overwritten, so callers must check HasIdentity first
// if regeneration is not intended.
func (c *Config) GenerateIdentity() error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}

	id, err := oid.FromPublicKey(pub)
	if err != nil {
		return err
	}

	c.Node.NodeID = id
	c.Node.PublicKey = pub
	c.Node.PrivateKey = priv

	log.Infof("Generated node identity %s", id.String())

	return nil
}

func (c *Config) HasIdentity() bool {
	return c.Node.NodeID != nil &&
		len(c.Node.PublicKey) == ed25519.PublicKeySize &&
		len(c.Node.PrivateKey) == ed25519.PrivateKeySize
}

// CheckIdentity verifies that the stored keypair and NodeID are consistent.
func (c *Config) CheckIdentity() error {
	if !c.HasIdentity() {
		return ErrorNoIdentity
	}

	derived, err := oid.FromPublicKey(ed25519.PublicKey(c.Node.PublicKey))
	if err != nil {
		return err
	}
	if !derived.Equal(c.Node.NodeID) {
		return errors.New("node ID does not match the stored public key")
	}

	return nil
}
