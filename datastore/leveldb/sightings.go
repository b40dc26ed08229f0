package leveldb

import (
	"headcount/datamodel/peer"
	"headcount/oid"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb/util"

	log "github.com/sirupsen/logrus"
)

const (
	keyPrefixSighting = "SGT" // Sighting record indexed by OID. Followed by textual OID representation
)

var _ peer.SightingIndex = (*SightingIndex)(nil)

type SightingIndex struct {
	store
}

func NewSightingIndex(path string) (*SightingIndex, error) {
	// Init the underlying LevelDB object
	ldb, err := initLevelDb(path)
	if err != nil {
		return nil, err
	}

	return &SightingIndex{
		store: store{
			path: path,
			db:   ldb,
		},
	}, nil
}

func (l *SightingIndex) Get(id *oid.Oid) (*peer.Sighting, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := l.db.Get(keyFromOid(keyPrefixSighting, id), nil)
	if err != nil {
		return nil, err
	}

	s := &peer.Sighting{}
	err = cbor.Unmarshal(raw, s)
	if err != nil {
		return nil, err
	}

	// Compare the OID just in case
	if s.NodeID != *id {
		log.Errorf("Get: NodeID mismatch: %s != %s", id.String(), s.NodeID.String())
		return nil, ErrCorrupted
	}

	return s, nil
}

func (l *SightingIndex) Put(s *peer.Sighting) (*peer.Sighting, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := cbor.Marshal(s)
	if err != nil {
		return nil, err
	}

	err = l.db.Put(keyFromOid(keyPrefixSighting, &s.NodeID), raw, nil)
	if err != nil {
		return nil, err
	}

	return s, nil
}

func (l *SightingIndex) Enumerate() ([]*oid.Oid, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var results []*oid.Oid

	iter := l.db.NewIterator(util.BytesPrefix([]byte(keyPrefixSighting)), nil)
	defer iter.Release()

	for iter.Next() {
		raw := iter.Value()

		s := &peer.Sighting{}
		err := cbor.Unmarshal(raw, s)
		if err != nil {
			return nil, err
		}

		results = append(results, &s.NodeID)
	}

	return results, nil
}
