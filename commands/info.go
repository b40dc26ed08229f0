package commands

import (
	"context"
	"headcount/config"
	"headcount/datastore/leveldb"
	"headcount/datastore/peercache"
	"time"

	log "github.com/sirupsen/logrus"
)

func RunInfo(ctx context.Context, cfg *config.Config) {
	if err := cfg.CheckIdentity(); err != nil {
		log.Warnf("Node identity: %v", err)
	} else {
		log.Infof("Node: %s", cfg.Node.NodeID.String())
	}

	cache := peercache.New(cfg.Cache.Path, cfg.Cache.Enabled, cfg.Cache.MaxEntries, nil)
	cached := cache.Load(cfg.CacheMaxAge())
	log.Infof("Peer cache: %d fresh candidates", len(cached))
	for _, c := range cached {
		log.Infof("Cached peer: %s at %s, last seen %s", c.ID.String(), c.Address(), time.UnixMilli(c.LastSeen))
	}

	if cfg.DataStore.SightingsPath == "" {
		return
	}

	sidx, err := leveldb.NewSightingIndex(cfg.DataStore.SightingsPath)
	if err != nil {
		log.Errorf("Failed to open sighting index: %v", err)
		return
	}
	defer sidx.Close()

	ids, err := sidx.Enumerate()
	if err != nil {
		log.Errorf("Failed to enumerate sighting index: %v", err)
		return
	}

	log.Infof("Sighting index: %d peers ever seen", len(ids))
	for _, id := range ids {
		s, err := sidx.Get(id)
		if err != nil {
			log.Errorf("Failed to get sighting: %v", err)
			continue
		}
		log.Infof("Peer: %s, addr: %v, first seen: %v, last seen: %v, sightings: %d",
			s.NodeID.String(), s.Addresses, s.FirstSeen, s.LastSeen, s.Count)
	}
}
