package commands

import (
	"context"
	"headcount/config"

	log "github.com/sirupsen/logrus"
)

func RunInit(ctx context.Context, cfg *config.Config) {
	if err := cfg.GenerateIdentity(); err != nil {
		log.Fatalf("Failed to generate node identity: %v", err)
	}

	if err := cfg.Save(); err != nil {
		log.Fatalf("Failed to save config: %v", err)
	}

	log.Infof("Initialized node %s", cfg.Node.NodeID.String())
}
