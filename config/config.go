package config

import (
	"encoding/json"
	"headcount/oid"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// Config represents the on-disk configuration of a headcount node
type Config struct {
	// Default config file location
	configFile string

	// Node identity, generated by the init command
	Node struct {
		NodeID     *oid.Oid `json:"id"`
		PublicKey  []byte   `json:"publicKey"`
		PrivateKey []byte   `json:"privateKey"`
	} `json:"node"`

	Network struct {
		RPCListenAddress     string `json:"rpcListen"`
		RPCAdvertizedAddress string `json:"rpcAdvertized"`
		MulticastAddress     string `json:"multicastGroup"`
		UseMulticast         bool   `json:"multicast"`

		// Optional fixed peer tried before any other bootstrap phase
		DebugPeerAddress string `json:"debugPeer"`
	} `json:"network"`

	Scan struct {
		Enabled        bool `json:"enabled"`
		Port           int  `json:"port"`
		TimeoutSeconds int  `json:"timeoutSeconds"`
		SampleEvery    int  `json:"sampleEvery"`
		Parallelism    int  `json:"parallelism"`
	} `json:"scan"`

	Cache struct {
		Enabled     bool   `json:"enabled"`
		Path        string `json:"path"`
		MaxAgeHours int    `json:"maxAgeHours"`
		MaxEntries  int    `json:"maxEntries"`
	} `json:"cache"`

	Directory struct {
		Capacity             int `json:"capacity"`
		PeerTimeoutSeconds   int `json:"peerTimeoutSeconds"`
		EvictIntervalSeconds int `json:"evictIntervalSeconds"`
	} `json:"directory"`

	Rendezvous struct {
		Topic string   `json:"topic"`
		Seeds []string `json:"seeds"`
	} `json:"rendezvous"`

	DataStore struct {
		SightingsPath string `json:"sightings"`
	} `json:"datastore"`
}

// NewEmptyConfig generates a new configuration with default settings
func NewEmptyConfig(configFile string) *Config {
	cfg := &Config{}

	cfg.configFile = configFile

	cfg.Network.RPCListenAddress = ":7381"
	cfg.Network.MulticastAddress = "239.112.37.17:7382"
	cfg.Network.UseMulticast = false

	cfg.Scan.Enabled = false
	cfg.Scan.Port = 7381
	cfg.Scan.TimeoutSeconds = 30
	cfg.Scan.SampleEvery = 16
	cfg.Scan.Parallelism = 64

	cfg.Cache.Enabled = true
	cfg.Cache.Path = "/tmp/headcount/peercache.json"
	cfg.Cache.MaxAgeHours = 72
	cfg.Cache.MaxEntries = 50

	cfg.Directory.Capacity = 1024
	cfg.Directory.PeerTimeoutSeconds = 60
	cfg.Directory.EvictIntervalSeconds = 10

	cfg.Rendezvous.Topic = "headcount/v1"

	cfg.DataStore.SightingsPath = "/tmp/headcount/sightings"

	return cfg
}

func NewConfigFromFile(configFile string) (*Config, error) {
	cfg := NewEmptyConfig(configFile)
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves the configuration to a file
func (c *Config) Save() error {
	log.Infof("Saving config to %s", c.configFile)

	// We'll marshall our structure to JSON and write it into a file
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.configFile, data, 0600)
}

func (c *Config) Load() error {
	log.Infof("Loading config from %s", c.configFile)
	data, err := os.ReadFile(c.configFile)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, c); err != nil {
		return err
	}

	return nil
}

// Duration accessors for the integer-valued config fields

func (c *Config) ScanTimeout() time.Duration {
	return time.Duration(c.Scan.TimeoutSeconds) * time.Second
}

func (c *Config) CacheMaxAge() time.Duration {
	return time.Duration(c.Cache.MaxAgeHours) * time.Hour
}

func (c *Config) PeerTimeout() time.Duration {
	return time.Duration(c.Directory.PeerTimeoutSeconds) * time.Second
}

func (c *Config) EvictInterval() time.Duration {
	return time.Duration(c.Directory.EvictIntervalSeconds) * time.Second
}
