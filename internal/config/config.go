// Package config provides configuration management for the relay daemon.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	logging "github.com/ipfs/go-log/v2"
	"gopkg.in/yaml.v3"

	"HubRelay/internal/auth"
	"HubRelay/internal/core/network"
	"HubRelay/internal/match"
)

// Storage drivers.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
)

// Notification transports.
const (
	TransportMemory    = "memory"
	TransportWatermill = "watermill"
	TransportLibp2p    = "libp2p"
)

// Config represents the relay configuration.
type Config struct {
	Relay   RelayConfig   `yaml:"relay"`
	Storage StorageConfig `yaml:"storage"`
	Network NetworkConfig `yaml:"network"`
	API     APIConfig     `yaml:"api"`
	Log     LogConfig     `yaml:"log"`
}

// RelayConfig selects the matching and publish authorization policies.
type RelayConfig struct {
	Match         string `yaml:"match"`
	PublishPolicy string `yaml:"publish_policy"`
}

// StorageConfig contains storage-related settings.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// NetworkConfig contains notification transport settings.
type NetworkConfig struct {
	Transport       string   `yaml:"transport"`
	Listen          []string `yaml:"listen"`
	Bootstrap       []string `yaml:"bootstrap"`
	Rendezvous      string   `yaml:"rendezvous"`
	EnableMDNS      bool     `yaml:"enable_mdns"`
	IdentityKeyFile string   `yaml:"identity_key_file"`
}

// APIConfig contains HTTP API settings.
type APIConfig struct {
	Listen            string `yaml:"listen"`
	RequireSignatures bool   `yaml:"require_signatures"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Dir is the default directory for config, keys and data.
func Dir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".hubrelay")
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Relay: RelayConfig{
			Match:         string(match.Prefix),
			PublishPolicy: string(auth.PublishOpen),
		},
		Storage: StorageConfig{
			Driver: StorageSQLite,
			Path:   filepath.Join(Dir(), "data"),
		},
		Network: NetworkConfig{
			Transport:       TransportLibp2p,
			Listen:          []string{"/ip4/0.0.0.0/tcp/4011", "/ip4/0.0.0.0/udp/4011/quic-v1"},
			Bootstrap:       []string{},
			Rendezvous:      "hubrelay",
			EnableMDNS:      true,
			IdentityKeyFile: filepath.Join(Dir(), "identity.key"),
		},
		API: APIConfig{
			Listen:            "127.0.0.1:8090",
			RequireSignatures: true,
		},
		Log: LogConfig{Level: "info"},
	}
}

// DefaultPath returns the default configuration file path.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Load loads the configuration from a file. A missing file yields the defaults.
// Fields absent from the file keep their default values.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save saves the configuration to a file.
func Save(path string, cfg *Config) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects unknown enum values and malformed addresses.
func (c *Config) Validate() error {
	if _, err := match.New(match.Policy(c.Relay.Match)); err != nil {
		return err
	}
	if _, err := auth.ParsePublishPolicy(c.Relay.PublishPolicy); err != nil {
		return err
	}
	switch c.Storage.Driver {
	case StorageMemory:
	case StorageSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Network.Transport {
	case TransportMemory, TransportWatermill:
	case TransportLibp2p:
		if _, err := network.ParseAddrs(c.Network.Listen); err != nil {
			return fmt.Errorf("network.listen: %w", err)
		}
		if _, err := network.ParseAddrs(c.Network.Bootstrap); err != nil {
			return fmt.Errorf("network.bootstrap: %w", err)
		}
	default:
		return fmt.Errorf("unknown network transport %q", c.Network.Transport)
	}
	if c.API.Listen == "" {
		return fmt.Errorf("api.listen is required")
	}
	if c.Log.Level != "" {
		if _, err := logging.LevelFromString(c.Log.Level); err != nil {
			return fmt.Errorf("log.level: %w", err)
		}
	}
	return nil
}
