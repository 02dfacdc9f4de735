// Package config loads and saves sqlchaind's on-disk YAML
// configuration, the ambient settings a running node needs that have
// nothing to do with chain consensus itself: where its data lives,
// which address it gossips on, and which peers it should dial first.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds everything cmd/sqlchaind needs to start a node.
type Config struct {
	// Identity holds the node's gossip and signing key material.
	Identity IdentityConfig `yaml:"identity"`

	// Network holds gossip listener and peer settings.
	Network NetworkConfig `yaml:"network"`

	// Storage holds on-disk database settings.
	Storage StorageConfig `yaml:"storage"`

	// Admin holds the local admin HTTP surface's settings.
	Admin AdminConfig `yaml:"admin"`

	// Logging holds logger settings.
	Logging LoggingConfig `yaml:"logging"`
}

// IdentityConfig names the key files a node uses to sign mined blocks
// and identify itself to the gossip mesh.
type IdentityConfig struct {
	// KeyFile is the path to the node's Base58Check-encoded Ed25519
	// private key. The daemon creates it (and a ".mnemonic" file beside
	// it) on first start if absent; `sqlchaind keygen` only prints a key.
	KeyFile string `yaml:"key_file"`

	// UUIDFile is the path to the node's persisted gossip UUID. A
	// fresh one is generated and saved here the first time a node
	// starts without it.
	UUIDFile string `yaml:"uuid_file"`
}

// NetworkConfig holds gossip listener and peer settings.
type NetworkConfig struct {
	// ListenAddr is the host:port the gossip WebSocket server binds.
	ListenAddr string `yaml:"listen_addr"`

	// AdvertisePort is the port other nodes should connect back on,
	// normally the same as ListenAddr's port unless sitting behind a
	// forwarding proxy.
	AdvertisePort int `yaml:"advertise_port"`

	// BootstrapPeers are gossip URLs dialed on startup.
	BootstrapPeers []string `yaml:"bootstrap_peers"`
}

// StorageConfig holds on-disk database settings.
type StorageConfig struct {
	// DataDir is the directory holding the node's SQLite database and
	// key files.
	DataDir string `yaml:"data_dir"`

	// DesiredTimeBetweenBlocks, in seconds, is the difficulty
	// controller's target block interval (spec.md §4.7).
	DesiredTimeBetweenBlocks int64 `yaml:"desired_time_between_blocks_seconds"`

	// GenesisFile is the path to the network's shared genesis block.
	// The first node on a network mines and saves it; every other
	// node must be given a copy of the same file.
	GenesisFile string `yaml:"genesis_file"`

	// GenesisSeed is only used the first time GenesisFile is created.
	GenesisSeed string `yaml:"genesis_seed"`
}

// AdminConfig holds the local admin HTTP surface's settings.
type AdminConfig struct {
	// ListenAddr is the host:port the admin HTTP server binds, or
	// empty to disable it entirely.
	ListenAddr string `yaml:"listen_addr"`

	// TokenHash is a bcrypt hash (see adminhttp.HashAdminToken) of the
	// bearer token /submit and /query require. Empty disables
	// authentication, which is only safe when ListenAddr is bound to
	// loopback.
	TokenHash string `yaml:"token_hash"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`
}

// FileName is the default config file name within a data directory.
const FileName = "config.yaml"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Identity: IdentityConfig{
			KeyFile:  "node.key",
			UUIDFile: "node.uuid",
		},
		Network: NetworkConfig{
			ListenAddr:     "0.0.0.0:7654",
			AdvertisePort:  7654,
			BootstrapPeers: []string{},
		},
		Storage: StorageConfig{
			DataDir:                  "~/.sqlchaind",
			DesiredTimeBetweenBlocks: 30,
			GenesisFile:              "genesis.json",
			GenesisSeed:              "sqlchaind genesis",
		},
		Admin: AdminConfig{
			ListenAddr: "127.0.0.1:7655",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML config file from dataDir, creating one with
// default values if it does not yet exist.
func Load(dataDir string) (*Config, error) {
	expanded := ExpandPath(dataDir)
	path := filepath.Join(expanded, FileName)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("config: create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse config file: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to path as YAML, creating its parent
// directory if needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal config: %w", err)
	}
	header := []byte("# sqlchaind node configuration\n# generated automatically on first run\n\n")
	if err := os.WriteFile(path, append(header, data...), 0600); err != nil {
		return fmt.Errorf("config: write config file: %w", err)
	}
	return nil
}

// Path returns the full config file path for a data directory.
func Path(dataDir string) string {
	return filepath.Join(ExpandPath(dataDir), FileName)
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
