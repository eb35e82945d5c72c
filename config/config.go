package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"p2plend/crypto"
	"p2plend/native/lending"

	"github.com/BurntSushi/toml"
)

// Config is the node's TOML configuration.
type Config struct {
	RPCAddress string `toml:"RPCAddress"`
	DataDir    string `toml:"DataDir"`
	// DBBackend selects the key-value store: "leveldb" or "bolt".
	DBBackend        string `toml:"DBBackend"`
	NetworkName      string `toml:"NetworkName"`
	NodeKeystorePath string `toml:"NodeKeystorePath"`
	LogFile          string `toml:"LogFile"`
	// RPCAuthSecret signs and verifies bearer tokens for operator-only RPC
	// methods. The faucet stays disabled while this is empty.
	RPCAuthSecret string `toml:"RPCAuthSecret"`
	// RPCRateLimit caps JSON-RPC requests per second. Zero disables the limit.
	RPCRateLimit float64        `toml:"RPCRateLimit"`
	Lending      lending.Config `toml:"lending"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown fields: %v", path, undecoded)
	}

	applyDefaults(cfg)
	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = "127.0.0.1:8545"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./data"
	}
	if strings.TrimSpace(cfg.DBBackend) == "" {
		cfg.DBBackend = "leveldb"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "p2plend-local"
	}
	cfg.Lending.EnsureDefaults()
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.NodeKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.NodeKeystorePath != keystorePath {
		cfg.NodeKeystorePath = keystorePath
	}
	return nil
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	return filepath.Join(dir, "node.keystore")
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
