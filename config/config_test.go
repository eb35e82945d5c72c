package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:8545", cfg.RPCAddress)
	require.Equal(t, "./data", cfg.DataDir)
	require.Equal(t, "leveldb", cfg.DBBackend)
	require.Equal(t, "p2plend-local", cfg.NetworkName)
	require.Equal(t, uint8(3), cfg.Lending.MaxLoansPerAccount)
	require.Equal(t, uint64(3_000), cfg.Lending.InterestRateBps)

	// The default file and node keystore are written next to each other.
	require.FileExists(t, path)
	require.FileExists(t, filepath.Join(dir, "node.keystore"))
	require.Equal(t, filepath.Join(dir, "node.keystore"), cfg.NodeKeystorePath)
}

func TestLoadExistingConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
RPCAddress = "0.0.0.0:9999"
DataDir = "/var/lib/p2plend"
NetworkName = "p2plend-test"

[lending]
MaxLoansPerAccount = 5
InterestRateBps = 1500
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9999", cfg.RPCAddress)
	require.Equal(t, "/var/lib/p2plend", cfg.DataDir)
	require.Equal(t, "p2plend-test", cfg.NetworkName)
	require.Equal(t, uint8(5), cfg.Lending.MaxLoansPerAccount)
	require.Equal(t, uint64(1500), cfg.Lending.InterestRateBps)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("Bogus = true\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown fields")
}

func TestLoadFillsMissingFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`RPCAddress = "127.0.0.1:7000"`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:7000", cfg.RPCAddress)
	require.Equal(t, "./data", cfg.DataDir)
	require.Equal(t, uint8(3), cfg.Lending.MaxLoansPerAccount)
}
