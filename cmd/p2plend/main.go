package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"p2plend/config"
	"p2plend/core"
	"p2plend/crypto"
	"p2plend/observability/logging"
	"p2plend/rpc"
	"p2plend/storage"
)

const envVar = "P2PLEND_ENV"

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch cfg.DBBackend {
	case "bolt":
		return storage.NewBoltDB(filepath.Join(cfg.DataDir, "ledger.db"))
	case "", "leveldb":
		return storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	default:
		return nil, fmt.Errorf("unknown DBBackend %q", cfg.DBBackend)
	}
}

func readPassphrase(prompt bool) (string, error) {
	if !prompt {
		return "", nil
	}
	fmt.Fprint(os.Stderr, "Keystore passphrase: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	promptPass := flag.Bool("prompt-passphrase", false, "Prompt for the node keystore passphrase")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv(envVar))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup("p2plend", env, cfg.LogFile)

	db, err := openDatabase(cfg)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	passphrase, err := readPassphrase(*promptPass)
	if err != nil {
		logger.Error("Failed to read passphrase", slog.Any("error", err))
		os.Exit(1)
	}
	nodeKey, err := crypto.LoadFromKeystore(cfg.NodeKeystorePath, passphrase)
	if err != nil {
		logger.Error("Failed to load node key", slog.Any("error", err))
		os.Exit(1)
	}

	node := core.NewNode(db, cfg.Lending)
	logger.Info("node initialised",
		slog.String("network", cfg.NetworkName),
		slog.String("nodeAddress", nodeKey.PubKey().Address().String()),
		slog.Int("maxLoansPerAccount", int(cfg.Lending.MaxLoansPerAccount)),
		slog.Uint64("interestRateBps", cfg.Lending.InterestRateBps),
	)

	server := rpc.NewServer(node, logger)
	server.SetAuthSecret(cfg.RPCAuthSecret)
	server.SetRateLimit(cfg.RPCRateLimit)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
