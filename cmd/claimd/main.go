package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"claimmarket/config"
	"claimmarket/core"
	"claimmarket/observability/logging"
	"claimmarket/rpc"
	"claimmarket/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("CLM_ENV"))
	logger := logging.Setup("claimd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", "path", *configFile, "err", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	controller, err := config.Principal("Controller", cfg.Controller)
	if err != nil {
		logger.Error("invalid controller", "err", err)
		os.Exit(1)
	}
	tokenAuthority, err := config.Principal("TokenAuthority", cfg.TokenAuthority)
	if err != nil {
		logger.Error("invalid token authority", "err", err)
		os.Exit(1)
	}
	assetAuthority, err := config.Principal("AssetAuthority", cfg.AssetAuthority)
	if err != nil {
		logger.Error("invalid asset authority", "err", err)
		os.Exit(1)
	}

	dbPath := filepath.Join(cfg.DataDir, "market")
	db, err := storage.NewLevelDB(dbPath)
	if err != nil {
		logger.Error("failed to open database", "path", dbPath, "err", err)
		os.Exit(1)
	}
	defer db.Close()

	node, err := core.NewNode(db, core.Config{
		ChainID:        cfg.ChainID,
		Controller:     controller,
		TokenAuthority: tokenAuthority,
		AssetAuthority: assetAuthority,
	})
	if err != nil {
		logger.Error("failed to initialise node", "err", err)
		os.Exit(1)
	}

	logger.Info("starting JSON-RPC server",
		"addr", cfg.RPCAddress,
		"chainId", cfg.ChainID,
		"market", fmt.Sprintf("%x", core.MarketAddress()),
	)
	server := rpc.NewServer(node)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("rpc server stopped", "err", err)
		os.Exit(1)
	}
}
