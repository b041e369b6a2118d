package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	"chatrelay/internal/app"
	"chatrelay/pkg/config"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/shutdown"
)

// build metadata - set via ldflags during build/release
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load(".env")

	flags := config.ParseCommandFlags()
	cfgPath := config.ResolveConfigPath(flags.Config, flags.Set["config"])

	cfg, source, err := config.LoadEffective(cfgPath)
	if err != nil {
		logger.Init()
		shutdown.Abort("failed to load config", err, flags.Data, 0)
	}

	// explicit flags win over env and config file
	if flags.Set["addr"] {
		if h, p, err := net.SplitHostPort(flags.Addr); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = flags.Addr
		}
	}
	if flags.Set["data"] {
		cfg.Storage.MessagesPath = filepath.Join(flags.Data, "messages.json")
		cfg.Storage.IndexPath = filepath.Join(flags.Data, "index")
		cfg.Storage.UsersPath = filepath.Join(flags.Data, "users")
	}

	logger.InitWithLevel(cfg.Logging.Level)
	defer logger.Sync()

	a, err := app.New(cfg, source, version, commit, buildDate)
	if err != nil {
		shutdown.Abort("startup failed", err, flags.Data, 0)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	runErr := a.Run(ctx)
	if cerr := a.Close(); cerr != nil {
		logger.Warn("close_failed", "err", cerr)
	}
	if runErr != nil {
		logger.Error("server_failed", "err", runErr)
		os.Exit(1)
	}
	logger.Info("server_stopped")
}
