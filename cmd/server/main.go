// SentinelX - behavioral biometric access decisions
package main

import (
	"context"
	"os"

	"github.com/SentinelX-Auth/SentinelX/internal/config"
	"github.com/SentinelX-Auth/SentinelX/internal/logging"
	"github.com/SentinelX-Auth/SentinelX/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting sentinelx",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)
	logger.Info("configuration loaded",
		"env", cfg.Env,
		"storage", storageKind(cfg),
		"anomaly_threshold", cfg.AnomalyThreshold,
		"escalation_floor", cfg.EscalationFloor,
		"admin_api", cfg.AdminSecret != "",
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func storageKind(cfg *config.Config) string {
	if cfg.DatabaseURL != "" {
		return "postgres"
	}
	return "memory"
}
