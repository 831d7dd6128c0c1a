// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/rtnav/rtnavd/internal/config"
	"github.com/rtnav/rtnavd/internal/daemon"
	rtlog "github.com/rtnav/rtnavd/internal/log"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Safe logging defaults until the config is loaded.
	rtlog.Configure(rtlog.Config{
		Level:   "info",
		Service: "rtnavd",
		Version: version,
	})
	// One id per process run, correlating every log line of this invocation.
	logger := rtlog.WithComponent("main").With().
		Str(rtlog.FieldRunID, uuid.NewString()).
		Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(strings.TrimSpace(*configPath))
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(rtlog.FieldEvent, "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}

	rtlog.Configure(rtlog.Config{
		Level:   cfg.LogLevel,
		Service: "rtnavd",
		Version: version,
	})

	logger.Info().
		Str(rtlog.FieldEvent, "config.loaded").
		Str("mode", string(cfg.Mode)).
		Str(rtlog.FieldDevice, cfg.Device).
		Int("stations", len(cfg.Stations)).
		Str("listen", cfg.Listen).
		Msg("configuration loaded")

	engine, err := buildEngine(cfg)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(rtlog.FieldEvent, "engine.unavailable").
			Msg("no usable PVT engine")
	}

	app := daemon.New(cfg, engine, version)
	if err := app.Run(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str(rtlog.FieldEvent, "daemon.failed").
			Msg("pipeline terminated with error")
	}

	logger.Info().
		Str(rtlog.FieldEvent, "daemon.exit").
		Msg("shutdown complete")
}
