// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command stage-server starts the realtime stage synchronization server.
//
// # Environment Variables
//
//   - PORT: HTTP/websocket listen port (default: 4000)
//   - SERVER_ADDRESS: public address this instance owns (default: localhost:4000)
//   - BADGER_PATH: storage directory (default: ./data/stage)
//   - AUTH_URL: auth service base URL (default: http://localhost:5000)
//   - API_KEY: shared key for the router registry (empty disables it)
//   - CLEANUP_INTERVAL: stale-state sweep interval (default: 10m)
//   - STAGE_CONFIG: optional YAML config overlay path
//
// # Usage
//
//	go build -o stage-server ./cmd/stage-server
//	./stage-server serve
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/aleutian-stage/pkg/logging"
	stage "github.com/AleutianAI/aleutian-stage/services/stage"
	"github.com/AleutianAI/aleutian-stage/services/stage/config"
	"github.com/AleutianAI/aleutian-stage/services/stage/telemetry"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "stage-server",
	Short: "Realtime stage synchronization server",
	Long: "stage-server keeps every connected client's view of stages, groups, " +
		"members, and media producers consistent in real time.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("stage-server", version)
	},
}

var (
	flagLogDir string
	flagDebug  bool
)

func init() {
	serveCmd.Flags().StringVar(&flagLogDir, "log-dir", "", "also write JSON logs to this directory")
	serveCmd.Flags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := logging.LevelInfo
	if flagDebug {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  flagLogDir,
		Service: "stage-server",
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	telCfg := telemetry.DefaultConfig()
	if cfg.OTLPEndpoint != "" {
		telCfg.OTLPEndpoint = cfg.OTLPEndpoint
	}
	shutdownTelemetry, err := telemetry.Init(ctx, telCfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	svc, err := stage.New(*cfg, logger.Slog())
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return svc.Run(runCtx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
