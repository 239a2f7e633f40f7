// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stage composes the realtime stage server: storage, engine,
// transport hub, auth, HTTP surface, and the periodic cleanup loop.
package stage

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/aleutian-stage/services/stage/auth"
	"github.com/AleutianAI/aleutian-stage/services/stage/config"
	"github.com/AleutianAI/aleutian-stage/services/stage/database"
	"github.com/AleutianAI/aleutian-stage/services/stage/docstore"
	"github.com/AleutianAI/aleutian-stage/services/stage/handlers"
	"github.com/AleutianAI/aleutian-stage/services/stage/routes"
	storagebadger "github.com/AleutianAI/aleutian-stage/services/stage/storage/badger"
	"github.com/AleutianAI/aleutian-stage/services/stage/transport"
)

// Service is a fully wired stage server.
type Service struct {
	cfg    config.Config
	logger *slog.Logger

	db     *storagebadger.DB
	engine *database.Database
	hub    *transport.Hub
	router *gin.Engine
}

// New wires a Service from configuration. Call Run to serve and Close to
// release storage.
func New(cfg config.Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := storagebadger.Open(storagebadger.DefaultConfig(cfg.BadgerPath))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	hub := transport.NewHub()
	engine, err := database.New(database.Config{
		Store:        docstore.New(db),
		Sender:       hub,
		Logger:       logger,
		DebugEvents:  cfg.DebugEvents,
		DebugPayload: cfg.DebugPayload,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	authenticator, err := auth.NewHTTPAuthenticator(auth.Config{
		BaseURL: cfg.AuthURL,
		Logger:  logger,
	}, engine)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	router := gin.New()
	router.Use(gin.Recovery())
	routes.SetupRoutes(router, routes.Deps{
		Session: handlers.Deps{
			Engine:        engine,
			Hub:           hub,
			Auth:          authenticator,
			Logger:        logger,
			ServerAddress: cfg.ServerAddress,
		},
		APIKey: cfg.APIKey,
	})

	return &Service{
		cfg:    cfg,
		logger: logger,
		db:     db,
		engine: engine,
		hub:    hub,
		router: router,
	}, nil
}

// Engine exposes the synchronization engine for testing.
func (s *Service) Engine() *database.Database { return s.engine }

// Router exposes the gin engine for testing.
func (s *Service) Router() *gin.Engine { return s.router }

// Run serves until ctx is canceled, then drains the HTTP server and closes
// storage. Stale state owned by this server address is purged on startup
// and on every cleanup tick.
func (s *Service) Run(ctx context.Context) error {
	if err := s.engine.Cleanup(ctx, s.cfg.ServerAddress); err != nil {
		s.logger.Error("startup cleanup failed", slog.String("error", err.Error()))
	}

	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("stage server listening",
			slog.String("port", s.cfg.Port),
			slog.String("serverAddress", s.cfg.ServerAddress))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(s.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := s.engine.CleanupStages(ctx); err != nil {
					s.logger.Error("periodic cleanup failed", slog.String("error", err.Error()))
				}
			}
		}
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if closeErr := s.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Close releases storage. Safe after Run has returned.
func (s *Service) Close() error {
	return s.db.Close()
}
