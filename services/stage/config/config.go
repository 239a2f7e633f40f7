// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads server configuration from the environment, with an
// optional YAML file overlay. A .env file in the working directory is
// honored for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/aleutian-stage/pkg/validation"
)

// Config holds everything the stage server needs at startup.
type Config struct {
	// Port the HTTP/websocket listener binds.
	Port string `yaml:"port"`

	// ServerAddress identifies this process in device and router records;
	// the startup cleanup pass removes leftovers recorded against it.
	ServerAddress string `yaml:"serverAddress"`

	// BadgerPath is the on-disk location of the document store.
	BadgerPath string `yaml:"badgerPath"`

	// AuthURL is the base URL of the external auth server.
	AuthURL string `yaml:"authUrl"`

	// APIKey guards the router registry endpoints.
	APIKey string `yaml:"apiKey"`

	// CleanupInterval between periodic reconciliation passes.
	CleanupInterval time.Duration `yaml:"cleanupInterval"`

	// DebugEvents logs every fanout decision.
	DebugEvents bool `yaml:"debugEvents"`

	// DebugPayload additionally logs payloads.
	DebugPayload bool `yaml:"debugPayload"`

	// OTLPEndpoint receives traces when set.
	OTLPEndpoint string `yaml:"otlpEndpoint"`
}

func getEnvOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && value
}

// Load reads the environment (and .env, if present), then overlays the
// YAML file named by STAGE_CONFIG when set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnvOr("PORT", "4000"),
		ServerAddress:   getEnvOr("SERVER_ADDRESS", "localhost:4000"),
		BadgerPath:      getEnvOr("BADGER_PATH", "./data/stage"),
		AuthURL:         getEnvOr("AUTH_URL", "http://localhost:5000"),
		APIKey:          os.Getenv("API_KEY"),
		CleanupInterval: 10 * time.Minute,
		DebugEvents:     getEnvBool("DEBUG_EVENTS"),
		DebugPayload:    getEnvBool("DEBUG_PAYLOAD"),
		OTLPEndpoint:    os.Getenv("OTLP_ENDPOINT"),
	}

	if interval := os.Getenv("CLEANUP_INTERVAL"); interval != "" {
		parsed, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("parse CLEANUP_INTERVAL: %w", err)
		}
		cfg.CleanupInterval = parsed
	}

	if path := os.Getenv("STAGE_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Port == "" {
		return fmt.Errorf("port must not be empty")
	}
	if err := validation.ValidateServerAddress(c.ServerAddress); err != nil {
		return fmt.Errorf("server address: %w", err)
	}
	if c.AuthURL == "" {
		return fmt.Errorf("auth URL must not be empty")
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup interval must be positive")
	}
	return nil
}
