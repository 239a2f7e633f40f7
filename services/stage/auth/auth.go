// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package auth verifies client tokens against the external auth server and
// resolves them to engine users. Identity verification itself is out of
// scope for the engine; this package only consumes an already-running
// authority over HTTP.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/aleutian-stage/services/stage/database"
	"github.com/AleutianAI/aleutian-stage/services/stage/datatypes"
)

// Authenticator resolves a bearer token to a stage user.
type Authenticator interface {
	// VerifyWithToken returns the user for a valid token, creating the
	// user record on first contact. Invalid tokens return
	// datatypes.ErrInvalidCredentials.
	VerifyWithToken(ctx context.Context, token string) (*datatypes.User, error)
}

// profile is the auth server's /profile response.
type profile struct {
	ID        string `json:"_id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
}

// HTTPAuthenticator verifies tokens by calling GET {BaseURL}/profile with
// the token as a bearer credential.
type HTTPAuthenticator struct {
	baseURL string
	client  *http.Client
	db      *database.Database
	logger  *slog.Logger
}

// Config for the HTTP authenticator.
type Config struct {
	// BaseURL of the auth server, without trailing slash.
	BaseURL string

	// Timeout for the profile request. Zero means 10 seconds.
	Timeout time.Duration

	Logger *slog.Logger
}

// NewHTTPAuthenticator creates the default authenticator backed by the
// external auth server.
func NewHTTPAuthenticator(cfg Config, db *database.Database) (*HTTPAuthenticator, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("auth: base URL is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPAuthenticator{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
		db:      db,
		logger:  logger,
	}, nil
}

// VerifyWithToken fetches the profile for the token and finds or creates
// the matching user by external uid.
func (a *HTTPAuthenticator) VerifyWithToken(ctx context.Context, token string) (*datatypes.User, error) {
	if token == "" {
		return nil, datatypes.ErrInvalidCredentials
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/profile", nil)
	if err != nil {
		return nil, fmt.Errorf("auth: build profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: profile request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		a.logger.Debug("auth server rejected token", slog.Int("status", resp.StatusCode))
		return nil, datatypes.ErrInvalidCredentials
	}

	var p profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("auth: decode profile: %w", err)
	}
	if p.ID == "" {
		return nil, datatypes.ErrInvalidCredentials
	}

	user, err := a.db.ReadUserByUID(ctx, p.ID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, datatypes.ErrNotFound) {
		return nil, fmt.Errorf("auth: read user: %w", err)
	}
	return a.db.CreateUser(ctx, p.ID, p.Name, p.AvatarURL)
}
