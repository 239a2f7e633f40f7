// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/aleutian-stage/services/stage/database"
	"github.com/AleutianAI/aleutian-stage/services/stage/datatypes"
	"github.com/AleutianAI/aleutian-stage/services/stage/docstore"
	"github.com/AleutianAI/aleutian-stage/services/stage/handlers"
	storagebadger "github.com/AleutianAI/aleutian-stage/services/stage/storage/badger"
	"github.com/AleutianAI/aleutian-stage/services/stage/transport"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, apiKey string) (*gin.Engine, *database.Database) {
	t.Helper()
	db, err := storagebadger.Open(storagebadger.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	hub := transport.NewHub()
	engine, err := database.New(database.Config{
		Store:  docstore.New(db),
		Sender: hub,
	})
	require.NoError(t, err)

	router := gin.New()
	SetupRoutes(router, Deps{
		Session: handlers.Deps{
			Engine:        engine,
			Hub:           hub,
			ServerAddress: "localhost:4000",
		},
		APIKey: apiKey,
	})
	return router, engine
}

func TestHealthCheck(t *testing.T) {
	router, _ := newTestRouter(t, "")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "ok")
}

func TestRouterRegistryAuth(t *testing.T) {
	router, _ := newTestRouter(t, "secret")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/routers", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/routers", nil)
	req.Header.Set("X-API-Key", "secret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRouterRegistryDisabledWithoutKey(t *testing.T) {
	router, _ := newTestRouter(t, "")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/routers", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouterRegistryLifecycle(t *testing.T) {
	router, engine := newTestRouter(t, "secret")
	ctx := context.Background()

	body := `{"url": "wss://relay-1.example.com", "port": 443, "ipv4": "203.0.113.10"}`
	req := httptest.NewRequest(http.MethodPost, "/routers", strings.NewReader(body))
	req.Header.Set("X-API-Key", "secret")
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var created datatypes.Router
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	require.Equal(t, "localhost:4000", created.Server)

	// The registry reflects the stored record.
	stored, err := engine.ReadRouter(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "wss://relay-1.example.com", stored.URL)

	req = httptest.NewRequest(http.MethodPut, "/routers/"+created.ID, strings.NewReader(`{"port": 8443}`))
	req.Header.Set("X-API-Key", "secret")
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)
	stored, err = engine.ReadRouter(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, 8443, stored.Port)

	req = httptest.NewRequest(http.MethodDelete, "/routers/"+created.ID, nil)
	req.Header.Set("X-API-Key", "secret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)
	_, err = engine.ReadRouter(ctx, created.ID)
	require.ErrorIs(t, err, datatypes.ErrNotFound)

	// Deleting again is a 404.
	req = httptest.NewRequest(http.MethodDelete, "/routers/"+created.ID, nil)
	req.Header.Set("X-API-Key", "secret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebsocketEndpointRequiresUpgrade(t *testing.T) {
	router, _ := newTestRouter(t, "")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	// A plain GET without upgrade headers is rejected by the upgrader.
	require.Equal(t, http.StatusBadRequest, w.Code)
}
