// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/aleutian-stage/services/stage/database"
	"github.com/AleutianAI/aleutian-stage/services/stage/datatypes"
	"github.com/AleutianAI/aleutian-stage/services/stage/docstore"
	storagebadger "github.com/AleutianAI/aleutian-stage/services/stage/storage/badger"
)

type nopSender struct{}

func (nopSender) SendToUser(string, datatypes.EventName, any)   {}
func (nopSender) SendToSocket(string, datatypes.EventName, any) {}
func (nopSender) SendToAll(datatypes.EventName, any)            {}

func newTestEngine(t *testing.T) *database.Database {
	t.Helper()
	db, err := storagebadger.Open(storagebadger.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	engine, err := database.New(database.Config{Store: docstore.New(db), Sender: nopSender{}})
	require.NoError(t, err)
	return engine
}

func TestVerifyWithToken(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	authServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/profile", r.URL.Path)
		switch r.Header.Get("Authorization") {
		case "Bearer valid-token":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"_id":"ext-1","name":"Ada","avatarUrl":"https://example.com/a.png"}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer authServer.Close()

	authenticator, err := NewHTTPAuthenticator(Config{BaseURL: authServer.URL}, engine)
	require.NoError(t, err)

	t.Run("valid token creates the user on first contact", func(t *testing.T) {
		user, err := authenticator.VerifyWithToken(ctx, "valid-token")
		require.NoError(t, err)
		assert.Equal(t, "ext-1", user.UID)
		assert.Equal(t, "Ada", user.Name)
		assert.NotEmpty(t, user.ID)
	})

	t.Run("second verification reuses the record", func(t *testing.T) {
		first, err := authenticator.VerifyWithToken(ctx, "valid-token")
		require.NoError(t, err)
		second, err := authenticator.VerifyWithToken(ctx, "valid-token")
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("rejected token", func(t *testing.T) {
		_, err := authenticator.VerifyWithToken(ctx, "wrong")
		assert.ErrorIs(t, err, datatypes.ErrInvalidCredentials)
	})

	t.Run("empty token short-circuits", func(t *testing.T) {
		_, err := authenticator.VerifyWithToken(ctx, "")
		assert.ErrorIs(t, err, datatypes.ErrInvalidCredentials)
	})

	t.Run("missing base URL", func(t *testing.T) {
		_, err := NewHTTPAuthenticator(Config{}, engine)
		assert.Error(t, err)
	})
}
