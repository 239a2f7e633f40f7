// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package docstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storagebadger "github.com/AleutianAI/aleutian-stage/services/stage/storage/badger"
)

type testStage struct {
	ID     string   `json:"_id"`
	Name   string   `json:"name"`
	Admins []string `json:"admins"`
	Width  float64  `json:"width"`
	Server *struct {
		Router string `json:"router"`
	} `json:"ovServer,omitempty"`
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storagebadger.Open(storagebadger.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	return New(db)
}

func TestInsertAndFindOne(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	stage := testStage{ID: "s1", Name: "rehearsal", Admins: []string{"u1"}, Width: 13}
	require.NoError(t, store.Insert(ctx, "stages", stage))

	t.Run("by id", func(t *testing.T) {
		found, err := FindOne[testStage](ctx, store, "stages", Filter{"_id": "s1"})
		require.NoError(t, err)
		assert.Equal(t, "rehearsal", found.Name)
		assert.Equal(t, 13.0, found.Width)
	})

	t.Run("by field", func(t *testing.T) {
		found, err := FindOne[testStage](ctx, store, "stages", Filter{"name": "rehearsal"})
		require.NoError(t, err)
		assert.Equal(t, "s1", found.ID)
	})

	t.Run("no match", func(t *testing.T) {
		_, err := FindOne[testStage](ctx, store, "stages", Filter{"name": "concert"})
		assert.ErrorIs(t, err, ErrNoDocuments)
	})

	t.Run("missing id rejected", func(t *testing.T) {
		err := store.Insert(ctx, "stages", testStage{Name: "anonymous"})
		assert.ErrorIs(t, err, ErrMissingID)
	})
}

func TestArrayFilterSemantics(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Insert(ctx, "stages", testStage{ID: "solo", Admins: []string{"u1"}}))
	require.NoError(t, store.Insert(ctx, "stages", testStage{ID: "shared", Admins: []string{"u1", "u2"}}))

	t.Run("scalar against array means contains", func(t *testing.T) {
		found, err := FindMany[testStage](ctx, store, "stages", Filter{"admins": "u1"})
		require.NoError(t, err)
		assert.Len(t, found, 2)
	})

	t.Run("slice against array means exact equality", func(t *testing.T) {
		found, err := FindMany[testStage](ctx, store, "stages", Filter{"admins": []string{"u1"}})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "solo", found[0].ID)
	})
}

func TestMatchers(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	withServer := testStage{ID: "a", Name: "one"}
	withServer.Server = &struct {
		Router string `json:"router"`
	}{Router: "r1"}
	require.NoError(t, store.Insert(ctx, "stages", withServer))
	require.NoError(t, store.Insert(ctx, "stages", testStage{ID: "b", Name: "two"}))
	require.NoError(t, store.Insert(ctx, "stages", testStage{ID: "c", Name: "three"}))

	t.Run("in", func(t *testing.T) {
		found, err := FindMany[testStage](ctx, store, "stages", Filter{"_id": In("a", "c")})
		require.NoError(t, err)
		assert.Len(t, found, 2)
	})

	t.Run("not nil on nested path", func(t *testing.T) {
		found, err := FindMany[testStage](ctx, store, "stages", Filter{"ovServer.router": NotNil()})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "a", found[0].ID)
	})

	t.Run("nil on nested path", func(t *testing.T) {
		found, err := FindMany[testStage](ctx, store, "stages", Filter{"ovServer": Nil()})
		require.NoError(t, err)
		assert.Len(t, found, 2)
	})

	t.Run("nested path literal", func(t *testing.T) {
		found, err := FindOne[testStage](ctx, store, "stages", Filter{"ovServer.router": "r1"})
		require.NoError(t, err)
		assert.Equal(t, "a", found.ID)
	})
}

func TestFindOneAndUpdate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Insert(ctx, "stages", testStage{ID: "s1", Name: "before", Width: 13}))

	t.Run("patch existing", func(t *testing.T) {
		updated, created, err := FindOneAndUpdate[testStage](ctx, store, "stages", Filter{"_id": "s1"}, map[string]any{"name": "after"}, false)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "after", updated.Name)
		assert.Equal(t, 13.0, updated.Width, "unpatched fields survive")
	})

	t.Run("nested patch path", func(t *testing.T) {
		updated, _, err := FindOneAndUpdate[testStage](ctx, store, "stages", Filter{"_id": "s1"}, map[string]any{"ovServer.router": "r9"}, false)
		require.NoError(t, err)
		require.NotNil(t, updated.Server)
		assert.Equal(t, "r9", updated.Server.Router)
	})

	t.Run("missing without upsert", func(t *testing.T) {
		_, _, err := FindOneAndUpdate[testStage](ctx, store, "stages", Filter{"_id": "nope"}, map[string]any{"name": "x"}, false)
		assert.ErrorIs(t, err, ErrNoDocuments)
	})

	t.Run("upsert seeds from filter and generates id", func(t *testing.T) {
		created1, wasCreated, err := FindOneAndUpdate[testStage](ctx, store, "customs", Filter{"name": "member-a"}, map[string]any{"width": 2}, true)
		require.NoError(t, err)
		assert.True(t, wasCreated)
		assert.NotEmpty(t, created1.ID)
		assert.Equal(t, "member-a", created1.Name)

		// Second upsert against the same filter patches instead.
		updated, wasCreated, err := FindOneAndUpdate[testStage](ctx, store, "customs", Filter{"name": "member-a"}, map[string]any{"width": 3}, true)
		require.NoError(t, err)
		assert.False(t, wasCreated)
		assert.Equal(t, created1.ID, updated.ID)
		assert.Equal(t, 3.0, updated.Width)
	})
}

func TestFindOneAndDeleteSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Insert(ctx, "stages", testStage{ID: "target", Name: "doomed"}))

	const racers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := FindOneAndDelete[testStage](ctx, store, "stages", Filter{"_id": "target"})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, ErrNoDocuments) {
				t.Errorf("unexpected delete error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one concurrent delete succeeds")
	_, err := FindOne[testStage](ctx, store, "stages", Filter{"_id": "target"})
	assert.ErrorIs(t, err, ErrNoDocuments)
}

func TestCount(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, s := range []testStage{
		{ID: "a", Name: "keep", Width: 1},
		{ID: "b", Name: "drop", Width: 1},
		{ID: "c", Name: "drop", Width: 2},
	} {
		require.NoError(t, store.Insert(ctx, "stages", s))
	}

	n, err := store.Count(ctx, "stages", Filter{"name": "drop"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := store.Count(ctx, "stages", Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, all)
}

func TestUpdateMany(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, s := range []testStage{
		{ID: "a", Name: "old"},
		{ID: "b", Name: "old"},
		{ID: "c", Name: "other"},
	} {
		require.NoError(t, store.Insert(ctx, "stages", s))
	}

	updated, err := UpdateMany[testStage](ctx, store, "stages", Filter{"name": "old"}, map[string]any{"name": "new"})
	require.NoError(t, err)
	assert.Len(t, updated, 2)

	remaining, err := FindMany[testStage](ctx, store, "stages", Filter{"name": "old"})
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestDeleteMany(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, s := range []testStage{
		{ID: "a", Name: "drop"},
		{ID: "b", Name: "drop"},
		{ID: "c", Name: "keep"},
	} {
		require.NoError(t, store.Insert(ctx, "stages", s))
	}

	deleted, err := DeleteMany[testStage](ctx, store, "stages", Filter{"name": "drop"})
	require.NoError(t, err)
	assert.Len(t, deleted, 2)

	n, err := store.Count(ctx, "stages", Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
