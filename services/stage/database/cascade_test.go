// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/aleutian-stage/services/stage/datatypes"
	"github.com/AleutianAI/aleutian-stage/services/stage/docstore"
)

func TestDeleteStageCascades(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestDatabase(t)
	fx := newJoinFixture(t, engine, "")

	user, err := engine.CreateUser(ctx, "uid-1", "Ada", "")
	require.NoError(t, err)
	device, err := engine.CreateDevice(ctx, datatypes.Device{UserID: user.ID, Name: "laptop", Online: true})
	require.NoError(t, err)
	require.NoError(t, engine.JoinStage(ctx, user.ID, datatypes.JoinStageRequest{StageID: fx.stage.ID, GroupID: fx.group.ID}))
	_, err = engine.CreateAudioProducer(ctx, user.ID, device.ID, "")
	require.NoError(t, err)

	// Viewer override on the group.
	_, err = engine.SetCustomGroup(ctx, user.ID, fx.group.ID, datatypes.Patch{"volume": 0.5})
	require.NoError(t, err)

	require.NoError(t, engine.DeleteStage(ctx, fx.stage.ID))

	assertEmpty := func(t *testing.T, collection string, filter docstore.Filter) {
		t.Helper()
		n, err := engine.store.Count(ctx, collection, filter)
		require.NoError(t, err)
		assert.Zero(t, n, collection)
	}

	t.Run("graph reachability from the stage is empty", func(t *testing.T) {
		assertEmpty(t, CollGroups, docstore.Filter{"stageId": fx.stage.ID})
		assertEmpty(t, CollStageMembers, docstore.Filter{"stageId": fx.stage.ID})
		assertEmpty(t, CollStageMemberAudios, docstore.Filter{"stageId": fx.stage.ID})
		assertEmpty(t, CollCustomGroups, docstore.Filter{"groupId": fx.group.ID})
		assertEmpty(t, CollCustomStageMembers, docstore.Filter{"userId": user.ID})
	})

	t.Run("joined user was walked through leave", func(t *testing.T) {
		left, err := engine.ReadUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Empty(t, left.StageID)
		assert.Empty(t, left.StageMemberID)
	})

	t.Run("global producer survives", func(t *testing.T) {
		producers, err := engine.ReadAudioProducersByUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Len(t, producers, 1, "stage deletion never touches device-level sources")
	})

	t.Run("second delete reports not found", func(t *testing.T) {
		assert.ErrorIs(t, engine.DeleteStage(ctx, fx.stage.ID), datatypes.ErrNotFound)
	})
}

func TestDeleteDeviceCascades(t *testing.T) {
	ctx := context.Background()
	engine, sender := newTestDatabase(t)
	fx := newJoinFixture(t, engine, "")

	user, err := engine.CreateUser(ctx, "uid-1", "Ada", "")
	require.NoError(t, err)
	device, err := engine.CreateDevice(ctx, datatypes.Device{UserID: user.ID, Name: "laptop", Online: true})
	require.NoError(t, err)
	require.NoError(t, engine.JoinStage(ctx, user.ID, datatypes.JoinStageRequest{StageID: fx.stage.ID, GroupID: fx.group.ID}))

	producer, err := engine.CreateAudioProducer(ctx, user.ID, device.ID, "")
	require.NoError(t, err)

	// A second joined user observes the removals.
	watcher, err := engine.CreateUser(ctx, "uid-2", "Grace", "")
	require.NoError(t, err)
	require.NoError(t, engine.JoinStage(ctx, watcher.ID, datatypes.JoinStageRequest{StageID: fx.stage.ID, GroupID: fx.group.ID}))

	sender.reset()
	require.NoError(t, engine.DeleteDevice(ctx, device.ID))

	t.Run("producer and projection removed", func(t *testing.T) {
		_, err := docstore.FindOne[datatypes.GlobalAudioProducer](ctx, engine.store, CollAudioProducers, docstore.Filter{"_id": producer.ID})
		assert.ErrorIs(t, err, docstore.ErrNoDocuments)
		n, err := engine.store.Count(ctx, CollStageMemberAudios, docstore.Filter{"globalProducerId": producer.ID})
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("presence recomputed to offline", func(t *testing.T) {
		joined, err := engine.ReadUser(ctx, user.ID)
		require.NoError(t, err)
		member, err := engine.ReadStageMember(ctx, joined.StageMemberID)
		require.NoError(t, err)
		assert.False(t, member.Online)
	})

	t.Run("joined watcher receives the projection removal", func(t *testing.T) {
		assert.Equal(t, 1, sender.countFor(watcher.ID, datatypes.EventStageMemberAudioRemoved))
	})
}

func TestDeleteUserSoleAdminRule(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestDatabase(t)

	user, err := engine.CreateUser(ctx, "uid-1", "Ada", "")
	require.NoError(t, err)
	other, err := engine.CreateUser(ctx, "uid-2", "Grace", "")
	require.NoError(t, err)

	solo, err := engine.CreateStage(ctx, user.ID, datatypes.AddStageRequest{Name: "solo"})
	require.NoError(t, err)
	shared, err := engine.CreateStage(ctx, user.ID, datatypes.AddStageRequest{Name: "shared"})
	require.NoError(t, err)
	require.NoError(t, engine.UpdateStage(ctx, shared.ID, datatypes.Patch{"admins": []string{user.ID, other.ID}}))

	_, err = engine.CreateSoundCard(ctx, datatypes.SoundCard{UserID: user.ID, Name: "scarlett", NumInputChannels: 2})
	require.NoError(t, err)

	require.NoError(t, engine.DeleteUser(ctx, user.ID))

	t.Run("sole-admin stage deleted", func(t *testing.T) {
		_, err := engine.ReadStage(ctx, solo.ID)
		assert.ErrorIs(t, err, datatypes.ErrNotFound)
	})

	t.Run("multi-admin stage survives", func(t *testing.T) {
		_, err := engine.ReadStage(ctx, shared.ID)
		assert.NoError(t, err)
	})

	t.Run("sound cards and presets are gone", func(t *testing.T) {
		cards, err := engine.ReadSoundCardsByUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Empty(t, cards)
		presets, err := engine.ReadTrackPresetsByUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Empty(t, presets)
	})
}

func TestDeleteSoundCardDetachesDevices(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestDatabase(t)

	user, err := engine.CreateUser(ctx, "uid-1", "Ada", "")
	require.NoError(t, err)
	card, err := engine.CreateSoundCard(ctx, datatypes.SoundCard{UserID: user.ID, Name: "scarlett", NumInputChannels: 4})
	require.NoError(t, err)
	device, err := engine.CreateDevice(ctx, datatypes.Device{
		UserID:       user.ID,
		Name:         "laptop",
		SoundCardIDs: []string{card.ID, "other-card"},
	})
	require.NoError(t, err)

	require.NoError(t, engine.DeleteSoundCard(ctx, card.ID))

	refreshed, err := engine.ReadDevice(ctx, device.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"other-card"}, refreshed.SoundCardIDs)

	tracks, err := engine.store.Count(ctx, CollTrackPresets, docstore.Filter{"soundCardId": card.ID})
	require.NoError(t, err)
	assert.Zero(t, tracks, "default preset cascaded")
}

func TestDeleteRouterClearsStageAssignment(t *testing.T) {
	ctx := context.Background()
	engine, sender := newTestDatabase(t)
	fx := newJoinFixture(t, engine, "")

	router, err := engine.CreateRouter(ctx, datatypes.Router{URL: "wss://relay-1", Server: "relay-host-1"})
	require.NoError(t, err)
	require.NoError(t, engine.UpdateStage(ctx, fx.stage.ID, datatypes.Patch{
		"ovServer": datatypes.OvServer{IPv4: "10.0.0.1", Port: 4464, RouterID: router.ID},
	}))

	sender.reset()
	require.NoError(t, engine.DeleteRouter(ctx, router.ID))

	stage, err := engine.ReadStage(ctx, fx.stage.ID)
	require.NoError(t, err)
	assert.Nil(t, stage.OvServer)

	groups, err := engine.ReadGroupsByStage(ctx, fx.stage.ID)
	require.NoError(t, err)
	assert.Len(t, groups, 1, "groups untouched")

	t.Run("removal is broadcast to all", func(t *testing.T) {
		found := false
		for _, e := range sender.all() {
			if e.Scope == "all" && e.Event == datatypes.EventRouterRemoved {
				found = true
			}
		}
		assert.True(t, found)
	})
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestDatabase(t)
	fx := newJoinFixture(t, engine, "")

	user, err := engine.CreateUser(ctx, "uid-1", "Ada", "")
	require.NoError(t, err)
	_, err = engine.CreateDevice(ctx, datatypes.Device{UserID: user.ID, Name: "old-session", Server: "dead-host", Online: true})
	require.NoError(t, err)
	survivor, err := engine.CreateDevice(ctx, datatypes.Device{UserID: user.ID, Name: "current", Server: "live-host", Online: true})
	require.NoError(t, err)

	router, err := engine.CreateRouter(ctx, datatypes.Router{URL: "wss://relay-1", Server: "dead-host"})
	require.NoError(t, err)
	require.NoError(t, engine.UpdateStage(ctx, fx.stage.ID, datatypes.Patch{
		"ovServer": datatypes.OvServer{IPv4: "10.0.0.1", Port: 4464, RouterID: router.ID},
	}))

	require.NoError(t, engine.Cleanup(ctx, "dead-host"))

	devices, err := engine.ReadDevicesByUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, survivor.ID, devices[0].ID)

	_, err = engine.ReadRouter(ctx, router.ID)
	assert.ErrorIs(t, err, datatypes.ErrNotFound)

	stage, err := engine.ReadStage(ctx, fx.stage.ID)
	require.NoError(t, err)
	assert.Nil(t, stage.OvServer)

	t.Run("dangling assignment without router is repaired", func(t *testing.T) {
		require.NoError(t, engine.UpdateStage(ctx, fx.stage.ID, datatypes.Patch{
			"ovServer": datatypes.OvServer{IPv4: "10.0.0.2", Port: 4464, RouterID: "ghost"},
		}))
		require.NoError(t, engine.CleanupStages(ctx))
		stage, err := engine.ReadStage(ctx, fx.stage.ID)
		require.NoError(t, err)
		assert.Nil(t, stage.OvServer)
	})
}
