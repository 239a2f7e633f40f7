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

func TestSetCustomGroup(t *testing.T) {
	ctx := context.Background()
	engine, sender := newTestDatabase(t)
	fx := newJoinFixture(t, engine, "")

	viewer, err := engine.CreateUser(ctx, "uid-1", "Ada", "")
	require.NoError(t, err)
	bystander, err := engine.CreateUser(ctx, "uid-2", "Grace", "")
	require.NoError(t, err)
	require.NoError(t, engine.JoinStage(ctx, bystander.ID, datatypes.JoinStageRequest{StageID: fx.stage.ID, GroupID: fx.group.ID}))

	t.Run("empty patch rejected", func(t *testing.T) {
		_, err := engine.SetCustomGroup(ctx, viewer.ID, fx.group.ID, datatypes.Patch{})
		assert.ErrorIs(t, err, datatypes.ErrNoPayload)
	})

	sender.reset()

	t.Run("first write creates and emits Added", func(t *testing.T) {
		custom, err := engine.SetCustomGroup(ctx, viewer.ID, fx.group.ID, datatypes.Patch{"volume": 0.5, "muted": true})
		require.NoError(t, err)
		require.NotEmpty(t, custom.ID)
		assert.Equal(t, 0.5, custom.Volume)
		assert.True(t, custom.Muted)
		assert.Equal(t, fx.group.ID, custom.GroupID)

		events := sender.forUser(viewer.ID)
		require.Len(t, events, 1)
		assert.Equal(t, datatypes.EventCustomGroupAdded, events[0].Event)
	})

	t.Run("second write patches and emits Changed", func(t *testing.T) {
		sender.reset()
		custom, err := engine.SetCustomGroup(ctx, viewer.ID, fx.group.ID, datatypes.Patch{"volume": 0.8})
		require.NoError(t, err)
		assert.Equal(t, 0.8, custom.Volume)
		assert.True(t, custom.Muted, "unpatched field survives")

		events := sender.forUser(viewer.ID)
		require.Len(t, events, 1)
		assert.Equal(t, datatypes.EventCustomGroupChanged, events[0].Event)
		patch, ok := events[0].Payload.(datatypes.Patch)
		require.True(t, ok)
		assert.Equal(t, custom.ID, patch["_id"])

		n, err := engine.store.Count(ctx, CollCustomGroups, docstore.Filter{"userId": viewer.ID, "groupId": fx.group.ID})
		require.NoError(t, err)
		assert.Equal(t, 1, n, "upsert never duplicates")
	})

	t.Run("overrides stay private to the viewer", func(t *testing.T) {
		assert.Empty(t, sender.forUser(bystander.ID))
	})

	t.Run("idempotent with identical fields", func(t *testing.T) {
		first, err := engine.SetCustomGroup(ctx, viewer.ID, fx.group.ID, datatypes.Patch{"volume": 0.8})
		require.NoError(t, err)
		second, err := engine.SetCustomGroup(ctx, viewer.ID, fx.group.ID, datatypes.Patch{"volume": 0.8})
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})
}

func TestSetCustomStageMemberFamilies(t *testing.T) {
	ctx := context.Background()
	engine, sender := newTestDatabase(t)
	fx := newJoinFixture(t, engine, "")

	performer, err := engine.CreateUser(ctx, "uid-1", "Ada", "")
	require.NoError(t, err)
	device, err := engine.CreateDevice(ctx, datatypes.Device{UserID: performer.ID, Name: "laptop", Online: true})
	require.NoError(t, err)
	require.NoError(t, engine.JoinStage(ctx, performer.ID, datatypes.JoinStageRequest{StageID: fx.stage.ID, GroupID: fx.group.ID}))
	_, err = engine.CreateAudioProducer(ctx, performer.ID, device.ID, "")
	require.NoError(t, err)

	viewer, err := engine.CreateUser(ctx, "uid-2", "Grace", "")
	require.NoError(t, err)
	require.NoError(t, engine.JoinStage(ctx, viewer.ID, datatypes.JoinStageRequest{StageID: fx.stage.ID, GroupID: fx.group.ID}))

	joined, err := engine.ReadUser(ctx, performer.ID)
	require.NoError(t, err)

	t.Run("stage member override", func(t *testing.T) {
		sender.reset()
		custom, err := engine.SetCustomStageMember(ctx, viewer.ID, joined.StageMemberID, datatypes.Patch{"volume": 0.2, "x": 3.0})
		require.NoError(t, err)
		assert.Equal(t, 0.2, custom.Volume)
		assert.Equal(t, 3.0, custom.X)
		assert.Equal(t, 1, sender.countFor(viewer.ID, datatypes.EventCustomStageMemberAdded))
		assert.Empty(t, sender.forUser(performer.ID), "target user is not notified")
	})

	t.Run("audio producer override", func(t *testing.T) {
		projections, err := docstore.FindMany[datatypes.StageMemberAudioProducer](ctx, engine.store, CollStageMemberAudios,
			docstore.Filter{"stageMemberId": joined.StageMemberID})
		require.NoError(t, err)
		require.Len(t, projections, 1)

		custom, err := engine.SetCustomStageMemberAudio(ctx, viewer.ID, projections[0].ID, datatypes.Patch{"muted": true})
		require.NoError(t, err)
		assert.True(t, custom.Muted)
		assert.Equal(t, projections[0].ID, custom.StageMemberAudioProducerID)

		_, err = engine.SetCustomStageMemberAudio(ctx, viewer.ID, projections[0].ID, datatypes.Patch{"volume": 0.1})
		require.NoError(t, err)
		assert.Equal(t, 1, sender.countFor(viewer.ID, datatypes.EventCustomStageMemberAudioAdded))
		assert.Equal(t, 1, sender.countFor(viewer.ID, datatypes.EventCustomStageMemberAudioChanged))
	})

	t.Run("canonical entity is untouched", func(t *testing.T) {
		member, err := engine.ReadStageMember(ctx, joined.StageMemberID)
		require.NoError(t, err)
		assert.Equal(t, 1.0, member.Volume)
		assert.False(t, member.Muted)
	})
}
