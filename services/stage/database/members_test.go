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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/aleutian-stage/services/stage/datatypes"
)

// Concurrent patches to one member must reach a recipient in store commit
// order: whatever volume the store ends up holding is also the volume of
// the last delivered patch.
func TestStageMemberUpdateOrdering(t *testing.T) {
	ctx := context.Background()
	engine, sender := newTestDatabase(t)
	fx := newJoinFixture(t, engine, "")

	user, err := engine.CreateUser(ctx, "uid-1", "Ada", "")
	require.NoError(t, err)
	require.NoError(t, engine.JoinStage(ctx, user.ID, datatypes.JoinStageRequest{StageID: fx.stage.ID, GroupID: fx.group.ID}))
	joined, err := engine.ReadUser(ctx, user.ID)
	require.NoError(t, err)
	memberID := joined.StageMemberID

	sender.reset()

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(volume float64) {
			defer wg.Done()
			assert.NoError(t, engine.UpdateStageMember(ctx, memberID, datatypes.Patch{"volume": volume}))
		}(float64(i))
	}
	wg.Wait()

	member, err := engine.ReadStageMember(ctx, memberID)
	require.NoError(t, err)

	var last datatypes.Patch
	for _, e := range sender.forUser(user.ID) {
		if e.Event == datatypes.EventStageMemberChanged {
			last = e.Payload.(datatypes.Patch)
		}
	}
	require.NotNil(t, last)
	assert.Equal(t, member.Volume, last["volume"], "last delivered patch matches the stored state")
}
