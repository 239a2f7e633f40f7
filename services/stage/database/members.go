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

	"github.com/AleutianAI/aleutian-stage/services/stage/datatypes"
	"github.com/AleutianAI/aleutian-stage/services/stage/docstore"
)

func (d *Database) ReadStageMember(ctx context.Context, id string) (*datatypes.StageMember, error) {
	member, err := docstore.FindOne[datatypes.StageMember](ctx, d.store, CollStageMembers, docstore.Filter{"_id": id})
	return member, mapNotFound(err)
}

func (d *Database) ReadStageMembersByStage(ctx context.Context, stageID string) ([]datatypes.StageMember, error) {
	return docstore.FindMany[datatypes.StageMember](ctx, d.store, CollStageMembers, docstore.Filter{"stageId": stageID})
}

// UpdateStageMember applies a partial patch (position, volume, group,
// director flag) and notifies everyone currently inside the stage.
func (d *Database) UpdateStageMember(ctx context.Context, id string, patch datatypes.Patch) error {
	d.orderMu.Lock()
	defer d.orderMu.Unlock()
	member, _, err := docstore.FindOneAndUpdate[datatypes.StageMember](ctx, d.store, CollStageMembers, docstore.Filter{"_id": id}, patch, false)
	if err != nil {
		return mapNotFound(err)
	}
	payload := patch.WithID(id)
	d.emit(datatypes.EventStageMemberChanged, payload)
	d.SendToJoinedStageMembers(ctx, member.StageID, datatypes.EventStageMemberChanged, payload)
	return nil
}

// DeleteStageMember removes a membership record and everything scoped to
// it: viewer overrides and the member's audio, video and ov projections.
func (d *Database) DeleteStageMember(ctx context.Context, id string) error {
	member, err := docstore.FindOneAndDelete[datatypes.StageMember](ctx, d.store, CollStageMembers, docstore.Filter{"_id": id})
	if err != nil {
		return mapNotFound(err)
	}

	customs, err := docstore.DeleteMany[datatypes.CustomStageMember](ctx, d.store, CollCustomStageMembers, docstore.Filter{"stageMemberId": id})
	if err != nil {
		d.logCascade("delete stage member: delete customs", err)
	}
	for _, custom := range customs {
		d.emit(datatypes.EventCustomStageMemberRemoved, custom.ID)
		d.SendToUser(custom.UserID, datatypes.EventCustomStageMemberRemoved, custom.ID)
	}

	audios, err := docstore.DeleteMany[datatypes.StageMemberAudioProducer](ctx, d.store, CollStageMemberAudios, docstore.Filter{"stageMemberId": id})
	if err != nil {
		d.logCascade("delete stage member: delete audio projections", err)
	}
	for _, projection := range audios {
		d.deleteCustomAudioProducers(ctx, projection.ID)
		d.emit(datatypes.EventStageMemberAudioRemoved, projection.ID)
		d.SendToJoinedStageMembers(ctx, member.StageID, datatypes.EventStageMemberAudioRemoved, projection.ID)
	}

	videos, err := docstore.DeleteMany[datatypes.StageMemberVideoProducer](ctx, d.store, CollStageMemberVideos, docstore.Filter{"stageMemberId": id})
	if err != nil {
		d.logCascade("delete stage member: delete video projections", err)
	}
	for _, projection := range videos {
		d.emit(datatypes.EventStageMemberVideoRemoved, projection.ID)
		d.SendToJoinedStageMembers(ctx, member.StageID, datatypes.EventStageMemberVideoRemoved, projection.ID)
	}

	ovs, err := docstore.DeleteMany[datatypes.StageMemberOvTrack](ctx, d.store, CollStageMemberOvs, docstore.Filter{"stageMemberId": id})
	if err != nil {
		d.logCascade("delete stage member: delete ov projections", err)
	}
	for _, projection := range ovs {
		d.deleteCustomOvTracks(ctx, projection.ID)
		d.emit(datatypes.EventStageMemberOvRemoved, projection.ID)
		d.SendToJoinedStageMembers(ctx, member.StageID, datatypes.EventStageMemberOvRemoved, projection.ID)
	}

	d.emit(datatypes.EventStageMemberRemoved, member.ID)
	d.SendToJoinedStageMembers(ctx, member.StageID, datatypes.EventStageMemberRemoved, member.ID)
	return nil
}

// deleteCustomAudioProducers clears viewer overrides scoped to a deleted
// audio projection.
func (d *Database) deleteCustomAudioProducers(ctx context.Context, projectionID string) {
	customs, err := docstore.DeleteMany[datatypes.CustomStageMemberAudioProducer](ctx, d.store, CollCustomStageMemberAudios, docstore.Filter{"stageMemberAudioProducerId": projectionID})
	if err != nil {
		d.logCascade("delete custom audio producers for "+projectionID, err)
		return
	}
	for _, custom := range customs {
		d.emit(datatypes.EventCustomStageMemberAudioRemoved, custom.ID)
		d.SendToUser(custom.UserID, datatypes.EventCustomStageMemberAudioRemoved, custom.ID)
	}
}

// deleteCustomOvTracks clears viewer overrides scoped to a deleted ov
// projection.
func (d *Database) deleteCustomOvTracks(ctx context.Context, projectionID string) {
	customs, err := docstore.DeleteMany[datatypes.CustomStageMemberOvTrack](ctx, d.store, CollCustomStageMemberOvs, docstore.Filter{"stageMemberOvTrackId": projectionID})
	if err != nil {
		d.logCascade("delete custom ov tracks for "+projectionID, err)
		return
	}
	for _, custom := range customs {
		d.emit(datatypes.EventCustomStageMemberOvRemoved, custom.ID)
		d.SendToUser(custom.UserID, datatypes.EventCustomStageMemberOvRemoved, custom.ID)
	}
}
