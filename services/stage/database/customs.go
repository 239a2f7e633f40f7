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
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/aleutian-stage/services/stage/datatypes"
	"github.com/AleutianAI/aleutian-stage/services/stage/docstore"
)

// Custom overrides are a viewer's private adjustments (volume, mute,
// position, gain) layered over canonical entities. They never mutate the
// canonical record and are never broadcast to other participants: the
// resulting events go to the viewer only. Writes are upserts keyed on
// (viewer, target); the first write creates the record and emits an Added
// event with the full document, later writes patch it and emit Changed with
// the patch plus id. This is the one entity family with upsert semantics.

// setCustom is the shared upsert. targetField names the stored foreign key
// ("groupId", "stageMemberId", ...).
func setCustom[T any](ctx context.Context, d *Database, collection, targetField, userID, targetID string, patch datatypes.Patch,
	added, changed datatypes.EventName) (*T, error) {
	if len(patch) == 0 {
		return nil, datatypes.ErrNoPayload
	}

	filter := docstore.Filter{"userId": userID, targetField: targetID}
	d.orderMu.Lock()
	defer d.orderMu.Unlock()
	doc, created, err := docstore.FindOneAndUpdate[map[string]any](ctx, d.store, collection, filter, patch, true)
	if err != nil {
		return nil, fmt.Errorf("set custom %s: %w", targetField, err)
	}
	id, _ := (*doc)["_id"].(string)

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("set custom %s: %w", targetField, err)
	}
	var record T
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("set custom %s: %w", targetField, err)
	}

	if created {
		d.emit(added, record)
		d.SendToUser(userID, added, record)
		return &record, nil
	}
	payload := patch.WithID(id)
	d.emit(changed, payload)
	d.SendToUser(userID, changed, payload)
	return &record, nil
}

// SetCustomGroup upserts the viewer's override for a group.
func (d *Database) SetCustomGroup(ctx context.Context, userID, groupID string, patch datatypes.Patch) (*datatypes.CustomGroup, error) {
	return setCustom[datatypes.CustomGroup](ctx, d, CollCustomGroups, "groupId", userID, groupID, patch,
		datatypes.EventCustomGroupAdded, datatypes.EventCustomGroupChanged)
}

// SetCustomStageMember upserts the viewer's override for a stage member.
func (d *Database) SetCustomStageMember(ctx context.Context, userID, stageMemberID string, patch datatypes.Patch) (*datatypes.CustomStageMember, error) {
	return setCustom[datatypes.CustomStageMember](ctx, d, CollCustomStageMembers, "stageMemberId", userID, stageMemberID, patch,
		datatypes.EventCustomStageMemberAdded, datatypes.EventCustomStageMemberChanged)
}

// SetCustomStageMemberAudio upserts the viewer's override for a
// stage-scoped audio producer.
func (d *Database) SetCustomStageMemberAudio(ctx context.Context, userID, projectionID string, patch datatypes.Patch) (*datatypes.CustomStageMemberAudioProducer, error) {
	return setCustom[datatypes.CustomStageMemberAudioProducer](ctx, d, CollCustomStageMemberAudios, "stageMemberAudioProducerId", userID, projectionID, patch,
		datatypes.EventCustomStageMemberAudioAdded, datatypes.EventCustomStageMemberAudioChanged)
}

// SetCustomStageMemberOvTrack upserts the viewer's override for a
// stage-scoped ov track.
func (d *Database) SetCustomStageMemberOvTrack(ctx context.Context, userID, projectionID string, patch datatypes.Patch) (*datatypes.CustomStageMemberOvTrack, error) {
	return setCustom[datatypes.CustomStageMemberOvTrack](ctx, d, CollCustomStageMemberOvs, "stageMemberOvTrackId", userID, projectionID, patch,
		datatypes.EventCustomStageMemberOvAdded, datatypes.EventCustomStageMemberOvChanged)
}
