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
	"fmt"

	"github.com/AleutianAI/aleutian-stage/services/stage/datatypes"
	"github.com/AleutianAI/aleutian-stage/services/stage/docstore"
)

// CreateGroup adds a sub-division to a stage and announces it to the
// stage's admins and members.
func (d *Database) CreateGroup(ctx context.Context, stageID, name string) (*datatypes.Group, error) {
	group := datatypes.Group{
		ID:      docstore.NewID(),
		StageID: stageID,
		Name:    name,
	}
	group.Volume = 1
	if err := d.store.Insert(ctx, CollGroups, group); err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	d.emit(datatypes.EventGroupAdded, group)
	d.SendToStage(ctx, stageID, datatypes.EventGroupAdded, group)
	return &group, nil
}

func (d *Database) ReadGroup(ctx context.Context, id string) (*datatypes.Group, error) {
	group, err := docstore.FindOne[datatypes.Group](ctx, d.store, CollGroups, docstore.Filter{"_id": id})
	return group, mapNotFound(err)
}

func (d *Database) ReadGroupsByStage(ctx context.Context, stageID string) ([]datatypes.Group, error) {
	return docstore.FindMany[datatypes.Group](ctx, d.store, CollGroups, docstore.Filter{"stageId": stageID})
}

func (d *Database) UpdateGroup(ctx context.Context, id string, patch datatypes.Patch) error {
	d.orderMu.Lock()
	defer d.orderMu.Unlock()
	group, _, err := docstore.FindOneAndUpdate[datatypes.Group](ctx, d.store, CollGroups, docstore.Filter{"_id": id}, patch, false)
	if err != nil {
		return mapNotFound(err)
	}
	payload := patch.WithID(id)
	d.emit(datatypes.EventGroupChanged, payload)
	d.SendToStage(ctx, group.StageID, datatypes.EventGroupChanged, payload)
	return nil
}

// DeleteGroup removes a group. Members currently online are first walked
// through the regular leave transition so their users and the remaining
// participants observe a clean departure, then every member record and the
// group's viewer overrides are deleted.
func (d *Database) DeleteGroup(ctx context.Context, id string) error {
	group, err := docstore.FindOneAndDelete[datatypes.Group](ctx, d.store, CollGroups, docstore.Filter{"_id": id})
	if err != nil {
		return mapNotFound(err)
	}

	members, err := docstore.FindMany[datatypes.StageMember](ctx, d.store, CollStageMembers, docstore.Filter{"groupId": id})
	if err != nil {
		d.logCascade("delete group: find members", err)
	}
	for _, member := range members {
		if member.Online {
			if err := d.LeaveStage(ctx, member.UserID); err != nil {
				d.logCascade("delete group: leave stage for user "+member.UserID, err)
			}
		}
		if err := d.DeleteStageMember(ctx, member.ID); err != nil {
			d.logCascade("delete group: delete member "+member.ID, err)
		}
	}

	customs, err := docstore.DeleteMany[datatypes.CustomGroup](ctx, d.store, CollCustomGroups, docstore.Filter{"groupId": id})
	if err != nil {
		d.logCascade("delete group: delete custom groups", err)
	}
	for _, custom := range customs {
		d.emit(datatypes.EventCustomGroupRemoved, custom.ID)
		d.SendToUser(custom.UserID, datatypes.EventCustomGroupRemoved, custom.ID)
	}

	d.emit(datatypes.EventGroupRemoved, group.ID)
	d.SendToStage(ctx, group.StageID, datatypes.EventGroupRemoved, group.ID)
	return nil
}
