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
	"errors"
	"fmt"

	"github.com/AleutianAI/aleutian-stage/services/stage/datatypes"
	"github.com/AleutianAI/aleutian-stage/services/stage/docstore"
)

// Acoustic defaults applied when a stage is created without explicit room
// parameters.
const (
	defaultStageWidth      = 13.0
	defaultStageLength     = 25.0
	defaultStageHeight     = 7.5
	defaultStageAbsorption = 0.6
	defaultStageDamping    = 0.7
)

// CreateStage creates a virtual room with the acting user as its first
// admin and announces it to every admin. Additional admins named in the
// request are merged in after the creator, duplicates dropped.
func (d *Database) CreateStage(ctx context.Context, adminID string, req datatypes.AddStageRequest) (*datatypes.Stage, error) {
	admins := []string{adminID}
	seen := map[string]bool{adminID: true}
	for _, id := range req.Admins {
		if id != "" && !seen[id] {
			seen[id] = true
			admins = append(admins, id)
		}
	}
	stage := datatypes.Stage{
		ID:         docstore.NewID(),
		Name:       req.Name,
		Password:   req.Password,
		Admins:     admins,
		Width:      req.Width,
		Length:     req.Length,
		Height:     req.Height,
		Absorption: req.Absorption,
		Damping:    req.Damping,
	}
	if stage.Width == 0 {
		stage.Width = defaultStageWidth
	}
	if stage.Length == 0 {
		stage.Length = defaultStageLength
	}
	if stage.Height == 0 {
		stage.Height = defaultStageHeight
	}
	if stage.Absorption == 0 {
		stage.Absorption = defaultStageAbsorption
	}
	if stage.Damping == 0 {
		stage.Damping = defaultStageDamping
	}

	if err := d.store.Insert(ctx, CollStages, stage); err != nil {
		return nil, fmt.Errorf("create stage: %w", err)
	}
	d.emit(datatypes.EventStageAdded, stage)
	for _, admin := range stage.Admins {
		d.SendToUser(admin, datatypes.EventStageAdded, stage)
	}
	return &stage, nil
}

func (d *Database) ReadStage(ctx context.Context, id string) (*datatypes.Stage, error) {
	stage, err := docstore.FindOne[datatypes.Stage](ctx, d.store, CollStages, docstore.Filter{"_id": id})
	return stage, mapNotFound(err)
}

// ReadStagesByUser returns every stage the user is a member of or admin of.
func (d *Database) ReadStagesByUser(ctx context.Context, userID string) ([]datatypes.Stage, error) {
	members, err := docstore.FindMany[datatypes.StageMember](ctx, d.store, CollStageMembers, docstore.Filter{"userId": userID})
	if err != nil {
		return nil, err
	}
	stageIDs := make([]any, 0, len(members))
	for _, member := range members {
		stageIDs = append(stageIDs, member.StageID)
	}

	memberStages, err := docstore.FindMany[datatypes.Stage](ctx, d.store, CollStages, docstore.Filter{"_id": docstore.In(stageIDs...)})
	if err != nil {
		return nil, err
	}
	adminStages, err := docstore.FindMany[datatypes.Stage](ctx, d.store, CollStages, docstore.Filter{"admins": userID})
	if err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}
	stages := make([]datatypes.Stage, 0, len(memberStages)+len(adminStages))
	for _, stage := range append(memberStages, adminStages...) {
		if _, dup := seen[stage.ID]; dup {
			continue
		}
		seen[stage.ID] = struct{}{}
		stages = append(stages, stage)
	}
	return stages, nil
}

// ReadStagesWithoutRouter returns stages with no relay assignment, for the
// router balancer.
func (d *Database) ReadStagesWithoutRouter(ctx context.Context) ([]datatypes.Stage, error) {
	return docstore.FindMany[datatypes.Stage](ctx, d.store, CollStages, docstore.Filter{"ovServer": docstore.Nil()})
}

// UpdateStage applies a partial patch and notifies the stage's admins and
// members.
func (d *Database) UpdateStage(ctx context.Context, id string, patch datatypes.Patch) error {
	d.orderMu.Lock()
	defer d.orderMu.Unlock()
	_, _, err := docstore.FindOneAndUpdate[datatypes.Stage](ctx, d.store, CollStages, docstore.Filter{"_id": id}, patch, false)
	if err != nil {
		return mapNotFound(err)
	}
	payload := patch.WithID(id)
	d.emit(datatypes.EventStageChanged, payload)
	d.SendToStage(ctx, id, datatypes.EventStageChanged, payload)
	return nil
}

// DeleteStage removes a stage and cascades its groups, which in turn
// cascade members, projections and overrides. Removal recipients are
// collected before the root delete since the member records are gone after.
func (d *Database) DeleteStage(ctx context.Context, id string) error {
	recipients, err := d.stageRecipients(ctx, id)
	if err != nil {
		return err
	}

	stage, err := docstore.FindOneAndDelete[datatypes.Stage](ctx, d.store, CollStages, docstore.Filter{"_id": id})
	if err != nil {
		return mapNotFound(err)
	}

	groups, err := docstore.FindMany[datatypes.Group](ctx, d.store, CollGroups, docstore.Filter{"stageId": id})
	if err != nil {
		d.logCascade("delete stage: find groups", err)
	}
	for _, group := range groups {
		if err := d.DeleteGroup(ctx, group.ID); err != nil {
			d.logCascade("delete stage: delete group "+group.ID, err)
		}
	}

	d.emit(datatypes.EventStageRemoved, stage.ID)
	for _, userID := range recipients {
		d.SendToUser(userID, datatypes.EventStageRemoved, stage.ID)
	}
	return nil
}

// stageRecipients computes the admins-and-members recipient set while the
// stage still exists.
func (d *Database) stageRecipients(ctx context.Context, stageID string) ([]string, error) {
	stage, err := docstore.FindOne[datatypes.Stage](ctx, d.store, CollStages, docstore.Filter{"_id": stageID})
	if err != nil {
		return nil, mapNotFound(err)
	}
	members, err := docstore.FindMany[datatypes.StageMember](ctx, d.store, CollStageMembers, docstore.Filter{"stageId": stageID})
	if err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}
	recipients := make([]string, 0, len(stage.Admins)+len(members))
	for _, admin := range stage.Admins {
		if _, dup := seen[admin]; !dup {
			seen[admin] = struct{}{}
			recipients = append(recipients, admin)
		}
	}
	for _, member := range members {
		if _, dup := seen[member.UserID]; !dup {
			seen[member.UserID] = struct{}{}
			recipients = append(recipients, member.UserID)
		}
	}
	return recipients, nil
}

// IsStageAdmin reports whether the user may manage the stage.
func (d *Database) IsStageAdmin(ctx context.Context, stageID, userID string) (bool, error) {
	_, err := docstore.FindOne[datatypes.Stage](ctx, d.store, CollStages, docstore.Filter{"_id": stageID, "admins": userID})
	if err == nil {
		return true, nil
	}
	if errors.Is(err, docstore.ErrNoDocuments) {
		return false, nil
	}
	return false, err
}
