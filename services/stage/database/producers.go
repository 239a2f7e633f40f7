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

// Global producers are device-level signal sources independent of any
// stage. While their owner holds an online stage membership they are
// projected into stage-scoped producer records; the projection exists iff
// the global producer exists and the membership is active.

// CreateAudioProducer registers a device-level audio source. If the owner
// is currently joined to a stage, a stage-scoped projection is created and
// announced to the joined members.
func (d *Database) CreateAudioProducer(ctx context.Context, userID, deviceID, routerID string) (*datatypes.GlobalAudioProducer, error) {
	producer := datatypes.GlobalAudioProducer{
		ID:       docstore.NewID(),
		UserID:   userID,
		DeviceID: deviceID,
		RouterID: routerID,
	}
	if err := d.store.Insert(ctx, CollAudioProducers, producer); err != nil {
		return nil, fmt.Errorf("create audio producer: %w", err)
	}
	d.emit(datatypes.EventAudioProducerAdded, producer)
	d.SendToUser(userID, datatypes.EventAudioProducerAdded, producer)

	if err := d.projectAudioProducer(ctx, producer); err != nil {
		d.logCascade("create audio producer: project", err)
	}
	return &producer, nil
}

// projectAudioProducer creates the stage-scoped projection for the owner's
// current membership, if any.
func (d *Database) projectAudioProducer(ctx context.Context, producer datatypes.GlobalAudioProducer) error {
	user, err := d.readUserIgnoringMissing(ctx, producer.UserID)
	if err != nil {
		return err
	}
	if user == nil || user.StageMemberID == "" {
		return nil
	}
	projection := datatypes.StageMemberAudioProducer{
		ID:               docstore.NewID(),
		StageID:          user.StageID,
		StageMemberID:    user.StageMemberID,
		UserID:           user.ID,
		GlobalProducerID: producer.ID,
		Online:           true,
	}
	projection.Volume = 1
	if err := d.store.Insert(ctx, CollStageMemberAudios, projection); err != nil {
		return err
	}
	d.emit(datatypes.EventStageMemberAudioAdded, projection)
	d.SendToJoinedStageMembers(ctx, user.StageID, datatypes.EventStageMemberAudioAdded, projection)
	return nil
}

func (d *Database) ReadAudioProducer(ctx context.Context, id string) (*datatypes.GlobalAudioProducer, error) {
	producer, err := docstore.FindOne[datatypes.GlobalAudioProducer](ctx, d.store, CollAudioProducers, docstore.Filter{"_id": id})
	return producer, mapNotFound(err)
}

func (d *Database) ReadAudioProducersByUser(ctx context.Context, userID string) ([]datatypes.GlobalAudioProducer, error) {
	return docstore.FindMany[datatypes.GlobalAudioProducer](ctx, d.store, CollAudioProducers, docstore.Filter{"userId": userID})
}

func (d *Database) UpdateAudioProducer(ctx context.Context, id string, patch datatypes.Patch) error {
	d.orderMu.Lock()
	defer d.orderMu.Unlock()
	producer, _, err := docstore.FindOneAndUpdate[datatypes.GlobalAudioProducer](ctx, d.store, CollAudioProducers, docstore.Filter{"_id": id}, patch, false)
	if err != nil {
		return mapNotFound(err)
	}
	payload := patch.WithID(id)
	d.emit(datatypes.EventAudioProducerChanged, payload)
	d.SendToUser(producer.UserID, datatypes.EventAudioProducerChanged, payload)
	return nil
}

// DeleteAudioProducer removes the global producer and every stage-scoped
// projection referencing it.
func (d *Database) DeleteAudioProducer(ctx context.Context, id string) error {
	producer, err := docstore.FindOneAndDelete[datatypes.GlobalAudioProducer](ctx, d.store, CollAudioProducers, docstore.Filter{"_id": id})
	if err != nil {
		return mapNotFound(err)
	}
	d.emit(datatypes.EventAudioProducerRemoved, producer.ID)
	d.SendToUser(producer.UserID, datatypes.EventAudioProducerRemoved, producer.ID)

	projections, err := docstore.DeleteMany[datatypes.StageMemberAudioProducer](ctx, d.store, CollStageMemberAudios, docstore.Filter{"globalProducerId": id})
	if err != nil {
		d.logCascade("delete audio producer: delete projections", err)
	}
	for _, projection := range projections {
		d.emit(datatypes.EventStageMemberAudioRemoved, projection.ID)
		d.SendToJoinedStageMembers(ctx, projection.StageID, datatypes.EventStageMemberAudioRemoved, projection.ID)
	}
	return nil
}

// CreateVideoProducer registers a device-level video source, projecting it
// into the owner's current stage like CreateAudioProducer.
func (d *Database) CreateVideoProducer(ctx context.Context, userID, deviceID, routerID string) (*datatypes.GlobalVideoProducer, error) {
	producer := datatypes.GlobalVideoProducer{
		ID:       docstore.NewID(),
		UserID:   userID,
		DeviceID: deviceID,
		RouterID: routerID,
	}
	if err := d.store.Insert(ctx, CollVideoProducers, producer); err != nil {
		return nil, fmt.Errorf("create video producer: %w", err)
	}
	d.emit(datatypes.EventVideoProducerAdded, producer)
	d.SendToUser(userID, datatypes.EventVideoProducerAdded, producer)

	if err := d.projectVideoProducer(ctx, producer); err != nil {
		d.logCascade("create video producer: project", err)
	}
	return &producer, nil
}

func (d *Database) projectVideoProducer(ctx context.Context, producer datatypes.GlobalVideoProducer) error {
	user, err := d.readUserIgnoringMissing(ctx, producer.UserID)
	if err != nil {
		return err
	}
	if user == nil || user.StageMemberID == "" {
		return nil
	}
	projection := datatypes.StageMemberVideoProducer{
		ID:               docstore.NewID(),
		StageID:          user.StageID,
		StageMemberID:    user.StageMemberID,
		UserID:           user.ID,
		GlobalProducerID: producer.ID,
		Online:           true,
	}
	if err := d.store.Insert(ctx, CollStageMemberVideos, projection); err != nil {
		return err
	}
	d.emit(datatypes.EventStageMemberVideoAdded, projection)
	d.SendToJoinedStageMembers(ctx, user.StageID, datatypes.EventStageMemberVideoAdded, projection)
	return nil
}

func (d *Database) ReadVideoProducer(ctx context.Context, id string) (*datatypes.GlobalVideoProducer, error) {
	producer, err := docstore.FindOne[datatypes.GlobalVideoProducer](ctx, d.store, CollVideoProducers, docstore.Filter{"_id": id})
	return producer, mapNotFound(err)
}

func (d *Database) ReadVideoProducersByUser(ctx context.Context, userID string) ([]datatypes.GlobalVideoProducer, error) {
	return docstore.FindMany[datatypes.GlobalVideoProducer](ctx, d.store, CollVideoProducers, docstore.Filter{"userId": userID})
}

func (d *Database) UpdateVideoProducer(ctx context.Context, id string, patch datatypes.Patch) error {
	d.orderMu.Lock()
	defer d.orderMu.Unlock()
	producer, _, err := docstore.FindOneAndUpdate[datatypes.GlobalVideoProducer](ctx, d.store, CollVideoProducers, docstore.Filter{"_id": id}, patch, false)
	if err != nil {
		return mapNotFound(err)
	}
	payload := patch.WithID(id)
	d.emit(datatypes.EventVideoProducerChanged, payload)
	d.SendToUser(producer.UserID, datatypes.EventVideoProducerChanged, payload)
	return nil
}

func (d *Database) DeleteVideoProducer(ctx context.Context, id string) error {
	producer, err := docstore.FindOneAndDelete[datatypes.GlobalVideoProducer](ctx, d.store, CollVideoProducers, docstore.Filter{"_id": id})
	if err != nil {
		return mapNotFound(err)
	}
	d.emit(datatypes.EventVideoProducerRemoved, producer.ID)
	d.SendToUser(producer.UserID, datatypes.EventVideoProducerRemoved, producer.ID)

	projections, err := docstore.DeleteMany[datatypes.StageMemberVideoProducer](ctx, d.store, CollStageMemberVideos, docstore.Filter{"globalProducerId": id})
	if err != nil {
		d.logCascade("delete video producer: delete projections", err)
	}
	for _, projection := range projections {
		d.emit(datatypes.EventStageMemberVideoRemoved, projection.ID)
		d.SendToJoinedStageMembers(ctx, projection.StageID, datatypes.EventStageMemberVideoRemoved, projection.ID)
	}
	return nil
}

// readUserIgnoringMissing is a cascade helper: a missing user means the
// projection step is skipped, not an error.
func (d *Database) readUserIgnoringMissing(ctx context.Context, userID string) (*datatypes.User, error) {
	user, err := d.ReadUser(ctx, userID)
	if errors.Is(err, datatypes.ErrNotFound) {
		return nil, nil
	}
	return user, err
}
