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

// Sound cards, track presets, and tracks describe a device's spatial-audio
// ("ov") hardware configuration. Tracks follow the same projection pattern
// as producers: while the owner is joined, each track has a stage-scoped
// ov-track record.

// CreateSoundCard stores a sound card for the user. A card with at least
// two input channels gets a "Default" track preset wired to channels 0 and
// 1 so native clients can start sending immediately.
func (d *Database) CreateSoundCard(ctx context.Context, card datatypes.SoundCard) (*datatypes.SoundCard, error) {
	if card.UserID == "" {
		return nil, fmt.Errorf("create sound card: %w: userId", datatypes.ErrNoPayload)
	}
	card.ID = docstore.NewID()
	if err := d.store.Insert(ctx, CollSoundCards, card); err != nil {
		return nil, fmt.Errorf("create sound card: %w", err)
	}
	d.emit(datatypes.EventSoundCardAdded, card)
	d.SendToUser(card.UserID, datatypes.EventSoundCardAdded, card)

	if card.NumInputChannels >= 2 {
		preset := datatypes.TrackPreset{
			ID:            docstore.NewID(),
			UserID:        card.UserID,
			SoundCardID:   card.ID,
			Name:          "Default",
			InputChannels: []int{0, 1},
		}
		if _, err := d.CreateTrackPreset(ctx, preset); err != nil {
			d.logCascade("create sound card: default preset", err)
		}
	}
	return &card, nil
}

func (d *Database) ReadSoundCard(ctx context.Context, id string) (*datatypes.SoundCard, error) {
	card, err := docstore.FindOne[datatypes.SoundCard](ctx, d.store, CollSoundCards, docstore.Filter{"_id": id})
	return card, mapNotFound(err)
}

func (d *Database) ReadSoundCardsByUser(ctx context.Context, userID string) ([]datatypes.SoundCard, error) {
	return docstore.FindMany[datatypes.SoundCard](ctx, d.store, CollSoundCards, docstore.Filter{"userId": userID})
}

// SetSoundCard upserts a sound card by (user, name). Native clients report
// their hardware on every connect; the card identity is its name.
func (d *Database) SetSoundCard(ctx context.Context, userID string, req datatypes.SetSoundCardRequest) (*datatypes.SoundCard, error) {
	patch := datatypes.Patch{
		"driver":            req.DriverType,
		"numInputChannels":  req.NumInputChannels,
		"numOutputChannels": req.NumOutputChannels,
		"sampleRate":        req.SampleRate,
	}
	existing, err := docstore.FindOne[datatypes.SoundCard](ctx, d.store, CollSoundCards, docstore.Filter{"userId": userID, "name": req.Name})
	if err == nil {
		if err := d.UpdateSoundCard(ctx, existing.ID, patch); err != nil {
			return nil, err
		}
		return d.ReadSoundCard(ctx, existing.ID)
	}
	return d.CreateSoundCard(ctx, datatypes.SoundCard{
		UserID:            userID,
		Name:              req.Name,
		DriverType:        req.DriverType,
		NumInputChannels:  req.NumInputChannels,
		NumOutputChannels: req.NumOutputChannels,
		SampleRate:        req.SampleRate,
	})
}

func (d *Database) UpdateSoundCard(ctx context.Context, id string, patch datatypes.Patch) error {
	d.orderMu.Lock()
	defer d.orderMu.Unlock()
	card, _, err := docstore.FindOneAndUpdate[datatypes.SoundCard](ctx, d.store, CollSoundCards, docstore.Filter{"_id": id}, patch, false)
	if err != nil {
		return mapNotFound(err)
	}
	payload := patch.WithID(id)
	d.emit(datatypes.EventSoundCardChanged, payload)
	d.SendToUser(card.UserID, datatypes.EventSoundCardChanged, payload)
	return nil
}

// DeleteSoundCard removes a card, detaches it from every device that lists
// it, and cascades its track presets.
func (d *Database) DeleteSoundCard(ctx context.Context, id string) error {
	card, err := docstore.FindOneAndDelete[datatypes.SoundCard](ctx, d.store, CollSoundCards, docstore.Filter{"_id": id})
	if err != nil {
		return mapNotFound(err)
	}
	d.emit(datatypes.EventSoundCardRemoved, card.ID)
	d.SendToUser(card.UserID, datatypes.EventSoundCardRemoved, card.ID)

	devices, err := docstore.FindMany[datatypes.Device](ctx, d.store, CollDevices, docstore.Filter{"soundCardIds": id})
	if err != nil {
		d.logCascade("delete sound card: find devices", err)
	}
	for _, device := range devices {
		remaining := make([]string, 0, len(device.SoundCardIDs))
		for _, cardID := range device.SoundCardIDs {
			if cardID != id {
				remaining = append(remaining, cardID)
			}
		}
		if err := d.UpdateDevice(ctx, device.ID, datatypes.Patch{"soundCardIds": remaining}); err != nil {
			d.logCascade("delete sound card: detach device "+device.ID, err)
		}
	}

	presets, err := docstore.FindMany[datatypes.TrackPreset](ctx, d.store, CollTrackPresets, docstore.Filter{"soundCardId": id})
	if err != nil {
		d.logCascade("delete sound card: find presets", err)
	}
	for _, preset := range presets {
		if err := d.DeleteTrackPreset(ctx, preset.ID); err != nil {
			d.logCascade("delete sound card: delete preset "+preset.ID, err)
		}
	}
	return nil
}

// CreateTrackPreset stores a preset and announces it to the owner.
func (d *Database) CreateTrackPreset(ctx context.Context, preset datatypes.TrackPreset) (*datatypes.TrackPreset, error) {
	preset.ID = docstore.NewID()
	if err := d.store.Insert(ctx, CollTrackPresets, preset); err != nil {
		return nil, fmt.Errorf("create track preset: %w", err)
	}
	d.emit(datatypes.EventTrackPresetAdded, preset)
	d.SendToUser(preset.UserID, datatypes.EventTrackPresetAdded, preset)
	return &preset, nil
}

func (d *Database) ReadTrackPreset(ctx context.Context, id string) (*datatypes.TrackPreset, error) {
	preset, err := docstore.FindOne[datatypes.TrackPreset](ctx, d.store, CollTrackPresets, docstore.Filter{"_id": id})
	return preset, mapNotFound(err)
}

func (d *Database) ReadTrackPresetsByUser(ctx context.Context, userID string) ([]datatypes.TrackPreset, error) {
	return docstore.FindMany[datatypes.TrackPreset](ctx, d.store, CollTrackPresets, docstore.Filter{"userId": userID})
}

func (d *Database) UpdateTrackPreset(ctx context.Context, id string, patch datatypes.Patch) error {
	d.orderMu.Lock()
	defer d.orderMu.Unlock()
	preset, _, err := docstore.FindOneAndUpdate[datatypes.TrackPreset](ctx, d.store, CollTrackPresets, docstore.Filter{"_id": id}, patch, false)
	if err != nil {
		return mapNotFound(err)
	}
	payload := patch.WithID(id)
	d.emit(datatypes.EventTrackPresetChanged, payload)
	d.SendToUser(preset.UserID, datatypes.EventTrackPresetChanged, payload)
	return nil
}

// DeleteTrackPreset removes a preset and cascades its tracks.
func (d *Database) DeleteTrackPreset(ctx context.Context, id string) error {
	preset, err := docstore.FindOneAndDelete[datatypes.TrackPreset](ctx, d.store, CollTrackPresets, docstore.Filter{"_id": id})
	if err != nil {
		return mapNotFound(err)
	}
	d.emit(datatypes.EventTrackPresetRemoved, preset.ID)
	d.SendToUser(preset.UserID, datatypes.EventTrackPresetRemoved, preset.ID)

	tracks, err := docstore.FindMany[datatypes.Track](ctx, d.store, CollTracks, docstore.Filter{"trackPresetId": id})
	if err != nil {
		d.logCascade("delete track preset: find tracks", err)
	}
	for _, track := range tracks {
		if err := d.DeleteTrack(ctx, track.ID); err != nil {
			d.logCascade("delete track preset: delete track "+track.ID, err)
		}
	}
	return nil
}

// CreateTrack stores a spatial-audio channel definition. If the owner is
// joined to a stage, the stage-scoped ov-track projection is created too.
func (d *Database) CreateTrack(ctx context.Context, track datatypes.Track) (*datatypes.Track, error) {
	track.ID = docstore.NewID()
	if track.Gain == 0 {
		track.Gain = 1
	}
	if err := d.store.Insert(ctx, CollTracks, track); err != nil {
		return nil, fmt.Errorf("create track: %w", err)
	}
	d.emit(datatypes.EventTrackAdded, track)
	d.SendToUser(track.UserID, datatypes.EventTrackAdded, track)

	if err := d.projectTrack(ctx, track); err != nil {
		d.logCascade("create track: project", err)
	}
	return &track, nil
}

func (d *Database) projectTrack(ctx context.Context, track datatypes.Track) error {
	user, err := d.readUserIgnoringMissing(ctx, track.UserID)
	if err != nil {
		return err
	}
	if user == nil || user.StageMemberID == "" {
		return nil
	}
	projection := datatypes.StageMemberOvTrack{
		ID:            docstore.NewID(),
		StageID:       user.StageID,
		StageMemberID: user.StageMemberID,
		UserID:        user.ID,
		TrackID:       track.ID,
		TrackPresetID: track.TrackPresetID,
		Channel:       track.Channel,
		Gain:          track.Gain,
		Directivity:   track.Directivity,
		Online:        true,
	}
	projection.Volume = 1
	if err := d.store.Insert(ctx, CollStageMemberOvs, projection); err != nil {
		return err
	}
	d.emit(datatypes.EventStageMemberOvAdded, projection)
	d.SendToJoinedStageMembers(ctx, user.StageID, datatypes.EventStageMemberOvAdded, projection)
	return nil
}

func (d *Database) ReadTrack(ctx context.Context, id string) (*datatypes.Track, error) {
	track, err := docstore.FindOne[datatypes.Track](ctx, d.store, CollTracks, docstore.Filter{"_id": id})
	return track, mapNotFound(err)
}

func (d *Database) ReadTracksByUser(ctx context.Context, userID string) ([]datatypes.Track, error) {
	return docstore.FindMany[datatypes.Track](ctx, d.store, CollTracks, docstore.Filter{"userId": userID})
}

func (d *Database) UpdateTrack(ctx context.Context, id string, patch datatypes.Patch) error {
	d.orderMu.Lock()
	defer d.orderMu.Unlock()
	track, _, err := docstore.FindOneAndUpdate[datatypes.Track](ctx, d.store, CollTracks, docstore.Filter{"_id": id}, patch, false)
	if err != nil {
		return mapNotFound(err)
	}
	payload := patch.WithID(id)
	d.emit(datatypes.EventTrackChanged, payload)
	d.SendToUser(track.UserID, datatypes.EventTrackChanged, payload)
	return nil
}

// DeleteTrack removes a track and its stage-scoped ov projections.
func (d *Database) DeleteTrack(ctx context.Context, id string) error {
	track, err := docstore.FindOneAndDelete[datatypes.Track](ctx, d.store, CollTracks, docstore.Filter{"_id": id})
	if err != nil {
		return mapNotFound(err)
	}
	d.emit(datatypes.EventTrackRemoved, track.ID)
	d.SendToUser(track.UserID, datatypes.EventTrackRemoved, track.ID)

	projections, err := docstore.DeleteMany[datatypes.StageMemberOvTrack](ctx, d.store, CollStageMemberOvs, docstore.Filter{"trackId": id})
	if err != nil {
		d.logCascade("delete track: delete projections", err)
	}
	for _, projection := range projections {
		d.emit(datatypes.EventStageMemberOvRemoved, projection.ID)
		d.SendToJoinedStageMembers(ctx, projection.StageID, datatypes.EventStageMemberOvRemoved, projection.ID)
	}
	return nil
}
