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

// CreateDevice stores a new device, announces it to the owning user's other
// sockets, and renews the user's presence.
func (d *Database) CreateDevice(ctx context.Context, device datatypes.Device) (*datatypes.Device, error) {
	if device.UserID == "" {
		return nil, fmt.Errorf("create device: %w: userId", datatypes.ErrNoPayload)
	}
	device.ID = docstore.NewID()
	if err := d.store.Insert(ctx, CollDevices, device); err != nil {
		return nil, fmt.Errorf("create device: %w", err)
	}

	d.emit(datatypes.EventDeviceAdded, device)
	d.SendToUser(device.UserID, datatypes.EventDeviceAdded, device)

	if err := d.RenewOnlineStatus(ctx, device.UserID); err != nil {
		d.logCascade("create device: renew online status", err)
	}
	return &device, nil
}

func (d *Database) ReadDevice(ctx context.Context, id string) (*datatypes.Device, error) {
	device, err := docstore.FindOne[datatypes.Device](ctx, d.store, CollDevices, docstore.Filter{"_id": id})
	return device, mapNotFound(err)
}

func (d *Database) ReadDevicesByUser(ctx context.Context, userID string) ([]datatypes.Device, error) {
	return docstore.FindMany[datatypes.Device](ctx, d.store, CollDevices, docstore.Filter{"userId": userID})
}

// ReadDeviceByUserAndMAC finds a persistent device by its hardware address.
// Reconnecting native clients revive their previous device this way instead
// of accumulating a new record per session.
func (d *Database) ReadDeviceByUserAndMAC(ctx context.Context, userID, mac string) (*datatypes.Device, error) {
	device, err := docstore.FindOne[datatypes.Device](ctx, d.store, CollDevices, docstore.Filter{"userId": userID, "mac": mac})
	return device, mapNotFound(err)
}

// UpdateDevice applies a partial patch, notifies the owner, and renews
// presence (the patch may have toggled the online flag).
func (d *Database) UpdateDevice(ctx context.Context, id string, patch datatypes.Patch) error {
	d.orderMu.Lock()
	device, _, err := docstore.FindOneAndUpdate[datatypes.Device](ctx, d.store, CollDevices, docstore.Filter{"_id": id}, patch, false)
	if err != nil {
		d.orderMu.Unlock()
		return mapNotFound(err)
	}

	payload := patch.WithID(id)
	d.emit(datatypes.EventDeviceChanged, payload)
	d.SendToUser(device.UserID, datatypes.EventDeviceChanged, payload)
	d.orderMu.Unlock()

	if err := d.RenewOnlineStatus(ctx, device.UserID); err != nil {
		d.logCascade("update device: renew online status", err)
	}
	return nil
}

// DeleteDevice removes a device, cascades its global producers (and their
// stage projections), then recomputes the owner's presence.
func (d *Database) DeleteDevice(ctx context.Context, id string) error {
	device, err := docstore.FindOneAndDelete[datatypes.Device](ctx, d.store, CollDevices, docstore.Filter{"_id": id})
	if err != nil {
		return mapNotFound(err)
	}

	d.emit(datatypes.EventDeviceRemoved, device.ID)
	d.SendToUser(device.UserID, datatypes.EventDeviceRemoved, device.ID)

	audios, err := docstore.FindMany[datatypes.GlobalAudioProducer](ctx, d.store, CollAudioProducers, docstore.Filter{"deviceId": id})
	if err != nil {
		d.logCascade("delete device: find audio producers", err)
	}
	for _, producer := range audios {
		if err := d.DeleteAudioProducer(ctx, producer.ID); err != nil {
			d.logCascade("delete device: delete audio producer "+producer.ID, err)
		}
	}

	videos, err := docstore.FindMany[datatypes.GlobalVideoProducer](ctx, d.store, CollVideoProducers, docstore.Filter{"deviceId": id})
	if err != nil {
		d.logCascade("delete device: find video producers", err)
	}
	for _, producer := range videos {
		if err := d.DeleteVideoProducer(ctx, producer.ID); err != nil {
			d.logCascade("delete device: delete video producer "+producer.ID, err)
		}
	}

	if err := d.RenewOnlineStatus(ctx, device.UserID); err != nil {
		d.logCascade("delete device: renew online status", err)
	}
	return nil
}
