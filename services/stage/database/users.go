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

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/aleutian-stage/services/stage/datatypes"
	"github.com/AleutianAI/aleutian-stage/services/stage/docstore"
)

// CreateUser stores a new user for the given external identity. No wire
// event is emitted; a freshly created user has no connected sockets yet.
func (d *Database) CreateUser(ctx context.Context, uid, name, avatarURL string) (*datatypes.User, error) {
	user := datatypes.User{
		ID:        docstore.NewID(),
		UID:       uid,
		Name:      name,
		AvatarURL: avatarURL,
	}
	if err := d.store.Insert(ctx, CollUsers, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	d.emit(datatypes.EventUserAdded, user)
	return &user, nil
}

func (d *Database) ReadUser(ctx context.Context, id string) (*datatypes.User, error) {
	user, err := docstore.FindOne[datatypes.User](ctx, d.store, CollUsers, docstore.Filter{"_id": id})
	return user, mapNotFound(err)
}

// ReadUserByUID looks a user up by external identity. Used by the auth
// layer's find-or-create step.
func (d *Database) ReadUserByUID(ctx context.Context, uid string) (*datatypes.User, error) {
	user, err := docstore.FindOne[datatypes.User](ctx, d.store, CollUsers, docstore.Filter{"uid": uid})
	return user, mapNotFound(err)
}

// UpdateUser applies a partial patch and notifies the user's own sockets.
func (d *Database) UpdateUser(ctx context.Context, id string, patch datatypes.Patch) error {
	d.orderMu.Lock()
	defer d.orderMu.Unlock()
	_, _, err := docstore.FindOneAndUpdate[datatypes.User](ctx, d.store, CollUsers, docstore.Filter{"_id": id}, patch, false)
	if err != nil {
		return mapNotFound(err)
	}
	payload := patch.WithID(id)
	d.emit(datatypes.EventUserChanged, payload)
	d.SendToUser(id, datatypes.EventUserChanged, payload)
	return nil
}

// DeleteUser removes a user and everything that exists only because of
// them: stages with exactly this user as sole admin, their stage
// memberships, their global producers, and their sound cards (which cascade
// track presets and tracks). Multi-admin stages survive.
func (d *Database) DeleteUser(ctx context.Context, id string) error {
	user, err := docstore.FindOneAndDelete[datatypes.User](ctx, d.store, CollUsers, docstore.Filter{"_id": id})
	if err != nil {
		return mapNotFound(err)
	}

	var g errgroup.Group
	g.Go(func() error {
		stages, err := docstore.FindMany[datatypes.Stage](ctx, d.store, CollStages, docstore.Filter{"admins": []string{id}})
		if err != nil {
			return fmt.Errorf("find sole-admin stages: %w", err)
		}
		for _, stage := range stages {
			if err := d.DeleteStage(ctx, stage.ID); err != nil {
				d.logCascade("delete user: delete stage "+stage.ID, err)
			}
		}
		return nil
	})
	g.Go(func() error {
		members, err := docstore.FindMany[datatypes.StageMember](ctx, d.store, CollStageMembers, docstore.Filter{"userId": id})
		if err != nil {
			return fmt.Errorf("find stage members: %w", err)
		}
		for _, member := range members {
			if err := d.DeleteStageMember(ctx, member.ID); err != nil {
				d.logCascade("delete user: delete stage member "+member.ID, err)
			}
		}
		return nil
	})
	g.Go(func() error {
		producers, err := docstore.FindMany[datatypes.GlobalAudioProducer](ctx, d.store, CollAudioProducers, docstore.Filter{"userId": id})
		if err != nil {
			return fmt.Errorf("find audio producers: %w", err)
		}
		for _, producer := range producers {
			if err := d.DeleteAudioProducer(ctx, producer.ID); err != nil {
				d.logCascade("delete user: delete audio producer "+producer.ID, err)
			}
		}
		return nil
	})
	g.Go(func() error {
		producers, err := docstore.FindMany[datatypes.GlobalVideoProducer](ctx, d.store, CollVideoProducers, docstore.Filter{"userId": id})
		if err != nil {
			return fmt.Errorf("find video producers: %w", err)
		}
		for _, producer := range producers {
			if err := d.DeleteVideoProducer(ctx, producer.ID); err != nil {
				d.logCascade("delete user: delete video producer "+producer.ID, err)
			}
		}
		return nil
	})
	g.Go(func() error {
		cards, err := docstore.FindMany[datatypes.SoundCard](ctx, d.store, CollSoundCards, docstore.Filter{"userId": id})
		if err != nil {
			return fmt.Errorf("find sound cards: %w", err)
		}
		for _, card := range cards {
			if err := d.DeleteSoundCard(ctx, card.ID); err != nil {
				d.logCascade("delete user: delete sound card "+card.ID, err)
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		d.logCascade("delete user "+id, err)
	}

	d.emit(datatypes.EventUserRemoved, user.ID)
	d.SendToUser(user.ID, datatypes.EventUserRemoved, user.ID)
	return nil
}
