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

// Routers are external media relay processes. Their lifecycle events are
// global: every connected user learns about router availability.

func (d *Database) CreateRouter(ctx context.Context, router datatypes.Router) (*datatypes.Router, error) {
	router.ID = docstore.NewID()
	if err := d.store.Insert(ctx, CollRouters, router); err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}
	d.emit(datatypes.EventRouterAdded, router)
	d.SendToAll(datatypes.EventRouterAdded, router)
	return &router, nil
}

func (d *Database) ReadRouter(ctx context.Context, id string) (*datatypes.Router, error) {
	router, err := docstore.FindOne[datatypes.Router](ctx, d.store, CollRouters, docstore.Filter{"_id": id})
	return router, mapNotFound(err)
}

func (d *Database) ReadRouters(ctx context.Context) ([]datatypes.Router, error) {
	return docstore.FindMany[datatypes.Router](ctx, d.store, CollRouters, docstore.Filter{})
}

func (d *Database) UpdateRouter(ctx context.Context, id string, patch datatypes.Patch) error {
	d.orderMu.Lock()
	defer d.orderMu.Unlock()
	_, _, err := docstore.FindOneAndUpdate[datatypes.Router](ctx, d.store, CollRouters, docstore.Filter{"_id": id}, patch, false)
	if err != nil {
		return mapNotFound(err)
	}
	payload := patch.WithID(id)
	d.emit(datatypes.EventRouterChanged, payload)
	d.SendToAll(datatypes.EventRouterChanged, payload)
	return nil
}

// DeleteRouter removes a router and clears the relay assignment of every
// stage that referenced it. The stages themselves survive.
func (d *Database) DeleteRouter(ctx context.Context, id string) error {
	router, err := docstore.FindOneAndDelete[datatypes.Router](ctx, d.store, CollRouters, docstore.Filter{"_id": id})
	if err != nil {
		return mapNotFound(err)
	}
	d.emit(datatypes.EventRouterRemoved, router.ID)
	d.SendToAll(datatypes.EventRouterRemoved, router.ID)

	stages, err := docstore.FindMany[datatypes.Stage](ctx, d.store, CollStages, docstore.Filter{"ovServer.router": id})
	if err != nil {
		d.logCascade("delete router: find stages", err)
		return nil
	}
	for _, stage := range stages {
		if err := d.UpdateStage(ctx, stage.ID, datatypes.Patch{"ovServer": nil}); err != nil {
			d.logCascade("delete router: clear stage "+stage.ID, err)
		}
	}
	return nil
}
