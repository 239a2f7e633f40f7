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
	"log/slog"

	"github.com/AleutianAI/aleutian-stage/services/stage/datatypes"
	"github.com/AleutianAI/aleutian-stage/services/stage/docstore"
)

// Cleanup removes every device and router recorded against the given (now
// dead) server address, then repairs dangling stage relay assignments. Run
// at startup for the server's own address and periodically as the
// reconciliation pass; a window between a router's disappearance and the
// next pass is accepted.
func (d *Database) Cleanup(ctx context.Context, serverAddress string) error {
	d.logger.Info("cleanup pass", slog.String("server", serverAddress))

	devices, err := docstore.FindMany[datatypes.Device](ctx, d.store, CollDevices, docstore.Filter{"server": serverAddress})
	if err != nil {
		return fmt.Errorf("cleanup: find devices: %w", err)
	}
	for _, device := range devices {
		if err := d.DeleteDevice(ctx, device.ID); err != nil && !errors.Is(err, datatypes.ErrNotFound) {
			d.logCascade("cleanup: delete device "+device.ID, err)
		}
	}

	routers, err := docstore.FindMany[datatypes.Router](ctx, d.store, CollRouters, docstore.Filter{"server": serverAddress})
	if err != nil {
		return fmt.Errorf("cleanup: find routers: %w", err)
	}
	for _, router := range routers {
		if err := d.DeleteRouter(ctx, router.ID); err != nil && !errors.Is(err, datatypes.ErrNotFound) {
			d.logCascade("cleanup: delete router "+router.ID, err)
		}
	}

	return d.CleanupStages(ctx)
}

// CleanupStages clears the ovServer field of every stage whose referenced
// router no longer exists. Groups and members are untouched; only the relay
// assignment is invalidated.
func (d *Database) CleanupStages(ctx context.Context) error {
	stages, err := docstore.FindMany[datatypes.Stage](ctx, d.store, CollStages, docstore.Filter{"ovServer": docstore.NotNil()})
	if err != nil {
		return fmt.Errorf("cleanup stages: %w", err)
	}
	for _, stage := range stages {
		if stage.OvServer == nil || stage.OvServer.RouterID == "" {
			continue
		}
		_, err := d.ReadRouter(ctx, stage.OvServer.RouterID)
		if err == nil {
			continue
		}
		if !errors.Is(err, datatypes.ErrNotFound) {
			d.logCascade("cleanup stages: read router "+stage.OvServer.RouterID, err)
			continue
		}
		if err := d.UpdateStage(ctx, stage.ID, datatypes.Patch{"ovServer": nil}); err != nil {
			d.logCascade("cleanup stages: clear stage "+stage.ID, err)
		}
	}
	return nil
}
