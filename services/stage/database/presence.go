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

// RenewOnlineStatus recomputes a stage membership's online flag from the
// user's devices: online iff at least one device is online. Invoked after
// every device create, update, and delete. Idempotent; the only path that
// mutates StageMember.online outside of join and leave.
func (d *Database) RenewOnlineStatus(ctx context.Context, userID string) error {
	user, err := d.ReadUser(ctx, userID)
	if err != nil {
		if errors.Is(err, datatypes.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("renew online status: %w", err)
	}
	if user.StageMemberID == "" {
		return nil
	}

	count, err := d.store.Count(ctx, CollDevices, docstore.Filter{"userId": userID, "online": true})
	if err != nil {
		return fmt.Errorf("renew online status: count devices: %w", err)
	}
	online := count > 0

	member, err := docstore.FindOne[datatypes.StageMember](ctx, d.store, CollStageMembers, docstore.Filter{"_id": user.StageMemberID})
	if err != nil {
		return mapNotFound(fmt.Errorf("renew online status: %w", err))
	}
	if member.Online == online {
		return nil
	}

	patch := datatypes.Patch{"online": online}
	d.orderMu.Lock()
	defer d.orderMu.Unlock()
	if _, _, err := docstore.FindOneAndUpdate[datatypes.StageMember](ctx, d.store, CollStageMembers, docstore.Filter{"_id": member.ID}, patch, false); err != nil {
		return mapNotFound(fmt.Errorf("renew online status: %w", err))
	}

	payload := patch.WithID(member.ID)
	d.emit(datatypes.EventStageMemberChanged, payload)
	d.SendToJoinedStageMembers(ctx, member.StageID, datatypes.EventStageMemberChanged, payload)
	return nil
}
