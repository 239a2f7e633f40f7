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
	"log/slog"

	"github.com/AleutianAI/aleutian-stage/services/stage/datatypes"
	"github.com/AleutianAI/aleutian-stage/services/stage/docstore"
)

// Fanout policies. Recipient sets are computed fresh on every call from the
// store; there are no cached subscriber lists. Delivery is fire-and-forget
// relative to the triggering mutation: a disconnected recipient simply does
// not receive the event.

func (d *Database) debugSend(scope, target string, event datatypes.EventName, payload any) {
	if !d.debugEvents {
		return
	}
	attrs := []any{
		slog.String("scope", scope),
		slog.String("target", target),
		slog.String("event", string(event)),
	}
	if d.debugPayload {
		attrs = append(attrs, slog.Any("payload", payload))
	}
	d.logger.Debug("send event", attrs...)
}

// SendToUser delivers the event to every currently connected socket of the
// user.
func (d *Database) SendToUser(userID string, event datatypes.EventName, payload any) {
	d.debugSend("user", userID, event, payload)
	recordEvent(string(event))
	d.sender.SendToUser(userID, event, payload)
}

// SendToSocket delivers the event to exactly one connection. Used for
// initial state replay to a newly authenticated device.
func (d *Database) SendToSocket(socketID string, event datatypes.EventName, payload any) {
	d.debugSend("socket", socketID, event, payload)
	recordEvent(string(event))
	d.sender.SendToSocket(socketID, event, payload)
}

// SendToAll delivers the event to every connected user. Router lifecycle
// events use this policy.
func (d *Database) SendToAll(event datatypes.EventName, payload any) {
	d.debugSend("all", "", event, payload)
	recordEvent(string(event))
	d.sender.SendToAll(event, payload)
}

// SendToStage delivers the event to the union of the stage's admins and the
// userIds of all its members, deduplicated. Admins receive stage events even
// if they never joined.
func (d *Database) SendToStage(ctx context.Context, stageID string, event datatypes.EventName, payload any) {
	stage, err := docstore.FindOne[datatypes.Stage](ctx, d.store, CollStages, docstore.Filter{"_id": stageID})
	if err != nil {
		d.logger.Error("fanout: read stage", slog.String("stageId", stageID), slog.String("error", err.Error()))
		return
	}
	members, err := docstore.FindMany[datatypes.StageMember](ctx, d.store, CollStageMembers, docstore.Filter{"stageId": stageID})
	if err != nil {
		d.logger.Error("fanout: read stage members", slog.String("stageId", stageID), slog.String("error", err.Error()))
		return
	}

	seen := map[string]struct{}{}
	for _, admin := range stage.Admins {
		seen[admin] = struct{}{}
	}
	for _, member := range members {
		seen[member.UserID] = struct{}{}
	}
	for userID := range seen {
		d.SendToUser(userID, event, payload)
	}
}

// SendToJoinedStageMembers delivers the event to every user whose stageId
// currently equals the target stage. Admins who are not joined do not
// receive these.
func (d *Database) SendToJoinedStageMembers(ctx context.Context, stageID string, event datatypes.EventName, payload any) {
	users, err := docstore.FindMany[datatypes.User](ctx, d.store, CollUsers, docstore.Filter{"stageId": stageID})
	if err != nil {
		d.logger.Error("fanout: read joined users", slog.String("stageId", stageID), slog.String("error", err.Error()))
		return
	}
	for _, user := range users {
		d.SendToUser(user.ID, event, payload)
	}
}
