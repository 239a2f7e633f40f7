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
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/aleutian-stage/services/stage/datatypes"
	"github.com/AleutianAI/aleutian-stage/services/stage/docstore"
)

// Stage member creation defaults. New members stand at floor level facing
// the audience, unmuted at full volume.
const (
	defaultMemberVolume = 1.0
	defaultMemberY      = -1.0
	defaultMemberRZ     = -180.0
)

// selfCustomDefaults is the viewer override seeded for a user's own fresh
// membership so their self-monitor starts silent.
func selfCustomDefaults() datatypes.Patch {
	return datatypes.Patch{
		"muted":  true,
		"volume": 0.0,
		"y":      defaultMemberY,
		"rZ":     defaultMemberRZ,
	}
}

// JoinStage moves a user into a stage membership.
//
// Description:
//
//	Validates the stage password, resolves or creates the (user, stage)
//	membership, seeds the muted self-override on creation or regroup or
//	offline-to-online transition, updates the user's current-stage fields,
//	emits StageLeft for a previous association, sends the StageJoined
//	snapshot (reduced for admins and returning members), tears down the
//	previous membership's projections, and projects the user's global
//	producers and tracks into the new membership.
//
// Inputs:
//
//	ctx - Request context.
//	userID - The joining user.
//	req - Stage, group, and optional password.
//
// Outputs:
//
//	error - ErrNotFound for a missing user or stage, ErrInvalidPassword on
//	a password mismatch. A failed join mutates nothing and notifies nobody
//	beyond the initiating caller.
//
// Thread Safety: safe for concurrent use; the multi-step sequence is
// best-effort, recovered by presence renewal and snapshot resend.
func (d *Database) JoinStage(ctx context.Context, userID string, req datatypes.JoinStageRequest) error {
	start := time.Now()

	user, err := d.ReadUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("join stage: %w", err)
	}
	stage, err := d.ReadStage(ctx, req.StageID)
	if err != nil {
		return fmt.Errorf("join stage: %w", err)
	}
	if stage.Password != "" && stage.Password != req.Password {
		return datatypes.ErrInvalidPassword
	}

	isAdmin := false
	for _, admin := range stage.Admins {
		if admin == userID {
			isAdmin = true
			break
		}
	}
	previousMemberID := user.StageMemberID

	member, wasAlreadyMember, err := d.resolveMember(ctx, user.ID, stage.ID, req.GroupID)
	if err != nil {
		return fmt.Errorf("join stage: %w", err)
	}

	if member.ID != previousMemberID {
		userPatch := datatypes.Patch{"stageId": stage.ID, "stageMemberId": member.ID}
		if err := d.UpdateUser(ctx, userID, userPatch); err != nil {
			d.logCascade("join stage: update user", err)
		}
		if previousMemberID != "" {
			d.emit(datatypes.EventStageLeft, nil)
			d.SendToUser(userID, datatypes.EventStageLeft, nil)
		}
	}

	skipStageAndGroups := isAdmin || wasAlreadyMember
	snapshot, err := d.wholeStage(ctx, userID, stage.ID, skipStageAndGroups)
	if err != nil {
		return fmt.Errorf("join stage: assemble snapshot: %w", err)
	}
	joined := datatypes.InitialStagePackage{
		StagePackage: *snapshot,
		StageID:      stage.ID,
		GroupID:      req.GroupID,
	}
	d.emit(datatypes.EventStageJoined, joined)
	d.SendToUser(userID, datatypes.EventStageJoined, joined)

	if member.ID != previousMemberID {
		if previousMemberID != "" {
			d.retireMembership(ctx, previousMemberID)
		}
		d.projectAllProducers(ctx, userID)
	}

	joinDuration.Record(ctx, time.Since(start).Seconds())
	return nil
}

// resolveMember finds or creates the (user, stage) membership and applies
// the join edge rules: a new member gets creation defaults plus the muted
// self-override; an existing member that changed group or comes back online
// is patched and the self-override is re-applied; an online member
// rejoining its own group is untouched.
func (d *Database) resolveMember(ctx context.Context, userID, stageID, groupID string) (*datatypes.StageMember, bool, error) {
	existing, err := docstore.FindOne[datatypes.StageMember](ctx, d.store, CollStageMembers, docstore.Filter{"userId": userID, "stageId": stageID})
	switch {
	case err == nil:
		if existing.GroupID != groupID || !existing.Online {
			patch := datatypes.Patch{"groupId": groupID, "online": true}
			updated, _, err := docstore.FindOneAndUpdate[datatypes.StageMember](ctx, d.store, CollStageMembers, docstore.Filter{"_id": existing.ID}, patch, false)
			if err != nil {
				return nil, true, err
			}
			payload := patch.WithID(existing.ID)
			d.emit(datatypes.EventStageMemberChanged, payload)
			d.SendToJoinedStageMembers(ctx, stageID, datatypes.EventStageMemberChanged, payload)

			if _, err := d.SetCustomStageMember(ctx, userID, existing.ID, selfCustomDefaults()); err != nil {
				d.logCascade("join stage: self custom override", err)
			}
			return updated, true, nil
		}
		return existing, true, nil

	case errors.Is(err, docstore.ErrNoDocuments):
		member := datatypes.StageMember{
			ID:      docstore.NewID(),
			StageID: stageID,
			GroupID: groupID,
			UserID:  userID,
			Online:  true,
		}
		member.Volume = defaultMemberVolume
		member.Y = defaultMemberY
		member.RZ = defaultMemberRZ
		if err := d.store.Insert(ctx, CollStageMembers, member); err != nil {
			return nil, false, err
		}
		d.emit(datatypes.EventStageMemberAdded, member)
		d.SendToJoinedStageMembers(ctx, stageID, datatypes.EventStageMemberAdded, member)

		if _, err := d.SetCustomStageMember(ctx, userID, member.ID, selfCustomDefaults()); err != nil {
			d.logCascade("join stage: self custom override", err)
		}
		return &member, false, nil

	default:
		return nil, false, err
	}
}

// retireMembership marks a previous membership offline and tears down its
// projections. Audio and video projections are deleted outright; ov tracks
// are marked offline so native clients keep their channel mapping.
func (d *Database) retireMembership(ctx context.Context, memberID string) {
	member, err := d.ReadStageMember(ctx, memberID)
	if err != nil {
		if !errors.Is(err, datatypes.ErrNotFound) {
			d.logCascade("retire membership: read member", err)
		}
		return
	}

	offline := datatypes.Patch{"online": false}
	if _, _, err := docstore.FindOneAndUpdate[datatypes.StageMember](ctx, d.store, CollStageMembers, docstore.Filter{"_id": memberID}, offline, false); err != nil {
		d.logCascade("retire membership: mark offline", err)
	} else {
		payload := offline.WithID(memberID)
		d.emit(datatypes.EventStageMemberChanged, payload)
		d.SendToJoinedStageMembers(ctx, member.StageID, datatypes.EventStageMemberChanged, payload)
	}

	audios, err := docstore.DeleteMany[datatypes.StageMemberAudioProducer](ctx, d.store, CollStageMemberAudios, docstore.Filter{"stageMemberId": memberID})
	if err != nil {
		d.logCascade("retire membership: delete audio projections", err)
	}
	for _, projection := range audios {
		d.emit(datatypes.EventStageMemberAudioRemoved, projection.ID)
		d.SendToJoinedStageMembers(ctx, member.StageID, datatypes.EventStageMemberAudioRemoved, projection.ID)
	}

	videos, err := docstore.DeleteMany[datatypes.StageMemberVideoProducer](ctx, d.store, CollStageMemberVideos, docstore.Filter{"stageMemberId": memberID})
	if err != nil {
		d.logCascade("retire membership: delete video projections", err)
	}
	for _, projection := range videos {
		d.emit(datatypes.EventStageMemberVideoRemoved, projection.ID)
		d.SendToJoinedStageMembers(ctx, member.StageID, datatypes.EventStageMemberVideoRemoved, projection.ID)
	}

	ovs, err := docstore.UpdateMany[datatypes.StageMemberOvTrack](ctx, d.store, CollStageMemberOvs, docstore.Filter{"stageMemberId": memberID}, datatypes.Patch{"online": false})
	if err != nil {
		d.logCascade("retire membership: mark ov projections offline", err)
	}
	for _, projection := range ovs {
		payload := datatypes.Patch{"online": false}.WithID(projection.ID)
		d.emit(datatypes.EventStageMemberOvChanged, payload)
		d.SendToJoinedStageMembers(ctx, member.StageID, datatypes.EventStageMemberOvChanged, payload)
	}
}

// projectAllProducers creates stage-scoped projections for every global
// producer and track the user owns, against their current membership.
func (d *Database) projectAllProducers(ctx context.Context, userID string) {
	audios, err := d.ReadAudioProducersByUser(ctx, userID)
	if err != nil {
		d.logCascade("project producers: read audio producers", err)
	}
	for _, producer := range audios {
		if err := d.projectAudioProducer(ctx, producer); err != nil {
			d.logCascade("project producers: audio "+producer.ID, err)
		}
	}

	videos, err := d.ReadVideoProducersByUser(ctx, userID)
	if err != nil {
		d.logCascade("project producers: read video producers", err)
	}
	for _, producer := range videos {
		if err := d.projectVideoProducer(ctx, producer); err != nil {
			d.logCascade("project producers: video "+producer.ID, err)
		}
	}

	tracks, err := d.ReadTracksByUser(ctx, userID)
	if err != nil {
		d.logCascade("project producers: read tracks", err)
	}
	for _, track := range tracks {
		if err := d.projectTrack(ctx, track); err != nil {
			d.logCascade("project producers: track "+track.ID, err)
		}
	}
}

// LeaveStage moves a user out of their current stage. No-op when the user
// is not inside any stage.
func (d *Database) LeaveStage(ctx context.Context, userID string) error {
	user, err := d.ReadUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("leave stage: %w", err)
	}
	if user.StageID == "" {
		return nil
	}
	previousMemberID := user.StageMemberID

	if err := d.UpdateUser(ctx, userID, datatypes.Patch{"stageId": nil, "stageMemberId": nil}); err != nil {
		d.logCascade("leave stage: update user", err)
	}
	d.emit(datatypes.EventStageLeft, nil)
	d.SendToUser(userID, datatypes.EventStageLeft, nil)

	d.retireMembership(ctx, previousMemberID)
	return nil
}

// LeaveStageForGood removes a user's membership record entirely, cascading
// its projections and overrides. The user stops seeing the stage and its
// groups.
func (d *Database) LeaveStageForGood(ctx context.Context, userID, stageID string) error {
	user, err := d.ReadUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("leave stage for good: %w", err)
	}
	member, err := docstore.FindOne[datatypes.StageMember](ctx, d.store, CollStageMembers, docstore.Filter{"userId": userID, "stageId": stageID})
	if err != nil {
		return mapNotFound(fmt.Errorf("leave stage for good: %w", err))
	}

	if user.StageID == stageID {
		if err := d.LeaveStage(ctx, userID); err != nil {
			d.logCascade("leave stage for good: leave", err)
		}
	}
	if err := d.DeleteStageMember(ctx, member.ID); err != nil {
		d.logCascade("leave stage for good: delete member", err)
	}

	groups, err := docstore.FindMany[datatypes.Group](ctx, d.store, CollGroups, docstore.Filter{"stageId": stageID})
	if err != nil {
		d.logCascade("leave stage for good: read groups", err)
		groups = nil
	}
	for _, group := range groups {
		d.SendToUser(userID, datatypes.EventGroupRemoved, group.ID)
	}
	d.SendToUser(userID, datatypes.EventStageRemoved, stageID)
	return nil
}

// wholeStage assembles the StageJoined snapshot for one viewer: the stage
// and its groups (skipped for admins and returning members, who have them
// cached), all members and their users, the stage's producer and track
// projections, and the viewer's own overrides. Queries within each phase
// run concurrently; the result is identical to a sequential assembly.
func (d *Database) wholeStage(ctx context.Context, viewerID, stageID string, skipStageAndGroups bool) (*datatypes.StagePackage, error) {
	pkg := &datatypes.StagePackage{}

	members, err := docstore.FindMany[datatypes.StageMember](ctx, d.store, CollStageMembers, docstore.Filter{"stageId": stageID})
	if err != nil {
		return nil, err
	}
	pkg.StageMembers = members

	memberIDs := make([]any, 0, len(members))
	userIDs := make([]any, 0, len(members))
	for _, member := range members {
		memberIDs = append(memberIDs, member.ID)
		userIDs = append(userIDs, member.UserID)
	}

	// Groups are always read: even when the viewer keeps their cached
	// copy, the ids scope the custom override query to this stage.
	groups, err := docstore.FindMany[datatypes.Group](ctx, d.store, CollGroups, docstore.Filter{"stageId": stageID})
	if err != nil {
		return nil, err
	}
	groupIDs := make([]any, 0, len(groups))
	for _, group := range groups {
		groupIDs = append(groupIDs, group.ID)
	}

	g, gctx := errgroup.WithContext(ctx)
	if !skipStageAndGroups {
		pkg.Groups = groups
		g.Go(func() error {
			stage, err := docstore.FindOne[datatypes.Stage](gctx, d.store, CollStages, docstore.Filter{"_id": stageID})
			if err != nil {
				return err
			}
			pkg.Stage = stage
			return nil
		})
	}
	g.Go(func() error {
		users, err := docstore.FindMany[datatypes.User](gctx, d.store, CollUsers, docstore.Filter{"_id": docstore.In(userIDs...)})
		if err != nil {
			return err
		}
		pkg.Users = users
		return nil
	})
	g.Go(func() error {
		customs, err := docstore.FindMany[datatypes.CustomGroup](gctx, d.store, CollCustomGroups, docstore.Filter{"userId": viewerID, "groupId": docstore.In(groupIDs...)})
		if err != nil {
			return err
		}
		pkg.CustomGroups = customs
		return nil
	})
	g.Go(func() error {
		customs, err := docstore.FindMany[datatypes.CustomStageMember](gctx, d.store, CollCustomStageMembers, docstore.Filter{"userId": viewerID, "stageMemberId": docstore.In(memberIDs...)})
		if err != nil {
			return err
		}
		pkg.CustomStageMembers = customs
		return nil
	})
	g.Go(func() error {
		producers, err := docstore.FindMany[datatypes.StageMemberVideoProducer](gctx, d.store, CollStageMemberVideos, docstore.Filter{"stageId": stageID})
		if err != nil {
			return err
		}
		pkg.VideoProducers = producers
		return nil
	})
	g.Go(func() error {
		producers, err := docstore.FindMany[datatypes.StageMemberAudioProducer](gctx, d.store, CollStageMemberAudios, docstore.Filter{"stageId": stageID})
		if err != nil {
			return err
		}
		pkg.AudioProducers = producers
		return nil
	})
	g.Go(func() error {
		tracks, err := docstore.FindMany[datatypes.StageMemberOvTrack](gctx, d.store, CollStageMemberOvs, docstore.Filter{"stageId": stageID})
		if err != nil {
			return err
		}
		pkg.OvTracks = tracks
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Viewer overrides for producers and tracks depend on the projection
	// ids gathered above.
	audioIDs := make([]any, 0, len(pkg.AudioProducers))
	for _, producer := range pkg.AudioProducers {
		audioIDs = append(audioIDs, producer.ID)
	}
	ovIDs := make([]any, 0, len(pkg.OvTracks))
	for _, track := range pkg.OvTracks {
		ovIDs = append(ovIDs, track.ID)
	}

	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		customs, err := docstore.FindMany[datatypes.CustomStageMemberAudioProducer](gctx, d.store, CollCustomStageMemberAudios, docstore.Filter{"userId": viewerID, "stageMemberAudioProducerId": docstore.In(audioIDs...)})
		if err != nil {
			return err
		}
		pkg.CustomAudioProducers = customs
		return nil
	})
	g.Go(func() error {
		customs, err := docstore.FindMany[datatypes.CustomStageMemberOvTrack](gctx, d.store, CollCustomStageMemberOvs, docstore.Filter{"userId": viewerID, "stageMemberOvTrackId": docstore.In(ovIDs...)})
		if err != nil {
			return err
		}
		pkg.CustomOvTracks = customs
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pkg, nil
}
