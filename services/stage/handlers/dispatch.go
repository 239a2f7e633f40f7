// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/aleutian-stage/services/stage/datatypes"
	"github.com/AleutianAI/aleutian-stage/services/stage/transport"
)

// Client command names. Servers never send these; they are the inbound half
// of the protocol.
const (
	cmdUpdateDevice = "update-device"

	cmdSetSoundCard    = "set-sound-card"
	cmdRemoveSoundCard = "remove-sound-card"

	cmdAddTrackPreset    = "add-track-preset"
	cmdChangeTrackPreset = "change-track-preset"
	cmdRemoveTrackPreset = "remove-track-preset"

	cmdAddTrack    = "add-track"
	cmdChangeTrack = "change-track"
	cmdRemoveTrack = "remove-track"

	cmdAddAudioProducer    = "add-audio-producer"
	cmdRemoveAudioProducer = "remove-audio-producer"
	cmdAddVideoProducer    = "add-video-producer"
	cmdRemoveVideoProducer = "remove-video-producer"

	cmdAddStage    = "add-stage"
	cmdChangeStage = "change-stage"
	cmdRemoveStage = "remove-stage"

	cmdAddGroup    = "add-group"
	cmdChangeGroup = "change-group"
	cmdRemoveGroup = "remove-group"

	cmdChangeStageMember = "change-stage-member"

	cmdJoinStage         = "join-stage"
	cmdLeaveStage        = "leave-stage"
	cmdLeaveStageForGood = "leave-stage-for-good"

	cmdSetCustomGroup            = "set-custom-group"
	cmdSetCustomStageMember      = "set-custom-stage-member"
	cmdSetCustomStageMemberAudio = "set-custom-stage-member-audio"
	cmdSetCustomStageMemberOv    = "set-custom-stage-member-ov"
)

// idPayload is the shape of remove commands.
type idPayload struct {
	ID string `json:"id" validate:"required"`
}

// updatePayload is the shape of generic change commands.
type updatePayload struct {
	ID     string          `json:"id" validate:"required"`
	Update datatypes.Patch `json:"update" validate:"required"`
}

// decode unmarshals and validates a command payload.
func decode[T any](raw json.RawMessage) (T, error) {
	var req T
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			return req, fmt.Errorf("decode payload: %w", err)
		}
	}
	if err := datatypes.Validate(&req); err != nil {
		return req, err
	}
	return req, nil
}

// dispatch routes one client command into the engine. Ownership and admin
// guards live here; the engine trusts its callers.
func (s *session) dispatch(ctx context.Context, msg transport.Message) error {
	switch msg.Type {
	case cmdUpdateDevice:
		return s.handleUpdateDevice(ctx, msg.Payload)

	case cmdSetSoundCard:
		req, err := decode[datatypes.SetSoundCardRequest](msg.Payload)
		if err != nil {
			return err
		}
		_, err = s.deps.Engine.SetSoundCard(ctx, s.user.ID, req)
		return err
	case cmdRemoveSoundCard:
		return s.handleRemoveSoundCard(ctx, msg.Payload)

	case cmdAddTrackPreset:
		req, err := decode[datatypes.AddTrackPresetRequest](msg.Payload)
		if err != nil {
			return err
		}
		_, err = s.deps.Engine.CreateTrackPreset(ctx, datatypes.TrackPreset{
			UserID:         s.user.ID,
			SoundCardID:    req.SoundCardID,
			Name:           req.Name,
			InputChannels:  req.InputChannels,
			OutputChannels: req.OutputChannels,
		})
		return err
	case cmdChangeTrackPreset:
		return s.handleChangeTrackPreset(ctx, msg.Payload)
	case cmdRemoveTrackPreset:
		return s.handleRemoveTrackPreset(ctx, msg.Payload)

	case cmdAddTrack:
		req, err := decode[datatypes.AddTrackRequest](msg.Payload)
		if err != nil {
			return err
		}
		_, err = s.deps.Engine.CreateTrack(ctx, datatypes.Track{
			UserID:        s.user.ID,
			DeviceID:      s.device.ID,
			TrackPresetID: req.TrackPresetID,
			Channel:       req.Channel,
			Gain:          req.Gain,
		})
		return err
	case cmdChangeTrack:
		return s.handleChangeTrack(ctx, msg.Payload)
	case cmdRemoveTrack:
		return s.handleRemoveTrack(ctx, msg.Payload)

	case cmdAddAudioProducer:
		req, err := decode[datatypes.AddAudioProducerRequest](msg.Payload)
		if err != nil {
			return err
		}
		_, err = s.deps.Engine.CreateAudioProducer(ctx, s.user.ID, s.device.ID, req.RouterID)
		return err
	case cmdRemoveAudioProducer:
		return s.handleRemoveAudioProducer(ctx, msg.Payload)
	case cmdAddVideoProducer:
		req, err := decode[datatypes.AddVideoProducerRequest](msg.Payload)
		if err != nil {
			return err
		}
		_, err = s.deps.Engine.CreateVideoProducer(ctx, s.user.ID, s.device.ID, req.RouterID)
		return err
	case cmdRemoveVideoProducer:
		return s.handleRemoveVideoProducer(ctx, msg.Payload)

	case cmdAddStage:
		req, err := decode[datatypes.AddStageRequest](msg.Payload)
		if err != nil {
			return err
		}
		_, err = s.deps.Engine.CreateStage(ctx, s.user.ID, req)
		return err
	case cmdChangeStage:
		req, err := decode[datatypes.ChangeStageRequest](msg.Payload)
		if err != nil {
			return err
		}
		if err := s.requireStageAdmin(ctx, req.ID); err != nil {
			return err
		}
		return s.deps.Engine.UpdateStage(ctx, req.ID, req.Update)
	case cmdRemoveStage:
		req, err := decode[idPayload](msg.Payload)
		if err != nil {
			return err
		}
		if err := s.requireStageAdmin(ctx, req.ID); err != nil {
			return err
		}
		return s.deps.Engine.DeleteStage(ctx, req.ID)

	case cmdAddGroup:
		req, err := decode[datatypes.AddGroupRequest](msg.Payload)
		if err != nil {
			return err
		}
		if err := s.requireStageAdmin(ctx, req.StageID); err != nil {
			return err
		}
		_, err = s.deps.Engine.CreateGroup(ctx, req.StageID, req.Name)
		return err
	case cmdChangeGroup:
		req, err := decode[datatypes.ChangeGroupRequest](msg.Payload)
		if err != nil {
			return err
		}
		group, err := s.deps.Engine.ReadGroup(ctx, req.ID)
		if err != nil {
			return err
		}
		if err := s.requireStageAdmin(ctx, group.StageID); err != nil {
			return err
		}
		return s.deps.Engine.UpdateGroup(ctx, req.ID, req.Update)
	case cmdRemoveGroup:
		req, err := decode[idPayload](msg.Payload)
		if err != nil {
			return err
		}
		group, err := s.deps.Engine.ReadGroup(ctx, req.ID)
		if err != nil {
			return err
		}
		if err := s.requireStageAdmin(ctx, group.StageID); err != nil {
			return err
		}
		return s.deps.Engine.DeleteGroup(ctx, req.ID)

	case cmdChangeStageMember:
		req, err := decode[datatypes.ChangeStageMemberRequest](msg.Payload)
		if err != nil {
			return err
		}
		member, err := s.deps.Engine.ReadStageMember(ctx, req.ID)
		if err != nil {
			return err
		}
		if err := s.requireStageAdmin(ctx, member.StageID); err != nil {
			return err
		}
		return s.deps.Engine.UpdateStageMember(ctx, req.ID, req.Update)

	case cmdJoinStage:
		req, err := decode[datatypes.JoinStageRequest](msg.Payload)
		if err != nil {
			return err
		}
		return s.deps.Engine.JoinStage(ctx, s.user.ID, req)
	case cmdLeaveStage:
		return s.deps.Engine.LeaveStage(ctx, s.user.ID)
	case cmdLeaveStageForGood:
		req, err := decode[datatypes.LeaveStageForGoodRequest](msg.Payload)
		if err != nil {
			return err
		}
		return s.deps.Engine.LeaveStageForGood(ctx, s.user.ID, req.StageID)

	case cmdSetCustomGroup:
		req, err := decode[datatypes.SetCustomRequest](msg.Payload)
		if err != nil {
			return err
		}
		_, err = s.deps.Engine.SetCustomGroup(ctx, s.user.ID, req.TargetID, req.Update)
		return err
	case cmdSetCustomStageMember:
		req, err := decode[datatypes.SetCustomRequest](msg.Payload)
		if err != nil {
			return err
		}
		_, err = s.deps.Engine.SetCustomStageMember(ctx, s.user.ID, req.TargetID, req.Update)
		return err
	case cmdSetCustomStageMemberAudio:
		req, err := decode[datatypes.SetCustomRequest](msg.Payload)
		if err != nil {
			return err
		}
		_, err = s.deps.Engine.SetCustomStageMemberAudio(ctx, s.user.ID, req.TargetID, req.Update)
		return err
	case cmdSetCustomStageMemberOv:
		req, err := decode[datatypes.SetCustomRequest](msg.Payload)
		if err != nil {
			return err
		}
		_, err = s.deps.Engine.SetCustomStageMemberOvTrack(ctx, s.user.ID, req.TargetID, req.Update)
		return err
	}
	return fmt.Errorf("unknown command %q", msg.Type)
}

// requireStageAdmin rejects stage-altering commands from non-admins.
func (s *session) requireStageAdmin(ctx context.Context, stageID string) error {
	ok, err := s.deps.Engine.IsStageAdmin(ctx, stageID, s.user.ID)
	if err != nil {
		return err
	}
	if !ok {
		return datatypes.ErrNotAuthorized
	}
	return nil
}

// handleUpdateDevice patches one of the acting user's own devices. The id
// defaults to the session device when omitted.
func (s *session) handleUpdateDevice(ctx context.Context, raw json.RawMessage) error {
	var patch datatypes.Patch
	if err := json.Unmarshal(raw, &patch); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	id := s.device.ID
	if v, ok := patch["_id"].(string); ok && v != "" {
		id = v
		delete(patch, "_id")
	}
	device, err := s.deps.Engine.ReadDevice(ctx, id)
	if err != nil {
		return err
	}
	if device.UserID != s.user.ID {
		return datatypes.ErrNotAuthorized
	}
	// Identity and placement fields are server-controlled.
	delete(patch, "userId")
	delete(patch, "server")
	if len(patch) == 0 {
		return datatypes.ErrNoPayload
	}
	return s.deps.Engine.UpdateDevice(ctx, id, patch)
}

func (s *session) handleRemoveSoundCard(ctx context.Context, raw json.RawMessage) error {
	req, err := decode[idPayload](raw)
	if err != nil {
		return err
	}
	card, err := s.deps.Engine.ReadSoundCard(ctx, req.ID)
	if err != nil {
		return err
	}
	if card.UserID != s.user.ID {
		return datatypes.ErrNotAuthorized
	}
	return s.deps.Engine.DeleteSoundCard(ctx, req.ID)
}

func (s *session) handleChangeTrackPreset(ctx context.Context, raw json.RawMessage) error {
	req, err := decode[updatePayload](raw)
	if err != nil {
		return err
	}
	preset, err := s.deps.Engine.ReadTrackPreset(ctx, req.ID)
	if err != nil {
		return err
	}
	if preset.UserID != s.user.ID {
		return datatypes.ErrNotAuthorized
	}
	return s.deps.Engine.UpdateTrackPreset(ctx, req.ID, req.Update)
}

func (s *session) handleRemoveTrackPreset(ctx context.Context, raw json.RawMessage) error {
	req, err := decode[idPayload](raw)
	if err != nil {
		return err
	}
	preset, err := s.deps.Engine.ReadTrackPreset(ctx, req.ID)
	if err != nil {
		return err
	}
	if preset.UserID != s.user.ID {
		return datatypes.ErrNotAuthorized
	}
	return s.deps.Engine.DeleteTrackPreset(ctx, req.ID)
}

func (s *session) handleChangeTrack(ctx context.Context, raw json.RawMessage) error {
	req, err := decode[updatePayload](raw)
	if err != nil {
		return err
	}
	track, err := s.deps.Engine.ReadTrack(ctx, req.ID)
	if err != nil {
		return err
	}
	if track.UserID != s.user.ID {
		return datatypes.ErrNotAuthorized
	}
	return s.deps.Engine.UpdateTrack(ctx, req.ID, req.Update)
}

func (s *session) handleRemoveTrack(ctx context.Context, raw json.RawMessage) error {
	req, err := decode[idPayload](raw)
	if err != nil {
		return err
	}
	track, err := s.deps.Engine.ReadTrack(ctx, req.ID)
	if err != nil {
		return err
	}
	if track.UserID != s.user.ID {
		return datatypes.ErrNotAuthorized
	}
	return s.deps.Engine.DeleteTrack(ctx, req.ID)
}

func (s *session) handleRemoveAudioProducer(ctx context.Context, raw json.RawMessage) error {
	req, err := decode[idPayload](raw)
	if err != nil {
		return err
	}
	producer, err := s.deps.Engine.ReadAudioProducer(ctx, req.ID)
	if err != nil {
		return err
	}
	if producer.UserID != s.user.ID {
		return datatypes.ErrNotAuthorized
	}
	return s.deps.Engine.DeleteAudioProducer(ctx, req.ID)
}

func (s *session) handleRemoveVideoProducer(ctx context.Context, raw json.RawMessage) error {
	req, err := decode[idPayload](raw)
	if err != nil {
		return err
	}
	producer, err := s.deps.Engine.ReadVideoProducer(ctx, req.ID)
	if err != nil {
		return err
	}
	if producer.UserID != s.user.ID {
		return datatypes.ErrNotAuthorized
	}
	return s.deps.Engine.DeleteVideoProducer(ctx, req.ID)
}
