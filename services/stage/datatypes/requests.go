// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "github.com/go-playground/validator/v10"

// stageValidate is the shared validator instance for client payloads.
// Socket payloads bypass gin's binding layer, so they are validated here
// explicitly before reaching the engine.
var stageValidate = validator.New()

// Validate checks a client payload against its validation tags.
func Validate(payload any) error {
	return stageValidate.Struct(payload)
}

// JoinStageRequest asks to move the acting user into a stage and group.
type JoinStageRequest struct {
	StageID  string `json:"stageId" validate:"required"`
	GroupID  string `json:"groupId" validate:"required"`
	Password string `json:"password,omitempty"`
}

// LeaveStageForGoodRequest removes the acting user's membership of a stage
// permanently.
type LeaveStageForGoodRequest struct {
	StageID string `json:"stageId" validate:"required"`
}

// AddStageRequest creates a stage; the acting user becomes an admin.
type AddStageRequest struct {
	Name       string   `json:"name" validate:"required,max=100"`
	Password   string   `json:"password,omitempty" validate:"max=100"`
	Width      float64  `json:"width,omitempty" validate:"omitempty,gt=0"`
	Length     float64  `json:"length,omitempty" validate:"omitempty,gt=0"`
	Height     float64  `json:"height,omitempty" validate:"omitempty,gt=0"`
	Absorption float64  `json:"absorption,omitempty" validate:"omitempty,gte=0,lte=1"`
	Damping    float64  `json:"damping,omitempty" validate:"omitempty,gte=0,lte=1"`
	Admins     []string `json:"admins,omitempty"`
}

// ChangeStageRequest patches a stage. Only admins may issue it.
type ChangeStageRequest struct {
	ID     string `json:"id" validate:"required"`
	Update Patch  `json:"update" validate:"required"`
}

// AddGroupRequest creates a group inside a stage the acting user administers.
type AddGroupRequest struct {
	StageID string `json:"stageId" validate:"required"`
	Name    string `json:"name" validate:"required,max=100"`
}

// ChangeGroupRequest patches a group.
type ChangeGroupRequest struct {
	ID     string `json:"id" validate:"required"`
	Update Patch  `json:"update" validate:"required"`
}

// ChangeStageMemberRequest patches a stage member (admin operation).
type ChangeStageMemberRequest struct {
	ID     string `json:"id" validate:"required"`
	Update Patch  `json:"update" validate:"required"`
}

// AddAudioProducerRequest registers a device-level audio source.
type AddAudioProducerRequest struct {
	RouterID string `json:"routerId,omitempty"`
}

// AddVideoProducerRequest registers a device-level video source.
type AddVideoProducerRequest struct {
	RouterID string `json:"routerId,omitempty"`
}

// SetSoundCardRequest upserts a sound card profile by name for the acting
// user.
type SetSoundCardRequest struct {
	Name              string  `json:"name" validate:"required,max=100"`
	DriverType        string  `json:"driver,omitempty"`
	NumInputChannels  int     `json:"numInputChannels" validate:"gte=0,lte=1024"`
	NumOutputChannels int     `json:"numOutputChannels" validate:"gte=0,lte=1024"`
	SampleRate        float64 `json:"sampleRate,omitempty" validate:"omitempty,gt=0"`
}

// AddTrackPresetRequest creates a channel routing preset for a sound card.
type AddTrackPresetRequest struct {
	SoundCardID    string `json:"soundCardId" validate:"required"`
	Name           string `json:"name" validate:"required,max=100"`
	InputChannels  []int  `json:"inputChannels,omitempty"`
	OutputChannels []int  `json:"outputChannels,omitempty"`
}

// AddTrackRequest creates a spatial-audio track bound to a preset.
type AddTrackRequest struct {
	TrackPresetID string  `json:"trackPresetId" validate:"required"`
	Channel       int     `json:"channel" validate:"gte=0,lte=1024"`
	Gain          float64 `json:"gain,omitempty"`
}

// SetCustomRequest writes a viewer-private override for a target entity.
// The target id field depends on the event the request arrived with.
type SetCustomRequest struct {
	TargetID string `json:"id" validate:"required"`
	Update   Patch  `json:"update" validate:"required"`
}
