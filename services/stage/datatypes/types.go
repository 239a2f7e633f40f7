// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the entity model of the stage synchronization
// engine: users, their devices and signal sources, stages and their groups
// and members, stage-scoped projections of global sources, and the
// per-viewer custom override records.
//
// All identifiers are opaque strings (UUIDs). Entities reference each other
// by id only; the object graph is resolved by lookup against the store, so
// no struct owns another in memory. The JSON tags double as the document
// field names in the store and the field names on the wire.
package datatypes

// ThreeDimensionalProperties are the spatial mix parameters shared by stage
// members, their audio projections and the custom override records. Rotation
// fields are Euler angles in degrees.
type ThreeDimensionalProperties struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	Z  float64 `json:"z"`
	RX float64 `json:"rX"`
	RY float64 `json:"rY"`
	RZ float64 `json:"rZ"`
}

// VolumeProperties are the gain parameters shared by all mixable entities.
type VolumeProperties struct {
	Volume float64 `json:"volume"`
	Muted  bool    `json:"muted"`
}

// User is a person with a verified identity. A user holds at most one active
// stage membership at a time, tracked by StageID/StageMemberID; both are
// empty while the user is outside every stage.
type User struct {
	ID        string `json:"_id"`
	UID       string `json:"uid"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`

	StageID       string `json:"stageId,omitempty"`
	StageMemberID string `json:"stageMemberId,omitempty"`
}

// Device is one client endpoint of a user. The Server field records which
// stage-server instance the device connected through; it is the key the
// router health manager sweeps when an instance dies.
type Device struct {
	ID     string `json:"_id"`
	UserID string `json:"userId"`
	Online bool   `json:"online"`
	MAC    string `json:"mac,omitempty"`
	Name   string `json:"name"`
	Server string `json:"server,omitempty"`

	CanVideo bool `json:"canVideo"`
	CanAudio bool `json:"canAudio"`
	CanOv    bool `json:"canOv"`

	SendVideo    bool `json:"sendVideo"`
	SendAudio    bool `json:"sendAudio"`
	ReceiveVideo bool `json:"receiveVideo"`
	ReceiveAudio bool `json:"receiveAudio"`

	InputVideoDevices  []ChannelDescription `json:"inputVideoDevices,omitempty"`
	InputAudioDevices  []ChannelDescription `json:"inputAudioDevices,omitempty"`
	OutputAudioDevices []ChannelDescription `json:"outputAudioDevices,omitempty"`
	InputVideoDeviceID string               `json:"inputVideoDevice,omitempty"`
	InputAudioDeviceID string               `json:"inputAudioDevice,omitempty"`
	OutputAudioDevice  string               `json:"outputAudioDevice,omitempty"`

	SoundCardIDs []string `json:"soundCardIds,omitempty"`
}

// ChannelDescription names a selectable hardware input or output.
type ChannelDescription struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Router is a media relay process for spatial-audio traffic. Routers are
// global records; a stage references one through its OvServer assignment.
type Router struct {
	ID   string `json:"_id"`
	URL  string `json:"url"`
	IPv4 string `json:"ipv4,omitempty"`
	IPv6 string `json:"ipv6,omitempty"`
	Port int    `json:"port"`
	// Server is the stage-server instance the router registered through.
	Server string `json:"server,omitempty"`
}

// OvServer is a stage's relay assignment. RouterID must reference an
// existing Router; the health manager clears the whole assignment when the
// router disappears.
type OvServer struct {
	IPv4     string `json:"ipv4"`
	IPv6     string `json:"ipv6,omitempty"`
	Port     int    `json:"port"`
	PIN      int    `json:"pin,omitempty"`
	RouterID string `json:"router"`
}

// Stage is a virtual room modeling an acoustic space.
type Stage struct {
	ID       string   `json:"_id"`
	Name     string   `json:"name"`
	Password string   `json:"password,omitempty"`
	Admins   []string `json:"admins"`

	// Acoustic parameters, in meters and absolute coefficients.
	Width      float64 `json:"width"`
	Length     float64 `json:"length"`
	Height     float64 `json:"height"`
	Absorption float64 `json:"absorption"`
	Damping    float64 `json:"damping"`

	OvServer *OvServer `json:"ovServer,omitempty"`
}

// Group is a sub-division of a stage's members, e.g. a section of
// performers sharing a base mix.
type Group struct {
	ID      string `json:"_id"`
	StageID string `json:"stageId"`
	Name    string `json:"name"`
	VolumeProperties
}

// StageMember is a user's presence inside one stage. At most one exists per
// (user, stage) pair; rejoining reuses it. Online is derived from the owning
// user's devices by the presence aggregator, except during join/leave.
type StageMember struct {
	ID      string `json:"_id"`
	StageID string `json:"stageId"`
	GroupID string `json:"groupId"`
	UserID  string `json:"userId"`

	Online     bool `json:"online"`
	IsDirector bool `json:"isDirector"`
	VolumeProperties
	ThreeDimensionalProperties
}

// GlobalAudioProducer is a device-level audio source, independent of any
// stage. While its owner is joined it is projected into a
// StageMemberAudioProducer.
type GlobalAudioProducer struct {
	ID       string `json:"_id"`
	UserID   string `json:"userId"`
	DeviceID string `json:"deviceId"`
	RouterID string `json:"routerId,omitempty"`
}

// GlobalVideoProducer is the video counterpart of GlobalAudioProducer.
type GlobalVideoProducer struct {
	ID       string `json:"_id"`
	UserID   string `json:"userId"`
	DeviceID string `json:"deviceId"`
	RouterID string `json:"routerId,omitempty"`
}

// StageMemberAudioProducer is the stage-visible projection of a global audio
// producer. It exists only while the owning membership is active.
type StageMemberAudioProducer struct {
	ID               string `json:"_id"`
	StageID          string `json:"stageId"`
	StageMemberID    string `json:"stageMemberId"`
	UserID           string `json:"userId"`
	GlobalProducerID string `json:"globalProducerId"`
	Online           bool   `json:"online"`
	VolumeProperties
	ThreeDimensionalProperties
}

// StageMemberVideoProducer is the stage-visible projection of a global video
// producer.
type StageMemberVideoProducer struct {
	ID               string `json:"_id"`
	StageID          string `json:"stageId"`
	StageMemberID    string `json:"stageMemberId"`
	UserID           string `json:"userId"`
	GlobalProducerID string `json:"globalProducerId"`
	Online           bool   `json:"online"`
}

// SoundCard is a device's audio hardware profile. Creating one also creates
// a default track preset for its first stereo pair.
type SoundCard struct {
	ID     string `json:"_id"`
	UserID string `json:"userId"`
	Name   string `json:"name"`

	DriverType        string  `json:"driver,omitempty"`
	NumInputChannels  int     `json:"numInputChannels"`
	NumOutputChannels int     `json:"numOutputChannels"`
	SampleRate        float64 `json:"sampleRate,omitempty"`
	PeriodSize        int     `json:"periodSize,omitempty"`
	NumPeriods        int     `json:"numPeriods,omitempty"`
}

// TrackPreset selects which channels of a sound card feed spatial-audio
// tracks.
type TrackPreset struct {
	ID          string `json:"_id"`
	UserID      string `json:"userId"`
	SoundCardID string `json:"soundCardId"`
	Name        string `json:"name"`

	InputChannels  []int `json:"inputChannels,omitempty"`
	OutputChannels []int `json:"outputChannels,omitempty"`
}

// Track is a single spatial-audio channel, bound to a track preset. While
// the owner is joined it is projected into a StageMemberOvTrack.
type Track struct {
	ID            string `json:"_id"`
	UserID        string `json:"userId"`
	DeviceID      string `json:"deviceId,omitempty"`
	TrackPresetID string `json:"trackPresetId"`

	Channel     int     `json:"channel"`
	Gain        float64 `json:"gain"`
	Directivity string  `json:"directivity,omitempty"`
}

// StageMemberOvTrack is the stage-visible projection of a track. Unlike the
// producer projections it survives a leave: it is marked offline rather than
// deleted, so channel assignments persist across rejoins.
type StageMemberOvTrack struct {
	ID            string `json:"_id"`
	StageID       string `json:"stageId"`
	StageMemberID string `json:"stageMemberId"`
	UserID        string `json:"userId"`
	TrackID       string `json:"trackId"`
	TrackPresetID string `json:"trackPresetId,omitempty"`

	Channel     int     `json:"channel"`
	Gain        float64 `json:"gain"`
	Directivity string  `json:"directivity,omitempty"`
	Online      bool    `json:"online"`
	VolumeProperties
	ThreeDimensionalProperties
}

// CustomGroup is a viewer-private override of a group's mix parameters.
// One exists per (viewer, group) pair at most; absence means "use the
// canonical value".
type CustomGroup struct {
	ID      string `json:"_id"`
	UserID  string `json:"userId"`
	GroupID string `json:"groupId"`
	VolumeProperties
}

// CustomStageMember is a viewer-private override of a stage member.
type CustomStageMember struct {
	ID            string `json:"_id"`
	UserID        string `json:"userId"`
	StageMemberID string `json:"stageMemberId"`
	VolumeProperties
	ThreeDimensionalProperties
}

// CustomStageMemberAudioProducer is a viewer-private override of a stage
// member's audio projection.
type CustomStageMemberAudioProducer struct {
	ID                         string `json:"_id"`
	UserID                     string `json:"userId"`
	StageMemberAudioProducerID string `json:"stageMemberAudioProducerId"`
	VolumeProperties
	ThreeDimensionalProperties
}

// CustomStageMemberOvTrack is a viewer-private override of a stage member's
// spatial-audio track projection.
type CustomStageMemberOvTrack struct {
	ID                   string `json:"_id"`
	UserID               string `json:"userId"`
	StageMemberOvTrackID string `json:"stageMemberOvTrackId"`

	Gain        float64 `json:"gain"`
	Directivity string  `json:"directivity,omitempty"`
	VolumeProperties
	ThreeDimensionalProperties
}

// StagePackage is the snapshot a viewer receives on join or reconnect: the
// canonical stage graph plus the viewer's own custom overrides. Stage and
// Groups are omitted from the reduced form sent to admins and returning
// members, who already hold them.
type StagePackage struct {
	Stage  *Stage  `json:"stage,omitempty"`
	Groups []Group `json:"groups,omitempty"`

	Users                []User                           `json:"users"`
	StageMembers         []StageMember                    `json:"stageMembers"`
	CustomGroups         []CustomGroup                    `json:"customGroups"`
	CustomStageMembers   []CustomStageMember              `json:"customStageMembers"`
	VideoProducers       []StageMemberVideoProducer       `json:"videoProducers"`
	AudioProducers       []StageMemberAudioProducer       `json:"audioProducers"`
	CustomAudioProducers []CustomStageMemberAudioProducer `json:"customAudioProducers"`
	OvTracks             []StageMemberOvTrack             `json:"ovTracks"`
	CustomOvTracks       []CustomStageMemberOvTrack       `json:"customOvTracks"`
}

// InitialStagePackage is the StagePackage sent on join and reconnect,
// annotated with where the viewer landed.
type InitialStagePackage struct {
	StagePackage
	StageID string `json:"stageId"`
	GroupID string `json:"groupId"`
}
