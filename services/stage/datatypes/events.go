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

// EventName identifies a wire-level event. Per entity family there are three
// kinds: <entity>-added carries the full record, <entity>-changed carries the
// patch plus the id, <entity>-removed carries the bare id. Patch payloads
// always include the id even when nothing else changed.
type EventName string

// Global lifecycle events.
const (
	EventReady EventName = "ready"
)

// User events.
const (
	EventUserReady   EventName = "user-ready"
	EventUserAdded   EventName = "user-added"
	EventUserChanged EventName = "user-changed"
	EventUserRemoved EventName = "user-removed"
)

// Device-scoped events, delivered to the owning user only.
const (
	EventLocalDeviceReady EventName = "local-device-ready"
	EventDeviceAdded      EventName = "device-added"
	EventDeviceChanged    EventName = "device-changed"
	EventDeviceRemoved    EventName = "device-removed"

	EventSoundCardAdded   EventName = "sound-card-added"
	EventSoundCardChanged EventName = "sound-card-changed"
	EventSoundCardRemoved EventName = "sound-card-removed"

	EventTrackPresetAdded   EventName = "track-preset-added"
	EventTrackPresetChanged EventName = "track-preset-changed"
	EventTrackPresetRemoved EventName = "track-preset-removed"

	EventTrackAdded   EventName = "track-added"
	EventTrackChanged EventName = "track-changed"
	EventTrackRemoved EventName = "track-removed"

	EventAudioProducerAdded   EventName = "audio-producer-added"
	EventAudioProducerChanged EventName = "audio-producer-changed"
	EventAudioProducerRemoved EventName = "audio-producer-removed"

	EventVideoProducerAdded   EventName = "video-producer-added"
	EventVideoProducerChanged EventName = "video-producer-changed"
	EventVideoProducerRemoved EventName = "video-producer-removed"
)

// Router events, broadcast to everyone.
const (
	EventRouterAdded   EventName = "router-added"
	EventRouterChanged EventName = "router-changed"
	EventRouterRemoved EventName = "router-removed"
)

// Stage events. Stage and group events go to the stage's admins and members;
// member-level and projection events go to currently joined members only.
const (
	EventStageAdded   EventName = "stage-added"
	EventStageChanged EventName = "stage-changed"
	EventStageRemoved EventName = "stage-removed"

	EventStageJoined EventName = "stage-joined"
	EventStageLeft   EventName = "stage-left"

	EventGroupAdded   EventName = "group-added"
	EventGroupChanged EventName = "group-changed"
	EventGroupRemoved EventName = "group-removed"

	EventStageMemberAdded   EventName = "stage-member-added"
	EventStageMemberChanged EventName = "stage-member-changed"
	EventStageMemberRemoved EventName = "stage-member-removed"

	EventStageMemberAudioAdded   EventName = "stage-member-audio-added"
	EventStageMemberAudioChanged EventName = "stage-member-audio-changed"
	EventStageMemberAudioRemoved EventName = "stage-member-audio-removed"

	EventStageMemberVideoAdded   EventName = "stage-member-video-added"
	EventStageMemberVideoChanged EventName = "stage-member-video-changed"
	EventStageMemberVideoRemoved EventName = "stage-member-video-removed"

	EventStageMemberOvAdded   EventName = "stage-member-ov-added"
	EventStageMemberOvChanged EventName = "stage-member-ov-changed"
	EventStageMemberOvRemoved EventName = "stage-member-ov-removed"
)

// Custom override events, delivered to the owning viewer only.
const (
	EventCustomGroupAdded   EventName = "custom-group-added"
	EventCustomGroupChanged EventName = "custom-group-changed"
	EventCustomGroupRemoved EventName = "custom-group-removed"

	EventCustomStageMemberAdded   EventName = "custom-stage-member-added"
	EventCustomStageMemberChanged EventName = "custom-stage-member-changed"
	EventCustomStageMemberRemoved EventName = "custom-stage-member-removed"

	EventCustomStageMemberAudioAdded   EventName = "custom-stage-member-audio-added"
	EventCustomStageMemberAudioChanged EventName = "custom-stage-member-audio-changed"
	EventCustomStageMemberAudioRemoved EventName = "custom-stage-member-audio-removed"

	EventCustomStageMemberOvAdded   EventName = "custom-stage-member-ov-added"
	EventCustomStageMemberOvChanged EventName = "custom-stage-member-ov-changed"
	EventCustomStageMemberOvRemoved EventName = "custom-stage-member-ov-removed"
)

// ChangeEvent is the internal notification a successful store mutation
// produces for local observers. It is distinct from the wire protocol: wire
// fanout is invoked explicitly by the mutation with a recipient policy,
// while ChangeEvents go to in-process subscribers regardless of policy.
type ChangeEvent struct {
	Name    EventName
	Payload any
}

// Patch is a partial-field update. Keys are document field names; values
// replace the stored field. A Patch never removes fields, matching the
// partial-merge update contract of the store.
type Patch map[string]any

// WithID returns a copy of the patch carrying the entity id, which every
// changed-event payload must include.
func (p Patch) WithID(id string) Patch {
	out := make(Patch, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	out["_id"] = id
	return out
}
