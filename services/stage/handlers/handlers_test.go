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
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/aleutian-stage/services/stage/database"
	"github.com/AleutianAI/aleutian-stage/services/stage/datatypes"
	"github.com/AleutianAI/aleutian-stage/services/stage/docstore"
	storagebadger "github.com/AleutianAI/aleutian-stage/services/stage/storage/badger"
	"github.com/AleutianAI/aleutian-stage/services/stage/transport"
)

// fakeConn records frames written through a Socket.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.frames = append(c.frames, buf)
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) messages(t *testing.T) []transport.Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]transport.Message, 0, len(c.frames))
	for _, frame := range c.frames {
		var msg transport.Message
		require.NoError(t, json.Unmarshal(frame, &msg))
		out = append(out, msg)
	}
	return out
}

// waitForEvent polls until the connection has received the named event.
func waitForEvent(t *testing.T, conn *fakeConn, event datatypes.EventName) []transport.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msgs := conn.messages(t)
		for _, msg := range msgs {
			if msg.Type == string(event) {
				return msgs
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("event %s never arrived", event)
	return nil
}

func countEvents(msgs []transport.Message, event datatypes.EventName) int {
	n := 0
	for _, msg := range msgs {
		if msg.Type == string(event) {
			n++
		}
	}
	return n
}

type harness struct {
	engine *database.Database
	hub    *transport.Hub
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := storagebadger.Open(storagebadger.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	hub := transport.NewHub()
	engine, err := database.New(database.Config{
		Store:  docstore.New(db),
		Sender: hub,
		Logger: slog.Default(),
	})
	require.NoError(t, err)
	return &harness{engine: engine, hub: hub}
}

// newSession creates a user, a session device, and a hub-registered socket
// backed by a fake connection.
func (h *harness) newSession(t *testing.T, uid string) (*session, *fakeConn) {
	t.Helper()
	ctx := context.Background()
	user, err := h.engine.CreateUser(ctx, uid, uid, "")
	require.NoError(t, err)
	device, err := h.engine.CreateDevice(ctx, datatypes.Device{
		UserID: user.ID,
		Name:   "Browser",
		Online: true,
	})
	require.NoError(t, err)

	conn := &fakeConn{}
	socket := transport.NewSocket(conn, slog.Default())
	socket.BindUser(user.ID)
	h.hub.Register(socket)
	t.Cleanup(func() { h.hub.Unregister(socket); socket.Close() })

	return &session{
		deps: Deps{
			Engine:        h.engine,
			Hub:           h.hub,
			Logger:        slog.Default(),
			ServerAddress: "localhost:4000",
		},
		logger: slog.Default(),
		socket: socket,
		user:   user,
		device: device,
	}, conn
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestDispatchAdminGuards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	admin, _ := h.newSession(t, "admin")
	outsider, _ := h.newSession(t, "outsider")

	err := admin.dispatch(ctx, transport.Message{
		Type:    cmdAddStage,
		Payload: mustJSON(t, map[string]any{"name": "Rehearsal"}),
	})
	require.NoError(t, err)
	stages, err := h.engine.ReadStagesByUser(ctx, admin.user.ID)
	require.NoError(t, err)
	require.Len(t, stages, 1)
	stageID := stages[0].ID

	patch := map[string]any{"id": stageID, "update": map[string]any{"name": "Hacked"}}
	err = outsider.dispatch(ctx, transport.Message{Type: cmdChangeStage, Payload: mustJSON(t, patch)})
	require.ErrorIs(t, err, datatypes.ErrNotAuthorized)
	err = outsider.dispatch(ctx, transport.Message{
		Type:    cmdRemoveStage,
		Payload: mustJSON(t, map[string]any{"id": stageID}),
	})
	require.ErrorIs(t, err, datatypes.ErrNotAuthorized)

	err = outsider.dispatch(ctx, transport.Message{
		Type:    cmdAddGroup,
		Payload: mustJSON(t, map[string]any{"stageId": stageID, "name": "Band"}),
	})
	require.ErrorIs(t, err, datatypes.ErrNotAuthorized)

	err = admin.dispatch(ctx, transport.Message{
		Type:    cmdAddGroup,
		Payload: mustJSON(t, map[string]any{"stageId": stageID, "name": "Band"}),
	})
	require.NoError(t, err)
	groups, err := h.engine.ReadGroupsByStage(ctx, stageID)
	require.NoError(t, err)
	require.Len(t, groups, 1)

	err = outsider.dispatch(ctx, transport.Message{
		Type:    cmdRemoveGroup,
		Payload: mustJSON(t, map[string]any{"id": groups[0].ID}),
	})
	require.ErrorIs(t, err, datatypes.ErrNotAuthorized)

	// The admin renames the stage through the same path the outsider was
	// denied on.
	patch["update"] = map[string]any{"name": "Concert"}
	err = admin.dispatch(ctx, transport.Message{Type: cmdChangeStage, Payload: mustJSON(t, patch)})
	require.NoError(t, err)
	stage, err := h.engine.ReadStage(ctx, stageID)
	require.NoError(t, err)
	require.Equal(t, "Concert", stage.Name)
}

func TestDispatchOwnershipGuards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner, _ := h.newSession(t, "owner")
	thief, _ := h.newSession(t, "thief")

	err := owner.dispatch(ctx, transport.Message{
		Type:    cmdSetSoundCard,
		Payload: mustJSON(t, map[string]any{"name": "Scarlett", "numInputChannels": 2, "numOutputChannels": 2}),
	})
	require.NoError(t, err)
	cards, err := h.engine.ReadSoundCardsByUser(ctx, owner.user.ID)
	require.NoError(t, err)
	require.Len(t, cards, 1)

	err = thief.dispatch(ctx, transport.Message{
		Type:    cmdRemoveSoundCard,
		Payload: mustJSON(t, map[string]any{"id": cards[0].ID}),
	})
	require.ErrorIs(t, err, datatypes.ErrNotAuthorized)

	// Device patches only apply to the caller's own devices.
	err = thief.dispatch(ctx, transport.Message{
		Type:    cmdUpdateDevice,
		Payload: mustJSON(t, map[string]any{"_id": owner.device.ID, "name": "stolen"}),
	})
	require.ErrorIs(t, err, datatypes.ErrNotAuthorized)

	err = owner.dispatch(ctx, transport.Message{
		Type:    cmdUpdateDevice,
		Payload: mustJSON(t, map[string]any{"name": "Studio"}),
	})
	require.NoError(t, err)
	device, err := h.engine.ReadDevice(ctx, owner.device.ID)
	require.NoError(t, err)
	require.Equal(t, "Studio", device.Name)

	// Producer removal is owner-only.
	err = owner.dispatch(ctx, transport.Message{Type: cmdAddAudioProducer, Payload: mustJSON(t, map[string]any{})})
	require.NoError(t, err)
	producers, err := h.engine.ReadAudioProducersByUser(ctx, owner.user.ID)
	require.NoError(t, err)
	require.Len(t, producers, 1)
	err = thief.dispatch(ctx, transport.Message{
		Type:    cmdRemoveAudioProducer,
		Payload: mustJSON(t, map[string]any{"id": producers[0].ID}),
	})
	require.ErrorIs(t, err, datatypes.ErrNotAuthorized)
}

func TestDispatchValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, _ := h.newSession(t, "user")

	err := s.dispatch(ctx, transport.Message{
		Type:    cmdJoinStage,
		Payload: mustJSON(t, map[string]any{"stageId": "s1"}),
	})
	require.Error(t, err) // groupId missing

	err = s.dispatch(ctx, transport.Message{Type: "no-such-command"})
	require.ErrorContains(t, err, "unknown command")
}

func TestDispatchTrackLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, _ := h.newSession(t, "musician")

	err := s.dispatch(ctx, transport.Message{
		Type:    cmdSetSoundCard,
		Payload: mustJSON(t, map[string]any{"name": "UMC404", "numInputChannels": 4, "numOutputChannels": 4}),
	})
	require.NoError(t, err)
	cards, err := h.engine.ReadSoundCardsByUser(ctx, s.user.ID)
	require.NoError(t, err)
	require.Len(t, cards, 1)

	// A card with enough inputs seeds a Default preset.
	presets, err := h.engine.ReadTrackPresetsByUser(ctx, s.user.ID)
	require.NoError(t, err)
	require.Len(t, presets, 1)
	require.Equal(t, "Default", presets[0].Name)

	err = s.dispatch(ctx, transport.Message{
		Type:    cmdAddTrack,
		Payload: mustJSON(t, map[string]any{"trackPresetId": presets[0].ID, "channel": 2}),
	})
	require.NoError(t, err)
	tracks, err := h.engine.ReadTracksByUser(ctx, s.user.ID)
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	require.Equal(t, float64(1), tracks[0].Gain)
	require.Equal(t, s.device.ID, tracks[0].DeviceID)

	err = s.dispatch(ctx, transport.Message{
		Type:    cmdChangeTrack,
		Payload: mustJSON(t, map[string]any{"id": tracks[0].ID, "update": map[string]any{"gain": 0.5}}),
	})
	require.NoError(t, err)
	track, err := h.engine.ReadTrack(ctx, tracks[0].ID)
	require.NoError(t, err)
	require.Equal(t, 0.5, track.Gain)

	err = s.dispatch(ctx, transport.Message{
		Type:    cmdRemoveTrackPreset,
		Payload: mustJSON(t, map[string]any{"id": presets[0].ID}),
	})
	require.NoError(t, err)
	tracks, err = h.engine.ReadTracksByUser(ctx, s.user.ID)
	require.NoError(t, err)
	require.Empty(t, tracks) // preset removal cascades to its tracks
}

func TestSendInitialState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, conn := h.newSession(t, "returning")

	// Seed state from a previous session: a second device, a sound card,
	// and an administered stage with a group.
	_, err := h.engine.CreateDevice(ctx, datatypes.Device{
		UserID: s.user.ID,
		Name:   "Studio Rig",
		MAC:    "aa:bb:cc:dd:ee:ff",
	})
	require.NoError(t, err)
	_, err = h.engine.SetSoundCard(ctx, s.user.ID, datatypes.SetSoundCardRequest{
		Name: "Scarlett", NumInputChannels: 2, NumOutputChannels: 2,
	})
	require.NoError(t, err)
	stage, err := h.engine.CreateStage(ctx, s.user.ID, datatypes.AddStageRequest{Name: "Rehearsal"})
	require.NoError(t, err)
	_, err = h.engine.CreateGroup(ctx, stage.ID, "Band")
	require.NoError(t, err)

	// The socket writer is asynchronous: wait until the last seed event
	// has reached the recorder (per-socket order means everything before
	// it has too), then drop the seed frames. The replay is what's under
	// test.
	waitForEvent(t, conn, datatypes.EventGroupAdded)
	conn.mu.Lock()
	conn.frames = nil
	conn.mu.Unlock()

	require.NoError(t, s.sendInitialState(ctx))
	msgs := waitForEvent(t, conn, datatypes.EventReady)

	require.Equal(t, string(datatypes.EventUserReady), msgs[0].Type)
	require.Equal(t, string(datatypes.EventLocalDeviceReady), msgs[1].Type)
	require.Equal(t, 1, countEvents(msgs, datatypes.EventDeviceAdded))
	require.Equal(t, 1, countEvents(msgs, datatypes.EventSoundCardAdded))
	require.Equal(t, 1, countEvents(msgs, datatypes.EventTrackPresetAdded))
	require.Equal(t, 1, countEvents(msgs, datatypes.EventStageAdded))
	require.Equal(t, 1, countEvents(msgs, datatypes.EventGroupAdded))
	require.Equal(t, string(datatypes.EventReady), msgs[len(msgs)-1].Type)
}

func TestResolveDeviceRevival(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, _ := h.newSession(t, "roadie")

	existing, err := h.engine.CreateDevice(ctx, datatypes.Device{
		UserID: s.user.ID,
		Name:   "Rack",
		MAC:    "11:22:33:44:55:66",
		Online: false,
	})
	require.NoError(t, err)

	revived, err := s.resolveDevice(ctx, &datatypes.Device{MAC: "11:22:33:44:55:66", Name: "Rack"})
	require.NoError(t, err)
	require.Equal(t, existing.ID, revived.ID)
	require.True(t, revived.Online)
	require.Equal(t, "localhost:4000", revived.Server)

	// No MAC reported: a fresh ephemeral device.
	ephemeral, err := s.resolveDevice(ctx, nil)
	require.NoError(t, err)
	require.NotEqual(t, existing.ID, ephemeral.ID)
	require.Equal(t, "Browser", ephemeral.Name)
}

func TestTeardown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("ephemeral device is deleted", func(t *testing.T) {
		s, _ := h.newSession(t, "browser-user")
		s.teardown(ctx)
		_, err := h.engine.ReadDevice(ctx, s.device.ID)
		require.ErrorIs(t, err, datatypes.ErrNotFound)
	})

	t.Run("hardware device goes offline", func(t *testing.T) {
		s, _ := h.newSession(t, "rack-user")
		device, err := h.engine.CreateDevice(ctx, datatypes.Device{
			UserID: s.user.ID,
			MAC:    "aa:aa:aa:aa:aa:aa",
			Online: true,
		})
		require.NoError(t, err)
		s.device = device
		s.teardown(ctx)
		got, err := h.engine.ReadDevice(ctx, device.ID)
		require.NoError(t, err)
		require.False(t, got.Online)
	})
}
