// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the websocket session protocol: the token
// handshake, the initial state replay for a freshly authenticated device,
// the dispatch of client commands into the engine, and disconnect cleanup.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/aleutian-stage/pkg/validation"
	"github.com/AleutianAI/aleutian-stage/services/stage/auth"
	"github.com/AleutianAI/aleutian-stage/services/stage/database"
	"github.com/AleutianAI/aleutian-stage/services/stage/datatypes"
	"github.com/AleutianAI/aleutian-stage/services/stage/transport"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // cross-origin clients are expected
	},
}

const (
	handshakeTimeout = 10 * time.Second
	maxMessageSize   = 1 << 20

	// Inbound command budget per socket: sustained rate and burst.
	inboundRate  = 50
	inboundBurst = 100
)

// Deps wires the session handler to its collaborators.
type Deps struct {
	Engine        *database.Database
	Hub           *transport.Hub
	Auth          auth.Authenticator
	Logger        *slog.Logger
	ServerAddress string
}

// tokenPayload is the first frame a client must send.
type tokenPayload struct {
	Token  string           `json:"token"`
	Device *datatypes.Device `json:"device,omitempty"`
}

// HandleWebsocket upgrades the connection and runs the session to
// completion.
func HandleWebsocket(deps Deps) gin.HandlerFunc {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Error("websocket upgrade failed", slog.String("error", err.Error()))
			return
		}
		session := &session{
			deps:   deps,
			logger: logger,
			ws:     ws,
			socket: transport.NewSocket(ws, logger),
			limiter: rate.NewLimiter(rate.Limit(inboundRate), inboundBurst),
		}
		session.run(c.Request.Context())
	}
}

// session is one client connection's state.
type session struct {
	deps    Deps
	logger  *slog.Logger
	ws      *websocket.Conn
	socket  *transport.Socket
	limiter *rate.Limiter

	user   *datatypes.User
	device *datatypes.Device
}

func (s *session) run(ctx context.Context) {
	defer s.teardown(ctx)

	s.ws.SetReadLimit(maxMessageSize)

	if err := s.handshake(ctx); err != nil {
		s.logger.Debug("handshake failed", slog.String("error", err.Error()))
		return
	}

	s.socket.BindUser(s.user.ID)
	s.deps.Hub.Register(s.socket)

	if err := s.sendInitialState(ctx); err != nil {
		s.logger.Error("initial state replay failed",
			slog.String("userId", s.user.ID),
			slog.String("error", err.Error()))
		return
	}

	s.readLoop(ctx)
}

// handshake waits for the token frame and verifies it. Anything else, or
// an invalid token, ends the session.
func (s *session) handshake(ctx context.Context) error {
	_ = s.ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer s.ws.SetReadDeadline(time.Time{})

	var msg transport.Message
	if err := s.ws.ReadJSON(&msg); err != nil {
		return err
	}
	if msg.Type != "token" {
		return errors.New("expected token frame, got " + msg.Type)
	}
	var payload tokenPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return err
	}

	user, err := s.deps.Auth.VerifyWithToken(ctx, payload.Token)
	if err != nil {
		return err
	}
	s.user = user

	device, err := s.resolveDevice(ctx, payload.Device)
	if err != nil {
		return err
	}
	s.device = device
	return nil
}

// resolveDevice creates this session's device record, reviving a previous
// one when the client reports a hardware address. Browser sessions without
// a MAC get an ephemeral device that is deleted on disconnect.
func (s *session) resolveDevice(ctx context.Context, reported *datatypes.Device) (*datatypes.Device, error) {
	template := datatypes.Device{Name: "Browser"}
	if reported != nil {
		template = *reported
	}
	template.UserID = s.user.ID
	template.Online = true
	template.Server = s.deps.ServerAddress

	if template.MAC != "" {
		// Normalized so lookups match regardless of how the client
		// reports the address.
		mac, err := validation.SanitizeMAC(template.MAC)
		if err != nil {
			return nil, err
		}
		template.MAC = mac
		existing, err := s.deps.Engine.ReadDeviceByUserAndMAC(ctx, s.user.ID, template.MAC)
		if err == nil {
			patch := datatypes.Patch{"online": true, "server": s.deps.ServerAddress}
			if err := s.deps.Engine.UpdateDevice(ctx, existing.ID, patch); err != nil {
				return nil, err
			}
			return s.deps.Engine.ReadDevice(ctx, existing.ID)
		}
		if !errors.Is(err, datatypes.ErrNotFound) {
			return nil, err
		}
	}
	return s.deps.Engine.CreateDevice(ctx, template)
}

// readLoop consumes client commands until the connection drops. Commands
// beyond the rate budget are dropped.
func (s *session) readLoop(ctx context.Context) {
	for {
		var msg transport.Message
		if err := s.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("socket closed unexpectedly",
					slog.String("userId", s.user.ID),
					slog.String("error", err.Error()))
			}
			return
		}
		if !s.limiter.Allow() {
			s.logger.Warn("rate limit exceeded, dropping command",
				slog.String("userId", s.user.ID),
				slog.String("type", msg.Type))
			continue
		}
		if err := s.dispatch(ctx, msg); err != nil {
			s.logger.Debug("command failed",
				slog.String("userId", s.user.ID),
				slog.String("type", msg.Type),
				slog.String("error", err.Error()))
		}
		select {
		case <-s.socket.Done():
			return
		default:
		}
	}
}

// teardown runs on every exit path: the socket leaves the hub, the session
// device goes offline (ephemeral devices are deleted outright), and
// presence is recomputed through the device mutation.
func (s *session) teardown(ctx context.Context) {
	s.deps.Hub.Unregister(s.socket)
	s.socket.Close()

	if s.device == nil {
		return
	}
	// The request context is canceled once the connection is gone; cleanup
	// still has to run.
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	var err error
	if s.device.MAC == "" {
		err = s.deps.Engine.DeleteDevice(cleanupCtx, s.device.ID)
	} else {
		err = s.deps.Engine.UpdateDevice(cleanupCtx, s.device.ID, datatypes.Patch{"online": false})
	}
	if err != nil && !errors.Is(err, datatypes.ErrNotFound) {
		s.logger.Error("disconnect cleanup failed",
			slog.String("deviceId", s.device.ID),
			slog.String("error", err.Error()))
	}
}

// sendInitialState replays everything a fresh device needs: its user, its
// own device, remote devices, the audio configuration, the stages the user
// can see, and the current stage snapshot when joined. Ends with ready.
func (s *session) sendInitialState(ctx context.Context) error {
	send := func(event datatypes.EventName, payload any) {
		s.deps.Engine.SendToSocket(s.socket.ID(), event, payload)
	}

	send(datatypes.EventUserReady, s.user)
	send(datatypes.EventLocalDeviceReady, s.device)

	devices, err := s.deps.Engine.ReadDevicesByUser(ctx, s.user.ID)
	if err != nil {
		return err
	}
	for _, device := range devices {
		if device.ID != s.device.ID {
			send(datatypes.EventDeviceAdded, device)
		}
	}

	cards, err := s.deps.Engine.ReadSoundCardsByUser(ctx, s.user.ID)
	if err != nil {
		return err
	}
	for _, card := range cards {
		send(datatypes.EventSoundCardAdded, card)
	}
	presets, err := s.deps.Engine.ReadTrackPresetsByUser(ctx, s.user.ID)
	if err != nil {
		return err
	}
	for _, preset := range presets {
		send(datatypes.EventTrackPresetAdded, preset)
	}
	tracks, err := s.deps.Engine.ReadTracksByUser(ctx, s.user.ID)
	if err != nil {
		return err
	}
	for _, track := range tracks {
		send(datatypes.EventTrackAdded, track)
	}

	stages, err := s.deps.Engine.ReadStagesByUser(ctx, s.user.ID)
	if err != nil {
		return err
	}
	for _, stage := range stages {
		send(datatypes.EventStageAdded, stage)
		groups, err := s.deps.Engine.ReadGroupsByStage(ctx, stage.ID)
		if err != nil {
			return err
		}
		for _, group := range groups {
			send(datatypes.EventGroupAdded, group)
		}
	}

	// A user already inside a stage rejoins it so the membership comes
	// back online and the snapshot is resent. The stored membership is
	// trusted; the stage password is supplied from the record, not the
	// client.
	if s.user.StageID != "" {
		member, err := s.deps.Engine.ReadStageMember(ctx, s.user.StageMemberID)
		if err != nil && !errors.Is(err, datatypes.ErrNotFound) {
			return err
		}
		if err == nil {
			currentStage, err := s.deps.Engine.ReadStage(ctx, s.user.StageID)
			if err != nil && !errors.Is(err, datatypes.ErrNotFound) {
				return err
			}
			if err == nil {
				if err := s.deps.Engine.JoinStage(ctx, s.user.ID, datatypes.JoinStageRequest{
					StageID:  currentStage.ID,
					GroupID:  member.GroupID,
					Password: currentStage.Password,
				}); err != nil && !errors.Is(err, datatypes.ErrNotFound) {
					return err
				}
			}
		}
	}

	send(datatypes.EventReady, nil)
	return nil
}
