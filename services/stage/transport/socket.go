// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transport implements the websocket delivery layer: a hub mapping
// users to their live sockets and a per-socket outbound queue with a single
// writer goroutine, so events for one connection are delivered in the order
// mutations were accepted while a slow connection never blocks the sender.
package transport

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/aleutian-stage/services/stage/datatypes"
)

// Message is the wire envelope. Client-to-server frames carry the same
// shape.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	// sendBufferSize bounds the per-socket outbound queue. A connection
	// that falls this far behind is closed; the full-state resend on
	// reconnect recovers it.
	sendBufferSize = 256

	writeWait = 10 * time.Second
)

// conn is the subset of *websocket.Conn the socket needs. Tests substitute
// a recorder.
type conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Socket is one authenticated client connection.
type Socket struct {
	id     string
	userID string

	ws     conn
	logger *slog.Logger

	send      chan []byte
	closeOnce sync.Once
	done      chan struct{}
}

// NewSocket wraps an upgraded websocket connection and starts its writer
// goroutine. userID may be set later via BindUser once the token handshake
// completes.
func NewSocket(ws conn, logger *slog.Logger) *Socket {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Socket{
		id:     uuid.NewString(),
		ws:     ws,
		logger: logger,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

func (s *Socket) ID() string { return s.id }

// UserID returns the bound user, empty before authentication.
func (s *Socket) UserID() string { return s.userID }

// BindUser associates the socket with an authenticated user. Called once,
// before the socket is registered with the hub.
func (s *Socket) BindUser(userID string) { s.userID = userID }

// Send enqueues an event for ordered delivery. Returns false if the socket
// is closed or its queue is full; a full queue closes the socket.
func (s *Socket) Send(event datatypes.EventName, payload any) bool {
	raw, err := encodeMessage(event, payload)
	if err != nil {
		s.logger.Error("encode message",
			slog.String("event", string(event)),
			slog.String("error", err.Error()))
		return false
	}

	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- raw:
		return true
	default:
		s.logger.Warn("socket send queue full, closing",
			slog.String("socketId", s.id),
			slog.String("userId", s.userID))
		s.Close()
		return false
	}
}

func encodeMessage(event datatypes.EventName, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = encoded
	}
	return json.Marshal(Message{Type: string(event), Payload: raw})
}

// writeLoop is the socket's single writer: it drains the queue in order
// until Close.
func (s *Socket) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case raw := <-s.send:
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
				s.logger.Debug("socket write failed",
					slog.String("socketId", s.id),
					slog.String("error", err.Error()))
				s.Close()
				return
			}
		}
	}
}

// Close shuts the writer down and closes the underlying connection. Safe
// to call multiple times.
func (s *Socket) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.ws.Close()
	})
}

// Done is closed when the socket has been shut down.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}
