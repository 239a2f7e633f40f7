// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transport

import (
	"sync"

	"github.com/AleutianAI/aleutian-stage/services/stage/datatypes"
)

// Hub tracks every authenticated socket, indexed by user and by socket id.
// It implements the engine's Sender contract. Delivery is fire-and-forget:
// a user with no live sockets simply receives nothing.
type Hub struct {
	mu      sync.RWMutex
	byUser  map[string]map[string]*Socket
	sockets map[string]*Socket
}

func NewHub() *Hub {
	return &Hub{
		byUser:  map[string]map[string]*Socket{},
		sockets: map[string]*Socket{},
	}
}

// Register adds an authenticated socket. The socket must have a bound user.
func (h *Hub) Register(s *Socket) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sockets[s.ID()] = s
	userSockets, ok := h.byUser[s.UserID()]
	if !ok {
		userSockets = map[string]*Socket{}
		h.byUser[s.UserID()] = userSockets
	}
	userSockets[s.ID()] = s
}

// Unregister removes a socket. Idempotent.
func (h *Hub) Unregister(s *Socket) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sockets, s.ID())
	if userSockets, ok := h.byUser[s.UserID()]; ok {
		delete(userSockets, s.ID())
		if len(userSockets) == 0 {
			delete(h.byUser, s.UserID())
		}
	}
}

// SocketsOfUser returns the user's live sockets.
func (h *Hub) SocketsOfUser(userID string) []*Socket {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Socket, 0, len(h.byUser[userID]))
	for _, s := range h.byUser[userID] {
		out = append(out, s)
	}
	return out
}

// SendToUser delivers to every live socket of the user.
func (h *Hub) SendToUser(userID string, event datatypes.EventName, payload any) {
	for _, s := range h.SocketsOfUser(userID) {
		s.Send(event, payload)
	}
}

// SendToSocket delivers to exactly one connection.
func (h *Hub) SendToSocket(socketID string, event datatypes.EventName, payload any) {
	h.mu.RLock()
	s, ok := h.sockets[socketID]
	h.mu.RUnlock()
	if ok {
		s.Send(event, payload)
	}
}

// SendToAll delivers to every connected socket.
func (h *Hub) SendToAll(event datatypes.EventName, payload any) {
	h.mu.RLock()
	all := make([]*Socket, 0, len(h.sockets))
	for _, s := range h.sockets {
		all = append(all, s)
	}
	h.mu.RUnlock()

	for _, s := range all {
		s.Send(event, payload)
	}
}
