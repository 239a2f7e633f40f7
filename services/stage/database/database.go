// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package database implements the realtime stage synchronization engine: the
// typed entity store with its lifecycle cascades, the presence aggregator,
// the per-viewer custom override layer, the join/leave state machine, the
// router cleanup pass, and the fanout policies that decide which connected
// users learn about each change.
//
// The engine models a deeply cross-referenced graph (users, devices, stages,
// groups, members, producers, tracks) as flat collections keyed by opaque
// ids. Relationships are resolved by id lookup, never by in-memory pointers.
// Each store mutation is individually atomic; multi-step orchestrations
// (join, cascading delete) are sequences of atomic steps with best-effort
// consistency, recovered by idempotent recomputation (presence renewal,
// router cleanup) rather than rollback.
package database

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/AleutianAI/aleutian-stage/services/stage/datatypes"
	"github.com/AleutianAI/aleutian-stage/services/stage/docstore"
)

var (
	errMissingStore  = errors.New("database: store is required")
	errMissingSender = errors.New("database: sender is required")
)

// Collection names for each entity family.
const (
	CollUsers          = "users"
	CollDevices        = "devices"
	CollRouters        = "routers"
	CollStages         = "stages"
	CollGroups         = "groups"
	CollStageMembers   = "stagemembers"
	CollSoundCards     = "soundcards"
	CollTrackPresets   = "trackpresets"
	CollTracks         = "tracks"
	CollAudioProducers = "audioproducers"
	CollVideoProducers = "videoproducers"

	CollStageMemberAudios = "stagememberaudios"
	CollStageMemberVideos = "stagemembervideos"
	CollStageMemberOvs    = "stagememberovs"

	CollCustomGroups            = "customgroups"
	CollCustomStageMembers      = "customstagemembers"
	CollCustomStageMemberAudios = "customstagememberaudios"
	CollCustomStageMemberOvs    = "customstagememberovs"
)

// Sender delivers events over the external transport. The engine never
// waits on delivery; implementations must not block the caller.
type Sender interface {
	SendToUser(userID string, event datatypes.EventName, payload any)
	SendToSocket(socketID string, event datatypes.EventName, payload any)
	SendToAll(event datatypes.EventName, payload any)
}

// Config wires a Database to its collaborators.
type Config struct {
	// Store is the document store handle. Required.
	Store *docstore.Store

	// Sender is the wire transport. Required; tests use a capture fake.
	Sender Sender

	// Logger for cascade failures and debug event tracing. Nil uses
	// slog.Default().
	Logger *slog.Logger

	// DebugEvents logs every fanout decision (recipient, event name).
	DebugEvents bool

	// DebugPayload additionally logs event payloads. Verbose.
	DebugPayload bool
}

// Subscriber receives the internal change notification each successful
// mutation produces, independent of wire fanout.
type Subscriber func(event datatypes.ChangeEvent)

// Database is the realtime stage synchronization engine.
//
// Thread Safety: all methods are safe for concurrent use. Store mutations
// are atomic at the document level; orchestrations across entities are
// best-effort as described in the package comment.
type Database struct {
	store  *docstore.Store
	sender Sender
	logger *slog.Logger

	debugEvents  bool
	debugPayload bool

	// orderMu spans a patch commit and its fanout enqueue so recipients
	// observe patches to one entity in store commit order. Held only
	// around a single leaf mutate+notify section, never across nested
	// engine calls.
	orderMu sync.Mutex

	subMu       sync.RWMutex
	subscribers map[int]Subscriber
	nextSubID   int
}

// New creates a Database from the given configuration.
func New(cfg Config) (*Database, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Sender == nil {
		return nil, errMissingSender
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	initMetrics()
	return &Database{
		store:        cfg.Store,
		sender:       cfg.Sender,
		logger:       logger,
		debugEvents:  cfg.DebugEvents,
		debugPayload: cfg.DebugPayload,
		subscribers:  map[int]Subscriber{},
	}, nil
}

// Subscribe registers a local observer for internal change events. The
// returned function unsubscribes. Observers run synchronously on the
// mutating goroutine, must be fast, and must not call back into the
// engine's mutation methods.
func (d *Database) Subscribe(fn Subscriber) func() {
	d.subMu.Lock()
	id := d.nextSubID
	d.nextSubID++
	d.subscribers[id] = fn
	d.subMu.Unlock()

	return func() {
		d.subMu.Lock()
		delete(d.subscribers, id)
		d.subMu.Unlock()
	}
}

// emit delivers the internal change notification to local subscribers.
// Called once per successful mutation, before wire fanout.
func (d *Database) emit(name datatypes.EventName, payload any) {
	d.subMu.RLock()
	defer d.subMu.RUnlock()
	for _, fn := range d.subscribers {
		fn(datatypes.ChangeEvent{Name: name, Payload: payload})
	}
}

// mapNotFound translates the store's empty-result error into the engine's
// NotFound signal. Update and delete call sites swallow it where the
// operation tolerates races.
func mapNotFound(err error) error {
	if errors.Is(err, docstore.ErrNoDocuments) {
		return datatypes.ErrNotFound
	}
	return err
}

// logCascade records a failed cascade step. Cascade failures never abort
// the root operation and are not retried; the cleanup passes are the
// recovery mechanism.
func (d *Database) logCascade(op string, err error) {
	cascadeFailures.Add(context.Background(), 1)
	d.logger.Error("cascade step failed",
		slog.String("operation", op),
		slog.String("error", err.Error()))
}
