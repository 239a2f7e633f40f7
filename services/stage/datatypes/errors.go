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

import "errors"

// Sentinel errors for the stage engine.
var (
	// ErrNotFound indicates the operation targeted a nonexistent id. Update
	// and delete paths treat it as a silent no-op to tolerate races; read
	// paths surface it.
	ErrNotFound = errors.New("not found")

	// ErrInvalidPassword indicates a join attempt with a wrong stage
	// password. Fatal to that join attempt; surfaced to the caller only.
	ErrInvalidPassword = errors.New("invalid password")

	// ErrNoPayload indicates a custom override write with an empty field set.
	ErrNoPayload = errors.New("no payload")

	// ErrNotAuthorized indicates the acting user lacks admin rights on the
	// targeted stage or group.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrInvalidCredentials indicates the auth collaborator rejected the
	// presented token.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrStoreClosed indicates an operation against a closed store.
	ErrStoreClosed = errors.New("store closed")
)
