// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for
// security-critical operations.
//
// This package contains validators for client-provided inputs that end up
// in store filters or cleanup sweeps. Using these validators keeps
// malformed hardware addresses and host identifiers out of the database,
// where they would poison device revival and server-scoped cleanup.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// macPattern matches six colon- or hyphen-separated hex octets.
var macPattern = regexp.MustCompile(`^[0-9a-f]{2}([:-][0-9a-f]{2}){5}$`)

// serverAddressPattern matches "host" or "host:port" where host is a
// hostname or IPv4 literal. Max length 253 per RFC 1035.
var serverAddressPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9.\-]*[a-zA-Z0-9])?(:[0-9]{1,5})?$`)

// ValidateMAC validates a hardware address reported by a native client.
//
// Valid addresses are six hex octets separated by colons or hyphens,
// e.g. "aa:bb:cc:dd:ee:ff". Case is not significant.
//
// Example:
//
//	if err := validation.ValidateMAC(device.MAC); err != nil {
//	    return nil, fmt.Errorf("invalid mac: %w", err)
//	}
func ValidateMAC(mac string) error {
	if mac == "" {
		return fmt.Errorf("mac cannot be empty")
	}
	if !macPattern.MatchString(strings.ToLower(mac)) {
		return fmt.Errorf("invalid mac format: %q (must be six hex octets separated by : or -)", mac)
	}
	return nil
}

// SanitizeMAC normalizes and validates a hardware address. Returns the
// lowercase colon-separated form, so lookups by (user, mac) are stable
// regardless of how the client reports it.
func SanitizeMAC(mac string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(mac))
	normalized = strings.ReplaceAll(normalized, "-", ":")
	if err := ValidateMAC(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

// ValidateServerAddress validates a server identity used to scope devices
// and routers for cleanup.
func ValidateServerAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if len(addr) > 253 {
		return fmt.Errorf("server address too long: %d chars", len(addr))
	}
	if !serverAddressPattern.MatchString(addr) {
		return fmt.Errorf("invalid server address: %q", addr)
	}
	return nil
}
