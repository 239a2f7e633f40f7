// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"strings"
	"testing"
)

func TestValidateMAC(t *testing.T) {
	valid := []string{
		"aa:bb:cc:dd:ee:ff",
		"AA:BB:CC:DD:EE:FF",
		"00-11-22-33-44-55",
		"01:23:45:67:89:ab",
	}
	for _, mac := range valid {
		if err := ValidateMAC(mac); err != nil {
			t.Errorf("ValidateMAC(%q) = %v, want nil", mac, err)
		}
	}

	invalid := []string{
		"",
		"aa:bb:cc:dd:ee",
		"aa:bb:cc:dd:ee:ff:00",
		"gg:bb:cc:dd:ee:ff",
		"aabbccddeeff",
		"aa:bb:cc:dd:ee:ff\n",
	}
	for _, mac := range invalid {
		if err := ValidateMAC(mac); err == nil {
			t.Errorf("ValidateMAC(%q) = nil, want error", mac)
		}
	}
}

func TestSanitizeMAC(t *testing.T) {
	got, err := SanitizeMAC("  AA-BB-CC-DD-EE-FF ")
	if err != nil {
		t.Fatalf("SanitizeMAC error = %v", err)
	}
	if got != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("SanitizeMAC = %q, want aa:bb:cc:dd:ee:ff", got)
	}

	if _, err := SanitizeMAC("not-a-mac"); err == nil {
		t.Error("SanitizeMAC(not-a-mac) = nil error, want error")
	}
}

func TestValidateServerAddress(t *testing.T) {
	valid := []string{
		"localhost:4000",
		"stage-1.example.com",
		"stage-1.example.com:443",
		"192.168.1.10:4000",
		"localhost",
	}
	for _, addr := range valid {
		if err := ValidateServerAddress(addr); err != nil {
			t.Errorf("ValidateServerAddress(%q) = %v, want nil", addr, err)
		}
	}

	invalid := []string{
		"",
		"-leading.example.com",
		"host with spaces",
		"host;rm -rf /",
		strings.Repeat("a", 260),
	}
	for _, addr := range invalid {
		if err := ValidateServerAddress(addr); err == nil {
			t.Errorf("ValidateServerAddress(%q) = nil, want error", addr)
		}
	}
}
