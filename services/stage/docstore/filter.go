// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package docstore

import (
	"encoding/json"
	"reflect"
	"strings"
)

// Filter selects documents by field value. Keys are field paths into the
// stored JSON document, with dots descending into nested objects
// ("ovServer.router"). Values are compared literally unless they implement
// Matcher.
//
// Two array rules mirror the query semantics the engine relies on:
//
//   - A scalar filter value matched against a stored array means
//     "array contains value". {"admins": userID} matches any stage that
//     lists the user among its admins.
//   - A slice filter value matched against a stored array means exact
//     array equality. {"admins": []string{userID}} matches only stages
//     where the user is the sole admin.
type Filter map[string]any

// Matcher is a non-literal filter condition.
type Matcher interface {
	matches(stored any) bool
}

type inMatcher struct {
	values []any
}

func (m inMatcher) matches(stored any) bool {
	for _, v := range m.values {
		if valuesEqual(stored, normalize(v)) {
			return true
		}
	}
	return false
}

// In matches documents whose field equals any of the given values.
func In(values ...any) Matcher {
	return inMatcher{values: values}
}

type nilMatcher struct {
	wantNil bool
}

func (m nilMatcher) matches(stored any) bool {
	if m.wantNil {
		return stored == nil
	}
	return stored != nil
}

// Nil matches documents whose field is absent or null.
func Nil() Matcher {
	return nilMatcher{wantNil: true}
}

// NotNil matches documents whose field is present and non-null.
func NotNil() Matcher {
	return nilMatcher{wantNil: false}
}

// Matches reports whether the decoded document satisfies every filter
// condition. An empty filter matches everything.
func (f Filter) Matches(doc map[string]any) bool {
	for path, want := range f {
		stored := resolvePath(doc, path)
		if m, ok := want.(Matcher); ok {
			if !m.matches(stored) {
				return false
			}
			continue
		}
		if !valueMatches(stored, normalize(want)) {
			return false
		}
	}
	return true
}

// resolvePath walks dotted paths through nested objects. Missing
// intermediate fields resolve to nil.
func resolvePath(doc map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var current any = doc
	for _, part := range parts {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = obj[part]
	}
	return current
}

// valueMatches applies the literal comparison rules, including the
// array-contains rule for scalar filters against stored arrays.
func valueMatches(stored, want any) bool {
	if arr, ok := stored.([]any); ok {
		if _, wantIsArr := want.([]any); !wantIsArr {
			for _, elem := range arr {
				if valuesEqual(elem, want) {
					return true
				}
			}
			return false
		}
	}
	return valuesEqual(stored, want)
}

func valuesEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// normalize round-trips a Go value through JSON so comparisons see the
// same shapes encoding/json produces when decoding stored documents
// (float64 numbers, []any slices, map[string]any objects).
func normalize(v any) any {
	if v == nil {
		return nil
	}
	switch v.(type) {
	case string, bool, float64, nil:
		return v
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
