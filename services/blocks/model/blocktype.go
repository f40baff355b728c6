// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package model defines the block hierarchy domain types.
//
// The package contains the entity definitions every other blocks subpackage
// operates on: versioned block type descriptors, blocks with their tagged
// payload union, the persisted edge rows (parent/child and block/entity),
// the assembled read-only tree nodes, and the structural operation records
// consumed by the operation log reducer.
//
// # Ownership Model
//
// Types in this package are plain data. Services load them from storage,
// mutate their own copies, and write them back; nothing in this package
// holds references into live storage.
package model

import (
	"time"
)

// Strictness controls how schema validation failures are treated.
type Strictness int

const (
	// StrictnessSoft records validation failures as warnings on the saved
	// block and never blocks a write.
	StrictnessSoft Strictness = iota

	// StrictnessStrict turns validation failures into a blocking error
	// carrying every violation.
	StrictnessStrict
)

// strictnessNames maps Strictness values to their wire representations.
var strictnessNames = map[Strictness]string{
	StrictnessSoft:   "SOFT",
	StrictnessStrict: "STRICT",
}

// String returns the string representation of the Strictness.
func (s Strictness) String() string {
	if name, ok := strictnessNames[s]; ok {
		return name
	}
	return "SOFT"
}

// ParseStrictness converts a wire string back to a Strictness.
// Unknown values parse as StrictnessSoft.
func ParseStrictness(s string) Strictness {
	if s == "STRICT" {
		return StrictnessStrict
	}
	return StrictnessSoft
}

// MarshalText implements encoding.TextMarshaler.
func (s Strictness) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strictness) UnmarshalText(b []byte) error {
	*s = ParseStrictness(string(b))
	return nil
}

// NestingRule constrains which blocks may be placed under a parent and
// how many of them a slot may hold.
//
// A nil Max means unbounded. AllowedTypes holds block type keys; an empty
// set allows every type.
type NestingRule struct {
	Max          *int     `json:"max,omitempty"`
	AllowedTypes []string `json:"allowedTypes,omitempty"`
}

// Allows reports whether a child of the given type key may be nested.
func (r *NestingRule) Allows(typeKey string) bool {
	if r == nil || len(r.AllowedTypes) == 0 {
		return true
	}
	for _, t := range r.AllowedTypes {
		if t == typeKey {
			return true
		}
	}
	return false
}

// AtCapacity reports whether a slot already holding count children is full.
func (r *NestingRule) AtCapacity(count int) bool {
	if r == nil || r.Max == nil {
		return false
	}
	return count >= *r.Max
}

// BlockType is a versioned, immutable-per-version schema descriptor.
//
// # Description
//
// A block type names a content schema (JSON Schema document validated by
// the schema package), a display descriptor consumed by rendering
// collaborators, and an optional nesting rule. Updating a type never
// mutates a row: a new row with Version+1 is appended under the same Key.
// Archiving is the only in-place mutation.
type BlockType struct {
	// ID is the unique identifier of this specific version row.
	ID string `json:"id"`

	// OrgID scopes the type to one organisation.
	OrgID string `json:"orgId"`

	// Key identifies the type across versions.
	Key string `json:"key"`

	// Version is monotonic per Key, starting at 1.
	Version int `json:"version"`

	// Name is the display name.
	Name string `json:"name"`

	// Schema is a JSON Schema document describing content payload data.
	Schema []byte `json:"schema,omitempty"`

	// Display is an opaque render/layout descriptor for collaborators.
	Display []byte `json:"display,omitempty"`

	// Nesting constrains children placed under blocks of this type.
	Nesting *NestingRule `json:"nesting,omitempty"`

	// Strictness decides whether schema violations block writes.
	Strictness Strictness `json:"strictness"`

	// Archived marks the type as retired. Archived types cannot be used
	// for new blocks.
	Archived bool `json:"archived"`

	CreatedAt time.Time `json:"createdAt"`
}
