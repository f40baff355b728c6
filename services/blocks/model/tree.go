// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

// CycleWarning is attached to a placeholder node when tree assembly
// re-encounters an ancestor instead of recursing into it.
const CycleWarning = "Cycle detected"

// ResolutionTag classifies the outcome of resolving one reference.
//
// Tags are read-path warnings, never errors: a tree with unresolved
// leaves is still useful to render.
type ResolutionTag int

const (
	// TagOK means the entity was resolved.
	TagOK ResolutionTag = iota

	// TagMissing means no edge row or entity exists for the item.
	TagMissing

	// TagUnsupported means no resolver is registered for the entity type.
	TagUnsupported

	// TagRequiresLoading means the fetch policy is lazy and only the
	// identity is returned.
	TagRequiresLoading
)

// resolutionTagNames maps ResolutionTag values to wire representations.
var resolutionTagNames = map[ResolutionTag]string{
	TagOK:              "OK",
	TagMissing:         "MISSING",
	TagUnsupported:     "UNSUPPORTED",
	TagRequiresLoading: "REQUIRES_LOADING",
}

// String returns the string representation of the ResolutionTag.
func (t ResolutionTag) String() string {
	if name, ok := resolutionTagNames[t]; ok {
		return name
	}
	return "OK"
}

// MarshalText implements encoding.TextMarshaler.
func (t ResolutionTag) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ResolutionTag) UnmarshalText(b []byte) error {
	for tag, name := range resolutionTagNames {
		if name == string(b) {
			*t = tag
			return nil
		}
	}
	*t = TagOK
	return nil
}

// Reference carries one resolved or unresolved entity reference.
type Reference struct {
	EntityType string        `json:"entityType"`
	EntityID   string        `json:"entityId"`
	Path       string        `json:"path,omitempty"`
	Entity     any           `json:"entity,omitempty"`
	Tag        ResolutionTag `json:"tag"`
}

// Node is the closed set of assembled tree node kinds. Trees are rebuilt
// on read from the edge tables; they are never the source of truth.
type Node interface {
	node()
}

// ContentNode is an assembled content block with its children grouped by
// slot, each slot ordered by the persisted order index.
type ContentNode struct {
	Block    *Block            `json:"block"`
	Children map[string][]Node `json:"children,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
}

func (*ContentNode) node() {}

// ReferenceNode wraps the resolved references of a reference-kind block.
// List payloads yield one entry per item; link payloads yield exactly one.
type ReferenceNode struct {
	Block      *Block      `json:"block"`
	References []Reference `json:"references"`
}

func (*ReferenceNode) node() {}
