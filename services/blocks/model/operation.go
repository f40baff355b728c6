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

import (
	"errors"
	"time"
)

// OpType tags a structural operation.
type OpType int

const (
	// OpAdd introduces a new block, optionally attached under a parent.
	OpAdd OpType = iota

	// OpUpdate merges payload data into an existing block.
	OpUpdate

	// OpMove reparents a block to a new parent/slot/index.
	OpMove

	// OpReorder moves a block to a new index within its current slot.
	OpReorder

	// OpRemove detaches and deletes a block.
	OpRemove
)

// opTypeNames maps OpType values to wire representations.
var opTypeNames = map[OpType]string{
	OpAdd:     "ADD",
	OpUpdate:  "UPDATE",
	OpMove:    "MOVE",
	OpReorder: "REORDER",
	OpRemove:  "REMOVE",
}

// String returns the string representation of the OpType.
func (t OpType) String() string {
	if name, ok := opTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (t OpType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *OpType) UnmarshalText(b []byte) error {
	for typ, name := range opTypeNames {
		if name == string(b) {
			*t = typ
			return nil
		}
	}
	return errors.New("unknown operation type: " + string(b))
}

// Operation is a recorded structural intent awaiting reduction and
// persistence.
//
// Operations are created when a user mutates the tree, accumulated in the
// client mirror's audit buffer, and consumed on save or discard. Fields
// beyond Type/BlockID/Timestamp are type specific:
//
//   - ADD: Block (full record), ParentID, Slot, Index
//   - UPDATE: Block (record whose payload carries the partial data)
//   - MOVE: ParentID, Slot, Index
//   - REORDER: ParentID, Slot, Index (target)
//   - REMOVE: no extra fields
type Operation struct {
	Type      OpType    `json:"type"`
	BlockID   string    `json:"blockId"`
	Timestamp time.Time `json:"timestamp"`

	ParentID string `json:"parentId,omitempty"`
	Slot     string `json:"slot,omitempty"`
	Index    int    `json:"index,omitempty"`

	Block *Block `json:"block,omitempty"`
}
