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

import "fmt"

// ChildEdge is a persisted parent→child hierarchy row.
//
// Invariants, enforced by the hierarchy service at transaction commit:
//   - a child id appears in at most one edge globally (single parent)
//   - within a (ParentID, Slot) pair the OrderIndex values form a
//     contiguous 0..n-1 permutation
//   - the edge set is acyclic
type ChildEdge struct {
	ParentID   string `json:"parentId"`
	ChildID    string `json:"childId"`
	Slot       string `json:"slot"`
	OrderIndex int    `json:"orderIndex"`
}

// ReferenceEdge is a persisted block→external-entity row.
//
// List rows carry a positional path ("$.items[3]") and an order index.
// Single-link rows have a plain path and no order index; at most one row
// may exist per (ParentBlockID, path prefix).
type ReferenceEdge struct {
	ID            string `json:"id"`
	ParentBlockID string `json:"parentBlockId"`
	EntityType    string `json:"entityType"`
	EntityID      string `json:"entityId"`
	Path          string `json:"path"`
	OrderIndex    *int   `json:"orderIndex,omitempty"`
}

// ListItemPath builds the positional path for a list item.
func ListItemPath(prefix string, index int) string {
	return fmt.Sprintf("%s[%d]", prefix, index)
}
