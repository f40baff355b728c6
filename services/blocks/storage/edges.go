// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/gridblocks/services/blocks/model"
)

// =============================================================================
// Child edges
// =============================================================================

// GetParentEdge returns the edge that makes childID someone's child, or
// ErrNotFound if the block is a root.
func (t *Tx) GetParentEdge(childID string) (*model.ChildEdge, error) {
	var e model.ChildEdge
	if err := t.getJSON(childEdgeKey(childID), &e); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("child edge for %s: %w", childID, ErrNotFound)
		}
		return nil, err
	}
	return &e, nil
}

// GetSlot returns the ordered child ids of one (parent, slot) pair.
// A missing slot is an empty list.
func (t *Tx) GetSlot(parentID, slot string) ([]string, error) {
	if !validSlot(slot) {
		return nil, ErrInvalidSlot
	}
	var ids []string
	err := t.getJSON(slotKey(parentID, slot), &ids)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// SetSlot rewrites one slot's membership to exactly ids, in order.
//
// # Description
//
// The slot list and the per-child edge rows are kept consistent in one
// call: every id in the new list gets a ce row with its position as the
// order index (contiguity by construction), and every id dropped from
// the old list loses its ce row unless a prior call in this transaction
// already re-pointed it at a different parent or slot.
func (t *Tx) SetSlot(parentID, slot string, ids []string) error {
	if !validSlot(slot) {
		return ErrInvalidSlot
	}
	old, err := t.GetSlot(parentID, slot)
	if err != nil {
		return err
	}

	if len(ids) == 0 {
		if err := t.delete(slotKey(parentID, slot)); err != nil {
			return err
		}
	} else if err := t.setJSON(slotKey(parentID, slot), ids); err != nil {
		return err
	}

	inNew := make(map[string]struct{}, len(ids))
	for i, id := range ids {
		inNew[id] = struct{}{}
		edge := model.ChildEdge{ParentID: parentID, ChildID: id, Slot: slot, OrderIndex: i}
		if err := t.setJSON(childEdgeKey(id), edge); err != nil {
			return err
		}
	}

	for _, id := range old {
		if _, keep := inNew[id]; keep {
			continue
		}
		edge, err := t.GetParentEdge(id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if edge.ParentID == parentID && edge.Slot == slot {
			if err := t.delete(childEdgeKey(id)); err != nil {
				return err
			}
		}
	}
	return nil
}

// ListSlots returns every slot of a parent with its ordered child ids.
func (t *Tx) ListSlots(parentID string) (map[string][]string, error) {
	out := make(map[string][]string)
	prefix := slotPrefix(parentID)
	err := t.iterate(prefix, func(key string, val []byte) error {
		slot := strings.TrimPrefix(key, string(prefix))
		var ids []string
		if err := json.Unmarshal(val, &ids); err != nil {
			return err
		}
		out[slot] = ids
		return nil
	})
	return out, err
}

// =============================================================================
// Reference edges
// =============================================================================

// GetReferenceEdge loads the reference row at an exact (parent, path).
func (t *Tx) GetReferenceEdge(parentID, path string) (*model.ReferenceEdge, error) {
	var e model.ReferenceEdge
	if err := t.getJSON(refEdgeKey(parentID, path), &e); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("reference edge %s %s: %w", parentID, path, ErrNotFound)
		}
		return nil, err
	}
	return &e, nil
}

// PutReferenceEdge writes a reference row at its path.
func (t *Tx) PutReferenceEdge(e *model.ReferenceEdge) error {
	return t.setJSON(refEdgeKey(e.ParentBlockID, e.Path), e)
}

// DeleteReferenceEdge removes the row at an exact (parent, path).
func (t *Tx) DeleteReferenceEdge(parentID, path string) error {
	return t.delete(refEdgeKey(parentID, path))
}

// ListReferenceEdges returns the rows under (parent, pathPrefix), ordered
// by order index, then path.
func (t *Tx) ListReferenceEdges(parentID, pathPrefix string) ([]model.ReferenceEdge, error) {
	var out []model.ReferenceEdge
	err := t.iterate(refEdgePrefix(parentID, pathPrefix), func(_ string, val []byte) error {
		var e model.ReferenceEdge
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		oi, oj := out[i].OrderIndex, out[j].OrderIndex
		switch {
		case oi == nil && oj == nil:
			return out[i].Path < out[j].Path
		case oi == nil:
			return false
		case oj == nil:
			return true
		case *oi != *oj:
			return *oi < *oj
		default:
			return out[i].Path < out[j].Path
		}
	})
	return out, nil
}

// DeleteReferenceEdges removes every reference row of a parent block.
func (t *Tx) DeleteReferenceEdges(parentID string) error {
	var keys []string
	err := t.iterate(refEdgePrefix(parentID, ""), func(key string, _ []byte) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := t.delete([]byte(key)); err != nil {
			return err
		}
	}
	return nil
}
