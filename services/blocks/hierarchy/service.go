// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package hierarchy owns parent→child edges, slot membership, and child
// ordering.
//
// # Invariants
//
// Every operation leaves the edge tables in a state where:
//   - a child id appears in at most one edge globally (single parent)
//   - each (parent, slot) pair's order indices are a contiguous 0..n-1
//     permutation
//   - no block is its own transitive ancestor
//
// # Transaction Model
//
// Methods operate on a *storage.Tx so the block service can compose a
// hierarchy change with block row writes in one atomic transaction. An
// error from any method must abort the enclosing transaction; no method
// leaves partial state behind a nil error.
package hierarchy

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/gridblocks/services/blocks/model"
	"github.com/AleutianAI/gridblocks/services/blocks/storage"
)

// Sentinel errors for hierarchy operations.
var (
	// ErrAlreadyChild is returned when the block already has a parent
	// edge somewhere.
	ErrAlreadyChild = errors.New("already exists as a child")

	// ErrOrgMismatch is returned when child and parent belong to
	// different organisations.
	ErrOrgMismatch = errors.New("child and parent organisations differ")

	// ErrTypeNotAllowed is returned when the child's type is outside the
	// parent's nesting allow list.
	ErrTypeNotAllowed = errors.New("component type not allowed under parent")

	// ErrSlotFull is returned when the slot has reached the nesting max.
	ErrSlotFull = errors.New("slot is at capacity")

	// ErrCycle is returned when an insert would make a block its own
	// transitive ancestor.
	ErrCycle = errors.New("operation would create a cycle")

	// ErrChildNotInSlot is returned when a reorder or removal names a
	// child that is not a member of the slot.
	ErrChildNotInSlot = errors.New("child not found in slot")

	// ErrDuplicateChild is returned when a slot replacement names the
	// same child twice. A child holds a single parent edge, so a
	// duplicate would leave the slot list and the edge out of step.
	ErrDuplicateChild = errors.New("duplicate child id in slot")
)

// Service implements the children (hierarchy) operations.
type Service struct {
	log *slog.Logger
}

// NewService creates a hierarchy service.
func NewService(log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{log: log}
}

// ListChildrenGrouped returns every slot of a parent with its edges,
// ordered by index within each slot.
func (s *Service) ListChildrenGrouped(tx *storage.Tx, parentID string) (map[string][]model.ChildEdge, error) {
	slots, err := tx.ListSlots(parentID)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]model.ChildEdge, len(slots))
	for slot, ids := range slots {
		out[slot] = edgesFromIDs(parentID, slot, ids)
	}
	return out, nil
}

// ListChildren returns one slot's edges ordered by index.
func (s *Service) ListChildren(tx *storage.Tx, parentID, slot string) ([]model.ChildEdge, error) {
	ids, err := tx.GetSlot(parentID, slot)
	if err != nil {
		return nil, err
	}
	return edgesFromIDs(parentID, slot, ids), nil
}

// AddChild inserts child under (parentID, slot) at index, shifting every
// sibling at or after index up by one.
//
// Fails when the child already has a parent edge anywhere, when the
// organisations differ, when the child's type is outside the nesting
// allow list, when the slot is at capacity, or when the insert would
// create a cycle.
func (s *Service) AddChild(tx *storage.Tx, child *model.Block, parentID, slot string, index int, nesting *model.NestingRule) error {
	if _, err := tx.GetParentEdge(child.ID); err == nil {
		return fmt.Errorf("block %s: %w", child.ID, ErrAlreadyChild)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if err := s.checkPlacement(tx, child, parentID, slot, nesting); err != nil {
		return err
	}

	ids, err := tx.GetSlot(parentID, slot)
	if err != nil {
		return err
	}
	if nesting.AtCapacity(len(ids)) {
		return fmt.Errorf("slot %s/%s: %w", parentID, slot, ErrSlotFull)
	}
	return tx.SetSlot(parentID, slot, insertAt(ids, child.ID, index))
}

// ReplaceSlot rewrites a slot's membership to exactly desired, in order.
//
// # Description
//
// Edges of children no longer desired are deleted. Children that are new
// to the slot, or whose current edge points at a different parent or a
// different slot of the same parent, are re-parented: their old edge is
// deleted and a new one written here. This is the single entry point that
// auto-reparents a child moved here from elsewhere; a reorder inside the
// slot is a delete+reinsert, not an in-place index update.
func (s *Service) ReplaceSlot(tx *storage.Tx, parent *model.Block, slot string, desired []string, nesting *model.NestingRule) error {
	if nesting != nil && nesting.Max != nil && len(desired) > *nesting.Max {
		return fmt.Errorf("slot %s/%s: %w", parent.ID, slot, ErrSlotFull)
	}
	seen := make(map[string]struct{}, len(desired))
	for _, id := range desired {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("block %s in %s/%s: %w", id, parent.ID, slot, ErrDuplicateChild)
		}
		seen[id] = struct{}{}
	}

	for _, id := range desired {
		child, err := tx.GetBlock(id)
		if err != nil {
			return err
		}
		if err := s.checkPlacement(tx, child, parent.ID, slot, nesting); err != nil {
			return err
		}
		// A child arriving from a different parent, or from another slot
		// of this parent, loses its old edge first.
		edge, err := tx.GetParentEdge(id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if edge.ParentID != parent.ID || edge.Slot != slot {
			if err := s.DetachChild(tx, id); err != nil {
				return err
			}
		}
	}

	return tx.SetSlot(parent.ID, slot, desired)
}

// ReorderWithinSlot moves childID to targetIndex within its slot and
// renumbers the siblings to stay contiguous.
func (s *Service) ReorderWithinSlot(tx *storage.Tx, parentID, slot, childID string, targetIndex int) error {
	ids, err := tx.GetSlot(parentID, slot)
	if err != nil {
		return err
	}
	pos := indexOf(ids, childID)
	if pos < 0 {
		return fmt.Errorf("block %s in %s/%s: %w", childID, parentID, slot, ErrChildNotInSlot)
	}
	ids = append(ids[:pos], ids[pos+1:]...)
	return tx.SetSlot(parentID, slot, insertAt(ids, childID, targetIndex))
}

// ReparentChild deletes the child's existing edge, wherever it is, and
// inserts it under (newParentID, newSlot) at index, re-validating the
// nesting rules against the new parent.
func (s *Service) ReparentChild(tx *storage.Tx, child *model.Block, newParentID, newSlot string, index int, nesting *model.NestingRule) error {
	if err := s.DetachChild(tx, child.ID); err != nil {
		return err
	}
	return s.AddChild(tx, child, newParentID, newSlot, index, nesting)
}

// DetachChild removes the child's edge if one exists. Idempotent.
func (s *Service) DetachChild(tx *storage.Tx, childID string) error {
	edge, err := tx.GetParentEdge(childID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.RemoveChild(tx, edge.ParentID, edge.Slot, childID)
}

// RemoveChild deletes the one edge under (parentID, slot) and compacts
// the remaining sibling indices.
func (s *Service) RemoveChild(tx *storage.Tx, parentID, slot, childID string) error {
	ids, err := tx.GetSlot(parentID, slot)
	if err != nil {
		return err
	}
	pos := indexOf(ids, childID)
	if pos < 0 {
		return fmt.Errorf("block %s in %s/%s: %w", childID, parentID, slot, ErrChildNotInSlot)
	}
	return tx.SetSlot(parentID, slot, append(ids[:pos], ids[pos+1:]...))
}

// checkPlacement validates everything about putting child under parent
// that does not depend on the slot's current size.
func (s *Service) checkPlacement(tx *storage.Tx, child *model.Block, parentID, slot string, nesting *model.NestingRule) error {
	parent, err := tx.GetBlock(parentID)
	if err != nil {
		return err
	}
	if parent.OrgID != child.OrgID {
		return fmt.Errorf("block %s under %s: %w", child.ID, parentID, ErrOrgMismatch)
	}
	if !nesting.Allows(child.TypeKey) {
		return fmt.Errorf("type %s under %s: %w", child.TypeKey, parentID, ErrTypeNotAllowed)
	}
	return s.checkCycle(tx, child.ID, parentID)
}

// checkCycle walks the prospective parent's ancestor chain and rejects
// the placement if the child is already on it. The walk is bounded by a
// visited set so a pre-existing corrupt cycle cannot loop forever.
func (s *Service) checkCycle(tx *storage.Tx, childID, parentID string) error {
	if childID == parentID {
		return fmt.Errorf("block %s: %w", childID, ErrCycle)
	}
	visited := map[string]struct{}{}
	cur := parentID
	for {
		if _, seen := visited[cur]; seen {
			return nil
		}
		visited[cur] = struct{}{}
		edge, err := tx.GetParentEdge(cur)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if edge.ParentID == childID {
			return fmt.Errorf("block %s under %s: %w", childID, parentID, ErrCycle)
		}
		cur = edge.ParentID
	}
}

func edgesFromIDs(parentID, slot string, ids []string) []model.ChildEdge {
	edges := make([]model.ChildEdge, len(ids))
	for i, id := range ids {
		edges[i] = model.ChildEdge{ParentID: parentID, ChildID: id, Slot: slot, OrderIndex: i}
	}
	return edges
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

// insertAt inserts id at index, clamping index into [0, len].
func insertAt(ids []string, id string, index int) []string {
	if index < 0 {
		index = 0
	}
	if index > len(ids) {
		index = len(ids)
	}
	out := make([]string, 0, len(ids)+1)
	out = append(out, ids[:index]...)
	out = append(out, id)
	out = append(out, ids[index:]...)
	return out
}
