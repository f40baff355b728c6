// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package mirror holds a client-side optimistic replica of one layout's
// block state.
//
// # Description
//
// The Environment applies structural edits immediately to local maps and
// records each edit in an audit buffer. The buffer travels to the
// authoritative store on Save under optimistic concurrency; the store is
// never reconciled by copying state across, only through the
// version-checked save protocol. The mirror enforces its own local
// invariants (single parent, contiguous slot order) as a cache
// convenience, but the authoritative services re-check everything.
//
// # Thread Safety
//
// Environment is safe for concurrent use. Mutations are synchronous
// in-memory updates; Save is the only blocking boundary and only one
// save per Environment may be in flight at a time.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/gridblocks/services/blocks/model"
)

var (
	// ErrUnknownBlock is returned when a mutation targets an id the
	// mirror has never seen.
	ErrUnknownBlock = errors.New("block not present in mirror")

	// ErrBlockExists is returned when adding an id that is already
	// mirrored.
	ErrBlockExists = errors.New("block already present in mirror")

	// ErrAlreadyChild is returned when attaching a block that already
	// has a parent.
	ErrAlreadyChild = errors.New("block already has a parent")

	// ErrKindChange is returned when an update would switch a block's
	// payload kind.
	ErrKindChange = errors.New("payload kind cannot change")

	// ErrSaveInFlight is returned when a save starts while another one
	// has not yet resolved.
	ErrSaveInFlight = errors.New("a save is already in flight")

	// ErrNothingToUndo is returned when the undo history is empty.
	ErrNothingToUndo = errors.New("nothing to undo")
)

// Saver pushes accumulated edits to the authoritative store. The block
// service satisfies it directly; remote transports wrap it.
type Saver interface {
	SaveLayout(ctx context.Context, req model.SaveRequest) (*model.SaveResponse, error)
}

// snapshot is a deep copy of the mirror's mutable state, used as the
// save baseline and as undo history entries.
type snapshot struct {
	blocks   map[string]*model.Block
	parents  map[string]model.ChildEdge
	slots    map[string]map[string][]string
	audit    []model.Operation
	geometry json.RawMessage
}

// Environment is the optimistic replica of one layout.
type Environment struct {
	mu sync.Mutex

	layoutID string
	saver    Saver
	log      *slog.Logger
	clock    func() time.Time

	blocks  map[string]*model.Block
	parents map[string]model.ChildEdge // child id -> edge
	slots   map[string]map[string][]string

	audit    []model.Operation
	geometry json.RawMessage

	baseline    *snapshot
	undo        *history
	baseVersion int64

	// discarding suppresses audit recording and undo tracking while a
	// snapshot is being reapplied, so a discard or undo is not itself
	// recorded as a change.
	discarding bool

	saving bool

	focus *FocusManager
}

// Config tunes an Environment.
type Config struct {
	// UndoDepth caps the undo history. Zero means the default of 50.
	UndoDepth int

	// BaseVersion is the layout version the mirrored state was loaded
	// at. First-ever edits of a layout start at 0.
	BaseVersion int64

	Logger *slog.Logger
}

// NewEnvironment builds an empty mirror for one layout.
func NewEnvironment(layoutID string, saver Saver, cfg Config) *Environment {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	e := &Environment{
		layoutID:    layoutID,
		saver:       saver,
		log:         log,
		clock:       func() time.Time { return time.Now().UTC() },
		blocks:      map[string]*model.Block{},
		parents:     map[string]model.ChildEdge{},
		slots:       map[string]map[string][]string{},
		undo:        newHistory(cfg.UndoDepth),
		baseVersion: cfg.BaseVersion,
		focus:       NewFocusManager(),
	}
	e.baseline = e.snapshotLocked()
	return e
}

// Seed loads authoritative state into the mirror and resets the
// baseline to it. Edges must reference seeded blocks.
func (e *Environment) Seed(blocks []*model.Block, edges []model.ChildEdge, geometry json.RawMessage, version int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.blocks = make(map[string]*model.Block, len(blocks))
	e.parents = map[string]model.ChildEdge{}
	e.slots = map[string]map[string][]string{}
	for _, b := range blocks {
		e.blocks[b.ID] = cloneBlock(b)
	}
	for _, edge := range edges {
		e.parents[edge.ChildID] = edge
		byslot := e.slots[edge.ParentID]
		if byslot == nil {
			byslot = map[string][]string{}
			e.slots[edge.ParentID] = byslot
		}
		byslot[edge.Slot] = append(byslot[edge.Slot], edge.ChildID)
	}
	e.geometry = append(json.RawMessage(nil), geometry...)
	e.baseVersion = version
	e.audit = nil
	e.undo.Clear()
	e.baseline = e.snapshotLocked()
}

// Focus returns the environment's scoped focus manager.
func (e *Environment) Focus() *FocusManager {
	return e.focus
}

// BaseVersion returns the version local edits are based on.
func (e *Environment) BaseVersion() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.baseVersion
}

// Dirty reports whether unsaved structural edits exist.
func (e *Environment) Dirty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.audit) > 0
}

// Pending returns a copy of the unsaved audit buffer.
func (e *Environment) Pending() []model.Operation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.Operation(nil), e.audit...)
}

// Block returns a copy of one mirrored block.
func (e *Environment) Block(id string) (*model.Block, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.blocks[id]
	if !ok {
		return nil, false
	}
	return cloneBlock(b), true
}

// Children returns the ordered child ids of one (parent, slot) pair.
func (e *Environment) Children(parentID, slot string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.slots[parentID][slot]...)
}

// SetGeometry replaces the opaque grid geometry carried on the next
// save. Geometry edits are not structural operations and are not
// undoable.
func (e *Environment) SetGeometry(geometry json.RawMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.geometry = append(json.RawMessage(nil), geometry...)
}

// =============================================================================
// Structural mutations
// =============================================================================

// AddBlock mirrors a new block, optionally attached under a parent.
func (e *Environment) AddBlock(blk *model.Block, parentID, slot string, index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.blocks[blk.ID]; ok {
		return fmt.Errorf("%s: %w", blk.ID, ErrBlockExists)
	}
	if parentID != "" {
		if _, ok := e.blocks[parentID]; !ok {
			return fmt.Errorf("parent %s: %w", parentID, ErrUnknownBlock)
		}
	}

	e.trackLocked()
	e.blocks[blk.ID] = cloneBlock(blk)
	if parentID != "" {
		e.attachLocked(blk.ID, parentID, slot, index)
	}
	e.recordLocked(model.Operation{
		Type: model.OpAdd, BlockID: blk.ID,
		ParentID: parentID, Slot: slot, Index: index,
		Block: cloneBlock(blk),
	})
	return nil
}

// UpdateBlock merges a partial payload into a mirrored block, following
// the same deep-merge rule the authoritative store applies.
func (e *Environment) UpdateBlock(id string, payload model.Payload) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	blk, ok := e.blocks[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrUnknownBlock)
	}
	if payload.Kind != blk.Payload.Kind {
		return fmt.Errorf("block %s is %s: %w", id, blk.Payload.Kind, ErrKindChange)
	}

	e.trackLocked()
	switch blk.Payload.Kind {
	case model.KindContent:
		blk.Payload.Content.Data = model.DeepMerge(blk.Payload.Content.Data, payload.Content.Data)
	case model.KindReferenceList:
		blk.Payload.List = payload.List
	case model.KindReferenceLink:
		blk.Payload.Link = payload.Link
	}
	e.recordLocked(model.Operation{
		Type: model.OpUpdate, BlockID: id,
		Block: &model.Block{ID: id, Payload: payload},
	})
	return nil
}

// MoveBlock reparents a mirrored block.
func (e *Environment) MoveBlock(id, newParentID, newSlot string, index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.blocks[id]; !ok {
		return fmt.Errorf("%s: %w", id, ErrUnknownBlock)
	}
	if _, ok := e.blocks[newParentID]; !ok {
		return fmt.Errorf("parent %s: %w", newParentID, ErrUnknownBlock)
	}

	e.trackLocked()
	e.detachLocked(id)
	e.attachLocked(id, newParentID, newSlot, index)
	e.recordLocked(model.Operation{
		Type: model.OpMove, BlockID: id,
		ParentID: newParentID, Slot: newSlot, Index: index,
	})
	return nil
}

// ReorderBlock moves a mirrored block to a new index within its current
// slot.
func (e *Environment) ReorderBlock(id string, index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	edge, ok := e.parents[id]
	if !ok {
		return fmt.Errorf("%s has no parent: %w", id, ErrUnknownBlock)
	}

	e.trackLocked()
	e.detachLocked(id)
	e.attachLocked(id, edge.ParentID, edge.Slot, index)
	e.recordLocked(model.Operation{
		Type: model.OpReorder, BlockID: id,
		ParentID: edge.ParentID, Slot: edge.Slot, Index: index,
	})
	return nil
}

// RemoveBlock drops a mirrored block. Its children stay mirrored as
// roots, matching authoritative removal semantics.
func (e *Environment) RemoveBlock(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.blocks[id]; !ok {
		return fmt.Errorf("%s: %w", id, ErrUnknownBlock)
	}

	e.trackLocked()
	e.detachLocked(id)
	for slot, ids := range e.slots[id] {
		for _, child := range ids {
			delete(e.parents, child)
		}
		delete(e.slots[id], slot)
	}
	delete(e.slots, id)
	delete(e.blocks, id)
	e.focus.Blur(id)
	e.recordLocked(model.Operation{Type: model.OpRemove, BlockID: id})
	return nil
}

// =============================================================================
// Save / discard / undo
// =============================================================================

// Save ships the audit buffer and geometry to the authoritative store.
//
// # Description
//
// Only one save per Environment may be in flight; a second call while
// the first awaits its response fails with ErrSaveInFlight. On success
// the baseline becomes the just-saved state and the buffer clears. On
// conflict the local state and buffer are left untouched and the
// response carries the server's version and author for the caller to
// branch on. Edits made while the save is in flight are kept: the
// buffer is re-based, not truncated blindly.
func (e *Environment) Save(ctx context.Context, actor string) (*model.SaveResponse, error) {
	e.mu.Lock()
	if e.saving {
		e.mu.Unlock()
		return nil, ErrSaveInFlight
	}
	e.saving = true
	req := model.SaveRequest{
		LayoutID:    e.layoutID,
		Layout:      append(json.RawMessage(nil), e.geometry...),
		BaseVersion: e.baseVersion,
		Operations:  append([]model.Operation(nil), e.audit...),
		Actor:       actor,
	}
	sent := len(e.audit)
	e.mu.Unlock()

	resp, err := e.saver.SaveLayout(ctx, req)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.saving = false
	if err != nil {
		return nil, err
	}
	if resp.Conflict {
		e.log.Warn("save conflicted",
			"layoutId", e.layoutID,
			"baseVersion", req.BaseVersion,
			"latestVersion", resp.LatestVersion,
			"lastModifiedBy", resp.LastModifiedBy)
		return resp, nil
	}

	e.baseVersion = resp.NewVersion
	// Discard or Undo may have shrunk the buffer below the shipped
	// prefix while the save was in flight.
	e.audit = e.audit[min(sent, len(e.audit)):]
	e.undo.Clear()
	e.baseline = e.snapshotLocked()
	e.log.Info("save applied", "layoutId", e.layoutID, "newVersion", resp.NewVersion)
	return resp, nil
}

// AdoptServerVersion rebases local edits onto the server's reported
// version after a conflict, keeping the audit buffer. The caller chose
// "keep local changes"; the next save retries against the new version.
func (e *Environment) AdoptServerVersion(version int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.baseVersion = version
}

// Discard reverts to the last baseline snapshot and clears the audit
// buffer without contacting the store.
func (e *Environment) Discard() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.restoreLocked(e.baseline.clone())
	e.audit = nil
	e.undo.Clear()
}

// Undo rewinds the most recent structural mutation, including its audit
// buffer entry.
func (e *Environment) Undo() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.undo.PopNewest()
	if !ok {
		return ErrNothingToUndo
	}
	e.restoreLocked(s)
	return nil
}

// =============================================================================
// Internal state plumbing
// =============================================================================

// trackLocked pushes the pre-mutation state onto the undo history.
func (e *Environment) trackLocked() {
	if e.discarding {
		return
	}
	e.undo.Push(e.snapshotLocked())
}

// recordLocked stamps and appends an operation to the audit buffer.
func (e *Environment) recordLocked(op model.Operation) {
	if e.discarding {
		return
	}
	op.Timestamp = e.clock()
	e.audit = append(e.audit, op)
}

// attachLocked inserts child into (parent, slot) at index, clamped, and
// rewrites order indexes so they stay contiguous.
func (e *Environment) attachLocked(childID, parentID, slot string, index int) {
	byslot := e.slots[parentID]
	if byslot == nil {
		byslot = map[string][]string{}
		e.slots[parentID] = byslot
	}
	ids := byslot[slot]
	if index < 0 {
		index = 0
	}
	if index > len(ids) {
		index = len(ids)
	}
	ids = append(ids, "")
	copy(ids[index+1:], ids[index:])
	ids[index] = childID
	byslot[slot] = ids
	for i, id := range ids {
		e.parents[id] = model.ChildEdge{ParentID: parentID, ChildID: id, Slot: slot, OrderIndex: i}
	}
}

// detachLocked removes child from its parent slot, if any, compacting
// the remaining order.
func (e *Environment) detachLocked(childID string) {
	edge, ok := e.parents[childID]
	if !ok {
		return
	}
	delete(e.parents, childID)
	ids := e.slots[edge.ParentID][edge.Slot]
	for i, id := range ids {
		if id == childID {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(e.slots[edge.ParentID], edge.Slot)
	} else {
		e.slots[edge.ParentID][edge.Slot] = ids
	}
	for i, id := range ids {
		e.parents[id] = model.ChildEdge{ParentID: edge.ParentID, ChildID: id, Slot: edge.Slot, OrderIndex: i}
	}
}

func (e *Environment) snapshotLocked() *snapshot {
	s := &snapshot{
		blocks:   make(map[string]*model.Block, len(e.blocks)),
		parents:  make(map[string]model.ChildEdge, len(e.parents)),
		slots:    make(map[string]map[string][]string, len(e.slots)),
		audit:    append([]model.Operation(nil), e.audit...),
		geometry: append(json.RawMessage(nil), e.geometry...),
	}
	for id, b := range e.blocks {
		s.blocks[id] = cloneBlock(b)
	}
	for id, edge := range e.parents {
		s.parents[id] = edge
	}
	for parent, byslot := range e.slots {
		cp := make(map[string][]string, len(byslot))
		for slot, ids := range byslot {
			cp[slot] = append([]string(nil), ids...)
		}
		s.slots[parent] = cp
	}
	return s
}

// restoreLocked reapplies a snapshot under the discarding flag so the
// restore is not itself tracked.
func (e *Environment) restoreLocked(s *snapshot) {
	e.discarding = true
	defer func() { e.discarding = false }()
	e.blocks = s.blocks
	e.parents = s.parents
	e.slots = s.slots
	e.audit = s.audit
	e.geometry = s.geometry
}

func (s *snapshot) clone() *snapshot {
	cp := &snapshot{
		blocks:   make(map[string]*model.Block, len(s.blocks)),
		parents:  make(map[string]model.ChildEdge, len(s.parents)),
		slots:    make(map[string]map[string][]string, len(s.slots)),
		audit:    append([]model.Operation(nil), s.audit...),
		geometry: append(json.RawMessage(nil), s.geometry...),
	}
	for id, b := range s.blocks {
		cp.blocks[id] = cloneBlock(b)
	}
	for id, edge := range s.parents {
		cp.parents[id] = edge
	}
	for parent, byslot := range s.slots {
		m := make(map[string][]string, len(byslot))
		for slot, ids := range byslot {
			m[slot] = append([]string(nil), ids...)
		}
		cp.slots[parent] = m
	}
	return cp
}

// cloneBlock deep-copies a block through its JSON form; model types are
// JSON-clean by construction.
func cloneBlock(b *model.Block) *model.Block {
	raw, err := json.Marshal(b)
	if err != nil {
		cp := *b
		return &cp
	}
	var out model.Block
	if err := json.Unmarshal(raw, &out); err != nil {
		cp := *b
		return &cp
	}
	return &out
}
