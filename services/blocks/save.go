// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package blocks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/gridblocks/services/blocks/model"
	"github.com/AleutianAI/gridblocks/services/blocks/oplog"
	"github.com/AleutianAI/gridblocks/services/blocks/storage"
)

// ErrBadOperation is returned when a structural operation in a save
// request is malformed (an ADD without a block record, a MOVE without a
// parent).
var ErrBadOperation = errors.New("malformed structural operation")

// SaveLayout applies a client mirror's accumulated edits under
// optimistic concurrency.
//
// # Description
//
// The layout row's version is compared against the request's base
// version inside the same transaction that applies the edits. On
// mismatch nothing is written and the response reports the conflict as
// a value, never an error: the caller decides whether to rebase or
// discard. On match the structural operations are reduced, applied in
// block-id order, and the version is bumped by one.
//
// A layout id that has never been saved starts at version 0, so the
// first save must carry base version 0.
func (s *Service) SaveLayout(ctx context.Context, req model.SaveRequest) (*model.SaveResponse, error) {
	start := time.Now()
	resp := &model.SaveResponse{}

	err := s.store.Update(ctx, func(tx *storage.Tx) error {
		layout, err := tx.GetLayout(req.LayoutID)
		if errors.Is(err, storage.ErrNotFound) {
			layout = &model.Layout{ID: req.LayoutID}
		} else if err != nil {
			return err
		}

		if layout.Version != req.BaseVersion {
			resp.Conflict = true
			resp.LatestVersion = layout.Version
			resp.LastModifiedBy = layout.LastModifiedBy
			return nil
		}

		for _, op := range oplog.Flatten(oplog.Reduce(req.Operations)) {
			if err := s.applyOperation(tx, op, req.Actor); err != nil {
				return fmt.Errorf("applying %s on block %s: %w", op.Type, op.BlockID, err)
			}
		}

		layout.Version++
		layout.LastModifiedBy = req.Actor
		layout.UpdatedAt = s.clock()
		if req.Layout != nil {
			layout.Geometry = req.Layout
		}
		if err := tx.PutLayout(layout); err != nil {
			return err
		}

		resp.Success = true
		resp.NewVersion = layout.Version
		return nil
	})
	if err != nil {
		return nil, err
	}

	saveDuration.Observe(time.Since(start).Seconds())
	if resp.Conflict {
		saveResults.WithLabelValues("conflict").Inc()
		s.log.Warn("layout save conflict",
			"layoutId", req.LayoutID,
			"baseVersion", req.BaseVersion,
			"latestVersion", resp.LatestVersion,
			"lastModifiedBy", resp.LastModifiedBy)
		return resp, nil
	}
	saveResults.WithLabelValues("applied").Inc()
	s.log.Info("layout saved",
		"layoutId", req.LayoutID,
		"newVersion", resp.NewVersion,
		"operations", len(req.Operations))
	return resp, nil
}

// GetLayout loads the authoritative layout row.
func (s *Service) GetLayout(ctx context.Context, id string) (*model.Layout, error) {
	var out *model.Layout
	err := s.store.View(ctx, func(tx *storage.Tx) error {
		var err error
		out, err = tx.GetLayout(id)
		return err
	})
	return out, err
}

// applyOperation dispatches one reduced structural operation.
func (s *Service) applyOperation(tx *storage.Tx, op model.Operation, actor string) error {
	switch op.Type {
	case model.OpAdd:
		if op.Block == nil {
			return fmt.Errorf("%w: ADD carries no block", ErrBadOperation)
		}
		_, err := s.createBlockTx(tx, CreateBlockRequest{
			ID:       op.BlockID,
			OrgID:    op.Block.OrgID,
			Name:     op.Block.Name,
			TypeID:   op.Block.TypeID,
			TypeKey:  op.Block.TypeKey,
			Payload:  op.Block.Payload,
			ParentID: op.ParentID,
			Slot:     op.Slot,
			Index:    op.Index,
			Actor:    actor,
		})
		return err

	case model.OpUpdate:
		if op.Block == nil {
			return fmt.Errorf("%w: UPDATE carries no block", ErrBadOperation)
		}
		_, err := s.updateBlockTx(tx, UpdateBlockRequest{
			ID:      op.BlockID,
			Name:    op.Block.Name,
			Payload: op.Block.Payload,
			Actor:   actor,
		})
		return err

	case model.OpMove:
		if op.ParentID == "" {
			return fmt.Errorf("%w: MOVE carries no parent", ErrBadOperation)
		}
		child, err := tx.GetBlock(op.BlockID)
		if err != nil {
			return err
		}
		parent, err := tx.GetBlock(op.ParentID)
		if err != nil {
			return err
		}
		nesting, err := s.nestingOf(tx, parent)
		if err != nil {
			return err
		}
		return s.hier.ReparentChild(tx, child, op.ParentID, op.Slot, op.Index, nesting)

	case model.OpReorder:
		parentID, slot := op.ParentID, op.Slot
		if parentID == "" {
			edge, err := tx.GetParentEdge(op.BlockID)
			if err != nil {
				return err
			}
			parentID, slot = edge.ParentID, edge.Slot
		}
		return s.hier.ReorderWithinSlot(tx, parentID, slot, op.BlockID, op.Index)

	case model.OpRemove:
		return s.removeBlockTx(tx, op.BlockID)

	default:
		return fmt.Errorf("%w: unknown type %d", ErrBadOperation, op.Type)
	}
}

// removeBlockTx detaches a block from its parent, orphans its children,
// and deletes its rows. Children are kept as roots rather than deleted:
// removal of a container is not removal of its contents.
func (s *Service) removeBlockTx(tx *storage.Tx, id string) error {
	if _, err := tx.GetBlock(id); err != nil {
		return err
	}
	if err := s.hier.DetachChild(tx, id); err != nil {
		return err
	}
	slots, err := tx.ListSlots(id)
	if err != nil {
		return err
	}
	for slot := range slots {
		if err := tx.SetSlot(id, slot, nil); err != nil {
			return err
		}
	}
	if err := tx.DeleteReferenceEdges(id); err != nil {
		return err
	}
	if err := tx.DeleteActivities(id); err != nil {
		return err
	}
	return tx.DeleteBlock(id)
}
