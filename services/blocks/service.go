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
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/gridblocks/services/blocks/hierarchy"
	"github.com/AleutianAI/gridblocks/services/blocks/model"
	"github.com/AleutianAI/gridblocks/services/blocks/reference"
	"github.com/AleutianAI/gridblocks/services/blocks/schema"
	"github.com/AleutianAI/gridblocks/services/blocks/storage"
)

// Service orchestrates block writes, tree assembly, and versioned saves
// over the hierarchy and reference services.
//
// # Transaction Model
//
// Every public write runs in one store transaction: block rows, edge
// rewrites, and the audit entry commit or roll back together.
type Service struct {
	store *storage.Store
	hier  *hierarchy.Service
	refs  *reference.Service
	log   *slog.Logger
	clock func() time.Time
}

// NewService wires the block service.
func NewService(store *storage.Store, hier *hierarchy.Service, refs *reference.Service, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store: store,
		hier:  hier,
		refs:  refs,
		log:   log,
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// CreateBlockRequest carries everything needed to create a block and
// optionally attach it under a parent slot.
type CreateBlockRequest struct {
	ID    string // optional; client-generated ids are accepted
	OrgID string
	Name  string

	// Type resolution: by id, or by key+version (version 0 means latest).
	TypeID      string
	TypeKey     string
	TypeVersion int

	Payload model.Payload

	// Optional placement.
	ParentID string
	Slot     string
	Index    int

	Actor string
}

// CreateBlock validates, persists, and optionally attaches a new block.
//
// Content payloads are validated against the type schema at the type's
// strictness: STRICT violations block the write with every violation in
// the error, SOFT violations are recorded as warnings on the saved
// block. Reference payloads skip schema validation and delegate to the
// reference service instead.
func (s *Service) CreateBlock(ctx context.Context, req CreateBlockRequest) (*model.Block, error) {
	var created *model.Block
	err := s.store.Update(ctx, func(tx *storage.Tx) error {
		blk, err := s.createBlockTx(tx, req)
		if err != nil {
			return err
		}
		created = blk
		return nil
	})
	if err != nil {
		return nil, err
	}
	blockWrites.WithLabelValues("created").Inc()
	s.log.Info("block created", "blockId", created.ID, "org", created.OrgID, "kind", created.Payload.Kind.String())
	return created, nil
}

// createBlockTx is the transaction body of CreateBlock, reused by the
// save path when applying reduced ADD operations.
func (s *Service) createBlockTx(tx *storage.Tx, req CreateBlockRequest) (*model.Block, error) {
	if err := req.Payload.Check(); err != nil {
		return nil, err
	}
	bt, err := s.resolveType(tx, req.TypeID, req.TypeKey, req.TypeVersion)
	if err != nil {
		return nil, err
	}
	if bt.Archived {
		return nil, fmt.Errorf("type %s@%d: %w", bt.Key, bt.Version, ErrTypeArchived)
	}

	now := s.clock()
	blk := &model.Block{
		ID:        req.ID,
		OrgID:     req.OrgID,
		Name:      req.Name,
		TypeID:    bt.ID,
		TypeKey:   bt.Key,
		Payload:   req.Payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if blk.ID == "" {
		blk.ID = uuid.NewString()
	}

	if blk.Payload.Kind == model.KindContent {
		warnings, err := s.validateContent(bt, blk.Payload.Content)
		if err != nil {
			return nil, err
		}
		blk.Warnings = warnings
	}
	if err := tx.PutBlock(blk); err != nil {
		return nil, err
	}

	switch blk.Payload.Kind {
	case model.KindReferenceList:
		if err := s.refs.UpsertLinksFor(tx, blk, blk.Payload.List); err != nil {
			return nil, err
		}
	case model.KindReferenceLink:
		if err := s.refs.UpsertBlockLinkFor(tx, blk, blk.Payload.Link); err != nil {
			return nil, err
		}
	}

	if req.ParentID != "" {
		parent, err := tx.GetBlock(req.ParentID)
		if err != nil {
			return nil, err
		}
		nesting, err := s.nestingOf(tx, parent)
		if err != nil {
			return nil, err
		}
		if err := s.hier.AddChild(tx, blk, req.ParentID, req.Slot, req.Index, nesting); err != nil {
			return nil, err
		}
	}

	return blk, tx.AppendActivity(model.Activity{
		BlockID: blk.ID, Action: "created", Actor: req.Actor, At: now,
	})
}

// UpdateBlockRequest carries a partial block update.
type UpdateBlockRequest struct {
	ID      string
	Name    string // empty keeps the stored name
	Payload model.Payload
	Actor   string
}

// UpdateBlock merges an update into an existing block.
//
// Content payload data is deep-merged into the stored data and
// re-validated under the type's strictness. Reference payloads re-run
// the appropriate upsert against the new desired set. An update whose
// payload kind differs from the stored kind is rejected.
func (s *Service) UpdateBlock(ctx context.Context, req UpdateBlockRequest) (*model.Block, error) {
	var updated *model.Block
	err := s.store.Update(ctx, func(tx *storage.Tx) error {
		blk, err := s.updateBlockTx(tx, req)
		if err != nil {
			return err
		}
		updated = blk
		return nil
	})
	if err != nil {
		return nil, err
	}
	blockWrites.WithLabelValues("updated").Inc()
	s.log.Info("block updated", "blockId", updated.ID)
	return updated, nil
}

func (s *Service) updateBlockTx(tx *storage.Tx, req UpdateBlockRequest) (*model.Block, error) {
	blk, err := tx.GetBlock(req.ID)
	if err != nil {
		return nil, err
	}
	if err := req.Payload.Check(); err != nil {
		return nil, err
	}
	if req.Payload.Kind != blk.Payload.Kind {
		return nil, fmt.Errorf("block %s is %s, update is %s: %w",
			blk.ID, blk.Payload.Kind, req.Payload.Kind, ErrPayloadKindChange)
	}
	if req.Name != "" {
		blk.Name = req.Name
	}

	switch blk.Payload.Kind {
	case model.KindContent:
		bt, err := tx.GetBlockType(blk.TypeID)
		if err != nil {
			return nil, err
		}
		blk.Payload.Content.Data = model.DeepMerge(blk.Payload.Content.Data, req.Payload.Content.Data)
		if req.Payload.Content.Meta != nil {
			blk.Payload.Content.Meta = model.DeepMerge(blk.Payload.Content.Meta, req.Payload.Content.Meta)
		}
		warnings, err := s.validateContent(bt, blk.Payload.Content)
		if err != nil {
			return nil, err
		}
		blk.Warnings = warnings
	case model.KindReferenceList:
		blk.Payload.List = req.Payload.List
		if err := s.refs.UpsertLinksFor(tx, blk, blk.Payload.List); err != nil {
			return nil, err
		}
	case model.KindReferenceLink:
		blk.Payload.Link = req.Payload.Link
		if err := s.refs.UpsertBlockLinkFor(tx, blk, blk.Payload.Link); err != nil {
			return nil, err
		}
	}

	blk.UpdatedAt = s.clock()
	if err := tx.PutBlock(blk); err != nil {
		return nil, err
	}
	return blk, tx.AppendActivity(model.Activity{
		BlockID: blk.ID, Action: "updated", Actor: req.Actor, At: blk.UpdatedAt,
	})
}

// ArchiveBlock sets the archived flag. Setting the current state is a
// no-op and records nothing.
func (s *Service) ArchiveBlock(ctx context.Context, id string, archived bool, actor string) (*model.Block, error) {
	var out *model.Block
	err := s.store.Update(ctx, func(tx *storage.Tx) error {
		blk, err := tx.GetBlock(id)
		if err != nil {
			return err
		}
		if blk.Archived == archived {
			out = blk
			return nil
		}
		blk.Archived = archived
		blk.UpdatedAt = s.clock()
		if err := tx.PutBlock(blk); err != nil {
			return err
		}
		action := "archived"
		if !archived {
			action = "unarchived"
		}
		out = blk
		blockWrites.WithLabelValues(action).Inc()
		return tx.AppendActivity(model.Activity{
			BlockID: blk.ID, Action: action, Actor: actor, At: blk.UpdatedAt,
		})
	})
	return out, err
}

// ListActivities returns a block's audit log, oldest first.
func (s *Service) ListActivities(ctx context.Context, blockID string) ([]model.Activity, error) {
	var out []model.Activity
	err := s.store.View(ctx, func(tx *storage.Tx) error {
		var err error
		out, err = tx.ListActivities(blockID)
		return err
	})
	return out, err
}

// GetBlock assembles the read-only tree rooted at id.
//
// # Description
//
// Content blocks recurse into every child slot. If a child id is found
// on the currently open ancestor chain, recursion stops and the slot
// entry is a placeholder node carrying a cycle warning. Reference
// blocks resolve through the reference service and become reference
// nodes; resolution warnings are tags on the nodes, never errors.
func (s *Service) GetBlock(ctx context.Context, id string) (model.Node, error) {
	var root model.Node
	err := s.store.View(ctx, func(tx *storage.Tx) error {
		blk, err := tx.GetBlock(id)
		if err != nil {
			return err
		}
		root, err = s.assemble(ctx, tx, blk, map[string]struct{}{})
		return err
	})
	if err != nil {
		return nil, err
	}
	treeReads.Inc()
	return root, nil
}

// assemble builds the node for blk. ancestors holds the ids of the open
// recursion chain, not of the whole tree: the same block may appear in
// two sibling subtrees without being a cycle.
func (s *Service) assemble(ctx context.Context, tx *storage.Tx, blk *model.Block, ancestors map[string]struct{}) (model.Node, error) {
	switch blk.Payload.Kind {
	case model.KindReferenceList:
		refs, err := s.refs.FindListReferences(ctx, tx, blk.ID, blk.Payload.List)
		if err != nil {
			return nil, err
		}
		return &model.ReferenceNode{Block: blk, References: refs}, nil
	case model.KindReferenceLink:
		ref, err := s.refs.FindBlockLink(ctx, tx, blk.ID, blk.Payload.Link)
		if err != nil {
			return nil, err
		}
		return &model.ReferenceNode{Block: blk, References: []model.Reference{ref}}, nil
	}

	node := &model.ContentNode{Block: blk, Warnings: blk.Warnings}
	grouped, err := s.hier.ListChildrenGrouped(tx, blk.ID)
	if err != nil {
		return nil, err
	}
	if len(grouped) == 0 {
		return node, nil
	}

	ancestors[blk.ID] = struct{}{}
	defer delete(ancestors, blk.ID)

	node.Children = make(map[string][]model.Node, len(grouped))
	for slot, edges := range grouped {
		children := make([]model.Node, 0, len(edges))
		for _, edge := range edges {
			child, err := tx.GetBlock(edge.ChildID)
			if err != nil {
				return nil, err
			}
			if _, onChain := ancestors[edge.ChildID]; onChain {
				children = append(children, &model.ContentNode{
					Block:    child,
					Warnings: []string{model.CycleWarning},
				})
				continue
			}
			childNode, err := s.assemble(ctx, tx, child, ancestors)
			if err != nil {
				return nil, err
			}
			children = append(children, childNode)
		}
		node.Children[slot] = children
	}
	return node, nil
}

// validateContent runs schema validation at the type's strictness.
func (s *Service) validateContent(bt *model.BlockType, content *model.ContentPayload) ([]string, error) {
	violations, err := schema.Validate(bt.Schema, content.Data)
	if err != nil {
		return nil, err
	}
	if len(violations) == 0 {
		return nil, nil
	}
	if bt.Strictness == model.StrictnessStrict {
		return nil, &schema.ValidationError{Violations: violations}
	}
	warnings := make([]string, len(violations))
	for i, v := range violations {
		warnings[i] = v.String()
	}
	return warnings, nil
}

// nestingOf returns the nesting rule of a parent block's type.
func (s *Service) nestingOf(tx *storage.Tx, parent *model.Block) (*model.NestingRule, error) {
	bt, err := tx.GetBlockType(parent.TypeID)
	if err != nil {
		return nil, err
	}
	return bt.Nesting, nil
}

// resolveType loads a type row by id, by key+version, or by key latest.
func (s *Service) resolveType(tx *storage.Tx, typeID, typeKey string, typeVersion int) (*model.BlockType, error) {
	switch {
	case typeID != "":
		return tx.GetBlockType(typeID)
	case typeKey != "" && typeVersion > 0:
		return tx.GetBlockTypeByKey(typeKey, typeVersion)
	case typeKey != "":
		return tx.LatestBlockType(typeKey)
	default:
		return nil, ErrMissingType
	}
}

// IsNotFound reports whether err is a storage not-found condition.
func IsNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
