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

	"github.com/google/uuid"

	"github.com/AleutianAI/gridblocks/pkg/validation"
	"github.com/AleutianAI/gridblocks/services/blocks/model"
	"github.com/AleutianAI/gridblocks/services/blocks/schema"
	"github.com/AleutianAI/gridblocks/services/blocks/storage"
)

// ErrTypeKeyTaken is returned when creating a block type whose key is
// already in use.
var ErrTypeKeyTaken = errors.New("block type key already exists")

// CreateBlockTypeRequest carries a new block type definition.
//
// Strictness is a pointer so an absent field can be told apart from an
// explicit SOFT: on version appends, nil inherits the previous version's
// strictness.
type CreateBlockTypeRequest struct {
	OrgID      string
	Key        string
	Name       string
	Schema     []byte
	Display    []byte
	Nesting    *model.NestingRule
	Strictness *model.Strictness
}

// CreateBlockType registers version 1 of a new type key.
//
// The key is validated before the row is written because it is embedded
// in prefix-scanned store keys, and the schema document is compiled so a
// broken schema never reaches storage.
func (s *Service) CreateBlockType(ctx context.Context, req CreateBlockTypeRequest) (*model.BlockType, error) {
	if err := validation.ValidateTypeKey(req.Key); err != nil {
		return nil, err
	}
	if err := schema.Compile(req.Schema); err != nil {
		return nil, err
	}
	var bt *model.BlockType
	err := s.store.Update(ctx, func(tx *storage.Tx) error {
		_, err := tx.LatestBlockType(req.Key)
		if err == nil {
			return fmt.Errorf("key %q: %w", req.Key, ErrTypeKeyTaken)
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		bt = &model.BlockType{
			ID:        uuid.NewString(),
			OrgID:     req.OrgID,
			Key:       req.Key,
			Version:   1,
			Name:      req.Name,
			Schema:    req.Schema,
			Display:   req.Display,
			Nesting:   req.Nesting,
			CreatedAt: s.clock(),
		}
		if req.Strictness != nil {
			bt.Strictness = *req.Strictness
		}
		return tx.PutBlockType(bt)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("block type created", "key", bt.Key, "typeId", bt.ID)
	return bt, nil
}

// AppendBlockTypeVersion appends a new version row under an existing
// key. Existing rows are never mutated; blocks created against earlier
// versions keep validating against them.
//
// Zero-value request fields inherit from the latest version, so callers
// send only what changed.
func (s *Service) AppendBlockTypeVersion(ctx context.Context, key string, req CreateBlockTypeRequest) (*model.BlockType, error) {
	if err := schema.Compile(req.Schema); err != nil {
		return nil, err
	}
	var bt *model.BlockType
	err := s.store.Update(ctx, func(tx *storage.Tx) error {
		prev, err := tx.LatestBlockType(key)
		if err != nil {
			return err
		}
		next := *prev
		next.ID = uuid.NewString()
		next.Version = prev.Version + 1
		next.Archived = false
		next.CreatedAt = s.clock()
		if req.Name != "" {
			next.Name = req.Name
		}
		if req.Schema != nil {
			next.Schema = req.Schema
		}
		if req.Display != nil {
			next.Display = req.Display
		}
		if req.Nesting != nil {
			next.Nesting = req.Nesting
		}
		if req.Strictness != nil {
			next.Strictness = *req.Strictness
		}
		bt = &next
		return tx.PutBlockType(bt)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("block type version appended", "key", bt.Key, "version", bt.Version)
	return bt, nil
}

// ArchiveBlockType retires one version row. Archived versions keep
// validating existing blocks but reject new ones.
func (s *Service) ArchiveBlockType(ctx context.Context, id string, archived bool) (*model.BlockType, error) {
	var bt *model.BlockType
	err := s.store.Update(ctx, func(tx *storage.Tx) error {
		row, err := tx.GetBlockType(id)
		if err != nil {
			return err
		}
		if row.Archived == archived {
			bt = row
			return nil
		}
		row.Archived = archived
		bt = row
		return tx.PutBlockType(row)
	})
	return bt, err
}

// GetBlockType loads one version row by id.
func (s *Service) GetBlockType(ctx context.Context, id string) (*model.BlockType, error) {
	var bt *model.BlockType
	err := s.store.View(ctx, func(tx *storage.Tx) error {
		var err error
		bt, err = tx.GetBlockType(id)
		return err
	})
	return bt, err
}

// ListBlockTypes returns every type version row of an organisation.
func (s *Service) ListBlockTypes(ctx context.Context, orgID string) ([]*model.BlockType, error) {
	var out []*model.BlockType
	err := s.store.View(ctx, func(tx *storage.Tx) error {
		var err error
		out, err = tx.ListBlockTypes(orgID)
		return err
	})
	return out, err
}
