// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/AleutianAI/gridblocks/pkg/validation"
	"github.com/AleutianAI/gridblocks/services/blocks/model"
	"github.com/AleutianAI/gridblocks/services/blocks/storage"
)

// Sentinel errors for reference writes.
var (
	// ErrDuplicateEntity is returned when a list contains the same entity
	// id twice and duplicates are disallowed.
	ErrDuplicateEntity = errors.New("duplicate entity id in reference list")

	// ErrBlockInList is returned when a list item is of the block entity
	// type. List references point at external entities; block nesting
	// goes through child edges.
	ErrBlockInList = errors.New("block entities are not allowed in reference lists")

	// ErrNotBlockLink is returned when a single link's target is not of
	// the block entity type.
	ErrNotBlockLink = errors.New("link target is not a block entity")

	// ErrAmbiguousLink guards against data corruption: more than one row
	// already exists at a single-link path.
	ErrAmbiguousLink = errors.New("multiple reference rows at link path")
)

// Service owns block→entity reference rows and their resolution.
//
// Write methods operate on a *storage.Tx so the block service can compose
// them with block row writes atomically. Read methods additionally take a
// context for resolver fetches.
type Service struct {
	registry *Registry
	log      *slog.Logger
}

// NewService creates a reference service over a resolver registry.
func NewService(registry *Registry, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{registry: registry, log: log}
}

// UpsertLinksFor reconciles the persisted list rows of a block with the
// desired item list.
//
// # Description
//
// Performs a minimal delta against the rows under the list's path
// prefix, compared by (entity id, target path). Because path encodes
// position, membership changes are never written in place: any row whose
// target path differs from its current path is deleted and the desired
// id re-inserted at its new path and order.
func (s *Service) UpsertLinksFor(tx *storage.Tx, block *model.Block, list *model.ReferenceListPayload) error {
	if err := checkList(list); err != nil {
		return err
	}
	prefix := list.Prefix()

	existing, err := tx.ListReferenceEdges(block.ID, prefix)
	if err != nil {
		return err
	}
	byPath := make(map[string]model.ReferenceEdge, len(existing))
	for _, e := range existing {
		byPath[e.Path] = e
	}

	keep := make(map[string]struct{}, len(list.Items))
	for i, entityID := range list.Items {
		path := model.ListItemPath(prefix, i)
		if cur, ok := byPath[path]; ok && cur.EntityID == entityID && cur.EntityType == list.EntityType {
			keep[path] = struct{}{}
			continue
		}
		idx := i
		row := model.ReferenceEdge{
			ID:            uuid.NewString(),
			ParentBlockID: block.ID,
			EntityType:    list.EntityType,
			EntityID:      entityID,
			Path:          path,
			OrderIndex:    &idx,
		}
		if err := tx.PutReferenceEdge(&row); err != nil {
			return err
		}
		keep[path] = struct{}{}
	}

	for _, e := range existing {
		if _, ok := keep[e.Path]; ok {
			continue
		}
		if err := tx.DeleteReferenceEdge(block.ID, e.Path); err != nil {
			return err
		}
	}
	return nil
}

// FindListReferences resolves the desired items of a list against the
// persisted rows and the registered resolver.
//
// Resolution outcomes are tags on the returned references, never errors:
// a missing row tags MISSING, a lazy fetch policy tags REQUIRES_LOADING,
// an unregistered entity type tags UNSUPPORTED.
func (s *Service) FindListReferences(ctx context.Context, tx *storage.Tx, parentID string, list *model.ReferenceListPayload) ([]model.Reference, error) {
	prefix := list.Prefix()
	refs := make([]model.Reference, len(list.Items))
	var toResolve []string

	for i, entityID := range list.Items {
		path := model.ListItemPath(prefix, i)
		refs[i] = model.Reference{EntityType: list.EntityType, EntityID: entityID, Path: path}

		row, err := tx.GetReferenceEdge(parentID, path)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			refs[i].Tag = model.TagMissing
			continue
		case err != nil:
			return nil, err
		case row.EntityID != entityID:
			refs[i].Tag = model.TagMissing
			continue
		}
		if list.FetchPolicy == model.FetchLazy {
			refs[i].Tag = model.TagRequiresLoading
			continue
		}
		toResolve = append(toResolve, entityID)
	}

	if len(toResolve) == 0 {
		return refs, nil
	}
	entities, err := s.registry.Resolve(ctx, list.EntityType, toResolve)
	if errors.Is(err, ErrNoResolver) {
		s.log.Warn("no resolver for entity type", "entityType", list.EntityType)
		for i := range refs {
			if refs[i].Tag == model.TagOK && refs[i].Entity == nil {
				refs[i].Tag = model.TagUnsupported
			}
		}
		return refs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %s references: %w", list.EntityType, err)
	}

	for i := range refs {
		if refs[i].Tag != model.TagOK {
			continue
		}
		if entity, ok := entities[refs[i].EntityID]; ok {
			refs[i].Entity = entity
		} else {
			refs[i].Tag = model.TagMissing
		}
	}
	return refs, nil
}

// UpsertBlockLinkFor writes or retargets the single link row of a block.
//
// Unlike list rows, a link row's path is stable, so an existing row is
// updated in place with the new target id. More than one row at the path
// prefix means corrupted data and fails the write.
func (s *Service) UpsertBlockLinkFor(tx *storage.Tx, block *model.Block, link *model.ReferenceLinkPayload) error {
	if link.EntityType != model.EntityTypeBlock {
		return fmt.Errorf("entity type %s: %w", link.EntityType, ErrNotBlockLink)
	}
	path := link.LinkPath()

	rows, err := tx.ListReferenceEdges(block.ID, path)
	if err != nil {
		return err
	}
	if len(rows) > 1 {
		return fmt.Errorf("block %s path %s has %d rows: %w", block.ID, path, len(rows), ErrAmbiguousLink)
	}

	row := model.ReferenceEdge{
		ID:            uuid.NewString(),
		ParentBlockID: block.ID,
		EntityType:    model.EntityTypeBlock,
		EntityID:      link.TargetID,
		Path:          path,
	}
	if len(rows) == 1 {
		row.ID = rows[0].ID
	}
	return tx.PutReferenceEdge(&row)
}

// FindBlockLink resolves a block's single link row with the same tagging
// semantics as the list case.
func (s *Service) FindBlockLink(ctx context.Context, tx *storage.Tx, parentID string, link *model.ReferenceLinkPayload) (model.Reference, error) {
	path := link.LinkPath()
	ref := model.Reference{EntityType: model.EntityTypeBlock, EntityID: link.TargetID, Path: path}

	row, err := tx.GetReferenceEdge(parentID, path)
	if errors.Is(err, storage.ErrNotFound) {
		ref.Tag = model.TagMissing
		return ref, nil
	}
	if err != nil {
		return model.Reference{}, err
	}
	ref.EntityID = row.EntityID

	if link.FetchPolicy == model.FetchLazy {
		ref.Tag = model.TagRequiresLoading
		return ref, nil
	}
	entities, err := s.registry.Resolve(ctx, model.EntityTypeBlock, []string{row.EntityID})
	if errors.Is(err, ErrNoResolver) {
		ref.Tag = model.TagUnsupported
		return ref, nil
	}
	if err != nil {
		return model.Reference{}, fmt.Errorf("resolve block link: %w", err)
	}
	if entity, ok := entities[row.EntityID]; ok {
		ref.Entity = entity
	} else {
		ref.Tag = model.TagMissing
	}
	return ref, nil
}

// checkList validates list membership constraints ahead of any write.
// Entity types become resolver registry keys and storage path segments,
// so they pass through the same key validator as block type keys.
func checkList(list *model.ReferenceListPayload) error {
	if err := validation.ValidateEntityType(list.EntityType); err != nil {
		return err
	}
	if !list.AllowDuplicates {
		seen := make(map[string]struct{}, len(list.Items))
		for _, id := range list.Items {
			if _, dup := seen[id]; dup {
				return fmt.Errorf("entity %s: %w", id, ErrDuplicateEntity)
			}
			seen[id] = struct{}{}
		}
	}
	if list.EntityType == model.EntityTypeBlock {
		return ErrBlockInList
	}
	return nil
}
