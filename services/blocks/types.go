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
	"encoding/json"

	"github.com/AleutianAI/gridblocks/services/blocks/model"
	"github.com/AleutianAI/gridblocks/services/blocks/schema"
)

// ServiceVersion is the blocks service version.
const ServiceVersion = "0.1.0"

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`

	// Violations carries field-level schema failures for
	// SCHEMA_VALIDATION errors.
	Violations []schema.Violation `json:"violations,omitempty"`
}

// CreateBlockBody is the request body for POST /v1/blocks.
//
// The type is resolved by typeId, or by typeKey plus optional
// typeVersion (0 means latest).
type CreateBlockBody struct {
	// ID is optional; the server generates one when empty.
	ID string `json:"id"`

	OrgID string `json:"orgId" binding:"required"`
	Name  string `json:"name"`

	TypeID      string `json:"typeId"`
	TypeKey     string `json:"typeKey"`
	TypeVersion int    `json:"typeVersion"`

	Payload model.Payload `json:"payload"`

	// Optional placement under a parent slot.
	ParentID string `json:"parentId"`
	Slot     string `json:"slot"`
	Index    int    `json:"index"`

	Actor string `json:"actor"`
}

// UpdateBlockBody is the request body for PATCH /v1/blocks/:id. Payload
// kind must match the stored block; content data is deep-merged.
type UpdateBlockBody struct {
	Name    string        `json:"name"`
	Payload model.Payload `json:"payload"`
	Actor   string        `json:"actor"`
}

// ArchiveBody is the request body for archive toggles.
type ArchiveBody struct {
	Archived *bool  `json:"archived" binding:"required"`
	Actor    string `json:"actor"`
}

// BlockTypeBody is the request body for creating a block type or
// appending a version. On append, zero-value fields inherit from the
// latest version.
type BlockTypeBody struct {
	OrgID string `json:"orgId"`
	Key   string `json:"key"`
	Name  string `json:"name"`

	// Schema is a JSON Schema draft 2020-12 document.
	Schema json.RawMessage `json:"schema,omitempty"`

	// Display is an opaque render descriptor.
	Display json.RawMessage `json:"display,omitempty"`

	Nesting *model.NestingRule `json:"nesting,omitempty"`

	// Strictness is "SOFT" or "STRICT". Empty means SOFT on create and
	// "inherit" on a version append.
	Strictness string `json:"strictness"`
}

func (b *BlockTypeBody) toRequest() CreateBlockTypeRequest {
	req := CreateBlockTypeRequest{
		OrgID:   b.OrgID,
		Key:     b.Key,
		Name:    b.Name,
		Schema:  b.Schema,
		Display: b.Display,
		Nesting: b.Nesting,
	}
	if b.Strictness != "" {
		strictness := model.ParseStrictness(b.Strictness)
		req.Strictness = &strictness
	}
	return req
}

// TreeResponse wraps an assembled tree read.
type TreeResponse struct {
	Root model.Node `json:"root"`
}

// ActivitiesResponse lists a block's audit entries, oldest first.
type ActivitiesResponse struct {
	Activities []model.Activity `json:"activities"`
}

// BlockTypesResponse lists an organisation's type version rows.
type BlockTypesResponse struct {
	BlockTypes []*model.BlockType `json:"blockTypes"`
}
