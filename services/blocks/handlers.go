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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/gridblocks/pkg/validation"
	"github.com/AleutianAI/gridblocks/services/blocks/hierarchy"
	"github.com/AleutianAI/gridblocks/services/blocks/model"
	"github.com/AleutianAI/gridblocks/services/blocks/reference"
	"github.com/AleutianAI/gridblocks/services/blocks/schema"
	"github.com/AleutianAI/gridblocks/services/blocks/storage"
)

// Handlers contains the HTTP handlers for the blocks service.
type Handlers struct {
	svc *Service
	log *slog.Logger
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{svc: svc, log: log}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "gridblocks",
		"version": ServiceVersion,
	})
}

// HandleCreateBlock handles POST /v1/blocks.
//
// Response:
//
//	201 Created: the persisted block
//	400 Bad Request: malformed body or payload
//	409 Conflict: hierarchy invariant violation
//	422 Unprocessable Entity: STRICT schema violations
func (h *Handlers) HandleCreateBlock(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCreateBlock")

	var body CreateBlockBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, logger, err)
		return
	}

	blk, err := h.svc.CreateBlock(c.Request.Context(), CreateBlockRequest{
		ID:          body.ID,
		OrgID:       body.OrgID,
		Name:        body.Name,
		TypeID:      body.TypeID,
		TypeKey:     body.TypeKey,
		TypeVersion: body.TypeVersion,
		Payload:     body.Payload,
		ParentID:    body.ParentID,
		Slot:        body.Slot,
		Index:       body.Index,
		Actor:       body.Actor,
	})
	if err != nil {
		h.respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusCreated, blk)
}

// HandleUpdateBlock handles PATCH /v1/blocks/:id.
func (h *Handlers) HandleUpdateBlock(c *gin.Context) {
	logger := h.requestLogger(c, "HandleUpdateBlock")

	var body UpdateBlockBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, logger, err)
		return
	}

	blk, err := h.svc.UpdateBlock(c.Request.Context(), UpdateBlockRequest{
		ID:      c.Param("id"),
		Name:    body.Name,
		Payload: body.Payload,
		Actor:   body.Actor,
	})
	if err != nil {
		h.respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, blk)
}

// HandleBlockTree handles GET /v1/blocks/:id/tree.
//
// Resolution warnings (missing entities, unresolvable types, cycles)
// are tags inside the tree, never errors; a partially resolved tree is
// a 200.
func (h *Handlers) HandleBlockTree(c *gin.Context) {
	logger := h.requestLogger(c, "HandleBlockTree")

	node, err := h.svc.GetBlock(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, TreeResponse{Root: node})
}

// HandleArchiveBlock handles POST /v1/blocks/:id/archive.
func (h *Handlers) HandleArchiveBlock(c *gin.Context) {
	logger := h.requestLogger(c, "HandleArchiveBlock")

	var body ArchiveBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, logger, err)
		return
	}

	blk, err := h.svc.ArchiveBlock(c.Request.Context(), c.Param("id"), *body.Archived, body.Actor)
	if err != nil {
		h.respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, blk)
}

// HandleListActivities handles GET /v1/blocks/:id/activities.
func (h *Handlers) HandleListActivities(c *gin.Context) {
	logger := h.requestLogger(c, "HandleListActivities")

	acts, err := h.svc.ListActivities(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, ActivitiesResponse{Activities: acts})
}

// HandleCreateBlockType handles POST /v1/block-types.
func (h *Handlers) HandleCreateBlockType(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCreateBlockType")

	var body BlockTypeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, logger, err)
		return
	}
	if body.OrgID == "" || body.Key == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "orgId and key are required",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	key, err := validation.SanitizeTypeKey(body.Key)
	if err != nil {
		h.respondError(c, logger, err)
		return
	}
	body.Key = key

	bt, err := h.svc.CreateBlockType(c.Request.Context(), body.toRequest())
	if err != nil {
		h.respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusCreated, bt)
}

// HandleAppendBlockTypeVersion handles PATCH /v1/block-types/:id. The
// id names any existing version row; the append lands under that row's
// key.
func (h *Handlers) HandleAppendBlockTypeVersion(c *gin.Context) {
	logger := h.requestLogger(c, "HandleAppendBlockTypeVersion")

	var body BlockTypeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, logger, err)
		return
	}

	existing, err := h.svc.GetBlockType(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, logger, err)
		return
	}
	bt, err := h.svc.AppendBlockTypeVersion(c.Request.Context(), existing.Key, body.toRequest())
	if err != nil {
		h.respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, bt)
}

// HandleGetBlockType handles GET /v1/block-types/:id.
func (h *Handlers) HandleGetBlockType(c *gin.Context) {
	logger := h.requestLogger(c, "HandleGetBlockType")

	bt, err := h.svc.GetBlockType(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, bt)
}

// HandleListBlockTypes handles GET /v1/block-types?org=<id>.
func (h *Handlers) HandleListBlockTypes(c *gin.Context) {
	logger := h.requestLogger(c, "HandleListBlockTypes")

	org := c.Query("org")
	if org == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "org query parameter is required",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	types, err := h.svc.ListBlockTypes(c.Request.Context(), org)
	if err != nil {
		h.respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, BlockTypesResponse{BlockTypes: types})
}

// HandleArchiveBlockType handles POST /v1/block-types/:id/archive.
func (h *Handlers) HandleArchiveBlockType(c *gin.Context) {
	logger := h.requestLogger(c, "HandleArchiveBlockType")

	var body ArchiveBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, logger, err)
		return
	}
	bt, err := h.svc.ArchiveBlockType(c.Request.Context(), c.Param("id"), *body.Archived)
	if err != nil {
		h.respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, bt)
}

// HandleSaveLayout handles POST /v1/layouts/:id/save.
//
// A version conflict is a 200 with conflict=true, not an error status:
// the caller must branch on the response value.
func (h *Handlers) HandleSaveLayout(c *gin.Context) {
	logger := h.requestLogger(c, "HandleSaveLayout")

	var req model.SaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, logger, err)
		return
	}
	req.LayoutID = c.Param("id")

	resp, err := h.svc.SaveLayout(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleGetLayout handles GET /v1/layouts/:id.
func (h *Handlers) HandleGetLayout(c *gin.Context) {
	logger := h.requestLogger(c, "HandleGetLayout")

	layout, err := h.svc.GetLayout(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, layout)
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	return h.log.With("request_id", getOrCreateRequestID(c), "handler", handler)
}

func (h *Handlers) badRequest(c *gin.Context, logger *slog.Logger, err error) {
	logger.Warn("invalid request body", "error", err)
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: "Invalid request body",
		Code:  "INVALID_REQUEST",
	})
}

// respondError maps service errors onto the taxonomy: schema validation
// 422, invariant violations 409, malformed input 400, missing rows 404,
// everything else 500.
func (h *Handlers) respondError(c *gin.Context, logger *slog.Logger, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL"
	var violations []schema.Violation

	var ve *schema.ValidationError
	switch {
	case errors.As(err, &ve):
		status = http.StatusUnprocessableEntity
		code = "SCHEMA_VALIDATION"
		violations = ve.Violations

	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, hierarchy.ErrChildNotInSlot):
		status = http.StatusNotFound
		code = "NOT_FOUND"

	case errors.Is(err, hierarchy.ErrAlreadyChild),
		errors.Is(err, hierarchy.ErrOrgMismatch),
		errors.Is(err, hierarchy.ErrTypeNotAllowed),
		errors.Is(err, hierarchy.ErrSlotFull),
		errors.Is(err, hierarchy.ErrCycle),
		errors.Is(err, hierarchy.ErrDuplicateChild),
		errors.Is(err, reference.ErrDuplicateEntity),
		errors.Is(err, reference.ErrAmbiguousLink),
		errors.Is(err, ErrPayloadKindChange),
		errors.Is(err, ErrTypeArchived),
		errors.Is(err, ErrTypeKeyTaken):
		status = http.StatusConflict
		code = "INVARIANT_VIOLATION"

	case errors.Is(err, model.ErrMixedPayload),
		errors.Is(err, reference.ErrBlockInList),
		errors.Is(err, reference.ErrNotBlockLink),
		errors.Is(err, storage.ErrInvalidSlot),
		errors.Is(err, schema.ErrBadSchema),
		errors.Is(err, ErrMissingType),
		errors.Is(err, ErrBadOperation),
		errors.Is(err, validation.ErrInvalidKey):
		status = http.StatusBadRequest
		code = "INVALID_REQUEST"
	}

	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	} else {
		logger.Warn("request rejected", "status", status, "error", err)
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code, Violations: violations})
}

func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
