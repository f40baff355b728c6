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
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// NewRouter builds the gin engine for the blocks service.
//
// # Description
//
// Wires /health, /metrics, and the /v1 API group. Mutating routes share
// a token-bucket rate limiter; a nil limiter disables limiting (tests).
//
// # Endpoints
//
//	GET   /health
//	GET   /metrics
//	POST  /v1/blocks                    create block
//	PATCH /v1/blocks/:id                update block
//	GET   /v1/blocks/:id/tree           tree read
//	POST  /v1/blocks/:id/archive        archive/unarchive
//	GET   /v1/blocks/:id/activities     audit log
//	POST  /v1/block-types               create type
//	GET   /v1/block-types               list types by org
//	GET   /v1/block-types/:id           one version row
//	PATCH /v1/block-types/:id           append version
//	POST  /v1/block-types/:id/archive   retire a version
//	POST  /v1/layouts/:id/save          versioned save
//	GET   /v1/layouts/:id               layout row
func NewRouter(h *Handlers, log *slog.Logger, limiter *rate.Limiter) *gin.Engine {
	if log == nil {
		log = slog.Default()
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogging(log))

	router.GET("/health", h.HandleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.GET("/blocks/:id/tree", h.HandleBlockTree)
		v1.GET("/blocks/:id/activities", h.HandleListActivities)
		v1.GET("/block-types", h.HandleListBlockTypes)
		v1.GET("/block-types/:id", h.HandleGetBlockType)
		v1.GET("/layouts/:id", h.HandleGetLayout)

		mutating := v1.Group("")
		mutating.Use(rateLimit(limiter))
		{
			mutating.POST("/blocks", h.HandleCreateBlock)
			mutating.PATCH("/blocks/:id", h.HandleUpdateBlock)
			mutating.POST("/blocks/:id/archive", h.HandleArchiveBlock)
			mutating.POST("/block-types", h.HandleCreateBlockType)
			mutating.PATCH("/block-types/:id", h.HandleAppendBlockTypeVersion)
			mutating.POST("/block-types/:id/archive", h.HandleArchiveBlockType)
			mutating.POST("/layouts/:id/save", h.HandleSaveLayout)
		}
	}
	return router
}

// requestLogging logs one line per request with status and duration.
func requestLogging(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// rateLimit sheds mutating load once the shared token bucket is empty.
func rateLimit(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter != nil && !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: "rate limit exceeded",
				Code:  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}
