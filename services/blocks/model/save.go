// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import (
	"encoding/json"
	"time"
)

// Layout is the authoritative row a versioned save targets. Geometry is
// opaque grid data owned by the rendering collaborators; only the version
// protocol around it belongs to this engine.
type Layout struct {
	ID             string          `json:"id"`
	OrgID          string          `json:"orgId,omitempty"`
	Geometry       json.RawMessage `json:"geometry,omitempty"`
	Version        int64           `json:"version"`
	LastModifiedBy string          `json:"lastModifiedBy,omitempty"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// SaveRequest carries a burst of structural edits from a client mirror to
// the authoritative store.
type SaveRequest struct {
	LayoutID string          `json:"layoutId"`
	Layout   json.RawMessage `json:"layout,omitempty"`

	// BaseVersion is the version the client believed was current when it
	// started editing. A mismatch yields a conflict, not an error.
	BaseVersion int64 `json:"baseVersion"`

	Operations []Operation `json:"structuralOperations"`

	// Actor identifies who is saving, recorded on the layout row.
	Actor string `json:"actor,omitempty"`
}

// SaveResponse is the authoritative store's answer to a save. Conflict is
// a first-class value the caller must branch on.
type SaveResponse struct {
	Success        bool   `json:"success"`
	Conflict       bool   `json:"conflict"`
	NewVersion     int64  `json:"newVersion,omitempty"`
	LatestVersion  int64  `json:"latestVersion,omitempty"`
	LastModifiedBy string `json:"lastModifiedBy,omitempty"`
}

// Activity is one audit log entry recorded for a successful block
// create/update/archive.
type Activity struct {
	ID      string    `json:"id"`
	BlockID string    `json:"blockId"`
	Action  string    `json:"action"`
	Actor   string    `json:"actor,omitempty"`
	At      time.Time `json:"at"`
}
