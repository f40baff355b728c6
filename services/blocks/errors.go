// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package blocks orchestrates the block hierarchy and reference engine:
// schema-validated block writes, recursive tree assembly, versioned
// layout saves, and the HTTP surface in front of them.
package blocks

import "errors"

// Sentinel errors for block service operations.
var (
	// ErrTypeArchived is returned when a create names an archived block
	// type.
	ErrTypeArchived = errors.New("block type is archived")

	// ErrPayloadKindChange is returned when an update's payload kind
	// differs from the stored kind. A block's kind is fixed at creation.
	ErrPayloadKindChange = errors.New("payload kind cannot change on update")

	// ErrMissingType is returned when a create names neither a type id
	// nor a type key.
	ErrMissingType = errors.New("block type id or key is required")
)
