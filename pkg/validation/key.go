// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for user-provided
// identifiers that end up inside database keys.
//
// Block type keys and entity type names are embedded in prefix-scanned
// store keys, so a stray "/" or control character would corrupt the key
// scheme. Validate them at the boundary instead of trusting callers.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidKey is wrapped by every validation failure in this package.
var ErrInvalidKey = errors.New("invalid key")

// keyPattern matches valid type keys and entity type names.
// Allows: lowercase letters, digits, hyphens and underscores between them.
// Max length: 64 characters.
var keyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_\-]{0,63}$`)

// ValidateTypeKey validates a block type key before it is embedded in
// store keys.
//
// Valid keys:
//   - 1-64 characters
//   - lowercase letters a-z and digits 0-9
//   - hyphens and underscores after the first character
//
// Example:
//
//	if err := validation.ValidateTypeKey(key); err != nil {
//	    return nil, err
//	}
//	// Safe to use in a btk/<key>/<version> store key
func ValidateTypeKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: type key cannot be empty", ErrInvalidKey)
	}
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: type key %q (must be 1-64 lowercase alphanumeric chars, hyphens, or underscores)", ErrInvalidKey, key)
	}
	return nil
}

// ValidateEntityType validates a reference entity type name. Same
// character set as type keys.
func ValidateEntityType(entityType string) error {
	if entityType == "" {
		return fmt.Errorf("%w: entity type cannot be empty", ErrInvalidKey)
	}
	if !keyPattern.MatchString(entityType) {
		return fmt.Errorf("%w: entity type %q (must be 1-64 lowercase alphanumeric chars, hyphens, or underscores)", ErrInvalidKey, entityType)
	}
	return nil
}

// SanitizeTypeKey normalizes and validates a type key.
// Returns the lowercase key if valid, or an error if invalid.
func SanitizeTypeKey(key string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if err := ValidateTypeKey(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
