// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package schema validates content payload data against a block type's
// JSON Schema document.
//
// Validation produces field-level violations. Whether violations block a
// write (STRICT) or are recorded as warnings on the saved block (SOFT) is
// decided by the caller from the block type's strictness; this package
// only reports them.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrBadSchema is returned when a block type's schema document itself
// does not compile.
var ErrBadSchema = errors.New("schema does not compile")

// Violation is one field-level schema failure.
type Violation struct {
	// Field is the instance location, "$" rooted ("$.nested.x").
	Field string `json:"field"`

	Message string `json:"message"`
}

func (v Violation) String() string {
	return v.Field + ": " + v.Message
}

// ValidationError carries every violation of a strict validation run.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.String()
	}
	return "schema validation failed: " + strings.Join(msgs, "; ")
}

// Compile checks that a schema document is a valid JSON Schema. An empty
// document is valid and matches everything.
func Compile(doc []byte) error {
	if len(doc) == 0 {
		return nil
	}
	_, err := compile(doc)
	return err
}

// Validate checks data against the schema document and returns the
// violations found. A nil error with no violations means the data is
// valid. A non-nil error means the schema itself is unusable.
func Validate(doc []byte, data map[string]any) ([]Violation, error) {
	if len(doc) == 0 {
		return nil, nil
	}
	compiled, err := compile(doc)
	if err != nil {
		return nil, err
	}

	// jsonschema validates json.Unmarshal-shaped values only, so data
	// built in Go (int, struct values) is round-tripped first.
	instance, err := normalize(data)
	if err != nil {
		return nil, err
	}

	err = compiled.Validate(instance)
	if err == nil {
		return nil, nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return nil, err
	}
	return flatten(ve), nil
}

func compile(doc []byte) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource("blocktype.json", bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSchema, err)
	}
	compiled, err := compiler.Compile("blocktype.json")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSchema, err)
	}
	return compiled, nil
}

// flatten walks the cause tree and keeps the leaf violations, which carry
// the specific field locations.
func flatten(ve *jsonschema.ValidationError) []Violation {
	if len(ve.Causes) == 0 {
		return []Violation{{
			Field:   instancePath(ve.InstanceLocation),
			Message: ve.Message,
		}}
	}
	var out []Violation
	for _, cause := range ve.Causes {
		out = append(out, flatten(cause)...)
	}
	return out
}

// instancePath converts a JSON pointer ("/nested/x") to a "$" rooted
// dotted path ("$.nested.x").
func instancePath(ptr string) string {
	if ptr == "" || ptr == "/" {
		return "$"
	}
	return "$." + strings.ReplaceAll(strings.TrimPrefix(ptr, "/"), "/", ".")
}

// normalize round-trips data through encoding/json so values carry the
// types jsonschema expects (float64, string, bool, nil, []any, map).
func normalize(data map[string]any) (any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("payload data is not json-encodable: %w", err)
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, err
	}
	return instance, nil
}
