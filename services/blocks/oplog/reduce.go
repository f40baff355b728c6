// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package oplog reduces a burst of structural operations into the minimal
// order-correct set to persist.
//
// # Description
//
// The reducer collapses an unordered list of per-block operations before a
// save is applied. It is pure and insensitive to input order: only block
// ids and timestamps determine the result. The same accounting runs in the
// client mirror before a save and in the authoritative store on receipt,
// so both sides agree on what a burst of edits means.
//
// # Reduction Rules
//
// Per block:
//
//  1. ADD and REMOVE both present: the block never existed from the
//     persistence layer's point of view; the group reduces to empty.
//  2. REMOVE present (no ADD): only the REMOVE survives; a removed
//     block's history is irrelevant.
//  3. ADD present: the latest ADD comes first, followed by the latest
//     instance of each other operation type, timestamp ordered.
//     Operations older than the kept ADD are dropped.
//  4. Otherwise: the latest instance of each operation type, timestamp
//     ordered.
//
// Note on rule 3: when several ADDs exist for one block only the latest
// is kept, discarding earlier payloads. Earlier ADDs are placeholder
// records the editor replaces once the block's real payload is known, so
// the drop is intentional.
package oplog

import (
	"sort"

	"github.com/AleutianAI/gridblocks/services/blocks/model"
)

// Reduce groups operations by block id and reduces each group.
//
// Blocks whose group reduces to empty are omitted from the returned map.
func Reduce(ops []model.Operation) map[string][]model.Operation {
	byBlock := make(map[string][]model.Operation)
	for _, op := range ops {
		byBlock[op.BlockID] = append(byBlock[op.BlockID], op)
	}

	out := make(map[string][]model.Operation, len(byBlock))
	for id, group := range byBlock {
		reduced := reduceBlockOps(group)
		if len(reduced) > 0 {
			out[id] = reduced
		}
	}
	return out
}

// Flatten orders a reduced map into a single apply list. Operations are
// sorted by timestamp so a parent added in a burst is applied before the
// children added under it, with block id as the tie-break for
// determinism. Each block's operations keep their reduced order: the
// reducer emits them with non-decreasing timestamps, so a stable sort
// never reorders within a block.
func Flatten(reduced map[string][]model.Operation) []model.Operation {
	var out []model.Operation
	for _, ops := range reduced {
		out = append(out, ops...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].BlockID < out[j].BlockID
	})
	return out
}

// reduceBlockOps applies the reduction rules to one block's operations.
func reduceBlockOps(group []model.Operation) []model.Operation {
	var (
		hasAdd, hasRemove bool
		latestAdd         model.Operation
		latestRemove      model.Operation
	)
	latest := make(map[model.OpType]model.Operation)

	for _, op := range group {
		switch op.Type {
		case model.OpAdd:
			if !hasAdd || op.Timestamp.After(latestAdd.Timestamp) {
				latestAdd = op
			}
			hasAdd = true
		case model.OpRemove:
			if !hasRemove || op.Timestamp.After(latestRemove.Timestamp) {
				latestRemove = op
			}
			hasRemove = true
		default:
			if prev, ok := latest[op.Type]; !ok || op.Timestamp.After(prev.Timestamp) {
				latest[op.Type] = op
			}
		}
	}

	switch {
	case hasAdd && hasRemove:
		return nil
	case hasRemove:
		return []model.Operation{latestRemove}
	}

	rest := make([]model.Operation, 0, len(latest))
	for _, op := range latest {
		if hasAdd && op.Timestamp.Before(latestAdd.Timestamp) {
			continue
		}
		rest = append(rest, op)
	}
	sort.Slice(rest, func(i, j int) bool {
		return rest[i].Timestamp.Before(rest[j].Timestamp)
	})

	if hasAdd {
		return append([]model.Operation{latestAdd}, rest...)
	}
	return rest
}
