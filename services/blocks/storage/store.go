// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage is the authoritative store for blocks, block types,
// hierarchy and reference edges, layouts, and the audit activity log.
//
// # Transaction Model
//
// All access goes through View or Update, which run the given function
// inside one BadgerDB transaction. A structural mutation (edge rewrites
// plus the owning rows) is one Update call: either everything commits or
// nothing does, which is where the single-parent, contiguous-ordering,
// and single-link invariants are enforced to hold.
//
// # Key Scheme
//
//	bl/<blockID>                block row
//	bt/<typeID>                 block type version row
//	btk/<key>/<version>         type id index, version zero padded
//	ce/<childID>                child edge, keyed by child (single parent)
//	cs/<parentID>/<slot>        ordered child id list per slot
//	re/<parentID>/<path>        reference edge, path is positional
//	ly/<layoutID>               layout row (geometry + version)
//	ac/<blockID>/<ts>/<id>      activity log entry
//
// Child edges are stored twice: the ce row keyed by child id answers
// "who is my parent" in one read (and makes the single-parent invariant
// a key constraint), the cs list keeps slot order contiguous by
// construction. SetSlot maintains both sides in the same transaction.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/gridblocks/services/blocks/model"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidSlot is returned for slot names that would break the key
	// scheme (empty or containing "/").
	ErrInvalidSlot = errors.New("invalid slot name")
)

// Store wraps the BadgerDB instance with typed transactional access.
type Store struct {
	db     *badgerdb.DB
	logger *slog.Logger
}

// New creates a store over an opened BadgerDB instance.
func New(db *badgerdb.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(*Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badgerdb.Txn) error {
		return fn(&Tx{txn: txn})
	})
}

// Update runs fn in a read-write transaction. Returning an error from fn
// discards every write made inside it.
func (s *Store) Update(ctx context.Context, fn func(*Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return fn(&Tx{txn: txn})
	})
}

// Tx is one open transaction with typed row access.
type Tx struct {
	txn *badgerdb.Txn
}

// =============================================================================
// Low-level helpers
// =============================================================================

func (t *Tx) getJSON(key []byte, out any) error {
	item, err := t.txn.Get(key)
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func (t *Tx) setJSON(key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.txn.Set(key, raw)
}

func (t *Tx) delete(key []byte) error {
	return t.txn.Delete(key)
}

// iterate walks all keys under prefix in lexicographic order.
func (t *Tx) iterate(prefix []byte, fn func(key string, val []byte) error) error {
	opts := badgerdb.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		key := string(item.Key())
		err := item.Value(func(val []byte) error {
			return fn(key, val)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Blocks
// =============================================================================

// GetBlock loads a block row.
func (t *Tx) GetBlock(id string) (*model.Block, error) {
	var b model.Block
	if err := t.getJSON(blockKey(id), &b); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("block %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &b, nil
}

// PutBlock writes a block row.
func (t *Tx) PutBlock(b *model.Block) error {
	return t.setJSON(blockKey(b.ID), b)
}

// DeleteBlock removes a block row. Edge cleanup is the caller's job.
func (t *Tx) DeleteBlock(id string) error {
	return t.delete(blockKey(id))
}

// =============================================================================
// Block types
// =============================================================================

// GetBlockType loads one type version row by id.
func (t *Tx) GetBlockType(id string) (*model.BlockType, error) {
	var bt model.BlockType
	if err := t.getJSON(blockTypeKey(id), &bt); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("block type %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &bt, nil
}

// GetBlockTypeByKey loads one type version row by (key, version).
func (t *Tx) GetBlockTypeByKey(key string, version int) (*model.BlockType, error) {
	var id string
	if err := t.getJSON(typeByKeyKey(key, version), &id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("block type %s@%d: %w", key, version, ErrNotFound)
		}
		return nil, err
	}
	return t.GetBlockType(id)
}

// LatestBlockType loads the highest version row for a key.
func (t *Tx) LatestBlockType(key string) (*model.BlockType, error) {
	var lastID string
	err := t.iterate(typeByKeyPrefix(key), func(_ string, val []byte) error {
		return json.Unmarshal(val, &lastID)
	})
	if err != nil {
		return nil, err
	}
	if lastID == "" {
		return nil, fmt.Errorf("block type %s: %w", key, ErrNotFound)
	}
	return t.GetBlockType(lastID)
}

// PutBlockType writes a type version row and its key index entry.
func (t *Tx) PutBlockType(bt *model.BlockType) error {
	if err := t.setJSON(blockTypeKey(bt.ID), bt); err != nil {
		return err
	}
	return t.setJSON(typeByKeyKey(bt.Key, bt.Version), bt.ID)
}

// ListBlockTypes returns every type version row scoped to an org.
func (t *Tx) ListBlockTypes(orgID string) ([]*model.BlockType, error) {
	var out []*model.BlockType
	err := t.iterate([]byte(prefixBlockType), func(_ string, val []byte) error {
		var bt model.BlockType
		if err := json.Unmarshal(val, &bt); err != nil {
			return err
		}
		if orgID == "" || bt.OrgID == orgID {
			out = append(out, &bt)
		}
		return nil
	})
	return out, err
}
