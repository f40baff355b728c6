// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/gridblocks/services/blocks/model"
)

// GetLayout loads a layout row.
func (t *Tx) GetLayout(id string) (*model.Layout, error) {
	var l model.Layout
	if err := t.getJSON(layoutKey(id), &l); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("layout %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &l, nil
}

// PutLayout writes a layout row.
func (t *Tx) PutLayout(l *model.Layout) error {
	return t.setJSON(layoutKey(l.ID), l)
}

// AppendActivity writes one audit log entry. The key embeds the entry
// timestamp so a prefix scan returns entries in time order.
func (t *Tx) AppendActivity(a model.Activity) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}
	// Fixed-width stamp so lexicographic key order is time order
	// (RFC3339Nano trims trailing zeros and would not sort stably).
	stamp := a.At.UTC().Format("2006-01-02T15:04:05.000000000Z")
	return t.setJSON(activityKey(a.BlockID, stamp, a.ID), a)
}

// ListActivities returns a block's audit entries, oldest first.
func (t *Tx) ListActivities(blockID string) ([]model.Activity, error) {
	var out []model.Activity
	err := t.iterate(activityPrefix(blockID), func(_ string, val []byte) error {
		var a model.Activity
		if err := json.Unmarshal(val, &a); err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

// DeleteActivities removes a block's audit entries. Used when a block is
// cancelled out by the reducer before ever being persisted elsewhere.
func (t *Tx) DeleteActivities(blockID string) error {
	var keys []string
	err := t.iterate(activityPrefix(blockID), func(key string, _ []byte) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := t.delete([]byte(key)); err != nil {
			return err
		}
	}
	return nil
}
