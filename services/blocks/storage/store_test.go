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
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/gridblocks/services/blocks/model"
	badgerstore "github.com/AleutianAI/gridblocks/services/blocks/storage/badger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	s := New(db, nil)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBlockRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	blk := &model.Block{
		ID:      "b1",
		OrgID:   "org1",
		Name:    "hero",
		TypeID:  "t1",
		TypeKey: "text",
		Payload: model.NewContentPayload(map[string]any{"title": "hi"}, nil),
	}
	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		return tx.PutBlock(blk)
	}))

	err := s.View(ctx, func(tx *Tx) error {
		got, err := tx.GetBlock("b1")
		require.NoError(t, err)
		require.Equal(t, "hero", got.Name)
		require.Equal(t, model.KindContent, got.Payload.Kind)
		require.Equal(t, "hi", got.Payload.Content.Data["title"])

		_, err = tx.GetBlock("missing")
		require.ErrorIs(t, err, ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestBlockTypeVersionIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		for v := 1; v <= 3; v++ {
			bt := &model.BlockType{
				ID: "t" + string(rune('0'+v)), OrgID: "org1",
				Key: "text", Version: v, Name: "Text",
			}
			if err := tx.PutBlockType(bt); err != nil {
				return err
			}
		}
		return nil
	}))

	err := s.View(ctx, func(tx *Tx) error {
		byKey, err := tx.GetBlockTypeByKey("text", 2)
		require.NoError(t, err)
		require.Equal(t, 2, byKey.Version)

		latest, err := tx.LatestBlockType("text")
		require.NoError(t, err)
		require.Equal(t, 3, latest.Version)

		_, err = tx.LatestBlockType("nope")
		require.ErrorIs(t, err, ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestSetSlotMaintainsBothSides(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		return tx.SetSlot("p1", "items", []string{"a", "b", "c"})
	}))

	err := s.View(ctx, func(tx *Tx) error {
		ids, err := tx.GetSlot("p1", "items")
		require.NoError(t, err)
		require.Equal(t, []string{"a", "b", "c"}, ids)

		edge, err := tx.GetParentEdge("b")
		require.NoError(t, err)
		require.Equal(t, "p1", edge.ParentID)
		require.Equal(t, "items", edge.Slot)
		require.Equal(t, 1, edge.OrderIndex)
		return nil
	})
	require.NoError(t, err)

	// Shrinking the slot deletes the dropped child's edge row.
	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		return tx.SetSlot("p1", "items", []string{"c", "a"})
	}))
	err = s.View(ctx, func(tx *Tx) error {
		_, err := tx.GetParentEdge("b")
		require.ErrorIs(t, err, ErrNotFound)

		edge, err := tx.GetParentEdge("c")
		require.NoError(t, err)
		require.Equal(t, 0, edge.OrderIndex)
		return nil
	})
	require.NoError(t, err)

	// Emptying the slot removes the list key entirely.
	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		return tx.SetSlot("p1", "items", nil)
	}))
	err = s.View(ctx, func(tx *Tx) error {
		slots, err := tx.ListSlots("p1")
		require.NoError(t, err)
		require.Empty(t, slots)
		return nil
	})
	require.NoError(t, err)
}

func TestSetSlotRejectsBadSlotNames(t *testing.T) {
	s := newTestStore(t)
	err := s.Update(context.Background(), func(tx *Tx) error {
		return tx.SetSlot("p1", "a/b", []string{"x"})
	})
	require.ErrorIs(t, err, ErrInvalidSlot)
}

func TestReferenceEdges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	idx0, idx1 := 0, 1

	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		edges := []model.ReferenceEdge{
			{ID: "r1", ParentBlockID: "p1", EntityType: "client", EntityID: "c1", Path: "$.items[0]", OrderIndex: &idx0},
			{ID: "r2", ParentBlockID: "p1", EntityType: "client", EntityID: "c2", Path: "$.items[1]", OrderIndex: &idx1},
			{ID: "r3", ParentBlockID: "p1", EntityType: "block", EntityID: "b9", Path: "$.link"},
		}
		for i := range edges {
			if err := tx.PutReferenceEdge(&edges[i]); err != nil {
				return err
			}
		}
		return nil
	}))

	err := s.View(ctx, func(tx *Tx) error {
		list, err := tx.ListReferenceEdges("p1", "$.items")
		require.NoError(t, err)
		require.Len(t, list, 2)
		require.Equal(t, "c1", list[0].EntityID)
		require.Equal(t, "c2", list[1].EntityID)

		link, err := tx.GetReferenceEdge("p1", "$.link")
		require.NoError(t, err)
		require.Equal(t, "b9", link.EntityID)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		return tx.DeleteReferenceEdges("p1")
	}))
	err = s.View(ctx, func(tx *Tx) error {
		list, err := tx.ListReferenceEdges("p1", "")
		require.NoError(t, err)
		require.Empty(t, list)
		return nil
	})
	require.NoError(t, err)
}

func TestActivityLogOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		for i, action := range []string{"created", "updated", "archived"} {
			a := model.Activity{BlockID: "b1", Action: action, At: base.Add(time.Duration(i) * time.Minute)}
			if err := tx.AppendActivity(a); err != nil {
				return err
			}
		}
		return nil
	}))

	err := s.View(ctx, func(tx *Tx) error {
		got, err := tx.ListActivities("b1")
		require.NoError(t, err)
		require.Len(t, got, 3)
		require.Equal(t, "created", got[0].Action)
		require.Equal(t, "archived", got[2].Action)
		return nil
	})
	require.NoError(t, err)
}

func TestUpdateRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx *Tx) error {
		if err := tx.PutBlock(&model.Block{ID: "ghost"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = s.View(ctx, func(tx *Tx) error {
		_, err := tx.GetBlock("ghost")
		require.ErrorIs(t, err, ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}
