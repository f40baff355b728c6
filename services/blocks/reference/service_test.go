// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reference

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/gridblocks/pkg/validation"
	"github.com/AleutianAI/gridblocks/services/blocks/model"
	"github.com/AleutianAI/gridblocks/services/blocks/storage"
	badgerstore "github.com/AleutianAI/gridblocks/services/blocks/storage/badger"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	s := storage.New(db, nil)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mapResolver(entities map[string]any) Resolver {
	return ResolverFunc(func(_ context.Context, _ string, ids []string) (map[string]any, error) {
		out := make(map[string]any)
		for _, id := range ids {
			if e, ok := entities[id]; ok {
				out[id] = e
			}
		}
		return out, nil
	})
}

func testBlock(id string) *model.Block {
	return &model.Block{ID: id, OrgID: "org1"}
}

func listPayload(items ...string) *model.ReferenceListPayload {
	return &model.ReferenceListPayload{EntityType: "client", Items: items}
}

func TestUpsertLinksFor_DeltaRewrite(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(NewRegistry(), nil)
	ctx := context.Background()
	blk := testBlock("b1")

	require.NoError(t, store.Update(ctx, func(tx *storage.Tx) error {
		return svc.UpsertLinksFor(tx, blk, listPayload("client1", "client2"))
	}))

	var originalIDs []string
	require.NoError(t, store.View(ctx, func(tx *storage.Tx) error {
		rows, err := tx.ListReferenceEdges("b1", "$.items")
		require.NoError(t, err)
		require.Len(t, rows, 2)
		require.Equal(t, "client1", rows[0].EntityID)
		require.Equal(t, "$.items[0]", rows[0].Path)
		for _, r := range rows {
			originalIDs = append(originalIDs, r.ID)
		}
		return nil
	}))

	// client2's path changes, so both original rows are replaced.
	require.NoError(t, store.Update(ctx, func(tx *storage.Tx) error {
		return svc.UpsertLinksFor(tx, blk, listPayload("client2", "client3"))
	}))

	require.NoError(t, store.View(ctx, func(tx *storage.Tx) error {
		rows, err := tx.ListReferenceEdges("b1", "$.items")
		require.NoError(t, err)
		require.Len(t, rows, 2)
		require.Equal(t, "client2", rows[0].EntityID)
		require.Equal(t, "$.items[0]", rows[0].Path)
		require.Equal(t, "client3", rows[1].EntityID)
		require.Equal(t, "$.items[1]", rows[1].Path)
		for _, r := range rows {
			require.NotContains(t, originalIDs, r.ID)
		}
		return nil
	}))
}

func TestUpsertLinksFor_UnchangedRowsAreKept(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(NewRegistry(), nil)
	ctx := context.Background()
	blk := testBlock("b1")

	require.NoError(t, store.Update(ctx, func(tx *storage.Tx) error {
		return svc.UpsertLinksFor(tx, blk, listPayload("c1", "c2"))
	}))
	var keptID string
	require.NoError(t, store.View(ctx, func(tx *storage.Tx) error {
		rows, err := tx.ListReferenceEdges("b1", "$.items")
		require.NoError(t, err)
		keptID = rows[0].ID
		return nil
	}))

	// c1 stays at position 0; only the tail changes.
	require.NoError(t, store.Update(ctx, func(tx *storage.Tx) error {
		return svc.UpsertLinksFor(tx, blk, listPayload("c1", "c3"))
	}))
	require.NoError(t, store.View(ctx, func(tx *storage.Tx) error {
		rows, err := tx.ListReferenceEdges("b1", "$.items")
		require.NoError(t, err)
		require.Len(t, rows, 2)
		require.Equal(t, keptID, rows[0].ID)
		require.Equal(t, "c3", rows[1].EntityID)
		return nil
	}))
}

func TestUpsertLinksFor_ShrinkingDeletesTail(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(NewRegistry(), nil)
	ctx := context.Background()
	blk := testBlock("b1")

	require.NoError(t, store.Update(ctx, func(tx *storage.Tx) error {
		return svc.UpsertLinksFor(tx, blk, listPayload("c1", "c2", "c3"))
	}))
	require.NoError(t, store.Update(ctx, func(tx *storage.Tx) error {
		return svc.UpsertLinksFor(tx, blk, listPayload("c1"))
	}))
	require.NoError(t, store.View(ctx, func(tx *storage.Tx) error {
		rows, err := tx.ListReferenceEdges("b1", "$.items")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		require.Equal(t, "c1", rows[0].EntityID)
		return nil
	}))
}

func TestUpsertLinksFor_Rejections(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(NewRegistry(), nil)
	ctx := context.Background()

	t.Run("duplicates disallowed", func(t *testing.T) {
		err := store.Update(ctx, func(tx *storage.Tx) error {
			return svc.UpsertLinksFor(tx, testBlock("b1"), listPayload("c1", "c1"))
		})
		require.ErrorIs(t, err, ErrDuplicateEntity)
	})

	t.Run("duplicates allowed when opted in", func(t *testing.T) {
		list := &model.ReferenceListPayload{
			EntityType: "client", Items: []string{"c1", "c1"}, AllowDuplicates: true,
		}
		err := store.Update(ctx, func(tx *storage.Tx) error {
			return svc.UpsertLinksFor(tx, testBlock("b2"), list)
		})
		require.NoError(t, err)
	})

	t.Run("block entities rejected in lists", func(t *testing.T) {
		list := &model.ReferenceListPayload{EntityType: model.EntityTypeBlock, Items: []string{"x"}}
		err := store.Update(ctx, func(tx *storage.Tx) error {
			return svc.UpsertLinksFor(tx, testBlock("b3"), list)
		})
		require.ErrorIs(t, err, ErrBlockInList)
	})

	t.Run("malformed entity type rejected", func(t *testing.T) {
		for _, entityType := range []string{"Client", "a/b", ""} {
			list := &model.ReferenceListPayload{EntityType: entityType, Items: []string{"c1"}}
			err := store.Update(ctx, func(tx *storage.Tx) error {
				return svc.UpsertLinksFor(tx, testBlock("b4"), list)
			})
			require.ErrorIs(t, err, validation.ErrInvalidKey, "entity type %q", entityType)
		}
	})
}

func TestFindListReferences_Tags(t *testing.T) {
	store := newTestStore(t)
	registry := NewRegistry()
	registry.Register("client", mapResolver(map[string]any{
		"c1": map[string]any{"name": "Acme"},
	}))
	svc := NewService(registry, nil)
	ctx := context.Background()
	blk := testBlock("b1")

	require.NoError(t, store.Update(ctx, func(tx *storage.Tx) error {
		return svc.UpsertLinksFor(tx, blk, listPayload("c1", "c2"))
	}))

	t.Run("eager resolves and tags missing entities", func(t *testing.T) {
		require.NoError(t, store.View(ctx, func(tx *storage.Tx) error {
			refs, err := svc.FindListReferences(ctx, tx, "b1", listPayload("c1", "c2", "c9"))
			require.NoError(t, err)
			require.Len(t, refs, 3)

			require.Equal(t, model.TagOK, refs[0].Tag)
			require.NotNil(t, refs[0].Entity)

			// c2 has a row but the resolver does not know it.
			require.Equal(t, model.TagMissing, refs[1].Tag)

			// c9 has no row at all.
			require.Equal(t, model.TagMissing, refs[2].Tag)
			return nil
		}))
	})

	t.Run("lazy returns identity only", func(t *testing.T) {
		lazy := &model.ReferenceListPayload{
			EntityType: "client", Items: []string{"c1"}, FetchPolicy: model.FetchLazy,
		}
		require.NoError(t, store.View(ctx, func(tx *storage.Tx) error {
			refs, err := svc.FindListReferences(ctx, tx, "b1", lazy)
			require.NoError(t, err)
			require.Equal(t, model.TagRequiresLoading, refs[0].Tag)
			require.Nil(t, refs[0].Entity)
			return nil
		}))
	})

	t.Run("unregistered type degrades to unsupported", func(t *testing.T) {
		bare := NewService(NewRegistry(), nil)
		require.NoError(t, store.View(ctx, func(tx *storage.Tx) error {
			refs, err := bare.FindListReferences(ctx, tx, "b1", listPayload("c1"))
			require.NoError(t, err)
			require.Equal(t, model.TagUnsupported, refs[0].Tag)
			return nil
		}))
	})
}

func TestBlockLink(t *testing.T) {
	store := newTestStore(t)
	registry := NewRegistry()
	registry.Register(model.EntityTypeBlock, mapResolver(map[string]any{
		"target1": map[string]any{"id": "target1"},
		"target2": map[string]any{"id": "target2"},
	}))
	svc := NewService(registry, nil)
	ctx := context.Background()
	blk := testBlock("b1")

	link := &model.ReferenceLinkPayload{EntityType: model.EntityTypeBlock, TargetID: "target1"}
	require.NoError(t, store.Update(ctx, func(tx *storage.Tx) error {
		return svc.UpsertBlockLinkFor(tx, blk, link)
	}))

	// Retargeting updates the single row in place.
	var rowID string
	require.NoError(t, store.View(ctx, func(tx *storage.Tx) error {
		row, err := tx.GetReferenceEdge("b1", "$.link")
		require.NoError(t, err)
		rowID = row.ID
		return nil
	}))
	retarget := &model.ReferenceLinkPayload{EntityType: model.EntityTypeBlock, TargetID: "target2"}
	require.NoError(t, store.Update(ctx, func(tx *storage.Tx) error {
		return svc.UpsertBlockLinkFor(tx, blk, retarget)
	}))
	require.NoError(t, store.View(ctx, func(tx *storage.Tx) error {
		row, err := tx.GetReferenceEdge("b1", "$.link")
		require.NoError(t, err)
		require.Equal(t, rowID, row.ID)
		require.Equal(t, "target2", row.EntityID)
		return nil
	}))

	require.NoError(t, store.View(ctx, func(tx *storage.Tx) error {
		ref, err := svc.FindBlockLink(ctx, tx, "b1", retarget)
		require.NoError(t, err)
		require.Equal(t, model.TagOK, ref.Tag)
		require.NotNil(t, ref.Entity)
		return nil
	}))

	t.Run("non-block target rejected", func(t *testing.T) {
		bad := &model.ReferenceLinkPayload{EntityType: "client", TargetID: "c1"}
		err := store.Update(ctx, func(tx *storage.Tx) error {
			return svc.UpsertBlockLinkFor(tx, blk, bad)
		})
		require.ErrorIs(t, err, ErrNotBlockLink)
	})

	t.Run("missing row tags missing", func(t *testing.T) {
		require.NoError(t, store.View(ctx, func(tx *storage.Tx) error {
			ref, err := svc.FindBlockLink(ctx, tx, "unlinked", retarget)
			require.NoError(t, err)
			require.Equal(t, model.TagMissing, ref.Tag)
			return nil
		}))
	})
}

func TestRegistryBatchedResolve(t *testing.T) {
	registry := NewRegistry()
	var calls atomic.Int32
	var oversized atomic.Int32
	registry.Register("client", ResolverFunc(func(_ context.Context, _ string, ids []string) (map[string]any, error) {
		calls.Add(1)
		if len(ids) > fetchBatchSize {
			oversized.Add(1)
		}
		out := make(map[string]any, len(ids))
		for _, id := range ids {
			out[id] = id
		}
		return out, nil
	}))

	ids := make([]string, 250)
	for i := range ids {
		ids[i] = "c" + string(rune('a'+i%26)) + string(rune('0'+i/26))
	}
	got, err := registry.Resolve(context.Background(), "client", ids)
	require.NoError(t, err)
	require.GreaterOrEqual(t, calls.Load(), int32(3))
	require.Zero(t, oversized.Load())
	require.Len(t, got, len(unique(ids)))
}

func unique(ids []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
