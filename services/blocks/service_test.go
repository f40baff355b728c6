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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/gridblocks/pkg/validation"
	"github.com/AleutianAI/gridblocks/services/blocks/hierarchy"
	"github.com/AleutianAI/gridblocks/services/blocks/model"
	"github.com/AleutianAI/gridblocks/services/blocks/reference"
	"github.com/AleutianAI/gridblocks/services/blocks/schema"
	"github.com/AleutianAI/gridblocks/services/blocks/storage"
	badgerstore "github.com/AleutianAI/gridblocks/services/blocks/storage/badger"
)

var articleSchema = []byte(`{
	"type": "object",
	"required": ["title"],
	"properties": {
		"title": {"type": "string"},
		"wordCount": {"type": "integer"}
	}
}`)

type fixture struct {
	svc   *Service
	store *storage.Store
	ctx   context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	store := storage.New(db, nil)
	t.Cleanup(func() { _ = store.Close() })

	registry := reference.NewRegistry()
	registry.Register("client", reference.ResolverFunc(
		func(_ context.Context, _ string, ids []string) (map[string]any, error) {
			out := make(map[string]any, len(ids))
			for _, id := range ids {
				out[id] = map[string]any{"id": id, "name": "Client " + id}
			}
			return out, nil
		}))

	svc := NewService(store, hierarchy.NewService(nil), reference.NewService(registry, nil), nil)
	return &fixture{svc: svc, store: store, ctx: context.Background()}
}

// mustType registers a block type and returns it.
func (f *fixture) mustType(t *testing.T, key string, strictness model.Strictness, doc []byte, nesting *model.NestingRule) *model.BlockType {
	t.Helper()
	bt, err := f.svc.CreateBlockType(f.ctx, CreateBlockTypeRequest{
		OrgID:      "org1",
		Key:        key,
		Name:       key,
		Schema:     doc,
		Nesting:    nesting,
		Strictness: &strictness,
	})
	require.NoError(t, err)
	return bt
}

func (f *fixture) mustBlock(t *testing.T, req CreateBlockRequest) *model.Block {
	t.Helper()
	if req.OrgID == "" {
		req.OrgID = "org1"
	}
	blk, err := f.svc.CreateBlock(f.ctx, req)
	require.NoError(t, err)
	return blk
}

func TestCreateBlock_Content(t *testing.T) {
	f := newFixture(t)
	f.mustType(t, "article", model.StrictnessStrict, articleSchema, nil)

	blk := f.mustBlock(t, CreateBlockRequest{
		Name:    "intro",
		TypeKey: "article",
		Payload: model.NewContentPayload(map[string]any{"title": "Hello"}, nil),
		Actor:   "alice",
	})
	require.NotEmpty(t, blk.ID)
	require.Empty(t, blk.Warnings)
	require.Equal(t, "article", blk.TypeKey)

	acts, err := f.svc.ListActivities(f.ctx, blk.ID)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	require.Equal(t, "created", acts[0].Action)
	require.Equal(t, "alice", acts[0].Actor)
}

func TestCreateBlock_StrictViolationsBlock(t *testing.T) {
	f := newFixture(t)
	f.mustType(t, "article", model.StrictnessStrict, articleSchema, nil)

	_, err := f.svc.CreateBlock(f.ctx, CreateBlockRequest{
		OrgID:   "org1",
		TypeKey: "article",
		Payload: model.NewContentPayload(map[string]any{"wordCount": "not a number"}, nil),
	})
	var ve *schema.ValidationError
	require.ErrorAs(t, err, &ve)
	// Missing title and the bad wordCount are both reported.
	require.Len(t, ve.Violations, 2)
}

func TestCreateBlock_SoftViolationsWarn(t *testing.T) {
	f := newFixture(t)
	f.mustType(t, "draft", model.StrictnessSoft, articleSchema, nil)

	blk := f.mustBlock(t, CreateBlockRequest{
		TypeKey: "draft",
		Payload: model.NewContentPayload(map[string]any{"wordCount": 3.5}, nil),
	})
	require.NotEmpty(t, blk.Warnings)

	stored, err := f.svc.GetBlockType(f.ctx, blk.TypeID)
	require.NoError(t, err)
	require.Equal(t, model.StrictnessSoft, stored.Strictness)
}

func TestCreateBlock_ArchivedTypeRejected(t *testing.T) {
	f := newFixture(t)
	bt := f.mustType(t, "legacy", model.StrictnessSoft, nil, nil)
	_, err := f.svc.ArchiveBlockType(f.ctx, bt.ID, true)
	require.NoError(t, err)

	_, err = f.svc.CreateBlock(f.ctx, CreateBlockRequest{
		TypeKey: "legacy", OrgID: "org1",
		Payload: model.NewContentPayload(nil, nil),
	})
	require.ErrorIs(t, err, ErrTypeArchived)
}

func TestCreateBlock_MissingType(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateBlock(f.ctx, CreateBlockRequest{
		OrgID:   "org1",
		Payload: model.NewContentPayload(nil, nil),
	})
	require.ErrorIs(t, err, ErrMissingType)
}

func TestCreateBlock_PlacementRollsBackOnReject(t *testing.T) {
	f := newFixture(t)
	max := 0
	f.mustType(t, "leafonly", model.StrictnessSoft, nil, &model.NestingRule{Max: &max})
	f.mustType(t, "text", model.StrictnessSoft, nil, nil)

	parent := f.mustBlock(t, CreateBlockRequest{TypeKey: "leafonly",
		Payload: model.NewContentPayload(nil, nil)})

	_, err := f.svc.CreateBlock(f.ctx, CreateBlockRequest{
		ID: "child1", OrgID: "org1", TypeKey: "text",
		Payload:  model.NewContentPayload(nil, nil),
		ParentID: parent.ID, Slot: "items",
	})
	require.ErrorIs(t, err, hierarchy.ErrSlotFull)

	// The rejected placement rolled back the block row too.
	err = f.store.View(f.ctx, func(tx *storage.Tx) error {
		_, err := tx.GetBlock("child1")
		return err
	})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateBlock_DeepMergeAndRevalidate(t *testing.T) {
	f := newFixture(t)
	f.mustType(t, "article", model.StrictnessStrict, articleSchema, nil)
	blk := f.mustBlock(t, CreateBlockRequest{
		TypeKey: "article",
		Payload: model.NewContentPayload(map[string]any{"title": "Hello", "wordCount": 10}, nil),
	})

	updated, err := f.svc.UpdateBlock(f.ctx, UpdateBlockRequest{
		ID:      blk.ID,
		Payload: model.NewContentPayload(map[string]any{"wordCount": 25}, nil),
	})
	require.NoError(t, err)
	require.Equal(t, "Hello", updated.Payload.Content.Data["title"])
	require.Equal(t, 25, updated.Payload.Content.Data["wordCount"])

	// A merge result violating the schema blocks the update.
	_, err = f.svc.UpdateBlock(f.ctx, UpdateBlockRequest{
		ID:      blk.ID,
		Payload: model.NewContentPayload(map[string]any{"wordCount": "lots"}, nil),
	})
	var ve *schema.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestUpdateBlock_KindChangeRejected(t *testing.T) {
	f := newFixture(t)
	f.mustType(t, "text", model.StrictnessSoft, nil, nil)
	blk := f.mustBlock(t, CreateBlockRequest{TypeKey: "text",
		Payload: model.NewContentPayload(nil, nil)})

	_, err := f.svc.UpdateBlock(f.ctx, UpdateBlockRequest{
		ID: blk.ID,
		Payload: model.NewReferenceListPayload(model.ReferenceListPayload{
			EntityType: "client", Items: []string{"c1"},
		}),
	})
	require.ErrorIs(t, err, ErrPayloadKindChange)
}

func TestArchiveBlock(t *testing.T) {
	f := newFixture(t)
	f.mustType(t, "text", model.StrictnessSoft, nil, nil)
	blk := f.mustBlock(t, CreateBlockRequest{TypeKey: "text",
		Payload: model.NewContentPayload(nil, nil)})

	archived, err := f.svc.ArchiveBlock(f.ctx, blk.ID, true, "bob")
	require.NoError(t, err)
	require.True(t, archived.Archived)

	// Archiving an already-archived block records nothing.
	_, err = f.svc.ArchiveBlock(f.ctx, blk.ID, true, "bob")
	require.NoError(t, err)
	acts, err := f.svc.ListActivities(f.ctx, blk.ID)
	require.NoError(t, err)
	require.Len(t, acts, 2) // created + archived
	require.Equal(t, "archived", acts[1].Action)
}

func TestGetBlock_Tree(t *testing.T) {
	f := newFixture(t)
	f.mustType(t, "page", model.StrictnessSoft, nil, nil)
	f.mustType(t, "text", model.StrictnessSoft, nil, nil)
	f.mustType(t, "clients", model.StrictnessSoft, nil, nil)

	root := f.mustBlock(t, CreateBlockRequest{ID: "root", TypeKey: "page",
		Payload: model.NewContentPayload(map[string]any{"title": "Home"}, nil)})
	f.mustBlock(t, CreateBlockRequest{ID: "para", TypeKey: "text",
		Payload:  model.NewContentPayload(nil, nil),
		ParentID: root.ID, Slot: "body"})
	f.mustBlock(t, CreateBlockRequest{ID: "note", TypeKey: "text",
		Payload:  model.NewContentPayload(nil, nil),
		ParentID: "para", Slot: "notes"})
	f.mustBlock(t, CreateBlockRequest{ID: "refs", TypeKey: "clients",
		Payload: model.NewReferenceListPayload(model.ReferenceListPayload{
			EntityType: "client", Items: []string{"c1", "c2"},
		}),
		ParentID: root.ID, Slot: "body", Index: 1})

	node, err := f.svc.GetBlock(f.ctx, root.ID)
	require.NoError(t, err)
	content, ok := node.(*model.ContentNode)
	require.True(t, ok)
	body := content.Children["body"]
	require.Len(t, body, 2)

	para := body[0].(*model.ContentNode)
	require.Equal(t, "para", para.Block.ID)
	require.Len(t, para.Children["notes"], 1)

	refs := body[1].(*model.ReferenceNode)
	require.Equal(t, "refs", refs.Block.ID)
	require.Len(t, refs.References, 2)
	require.Equal(t, model.TagOK, refs.References[0].Tag)
	require.Equal(t, "Client c1", refs.References[0].Entity.(map[string]any)["name"])
}

func TestGetBlock_CycleYieldsPlaceholder(t *testing.T) {
	f := newFixture(t)
	f.mustType(t, "page", model.StrictnessSoft, nil, nil)
	a := f.mustBlock(t, CreateBlockRequest{ID: "a", TypeKey: "page",
		Payload: model.NewContentPayload(nil, nil)})
	f.mustBlock(t, CreateBlockRequest{ID: "b", TypeKey: "page",
		Payload:  model.NewContentPayload(nil, nil),
		ParentID: a.ID, Slot: "items"})

	// Corrupt the edge rows directly; the hierarchy service would refuse
	// this cycle, but reads must still terminate on legacy data.
	require.NoError(t, f.store.Update(f.ctx, func(tx *storage.Tx) error {
		return tx.SetSlot("b", "items", []string{"a"})
	}))

	node, err := f.svc.GetBlock(f.ctx, "a")
	require.NoError(t, err)
	root := node.(*model.ContentNode)
	b := root.Children["items"][0].(*model.ContentNode)
	placeholder := b.Children["items"][0].(*model.ContentNode)
	require.Equal(t, "a", placeholder.Block.ID)
	require.Equal(t, []string{model.CycleWarning}, placeholder.Warnings)
	require.Empty(t, placeholder.Children)
}

func TestBlockTypeVersioning(t *testing.T) {
	f := newFixture(t)
	v1 := f.mustType(t, "article", model.StrictnessSoft, articleSchema, nil)

	t.Run("duplicate key rejected", func(t *testing.T) {
		_, err := f.svc.CreateBlockType(f.ctx, CreateBlockTypeRequest{
			OrgID: "org1", Key: "article",
		})
		require.ErrorIs(t, err, ErrTypeKeyTaken)
	})

	t.Run("append inherits and bumps", func(t *testing.T) {
		strict := model.StrictnessStrict
		v2, err := f.svc.AppendBlockTypeVersion(f.ctx, "article", CreateBlockTypeRequest{
			Name:       "article v2",
			Strictness: &strict,
		})
		require.NoError(t, err)
		require.Equal(t, 2, v2.Version)
		require.NotEqual(t, v1.ID, v2.ID)
		require.Equal(t, v1.Schema, v2.Schema) // inherited

		// New blocks resolve the latest version by key.
		_, err = f.svc.CreateBlock(f.ctx, CreateBlockRequest{
			OrgID: "org1", TypeKey: "article",
			Payload: model.NewContentPayload(nil, nil),
		})
		var ve *schema.ValidationError
		require.ErrorAs(t, err, &ve) // v2 is strict, title missing

		// Pinning the old version still works.
		blk, err := f.svc.CreateBlock(f.ctx, CreateBlockRequest{
			OrgID: "org1", TypeKey: "article", TypeVersion: 1,
			Payload: model.NewContentPayload(nil, nil),
		})
		require.NoError(t, err)
		require.Equal(t, v1.ID, blk.TypeID)
	})

	t.Run("append without strictness inherits", func(t *testing.T) {
		// v2 is STRICT; a rename-only append must not downgrade it.
		v3, err := f.svc.AppendBlockTypeVersion(f.ctx, "article", CreateBlockTypeRequest{
			Name: "article v3",
		})
		require.NoError(t, err)
		require.Equal(t, 3, v3.Version)
		require.Equal(t, model.StrictnessStrict, v3.Strictness)
	})

	t.Run("malformed key rejected", func(t *testing.T) {
		_, err := f.svc.CreateBlockType(f.ctx, CreateBlockTypeRequest{
			OrgID: "org1", Key: "nav/menu",
		})
		require.ErrorIs(t, err, validation.ErrInvalidKey)
	})

	t.Run("broken schema rejected", func(t *testing.T) {
		_, err := f.svc.CreateBlockType(f.ctx, CreateBlockTypeRequest{
			OrgID: "org1", Key: "broken",
			Schema: []byte(`{"type": 12}`),
		})
		require.ErrorIs(t, err, schema.ErrBadSchema)
	})
}

func TestSaveLayout_VersionProtocol(t *testing.T) {
	f := newFixture(t)

	resp, err := f.svc.SaveLayout(f.ctx, model.SaveRequest{
		LayoutID: "board", BaseVersion: 0, Actor: "alice",
		Layout: []byte(`{"cols":12}`),
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.False(t, resp.Conflict)
	require.EqualValues(t, 1, resp.NewVersion)

	// A stale base version conflicts without error and without mutation.
	stale, err := f.svc.SaveLayout(f.ctx, model.SaveRequest{
		LayoutID: "board", BaseVersion: 0, Actor: "bob",
	})
	require.NoError(t, err)
	require.False(t, stale.Success)
	require.True(t, stale.Conflict)
	require.EqualValues(t, 1, stale.LatestVersion)
	require.Equal(t, "alice", stale.LastModifiedBy)

	layout, err := f.svc.GetLayout(f.ctx, "board")
	require.NoError(t, err)
	require.EqualValues(t, 1, layout.Version)
	require.Equal(t, "alice", layout.LastModifiedBy)
	require.JSONEq(t, `{"cols":12}`, string(layout.Geometry))
}

func TestSaveLayout_AppliesOperations(t *testing.T) {
	f := newFixture(t)
	f.mustType(t, "text", model.StrictnessSoft, nil, nil)
	root := f.mustBlock(t, CreateBlockRequest{ID: "root", TypeKey: "text",
		Payload: model.NewContentPayload(nil, nil)})

	base := time.Now().UTC()
	ops := []model.Operation{
		{Type: model.OpAdd, BlockID: "n1", Timestamp: base,
			ParentID: root.ID, Slot: "items",
			Block: &model.Block{OrgID: "org1", Name: "first", TypeKey: "text",
				Payload: model.NewContentPayload(map[string]any{"v": 1}, nil)}},
		{Type: model.OpUpdate, BlockID: "n1", Timestamp: base.Add(time.Second),
			Block: &model.Block{
				Payload: model.NewContentPayload(map[string]any{"v": 2}, nil)}},
		// Added then removed in the same burst: never persisted.
		{Type: model.OpAdd, BlockID: "ghost", Timestamp: base,
			Block: &model.Block{OrgID: "org1", TypeKey: "text",
				Payload: model.NewContentPayload(nil, nil)}},
		{Type: model.OpRemove, BlockID: "ghost", Timestamp: base.Add(time.Second)},
	}

	resp, err := f.svc.SaveLayout(f.ctx, model.SaveRequest{
		LayoutID: "board", BaseVersion: 0, Operations: ops, Actor: "alice",
	})
	require.NoError(t, err)
	require.True(t, resp.Success)

	node, err := f.svc.GetBlock(f.ctx, root.ID)
	require.NoError(t, err)
	items := node.(*model.ContentNode).Children["items"]
	require.Len(t, items, 1)
	n1 := items[0].(*model.ContentNode)
	require.Equal(t, "n1", n1.Block.ID)
	require.EqualValues(t, 2, n1.Block.Payload.Content.Data["v"])

	err = f.store.View(f.ctx, func(tx *storage.Tx) error {
		_, err := tx.GetBlock("ghost")
		return err
	})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSaveLayout_NestedAddsApplyParentFirst(t *testing.T) {
	f := newFixture(t)
	f.mustType(t, "text", model.StrictnessSoft, nil, nil)

	// The parent's id sorts after the child's; the burst must still
	// create the parent before attaching the child to it.
	base := time.Now().UTC()
	resp, err := f.svc.SaveLayout(f.ctx, model.SaveRequest{
		LayoutID: "board", BaseVersion: 0, Actor: "alice",
		Operations: []model.Operation{
			{Type: model.OpAdd, BlockID: "zz-parent", Timestamp: base,
				Block: &model.Block{OrgID: "org1", TypeKey: "text",
					Payload: model.NewContentPayload(nil, nil)}},
			{Type: model.OpAdd, BlockID: "aa-child", Timestamp: base.Add(time.Millisecond),
				ParentID: "zz-parent", Slot: "items",
				Block: &model.Block{OrgID: "org1", TypeKey: "text",
					Payload: model.NewContentPayload(nil, nil)}},
		},
	})
	require.NoError(t, err)
	require.True(t, resp.Success)

	node, err := f.svc.GetBlock(f.ctx, "zz-parent")
	require.NoError(t, err)
	items := node.(*model.ContentNode).Children["items"]
	require.Len(t, items, 1)
	require.Equal(t, "aa-child", items[0].(*model.ContentNode).Block.ID)
}

func TestSaveLayout_RemoveOrphansChildren(t *testing.T) {
	f := newFixture(t)
	f.mustType(t, "text", model.StrictnessSoft, nil, nil)
	f.mustBlock(t, CreateBlockRequest{ID: "parent", TypeKey: "text",
		Payload: model.NewContentPayload(nil, nil)})
	f.mustBlock(t, CreateBlockRequest{ID: "kid", TypeKey: "text",
		Payload:  model.NewContentPayload(nil, nil),
		ParentID: "parent", Slot: "items"})

	_, err := f.svc.SaveLayout(f.ctx, model.SaveRequest{
		LayoutID: "board", BaseVersion: 0,
		Operations: []model.Operation{
			{Type: model.OpRemove, BlockID: "parent", Timestamp: time.Now()},
		},
	})
	require.NoError(t, err)

	require.NoError(t, f.store.View(f.ctx, func(tx *storage.Tx) error {
		_, err := tx.GetBlock("parent")
		require.ErrorIs(t, err, storage.ErrNotFound)
		// The child survives as a root.
		kid, err := tx.GetBlock("kid")
		require.NoError(t, err)
		require.Equal(t, "kid", kid.ID)
		_, err = tx.GetParentEdge("kid")
		require.ErrorIs(t, err, storage.ErrNotFound)
		return nil
	}))
}

func TestSaveLayout_MoveAndReorder(t *testing.T) {
	f := newFixture(t)
	f.mustType(t, "text", model.StrictnessSoft, nil, nil)
	f.mustBlock(t, CreateBlockRequest{ID: "p1", TypeKey: "text",
		Payload: model.NewContentPayload(nil, nil)})
	f.mustBlock(t, CreateBlockRequest{ID: "p2", TypeKey: "text",
		Payload: model.NewContentPayload(nil, nil)})
	for i, id := range []string{"a", "b", "c"} {
		f.mustBlock(t, CreateBlockRequest{ID: id, TypeKey: "text",
			Payload:  model.NewContentPayload(nil, nil),
			ParentID: "p1", Slot: "items", Index: i})
	}

	_, err := f.svc.SaveLayout(f.ctx, model.SaveRequest{
		LayoutID: "board", BaseVersion: 0,
		Operations: []model.Operation{
			{Type: model.OpMove, BlockID: "c", Timestamp: time.Now(),
				ParentID: "p2", Slot: "items", Index: 0},
			{Type: model.OpReorder, BlockID: "a", Timestamp: time.Now(), Index: 1},
		},
	})
	require.NoError(t, err)

	require.NoError(t, f.store.View(f.ctx, func(tx *storage.Tx) error {
		p1, err := tx.GetSlot("p1", "items")
		require.NoError(t, err)
		require.Equal(t, []string{"b", "a"}, p1)
		p2, err := tx.GetSlot("p2", "items")
		require.NoError(t, err)
		require.Equal(t, []string{"c"}, p2)
		return nil
	}))
}
