// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reference owns block→external-entity edges and their
// resolution through pluggable per-entity-type resolvers.
package reference

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrNoResolver is returned by Resolve when no resolver is registered
// for an entity type. On the tree read path it degrades to an
// UNSUPPORTED tag instead of failing the read.
var ErrNoResolver = errors.New("no resolver registered for entity type")

// fetchBatchSize bounds the id count of one resolver call. Larger sets
// are split and fetched concurrently.
const fetchBatchSize = 100

// Resolver maps a set of entity ids to loaded entities or summaries.
//
// Implementations are registered per entity type by the surrounding
// application (a "client" lookup, a "block" lookup for self-referential
// trees). Ids absent from the returned map are treated as missing, not
// as errors.
type Resolver interface {
	Fetch(ctx context.Context, entityType string, ids []string) (map[string]any, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, entityType string, ids []string) (map[string]any, error)

// Fetch implements Resolver.
func (f ResolverFunc) Fetch(ctx context.Context, entityType string, ids []string) (map[string]any, error) {
	return f(ctx, entityType, ids)
}

// Registry holds one resolver per entity type.
//
// # Thread Safety
//
// Safe for concurrent use. Registration normally happens at startup,
// but late registration is tolerated.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[string]Resolver
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{resolvers: make(map[string]Resolver)}
}

// Register installs the resolver for an entity type, replacing any
// previous one.
func (r *Registry) Register(entityType string, resolver Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[entityType] = resolver
}

// Resolver returns the resolver for an entity type.
func (r *Registry) Resolver(entityType string) (Resolver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	resolver, ok := r.resolvers[entityType]
	return resolver, ok
}

// Resolve fetches entities by id through the registered resolver,
// splitting large id sets into concurrently fetched batches.
func (r *Registry) Resolve(ctx context.Context, entityType string, ids []string) (map[string]any, error) {
	resolver, ok := r.Resolver(entityType)
	if !ok {
		return nil, fmt.Errorf("%s: %w", entityType, ErrNoResolver)
	}
	if len(ids) == 0 {
		return map[string]any{}, nil
	}
	if len(ids) <= fetchBatchSize {
		return resolver.Fetch(ctx, entityType, ids)
	}

	var mu sync.Mutex
	merged := make(map[string]any, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(ids); start += fetchBatchSize {
		end := min(start+fetchBatchSize, len(ids))
		batch := ids[start:end]
		g.Go(func() error {
			part, err := resolver.Fetch(gctx, entityType, batch)
			if err != nil {
				return err
			}
			mu.Lock()
			for id, entity := range part {
				merged[id] = entity
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return merged, nil
}
