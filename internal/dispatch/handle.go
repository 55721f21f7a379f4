// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"strings"

	"github.com/dringdahl0320/mongo-mcp-server/internal/schema"
	"github.com/dringdahl0320/mongo-mcp-server/internal/store"
)

// Target is a resolved collection name. Model is set when a descriptor is
// bound to it.
type Target struct {
	Name  string
	Model *schema.Model
}

// Path returns the path the target routes to.
func (t Target) Path() Path {
	if t.Model != nil {
		return PathTyped
	}
	return PathGeneric
}

// Collection returns the physical collection name.
func (t Target) Collection() string {
	if t.Model != nil {
		return t.Model.Collection()
	}
	return t.Name
}

// Resolver maps requested collection names onto targets.
type Resolver struct {
	registry *schema.Registry
}

// NewResolver returns a resolver over registry. A nil registry resolves
// every name to the generic path.
func NewResolver(registry *schema.Registry) *Resolver {
	if registry == nil {
		registry = schema.NewRegistry()
	}
	return &Resolver{registry: registry}
}

// Resolve validates name and looks up its descriptor.
func (r *Resolver) Resolve(name string) (Target, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Target{}, InvalidArgument("collection name must be a non-empty string")
	}
	m, _ := r.registry.Lookup(name)
	return Target{Name: name, Model: m}, nil
}

// Handle performs operations on one collection through one path. The typed
// and generic handles are its only implementations.
type Handle interface {
	Path() Path
	Collection() string
	Find(ctx context.Context, filter store.Document, opts store.FindOptions) ([]store.Document, error)
	InsertOne(ctx context.Context, doc store.Document) (*store.InsertResult, error)
	UpdateOne(ctx context.Context, filter, update store.Document, upsert bool) (*store.UpdateResult, error)
	DeleteOne(ctx context.Context, filter store.Document) (*store.DeleteResult, error)
	Count(ctx context.Context, filter store.Document) (int64, error)
	Aggregate(ctx context.Context, pipeline []store.Document) ([]store.Document, error)
	Indexes() store.Collection
}

// genericHandle talks to the collection with no structural assumptions.
type genericHandle struct {
	coll store.Collection
}

func (h *genericHandle) Path() Path         { return PathGeneric }
func (h *genericHandle) Collection() string { return h.coll.Name() }

func (h *genericHandle) Find(ctx context.Context, filter store.Document, opts store.FindOptions) ([]store.Document, error) {
	return h.coll.Find(ctx, filter, opts)
}

func (h *genericHandle) InsertOne(ctx context.Context, doc store.Document) (*store.InsertResult, error) {
	return h.coll.InsertOne(ctx, doc)
}

func (h *genericHandle) UpdateOne(ctx context.Context, filter, update store.Document, upsert bool) (*store.UpdateResult, error) {
	return h.coll.UpdateOne(ctx, filter, update, upsert)
}

func (h *genericHandle) DeleteOne(ctx context.Context, filter store.Document) (*store.DeleteResult, error) {
	return h.coll.DeleteOne(ctx, filter)
}

func (h *genericHandle) Count(ctx context.Context, filter store.Document) (int64, error) {
	return h.coll.CountDocuments(ctx, filter)
}

func (h *genericHandle) Aggregate(ctx context.Context, pipeline []store.Document) ([]store.Document, error) {
	return h.coll.Aggregate(ctx, pipeline)
}

func (h *genericHandle) Indexes() store.Collection { return h.coll }

// typedHandle runs writes through the bound model and lowers query results.
type typedHandle struct {
	genericHandle
	model *schema.Model
}

func (h *typedHandle) Path() Path { return PathTyped }

func (h *typedHandle) Find(ctx context.Context, filter store.Document, opts store.FindOptions) ([]store.Document, error) {
	docs, err := h.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	for i, d := range docs {
		docs[i] = h.model.Lower(d)
	}
	return docs, nil
}

func (h *typedHandle) InsertOne(ctx context.Context, doc store.Document) (*store.InsertResult, error) {
	prepared, err := h.model.PrepareInsert(doc)
	if err != nil {
		return nil, err
	}
	return h.coll.InsertOne(ctx, prepared)
}

func (h *typedHandle) UpdateOne(ctx context.Context, filter, update store.Document, upsert bool) (*store.UpdateResult, error) {
	prepared, err := h.model.PrepareUpdate(update, upsert)
	if err != nil {
		return nil, err
	}
	return h.coll.UpdateOne(ctx, filter, prepared, upsert)
}
