// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

// Package dispatch routes every document operation through either the typed
// path of a bound schema model or the generic path, applies soft-delete
// semantics on both, and normalizes every outcome into one envelope.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dringdahl0320/mongo-mcp-server/internal/schema"
	"github.com/dringdahl0320/mongo-mcp-server/internal/store"
)

// Operation names, used in request contexts and logs.
const (
	OpListCollections = "listCollections"
	OpFind            = "find"
	OpInsertOne       = "insertOne"
	OpUpdateOne       = "updateOne"
	OpDeleteOne       = "deleteOne"
	OpCount           = "count"
	OpAggregate       = "aggregate"
	OpCreateIndex     = "createIndex"
	OpDropIndex       = "dropIndex"
	OpListIndexes     = "listIndexes"
)

// FindArgs are the inputs of a find.
type FindArgs struct {
	Filter     store.Document
	Projection store.Document
	Sort       []store.SortField
	Limit      int64
	Skip       int64
}

// InsertResult reports an insert.
type InsertResult struct {
	InsertedID   any  `json:"insertedId"`
	Acknowledged bool `json:"acknowledged"`
}

// DeleteResult reports a soft or hard delete.
type DeleteResult struct {
	Acknowledged bool  `json:"acknowledged"`
	DeletedCount int64 `json:"deletedCount"`
	SoftDelete   bool  `json:"softDelete"`
}

// CountResult reports a count.
type CountResult struct {
	Count int64 `json:"count"`
}

// IndexResult reports a created or dropped index.
type IndexResult struct {
	Acknowledged bool   `json:"acknowledged"`
	IndexName    string `json:"indexName"`
}

// CollectionInfo describes one collection.
type CollectionInfo struct {
	Name  string `json:"name"`
	Model string `json:"model,omitempty"`
	Count int64  `json:"count"`
}

// CollectionsResult lists the store's collections.
type CollectionsResult struct {
	Collections []CollectionInfo `json:"collections"`
	Schemas     []string         `json:"schemas"`
}

// Executor performs operations against one store with one registry. Both are
// fixed at construction; the executor is safe for concurrent calls.
type Executor struct {
	store    store.Store
	registry *schema.Registry
	resolver *Resolver
	logger   *slog.Logger
	now      func() time.Time
}

// NewExecutor returns an executor. A nil registry means schemaless.
func NewExecutor(s store.Store, registry *schema.Registry, logger *slog.Logger) *Executor {
	if registry == nil {
		registry = schema.NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		store:    s,
		registry: registry,
		resolver: NewResolver(registry),
		logger:   logger,
		now:      store.Now,
	}
}

// Registry returns the executor's schema registry.
func (e *Executor) Registry() *schema.Registry { return e.registry }

// Store returns the underlying store.
func (e *Executor) Store() store.Store { return e.store }

// handle opens the handle for a target. A typed target whose model is not
// the one registered for it is an internal inconsistency, never a reason to
// fall back to the generic path.
func (e *Executor) handle(t Target) (Handle, error) {
	if e.store == nil {
		return nil, Errorf(KindInternal, "no document store is connected")
	}
	if t.Model == nil {
		return &genericHandle{coll: e.store.Collection(t.Name)}, nil
	}
	registered, err := e.registry.Model(t.Model.Name())
	if err != nil || registered != t.Model {
		return nil, Errorf(KindInternal, "typed model for %q is unavailable", t.Name)
	}
	return &typedHandle{genericHandle: genericHandle{coll: e.store.Collection(t.Model.Collection())}, model: t.Model}, nil
}

// run resolves the collection, opens its handle and runs fn, converting every
// outcome, panics included, into an envelope.
func (e *Executor) run(ctx context.Context, req RequestContext, fn func(Handle) (any, error)) (env *Envelope) {
	var path Path
	defer recoverInto(&env, &path, req, e.logger)

	start := time.Now()
	t, err := e.resolver.Resolve(req.Collection)
	if err != nil {
		return Failure(path, err, req)
	}
	path = t.Path()
	h, err := e.handle(t)
	if err != nil {
		return Failure(path, err, req)
	}
	if err := ctx.Err(); err != nil {
		return Failure(path, err, req)
	}

	result, err := fn(h)
	e.logger.Debug("operation complete",
		"operation", req.Operation,
		"collection", h.Collection(),
		"path", path,
		"duration", time.Since(start),
		"error", err,
	)
	return Normalize(path, result, err, req)
}

// Find queries non-deleted documents.
func (e *Executor) Find(ctx context.Context, collection string, args FindArgs) *Envelope {
	req := RequestContext{
		Operation: OpFind, Collection: collection, Filter: args.Filter,
		Projection: args.Projection, Sort: args.Sort, Limit: args.Limit, Skip: args.Skip,
	}
	return e.run(ctx, req, func(h Handle) (any, error) {
		if args.Limit < 0 || args.Skip < 0 {
			return nil, InvalidArgument("limit and skip must be non-negative")
		}
		return h.Find(ctx, ExcludeDeleted(args.Filter), store.FindOptions{
			Projection: args.Projection,
			Sort:       args.Sort,
			Limit:      args.Limit,
			Skip:       args.Skip,
		})
	})
}

// InsertOne inserts one document.
func (e *Executor) InsertOne(ctx context.Context, collection string, doc store.Document) *Envelope {
	req := RequestContext{Operation: OpInsertOne, Collection: collection, Document: doc}
	return e.run(ctx, req, func(h Handle) (any, error) {
		if doc == nil {
			return nil, InvalidArgument("document is required")
		}
		res, err := h.InsertOne(ctx, doc)
		if err != nil {
			return nil, err
		}
		return InsertResult{InsertedID: res.InsertedID, Acknowledged: res.Acknowledged}, nil
	})
}

// UpdateOne updates the first non-deleted match. A plain field map is
// applied as $set.
func (e *Executor) UpdateOne(ctx context.Context, collection string, filter, update store.Document, upsert bool) *Envelope {
	req := RequestContext{Operation: OpUpdateOne, Collection: collection, Filter: filter, Update: update}
	return e.run(ctx, req, func(h Handle) (any, error) {
		normalized, err := NormalizeUpdate(update)
		if err != nil {
			return nil, err
		}
		return h.UpdateOne(ctx, ExcludeDeletedWrite(filter), normalized, upsert)
	})
}

// DeleteOne marks the first non-deleted match deleted, or removes it when
// hard is set.
func (e *Executor) DeleteOne(ctx context.Context, collection string, filter store.Document, hard bool) *Envelope {
	req := RequestContext{Operation: OpDeleteOne, Collection: collection, Filter: filter}
	return e.run(ctx, req, func(h Handle) (any, error) {
		f := ExcludeDeletedWrite(filter)
		if hard {
			res, err := h.DeleteOne(ctx, f)
			if err != nil {
				return nil, err
			}
			return DeleteResult{Acknowledged: res.Acknowledged, DeletedCount: res.DeletedCount}, nil
		}
		mark := store.Document{"$set": map[string]any{
			schema.FieldIsDeleted: true,
			schema.FieldDeletedAt: e.now(),
		}}
		res, err := h.UpdateOne(ctx, f, mark, false)
		if err != nil {
			return nil, err
		}
		return DeleteResult{Acknowledged: res.Acknowledged, DeletedCount: res.ModifiedCount, SoftDelete: true}, nil
	})
}

// Count counts non-deleted matches.
func (e *Executor) Count(ctx context.Context, collection string, filter store.Document) *Envelope {
	req := RequestContext{Operation: OpCount, Collection: collection, Filter: filter}
	return e.run(ctx, req, func(h Handle) (any, error) {
		n, err := h.Count(ctx, ExcludeDeleted(filter))
		if err != nil {
			return nil, err
		}
		return CountResult{Count: n}, nil
	})
}

// Aggregate runs a pipeline over non-deleted documents.
func (e *Executor) Aggregate(ctx context.Context, collection string, pipeline []store.Document) *Envelope {
	req := RequestContext{Operation: OpAggregate, Collection: collection, Pipeline: pipeline}
	return e.run(ctx, req, func(h Handle) (any, error) {
		p, err := ExcludeDeletedPipeline(pipeline)
		if err != nil {
			return nil, err
		}
		return h.Aggregate(ctx, p)
	})
}

// CreateIndex creates an index. Keys are normalized to 1, -1 or a
// text/geospatial marker.
func (e *Executor) CreateIndex(ctx context.Context, collection string, keys store.IndexKeys, opts store.IndexOptions) *Envelope {
	req := RequestContext{Operation: OpCreateIndex, Collection: collection, Keys: keys, Index: opts.Name}
	return e.run(ctx, req, func(h Handle) (any, error) {
		if len(keys) == 0 {
			return nil, InvalidArgument("keys must name at least one field")
		}
		normalized := make(store.IndexKeys, len(keys))
		for i, k := range keys {
			normalized[i] = store.IndexKey{Field: k.Field, Value: store.NormalizeIndexValue(k.Value)}
		}
		name, err := h.Indexes().CreateIndex(ctx, normalized, opts)
		if err != nil {
			return nil, err
		}
		return IndexResult{Acknowledged: true, IndexName: name}, nil
	})
}

// DropIndex drops a named index.
func (e *Executor) DropIndex(ctx context.Context, collection, name string) *Envelope {
	req := RequestContext{Operation: OpDropIndex, Collection: collection, Index: name}
	return e.run(ctx, req, func(h Handle) (any, error) {
		if strings.TrimSpace(name) == "" {
			return nil, InvalidArgument("index name is required")
		}
		if err := h.Indexes().DropIndex(ctx, name); err != nil {
			return nil, err
		}
		return IndexResult{Acknowledged: true, IndexName: name}, nil
	})
}

// ListIndexes lists a collection's indexes.
func (e *Executor) ListIndexes(ctx context.Context, collection string) *Envelope {
	req := RequestContext{Operation: OpListIndexes, Collection: collection}
	return e.run(ctx, req, func(h Handle) (any, error) {
		return h.Indexes().ListIndexes(ctx)
	})
}

// ListCollections lists the store's collections with their bound models and
// non-deleted counts. It always reports the generic path.
func (e *Executor) ListCollections(ctx context.Context) (env *Envelope) {
	path := PathGeneric
	req := RequestContext{Operation: OpListCollections}
	defer recoverInto(&env, &path, req, e.logger)

	if e.store == nil {
		return Failure(path, Errorf(KindInternal, "no document store is connected"), req)
	}
	names, err := e.store.ListCollections(ctx)
	if err != nil {
		return Failure(path, err, req)
	}

	out := CollectionsResult{Collections: make([]CollectionInfo, 0, len(names)), Schemas: []string{}}
	for _, name := range names {
		info := CollectionInfo{Name: name}
		if m, ok := e.registry.Lookup(name); ok {
			info.Model = m.Name()
		}
		n, err := e.store.Collection(name).CountDocuments(ctx, ExcludeDeleted(store.Document{}))
		if err != nil {
			return Failure(path, fmt.Errorf("counting %s: %w", name, err), req)
		}
		info.Count = n
		out.Collections = append(out.Collections, info)
	}
	for _, m := range e.registry.All() {
		out.Schemas = append(out.Schemas, m.Name())
	}
	sort.Strings(out.Schemas)
	return Success(path, out)
}

// EnsureIndexes creates the indexes declared by every registered model.
// Failures are logged and returned together; the remaining indexes are
// still attempted.
func (e *Executor) EnsureIndexes(ctx context.Context) error {
	var errs []error
	for _, m := range e.registry.All() {
		coll := e.store.Collection(m.Collection())
		for _, spec := range m.IndexSpecs() {
			name, err := coll.CreateIndex(ctx, spec.Keys, spec.Options)
			if err != nil {
				e.logger.Warn("failed to create model index", "model", m.Name(), "index", spec.Options.Name, "error", err)
				errs = append(errs, fmt.Errorf("%s.%s: %w", m.Collection(), spec.Options.Name, err))
				continue
			}
			e.logger.Debug("ensured model index", "model", m.Name(), "index", name)
		}
	}
	return errors.Join(errs...)
}
