// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package embedded

import (
	"context"
	"errors"
	"fmt"

	"github.com/dringdahl0320/mongo-mcp-server/internal/query"
	"github.com/dringdahl0320/mongo-mcp-server/internal/store"
)

// Collection is a handle on one collection of an embedded Store.
type Collection struct {
	s    *Store
	name string
}

// Name returns the folded collection name.
func (c *Collection) Name() string { return c.name }

func (c *Collection) data() *collection {
	return c.s.colls[c.name]
}

// Find returns the matching documents after sort, skip, limit and projection.
func (c *Collection) Find(ctx context.Context, filter store.Document, opts store.FindOptions) ([]store.Document, error) {
	if err := c.s.check(ctx); err != nil {
		return nil, err
	}
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	data := c.data()
	if data == nil {
		return []store.Document{}, nil
	}
	matched, err := query.Filter(data.docs, normalize(filter))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidDocument, err)
	}
	if len(opts.Sort) > 0 {
		keys := make([]query.SortKey, len(opts.Sort))
		for i, f := range opts.Sort {
			keys[i] = query.SortKey{Field: f.Field, Direction: f.Direction}
		}
		query.SortDocuments(matched, keys)
	}
	if opts.Skip > 0 {
		if opts.Skip >= int64(len(matched)) {
			return []store.Document{}, nil
		}
		matched = matched[opts.Skip:]
	}
	if opts.Limit > 0 && opts.Limit < int64(len(matched)) {
		matched = matched[:opts.Limit]
	}

	out := make([]store.Document, 0, len(matched))
	for _, d := range matched {
		projected, err := query.Project(d, normalize(opts.Projection))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrInvalidDocument, err)
		}
		out = append(out, projected)
	}
	return out, nil
}

// InsertOne stores a copy of doc, generating an _id when it has none.
func (c *Collection) InsertOne(ctx context.Context, doc store.Document) (*store.InsertResult, error) {
	if err := c.s.check(ctx); err != nil {
		return nil, err
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	rec := query.CloneDocument(normalize(doc))
	if rec == nil {
		rec = store.Document{}
	}
	if id, ok := rec["_id"]; !ok || id == nil {
		rec["_id"] = newID()
	}
	data := c.s.ensure(c.name)
	if err := checkUnique(data, rec, -1); err != nil {
		return nil, err
	}
	if err := c.put(ctx, rec); err != nil {
		return nil, err
	}
	data.docs = append(data.docs, rec)
	return &store.InsertResult{InsertedID: rec["_id"], Acknowledged: true}, nil
}

// UpdateOne applies an operator update to the first matching document, or
// inserts a document seeded from the filter when upsert is set and nothing
// matches.
func (c *Collection) UpdateOne(ctx context.Context, filter, update store.Document, upsert bool) (*store.UpdateResult, error) {
	if err := c.s.check(ctx); err != nil {
		return nil, err
	}
	if !query.IsOperatorDocument(update) {
		return nil, fmt.Errorf("%w: update document requires atomic operators", store.ErrInvalidUpdate)
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	filter, update = normalize(filter), normalize(update)
	data := c.data()
	idx, err := firstMatch(data, filter)
	if err != nil {
		return nil, err
	}

	if idx >= 0 {
		next := query.CloneDocument(data.docs[idx])
		changed, err := query.ApplyUpdate(next, update, false)
		if err != nil {
			return nil, updateError(err)
		}
		res := &store.UpdateResult{Acknowledged: true, MatchedCount: 1}
		if !changed {
			return res, nil
		}
		if err := checkUnique(data, next, idx); err != nil {
			return nil, err
		}
		if err := c.put(ctx, next); err != nil {
			return nil, err
		}
		data.docs[idx] = next
		res.ModifiedCount = 1
		return res, nil
	}

	if !upsert {
		return &store.UpdateResult{Acknowledged: true}, nil
	}
	rec := query.SeedFromFilter(filter)
	if _, err := query.ApplyUpdate(rec, update, true); err != nil {
		return nil, updateError(err)
	}
	if id, ok := rec["_id"]; !ok || id == nil {
		rec["_id"] = newID()
	}
	data = c.s.ensure(c.name)
	if err := checkUnique(data, rec, -1); err != nil {
		return nil, err
	}
	if err := c.put(ctx, rec); err != nil {
		return nil, err
	}
	data.docs = append(data.docs, rec)
	return &store.UpdateResult{Acknowledged: true, UpsertedCount: 1, UpsertedID: rec["_id"]}, nil
}

// DeleteOne removes the first matching document.
func (c *Collection) DeleteOne(ctx context.Context, filter store.Document) (*store.DeleteResult, error) {
	if err := c.s.check(ctx); err != nil {
		return nil, err
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	data := c.data()
	idx, err := firstMatch(data, normalize(filter))
	if err != nil {
		return nil, err
	}
	if idx < 0 {
		return &store.DeleteResult{Acknowledged: true}, nil
	}
	if c.s.persist != nil {
		if err := c.s.persist.DeleteDocument(ctx, c.name, data.docs[idx]["_id"]); err != nil {
			return nil, fmt.Errorf("failed to persist delete: %w", err)
		}
	}
	data.docs = append(data.docs[:idx], data.docs[idx+1:]...)
	return &store.DeleteResult{Acknowledged: true, DeletedCount: 1}, nil
}

// CountDocuments counts the matching documents.
func (c *Collection) CountDocuments(ctx context.Context, filter store.Document) (int64, error) {
	if err := c.s.check(ctx); err != nil {
		return 0, err
	}
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	data := c.data()
	if data == nil {
		return 0, nil
	}
	matched, err := query.Filter(data.docs, normalize(filter))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrInvalidDocument, err)
	}
	return int64(len(matched)), nil
}

// Aggregate runs pipeline over the collection.
func (c *Collection) Aggregate(ctx context.Context, pipeline []store.Document) ([]store.Document, error) {
	if err := c.s.check(ctx); err != nil {
		return nil, err
	}
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	var docs []store.Document
	if data := c.data(); data != nil {
		docs = data.docs
	}
	stages := make([]map[string]any, len(pipeline))
	for i, st := range pipeline {
		stages[i] = normalize(st)
	}
	out, err := query.Aggregate(docs, stages)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidDocument, err)
	}
	return out, nil
}

// CreateIndex creates an index and returns its name. Creating an index that
// already exists with the same definition is a no-op.
func (c *Collection) CreateIndex(ctx context.Context, keys store.IndexKeys, opts store.IndexOptions) (string, error) {
	if err := c.s.check(ctx); err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", fmt.Errorf("%w: index keys must not be empty", store.ErrInvalidDocument)
	}
	name := opts.Name
	if name == "" {
		name = store.DefaultIndexName(keys)
	}
	spec := store.IndexSpec{
		Version:            2,
		Name:               name,
		Key:                keys,
		Unique:             opts.Unique,
		Sparse:             opts.Sparse,
		ExpireAfterSeconds: opts.ExpireAfterSeconds,
		PartialFilter:      opts.PartialFilter,
	}

	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	data := c.s.ensure(c.name)
	for _, existing := range data.indexes {
		sameKeys := existing.Key.Equal(keys)
		if existing.Name == name {
			if sameKeys && existing.Unique == spec.Unique && existing.Sparse == spec.Sparse {
				return name, nil
			}
			return "", fmt.Errorf("%w: an index named %q already exists", store.ErrIndexConflict, name)
		}
		if sameKeys {
			return "", fmt.Errorf("%w: index %q already covers the same keys", store.ErrIndexConflict, existing.Name)
		}
	}
	if spec.Unique {
		probe := &collection{indexes: []store.IndexSpec{spec}}
		for _, d := range data.docs {
			if err := checkUnique(probe, d, -1); err != nil {
				return "", err
			}
			probe.docs = append(probe.docs, d)
		}
	}
	if c.s.persist != nil {
		if err := c.s.persist.PutIndex(ctx, c.name, spec); err != nil {
			return "", fmt.Errorf("failed to persist index: %w", err)
		}
	}
	data.indexes = append(data.indexes, spec)
	return name, nil
}

// DropIndex removes a named index. The _id index cannot be dropped.
func (c *Collection) DropIndex(ctx context.Context, name string) error {
	if err := c.s.check(ctx); err != nil {
		return err
	}
	if name == store.DefaultIDIndex {
		return fmt.Errorf("%w: cannot drop _id index", store.ErrInvalidDocument)
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	data := c.data()
	if data == nil {
		return fmt.Errorf("%w: %s", store.ErrIndexNotFound, name)
	}
	for i, spec := range data.indexes {
		if spec.Name != name {
			continue
		}
		if c.s.persist != nil {
			if err := c.s.persist.DropIndex(ctx, c.name, name); err != nil {
				return fmt.Errorf("failed to persist index drop: %w", err)
			}
		}
		data.indexes = append(data.indexes[:i], data.indexes[i+1:]...)
		return nil
	}
	return fmt.Errorf("%w: %s", store.ErrIndexNotFound, name)
}

// ListIndexes returns the collection's indexes. A collection that does not
// exist yet reports only the implicit _id index.
func (c *Collection) ListIndexes(ctx context.Context) ([]store.IndexSpec, error) {
	if err := c.s.check(ctx); err != nil {
		return nil, err
	}
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	data := c.data()
	if data == nil {
		return []store.IndexSpec{store.IDIndex()}, nil
	}
	out := make([]store.IndexSpec, len(data.indexes))
	copy(out, data.indexes)
	return out, nil
}

func (c *Collection) put(ctx context.Context, doc store.Document) error {
	if c.s.persist == nil {
		return nil
	}
	if err := c.s.persist.PutDocument(ctx, c.name, doc); err != nil {
		return fmt.Errorf("failed to persist document: %w", err)
	}
	return nil
}

func firstMatch(data *collection, filter store.Document) (int, error) {
	if data == nil {
		return -1, nil
	}
	for i, d := range data.docs {
		ok, err := query.Match(filter, d)
		if err != nil {
			return -1, fmt.Errorf("%w: %v", store.ErrInvalidDocument, err)
		}
		if ok {
			return i, nil
		}
	}
	return -1, nil
}

// checkUnique verifies that doc, stored at position self (-1 for a new
// document), violates neither the _id index nor any unique index.
func checkUnique(data *collection, doc store.Document, self int) error {
	for _, spec := range data.indexes {
		if !spec.Unique && spec.Name != store.DefaultIDIndex {
			continue
		}
		key, ok := indexKey(spec, doc)
		if !ok {
			continue
		}
		for i, other := range data.docs {
			if i == self {
				continue
			}
			if otherKey, ok := indexKey(spec, other); ok && query.Equal(key, otherKey) {
				return fmt.Errorf("%w: index %s dup key: %v", store.ErrDuplicateKey, spec.Name, key)
			}
		}
	}
	return nil
}

// indexKey extracts the values spec indexes for doc, with missing fields as
// null. It reports false when the index does not cover doc: a sparse index
// skips documents missing every key and a partial index those not matching
// its filter.
func indexKey(spec store.IndexSpec, doc store.Document) ([]any, bool) {
	if spec.PartialFilter != nil {
		if ok, _ := query.Match(spec.PartialFilter, doc); !ok {
			return nil, false
		}
	}
	vals := make([]any, len(spec.Key))
	present := false
	for i, k := range spec.Key {
		if v, ok := query.GetPath(doc, k.Field); ok {
			vals[i] = v
			present = true
		}
	}
	if !present && spec.Sparse {
		return nil, false
	}
	return vals, true
}

func updateError(err error) error {
	if errors.Is(err, query.ErrImmutableID) {
		return fmt.Errorf("%w: %v", store.ErrImmutableID, err)
	}
	return fmt.Errorf("%w: %v", store.ErrInvalidUpdate, err)
}

func normalize(doc store.Document) store.Document {
	if doc == nil {
		return nil
	}
	return query.Normalize(doc).(store.Document)
}
