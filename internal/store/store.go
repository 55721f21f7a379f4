// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

// Package store defines the document-store abstraction shared by every backend.
//
// A Store hands out Collection handles by name. Collections speak in plain
// Go values (maps, slices, strings, float64/int64, bool, time.Time, nil), the
// same shape a decoded JSON request produces, so callers never see
// backend-specific types.
package store

import (
	"context"
	"time"
)

// Document is a single record. Nested documents are Document values as well
// and arrays are []any.
type Document = map[string]any

// Backend kinds reported by Store.Kind.
const (
	KindMongo     = "mongodb"
	KindMemory    = "memory"
	KindSQLite    = "sqlite"
	KindAerospike = "aerospike"
)

// FindOptions controls a Find call. A zero Limit means unbounded.
type FindOptions struct {
	Projection Document
	Sort       []SortField
	Limit      int64
	Skip       int64
}

// InsertResult reports the outcome of an InsertOne call.
type InsertResult struct {
	InsertedID   any  `json:"insertedId"`
	Acknowledged bool `json:"acknowledged"`
}

// UpdateResult reports the outcome of an UpdateOne call.
type UpdateResult struct {
	Acknowledged  bool  `json:"acknowledged"`
	MatchedCount  int64 `json:"matchedCount"`
	ModifiedCount int64 `json:"modifiedCount"`
	UpsertedCount int64 `json:"upsertedCount"`
	UpsertedID    any   `json:"upsertedId,omitempty"`
}

// DeleteResult reports the outcome of a DeleteOne call.
type DeleteResult struct {
	Acknowledged bool  `json:"acknowledged"`
	DeletedCount int64 `json:"deletedCount"`
}

// Collection is a handle on one physical collection.
type Collection interface {
	Name() string
	Find(ctx context.Context, filter Document, opts FindOptions) ([]Document, error)
	InsertOne(ctx context.Context, doc Document) (*InsertResult, error)
	UpdateOne(ctx context.Context, filter, update Document, upsert bool) (*UpdateResult, error)
	DeleteOne(ctx context.Context, filter Document) (*DeleteResult, error)
	CountDocuments(ctx context.Context, filter Document) (int64, error)
	Aggregate(ctx context.Context, pipeline []Document) ([]Document, error)
	CreateIndex(ctx context.Context, keys IndexKeys, opts IndexOptions) (string, error)
	DropIndex(ctx context.Context, name string) error
	ListIndexes(ctx context.Context) ([]IndexSpec, error)
}

// Store is a connected document store.
type Store interface {
	Kind() string
	Collection(name string) Collection
	ListCollections(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Snapshot is the full persisted state of an embedded store, keyed by
// collection name.
type Snapshot struct {
	Documents map[string][]Document
	Indexes   map[string][]IndexSpec
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Documents: make(map[string][]Document),
		Indexes:   make(map[string][]IndexSpec),
	}
}

// Now returns the timestamp used for soft deletes and date defaults. Stores
// keep millisecond precision, as BSON dates do.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
