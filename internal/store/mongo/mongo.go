// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

// Package mongo implements store.Store on the official MongoDB driver.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/dringdahl0320/mongo-mcp-server/internal/store"
	"github.com/dringdahl0320/mongo-mcp-server/internal/store/extjson"
)

// Options configures Connect.
type Options struct {
	URI        string
	Database   string // overrides the database named in the URI
	Timeout    time.Duration
	MaxRetries int
	AppName    string
}

// Store is a MongoDB database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger
	names  sync.Map // lowercased name -> physical collection name
}

// Connect opens a client, selects the database and pings the server.
func Connect(ctx context.Context, opts Options, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dbName := opts.Database
	if dbName == "" {
		dbName = DatabaseFromURI(opts.URI)
	}
	if dbName == "" {
		return nil, fmt.Errorf("no database named in %q", opts.URI)
	}

	client, err := mongo.Connect(ctx, clientOptions(opts))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}
	s := &Store{client: client, db: client.Database(dbName), logger: logger}
	if err := s.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	logger.Info("connected to MongoDB", "database", dbName)
	return s, nil
}

// clientOptions builds the driver options. Driver retries stay off unless
// MaxRetries is positive, whatever the connection string asks for.
func clientOptions(opts Options) *options.ClientOptions {
	clientOpts := options.Client().ApplyURI(opts.URI)
	if opts.Timeout > 0 {
		clientOpts.SetServerSelectionTimeout(opts.Timeout)
		clientOpts.SetConnectTimeout(opts.Timeout)
	}
	if opts.AppName != "" {
		clientOpts.SetAppName(opts.AppName)
	}
	clientOpts.SetRetryReads(opts.MaxRetries > 0)
	clientOpts.SetRetryWrites(opts.MaxRetries > 0)
	return clientOpts
}

// DatabaseFromURI returns the database path segment of a connection string.
func DatabaseFromURI(uri string) string {
	rest := uri
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return ""
	}
	name := rest[slash+1:]
	if q := strings.IndexAny(name, "?#"); q >= 0 {
		name = name[:q]
	}
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}
	return name
}

// Kind reports the backend kind.
func (s *Store) Kind() string { return store.KindMongo }

// Collection returns a handle on the named collection. The name is matched
// against existing collections ignoring case when the handle is first used.
func (s *Store) Collection(name string) store.Collection {
	return &Collection{store: s, name: name}
}

// physicalName resolves name to an existing collection that differs only in
// case. Unknown names are returned unchanged.
func (s *Store) physicalName(ctx context.Context, name string) (string, error) {
	key := strings.ToLower(name)
	if v, ok := s.names.Load(key); ok {
		return v.(string), nil
	}
	existing, err := s.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return "", fmt.Errorf("listing collections: %w", err)
	}
	physical, ok := matchName(existing, name)
	if ok {
		s.names.Store(key, physical)
	}
	return physical, nil
}

// matchName picks the collection in existing that name refers to: an exact
// match, else the first case-insensitive match in sorted order.
func matchName(existing []string, name string) (string, bool) {
	sorted := append([]string(nil), existing...)
	sort.Strings(sorted)
	folded := ""
	for _, n := range sorted {
		if n == name {
			return n, true
		}
		if folded == "" && strings.EqualFold(n, name) {
			folded = n
		}
	}
	if folded != "" {
		return folded, true
	}
	return name, false
}

// ListCollections lists the database's collections, sorted.
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Ping checks the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("pinging MongoDB: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Collection is a MongoDB collection.
type Collection struct {
	store *Store
	name  string
}

// Name returns the requested collection name.
func (c *Collection) Name() string { return c.name }

func (c *Collection) handle(ctx context.Context) (*mongo.Collection, error) {
	name, err := c.store.physicalName(ctx, c.name)
	if err != nil {
		return nil, wrap(err)
	}
	return c.store.db.Collection(name), nil
}

// Find runs a query and lowers the results to plain documents.
func (c *Collection) Find(ctx context.Context, filter store.Document, opts store.FindOptions) ([]store.Document, error) {
	coll, err := c.handle(ctx)
	if err != nil {
		return nil, err
	}
	f, err := Filter(filter)
	if err != nil {
		return nil, err
	}
	findOpts := options.Find()
	if len(opts.Projection) > 0 {
		proj, err := extjson.ToDocument(opts.Projection)
		if err != nil {
			return nil, fmt.Errorf("%w: projection: %v", store.ErrInvalidDocument, err)
		}
		findOpts.SetProjection(proj)
	}
	if len(opts.Sort) > 0 {
		findOpts.SetSort(SortDocument(opts.Sort))
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(opts.Limit)
	}
	if opts.Skip > 0 {
		findOpts.SetSkip(opts.Skip)
	}
	cur, err := coll.Find(ctx, f, findOpts)
	if err != nil {
		return nil, wrap(err)
	}
	return drain(ctx, cur)
}

// InsertOne inserts doc. An _id given as a 24-digit hex string is stored as
// an ObjectID.
func (c *Collection) InsertOne(ctx context.Context, doc store.Document) (*store.InsertResult, error) {
	coll, err := c.handle(ctx)
	if err != nil {
		return nil, err
	}
	d, err := extjson.ToDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidDocument, err)
	}
	coerceID(d)
	res, err := coll.InsertOne(ctx, d)
	if err != nil {
		return nil, wrap(err)
	}
	return &store.InsertResult{InsertedID: extjson.Lower(res.InsertedID), Acknowledged: true}, nil
}

// UpdateOne updates the first matching document.
func (c *Collection) UpdateOne(ctx context.Context, filter, update store.Document, upsert bool) (*store.UpdateResult, error) {
	coll, err := c.handle(ctx)
	if err != nil {
		return nil, err
	}
	f, err := Filter(filter)
	if err != nil {
		return nil, err
	}
	u, err := extjson.ToDocument(update)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidUpdate, err)
	}
	res, err := coll.UpdateOne(ctx, f, u, options.Update().SetUpsert(upsert))
	if err != nil {
		return nil, wrap(err)
	}
	out := &store.UpdateResult{
		Acknowledged:  true,
		MatchedCount:  res.MatchedCount,
		ModifiedCount: res.ModifiedCount,
		UpsertedCount: res.UpsertedCount,
	}
	if res.UpsertedID != nil {
		out.UpsertedID = extjson.Lower(res.UpsertedID)
	}
	return out, nil
}

// DeleteOne removes the first matching document.
func (c *Collection) DeleteOne(ctx context.Context, filter store.Document) (*store.DeleteResult, error) {
	coll, err := c.handle(ctx)
	if err != nil {
		return nil, err
	}
	f, err := Filter(filter)
	if err != nil {
		return nil, err
	}
	res, err := coll.DeleteOne(ctx, f)
	if err != nil {
		return nil, wrap(err)
	}
	return &store.DeleteResult{Acknowledged: true, DeletedCount: res.DeletedCount}, nil
}

// CountDocuments counts matching documents.
func (c *Collection) CountDocuments(ctx context.Context, filter store.Document) (int64, error) {
	coll, err := c.handle(ctx)
	if err != nil {
		return 0, err
	}
	f, err := Filter(filter)
	if err != nil {
		return 0, err
	}
	n, err := coll.CountDocuments(ctx, f)
	if err != nil {
		return 0, wrap(err)
	}
	return n, nil
}

// Aggregate runs a pipeline.
func (c *Collection) Aggregate(ctx context.Context, pipeline []store.Document) ([]store.Document, error) {
	coll, err := c.handle(ctx)
	if err != nil {
		return nil, err
	}
	stages := make(bson.A, len(pipeline))
	for i, st := range pipeline {
		d, err := extjson.ToDocument(st)
		if err != nil {
			return nil, fmt.Errorf("%w: stage %d: %v", store.ErrInvalidDocument, i, err)
		}
		if m, ok := d["$match"].(bson.M); ok {
			coerceID(m)
		}
		stages[i] = d
	}
	cur, err := coll.Aggregate(ctx, stages)
	if err != nil {
		return nil, wrap(err)
	}
	return drain(ctx, cur)
}

// CreateIndex creates an index and returns its name.
func (c *Collection) CreateIndex(ctx context.Context, keys store.IndexKeys, opts store.IndexOptions) (string, error) {
	coll, err := c.handle(ctx)
	if err != nil {
		return "", err
	}
	idxOpts := options.Index()
	if opts.Name != "" {
		idxOpts.SetName(opts.Name)
	}
	if opts.Unique {
		idxOpts.SetUnique(true)
	}
	if opts.Sparse {
		idxOpts.SetSparse(true)
	}
	if opts.ExpireAfterSeconds != nil {
		idxOpts.SetExpireAfterSeconds(*opts.ExpireAfterSeconds)
	}
	if opts.PartialFilter != nil {
		pf, err := extjson.ToDocument(opts.PartialFilter)
		if err != nil {
			return "", fmt.Errorf("%w: partialFilterExpression: %v", store.ErrInvalidDocument, err)
		}
		idxOpts.SetPartialFilterExpression(pf)
	}
	name, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: KeysDocument(keys), Options: idxOpts})
	if err != nil {
		return "", wrap(err)
	}
	return name, nil
}

// DropIndex drops a named index.
func (c *Collection) DropIndex(ctx context.Context, name string) error {
	coll, err := c.handle(ctx)
	if err != nil {
		return err
	}
	if _, err := coll.Indexes().DropOne(ctx, name); err != nil {
		return wrap(err)
	}
	return nil
}

// ListIndexes lists the collection's indexes.
func (c *Collection) ListIndexes(ctx context.Context) ([]store.IndexSpec, error) {
	coll, err := c.handle(ctx)
	if err != nil {
		return nil, err
	}
	cur, err := coll.Indexes().List(ctx)
	if err != nil {
		return nil, wrap(err)
	}
	defer cur.Close(ctx)

	var specs []store.IndexSpec
	for cur.Next(ctx) {
		var raw bson.D
		if err := cur.Decode(&raw); err != nil {
			return nil, err
		}
		specs = append(specs, IndexSpecFromBSON(raw))
	}
	return specs, wrap(cur.Err())
}

// Filter converts a plain filter into BSON, decoding Extended JSON type
// wrappers and coercing a hex string _id to an ObjectID.
func Filter(filter store.Document) (bson.M, error) {
	f, err := extjson.ToDocument(filter)
	if err != nil {
		return nil, fmt.Errorf("%w: filter: %v", store.ErrInvalidDocument, err)
	}
	coerceID(f)
	return f, nil
}

// coerceID replaces a 24-digit hex string _id (directly or under $eq, $ne,
// $in or $nin) with the matching ObjectID.
func coerceID(m bson.M) {
	v, ok := m["_id"]
	if !ok {
		return
	}
	m["_id"] = coerceValue(v)
}

func coerceValue(v any) any {
	switch t := v.(type) {
	case string:
		if oid, err := primitive.ObjectIDFromHex(t); err == nil {
			return oid
		}
	case bson.M:
		for _, op := range []string{"$eq", "$ne"} {
			if inner, ok := t[op]; ok {
				t[op] = coerceValue(inner)
			}
		}
		for _, op := range []string{"$in", "$nin"} {
			if arr, ok := t[op].(bson.A); ok {
				for i := range arr {
					arr[i] = coerceValue(arr[i])
				}
			}
		}
	}
	return v
}

// SortDocument renders an ordered sort specification.
func SortDocument(fields []store.SortField) bson.D {
	d := make(bson.D, len(fields))
	for i, f := range fields {
		d[i] = bson.E{Key: f.Field, Value: f.Direction}
	}
	return d
}

// KeysDocument renders an ordered index key specification.
func KeysDocument(keys store.IndexKeys) bson.D {
	d := make(bson.D, len(keys))
	for i, k := range keys {
		d[i] = bson.E{Key: k.Field, Value: k.Value}
	}
	return d
}

// IndexSpecFromBSON converts a listIndexes entry.
func IndexSpecFromBSON(raw bson.D) store.IndexSpec {
	var spec store.IndexSpec
	for _, e := range raw {
		switch e.Key {
		case "v":
			if n, ok := extjson.Lower(e.Value).(int64); ok {
				spec.Version = int(n)
			}
		case "name":
			spec.Name, _ = e.Value.(string)
		case "key":
			if kd, ok := e.Value.(bson.D); ok {
				for _, k := range kd {
					spec.Key = append(spec.Key, store.IndexKey{Field: k.Key, Value: store.NormalizeIndexValue(extjson.Lower(k.Value))})
				}
			}
		case "unique":
			spec.Unique, _ = e.Value.(bool)
		case "sparse":
			spec.Sparse, _ = e.Value.(bool)
		case "expireAfterSeconds":
			if n, ok := extjson.Lower(e.Value).(int64); ok {
				secs := int32(n)
				spec.ExpireAfterSeconds = &secs
			}
		case "partialFilterExpression":
			if m, ok := extjson.Lower(e.Value).(map[string]any); ok {
				spec.PartialFilter = m
			}
		}
	}
	return spec
}

func drain(ctx context.Context, cur *mongo.Cursor) ([]store.Document, error) {
	defer cur.Close(ctx)
	out := []store.Document{}
	for cur.Next(ctx) {
		var raw bson.D
		if err := cur.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decoding result: %w", err)
		}
		out = append(out, extjson.Lower(raw).(map[string]any))
	}
	if err := cur.Err(); err != nil {
		return nil, wrap(err)
	}
	return out, nil
}

// wrap maps driver errors onto the store sentinels.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %v", store.ErrDuplicateKey, err)
	case isCommandError(err, 27, "IndexNotFound"):
		return fmt.Errorf("%w: %v", store.ErrIndexNotFound, err)
	case isCommandError(err, 85, "IndexOptionsConflict"), isCommandError(err, 86, "IndexKeySpecsConflict"):
		return fmt.Errorf("%w: %v", store.ErrIndexConflict, err)
	case isCommandError(err, 66, "ImmutableField"):
		return fmt.Errorf("%w: %v", store.ErrImmutableID, err)
	}
	return err
}

func isCommandError(err error, code int32, name string) bool {
	var ce mongo.CommandError
	if errors.As(err, &ce) {
		return ce.Code == code || ce.Name == name
	}
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if int32(e.Code) == code {
				return true
			}
		}
	}
	return false
}
