// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package mongo

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/dringdahl0320/mongo-mcp-server/internal/store"
)

func TestDatabaseFromURI(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{"mongodb://localhost:27017/shop", "shop"},
		{"mongodb://u:p@a:1,b:2/shop?replicaSet=rs0", "shop"},
		{"mongodb+srv://cluster.example.net/app%2Ddb?retryWrites=true", "app-db"},
		{"mongodb://localhost:27017", ""},
		{"mongodb://localhost:27017/?tls=true", ""},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			assert.Equal(t, tt.want, DatabaseFromURI(tt.uri))
		})
	}
}

func TestMatchName(t *testing.T) {
	existing := []string{"Widgets", "orders", "ORDERS"}
	tests := []struct {
		name  string
		want  string
		found bool
	}{
		{"widgets", "Widgets", true},
		{"WIDGETS", "Widgets", true},
		{"orders", "orders", true},
		{"ORDERS", "ORDERS", true},
		{"Orders", "ORDERS", true},
		{"gadgets", "gadgets", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := matchName(existing, tt.name)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.found, found)
		})
	}
	assert.Equal(t, []string{"Widgets", "orders", "ORDERS"}, existing, "input is not reordered")
}

func TestClientOptionsRetries(t *testing.T) {
	uri := "mongodb://localhost:27017/shop?retryWrites=true&retryReads=true"

	opts := clientOptions(Options{URI: uri})
	require.NotNil(t, opts.RetryReads)
	require.NotNil(t, opts.RetryWrites)
	assert.False(t, *opts.RetryReads)
	assert.False(t, *opts.RetryWrites)

	opts = clientOptions(Options{URI: uri, MaxRetries: 1})
	assert.True(t, *opts.RetryReads)
	assert.True(t, *opts.RetryWrites)
}

func TestFilterCoercesObjectID(t *testing.T) {
	hex := "507f1f77bcf86cd799439011"
	oid, err := primitive.ObjectIDFromHex(hex)
	require.NoError(t, err)

	f, err := Filter(store.Document{"_id": hex, "name": hex})
	require.NoError(t, err)
	assert.Equal(t, oid, f["_id"])
	assert.Equal(t, hex, f["name"], "only _id is coerced")

	f, err = Filter(store.Document{"_id": map[string]any{"$in": []any{hex, "plain"}}})
	require.NoError(t, err)
	in := f["_id"].(bson.M)["$in"].(bson.A)
	assert.Equal(t, oid, in[0])
	assert.Equal(t, "plain", in[1])

	f, err = Filter(store.Document{"_id": "not-hex"})
	require.NoError(t, err)
	assert.Equal(t, "not-hex", f["_id"])
}

func TestFilterDecodesWrappers(t *testing.T) {
	f, err := Filter(store.Document{"createdAt": map[string]any{"$gte": map[string]any{"$date": "2024-01-01T00:00:00Z"}}})
	require.NoError(t, err)
	gte := f["createdAt"].(bson.M)["$gte"]
	assert.IsType(t, primitive.DateTime(0), gte)
}

func TestSortAndKeysDocuments(t *testing.T) {
	sortDoc := SortDocument([]store.SortField{{Field: "b", Direction: -1}, {Field: "a", Direction: 1}})
	assert.Equal(t, bson.D{{Key: "b", Value: -1}, {Key: "a", Value: 1}}, sortDoc)

	keys := KeysDocument(store.IndexKeys{{Field: "title", Value: "text"}, {Field: "year", Value: -1}})
	assert.Equal(t, bson.D{{Key: "title", Value: "text"}, {Key: "year", Value: -1}}, keys)
}

func TestIndexSpecFromBSON(t *testing.T) {
	raw := bson.D{
		{Key: "v", Value: int32(2)},
		{Key: "key", Value: bson.D{{Key: "email", Value: int32(1)}, {Key: "age", Value: float64(-1)}}},
		{Key: "name", Value: "email_1_age_-1"},
		{Key: "unique", Value: true},
		{Key: "expireAfterSeconds", Value: int32(60)},
	}
	spec := IndexSpecFromBSON(raw)
	assert.Equal(t, 2, spec.Version)
	assert.Equal(t, "email_1_age_-1", spec.Name)
	assert.Equal(t, store.IndexKeys{{Field: "email", Value: 1}, {Field: "age", Value: -1}}, spec.Key)
	assert.True(t, spec.Unique)
	require.NotNil(t, spec.ExpireAfterSeconds)
	assert.Equal(t, int32(60), *spec.ExpireAfterSeconds)
}

func TestWrap(t *testing.T) {
	assert.NoError(t, wrap(nil))

	dup := mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000, Message: "E11000 duplicate key"}}}
	assert.ErrorIs(t, wrap(dup), store.ErrDuplicateKey)

	missing := mongo.CommandError{Code: 27, Name: "IndexNotFound", Message: "index not found with name [x_1]"}
	assert.ErrorIs(t, wrap(missing), store.ErrIndexNotFound)

	conflict := mongo.CommandError{Code: 85, Name: "IndexOptionsConflict"}
	assert.ErrorIs(t, wrap(conflict), store.ErrIndexConflict)

	other := errors.New("boom")
	assert.Equal(t, other, wrap(other))
}
