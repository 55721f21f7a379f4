// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dringdahl0320/mongo-mcp-server/internal/schema"
	"github.com/dringdahl0320/mongo-mcp-server/internal/store"
)

func TestConstrainsDeleted(t *testing.T) {
	tests := []struct {
		name   string
		filter store.Document
		want   bool
	}{
		{"nil", nil, false},
		{"unrelated", store.Document{"name": "a"}, false},
		{"top level", store.Document{"isDeleted": true}, true},
		{"operator", store.Document{"isDeleted": map[string]any{"$exists": false}}, true},
		{"inside $or", store.Document{"$or": []any{map[string]any{"a": 1}, map[string]any{"isDeleted": true}}}, true},
		{"nested $and", store.Document{"$and": []any{map[string]any{"$nor": []any{map[string]any{"isDeleted": true}}}}}, true},
		{"dotted path is not the flag", store.Document{"meta.isDeleted": true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConstrainsDeleted(tt.filter))
		})
	}
}

func TestExcludeDeleted(t *testing.T) {
	in := store.Document{"name": "a"}
	out := ExcludeDeleted(in)
	assert.Equal(t, store.Document{"name": "a", "isDeleted": map[string]any{"$ne": true}}, out)
	assert.Equal(t, store.Document{"name": "a"}, in, "input is not modified")

	explicit := store.Document{"isDeleted": true}
	assert.Equal(t, explicit, ExcludeDeleted(explicit))

	assert.Equal(t, store.Document{"isDeleted": map[string]any{"$ne": true}}, ExcludeDeleted(nil))
}

func TestExcludeDeletedWrite(t *testing.T) {
	tests := []struct {
		name   string
		filter store.Document
		want   store.Document
	}{
		{"nil", nil, store.Document{"isDeleted": map[string]any{"$ne": true}}},
		{"adds", store.Document{"_id": "a"}, store.Document{"_id": "a", "isDeleted": map[string]any{"$ne": true}}},
		{"overrides caller", store.Document{"_id": "a", "isDeleted": true}, store.Document{"_id": "a", "isDeleted": map[string]any{"$ne": true}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExcludeDeletedWrite(tt.filter))
		})
	}

	in := store.Document{"isDeleted": true}
	ExcludeDeletedWrite(in)
	assert.Equal(t, store.Document{"isDeleted": true}, in, "input is not modified")
}

func TestExcludeDeletedPipeline(t *testing.T) {
	group := store.Document{"$group": map[string]any{"_id": "$category"}}

	out, err := ExcludeDeletedPipeline([]store.Document{group})
	require.NoError(t, err)
	assert.Equal(t, []store.Document{
		{"$match": store.Document{schema.FieldIsDeleted: map[string]any{"$ne": true}}},
		group,
	}, out)

	out, err = ExcludeDeletedPipeline([]store.Document{{"$match": map[string]any{"category": "a"}}, group})
	require.NoError(t, err)
	assert.Equal(t, []store.Document{
		{"$match": store.Document{"category": "a", schema.FieldIsDeleted: map[string]any{"$ne": true}}},
		group,
	}, out)

	// a later $match does not count as the leading filter
	out, err = ExcludeDeletedPipeline([]store.Document{group, {"$match": map[string]any{"n": 1}}})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Contains(t, out[0], "$match")

	explicit := store.Document{"$match": map[string]any{"isDeleted": true}}
	out, err = ExcludeDeletedPipeline([]store.Document{explicit})
	require.NoError(t, err)
	assert.Equal(t, []store.Document{{"$match": store.Document{"isDeleted": true}}}, out)

	for _, bad := range [][]store.Document{
		nil,
		{{}},
		{{"$match": "x"}},
		{{"$match": map[string]any{}, "$sort": map[string]any{}}},
	} {
		_, err := ExcludeDeletedPipeline(bad)
		assert.True(t, IsKind(err, KindInvalidArgument), "%v", bad)
	}
}

func TestNormalizeUpdate(t *testing.T) {
	out, err := NormalizeUpdate(store.Document{"name": "x", "price": 2})
	require.NoError(t, err)
	assert.Equal(t, store.Document{"$set": store.Document{"name": "x", "price": 2}}, out)

	ops := store.Document{"$set": map[string]any{"a": 1}, "$inc": map[string]any{"n": 1}}
	out, err = NormalizeUpdate(ops)
	require.NoError(t, err)
	assert.Equal(t, ops, out)

	_, err = NormalizeUpdate(store.Document{})
	assert.True(t, IsKind(err, KindInvalidArgument))
	_, err = NormalizeUpdate(store.Document{"$set": map[string]any{"a": 1}, "b": 2})
	assert.True(t, IsKind(err, KindInvalidArgument))
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify(nil))
	assert.Equal(t, KindValidation, Classify(&schema.ValidationError{Model: "P", Problems: []string{"x"}}).Kind)
	assert.Equal(t, KindStore, Classify(store.ErrDuplicateKey).Kind)
	assert.Equal(t, KindUnknownTool, Classify(Errorf(KindUnknownTool, "unknown tool %q", "x")).Kind)
}
