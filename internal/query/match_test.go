// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func product() map[string]any {
	return map[string]any{
		"_id":      "p1",
		"name":     "Widget",
		"price":    10.0,
		"qty":      int64(3),
		"tags":     []any{"red", "small"},
		"category": "tools",
		"dims":     map[string]any{"w": 2.0, "h": 5.0},
		"items": []any{
			map[string]any{"sku": "a", "n": 1.0},
			map[string]any{"sku": "b", "n": 4.0},
		},
		"created": time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name   string
		filter map[string]any
		want   bool
	}{
		{"empty filter", map[string]any{}, true},
		{"equality", map[string]any{"name": "Widget"}, true},
		{"equality miss", map[string]any{"name": "Gadget"}, false},
		{"int equals float", map[string]any{"qty": 3.0}, true},
		{"array contains", map[string]any{"tags": "red"}, true},
		{"whole array", map[string]any{"tags": []any{"red", "small"}}, true},
		{"dotted path", map[string]any{"dims.h": 5.0}, true},
		{"array of docs path", map[string]any{"items.sku": "b"}, true},
		{"missing equals null", map[string]any{"missing": nil}, true},
		{"$ne", map[string]any{"name": map[string]any{"$ne": "Gadget"}}, true},
		{"$ne missing field", map[string]any{"isDeleted": map[string]any{"$ne": true}}, true},
		{"$gt", map[string]any{"price": map[string]any{"$gt": 5.0}}, true},
		{"$lte miss", map[string]any{"price": map[string]any{"$lte": 9.0}}, false},
		{"range across types", map[string]any{"name": map[string]any{"$gt": 1.0}}, false},
		{"$gte and $lt", map[string]any{"price": map[string]any{"$gte": 10.0, "$lt": 11.0}}, true},
		{"$in", map[string]any{"category": map[string]any{"$in": []any{"toys", "tools"}}}, true},
		{"$nin", map[string]any{"category": map[string]any{"$nin": []any{"tools"}}}, false},
		{"$exists true", map[string]any{"dims": map[string]any{"$exists": true}}, true},
		{"$exists false", map[string]any{"gone": map[string]any{"$exists": false}}, true},
		{"$regex", map[string]any{"name": map[string]any{"$regex": "^wid", "$options": "i"}}, true},
		{"$regex case", map[string]any{"name": map[string]any{"$regex": "^wid"}}, false},
		{"$not", map[string]any{"price": map[string]any{"$not": map[string]any{"$gt": 50.0}}}, true},
		{"$size", map[string]any{"tags": map[string]any{"$size": 2.0}}, true},
		{"$all", map[string]any{"tags": map[string]any{"$all": []any{"small", "red"}}}, true},
		{"$all miss", map[string]any{"tags": map[string]any{"$all": []any{"small", "blue"}}}, false},
		{"$elemMatch", map[string]any{"items": map[string]any{"$elemMatch": map[string]any{"sku": "b", "n": map[string]any{"$gt": 3.0}}}}, true},
		{"$elemMatch miss", map[string]any{"items": map[string]any{"$elemMatch": map[string]any{"sku": "a", "n": map[string]any{"$gt": 3.0}}}}, false},
		{"$type string", map[string]any{"name": map[string]any{"$type": "string"}}, true},
		{"$type code", map[string]any{"dims": map[string]any{"$type": 3.0}}, true},
		{"$and", map[string]any{"$and": []any{map[string]any{"name": "Widget"}, map[string]any{"qty": 3.0}}}, true},
		{"$or", map[string]any{"$or": []any{map[string]any{"name": "x"}, map[string]any{"qty": 3.0}}}, true},
		{"$nor", map[string]any{"$nor": []any{map[string]any{"name": "x"}, map[string]any{"qty": 3.0}}}, false},
		{"date range", map[string]any{"created": map[string]any{"$gte": "2024-01-01T00:00:00Z"}}, true},
		{"$expr", map[string]any{"$expr": map[string]any{"$gt": []any{"$dims.h", "$dims.w"}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Match(tt.filter, product())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchErrors(t *testing.T) {
	tests := []struct {
		name   string
		filter map[string]any
	}{
		{"unknown top level", map[string]any{"$where": "1"}},
		{"unknown operator", map[string]any{"price": map[string]any{"$near": 1.0}}},
		{"$in not array", map[string]any{"price": map[string]any{"$in": 1.0}}},
		{"$or empty", map[string]any{"$or": []any{}}},
		{"bad regex", map[string]any{"name": map[string]any{"$regex": "("}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Match(tt.filter, product())
			assert.Error(t, err)
		})
	}
}

func TestFilterKeepsOrder(t *testing.T) {
	docs := []map[string]any{
		{"n": 1.0, "isDeleted": true},
		{"n": 2.0},
		{"n": 3.0, "isDeleted": false},
	}
	got, err := Filter(docs, map[string]any{"isDeleted": map[string]any{"$ne": true}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 2.0, got[0]["n"])
	assert.Equal(t, 3.0, got[1]["n"])
}

func TestCompare(t *testing.T) {
	assert.Equal(t, 0, Compare(int64(3), 3.0))
	assert.Equal(t, -1, Compare(nil, 1.0))
	assert.Equal(t, -1, Compare(1.0, "a"))
	assert.Equal(t, 1, Compare("b", "a"))
	assert.Equal(t, -1, Compare([]any{1.0}, []any{1.0, 2.0}))
	assert.True(t, Equal(map[string]any{"a": 1.0}, map[string]any{"a": int64(1)}))
	assert.False(t, Equal("1", 1.0))
}

func TestPaths(t *testing.T) {
	doc := map[string]any{}
	require.NoError(t, SetPath(doc, "a.b.c", 1.0))
	v, ok := GetPath(doc, "a.b.c")
	require.True(t, ok)
	assert.Equal(t, 1.0, v)

	UnsetPath(doc, "a.b.c")
	_, ok = GetPath(doc, "a.b.c")
	assert.False(t, ok)

	doc["s"] = "scalar"
	assert.Error(t, SetPath(doc, "s.x", 1.0))

	vals, ok := GetPath(product(), "items.sku")
	require.True(t, ok)
	assert.Equal(t, []any{"a", "b"}, vals)
}
