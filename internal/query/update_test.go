// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyUpdate(t *testing.T) {
	tests := []struct {
		name   string
		update map[string]any
		check  func(t *testing.T, doc map[string]any)
	}{
		{
			name:   "$set nested",
			update: map[string]any{"$set": map[string]any{"dims.d": 1.0, "name": "Gizmo"}},
			check: func(t *testing.T, doc map[string]any) {
				assert.Equal(t, "Gizmo", doc["name"])
				assert.Equal(t, 1.0, doc["dims"].(map[string]any)["d"])
			},
		},
		{
			name:   "$unset",
			update: map[string]any{"$unset": map[string]any{"category": ""}},
			check: func(t *testing.T, doc map[string]any) {
				assert.NotContains(t, doc, "category")
			},
		},
		{
			name:   "$inc keeps integers",
			update: map[string]any{"$inc": map[string]any{"qty": int64(2), "fresh": int64(1)}},
			check: func(t *testing.T, doc map[string]any) {
				assert.Equal(t, int64(5), doc["qty"])
				assert.Equal(t, int64(1), doc["fresh"])
			},
		},
		{
			name:   "$mul",
			update: map[string]any{"$mul": map[string]any{"price": 1.5}},
			check: func(t *testing.T, doc map[string]any) {
				assert.Equal(t, 15.0, doc["price"])
			},
		},
		{
			name:   "$min and $max",
			update: map[string]any{"$min": map[string]any{"price": 4.0}, "$max": map[string]any{"qty": int64(1)}},
			check: func(t *testing.T, doc map[string]any) {
				assert.Equal(t, 4.0, doc["price"])
				assert.Equal(t, int64(3), doc["qty"])
			},
		},
		{
			name:   "$rename",
			update: map[string]any{"$rename": map[string]any{"category": "kind"}},
			check: func(t *testing.T, doc map[string]any) {
				assert.NotContains(t, doc, "category")
				assert.Equal(t, "tools", doc["kind"])
			},
		},
		{
			name:   "$push $each",
			update: map[string]any{"$push": map[string]any{"tags": map[string]any{"$each": []any{"blue", "red"}}}},
			check: func(t *testing.T, doc map[string]any) {
				assert.Equal(t, []any{"red", "small", "blue", "red"}, doc["tags"])
			},
		},
		{
			name:   "$addToSet",
			update: map[string]any{"$addToSet": map[string]any{"tags": map[string]any{"$each": []any{"blue", "red"}}}},
			check: func(t *testing.T, doc map[string]any) {
				assert.Equal(t, []any{"red", "small", "blue"}, doc["tags"])
			},
		},
		{
			name:   "$pull by value",
			update: map[string]any{"$pull": map[string]any{"tags": "red"}},
			check: func(t *testing.T, doc map[string]any) {
				assert.Equal(t, []any{"small"}, doc["tags"])
			},
		},
		{
			name:   "$pull by condition",
			update: map[string]any{"$pull": map[string]any{"items": map[string]any{"n": map[string]any{"$gt": 2.0}}}},
			check: func(t *testing.T, doc map[string]any) {
				require.Len(t, doc["items"], 1)
			},
		},
		{
			name:   "$pop first",
			update: map[string]any{"$pop": map[string]any{"tags": -1.0}},
			check: func(t *testing.T, doc map[string]any) {
				assert.Equal(t, []any{"small"}, doc["tags"])
			},
		},
		{
			name:   "$currentDate",
			update: map[string]any{"$currentDate": map[string]any{"touched": true}},
			check: func(t *testing.T, doc map[string]any) {
				assert.IsType(t, time.Time{}, doc["touched"])
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := product()
			changed, err := ApplyUpdate(doc, tt.update, false)
			require.NoError(t, err)
			assert.True(t, changed)
			tt.check(t, doc)
		})
	}
}

func TestApplyUpdateNoChange(t *testing.T) {
	doc := product()
	changed, err := ApplyUpdate(doc, map[string]any{"$set": map[string]any{"name": "Widget"}}, false)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = ApplyUpdate(doc, map[string]any{"$setOnInsert": map[string]any{"name": "Other"}}, false)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "Widget", doc["name"])
}

func TestApplyUpdateErrors(t *testing.T) {
	tests := []struct {
		name   string
		update map[string]any
	}{
		{"empty", map[string]any{}},
		{"not an operator", map[string]any{"name": "x"}},
		{"unknown operator", map[string]any{"$frob": map[string]any{"a": 1.0}}},
		{"inc non numeric", map[string]any{"$inc": map[string]any{"name": 1.0}}},
		{"push to scalar", map[string]any{"$push": map[string]any{"name": "x"}}},
		{"change id", map[string]any{"$set": map[string]any{"_id": "p2"}}},
		{"unset id", map[string]any{"$unset": map[string]any{"_id": ""}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ApplyUpdate(product(), tt.update, false)
			assert.Error(t, err)
		})
	}
}

func TestSeedFromFilter(t *testing.T) {
	doc := SeedFromFilter(map[string]any{
		"sku":       "abc",
		"price":     map[string]any{"$gt": 1.0},
		"kind":      map[string]any{"$eq": "tool"},
		"isDeleted": map[string]any{"$ne": true},
		"$and":      []any{map[string]any{"meta.color": "red"}},
	})
	assert.Equal(t, map[string]any{
		"sku":  "abc",
		"kind": "tool",
		"meta": map[string]any{"color": "red"},
	}, doc)
}

func TestProject(t *testing.T) {
	doc := product()

	got, err := Project(doc, map[string]any{"name": 1.0, "dims.w": 1.0})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"_id": "p1", "name": "Widget", "dims": map[string]any{"w": 2.0}}, got)

	got, err = Project(doc, map[string]any{"name": 1.0, "_id": 0.0})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Widget"}, got)

	got, err = Project(doc, map[string]any{"tags": 0.0, "items": false, "created": 0.0, "dims": 0.0})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"_id": "p1", "name": "Widget", "price": 10.0, "qty": int64(3), "category": "tools"}, got)

	got, err = Project(doc, map[string]any{"label": map[string]any{"$toUpper": "$name"}})
	require.NoError(t, err)
	assert.Equal(t, "WIDGET", got["label"])

	_, err = Project(doc, map[string]any{"name": 1.0, "price": 0.0})
	assert.Error(t, err)
}

func TestSortDocuments(t *testing.T) {
	docs := []map[string]any{
		{"n": 2.0, "s": "b"},
		{"n": 1.0, "s": "b"},
		{"s": "a"},
		{"n": 3.0, "s": "a"},
	}
	SortDocuments(docs, []SortKey{{Field: "s", Direction: 1}, {Field: "n", Direction: -1}})
	assert.Equal(t, []map[string]any{
		{"n": 3.0, "s": "a"},
		{"s": "a"},
		{"n": 2.0, "s": "b"},
		{"n": 1.0, "s": "b"},
	}, docs)
}
