// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orders() []map[string]any {
	return []map[string]any{
		{"_id": "1", "category": "a", "price": 10.0, "qty": int64(1), "tags": []any{"x", "y"}},
		{"_id": "2", "category": "b", "price": 20.0, "qty": int64(2), "tags": []any{"y"}},
		{"_id": "3", "category": "a", "price": 30.0, "qty": int64(3), "tags": []any{}},
		{"_id": "4", "category": "a", "price": 40.0, "qty": int64(4), "isDeleted": true},
	}
}

func TestAggregateGroup(t *testing.T) {
	out, err := Aggregate(orders(), []map[string]any{
		{"$match": map[string]any{"isDeleted": map[string]any{"$ne": true}}},
		{"$group": map[string]any{
			"_id":   "$category",
			"total": map[string]any{"$sum": "$price"},
			"avg":   map[string]any{"$avg": "$price"},
			"n":     map[string]any{"$sum": 1.0},
			"max":   map[string]any{"$max": "$qty"},
			"ids":   map[string]any{"$push": "$_id"},
			"first": map[string]any{"$first": "$_id"},
		}},
		{"$sort": map[string]any{"_id": 1.0}},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "a", out[0]["_id"])
	assert.Equal(t, 40.0, out[0]["total"])
	assert.Equal(t, 20.0, out[0]["avg"])
	assert.Equal(t, 2.0, out[0]["n"])
	assert.Equal(t, int64(3), out[0]["max"])
	assert.Equal(t, []any{"1", "3"}, out[0]["ids"])
	assert.Equal(t, "1", out[0]["first"])

	assert.Equal(t, "b", out[1]["_id"])
	assert.Equal(t, 20.0, out[1]["total"])
}

func TestAggregateStages(t *testing.T) {
	t.Run("project and addFields", func(t *testing.T) {
		out, err := Aggregate(orders()[:1], []map[string]any{
			{"$addFields": map[string]any{"value": map[string]any{"$multiply": []any{"$price", "$qty"}}}},
			{"$project": map[string]any{"_id": 0.0, "value": 1.0}},
		})
		require.NoError(t, err)
		assert.Equal(t, []map[string]any{{"value": 10.0}}, out)
	})

	t.Run("unwind", func(t *testing.T) {
		out, err := Aggregate(orders(), []map[string]any{{"$unwind": "$tags"}})
		require.NoError(t, err)
		require.Len(t, out, 3)
		assert.Equal(t, "x", out[0]["tags"])
	})

	t.Run("unwind preserving empty", func(t *testing.T) {
		out, err := Aggregate(orders(), []map[string]any{
			{"$unwind": map[string]any{"path": "$tags", "preserveNullAndEmptyArrays": true}},
		})
		require.NoError(t, err)
		assert.Len(t, out, 5)
	})

	t.Run("sort skip limit", func(t *testing.T) {
		out, err := Aggregate(orders(), []map[string]any{
			{"$sort": map[string]any{"price": -1.0}},
			{"$skip": 1.0},
			{"$limit": 2.0},
		})
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, "3", out[0]["_id"])
		assert.Equal(t, "2", out[1]["_id"])
	})

	t.Run("count", func(t *testing.T) {
		out, err := Aggregate(orders(), []map[string]any{
			{"$match": map[string]any{"category": "a"}},
			{"$count": "total"},
		})
		require.NoError(t, err)
		assert.Equal(t, []map[string]any{{"total": int64(3)}}, out)
	})

	t.Run("replaceRoot", func(t *testing.T) {
		docs := []map[string]any{{"_id": "1", "inner": map[string]any{"k": "v"}}}
		out, err := Aggregate(docs, []map[string]any{{"$replaceRoot": map[string]any{"newRoot": "$inner"}}})
		require.NoError(t, err)
		assert.Equal(t, []map[string]any{{"k": "v"}}, out)
	})

	t.Run("unset", func(t *testing.T) {
		out, err := Aggregate(orders()[:1], []map[string]any{{"$unset": []any{"tags", "qty"}}})
		require.NoError(t, err)
		assert.NotContains(t, out[0], "tags")
		assert.NotContains(t, out[0], "qty")
	})

	t.Run("input untouched", func(t *testing.T) {
		docs := orders()
		_, err := Aggregate(docs, []map[string]any{{"$set": map[string]any{"price": 0.0}}})
		require.NoError(t, err)
		assert.Equal(t, 10.0, docs[0]["price"])
	})
}

func TestAggregateErrors(t *testing.T) {
	tests := []struct {
		name     string
		pipeline []map[string]any
	}{
		{"two operators", []map[string]any{{"$match": map[string]any{}, "$limit": 1.0}}},
		{"not an operator", []map[string]any{{"match": map[string]any{}}}},
		{"unknown stage", []map[string]any{{"$lookup": map[string]any{}}}},
		{"group without id", []map[string]any{{"$group": map[string]any{"n": map[string]any{"$sum": 1.0}}}}},
		{"unknown accumulator", []map[string]any{{"$group": map[string]any{"_id": nil, "n": map[string]any{"$median": "$price"}}}}},
		{"bad sort", []map[string]any{{"$sort": map[string]any{"price": 2.0}}}},
		{"negative limit", []map[string]any{{"$limit": -1.0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Aggregate(orders(), tt.pipeline)
			assert.Error(t, err)
		})
	}
}

func TestEval(t *testing.T) {
	doc := map[string]any{"a": int64(6), "b": 4.0, "s": "Hi", "arr": []any{1.0, 2.0}}
	tests := []struct {
		name string
		expr any
		want any
	}{
		{"field", "$s", "Hi"},
		{"literal", map[string]any{"$literal": "$s"}, "$s"},
		{"add ints", map[string]any{"$add": []any{"$a", int64(1)}}, int64(7)},
		{"subtract", map[string]any{"$subtract": []any{"$a", "$b"}}, 2.0},
		{"divide", map[string]any{"$divide": []any{"$a", 3.0}}, 2.0},
		{"mod", map[string]any{"$mod": []any{"$a", int64(4)}}, int64(2)},
		{"concat", map[string]any{"$concat": []any{"$s", " there"}}, "Hi there"},
		{"lower", map[string]any{"$toLower": "$s"}, "hi"},
		{"ifNull", map[string]any{"$ifNull": []any{"$missing", "dflt"}}, "dflt"},
		{"size", map[string]any{"$size": "$arr"}, int64(2)},
		{"cond", map[string]any{"$cond": map[string]any{"if": map[string]any{"$gt": []any{"$a", "$b"}}, "then": "big", "else": "small"}}, "big"},
		{"in", map[string]any{"$in": []any{2.0, "$arr"}}, true},
		{"and", map[string]any{"$and": []any{true, "$missing"}}, false},
		{"toString", map[string]any{"$toString": "$b"}, "4"},
		{"nested doc", map[string]any{"x": "$s"}, map[string]any{"x": "Hi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Eval(tt.expr, doc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Eval(map[string]any{"$divide": []any{1.0, 0.0}}, doc)
	assert.Error(t, err)
	_, err = Eval(map[string]any{"$nope": 1.0}, doc)
	assert.Error(t, err)
}
