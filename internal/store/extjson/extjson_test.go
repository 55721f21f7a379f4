// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package extjson

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestRoundTrip(t *testing.T) {
	when := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	doc := map[string]any{
		"_id":   "abc",
		"n":     int64(42),
		"price": 9.5,
		"when":  when,
		"tags":  []any{"a", "b"},
		"meta":  map[string]any{"ok": true, "none": nil},
	}
	data, err := Marshal(doc)
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, doc, got)
}

func TestToBSON(t *testing.T) {
	oid := primitive.NewObjectID()
	v, err := ToBSON(map[string]any{
		"_id":  map[string]any{"$oid": oid.Hex()},
		"when": map[string]any{"$date": "2024-01-02T03:04:05Z"},
		"list": []any{map[string]any{"$numberLong": "7"}},
	})
	require.NoError(t, err)

	m := v.(bson.M)
	assert.Equal(t, oid, m["_id"])
	assert.IsType(t, primitive.DateTime(0), m["when"])
	assert.Equal(t, bson.A{int64(7)}, m["list"])

	_, err = ToBSON(map[string]any{"$oid": "not-hex"})
	assert.Error(t, err)

	_, err = ToDocument(map[string]any{"$oid": oid.Hex()})
	assert.Error(t, err)
}

func TestLower(t *testing.T) {
	oid := primitive.NewObjectID()
	when := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got := Lower(bson.D{
		{Key: "_id", Value: oid},
		{Key: "at", Value: primitive.NewDateTimeFromTime(when)},
		{Key: "n", Value: int32(3)},
		{Key: "sub", Value: bson.M{"list": bson.A{int32(1), "x"}}},
		{Key: "null", Value: primitive.Null{}},
	})
	assert.Equal(t, map[string]any{
		"_id":  oid.Hex(),
		"at":   when,
		"n":    int64(3),
		"sub":  map[string]any{"list": []any{int64(1), "x"}},
		"null": nil,
	}, got)
}
