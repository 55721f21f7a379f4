// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

// Package extjson converts between plain Go documents and BSON values using
// MongoDB Extended JSON. It lets request values such as {"$oid": "..."} or
// {"$date": "..."} reach the driver as typed BSON, and turns driver results
// back into plain values.
package extjson

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Type wrapper keys recognised when converting plain values to BSON.
var wrapperKeys = map[string]bool{
	"$oid":               true,
	"$date":              true,
	"$numberLong":        true,
	"$numberInt":         true,
	"$numberDouble":      true,
	"$numberDecimal":     true,
	"$binary":            true,
	"$uuid":              true,
	"$regularExpression": true,
	"$timestamp":         true,
	"$minKey":            true,
	"$maxKey":            true,
}

// Marshal encodes a document as canonical Extended JSON, which round-trips
// every value type exactly.
func Marshal(doc map[string]any) ([]byte, error) {
	return bson.MarshalExtJSON(doc, true, false)
}

// Unmarshal decodes Extended JSON produced by Marshal into a plain document.
func Unmarshal(data []byte) (map[string]any, error) {
	var m bson.M
	if err := bson.UnmarshalExtJSON(data, true, &m); err != nil {
		return nil, err
	}
	doc, ok := Lower(m).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("extjson: expected a document")
	}
	return doc, nil
}

// ToBSON converts a plain value into its BSON form. Documents become bson.M,
// arrays bson.A, and single-key Extended JSON type wrappers are decoded into
// the BSON type they describe.
func ToBSON(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 1 {
			for k := range t {
				if wrapperKeys[k] {
					return decodeWrapper(t)
				}
			}
		}
		out := make(bson.M, len(t))
		for k, val := range t {
			conv, err := ToBSON(val)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = conv
		}
		return out, nil
	case []any:
		out := make(bson.A, len(t))
		for i, val := range t {
			conv, err := ToBSON(val)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = conv
		}
		return out, nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		return t.Float64()
	}
	return v, nil
}

// ToDocument converts a plain document into bson.M.
func ToDocument(doc map[string]any) (bson.M, error) {
	if doc == nil {
		return bson.M{}, nil
	}
	v, err := ToBSON(doc)
	if err != nil {
		return nil, err
	}
	m, ok := v.(bson.M)
	if !ok {
		// a lone wrapper such as {"$oid": ..} is not a document
		return nil, fmt.Errorf("extjson: expected a document, got %T", v)
	}
	return m, nil
}

func decodeWrapper(w map[string]any) (any, error) {
	data, err := json.Marshal(map[string]any{"v": w})
	if err != nil {
		return nil, err
	}
	var holder bson.M
	if err := bson.UnmarshalExtJSON(data, false, &holder); err != nil {
		return nil, fmt.Errorf("invalid extended JSON value: %w", err)
	}
	return holder["v"], nil
}

// Lower converts driver values into plain Go values: documents become
// map[string]any, arrays []any, ObjectIDs hex strings, dates time.Time and
// 32-bit integers int64.
func Lower(v any) any {
	switch t := v.(type) {
	case bson.M:
		return lowerMap(t)
	case map[string]any:
		return lowerMap(t)
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = Lower(e.Value)
		}
		return out
	case bson.A:
		return lowerSlice(t)
	case []any:
		return lowerSlice(t)
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC()
	case time.Time:
		return t.UTC()
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case primitive.Decimal128:
		return t.String()
	case primitive.Binary:
		return base64.StdEncoding.EncodeToString(t.Data)
	case primitive.Regex:
		return map[string]any{"$regex": t.Pattern, "$options": t.Options}
	case primitive.Timestamp:
		return time.Unix(int64(t.T), 0).UTC()
	case primitive.Null, primitive.Undefined:
		return nil
	case primitive.MinKey, primitive.MaxKey:
		return fmt.Sprint(t)
	}
	return v
}

func lowerMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, val := range m {
		out[k] = Lower(val)
	}
	return out
}

func lowerSlice(s []any) []any {
	out := make([]any, len(s))
	for i, val := range s {
		out[i] = Lower(val)
	}
	return out
}
