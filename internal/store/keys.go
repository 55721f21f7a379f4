// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Index key markers accepted besides the numeric directions.
const (
	IndexText      = "text"
	Index2DSphere  = "2dsphere"
	Index2D        = "2d"
	DefaultIDIndex = "_id_"
)

// SortField is one entry of an ordered sort specification.
type SortField struct {
	Field     string `json:"field"`
	Direction int    `json:"direction"`
}

// IndexKey is one entry of an ordered index key specification. Value is 1,
// -1 or one of the text/geospatial markers.
type IndexKey struct {
	Field string
	Value any
}

// IndexKeys is an ordered key specification. It encodes as a JSON object whose
// member order follows the slice.
type IndexKeys []IndexKey

// MarshalJSON writes the keys as an ordered JSON object.
func (k IndexKeys) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range k {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(key.Field)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(key.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an ordered JSON object, keeping member order.
func (k *IndexKeys) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("index keys: expected object")
	}
	var keys IndexKeys
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		field, ok := tok.(string)
		if !ok {
			return fmt.Errorf("index keys: expected field name")
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return err
		}
		keys = append(keys, IndexKey{Field: field, Value: NormalizeIndexValue(value)})
	}
	*k = keys
	return nil
}

// Fields returns the indexed field names in order.
func (k IndexKeys) Fields() []string {
	fields := make([]string, len(k))
	for i, key := range k {
		fields[i] = key.Field
	}
	return fields
}

// Equal reports whether two key specifications are identical.
func (k IndexKeys) Equal(other IndexKeys) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if k[i].Field != other[i].Field || fmt.Sprint(k[i].Value) != fmt.Sprint(other[i].Value) {
			return false
		}
	}
	return true
}

// IndexOptions carries the recognised createIndex options.
type IndexOptions struct {
	Name               string
	Unique             bool
	Sparse             bool
	Background         bool
	ExpireAfterSeconds *int32
	PartialFilter      Document
}

// IndexSpec describes an existing index.
type IndexSpec struct {
	Version            int       `json:"v"`
	Name               string    `json:"name"`
	Key                IndexKeys `json:"key"`
	Unique             bool      `json:"unique,omitempty"`
	Sparse             bool      `json:"sparse,omitempty"`
	ExpireAfterSeconds *int32    `json:"expireAfterSeconds,omitempty"`
	PartialFilter      Document  `json:"partialFilterExpression,omitempty"`
}

// IDIndex is the implicit unique index every collection carries.
func IDIndex() IndexSpec {
	return IndexSpec{Version: 2, Name: DefaultIDIndex, Key: IndexKeys{{Field: "_id", Value: 1}}}
}

// NormalizeIndexValue maps a requested key direction onto the canonical form:
// 1 and -1 (numbers or numeric strings) and the text/geospatial markers are
// kept, anything else becomes ascending.
func NormalizeIndexValue(v any) any {
	switch val := v.(type) {
	case string:
		switch val {
		case "1":
			return 1
		case "-1":
			return -1
		case IndexText, Index2DSphere, Index2D:
			return val
		}
		return 1
	case json.Number:
		if f, err := val.Float64(); err == nil && f == -1 {
			return -1
		}
		return 1
	default:
		if f, ok := numeric(v); ok && f == -1 {
			return -1
		}
		return 1
	}
}

// NormalizeIndexKeys builds an ordered key specification from a decoded
// argument. An object is applied in lexical key order; an array of
// single-member objects keeps its element order.
func NormalizeIndexKeys(raw any) (IndexKeys, error) {
	pairs, err := orderedPairs(raw, "keys")
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("keys: at least one field is required")
	}
	keys := make(IndexKeys, len(pairs))
	for i, p := range pairs {
		keys[i] = IndexKey{Field: p.field, Value: NormalizeIndexValue(p.value)}
	}
	return keys, nil
}

// DefaultIndexName derives the store's conventional index name, such as
// "email_1" or "category_1_price_-1".
func DefaultIndexName(keys IndexKeys) string {
	parts := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		parts = append(parts, k.Field, fmt.Sprint(k.Value))
	}
	return strings.Join(parts, "_")
}

// ParseSort builds an ordered sort specification. Accepted directions are
// 1/-1 (numbers or numeric strings) and asc/ascending/desc/descending.
func ParseSort(raw any) ([]SortField, error) {
	if raw == nil {
		return nil, nil
	}
	pairs, err := orderedPairs(raw, "sort")
	if err != nil {
		return nil, err
	}
	fields := make([]SortField, 0, len(pairs))
	for _, p := range pairs {
		dir, err := sortDirection(p.value)
		if err != nil {
			return nil, fmt.Errorf("sort: field %q: %w", p.field, err)
		}
		fields = append(fields, SortField{Field: p.field, Direction: dir})
	}
	return fields, nil
}

// ParseIndexOptions reads the recognised createIndex options. Unknown options
// are ignored.
func ParseIndexOptions(raw map[string]any) (IndexOptions, error) {
	var opts IndexOptions
	for k, v := range raw {
		switch k {
		case "name":
			s, ok := v.(string)
			if !ok {
				return opts, fmt.Errorf("options.name must be a string")
			}
			opts.Name = s
		case "unique":
			b, ok := v.(bool)
			if !ok {
				return opts, fmt.Errorf("options.unique must be a boolean")
			}
			opts.Unique = b
		case "sparse":
			b, ok := v.(bool)
			if !ok {
				return opts, fmt.Errorf("options.sparse must be a boolean")
			}
			opts.Sparse = b
		case "background":
			b, ok := v.(bool)
			if !ok {
				return opts, fmt.Errorf("options.background must be a boolean")
			}
			opts.Background = b
		case "expireAfterSeconds":
			f, ok := numeric(v)
			if !ok || f < 0 || f != float64(int32(f)) {
				return opts, fmt.Errorf("options.expireAfterSeconds must be a non-negative integer")
			}
			secs := int32(f)
			opts.ExpireAfterSeconds = &secs
		case "partialFilterExpression":
			m, ok := v.(map[string]any)
			if !ok {
				return opts, fmt.Errorf("options.partialFilterExpression must be an object")
			}
			opts.PartialFilter = m
		}
	}
	return opts, nil
}

type pair struct {
	field string
	value any
}

func orderedPairs(raw any, what string) ([]pair, error) {
	switch v := raw.(type) {
	case map[string]any:
		names := make([]string, 0, len(v))
		for k := range v {
			names = append(names, k)
		}
		sort.Strings(names)
		pairs := make([]pair, len(names))
		for i, k := range names {
			pairs[i] = pair{field: k, value: v[k]}
		}
		return pairs, nil
	case []any:
		pairs := make([]pair, 0, len(v))
		for i, el := range v {
			m, ok := el.(map[string]any)
			if !ok || len(m) != 1 {
				return nil, fmt.Errorf("%s[%d]: expected an object with exactly one field", what, i)
			}
			for k, val := range m {
				pairs = append(pairs, pair{field: k, value: val})
			}
		}
		return pairs, nil
	default:
		return nil, fmt.Errorf("%s: expected an object or an array of objects", what)
	}
}

func sortDirection(v any) (int, error) {
	if s, ok := v.(string); ok {
		switch strings.ToLower(s) {
		case "1", "asc", "ascending":
			return 1, nil
		case "-1", "desc", "descending":
			return -1, nil
		}
		return 0, fmt.Errorf("invalid sort direction %q", s)
	}
	f, ok := numeric(v)
	if !ok {
		return 0, fmt.Errorf("invalid sort direction %v", v)
	}
	switch f {
	case 1:
		return 1, nil
	case -1:
		return -1, nil
	}
	return 0, fmt.Errorf("invalid sort direction %v", v)
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
