// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"encoding/json"
	"strings"

	"github.com/dringdahl0320/mongo-mcp-server/internal/dispatch"
	"github.com/dringdahl0320/mongo-mcp-server/internal/query"
	"github.com/dringdahl0320/mongo-mcp-server/internal/store"
)

// structured names the arguments that may arrive as JSON text.
var structured = map[string]bool{
	"filter":     true,
	"update":     true,
	"projection": true,
	"sort":       true,
	"document":   true,
	"pipeline":   true,
	"keys":       true,
	"options":    true,
}

// Args are the decoded arguments of one call.
type Args map[string]any

// decodeArgs copies raw, parsing structured arguments given as strings. An
// empty string counts as absent.
func decodeArgs(raw map[string]any) (Args, error) {
	args := make(Args, len(raw))
	for k, v := range raw {
		s, isString := v.(string)
		if !structured[k] || !isString {
			args[k] = query.Normalize(v)
			continue
		}
		if strings.TrimSpace(s) == "" {
			continue
		}
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return nil, dispatch.InvalidArgument("%s is not valid JSON: %v", k, err)
		}
		args[k] = decoded
	}
	return args, nil
}

// String returns a string argument, or "".
func (a Args) String(key string) string {
	s, _ := a[key].(string)
	return s
}

// Bool returns a boolean argument, or def when absent.
func (a Args) Bool(key string, def bool) bool {
	b, ok := a[key].(bool)
	if !ok {
		return def
	}
	return b
}

// Int returns an integer argument, or 0 when absent.
func (a Args) Int(key string) int64 {
	switch v := a[key].(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	case int32:
		return int64(v)
	}
	return 0
}

// Document returns an object argument. Absent is an empty document.
func (a Args) Document(key string) (store.Document, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return store.Document{}, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, dispatch.InvalidArgument("%s must be an object", key)
	}
	return m, nil
}

// OptionalDocument is Document but keeps absence as nil.
func (a Args) OptionalDocument(key string) (store.Document, error) {
	if _, ok := a[key]; !ok {
		return nil, nil
	}
	return a.Document(key)
}

// Documents returns an array-of-objects argument.
func (a Args) Documents(key string) ([]store.Document, error) {
	items, ok := a[key].([]any)
	if !ok {
		return nil, dispatch.InvalidArgument("%s must be an array of objects", key)
	}
	docs := make([]store.Document, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, dispatch.InvalidArgument("%s[%d] must be an object", key, i)
		}
		docs[i] = m
	}
	return docs, nil
}

// Sort parses the sort argument.
func (a Args) Sort() ([]store.SortField, error) {
	v, ok := a["sort"]
	if !ok {
		return nil, nil
	}
	fields, err := store.ParseSort(v)
	if err != nil {
		return nil, dispatch.InvalidArgument("%v", err)
	}
	return fields, nil
}

// Keys parses the index keys argument.
func (a Args) Keys() (store.IndexKeys, error) {
	keys, err := store.NormalizeIndexKeys(a["keys"])
	if err != nil {
		return nil, dispatch.InvalidArgument("%v", err)
	}
	return keys, nil
}

// IndexOptions parses the createIndex options argument.
func (a Args) IndexOptions() (store.IndexOptions, error) {
	raw, err := a.Document("options")
	if err != nil {
		return store.IndexOptions{}, err
	}
	opts, err := store.ParseIndexOptions(raw)
	if err != nil {
		return opts, dispatch.InvalidArgument("%v", err)
	}
	return opts, nil
}
