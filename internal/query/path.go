// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package query

import (
	"fmt"
	"strconv"
	"strings"
)

// collect resolves a dotted path against v. Arrays met along the way fan out
// over their elements, so "items.qty" yields one value per element that
// carries a qty field. A numeric segment indexes into an array.
func collect(v any, parts []string, out *[]any) {
	if len(parts) == 0 {
		*out = append(*out, v)
		return
	}
	switch t := v.(type) {
	case map[string]any:
		if child, ok := t[parts[0]]; ok {
			collect(child, parts[1:], out)
		}
	case []any:
		if idx, err := strconv.Atoi(parts[0]); err == nil {
			if idx >= 0 && idx < len(t) {
				collect(t[idx], parts[1:], out)
			}
			return
		}
		for _, el := range t {
			if m, ok := el.(map[string]any); ok {
				collect(m, parts, out)
			}
		}
	}
}

func resolve(doc map[string]any, path string) []any {
	var out []any
	collect(doc, strings.Split(path, "."), &out)
	return out
}

// GetPath returns the value at a dotted path without array fan-out, except
// that a path crossing an array of documents yields the array of the
// elements' values, as aggregation field paths do.
func GetPath(doc map[string]any, path string) (any, bool) {
	return getParts(doc, strings.Split(path, "."))
}

func getParts(v any, parts []string) (any, bool) {
	if len(parts) == 0 {
		return v, true
	}
	switch t := v.(type) {
	case map[string]any:
		child, ok := t[parts[0]]
		if !ok {
			return nil, false
		}
		return getParts(child, parts[1:])
	case []any:
		if idx, err := strconv.Atoi(parts[0]); err == nil {
			if idx < 0 || idx >= len(t) {
				return nil, false
			}
			return getParts(t[idx], parts[1:])
		}
		out := make([]any, 0, len(t))
		for _, el := range t {
			if val, ok := getParts(el, parts); ok {
				out = append(out, val)
			}
		}
		return out, true
	}
	return nil, false
}

// SetPath assigns value at a dotted path, creating intermediate documents.
func SetPath(doc map[string]any, path string, value any) error {
	parts := strings.Split(path, ".")
	var cur any = doc
	for i, part := range parts {
		last := i == len(parts)-1
		switch t := cur.(type) {
		case map[string]any:
			if last {
				t[part] = value
				return nil
			}
			next, ok := t[part]
			if !ok || next == nil {
				next = map[string]any{}
				t[part] = next
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 {
				return fmt.Errorf("cannot create field %q in array element", part)
			}
			if idx >= len(t) {
				return fmt.Errorf("array index %d out of range at %q", idx, path)
			}
			if last {
				t[idx] = value
				return nil
			}
			if t[idx] == nil {
				t[idx] = map[string]any{}
			}
			cur = t[idx]
		default:
			return fmt.Errorf("cannot create field %q in element {%v}", part, cur)
		}
	}
	return nil
}

// UnsetPath removes the field at a dotted path. Missing paths are ignored.
func UnsetPath(doc map[string]any, path string) {
	parts := strings.Split(path, ".")
	var cur any = doc
	for i, part := range parts {
		last := i == len(parts)-1
		switch t := cur.(type) {
		case map[string]any:
			if last {
				delete(t, part)
				return
			}
			next, ok := t[part]
			if !ok {
				return
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(t) {
				return
			}
			if last {
				t[idx] = nil
				return
			}
			cur = t[idx]
		default:
			return
		}
	}
}
