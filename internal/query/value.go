// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

// Package query evaluates document filters, update operators, projections,
// sorts and aggregation pipelines over in-memory documents. It backs the
// embedded store engine.
package query

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Canonical type order used when values of different kinds are compared.
const (
	orderNull = iota + 1
	orderNumber
	orderString
	orderObject
	orderArray
	orderBool
	orderDate
	orderOther
)

func typeOrder(v any) int {
	switch v.(type) {
	case nil:
		return orderNull
	case string:
		return orderString
	case map[string]any:
		return orderObject
	case []any:
		return orderArray
	case bool:
		return orderBool
	case time.Time:
		return orderDate
	}
	if _, ok := toFloat(v); ok {
		return orderNumber
	}
	return orderOther
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func isInteger(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

func isNumber(v any) bool {
	_, ok := toFloat(v)
	return ok
}

// asTime interprets v as a timestamp: a time.Time, or an RFC 3339 string.
func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}

// sameBracket reports whether a and b fall in the same type bracket, which is
// required for range operators such as $gt.
func sameBracket(a, b any) bool {
	oa, ob := typeOrder(a), typeOrder(b)
	if oa == ob {
		return true
	}
	if (oa == orderDate && ob == orderString) || (oa == orderString && ob == orderDate) {
		_, okA := asTime(a)
		_, okB := asTime(b)
		return okA && okB
	}
	return false
}

// Compare orders two values: numbers numerically, strings lexically, dates
// chronologically, documents and arrays member by member. Values of different
// kinds order by their type bracket.
func Compare(a, b any) int {
	oa, ob := typeOrder(a), typeOrder(b)
	if oa != ob {
		if sameBracket(a, b) {
			ta, _ := asTime(a)
			tb, _ := asTime(b)
			return ta.Compare(tb)
		}
		return cmpInt(oa, ob)
	}
	switch oa {
	case orderNull:
		return 0
	case orderNumber:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case orderString:
		return strings.Compare(a.(string), b.(string))
	case orderBool:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		}
		return 1
	case orderDate:
		return a.(time.Time).Compare(b.(time.Time))
	case orderArray:
		aa, ab := a.([]any), b.([]any)
		for i := 0; i < len(aa) && i < len(ab); i++ {
			if c := Compare(aa[i], ab[i]); c != 0 {
				return c
			}
		}
		return cmpInt(len(aa), len(ab))
	case orderObject:
		ma, mb := a.(map[string]any), b.(map[string]any)
		ka, kb := sortedKeys(ma), sortedKeys(mb)
		for i := 0; i < len(ka) && i < len(kb); i++ {
			if c := strings.Compare(ka[i], kb[i]); c != 0 {
				return c
			}
			if c := Compare(ma[ka[i]], mb[kb[i]]); c != 0 {
				return c
			}
		}
		return cmpInt(len(ka), len(kb))
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// Equal reports whether two values are equal under Compare.
func Equal(a, b any) bool {
	if typeOrder(a) != typeOrder(b) && !sameBracket(a, b) {
		return false
	}
	return Compare(a, b) == 0
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone deep-copies documents and arrays; scalars are shared.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Clone(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Clone(val)
		}
		return out
	}
	return v
}

// CloneDocument deep-copies a document.
func CloneDocument(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	return Clone(doc).(map[string]any)
}

// Normalize converts slices and maps of concrete element types into the
// []any and map[string]any forms the evaluator works on.
func Normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = Normalize(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = Normalize(val)
		}
		return t
	case []map[string]any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Normalize(val)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = val
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = Normalize(val)
		}
		return out
	}
	return v
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	}
	if f, ok := toFloat(v); ok {
		return f != 0 && !math.IsNaN(f)
	}
	return true
}

// addNumbers keeps integer arithmetic in int64 and falls back to float64.
func addNumbers(a, b any) any {
	if isInteger(a) && isInteger(b) {
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		return int64(fa) + int64(fb)
	}
	fa, _ := toFloat(a)
	fb, _ := toFloat(b)
	return fa + fb
}

func mulNumbers(a, b any) any {
	if isInteger(a) && isInteger(b) {
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		return int64(fa) * int64(fb)
	}
	fa, _ := toFloat(a)
	fb, _ := toFloat(b)
	return fa * fb
}

// groupKey renders a value as a stable string so equal values share a key.
func groupKey(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case time.Time:
		return "date:" + t.UTC().Format(time.RFC3339Nano)
	case map[string]any:
		var sb strings.Builder
		sb.WriteString("{")
		for i, k := range sortedKeys(t) {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(k)
			sb.WriteString(":")
			sb.WriteString(groupKey(t[k]))
		}
		sb.WriteString("}")
		return sb.String()
	case []any:
		parts := make([]string, len(t))
		for i, el := range t {
			parts[i] = groupKey(el)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case string:
		return "s:" + t
	case bool:
		return fmt.Sprintf("b:%t", t)
	}
	if f, ok := toFloat(v); ok {
		return fmt.Sprintf("n:%g", f)
	}
	return fmt.Sprintf("o:%v", v)
}
