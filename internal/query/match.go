// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package query

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Match reports whether doc satisfies filter. An empty or nil filter matches
// every document.
func Match(filter, doc map[string]any) (bool, error) {
	for key, cond := range filter {
		ok, err := matchKey(key, cond, doc)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// Filter returns the documents of docs that satisfy filter, in order.
func Filter(docs []map[string]any, filter map[string]any) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		ok, err := Match(filter, doc)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

func matchKey(key string, cond any, doc map[string]any) (bool, error) {
	switch key {
	case "$and", "$or", "$nor":
		clauses, err := clauseList(key, cond)
		if err != nil {
			return false, err
		}
		return matchLogical(key, clauses, doc)
	case "$expr":
		v, err := Eval(cond, doc)
		if err != nil {
			return false, err
		}
		return truthy(v), nil
	case "$comment":
		return true, nil
	}
	if strings.HasPrefix(key, "$") {
		return false, fmt.Errorf("unknown top level operator: %s", key)
	}
	return matchField(resolve(doc, key), cond)
}

func clauseList(op string, cond any) ([]map[string]any, error) {
	arr, ok := cond.([]any)
	if !ok || len(arr) == 0 {
		return nil, fmt.Errorf("%s must be a nonempty array", op)
	}
	clauses := make([]map[string]any, len(arr))
	for i, c := range arr {
		m, ok := c.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s/%d must be an object", op, i)
		}
		clauses[i] = m
	}
	return clauses, nil
}

func matchLogical(op string, clauses []map[string]any, doc map[string]any) (bool, error) {
	for _, clause := range clauses {
		ok, err := Match(clause, doc)
		if err != nil {
			return false, err
		}
		switch op {
		case "$and":
			if !ok {
				return false, nil
			}
		case "$or":
			if ok {
				return true, nil
			}
		case "$nor":
			if ok {
				return false, nil
			}
		}
	}
	return op != "$or", nil
}

// IsOperatorDocument reports whether v is a document whose keys are query or
// update operators.
func IsOperatorDocument(v any) bool {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return false
	}
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func matchField(vals []any, cond any) (bool, error) {
	if !IsOperatorDocument(cond) {
		return matchEq(vals, cond), nil
	}
	ops := cond.(map[string]any)
	for op, arg := range ops {
		ok, err := matchOperator(op, arg, ops, vals)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchOperator(op string, arg any, ops map[string]any, vals []any) (bool, error) {
	switch op {
	case "$eq":
		return matchEq(vals, arg), nil
	case "$ne":
		return !matchEq(vals, arg), nil
	case "$gt", "$gte", "$lt", "$lte":
		return anyElement(vals, func(v any) bool { return compareOp(op, v, arg) }), nil
	case "$in":
		arr, ok := arg.([]any)
		if !ok {
			return false, fmt.Errorf("$in needs an array")
		}
		return matchIn(vals, arr), nil
	case "$nin":
		arr, ok := arg.([]any)
		if !ok {
			return false, fmt.Errorf("$nin needs an array")
		}
		return !matchIn(vals, arr), nil
	case "$exists":
		return truthy(arg) == (len(vals) > 0), nil
	case "$regex":
		options, _ := ops["$options"].(string)
		re, err := compileRegex(arg, options)
		if err != nil {
			return false, err
		}
		return anyElement(vals, func(v any) bool {
			s, ok := v.(string)
			return ok && re.MatchString(s)
		}), nil
	case "$options":
		if _, ok := ops["$regex"]; !ok {
			return false, fmt.Errorf("$options needs a $regex")
		}
		return true, nil
	case "$not":
		if s, ok := arg.(string); ok {
			re, err := compileRegex(s, "")
			if err != nil {
				return false, err
			}
			return !anyElement(vals, func(v any) bool {
				str, ok := v.(string)
				return ok && re.MatchString(str)
			}), nil
		}
		if !IsOperatorDocument(arg) {
			return false, fmt.Errorf("$not needs a regex or a document")
		}
		ok, err := matchField(vals, arg)
		return !ok, err
	case "$size":
		n, ok := toFloat(arg)
		if !ok {
			return false, fmt.Errorf("$size needs a number")
		}
		for _, v := range vals {
			if arr, ok := v.([]any); ok && float64(len(arr)) == n {
				return true, nil
			}
		}
		return false, nil
	case "$all":
		want, ok := arg.([]any)
		if !ok {
			return false, fmt.Errorf("$all needs an array")
		}
		if len(want) == 0 {
			return false, nil
		}
		for _, w := range want {
			if !matchEq(vals, w) {
				return false, nil
			}
		}
		return true, nil
	case "$elemMatch":
		sub, ok := arg.(map[string]any)
		if !ok {
			return false, fmt.Errorf("$elemMatch needs an object")
		}
		return matchElem(vals, sub)
	case "$type":
		return anyElement(vals, func(v any) bool { return hasType(v, arg) }), nil
	case "$mod":
		arr, ok := arg.([]any)
		if !ok || len(arr) != 2 {
			return false, fmt.Errorf("$mod needs an array of [divisor, remainder]")
		}
		div, okD := toFloat(arr[0])
		rem, okR := toFloat(arr[1])
		if !okD || !okR || int64(div) == 0 {
			return false, fmt.Errorf("$mod needs a non-zero divisor")
		}
		return anyElement(vals, func(v any) bool {
			f, ok := toFloat(v)
			return ok && int64(f)%int64(div) == int64(rem)
		}), nil
	}
	return false, fmt.Errorf("unknown operator: %s", op)
}

// anyElement applies pred to every resolved value and, for arrays, to each
// of their elements.
func anyElement(vals []any, pred func(any) bool) bool {
	for _, v := range vals {
		if pred(v) {
			return true
		}
		if arr, ok := v.([]any); ok {
			for _, el := range arr {
				if pred(el) {
					return true
				}
			}
		}
	}
	return false
}

func matchEq(vals []any, target any) bool {
	if len(vals) == 0 {
		return target == nil
	}
	return anyElement(vals, func(v any) bool { return Equal(v, target) })
}

func matchIn(vals []any, arr []any) bool {
	for _, candidate := range arr {
		if matchEq(vals, candidate) {
			return true
		}
	}
	return false
}

func compareOp(op string, v, arg any) bool {
	if !sameBracket(v, arg) {
		return false
	}
	c := Compare(v, arg)
	switch op {
	case "$gt":
		return c > 0
	case "$gte":
		return c >= 0
	case "$lt":
		return c < 0
	case "$lte":
		return c <= 0
	}
	return false
}

func matchElem(vals []any, sub map[string]any) (bool, error) {
	for _, v := range vals {
		arr, ok := v.([]any)
		if !ok {
			continue
		}
		for _, el := range arr {
			var (
				ok  bool
				err error
			)
			if IsOperatorDocument(sub) && !hasFieldKeys(sub) {
				ok, err = matchField([]any{el}, sub)
			} else if m, isDoc := el.(map[string]any); isDoc {
				ok, err = Match(sub, m)
			}
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
	}
	return false, nil
}

func hasFieldKeys(m map[string]any) bool {
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func compileRegex(pattern any, options string) (*regexp.Regexp, error) {
	s, ok := pattern.(string)
	if !ok {
		return nil, fmt.Errorf("$regex has to be a string")
	}
	flags := ""
	for _, o := range options {
		switch o {
		case 'i', 'm', 's':
			flags += string(o)
		case 'x':
			// extended mode has no Go equivalent; whitespace is kept
		default:
			return nil, fmt.Errorf("invalid flag in regex options: %c", o)
		}
	}
	if flags != "" {
		s = "(?" + flags + ")" + s
	}
	re, err := regexp.Compile(s)
	if err != nil {
		return nil, fmt.Errorf("invalid regular expression: %w", err)
	}
	return re, nil
}

// hasType implements $type for the aliases the embedded engine can tell
// apart, plus their numeric BSON codes.
func hasType(v any, want any) bool {
	if arr, ok := want.([]any); ok {
		for _, w := range arr {
			if hasType(v, w) {
				return true
			}
		}
		return false
	}
	alias := fmt.Sprint(want)
	if f, ok := toFloat(want); ok {
		alias = bsonTypeAlias(int(f))
	}
	switch alias {
	case "double":
		_, isFloat := v.(float64)
		return isFloat
	case "int", "long":
		return isInteger(v)
	case "number":
		return isNumber(v)
	case "string":
		_, ok := v.(string)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "bool":
		_, ok := v.(bool)
		return ok
	case "date":
		_, ok := v.(time.Time)
		return ok
	case "null":
		return v == nil
	}
	return false
}

func bsonTypeAlias(code int) string {
	switch code {
	case 1:
		return "double"
	case 2:
		return "string"
	case 3:
		return "object"
	case 4:
		return "array"
	case 8:
		return "bool"
	case 9:
		return "date"
	case 10:
		return "null"
	case 16:
		return "int"
	case 18:
		return "long"
	}
	return ""
}
