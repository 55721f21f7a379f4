// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package query

import (
	"fmt"
	"strings"
)

// StageOperator returns the single operator key of a pipeline stage.
func StageOperator(stage map[string]any) (string, error) {
	if len(stage) != 1 {
		return "", fmt.Errorf("a pipeline stage must have exactly one field, found %d", len(stage))
	}
	for k := range stage {
		if !strings.HasPrefix(k, "$") {
			return "", fmt.Errorf("unrecognized pipeline stage name: %q", k)
		}
		return k, nil
	}
	return "", nil
}

// Aggregate runs pipeline over docs. The input documents are not modified.
func Aggregate(docs []map[string]any, pipeline []map[string]any) ([]map[string]any, error) {
	cur := make([]map[string]any, len(docs))
	for i, d := range docs {
		cur[i] = CloneDocument(d)
	}
	for i, stage := range pipeline {
		op, err := StageOperator(stage)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}
		cur, err = runStage(op, stage[op], cur)
		if err != nil {
			return nil, fmt.Errorf("stage %d (%s): %w", i, op, err)
		}
	}
	return cur, nil
}

func runStage(op string, arg any, docs []map[string]any) ([]map[string]any, error) {
	switch op {
	case "$match":
		filter, ok := arg.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("the match filter must be an expression in an object")
		}
		return Filter(docs, filter)
	case "$project":
		spec, ok := arg.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("specification must be an object")
		}
		return mapDocs(docs, func(d map[string]any) (map[string]any, error) { return Project(d, spec) })
	case "$addFields", "$set":
		spec, ok := arg.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("specification must be an object")
		}
		return mapDocs(docs, func(d map[string]any) (map[string]any, error) {
			for _, path := range sortedKeys(spec) {
				v, err := Eval(spec[path], d)
				if err != nil {
					return nil, err
				}
				if err := SetPath(d, path, v); err != nil {
					return nil, err
				}
			}
			return d, nil
		})
	case "$unset":
		var paths []string
		switch a := arg.(type) {
		case string:
			paths = []string{a}
		case []any:
			for _, p := range a {
				s, ok := p.(string)
				if !ok {
					return nil, fmt.Errorf("$unset specification must be a string or an array of strings")
				}
				paths = append(paths, s)
			}
		default:
			return nil, fmt.Errorf("$unset specification must be a string or an array of strings")
		}
		for _, d := range docs {
			for _, p := range paths {
				UnsetPath(d, p)
			}
		}
		return docs, nil
	case "$group":
		spec, ok := arg.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("a group's fields must be specified in an object")
		}
		return group(docs, spec)
	case "$sort":
		pairs, ok := arg.(map[string]any)
		if !ok || len(pairs) == 0 {
			return nil, fmt.Errorf("the $sort key specification must be a non-empty object")
		}
		keys := make([]SortKey, 0, len(pairs))
		for _, field := range sortedKeys(pairs) {
			f, ok := toFloat(pairs[field])
			if !ok || (f != 1 && f != -1) {
				return nil, fmt.Errorf("$sort key ordering must be 1 (for ascending) or -1 (for descending)")
			}
			keys = append(keys, SortKey{Field: field, Direction: int(f)})
		}
		SortDocuments(docs, keys)
		return docs, nil
	case "$limit", "$skip":
		f, ok := toFloat(arg)
		if !ok || f < 0 || f != float64(int64(f)) {
			return nil, fmt.Errorf("the %s argument must be a non-negative integer", op)
		}
		n := int(f)
		if op == "$limit" {
			if n == 0 {
				return nil, fmt.Errorf("the limit must be positive")
			}
			if n < len(docs) {
				return docs[:n], nil
			}
			return docs, nil
		}
		if n >= len(docs) {
			return []map[string]any{}, nil
		}
		return docs[n:], nil
	case "$count":
		name, ok := arg.(string)
		if !ok || name == "" || strings.HasPrefix(name, "$") || strings.Contains(name, ".") {
			return nil, fmt.Errorf("the count field must be a non-empty string without '$' or '.'")
		}
		if len(docs) == 0 {
			return []map[string]any{}, nil
		}
		return []map[string]any{{name: int64(len(docs))}}, nil
	case "$unwind":
		return unwind(docs, arg)
	case "$replaceRoot", "$replaceWith":
		expr := arg
		if op == "$replaceRoot" {
			m, ok := arg.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("expected an object as specification for $replaceRoot")
			}
			if expr, ok = m["newRoot"]; !ok {
				return nil, fmt.Errorf("no newRoot specified for the $replaceRoot stage")
			}
		}
		return mapDocs(docs, func(d map[string]any) (map[string]any, error) {
			v, err := Eval(expr, d)
			if err != nil {
				return nil, err
			}
			root, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("'newRoot' expression must evaluate to an object, got %T", v)
			}
			return root, nil
		})
	}
	return nil, fmt.Errorf("unrecognized pipeline stage name: %q", op)
}

func mapDocs(docs []map[string]any, fn func(map[string]any) (map[string]any, error)) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		nd, err := fn(d)
		if err != nil {
			return nil, err
		}
		out = append(out, nd)
	}
	return out, nil
}

func unwind(docs []map[string]any, arg any) ([]map[string]any, error) {
	var path string
	var preserve bool
	switch a := arg.(type) {
	case string:
		path = a
	case map[string]any:
		p, _ := a["path"].(string)
		path = p
		preserve, _ = a["preserveNullAndEmptyArrays"].(bool)
	}
	if !strings.HasPrefix(path, "$") || len(path) < 2 {
		return nil, fmt.Errorf("path option to $unwind stage should be prefixed with a '$'")
	}
	field := path[1:]
	out := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		v, ok := GetPath(d, field)
		arr, isArr := v.([]any)
		switch {
		case ok && isArr && len(arr) > 0:
			for _, el := range arr {
				nd := CloneDocument(d)
				if err := SetPath(nd, field, Clone(el)); err != nil {
					return nil, err
				}
				out = append(out, nd)
			}
		case ok && v != nil && !isArr:
			out = append(out, d)
		case preserve:
			if isArr {
				UnsetPath(d, field)
			}
			out = append(out, d)
		}
	}
	return out, nil
}

type accumulator struct {
	field string
	op    string
	expr  any
}

type groupState struct {
	id     any
	values map[string]any
	counts map[string]int64
	seen   map[string]bool
}

func group(docs []map[string]any, spec map[string]any) ([]map[string]any, error) {
	idExpr, ok := spec["_id"]
	if !ok {
		return nil, fmt.Errorf("a group specification must include an _id")
	}
	var accs []accumulator
	for _, field := range sortedKeys(spec) {
		if field == "_id" {
			continue
		}
		m, ok := spec[field].(map[string]any)
		if !ok || len(m) != 1 {
			return nil, fmt.Errorf("the field %q must be an accumulator object", field)
		}
		for op, expr := range m {
			switch op {
			case "$sum", "$avg", "$min", "$max", "$first", "$last", "$push", "$addToSet", "$count":
			default:
				return nil, fmt.Errorf("unknown group operator %q", op)
			}
			accs = append(accs, accumulator{field: field, op: op, expr: expr})
		}
	}

	var order []string
	groups := map[string]*groupState{}
	for _, d := range docs {
		id, err := Eval(idExpr, d)
		if err != nil {
			return nil, err
		}
		key := groupKey(id)
		g, ok := groups[key]
		if !ok {
			g = &groupState{id: id, values: map[string]any{}, counts: map[string]int64{}, seen: map[string]bool{}}
			groups[key] = g
			order = append(order, key)
		}
		for _, acc := range accs {
			if err := accumulate(g, acc, d); err != nil {
				return nil, err
			}
		}
	}

	out := make([]map[string]any, 0, len(order))
	for _, key := range order {
		g := groups[key]
		row := map[string]any{"_id": g.id}
		for _, acc := range accs {
			v := g.values[acc.field]
			if acc.op == "$avg" {
				if n := g.counts[acc.field]; n > 0 {
					sum, _ := toFloat(v)
					v = sum / float64(n)
				} else {
					v = nil
				}
			}
			if (acc.op == "$push" || acc.op == "$addToSet") && v == nil {
				v = []any{}
			}
			row[acc.field] = v
		}
		out = append(out, row)
	}
	return out, nil
}

func accumulate(g *groupState, acc accumulator, d map[string]any) error {
	if acc.op == "$count" {
		g.values[acc.field] = addNumbers(orZero(g.values[acc.field]), int64(1))
		return nil
	}
	v, err := Eval(acc.expr, d)
	if err != nil {
		return err
	}
	cur, has := g.values[acc.field]
	switch acc.op {
	case "$sum":
		if !has {
			cur = int64(0)
		}
		if isNumber(v) {
			cur = addNumbers(cur, v)
		}
		g.values[acc.field] = cur
	case "$avg":
		if isNumber(v) {
			g.values[acc.field] = addNumbers(orZero(cur), v)
			g.counts[acc.field]++
		}
	case "$min", "$max":
		if v == nil {
			return nil
		}
		c := Compare(v, cur)
		if !has || cur == nil || (acc.op == "$min" && c < 0) || (acc.op == "$max" && c > 0) {
			g.values[acc.field] = v
		}
	case "$first":
		if !g.seen[acc.field] {
			g.values[acc.field] = v
			g.seen[acc.field] = true
		}
	case "$last":
		g.values[acc.field] = v
	case "$push":
		arr, _ := cur.([]any)
		g.values[acc.field] = append(arr, v)
	case "$addToSet":
		arr, _ := cur.([]any)
		if !containsValue(arr, v) {
			arr = append(arr, v)
		}
		g.values[acc.field] = arr
	}
	return nil
}

func orZero(v any) any {
	if v == nil {
		return int64(0)
	}
	return v
}
