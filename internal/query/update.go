// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package query

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrImmutableID is returned when an update would change a document's _id.
var ErrImmutableID = errors.New("performing an update on the path '_id' would modify the immutable field '_id'")

// ApplyUpdate applies an operator update document to doc in place and reports
// whether anything changed. $setOnInsert only takes effect when inserting is
// true.
func ApplyUpdate(doc, update map[string]any, inserting bool) (bool, error) {
	if len(update) == 0 {
		return false, fmt.Errorf("update document must not be empty")
	}
	before := CloneDocument(doc)
	id, hadID := doc["_id"]

	for _, op := range sortedKeys(update) {
		if !strings.HasPrefix(op, "$") {
			return false, fmt.Errorf("update document keys must be operators, got %q", op)
		}
		fields, ok := update[op].(map[string]any)
		if !ok {
			return false, fmt.Errorf("%s needs a document", op)
		}
		if err := applyOperator(doc, op, fields, inserting); err != nil {
			return false, err
		}
	}

	if hadID && !Equal(doc["_id"], id) {
		return false, ErrImmutableID
	}
	if hadID {
		if _, still := doc["_id"]; !still {
			return false, ErrImmutableID
		}
	}
	return !Equal(before, doc), nil
}

func applyOperator(doc map[string]any, op string, fields map[string]any, inserting bool) error {
	for _, path := range sortedKeys(fields) {
		arg := fields[path]
		var err error
		switch op {
		case "$set":
			err = SetPath(doc, path, Clone(arg))
		case "$setOnInsert":
			if inserting {
				err = SetPath(doc, path, Clone(arg))
			}
		case "$unset":
			UnsetPath(doc, path)
		case "$inc", "$mul":
			err = applyArith(doc, op, path, arg)
		case "$min", "$max":
			cur, ok := GetPath(doc, path)
			c := Compare(arg, cur)
			if !ok || (op == "$min" && c < 0) || (op == "$max" && c > 0) {
				err = SetPath(doc, path, Clone(arg))
			}
		case "$rename":
			target, isStr := arg.(string)
			if !isStr || target == "" {
				return fmt.Errorf("$rename target for %q must be a non-empty string", path)
			}
			if cur, ok := GetPath(doc, path); ok {
				UnsetPath(doc, path)
				err = SetPath(doc, target, cur)
			}
		case "$push", "$addToSet":
			err = applyPush(doc, op, path, arg)
		case "$pull":
			err = applyPull(doc, path, arg)
		case "$pop":
			err = applyPop(doc, path, arg)
		case "$currentDate":
			err = SetPath(doc, path, time.Now().UTC().Truncate(time.Millisecond))
		default:
			return fmt.Errorf("unknown update operator: %s", op)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func applyArith(doc map[string]any, op, path string, arg any) error {
	if !isNumber(arg) {
		return fmt.Errorf("cannot %s with non-numeric argument: {%s: %v}", strings.TrimPrefix(op, "$"), path, arg)
	}
	cur, ok := GetPath(doc, path)
	if !ok || cur == nil {
		if op == "$mul" {
			return SetPath(doc, path, mulNumbers(arg, int64(0)))
		}
		return SetPath(doc, path, arg)
	}
	if !isNumber(cur) {
		return fmt.Errorf("cannot apply %s to a value of non-numeric type at %q", op, path)
	}
	if op == "$inc" {
		return SetPath(doc, path, addNumbers(cur, arg))
	}
	return SetPath(doc, path, mulNumbers(cur, arg))
}

func applyPush(doc map[string]any, op, path string, arg any) error {
	items := []any{arg}
	if m, ok := arg.(map[string]any); ok {
		if each, has := m["$each"]; has {
			arr, ok := each.([]any)
			if !ok {
				return fmt.Errorf("$each for %q must be an array", path)
			}
			items = arr
		}
	}
	cur, ok := GetPath(doc, path)
	var arr []any
	if ok && cur != nil {
		existing, isArr := cur.([]any)
		if !isArr {
			return fmt.Errorf("the field %q must be an array", path)
		}
		arr = existing
	}
	for _, item := range items {
		if op == "$addToSet" && containsValue(arr, item) {
			continue
		}
		arr = append(arr, Clone(item))
	}
	if arr == nil {
		arr = []any{}
	}
	return SetPath(doc, path, arr)
}

func applyPull(doc map[string]any, path string, arg any) error {
	cur, ok := GetPath(doc, path)
	if !ok || cur == nil {
		return nil
	}
	arr, isArr := cur.([]any)
	if !isArr {
		return fmt.Errorf("cannot apply $pull to a non-array value at %q", path)
	}
	kept := make([]any, 0, len(arr))
	for _, el := range arr {
		var remove bool
		switch cond := arg.(type) {
		case map[string]any:
			if IsOperatorDocument(cond) && !hasFieldKeys(cond) {
				ok, err := matchField([]any{el}, cond)
				if err != nil {
					return err
				}
				remove = ok
			} else if m, isDoc := el.(map[string]any); isDoc {
				ok, err := Match(cond, m)
				if err != nil {
					return err
				}
				remove = ok
			}
		default:
			remove = Equal(el, cond)
		}
		if !remove {
			kept = append(kept, el)
		}
	}
	return SetPath(doc, path, kept)
}

func applyPop(doc map[string]any, path string, arg any) error {
	dir, ok := toFloat(arg)
	if !ok || (dir != 1 && dir != -1) {
		return fmt.Errorf("$pop expects 1 or -1 for %q", path)
	}
	cur, found := GetPath(doc, path)
	if !found || cur == nil {
		return nil
	}
	arr, isArr := cur.([]any)
	if !isArr {
		return fmt.Errorf("path %q contains an element of non-array type", path)
	}
	if len(arr) == 0 {
		return nil
	}
	if dir == 1 {
		return SetPath(doc, path, arr[:len(arr)-1])
	}
	return SetPath(doc, path, arr[1:])
}

func containsValue(arr []any, v any) bool {
	for _, el := range arr {
		if Equal(el, v) {
			return true
		}
	}
	return false
}

// SeedFromFilter builds the initial document for an upsert from the equality
// conditions of filter, including those nested in top-level $and clauses.
func SeedFromFilter(filter map[string]any) map[string]any {
	doc := map[string]any{}
	seed(doc, filter)
	return doc
}

func seed(doc, filter map[string]any) {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cond := filter[k]
		if k == "$and" {
			if clauses, err := clauseList(k, cond); err == nil {
				for _, c := range clauses {
					seed(doc, c)
				}
			}
			continue
		}
		if strings.HasPrefix(k, "$") {
			continue
		}
		if IsOperatorDocument(cond) {
			if eq, ok := cond.(map[string]any)["$eq"]; ok {
				_ = SetPath(doc, k, Clone(eq))
			}
			continue
		}
		_ = SetPath(doc, k, Clone(cond))
	}
}
