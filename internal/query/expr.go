// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package query

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Eval evaluates an aggregation expression against doc. Strings starting with
// "$" are field paths, "$$ROOT" is the whole document, single-key documents
// with an operator key are operator calls and everything else is a literal.
func Eval(expr any, doc map[string]any) (any, error) {
	switch e := expr.(type) {
	case string:
		if e == "$$ROOT" || e == "$$CURRENT" {
			return doc, nil
		}
		if strings.HasPrefix(e, "$$") {
			return nil, fmt.Errorf("unknown variable: %s", e)
		}
		if strings.HasPrefix(e, "$") {
			v, _ := GetPath(doc, e[1:])
			return v, nil
		}
		return e, nil
	case []any:
		out := make([]any, len(e))
		for i, el := range e {
			v, err := Eval(el, doc)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case map[string]any:
		if len(e) == 1 {
			for op, arg := range e {
				if strings.HasPrefix(op, "$") {
					return evalOperator(op, arg, doc)
				}
			}
		}
		out := make(map[string]any, len(e))
		for k, val := range e {
			if strings.HasPrefix(k, "$") {
				return nil, fmt.Errorf("an expression document must have exactly one operator, found %q among %d keys", k, len(e))
			}
			v, err := Eval(val, doc)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	}
	return expr, nil
}

func evalArgs(arg any, doc map[string]any) ([]any, error) {
	list, ok := arg.([]any)
	if !ok {
		list = []any{arg}
	}
	out := make([]any, len(list))
	for i, a := range list {
		v, err := Eval(a, doc)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func evalOperator(op string, arg any, doc map[string]any) (any, error) {
	if op == "$literal" {
		return arg, nil
	}
	if op == "$cond" {
		return evalCond(arg, doc)
	}
	args, err := evalArgs(arg, doc)
	if err != nil {
		return nil, err
	}
	switch op {
	case "$add":
		var sum any = int64(0)
		var date *time.Time
		for _, a := range args {
			if a == nil {
				return nil, nil
			}
			if t, ok := a.(time.Time); ok {
				date = &t
				continue
			}
			if !isNumber(a) {
				return nil, fmt.Errorf("$add only supports numeric or date types, got %T", a)
			}
			sum = addNumbers(sum, a)
		}
		if date != nil {
			ms, _ := toFloat(sum)
			return date.Add(time.Duration(ms) * time.Millisecond), nil
		}
		return sum, nil
	case "$multiply":
		var product any = int64(1)
		for _, a := range args {
			if a == nil {
				return nil, nil
			}
			if !isNumber(a) {
				return nil, fmt.Errorf("$multiply only supports numeric types, got %T", a)
			}
			product = mulNumbers(product, a)
		}
		return product, nil
	case "$subtract", "$divide", "$mod":
		if len(args) != 2 {
			return nil, fmt.Errorf("%s needs exactly 2 arguments", op)
		}
		return binaryArith(op, args[0], args[1])
	case "$concat":
		var sb strings.Builder
		for _, a := range args {
			if a == nil {
				return nil, nil
			}
			s, ok := a.(string)
			if !ok {
				return nil, fmt.Errorf("$concat only supports strings, got %T", a)
			}
			sb.WriteString(s)
		}
		return sb.String(), nil
	case "$toLower", "$toUpper":
		if len(args) != 1 {
			return nil, fmt.Errorf("%s needs exactly 1 argument", op)
		}
		s := stringify(args[0])
		if op == "$toLower" {
			return strings.ToLower(s), nil
		}
		return strings.ToUpper(s), nil
	case "$toString":
		if len(args) != 1 {
			return nil, fmt.Errorf("$toString needs exactly 1 argument")
		}
		if args[0] == nil {
			return nil, nil
		}
		return stringify(args[0]), nil
	case "$ifNull":
		if len(args) < 2 {
			return nil, fmt.Errorf("$ifNull needs at least 2 arguments")
		}
		for _, a := range args[:len(args)-1] {
			if a != nil {
				return a, nil
			}
		}
		return args[len(args)-1], nil
	case "$size":
		if len(args) != 1 {
			return nil, fmt.Errorf("$size needs exactly 1 argument")
		}
		arr, ok := args[0].([]any)
		if !ok {
			return nil, fmt.Errorf("the argument to $size must be an array, got %T", args[0])
		}
		return int64(len(arr)), nil
	case "$eq", "$ne", "$gt", "$gte", "$lt", "$lte", "$cmp":
		if len(args) != 2 {
			return nil, fmt.Errorf("%s needs exactly 2 arguments", op)
		}
		c := Compare(args[0], args[1])
		switch op {
		case "$eq":
			return c == 0, nil
		case "$ne":
			return c != 0, nil
		case "$gt":
			return c > 0, nil
		case "$gte":
			return c >= 0, nil
		case "$lt":
			return c < 0, nil
		case "$lte":
			return c <= 0, nil
		}
		return int64(c), nil
	case "$and":
		for _, a := range args {
			if !truthy(a) {
				return false, nil
			}
		}
		return true, nil
	case "$or":
		for _, a := range args {
			if truthy(a) {
				return true, nil
			}
		}
		return false, nil
	case "$not":
		if len(args) != 1 {
			return nil, fmt.Errorf("$not needs exactly 1 argument")
		}
		return !truthy(args[0]), nil
	case "$in":
		if len(args) != 2 {
			return nil, fmt.Errorf("$in needs exactly 2 arguments")
		}
		arr, ok := args[1].([]any)
		if !ok {
			return nil, fmt.Errorf("$in requires an array as a second argument")
		}
		return containsValue(arr, args[0]), nil
	}
	return nil, fmt.Errorf("unrecognized expression operator: %s", op)
}

func evalCond(arg any, doc map[string]any) (any, error) {
	var ifExpr, thenExpr, elseExpr any
	switch c := arg.(type) {
	case []any:
		if len(c) != 3 {
			return nil, fmt.Errorf("$cond needs exactly 3 arguments")
		}
		ifExpr, thenExpr, elseExpr = c[0], c[1], c[2]
	case map[string]any:
		var okIf, okThen, okElse bool
		ifExpr, okIf = c["if"]
		thenExpr, okThen = c["then"]
		elseExpr, okElse = c["else"]
		if !okIf || !okThen || !okElse {
			return nil, fmt.Errorf("$cond needs if, then and else")
		}
	default:
		return nil, fmt.Errorf("$cond needs an array or a document")
	}
	cond, err := Eval(ifExpr, doc)
	if err != nil {
		return nil, err
	}
	if truthy(cond) {
		return Eval(thenExpr, doc)
	}
	return Eval(elseExpr, doc)
}

func binaryArith(op string, a, b any) (any, error) {
	if a == nil || b == nil {
		return nil, nil
	}
	if op == "$subtract" {
		ta, aDate := a.(time.Time)
		tb, bDate := b.(time.Time)
		switch {
		case aDate && bDate:
			return ta.Sub(tb).Milliseconds(), nil
		case aDate && isNumber(b):
			ms, _ := toFloat(b)
			return ta.Add(-time.Duration(ms) * time.Millisecond), nil
		}
	}
	if !isNumber(a) || !isNumber(b) {
		return nil, fmt.Errorf("%s only supports numeric types, got %T and %T", op, a, b)
	}
	fa, _ := toFloat(a)
	fb, _ := toFloat(b)
	switch op {
	case "$subtract":
		if isInteger(a) && isInteger(b) {
			return int64(fa) - int64(fb), nil
		}
		return fa - fb, nil
	case "$divide":
		if fb == 0 {
			return nil, fmt.Errorf("can't $divide by zero")
		}
		return fa / fb, nil
	default:
		if fb == 0 {
			return nil, fmt.Errorf("can't $mod by zero")
		}
		if isInteger(a) && isInteger(b) {
			return int64(fa) % int64(fb), nil
		}
		return math.Mod(fa, fb), nil
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.UTC().Format("2006-01-02T15:04:05.000Z")
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return fmt.Sprintf("%d", int64(t))
		}
	}
	return fmt.Sprint(v)
}
