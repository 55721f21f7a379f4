// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/dringdahl0320/mongo-mcp-server/internal/query"
	"github.com/dringdahl0320/mongo-mcp-server/internal/store"
	"github.com/dringdahl0320/mongo-mcp-server/internal/store/extjson"
)

// ValidationError reports a write rejected by a model.
type ValidationError struct {
	Model    string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s validation failed: %s", e.Model, strings.Join(e.Problems, "; "))
}

// IndexSpec is an index a model declares.
type IndexSpec struct {
	Keys    store.IndexKeys
	Options store.IndexOptions
}

// Model is the compiled, typed form of a descriptor.
type Model struct {
	desc     *Descriptor
	schema   *jsonschema.Schema
	resolved *jsonschema.Resolved
	fields   map[string]*jsonschema.Resolved
}

// NewModel compiles a descriptor.
func NewModel(d *Descriptor) (*Model, error) {
	d.withSoftDelete()
	if err := d.Validate(); err != nil {
		return nil, err
	}
	m := &Model{desc: d, fields: make(map[string]*jsonschema.Resolved, len(d.Fields))}

	for _, name := range d.FieldNames() {
		f := d.Fields[name]
		if f.Default != nil && f.Default != DefaultNow {
			if _, err := cast(f, f.Default, time.Time{}); err != nil {
				return nil, fmt.Errorf("model %s: field %s: default: %w", d.ModelName, name, err)
			}
		}
		fs, err := fieldSchema(f)
		if err != nil {
			return nil, fmt.Errorf("model %s: field %s: %w", d.ModelName, name, err)
		}
		resolved, err := fs.Resolve(&jsonschema.ResolveOptions{})
		if err != nil {
			return nil, fmt.Errorf("model %s: field %s: %w", d.ModelName, name, err)
		}
		m.fields[name] = resolved
	}

	s, err := d.JSONSchema()
	if err != nil {
		return nil, err
	}
	resolved, err := s.Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		return nil, fmt.Errorf("model %s: compiling schema: %w", d.ModelName, err)
	}
	m.schema = s
	m.resolved = resolved
	return m, nil
}

// Name returns the model name.
func (m *Model) Name() string { return m.desc.ModelName }

// Collection returns the bound collection name.
func (m *Model) Collection() string { return m.desc.CollectionName }

// Descriptor returns the source descriptor.
func (m *Model) Descriptor() *Descriptor { return m.desc }

// JSONSchema returns the compiled document schema.
func (m *Model) JSONSchema() *jsonschema.Schema { return m.schema }

// JSONSchema renders the descriptor as a JSON Schema for one document.
func (d *Descriptor) JSONSchema() (*jsonschema.Schema, error) {
	s := &jsonschema.Schema{
		Type:        "object",
		Title:       d.ModelName,
		Description: fmt.Sprintf("Documents of collection %s", d.CollectionName),
		Properties:  make(map[string]*jsonschema.Schema, len(d.Fields)),
	}
	for _, name := range d.FieldNames() {
		f := d.Fields[name]
		fs, err := fieldSchema(f)
		if err != nil {
			return nil, fmt.Errorf("model %s: field %s: %w", d.ModelName, name, err)
		}
		s.Properties[name] = fs
		if f.Required {
			s.Required = append(s.Required, name)
		}
	}
	return s, nil
}

func fieldSchema(f *Field) (*jsonschema.Schema, error) {
	s := &jsonschema.Schema{}
	switch f.Type {
	case TypeString:
		s.Type = "string"
		s.MinLength = f.MinLength
		s.MaxLength = f.MaxLength
		s.Pattern = f.Match
	case TypeNumber, TypeInteger:
		s.Type = "number"
		if f.Type == TypeInteger {
			s.Type = "integer"
		}
		s.Minimum = f.Min
		s.Maximum = f.Max
	case TypeBoolean:
		s.Type = "boolean"
	case TypeDate:
		s.Type = "string"
		s.Format = "date-time"
	case TypeObjectID:
		s.Type = "string"
		s.Pattern = "^[0-9a-fA-F]{24}$"
	case TypeArray:
		s.Type = "array"
		if f.Items != nil {
			items, err := fieldSchema(f.Items)
			if err != nil {
				return nil, err
			}
			s.Items = items
		}
	case TypeObject:
		s.Type = "object"
	}

	if len(f.Enum) > 0 {
		enum, err := jsonValue(f.Enum)
		if err != nil {
			return nil, fmt.Errorf("enum: %w", err)
		}
		s.Enum = enum.([]any)
	}
	if f.Default != nil && f.Default != DefaultNow {
		raw, err := json.Marshal(f.Default)
		if err != nil {
			return nil, fmt.Errorf("default: %w", err)
		}
		s.Default = raw
	}

	// null satisfies an optional field
	if !f.Required && s.Type != "" {
		s.Types = []string{s.Type, "null"}
		s.Type = ""
	}
	return s, nil
}

// PrepareInsert casts declared fields, applies defaults and validates doc,
// returning the document to persist.
func (m *Model) PrepareInsert(doc store.Document) (store.Document, error) {
	now := store.Now()
	out := make(store.Document, len(doc)+len(m.desc.Fields))
	failed := make(map[string]bool)
	var problems []string

	for k, v := range doc {
		f, declared := m.desc.Fields[k]
		if !declared {
			if m.desc.Strict && k != "_id" {
				continue
			}
			out[k] = v
			continue
		}
		cv, err := cast(f, v, now)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", k, err))
			failed[k] = true
			continue
		}
		out[k] = cv
	}

	for _, name := range m.desc.FieldNames() {
		f := m.desc.Fields[name]
		if _, ok := out[name]; ok || failed[name] {
			continue
		}
		if f.Default != nil {
			dv, err := cast(f, query.Clone(f.Default), now)
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s: default: %v", name, err))
				continue
			}
			out[name] = dv
		}
		if f.Required && out[name] == nil {
			problems = append(problems, fmt.Sprintf("%s: path %q is required", name, name))
		}
	}
	for name, v := range out {
		if f, ok := m.desc.Fields[name]; ok && f.Required && v == nil {
			problems = append(problems, fmt.Sprintf("%s: path %q is required", name, name))
		}
	}

	for _, name := range m.desc.FieldNames() {
		if v, ok := out[name]; ok && !failed[name] {
			if err := validate(m.fields[name], v); err != nil {
				problems = append(problems, fmt.Sprintf("%s: %v", name, err))
			}
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, &ValidationError{Model: m.desc.ModelName, Problems: problems}
	}
	if err := validate(m.resolved, out); err != nil {
		return nil, &ValidationError{Model: m.desc.ModelName, Problems: []string{err.Error()}}
	}
	return out, nil
}

// PrepareUpdate casts and checks the declared fields an operator-form update
// assigns. For upserts, defaults of fields the update leaves untouched are
// added under $setOnInsert.
func (m *Model) PrepareUpdate(update store.Document, upsert bool) (store.Document, error) {
	now := store.Now()
	out := make(store.Document, len(update)+1)
	var problems []string

	for op, arg := range update {
		fields, ok := arg.(map[string]any)
		if !ok {
			out[op] = arg
			continue
		}
		switch op {
		case "$set", "$setOnInsert":
			next := make(map[string]any, len(fields))
			for path, v := range fields {
				root, _, _ := strings.Cut(path, ".")
				f, declared := m.desc.Fields[root]
				if !declared {
					if m.desc.Strict && root != "_id" {
						continue
					}
					next[path] = v
					continue
				}
				if path != root {
					next[path] = v
					continue
				}
				cv, err := cast(f, v, now)
				if err != nil {
					problems = append(problems, fmt.Sprintf("%s: %v", path, err))
					continue
				}
				if cv == nil && f.Required {
					problems = append(problems, fmt.Sprintf("%s: path %q is required", path, path))
					continue
				}
				if err := validate(m.fields[root], cv); err != nil {
					problems = append(problems, fmt.Sprintf("%s: %v", path, err))
					continue
				}
				next[path] = cv
			}
			out[op] = next
		case "$unset":
			for path := range fields {
				if f, declared := m.desc.Fields[path]; declared && f.Required {
					problems = append(problems, fmt.Sprintf("%s: path %q is required", path, path))
				}
			}
			out[op] = fields
		default:
			out[op] = fields
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, &ValidationError{Model: m.desc.ModelName, Problems: problems}
	}

	if upsert {
		onInsert, _ := out["$setOnInsert"].(map[string]any)
		if onInsert == nil {
			onInsert = make(map[string]any)
		}
		for _, name := range m.desc.FieldNames() {
			f := m.desc.Fields[name]
			if f.Default == nil || touched(out, name) {
				continue
			}
			dv, err := cast(f, query.Clone(f.Default), now)
			if err != nil {
				return nil, &ValidationError{Model: m.desc.ModelName, Problems: []string{fmt.Sprintf("%s: default: %v", name, err)}}
			}
			onInsert[name] = dv
		}
		if len(onInsert) > 0 {
			out["$setOnInsert"] = onInsert
		}
	}
	return out, nil
}

// touched reports whether any operator of update assigns name, a path below
// it or a path above it.
func touched(update store.Document, name string) bool {
	for _, arg := range update {
		fields, ok := arg.(map[string]any)
		if !ok {
			continue
		}
		for path := range fields {
			if path == name || strings.HasPrefix(path, name+".") || strings.HasPrefix(name, path+".") {
				return true
			}
		}
	}
	return false
}

// Lower converts a stored document to plain values: driver types become
// strings, times and int64s, declared dates become time.Time and declared
// integers int64.
func (m *Model) Lower(doc store.Document) store.Document {
	out, _ := extjson.Lower(doc).(map[string]any)
	if out == nil {
		return doc
	}
	for name, f := range m.desc.Fields {
		v, ok := out[name]
		if !ok || v == nil {
			continue
		}
		switch f.Type {
		case TypeDate, TypeInteger, TypeObjectID:
			if cv, err := cast(f, v, time.Time{}); err == nil {
				out[name] = cv
			}
		}
	}
	return out
}

// IndexSpecs returns the indexes declared by unique or index fields, ordered
// by field name.
func (m *Model) IndexSpecs() []IndexSpec {
	var specs []IndexSpec
	for _, name := range m.desc.FieldNames() {
		f := m.desc.Fields[name]
		if !f.Unique && !f.Index {
			continue
		}
		keys := store.IndexKeys{{Field: name, Value: 1}}
		specs = append(specs, IndexSpec{
			Keys:    keys,
			Options: store.IndexOptions{Name: store.DefaultIndexName(keys), Unique: f.Unique},
		})
	}
	return specs
}

// validate checks v against r. Null members of a document are dropped first;
// required fields are checked for null separately.
func validate(r *jsonschema.Resolved, v any) error {
	if v == nil {
		return nil
	}
	instance, err := jsonValue(v)
	if err != nil {
		return err
	}
	if m, ok := instance.(map[string]any); ok {
		for k, val := range m {
			if val == nil {
				delete(m, k)
			}
		}
	}
	return r.Validate(instance)
}

// jsonValue converts v to the shape encoding/json decodes, which is what the
// schema validator expects.
func jsonValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// cast converts v to the declared type of f. now stamps a "now" default.
func cast(f *Field, v any, now time.Time) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Type {
	case TypeString:
		switch t := v.(type) {
		case string:
			return t, nil
		case bool, float64, float32, int, int32, int64:
			return fmt.Sprint(t), nil
		}
	case TypeNumber:
		if n, ok := toNumber(v); ok {
			return n, nil
		}
	case TypeInteger:
		if n, ok := toNumber(v); ok {
			if n != math.Trunc(n) {
				return nil, fmt.Errorf("%v is not an integer", v)
			}
			return int64(n), nil
		}
	case TypeBoolean:
		switch t := v.(type) {
		case bool:
			return t, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(t)) {
			case "true", "1", "yes":
				return true, nil
			case "false", "0", "no":
				return false, nil
			}
		default:
			if n, ok := toNumber(v); ok && (n == 0 || n == 1) {
				return n == 1, nil
			}
		}
	case TypeDate:
		return castDate(v, now)
	case TypeObjectID:
		if w, ok := v.(map[string]any); ok && len(w) == 1 {
			v = w["$oid"]
		}
		if s, ok := v.(string); ok && isHexID(s) {
			return strings.ToLower(s), nil
		}
	case TypeArray:
		arr, ok := v.([]any)
		if !ok {
			arr = []any{v}
		}
		if f.Items == nil {
			return arr, nil
		}
		out := make([]any, len(arr))
		for i, el := range arr {
			cv, err := cast(f.Items, el, now)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = cv
		}
		return out, nil
	case TypeObject:
		if m, ok := v.(map[string]any); ok {
			return m, nil
		}
	case TypeMixed:
		return v, nil
	}
	return nil, fmt.Errorf("cannot cast %s to %s", describe(v), f.Type)
}

func castDate(v any, now time.Time) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		if t == DefaultNow && !now.IsZero() {
			return now, nil
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
			if ts, err := time.Parse(layout, strings.TrimSpace(t)); err == nil {
				return ts.UTC(), nil
			}
		}
	case map[string]any:
		if inner, ok := t["$date"]; ok && len(t) == 1 {
			if m, ok := inner.(map[string]any); ok {
				inner = m["$numberLong"]
				if s, ok := inner.(string); ok {
					if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
						return time.UnixMilli(ms).UTC(), nil
					}
				}
			}
			return castDate(inner, now)
		}
	default:
		if ms, ok := toNumber(v); ok {
			return time.UnixMilli(int64(ms)).UTC(), nil
		}
	}
	return nil, fmt.Errorf("cannot cast %s to date", describe(v))
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	return 0, false
}

func isHexID(s string) bool {
	if len(s) != 24 {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}

func describe(v any) string {
	switch t := v.(type) {
	case string:
		return strconv.Quote(t)
	case map[string]any:
		return "an object"
	case []any:
		return "an array"
	}
	return fmt.Sprint(v)
}
