// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// IsSchemaFile reports whether path has a descriptor file extension.
func IsSchemaFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json", ".toml":
		return true
	}
	return false
}

// LoadFile reads the descriptors declared in one file. A file holds either a
// single descriptor or a "models" list of them.
func LoadFile(path string) ([]*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	case ".toml":
		err = toml.Unmarshal(data, &raw)
	case ".json":
		err = json.Unmarshal(data, &raw)
	default:
		return nil, fmt.Errorf("unsupported schema file format: %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parsing: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("file is empty")
	}
	return Parse(raw, path)
}

// Parse builds descriptors from a decoded file.
func Parse(raw map[string]any, source string) ([]*Descriptor, error) {
	models, ok := raw["models"]
	if !ok {
		d, err := parseDescriptor(raw, source)
		if err != nil {
			return nil, err
		}
		return []*Descriptor{d}, nil
	}

	list := mapList(models)
	if len(list) == 0 {
		return nil, fmt.Errorf("models must be a non-empty list of descriptors")
	}
	out := make([]*Descriptor, 0, len(list))
	for i, m := range list {
		if m == nil {
			return nil, fmt.Errorf("models[%d]: expected a mapping", i)
		}
		d, err := parseDescriptor(m, source)
		if err != nil {
			return nil, fmt.Errorf("models[%d]: %w", i, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// mapList accepts both a list of mappings and TOML's array of tables.
func mapList(v any) []map[string]any {
	switch t := v.(type) {
	case []map[string]any:
		return t
	case []any:
		out := make([]map[string]any, len(t))
		for i, el := range t {
			out[i], _ = el.(map[string]any)
		}
		return out
	}
	return nil
}

func parseDescriptor(m map[string]any, source string) (*Descriptor, error) {
	d := &Descriptor{Source: source}

	for key, v := range m {
		switch key {
		case "model", "name", "modelName":
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%s must be a string", key)
			}
			d.ModelName = strings.TrimSpace(s)
		case "collection", "collectionName":
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%s must be a string", key)
			}
			d.CollectionName = strings.TrimSpace(s)
		case "strict":
			b, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("strict must be a boolean")
			}
			d.Strict = b
		case "fields":
			fields, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("fields must be a mapping")
			}
			d.Fields = make(map[string]*Field, len(fields))
			for name, spec := range fields {
				f, err := parseField(name, spec)
				if err != nil {
					return nil, fmt.Errorf("field %s: %w", name, err)
				}
				d.Fields[name] = f
			}
		default:
			return nil, fmt.Errorf("unknown key %q", key)
		}
	}

	if d.ModelName == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if d.CollectionName == "" {
		d.CollectionName = Pluralize(strings.ToLower(d.ModelName))
	}
	if d.Fields == nil {
		return nil, fmt.Errorf("model %s: fields are required", d.ModelName)
	}
	d.withSoftDelete()
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func parseField(name string, spec any) (*Field, error) {
	switch t := spec.(type) {
	case string:
		ft, err := ParseFieldType(t)
		if err != nil {
			return nil, err
		}
		return &Field{Name: name, Type: ft}, nil
	case []any:
		// [string] is shorthand for an array of strings
		if len(t) != 1 {
			return nil, fmt.Errorf("array shorthand takes exactly one item type")
		}
		items, err := parseField(name, t[0])
		if err != nil {
			return nil, err
		}
		return &Field{Name: name, Type: TypeArray, Items: items}, nil
	case map[string]any:
		return parseFieldMap(name, t)
	}
	return nil, fmt.Errorf("expected a type name or a mapping")
}

func parseFieldMap(name string, m map[string]any) (*Field, error) {
	f := &Field{Name: name}
	typeName, ok := m["type"].(string)
	if !ok {
		return nil, fmt.Errorf("type is required")
	}
	ft, err := ParseFieldType(typeName)
	if err != nil {
		return nil, err
	}
	f.Type = ft

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		v := m[key]
		switch key {
		case "type":
		case "required":
			f.Required, ok = v.(bool)
		case "unique":
			f.Unique, ok = v.(bool)
		case "index":
			switch iv := v.(type) {
			case bool:
				f.Index, ok = iv, true
			default:
				_, ok = number(iv)
				f.Index = ok
			}
		case "default":
			f.Default, ok = v, true
		case "enum":
			f.Enum, ok = v.([]any)
		case "min":
			f.Min, ok = floatPtr(v)
		case "max":
			f.Max, ok = floatPtr(v)
		case "minLength":
			f.MinLength, ok = intPtr(v)
		case "maxLength":
			f.MaxLength, ok = intPtr(v)
		case "match":
			f.Match, ok = v.(string)
		case "items":
			f.Items, err = parseField(name, v)
			if err != nil {
				return nil, fmt.Errorf("items: %w", err)
			}
			ok = true
		default:
			return nil, fmt.Errorf("unknown key %q", key)
		}
		if !ok {
			return nil, fmt.Errorf("%s has the wrong type", key)
		}
	}
	return f, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func floatPtr(v any) (*float64, bool) {
	f, ok := number(v)
	if !ok {
		return nil, false
	}
	return &f, true
}

func intPtr(v any) (*int, bool) {
	f, ok := number(v)
	if !ok || f < 0 || f != float64(int(f)) {
		return nil, false
	}
	n := int(f)
	return &n, true
}
