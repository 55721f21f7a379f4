// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

// Package schema discovers declarative model descriptors and binds each one to
// a physical collection. A bound collection is served by the typed path:
// defaults, casting and validation on writes, and structural lowering on reads.
package schema

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// FieldType is the declared type of a field.
type FieldType string

// Field types accepted in descriptors.
const (
	TypeString   FieldType = "string"
	TypeNumber   FieldType = "number"
	TypeInteger  FieldType = "integer"
	TypeBoolean  FieldType = "boolean"
	TypeDate     FieldType = "date"
	TypeObjectID FieldType = "objectId"
	TypeArray    FieldType = "array"
	TypeObject   FieldType = "object"
	TypeMixed    FieldType = "mixed"
)

// Soft-delete fields declared on every model.
const (
	FieldIsDeleted = "isDeleted"
	FieldDeletedAt = "deletedAt"
)

// DefaultNow as a date default stamps the write time.
const DefaultNow = "now"

var fieldTypes = map[string]FieldType{
	"string":   TypeString,
	"str":      TypeString,
	"number":   TypeNumber,
	"double":   TypeNumber,
	"float":    TypeNumber,
	"integer":  TypeInteger,
	"int":      TypeInteger,
	"long":     TypeInteger,
	"boolean":  TypeBoolean,
	"bool":     TypeBoolean,
	"date":     TypeDate,
	"objectid": TypeObjectID,
	"array":    TypeArray,
	"object":   TypeObject,
	"map":      TypeObject,
	"mixed":    TypeMixed,
	"any":      TypeMixed,
}

// ParseFieldType maps a declared type name, in any case, onto a FieldType.
func ParseFieldType(name string) (FieldType, error) {
	t, ok := fieldTypes[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("unknown field type %q", name)
	}
	return t, nil
}

// Field is one declared field.
type Field struct {
	Name      string    `json:"name"`
	Type      FieldType `json:"type"`
	Required  bool      `json:"required,omitempty"`
	Default   any       `json:"default,omitempty"`
	Enum      []any     `json:"enum,omitempty"`
	Min       *float64  `json:"min,omitempty"`
	Max       *float64  `json:"max,omitempty"`
	MinLength *int      `json:"minLength,omitempty"`
	MaxLength *int      `json:"maxLength,omitempty"`
	Match     string    `json:"match,omitempty"`
	Items     *Field    `json:"items,omitempty"`
	Unique    bool      `json:"unique,omitempty"`
	Index     bool      `json:"index,omitempty"`
}

// Descriptor is a named record shape bound to a physical collection.
type Descriptor struct {
	ModelName      string            `json:"modelName"`
	CollectionName string            `json:"collectionName"`
	Strict         bool              `json:"strict,omitempty"`
	Fields         map[string]*Field `json:"fields"`
	Source         string            `json:"source,omitempty"`
}

// FieldNames returns the declared field names, sorted.
func (d *Descriptor) FieldNames() []string {
	names := make([]string, 0, len(d.Fields))
	for name := range d.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// withSoftDelete declares the soft-delete envelope unless the descriptor
// already does.
func (d *Descriptor) withSoftDelete() {
	if d.Fields == nil {
		d.Fields = make(map[string]*Field)
	}
	if _, ok := d.Fields[FieldIsDeleted]; !ok {
		d.Fields[FieldIsDeleted] = &Field{Name: FieldIsDeleted, Type: TypeBoolean, Default: false}
	}
	if _, ok := d.Fields[FieldDeletedAt]; !ok {
		d.Fields[FieldDeletedAt] = &Field{Name: FieldDeletedAt, Type: TypeDate}
	}
}

// Validate checks the descriptor is usable.
func (d *Descriptor) Validate() error {
	if strings.TrimSpace(d.ModelName) == "" {
		return fmt.Errorf("model name is required")
	}
	if strings.TrimSpace(d.CollectionName) == "" {
		return fmt.Errorf("model %s: collection name is required", d.ModelName)
	}
	if d.Fields == nil {
		return fmt.Errorf("model %s: fields are required", d.ModelName)
	}
	for name, f := range d.Fields {
		if name == "" || strings.HasPrefix(name, "$") || strings.Contains(name, ".") {
			return fmt.Errorf("model %s: invalid field name %q", d.ModelName, name)
		}
		if err := f.validate(); err != nil {
			return fmt.Errorf("model %s: field %s: %w", d.ModelName, name, err)
		}
	}
	return nil
}

func (f *Field) validate() error {
	if _, err := ParseFieldType(string(f.Type)); err != nil {
		return err
	}
	if f.Match != "" {
		if _, err := regexp.Compile(f.Match); err != nil {
			return fmt.Errorf("match: %w", err)
		}
	}
	if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
		return fmt.Errorf("min %v exceeds max %v", *f.Min, *f.Max)
	}
	if f.Items != nil {
		if f.Type != TypeArray {
			return fmt.Errorf("items is only valid on arrays")
		}
		return f.Items.validate()
	}
	return nil
}
