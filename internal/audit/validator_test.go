// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateCollection(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	tests := []struct {
		name       string
		collection string
		wantErr    bool
	}{
		{"valid", "products", false},
		{"valid dotted", "app.events", false},
		{"valid mixed case", "OrderItems", false},
		{"empty", "", true},
		{"blank", "   ", true},
		{"too long", strings.Repeat("a", 121), true},
		{"max length", strings.Repeat("a", 120), false},
		{"dollar", "orders$x", true},
		{"nul", "orders\x00", true},
		{"system prefix", "system.users", true},
		{"system prefix upper", "SYSTEM.profile", true},
		{"invalid utf8", "bad\xff", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateCollection(tt.collection)
			assert.Equal(t, tt.wantErr, err != nil, "ValidateCollection(%q) = %v", tt.collection, err)
		})
	}
}

func TestValidateDocument(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	tests := []struct {
		name    string
		doc     map[string]any
		wantErr bool
	}{
		{"valid", map[string]any{"name": "Widget", "price": 10}, false},
		{"empty document", map[string]any{}, false},
		{"nested operators are not top level", map[string]any{"meta": map[string]any{"$x": 1}}, false},
		{"operator field", map[string]any{"$set": map[string]any{"a": 1}}, true},
		{"empty field name", map[string]any{"": 1}, true},
		{"nul in field", map[string]any{"a\x00b": 1}, true},
		{"long field", map[string]any{strings.Repeat("f", 1025): 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateDocument(tt.doc)
			assert.Equal(t, tt.wantErr, err != nil, "ValidateDocument error = %v", err)
		})
	}
}

func TestValidateIndexName(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	tests := []struct {
		name      string
		indexName string
		wantErr   bool
	}{
		{"valid", "email_1", false},
		{"compound", "a_1_b_-1", false},
		{"empty", "", true},
		{"too long", strings.Repeat("i", 128), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateIndexName(tt.indexName)
			assert.Equal(t, tt.wantErr, err != nil, "ValidateIndexName(%q) = %v", tt.indexName, err)
		})
	}
}

func TestValidatePipelineLength(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	assert.NoError(t, v.ValidatePipelineLength(1))
	assert.NoError(t, v.ValidatePipelineLength(100))
	assert.Error(t, v.ValidatePipelineLength(0))
	assert.Error(t, v.ValidatePipelineLength(101))
}

func TestValidationErrorMessage(t *testing.T) {
	err := ValidationError{Field: "collection", Message: "cannot be empty"}
	assert.Equal(t, "collection: cannot be empty", err.Error())
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"normal string", "normal string"},
		{"with\x00null", "withnull"},
		{"with\ttab", "withtab"},
		{"with\nnewline", "withnewline"},
		{"unicode 日本語", "unicode 日本語"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, SanitizeString(tt.input))
	}
}
