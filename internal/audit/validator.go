// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Validator checks collection names, documents, index names and pipelines
// before a call reaches the store.
type Validator struct {
	maxCollectionLength int
	maxIndexNameLength  int
	maxPipelineStages   int
	maxFieldNameLength  int
}

// ValidatorConfig holds validator configuration.
type ValidatorConfig struct {
	MaxCollectionLength int
	MaxIndexNameLength  int
	MaxPipelineStages   int
	MaxFieldNameLength  int
}

// DefaultValidatorConfig returns default validation configuration.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxCollectionLength: 120,
		MaxIndexNameLength:  127,
		MaxPipelineStages:   100,
		MaxFieldNameLength:  1024,
	}
}

// NewValidator creates a new validator.
func NewValidator(cfg ValidatorConfig) *Validator {
	return &Validator{
		maxCollectionLength: cfg.MaxCollectionLength,
		maxIndexNameLength:  cfg.MaxIndexNameLength,
		maxPipelineStages:   cfg.MaxPipelineStages,
		maxFieldNameLength:  cfg.MaxFieldNameLength,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateCollection validates a collection name.
func (v *Validator) ValidateCollection(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ValidationError{Field: "collection", Message: "cannot be empty"}
	}

	if len(name) > v.maxCollectionLength {
		return ValidationError{
			Field:   "collection",
			Message: fmt.Sprintf("exceeds maximum length of %d", v.maxCollectionLength),
		}
	}

	if !utf8.ValidString(name) {
		return ValidationError{Field: "collection", Message: "must be valid UTF-8"}
	}

	if strings.ContainsAny(name, "$\x00") {
		return ValidationError{Field: "collection", Message: "must not contain '$' or NUL"}
	}

	if strings.HasPrefix(strings.ToLower(name), "system.") {
		return ValidationError{Field: "collection", Message: "system collections are reserved"}
	}

	return nil
}

// ValidateFieldName validates a top-level document field name.
func (v *Validator) ValidateFieldName(name string) error {
	if name == "" {
		return ValidationError{Field: "document", Message: "field names cannot be empty"}
	}
	if strings.HasPrefix(name, "$") {
		return ValidationError{Field: "document", Message: fmt.Sprintf("field %q must not start with '$'", name)}
	}
	if strings.ContainsRune(name, 0) {
		return ValidationError{Field: "document", Message: fmt.Sprintf("field %q contains NUL", SanitizeString(name))}
	}
	if len(name) > v.maxFieldNameLength {
		return ValidationError{
			Field:   "document",
			Message: fmt.Sprintf("field name exceeds maximum length of %d", v.maxFieldNameLength),
		}
	}
	return nil
}

// ValidateDocument validates the top-level field names of a document.
func (v *Validator) ValidateDocument(doc map[string]any) error {
	for name := range doc {
		if err := v.ValidateFieldName(name); err != nil {
			return err
		}
	}
	return nil
}

// ValidateIndexName validates an index name.
func (v *Validator) ValidateIndexName(indexName string) error {
	if strings.TrimSpace(indexName) == "" {
		return ValidationError{Field: "name", Message: "cannot be empty"}
	}

	if len(indexName) > v.maxIndexNameLength {
		return ValidationError{
			Field:   "name",
			Message: fmt.Sprintf("exceeds maximum length of %d", v.maxIndexNameLength),
		}
	}

	return nil
}

// ValidatePipelineLength validates the number of stages in a pipeline.
func (v *Validator) ValidatePipelineLength(stages int) error {
	if stages <= 0 {
		return ValidationError{Field: "pipeline", Message: "must contain at least one stage"}
	}

	if stages > v.maxPipelineStages {
		return ValidationError{
			Field:   "pipeline",
			Message: fmt.Sprintf("exceeds maximum of %d stages", v.maxPipelineStages),
		}
	}

	return nil
}

// SanitizeString removes control characters.
func SanitizeString(s string) string {
	var result strings.Builder
	for _, r := range s {
		if r >= 32 && r != 127 {
			result.WriteRune(r)
		}
	}
	return result.String()
}
