// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"strings"

	"github.com/dringdahl0320/mongo-mcp-server/internal/query"
	"github.com/dringdahl0320/mongo-mcp-server/internal/schema"
	"github.com/dringdahl0320/mongo-mcp-server/internal/store"
)

// notDeleted is the condition every read adds.
func notDeleted() map[string]any {
	return map[string]any{"$ne": true}
}

// ConstrainsDeleted reports whether filter already mentions isDeleted, at
// the top level or inside $and, $or or $nor.
func ConstrainsDeleted(filter store.Document) bool {
	for k, v := range filter {
		if k == schema.FieldIsDeleted {
			return true
		}
		switch k {
		case "$and", "$or", "$nor":
			clauses, _ := v.([]any)
			for _, c := range clauses {
				if m, ok := c.(map[string]any); ok && ConstrainsDeleted(m) {
					return true
				}
			}
		}
	}
	return false
}

// ExcludeDeleted returns filter with isDeleted != true added, unless the
// filter already constrains isDeleted. filter itself is not modified.
func ExcludeDeleted(filter store.Document) store.Document {
	if ConstrainsDeleted(filter) {
		return filter
	}
	out := make(store.Document, len(filter)+1)
	for k, v := range filter {
		out[k] = v
	}
	out[schema.FieldIsDeleted] = notDeleted()
	return out
}

// ExcludeDeletedWrite returns a copy of filter whose isDeleted condition is
// replaced by isDeleted != true. Writes never reach soft-deleted records.
func ExcludeDeletedWrite(filter store.Document) store.Document {
	out := make(store.Document, len(filter)+1)
	for k, v := range filter {
		out[k] = v
	}
	out[schema.FieldIsDeleted] = notDeleted()
	return out
}

// ExcludeDeletedPipeline merges isDeleted != true into a leading $match
// stage, or prepends one. Every stage must have exactly one operator.
func ExcludeDeletedPipeline(pipeline []store.Document) ([]store.Document, error) {
	if len(pipeline) == 0 {
		return nil, InvalidArgument("pipeline must contain at least one stage")
	}
	for i, stage := range pipeline {
		if _, err := query.StageOperator(stage); err != nil {
			return nil, InvalidArgument("pipeline stage %d: %v", i, err)
		}
	}

	out := make([]store.Document, 0, len(pipeline)+1)
	if match, ok := pipeline[0]["$match"]; ok {
		cond, isDoc := match.(map[string]any)
		if !isDoc {
			return nil, InvalidArgument("pipeline stage 0: $match must be an object")
		}
		out = append(out, store.Document{"$match": ExcludeDeleted(cond)})
		return append(out, pipeline[1:]...), nil
	}
	out = append(out, store.Document{"$match": store.Document{schema.FieldIsDeleted: notDeleted()}})
	return append(out, pipeline...), nil
}

// NormalizeUpdate wraps a plain field map in $set. An update must be either
// all operators or all fields.
func NormalizeUpdate(update store.Document) (store.Document, error) {
	if len(update) == 0 {
		return nil, InvalidArgument("update must not be empty")
	}
	operators := 0
	for k := range update {
		if strings.HasPrefix(k, "$") {
			operators++
		}
	}
	switch operators {
	case len(update):
		return update, nil
	case 0:
		return store.Document{"$set": update}, nil
	}
	return nil, InvalidArgument("update mixes operators and plain fields")
}
