// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package query

import "sort"

// SortKey is one field of a sort order; Direction is 1 or -1.
type SortKey struct {
	Field     string
	Direction int
}

// SortDocuments stably sorts docs in place by keys. A missing field sorts as
// null. Array fields sort by their smallest element ascending and their
// largest element descending.
func SortDocuments(docs []map[string]any, keys []SortKey) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			a := sortValue(docs[i], k)
			b := sortValue(docs[j], k)
			c := Compare(a, b)
			if c == 0 {
				continue
			}
			if k.Direction < 0 {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func sortValue(doc map[string]any, k SortKey) any {
	vals := resolve(doc, k.Field)
	if len(vals) == 0 {
		return nil
	}
	var flat []any
	for _, v := range vals {
		if arr, ok := v.([]any); ok && len(arr) > 0 {
			flat = append(flat, arr...)
		} else {
			flat = append(flat, v)
		}
	}
	best := flat[0]
	for _, v := range flat[1:] {
		c := Compare(v, best)
		if (k.Direction >= 0 && c < 0) || (k.Direction < 0 && c > 0) {
			best = v
		}
	}
	return best
}
