// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package query

import (
	"fmt"
	"sort"
)

// Project applies a projection to doc and returns a new document. A
// projection either includes fields (1/true, or a computed expression) or
// excludes them (0/false); the two cannot be mixed except for _id, which is
// included unless explicitly excluded.
func Project(doc, projection map[string]any) (map[string]any, error) {
	if len(projection) == 0 {
		return CloneDocument(doc), nil
	}
	include, err := projectionMode(projection)
	if err != nil {
		return nil, err
	}
	if !include {
		out := CloneDocument(doc)
		for path := range projection {
			UnsetPath(out, path)
		}
		return out, nil
	}

	out := map[string]any{}
	if v, ok := projection["_id"]; !ok || isInclusion(v) {
		if id, has := doc["_id"]; has {
			out["_id"] = Clone(id)
		}
	}
	paths := make([]string, 0, len(projection))
	for p := range projection {
		if p != "_id" {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	for _, path := range paths {
		spec := projection[path]
		if isFlag(spec) {
			if !isInclusion(spec) {
				continue
			}
			if v, ok := GetPath(doc, path); ok {
				if err := SetPath(out, path, Clone(v)); err != nil {
					return nil, err
				}
			}
			continue
		}
		v, err := Eval(spec, doc)
		if err != nil {
			return nil, err
		}
		if err := SetPath(out, path, v); err != nil {
			return nil, err
		}
	}
	if spec, ok := projection["_id"]; ok && !isFlag(spec) {
		v, err := Eval(spec, doc)
		if err != nil {
			return nil, err
		}
		out["_id"] = v
	}
	return out, nil
}

// projectionMode reports whether projection is an inclusion projection.
func projectionMode(projection map[string]any) (bool, error) {
	var includes, excludes bool
	for path, spec := range projection {
		if path == "_id" {
			continue
		}
		if !isFlag(spec) || isInclusion(spec) {
			includes = true
		} else {
			excludes = true
		}
	}
	if includes && excludes {
		return false, fmt.Errorf("cannot mix inclusion and exclusion in a projection")
	}
	if !includes && !excludes {
		// only _id was given
		return isInclusion(projection["_id"]) || !isFlag(projection["_id"]), nil
	}
	return includes, nil
}

func isFlag(v any) bool {
	switch v.(type) {
	case bool:
		return true
	}
	return isNumber(v)
}

func isInclusion(v any) bool {
	return truthy(v)
}
