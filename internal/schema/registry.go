// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Diagnostic records a schema source that could not be registered.
type Diagnostic struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

func (d Diagnostic) String() string {
	return d.Source + ": " + d.Message
}

// Registry holds the models bound at startup. It is filled before the
// server accepts calls and only read afterwards.
type Registry struct {
	byName      map[string]*Model
	byColl      map[string]*Model
	diagnostics []Diagnostic
}

// NewRegistry returns an empty registry; every collection is schemaless.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Model),
		byColl: make(map[string]*Model),
	}
}

// Discover walks dir for descriptor files and registers every valid
// descriptor, in lexical path order. Unreadable or invalid sources are
// recorded as diagnostics and skipped. An empty or missing dir yields an
// empty registry.
func Discover(dir string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := NewRegistry()
	if strings.TrimSpace(dir) == "" {
		logger.Info("no schema path configured; running in schemaless mode")
		return r
	}

	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("schema path does not exist; running in schemaless mode", "path", dir)
			return r
		}
		r.diagnose(dir, err, logger)
		return r
	}

	if !info.IsDir() {
		r.loadSource(dir, logger)
	} else {
		walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				r.diagnose(path, err, logger)
				if d != nil && d.IsDir() && path != dir {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				if path != dir && strings.HasPrefix(d.Name(), ".") {
					return fs.SkipDir
				}
				return nil
			}
			if IsSchemaFile(path) {
				r.loadSource(path, logger)
			}
			return nil
		})
		if walkErr != nil {
			r.diagnose(dir, walkErr, logger)
		}
	}

	if r.Len() == 0 {
		logger.Warn("no valid schema descriptors found; running in schemaless mode", "path", dir, "diagnostics", len(r.diagnostics))
	} else {
		logger.Info("schema discovery complete", "path", dir, "models", r.Len(), "diagnostics", len(r.diagnostics))
	}
	return r
}

func (r *Registry) loadSource(path string, logger *slog.Logger) {
	descs, err := LoadFile(path)
	if err != nil {
		r.diagnose(path, err, logger)
		return
	}
	for _, d := range descs {
		if prev, ok := r.byColl[strings.ToLower(d.CollectionName)]; ok {
			logger.Warn("collection already bound; later descriptor wins",
				"collection", d.CollectionName, "previous", prev.Name(), "model", d.ModelName, "source", path)
		}
		if err := r.Register(d); err != nil {
			r.diagnose(path, err, logger)
			continue
		}
		logger.Debug("registered model", "model", d.ModelName, "collection", d.CollectionName, "source", path)
	}
}

func (r *Registry) diagnose(source string, err error, logger *slog.Logger) {
	r.diagnostics = append(r.diagnostics, Diagnostic{Source: source, Message: err.Error()})
	logger.Warn("skipping schema source", "source", source, "error", err)
}

// Register compiles and binds a descriptor. A later descriptor for the same
// model name or the same collection replaces the earlier one.
func (r *Registry) Register(d *Descriptor) error {
	m, err := NewModel(d)
	if err != nil {
		return err
	}
	name := strings.ToLower(d.ModelName)
	coll := strings.ToLower(d.CollectionName)

	if prev, ok := r.byName[name]; ok {
		r.unbind(prev)
	}
	if prev, ok := r.byColl[coll]; ok {
		r.unbind(prev)
	}
	r.byName[name] = m
	r.byColl[coll] = m
	return nil
}

func (r *Registry) unbind(m *Model) {
	delete(r.byName, strings.ToLower(m.Name()))
	delete(r.byColl, strings.ToLower(m.Collection()))
}

// Lookup resolves a collection identifier, matching model names first and
// collection names second, ignoring case.
func (r *Registry) Lookup(name string) (*Model, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, false
	}
	if m, ok := r.byName[key]; ok {
		return m, true
	}
	m, ok := r.byColl[key]
	return m, ok
}

// Has reports whether Lookup would succeed.
func (r *Registry) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Model returns the model registered under a model name.
func (r *Registry) Model(name string) (*Model, error) {
	m, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("model %q is not registered", name)
	}
	return m, nil
}

// All returns the registered models ordered by model name.
func (r *Registry) All() []*Model {
	out := make([]*Model, 0, len(r.byName))
	for _, m := range r.byName {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name()) < strings.ToLower(out[j].Name())
	})
	return out
}

// Len returns the number of registered models.
func (r *Registry) Len() int { return len(r.byName) }

// Diagnostics returns the sources skipped during discovery.
func (r *Registry) Diagnostics() []Diagnostic {
	return append([]Diagnostic(nil), r.diagnostics...)
}
