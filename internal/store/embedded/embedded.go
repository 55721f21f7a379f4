// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

// Package embedded implements store.Store in process. Documents live in
// memory and every write is passed to an optional Persister before it is
// applied, so a file or cluster backed store survives restarts.
package embedded

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/dringdahl0320/mongo-mcp-server/internal/query"
	"github.com/dringdahl0320/mongo-mcp-server/internal/store"
)

// Persister receives every write made to an embedded store.
type Persister interface {
	Load(ctx context.Context) (*store.Snapshot, error)
	PutDocument(ctx context.Context, collection string, doc store.Document) error
	DeleteDocument(ctx context.Context, collection string, id any) error
	PutIndex(ctx context.Context, collection string, spec store.IndexSpec) error
	DropIndex(ctx context.Context, collection, name string) error
	Close() error
}

// Pinger is implemented by persisters whose backing service can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store is an embedded document store.
type Store struct {
	mu      sync.RWMutex
	kind    string
	colls   map[string]*collection
	persist Persister
	closed  bool
	logger  *slog.Logger
}

type collection struct {
	docs    []store.Document
	indexes []store.IndexSpec
}

// New returns an empty store with no persistence.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		kind:   store.KindMemory,
		colls:  make(map[string]*collection),
		logger: logger,
	}
}

// Open returns a store of the given kind backed by p, loading whatever p
// has persisted.
func Open(ctx context.Context, kind string, p Persister, logger *slog.Logger) (*Store, error) {
	s := New(logger)
	s.kind = kind
	s.persist = p

	snap, err := p.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s store: %w", kind, err)
	}
	for name, docs := range snap.Documents {
		c := s.ensure(name)
		for _, d := range docs {
			c.docs = append(c.docs, query.Normalize(d).(store.Document))
		}
	}
	for name, specs := range snap.Indexes {
		c := s.ensure(name)
		for _, spec := range specs {
			if spec.Name == store.DefaultIDIndex {
				continue
			}
			c.indexes = append(c.indexes, spec)
		}
	}
	s.logger.Debug("embedded store loaded", "kind", kind, "collections", len(s.colls))
	return s, nil
}

func foldName(name string) string {
	return strings.ToLower(name)
}

func (s *Store) ensure(name string) *collection {
	key := foldName(name)
	c, ok := s.colls[key]
	if !ok {
		c = &collection{indexes: []store.IndexSpec{store.IDIndex()}}
		s.colls[key] = c
	}
	return c
}

// Kind reports the backend kind.
func (s *Store) Kind() string { return s.kind }

// Collection returns a handle on the named collection. Names that are equal
// after lowercasing address the same collection.
func (s *Store) Collection(name string) store.Collection {
	return &Collection{s: s, name: foldName(name)}
}

// ListCollections returns the names of collections holding documents or
// indexes, sorted.
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.colls))
	for name := range s.colls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Ping reports whether the store is open and its persister, when it can be
// probed, answers.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if p, ok := s.persist.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close releases the persister. The store cannot be used afterwards.
func (s *Store) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.persist != nil {
		return s.persist.Close()
	}
	return nil
}

func (s *Store) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return store.ErrClosed
	}
	return nil
}

func newID() string {
	return uuid.NewString()
}
