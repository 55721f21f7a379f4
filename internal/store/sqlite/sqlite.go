// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

// Package sqlite persists an embedded document store in a SQLite file.
// Documents are stored as canonical Extended JSON so every value type
// survives a restart.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/dringdahl0320/mongo-mcp-server/internal/store"
	"github.com/dringdahl0320/mongo-mcp-server/internal/store/extjson"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  collection TEXT NOT NULL,
  doc_id TEXT NOT NULL,
  body TEXT NOT NULL,
  UNIQUE(collection, doc_id)
);

CREATE TABLE IF NOT EXISTS indexes (
  collection TEXT NOT NULL,
  name TEXT NOT NULL,
  spec TEXT NOT NULL,
  PRIMARY KEY(collection, name)
);
`

// Persister writes embedded store changes to a SQLite database.
type Persister struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string) (*Persister, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Persister{path: path, db: db}, nil
}

// Load reads every persisted document and index.
func (p *Persister) Load(ctx context.Context) (*store.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := store.NewSnapshot()
	rows, err := p.db.QueryContext(ctx, `SELECT collection, body FROM documents ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var coll, body string
		if err := rows.Scan(&coll, &body); err != nil {
			return nil, err
		}
		doc, err := extjson.Unmarshal([]byte(body))
		if err != nil {
			return nil, fmt.Errorf("collection %s: corrupt document: %w", coll, err)
		}
		snap.Documents[coll] = append(snap.Documents[coll], doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	idxRows, err := p.db.QueryContext(ctx, `SELECT collection, spec FROM indexes ORDER BY collection, rowid`)
	if err != nil {
		return nil, err
	}
	defer idxRows.Close()
	for idxRows.Next() {
		var coll, raw string
		if err := idxRows.Scan(&coll, &raw); err != nil {
			return nil, err
		}
		var spec store.IndexSpec
		if err := json.Unmarshal([]byte(raw), &spec); err != nil {
			return nil, fmt.Errorf("collection %s: corrupt index: %w", coll, err)
		}
		snap.Indexes[coll] = append(snap.Indexes[coll], spec)
	}
	return snap, idxRows.Err()
}

// PutDocument inserts or replaces a document.
func (p *Persister) PutDocument(ctx context.Context, collection string, doc store.Document) error {
	id, err := docID(doc["_id"])
	if err != nil {
		return err
	}
	body, err := extjson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO documents(collection, doc_id, body) VALUES(?, ?, ?)
		 ON CONFLICT(collection, doc_id) DO UPDATE SET body=excluded.body`,
		collection, id, string(body))
	return err
}

// DeleteDocument removes a document by _id.
func (p *Persister) DeleteDocument(ctx context.Context, collection string, id any) error {
	key, err := docID(id)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err = p.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND doc_id = ?`, collection, key)
	return err
}

// PutIndex records an index definition.
func (p *Persister) PutIndex(ctx context.Context, collection string, spec store.IndexSpec) error {
	raw, err := json.Marshal(spec)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO indexes(collection, name, spec) VALUES(?, ?, ?)
		 ON CONFLICT(collection, name) DO UPDATE SET spec=excluded.spec`,
		collection, spec.Name, string(raw))
	return err
}

// DropIndex removes an index definition.
func (p *Persister) DropIndex(ctx context.Context, collection, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.db.ExecContext(ctx, `DELETE FROM indexes WHERE collection = ? AND name = ?`, collection, name)
	return err
}

// Close closes the database.
func (p *Persister) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}

// docID renders an _id as the table key. String ids are stored as is, any
// other type as its Extended JSON encoding.
func docID(id any) (string, error) {
	if id == nil {
		return "", fmt.Errorf("%w: document has no _id", store.ErrInvalidDocument)
	}
	if s, ok := id.(string); ok {
		return s, nil
	}
	raw, err := extjson.Marshal(map[string]any{"_id": id})
	if err != nil {
		return "", fmt.Errorf("failed to encode _id: %w", err)
	}
	return string(raw), nil
}
