// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package resources

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dringdahl0320/mongo-mcp-server/internal/dispatch"
	"github.com/dringdahl0320/mongo-mcp-server/internal/schema"
	"github.com/dringdahl0320/mongo-mcp-server/internal/store"
	"github.com/dringdahl0320/mongo-mcp-server/internal/store/embedded"
)

func newResources(t *testing.T) (*Registry, *dispatch.Executor) {
	t.Helper()
	reg := schema.NewRegistry()
	require.NoError(t, reg.Register(&schema.Descriptor{
		ModelName:      "Product",
		CollectionName: "products",
		Fields: map[string]*schema.Field{
			"name":   {Name: "name", Type: schema.TypeString, Required: true},
			"status": {Name: "status", Type: schema.TypeString, Enum: []any{"draft", "live"}},
		},
	}))
	exec := dispatch.NewExecutor(embedded.New(nil), reg, nil)
	return NewRegistry(exec), exec
}

func TestList(t *testing.T) {
	r, _ := newResources(t)
	defs := r.List()
	require.Len(t, defs, 3)
	assert.Equal(t, "mongo://collections", defs[0].URI)
	assert.Equal(t, "mongo://schemas", defs[1].URI)
	assert.Equal(t, "mongo://schemas/Product", defs[2].URI)
	for _, d := range defs {
		assert.Equal(t, "application/json", d.MimeType)
	}
}

func TestReadCollections(t *testing.T) {
	r, exec := newResources(t)
	ctx := context.Background()
	require.Nil(t, exec.InsertOne(ctx, "products", store.Document{"name": "P"}).Error)
	require.Nil(t, exec.InsertOne(ctx, "logs", store.Document{"msg": "x"}).Error)

	text, mime, err := r.Read(ctx, CollectionsURI)
	require.NoError(t, err)
	assert.Equal(t, "application/json", mime)

	var parsed dispatch.CollectionsResult
	require.NoError(t, json.Unmarshal([]byte(text), &parsed))
	require.Len(t, parsed.Collections, 2)
	assert.Equal(t, "logs", parsed.Collections[0].Name)
	assert.Empty(t, parsed.Collections[0].Model)
	assert.Equal(t, "Product", parsed.Collections[1].Model)
	assert.EqualValues(t, 1, parsed.Collections[1].Count)
}

func TestReadSchemas(t *testing.T) {
	r, _ := newResources(t)

	text, _, err := r.Read(context.Background(), SchemasURI)
	require.NoError(t, err)
	var parsed struct {
		Schemas []schema.Descriptor `json:"schemas"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &parsed))
	require.Len(t, parsed.Schemas, 1)
	assert.Equal(t, "Product", parsed.Schemas[0].ModelName)
	assert.Equal(t, "products", parsed.Schemas[0].CollectionName)
}

func TestReadSchema(t *testing.T) {
	r, _ := newResources(t)

	for _, uri := range []string{"mongo://schemas/Product", "mongo://schemas/product"} {
		text, _, err := r.Read(context.Background(), uri)
		require.NoError(t, err, uri)

		var parsed map[string]any
		require.NoError(t, json.Unmarshal([]byte(text), &parsed))
		assert.Equal(t, "Product", parsed["modelName"])
		js, ok := parsed["jsonSchema"].(map[string]any)
		require.True(t, ok, "jsonSchema missing: %s", text)
		assert.Equal(t, "object", js["type"])
		assert.Contains(t, js["required"], "name")
	}
}

func TestReadErrors(t *testing.T) {
	r, _ := newResources(t)
	ctx := context.Background()

	_, _, err := r.Read(ctx, "aerospike://cluster/info")
	assert.Error(t, err)

	_, _, err = r.Read(ctx, "mongo://schemas/Missing")
	assert.ErrorIs(t, err, ErrUnknownResource)

	_, _, err = r.Read(ctx, "mongo://udfs")
	assert.ErrorIs(t, err, ErrUnknownResource)
}
