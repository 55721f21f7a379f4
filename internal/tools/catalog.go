// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/dringdahl0320/mongo-mcp-server/internal/dispatch"
)

// ============================================================================
// Argument schemas
// ============================================================================

// object is a closed object schema.
func object(props map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	if props == nil {
		props = map[string]*jsonschema.Schema{}
	}
	return &jsonschema.Schema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
	}
}

func str(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: desc}
}

func boolean(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "boolean", Description: desc, Default: json.RawMessage("false")}
}

func count(desc string) *jsonschema.Schema {
	zero := 0.0
	return &jsonschema.Schema{Type: "integer", Description: desc, Minimum: &zero}
}

// doc accepts an object, or the same object as JSON text.
func doc(desc string, def string) *jsonschema.Schema {
	s := &jsonschema.Schema{Types: []string{"object", "string"}, Description: desc}
	if def != "" {
		s.Default = json.RawMessage(def)
	}
	return s
}

// ordered accepts an object, an array of single-field objects, or JSON text.
func ordered(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Types:       []string{"object", "array", "string"},
		Description: desc,
		Items:       &jsonschema.Schema{Type: "object"},
	}
}

func collectionArg() *jsonschema.Schema {
	return str("Collection name")
}

// ============================================================================
// Built-in tools
// ============================================================================

type builtin struct {
	def     ToolDefinition
	handler ToolHandler
}

// builtins lists the catalog in its published order.
func (r *Registry) builtins() []builtin {
	return []builtin{
		{ToolDefinition{
			Name:        dispatch.OpListCollections,
			Description: "List available collections in the database, with their bound schema models and document counts",
			InputSchema: object(nil),
			Access:      AccessRead,
		}, r.handleListCollections},
		{ToolDefinition{
			Name:        dispatch.OpFind,
			Description: "Query documents with filtering, projection, sorting and pagination. Soft-deleted documents are excluded unless the filter mentions isDeleted.",
			InputSchema: object(map[string]*jsonschema.Schema{
				"collection": collectionArg(),
				"filter":     doc("Query filter (e.g. {\"status\": \"active\"})", "{}"),
				"projection": doc("Fields to include or exclude (e.g. {\"name\": 1})", "{}"),
				"sort":       ordered("Sort order (e.g. {\"name\": 1} or [{\"a\": 1}, {\"b\": -1}])"),
				"limit":      count("Maximum number of documents to return (0 for no limit)"),
				"skip":       count("Number of documents to skip"),
			}, "collection"),
			Access: AccessRead,
		}, r.handleFind},
		{ToolDefinition{
			Name:        dispatch.OpInsertOne,
			Description: "Insert a single document into a collection. Collections with a schema apply its defaults and validation.",
			InputSchema: object(map[string]*jsonschema.Schema{
				"collection": collectionArg(),
				"document":   doc("Document to insert", ""),
			}, "collection", "document"),
			Access: AccessWrite,
		}, r.handleInsertOne},
		{ToolDefinition{
			Name:        dispatch.OpUpdateOne,
			Description: "Update a single document in a collection. Plain field maps are applied as $set.",
			InputSchema: object(map[string]*jsonschema.Schema{
				"collection": collectionArg(),
				"filter":     doc("Filter to match the document to update", ""),
				"update":     doc("Update operators (e.g. {\"$set\": {\"name\": \"new\"}}) or plain fields to set", ""),
				"upsert":     boolean("Insert a new document if no match is found"),
			}, "collection", "filter", "update"),
			Access: AccessWrite,
		}, r.handleUpdateOne},
		{ToolDefinition{
			Name:        dispatch.OpDeleteOne,
			Description: "Delete a single document. By default it is soft deleted by setting isDeleted and deletedAt.",
			InputSchema: object(map[string]*jsonschema.Schema{
				"collection": collectionArg(),
				"filter":     doc("Filter to match the document to delete", ""),
				"hardDelete": boolean("If true, physically removes the document instead of soft deleting it"),
			}, "collection", "filter"),
			Access: AccessWrite,
		}, r.handleDeleteOne},
		{ToolDefinition{
			Name:        dispatch.OpCount,
			Description: "Count non-deleted documents in a collection with optional filtering",
			InputSchema: object(map[string]*jsonschema.Schema{
				"collection": collectionArg(),
				"filter":     doc("Query filter", "{}"),
			}, "collection"),
			Access: AccessRead,
		}, r.handleCount},
		{ToolDefinition{
			Name:        dispatch.OpAggregate,
			Description: "Execute an aggregation pipeline on a collection. Soft-deleted documents never reach the pipeline.",
			InputSchema: object(map[string]*jsonschema.Schema{
				"collection": collectionArg(),
				"pipeline": {
					Types:       []string{"array", "string"},
					Description: "Pipeline stages (e.g. [{\"$match\": {...}}, {\"$group\": {...}}])",
					Items:       &jsonschema.Schema{Type: "object"},
				},
			}, "collection", "pipeline"),
			Access: AccessRead,
		}, r.handleAggregate},
		{ToolDefinition{
			Name:        dispatch.OpCreateIndex,
			Description: "Create an index on a collection",
			InputSchema: object(map[string]*jsonschema.Schema{
				"collection": collectionArg(),
				"keys":       ordered("Fields to index (e.g. {\"email\": 1}, or [{\"a\": 1}, {\"b\": -1}] for a fixed order)"),
				"options": {
					Types:       []string{"object", "string"},
					Description: "Index options",
					Properties: map[string]*jsonschema.Schema{
						"name":                    str("Custom name for the index"),
						"unique":                  {Type: "boolean", Description: "Reject duplicate values"},
						"sparse":                  {Type: "boolean", Description: "Only index documents that have the field"},
						"background":              {Type: "boolean", Description: "Build the index in the background"},
						"expireAfterSeconds":      count("TTL in seconds for documents (requires a date field)"),
						"partialFilterExpression": {Type: "object", Description: "Only index documents matching this filter"},
					},
				},
			}, "collection", "keys"),
			Access: AccessAdmin,
		}, r.handleCreateIndex},
		{ToolDefinition{
			Name:        dispatch.OpDropIndex,
			Description: "Drop an index from a collection",
			InputSchema: object(map[string]*jsonschema.Schema{
				"collection": collectionArg(),
				"indexName":  str("Name of the index to drop"),
			}, "collection", "indexName"),
			Access: AccessAdmin,
		}, r.handleDropIndex},
		{ToolDefinition{
			Name:        dispatch.OpListIndexes,
			Description: "List indexes for a collection",
			InputSchema: object(map[string]*jsonschema.Schema{
				"collection": collectionArg(),
			}, "collection"),
			Access: AccessRead,
		}, r.handleListIndexes},
	}
}

// ============================================================================
// Handlers
// ============================================================================

// reject reports an argument problem found before dispatch.
func reject(op, collection string, err error) *dispatch.Envelope {
	if !dispatch.IsKind(err, dispatch.KindInvalidArgument) {
		err = dispatch.InvalidArgument("%v", err)
	}
	return dispatch.Failure("", err, dispatch.RequestContext{Operation: op, Collection: collection})
}

func (r *Registry) handleListCollections(ctx context.Context, _ Args) *dispatch.Envelope {
	return r.executor.ListCollections(ctx)
}

func (r *Registry) handleFind(ctx context.Context, args Args) *dispatch.Envelope {
	coll := args.String("collection")
	if err := r.validator.ValidateCollection(coll); err != nil {
		return reject(dispatch.OpFind, coll, err)
	}
	filter, err := args.Document("filter")
	if err != nil {
		return reject(dispatch.OpFind, coll, err)
	}
	projection, err := args.OptionalDocument("projection")
	if err != nil {
		return reject(dispatch.OpFind, coll, err)
	}
	sort, err := args.Sort()
	if err != nil {
		return reject(dispatch.OpFind, coll, err)
	}
	return r.executor.Find(ctx, coll, dispatch.FindArgs{
		Filter:     filter,
		Projection: projection,
		Sort:       sort,
		Limit:      args.Int("limit"),
		Skip:       args.Int("skip"),
	})
}

func (r *Registry) handleInsertOne(ctx context.Context, args Args) *dispatch.Envelope {
	coll := args.String("collection")
	if err := r.validator.ValidateCollection(coll); err != nil {
		return reject(dispatch.OpInsertOne, coll, err)
	}
	document, err := args.OptionalDocument("document")
	if err != nil {
		return reject(dispatch.OpInsertOne, coll, err)
	}
	if err := r.validator.ValidateDocument(document); err != nil {
		return reject(dispatch.OpInsertOne, coll, err)
	}
	return r.executor.InsertOne(ctx, coll, document)
}

func (r *Registry) handleUpdateOne(ctx context.Context, args Args) *dispatch.Envelope {
	coll := args.String("collection")
	if err := r.validator.ValidateCollection(coll); err != nil {
		return reject(dispatch.OpUpdateOne, coll, err)
	}
	filter, err := args.Document("filter")
	if err != nil {
		return reject(dispatch.OpUpdateOne, coll, err)
	}
	update, err := args.Document("update")
	if err != nil {
		return reject(dispatch.OpUpdateOne, coll, err)
	}
	return r.executor.UpdateOne(ctx, coll, filter, update, args.Bool("upsert", false))
}

func (r *Registry) handleDeleteOne(ctx context.Context, args Args) *dispatch.Envelope {
	coll := args.String("collection")
	if err := r.validator.ValidateCollection(coll); err != nil {
		return reject(dispatch.OpDeleteOne, coll, err)
	}
	filter, err := args.Document("filter")
	if err != nil {
		return reject(dispatch.OpDeleteOne, coll, err)
	}
	return r.executor.DeleteOne(ctx, coll, filter, args.Bool("hardDelete", false))
}

func (r *Registry) handleCount(ctx context.Context, args Args) *dispatch.Envelope {
	coll := args.String("collection")
	if err := r.validator.ValidateCollection(coll); err != nil {
		return reject(dispatch.OpCount, coll, err)
	}
	filter, err := args.Document("filter")
	if err != nil {
		return reject(dispatch.OpCount, coll, err)
	}
	return r.executor.Count(ctx, coll, filter)
}

func (r *Registry) handleAggregate(ctx context.Context, args Args) *dispatch.Envelope {
	coll := args.String("collection")
	if err := r.validator.ValidateCollection(coll); err != nil {
		return reject(dispatch.OpAggregate, coll, err)
	}
	pipeline, err := args.Documents("pipeline")
	if err != nil {
		return reject(dispatch.OpAggregate, coll, err)
	}
	if err := r.validator.ValidatePipelineLength(len(pipeline)); err != nil {
		return reject(dispatch.OpAggregate, coll, err)
	}
	return r.executor.Aggregate(ctx, coll, pipeline)
}

func (r *Registry) handleCreateIndex(ctx context.Context, args Args) *dispatch.Envelope {
	coll := args.String("collection")
	if err := r.validator.ValidateCollection(coll); err != nil {
		return reject(dispatch.OpCreateIndex, coll, err)
	}
	keys, err := args.Keys()
	if err != nil {
		return reject(dispatch.OpCreateIndex, coll, err)
	}
	opts, err := args.IndexOptions()
	if err != nil {
		return reject(dispatch.OpCreateIndex, coll, err)
	}
	if opts.Name != "" {
		if err := r.validator.ValidateIndexName(opts.Name); err != nil {
			return reject(dispatch.OpCreateIndex, coll, err)
		}
	}
	return r.executor.CreateIndex(ctx, coll, keys, opts)
}

func (r *Registry) handleDropIndex(ctx context.Context, args Args) *dispatch.Envelope {
	coll := args.String("collection")
	if err := r.validator.ValidateCollection(coll); err != nil {
		return reject(dispatch.OpDropIndex, coll, err)
	}
	name := args.String("indexName")
	if err := r.validator.ValidateIndexName(name); err != nil {
		return reject(dispatch.OpDropIndex, coll, err)
	}
	return r.executor.DropIndex(ctx, coll, name)
}

func (r *Registry) handleListIndexes(ctx context.Context, args Args) *dispatch.Envelope {
	coll := args.String("collection")
	if err := r.validator.ValidateCollection(coll); err != nil {
		return reject(dispatch.OpListIndexes, coll, err)
	}
	return r.executor.ListIndexes(ctx, coll)
}
