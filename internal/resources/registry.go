// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

// Package resources exposes the collection listing and the registered schema
// descriptors as read-only MCP resources.
package resources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/dringdahl0320/mongo-mcp-server/internal/dispatch"
	"github.com/dringdahl0320/mongo-mcp-server/internal/schema"
)

// Resource URIs.
const (
	Scheme          = "mongo://"
	CollectionsURI  = Scheme + "collections"
	SchemasURI      = Scheme + "schemas"
	SchemaURIPrefix = SchemasURI + "/"
	SchemaTemplate  = SchemaURIPrefix + "{model}"

	mimeJSON = "application/json"
)

// ErrUnknownResource is returned for URIs no resource serves.
var ErrUnknownResource = errors.New("unknown resource")

// ResourceDefinition represents an MCP resource definition.
type ResourceDefinition struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// Registry serves resources from an executor and its schema registry.
type Registry struct {
	executor *dispatch.Executor
	schemas  *schema.Registry
}

// NewRegistry creates a new resource registry.
func NewRegistry(executor *dispatch.Executor) *Registry {
	return &Registry{
		executor: executor,
		schemas:  executor.Registry(),
	}
}

// List returns the fixed resources followed by one entry per registered
// model.
func (r *Registry) List() []ResourceDefinition {
	resources := []ResourceDefinition{
		{
			URI:         CollectionsURI,
			Name:        "Collections",
			Description: "Collections in the database with their schema bindings and document counts",
			MimeType:    mimeJSON,
		},
		{
			URI:         SchemasURI,
			Name:        "Schemas",
			Description: "All registered schema descriptors",
			MimeType:    mimeJSON,
		},
	}

	for _, m := range r.schemas.All() {
		resources = append(resources, ResourceDefinition{
			URI:         SchemaURI(m.Name()),
			Name:        fmt.Sprintf("Schema: %s", m.Name()),
			Description: fmt.Sprintf("Descriptor and JSON Schema of collection %s", m.Collection()),
			MimeType:    mimeJSON,
		})
	}
	return resources
}

// SchemaURI returns the resource URI of one model.
func SchemaURI(model string) string {
	return SchemaURIPrefix + url.PathEscape(model)
}

// Read retrieves the content and MIME type of a resource.
func (r *Registry) Read(ctx context.Context, uri string) (string, string, error) {
	if !strings.HasPrefix(uri, Scheme) {
		return "", "", fmt.Errorf("invalid URI scheme: %s", uri)
	}

	switch {
	case uri == CollectionsURI:
		return r.readCollections(ctx)
	case uri == SchemasURI:
		return r.readSchemas()
	case strings.HasPrefix(uri, SchemaURIPrefix):
		name, err := url.PathUnescape(strings.TrimPrefix(uri, SchemaURIPrefix))
		if err != nil {
			return "", "", fmt.Errorf("%w: %s", ErrUnknownResource, uri)
		}
		return r.readSchema(name)
	default:
		return "", "", fmt.Errorf("%w: %s", ErrUnknownResource, uri)
	}
}

func (r *Registry) readCollections(ctx context.Context) (string, string, error) {
	env := r.executor.ListCollections(ctx)
	if env.Error != nil {
		return "", "", fmt.Errorf("listing collections: %s", env.Error.Message)
	}
	return marshal(env.Result)
}

// descriptorView is a descriptor as published, with its compiled schema.
type descriptorView struct {
	*schema.Descriptor
	JSONSchema *jsonschema.Schema `json:"jsonSchema,omitempty"`
}

func (r *Registry) readSchemas() (string, string, error) {
	models := r.schemas.All()
	out := struct {
		Schemas     []*schema.Descriptor `json:"schemas"`
		Diagnostics []schema.Diagnostic  `json:"diagnostics,omitempty"`
	}{
		Schemas:     make([]*schema.Descriptor, 0, len(models)),
		Diagnostics: r.schemas.Diagnostics(),
	}
	for _, m := range models {
		out.Schemas = append(out.Schemas, m.Descriptor())
	}
	return marshal(out)
}

func (r *Registry) readSchema(name string) (string, string, error) {
	m, err := r.schemas.Model(name)
	if err != nil {
		return "", "", fmt.Errorf("%w: schema %q", ErrUnknownResource, name)
	}
	return marshal(descriptorView{Descriptor: m.Descriptor(), JSONSchema: m.JSONSchema()})
}

func marshal(v any) (string, string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", "", err
	}
	return string(data), mimeJSON, nil
}
