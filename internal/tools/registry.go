// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

// Package tools maps MCP tool names onto dispatch operations and publishes
// their argument schemas.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/dringdahl0320/mongo-mcp-server/internal/audit"
	"github.com/dringdahl0320/mongo-mcp-server/internal/dispatch"
	"github.com/dringdahl0320/mongo-mcp-server/internal/store"
	"github.com/dringdahl0320/mongo-mcp-server/pkg/config"
)

// Access is what a tool does to the store. It decides role gating, rate
// limiting and the audit category.
type Access int

const (
	AccessRead Access = iota
	AccessWrite
	AccessAdmin
)

func (a Access) category() audit.Category {
	switch a {
	case AccessWrite:
		return audit.CategoryWrite
	case AccessAdmin:
		return audit.CategoryAdmin
	}
	return audit.CategoryRead
}

// ToolDefinition is one catalog entry.
type ToolDefinition struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema *jsonschema.Schema `json:"inputSchema"`
	Access      Access             `json:"-"`
}

// ToolHandler runs a tool with validated arguments.
type ToolHandler func(ctx context.Context, args Args) *dispatch.Envelope

// Tool is a registered definition with its compiled schema and handler.
type Tool struct {
	Definition ToolDefinition
	resolved   *jsonschema.Resolved
	handler    ToolHandler
}

// Options carries the optional collaborators of a registry.
type Options struct {
	Audit     *audit.Logger
	Limiter   *audit.RateLimiter
	Validator *audit.Validator
	Logger    *slog.Logger
}

// Registry manages available MCP tools.
type Registry struct {
	executor  *dispatch.Executor
	config    *config.Config
	audit     *audit.Logger
	limiter   *audit.RateLimiter
	validator *audit.Validator
	logger    *slog.Logger

	mu    sync.RWMutex
	order []string
	tools map[string]*Tool
}

// NewRegistry creates a registry with the built-in tools the configured role
// permits. A nil cfg permits everything.
func NewRegistry(executor *dispatch.Executor, cfg *config.Config, opts Options) (*Registry, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if opts.Validator == nil {
		opts.Validator = audit.NewValidator(audit.DefaultValidatorConfig())
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	r := &Registry{
		executor:  executor,
		config:    cfg,
		audit:     opts.Audit,
		limiter:   opts.Limiter,
		validator: opts.Validator,
		logger:    opts.Logger,
		tools:     make(map[string]*Tool),
	}

	for _, b := range r.builtins() {
		if !r.permits(b.def.Access) {
			continue
		}
		if err := r.Register(b.def, b.handler); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) permits(a Access) bool {
	switch a {
	case AccessWrite:
		return r.config.CanWrite()
	case AccessAdmin:
		return r.config.CanAdmin()
	}
	return true
}

// Register adds a tool. The name must be unique and the argument schema must
// compile.
func (r *Registry) Register(def ToolDefinition, handler ToolHandler) error {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return dispatch.InvalidArgument("tool name must not be empty")
	}
	if handler == nil {
		return dispatch.InvalidArgument("tool %q has no handler", name)
	}
	if def.InputSchema == nil {
		def.InputSchema = object(nil)
	}
	resolved, err := def.InputSchema.Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		return dispatch.InvalidArgument("tool %q: argument schema: %v", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return dispatch.Errorf(dispatch.KindDuplicateName, "tool %q is already registered", name)
	}
	def.Name = name
	r.tools[name] = &Tool{Definition: def, resolved: resolved, handler: handler}
	r.order = append(r.order, name)
	return nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns the catalog in registration order.
func (r *Registry) List() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition)
	}
	return defs
}

// Call executes a tool by name. Every outcome, including an unknown name or
// bad arguments, comes back as an envelope.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) *dispatch.Envelope {
	start := time.Now()
	req := dispatch.RequestContext{Operation: name}
	if c, ok := args["collection"].(string); ok {
		req.Collection = c
	}

	t, ok := r.Lookup(name)
	if !ok {
		env := dispatch.Failure("", dispatch.Errorf(dispatch.KindUnknownTool, "unknown tool: %s", name), req)
		r.record(ctx, AccessRead, req, env, start)
		return env
	}

	env := r.invoke(ctx, t, args, req)
	r.record(ctx, t.Definition.Access, req, env, start)
	return env
}

func (r *Registry) invoke(ctx context.Context, t *Tool, raw map[string]any, req dispatch.RequestContext) *dispatch.Envelope {
	args, err := decodeArgs(raw)
	if err != nil {
		return dispatch.Failure("", err, req)
	}
	if err := validateArgs(t.resolved, args); err != nil {
		return dispatch.Failure("", dispatch.InvalidArgument("%s: %v", t.Definition.Name, err), req)
	}
	if t.Definition.Access != AccessRead {
		if err := r.limiter.Wait(ctx); err != nil {
			return dispatch.Failure("", dispatch.Errorf(dispatch.KindInternal, "%s: %w", t.Definition.Name, err), req)
		}
	}
	return t.handler(ctx, args)
}

func (r *Registry) record(ctx context.Context, access Access, req dispatch.RequestContext, env *dispatch.Envelope, start time.Time) {
	call := audit.Call{
		Operation:   req.Operation,
		Collection:  req.Collection,
		UsedPath:    string(env.UsedPath),
		Duration:    time.Since(start),
		RecordCount: recordCount(env.Result),
	}
	if env.Error != nil {
		call.ErrorKind = string(env.Error.Kind)
		call.Err = env.Error.Message
		r.logger.Debug("tool call failed", "tool", req.Operation, "kind", env.Error.Kind, "error", env.Error.Message)
	}
	r.audit.LogCall(ctx, access.category(), call)
}

func recordCount(result any) int {
	switch v := result.(type) {
	case []store.Document:
		return len(v)
	case []store.IndexSpec:
		return len(v)
	case dispatch.CountResult:
		return int(v.Count)
	case dispatch.DeleteResult:
		return int(v.DeletedCount)
	case *store.UpdateResult:
		if v != nil {
			return int(v.ModifiedCount)
		}
	}
	return 0
}

// validateArgs checks args against the tool's schema in their JSON form.
func validateArgs(resolved *jsonschema.Resolved, args Args) error {
	raw, err := json.Marshal(map[string]any(args))
	if err != nil {
		return fmt.Errorf("arguments are not JSON: %w", err)
	}
	var instance map[string]any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("arguments are not JSON: %w", err)
	}
	return resolved.Validate(instance)
}
