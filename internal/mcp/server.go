// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

// Package mcp serves the tool and resource registries over the Model Context
// Protocol.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dringdahl0320/mongo-mcp-server/internal/audit"
	"github.com/dringdahl0320/mongo-mcp-server/internal/dispatch"
	"github.com/dringdahl0320/mongo-mcp-server/internal/resources"
	"github.com/dringdahl0320/mongo-mcp-server/internal/tools"
	"github.com/dringdahl0320/mongo-mcp-server/pkg/config"
)

const (
	ServerName = "mongo-mcp-server"
)

// ServerVersion is overridden at build time.
var ServerVersion = "0.1.0"

// Server wires the registries into an MCP server.
type Server struct {
	mcp         *server.MCPServer
	executor    *dispatch.Executor
	config      *config.Config
	tools       *tools.Registry
	resources   *resources.Registry
	auditLogger *audit.Logger
	logger      *slog.Logger
}

// NewServer creates a new MCP server instance over executor.
func NewServer(executor *dispatch.Executor, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	auditLogger, err := audit.NewLogger(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		FilePath:   cfg.Audit.FilePath,
		BufferSize: cfg.Audit.BufferSize,
	}, logger)
	if err != nil {
		logger.Warn("audit logger unavailable, continuing without audit trail", "error", err)
		auditLogger = nil
	}

	rateLimiter := audit.NewRateLimiter(audit.RateLimitConfig{
		Enabled:        cfg.Audit.RateLimitEnabled,
		RequestsPerSec: cfg.Audit.RateLimitRPS,
		BurstSize:      cfg.Audit.RateLimitBurst,
	})

	toolRegistry, err := tools.NewRegistry(executor, cfg, tools.Options{
		Audit:     auditLogger,
		Limiter:   rateLimiter,
		Validator: audit.NewValidator(audit.DefaultValidatorConfig()),
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("building tool registry: %w", err)
	}

	s := &Server{
		mcp: server.NewMCPServer(ServerName, ServerVersion,
			server.WithToolCapabilities(false),
			server.WithResourceCapabilities(false, false),
			server.WithRecovery(),
		),
		executor:    executor,
		config:      cfg,
		tools:       toolRegistry,
		resources:   resources.NewRegistry(executor),
		auditLogger: auditLogger,
		logger:      logger,
	}

	if err := s.registerTools(); err != nil {
		return nil, err
	}
	s.registerResources()
	return s, nil
}

// MCP returns the underlying protocol server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// Tools returns the tool registry.
func (s *Server) Tools() *tools.Registry { return s.tools }

// Close flushes the audit trail.
func (s *Server) Close() error {
	return s.auditLogger.Close()
}

// ============================================================================
// Tools
// ============================================================================

func (s *Server) registerTools() error {
	for _, def := range s.tools.List() {
		raw, err := json.Marshal(def.InputSchema)
		if err != nil {
			return fmt.Errorf("tool %s: encoding argument schema: %w", def.Name, err)
		}
		s.mcp.AddTool(mcp.NewToolWithRawSchema(def.Name, def.Description, raw), s.callTool(def.Name))
	}
	return nil
}

// callTool returns the handler of one tool. Failures are tool results with
// isError set, never protocol errors.
func (s *Server) callTool(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if session := server.ClientSessionFromContext(ctx); session != nil {
			ctx = audit.WithClientID(ctx, session.SessionID())
		}
		env := s.tools.Call(ctx, name, req.GetArguments())
		if !env.OK() {
			return mcp.NewToolResultError(env.Text()), nil
		}
		return mcp.NewToolResultText(env.Text()), nil
	}
}

// ============================================================================
// Resources
// ============================================================================

func (s *Server) registerResources() {
	for _, def := range s.resources.List() {
		s.mcp.AddResource(
			mcp.NewResource(def.URI, def.Name,
				mcp.WithResourceDescription(def.Description),
				mcp.WithMIMEType(def.MimeType),
			),
			s.readResource,
		)
	}

	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate(
			resources.SchemaTemplate,
			"Schema",
			mcp.WithTemplateDescription("Descriptor and JSON Schema of one registered model"),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.readResource,
	)
}

func (s *Server) readResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	text, mime, err := s.resources.Read(ctx, req.Params.URI)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: req.Params.URI, MIMEType: mime, Text: text},
	}, nil
}
