// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dringdahl0320/mongo-mcp-server/internal/database"
	"github.com/dringdahl0320/mongo-mcp-server/internal/dispatch"
	"github.com/dringdahl0320/mongo-mcp-server/internal/mcp"
	"github.com/dringdahl0320/mongo-mcp-server/internal/schema"
	"github.com/dringdahl0320/mongo-mcp-server/pkg/config"
)

// options are the root command's flags.
type options struct {
	configPath string
	transport  string
	port       int
	role       string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "mongo-mcp-server [uri] [schema-path]",
		Short: "MCP server for MongoDB with optional schema-aware collections",
		Long: `Exposes document operations (find, insert, update, soft delete, count,
aggregate and index management) as MCP tools. Collections described by a
schema file in schema-path are served through their model; all others are
served as plain documents.`,
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := runServer(cmd, opts, args)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
			}
			return err
		},
	}

	flags := root.Flags()
	flags.StringVar(&opts.configPath, "config", "", "Path to configuration file (json, yaml or toml)")
	flags.StringVar(&opts.transport, "transport", "", "Transport: stdio, sse or http")
	flags.IntVar(&opts.port, "port", 0, "Listen port for sse and http transports")
	flags.StringVar(&opts.role, "role", "", "Role: read-only, read-write or admin")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error")

	root.AddCommand(newVersionCmd(), newSchemasCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (built %s)\n", mcp.ServerName, version, buildTime)
		},
	}
}

func newSchemasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schemas <dir>",
		Short: "Discover schema files and report what would be registered",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(cmd.ErrOrStderr(), "warn")
			registry := schema.Discover(args[0], logger)
			err := reportSchemas(cmd.OutOrStdout(), registry)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
			}
			return err
		},
		SilenceUsage: true,
	}
}

// reportSchemas prints the registry and fails when nothing valid was found.
func reportSchemas(w io.Writer, registry *schema.Registry) error {
	for _, m := range registry.All() {
		d := m.Descriptor()
		fmt.Fprintf(w, "%s -> %s (%d fields", d.ModelName, d.CollectionName, len(d.Fields))
		if d.Strict {
			fmt.Fprint(w, ", strict")
		}
		fmt.Fprintf(w, ")  %s\n", d.Source)
	}
	for _, diag := range registry.Diagnostics() {
		fmt.Fprintf(w, "skipped %s: %s\n", diag.Source, diag.Message)
	}
	if registry.Len() == 0 {
		return errors.New("no valid schema descriptors found")
	}
	return nil
}

// loadConfig loads the configuration and applies flags and positional
// arguments over it.
func loadConfig(cmd *cobra.Command, opts *options, args []string) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("transport") {
		cfg.Transport = opts.transport
	}
	if flags.Changed("port") {
		cfg.Port = opts.port
	}
	if flags.Changed("role") {
		cfg.Role = config.Role(opts.role)
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if len(args) > 0 && args[0] != "" {
		cfg.URI = args[0]
	}
	if len(args) > 1 && args[1] != "" {
		cfg.SchemaPath = args[1]
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runServer(cmd *cobra.Command, opts *options, args []string) error {
	cfg, err := loadConfig(cmd, opts, args)
	if err != nil {
		return err
	}

	stderr := cmd.ErrOrStderr()
	logger := newLogger(stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printBanner(stderr, cfg)

	registry := schema.Discover(cfg.SchemaPath, logger)

	st, err := database.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.RedactedURI(), err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.Close(closeCtx); err != nil {
			logger.Warn("closing document store", "error", err)
		}
	}()
	logger.Info("connected to document store", "kind", st.Kind(), "uri", cfg.RedactedURI())

	executor := dispatch.NewExecutor(st, registry, logger)
	if cfg.AutoIndex && registry.Len() > 0 {
		if err := executor.EnsureIndexes(ctx); err != nil {
			logger.Warn("some schema indexes could not be created", "error", err)
		}
	}

	mcp.ServerVersion = version
	server, err := mcp.NewServer(executor, cfg, logger)
	if err != nil {
		return err
	}
	defer server.Close()

	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// newLogger returns a text logger on w. Unknown levels fall back to info.
func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func printBanner(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, `
┌───────────────────────────────────────────────────┐
│                                                   │
│      MongoDB MCP Server                           │
│      %-45s│
│                                                   │
└───────────────────────────────────────────────────┘
`, "v"+version)

	fmt.Fprintf(w, "MongoDB URI: %s\n", cfg.RedactedURI())
	schemaPath := cfg.SchemaPath
	if schemaPath == "" {
		schemaPath = "None (running in schemaless mode)"
	}
	fmt.Fprintf(w, "Schema Path: %s\n", schemaPath)
	fmt.Fprintf(w, "Transport: %s  Role: %s\n\n", cfg.Transport, cfg.Role)
}
