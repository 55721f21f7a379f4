// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

// Package database opens the document store named by a connection string.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dringdahl0320/mongo-mcp-server/internal/aerospike"
	"github.com/dringdahl0320/mongo-mcp-server/internal/store"
	"github.com/dringdahl0320/mongo-mcp-server/internal/store/embedded"
	"github.com/dringdahl0320/mongo-mcp-server/internal/store/mongo"
	"github.com/dringdahl0320/mongo-mcp-server/internal/store/sqlite"
	"github.com/dringdahl0320/mongo-mcp-server/pkg/config"
)

// URI schemes understood by Open.
const (
	SchemeMongo     = "mongodb"
	SchemeMongoSRV  = "mongodb+srv"
	SchemeMemory    = "memory"
	SchemeSQLite    = "sqlite"
	SchemeAerospike = "aerospike"
)

// AppName identifies the server to MongoDB.
const AppName = "mongo-mcp-server"

// Open connects to the store named by cfg.URI.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	scheme, rest, err := splitScheme(cfg.URI)
	if err != nil {
		return nil, err
	}

	switch scheme {
	case SchemeMongo, SchemeMongoSRV:
		dbName := cfg.Database
		if dbName == "" {
			dbName = mongo.DatabaseFromURI(cfg.URI)
		}
		if dbName == "" {
			dbName = config.DefaultDatabase
		}
		return mongo.Connect(ctx, mongo.Options{
			URI:        cfg.URI,
			Database:   dbName,
			Timeout:    time.Duration(cfg.TimeoutMs) * time.Millisecond,
			MaxRetries: cfg.MaxRetries,
			AppName:    AppName,
		}, logger)

	case SchemeMemory:
		logger.Info("using in-memory document store; data is not persisted")
		return embedded.New(logger), nil

	case SchemeSQLite:
		path := rest
		if path == "" {
			return nil, fmt.Errorf("%w: sqlite:// needs a file path", store.ErrUnsupportedURI)
		}
		p, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, err
		}
		s, err := embedded.Open(ctx, store.KindSQLite, p, logger)
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		logger.Info("opened sqlite document store", "path", path)
		return s, nil

	case SchemeAerospike:
		opts, err := AerospikeOptions(rest, cfg)
		if err != nil {
			return nil, err
		}
		client, err := aerospike.NewClient(opts)
		if err != nil {
			return nil, err
		}
		s, err := embedded.Open(ctx, store.KindAerospike, client, logger)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		logger.Info("opened aerospike document store", "namespace", opts.Namespace, "hosts", len(opts.Hosts))
		return s, nil
	}

	return nil, fmt.Errorf("%w: scheme %q", store.ErrUnsupportedURI, scheme)
}

func splitScheme(uri string) (string, string, error) {
	i := strings.Index(uri, "://")
	if i <= 0 {
		return "", "", fmt.Errorf("%w: %q has no scheme", store.ErrUnsupportedURI, config.RedactURI(uri))
	}
	return strings.ToLower(uri[:i]), uri[i+3:], nil
}

// AerospikeOptions builds client options from the part of an aerospike://
// URI after the scheme, host:port[,host:port]/namespace. Hosts or namespace
// missing from the URI are taken from cfg.Aerospike.
func AerospikeOptions(rest string, cfg *config.Config) (aerospike.Options, error) {
	opts := aerospike.Options{
		Hosts:      cfg.Aerospike.Hosts,
		Namespace:  cfg.Aerospike.Namespace,
		User:       cfg.Aerospike.User,
		Password:   cfg.Aerospike.Password,
		TLS:        cfg.Aerospike.TLS,
		TimeoutMs:  cfg.TimeoutMs,
		MaxRetries: cfg.MaxRetries,
	}

	hostPart, ns, _ := strings.Cut(rest, "/")
	if ns != "" {
		opts.Namespace = ns
	}
	if hostPart != "" {
		var hosts []config.Host
		for _, hp := range strings.Split(hostPart, ",") {
			h, err := parseHost(hp)
			if err != nil {
				return opts, err
			}
			hosts = append(hosts, h)
		}
		opts.Hosts = hosts
	}

	if len(opts.Hosts) == 0 {
		return opts, fmt.Errorf("aerospike:// needs at least one host")
	}
	if opts.Namespace == "" {
		return opts, fmt.Errorf("aerospike:// needs a namespace")
	}
	return opts, nil
}

func parseHost(hp string) (config.Host, error) {
	host, portStr, found := strings.Cut(strings.TrimSpace(hp), ":")
	if host == "" {
		return config.Host{}, fmt.Errorf("aerospike host %q has no address", hp)
	}
	if !found {
		return config.Host{Host: host, Port: 3000}, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return config.Host{}, fmt.Errorf("aerospike host %q has an invalid port", hp)
	}
	return config.Host{Host: host, Port: port}, nil
}
