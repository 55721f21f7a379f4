// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dringdahl0320/mongo-mcp-server/internal/audit"
	"github.com/dringdahl0320/mongo-mcp-server/pkg/config"
)

const shutdownTimeout = 5 * time.Second

// Run serves the configured transport until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.auditLogger.LogSystem("server_start", map[string]any{
		"transport": s.config.Transport,
		"role":      s.config.Role,
		"schemas":   s.executor.Registry().Len(),
		"tools":     len(s.tools.List()),
	})

	var err error
	switch s.config.Transport {
	case config.TransportStdio:
		err = s.runStdio(ctx, os.Stdin, os.Stdout)
	case config.TransportSSE, config.TransportHTTP:
		err = s.runHTTP(ctx)
	default:
		err = fmt.Errorf("unsupported transport: %s", s.config.Transport)
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	details := map[string]any{"transport": s.config.Transport}
	if err != nil {
		details["error"] = err.Error()
	}
	s.auditLogger.LogSystem("server_shutdown", details)
	return err
}

// runStdio serves one client over in and out. stdout belongs to the protocol,
// so transport errors go to the process logger.
func (s *Server) runStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))

	s.logger.Info("MCP server started", "transport", config.TransportStdio)
	return stdio.Listen(ctx, in, out)
}

// runHTTP serves the SSE or streamable HTTP transport plus a health endpoint.
func (s *Server) runHTTP(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server started", "transport", s.config.Transport, "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler returns the HTTP handler of the configured network transport:
// /sse and /message for SSE, /mcp for streamable HTTP, and /health for both.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)

	if s.config.Transport == config.TransportSSE {
		sse := server.NewSSEServer(s.mcp)
		mux.Handle("/sse", sse)
		mux.Handle("/message", sse)
		return mux
	}
	mux.Handle("/mcp", server.NewStreamableHTTPServer(s.mcp))
	return mux
}

// handleHealth reports whether the document store answers.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "healthy", http.StatusOK
	var detail string
	if err := s.executor.Store().Ping(ctx); err != nil {
		status, code, detail = "unhealthy", http.StatusServiceUnavailable, err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"status":  status,
		"error":   audit.SanitizeString(detail),
		"store":   s.executor.Store().Kind(),
		"schemas": s.executor.Registry().Len(),
		"server":  ServerName,
		"version": ServerVersion,
	}); err != nil {
		s.logger.Warn("writing health response", "error", err)
	}
}
