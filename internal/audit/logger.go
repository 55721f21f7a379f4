// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

// Package audit records tool calls, limits the rate of mutating calls and
// validates collection-level input before it reaches the store.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Level represents the severity level of an audit event.
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
	LevelAudit   Level = "AUDIT"
)

// Category represents the category of an audit event.
type Category string

const (
	CategoryRead   Category = "READ"
	CategoryWrite  Category = "WRITE"
	CategoryAdmin  Category = "ADMIN"
	CategorySystem Category = "SYSTEM"
)

// Event is one line of the audit trail.
type Event struct {
	Timestamp   time.Time      `json:"timestamp"`
	Level       Level          `json:"level"`
	Category    Category       `json:"category"`
	Operation   string         `json:"operation"`
	Collection  string         `json:"collection,omitempty"`
	UsedPath    string         `json:"used_path,omitempty"`
	ClientID    string         `json:"client_id,omitempty"`
	Duration    time.Duration  `json:"duration_ns"`
	Success     bool           `json:"success"`
	ErrorKind   string         `json:"error_kind,omitempty"`
	Error       string         `json:"error,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	RecordCount int            `json:"record_count,omitempty"`
}

// Call describes a finished tool call.
type Call struct {
	Operation   string
	Collection  string
	UsedPath    string
	Duration    time.Duration
	RecordCount int
	ErrorKind   string
	Err         string
}

// Logger writes events as JSON lines and keeps the most recent ones.
type Logger struct {
	mu      sync.Mutex
	writer  io.Writer
	enabled bool
	buffer  []Event
	bufSize int
	logger  *slog.Logger
}

// Config holds audit logger configuration.
type Config struct {
	Enabled    bool
	FilePath   string
	BufferSize int
}

// DefaultConfig returns default audit configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		BufferSize: 100,
	}
}

// NewLogger creates an audit logger writing to cfg.FilePath, or to stderr.
// Marshal and write failures are reported through logger.
func NewLogger(cfg Config, logger *slog.Logger) (*Logger, error) {
	var writer io.Writer = os.Stderr

	if cfg.FilePath != "" {
		file, err := os.OpenFile(cfg.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening audit log file: %w", err)
		}
		writer = file
	}
	return newLogger(writer, cfg, logger), nil
}

// NewWriterLogger creates an audit logger writing to w.
func NewWriterLogger(w io.Writer, cfg Config, logger *slog.Logger) *Logger {
	return newLogger(w, cfg, logger)
}

func newLogger(w io.Writer, cfg Config, logger *slog.Logger) *Logger {
	bufSize := cfg.BufferSize
	if bufSize <= 0 {
		bufSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		writer:  w,
		enabled: cfg.Enabled,
		buffer:  make([]Event, 0, bufSize),
		bufSize: bufSize,
		logger:  logger,
	}
}

// Log records an audit event.
func (l *Logger) Log(event Event) {
	if l == nil || !l.enabled {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		l.logger.Warn("audit event marshal failed", "operation", event.Operation, "error", err)
		return
	}
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		l.logger.Warn("audit write failed", "error", err)
	}

	if len(l.buffer) >= l.bufSize {
		l.buffer = l.buffer[1:]
	}
	l.buffer = append(l.buffer, event)
}

// LogCall records a finished tool call under category. Reads log at INFO,
// writes and admin calls at AUDIT, failures at ERROR.
func (l *Logger) LogCall(ctx context.Context, category Category, call Call) {
	level := LevelInfo
	if category == CategoryWrite || category == CategoryAdmin {
		level = LevelAudit
	}
	event := Event{
		Level:       level,
		Category:    category,
		Operation:   call.Operation,
		Collection:  call.Collection,
		UsedPath:    call.UsedPath,
		Duration:    call.Duration,
		Success:     call.Err == "",
		ErrorKind:   call.ErrorKind,
		Error:       call.Err,
		RecordCount: call.RecordCount,
		ClientID:    ClientID(ctx),
	}
	if !event.Success {
		event.Level = LevelError
	}
	l.Log(event)
}

// LogSystem records a lifecycle event such as startup or schema discovery.
func (l *Logger) LogSystem(operation string, details map[string]any) {
	l.Log(Event{
		Level:     LevelInfo,
		Category:  CategorySystem,
		Operation: operation,
		Success:   true,
		Details:   details,
	})
}

// GetRecentEvents returns the most recent buffered events.
func (l *Logger) GetRecentEvents(count int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if count > len(l.buffer) {
		count = len(l.buffer)
	}

	start := len(l.buffer) - count
	events := make([]Event, count)
	copy(events, l.buffer[start:])
	return events
}

// Close closes the audit logger.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if closer, ok := l.writer.(io.Closer); ok && l.writer != os.Stderr && l.writer != os.Stdout {
		return closer.Close()
	}
	return nil
}

type contextKey string

const contextKeyClientID contextKey = "audit_client_id"

// WithClientID adds the calling client's identity to ctx.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, contextKeyClientID, clientID)
}

// ClientID returns the client identity stored by WithClientID.
func ClientID(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyClientID).(string)
	return id
}
