// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(buf *bytes.Buffer, enabled bool) *Logger {
	return NewWriterLogger(buf, Config{Enabled: enabled, BufferSize: 10}, nil)
}

func TestNewLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewLogger(Config{Enabled: true, FilePath: path, BufferSize: 10}, nil)
	require.NoError(t, err)

	logger.LogSystem("startup", map[string]any{"schemas": 2})
	require.NoError(t, logger.Close())

	_, err = NewLogger(Config{Enabled: true, FilePath: filepath.Join(t.TempDir(), "missing", "audit.log")}, nil)
	assert.Error(t, err)
}

func TestLogEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, true)

	logger.Log(Event{
		Level:      LevelAudit,
		Category:   CategoryWrite,
		Operation:  "insertOne",
		Collection: "products",
		UsedPath:   "typed",
		Success:    true,
	})

	var logged Event
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &logged))
	assert.Equal(t, "insertOne", logged.Operation)
	assert.Equal(t, "products", logged.Collection)
	assert.Equal(t, "typed", logged.UsedPath)
	assert.False(t, logged.Timestamp.IsZero())
}

func TestLogCall(t *testing.T) {
	tests := []struct {
		name      string
		category  Category
		call      Call
		wantLevel Level
	}{
		{"read", CategoryRead, Call{Operation: "find", Collection: "widgets", UsedPath: "generic", RecordCount: 3}, LevelInfo},
		{"write", CategoryWrite, Call{Operation: "insertOne", Collection: "widgets"}, LevelAudit},
		{"admin", CategoryAdmin, Call{Operation: "createIndex", Collection: "widgets"}, LevelAudit},
		{"failure", CategoryWrite, Call{Operation: "insertOne", ErrorKind: "ValidationError", Err: "name is required"}, LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := newTestLogger(&buf, true)
			ctx := WithClientID(context.Background(), "session-1")

			tt.call.Duration = time.Millisecond
			logger.LogCall(ctx, tt.category, tt.call)

			var logged Event
			require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &logged))
			assert.Equal(t, tt.category, logged.Category)
			assert.Equal(t, tt.wantLevel, logged.Level)
			assert.Equal(t, tt.call.Err == "", logged.Success)
			assert.Equal(t, tt.call.ErrorKind, logged.ErrorKind)
			assert.Equal(t, "session-1", logged.ClientID)
		})
	}
}

func TestGetRecentEvents(t *testing.T) {
	logger := NewWriterLogger(&bytes.Buffer{}, Config{Enabled: true, BufferSize: 3}, nil)

	for i := 0; i < 5; i++ {
		logger.Log(Event{Operation: "op" + string(rune('0'+i))})
	}

	events := logger.GetRecentEvents(10)
	require.Len(t, events, 3)
	assert.Equal(t, "op2", events[0].Operation)
	assert.Equal(t, "op4", events[2].Operation)

	assert.Len(t, logger.GetRecentEvents(2), 2)
}

func TestDisabledLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, false)

	logger.Log(Event{Operation: "test"})
	logger.LogSystem("startup", nil)

	assert.Zero(t, buf.Len())

	var nilLogger *Logger
	nilLogger.Log(Event{Operation: "test"})
	assert.NoError(t, nilLogger.Close())
}

func TestLogLinesAreJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, true)
	logger.LogSystem("startup", nil)
	logger.LogCall(context.Background(), CategoryRead, Call{Operation: "count"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.True(t, json.Valid([]byte(line)), line)
	}
}
