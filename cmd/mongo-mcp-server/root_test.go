// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "mongo-mcp-server version "+version)
}

func TestSchemasCommand(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "user.json"),
		[]byte(`{"model": "User", "fields": {"email": {"type": "string", "required": true}}}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"),
		[]byte("model: Broken\nfields:\n  a: decimal\n"), 0o644))

	out, err := execute(t, "schemas", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "User -> users")
	assert.Contains(t, out, "skipped")
}

func TestSchemasCommandEmptyDir(t *testing.T) {
	_, err := execute(t, "schemas", t.TempDir())
	assert.Error(t, err)
}

func TestRootRejectsExtraArgs(t *testing.T) {
	_, err := execute(t, "mongodb://localhost", "./schemas", "extra")
	assert.Error(t, err)
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "loud")
	logger.Debug("hidden")
	logger.Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
