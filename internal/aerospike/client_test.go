// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package aerospike

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	as "github.com/aerospike/aerospike-client-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dringdahl0320/mongo-mcp-server/internal/store"
	"github.com/dringdahl0320/mongo-mcp-server/internal/store/extjson"
	"github.com/dringdahl0320/mongo-mcp-server/pkg/config"
)

func TestNewClientOptions(t *testing.T) {
	// These fail before any connection is attempted.
	tests := []struct {
		name string
		opts Options
	}{
		{name: "empty hosts", opts: Options{Namespace: "test", TimeoutMs: 1000}},
		{name: "no namespace", opts: Options{Hosts: []config.Host{{Host: "localhost", Port: 3000}}, TimeoutMs: 1000}},
		{
			name: "missing CA file",
			opts: Options{
				Hosts:     []config.Host{{Host: "localhost", Port: 3000}},
				Namespace: "test",
				TLS:       config.TLSConfig{Enabled: true, CAFile: filepath.Join(t.TempDir(), "missing.pem")},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.opts)
			assert.Error(t, err)
		})
	}
}

func TestBuildTLSConfig(t *testing.T) {
	cfg, err := buildTLSConfig(config.TLSConfig{Enabled: true})
	require.NoError(t, err)
	assert.Nil(t, cfg.RootCAs)
	assert.Empty(t, cfg.Certificates)
}

func TestParseSets(t *testing.T) {
	info := "ns=test:set=products:objects=12:memory_data_bytes=2048:stop-writes-count=0;" +
		"ns=test:set=mcp_indexes:objects=2:data_used_bytes=64:stop-writes-count=5;" +
		"ns=test:objects=1;"

	sets := parseSets(info, "test")
	require.Len(t, sets, 2)

	assert.Equal(t, SetInfo{Name: "products", Namespace: "test", ObjectCount: 12, MemoryBytes: 2048}, sets[0])
	assert.Equal(t, "mcp_indexes", sets[1].Name)
	assert.Equal(t, int64(64), sets[1].MemoryBytes)
	assert.True(t, sets[1].StopWrites)

	assert.Empty(t, parseSets("", "test"))
}

func TestRecordKey(t *testing.T) {
	key, err := recordKey("abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", key)

	key, err = recordKey(int64(5))
	require.NoError(t, err)
	assert.Contains(t, key, "$numberLong")

	_, err = recordKey(nil)
	assert.ErrorIs(t, err, store.ErrInvalidDocument)
}

func TestCheckSetName(t *testing.T) {
	assert.NoError(t, checkSetName("products"))
	assert.Error(t, checkSetName(IndexSet))
	assert.Error(t, checkSetName(string(make([]byte, 64))))
}

func TestDecodeDocument(t *testing.T) {
	when := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	body, err := extjson.Marshal(store.Document{"_id": "p1", "at": when})
	require.NoError(t, err)

	doc, err := decodeDocument(as.BinMap{DocBin: string(body)})
	require.NoError(t, err)
	assert.Equal(t, store.Document{"_id": "p1", "at": when}, doc)

	_, err = decodeDocument(as.BinMap{"other": 1})
	assert.Error(t, err)
}

func TestDecodeIndex(t *testing.T) {
	spec := store.IndexSpec{Version: 2, Name: "email_1", Key: store.IndexKeys{{Field: "email", Value: 1}}, Unique: true}
	raw, err := json.Marshal(spec)
	require.NoError(t, err)

	coll, got, err := decodeIndex(as.BinMap{collBin: "users", specBin: string(raw)})
	require.NoError(t, err)
	assert.Equal(t, "users", coll)
	assert.Equal(t, spec, got)

	_, _, err = decodeIndex(as.BinMap{specBin: string(raw)})
	assert.Error(t, err)
}

func TestPingWithoutCluster(t *testing.T) {
	c := &Client{}
	assert.False(t, c.IsConnected())
	assert.ErrorIs(t, c.Ping(context.Background()), ErrNotConnected)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Ping(ctx), context.Canceled)
}
