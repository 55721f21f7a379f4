// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

// Package aerospike persists an embedded document store in an Aerospike
// namespace. Each collection maps to a set; a document is one record keyed
// by its _id whose "doc" bin holds the canonical Extended JSON encoding.
// Index definitions live in a dedicated set.
package aerospike

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	as "github.com/aerospike/aerospike-client-go/v7"

	"github.com/dringdahl0320/mongo-mcp-server/internal/store"
	"github.com/dringdahl0320/mongo-mcp-server/internal/store/extjson"
	"github.com/dringdahl0320/mongo-mcp-server/pkg/config"
)

// Bin and set names used for persisted state.
const (
	DocBin      = "doc"
	IndexSet    = "mcp_indexes"
	maxSetName  = 63
	collBin     = "coll"
	specBin     = "spec"
	indexKeySep = "\x00"
)

// ErrNotConnected is returned by Ping when no cluster node is reachable.
var ErrNotConnected = errors.New("not connected to Aerospike cluster")

// Options carries what NewClient needs to reach a cluster.
type Options struct {
	Hosts      []config.Host
	Namespace  string
	User       string
	Password   string
	TLS        config.TLSConfig
	TimeoutMs  int
	MaxRetries int
}

// Client wraps the Aerospike client and implements the embedded store's
// persister interface.
type Client struct {
	client      *as.Client
	namespace   string
	writePolicy *as.WritePolicy
	scanPolicy  *as.ScanPolicy
}

// NewClient creates a new Aerospike client connection.
func NewClient(opts Options) (*Client, error) {
	if len(opts.Hosts) == 0 {
		return nil, fmt.Errorf("at least one host must be specified")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("a namespace is required")
	}

	// Build host list
	hosts := make([]*as.Host, len(opts.Hosts))
	for i, h := range opts.Hosts {
		hosts[i] = as.NewHost(h.Host, h.Port)
	}

	timeout := time.Duration(opts.TimeoutMs) * time.Millisecond

	clientPolicy := as.NewClientPolicy()
	clientPolicy.Timeout = timeout

	if opts.User != "" {
		clientPolicy.User = opts.User
		clientPolicy.Password = opts.Password
	}

	if opts.TLS.Enabled {
		tlsConfig, err := buildTLSConfig(opts.TLS)
		if err != nil {
			return nil, fmt.Errorf("configuring TLS: %w", err)
		}
		clientPolicy.TlsConfig = tlsConfig
	}

	client, err := as.NewClientWithPolicyAndHost(clientPolicy, hosts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to Aerospike cluster: %w", err)
	}

	writePolicy := as.NewWritePolicy(0, 0)
	writePolicy.TotalTimeout = timeout
	writePolicy.MaxRetries = opts.MaxRetries
	writePolicy.SendKey = true

	scanPolicy := as.NewScanPolicy()
	scanPolicy.TotalTimeout = timeout
	scanPolicy.MaxRetries = opts.MaxRetries

	return &Client{
		client:      client,
		namespace:   opts.Namespace,
		writePolicy: writePolicy,
		scanPolicy:  scanPolicy,
	}, nil
}

// buildTLSConfig creates a TLS configuration from the provided settings.
func buildTLSConfig(cfg config.TLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if cfg.CAFile != "" {
		caCert, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
	}

	// mTLS
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// Close closes the Aerospike client connection.
func (c *Client) Close() error {
	if c.client != nil {
		c.client.Close()
	}
	return nil
}

// IsConnected returns true if the client is connected to the cluster.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// Ping fails when no cluster node is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// SetInfo contains set metadata.
type SetInfo struct {
	Name        string `json:"name"`
	Namespace   string `json:"namespace"`
	ObjectCount int64  `json:"object_count"`
	MemoryBytes int64  `json:"memory_bytes"`
	StopWrites  bool   `json:"stop_writes"`
}

// ListSets returns all sets in the namespace.
func (c *Client) ListSets(ctx context.Context) ([]SetInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nodes := c.client.GetNodes()
	if len(nodes) == 0 {
		return nil, fmt.Errorf("no cluster nodes available")
	}
	cmd := "sets/" + c.namespace
	infoMap, err := nodes[0].RequestInfo(as.NewInfoPolicy(), cmd)
	if err != nil {
		return nil, fmt.Errorf("requesting sets: %w", err)
	}
	return parseSets(infoMap[cmd], c.namespace), nil
}

// parseSets parses the reply of a sets/<namespace> info command.
func parseSets(setsStr, namespace string) []SetInfo {
	if setsStr == "" {
		return []SetInfo{}
	}

	setLines := strings.Split(setsStr, ";")
	sets := make([]SetInfo, 0, len(setLines))

	for _, line := range setLines {
		if line == "" {
			continue
		}
		set := SetInfo{Namespace: namespace}
		for _, pair := range strings.Split(line, ":") {
			kv := strings.SplitN(pair, "=", 2)
			if len(kv) != 2 {
				continue
			}
			key, value := kv[0], kv[1]

			switch key {
			case "set":
				set.Name = value
			case "objects":
				set.ObjectCount, _ = strconv.ParseInt(value, 10, 64)
			case "memory_data_bytes", "data_used_bytes":
				set.MemoryBytes, _ = strconv.ParseInt(value, 10, 64)
			case "stop-writes-count":
				set.StopWrites = value != "0"
			}
		}
		if set.Name != "" {
			sets = append(sets, set)
		}
	}

	return sets
}

// Load scans every set of the namespace into a snapshot.
func (c *Client) Load(ctx context.Context) (*store.Snapshot, error) {
	sets, err := c.ListSets(ctx)
	if err != nil {
		return nil, err
	}
	snap := store.NewSnapshot()
	for _, set := range sets {
		if set.ObjectCount == 0 {
			continue
		}
		records, err := c.scan(ctx, set.Name)
		if err != nil {
			return nil, err
		}
		for _, bins := range records {
			if set.Name == IndexSet {
				coll, spec, err := decodeIndex(bins)
				if err != nil {
					return nil, err
				}
				snap.Indexes[coll] = append(snap.Indexes[coll], spec)
				continue
			}
			doc, err := decodeDocument(bins)
			if err != nil {
				return nil, fmt.Errorf("set %s: %w", set.Name, err)
			}
			snap.Documents[set.Name] = append(snap.Documents[set.Name], doc)
		}
	}
	return snap, nil
}

func (c *Client) scan(ctx context.Context, setName string) ([]as.BinMap, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	recordset, err := c.client.ScanAll(c.scanPolicy, c.namespace, setName)
	if err != nil {
		return nil, fmt.Errorf("executing scan: %w", err)
	}
	defer recordset.Close()

	var out []as.BinMap
	for rec := range recordset.Results() {
		if rec.Err != nil {
			return nil, fmt.Errorf("scan result error: %w", rec.Err)
		}
		out = append(out, rec.Record.Bins)
	}
	return out, nil
}

// PutDocument writes a document record.
func (c *Client) PutDocument(ctx context.Context, collection string, doc store.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := c.docKey(collection, doc["_id"])
	if err != nil {
		return err
	}
	body, err := extjson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}
	if err := c.client.Put(c.writePolicy, key, as.BinMap{DocBin: string(body)}); err != nil {
		return fmt.Errorf("putting record: %w", err)
	}
	return nil
}

// DeleteDocument removes a document record.
func (c *Client) DeleteDocument(ctx context.Context, collection string, id any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := c.docKey(collection, id)
	if err != nil {
		return err
	}
	if _, err := c.client.Delete(c.writePolicy, key); err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}
	return nil
}

// PutIndex records an index definition.
func (c *Client) PutIndex(ctx context.Context, collection string, spec store.IndexSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(spec)
	if err != nil {
		return err
	}
	key, err := as.NewKey(c.namespace, IndexSet, collection+indexKeySep+spec.Name)
	if err != nil {
		return fmt.Errorf("creating key: %w", err)
	}
	if err := c.client.Put(c.writePolicy, key, as.BinMap{collBin: collection, specBin: string(raw)}); err != nil {
		return fmt.Errorf("putting index record: %w", err)
	}
	return nil
}

// DropIndex removes an index definition.
func (c *Client) DropIndex(ctx context.Context, collection, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := as.NewKey(c.namespace, IndexSet, collection+indexKeySep+name)
	if err != nil {
		return fmt.Errorf("creating key: %w", err)
	}
	if _, err := c.client.Delete(c.writePolicy, key); err != nil {
		return fmt.Errorf("deleting index record: %w", err)
	}
	return nil
}

func (c *Client) docKey(collection string, id any) (*as.Key, error) {
	if err := checkSetName(collection); err != nil {
		return nil, err
	}
	userKey, err := recordKey(id)
	if err != nil {
		return nil, err
	}
	key, aerr := as.NewKey(c.namespace, collection, userKey)
	if aerr != nil {
		return nil, fmt.Errorf("creating key: %w", aerr)
	}
	return key, nil
}

func checkSetName(collection string) error {
	if collection == IndexSet {
		return fmt.Errorf("collection name %q is reserved", collection)
	}
	if len(collection) > maxSetName {
		return fmt.Errorf("collection name %q exceeds %d bytes", collection, maxSetName)
	}
	return nil
}

// recordKey renders an _id as a record user key. Strings are used as is,
// other types as their Extended JSON encoding.
func recordKey(id any) (string, error) {
	if id == nil {
		return "", fmt.Errorf("%w: document has no _id", store.ErrInvalidDocument)
	}
	if s, ok := id.(string); ok {
		return s, nil
	}
	raw, err := extjson.Marshal(map[string]any{"_id": id})
	if err != nil {
		return "", fmt.Errorf("encoding _id: %w", err)
	}
	return string(raw), nil
}

func decodeDocument(bins as.BinMap) (store.Document, error) {
	body, ok := bins[DocBin].(string)
	if !ok {
		return nil, fmt.Errorf("record has no %q bin", DocBin)
	}
	return extjson.Unmarshal([]byte(body))
}

func decodeIndex(bins as.BinMap) (string, store.IndexSpec, error) {
	var spec store.IndexSpec
	coll, _ := bins[collBin].(string)
	raw, ok := bins[specBin].(string)
	if coll == "" || !ok {
		return "", spec, fmt.Errorf("malformed index record")
	}
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		return "", spec, fmt.Errorf("index record for %s: %w", coll, err)
	}
	return coll, spec, nil
}
