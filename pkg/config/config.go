// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration types and loading for the MongoDB MCP server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultURI is used when neither the config file, the environment nor the
// command line names a document store.
const DefaultURI = "mongodb://localhost:27017/mcp-database"

// DefaultDatabase is used when the URI names no database.
const DefaultDatabase = "mcp-database"

// Environment variables read by Load.
const (
	EnvConfig     = "MONGO_MCP_CONFIG"
	EnvURI        = "MONGODB_URI"
	EnvSchemaPath = "SCHEMA_PATH"
	EnvTransport  = "MONGO_MCP_TRANSPORT"
	EnvRole       = "MONGO_MCP_ROLE"
	EnvPort       = "MONGO_MCP_PORT"
)

// Host represents an Aerospike cluster node.
type Host struct {
	Host string `json:"host" yaml:"host" toml:"host"`
	Port int    `json:"port" yaml:"port" toml:"port"`
}

// TLSConfig holds TLS configuration options.
type TLSConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	CAFile   string `json:"ca_file,omitempty" yaml:"ca_file,omitempty" toml:"ca_file,omitempty"`
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty" toml:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty" yaml:"key_file,omitempty" toml:"key_file,omitempty"`
}

// Role defines the permission level for database operations.
type Role string

const (
	RoleReadOnly  Role = "read-only"
	RoleReadWrite Role = "read-write"
	RoleAdmin     Role = "admin"
)

// Transports accepted by the server.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
	TransportHTTP  = "http"
)

// AerospikeConfig holds cluster settings for aerospike:// stores. Hosts and
// namespace given in the URI take precedence.
type AerospikeConfig struct {
	Hosts       []Host    `json:"hosts,omitempty" yaml:"hosts,omitempty" toml:"hosts,omitempty"`
	Namespace   string    `json:"namespace,omitempty" yaml:"namespace,omitempty" toml:"namespace,omitempty"`
	User        string    `json:"user,omitempty" yaml:"user,omitempty" toml:"user,omitempty"`
	Password    string    `json:"password,omitempty" yaml:"password,omitempty" toml:"password,omitempty"`
	PasswordEnv string    `json:"password_env,omitempty" yaml:"password_env,omitempty" toml:"password_env,omitempty"`
	TLS         TLSConfig `json:"tls,omitempty" yaml:"tls,omitempty" toml:"tls,omitempty"`
}

// Config holds the complete configuration for the MongoDB MCP server.
type Config struct {
	// Document store
	URI        string `json:"uri" yaml:"uri" toml:"uri"`
	Database   string `json:"database,omitempty" yaml:"database,omitempty" toml:"database,omitempty"`
	SchemaPath string `json:"schema_path,omitempty" yaml:"schema_path,omitempty" toml:"schema_path,omitempty"`
	AutoIndex  bool   `json:"auto_index" yaml:"auto_index" toml:"auto_index"`

	// Authorization
	Role Role `json:"role" yaml:"role" toml:"role"`

	// Client settings
	TimeoutMs  int `json:"timeout_ms" yaml:"timeout_ms" toml:"timeout_ms"`
	MaxRetries int `json:"max_retries" yaml:"max_retries" toml:"max_retries"` // 0 disables store retries

	// Server settings
	Transport string `json:"transport" yaml:"transport" toml:"transport"` // "stdio", "sse", "http"
	Port      int    `json:"port,omitempty" yaml:"port,omitempty" toml:"port,omitempty"`
	LogLevel  string `json:"log_level,omitempty" yaml:"log_level,omitempty" toml:"log_level,omitempty"`

	Aerospike AerospikeConfig `json:"aerospike,omitempty" yaml:"aerospike,omitempty" toml:"aerospike,omitempty"`

	// Audit settings
	Audit AuditConfig `json:"audit,omitempty" yaml:"audit,omitempty" toml:"audit,omitempty"`
}

// AuditConfig holds audit logging configuration.
type AuditConfig struct {
	Enabled          bool    `json:"enabled" yaml:"enabled" toml:"enabled"`
	FilePath         string  `json:"file_path,omitempty" yaml:"file_path,omitempty" toml:"file_path,omitempty"`
	BufferSize       int     `json:"buffer_size" yaml:"buffer_size" toml:"buffer_size"`
	RateLimitEnabled bool    `json:"rate_limit_enabled" yaml:"rate_limit_enabled" toml:"rate_limit_enabled"`
	RateLimitRPS     float64 `json:"rate_limit_rps" yaml:"rate_limit_rps" toml:"rate_limit_rps"`
	RateLimitBurst   int     `json:"rate_limit_burst" yaml:"rate_limit_burst" toml:"rate_limit_burst"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		URI:        DefaultURI,
		AutoIndex:  true,
		Role:       RoleAdmin,
		TimeoutMs:  10000,
		MaxRetries: 0,
		Transport:  TransportStdio,
		Port:       8080,
		LogLevel:   "info",
		Audit: AuditConfig{
			Enabled:          true,
			BufferSize:       100,
			RateLimitEnabled: true,
			RateLimitRPS:     100,
			RateLimitBurst:   200,
		},
	}
}

// Load reads configuration from a file path or uses defaults, then applies
// environment overrides. If configPath is empty, it checks for the
// MONGO_MCP_CONFIG env var. Variables from a .env file in the working
// directory are visible unless already set in the environment.
func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	if configPath == "" {
		configPath = os.Getenv(EnvConfig)
	}

	cfg := DefaultConfig()

	if configPath != "" {
		if err := decodeFile(configPath, cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.Aerospike.PasswordEnv != "" && cfg.Aerospike.Password == "" {
		cfg.Aerospike.Password = os.Getenv(cfg.Aerospike.PasswordEnv)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		_, err = toml.Decode(string(data), cfg)
	case ".json", "":
		err = json.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config file format: %s", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

func loadDotEnv(name string) error {
	values, err := godotenv.Read(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for k, v := range values {
		if _, exists := os.LookupEnv(k); !exists {
			if err := os.Setenv(k, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := strings.TrimSpace(os.Getenv(EnvURI)); v != "" {
		c.URI = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvSchemaPath)); v != "" {
		c.SchemaPath = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvTransport)); v != "" {
		c.Transport = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvRole)); v != "" {
		c.Role = Role(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvPort)); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid port %q", EnvPort, v)
		}
		c.Port = port
	}
	return nil
}

// Validate checks the configuration for errors and fills defaults.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.URI) == "" {
		return fmt.Errorf("a connection string is required")
	}

	switch c.Role {
	case RoleReadOnly, RoleReadWrite, RoleAdmin:
		// Valid roles
	case "":
		c.Role = RoleAdmin
	default:
		return fmt.Errorf("invalid role: %s (must be read-only, read-write, or admin)", c.Role)
	}

	switch strings.ToLower(c.Transport) {
	case TransportStdio, TransportSSE, TransportHTTP:
		c.Transport = strings.ToLower(c.Transport)
	case "":
		c.Transport = TransportStdio
	default:
		return fmt.Errorf("invalid transport: %s (must be stdio, sse, or http)", c.Transport)
	}

	if c.Transport != TransportStdio && (c.Port <= 0 || c.Port > 65535) {
		return fmt.Errorf("invalid port %d", c.Port)
	}

	for i, host := range c.Aerospike.Hosts {
		if host.Host == "" {
			return fmt.Errorf("aerospike.hosts[%d]: host address is required", i)
		}
		if host.Port <= 0 || host.Port > 65535 {
			return fmt.Errorf("aerospike.hosts[%d]: invalid port %d", i, host.Port)
		}
	}

	if c.SchemaPath != "" && !filepath.IsAbs(c.SchemaPath) {
		abs, err := filepath.Abs(c.SchemaPath)
		if err != nil {
			return fmt.Errorf("resolving schema path: %w", err)
		}
		c.SchemaPath = abs
	}

	if c.TimeoutMs <= 0 {
		c.TimeoutMs = 10000
	}

	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}

	return nil
}

// CanWrite returns true if the role permits write operations.
func (c *Config) CanWrite() bool {
	return c.Role == RoleReadWrite || c.Role == RoleAdmin
}

// CanAdmin returns true if the role permits administrative operations.
func (c *Config) CanAdmin() bool {
	return c.Role == RoleAdmin
}

// RedactedURI returns the connection string with any password masked.
func (c *Config) RedactedURI() string {
	return RedactURI(c.URI)
}

// RedactURI masks the password of a connection string. Multi-host URIs such
// as mongodb://u:p@a:27017,b:27017 are handled, which net/url rejects.
func RedactURI(uri string) string {
	scheme := strings.Index(uri, "://")
	if scheme < 0 {
		return uri
	}
	rest := uri[scheme+3:]
	at := strings.LastIndex(rest, "@")
	if slash := strings.Index(rest, "/"); slash >= 0 && slash < at {
		at = strings.LastIndex(rest[:slash], "@")
	}
	if at < 0 {
		return uri
	}
	userinfo := rest[:at]
	colon := strings.Index(userinfo, ":")
	if colon < 0 {
		return uri
	}
	return uri[:scheme+3] + userinfo[:colon] + ":****" + rest[at:]
}
