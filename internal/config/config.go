// Package config reads the vegaplus configuration file.
//
// A configuration names the database connections executor steps run on and
// the defaults of the rewrite:
//
//	executor_kind: dbtransform
//	default_connection: flights
//	connections:
//	  flights:
//	    dialect: sqlite
//	    dsn: ":memory:"
//	    datasets: [data/flights.csv]
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/vegaplus/internal/pushdown"
	"github.com/roach88/vegaplus/internal/querysql"
)

// Config is the decoded configuration file.
type Config struct {
	// ExecutorKind is the transform type of inserted executor steps.
	ExecutorKind string `yaml:"executor_kind"`

	// Exclude names data sources never rewritten.
	Exclude []string `yaml:"exclude"`

	// DefaultConnection is used when a command names no connection.
	DefaultConnection string `yaml:"default_connection"`

	Connections map[string]Connection `yaml:"connections"`
}

// Connection describes one database.
type Connection struct {
	Dialect string `yaml:"dialect"`
	DSN     string `yaml:"dsn"`

	// Datasets are files loaded into the database when it is opened,
	// each into a table named after the file.
	Datasets []string `yaml:"datasets"`
}

// Default returns the configuration used without a file: one in-memory
// sqlite connection named "default".
func Default() *Config {
	return &Config{
		ExecutorKind:      pushdown.DefaultExecutorKind,
		DefaultConnection: "default",
		Connections: map[string]Connection{
			"default": {Dialect: string(querysql.SQLite), DSN: ":memory:"},
		},
	}
}

// Load reads and validates the configuration at path. Dataset paths are
// resolved relative to the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	base := filepath.Dir(path)
	for name, conn := range cfg.Connections {
		for i, ds := range conn.Datasets {
			if !filepath.IsAbs(ds) {
				conn.Datasets[i] = filepath.Join(base, ds)
			}
		}
		cfg.Connections[name] = conn
	}
	return cfg, nil
}

// Parse decodes and validates a configuration. Unknown fields are errors.
func Parse(r io.Reader) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.ExecutorKind == "" {
		cfg.ExecutorKind = pushdown.DefaultExecutorKind
	}
	if len(cfg.Connections) == 1 && cfg.DefaultConnection == "" {
		for name := range cfg.Connections {
			cfg.DefaultConnection = name
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate checks connection dialects and the default connection.
func (c *Config) Validate() error {
	var errs []error
	for _, name := range c.ConnectionNames() {
		conn := c.Connections[name]
		if _, err := querysql.ParseDialect(conn.Dialect); err != nil {
			errs = append(errs, fmt.Errorf("connections.%s: %w", name, err))
		}
		if conn.DSN == "" {
			errs = append(errs, fmt.Errorf("connections.%s: dsn is required", name))
		}
	}
	if c.DefaultConnection != "" {
		if _, ok := c.Connections[c.DefaultConnection]; !ok {
			errs = append(errs, fmt.Errorf("default_connection %q is not defined", c.DefaultConnection))
		}
	}
	return errors.Join(errs...)
}

// ConnectionNames returns the connection names, sorted.
func (c *Config) ConnectionNames() []string {
	names := make([]string, 0, len(c.Connections))
	for name := range c.Connections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Connection returns the named connection, or the default one when name
// is empty.
func (c *Config) Connection(name string) (string, Connection, error) {
	if name == "" {
		name = c.DefaultConnection
	}
	if name == "" {
		return "", Connection{}, errors.New("no connection named and no default_connection configured")
	}
	conn, ok := c.Connections[name]
	if !ok {
		return "", Connection{}, fmt.Errorf("connection %q is not defined", name)
	}
	return name, conn, nil
}

// RewriteOptions returns the rewrite options of the configuration.
func (c *Config) RewriteOptions(log *slog.Logger) pushdown.Options {
	return pushdown.Options{
		ExecutorKind: c.ExecutorKind,
		Exclude:      append([]string(nil), c.Exclude...),
		Logger:       log,
	}
}

// DialectOf returns the parsed dialect of a validated connection.
func (conn Connection) DialectOf() querysql.Dialect {
	d, _ := querysql.ParseDialect(conn.Dialect)
	return d
}
