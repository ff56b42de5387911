// Package schema holds the declarative table configuration and compiles it
// into table schemas and CreateTable payloads.
//
// A configuration file looks like:
//
//	namespace: dev_
//	default_throughput: {read: 5, write: 5}
//	tables:
//	  orders:
//	    key:
//	      - {name: id, role: hash, type: string}
//	    global_indexes:
//	      - name: ByStatus
//	        parts:
//	          - {name: status, role: hash, type: string}
//	        throughput: {read: 1, write: 1}
//	    fields:
//	      created: datetime
//	      is_paid: boolean
//
// Table names in the file are unprefixed. The namespace is applied by
// [Config.TableName] and removed by [Config.ReverseTableName].
package schema

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/acksell/ddbmodel/dynamodb/ddberrors"
	"gopkg.in/yaml.v3"
)

// Config is the root of a schema file.
type Config struct {
	Namespace         string                 `yaml:"namespace" json:"namespace"`
	DefaultThroughput *Throughput            `yaml:"default_throughput,omitempty" json:"default_throughput,omitempty"`
	Tables            map[string]TableConfig `yaml:"tables" json:"tables"`
}

// TableConfig declares one table.
type TableConfig struct {
	Key           []KeyPartConfig   `yaml:"key" json:"key"`
	LocalIndexes  []IndexConfig     `yaml:"local_indexes,omitempty" json:"local_indexes,omitempty"`
	GlobalIndexes []IndexConfig     `yaml:"global_indexes,omitempty" json:"global_indexes,omitempty"`
	Fields        map[string]string `yaml:"fields,omitempty" json:"fields,omitempty"`
	Throughput    *Throughput       `yaml:"throughput,omitempty" json:"throughput,omitempty"`
}

// KeyPartConfig declares a hash or range key attribute.
type KeyPartConfig struct {
	Name string `yaml:"name" json:"name"`
	Role string `yaml:"role" json:"role"` // "hash" or "range"
	Type string `yaml:"type" json:"type"` // "string", "number" or "binary" (or "S", "N", "B")
}

// IndexConfig declares a local or global secondary index.
type IndexConfig struct {
	Name       string          `yaml:"name" json:"name"`
	Parts      []KeyPartConfig `yaml:"parts" json:"parts"`
	Projection string          `yaml:"projection,omitempty" json:"projection,omitempty"`
	Throughput *Throughput     `yaml:"throughput,omitempty" json:"throughput,omitempty"`
}

// Throughput is provisioned read and write capacity.
type Throughput struct {
	Read  int64 `yaml:"read" json:"read"`
	Write int64 `yaml:"write" json:"write"`
}

// Load reads and validates a schema file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates schema YAML.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ddberrors.ConfigurationError{Message: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the parts of the config that do not depend on a single table.
func (c *Config) Validate() error {
	if c.Namespace == "" {
		return ddberrors.NewConfigurationError("missing namespace")
	}
	if len(c.Tables) == 0 {
		return ddberrors.NewConfigurationError("no tables declared")
	}
	for name, t := range c.Tables {
		if len(t.Key) == 0 {
			return ddberrors.NewConfigurationError("table %s: missing key", name)
		}
	}
	return nil
}

// WithNamespace returns a copy of the config using namespace.
func (c *Config) WithNamespace(namespace string) *Config {
	out := *c
	out.Namespace = namespace
	return &out
}

// TableName prefixes an unprefixed table name with the namespace.
func (c *Config) TableName(name string) string {
	return c.Namespace + name
}

// ReverseTableName strips the namespace from a prefixed table name.
func (c *Config) ReverseTableName(prefixed string) string {
	return strings.TrimPrefix(prefixed, c.Namespace)
}

// ListTableNames returns the declared, unprefixed table names in sorted order.
func (c *Config) ListTableNames() []string {
	names := make([]string, 0, len(c.Tables))
	for name := range c.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Table returns the declaration of an unprefixed table name.
func (c *Config) Table(name string) (TableConfig, error) {
	t, ok := c.Tables[name]
	if !ok {
		return TableConfig{}, &ddberrors.UnknownTableError{Table: name}
	}
	return t, nil
}
