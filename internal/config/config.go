// Package config loads the YAML file describing the models whose
// relationships are kept in sync, and binds them to collections.
//
// Example:
//
//	scanSegments: 4
//	models:
//	  - name: Parent
//	    table: parents
//	    schema:
//	      paths:
//	        children: {type: array, of: {type: ref}}
//	  - name: Child
//	    table: children
//	    schema:
//	      paths:
//	        parents: {type: array, of: {type: ref, ref: Parent, childPath: children}}
//	    relations:
//	      relationshipPathName: parents
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jacentio/backref/model"
	"github.com/jacentio/backref/relation"
	"github.com/jacentio/backref/store"
	"github.com/jacentio/backref/store/dynamo"
)

// EnvPath names the environment variable holding the configuration file path.
const EnvPath = "BACKREF_CONFIG"

// MaxFileSize caps the configuration file size.
const MaxFileSize = 1 << 20

// ErrInvalid is returned for configurations that cannot be built.
var ErrInvalid = errors.New("backref: invalid configuration")

// Config is the root of the configuration file.
type Config struct {
	// ScanSegments is the default number of parallel DynamoDB scan segments.
	ScanSegments int `yaml:"scanSegments"`

	// WriteConcurrency is the default bound on concurrent DynamoDB updates.
	WriteConcurrency int `yaml:"writeConcurrency"`

	// Models are registered in order.
	Models []ModelConfig `yaml:"models"`
}

// ModelConfig declares one model.
type ModelConfig struct {
	// Name is the model name referenced by ref.
	Name string `yaml:"name"`

	// Table holds the model's documents.
	// Default: the model name
	Table string `yaml:"table"`

	// Schema declares the model's paths.
	Schema model.Schema `yaml:"schema"`

	// Relations attaches relationship synchronization when set.
	Relations *relation.Config `yaml:"relations,omitempty"`
}

// Binding is a built model and, when configured, its relationships.
type Binding struct {
	Table     string
	Model     *model.Model
	Relations *relation.Relations
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config: %w", err)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("%w: file too large: %d bytes (max %d)", ErrInvalid, info.Size(), MaxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a configuration.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("%w: no models", ErrInvalid)
	}
	seen := make(map[string]bool, len(c.Models))
	for i := range c.Models {
		m := &c.Models[i]
		if m.Name == "" {
			return fmt.Errorf("%w: model at index %d has empty name", ErrInvalid, i)
		}
		if seen[m.Name] {
			return fmt.Errorf("%w: model %s declared twice", ErrInvalid, m.Name)
		}
		seen[m.Name] = true
		if m.Table == "" {
			m.Table = m.Name
		}
	}
	return nil
}

// Dynamo returns the DynamoDB collection configuration of m. Collection
// paths of the schema are stored as string sets.
func (c *Config) Dynamo(m ModelConfig) dynamo.Config {
	cfg := dynamo.DefaultConfig(m.Table)
	cfg.SetAttributes = m.Schema.SetPaths()
	if c.ScanSegments > 0 {
		cfg.ScanSegments = c.ScanSegments
	}
	if c.WriteConcurrency > 0 {
		cfg.WriteConcurrency = c.WriteConcurrency
	}
	return cfg
}

// Build registers every model in reg over the collection returned by open,
// then attaches the configured relationships. Relationships are attached
// after all models are registered so refs may point forward.
func (c *Config) Build(reg *model.Registry, open func(ModelConfig) store.Collection, logger *slog.Logger) ([]Binding, error) {
	if logger == nil {
		logger = slog.Default()
	}

	bindings := make([]Binding, 0, len(c.Models))
	for _, mc := range c.Models {
		m := model.New(mc.Name, mc.Schema, open(mc), model.WithLogger(logger.With("model", mc.Name)))
		if err := reg.Register(m); err != nil {
			return nil, err
		}
		bindings = append(bindings, Binding{Table: mc.Table, Model: m})
	}

	for i, mc := range c.Models {
		if mc.Relations == nil {
			continue
		}
		rels, err := relation.Attach(bindings[i].Model, *mc.Relations)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", mc.Name, err)
		}
		bindings[i].Relations = rels
	}
	return bindings, nil
}
