package relation

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// DefaultPathName is the relationship path used when none is configured.
const DefaultPathName = "relationship"

// DefaultCascadeConcurrency bounds concurrent target resaves.
const DefaultCascadeConcurrency = 8

// PathNames is an ordered list of relationship path names.
// In YAML it may be written as a single name or a list.
type PathNames []string

// UnmarshalYAML accepts a scalar or a sequence.
func (p *PathNames) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var name string
		if err := node.Decode(&name); err != nil {
			return err
		}
		*p = PathNames{name}
		return nil
	case yaml.SequenceNode:
		var names []string
		if err := node.Decode(&names); err != nil {
			return err
		}
		*p = names
		return nil
	default:
		return fmt.Errorf("line %d: relationshipPathName must be a name or a list of names", node.Line)
	}
}

// Config holds configuration for attaching relationships to a model.
type Config struct {
	// RelationshipPathName lists the schema paths treated as relationships.
	// Default: ["relationship"]
	RelationshipPathName PathNames `yaml:"relationshipPathName"`

	// TriggerMiddleware resaves every updated target so its own save hooks run.
	// Default: false
	TriggerMiddleware bool `yaml:"triggerMiddleware"`

	// CascadeConcurrency bounds concurrent resaves when TriggerMiddleware is on.
	// Default: 8
	CascadeConcurrency int `yaml:"cascadeConcurrency"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		RelationshipPathName: PathNames{DefaultPathName},
		TriggerMiddleware:    false,
		CascadeConcurrency:   DefaultCascadeConcurrency,
	}
}

// validate fills unset values with defaults.
func (c *Config) validate() {
	if len(c.RelationshipPathName) == 0 {
		c.RelationshipPathName = PathNames{DefaultPathName}
	}
	if c.CascadeConcurrency < 1 {
		c.CascadeConcurrency = DefaultCascadeConcurrency
	}
}
