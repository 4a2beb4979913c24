package interp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment configures a fresh interpreter instance. It is edited by users
// as a YAML document next to the program.
type Environment struct {
	// Globals are injected into the global table before the program runs.
	Globals map[string]any `yaml:"globals,omitempty" json:"globals,omitempty" jsonschema:"description=Values injected as global variables"`
	// Libs lists the standard libraries to open. Empty opens the safe defaults.
	Libs []string `yaml:"libs,omitempty" json:"libs,omitempty" jsonschema:"description=Standard libraries to open,enum=base,enum=package,enum=table,enum=string,enum=math,enum=coroutine,enum=channel,enum=os,enum=io,enum=debug"`
	// Timeout bounds every load and REPL evaluation.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"type=string,description=Per-evaluation time limit such as 2s"`
	// CallStackSize and RegistrySize size the interpreter stacks.
	CallStackSize int `yaml:"call_stack_size,omitempty" json:"call_stack_size,omitempty" jsonschema:"minimum=0,maximum=65536"`
	RegistrySize  int `yaml:"registry_size,omitempty" json:"registry_size,omitempty" jsonschema:"minimum=0,maximum=1048576"`
	// Path is the directory modules are resolved against.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// Upper bounds for the interpreter stack sizes. Both are allocated up front
// when an instance is created.
const (
	MaxCallStackSize = 1 << 16
	MaxRegistrySize  = 1 << 20
)

// EnvironmentLimits bound the size and shape of an environment document.
type EnvironmentLimits struct {
	MaxSize          int
	MaxDepth         int
	MaxNodes         int
	MaxKeyLength     int
	MaxCallStackSize int
	MaxRegistrySize  int
}

// DefaultEnvironmentLimits returns the limits used by ParseEnvironment.
func DefaultEnvironmentLimits() EnvironmentLimits {
	return EnvironmentLimits{
		MaxSize:          1 << 20,
		MaxDepth:         20,
		MaxNodes:         10000,
		MaxKeyLength:     1024,
		MaxCallStackSize: MaxCallStackSize,
		MaxRegistrySize:  MaxRegistrySize,
	}
}

// ParseEnvironment parses an environment document with the default limits.
func ParseEnvironment(text string) (*Environment, error) {
	return ParseEnvironmentWithLimits(text, DefaultEnvironmentLimits())
}

// ParseEnvironmentWithLimits parses an environment document. Unknown fields
// are rejected. YAML syntax and type errors are returned exactly as the YAML
// decoder reports them. A document with no content yields an empty
// Environment.
func ParseEnvironmentWithLimits(text string, limits EnvironmentLimits) (*Environment, error) {
	if len(text) > limits.MaxSize {
		return nil, fmt.Errorf("environment is %d bytes, exceeds maximum %d bytes", len(text), limits.MaxSize)
	}

	var root yaml.Node
	if err := yaml.Unmarshal([]byte(text), &root); err != nil {
		return nil, err
	}
	v := &nodeValidator{limits: limits}
	if err := v.validate(&root, 0); err != nil {
		return nil, err
	}

	env := &Environment{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(text)))
	dec.KnownFields(true)
	if err := dec.Decode(env); err != nil {
		if errors.Is(err, io.EOF) {
			return env, nil
		}
		return nil, err
	}
	if env.Timeout < 0 {
		return nil, fmt.Errorf("timeout must not be negative, got %s", env.Timeout)
	}
	if err := checkSize("call_stack_size", env.CallStackSize, limits.MaxCallStackSize); err != nil {
		return nil, err
	}
	if err := checkSize("registry_size", env.RegistrySize, limits.MaxRegistrySize); err != nil {
		return nil, err
	}
	return env, nil
}

func checkSize(field string, value, max int) error {
	if value < 0 {
		return fmt.Errorf("%s must not be negative, got %d", field, value)
	}
	if value > max {
		return fmt.Errorf("%s %d exceeds maximum %d", field, value, max)
	}
	return nil
}

// IsBlank reports whether text holds no environment document at all.
func IsBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}

type nodeValidator struct {
	limits EnvironmentLimits
	nodes  int
}

func (v *nodeValidator) validate(node *yaml.Node, depth int) error {
	if depth > v.limits.MaxDepth {
		return fmt.Errorf("environment nesting depth %d exceeds maximum %d", depth, v.limits.MaxDepth)
	}
	v.nodes++
	if v.nodes > v.limits.MaxNodes {
		return fmt.Errorf("environment has more than %d nodes", v.limits.MaxNodes)
	}

	switch node.Kind {
	case yaml.DocumentNode:
		for _, child := range node.Content {
			if err := v.validate(child, depth); err != nil {
				return err
			}
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i]
			if len(key.Value) > v.limits.MaxKeyLength {
				return fmt.Errorf("environment key length %d exceeds maximum %d", len(key.Value), v.limits.MaxKeyLength)
			}
			if err := v.validate(key, depth+1); err != nil {
				return err
			}
			if err := v.validate(node.Content[i+1], depth+1); err != nil {
				return err
			}
		}
	case yaml.SequenceNode:
		for _, child := range node.Content {
			if err := v.validate(child, depth+1); err != nil {
				return err
			}
		}
	case yaml.AliasNode:
		if node.Alias != nil {
			return v.validate(node.Alias, depth+1)
		}
	}
	return nil
}
