package projection

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"projector/internal/event"
)

const (
	StrategyMergePatch = "merge_patch"
	StrategyFields     = "fields"
)

//go:embed types.yaml
var defaultTypesYAML []byte

var declValidate = validator.New()

// Registry picks the merge strategy for an entity type. Types that were
// never declared fold with the fallback, which is merge-patch.
type Registry struct {
	fallback Strategy
	byType   map[event.Type]Strategy
}

func NewRegistry() *Registry {
	return &Registry{
		fallback: MergeStrategy{},
		byType:   map[event.Type]Strategy{},
	}
}

func (r *Registry) Register(t event.Type, s Strategy) {
	r.byType[t] = s
}

func (r *Registry) Lookup(t event.Type) Strategy {
	if s, ok := r.byType[t]; ok {
		return s
	}
	return r.fallback
}

// Types lists the declared entity types in sorted order.
func (r *Registry) Types() []event.Type {
	out := make([]event.Type, 0, len(r.byType))
	for t := range r.byType {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Declaration is the on-disk form of a registry.
type Declaration struct {
	Default string            `yaml:"default"`
	Types   []TypeDeclaration `yaml:"types" validate:"dive"`
}

type TypeDeclaration struct {
	Name     string     `yaml:"name" validate:"required"`
	Strategy string     `yaml:"strategy" validate:"required"`
	Fields   []FieldDef `yaml:"fields" validate:"dive"`
}

// ParseRegistry builds a registry from YAML. Besides merge_patch and fields,
// a declaration may name any strategy passed in named.
func ParseRegistry(data []byte, named map[string]Strategy) (*Registry, error) {
	var decl Declaration
	if err := yaml.Unmarshal(data, &decl); err != nil {
		return nil, fmt.Errorf("parse type registry: %w", err)
	}
	if err := declValidate.Struct(decl); err != nil {
		return nil, fmt.Errorf("validate type registry: %w", err)
	}

	reg := NewRegistry()
	if decl.Default != "" {
		s, err := resolveStrategy(TypeDeclaration{Name: "default", Strategy: decl.Default}, named)
		if err != nil {
			return nil, err
		}
		reg.fallback = s
	}
	for _, td := range decl.Types {
		if _, dup := reg.byType[event.Type(td.Name)]; dup {
			return nil, fmt.Errorf("type registry: %q declared twice", td.Name)
		}
		s, err := resolveStrategy(td, named)
		if err != nil {
			return nil, err
		}
		reg.Register(event.Type(td.Name), s)
	}
	return reg, nil
}

// LoadRegistry reads the registry from path, or the built-in declaration
// when path is empty.
func LoadRegistry(path string, named map[string]Strategy) (*Registry, error) {
	if path == "" {
		return ParseRegistry(defaultTypesYAML, named)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read type registry: %w", err)
	}
	return ParseRegistry(data, named)
}

func resolveStrategy(td TypeDeclaration, named map[string]Strategy) (Strategy, error) {
	switch td.Strategy {
	case StrategyMergePatch:
		return MergeStrategy{}, nil
	case StrategyFields:
		if len(td.Fields) == 0 {
			return nil, fmt.Errorf("type registry: %q uses fields but declares none", td.Name)
		}
		s, err := NewFieldStrategy(td.Fields)
		if err != nil {
			return nil, fmt.Errorf("type registry: %q: %w", td.Name, err)
		}
		return s, nil
	}
	if s, ok := named[td.Strategy]; ok {
		return s, nil
	}
	return nil, errors.New("type registry: " + td.Name + ": unknown strategy " + td.Strategy)
}
