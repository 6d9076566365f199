package projection

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

var ErrSchemaMismatch = errors.New("projection: document does not match schema")

// Strategy folds the save documents of one entity into its final document.
// Check runs on every payload first; payloads it rejects are left out of
// Reduce, which receives the survivors oldest first.
type Strategy interface {
	Check(doc any) error
	Reduce(docs []any) any
}

// MergeStrategy is the generic merge-patch strategy. It accepts any JSON.
type MergeStrategy struct{}

func (MergeStrategy) Check(any) error { return nil }

func (MergeStrategy) Reduce(docs []any) any { return Fold(docs) }

// FieldKind constrains a declared field to a scalar JSON type.
type FieldKind string

const (
	KindString FieldKind = "string"
	KindNumber FieldKind = "number"
	KindBool   FieldKind = "bool"
)

func (k FieldKind) accepts(v any) bool {
	switch k {
	case KindString:
		_, ok := v.(string)
		return ok
	case KindNumber:
		switch v.(type) {
		case json.Number, float64:
			return true
		}
		return false
	case KindBool:
		_, ok := v.(bool)
		return ok
	}
	return false
}

type FieldDef struct {
	Name string    `yaml:"name" validate:"required"`
	Kind FieldKind `yaml:"kind" validate:"required,oneof=string number bool"`
}

// FieldStrategy reduces a flat schema with a fixed set of scalar fields.
// Each field is tracked as a tri-state: a patch that omits a field keeps the
// previous value, null clears it, a value replaces it. Keys outside the
// schema are ignored. For documents confined to the schema the result is the
// same as MergeStrategy.
type FieldStrategy struct {
	fields []FieldDef
}

func NewFieldStrategy(fields []FieldDef) (FieldStrategy, error) {
	if len(fields) == 0 {
		return FieldStrategy{}, errors.New("projection: field strategy needs at least one field")
	}
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if seen[f.Name] {
			return FieldStrategy{}, fmt.Errorf("projection: duplicate field %q", f.Name)
		}
		switch f.Kind {
		case KindString, KindNumber, KindBool:
		default:
			return FieldStrategy{}, fmt.Errorf("projection: field %q has unsupported kind %q", f.Name, f.Kind)
		}
		seen[f.Name] = true
	}
	return FieldStrategy{fields: slices.Clone(fields)}, nil
}

func (s FieldStrategy) Check(doc any) error {
	m, ok := doc.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: want an object, got %T", ErrSchemaMismatch, doc)
	}
	for _, f := range s.fields {
		v, ok := m[f.Name]
		if !ok || v == nil {
			continue
		}
		if !f.Kind.accepts(v) {
			return fmt.Errorf("%w: field %q is not a %s", ErrSchemaMismatch, f.Name, f.Kind)
		}
	}
	return nil
}

func (s FieldStrategy) Reduce(docs []any) any {
	state := make([]Field[any], len(s.fields))
	for _, d := range docs {
		m, ok := d.(map[string]any)
		if !ok {
			continue
		}
		for i, f := range s.fields {
			state[i] = patchField(m, f.Name).Over(state[i])
		}
	}
	out := make(map[string]any, len(s.fields))
	for i, f := range s.fields {
		if v, ok := state[i].Get(); ok {
			out[f.Name] = v
		}
	}
	return out
}

func patchField(m map[string]any, name string) Field[any] {
	v, ok := m[name]
	switch {
	case !ok:
		return Field[any]{}
	case v == nil:
		return Cleared[any]()
	default:
		return Set(v)
	}
}
