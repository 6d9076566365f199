package projection

import (
	"bytes"
	"encoding/json"
)

type fieldState uint8

const (
	unset fieldState = iota
	cleared
	set
)

// Field is a tri-state document field: never mentioned (the zero value),
// explicitly cleared with null, or set to a value.
//
// As a struct member it decodes "key absent" to Unset and "key: null" to
// Cleared, which a plain pointer cannot tell apart.
type Field[T any] struct {
	state fieldState
	value T
}

func Set[T any](v T) Field[T] { return Field[T]{state: set, value: v} }

func Cleared[T any]() Field[T] { return Field[T]{state: cleared} }

func (f Field[T]) IsUnset() bool   { return f.state == unset }
func (f Field[T]) IsCleared() bool { return f.state == cleared }
func (f Field[T]) IsSet() bool     { return f.state == set }

// Get returns the value and whether the field is set.
func (f Field[T]) Get() (T, bool) {
	return f.value, f.state == set
}

// Ptr returns the value as a pointer, nil unless set.
func (f Field[T]) Ptr() *T {
	if f.state != set {
		return nil
	}
	v := f.value
	return &v
}

// Over applies f as a patch on top of prev: an unset patch keeps prev,
// anything else replaces it.
func (f Field[T]) Over(prev Field[T]) Field[T] {
	if f.state == unset {
		return prev
	}
	return f
}

func (f *Field[T]) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*f = Cleared[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = Set(v)
	return nil
}

// MarshalJSON writes null for anything but a set field; use omitzero on the
// struct member to drop unset fields entirely.
func (f Field[T]) MarshalJSON() ([]byte, error) {
	if f.state != set {
		return []byte("null"), nil
	}
	return json.Marshal(f.value)
}

func (f Field[T]) IsZero() bool { return f.state == unset }
