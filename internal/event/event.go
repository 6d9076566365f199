// Package event holds the append-only change events that entity projections
// are folded from.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind is the closed set of event kinds.
type Kind string

const (
	KindSave Kind = "save"
	KindDrop Kind = "drop"
)

func (k Kind) Valid() bool {
	return k == KindSave || k == KindDrop
}

// ParseKind accepts the stored tag case-insensitively ("Save", "save").
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case KindSave, KindDrop:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Type tags which projection schema an event belongs to. Empty means untyped.
type Type string

const TypeGame Type = "game"

var (
	ErrMissingID    = errors.New("event: missing entity id")
	ErrMissingKind  = errors.New("event: missing kind")
	ErrMissingAdded = errors.New("event: missing added timestamp")
	ErrUnknownKind  = errors.New("event: unknown kind")
	ErrBadDocument  = errors.New("event: unparseable document")
)

// Event is one immutable fact about an entity.
type Event struct {
	Seq      int64
	EntityID uuid.UUID
	Type     Type
	Kind     Kind
	// Document is the decoded JSON payload of a save; nil when absent.
	Document any
	Added    time.Time
}

// Row is an event as read back from a store, before validation. Nil
// pointers are SQL NULLs.
type Row struct {
	Seq        int64      `gorm:"column:seq"`
	EntityID   *string    `gorm:"column:entity_id"`
	EntityType *string    `gorm:"column:entity_type"`
	Kind       *string    `gorm:"column:kind"`
	Document   []byte     `gorm:"column:document"`
	Added      *time.Time `gorm:"column:added"`
}

// Filter scopes an aggregation. The zero value selects everything.
type Filter struct {
	Type Type
}

// Decode validates a stored row. Drop events never carry a document, even
// if the row has one.
func Decode(r Row) (Event, error) {
	if r.EntityID == nil || *r.EntityID == "" {
		return Event{}, ErrMissingID
	}
	id, err := uuid.Parse(*r.EntityID)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMissingID, err)
	}
	if r.Kind == nil {
		return Event{}, ErrMissingKind
	}
	kind, err := ParseKind(*r.Kind)
	if err != nil {
		return Event{}, err
	}
	if r.Added == nil || r.Added.IsZero() {
		return Event{}, ErrMissingAdded
	}

	ev := Event{
		Seq:      r.Seq,
		EntityID: id,
		Kind:     kind,
		Added:    r.Added.UTC(),
	}
	if r.EntityType != nil {
		ev.Type = Type(*r.EntityType)
	}
	if kind == KindSave && len(r.Document) > 0 {
		doc, err := DecodeDocument(r.Document)
		if err != nil {
			return Event{}, err
		}
		ev.Document = doc
	}
	return ev, nil
}

// DecodeDocument parses a JSON payload keeping numbers as json.Number so
// they round-trip without float rounding.
func DecodeDocument(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDocument, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrBadDocument)
	}
	return doc, nil
}
