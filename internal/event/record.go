package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Record is the persisted layout of an event. Rows are only ever inserted.
type Record struct {
	Seq        int64           `gorm:"column:seq;primaryKey;autoIncrement"`
	EntityID   uuid.UUID       `gorm:"column:entity_id;type:uuid;not null"`
	EntityType *string         `gorm:"column:entity_type;type:text"`
	Kind       Kind            `gorm:"column:kind;type:text;not null;default:'save'"`
	Document   json.RawMessage `gorm:"column:document;type:jsonb"`
	Added      time.Time       `gorm:"column:added;type:timestamptz;not null;default:now()"`
}

func (Record) TableName() string { return "entity_events" }

// NewRecord builds the row for an append. A nil id gets a fresh one.
func NewRecord(id uuid.UUID, typ Type, kind Kind, doc json.RawMessage, added time.Time) Record {
	if id == uuid.Nil {
		id = uuid.New()
	}
	r := Record{
		EntityID: id,
		Kind:     kind,
		Added:    added.UTC(),
	}
	if typ != "" {
		t := string(typ)
		r.EntityType = &t
	}
	if kind == KindSave && len(doc) > 0 {
		r.Document = doc
	}
	return r
}

// Row converts the record to the shape Decode reads.
func (r Record) Row() Row {
	id := r.EntityID.String()
	kind := string(r.Kind)
	added := r.Added
	return Row{
		Seq:        r.Seq,
		EntityID:   &id,
		EntityType: r.EntityType,
		Kind:       &kind,
		Document:   r.Document,
		Added:      &added,
	}
}
