// Package readmodel keeps entity_projections, a materialized copy of the
// latest aggregation per entity type, refreshed by the job worker.
package readmodel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"projector/internal/event"
	"projector/internal/jobs"
	"projector/internal/projection"
)

type Row struct {
	EntityID    uuid.UUID       `gorm:"primaryKey;type:uuid"`
	EntityType  string          `gorm:"type:text;not null;default:'';index"`
	Document    json.RawMessage `gorm:"type:jsonb;not null;default:'{}'::jsonb"`
	Added       time.Time       `gorm:"type:timestamptz;not null"`
	Updated     time.Time       `gorm:"type:timestamptz;not null;index"`
	RefreshedAt time.Time       `gorm:"type:timestamptz;not null;default:now()"`
}

func (Row) TableName() string { return "entity_projections" }

func (r Row) Projection() (projection.Projection, error) {
	doc, err := event.DecodeDocument(r.Document)
	if err != nil {
		return projection.Projection{}, err
	}
	return projection.Projection{
		ID:       r.EntityID,
		Type:     event.Type(r.EntityType),
		Document: doc,
		Added:    r.Added,
		Updated:  r.Updated,
	}, nil
}

type Store struct {
	DB *gorm.DB
}

// Replace swaps the stored projections of one entity type, or of every type
// when t is empty, for ps.
func (s *Store) Replace(ctx context.Context, t event.Type, ps []projection.Projection) error {
	now := time.Now().UTC()
	rows := make([]Row, 0, len(ps))
	for _, p := range ps {
		doc, err := json.Marshal(p.Document)
		if err != nil {
			return fmt.Errorf("encode projection %s: %w", p.ID, err)
		}
		rows = append(rows, Row{
			EntityID:    p.ID,
			EntityType:  string(p.Type),
			Document:    doc,
			Added:       p.Added,
			Updated:     p.Updated,
			RefreshedAt: now,
		})
	}

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		del := tx.Where("1 = 1")
		if t != "" {
			del = tx.Where("entity_type = ?", string(t))
		}
		if err := del.Delete(&Row{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 500).Error
	})
}

// List reads the stored projections of one type (all when empty), newest
// update first.
func (s *Store) List(ctx context.Context, t event.Type, limit int) ([]projection.Projection, error) {
	if limit <= 0 {
		limit = 100
	}
	q := s.DB.WithContext(ctx).Model(&Row{})
	if t != "" {
		q = q.Where("entity_type = ?", string(t))
	}
	var rows []Row
	if err := q.Order("updated desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]projection.Projection, 0, len(rows))
	for _, r := range rows {
		p, err := r.Projection()
		if err != nil {
			return nil, fmt.Errorf("decode projection %s: %w", r.EntityID, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Replacer is the write side of Store.
type Replacer interface {
	Replace(ctx context.Context, t event.Type, ps []projection.Projection) error
}

var _ Replacer = (*Store)(nil)

// Refresher recomputes a type's projections from the event log and stores
// them.
type Refresher struct {
	Aggregator *projection.Aggregator
	Store      Replacer
}

var _ jobs.Refresher = (*Refresher)(nil)

func (r *Refresher) Refresh(ctx context.Context, t event.Type) error {
	ps, err := r.Aggregator.Aggregate(ctx, event.Filter{Type: t})
	if err != nil {
		return err
	}
	return r.Store.Replace(ctx, t, ps)
}
