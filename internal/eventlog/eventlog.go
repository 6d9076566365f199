// Package eventlog is the Postgres event log. Events are inserted into
// entity_events and never updated or deleted. Every append also enqueues a
// projection refresh job and notifies listeners, in the same transaction.
package eventlog

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"projector/internal/event"
	"projector/internal/jobs"
)

// NotifyChannel is the LISTEN/NOTIFY channel signalled on every append.
const NotifyChannel = "entity_events"

type Log struct {
	DB *gorm.DB
}

func (l *Log) Append(ctx context.Context, rec event.Record) (event.Record, error) {
	if rec.Added.IsZero() {
		rec.Added = time.Now().UTC()
	}
	err := l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}

		typ := ""
		if rec.EntityType != nil {
			typ = *rec.EntityType
		}
		if err := (&jobs.Repo{DB: tx}).EnqueueRefresh(typ); err != nil {
			return err
		}
		return tx.Exec(`select pg_notify(?, ?)`, NotifyChannel, typ).Error
	})
	if err != nil {
		return event.Record{}, fmt.Errorf("append event: %w", err)
	}
	return rec, nil
}

const selectEvents = `select seq, entity_id::text as entity_id, entity_type, kind, document, added from entity_events`

// Events streams every event ordered by entity id, added, seq. Rows are
// scanned one at a time, never buffered.
func (l *Log) Events(ctx context.Context) iter.Seq2[event.Row, error] {
	return func(yield func(event.Row, error) bool) {
		db := l.DB.WithContext(ctx)
		rows, err := db.Raw(selectEvents + ` order by entity_id asc, added asc, seq asc`).Rows()
		if err != nil {
			yield(event.Row{}, err)
			return
		}
		defer rows.Close()
		for rows.Next() {
			var r event.Row
			if err := db.ScanRows(rows, &r); err != nil {
				yield(event.Row{}, err)
				return
			}
			if !yield(r, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(event.Row{}, err)
		}
	}
}

func (l *Log) Timeline(ctx context.Context, id uuid.UUID) ([]event.Row, error) {
	var out []event.Row
	err := l.DB.WithContext(ctx).
		Raw(selectEvents+` where entity_id = ? order by added asc, seq asc`, id).
		Scan(&out).Error
	return out, err
}
