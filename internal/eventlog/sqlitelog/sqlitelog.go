// Package sqlitelog is an event log in a single SQLite file, for local use
// and tests. It stores the same rows as the Postgres log with the added
// timestamp kept as unix nanoseconds so that it sorts numerically.
package sqlitelog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"

	"projector/internal/event"

	_ "modernc.org/sqlite"
)

type Log struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*Log, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	l := &Log{db: db, now: time.Now}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return l, nil
}

func (l *Log) Close() error { return l.db.Close() }

// No CHECK on kind: rows written by other tools are read back as they are and
// rejected at decode time.
func (l *Log) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entity_events (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_id   TEXT NOT NULL,
		entity_type TEXT,
		kind        TEXT NOT NULL DEFAULT 'save',
		document    TEXT,
		added       INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entity_events_entity ON entity_events(entity_id, added, seq);
	CREATE INDEX IF NOT EXISTS idx_entity_events_type ON entity_events(entity_type);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Append inserts rec and returns it with its sequence number. A zero Added
// is stamped with the current time.
func (l *Log) Append(ctx context.Context, rec event.Record) (event.Record, error) {
	if rec.EntityID == uuid.Nil {
		return event.Record{}, errors.New("sqlitelog: append without entity id")
	}
	if rec.Added.IsZero() {
		rec.Added = l.now().UTC()
	}
	var typ, doc any
	if rec.EntityType != nil {
		typ = *rec.EntityType
	}
	if rec.Document != nil {
		doc = string(rec.Document)
	}
	err := writeBackoff.do(ctx, func(ctx context.Context) error {
		res, err := l.db.ExecContext(ctx,
			`INSERT INTO entity_events (entity_id, entity_type, kind, document, added)
			 VALUES (?, ?, ?, ?, ?)`,
			rec.EntityID.String(), typ, string(rec.Kind), doc, rec.Added.UnixNano(),
		)
		if err != nil {
			return err
		}
		rec.Seq, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return event.Record{}, fmt.Errorf("append event: %w", err)
	}
	return rec, nil
}

const selectEvents = `SELECT seq, entity_id, entity_type, kind, document, added FROM entity_events`

// Events streams all events ordered by entity id, added, seq.
func (l *Log) Events(ctx context.Context) iter.Seq2[event.Row, error] {
	return func(yield func(event.Row, error) bool) {
		rows, err := l.db.QueryContext(ctx, selectEvents+` ORDER BY entity_id ASC, added ASC, seq ASC`)
		if err != nil {
			yield(event.Row{}, err)
			return
		}
		defer rows.Close()
		for rows.Next() {
			r, err := scanRow(rows)
			if err != nil {
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

// Timeline returns the events of one entity, oldest first.
func (l *Log) Timeline(ctx context.Context, id uuid.UUID) ([]event.Row, error) {
	rows, err := l.db.QueryContext(ctx,
		selectEvents+` WHERE entity_id = ? ORDER BY added ASC, seq ASC`, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []event.Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRow(rows *sql.Rows) (event.Row, error) {
	var (
		r                   event.Row
		id, typ, kind, body sql.NullString
		added               sql.NullInt64
	)
	if err := rows.Scan(&r.Seq, &id, &typ, &kind, &body, &added); err != nil {
		return event.Row{}, err
	}
	if id.Valid {
		r.EntityID = &id.String
	}
	if typ.Valid {
		r.EntityType = &typ.String
	}
	if kind.Valid {
		r.Kind = &kind.String
	}
	if body.Valid {
		r.Document = []byte(body.String)
	}
	if added.Valid {
		t := time.Unix(0, added.Int64).UTC()
		r.Added = &t
	}
	return r, nil
}
