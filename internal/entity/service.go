// Package entity is the application service in front of the event log: it
// turns save and drop requests into appended events and answers reads by
// aggregating the log.
package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"projector/internal/event"
	"projector/internal/game"
	"projector/internal/metrics"
	"projector/internal/projection"
)

var (
	ErrInvalidDocument = errors.New("invalid document")
	ErrNotFound        = errors.New("not found")
)

// Log is an append-only event store. Both the Postgres and the SQLite logs
// implement it.
type Log interface {
	projection.Source
	Append(ctx context.Context, rec event.Record) (event.Record, error)
	Timeline(ctx context.Context, id uuid.UUID) ([]event.Row, error)
}

type Service struct {
	Log        Log
	Aggregator *projection.Aggregator
	Metrics    *metrics.Metrics
	Logger     *slog.Logger

	now func() time.Time
}

// New wires a service whose aggregations read from l.
func New(l Log, reg *projection.Registry, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{
		Log: l,
		Aggregator: &projection.Aggregator{
			Source:   l,
			Registry: reg,
			Logger:   logger,
			Metrics:  m,
		},
		Metrics: m,
		Logger:  logger,
	}
}

// Save appends a save event carrying doc. A nil id starts a new entity; the
// id used is returned either way. An entity keeps the type of its first
// event, so typ only applies to new entities.
func (s *Service) Save(ctx context.Context, id *uuid.UUID, typ event.Type, doc json.RawMessage) (uuid.UUID, error) {
	if !json.Valid(doc) {
		return uuid.Nil, ErrInvalidDocument
	}
	var target uuid.UUID
	if id != nil {
		target = *id
		var err error
		if typ, err = s.entityType(ctx, target, typ); err != nil {
			return uuid.Nil, err
		}
	}
	rec, err := s.append(ctx, event.NewRecord(target, typ, event.KindSave, doc, s.clock()))
	if err != nil {
		return uuid.Nil, err
	}
	return rec.EntityID, nil
}

// Drop appends a tombstone. Dropping an unknown or already dropped entity is
// not an error.
func (s *Service) Drop(ctx context.Context, id uuid.UUID, typ event.Type) error {
	if id == uuid.Nil {
		return fmt.Errorf("drop: %w", event.ErrMissingID)
	}
	typ, err := s.entityType(ctx, id, typ)
	if err != nil {
		return err
	}
	_, err = s.append(ctx, event.NewRecord(id, typ, event.KindDrop, nil, s.clock()))
	return err
}

// entityType is the type recorded on the first event of id, or typ when id
// has no events yet. Tagging every append with it keeps read model refreshes
// on the type the entity is projected under.
func (s *Service) entityType(ctx context.Context, id uuid.UUID, typ event.Type) (event.Type, error) {
	rows, err := s.Log.Timeline(ctx, id)
	if err != nil {
		return "", fmt.Errorf("resolve entity type: %w", err)
	}
	if len(rows) == 0 {
		return typ, nil
	}
	if t := rows[0].EntityType; t != nil {
		return event.Type(*t), nil
	}
	return "", nil
}

func (s *Service) append(ctx context.Context, rec event.Record) (event.Record, error) {
	out, err := s.Log.Append(ctx, rec)
	s.Metrics.RecordAppend(string(rec.Kind), err)
	if err != nil {
		s.logger().Error("append event failed", "entity_id", rec.EntityID, "kind", rec.Kind, "err", err)
		return event.Record{}, err
	}
	s.logger().Debug("event appended", "seq", out.Seq, "entity_id", out.EntityID, "kind", out.Kind)
	return out, nil
}

// Aggregate projects every live entity matching f. Each call makes its own
// pass over the log.
func (s *Service) Aggregate(ctx context.Context, f event.Filter) ([]projection.Projection, error) {
	return s.Aggregator.Aggregate(ctx, f)
}

// Timeline returns the decodable events of one entity, oldest first.
func (s *Service) Timeline(ctx context.Context, id uuid.UUID) ([]event.Event, error) {
	rows, err := s.Log.Timeline(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	out := make([]event.Event, 0, len(rows))
	for _, r := range rows {
		ev, err := event.Decode(r)
		if err != nil {
			s.logger().Warn("timeline: skipping malformed event", "seq", r.Seq, "err", err)
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *Service) Games(ctx context.Context) ([]game.Game, error) {
	ps, err := s.Aggregate(ctx, event.Filter{Type: game.Type})
	if err != nil {
		return nil, err
	}
	return game.List(ps), nil
}

func (s *Service) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
