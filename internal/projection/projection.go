// Package projection derives current entity state from the event log.
//
// An aggregation reads the ordered event stream, splits it into one run per
// entity, drops entities whose latest event is a tombstone, folds the save
// documents of the rest with the entity type's merge strategy, and emits one
// Projection per live entity. Nothing is kept between runs.
package projection

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"projector/internal/event"
	"projector/internal/metrics"
)

// Projection is the derived state of one live entity.
type Projection struct {
	ID       uuid.UUID  `json:"id"`
	Type     event.Type `json:"entity_type,omitempty"`
	Document any        `json:"document"`
	Added    time.Time  `json:"added"`
	Updated  time.Time  `json:"updated"`
}

// Assemble builds the projection row for a non-empty run. The type comes
// from the first event and is never revised by later ones.
func Assemble(id uuid.UUID, run []event.Event, doc any) Projection {
	return Projection{
		ID:       id,
		Type:     run[0].Type,
		Document: doc,
		Added:    run[0].Added,
		Updated:  run[len(run)-1].Added,
	}
}

// Source yields every stored event row ordered by (entity id, added, seq).
// A non-nil error ends the sequence.
type Source interface {
	Events(ctx context.Context) iter.Seq2[event.Row, error]
}

type Ordering string

const (
	// OrderStream trusts the source ordering and groups in one pass.
	OrderStream Ordering = "stream"
	// OrderBuffered groups through a map and sorts, for unordered sources.
	OrderBuffered Ordering = "buffered"
)

// MalformedPolicy decides what happens to an event that cannot be decoded or
// whose document the entity type's strategy rejects.
type MalformedPolicy string

const (
	// MalformedSkip leaves the event out and keeps going. One bad row
	// silently loses its contribution.
	MalformedSkip MalformedPolicy = "skip"
	// MalformedFail aborts the aggregation.
	MalformedFail MalformedPolicy = "fail"
)

var ErrMalformedEvent = errors.New("projection: malformed event")

// Aggregator runs the projection pipeline over a Source.
type Aggregator struct {
	Source    Source
	Registry  *Registry
	Ordering  Ordering
	Malformed MalformedPolicy
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Aggregate returns one projection per live entity, in ascending id order.
// It either returns the full set or an error, never a partial result.
func (a *Aggregator) Aggregate(ctx context.Context, f event.Filter) ([]Projection, error) {
	start := time.Now()
	out, err := a.aggregate(ctx, f)
	a.Metrics.RecordAggregation(time.Since(start), len(out), err)
	return out, err
}

func (a *Aggregator) aggregate(ctx context.Context, f event.Filter) ([]Projection, error) {
	var failed error
	events := func(yield func(event.Event) bool) {
		for row, err := range a.Source.Events(ctx) {
			if err != nil {
				failed = fmt.Errorf("read events: %w", err)
				return
			}
			a.Metrics.RecordScanned()
			ev, err := event.Decode(row)
			if err != nil {
				if a.Malformed == MalformedFail {
					failed = fmt.Errorf("%w: seq %d: %w", ErrMalformedEvent, row.Seq, err)
					return
				}
				a.skip(row.Seq, err)
				continue
			}
			if !yield(ev) {
				return
			}
		}
	}

	group := Group
	if a.Ordering == OrderBuffered {
		group = GroupBuffered
	}

	var out []Projection
	for id, run := range group(events) {
		if !Live(run) {
			continue
		}
		if f.Type != "" && run[0].Type != f.Type {
			continue
		}
		p, err := a.project(id, run)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if failed != nil {
		return nil, failed
	}
	return out, nil
}

func (a *Aggregator) project(id uuid.UUID, run []event.Event) (Projection, error) {
	reg := a.Registry
	if reg == nil {
		reg = NewRegistry()
	}
	s := reg.Lookup(run[0].Type)

	docs := make([]any, 0, len(run))
	for _, ev := range run {
		if ev.Kind != event.KindSave || ev.Document == nil {
			continue
		}
		if err := s.Check(ev.Document); err != nil {
			if a.Malformed == MalformedFail {
				return Projection{}, fmt.Errorf("%w: seq %d: %w", ErrMalformedEvent, ev.Seq, err)
			}
			a.skip(ev.Seq, err)
			continue
		}
		docs = append(docs, ev.Document)
	}
	return Assemble(id, run, s.Reduce(docs)), nil
}

func (a *Aggregator) skip(seq int64, err error) {
	reason := malformedReason(err)
	a.Metrics.RecordMalformed(reason)
	a.logger().Warn("skipping malformed event", "seq", seq, "reason", reason, "err", err)
}

func (a *Aggregator) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

func malformedReason(err error) string {
	switch {
	case errors.Is(err, event.ErrMissingID):
		return "missing_id"
	case errors.Is(err, event.ErrMissingKind):
		return "missing_kind"
	case errors.Is(err, event.ErrUnknownKind):
		return "unknown_kind"
	case errors.Is(err, event.ErrMissingAdded):
		return "missing_added"
	case errors.Is(err, event.ErrBadDocument):
		return "bad_document"
	case errors.Is(err, ErrSchemaMismatch):
		return "schema_mismatch"
	}
	return "other"
}
