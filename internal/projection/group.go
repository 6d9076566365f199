package projection

import (
	"bytes"
	"cmp"
	"iter"
	"maps"
	"slices"

	"github.com/google/uuid"

	"projector/internal/event"
)

// Group splits an event stream into contiguous runs sharing an entity id.
// It makes one forward pass and only holds the current run.
//
// The input must already be sorted by (entity id, added, seq). Group does
// not check this: two separate runs of the same id come out as two groups.
func Group(events iter.Seq[event.Event]) iter.Seq2[uuid.UUID, []event.Event] {
	return func(yield func(uuid.UUID, []event.Event) bool) {
		var (
			cur uuid.UUID
			run []event.Event
		)
		for ev := range events {
			if len(run) > 0 && ev.EntityID != cur {
				if !yield(cur, run) {
					return
				}
				run = nil
			}
			cur = ev.EntityID
			run = append(run, ev)
		}
		if len(run) > 0 {
			yield(cur, run)
		}
	}
}

// GroupBuffered groups an arbitrarily ordered stream. It reads everything,
// orders each entity's events by (added, seq) and yields entities in
// ascending id order.
func GroupBuffered(events iter.Seq[event.Event]) iter.Seq2[uuid.UUID, []event.Event] {
	return func(yield func(uuid.UUID, []event.Event) bool) {
		byID := map[uuid.UUID][]event.Event{}
		for ev := range events {
			byID[ev.EntityID] = append(byID[ev.EntityID], ev)
		}
		ids := slices.SortedFunc(maps.Keys(byID), func(a, b uuid.UUID) int {
			return bytes.Compare(a[:], b[:])
		})
		for _, id := range ids {
			run := byID[id]
			slices.SortStableFunc(run, func(a, b event.Event) int {
				if c := a.Added.Compare(b.Added); c != 0 {
					return c
				}
				return cmp.Compare(a.Seq, b.Seq)
			})
			if !yield(id, run) {
				return
			}
		}
	}
}

// Live reports whether an entity should be projected: its last event is
// not a drop. Earlier drops do not matter.
func Live(run []event.Event) bool {
	return len(run) > 0 && run[len(run)-1].Kind != event.KindDrop
}
