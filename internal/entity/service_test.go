package entity

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projector/internal/event"
	"projector/internal/eventlog/sqlitelog"
	"projector/internal/game"
	"projector/internal/metrics"
	"projector/internal/projection"
)

func newTestService(t *testing.T) (*Service, *metrics.Metrics) {
	t.Helper()
	l, err := sqlitelog.Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	m := metrics.New(prometheus.NewRegistry())
	s := New(l, projection.NewRegistry(), m, nil)

	// strictly increasing clock so event order never depends on wall time
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		at = at.Add(time.Second)
		return at
	}
	return s, m
}

func TestSaveAggregate(t *testing.T) {
	s, m := newTestService(t)
	ctx := context.Background()

	id, err := s.Save(ctx, nil, "", json.RawMessage(`{"name":"three","description":"foo"}`))
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	_, err = s.Save(ctx, &id, "", json.RawMessage(`{"description":null}`))
	require.NoError(t, err)

	ps, err := s.Aggregate(ctx, event.Filter{})
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, id, ps[0].ID)
	assert.Equal(t, map[string]any{"name": "three"}, ps[0].Document)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC), ps[0].Added)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 2, 0, time.UTC), ps[0].Updated)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AppendsTotal.WithLabelValues("save", "ok")))
}

func TestSaveKeepsGivenID(t *testing.T) {
	s, _ := newTestService(t)
	want := uuid.New()
	got, err := s.Save(context.Background(), &want, "", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSaveInvalidDocument(t *testing.T) {
	s, _ := newTestService(t)
	for _, doc := range []string{``, `{"a":`, `{} {}`} {
		_, err := s.Save(context.Background(), nil, "", json.RawMessage(doc))
		assert.ErrorIs(t, err, ErrInvalidDocument, "doc %q", doc)
	}
}

func TestDropAndResurrect(t *testing.T) {
	s, m := newTestService(t)
	ctx := context.Background()

	id, err := s.Save(ctx, nil, "", json.RawMessage(`{"name":"a"}`))
	require.NoError(t, err)
	require.NoError(t, s.Drop(ctx, id, ""))

	ps, err := s.Aggregate(ctx, event.Filter{})
	require.NoError(t, err)
	assert.Empty(t, ps)

	_, err = s.Save(ctx, &id, "", json.RawMessage(`{"name":"b"}`))
	require.NoError(t, err)

	ps, err = s.Aggregate(ctx, event.Filter{})
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, map[string]any{"name": "b"}, ps[0].Document)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC), ps[0].Added)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AppendsTotal.WithLabelValues("drop", "ok")))
}

func TestDropUnknownEntity(t *testing.T) {
	s, _ := newTestService(t)
	assert.NoError(t, s.Drop(context.Background(), uuid.New(), ""))
	assert.ErrorIs(t, s.Drop(context.Background(), uuid.Nil, ""), event.ErrMissingID)
}

func TestAggregateThreeEntities(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		_, err := s.Save(ctx, nil, "", json.RawMessage(`{"name":"`+name+`"}`))
		require.NoError(t, err)
	}

	ps, err := s.Aggregate(ctx, event.Filter{})
	require.NoError(t, err)
	require.Len(t, ps, 3)
	for i := 1; i < len(ps); i++ {
		assert.Negative(t, compareIDs(ps[i-1].ID, ps[i].ID), "projections in id order")
	}
}

func compareIDs(a, b uuid.UUID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func TestTimeline(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	id, err := s.Save(ctx, nil, game.Type, json.RawMessage(`{"name":"chess"}`))
	require.NoError(t, err)
	require.NoError(t, s.Drop(ctx, id, game.Type))

	evs, err := s.Timeline(ctx, id)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, event.KindSave, evs[0].Kind)
	assert.Equal(t, event.KindDrop, evs[1].Kind)
	assert.Equal(t, game.Type, evs[1].Type)

	_, err = s.Timeline(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGames(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	chess, err := s.Save(ctx, nil, game.Type, json.RawMessage(`{"name":"chess","description":"classic"}`))
	require.NoError(t, err)
	_, err = s.Save(ctx, &chess, game.Type, json.RawMessage(`{"description":null}`))
	require.NoError(t, err)

	gone, err := s.Save(ctx, nil, game.Type, json.RawMessage(`{"name":"go"}`))
	require.NoError(t, err)
	require.NoError(t, s.Drop(ctx, gone, game.Type))

	_, err = s.Save(ctx, nil, "post", json.RawMessage(`{"name":"not a game"}`))
	require.NoError(t, err)

	gs, err := s.Games(ctx)
	require.NoError(t, err)
	require.Len(t, gs, 1)
	assert.Equal(t, chess, gs[0].ID)
	require.NotNil(t, gs[0].Name)
	assert.Equal(t, "chess", *gs[0].Name)
	assert.Nil(t, gs[0].Description)
}

type failingLog struct {
	Log
	err error
}

func (f failingLog) Append(context.Context, event.Record) (event.Record, error) {
	return event.Record{}, f.err
}

func TestAppendFailure(t *testing.T) {
	s, m := newTestService(t)
	boom := errors.New("disk full")
	s.Log = failingLog{Log: s.Log, err: boom}

	_, err := s.Save(context.Background(), nil, "", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AppendsTotal.WithLabelValues("save", "error")))
}

func TestAppendsKeepFirstEventType(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	id, err := s.Save(ctx, nil, game.Type, json.RawMessage(`{"name":"chess"}`))
	require.NoError(t, err)
	_, err = s.Save(ctx, &id, "other", json.RawMessage(`{"name":"go"}`))
	require.NoError(t, err)
	require.NoError(t, s.Drop(ctx, id, "other"))

	untyped, err := s.Save(ctx, nil, "", json.RawMessage(`{}`))
	require.NoError(t, err)
	_, err = s.Save(ctx, &untyped, game.Type, json.RawMessage(`{"name":"x"}`))
	require.NoError(t, err)

	rows, err := s.Log.Timeline(ctx, id)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, r := range rows {
		require.NotNil(t, r.EntityType, "seq %d", r.Seq)
		assert.Equal(t, "game", *r.EntityType, "seq %d", r.Seq)
	}

	rows, err = s.Log.Timeline(ctx, untyped)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Nil(t, rows[1].EntityType)
}

// gatedLog blocks every Events scan until its context is done or release is
// closed.
type gatedLog struct {
	Log
	entered chan struct{}
	release chan struct{}
}

func (g *gatedLog) Events(ctx context.Context) iter.Seq2[event.Row, error] {
	return func(yield func(event.Row, error) bool) {
		g.entered <- struct{}{}
		select {
		case <-ctx.Done():
			yield(event.Row{}, ctx.Err())
		case <-g.release:
		}
	}
}

func TestAggregateCallsAreIndependent(t *testing.T) {
	s, _ := newTestService(t)
	gate := &gatedLog{Log: s.Log, entered: make(chan struct{}, 2), release: make(chan struct{})}
	s.Aggregator.Source = gate

	waitEntered := func() {
		t.Helper()
		select {
		case <-gate.entered:
		case <-time.After(5 * time.Second):
			t.Fatal("aggregation did not start its own scan")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := s.Aggregate(ctx, event.Filter{})
		first <- err
	}()
	waitEntered()

	second := make(chan error, 1)
	go func() {
		_, err := s.Aggregate(context.Background(), event.Filter{})
		second <- err
	}()
	waitEntered()

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(gate.release)
	assert.NoError(t, <-second)
}
