package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projector/internal/event"
	"projector/internal/metrics"
)

type retried struct {
	id       uint64
	attempts int
	runAt    time.Time
	msg      string
}

type fakeQueue struct {
	mu       sync.Mutex
	pending  []*Job
	claimErr error
	done     []uint64
	failed   map[uint64]string
	retried  []retried
}

func (q *fakeQueue) Claim(context.Context, string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.claimErr != nil {
		return nil, q.claimErr
	}
	if len(q.pending) == 0 {
		return nil, nil
	}
	j := q.pending[0]
	q.pending = q.pending[1:]
	return j, nil
}

func (q *fakeQueue) MarkDone(_ context.Context, id uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.done = append(q.done, id)
	return nil
}

func (q *fakeQueue) MarkFailed(_ context.Context, id uint64, msg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failed == nil {
		q.failed = map[uint64]string{}
	}
	q.failed[id] = msg
	return nil
}

func (q *fakeQueue) RetryLater(_ context.Context, id uint64, attempts int, runAt time.Time, msg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retried = append(q.retried, retried{id, attempts, runAt, msg})
	return nil
}

func (q *fakeQueue) doneCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.done)
}

type fakeRefresher struct {
	mu    sync.Mutex
	types []event.Type
	err   error
}

func (r *fakeRefresher) Refresh(_ context.Context, t event.Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, t)
	return r.err
}

func refreshJob(id uint64, typ string, attempts int) *Job {
	return &Job{
		ID:          id,
		Type:        TypeRefresh,
		Payload:     []byte(`{"entity_type":"` + typ + `"}`),
		Attempts:    attempts,
		MaxAttempts: 3,
	}
}

func TestWorkerDrainsQueue(t *testing.T) {
	q := &fakeQueue{pending: []*Job{refreshJob(1, "game", 0), refreshJob(2, "", 0)}}
	r := &fakeRefresher{}
	m := metrics.New(prometheus.NewRegistry())
	w := &Worker{ID: "w1", Queue: q, Refresher: r, Metrics: m}

	w.drain(context.Background())

	assert.Equal(t, []uint64{1, 2}, q.done)
	assert.Equal(t, []event.Type{"game", ""}, r.types)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.JobsTotal.WithLabelValues(TypeRefresh, "done")))
}

func TestWorkerRetriesWithBackoff(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	q := &fakeQueue{pending: []*Job{refreshJob(1, "game", 1)}}
	r := &fakeRefresher{err: errors.New("db down")}
	w := &Worker{ID: "w1", Queue: q, Refresher: r, now: func() time.Time { return now }}

	w.drain(context.Background())

	require.Len(t, q.retried, 1)
	assert.Equal(t, retried{1, 2, now.Add(4 * time.Second), "db down"}, q.retried[0])
	assert.Empty(t, q.done)
}

func TestWorkerFailsAfterMaxAttempts(t *testing.T) {
	q := &fakeQueue{pending: []*Job{refreshJob(1, "game", 2)}}
	r := &fakeRefresher{err: errors.New("db down")}
	m := metrics.New(prometheus.NewRegistry())
	w := &Worker{ID: "w1", Queue: q, Refresher: r, Metrics: m}

	w.drain(context.Background())

	assert.Equal(t, map[uint64]string{1: "db down"}, q.failed)
	assert.Empty(t, q.retried)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsTotal.WithLabelValues(TypeRefresh, "failed")))
}

func TestWorkerRejectsBadJobs(t *testing.T) {
	q := &fakeQueue{pending: []*Job{
		{ID: 1, Type: "REMINDER_DISPATCH", Payload: []byte(`{}`), MaxAttempts: 3},
		{ID: 2, Type: TypeRefresh, Payload: []byte(`not json`), MaxAttempts: 3},
	}}
	r := &fakeRefresher{}
	w := &Worker{ID: "w1", Queue: q, Refresher: r}

	w.drain(context.Background())

	assert.Equal(t, map[uint64]string{1: "unknown job type", 2: "bad payload"}, q.failed)
	assert.Empty(t, r.types)
}

func TestWorkerClaimError(t *testing.T) {
	q := &fakeQueue{claimErr: errors.New("conn refused"), pending: []*Job{refreshJob(1, "", 0)}}
	w := &Worker{ID: "w1", Queue: q, Refresher: &fakeRefresher{}}

	w.drain(context.Background())
	assert.Empty(t, q.done)
}

func TestWorkerRunWakesUp(t *testing.T) {
	q := &fakeQueue{}
	wake := make(chan struct{}, 1)
	w := &Worker{ID: "w1", Queue: q, Refresher: &fakeRefresher{}, Interval: time.Hour, Wake: wake}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(stopped)
	}()

	q.mu.Lock()
	q.pending = append(q.pending, refreshJob(7, "game", 0))
	q.mu.Unlock()
	wake <- struct{}{}

	assert.Eventually(t, func() bool { return q.doneCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	// a closed wake channel falls back to polling instead of spinning
	close(wake)
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{9, 512 * time.Second},
		{10, 600 * time.Second},
		{30, 600 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.attempts), "attempts=%d", tt.attempts)
	}
}
