package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"time"

	"projector/internal/event"
	"projector/internal/metrics"
)

// Queue is the part of Repo the worker drives.
type Queue interface {
	Claim(ctx context.Context, workerID string) (*Job, error)
	MarkDone(ctx context.Context, id uint64) error
	MarkFailed(ctx context.Context, id uint64, errMsg string) error
	RetryLater(ctx context.Context, id uint64, attempts int, runAt time.Time, errMsg string) error
}

var _ Queue = (*Repo)(nil)

// Refresher rebuilds the read model of one entity type.
type Refresher interface {
	Refresh(ctx context.Context, entityType event.Type) error
}

type Worker struct {
	ID        string
	Queue     Queue
	Refresher Refresher
	// Interval between polls when nothing wakes the worker. Default 800ms.
	Interval time.Duration
	// Wake, when set, triggers an immediate poll (LISTEN/NOTIFY).
	Wake    <-chan struct{}
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	now func() time.Time
}

func (w *Worker) Run(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = 800 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	wake := w.Wake
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case _, ok := <-wake:
			if !ok {
				wake = nil
				continue
			}
		}
		w.drain(ctx)
	}
}

// drain handles due jobs until the queue is empty or ctx is done.
func (w *Worker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		job, err := w.Queue.Claim(ctx, w.ID)
		if err != nil {
			w.logger().Error("worker claim failed", "worker", w.ID, "err", err)
			return
		}
		if job == nil {
			return
		}
		w.handle(ctx, job)
	}
}

func (w *Worker) handle(ctx context.Context, job *Job) {
	switch job.Type {
	case TypeRefresh:
		w.handleRefresh(ctx, job)
	default:
		w.fail(ctx, job, "unknown job type")
	}
}

func (w *Worker) handleRefresh(ctx context.Context, job *Job) {
	var p refreshPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		w.fail(ctx, job, "bad payload")
		return
	}
	if err := w.Refresher.Refresh(ctx, event.Type(p.EntityType)); err != nil {
		w.logger().Warn("projection refresh failed", "entity_type", p.EntityType, "attempt", job.Attempts+1, "err", err)
		w.retry(ctx, job, err.Error())
		return
	}
	if err := w.Queue.MarkDone(ctx, job.ID); err != nil {
		w.logger().Error("mark job done", "job", job.ID, "err", err)
	}
	w.Metrics.RecordJob(job.Type, "done")
}

func (w *Worker) fail(ctx context.Context, job *Job, msg string) {
	if err := w.Queue.MarkFailed(ctx, job.ID, msg); err != nil {
		w.logger().Error("mark job failed", "job", job.ID, "err", err)
	}
	w.Metrics.RecordJob(job.Type, "failed")
}

func (w *Worker) retry(ctx context.Context, job *Job, errMsg string) {
	attempts := job.Attempts + 1
	if attempts >= job.MaxAttempts {
		w.fail(ctx, job, errMsg)
		return
	}
	next := w.clock().Add(Backoff(attempts))
	if err := w.Queue.RetryLater(ctx, job.ID, attempts, next, errMsg); err != nil {
		w.logger().Error("reschedule job", "job", job.ID, "err", err)
	}
	w.Metrics.RecordJob(job.Type, "retry")
}

// Backoff is 2^attempts seconds, capped at ten minutes.
func Backoff(attempts int) time.Duration {
	sec := math.Min(math.Pow(2, float64(attempts)), 600)
	return time.Duration(sec) * time.Second
}

func (w *Worker) clock() time.Time {
	if w.now != nil {
		return w.now()
	}
	return time.Now()
}

func (w *Worker) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}
