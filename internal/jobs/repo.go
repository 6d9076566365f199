package jobs

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// StaleAfter is how long a RUNNING job may hold its lock before another
// worker takes it back.
const StaleAfter = 5 * time.Minute

type Repo struct {
	DB *gorm.DB
}

// EnqueueRefresh queues a refresh of one entity type's read model unless one
// is already pending. Call it with the transaction that appended the event.
func (r *Repo) EnqueueRefresh(entityType string) error {
	payload, err := json.Marshal(refreshPayload{EntityType: entityType})
	if err != nil {
		return err
	}
	return r.DB.Exec(`
insert into jobs (type, payload, run_at, status, created_at, updated_at)
select ?, ?::jsonb, now(), ?, now(), now()
where not exists (
  select 1 from jobs
  where type = ? and status = ? and payload->>'entity_type' = ?
)`, TypeRefresh, string(payload), StatusPending, TypeRefresh, StatusPending, entityType).Error
}

// Claim locks the oldest due job for workerID, or returns nil when none is
// due. Jobs left RUNNING past StaleAfter are released first.
func (r *Repo) Claim(ctx context.Context, workerID string) (*Job, error) {
	var claimed []Job
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Job{}).
			Where("status = ? and locked_at < ?", StatusRunning, time.Now().Add(-StaleAfter)).
			Updates(map[string]any{
				"status":    StatusPending,
				"locked_by": nil,
				"locked_at": nil,
			}).Error; err != nil {
			return err
		}

		// SKIP LOCKED: concurrent workers never claim the same row
		return tx.Raw(`
update jobs
set status = ?, locked_by = ?, locked_at = now(), updated_at = now()
where id = (
  select id from jobs
  where status = ? and run_at <= now()
  order by run_at, id
  for update skip locked
  limit 1
)
returning *`, StatusRunning, workerID, StatusPending).Scan(&claimed).Error
	})
	if err != nil || len(claimed) == 0 {
		return nil, err
	}
	return &claimed[0], nil
}

func (r *Repo) MarkDone(ctx context.Context, id uint64) error {
	return r.finish(ctx, id, map[string]any{"status": StatusDone})
}

func (r *Repo) MarkFailed(ctx context.Context, id uint64, errMsg string) error {
	return r.finish(ctx, id, map[string]any{"status": StatusFailed, "last_error": errMsg})
}

func (r *Repo) RetryLater(ctx context.Context, id uint64, attempts int, runAt time.Time, errMsg string) error {
	return r.finish(ctx, id, map[string]any{
		"status":     StatusPending,
		"attempts":   attempts,
		"run_at":     runAt,
		"last_error": errMsg,
	})
}

// finish releases the lock on a job and applies the outcome columns.
func (r *Repo) finish(ctx context.Context, id uint64, cols map[string]any) error {
	cols["locked_by"] = nil
	cols["locked_at"] = nil
	return r.DB.WithContext(ctx).Model(&Job{ID: id}).Updates(cols).Error
}
