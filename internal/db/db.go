package db

import (
	"fmt"

	"projector/internal/auth"
	"projector/internal/event"
	"projector/internal/jobs"
	"projector/internal/readmodel"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	return gdb, nil
}

func AutoMigrateAndIndexes(gdb *gorm.DB) error {
	// Tables
	if err := gdb.AutoMigrate(
		&event.Record{},
		&readmodel.Row{},
		&jobs.Job{},
		&auth.User{},
	); err != nil {
		return err
	}

	stmts := []string{
		// The core reads events grouped by entity, oldest first.
		`create index if not exists idx_events_entity_added on entity_events(entity_id, added, seq);`,
		`create index if not exists idx_events_type on entity_events(entity_type);`,
		`do $$ begin
			alter table entity_events add constraint chk_events_kind check (kind in ('save', 'drop'));
		exception when duplicate_object then null;
		end $$;`,
		`create index if not exists idx_jobs_due on jobs(status, run_at);`,
		`create index if not exists idx_jobs_lock on jobs(status, locked_at);`,
		`create index if not exists idx_jobs_pending_refresh on jobs((payload->>'entity_type')) where status = 'PENDING';`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}

	return nil
}
