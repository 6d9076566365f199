package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"projector/internal/config"
	"projector/internal/db"
	"projector/internal/entity"
	"projector/internal/eventlog"
	"projector/internal/eventlog/sqlitelog"
	"projector/internal/game"
	"projector/internal/metrics"
	"projector/internal/projection"
)

// app holds what every command needs: configuration, the selected event log
// and the entity service on top of it.
type app struct {
	cfg     config.Config
	log     *slog.Logger
	metrics *metrics.Metrics
	svc     *entity.Service

	// gdb is set on the Postgres backend only.
	gdb   *gorm.DB
	close func() error
}

var strategies = map[string]projection.Strategy{
	"game": game.Strategy{},
}

func newLogger(cfg config.Config, jsonLogs bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if jsonLogs {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// openApp loads configuration and opens the backend it selects. reg may be
// nil when the caller does not expose metrics.
func openApp(cmd *cobra.Command, jsonLogs bool, reg prometheus.Registerer) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, jsonLogs)
	slog.SetDefault(logger)

	registry, err := projection.LoadRegistry(cfg.TypesFile, strategies)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: logger, metrics: metrics.New(reg)}

	var l entity.Log
	switch cfg.Backend() {
	case config.BackendPostgres:
		gdb, err := db.Connect(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		if err := sqlDB.PingContext(cmd.Context()); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		a.gdb = gdb
		a.close = sqlDB.Close
		l = &eventlog.Log{DB: gdb}
	default:
		sl, err := sqlitelog.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		a.close = sl.Close
		l = sl
	}
	logger.Debug("backend opened", "backend", cfg.Backend())

	a.svc = entity.New(l, registry, a.metrics, logger)
	a.svc.Aggregator.Ordering = cfg.Ordering
	a.svc.Aggregator.Malformed = cfg.Malformed
	return a, nil
}

func (a *app) Close() {
	if a.close == nil {
		return
	}
	if err := a.close(); err != nil {
		a.log.Warn("close backend", "err", err)
	}
}

func (a *app) migrate(ctx context.Context) error {
	if a.gdb == nil {
		// the SQLite log creates its schema on open
		return nil
	}
	return db.AutoMigrateAndIndexes(a.gdb.WithContext(ctx))
}
