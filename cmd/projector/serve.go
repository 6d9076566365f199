package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"projector/internal/auth"
	"projector/internal/db"
	"projector/internal/eventlog"
	httpx "projector/internal/http"
	"projector/internal/jobs"
	"projector/internal/readmodel"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (and the read model worker on Postgres)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := openApp(cmd, true, promReg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.cfg.RequireJWT(); err != nil {
		return err
	}
	if err := a.migrate(cmd.Context()); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := httpx.Deps{
		Config:   a.cfg,
		Service:  a.svc,
		JWT:      auth.NewJWT(a.cfg.JWTSecret, 0),
		Gatherer: promReg,
		Logger:   a.log,
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.gdb != nil {
		store := &readmodel.Store{DB: a.gdb}
		deps.Users = &auth.Users{DB: a.gdb}
		deps.Projections = store

		wake, err := db.Listen(ctx, a.cfg.DatabaseURL, eventlog.NotifyChannel, a.log)
		if err != nil {
			// polling still works without notifications
			a.log.Warn("listen for events failed, polling only", "err", err)
		}
		worker := &jobs.Worker{
			ID:        a.cfg.WorkerID,
			Queue:     &jobs.Repo{DB: a.gdb},
			Refresher: &readmodel.Refresher{Aggregator: a.svc.Aggregator, Store: store},
			Interval:  a.cfg.WorkerPollInterval,
			Wake:      wake,
			Logger:    a.log.With("component", "worker"),
			Metrics:   a.metrics,
		}
		g.Go(func() error {
			worker.Run(ctx)
			return nil
		})
	}

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           httpx.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		a.log.Info("listening", "addr", a.cfg.HTTPAddr, "backend", a.cfg.Backend())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.log.Info("shut down")
	return nil
}
