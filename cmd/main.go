package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/perfeye/internal/api"
	"github.com/perfeye/internal/config"
	"github.com/perfeye/internal/database"
	"github.com/perfeye/internal/evaluator"
	"github.com/perfeye/internal/ingest"
	"github.com/perfeye/internal/models"
	"github.com/perfeye/internal/retention"
	"github.com/perfeye/internal/rollup"
	"github.com/perfeye/internal/rules"
	"github.com/perfeye/internal/scheduler"
	"github.com/perfeye/internal/store"
	"github.com/perfeye/internal/tracker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Log.Level)

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}
	defer database.Close(db)
	log.WithField("path", cfg.Database.Path).Info("database initialized")

	st := store.New(db)
	registry := rules.NewRegistry(db)
	tr := tracker.New()

	// Warm the open-alert view before anything serves queries.
	open, err := st.ListAlertStates(store.AlertFilter{Status: models.AlertStatusOpen})
	if err != nil {
		log.Fatalf("failed to load open alerts: %v", err)
	}
	tr.Load(open)

	gateway := ingest.NewGateway(st, log)

	sup := scheduler.NewSupervisor(log)
	sup.Register(evaluator.New(st, registry, tr, log, cfg.EvaluationLag()), cfg.EvaluatorInterval())
	sup.Register(rollup.NewCompactor(st, log, cfg.RollupBucket(), cfg.RollupLookback()), cfg.RollupInterval())
	sup.Register(retention.NewSweeper(st, log,
		time.Duration(cfg.Retention.SampleDays)*24*time.Hour,
		time.Duration(cfg.Retention.AlertDays)*24*time.Hour,
	), cfg.RetentionInterval())
	sup.Start()

	server := api.NewServer(gateway, st, registry, tr, log)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: server.Handler(),
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown error")
	}

	// Loops finish their in-flight cycle before the process exits.
	sup.Stop()
}

func newLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	log.SetOutput(os.Stdout)

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)
	return log
}
