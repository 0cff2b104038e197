// Service mqs is a small message broker backed by PostgreSQL. It exposes
// HTTP endpoints for managing queues and publishing, receiving, and
// acknowledging messages, with long-polling receive and dead letter redrive.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/prompted/mqs/internal/config"
	"github.com/prompted/mqs/internal/db"
	"github.com/prompted/mqs/internal/messages"
	"github.com/prompted/mqs/internal/metrics"
	"github.com/prompted/mqs/internal/queues"
	"github.com/prompted/mqs/internal/wait"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))

	if err := db.Migrate(cfg, config.GetEnv("MIGRATIONS_DIR", "migrations")); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	m := metrics.New()
	hub := wait.NewHub()
	queueStore := queues.NewStore(pool)
	messageStore := messages.NewStore(pool)

	sweeper := messages.NewSweeper(messageStore, m, 10*time.Second, 1000)
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		sweeper.Run()
	}()

	qh := queues.NewHandler(queueStore)
	mh := messages.NewHandler(queueStore, messageStore, hub, m, cfg.MaxMessageSize)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Healthy(r.Context(), pool); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("red"))
			return
		}
		_, _ = w.Write([]byte("green"))
	})
	r.Handle("/metrics", m.Handler())

	r.Route("/queues", func(r chi.Router) {
		r.Get("/", qh.List)
		r.Put("/{name}", qh.Create)
		r.Post("/{name}", qh.Update)
		r.Delete("/{name}", qh.Delete)
		r.Get("/{name}", qh.Describe)
	})
	r.Route("/messages", func(r chi.Router) {
		r.Post("/{queue}", mh.Publish)
		r.Get("/{queue}", mh.Receive)
		r.Delete("/{id}", mh.Delete)
	})

	serve(cfg, r, sweeper, sweeperDone)
}

func serve(cfg config.Server, handler http.Handler, sweeper *messages.Sweeper, sweeperDone <-chan struct{}) {
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("mqs listening", "addr", srv.Addr, "env", cfg.Env)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	// Stop accepting new requests and let in-flight long polls finish.
	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	sweeper.Close()
	<-sweeperDone
	slog.Info("sweeper stopped")
}
