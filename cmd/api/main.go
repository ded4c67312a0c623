package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/gometeo/skycast/internal/api/handlers"
	"github.com/gometeo/skycast/internal/app"
	"github.com/gometeo/skycast/internal/config"
	"github.com/gometeo/skycast/internal/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.Env)
	logger.Info("Starting skycast API...")

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("Configuration loaded",
		"port", cfg.HTTPPort,
		"store", cfg.StoreBackend,
		"kafka", cfg.KafkaEnabled())

	// 1. Preference and snapshot store
	backend, err := app.OpenBackend(cfg, logger)
	if err != nil {
		logger.Error("Could not open store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	// 2. Weather provider and fetch events
	memo := app.NewGateway(cfg, logger)
	publisher := app.NewPublisher(cfg, logger)
	defer publisher.Close()

	// 3. Session, restored from the store
	sess := app.NewSession(cfg, memo, backend, publisher, logger)
	defer sess.Close()

	restoreCtx, cancelRestore := context.WithTimeout(context.Background(), cfg.FetchTimeout+5*time.Second)
	sess.Restore(restoreCtx)
	cancelRestore()

	// 4. Router
	router := mux.NewRouter()
	handlers.NewSessionHandler(sess, backend.Checks, backend.Archive, logger).Register(router)
	router.Use(loggingMiddleware(logger))

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.FetchTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 5. Graceful shutdown
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("Server started", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
		}
	}()

	<-stopChan
	logger.Info("Shutdown signal received...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown failed", "error", err)
	} else {
		hits, misses := memo.Stats()
		logger.Info("Server stopped", "memo_hits", hits, "memo_misses", misses)
	}
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			logger.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"user_agent", r.UserAgent(),
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
