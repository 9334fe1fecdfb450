package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mmrzaf/listmat/internal/api"
	"github.com/mmrzaf/listmat/internal/app"
	"github.com/mmrzaf/listmat/internal/config"
	"github.com/mmrzaf/listmat/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.NewLogger("info").Errorw("startup.failed", map[string]any{"error": err.Error(), "stage": "config"})
		os.Exit(1)
	}

	bindAddr := flag.String("bind", cfg.BindAddr, "Bind address")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level")
	entitiesDir := flag.String("entities-dir", cfg.EntitiesDir, "Entity types directory")
	flag.Parse()
	cfg.EntitiesDir = *entitiesDir

	base := logging.NewLogger(*logLevel)
	logger := base.WithComponent("api_main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.NewRuntime(ctx, cfg, base)
	if err != nil {
		logger.Errorw("startup.failed", map[string]any{"error": err.Error(), "stage": "runtime"})
		os.Exit(1)
	}

	mux := http.NewServeMux()
	api.NewHandler(rt.Lists).Register(mux)
	mux.Handle("GET /metrics", rt.Metrics.Handler())

	srv := &http.Server{
		Addr:              *bindAddr,
		Handler:           api.LoggingMiddleware(base.WithComponent("http"), api.WithIdentity(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("startup.listening", map[string]any{"bind": *bindAddr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Infow("shutdown.started", map[string]any{"timeout": cfg.ShutdownTimeout.String()})
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("startup.failed", map[string]any{"error": err.Error(), "stage": "listen"})
			_ = rt.Close(context.Background())
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("shutdown.http_failed", map[string]any{"error": err.Error()})
	}
	if err := rt.Close(shutdownCtx); err != nil {
		logger.Warnw("shutdown.incomplete", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	logger.Infow("shutdown.completed", nil)
}
