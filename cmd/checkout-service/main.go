package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/app"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/config"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/lib/logger/handlers/slogpretty"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	// init config: cleanenv
	cfg := config.MustLoad()

	// init logger: log/slog
	log := setupLogger(cfg.Env)

	log.Info("starting checkout service", slog.String("env", cfg.Env))
	log.Debug("debug messages are enabled")

	// run Prometheus HTTP-server
	promAddr := fmt.Sprintf(
		"%s:%d",
		cfg.Prometheus.HOST,
		cfg.Prometheus.PORT,
	)
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		log.Info("starting Prometheus metrics server", slog.String("address", promAddr))
		if err := http.ListenAndServe(promAddr, nil); err != nil {
			log.Error("failed to start Prometheus metrics server", slog.Any("error", err))
		}
	}()

	// init server
	server, err := app.NewServer(cfg, log)
	if err != nil {
		log.Error("failed to initialize server", slog.Any("error", err))
		os.Exit(1)
	}

	// run server
	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Run()
	}()

	log.Info("server started")

	// processing completion signals
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-done:
		log.Info("stopping server...")
	case err := <-errChan:
		log.Error("server crashed", slog.Any("error", err))
		os.Exit(1)
	}

	// context for graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.App.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("failed to stop server", slog.Any("error", err))
	}
}

// configuring the logger
func setupLogger(env string) *slog.Logger {
	switch env {
	case envLocal:
		return setupPrettySlog()
	case envDev:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// pretty logger for the local environment
func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}
	handler := opts.NewPrettyHandler(os.Stdout)
	return slog.New(handler)
}
