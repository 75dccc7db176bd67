package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/elektrummon/elektrummon/pkg/log"
	"github.com/elektrummon/elektrummon/pkg/monitor"
	"github.com/elektrummon/elektrummon/pkg/scheduler"
	"github.com/elektrummon/elektrummon/pkg/server"
	"github.com/elektrummon/elektrummon/pkg/storage"
	"github.com/elektrummon/elektrummon/pkg/utility"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	// init packages
	u := utility.Configured()
	s := storage.Configured()
	daily := scheduler.Configured()

	// the time zone is only known once the flags are parsed
	registry := monitor.NewRegistry(u, func(m *monitor.Monitor) {
		monitor.WithLocation(daily.Location)(m)
	})

	// init server
	srv := server.Configured(registry, s)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	log.SetDefaultLogLevel(level)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// If initialization inside lflag.Do failed, we wouldn't be here (panic).
	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	if err := srv.LoadInstances(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to load instances", "error", err)
		os.Exit(1)
	}

	go daily.Run(ctx, func(ctx context.Context) {
		registry.RefreshAll(ctx)
	})

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
