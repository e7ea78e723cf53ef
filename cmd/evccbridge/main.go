package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
	"golang.org/x/sync/errgroup"

	"github.com/raterudder/evccbridge/pkg/bridge"
	"github.com/raterudder/evccbridge/pkg/entity"
	"github.com/raterudder/evccbridge/pkg/log"
	"github.com/raterudder/evccbridge/pkg/server"
	"github.com/raterudder/evccbridge/pkg/types"
)

func main() {
	// init packages
	cfg := bridge.Configured()
	srv := server.Configured()

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

	b := bridge.New(*cfg, nil, nil)
	entities := entity.NewRegistry(b.URL(), b, cfg.Prefix())
	entities.EnableTariffs(cfg.Tariffs)
	srv.Attach(b, entities)
	b.Attach(srv, entities)

	if err := b.Start(ctx); err != nil {
		var cerr *types.ConfigurationError
		if errors.As(err, &cerr) {
			log.Ctx(ctx).ErrorContext(ctx, "controller unavailable", slog.String("host", cerr.Host), slog.Any("error", cerr.Err))
		} else {
			log.Ctx(ctx).ErrorContext(ctx, "failed to start bridge", slog.Any("error", err))
		}
		os.Exit(1)
	}

	// Run both until the context is canceled or one of them fails
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.Run(gctx)
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "bridge failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "bridge exited cleanly")
}
