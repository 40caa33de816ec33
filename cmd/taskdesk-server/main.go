package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"taskdesk/api"
	"taskdesk/config"
	"taskdesk/logging"
	"taskdesk/storage"
	"taskdesk/supervisor"
)

var version = "dev"

const shutdownTimeout = 5 * time.Second

func main() {
	cmd := &cobra.Command{
		Use:          "taskdesk-server",
		Short:        "Serve the taskdesk task API on the loopback interface",
		Version:      version,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var mirror io.Writer
	if cfg.Development() {
		mirror = os.Stderr
	}
	logger, closer, err := logging.New(logging.Options{
		Service: "taskdesk-server",
		Dir:     cfg.LogDir,
		File:    "backend.log",
		Level:   cfg.LogLevel,
		Mirror:  mirror,
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	// Spans are not exported; they give log lines trace ids shared with the shell.
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	store, err := storage.Open(ctx, cfg.DBPath, logger)
	if err != nil {
		if errors.Is(err, storage.ErrLocked) {
			logger.WithField("db_path", cfg.DBPath).Error("database is used by another backend")
		}
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("close store")
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	api.Register(e, store, logger)

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		logger.WithError(err).WithField("addr", cfg.Addr()).Error("listen")
		return err
	}
	e.Listener = ln

	// The supervisor watches stdout for this line.
	fmt.Printf("%s on %s\n", supervisor.DefaultReadyMarker, ln.Addr())
	logger.WithFields(log.Fields{
		"addr":    ln.Addr().String(),
		"db_path": cfg.DBPath,
		"pid":     os.Getpid(),
		"version": version,
	}).Info("server listening")

	errCh := make(chan error, 1)
	go func() { errCh <- e.Start("") }()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("server stopped")
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		logger.WithError(err).Warn("graceful shutdown")
		return err
	}
	return nil
}
