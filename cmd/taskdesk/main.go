package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"taskdesk/client"
	"taskdesk/config"
	"taskdesk/logging"
	"taskdesk/shell"
	"taskdesk/supervisor"
)

var version = "dev"

func main() {
	cmd := &cobra.Command{
		Use:           "taskdesk",
		Short:         "Start the task service and open the todo list",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
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
	if path := config.FilePath(); path != "" {
		if _, err := config.WriteDefault(path); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not write %s: %v\n", path, err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}

	var mirror io.Writer
	if cfg.Development() {
		mirror = os.Stderr
	}
	logger, closer, err := logging.New(logging.Options{
		Service: "taskdesk",
		Dir:     cfg.LogDir,
		File:    "shell.log",
		Level:   cfg.LogLevel,
		Mirror:  mirror,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	defer closer.Close()

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	logger.WithFields(log.Fields{
		"version":     version,
		"env":         cfg.Env,
		"backend_cmd": cfg.BackendCmd,
		"db_path":     cfg.DBPath,
	}).Info("taskdesk starting")

	sup := supervisor.New(supervisor.WithLogger(logger))
	spec := supervisor.Spec{
		Name:    "backend",
		Command: cfg.BackendCmd,
		Env: []string{
			"TASKDESK_ENV=" + cfg.Env,
			"TASKDESK_HOST=" + cfg.Host,
			"TASKDESK_PORT=" + strconv.Itoa(cfg.Port),
			"TASKDESK_DATA_DIR=" + cfg.DataDir,
			"TASKDESK_DB_PATH=" + cfg.DBPath,
			"TASKDESK_LOG_DIR=" + cfg.LogDir,
			"LOG_LEVEL=" + cfg.LogLevel,
		},
		HealthURL:     cfg.HealthURL(),
		ReadyTimeout:  cfg.ReadyTimeout,
		ProbeInterval: cfg.ProbeInterval,
	}

	api := client.New(cfg.BaseURL(), client.WithLogger(logger), client.WithPolicy(retryPolicy(cfg)))
	app := shell.NewApp(sup, spec, shell.NewBridge(api, logger), shell.NewConsole(os.Stdin, os.Stdout), logger)
	if err := app.Run(ctx); err != nil {
		return err
	}
	logger.Info("taskdesk stopped")
	return nil
}

func retryPolicy(cfg *config.Config) client.Policy {
	p := client.DefaultPolicy()
	p.MaxAttempts = cfg.RetryAttempts
	p.BaseDelay = cfg.RetryBaseDelay
	p.MaxDelay = cfg.RetryMaxDelay
	p.AttemptTimeout = cfg.RequestTimeout
	return p
}
