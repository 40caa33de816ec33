package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"taskdesk/client"
	"taskdesk/config"
	"taskdesk/logging"
	"taskdesk/shell"
)

var version = "dev"

func main() {
	cmd := &cobra.Command{
		Use:   "taskdesk-bridge <command> <json-payload>",
		Short: "Run one task command against a running taskdesk backend",
		Long: "Run one task command against a running taskdesk backend and print the result as JSON.\n\n" +
			"Commands: " + strings.Join(shell.Commands, ", "),
		Version:       version,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], args[1])
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command, payload string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, closer, err := logging.New(logging.Options{
		Service: "taskdesk-bridge",
		Dir:     cfg.LogDir,
		File:    "bridge.log",
		Level:   cfg.LogLevel,
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	entry := logger.WithField("request_id", uuid.NewString())
	entry.WithField("command", command).Info("bridge command received")

	api := client.New(cfg.BaseURL(), client.WithLogger(logger))
	if _, err := api.Health(ctx); err != nil {
		entry.WithError(err).Error("backend unreachable")
		return fmt.Errorf("backend at %s is not running: %s", cfg.BaseURL(), shell.UserMessage(err))
	}
	bridge := shell.NewBridge(api, logger)
	bridge.MarkReady()

	result, err := shell.Dispatch(ctx, bridge, command, []byte(payload))
	if err != nil {
		entry.WithError(err).WithField("command", command).Error("bridge command failed")
		return errors.New(shell.UserMessage(err))
	}
	out, err := sonic.Marshal(result)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	entry.WithField("command", command).Info("bridge command succeeded")
	return nil
}
