// Package cli implements the taskload command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/taskload/internal/logging"
)

var version = "0.1.0"

// app holds state shared by every subcommand.
type app struct {
	stdout io.Writer
	stderr io.Writer

	logLevel  string
	logFormat string
	logger    *zap.Logger
}

// NewRootCmd builds the command tree writing to stdout and stderr.
func NewRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr, logger: zap.NewNop()}

	cmd := &cobra.Command{
		Use:     "taskload",
		Short:   "Load test a task management REST API",
		Version: version,
		Long: `Taskload drives a task management REST API with a ramping population of
virtual users. Each user lists tasks, creates a task and sleeps, while
latency, error rate and check results are collected and compared against
k6-style thresholds.

  taskload serve --addr 127.0.0.1:8080
  taskload run --base-url http://127.0.0.1:8080 --vus 10 --duration 30s
  taskload run -c load.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.NewWithWriter(a.stderr, a.logLevel, a.logFormat)
			if err != nil {
				return &ExitError{Code: ExitRuntimeError, Err: err}
			}
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "console", "Log format (console, json)")

	cmd.AddCommand(newRunCmd(a))
	cmd.AddCommand(newInitCmd(a))
	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newHistoryCmd(a))
	return cmd
}

// Execute runs the command line with the process arguments and returns the
// exit code.
func Execute() int {
	return ExecuteContext(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
}

// ExecuteContext runs the command line with args and returns the exit code.
func ExecuteContext(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCmd(stdout, stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitRuntimeError
}
