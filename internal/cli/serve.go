package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/taskload/internal/mockapi"
)

type serveOptions struct {
	addr      string
	latency   time.Duration
	errorRate float64
	listLimit int
}

func newServeCmd(a *app) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve an in-memory task API to test against",
		Long: `Serve an in-memory implementation of the task API:

  GET    /api/tasks        list tasks
  POST   /api/tasks        create a task
  GET    /api/tasks/{id}   get a task
  PUT    /api/tasks/{id}   update a task
  DELETE /api/tasks/{id}   delete a task
  GET    /health           liveness

Latency and error injection make it possible to watch thresholds fail.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.errorRate < 0 || opts.errorRate > 1 {
				return exitErrorf(ExitRuntimeError, "--error-rate must be between 0 and 1, got %g", opts.errorRate)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", "127.0.0.1:8080", "Listen address")
	f.DurationVar(&opts.latency, "latency", 0, "Delay added to every API request")
	f.Float64Var(&opts.errorRate, "error-rate", 0, "Fraction of API requests answered with 500")
	f.IntVar(&opts.listLimit, "list-limit", 0, "Return at most this many tasks from list, 0 for all")
	return cmd
}

func (a *app) serve(ctx context.Context, opts *serveOptions) error {
	api := mockapi.New(mockapi.Options{
		Latency:   opts.latency,
		ErrorRate: opts.errorRate,
		ListLimit: opts.listLimit,
		Logger:    a.logger,
	})

	ln, err := net.Listen("tcp", opts.addr)
	if err != nil {
		return exitErrorf(ExitRuntimeError, "failed to listen on %s: %w", opts.addr, err)
	}

	srv := &http.Server{
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	fmt.Fprintf(a.stdout, "Task API listening on http://%s\n", ln.Addr())
	a.logger.Info("mock api started",
		zap.String("addr", ln.Addr().String()),
		zap.Duration("latency", opts.latency),
		zap.Float64("error_rate", opts.errorRate))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	a.logger.Info("mock api stopped",
		zap.Int64("requests", api.Requests()),
		zap.Int("tasks", api.Len()))
	return nil
}
