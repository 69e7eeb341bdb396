package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/wesleyorama2/taskload/internal/history"
	"github.com/wesleyorama2/taskload/internal/loadtest/config"
	"github.com/wesleyorama2/taskload/internal/loadtest/engine"
	"github.com/wesleyorama2/taskload/internal/loadtest/output"
	"github.com/wesleyorama2/taskload/internal/loadtest/report"
	"github.com/wesleyorama2/taskload/internal/loadtest/tracing"
)

type runOptions struct {
	configPath  string
	metricsAddr string
	quiet       bool
	noColor     bool
}

func newRunCmd(a *app) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run [config]",
		Short: "Run a load test against the task API",
		Long: `Run a load test. Settings come from, in increasing precedence: built-in
defaults, the config file, TASKLOAD_* environment variables and flags.

Without stages or --vus the default profile is used: ramp to 100 VUs over
2m, hold 5m, ramp to 200 over 2m, hold 5m, ramp down over 2m.

  taskload run --base-url http://127.0.0.1:8080
  taskload run --vus 10 --duration 30s
  taskload run --stage 30s:20 --stage 1m:20 --stage 10s:0
  taskload run -c load.yaml --json out/summary.json --html ""

Exit status is 0 when every threshold passed, 99 when a threshold failed
and 1 on configuration or runtime errors. Press Ctrl+C once to stop and
let running iterations finish, twice to abort.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if opts.configPath != "" && opts.configPath != args[0] {
					return exitErrorf(ExitRuntimeError, "config file given both as argument and --config")
				}
				opts.configPath = args[0]
			}
			return a.runTest(cmd.Context(), cmd.Flags(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "Config file (YAML or JSON)")
	f.String("name", "", "Run name (default \""+config.DefaultName+"\")")
	f.String("base-url", "", "Task API root URL (default \""+config.DefaultBaseURL+"\")")
	f.Int("vus", 0, "Constant number of virtual users, used with --duration")
	f.String("duration", "", "Test duration for --vus, e.g. 30s")
	f.Int("start-vus", 0, "VUs the first stage ramps from")
	f.StringSlice(config.StageFlag, nil, "Stage as duration:target, repeatable (e.g. 30s:20)")
	f.String("graceful-stop", "", "Time VUs may take to finish their last iteration (default "+config.DefaultGracefulStop+")")
	f.String("sleep", "", "Think time after each iteration (default "+config.DefaultSleep+")")
	f.Bool("validate-schema", false, "Validate created tasks against the task JSON schema")
	f.String("timeout", "", "HTTP request timeout (default "+config.DefaultTimeout+")")
	f.Float64("max-rps", 0, "Global request rate limit, 0 for unlimited")
	f.Bool("insecure", false, "Skip TLS certificate verification")
	f.Bool("no-connection-reuse", false, "Disable HTTP keep-alive")
	f.String("html", "", "HTML report path, empty to disable (default \""+config.DefaultHTMLReport+"\")")
	f.String("json", "", "JSON summary path, empty to disable (default \""+config.DefaultJSONSummary+"\")")
	f.String("otlp-endpoint", "", "OTLP collector endpoint for request traces")
	f.String("otlp-protocol", "", "OTLP protocol (grpc or http)")
	f.String("history-path", "", "Run history database (default ~/.taskload/history.db)")
	f.Bool("no-history", false, "Do not record the run in the history database")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the test runs")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "Only print PASSED or FAILED")
	f.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	return cmd
}

func (a *app) runTest(ctx context.Context, flags *pflag.FlagSet, opts *runOptions) error {
	cfg, err := config.Load(opts.configPath, flags)
	if err != nil {
		return &ExitError{Code: ExitRuntimeError, Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return exitErrorf(ExitRuntimeError, "invalid configuration: %w", err)
	}

	tp, err := tracing.Init(ctx, cfg.TracingOptions())
	if err != nil {
		return exitErrorf(ExitRuntimeError, "failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	engOpts := engine.Options{Logger: a.logger, Tracing: tp}
	if opts.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		srv, err := serveMetrics(opts.metricsAddr, reg, a.logger)
		if err != nil {
			return &ExitError{Code: ExitRuntimeError, Err: err}
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		engOpts.Registerer = reg
	}

	eng, err := engine.New(cfg, engOpts)
	if err != nil {
		return &ExitError{Code: ExitRuntimeError, Err: err}
	}

	console := output.NewConsole(output.Config{
		TestName:      cfg.Name,
		BaseURL:       cfg.BaseURL,
		TotalDuration: eng.Plan().TotalDuration(),
		MaxVUs:        eng.Plan().MaxTarget(),
		Writer:        a.stdout,
		Quiet:         opts.quiet,
		NoColor:       opts.noColor,
	})
	console.PrintHeader()

	stopSignals := a.handleSignals(eng)
	defer stopSignals()

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		console.Monitor(monitorCtx, eng, time.Second, 10*time.Second)
	}()

	summary, err := eng.Run(ctx)
	stopMonitor()
	wg.Wait()
	if err != nil {
		return exitErrorf(ExitRuntimeError, "test run failed: %w", err)
	}

	console.PrintSummary(summary)

	if err := a.writeOutputs(cfg, summary, opts); err != nil {
		return &ExitError{Code: ExitRuntimeError, Err: err}
	}

	if !summary.Passed {
		return exitErrorf(ExitThresholdsFailed, "%d of %d thresholds failed",
			len(summary.FailedThresholds()), len(summary.Thresholds))
	}
	return nil
}

// handleSignals stops the engine on the first SIGINT or SIGTERM and aborts
// it on the second. The returned func releases the signal handler.
func (a *app) handleSignals(eng *engine.Engine) func() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		stopping := false
		for {
			select {
			case <-done:
				return
			case sig := <-sigCh:
				if !stopping {
					stopping = true
					a.logger.Warn("stopping test, waiting for running iterations; signal again to abort",
						zap.String("signal", sig.String()))
					eng.Stop()
					continue
				}
				a.logger.Warn("aborting test", zap.String("signal", sig.String()))
				eng.Abort()
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

func (a *app) writeOutputs(cfg *config.TestConfig, s *engine.RunSummary, opts *runOptions) error {
	jsonOpts := report.JSONOptions{
		StdoutTTY: output.IsTerminal(a.stdout),
		StderrTTY: output.IsTerminal(a.stderr),
		NoColor:   opts.noColor,
	}

	var errs []error
	if path := cfg.Output.HTML; path != "" {
		if err := report.WriteHTML(s, path); err != nil {
			errs = append(errs, err)
		} else if !opts.quiet {
			fmt.Fprintf(a.stdout, "HTML report: %s\n", path)
		}
	}
	if path := cfg.Output.JSON; path != "" {
		if err := report.WriteJSON(s, path, jsonOpts); err != nil {
			errs = append(errs, err)
		} else if !opts.quiet {
			fmt.Fprintf(a.stdout, "JSON summary: %s\n", path)
		}
	}

	if !cfg.History.Disabled {
		if err := saveHistory(cfg.History.Path, s, jsonOpts); err != nil {
			a.logger.Warn("failed to record run history", zap.Error(err))
		} else {
			a.logger.Debug("run recorded in history", zap.String("id", s.ID))
		}
	}

	return errors.Join(errs...)
}

func saveHistory(path string, s *engine.RunSummary, opts report.JSONOptions) error {
	data, err := report.JSON(s, opts)
	if err != nil {
		return err
	}
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Save(history.NewRecord(s, data))
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for metrics on %s: %w", addr, err)
	}

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("serving prometheus metrics", zap.String("addr", ln.Addr().String()))
	return srv, nil
}
