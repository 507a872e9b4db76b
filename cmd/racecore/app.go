package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"racecore/internal/blob"
	"racecore/internal/config"
	"racecore/internal/core"
)

// app holds what every subcommand shares. It is filled in by the root
// command's PersistentPreRunE and released by run once the command returns.
type app struct {
	configPath string
	actor      string

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	svc      *core.Service
	closers  []io.Closer
}

// run executes the command line in args and releases every store it opened,
// whether or not the command failed.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	return err
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "racecore",
		Short:         "Record race finish orders and score house points",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd.Context())
		},
	}
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to the YAML config (default racecore.yaml when present)")
	root.PersistentFlags().StringVar(&a.actor, "actor", os.Getenv("USER"), "who is running ledger admin commands")

	root.AddCommand(
		newRunnerCmd(a),
		newRaceCmd(a),
		newFinishCmd(a),
		newScanCmd(a),
		newPointsCmd(a),
	)
	return root
}

func (a *app) open(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	logger, err := newLogger(cfg.Log, a.stderr)
	if err != nil {
		return err
	}
	a.logger = logger

	store, err := core.OpenPersistentStore(ctx, cfg.Storage, core.NewDefaultRulesEngine())
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if c, ok := store.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	blobs, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		_ = a.close()
		return fmt.Errorf("open blob store: %w", err)
	}

	opts := []core.ServiceOption{
		core.WithLogger(logger),
		core.WithBlobStore(blobs),
		core.WithMetricsRecorder(a.metricsRecorder()),
	}
	if cfg.Log.Trace {
		opts = append(opts, core.WithTracer(core.NewSpanLog(a.stderr)))
	}
	a.svc = core.NewService(store, opts...)
	logger.Debug("racecore ready", "storage", cfg.Storage.Driver, "blob", blobs.Driver(), "metrics", cfg.Metrics.Exporter)
	return nil
}

// metricsRecorder builds the configured exporter. The Prometheus registry is
// per invocation; expvar is process-wide and served at /debug/vars.
func (a *app) metricsRecorder() core.MetricsRecorder {
	if a.cfg.Metrics.Exporter == config.ExporterExpvar {
		return core.NewExpvarRecorder(core.DefaultExpvarName)
	}
	a.registry = prometheus.NewRegistry()
	return core.NewPrometheusMetricsRecorder(a.registry)
}

func (a *app) close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.stdout, format, args...)
}
