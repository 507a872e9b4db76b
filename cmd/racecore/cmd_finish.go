package main

import (
	"bufio"
	"context"
	"errors"
	"expvar"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"racecore/internal/core"
	"racecore/pkg/domain"
)

// raceFlags are the flags every finish-recording command takes.
type raceFlags struct {
	raceID string
	line   int
	filter domain.RunnerFilter
}

func (f *raceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.raceID, "race", "", "race id")
	cmd.Flags().IntVar(&f.line, "line", 1, "finish line")
	cmd.Flags().StringVar(&f.filter.AgeGroup, "age-group", "", "limit the roster to this age group")
	cmd.Flags().StringVar(&f.filter.Grade, "grade", "", "limit the roster to this grade")
	_ = cmd.MarkFlagRequired("race")
}

func (f *raceFlags) session(ctx context.Context, a *app) (*core.Session, error) {
	return a.svc.NewSession(ctx, f.raceID, f.filter)
}

func newFinishCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "finish",
		Short: "Record, undo and list finishes",
	}
	cmd.AddCommand(newFinishRecordCmd(a), newFinishUndoCmd(a), newFinishOrderCmd(a))
	return cmd
}

func newFinishRecordCmd(a *app) *cobra.Command {
	var f raceFlags
	cmd := &cobra.Command{
		Use:   "record <identity>...",
		Short: "Record runners crossing a finish line, in order",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := f.session(cmd.Context(), a)
			if err != nil {
				return err
			}
			for _, id := range args {
				fr, err := sess.RecordFinish(cmd.Context(), id, f.line)
				if err != nil {
					return err
				}
				printFinish(a, fr)
			}
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func printFinish(a *app, fr core.FinishedRunner) {
	a.printf("%d  %s  %s  %s  line %d\n", fr.Position, fr.ID, fr.Name, fr.House, fr.FinishLine)
}

func newFinishUndoCmd(a *app) *cobra.Command {
	var f raceFlags
	cmd := &cobra.Command{
		Use:   "undo",
		Short: "Remove the last finish on a line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := f.session(cmd.Context(), a)
			if err != nil {
				return err
			}
			rec, err := sess.UndoLastFinish(cmd.Context(), f.line)
			if err != nil {
				return err
			}
			a.printf("undid %s at position %d on line %d\n", rec.RunnerID, rec.Position, rec.FinishLine)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newFinishOrderCmd(a *app) *cobra.Command {
	var f raceFlags
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Print the finish order on a line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := f.session(cmd.Context(), a)
			if err != nil {
				return err
			}
			if f.line < 1 || f.line > sess.Race().Lanes() {
				return domain.Validationf("finish line %d out of range 1..%d", f.line, sess.Race().Lanes())
			}
			return printLane(a, sess, f.line)
		},
	}
	f.register(cmd)
	return cmd
}

// undoCommand is the scan input that undoes the last finish instead of
// recording one.
const undoCommand = "undo"

func newScanCmd(a *app) *cobra.Command {
	var (
		f           raceFlags
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Read scanned identities from stdin and record each as it arrives",
		Long: `scan reads one identity per line from stdin and records it on the given
finish line. A line reading "undo" removes the last finish on that line.
Rejected scans are reported and scanning continues.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			sess, err := f.session(ctx, a)
			if err != nil {
				return err
			}
			if metricsAddr != "" {
				_, stop, err := serveMetrics(a, metricsAddr)
				if err != nil {
					return err
				}
				defer stop()
			}
			return scanLoop(ctx, a, sess, f.line)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve metrics (/metrics, or /debug/vars with the expvar exporter) on this address while scanning")
	return cmd
}

func scanLoop(ctx context.Context, a *app, sess *core.Session, line int) error {
	sc := bufio.NewScanner(a.stdin)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		input := strings.TrimSpace(sc.Text())
		if input == "" {
			continue
		}
		if strings.EqualFold(input, undoCommand) {
			rec, err := sess.UndoLastFinish(ctx, line)
			if err != nil {
				a.printf("! %v\n", err)
				continue
			}
			a.printf("undid %s at position %d\n", rec.RunnerID, rec.Position)
			continue
		}
		fr, err := sess.RecordFinish(ctx, input, line)
		if err != nil {
			if domain.KindOf(err) == domain.KindStoreUnavailable {
				return err
			}
			a.printf("! %v\n", err)
			continue
		}
		printFinish(a, fr)
	}
	return sc.Err()
}

// serveMetrics serves the configured exporter on addr and returns the bound
// address with a function that shuts the server down.
func serveMetrics(a *app, addr string) (string, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, err
	}
	mux := http.NewServeMux()
	if a.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/debug/vars", expvar.Handler())
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", "error", err)
		}
	}()
	bound := ln.Addr().String()
	a.logger.Info("serving metrics", "addr", bound)
	return bound, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
