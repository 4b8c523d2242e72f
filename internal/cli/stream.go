package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/openplans/newark2.0/internal/engine"
	"github.com/openplans/newark2.0/internal/graph"
	"github.com/openplans/newark2.0/internal/metrics"
	"github.com/openplans/newark2.0/internal/schema"
)

const kindActivity schema.Kind = "activity"

// StreamOptions holds flags for the stream command.
type StreamOptions struct {
	*RootOptions
	Once        bool
	Count       int
	Interval    time.Duration
	MetricsAddr string
}

// ActivityEntry is one item of the activity stream.
type ActivityEntry struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at,omitempty"`
	Summary   string `json:"summary,omitempty"`
}

// NewStreamCommand creates the stream command.
func NewStreamCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StreamOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Follow the activity stream",
		Long: `Poll the activity stream and print it after every refresh.

The stream is replaced wholesale on each poll. Polls are rate limited to
stream.interval (or --interval) with stream.burst polls allowed back to
back. A failed poll keeps the previous stream and is logged.

With --metrics-addr, Prometheus metrics are served on /metrics while
the command runs.

Examples:
  civic stream --once
  civic stream --interval 30s
  civic stream --metrics-addr :9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Once, "once", false, "fetch the stream once and exit")
	cmd.Flags().IntVar(&opts.Count, "count", 0, "exit after this many polls (0 polls forever)")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "poll interval (overrides stream.interval)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

func runStream(opts *StreamOptions, cmd *cobra.Command) error {
	var (
		reg *prometheus.Registry
		m   *metrics.Metrics
	)
	if opts.MetricsAddr != "" {
		reg = prometheus.NewRegistry()
		m = metrics.New(reg)
	}

	s, err := openSession(cmd, opts.RootOptions, m)
	if err != nil {
		return err
	}
	defer s.Close()

	if opts.Once {
		if _, err := s.engine.Refresh(cmd.Context(), kindActivity); err != nil {
			if err := s.out.Error("E_FETCH_FAILED", err.Error(), nil); err != nil {
				return err
			}
			return WrapExitError(ExitFailure, "failed to fetch the activity stream", err)
		}
		return s.printActivity()
	}

	interval := s.cfg.Stream.Interval
	if opts.Interval != 0 {
		interval = opts.Interval
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	polls := 0
	var printErr error
	poller, err := engine.NewPoller(s.engine, kindActivity, interval, s.cfg.Stream.Burst, func(n int, err error) {
		// Polls already queued when the count is reached are dropped.
		if opts.Count > 0 && polls >= opts.Count {
			return
		}
		polls++
		if err == nil {
			if perr := s.printActivity(); perr != nil {
				printErr = perr
				cancel()
			}
		}
		if opts.Count > 0 && polls >= opts.Count {
			cancel()
		}
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start the poller", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.engine.Run(gctx) })
	g.Go(func() error { return poller.Run(gctx) })
	if reg != nil {
		serveMetrics(gctx, g, opts.MetricsAddr, reg, s)
	}

	err = g.Wait()
	if printErr != nil {
		return printErr
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, engine.ErrStopped) {
		return WrapExitError(ExitFailure, "stream stopped", err)
	}
	return nil
}

// serveMetrics runs a /metrics endpoint until ctx is done.
func serveMetrics(ctx context.Context, g *errgroup.Group, addr string, reg *prometheus.Registry, s *session) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		s.logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func (s *session) printActivity() error {
	entries := []ActivityEntry{}
	var b strings.Builder
	for e := range s.graph.Collection(kindActivity).All() {
		entry := activityEntry(e)
		entries = append(entries, entry)
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s  %s", entry.CreatedAt, entry.Summary)
	}
	if len(entries) == 0 {
		b.WriteString("No activity.")
	}
	return s.out.Success(entries, b.String())
}

func activityEntry(e *graph.Entity) ActivityEntry {
	entry := ActivityEntry{
		ID:        string(e.ID()),
		CreatedAt: attrText(e, "created_at"),
		Summary:   attrText(e, "summary"),
	}
	if entry.Summary == "" {
		entry.Summary = string(e.Kind()) + " " + entry.ID
	}
	return entry
}
