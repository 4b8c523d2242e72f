package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/openplans/newark2.0/internal/config"
	"github.com/openplans/newark2.0/internal/engine"
	"github.com/openplans/newark2.0/internal/graph"
	"github.com/openplans/newark2.0/internal/journal"
	"github.com/openplans/newark2.0/internal/metrics"
	"github.com/openplans/newark2.0/internal/remote"
	"github.com/openplans/newark2.0/internal/schema"
)

// session is the wiring shared by commands that talk to the API.
type session struct {
	cfg     config.Config
	logger  *slog.Logger
	schema  *schema.Schema
	graph   *graph.Graph
	journal *journal.Journal
	facade  *remote.Facade
	engine  *engine.Engine
	// user is nil when no user id is configured.
	user *graph.Entity
	out  *OutputFormatter
}

// loadConfig reads the configuration file, if any, and applies the flag
// overrides.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg := config.Default()
	if opts.Config != "" {
		var err error
		if cfg, err = config.Load(opts.Config); err != nil {
			return cfg, err
		}
	}
	if opts.BaseURL != "" {
		cfg.API.BaseURL = opts.BaseURL
	}
	if opts.User != "" {
		cfg.Session.UserID = opts.User
	}
	if opts.Journal != "" {
		cfg.Journal.Path = opts.Journal
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(w io.Writer, cfg config.Log) *slog.Logger {
	level, _ := cfg.SlogLevel()
	hopts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

func loadSchema(dir string) (*schema.Schema, error) {
	if dir == "" {
		return schema.Default()
	}
	return schema.LoadDir(dir)
}

func newFormatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// openSession builds the graph, journal, facade and engine. m may be nil.
// Failures are command errors.
func openSession(cmd *cobra.Command, opts *RootOptions, m *metrics.Metrics) (*session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.Log)

	sch, err := loadSchema(opts.SchemaDir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load schema", err)
	}
	g, err := graph.New(sch, graph.WithLogger(logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build graph", err)
	}
	j, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	seq, err := j.MaxSeq(cmd.Context())
	if err != nil {
		j.Close()
		return nil, WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	doer := opts.Doer
	if doer == nil {
		doer = remote.NewHTTPDoer(cfg.API.BaseURL, remote.HTTPOptions{
			Timeout:        cfg.API.Timeout,
			ConnectTimeout: cfg.API.ConnectTimeout,
			TLSTimeout:     cfg.API.TLSTimeout,
		})
	}
	facade := remote.NewFacade(doer, remote.WithLogger(logger))

	eopts := []engine.Option{
		engine.WithJournal(j),
		engine.WithClock(engine.NewClockAt(seq)),
		engine.WithLogger(logger),
		engine.WithMetrics(m),
	}
	if opts.Tokens != nil {
		eopts = append(eopts, engine.WithTokens(opts.Tokens))
	}

	s := &session{
		cfg:     cfg,
		logger:  logger,
		schema:  sch,
		graph:   g,
		journal: j,
		facade:  facade,
		engine:  engine.New(g, facade, eopts...),
		out:     newFormatter(cmd, opts),
	}
	if cfg.Session.UserID != "" {
		s.user = g.Resolve("user", graph.ID(cfg.Session.UserID))
	}
	logger.Debug("session opened",
		"base_url", cfg.API.BaseURL,
		"journal", cfg.Journal.Path,
		"user", cfg.Session.UserID,
	)
	return s, nil
}

// Close waits for dispatched requests and closes the journal.
func (s *session) Close() error {
	s.facade.Wait()
	return s.journal.Close()
}
