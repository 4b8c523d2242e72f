package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/openplans/newark2.0/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Attempt string // optional - restrict the timeline to one attempt
}

// TraceEvent is one line of the trace timeline.
type TraceEvent struct {
	Seq     int64  `json:"seq"`
	Type    string `json:"type"` // "attempt", "transition" or "fetch"
	Attempt string `json:"attempt,omitempty"`
	Action  string `json:"action,omitempty"`
	User    string `json:"user,omitempty"`
	Subject string `json:"subject,omitempty"`
	Request string `json:"request,omitempty"`
	Key     string `json:"idempotency_key,omitempty"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Status  int    `json:"status,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Records int    `json:"records,omitempty"`
	Error   string `json:"error,omitempty"`
}

// AttemptSummary is the final state of one attempt.
type AttemptSummary struct {
	ID      string `json:"id"`
	Action  string `json:"action"`
	Subject string `json:"subject"`
	State   string `json:"state"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Timeline []TraceEvent     `json:"timeline"`
	Attempts []AttemptSummary `json:"attempts"`
	Stats    TraceStats       `json:"stats"`
}

// TraceStats counts attempts by final state and fetches by outcome.
type TraceStats struct {
	TotalEvents   int `json:"total_events"`
	Attempts      int `json:"attempts"`
	Confirmed     int `json:"confirmed"`
	RolledBack    int `json:"rolled_back"`
	Guarded       int `json:"guarded"`
	Pending       int `json:"pending"`
	Fetches       int `json:"fetches"`
	FailedFetches int `json:"failed_fetches"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the attempt journal",
		Long: `Show the attempts, state transitions and refreshes recorded in a
journal file, in the order they happened.

The output includes:
- Timeline: every journal entry ordered by sequence number
- Attempts: the final state of each attempt
- Stats: attempts by outcome and fetches by result

An attempt still "applied" never received an answer: the process exited
while its write was in flight.

Examples:
  civic trace --journal ./civic.db
  civic trace --journal ./civic.db --attempt 0190a6f2-...
  civic trace --journal ./civic.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Attempt, "attempt", "", "show only this attempt")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	path := cfg.Journal.Path
	if path == journal.MemoryPath {
		return NewExitError(ExitCommandError, "an in-memory journal cannot be traced: pass --journal <file>")
	}
	if _, err := os.Stat(path); err != nil {
		return WrapExitError(ExitCommandError, "journal not found", err)
	}

	j, err := journal.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	if opts.Attempt != "" {
		if _, err := j.State(ctx, opts.Attempt); err != nil {
			if errors.Is(err, journal.ErrUnknownAttempt) {
				return WrapExitError(ExitCommandError, "no such attempt", err)
			}
			return WrapExitError(ExitCommandError, "failed to read journal", err)
		}
	}

	entries, err := j.Trace(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	result := buildTrace(entries, opts.Attempt)
	for i := range result.Attempts {
		state, err := j.State(ctx, result.Attempts[i].ID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read journal", err)
		}
		result.Attempts[i].State = state
		countState(&result.Stats, state)
	}

	out := newFormatter(cmd, opts.RootOptions)
	if opts.Format == "json" {
		return out.Success(result, "")
	}
	outputTraceText(cmd.OutOrStdout(), result, opts.Verbose)
	return nil
}

// buildTrace converts journal entries to timeline events. When attempt is
// set, only that attempt's entries are kept and fetches are dropped.
func buildTrace(entries []journal.Entry, attempt string) TraceResult {
	result := TraceResult{
		Timeline: []TraceEvent{},
		Attempts: []AttemptSummary{},
	}

	for _, e := range entries {
		var ev TraceEvent
		switch {
		case e.Attempt != nil:
			a := e.Attempt
			if attempt != "" && a.ID != attempt {
				continue
			}
			ev = TraceEvent{
				Seq:     e.Seq,
				Type:    "attempt",
				Attempt: a.ID,
				Action:  a.Action,
				User:    a.User,
				Subject: a.Subject,
				Request: a.Method + " " + a.Path,
				Key:     a.IdempotencyKey,
			}
			result.Attempts = append(result.Attempts, AttemptSummary{ID: a.ID, Action: a.Action, Subject: a.Subject})
			result.Stats.Attempts++
		case e.Transition != nil:
			t := e.Transition
			if attempt != "" && t.AttemptID != attempt {
				continue
			}
			ev = TraceEvent{
				Seq:     e.Seq,
				Type:    "transition",
				Attempt: t.AttemptID,
				From:    t.From,
				To:      t.To,
				Status:  t.Status,
				Error:   t.Error,
			}
		case e.Fetch != nil:
			if attempt != "" {
				continue
			}
			f := e.Fetch
			ev = TraceEvent{
				Seq:     e.Seq,
				Type:    "fetch",
				Kind:    f.Kind,
				Records: f.Records,
				Error:   f.Error,
			}
			result.Stats.Fetches++
			if f.Error != "" {
				result.Stats.FailedFetches++
			}
		default:
			continue
		}
		result.Timeline = append(result.Timeline, ev)
	}

	result.Stats.TotalEvents = len(result.Timeline)
	return result
}

func countState(stats *TraceStats, state string) {
	switch state {
	case "confirmed":
		stats.Confirmed++
	case "rolled_back":
		stats.RolledBack++
	case "idle":
		stats.Guarded++
	default:
		stats.Pending++
	}
}

func outputTraceText(w io.Writer, result TraceResult, verbose bool) {
	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no events)")
	}
	for _, ev := range result.Timeline {
		formatTimelineEvent(w, ev, verbose)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Attempts ===")
	if len(result.Attempts) == 0 {
		fmt.Fprintln(w, "  (no attempts)")
	}
	for _, a := range result.Attempts {
		fmt.Fprintf(w, "  %s %s %s: %s\n", truncateID(a.ID), a.Action, a.Subject, a.State)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Total Events: %d\n", result.Stats.TotalEvents)
	fmt.Fprintf(w, "  Attempts:     %d (%d confirmed, %d rolled back, %d guarded, %d pending)\n",
		result.Stats.Attempts, result.Stats.Confirmed, result.Stats.RolledBack,
		result.Stats.Guarded, result.Stats.Pending)
	fmt.Fprintf(w, "  Fetches:      %d (%d failed)\n", result.Stats.Fetches, result.Stats.FailedFetches)
}

func formatTimelineEvent(w io.Writer, ev TraceEvent, verbose bool) {
	switch ev.Type {
	case "attempt":
		fmt.Fprintf(w, "  [%d] ATTEMPT %s %s %s by %s\n", ev.Seq, truncateID(ev.Attempt), ev.Action, ev.Subject, ev.User)
		if verbose {
			fmt.Fprintf(w, "       Request: %s\n", ev.Request)
			if ev.Key != "" {
				fmt.Fprintf(w, "       Idempotency-Key: %s\n", ev.Key)
			}
		}
	case "transition":
		fmt.Fprintf(w, "  [%d] %s %s -> %s", ev.Seq, truncateID(ev.Attempt), ev.From, ev.To)
		if ev.Status != 0 {
			fmt.Fprintf(w, " (%d)", ev.Status)
		}
		fmt.Fprintln(w)
		if ev.Error != "" {
			fmt.Fprintf(w, "       Error: %s\n", ev.Error)
		}
	case "fetch":
		if ev.Error != "" {
			fmt.Fprintf(w, "  [%d] FETCH %s failed: %s\n", ev.Seq, ev.Kind, ev.Error)
			return
		}
		fmt.Fprintf(w, "  [%d] FETCH %s (%d records)\n", ev.Seq, ev.Kind, ev.Records)
	}
}

// truncateID shortens UUIDs for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
