package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openplans/newark2.0/internal/engine"
	"github.com/openplans/newark2.0/internal/graph"
)

// DefaultActionTimeout bounds the wait for the server to answer a write.
const DefaultActionTimeout = 30 * time.Second

var actionShort = map[string]string{
	engine.ActionSupport:   "Support a proposal",
	engine.ActionUnsupport: "Withdraw support from a proposal",
	engine.ActionShare:     "Share a proposal",
}

// ActionOptions holds flags for the support, unsupport and share commands.
type ActionOptions struct {
	*RootOptions
	Action  string
	Timeout time.Duration
}

// ActionResult is the outcome of one attempt.
type ActionResult struct {
	Attempt  string `json:"attempt"`
	Action   string `json:"action"`
	Proposal string `json:"proposal"`
	State    string `json:"state"`
	Status   int    `json:"status,omitempty"`
	Error    string `json:"error,omitempty"`
	// Members is the size of the affected relation afterwards.
	Members int `json:"members"`
}

// NewActionCommand creates the command for one optimistic action.
func NewActionCommand(rootOpts *RootOptions, action string) *cobra.Command {
	opts := &ActionOptions{RootOptions: rootOpts, Action: action}

	short, ok := actionShort[action]
	if !ok {
		short = fmt.Sprintf("Perform %s on a proposal", action)
	}
	cmd := &cobra.Command{
		Use:   action + " <proposal-id>",
		Short: short,
		Long: short + `.

The change is applied locally at once and the request is sent to the
server. If the server rejects it the change is rolled back. Repeating an
action that already holds (supporting a proposal twice) sends nothing.

Exit codes:
  0 - Confirmed, or nothing to do
  1 - Rejected and rolled back, or no answer in time
  2 - Command error (no user, unknown proposal, bad configuration)

Examples:
  civic ` + action + ` 12 --user 7
  civic ` + action + ` 12 --user 7 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(opts, cmd, args[0])
		},
	}
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", DefaultActionTimeout, "how long to wait for the server")
	return cmd
}

func runAction(opts *ActionOptions, cmd *cobra.Command, id string) error {
	ctx := cmd.Context()
	s, err := openSession(cmd, opts.RootOptions, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	if s.user == nil {
		return NewExitError(ExitCommandError, "no user: set session.user_id or pass --user")
	}
	act, ok := s.schema.Action(opts.Action)
	if !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("action %q is not declared", opts.Action))
	}
	if _, err := s.engine.Refresh(ctx, act.Subject); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to fetch %s", act.Subject), err)
	}
	subject, err := s.graph.Lookup(act.Subject, graph.ID(id))
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("%s %s not found", act.Subject, id), err)
	}

	a, err := s.engine.Controller().Perform(ctx, opts.Action, s.user, subject)
	if err != nil {
		return WrapExitError(ExitCommandError, opts.Action+" refused", err)
	}
	s.out.VerboseLog("attempt %s %s", a.ID, a.State())

	if a.Fired() {
		wctx, cancel := context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
		if err := s.engine.Await(wctx, a); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return WrapExitError(ExitFailure, fmt.Sprintf("no answer from the server within %s", opts.Timeout), err)
			}
			return WrapExitError(ExitFailure, "waiting for the server", err)
		}
	}

	result := ActionResult{
		Attempt:  a.ID,
		Action:   opts.Action,
		Proposal: id,
		State:    string(a.State()),
		Status:   a.Status(),
		Members:  len(s.graph.Registry().Members(subject, act.Relation)),
	}

	switch a.State() {
	case engine.StateConfirmed:
		return s.out.Success(result, fmt.Sprintf("%s %s: confirmed (%d %s)", opts.Action, subject, result.Members, act.Relation))
	case engine.StateIdle:
		return s.out.Success(result, fmt.Sprintf("%s %s: nothing to do", opts.Action, subject))
	}

	result.Error = a.Err().Error()
	msg := fmt.Sprintf("%s %s: rolled back: %v", opts.Action, subject, a.Err())
	if err := s.out.Error("E_ROLLED_BACK", msg, result); err != nil {
		return err
	}
	return WrapExitError(ExitFailure, "rolled back", a.Err())
}
