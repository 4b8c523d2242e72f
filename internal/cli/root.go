package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/openplans/newark2.0/internal/engine"
	"github.com/openplans/newark2.0/internal/remote"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Config is the YAML configuration file; empty uses the defaults.
	Config string
	// BaseURL, User and Journal override the configuration file.
	BaseURL string
	User    string
	Journal string
	// SchemaDir loads CUE schema files instead of the built-in schema.
	SchemaDir string

	// Doer replaces the HTTP client. Tests set it; flags never do.
	Doer remote.Doer
	// Tokens replaces the UUIDv7 attempt ids.
	Tokens engine.TokenGenerator
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the civic CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "civic",
		Short: "Client for a civic engagement site",
		Long: `Browse proposals, replies and the activity stream of a civic
engagement site, and support or share proposals.

Support, unsupport and share are applied to the local graph at once and
rolled back if the server rejects them. Every attempt is recorded in a
SQLite journal that "civic trace" can inspect.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "path to YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.BaseURL, "base-url", "", "API base URL (overrides api.base_url)")
	cmd.PersistentFlags().StringVarP(&opts.User, "user", "u", "", "acting user id (overrides session.user_id)")
	cmd.PersistentFlags().StringVar(&opts.Journal, "journal", "", "journal path (overrides journal.path)")
	cmd.PersistentFlags().StringVar(&opts.SchemaDir, "schema", "", "directory of CUE schema files")

	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewProposalsCommand(opts))
	for _, action := range []string{engine.ActionSupport, engine.ActionUnsupport, engine.ActionShare} {
		cmd.AddCommand(NewActionCommand(opts, action))
	}
	cmd.AddCommand(NewStreamCommand(opts))
	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewTraceCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
