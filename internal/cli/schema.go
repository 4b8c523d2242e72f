package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openplans/newark2.0/internal/schema"
)

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Show the kinds, relations and actions in use",
		Long: `Compile the schema (built in, or --schema <dir>) and print it.

Examples:
  civic schema
  civic schema --schema ./schema --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(cmd, opts)
			sch, err := loadSchema(opts.SchemaDir)
			if err != nil {
				if ferr := out.Error("E_SCHEMA_INVALID", err.Error(), nil); ferr != nil {
					return ferr
				}
				return WrapExitError(ExitFailure, "invalid schema", err)
			}
			return out.Success(sch, formatSchema(sch))
		},
	}
}

func formatSchema(sch *schema.Schema) string {
	var b strings.Builder

	b.WriteString("Kinds:\n")
	for _, k := range sch.Kinds {
		fmt.Fprintf(&b, "  %-10s %s (order by %s)", k.Name, k.Endpoint, k.OrderBy)
		if k.Transient {
			b.WriteString(" transient")
		}
		b.WriteByte('\n')
	}

	b.WriteString("Relations:\n")
	for _, r := range sch.Relations {
		fmt.Fprintf(&b, "  %s.%s -> %s (%s)", r.Owner, r.Key, r.Related, r.Multiplicity)
		if r.Reciprocal() {
			fmt.Fprintf(&b, " reverse %s", r.ReverseKey)
		}
		if r.ForeignKey != "" {
			fmt.Fprintf(&b, " foreign key %s", r.ForeignKey)
		}
		b.WriteByte('\n')
	}

	b.WriteString("Actions:\n")
	for i, a := range sch.Actions {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "  %-10s %s %s (%s %s.%s)", a.Name, a.Method, a.Path, a.Op, a.Subject, a.Relation)
	}
	return b.String()
}
