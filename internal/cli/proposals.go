package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openplans/newark2.0/internal/graph"
	"github.com/openplans/newark2.0/internal/schema"
	"github.com/openplans/newark2.0/internal/value"
)

const kindProposal schema.Kind = "proposal"

// ProposalSummary is one row of the proposals command.
type ProposalSummary struct {
	ID         string `json:"id"`
	Title      string `json:"title,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
	Author     string `json:"author,omitempty"`
	Category   string `json:"category,omitempty"`
	Featured   bool   `json:"featured,omitempty"`
	Supporters int    `json:"supporters"`
	Sharers    int    `json:"sharers"`
	Replies    int    `json:"replies"`
	// Supported is set when a user is configured.
	Supported *bool `json:"supported,omitempty"`
}

// NewProposalsCommand creates the proposals command.
func NewProposalsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "proposals",
		Short: "List proposals with their supporters, shares and replies",
		Long: `Sync every collection and list proposals oldest first.

When a user is configured, each proposal also shows whether that user
supports it.

Examples:
  civic proposals
  civic proposals --user 7 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProposals(opts, cmd)
		},
	}
}

func runProposals(opts *RootOptions, cmd *cobra.Command) error {
	s, err := openSession(cmd, opts, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.engine.FetchAll(cmd.Context()); err != nil {
		if err := s.out.Error("E_SYNC_FAILED", err.Error(), nil); err != nil {
			return err
		}
		return WrapExitError(ExitFailure, "failed to load proposals", err)
	}

	proposals := []ProposalSummary{}
	for p := range s.graph.Collection(kindProposal).All() {
		proposals = append(proposals, s.summarize(p))
	}

	var b strings.Builder
	if len(proposals) == 0 {
		b.WriteString("No proposals.")
	}
	for i, p := range proposals {
		if i > 0 {
			b.WriteByte('\n')
		}
		mark := " "
		if p.Supported != nil && *p.Supported {
			mark = "*"
		}
		fmt.Fprintf(&b, "%s #%-5s %-40s %d supporters, %d shares, %d replies",
			mark, p.ID, p.Title, p.Supporters, p.Sharers, p.Replies)
	}
	return s.out.Success(proposals, b.String())
}

func (s *session) summarize(p *graph.Entity) ProposalSummary {
	sum := ProposalSummary{
		ID:         string(p.ID()),
		Title:      attrText(p, "title"),
		CreatedAt:  attrText(p, "created_at"),
		Author:     s.author(p),
		Category:   attrText(p, "category"),
		Supporters: s.count(p, "supporters"),
		Sharers:    s.count(p, "sharers"),
		Replies:    s.count(p, "replies"),
	}
	if v, ok := p.Get("featured"); ok {
		if b, ok := v.(value.Bool); ok {
			sum.Featured = bool(b)
		}
	}
	if s.user != nil {
		supported := false
		if _, ok := s.schema.Relation(kindProposal, "supporters"); ok {
			supported = s.graph.Registry().Contains(p, "supporters", s.user)
		}
		sum.Supported = &supported
	}
	return sum
}

// count returns the members of p under key, or 0 when the schema does
// not declare key.
func (s *session) count(p *graph.Entity, key string) int {
	if _, ok := s.schema.Relation(p.Kind(), key); !ok {
		return 0
	}
	return len(s.graph.Registry().Members(p, key))
}

// author returns the identity of e's author, or "" when the schema
// declares no author link or none is set.
func (s *session) author(e *graph.Entity) string {
	reg := s.graph.Registry()
	rel, ok := reg.Relation(e.Kind(), "author")
	if !ok || rel.Related != e.Kind() || rel.ReverseKey != "author" || rel.Multiplicity != schema.OneToMany {
		return ""
	}
	if u, ok := reg.Parent(e, "author"); ok {
		return string(u.ID())
	}
	return ""
}

func attrText(e *graph.Entity, attr string) string {
	v, ok := e.Get(attr)
	if !ok {
		return ""
	}
	text, _ := value.Text(v)
	return text
}
