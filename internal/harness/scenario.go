package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario is one scripted session against the data layer.
type Scenario struct {
	// Name uniquely identifies this scenario; it names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// User is the identity of the acting user. Empty means anonymous.
	User string `yaml:"user,omitempty"`

	// Listings are the initial GET responses, keyed by endpoint.
	Listings map[string][]map[string]any `yaml:"listings,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and graph.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is exactly one of its fields.
type Step struct {
	Sync    bool         `yaml:"sync,omitempty"`
	Fetch   string       `yaml:"fetch,omitempty"`
	Listing *ListingStep `yaml:"listing,omitempty"`
	Perform *PerformStep `yaml:"perform,omitempty"`
	Resolve *ResolveStep `yaml:"resolve,omitempty"`
}

// ListingStep rescripts the response of a GET endpoint.
type ListingStep struct {
	Endpoint string           `yaml:"endpoint"`
	Rows     []map[string]any `yaml:"rows,omitempty"`
	// Status and Body script a raw response; Status 0 with no Error means
	// 200 with Rows.
	Status int    `yaml:"status,omitempty"`
	Body   string `yaml:"body,omitempty"`
	// Error fails the request without a response.
	Error string `yaml:"error,omitempty"`
}

// PerformStep runs an action as the scenario user.
type PerformStep struct {
	Action string `yaml:"action"`
	// Subject is an entity reference, "proposal:1".
	Subject string `yaml:"subject"`
	// As labels the attempt for resolve steps and assertions.
	As string `yaml:"as,omitempty"`
	// Expect is the state right after Perform returns ("applied" or
	// "idle"), or "error" when Perform must refuse.
	Expect string `yaml:"expect,omitempty"`
}

// ResolveStep answers a held write.
type ResolveStep struct {
	Write  string `yaml:"write"`
	Status int    `yaml:"status,omitempty"`
	Body   string `yaml:"body,omitempty"`
	// Error fails the write without a response.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the final trace or graph.
type Assertion struct {
	// Type selects the check; see the Assert constants.
	Type string `yaml:"type"`

	// Owner, Key and Member address a relation (member).
	Owner   string `yaml:"owner,omitempty"`
	Key     string `yaml:"key,omitempty"`
	Member  string `yaml:"member,omitempty"`
	Present bool   `yaml:"present,omitempty"`

	// Kind names a collection (collection_order, collection_size).
	Kind string   `yaml:"kind,omitempty"`
	IDs  []string `yaml:"ids,omitempty"`

	// Count is the expected size (collection_size, write_count).
	Count int `yaml:"count,omitempty"`

	// Attempt and State check an attempt label (attempt_state).
	Attempt string `yaml:"attempt,omitempty"`
	State   string `yaml:"state,omitempty"`
}

// Assertion type constants.
const (
	AssertMember          = "member"
	AssertCollectionOrder = "collection_order"
	AssertCollectionSize  = "collection_size"
	AssertAttemptState    = "attempt_state"
	AssertWriteCount      = "write_count"
	AssertConsistent      = "consistent"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	labels := make(map[string]bool)
	for i, step := range s.Steps {
		if err := validateStep(i, step, labels); err != nil {
			return err
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], labels); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step, labels map[string]bool) error {
	set := 0
	if step.Sync {
		set++
	}
	if step.Fetch != "" {
		set++
	}
	if step.Listing != nil {
		set++
		if step.Listing.Endpoint == "" {
			return fmt.Errorf("steps[%d].listing: endpoint is required", i)
		}
	}
	if step.Perform != nil {
		set++
		p := step.Perform
		if p.Action == "" || p.Subject == "" {
			return fmt.Errorf("steps[%d].perform: action and subject are required", i)
		}
		if _, _, err := parseRef(p.Subject); err != nil {
			return fmt.Errorf("steps[%d].perform: %w", i, err)
		}
		switch p.Expect {
		case "", "applied", "idle", "error":
		default:
			return fmt.Errorf("steps[%d].perform: expect must be applied, idle or error, got %q", i, p.Expect)
		}
		if p.As != "" {
			if labels[p.As] {
				return fmt.Errorf("steps[%d].perform: label %q used twice", i, p.As)
			}
			labels[p.As] = true
		}
	}
	if step.Resolve != nil {
		set++
		r := step.Resolve
		if !labels[r.Write] {
			return fmt.Errorf("steps[%d].resolve: unknown write %q", i, r.Write)
		}
		if (r.Status == 0) == (r.Error == "") {
			return fmt.Errorf("steps[%d].resolve: exactly one of status and error is required", i)
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of sync, fetch, listing, perform, resolve is required", i)
	}
	return nil
}

func validateAssertion(i int, a *Assertion, labels map[string]bool) error {
	switch a.Type {
	case AssertMember:
		if a.Owner == "" || a.Key == "" || a.Member == "" {
			return fmt.Errorf("assertions[%d]: member requires owner, key and member", i)
		}
	case AssertCollectionOrder, AssertCollectionSize:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: %s requires kind", i, a.Type)
		}
	case AssertAttemptState:
		if !labels[a.Attempt] {
			return fmt.Errorf("assertions[%d]: unknown attempt %q", i, a.Attempt)
		}
		if a.State == "" {
			return fmt.Errorf("assertions[%d]: attempt_state requires state", i)
		}
	case AssertWriteCount, AssertConsistent:
	default:
		return fmt.Errorf("assertions[%d]: unknown type %q", i, a.Type)
	}
	return nil
}

// parseRef splits "proposal:1" into kind and identity.
func parseRef(ref string) (kind, id string, err error) {
	kind, id, ok := strings.Cut(ref, ":")
	if !ok || kind == "" || id == "" {
		return "", "", fmt.Errorf("malformed entity reference %q: want kind:id", ref)
	}
	return kind, id, nil
}
