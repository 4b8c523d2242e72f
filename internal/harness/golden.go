package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/openplans/newark2.0/internal/value"
)

// RunWithGolden executes a scenario, fails the test if the scenario did
// not pass, and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, e := range result.Errors {
		t.Errorf("scenario %s: %s", scenario.Name, e)
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := Canonical(name, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}

// Canonical returns the golden file content for a result.
func Canonical(name string, result *Result) ([]byte, error) {
	snapshot := result.Snapshot()
	snapshot["scenario_name"] = value.String(name)
	return value.MarshalCanonical(snapshot)
}
