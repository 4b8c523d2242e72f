package harness

import (
	"errors"
	"fmt"
	"slices"

	"github.com/openplans/newark2.0/internal/schema"
)

// check evaluates one assertion against the final engine state.
func (r *runner) check(a Assertion) error {
	switch a.Type {
	case AssertMember:
		return r.checkMember(a)
	case AssertCollectionOrder:
		got, err := r.collectionIDs(a.Kind)
		if err != nil {
			return err
		}
		if !slices.Equal(got, a.IDs) {
			return fmt.Errorf("%s collection is %v, expected %v", a.Kind, got, a.IDs)
		}
		return nil
	case AssertCollectionSize:
		got, err := r.collectionIDs(a.Kind)
		if err != nil {
			return err
		}
		if len(got) != a.Count {
			return fmt.Errorf("%s collection has %d entities, expected %d", a.Kind, len(got), a.Count)
		}
		return nil
	case AssertAttemptState:
		att, ok := r.attempts[a.Attempt]
		if !ok {
			return fmt.Errorf("attempt %q was never performed", a.Attempt)
		}
		if got := string(att.State()); got != a.State {
			return fmt.Errorf("attempt %s is %s, expected %s", a.Attempt, got, a.State)
		}
		return nil
	case AssertWriteCount:
		if got := len(r.remote.Writes()); got != a.Count {
			return fmt.Errorf("remote received %d writes, expected %d", got, a.Count)
		}
		return nil
	case AssertConsistent:
		if errs := r.graph.Registry().Check(); len(errs) > 0 {
			return fmt.Errorf("registry is inconsistent: %w", errors.Join(errs...))
		}
		return nil
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func (r *runner) checkMember(a Assertion) error {
	owner, err := r.lookupRef(a.Owner)
	if err != nil {
		return fmt.Errorf("owner: %w", err)
	}
	member, err := r.lookupRef(a.Member)
	if err != nil {
		if !a.Present {
			// An entity the graph never saw is in no relation.
			return nil
		}
		return fmt.Errorf("member: %w", err)
	}
	got := r.graph.Registry().Contains(owner, a.Key, member)
	if got != a.Present {
		if a.Present {
			return fmt.Errorf("%s is not in %s.%s", member, owner, a.Key)
		}
		return fmt.Errorf("%s is still in %s.%s", member, owner, a.Key)
	}
	return nil
}

func (r *runner) collectionIDs(kind string) ([]string, error) {
	if _, ok := r.schema.Kind(schema.Kind(kind)); !ok {
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
	ids := []string{}
	for _, e := range r.graph.Collection(schema.Kind(kind)).Entities() {
		ids = append(ids, string(e.ID()))
	}
	return ids, nil
}
