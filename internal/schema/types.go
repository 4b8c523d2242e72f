package schema

import "strings"

// Kind names an entity kind ("proposal", "reply", "user", ...).
type Kind string

// Multiplicity is the cardinality of a relation.
type Multiplicity string

const (
	// OneToMany: each related entity has at most one owner.
	OneToMany Multiplicity = "one_to_many"
	// ManyToMany: membership is unconstrained on both sides.
	ManyToMany Multiplicity = "many_to_many"
)

// Op is the registry operation an action performs.
type Op string

const (
	OpAdd    Op = "add"
	OpRemove Op = "remove"
)

// Invert returns the operation that undoes o.
func (o Op) Invert() Op {
	if o == OpAdd {
		return OpRemove
	}
	return OpAdd
}

// KindSpec describes one entity kind and the endpoint that lists it.
type KindSpec struct {
	Name     Kind   `json:"name"`
	Endpoint string `json:"endpoint"`
	OrderBy  string `json:"order_by"`
	// Transient kinds are replaced wholesale on every fetch.
	Transient bool `json:"transient,omitempty"`
}

// Relation is a declared link between an owner kind and a related kind.
//
// When ReverseKey is set the relation is reciprocal: the related entity
// tracks its owner(s) under ReverseKey. Otherwise it is membership-only.
// ForeignKey names the attribute on the related entity that carries the
// owner's identity (one_to_many reciprocal relations only).
type Relation struct {
	Name             string       `json:"name"`
	Owner            Kind         `json:"owner"`
	Key              string       `json:"key"`
	Related          Kind         `json:"related"`
	ReverseKey       string       `json:"reverse,omitempty"`
	ForeignKey       string       `json:"foreign_key,omitempty"`
	IncludeInPayload bool         `json:"in_payload,omitempty"`
	Multiplicity     Multiplicity `json:"multiplicity"`
}

// Reciprocal reports whether mutations are visible from both ends.
func (r Relation) Reciprocal() bool {
	return r.ReverseKey != ""
}

// Action is an optimistic mutation bound to a remote endpoint.
type Action struct {
	Name     string `json:"name"`
	Method   string `json:"method"`
	Path     string `json:"path"`
	Subject  Kind   `json:"subject"`
	Relation string `json:"relation"`
	Op       Op     `json:"op"`
}

// PathFor substitutes the subject identity into the action's path.
func (a Action) PathFor(id string) string {
	return strings.ReplaceAll(a.Path, "{id}", id)
}

// Schema is the compiled set of kinds, relations and actions, in
// declaration order.
type Schema struct {
	Kinds     []KindSpec `json:"kinds"`
	Relations []Relation `json:"relations"`
	Actions   []Action   `json:"actions"`
}

// Kind looks up a kind by name.
func (s *Schema) Kind(name Kind) (KindSpec, bool) {
	for _, k := range s.Kinds {
		if k.Name == name {
			return k, true
		}
	}
	return KindSpec{}, false
}

// Action looks up an action by name.
func (s *Schema) Action(name string) (Action, bool) {
	for _, a := range s.Actions {
		if a.Name == name {
			return a, true
		}
	}
	return Action{}, false
}

// Relation looks up a relation by owner kind and key.
func (s *Schema) Relation(owner Kind, key string) (Relation, bool) {
	for _, r := range s.Relations {
		if r.Owner == owner && r.Key == key {
			return r, true
		}
	}
	return Relation{}, false
}
