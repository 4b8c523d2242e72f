package graph

import (
	"github.com/openplans/newark2.0/internal/schema"
	"github.com/openplans/newark2.0/internal/value"
)

// ID is an identity assigned by the remote store.
type ID string

// Entity is a uniquely identified record of one kind.
//
// Entities are created by a Graph and shared by pointer between the
// Graph's identity map, collections and relation slots. The identity is
// empty until the remote store assigns one; until then the entity is
// known by a locally minted placeholder token.
type Entity struct {
	kind  schema.Kind
	id    ID
	token string
	attrs value.Object
	graph *Graph

	// memberOf lists every collection (kind collection or relation slot)
	// currently holding the entity.
	memberOf map[*Collection]struct{}
}

func newEntity(g *Graph, kind schema.Kind, id ID, token string) *Entity {
	return &Entity{
		kind:     kind,
		id:       id,
		token:    token,
		attrs:    value.Object{},
		graph:    g,
		memberOf: make(map[*Collection]struct{}),
	}
}

// Kind returns the entity kind.
func (e *Entity) Kind() schema.Kind { return e.kind }

// ID returns the remote identity, empty when not persisted.
func (e *Entity) ID() ID { return e.id }

// Token returns the local placeholder token. Stubs and fetched entities
// have none.
func (e *Entity) Token() string { return e.token }

// IsPersisted reports whether the remote store assigned an identity.
// A locally created placeholder is not persisted; for users this is the
// anonymous check.
func (e *Entity) IsPersisted() bool { return e.id != "" }

// String returns "kind:id", or "kind:~token" for placeholders.
func (e *Entity) String() string {
	if e == nil {
		return "<nil>"
	}
	if e.id != "" {
		return string(e.kind) + ":" + string(e.id)
	}
	return string(e.kind) + ":~" + e.token
}

// ref is the value stored in foreign keys pointing at e.
func (e *Entity) ref() value.Value {
	if e.id == "" {
		return value.Null{}
	}
	return value.String(e.id)
}

// Attrs returns a copy of the plain attributes.
func (e *Entity) Attrs() value.Object {
	return e.attrs.Clone()
}

// Get returns an attribute. "id" yields the identity. Relation keys yield
// the linked identities: an array for has-many keys, a single identity
// (or null) for the reverse key of a one_to_many relation. Members that
// are not yet persisted are omitted.
func (e *Entity) Get(attr string) (value.Value, bool) {
	if attr == "id" {
		if e.id == "" {
			return value.Null{}, false
		}
		return value.String(e.id), true
	}
	if e.graph != nil {
		if v, ok := e.graph.registry.getRelation(e, attr); ok {
			return v, true
		}
	}
	v, ok := e.attrs[attr]
	return v, ok
}

// Set assigns an attribute.
//
// Relation-typed attributes route through the Registry: assigning the
// foreign key or reverse key re-parents the entity, assigning a has-many
// key reconciles the set to exactly the listed identities. Unknown
// identities resolve to stub entities. Assigning "id" panics; identities
// are assigned with Graph.AssignID.
func (e *Entity) Set(attr string, v value.Value) {
	if attr == "id" {
		violate("set", e, "identity is assigned by the remote store")
	}
	if e.graph != nil && e.graph.registry.setRelation(e, attr, v) {
		return
	}
	e.setPlain(attr, v)
}

func (e *Entity) setPlain(attr string, v value.Value) {
	old, had := e.attrs[attr]
	if v == nil {
		if !had {
			return
		}
		delete(e.attrs, attr)
	} else {
		if had && value.Equal(old, v) {
			return
		}
		e.attrs[attr] = v
	}
	for c := range e.memberOf {
		if c.orderBy == attr {
			c.reorder(e)
		}
	}
	if e.graph != nil {
		e.graph.emit(Change{Type: ChangeAttr, Entity: e, Attr: attr})
	}
}
