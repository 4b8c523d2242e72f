package graph

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/openplans/newark2.0/internal/schema"
	"github.com/openplans/newark2.0/internal/value"
)

// ChangeType distinguishes the notifications a Graph sends observers.
type ChangeType int

const (
	// ChangeAttr: a plain attribute of Entity was assigned.
	ChangeAttr ChangeType = iota + 1
	// ChangeLink: Member was added to Entity's Attr relation set.
	ChangeLink
	// ChangeUnlink: Member was removed from Entity's Attr relation set.
	ChangeUnlink
	// ChangeInsert: Entity joined its kind collection.
	ChangeInsert
	// ChangeRemove: Entity left its kind collection.
	ChangeRemove
	// ChangeIdentity: Entity was assigned an identity.
	ChangeIdentity
)

func (t ChangeType) String() string {
	switch t {
	case ChangeAttr:
		return "attr"
	case ChangeLink:
		return "link"
	case ChangeUnlink:
		return "unlink"
	case ChangeInsert:
		return "insert"
	case ChangeRemove:
		return "remove"
	case ChangeIdentity:
		return "identity"
	}
	return fmt.Sprintf("ChangeType(%d)", int(t))
}

// Change is delivered to observers synchronously, after the mutation
// is complete.
type Change struct {
	Type   ChangeType
	Entity *Entity
	Attr   string
	Member *Entity
}

type observer struct {
	fn     func(Change)
	active bool
}

// Graph is the identity map of every known entity plus one ordered
// collection per declared kind. It owns its Registry.
type Graph struct {
	schema   *schema.Schema
	kinds    map[schema.Kind]schema.KindSpec
	registry *Registry

	entities    map[schema.Kind]map[ID]*Entity
	collections map[schema.Kind]*Collection

	observers []*observer
	tokens    func() string
	logger    *slog.Logger
}

// Option configures a Graph.
type Option func(*Graph)

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Graph) { g.logger = l }
}

// WithTokens sets the generator of placeholder tokens for entities
// created locally. Defaults to UUIDv7 strings.
func WithTokens(fn func() string) Option {
	return func(g *Graph) { g.tokens = fn }
}

// New builds a graph for s: one collection per kind and a Registry with
// every relation declared.
func New(s *schema.Schema, opts ...Option) (*Graph, error) {
	g := &Graph{
		schema:      s,
		kinds:       make(map[schema.Kind]schema.KindSpec, len(s.Kinds)),
		entities:    make(map[schema.Kind]map[ID]*Entity, len(s.Kinds)),
		collections: make(map[schema.Kind]*Collection, len(s.Kinds)),
		tokens:      func() string { return uuid.Must(uuid.NewV7()).String() },
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(g)
	}

	g.registry = NewRegistry(s.Kinds...)
	g.registry.notify = g.emit
	g.registry.resolve = g.Resolve
	for _, k := range s.Kinds {
		g.kinds[k.Name] = k
		g.entities[k.Name] = make(map[ID]*Entity)
		g.collections[k.Name] = NewCollection(k.Name, k.OrderBy)
	}
	for _, rel := range s.Relations {
		if err := g.registry.Declare(rel); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Schema returns the schema the graph was built from.
func (g *Graph) Schema() *schema.Schema { return g.schema }

// Registry returns the relation registry.
func (g *Graph) Registry() *Registry { return g.registry }

// Collection returns the collection of kind, or nil if kind is unknown.
func (g *Graph) Collection(kind schema.Kind) *Collection {
	return g.collections[kind]
}

// Subscribe registers fn for every change. The returned function removes
// the subscription.
func (g *Graph) Subscribe(fn func(Change)) (unsubscribe func()) {
	o := &observer{fn: fn, active: true}
	g.observers = append(g.observers, o)
	return func() {
		o.active = false
		for i, x := range g.observers {
			if x == o {
				g.observers = append(g.observers[:i], g.observers[i+1:]...)
				return
			}
		}
	}
}

func (g *Graph) emit(c Change) {
	for _, o := range g.observers {
		if o.active {
			o.fn(c)
		}
	}
}

func (g *Graph) spec(op string, kind schema.Kind) schema.KindSpec {
	k, ok := g.kinds[kind]
	if !ok {
		violate(op, nil, "%v: %s", ErrUnknownKind, kind)
	}
	return k
}

// NewEntity creates a placeholder entity with no identity. It joins no
// collection until Add is called.
func (g *Graph) NewEntity(kind schema.Kind) *Entity {
	g.spec("new", kind)
	return newEntity(g, kind, "", g.tokens())
}

// Lookup returns the entity of kind with the given identity.
func (g *Graph) Lookup(kind schema.Kind, id ID) (*Entity, error) {
	byID, ok := g.entities[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	e, ok := byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s:%s", ErrNotFound, kind, id)
	}
	return e, nil
}

// Resolve returns the entity of kind with the given identity, creating an
// identity-only stub in the identity map if none is known yet. Stubs join
// no collection until fetched or added.
func (g *Graph) Resolve(kind schema.Kind, id ID) *Entity {
	g.spec("resolve", kind)
	if e, ok := g.entities[kind][id]; ok {
		return e
	}
	e := newEntity(g, kind, id, "")
	g.entities[kind][id] = e
	return e
}

// AssignID records the identity the remote store gave a placeholder.
// Identities never change once assigned.
func (g *Graph) AssignID(e *Entity, id ID) error {
	if e.IsPersisted() {
		return fmt.Errorf("assign %s to %s: %w", id, e, ErrAlreadyPersisted)
	}
	if id == "" {
		return fmt.Errorf("assign to %s: empty identity", e)
	}
	if _, taken := g.entities[e.kind][id]; taken {
		return fmt.Errorf("assign %s to %s: %w", id, e, ErrIdentityTaken)
	}

	e.id = id
	g.entities[e.kind][id] = e
	for c := range e.memberOf {
		c.identify(e)
	}
	g.registry.identify(e)
	g.emit(Change{Type: ChangeIdentity, Entity: e, Attr: "id"})
	return nil
}

// Add inserts e into its kind collection. Returns false if already there.
func (g *Graph) Add(e *Entity) bool {
	c := g.collections[e.kind]
	if !c.Add(e) {
		return false
	}
	g.emit(Change{Type: ChangeInsert, Entity: e})
	return true
}

// Delete removes e from its kind collection, every relation and the
// identity map.
func (g *Graph) Delete(e *Entity) {
	g.registry.detach(e)
	if g.collections[e.kind].Remove(e) {
		g.emit(Change{Type: ChangeRemove, Entity: e})
	}
	if e.IsPersisted() && g.entities[e.kind][e.id] == e {
		delete(g.entities[e.kind], e.id)
	}
}

// Payload serializes e for the remote store: its attributes, its identity
// when persisted, and the foreign key of every one_to_many relation whose
// descriptor asks for it.
func (g *Graph) Payload(e *Entity) value.Object {
	out := e.attrs.Clone()
	if e.IsPersisted() {
		out["id"] = value.String(e.id)
	}
	for _, rel := range g.registry.declared {
		if rel.Related != e.kind || rel.ForeignKey == "" {
			continue
		}
		if !rel.IncludeInPayload {
			delete(out, rel.ForeignKey)
			continue
		}
		ref := value.Value(value.Null{})
		if p := g.registry.parents[slotKey{e, rel.Name}]; p != nil {
			ref = p.ref()
		}
		out[rel.ForeignKey] = ref
	}
	return out
}
