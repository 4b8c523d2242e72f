package graph

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/openplans/newark2.0/internal/schema"
	"github.com/openplans/newark2.0/internal/value"
)

type kindKey struct {
	kind schema.Kind
	key  string
}

type slotKey struct {
	owner *Entity
	key   string
}

// Registry owns the link metadata of every declared relation.
//
// Relations are resolved through explicit lookup tables keyed by
// (kind, key): the forward key on the owner kind, the reverse key on the
// related kind for reciprocal relations, and the foreign-key attribute on
// the related kind. The Registry never owns entities; its slots hold
// pointers to entities that live in the Graph's identity map.
type Registry struct {
	kinds map[schema.Kind]schema.KindSpec

	forward    map[kindKey]schema.Relation
	reverse    map[kindKey]schema.Relation
	foreignKey map[kindKey]schema.Relation
	declared   []schema.Relation

	slots   map[slotKey]*Collection
	parents map[slotKey]*Entity

	notify  func(Change)
	resolve func(schema.Kind, ID) *Entity
}

// NewRegistry creates a registry that accepts relations between kinds.
func NewRegistry(kinds ...schema.KindSpec) *Registry {
	r := &Registry{
		kinds:      make(map[schema.Kind]schema.KindSpec, len(kinds)),
		forward:    make(map[kindKey]schema.Relation),
		reverse:    make(map[kindKey]schema.Relation),
		foreignKey: make(map[kindKey]schema.Relation),
		slots:      make(map[slotKey]*Collection),
		parents:    make(map[slotKey]*Entity),
	}
	for _, k := range kinds {
		r.kinds[k.Name] = k
	}
	return r
}

// Declare registers a relation. A relation with a reverse key is
// reciprocal; without one it is membership-only and the related entity
// keeps no record of its owners.
func (r *Registry) Declare(rel schema.Relation) error {
	if _, ok := r.kinds[rel.Owner]; !ok {
		return fmt.Errorf("declare %s: %w: %s", rel.Name, ErrUnknownKind, rel.Owner)
	}
	if _, ok := r.kinds[rel.Related]; !ok {
		return fmt.Errorf("declare %s: %w: %s", rel.Name, ErrUnknownKind, rel.Related)
	}
	if rel.Multiplicity != schema.OneToMany && rel.Multiplicity != schema.ManyToMany {
		return fmt.Errorf("declare %s: invalid multiplicity %q", rel.Name, rel.Multiplicity)
	}
	if rel.ForeignKey != "" && (!rel.Reciprocal() || rel.Multiplicity != schema.OneToMany) {
		return fmt.Errorf("declare %s: foreign key requires a reciprocal one_to_many relation", rel.Name)
	}

	claims := []kindKey{{rel.Owner, rel.Key}}
	if rel.Reciprocal() {
		claims = append(claims, kindKey{rel.Related, rel.ReverseKey})
	}
	if rel.ForeignKey != "" {
		claims = append(claims, kindKey{rel.Related, rel.ForeignKey})
	}
	for i, k := range claims {
		if r.claimed(k) || slices.Contains(claims[:i], k) {
			return fmt.Errorf("declare %s: key %q already declared on %s", rel.Name, k.key, k.kind)
		}
	}

	r.forward[claims[0]] = rel
	if rel.Reciprocal() {
		r.reverse[kindKey{rel.Related, rel.ReverseKey}] = rel
	}
	if rel.ForeignKey != "" {
		r.foreignKey[kindKey{rel.Related, rel.ForeignKey}] = rel
	}
	r.declared = append(r.declared, rel)
	return nil
}

func (r *Registry) claimed(k kindKey) bool {
	_, f := r.forward[k]
	_, rv := r.reverse[k]
	_, fk := r.foreignKey[k]
	return f || rv || fk
}

// Relations returns the declared relations in declaration order.
func (r *Registry) Relations() []schema.Relation {
	return slices.Clone(r.declared)
}

// Relation looks up the relation reachable from kind under key, whether
// key is the forward key, the reverse key or the foreign-key attribute.
func (r *Registry) Relation(kind schema.Kind, key string) (schema.Relation, bool) {
	k := kindKey{kind, key}
	if rel, ok := r.forward[k]; ok {
		return rel, true
	}
	if rel, ok := r.reverse[k]; ok {
		return rel, true
	}
	rel, ok := r.foreignKey[k]
	return rel, ok
}

// orient maps (a, key, b) onto (owner, member) of the relation. Keys on
// the related side swap the operands.
func (r *Registry) orient(op string, a *Entity, key string, b *Entity) (schema.Relation, *Entity, *Entity) {
	if a == nil || b == nil {
		violate(op, a, "nil entity for key %q", key)
	}
	k := kindKey{a.kind, key}
	if rel, ok := r.forward[k]; ok {
		r.checkKinds(op, rel, a, b)
		return rel, a, b
	}
	if rel, ok := r.reverse[k]; ok {
		r.checkKinds(op, rel, b, a)
		return rel, b, a
	}
	violate(op, a, "no relation %q declared on kind %s", key, a.kind)
	return schema.Relation{}, nil, nil
}

func (r *Registry) checkKinds(op string, rel schema.Relation, owner, member *Entity) {
	if owner.kind != rel.Owner || member.kind != rel.Related {
		violate(op, owner, "relation %s links %s to %s, got %s", rel.Name, rel.Owner, rel.Related, member)
	}
}

// AddMember links member into owner's key set. The call is idempotent:
// if the link exists nothing changes and false is returned. For
// reciprocal relations the reverse side is updated too, and key may also
// name the reverse key (AddMember(reply, "proposal", proposal)).
func (r *Registry) AddMember(owner *Entity, key string, member *Entity) bool {
	rel, o, m := r.orient("add", owner, key, member)
	return r.link(rel, o, m)
}

// RemoveMember unlinks member from owner's key set. Idempotent; returns
// false if there was nothing to remove.
func (r *Registry) RemoveMember(owner *Entity, key string, member *Entity) bool {
	rel, o, m := r.orient("remove", owner, key, member)
	return r.unlink(rel, o, m)
}

// Contains reports whether member is in owner's key set.
func (r *Registry) Contains(owner *Entity, key string, member *Entity) bool {
	rel, o, m := r.orient("contains", owner, key, member)
	return r.linked(rel, o, m)
}

// Members returns the entities linked to e under key, in collection order.
func (r *Registry) Members(e *Entity, key string) []*Entity {
	k := kindKey{e.kind, key}
	if rel, ok := r.forward[k]; ok {
		if slot := r.slots[slotKey{e, rel.Key}]; slot != nil {
			return slot.Entities()
		}
		return nil
	}
	if rel, ok := r.reverse[k]; ok {
		if rel.Multiplicity == schema.OneToMany {
			if p := r.parents[slotKey{e, rel.Name}]; p != nil {
				return []*Entity{p}
			}
			return nil
		}
		if slot := r.slots[slotKey{e, rel.ReverseKey}]; slot != nil {
			return slot.Entities()
		}
		return nil
	}
	violate("members", e, "no relation %q declared on kind %s", key, e.kind)
	return nil
}

// Related returns the live slot collection of e under a forward key,
// creating it empty if needed. The collection must not be mutated
// directly; use AddMember and RemoveMember.
func (r *Registry) Related(e *Entity, key string) *Collection {
	rel, ok := r.forward[kindKey{e.kind, key}]
	if !ok {
		violate("related", e, "no forward relation %q declared on kind %s", key, e.kind)
	}
	return r.slot(e, rel.Key, rel.Related)
}

// Parent returns the owner of child through a one_to_many relation,
// named by its reverse key.
func (r *Registry) Parent(child *Entity, reverseKey string) (*Entity, bool) {
	rel, ok := r.reverse[kindKey{child.kind, reverseKey}]
	if !ok || rel.Multiplicity != schema.OneToMany {
		violate("parent", child, "no one_to_many reverse key %q declared on kind %s", reverseKey, child.kind)
	}
	p := r.parents[slotKey{child, rel.Name}]
	return p, p != nil
}

func (r *Registry) slot(owner *Entity, key string, kind schema.Kind) *Collection {
	sk := slotKey{owner, key}
	if c := r.slots[sk]; c != nil {
		return c
	}
	c := NewCollection(kind, r.kinds[kind].OrderBy)
	c.owner, c.key = owner, key
	r.slots[sk] = c
	return c
}

func (r *Registry) linked(rel schema.Relation, owner, member *Entity) bool {
	slot := r.slots[slotKey{owner, rel.Key}]
	return slot != nil && slot.Contains(member)
}

func (r *Registry) link(rel schema.Relation, owner, member *Entity) bool {
	if r.linked(rel, owner, member) {
		return false
	}
	if rel.Multiplicity == schema.OneToMany {
		if p := r.parents[slotKey{member, rel.Name}]; p != nil && p != owner {
			violate("add", member, "already owned by %s through %s", p, rel.Name)
		}
	}

	r.slot(owner, rel.Key, rel.Related).Add(member)
	if rel.Multiplicity == schema.OneToMany {
		r.parents[slotKey{member, rel.Name}] = owner
	} else if rel.Reciprocal() {
		rs := r.slot(member, rel.ReverseKey, rel.Owner)
		if !rs.Contains(owner) {
			rs.Add(owner)
		}
	}
	if rel.ForeignKey != "" {
		member.attrs[rel.ForeignKey] = owner.ref()
	}

	r.emit(Change{Type: ChangeLink, Entity: owner, Attr: rel.Key, Member: member})
	return true
}

func (r *Registry) unlink(rel schema.Relation, owner, member *Entity) bool {
	if !r.linked(rel, owner, member) {
		return false
	}

	r.slots[slotKey{owner, rel.Key}].Remove(member)
	if rel.Multiplicity == schema.OneToMany {
		delete(r.parents, slotKey{member, rel.Name})
	} else if rel.Reciprocal() {
		if rs := r.slots[slotKey{member, rel.ReverseKey}]; rs != nil && rs.Contains(owner) {
			rs.Remove(owner)
		}
	}
	if rel.ForeignKey != "" {
		member.attrs[rel.ForeignKey] = value.Null{}
	}

	r.emit(Change{Type: ChangeUnlink, Entity: owner, Attr: rel.Key, Member: member})
	return true
}

// setRelation handles Entity.Set on a relation-typed attribute. It reports
// false when attr is a plain attribute.
func (r *Registry) setRelation(e *Entity, attr string, v value.Value) bool {
	k := kindKey{e.kind, attr}
	if rel, ok := r.forward[k]; ok {
		r.reconcile(rel, e, v)
		return true
	}
	rel, ok := r.reverse[k]
	if !ok {
		rel, ok = r.foreignKey[k]
	}
	if !ok {
		return false
	}
	if rel.Multiplicity != schema.OneToMany {
		// Reverse side of a many_to_many relation: a set of owners.
		r.reconcileOwners(rel, e, v)
		return true
	}
	r.reparent(rel, e, v)
	return true
}

func (r *Registry) reparent(rel schema.Relation, child *Entity, v value.Value) {
	id, isNull, ok := idOf(v)
	if !ok {
		violate("set", child, "%s expects an identity, got %T", rel.Name, v)
	}
	old := r.parents[slotKey{child, rel.Name}]
	var next *Entity
	if !isNull {
		next = r.resolve(rel.Owner, id)
	}
	if old == next {
		return
	}
	if old != nil {
		r.unlink(rel, old, child)
	}
	if next != nil {
		r.link(rel, next, child)
	}
}

// reconcile makes owner's key set exactly the identities listed in v.
func (r *Registry) reconcile(rel schema.Relation, owner *Entity, v value.Value) {
	want := r.resolveAll(rel, owner, rel.Related, v)
	keep := make(map[*Entity]bool, len(want))
	for _, m := range want {
		keep[m] = true
	}
	if slot := r.slots[slotKey{owner, rel.Key}]; slot != nil {
		for _, m := range slot.Entities() {
			if !keep[m] {
				r.unlink(rel, owner, m)
			}
		}
	}
	for _, m := range want {
		if rel.Multiplicity == schema.OneToMany {
			if p := r.parents[slotKey{m, rel.Name}]; p != nil && p != owner {
				r.unlink(rel, p, m)
			}
		}
		r.link(rel, owner, m)
	}
}

func (r *Registry) reconcileOwners(rel schema.Relation, member *Entity, v value.Value) {
	want := r.resolveAll(rel, member, rel.Owner, v)
	keep := make(map[*Entity]bool, len(want))
	for _, o := range want {
		keep[o] = true
	}
	if slot := r.slots[slotKey{member, rel.ReverseKey}]; slot != nil {
		for _, o := range slot.Entities() {
			if !keep[o] {
				r.unlink(rel, o, member)
			}
		}
	}
	for _, o := range want {
		r.link(rel, o, member)
	}
}

func (r *Registry) resolveAll(rel schema.Relation, e *Entity, kind schema.Kind, v value.Value) []*Entity {
	if _, ok := v.(value.Null); ok || v == nil {
		return nil
	}
	arr, ok := v.(value.Array)
	if !ok {
		violate("set", e, "%s expects an array of identities, got %T", rel.Name, v)
	}
	out := make([]*Entity, 0, len(arr))
	for _, el := range arr {
		id, isNull, ok := idOf(el)
		if !ok || isNull {
			violate("set", e, "%s expects identities, got %T", rel.Name, el)
		}
		out = append(out, r.resolve(kind, id))
	}
	return out
}

// identify refreshes foreign keys that point at e once it has an identity.
func (r *Registry) identify(e *Entity) {
	for _, rel := range r.declared {
		if rel.Owner != e.kind || rel.ForeignKey == "" {
			continue
		}
		if slot := r.slots[slotKey{e, rel.Key}]; slot != nil {
			for _, child := range slot.Entities() {
				child.attrs[rel.ForeignKey] = e.ref()
			}
		}
	}
}

// detach removes every link that references e.
func (r *Registry) detach(e *Entity) {
	for _, rel := range r.declared {
		if rel.Owner == e.kind {
			if slot := r.slots[slotKey{e, rel.Key}]; slot != nil {
				for _, m := range slot.Entities() {
					r.unlink(rel, e, m)
				}
				delete(r.slots, slotKey{e, rel.Key})
			}
		}
		if rel.Related != e.kind {
			continue
		}
		if p := r.parents[slotKey{e, rel.Name}]; p != nil {
			r.unlink(rel, p, e)
		}
	}
	// Membership-only slots keep no reverse index; walk e's collections.
	for c := range e.memberOf {
		if c.owner == nil {
			continue
		}
		if rel, ok := r.forward[kindKey{c.owner.kind, c.key}]; ok {
			r.unlink(rel, c.owner, e)
		}
	}
	for _, rel := range r.declared {
		if rel.Related == e.kind && rel.Reciprocal() && rel.Multiplicity == schema.ManyToMany {
			delete(r.slots, slotKey{e, rel.ReverseKey})
		}
	}
}

// Check walks every slot and reports reciprocal-consistency violations.
// A consistent registry returns nil.
func (r *Registry) Check() []error {
	var errs []error
	for sk, slot := range r.slots {
		rel, forward := r.forward[kindKey{sk.owner.kind, sk.key}]
		if !forward {
			rel = r.reverse[kindKey{sk.owner.kind, sk.key}]
		}
		for _, m := range slot.Entities() {
			if !forward {
				if !r.linked(rel, m, sk.owner) {
					errs = append(errs, fmt.Errorf("%s: %s lists owner %s which does not list it", rel.Name, sk.owner, m))
				}
				continue
			}
			switch {
			case rel.Multiplicity == schema.OneToMany:
				if p := r.parents[slotKey{m, rel.Name}]; p != sk.owner {
					errs = append(errs, fmt.Errorf("%s: %s is in %s but its parent is %v", rel.Name, m, sk.owner, p))
				}
			case rel.Reciprocal():
				rs := r.slots[slotKey{m, rel.ReverseKey}]
				if rs == nil || !rs.Contains(sk.owner) {
					errs = append(errs, fmt.Errorf("%s: %s is in %s but not reciprocated", rel.Name, m, sk.owner))
				}
			}
			if rel.ForeignKey != "" && !value.Equal(m.attrs[rel.ForeignKey], sk.owner.ref()) {
				errs = append(errs, fmt.Errorf("%s: %s.%s does not match %s", rel.Name, m, rel.ForeignKey, sk.owner))
			}
		}
	}
	for pk, p := range r.parents {
		var rel schema.Relation
		for _, d := range r.declared {
			if d.Name == pk.key {
				rel = d
			}
		}
		if !r.linked(rel, p, pk.owner) {
			errs = append(errs, fmt.Errorf("%s: %s names parent %s which does not list it", pk.key, pk.owner, p))
		}
	}
	return errs
}

func (r *Registry) emit(c Change) {
	if r.notify != nil {
		r.notify(c)
	}
}

func (r *Registry) getRelation(e *Entity, attr string) (value.Value, bool) {
	k := kindKey{e.kind, attr}
	if _, ok := r.forward[k]; ok {
		return refs(r.Members(e, attr)), true
	}
	rel, ok := r.reverse[k]
	if !ok {
		return nil, false
	}
	if rel.Multiplicity == schema.OneToMany {
		if p := r.parents[slotKey{e, rel.Name}]; p != nil {
			return p.ref(), true
		}
		return value.Null{}, true
	}
	return refs(r.Members(e, attr)), true
}

func refs(es []*Entity) value.Array {
	out := make(value.Array, 0, len(es))
	for _, e := range es {
		if e.IsPersisted() {
			out = append(out, value.String(e.id))
		}
	}
	return out
}

// idOf reads an identity from a relation value: a string, an integer or
// an embedded object carrying "id". Null means "no entity".
func idOf(v value.Value) (id ID, isNull bool, ok bool) {
	switch x := v.(type) {
	case nil, value.Null:
		return "", true, true
	case value.String:
		return ID(x), false, x != ""
	case value.Int:
		return ID(strconv.FormatInt(int64(x), 10)), false, true
	case value.Object:
		inner, has := x["id"]
		if !has {
			return "", false, false
		}
		if _, nested := inner.(value.Object); nested {
			return "", false, false
		}
		return idOf(inner)
	}
	return "", false, false
}
