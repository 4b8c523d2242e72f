package graph

import (
	"iter"
	"slices"

	"github.com/openplans/newark2.0/internal/schema"
)

type item struct {
	e   *Entity
	key sortKey
}

// Collection is an ordered set of entities of one kind.
//
// Items are kept sorted by the order attribute ascending, ties broken by
// the sequence in which they were inserted into this collection. The sort
// is maintained eagerly: every Add, Remove and every change of an item's
// order attribute leaves the collection sorted.
//
// A Collection is either a kind collection owned by the Graph or a relation
// slot owned by the Registry; slots remember their owner and key.
type Collection struct {
	kind    schema.Kind
	orderBy string

	items []*item
	index map[*Entity]*item
	byID  map[ID]*Entity
	seq   int64

	// owner and key are set for relation slots only.
	owner *Entity
	key   string
}

// NewCollection creates an empty collection for kind, ordered by orderBy.
func NewCollection(kind schema.Kind, orderBy string) *Collection {
	return &Collection{
		kind:    kind,
		orderBy: orderBy,
		index:   make(map[*Entity]*item),
		byID:    make(map[ID]*Entity),
	}
}

// Kind returns the kind of entities stored in the collection.
func (c *Collection) Kind() schema.Kind { return c.kind }

// OrderBy returns the order attribute.
func (c *Collection) OrderBy() string { return c.orderBy }

// Len returns the number of entities.
func (c *Collection) Len() int { return len(c.items) }

// Contains reports whether e is a member.
func (c *Collection) Contains(e *Entity) bool {
	_, ok := c.index[e]
	return ok
}

// Get returns the member with the given identity.
func (c *Collection) Get(id ID) (*Entity, bool) {
	e, ok := c.byID[id]
	return e, ok
}

// Add inserts e at its sorted position. Returns false if e is already a
// member or belongs to another kind.
func (c *Collection) Add(e *Entity) bool {
	if e == nil || e.kind != c.kind {
		return false
	}
	if _, ok := c.index[e]; ok {
		return false
	}
	c.seq++
	v, ok := e.attrs[c.orderBy]
	it := &item{e: e, key: keyOf(v, ok, c.seq)}
	pos, _ := slices.BinarySearchFunc(c.items, it.key, func(x *item, k sortKey) int {
		return compareKeys(x.key, k)
	})
	c.items = slices.Insert(c.items, pos, it)
	c.index[e] = it
	if e.id != "" {
		c.byID[e.id] = e
	}
	e.memberOf[c] = struct{}{}
	return true
}

// Remove drops e. Returns false if e was not a member.
func (c *Collection) Remove(e *Entity) bool {
	it, ok := c.index[e]
	if !ok {
		return false
	}
	if i := c.position(it); i >= 0 {
		c.items = slices.Delete(c.items, i, i+1)
	}
	delete(c.index, e)
	if e.id != "" {
		delete(c.byID, e.id)
	}
	delete(e.memberOf, c)
	return true
}

// All returns a lazy, restartable iterator over the members in order.
//
// Nothing is copied up front. Each step yields the first member ordered
// strictly after the previously yielded one in the collection as it is at
// that moment, so entities added, removed or re-sorted while iterating are
// observed exactly as a fresh walk from that point would see them.
func (c *Collection) All() iter.Seq[*Entity] {
	return func(yield func(*Entity) bool) {
		var last sortKey
		started := false
		for {
			i := 0
			if started {
				i = c.after(last)
			}
			if i >= len(c.items) {
				return
			}
			it := c.items[i]
			last, started = it.key, true
			if !yield(it.e) {
				return
			}
		}
	}
}

// Entities returns a snapshot of the members in order.
func (c *Collection) Entities() []*Entity {
	out := make([]*Entity, len(c.items))
	for i, it := range c.items {
		out[i] = it.e
	}
	return out
}

// reorder recomputes e's position after its order attribute changed.
func (c *Collection) reorder(e *Entity) {
	it, ok := c.index[e]
	if !ok {
		return
	}
	if i := c.position(it); i >= 0 {
		c.items = slices.Delete(c.items, i, i+1)
	}
	v, has := e.attrs[c.orderBy]
	it.key = keyOf(v, has, it.key.seq)
	pos, _ := slices.BinarySearchFunc(c.items, it.key, func(x *item, k sortKey) int {
		return compareKeys(x.key, k)
	})
	c.items = slices.Insert(c.items, pos, it)
}

// identify indexes e under its newly assigned identity.
func (c *Collection) identify(e *Entity) {
	if _, ok := c.index[e]; ok {
		c.byID[e.id] = e
	}
}

func (c *Collection) position(it *item) int {
	i, found := slices.BinarySearchFunc(c.items, it.key, func(x *item, k sortKey) int {
		return compareKeys(x.key, k)
	})
	if found && c.items[i] == it {
		return i
	}
	return slices.Index(c.items, it)
}

func (c *Collection) after(k sortKey) int {
	i, found := slices.BinarySearchFunc(c.items, k, func(x *item, k sortKey) int {
		return compareKeys(x.key, k)
	})
	if found {
		i++
	}
	return i
}
