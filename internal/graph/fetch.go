package graph

import (
	"fmt"
	"sort"

	"github.com/openplans/newark2.0/internal/schema"
	"github.com/openplans/newark2.0/internal/value"
)

// record is one validated row of a fetched listing.
type record struct {
	id    ID
	attrs value.Object
	links []link
}

type link struct {
	attr string
	v    value.Value
}

// ApplyFetch merges a fetched listing into the collection of kind.
//
// The whole listing is validated before anything is touched; on error the
// graph is unchanged. Records are upserted by identity. For transient
// kinds the collection is replaced: members absent from the listing are
// dropped from the collection and the identity map.
func (g *Graph) ApplyFetch(kind schema.Kind, rows []value.Object) error {
	spec, ok := g.kinds[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	records, err := g.plan(kind, rows)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", kind, err)
	}

	seen := make(map[*Entity]struct{}, len(records))
	for _, rec := range records {
		seen[g.upsert(kind, rec)] = struct{}{}
	}

	if spec.Transient {
		for _, e := range g.collections[kind].Entities() {
			if _, ok := seen[e]; !ok {
				g.Delete(e)
			}
		}
	}

	g.logger.Debug("fetch applied",
		"kind", kind,
		"records", len(records),
		"size", g.collections[kind].Len())
	return nil
}

func (g *Graph) plan(kind schema.Kind, rows []value.Object) ([]record, error) {
	records := make([]record, 0, len(rows))
	ids := make(map[ID]int, len(rows))

	for i, row := range rows {
		raw, ok := row["id"]
		if !ok {
			return nil, fmt.Errorf("%w: row %d: missing id", ErrInvalidRecord, i)
		}
		id, isNull, ok := idOf(raw)
		if !ok || isNull {
			return nil, fmt.Errorf("%w: row %d: malformed id %v", ErrInvalidRecord, i, raw)
		}
		if prev, dup := ids[id]; dup {
			return nil, fmt.Errorf("%w: row %d: duplicate id %s (row %d)", ErrInvalidRecord, i, id, prev)
		}
		ids[id] = i

		rec := record{id: id, attrs: value.Object{}}
		for _, name := range row.SortedKeys() {
			if name == "id" {
				continue
			}
			v := row[name]
			rel, isRel := g.registry.Relation(kind, name)
			if !isRel {
				rec.attrs[name] = v
				continue
			}
			if err := checkRelationValue(kind, name, rel, v); err != nil {
				return nil, fmt.Errorf("%w: row %d: %w", ErrInvalidRecord, i, err)
			}
			rec.links = append(rec.links, link{attr: name, v: v})
		}
		// Foreign key and reverse key name the same link; keep one, the
		// foreign key wins.
		sort.SliceStable(rec.links, func(a, b int) bool {
			return linkRank(g.registry, kind, rec.links[a].attr) < linkRank(g.registry, kind, rec.links[b].attr)
		})
		rec.links = dedupeLinks(g.registry, kind, rec.links)
		records = append(records, rec)
	}
	return records, nil
}

func linkRank(r *Registry, kind schema.Kind, attr string) int {
	if _, ok := r.foreignKey[kindKey{kind, attr}]; ok {
		return 0
	}
	return 1
}

func dedupeLinks(r *Registry, kind schema.Kind, links []link) []link {
	seen := make(map[string]bool, len(links))
	out := links[:0]
	for _, l := range links {
		rel, _ := r.Relation(kind, l.attr)
		if seen[rel.Name] {
			continue
		}
		seen[rel.Name] = true
		out = append(out, l)
	}
	return out
}

func checkRelationValue(kind schema.Kind, attr string, rel schema.Relation, v value.Value) error {
	manyValued := (rel.Owner == kind && rel.Key == attr) || rel.Multiplicity == schema.ManyToMany
	if !manyValued {
		if _, _, ok := idOf(v); !ok {
			return fmt.Errorf("%s: malformed identity %v", attr, v)
		}
		return nil
	}
	if _, isNull := v.(value.Null); isNull {
		return nil
	}
	arr, ok := v.(value.Array)
	if !ok {
		return fmt.Errorf("%s: expected an array of identities", attr)
	}
	for j, el := range arr {
		if _, isNull, ok := idOf(el); !ok || isNull {
			return fmt.Errorf("%s[%d]: malformed identity %v", attr, j, el)
		}
	}
	return nil
}

func (g *Graph) upsert(kind schema.Kind, rec record) *Entity {
	e, ok := g.entities[kind][rec.id]
	if !ok {
		e = newEntity(g, kind, rec.id, "")
		g.entities[kind][rec.id] = e
	}
	for _, name := range rec.attrs.SortedKeys() {
		e.setPlain(name, rec.attrs[name])
	}
	g.Add(e)
	for _, l := range rec.links {
		e.Set(l.attr, l.v)
	}
	return e
}
