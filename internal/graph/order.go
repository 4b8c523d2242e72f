package graph

import (
	"cmp"
	"strings"
	"time"

	"github.com/openplans/newark2.0/internal/value"
)

// Order attribute ranks. Timestamps sort before plain numbers, numbers
// before free text, and entities without a usable value sort last.
const (
	rankTime = iota
	rankNumber
	rankText
	rankMissing
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// sortKey is the cached position of one collection item.
type sortKey struct {
	rank int
	t    int64
	f    float64
	s    string
	seq  int64
}

func keyOf(v value.Value, ok bool, seq int64) sortKey {
	k := sortKey{rank: rankMissing, seq: seq}
	if !ok {
		return k
	}
	switch x := v.(type) {
	case value.String:
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, string(x)); err == nil {
				k.rank, k.t = rankTime, ts.UnixNano()
				return k
			}
		}
		k.rank, k.s = rankText, string(x)
	case value.Int:
		k.rank, k.f = rankNumber, float64(x)
	case value.Float:
		k.rank, k.f = rankNumber, float64(x)
	}
	return k
}

func compareKeys(a, b sortKey) int {
	if c := cmp.Compare(a.rank, b.rank); c != 0 {
		return c
	}
	var c int
	switch a.rank {
	case rankTime:
		c = cmp.Compare(a.t, b.t)
	case rankNumber:
		c = cmp.Compare(a.f, b.f)
	case rankText:
		c = strings.Compare(a.s, b.s)
	}
	if c != 0 {
		return c
	}
	return cmp.Compare(a.seq, b.seq)
}
