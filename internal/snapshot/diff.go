package snapshot

import (
	"github.com/roach88/traceledger/internal/canon"
	"github.com/roach88/traceledger/internal/model"
)

// ValueChange is a modified value.
type ValueChange struct {
	Old canon.Value `json:"old"`
	New canon.Value `json:"new"`
}

// NestedDiff is the key-level diff of two objects. It is never recursive.
type NestedDiff struct {
	Added    map[string]canon.Value `json:"added"`
	Removed  map[string]canon.Value `json:"removed"`
	Modified map[string]ValueChange `json:"modified"`
}

// Change is a modified top-level field. Nested is set when both sides are
// objects.
type Change struct {
	Old    canon.Value `json:"old"`
	New    canon.Value `json:"new"`
	Nested *NestedDiff `json:"nested,omitempty"`
}

// Diff is the structural difference between two snapshots. Unchanged keys
// are omitted.
type Diff struct {
	Entity      model.EntityRef        `json:"entity"`
	FromVersion int64                  `json:"from_version"`
	ToVersion   int64                  `json:"to_version"`
	Added       map[string]canon.Value `json:"added"`
	Removed     map[string]canon.Value `json:"removed"`
	Modified    map[string]Change      `json:"modified"`
}

// Empty reports whether the two sides are identical.
func (d *Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

// Compare diffs a against b by top-level key.
func Compare(a, b canon.Object) *Diff {
	d := &Diff{
		Added:    map[string]canon.Value{},
		Removed:  map[string]canon.Value{},
		Modified: map[string]Change{},
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			d.Removed[k] = av
			continue
		}
		if canon.Equal(av, bv) {
			continue
		}
		c := Change{Old: av, New: bv}
		ao, aObj := av.(canon.Object)
		bo, bObj := bv.(canon.Object)
		if aObj && bObj {
			c.Nested = shallowDiff(ao, bo)
		}
		d.Modified[k] = c
	}
	for k, bv := range b {
		if _, ok := a[k]; !ok {
			d.Added[k] = bv
		}
	}
	return d
}

func shallowDiff(a, b canon.Object) *NestedDiff {
	n := &NestedDiff{
		Added:    map[string]canon.Value{},
		Removed:  map[string]canon.Value{},
		Modified: map[string]ValueChange{},
	}
	for k, av := range a {
		bv, ok := b[k]
		switch {
		case !ok:
			n.Removed[k] = av
		case !canon.Equal(av, bv):
			n.Modified[k] = ValueChange{Old: av, New: bv}
		}
	}
	for k, bv := range b {
		if _, ok := a[k]; !ok {
			n.Added[k] = bv
		}
	}
	return n
}
