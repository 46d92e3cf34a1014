// Package crdt implements the state-based CRDT primitives the plan
// synchronizer is built from: vector clocks, last-writer-wins registers,
// observed-remove sets, and their composition into a plan item.
//
// All merges are commutative, associative, and idempotent, so two nodes that
// have seen the same set of updates converge regardless of order.
package crdt

// Ordering is the result of comparing two vector clocks.
type Ordering int

const (
	Before Ordering = iota
	After
	Equal
	Concurrent
)

func (o Ordering) String() string {
	switch o {
	case Before:
		return "before"
	case After:
		return "after"
	case Equal:
		return "equal"
	default:
		return "concurrent"
	}
}

// VectorClock is a per-node logical counter map tagged with the owning node.
type VectorClock struct {
	Node    string            `json:"node"`
	Entries map[string]uint64 `json:"entries"`
}

// NewVectorClock returns an empty clock owned by node.
func NewVectorClock(node string) *VectorClock {
	return &VectorClock{Node: node, Entries: make(map[string]uint64)}
}

// FromEntries builds a clock owned by node from a plain entry map (wire shape).
func FromEntries(node string, entries map[string]uint64) *VectorClock {
	vc := NewVectorClock(node)
	for k, v := range entries {
		vc.Entries[k] = v
	}
	return vc
}

// Increment bumps the owning node's counter and returns the clock.
func (vc *VectorClock) Increment() *VectorClock {
	vc.Entries[vc.Node]++
	return vc
}

// Merge folds other into vc entrywise (max). The owning node is unchanged.
func (vc *VectorClock) Merge(other *VectorClock) {
	if other == nil {
		return
	}
	for node, n := range other.Entries {
		if n > vc.Entries[node] {
			vc.Entries[node] = n
		}
	}
}

// Compare orders vc against other causally.
func (vc *VectorClock) Compare(other *VectorClock) Ordering {
	lessSomewhere := false
	greaterSomewhere := false
	for node := range union(vc.Entries, other.Entries) {
		a := vc.Entries[node]
		b := other.Entries[node]
		if a < b {
			lessSomewhere = true
		} else if a > b {
			greaterSomewhere = true
		}
	}
	switch {
	case lessSomewhere && greaterSomewhere:
		return Concurrent
	case lessSomewhere:
		return Before
	case greaterSomewhere:
		return After
	default:
		return Equal
	}
}

// ConcurrentWith reports whether neither clock causally precedes the other.
func (vc *VectorClock) ConcurrentWith(other *VectorClock) bool {
	return vc.Compare(other) == Concurrent
}

// Clone returns an independent copy with the same owner and entries.
func (vc *VectorClock) Clone() *VectorClock {
	return FromEntries(vc.Node, vc.Entries)
}

// Snapshot returns a copy of the entry map (wire shape).
func (vc *VectorClock) Snapshot() map[string]uint64 {
	out := make(map[string]uint64, len(vc.Entries))
	for k, v := range vc.Entries {
		out[k] = v
	}
	return out
}

func union(a, b map[string]uint64) map[string]struct{} {
	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}
	return keys
}
