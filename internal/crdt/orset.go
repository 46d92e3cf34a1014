package crdt

import (
	"fmt"
	"sort"
)

// ORSet is an observed-remove set of strings. Adds carry a unique tag
// encoding (timestamp, node); removes shadow only the tags observed at
// remove time, so a concurrent add on another node survives the merge.
type ORSet struct {
	adds    map[string]map[string]struct{} // value -> add tags
	removes map[string]map[string]struct{} // value -> removed tags
}

// NewORSet returns an empty set.
func NewORSet() *ORSet {
	return &ORSet{
		adds:    make(map[string]map[string]struct{}),
		removes: make(map[string]map[string]struct{}),
	}
}

func tag(ts int64, node string) string {
	return fmt.Sprintf("%d:%s", ts, node)
}

// Add records v with a fresh (ts, node) tag.
func (s *ORSet) Add(v, node string, ts int64) {
	if s.adds[v] == nil {
		s.adds[v] = make(map[string]struct{})
	}
	s.adds[v][tag(ts, node)] = struct{}{}
}

// Remove shadows every currently observed add tag of v. Tags added after
// this remove (on another node, concurrently) are unaffected.
func (s *ORSet) Remove(v, node string, ts int64) {
	tags := s.adds[v]
	if len(tags) == 0 {
		return
	}
	if s.removes[v] == nil {
		s.removes[v] = make(map[string]struct{})
	}
	for t := range tags {
		s.removes[v][t] = struct{}{}
	}
}

// Contains reports whether v has at least one unshadowed add tag.
func (s *ORSet) Contains(v string) bool {
	for t := range s.adds[v] {
		if _, removed := s.removes[v][t]; !removed {
			return true
		}
	}
	return false
}

// Values returns the present elements in sorted order.
func (s *ORSet) Values() []string {
	var out []string
	for v := range s.adds {
		if s.Contains(v) {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// Merge returns a new set holding the elementwise union of both tag tables.
func (s *ORSet) Merge(other *ORSet) *ORSet {
	out := NewORSet()
	for _, src := range []*ORSet{s, other} {
		if src == nil {
			continue
		}
		for v, tags := range src.adds {
			if out.adds[v] == nil {
				out.adds[v] = make(map[string]struct{})
			}
			for t := range tags {
				out.adds[v][t] = struct{}{}
			}
		}
		for v, tags := range src.removes {
			if out.removes[v] == nil {
				out.removes[v] = make(map[string]struct{})
			}
			for t := range tags {
				out.removes[v][t] = struct{}{}
			}
		}
	}
	return out
}

// Clone returns an independent copy.
func (s *ORSet) Clone() *ORSet {
	return s.Merge(NewORSet())
}

// SetState is the serializable form of an ORSet.
type SetState struct {
	Adds    map[string][]string `json:"adds"`
	Removes map[string][]string `json:"removes,omitempty"`
}

// State exports the tag tables for wire transfer or storage.
func (s *ORSet) State() SetState {
	st := SetState{Adds: make(map[string][]string, len(s.adds))}
	for v, tags := range s.adds {
		st.Adds[v] = sortedTags(tags)
	}
	if len(s.removes) > 0 {
		st.Removes = make(map[string][]string, len(s.removes))
		for v, tags := range s.removes {
			st.Removes[v] = sortedTags(tags)
		}
	}
	return st
}

// SetFromState rebuilds an ORSet from its serialized form.
func SetFromState(st SetState) *ORSet {
	s := NewORSet()
	for v, tags := range st.Adds {
		s.adds[v] = make(map[string]struct{}, len(tags))
		for _, t := range tags {
			s.adds[v][t] = struct{}{}
		}
	}
	for v, tags := range st.Removes {
		s.removes[v] = make(map[string]struct{}, len(tags))
		for _, t := range tags {
			s.removes[v][t] = struct{}{}
		}
	}
	return s
}

func sortedTags(tags map[string]struct{}) []string {
	out := make([]string, 0, len(tags))
	for t := range tags {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
