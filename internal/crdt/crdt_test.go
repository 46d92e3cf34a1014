package crdt

import (
	"reflect"
	"testing"

	"github.com/jaakkos/meshwork/internal/domain"
)

func TestVectorClock_Compare(t *testing.T) {
	a := NewVectorClock("n1")
	b := NewVectorClock("n2")

	if got := a.Compare(b); got != Equal {
		t.Errorf("empty clocks compare = %v, want equal", got)
	}

	a.Increment()
	if got := a.Compare(b); got != After {
		t.Errorf("incremented vs empty = %v, want after", got)
	}
	if got := b.Compare(a); got != Before {
		t.Errorf("empty vs incremented = %v, want before", got)
	}

	b.Increment()
	if got := a.Compare(b); got != Concurrent {
		t.Errorf("independent increments = %v, want concurrent", got)
	}
	if !a.ConcurrentWith(b) {
		t.Error("ConcurrentWith = false, want true")
	}
}

func TestVectorClock_MergeMakesComparable(t *testing.T) {
	a := NewVectorClock("n1")
	b := NewVectorClock("n2")
	a.Increment()
	b.Increment()

	a.Merge(b)
	if got := a.Compare(b); got != After {
		t.Errorf("merged vs source = %v, want after", got)
	}

	// Merge is idempotent.
	before := a.Snapshot()
	a.Merge(b)
	if !reflect.DeepEqual(a.Snapshot(), before) {
		t.Errorf("second merge changed entries: %v != %v", a.Snapshot(), before)
	}
}

func TestVectorClock_MergeCommutative(t *testing.T) {
	a := FromEntries("n1", map[string]uint64{"n1": 3, "n2": 1})
	b := FromEntries("n2", map[string]uint64{"n2": 4, "n3": 2})

	ab := a.Clone()
	ab.Merge(b)
	ba := b.Clone()
	ba.Merge(a)

	if !reflect.DeepEqual(ab.Snapshot(), ba.Snapshot()) {
		t.Errorf("merge not commutative: %v != %v", ab.Snapshot(), ba.Snapshot())
	}
	want := map[string]uint64{"n1": 3, "n2": 4, "n3": 2}
	if !reflect.DeepEqual(ab.Snapshot(), want) {
		t.Errorf("merged entries = %v, want %v", ab.Snapshot(), want)
	}
}

func TestRegister_LaterTimestampWins(t *testing.T) {
	r := NewRegister("")
	if !r.Set("first", "n1", 100) {
		t.Fatal("initial write rejected")
	}
	if r.Set("stale", "n2", 50) {
		t.Error("older write accepted")
	}
	if r.Value != "first" {
		t.Errorf("value = %q, want first", r.Value)
	}
	if !r.Set("second", "n1", 200) {
		t.Error("newer write rejected")
	}
	if r.Value != "second" {
		t.Errorf("value = %q, want second", r.Value)
	}
}

func TestRegister_NodeBreaksTimestampTie(t *testing.T) {
	a := NewRegister("")
	a.Set("from-n1", "n1", 100)
	b := NewRegister("")
	b.Set("from-n2", "n2", 100)

	ab := a.Clone()
	ab.Merge(b)
	ba := b.Clone()
	ba.Merge(a)

	if ab.Value != "from-n2" || ba.Value != "from-n2" {
		t.Errorf("tie-break values = %q / %q, want from-n2 on both", ab.Value, ba.Value)
	}
}

func TestRegister_MergeIdempotent(t *testing.T) {
	a := NewRegister("")
	a.Set("x", "n1", 100)
	b := a.Clone()
	a.Merge(b)
	a.Merge(b)
	if a.Value != "x" || a.Timestamp != 100 || a.Node != "n1" {
		t.Errorf("register drifted after self-merge: %+v", a)
	}
}

func TestORSet_AddRemove(t *testing.T) {
	s := NewORSet()
	s.Add("a", "n1", 100)
	s.Add("b", "n1", 101)
	if !s.Contains("a") || !s.Contains("b") {
		t.Fatalf("values = %v, want [a b]", s.Values())
	}
	s.Remove("a", "n1", 102)
	if s.Contains("a") {
		t.Error("removed element still present")
	}
	if got := s.Values(); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("values = %v, want [b]", got)
	}
	// Removing an element never observed is a no-op.
	s.Remove("ghost", "n1", 103)
	if s.Contains("ghost") {
		t.Error("remove of unobserved element created state")
	}
}

func TestORSet_ConcurrentAddSurvivesRemove(t *testing.T) {
	// Both nodes observe the add at t=100. n1 removes it, n2 concurrently
	// re-adds it with a fresh tag; the re-add must survive the merge.
	n1 := NewORSet()
	n1.Add("x", "n1", 100)
	n2 := n1.Clone()

	n1.Remove("x", "n1", 200)
	n2.Add("x", "n2", 200)

	merged := n1.Merge(n2)
	if !merged.Contains("x") {
		t.Error("concurrent add did not survive remove")
	}
	// And in the other merge order.
	merged2 := n2.Merge(n1)
	if !reflect.DeepEqual(merged.Values(), merged2.Values()) {
		t.Errorf("merge not commutative: %v != %v", merged.Values(), merged2.Values())
	}
}

func TestORSet_StateRoundTrip(t *testing.T) {
	s := NewORSet()
	s.Add("a", "n1", 100)
	s.Add("b", "n2", 101)
	s.Remove("a", "n1", 102)

	rebuilt := SetFromState(s.State())
	if !reflect.DeepEqual(rebuilt.Values(), s.Values()) {
		t.Errorf("rebuilt values = %v, want %v", rebuilt.Values(), s.Values())
	}
	// The shadowed tag must survive the round trip, not just the projection.
	rebuilt.Add("a", "n1", 100)
	if rebuilt.Contains("a") {
		t.Error("remove shadow lost in round trip")
	}
}

func TestItem_Defaults(t *testing.T) {
	it := NewItem("item-1", 500)
	snap := it.Snapshot()
	if snap.Status != domain.ItemPending {
		t.Errorf("status = %q, want pending", snap.Status)
	}
	if snap.Priority != domain.ItemPriorityMedium {
		t.Errorf("priority = %q, want medium", snap.Priority)
	}
	if snap.Progress != 0 {
		t.Errorf("progress = %v, want 0", snap.Progress)
	}
	if got := snap.CreatedAt.UnixMilli(); got != 500 {
		t.Errorf("created at = %d, want 500", got)
	}
}

func TestItem_MergeConvergesBothOrders(t *testing.T) {
	base := NewItem("item-1", 100)
	base.Title.Set("original", "n1", 100)

	n1 := base.Clone()
	n2 := base.Clone()
	n1.Title.Set("edited on n1", "n1", 200)
	n1.Tags.Add("backend", "n1", 200)
	n2.Title.Set("edited on n2", "n2", 200)
	n2.Status.Set(domain.ItemInProgress, "n2", 200)

	a := n1.Merge(n2).Snapshot()
	b := n2.Merge(n1).Snapshot()

	if a.Title != b.Title {
		t.Fatalf("titles diverged: %q != %q", a.Title, b.Title)
	}
	// Equal timestamps: the larger node id wins.
	if a.Title != "edited on n2" {
		t.Errorf("title = %q, want edited on n2", a.Title)
	}
	if a.Status != domain.ItemInProgress || b.Status != domain.ItemInProgress {
		t.Errorf("status = %q / %q, want in_progress", a.Status, b.Status)
	}
	if !reflect.DeepEqual(a.Tags, []string{"backend"}) {
		t.Errorf("tags = %v, want [backend]", a.Tags)
	}
}

func TestItem_MergeKeepsEarliestCreation(t *testing.T) {
	a := NewItem("item-1", 300)
	b := NewItem("item-1", 100)
	if got := a.Merge(b).CreatedAt; got != 100 {
		t.Errorf("merged CreatedAt = %d, want 100", got)
	}
	if got := b.Merge(a).CreatedAt; got != 100 {
		t.Errorf("merged CreatedAt = %d, want 100", got)
	}
}

func TestItem_StateRoundTrip(t *testing.T) {
	it := NewItem("item-1", 100)
	it.Title.Set("build the parser", "n1", 150)
	it.Progress.Set(40, "n1", 160)
	it.Dependencies.Add("item-0", "n1", 150)
	it.Notes.Add("blocked on review", "n1", 170)

	rebuilt := ItemFromState(it.State())
	got, want := rebuilt.Snapshot(), it.Snapshot()
	if !reflect.DeepEqual(got, want) {
		t.Errorf("rebuilt snapshot = %+v, want %+v", got, want)
	}
	// Register metadata must survive so later merges resolve identically.
	if rebuilt.Title.Timestamp != 150 || rebuilt.Title.Node != "n1" {
		t.Errorf("title register = (%d, %s), want (150, n1)", rebuilt.Title.Timestamp, rebuilt.Title.Node)
	}
}
