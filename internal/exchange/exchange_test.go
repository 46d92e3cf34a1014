package exchange

import (
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/jaakkos/meshwork/internal/plansync"
	"github.com/jaakkos/meshwork/internal/policy"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr, "[test] ", 0)
}

func testService(node string) *plansync.Service {
	return plansync.New(policy.New(nil), testLogger(), node)
}

func TestSyncOnce_TwoNodesConverge(t *testing.T) {
	dir := t.TempDir()
	n1 := testService("n1")
	n2 := testService("n2")
	e1 := New(dir, n1, testLogger())
	e2 := New(dir, n2, testLogger())

	plan, err := n1.CreatePlan("migration", "", "owner-1")
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	item, err := n1.AddItem(plan.ID, plansync.ItemInput{Title: "schema"})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}

	if err := e1.SyncOnce(); err != nil {
		t.Fatalf("sync n1: %v", err)
	}
	if err := e2.SyncOnce(); err != nil {
		t.Fatalf("sync n2: %v", err)
	}

	got, err := n2.GetPlan(plan.ID)
	if err != nil {
		t.Fatalf("plan not adopted on n2: %v", err)
	}
	if got.Items[item.ID].Title != "schema" {
		t.Errorf("adopted item title = %q, want schema", got.Items[item.ID].Title)
	}

	// Edit on n2 and sync the other way.
	if _, err := n2.UpdateItem(plan.ID, item.ID, map[string]any{"progress": 60.0}); err != nil {
		t.Fatalf("edit on n2: %v", err)
	}
	if err := e2.SyncOnce(); err != nil {
		t.Fatalf("sync n2: %v", err)
	}
	if err := e1.SyncOnce(); err != nil {
		t.Fatalf("sync n1: %v", err)
	}
	p1, _ := n1.GetPlan(plan.ID)
	if p1.Items[item.ID].Progress != 60 {
		t.Errorf("n1 progress = %v, want 60", p1.Items[item.ID].Progress)
	}
}

func TestPublishPlan_SkipsUnchangedState(t *testing.T) {
	dir := t.TempDir()
	n1 := testService("n1")
	e1 := New(dir, n1, testLogger())

	plan, err := n1.CreatePlan("migration", "", "owner-1")
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if err := e1.SyncOnce(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	file := filepath.Join(dir, plan.ID+".n1.json")
	if _, err := os.Stat(file); err != nil {
		t.Fatalf("snapshot not published: %v", err)
	}

	// Unchanged causal state: a removed file must not be re-published, which
	// is what keeps two watchers from ping-ponging forever.
	if err := os.Remove(file); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := e1.SyncOnce(); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if _, err := os.Stat(file); !os.IsNotExist(err) {
		t.Error("unchanged snapshot re-published")
	}

	// A mutation changes the key and publishes again.
	if _, err := n1.AddItem(plan.ID, plansync.ItemInput{Title: "schema"}); err != nil {
		t.Fatalf("add item: %v", err)
	}
	if err := e1.SyncOnce(); err != nil {
		t.Fatalf("third sync: %v", err)
	}
	if _, err := os.Stat(file); err != nil {
		t.Errorf("snapshot not re-published after mutation: %v", err)
	}
}

func TestSyncOnce_ToleratesTornFile(t *testing.T) {
	dir := t.TempDir()
	n1 := testService("n1")
	e1 := New(dir, n1, testLogger())

	torn := filepath.Join(dir, "plan-x.n2.json")
	if err := os.WriteFile(torn, []byte(`{"plan": {"id": "pl`), 0o644); err != nil {
		t.Fatalf("write torn file: %v", err)
	}
	if err := e1.SyncOnce(); err != nil {
		t.Errorf("sync with torn file: %v", err)
	}
}

func TestSyncOnce_IgnoresOwnFiles(t *testing.T) {
	dir := t.TempDir()
	n1 := testService("n1")
	e1 := New(dir, n1, testLogger())

	plan, err := n1.CreatePlan("migration", "", "owner-1")
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if err := e1.SyncOnce(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	before, _ := n1.GetPlan(plan.ID)
	// The published file carries this node's name; absorbing it back must
	// not change anything.
	if err := e1.SyncOnce(); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	after, _ := n1.GetPlan(plan.ID)
	if after.Version != before.Version {
		t.Errorf("version moved on own-file sync: %d -> %d", before.Version, after.Version)
	}
}

func TestStop_Idempotent(t *testing.T) {
	e := New(t.TempDir(), testService("n1"), testLogger())
	e.Stop()
	e.Stop() // second call must not panic on a closed channel
}

func TestParseSnapshotName(t *testing.T) {
	cases := []struct {
		name   string
		planID string
		node   string
		ok     bool
	}{
		{"plan-1.n1.json", "plan-1", "n1", true},
		{"plan.with.dots.n2.json", "plan.with.dots", "n2", true},
		{"plan-1.json", "", "", false},
		{"plan-1.n1.txt", "", "", false},
		{".json", "", "", false},
	}
	for _, tc := range cases {
		planID, node, ok := parseSnapshotName(tc.name)
		if planID != tc.planID || node != tc.node || ok != tc.ok {
			t.Errorf("parseSnapshotName(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.name, planID, node, ok, tc.planID, tc.node, tc.ok)
		}
	}
}
