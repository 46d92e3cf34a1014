package sqlite

import (
	"errors"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/jaakkos/meshwork/internal/domain"
	"github.com/jaakkos/meshwork/internal/plansync"
	"github.com/jaakkos/meshwork/internal/policy"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "plans.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// testSnapshot builds a realistic snapshot through a live plan service.
func testSnapshot(t *testing.T) (*plansync.Service, *plansync.PlanSnapshot) {
	t.Helper()
	logger := log.New(os.Stderr, "[test] ", 0)
	svc := plansync.New(policy.New(nil), logger, "n1")
	plan, err := svc.CreatePlan("migration", "move everything", "owner-1")
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if _, err := svc.AddItem(plan.ID, plansync.ItemInput{
		Title: "schema", Tags: []string{"db"}, Notes: []string{"needs review"},
	}); err != nil {
		t.Fatalf("add item: %v", err)
	}
	snap, err := svc.Snapshot(plan.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return svc, snap
}

func TestSaveLoadPlan_RoundTrip(t *testing.T) {
	store := testStore(t)
	_, snap := testSnapshot(t)

	if err := store.SavePlan(snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := store.LoadPlan(snap.Plan.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Plan.Name != "migration" || loaded.SourceNode != "n1" {
		t.Errorf("loaded plan = %q from %q, want migration from n1", loaded.Plan.Name, loaded.SourceNode)
	}
	if loaded.Version != snap.Version {
		t.Errorf("version = %d, want %d", loaded.Version, snap.Version)
	}
	if len(loaded.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(loaded.Items))
	}
	if len(loaded.VectorClock) != len(snap.VectorClock) {
		t.Errorf("clock = %v, want %v", loaded.VectorClock, snap.VectorClock)
	}

	// A restored snapshot must produce the same plain view on a fresh node.
	logger := log.New(os.Stderr, "[test] ", 0)
	fresh := plansync.New(policy.New(nil), logger, "n1")
	if err := fresh.Restore(loaded); err != nil {
		t.Fatalf("restore: %v", err)
	}
	got, err := fresh.GetPlan(snap.Plan.ID)
	if err != nil {
		t.Fatalf("get restored: %v", err)
	}
	for _, item := range got.Items {
		if item.Title != "schema" {
			t.Errorf("restored item title = %q, want schema", item.Title)
		}
		if len(item.Tags) != 1 || item.Tags[0] != "db" {
			t.Errorf("restored tags = %v, want [db]", item.Tags)
		}
	}
}

func TestSavePlan_UpsertReplacesItems(t *testing.T) {
	store := testStore(t)
	svc, snap := testSnapshot(t)
	if err := store.SavePlan(snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Delete the item and save again: the stored item rows must follow.
	for id := range snap.Items {
		if err := svc.DeleteItem(snap.Plan.ID, id); err != nil {
			t.Fatalf("delete: %v", err)
		}
	}
	snap2, err := svc.Snapshot(snap.Plan.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if err := store.SavePlan(snap2); err != nil {
		t.Fatalf("re-save: %v", err)
	}
	loaded, err := store.LoadPlan(snap.Plan.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Items) != 0 {
		t.Errorf("items after upsert = %d, want 0", len(loaded.Items))
	}
}

func TestLoadPlan_NotFound(t *testing.T) {
	store := testStore(t)
	if _, err := store.LoadPlan("plan-missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestListPlans(t *testing.T) {
	store := testStore(t)
	ids, err := store.ListPlans()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("fresh store lists %d plans", len(ids))
	}

	_, snap := testSnapshot(t)
	if err := store.SavePlan(snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	ids, err = store.ListPlans()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 1 || ids[0] != snap.Plan.ID {
		t.Errorf("plans = %v, want [%s]", ids, snap.Plan.ID)
	}
}

func TestOperations_AppendAndLoad(t *testing.T) {
	store := testStore(t)
	ops := []*domain.PlanOperation{
		{
			ID: "op-1", PlanID: "plan-1", Type: domain.OpItemAdded, ItemID: "item-1",
			Payload:    map[string]any{"title": "schema"},
			SourceNode: "n1", Timestamp: 100, VectorClock: map[string]uint64{"n1": 1},
		},
		{
			ID: "op-2", PlanID: "plan-1", Type: domain.OpStatusSet, ItemID: "item-1",
			Payload:    map[string]any{"status": "in_progress"},
			SourceNode: "n1", Timestamp: 200, VectorClock: map[string]uint64{"n1": 2},
		},
		{
			ID: "op-3", PlanID: "plan-other", Type: domain.OpPlanUpdated,
			SourceNode: "n2", Timestamp: 150, VectorClock: map[string]uint64{"n2": 1},
		},
	}
	if err := store.AppendOperations(ops); err != nil {
		t.Fatalf("append: %v", err)
	}
	// Appending the same ids again must not duplicate.
	if err := store.AppendOperations(ops[:1]); err != nil {
		t.Fatalf("re-append: %v", err)
	}

	got, err := store.LoadOperations("plan-1", 0)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("operations = %d, want 2", len(got))
	}
	if got[0].ID != "op-1" || got[1].ID != "op-2" {
		t.Errorf("order = [%s %s], want [op-1 op-2]", got[0].ID, got[1].ID)
	}
	if got[0].Payload["title"] != "schema" {
		t.Errorf("payload = %v, want title schema", got[0].Payload)
	}
	if got[1].VectorClock["n1"] != 2 {
		t.Errorf("clock = %v, want n1:2", got[1].VectorClock)
	}

	got, err = store.LoadOperations("plan-1", 100)
	if err != nil {
		t.Fatalf("load since: %v", err)
	}
	if len(got) != 1 || got[0].ID != "op-2" {
		t.Errorf("since filter = %v, want just op-2", opIDs(got))
	}
}

func TestAppendOperations_Empty(t *testing.T) {
	store := testStore(t)
	if err := store.AppendOperations(nil); err != nil {
		t.Errorf("empty append: %v", err)
	}
}

func opIDs(ops []*domain.PlanOperation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.ID
	}
	return out
}
