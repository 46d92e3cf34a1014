package coord

import (
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/jaakkos/meshwork/internal/domain"
	"github.com/jaakkos/meshwork/internal/events"
	"github.com/jaakkos/meshwork/internal/plansync"
	"github.com/jaakkos/meshwork/internal/policy"
	"github.com/jaakkos/meshwork/internal/registry"
	"github.com/jaakkos/meshwork/internal/repository/sqlite"
	"github.com/jaakkos/meshwork/internal/work"
)

func testRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	logger := log.New(os.Stderr, "[test] ", 0)
	rt, err := New(policy.New(nil), logger, opts...)
	if err != nil {
		t.Fatalf("build runtime: %v", err)
	}
	return rt
}

func TestNew_GeneratesNodeID(t *testing.T) {
	pol := policy.New(nil)
	logger := log.New(os.Stderr, "[test] ", 0)
	rt, err := New(pol, logger)
	if err != nil {
		t.Fatalf("build runtime: %v", err)
	}
	if pol.NodeID() == "" {
		t.Fatal("node id not pinned into policy")
	}
	if rt.Plans.Node() != pol.NodeID() {
		t.Errorf("plan service node = %q, policy node = %q", rt.Plans.Node(), pol.NodeID())
	}
}

func TestHeartbeat_PiggybacksPendingCounts(t *testing.T) {
	rt := testRuntime(t)
	for _, id := range []string{"a1", "a2"} {
		if _, err := rt.Registry.Register(registry.Registration{ID: id, Role: domain.RoleImplementer}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
		rt.Registry.Heartbeat(id, domain.AgentActive, "")
	}
	if _, err := rt.Bus.SendToAgent("a2", "a1", "review", "please look"); err != nil {
		t.Fatalf("send: %v", err)
	}
	task, err := rt.Distributor.CreateTask("lint", "", work.TaskOptions{})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	res := rt.Registry.Heartbeat("a1", domain.AgentActive, "")
	if !res.Accepted {
		t.Fatal("heartbeat rejected")
	}
	if res.PendingMessages != 1 {
		t.Errorf("pending messages = %d, want 1", res.PendingMessages)
	}
	if res.PendingTasks != 1 {
		t.Errorf("pending tasks = %d, want 1 (task %s)", res.PendingTasks, task.ID)
	}
}

func TestFlushState_PersistsAndRestoresPlans(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.sqlite")
	store, err := sqlite.New(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	rt := testRuntime(t, WithStore(store))
	plan, err := rt.Plans.CreatePlan("migration", "", "owner-1")
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if _, err := rt.Plans.AddItem(plan.ID, plansync.ItemInput{Title: "schema"}); err != nil {
		t.Fatalf("add item: %v", err)
	}
	if err := rt.FlushState(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	rt.Stop() // closes the store

	// A fresh runtime over the same database comes up with the plan.
	store2, err := sqlite.New(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	sink := &events.CaptureSink{}
	rt2 := testRuntime(t, WithStore(store2), WithSink(sink))
	defer rt2.Stop()

	got, err := rt2.Plans.GetPlan(plan.ID)
	if err != nil {
		t.Fatalf("plan not restored: %v", err)
	}
	if got.Name != "migration" || len(got.Items) != 1 {
		t.Errorf("restored plan = %q with %d items, want migration with 1", got.Name, len(got.Items))
	}
	if sink.Count(events.PlanRestored) != 1 {
		t.Errorf("planRestored events = %d, want 1", sink.Count(events.PlanRestored))
	}

	// Flushed operations are on the log too.
	ops, err := store2.LoadOperations(plan.ID, 0)
	if err != nil {
		t.Fatalf("load operations: %v", err)
	}
	if len(ops) == 0 {
		t.Error("no operations persisted")
	}
}

func TestStop_WithoutStartFlushesOnly(t *testing.T) {
	rt := testRuntime(t)
	rt.Stop() // must not hang or panic with no loops running
}
