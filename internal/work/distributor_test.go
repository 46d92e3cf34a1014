package work

import (
	"errors"
	"log"
	"os"
	"testing"
	"time"

	"github.com/jaakkos/meshwork/internal/domain"
	"github.com/jaakkos/meshwork/internal/policy"
	"github.com/jaakkos/meshwork/internal/registry"
)

func testPolicy() *policy.Policy {
	return policy.New(&policy.Config{
		ClaimTimeoutSeconds:    1,
		ProgressTimeoutSeconds: 600,
		MaxRetries:             2,
	})
}

// testDistributor returns a distributor whose registry holds the given agents
// as active.
func testDistributor(t *testing.T, agents ...string) (*Distributor, *registry.Registry) {
	t.Helper()
	logger := log.New(os.Stderr, "[test] ", 0)
	pol := testPolicy()
	reg := registry.New(pol, logger)
	for _, id := range agents {
		if _, err := reg.Register(registry.Registration{ID: id, Role: domain.RoleImplementer}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
		reg.Heartbeat(id, domain.AgentActive, "")
	}
	return New(pol, reg, logger), reg
}

func mustCreate(t *testing.T, d *Distributor, title string, opts TaskOptions) *domain.Task {
	t.Helper()
	task, err := d.CreateTask(title, "", opts)
	if err != nil {
		t.Fatalf("create %s: %v", title, err)
	}
	return task
}

func TestCreateTask_Defaults(t *testing.T) {
	d, _ := testDistributor(t)
	task := mustCreate(t, d, "build", TaskOptions{})
	if task.Status != domain.TaskAvailable {
		t.Errorf("status = %q, want available", task.Status)
	}
	if task.Priority != domain.PriorityNormal {
		t.Errorf("priority = %q, want normal", task.Priority)
	}
	if task.MaxRetries != 2 {
		t.Errorf("max retries = %d, want 2", task.MaxRetries)
	}
	if task.ClaimVersion != 0 {
		t.Errorf("claim version = %d, want 0", task.ClaimVersion)
	}
}

func TestCreateTask_UnknownDependency(t *testing.T) {
	d, _ := testDistributor(t)
	if _, err := d.CreateTask("build", "", TaskOptions{Dependencies: []string{"task-missing"}}); !errors.Is(err, domain.ErrInvalid) {
		t.Errorf("error = %v, want ErrInvalid", err)
	}
}

func TestCreateTask_SubtaskLinking(t *testing.T) {
	d, _ := testDistributor(t)
	parent := mustCreate(t, d, "parent", TaskOptions{})
	child := mustCreate(t, d, "child", TaskOptions{ParentTaskID: parent.ID})

	got, ok := d.GetTask(parent.ID)
	if !ok {
		t.Fatal("parent missing")
	}
	if len(got.SubtaskIDs) != 1 || got.SubtaskIDs[0] != child.ID {
		t.Errorf("parent subtasks = %v, want [%s]", got.SubtaskIDs, child.ID)
	}
}

func TestClaimTask_Success(t *testing.T) {
	d, reg := testDistributor(t, "a1")
	task := mustCreate(t, d, "build", TaskOptions{})

	res := d.ClaimTask(task.ID, "a1", task.ClaimVersion)
	if !res.Success {
		t.Fatalf("claim failed: %s", res.Reason)
	}
	if res.Task.Status != domain.TaskClaimed || res.Task.ClaimVersion != 1 {
		t.Errorf("claimed task = %s v%d, want claimed v1", res.Task.Status, res.Task.ClaimVersion)
	}
	a, _ := reg.Get("a1")
	if a.CurrentTaskID != task.ID || a.Status != domain.AgentBusy {
		t.Errorf("agent = %s/%q, want busy/%s", a.Status, a.CurrentTaskID, task.ID)
	}
}

func TestClaimTask_RaceLoserGetsConflict(t *testing.T) {
	d, _ := testDistributor(t, "a1", "a2")
	task := mustCreate(t, d, "build", TaskOptions{})

	if res := d.ClaimTask(task.ID, "a1", AnyVersion); !res.Success {
		t.Fatalf("first claim failed: %s", res.Reason)
	}
	res := d.ClaimTask(task.ID, "a2", AnyVersion)
	if res.Success {
		t.Fatal("second claim succeeded")
	}
	if !errors.Is(res.Kind, domain.ErrAlreadyClaimed) {
		t.Errorf("kind = %v, want ErrAlreadyClaimed", res.Kind)
	}
	if res.Conflict == nil || res.Conflict.ClaimedBy != "a1" || res.Conflict.ClaimVersion != 1 {
		t.Errorf("conflict = %+v, want holder a1 v1", res.Conflict)
	}
}

func TestClaimTask_VersionMismatch(t *testing.T) {
	d, _ := testDistributor(t, "a1", "a2")
	task := mustCreate(t, d, "build", TaskOptions{})

	if res := d.ClaimTask(task.ID, "a1", 0); !res.Success {
		t.Fatalf("claim: %s", res.Reason)
	}
	if err := d.ReleaseTask(task.ID, "a1"); err != nil {
		t.Fatalf("release: %v", err)
	}

	// a2 still holds the stale version 0 observation.
	res := d.ClaimTask(task.ID, "a2", 0)
	if res.Success {
		t.Fatal("stale-version claim succeeded")
	}
	if !errors.Is(res.Kind, domain.ErrVersionMismatch) {
		t.Errorf("kind = %v, want ErrVersionMismatch", res.Kind)
	}
	if res.Conflict == nil || res.Conflict.ClaimVersion != 1 {
		t.Errorf("conflict = %+v, want version 1", res.Conflict)
	}
	// Retrying with the reported version works.
	if res := d.ClaimTask(task.ID, "a2", res.Conflict.ClaimVersion); !res.Success {
		t.Errorf("retry with current version failed: %s", res.Reason)
	}
}

func TestClaimTask_BlockedByDependencies(t *testing.T) {
	d, _ := testDistributor(t, "a1")
	dep := mustCreate(t, d, "dep", TaskOptions{})
	task := mustCreate(t, d, "build", TaskOptions{Dependencies: []string{dep.ID}})
	if task.Status != domain.TaskBlocked {
		t.Fatalf("dependent task status = %q, want blocked", task.Status)
	}

	res := d.ClaimTask(task.ID, "a1", AnyVersion)
	if res.Success {
		t.Fatal("claim of blocked task succeeded")
	}
	if !errors.Is(res.Kind, domain.ErrDependenciesPending) {
		t.Errorf("kind = %v, want ErrDependenciesPending", res.Kind)
	}
}

func TestCompleteTask_UnblocksDependents(t *testing.T) {
	d, _ := testDistributor(t, "a1")
	dep := mustCreate(t, d, "dep", TaskOptions{})
	task := mustCreate(t, d, "build", TaskOptions{Dependencies: []string{dep.ID}})

	if res := d.ClaimTask(dep.ID, "a1", AnyVersion); !res.Success {
		t.Fatalf("claim dep: %s", res.Reason)
	}
	if err := d.CompleteTask(dep.ID, "a1", "done"); err != nil {
		t.Fatalf("complete dep: %v", err)
	}

	got, _ := d.GetTask(task.ID)
	if got.Status != domain.TaskAvailable {
		t.Errorf("dependent status = %q, want available", got.Status)
	}
	if res := d.ClaimTask(task.ID, "a1", AnyVersion); !res.Success {
		t.Errorf("claim after unblock failed: %s", res.Reason)
	}
}

func TestClaimTask_Eligibility(t *testing.T) {
	d, reg := testDistributor(t, "a1")
	role := mustCreate(t, d, "audit", TaskOptions{RequiredRole: domain.RoleAuditor})
	res := d.ClaimTask(role.ID, "a1", AnyVersion)
	if res.Success || !errors.Is(res.Kind, domain.ErrIneligible) {
		t.Errorf("role mismatch claim = %+v, want ErrIneligible", res)
	}

	caps := mustCreate(t, d, "deploy", TaskOptions{RequiredCapabilities: []string{"terraform"}})
	res = d.ClaimTask(caps.ID, "a1", AnyVersion)
	if res.Success || !errors.Is(res.Kind, domain.ErrIneligible) {
		t.Errorf("capability mismatch claim = %+v, want ErrIneligible", res)
	}

	// Busy agents cannot pick up more work.
	task := mustCreate(t, d, "build", TaskOptions{})
	if err := reg.UpdateCurrentTask("a1", "elsewhere"); err != nil {
		t.Fatalf("mark busy: %v", err)
	}
	res = d.ClaimTask(task.ID, "a1", AnyVersion)
	if res.Success || !errors.Is(res.Kind, domain.ErrIneligible) {
		t.Errorf("busy agent claim = %+v, want ErrIneligible", res)
	}
}

func TestClaimTask_NotFound(t *testing.T) {
	d, _ := testDistributor(t, "a1")
	res := d.ClaimTask("task-missing", "a1", AnyVersion)
	if res.Success || !errors.Is(res.Kind, domain.ErrNotFound) {
		t.Errorf("result = %+v, want ErrNotFound", res)
	}
}

func TestClaimTimeout_ReleasesTask(t *testing.T) {
	d, reg := testDistributor(t, "a1")
	task := mustCreate(t, d, "build", TaskOptions{})
	if res := d.ClaimTask(task.ID, "a1", AnyVersion); !res.Success {
		t.Fatalf("claim: %s", res.Reason)
	}

	time.Sleep(1200 * time.Millisecond)

	got, _ := d.GetTask(task.ID)
	if got.Status != domain.TaskAvailable || got.ClaimedBy != "" {
		t.Errorf("task after timeout = %s/%q, want available/unclaimed", got.Status, got.ClaimedBy)
	}
	// The version is retained so the next claim still increments past it.
	if got.ClaimVersion != 1 {
		t.Errorf("claim version = %d, want 1", got.ClaimVersion)
	}
	a, _ := reg.Get("a1")
	if a.CurrentTaskID != "" {
		t.Errorf("agent current task = %q, want cleared", a.CurrentTaskID)
	}
}

func TestStartTask_CancelsClaimTimeout(t *testing.T) {
	d, _ := testDistributor(t, "a1")
	task := mustCreate(t, d, "build", TaskOptions{})
	if res := d.ClaimTask(task.ID, "a1", AnyVersion); !res.Success {
		t.Fatalf("claim: %s", res.Reason)
	}
	if err := d.StartTask(task.ID, "a1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	time.Sleep(1200 * time.Millisecond)

	got, _ := d.GetTask(task.ID)
	if got.Status != domain.TaskInProgress {
		t.Errorf("started task after claim window = %q, want in_progress", got.Status)
	}
}

func TestStartTask_WrongHolder(t *testing.T) {
	d, _ := testDistributor(t, "a1", "a2")
	task := mustCreate(t, d, "build", TaskOptions{})
	if res := d.ClaimTask(task.ID, "a1", AnyVersion); !res.Success {
		t.Fatalf("claim: %s", res.Reason)
	}
	if err := d.StartTask(task.ID, "a2"); !errors.Is(err, domain.ErrInvalid) {
		t.Errorf("start by non-holder error = %v, want ErrInvalid", err)
	}
}

func TestFailTask_RetriesThenFailsPermanently(t *testing.T) {
	d, _ := testDistributor(t, "a1")
	task := mustCreate(t, d, "build", TaskOptions{})

	if res := d.ClaimTask(task.ID, "a1", AnyVersion); !res.Success {
		t.Fatalf("claim: %s", res.Reason)
	}
	if err := d.FailTask(task.ID, "a1", "flaky test"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	got, _ := d.GetTask(task.ID)
	if got.Status != domain.TaskAvailable || got.RetryCount != 1 {
		t.Fatalf("after first failure = %s retry %d, want available retry 1", got.Status, got.RetryCount)
	}

	// MaxRetries is 2: the second failure is final.
	if res := d.ClaimTask(task.ID, "a1", AnyVersion); !res.Success {
		t.Fatalf("reclaim: %s", res.Reason)
	}
	if err := d.FailTask(task.ID, "a1", "still broken"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	got, _ = d.GetTask(task.ID)
	if got.Status != domain.TaskFailed || got.RetryCount != 2 {
		t.Errorf("after final failure = %s retry %d, want failed retry 2", got.Status, got.RetryCount)
	}
	if got.Error != "still broken" {
		t.Errorf("error = %q, want still broken", got.Error)
	}
}

func TestCancelTask(t *testing.T) {
	d, _ := testDistributor(t, "a1")
	task := mustCreate(t, d, "build", TaskOptions{})
	if !d.CancelTask(task.ID) {
		t.Fatal("cancel failed")
	}
	if !d.CancelTask(task.ID) {
		t.Error("second cancel not idempotent")
	}

	done := mustCreate(t, d, "done", TaskOptions{})
	if res := d.ClaimTask(done.ID, "a1", AnyVersion); !res.Success {
		t.Fatalf("claim: %s", res.Reason)
	}
	if err := d.CompleteTask(done.ID, "a1", nil); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if d.CancelTask(done.ID) {
		t.Error("cancel of completed task succeeded")
	}
}

func TestGetAvailableTasksForAgent_PriorityOrder(t *testing.T) {
	d, _ := testDistributor(t, "a1")
	mustCreate(t, d, "low", TaskOptions{Priority: domain.PriorityLow})
	mustCreate(t, d, "crit", TaskOptions{Priority: domain.PriorityCritical})
	mustCreate(t, d, "normal", TaskOptions{})
	mustCreate(t, d, "audit-only", TaskOptions{RequiredRole: domain.RoleAuditor})

	got := d.GetAvailableTasksForAgent("a1")
	if len(got) != 3 {
		t.Fatalf("eligible tasks = %d, want 3", len(got))
	}
	want := []string{"crit", "normal", "low"}
	for i, task := range got {
		if task.Title != want[i] {
			t.Errorf("tasks[%d] = %q, want %q", i, task.Title, want[i])
		}
	}
	if d.PendingFor("a1") != 3 {
		t.Errorf("pending for a1 = %d, want 3", d.PendingFor("a1"))
	}
}

func TestGetAssignmentRecommendations(t *testing.T) {
	d, reg := testDistributor(t, "plain")
	if _, err := reg.Register(registry.Registration{
		ID:           "expert",
		Role:         domain.RoleImplementer,
		Capabilities: []domain.Capability{{Name: "go", Proficiency: 1}},
	}); err != nil {
		t.Fatalf("register expert: %v", err)
	}
	reg.Heartbeat("expert", domain.AgentIdle, "")

	mustCreate(t, d, "needs go", TaskOptions{
		RequiredRole:         domain.RoleImplementer,
		RequiredCapabilities: []string{"go"},
	})

	recs := d.GetAssignmentRecommendations(10)
	if len(recs) != 1 {
		t.Fatalf("recommendations = %d, want 1 (plain agent is ineligible)", len(recs))
	}
	if recs[0].AgentID != "expert" {
		t.Errorf("recommended agent = %q, want expert", recs[0].AgentID)
	}
	if recs[0].Score <= 0 || len(recs[0].Reasons) == 0 {
		t.Errorf("recommendation = %+v, want positive score with reasons", recs[0])
	}
}

func TestGetTasks_Filter(t *testing.T) {
	d, _ := testDistributor(t, "a1")
	task := mustCreate(t, d, "build", TaskOptions{})
	mustCreate(t, d, "other", TaskOptions{})
	if res := d.ClaimTask(task.ID, "a1", AnyVersion); !res.Success {
		t.Fatalf("claim: %s", res.Reason)
	}

	got := d.GetTasks(domain.TaskFilter{Status: domain.TaskClaimed})
	if len(got) != 1 || got[0].ID != task.ID {
		t.Errorf("claimed filter = %d tasks, want just %s", len(got), task.ID)
	}
	got = d.GetTasks(domain.TaskFilter{ClaimedBy: "a1"})
	if len(got) != 1 {
		t.Errorf("claimedBy filter = %d tasks, want 1", len(got))
	}
}
