package coordtools

import (
	"strings"
	"testing"

	"github.com/jaakkos/meshwork/internal/domain"
)

func TestReportProgress(t *testing.T) {
	s, rt := testServer(t)
	registerActive(t, s, "impl-1", "implementer")

	text := mustCall(t, s, "report_progress", map[string]any{
		"agent_id": "impl-1", "task_id": "task-1", "percentage": 130.0,
	})
	if !strings.Contains(text, "100%") {
		t.Errorf("percentage not clamped in %q", text)
	}
	latest, ok := rt.Tracker.LatestProgress("task-1")
	if !ok || latest.Percentage != 100 {
		t.Errorf("latest = %v, want 100", latest)
	}

	if _, err := callTool(t, s, "report_progress", map[string]any{
		"agent_id": "impl-1", "task_id": "task-1",
	}); err == nil {
		t.Error("expected error for missing percentage")
	}
}

func TestCreateMilestoneAndReport(t *testing.T) {
	s, rt := testServer(t)
	registerActive(t, s, "impl-1", "implementer")

	text := mustCall(t, s, "create_milestone", map[string]any{
		"name":              "ship v1",
		"required_task_ids": []any{"task-1"},
	})
	if !strings.Contains(text, "status=pending") {
		t.Errorf("unexpected milestone result: %q", text)
	}
	// "Milestone <id> created (...)"
	id := strings.Fields(text)[1]

	mustCall(t, s, "report_progress", map[string]any{
		"agent_id": "impl-1", "task_id": "task-1", "percentage": 100.0, "status": "completed",
	})
	m, ok := rt.Tracker.GetMilestone(id)
	if !ok || m.Status != domain.MilestoneAchieved {
		t.Errorf("milestone = %v, want achieved", m)
	}
}

func TestAgentStats(t *testing.T) {
	s, _ := testServer(t)
	registerActive(t, s, "impl-1", "implementer")
	mustCall(t, s, "report_progress", map[string]any{
		"agent_id": "impl-1", "task_id": "task-1", "percentage": 100.0,
		"status": "completed", "time_spent_minutes": 12.0,
	})

	text := mustCall(t, s, "agent_stats", map[string]any{"agent_id": "impl-1"})
	if !strings.Contains(text, "completed=1") || !strings.Contains(text, "totalMinutes=12.0") {
		t.Errorf("unexpected stats: %q", text)
	}
}
