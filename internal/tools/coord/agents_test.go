package coordtools

import (
	"strings"
	"testing"

	"github.com/jaakkos/meshwork/internal/domain"
)

func TestRegisterAgent(t *testing.T) {
	s, rt := testServer(t)

	text := mustCall(t, s, "register_agent", map[string]any{
		"id":           "impl-1",
		"role":         "implementer",
		"capabilities": []any{"go", "sql"},
	})
	if !strings.Contains(text, "impl-1 registered") {
		t.Errorf("unexpected result: %q", text)
	}

	agent, ok := rt.Registry.Get("impl-1")
	if !ok {
		t.Fatal("agent not in registry")
	}
	if agent.Role != domain.RoleImplementer {
		t.Errorf("role = %q, want implementer", agent.Role)
	}
	if !agent.HasCapability("go") || !agent.HasCapability("sql") {
		t.Errorf("capabilities = %v, want go and sql", agent.Capabilities)
	}
}

func TestRegisterAgent_MissingArgs(t *testing.T) {
	s, _ := testServer(t)
	if _, err := callTool(t, s, "register_agent", map[string]any{"id": "impl-1"}); err == nil {
		t.Error("expected error for missing role")
	}
	if _, err := callTool(t, s, "register_agent", map[string]any{"role": "implementer"}); err == nil {
		t.Error("expected error for missing id")
	}
}

func TestRegisterAgent_DuplicateID(t *testing.T) {
	s, _ := testServer(t)
	mustCall(t, s, "register_agent", map[string]any{"id": "impl-1", "role": "implementer"})
	if _, err := callTool(t, s, "register_agent", map[string]any{"id": "impl-1", "role": "auditor"}); err == nil {
		t.Error("expected error for duplicate registration")
	}
}

func TestHeartbeat(t *testing.T) {
	s, _ := testServer(t)
	mustCall(t, s, "register_agent", map[string]any{"id": "impl-1", "role": "implementer"})

	text := mustCall(t, s, "heartbeat", map[string]any{"id": "impl-1", "status": "active"})
	if !strings.Contains(text, "Heartbeat accepted") {
		t.Errorf("unexpected result: %q", text)
	}

	// Unknown agents are told to re-register instead of getting an error.
	text = mustCall(t, s, "heartbeat", map[string]any{"id": "ghost"})
	if !strings.Contains(text, "not registered") {
		t.Errorf("unexpected result for unknown agent: %q", text)
	}
}

func TestHeartbeat_ReportsPendingWork(t *testing.T) {
	s, _ := testServer(t)
	for _, id := range []string{"impl-1", "impl-2"} {
		mustCall(t, s, "register_agent", map[string]any{"id": id, "role": "implementer"})
		mustCall(t, s, "heartbeat", map[string]any{"id": id, "status": "active"})
	}
	mustCall(t, s, "send_message", map[string]any{
		"from": "impl-2", "to": "impl-1", "subject": "review please",
	})
	mustCall(t, s, "create_task", map[string]any{"title": "lint the tree"})

	text := mustCall(t, s, "heartbeat", map[string]any{"id": "impl-1"})
	if !strings.Contains(text, "1 message(s), 1 task(s)") {
		t.Errorf("pending counts missing from %q", text)
	}
}

func TestUnregisterAgent(t *testing.T) {
	s, rt := testServer(t)
	mustCall(t, s, "register_agent", map[string]any{"id": "impl-1", "role": "implementer"})

	text := mustCall(t, s, "unregister_agent", map[string]any{"id": "impl-1"})
	if !strings.Contains(text, "unregistered") {
		t.Errorf("unexpected result: %q", text)
	}
	if _, ok := rt.Registry.Get("impl-1"); ok {
		t.Error("agent still in registry")
	}

	text = mustCall(t, s, "unregister_agent", map[string]any{"id": "impl-1"})
	if !strings.Contains(text, "was not registered") {
		t.Errorf("unexpected result for repeat unregister: %q", text)
	}
}

func TestListAgents(t *testing.T) {
	s, _ := testServer(t)
	mustCall(t, s, "register_agent", map[string]any{"id": "impl-1", "role": "implementer"})
	mustCall(t, s, "register_agent", map[string]any{"id": "plan-1", "role": "planner"})

	text := mustCall(t, s, "list_agents", map[string]any{})
	if !strings.Contains(text, "impl-1") || !strings.Contains(text, "plan-1") {
		t.Errorf("listing missing agents: %q", text)
	}

	text = mustCall(t, s, "list_agents", map[string]any{"role": "planner"})
	if strings.Contains(text, "impl-1") || !strings.Contains(text, "plan-1") {
		t.Errorf("role filter not applied: %q", text)
	}

	s2, _ := testServer(t)
	if text := mustCall(t, s2, "list_agents", map[string]any{}); text != "No agents registered" {
		t.Errorf("empty listing = %q", text)
	}
}
