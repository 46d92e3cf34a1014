// Package domain holds coordination entities and shared value types.
// It has no dependencies on other packages.
package domain

import "time"

// AgentRole is the specialization of an agent, used for task eligibility.
type AgentRole string

const (
	RolePlanner     AgentRole = "planner"
	RoleImplementer AgentRole = "implementer"
	RoleAuditor     AgentRole = "auditor"
	RoleCleaner     AgentRole = "cleaner"
	RoleResearcher  AgentRole = "researcher"
	RoleCoordinator AgentRole = "coordinator"
	RoleSpecialist  AgentRole = "specialist"
)

// AgentStatus is the liveness state of an agent.
type AgentStatus string

const (
	AgentInitializing AgentStatus = "initializing"
	AgentActive       AgentStatus = "active"
	AgentBusy         AgentStatus = "busy"
	AgentIdle         AgentStatus = "idle"
	AgentShuttingDown AgentStatus = "shutting_down"
	AgentOffline      AgentStatus = "offline"
	AgentCrashed      AgentStatus = "crashed"
)

// Terminal reports whether the status means the agent is gone from the
// runtime's point of view (no delivery, slot reusable).
func (s AgentStatus) Terminal() bool {
	return s == AgentOffline || s == AgentCrashed
}

// Live reports whether the agent is eligible for broadcast delivery.
func (s AgentStatus) Live() bool {
	return s == AgentActive || s == AgentBusy || s == AgentIdle
}

// Capability is a named competence with a proficiency in [0,1].
type Capability struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Proficiency  float64  `json:"proficiency"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// Agent is an autonomous worker registered with the runtime.
// Parent/child links are identity references only, never owning pointers.
type Agent struct {
	ID            string            `json:"id"`
	Role          AgentRole         `json:"role"`
	Capabilities  []Capability      `json:"capabilities,omitempty"`
	Status        AgentStatus       `json:"status"`
	ParentID      string            `json:"parent_id,omitempty"`
	ChildIDs      []string          `json:"child_ids,omitempty"`
	Surface       string            `json:"surface,omitempty"`
	SessionID     string            `json:"session_id,omitempty"`
	RegisteredAt  time.Time         `json:"registered_at"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
	LastActivity  time.Time         `json:"last_activity"`
	CurrentTaskID string            `json:"current_task_id,omitempty"`
	Metadata      map[string]any    `json:"metadata,omitempty"`
}

// HasCapability reports whether the agent lists the named capability.
func (a *Agent) HasCapability(name string) bool {
	for _, c := range a.Capabilities {
		if c.Name == name {
			return true
		}
	}
	return false
}

// CapabilityProficiency returns the proficiency for a named capability,
// or 0 when the agent does not have it.
func (a *Agent) CapabilityProficiency(name string) float64 {
	for _, c := range a.Capabilities {
		if c.Name == name {
			return c.Proficiency
		}
	}
	return 0
}

// Clone returns a deep copy safe to hand to callers outside the registry lock.
func (a *Agent) Clone() *Agent {
	cp := *a
	cp.Capabilities = append([]Capability(nil), a.Capabilities...)
	cp.ChildIDs = append([]string(nil), a.ChildIDs...)
	if a.Metadata != nil {
		cp.Metadata = make(map[string]any, len(a.Metadata))
		for k, v := range a.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// AgentFilter selects agents in discovery queries. All set fields must match
// (AND semantics). Capabilities requires every listed name to be present.
type AgentFilter struct {
	Role         AgentRole
	Statuses     []AgentStatus
	Capabilities []string
	Surface      string
	SessionID    string
	ExcludeID    string
}

// Matches reports whether the agent satisfies every set field of the filter.
func (f AgentFilter) Matches(a *Agent) bool {
	if f.ExcludeID != "" && a.ID == f.ExcludeID {
		return false
	}
	if f.Role != "" && a.Role != f.Role {
		return false
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if a.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for _, name := range f.Capabilities {
		if !a.HasCapability(name) {
			return false
		}
	}
	if f.Surface != "" && a.Surface != f.Surface {
		return false
	}
	if f.SessionID != "" && a.SessionID != f.SessionID {
		return false
	}
	return true
}

// HeartbeatResult is returned to a heartbeating agent. Pending counts are
// piggybacked so agents learn about queued work without extra round trips.
type HeartbeatResult struct {
	Accepted        bool          `json:"accepted"`
	NextHeartbeatIn time.Duration `json:"next_heartbeat_in"`
	PendingMessages int           `json:"pending_messages"`
	PendingTasks    int           `json:"pending_tasks"`
	ServerTime      time.Time     `json:"server_time"`
}
