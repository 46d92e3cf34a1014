package domain

import "time"

// TaskStatus is the lifecycle state of a shared task.
type TaskStatus string

const (
	TaskAvailable  TaskStatus = "available"
	TaskClaimed    TaskStatus = "claimed"
	TaskInProgress TaskStatus = "in_progress"
	TaskBlocked    TaskStatus = "blocked"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Task is a unit of claimable work. ClaimVersion is the optimistic-lock tag:
// it strictly increases on every successful claim and never decreases.
type Task struct {
	ID                   string          `json:"id"`
	Title                string          `json:"title"`
	Description          string          `json:"description,omitempty"`
	Status               TaskStatus      `json:"status"`
	Priority             MessagePriority `json:"priority"`
	RequiredRole         AgentRole       `json:"required_role,omitempty"`
	RequiredCapabilities []string        `json:"required_capabilities,omitempty"`
	Dependencies         []string        `json:"dependencies,omitempty"`
	ClaimedBy            string          `json:"claimed_by,omitempty"`
	ClaimedAt            time.Time       `json:"claimed_at,omitempty"`
	ClaimVersion         int             `json:"claim_version"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
	EstimatedMinutes     float64         `json:"estimated_minutes,omitempty"`
	ActualMinutes        float64         `json:"actual_minutes,omitempty"`
	StartedAt            time.Time       `json:"started_at,omitempty"`
	CompletedAt          time.Time       `json:"completed_at,omitempty"`
	Metadata             map[string]any  `json:"metadata,omitempty"`
	Result               any             `json:"result,omitempty"`
	Error                string          `json:"error,omitempty"`
	ParentTaskID         string          `json:"parent_task_id,omitempty"`
	SubtaskIDs           []string        `json:"subtask_ids,omitempty"`
	MaxRetries           int             `json:"max_retries"`
	RetryCount           int             `json:"retry_count"`
}

// Clone returns a deep copy safe to hand to callers outside the distributor lock.
func (t *Task) Clone() *Task {
	cp := *t
	cp.RequiredCapabilities = append([]string(nil), t.RequiredCapabilities...)
	cp.Dependencies = append([]string(nil), t.Dependencies...)
	cp.SubtaskIDs = append([]string(nil), t.SubtaskIDs...)
	if t.Metadata != nil {
		cp.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// TaskFilter selects tasks. All set fields must match.
type TaskFilter struct {
	Status    TaskStatus
	ClaimedBy string
	Priority  MessagePriority
	ParentID  string
}

// Matches reports whether the task satisfies every set field.
func (f TaskFilter) Matches(t *Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.ClaimedBy != "" && t.ClaimedBy != f.ClaimedBy {
		return false
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	if f.ParentID != "" && t.ParentTaskID != f.ParentID {
		return false
	}
	return true
}

// ClaimConflict names the current holder when a claim loses the race.
type ClaimConflict struct {
	ClaimedBy    string    `json:"claimed_by"`
	ClaimedAt    time.Time `json:"claimed_at"`
	ClaimVersion int       `json:"claim_version"`
}

// ClaimResult is the structured outcome of a claim attempt. Expected negative
// outcomes (already claimed, version mismatch) come back here, not as errors.
type ClaimResult struct {
	Success  bool           `json:"success"`
	Task     *Task          `json:"task,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Kind     error          `json:"-"`
	Conflict *ClaimConflict `json:"conflict,omitempty"`
}

// Recommendation pairs an available task with a scored candidate agent.
type Recommendation struct {
	TaskID  string   `json:"task_id"`
	AgentID string   `json:"agent_id"`
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
}
