package domain

import "time"

// ProgressEntry is one append-only progress report for a task.
type ProgressEntry struct {
	ID                 string         `json:"id"`
	TaskID             string         `json:"task_id"`
	AgentID            string         `json:"agent_id"`
	Percentage         float64        `json:"percentage"`
	Status             TaskStatus     `json:"status"`
	Message            string         `json:"message,omitempty"`
	Details            string         `json:"details,omitempty"`
	Timestamp          time.Time      `json:"timestamp"`
	TimeSpentMinutes   float64        `json:"time_spent_minutes,omitempty"`
	EstimatedRemaining float64        `json:"estimated_remaining_minutes,omitempty"`
	Blockers           []string       `json:"blockers,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// MilestoneStatus is the lifecycle state of a milestone.
type MilestoneStatus string

const (
	MilestonePending    MilestoneStatus = "pending"
	MilestoneInProgress MilestoneStatus = "in_progress"
	MilestoneAchieved   MilestoneStatus = "achieved"
	MilestoneMissed     MilestoneStatus = "missed"
	MilestoneDeferred   MilestoneStatus = "deferred"
)

// Milestone aggregates progress over required tasks and/or child milestones.
// Progress is derived, never set directly except when marked achieved.
type Milestone struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Description       string          `json:"description,omitempty"`
	Status            MilestoneStatus `json:"status"`
	TargetDate        time.Time       `json:"target_date,omitempty"`
	CompletedDate     time.Time       `json:"completed_date,omitempty"`
	RequiredTaskIDs   []string        `json:"required_task_ids,omitempty"`
	Progress          float64         `json:"progress"`
	ParentMilestoneID string          `json:"parent_milestone_id,omitempty"`
	ChildMilestoneIDs []string        `json:"child_milestone_ids,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	Owner             string          `json:"owner,omitempty"`
	Tags              []string        `json:"tags,omitempty"`
}

// Clone returns a deep copy safe to hand to callers outside the tracker lock.
func (m *Milestone) Clone() *Milestone {
	cp := *m
	cp.RequiredTaskIDs = append([]string(nil), m.RequiredTaskIDs...)
	cp.ChildMilestoneIDs = append([]string(nil), m.ChildMilestoneIDs...)
	cp.Tags = append([]string(nil), m.Tags...)
	return &cp
}

// AgentStats tracks per-agent completion history. CompletionTimes keeps a
// bounded window of the most recent task durations in minutes.
type AgentStats struct {
	AgentID          string    `json:"agent_id"`
	TasksCompleted   int       `json:"tasks_completed"`
	TasksFailed      int       `json:"tasks_failed"`
	TotalTimeMinutes float64   `json:"total_time_minutes"`
	CompletionTimes  []float64 `json:"completion_times,omitempty"`
}

// SuccessRate is completed / (completed + failed), 1.0 with no history.
func (s *AgentStats) SuccessRate() float64 {
	total := s.TasksCompleted + s.TasksFailed
	if total == 0 {
		return 1.0
	}
	return float64(s.TasksCompleted) / float64(total)
}

// OverallStatus summarizes a set of tasks into one state.
type OverallStatus string

const (
	OverallNotStarted OverallStatus = "not_started"
	OverallInProgress OverallStatus = "in_progress"
	OverallBlocked    OverallStatus = "blocked"
	OverallCompleted  OverallStatus = "completed"
)
