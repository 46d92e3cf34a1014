package domain

import "time"

// PlanItemStatus is the lifecycle state of a plan item.
type PlanItemStatus string

const (
	ItemPending    PlanItemStatus = "pending"
	ItemInProgress PlanItemStatus = "in_progress"
	ItemCompleted  PlanItemStatus = "completed"
	ItemBlocked    PlanItemStatus = "blocked"
	ItemCancelled  PlanItemStatus = "cancelled"
)

// PlanItemPriority orders plan items for human consumption.
type PlanItemPriority string

const (
	ItemPriorityLow      PlanItemPriority = "low"
	ItemPriorityMedium   PlanItemPriority = "medium"
	ItemPriorityHigh     PlanItemPriority = "high"
	ItemPriorityCritical PlanItemPriority = "critical"
)

// PlanItem is the resolved (plain) projection of a CRDT plan item.
type PlanItem struct {
	ID               string           `json:"id"`
	Title            string           `json:"title"`
	Description      string           `json:"description,omitempty"`
	Status           PlanItemStatus   `json:"status"`
	Priority         PlanItemPriority `json:"priority"`
	AssignedTo       string           `json:"assigned_to,omitempty"`
	Progress         float64          `json:"progress"`
	ParentID         string           `json:"parent_id,omitempty"`
	EstimatedMinutes float64          `json:"estimated_minutes,omitempty"`
	ActualMinutes    float64          `json:"actual_minutes,omitempty"`
	Dependencies     []string         `json:"dependencies,omitempty"`
	Tags             []string         `json:"tags,omitempty"`
	Notes            []string         `json:"notes,omitempty"`
	SubtaskIDs       []string         `json:"subtask_ids,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Plan is the plain view of a shared plan. OverallProgress is derived as the
// rounded mean of item progresses. VectorClock and Version track causality
// for cross-node synchronization.
type Plan struct {
	ID              string               `json:"id"`
	Name            string               `json:"name"`
	Description     string               `json:"description,omitempty"`
	Items           map[string]*PlanItem `json:"items"`
	Owner           string               `json:"owner"`
	Collaborators   []string             `json:"collaborators,omitempty"`
	CurrentPhase    int                  `json:"current_phase"`
	TotalPhases     int                  `json:"total_phases"`
	OverallProgress float64              `json:"overall_progress"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
	VectorClock     map[string]uint64    `json:"vector_clock"`
	Version         int                  `json:"version"`
}

// OperationType tags a plan operation for log-based synchronization.
type OperationType string

const (
	OpPlanUpdated  OperationType = "plan_updated"
	OpItemAdded    OperationType = "item_added"
	OpItemUpdated  OperationType = "item_updated"
	OpStatusSet    OperationType = "status_set"
	OpItemAssigned OperationType = "item_assigned"
	OpItemDeleted  OperationType = "item_deleted"
)

// PlanOperation is one recorded plan mutation. The operation log is the
// source of truth for cross-node synchronization; the vector clock snapshot
// is taken after the local increment for the mutation.
type PlanOperation struct {
	ID          string            `json:"id"`
	PlanID      string            `json:"plan_id"`
	Type        OperationType     `json:"type"`
	ItemID      string            `json:"item_id,omitempty"`
	Payload     map[string]any    `json:"payload,omitempty"`
	SourceNode  string            `json:"source_node"`
	Timestamp   int64             `json:"timestamp"` // epoch millis
	VectorClock map[string]uint64 `json:"vector_clock"`
}
