// Package repository defines the persistence port for plan snapshots and
// their operation logs. The runtime talks to the port; SQLite provides the
// default implementation.
package repository

import (
	"github.com/jaakkos/meshwork/internal/domain"
	"github.com/jaakkos/meshwork/internal/plansync"
)

// SnapshotStore persists plan snapshots and appended operations.
type SnapshotStore interface {
	// SavePlan upserts the full snapshot of one plan.
	SavePlan(snap *plansync.PlanSnapshot) error
	// LoadPlan returns the stored snapshot, or domain.ErrNotFound.
	LoadPlan(id string) (*plansync.PlanSnapshot, error)
	// ListPlans returns the ids of every stored plan.
	ListPlans() ([]string, error)
	// AppendOperations adds operations to the log; already-stored ids are
	// skipped so replays are harmless.
	AppendOperations(ops []*domain.PlanOperation) error
	// LoadOperations returns the plan's operations with Timestamp strictly
	// after sinceMillis, oldest first.
	LoadOperations(planID string, sinceMillis int64) ([]*domain.PlanOperation, error)
	Close() error
}
