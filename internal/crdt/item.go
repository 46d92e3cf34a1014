package crdt

import (
	"time"

	"github.com/jaakkos/meshwork/internal/domain"
)

// Item is the CRDT composition backing one plan item: LWW registers for
// scalar fields, OR-Sets for collection fields. CreatedAt takes the minimum
// across merges so the item keeps its earliest known creation time.
type Item struct {
	ID               string
	Title            *Register[string]
	Description      *Register[string]
	Status           *Register[domain.PlanItemStatus]
	Priority         *Register[domain.PlanItemPriority]
	AssignedTo       *Register[string]
	Progress         *Register[float64]
	ParentID         *Register[string]
	EstimatedMinutes *Register[float64]
	ActualMinutes    *Register[float64]
	Dependencies     *ORSet
	Tags             *ORSet
	Notes            *ORSet
	SubtaskIDs       *ORSet
	CreatedAt        int64 // epoch millis
}

// NewItem returns an item with every register at its default value and
// timestamp zero, so the first real write on any field wins.
func NewItem(id string, createdAt int64) *Item {
	return &Item{
		ID:               id,
		Title:            NewRegister(""),
		Description:      NewRegister(""),
		Status:           NewRegister(domain.ItemPending),
		Priority:         NewRegister(domain.ItemPriorityMedium),
		AssignedTo:       NewRegister(""),
		Progress:         NewRegister(0.0),
		ParentID:         NewRegister(""),
		EstimatedMinutes: NewRegister(0.0),
		ActualMinutes:    NewRegister(0.0),
		Dependencies:     NewORSet(),
		Tags:             NewORSet(),
		Notes:            NewORSet(),
		SubtaskIDs:       NewORSet(),
		CreatedAt:        createdAt,
	}
}

// Merge returns a new item combining both sides field by field.
func (it *Item) Merge(other *Item) *Item {
	out := &Item{
		ID:               it.ID,
		Title:            it.Title.Clone(),
		Description:      it.Description.Clone(),
		Status:           it.Status.Clone(),
		Priority:         it.Priority.Clone(),
		AssignedTo:       it.AssignedTo.Clone(),
		Progress:         it.Progress.Clone(),
		ParentID:         it.ParentID.Clone(),
		EstimatedMinutes: it.EstimatedMinutes.Clone(),
		ActualMinutes:    it.ActualMinutes.Clone(),
		Dependencies:     it.Dependencies.Clone(),
		Tags:             it.Tags.Clone(),
		Notes:            it.Notes.Clone(),
		SubtaskIDs:       it.SubtaskIDs.Clone(),
		CreatedAt:        it.CreatedAt,
	}
	if other == nil {
		return out
	}
	out.Title.Merge(other.Title)
	out.Description.Merge(other.Description)
	out.Status.Merge(other.Status)
	out.Priority.Merge(other.Priority)
	out.AssignedTo.Merge(other.AssignedTo)
	out.Progress.Merge(other.Progress)
	out.ParentID.Merge(other.ParentID)
	out.EstimatedMinutes.Merge(other.EstimatedMinutes)
	out.ActualMinutes.Merge(other.ActualMinutes)
	out.Dependencies = out.Dependencies.Merge(other.Dependencies)
	out.Tags = out.Tags.Merge(other.Tags)
	out.Notes = out.Notes.Merge(other.Notes)
	out.SubtaskIDs = out.SubtaskIDs.Merge(other.SubtaskIDs)
	if other.CreatedAt > 0 && (out.CreatedAt == 0 || other.CreatedAt < out.CreatedAt) {
		out.CreatedAt = other.CreatedAt
	}
	return out
}

// Clone returns an independent copy.
func (it *Item) Clone() *Item {
	return it.Merge(nil)
}

// lastWriteMillis returns the newest register timestamp, used as the plain
// item's UpdatedAt.
func (it *Item) lastWriteMillis() int64 {
	max := it.CreatedAt
	for _, ts := range []int64{
		it.Title.Timestamp, it.Description.Timestamp, it.Status.Timestamp,
		it.Priority.Timestamp, it.AssignedTo.Timestamp, it.Progress.Timestamp,
		it.ParentID.Timestamp, it.EstimatedMinutes.Timestamp, it.ActualMinutes.Timestamp,
	} {
		if ts > max {
			max = ts
		}
	}
	return max
}

// Snapshot projects the resolved plain item.
func (it *Item) Snapshot() *domain.PlanItem {
	return &domain.PlanItem{
		ID:               it.ID,
		Title:            it.Title.Value,
		Description:      it.Description.Value,
		Status:           it.Status.Value,
		Priority:         it.Priority.Value,
		AssignedTo:       it.AssignedTo.Value,
		Progress:         it.Progress.Value,
		ParentID:         it.ParentID.Value,
		EstimatedMinutes: it.EstimatedMinutes.Value,
		ActualMinutes:    it.ActualMinutes.Value,
		Dependencies:     it.Dependencies.Values(),
		Tags:             it.Tags.Values(),
		Notes:            it.Notes.Values(),
		SubtaskIDs:       it.SubtaskIDs.Values(),
		CreatedAt:        time.UnixMilli(it.CreatedAt),
		UpdatedAt:        time.UnixMilli(it.lastWriteMillis()),
	}
}

// ItemState is the serializable form of an Item, used in snapshots and the
// SQLite store.
type ItemState struct {
	ID               string                             `json:"id"`
	Title            Register[string]                   `json:"title"`
	Description      Register[string]                   `json:"description"`
	Status           Register[domain.PlanItemStatus]    `json:"status"`
	Priority         Register[domain.PlanItemPriority]  `json:"priority"`
	AssignedTo       Register[string]                   `json:"assigned_to"`
	Progress         Register[float64]                  `json:"progress"`
	ParentID         Register[string]                   `json:"parent_id"`
	EstimatedMinutes Register[float64]                  `json:"estimated_minutes"`
	ActualMinutes    Register[float64]                  `json:"actual_minutes"`
	Dependencies     SetState                           `json:"dependencies"`
	Tags             SetState                           `json:"tags"`
	Notes            SetState                           `json:"notes"`
	SubtaskIDs       SetState                           `json:"subtask_ids"`
	CreatedAt        int64                              `json:"created_at"`
}

// State exports the item for wire transfer or storage.
func (it *Item) State() ItemState {
	return ItemState{
		ID:               it.ID,
		Title:            *it.Title,
		Description:      *it.Description,
		Status:           *it.Status,
		Priority:         *it.Priority,
		AssignedTo:       *it.AssignedTo,
		Progress:         *it.Progress,
		ParentID:         *it.ParentID,
		EstimatedMinutes: *it.EstimatedMinutes,
		ActualMinutes:    *it.ActualMinutes,
		Dependencies:     it.Dependencies.State(),
		Tags:             it.Tags.State(),
		Notes:            it.Notes.State(),
		SubtaskIDs:       it.SubtaskIDs.State(),
		CreatedAt:        it.CreatedAt,
	}
}

// ItemFromState rebuilds an Item from its serialized form.
func ItemFromState(st ItemState) *Item {
	title := st.Title
	desc := st.Description
	status := st.Status
	prio := st.Priority
	assigned := st.AssignedTo
	progress := st.Progress
	parent := st.ParentID
	est := st.EstimatedMinutes
	act := st.ActualMinutes
	return &Item{
		ID:               st.ID,
		Title:            &title,
		Description:      &desc,
		Status:           &status,
		Priority:         &prio,
		AssignedTo:       &assigned,
		Progress:         &progress,
		ParentID:         &parent,
		EstimatedMinutes: &est,
		ActualMinutes:    &act,
		Dependencies:     SetFromState(st.Dependencies),
		Tags:             SetFromState(st.Tags),
		Notes:            SetFromState(st.Notes),
		SubtaskIDs:       SetFromState(st.SubtaskIDs),
		CreatedAt:        st.CreatedAt,
	}
}
