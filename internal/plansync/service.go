// Package plansync keeps shared plans convergent across nodes. Every plan is
// held twice: a plain view for callers and a CRDT item index that actually
// resolves concurrent edits. Mutations increment the plan's vector clock and
// append to a pending operation queue that the exchange or store drains.
package plansync

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/jaakkos/meshwork/internal/crdt"
	"github.com/jaakkos/meshwork/internal/domain"
	"github.com/jaakkos/meshwork/internal/events"
	"github.com/jaakkos/meshwork/internal/policy"
)

// ItemInput carries the caller-supplied fields for a new plan item.
type ItemInput struct {
	ID               string
	Title            string
	Description      string
	Priority         domain.PlanItemPriority
	ParentID         string
	AssignedTo       string
	EstimatedMinutes float64
	Dependencies     []string
	Tags             []string
	Notes            []string
}

// PlanSnapshot is the wire/storage form of a plan: the plain view plus the
// full CRDT state of every item, tagged with the producing node.
type PlanSnapshot struct {
	Plan        domain.Plan               `json:"plan"`
	Items       map[string]crdt.ItemState `json:"items"`
	VectorClock map[string]uint64         `json:"vector_clock"`
	Version     int                       `json:"version"`
	SourceNode  string                    `json:"source_node"`
	TakenAt     int64                     `json:"taken_at"` // epoch millis
}

// planState is everything the service holds for one plan.
type planState struct {
	plan  *domain.Plan
	items map[string]*crdt.Item
	clock *crdt.VectorClock
}

// Service owns the plans of one node.
type Service struct {
	pol    *policy.Policy
	logger *log.Logger
	sink   events.Sink
	node   string

	mu                sync.Mutex
	plans             map[string]*planState
	pending           []*domain.PlanOperation
	applied           map[string]struct{} // op ids already applied or recorded
	conflictsDetected int
	conflictsResolved int
}

// Option configures the service.
type Option func(*Service)

// WithSink sets the event sink.
func WithSink(s events.Sink) Option {
	return func(sv *Service) { sv.sink = s }
}

// New returns a Service writing as node.
func New(pol *policy.Policy, logger *log.Logger, node string, opts ...Option) *Service {
	sv := &Service{
		pol:     pol,
		logger:  logger,
		sink:    events.NopSink{},
		node:    node,
		plans:   make(map[string]*planState),
		applied: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(sv)
	}
	return sv
}

// Node returns the node id this service writes as.
func (s *Service) Node() string { return s.node }

func nowMillis() int64 { return time.Now().UnixMilli() }

// CreatePlan registers a new shared plan owned by owner.
func (s *Service) CreatePlan(name, description, owner string) (*domain.Plan, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: plan name required", domain.ErrInvalid)
	}
	now := time.Now()
	plan := &domain.Plan{
		ID:          domain.NewID("plan"),
		Name:        name,
		Description: description,
		Items:       make(map[string]*domain.PlanItem),
		Owner:       owner,
		TotalPhases: 1,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}

	s.mu.Lock()
	st := &planState{
		plan:  plan,
		items: make(map[string]*crdt.Item),
		clock: crdt.NewVectorClock(s.node),
	}
	s.plans[plan.ID] = st
	s.recordLocked(st, domain.OpPlanUpdated, "", map[string]any{
		"action": "create", "name": name, "description": description, "owner": owner,
	})
	out := s.planViewLocked(st)
	s.mu.Unlock()

	s.logger.Printf("plan %s created by %s: %s", plan.ID, owner, name)
	events.Emit(s.sink, events.PlanCreated, map[string]any{"planId": plan.ID, "owner": owner})
	return out, nil
}

// UpdatePlan applies plan-level updates (name, description, collaborators,
// current_phase, total_phases).
func (s *Service) UpdatePlan(planID string, updates map[string]any) (*domain.Plan, error) {
	s.mu.Lock()
	st, ok := s.plans[planID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("plan %q: %w", planID, domain.ErrNotFound)
	}
	s.applyPlanUpdatesLocked(st, updates)
	s.recordLocked(st, domain.OpPlanUpdated, "", updates)
	out := s.planViewLocked(st)
	s.mu.Unlock()

	events.Emit(s.sink, events.PlanUpdated, map[string]any{"planId": planID})
	return out, nil
}

func (s *Service) applyPlanUpdatesLocked(st *planState, updates map[string]any) {
	if v, ok := asString(updates["name"]); ok && v != "" {
		st.plan.Name = v
	}
	if v, ok := asString(updates["description"]); ok {
		st.plan.Description = v
	}
	if v, ok := asStrings(updates["collaborators"]); ok {
		st.plan.Collaborators = v
	}
	if v, ok := asFloat(updates["current_phase"]); ok {
		st.plan.CurrentPhase = int(v)
	}
	if v, ok := asFloat(updates["total_phases"]); ok {
		st.plan.TotalPhases = int(v)
	}
}

// AddItem adds a plan item; linking to a parent also adds the new id to the
// parent's subtask OR-Set.
func (s *Service) AddItem(planID string, in ItemInput) (*domain.PlanItem, error) {
	if in.Title == "" {
		return nil, fmt.Errorf("%w: item title required", domain.ErrInvalid)
	}
	s.mu.Lock()
	st, ok := s.plans[planID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("plan %q: %w", planID, domain.ErrNotFound)
	}
	ts := nowMillis()
	item := s.addItemLocked(st, in, s.node, ts)
	s.recordLocked(st, domain.OpItemAdded, item.ID, itemPayload(in, item.ID))
	out := st.plan.Items[item.ID]
	cp := *out
	s.mu.Unlock()

	events.Emit(s.sink, events.ItemAdded, map[string]any{"planId": planID, "itemId": item.ID})
	return &cp, nil
}

func (s *Service) addItemLocked(st *planState, in ItemInput, node string, ts int64) *crdt.Item {
	id := in.ID
	if id == "" {
		id = domain.NewID("item")
	}
	item, exists := st.items[id]
	if !exists {
		item = crdt.NewItem(id, ts)
		st.items[id] = item
	}
	item.Title.Set(in.Title, node, ts)
	if in.Description != "" {
		item.Description.Set(in.Description, node, ts)
	}
	if in.Priority != "" {
		item.Priority.Set(in.Priority, node, ts)
	}
	if in.AssignedTo != "" {
		item.AssignedTo.Set(in.AssignedTo, node, ts)
	}
	if in.EstimatedMinutes > 0 {
		item.EstimatedMinutes.Set(in.EstimatedMinutes, node, ts)
	}
	if in.ParentID != "" {
		item.ParentID.Set(in.ParentID, node, ts)
		if parent, ok := st.items[in.ParentID]; ok {
			parent.SubtaskIDs.Add(id, node, ts)
		}
	}
	for _, d := range in.Dependencies {
		item.Dependencies.Add(d, node, ts)
	}
	for _, t := range in.Tags {
		item.Tags.Add(t, node, ts)
	}
	for _, n := range in.Notes {
		item.Notes.Add(n, node, ts)
	}
	s.refreshItemLocked(st, id)
	if in.ParentID != "" {
		s.refreshItemLocked(st, in.ParentID)
	}
	return item
}

// UpdateItem applies field updates to an item. Collection fields use
// add_/remove_ prefixed keys (add_tags, remove_dependencies, add_notes).
func (s *Service) UpdateItem(planID, itemID string, updates map[string]any) (*domain.PlanItem, error) {
	s.mu.Lock()
	st, ok := s.plans[planID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("plan %q: %w", planID, domain.ErrNotFound)
	}
	if _, ok := st.items[itemID]; !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("item %q: %w", itemID, domain.ErrNotFound)
	}
	s.updateItemLocked(st, itemID, updates, s.node, nowMillis())
	s.recordLocked(st, domain.OpItemUpdated, itemID, updates)
	cp := *st.plan.Items[itemID]
	s.mu.Unlock()

	events.Emit(s.sink, events.ItemUpdated, map[string]any{"planId": planID, "itemId": itemID})
	return &cp, nil
}

func (s *Service) updateItemLocked(st *planState, itemID string, updates map[string]any, node string, ts int64) {
	item, ok := st.items[itemID]
	if !ok {
		return
	}
	if v, ok := asString(updates["title"]); ok && v != "" {
		item.Title.Set(v, node, ts)
	}
	if v, ok := asString(updates["description"]); ok {
		item.Description.Set(v, node, ts)
	}
	if v, ok := asString(updates["priority"]); ok && v != "" {
		item.Priority.Set(domain.PlanItemPriority(v), node, ts)
	}
	if v, ok := asString(updates["status"]); ok && v != "" {
		item.Status.Set(domain.PlanItemStatus(v), node, ts)
	}
	if v, ok := asString(updates["assigned_to"]); ok {
		item.AssignedTo.Set(v, node, ts)
	}
	if v, ok := asFloat(updates["progress"]); ok {
		item.Progress.Set(clampProgress(v), node, ts)
	}
	if v, ok := asFloat(updates["estimated_minutes"]); ok {
		item.EstimatedMinutes.Set(v, node, ts)
	}
	if v, ok := asFloat(updates["actual_minutes"]); ok {
		item.ActualMinutes.Set(v, node, ts)
	}
	for key, set := range map[string]*crdt.ORSet{
		"dependencies": item.Dependencies,
		"tags":         item.Tags,
		"notes":        item.Notes,
		"subtask_ids":  item.SubtaskIDs,
	} {
		if vs, ok := asStrings(updates["add_"+key]); ok {
			for _, v := range vs {
				set.Add(v, node, ts)
			}
		}
		if vs, ok := asStrings(updates["remove_"+key]); ok {
			for _, v := range vs {
				set.Remove(v, node, ts)
			}
		}
	}
	s.refreshItemLocked(st, itemID)
}

// UpdateItemStatus sets an item's status. Completing auto-sets progress to
// 100 unless the caller supplies an explicit progress.
func (s *Service) UpdateItemStatus(planID, itemID string, status domain.PlanItemStatus, progress *float64) (*domain.PlanItem, error) {
	updates := map[string]any{"status": string(status)}
	switch {
	case progress != nil:
		updates["progress"] = *progress
	case status == domain.ItemCompleted:
		updates["progress"] = 100.0
	}

	s.mu.Lock()
	st, ok := s.plans[planID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("plan %q: %w", planID, domain.ErrNotFound)
	}
	if _, ok := st.items[itemID]; !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("item %q: %w", itemID, domain.ErrNotFound)
	}
	s.updateItemLocked(st, itemID, updates, s.node, nowMillis())
	s.recordLocked(st, domain.OpStatusSet, itemID, updates)
	cp := *st.plan.Items[itemID]
	s.mu.Unlock()

	events.Emit(s.sink, events.StatusUpdated, map[string]any{
		"planId": planID, "itemId": itemID, "status": status,
	})
	return &cp, nil
}

// AssignItem sets the item's assignee.
func (s *Service) AssignItem(planID, itemID, agentID string) (*domain.PlanItem, error) {
	s.mu.Lock()
	st, ok := s.plans[planID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("plan %q: %w", planID, domain.ErrNotFound)
	}
	item, ok := st.items[itemID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("item %q: %w", itemID, domain.ErrNotFound)
	}
	item.AssignedTo.Set(agentID, s.node, nowMillis())
	s.refreshItemLocked(st, itemID)
	s.recordLocked(st, domain.OpItemAssigned, itemID, map[string]any{"assigned_to": agentID})
	cp := *st.plan.Items[itemID]
	s.mu.Unlock()

	events.Emit(s.sink, events.ItemAssigned, map[string]any{
		"planId": planID, "itemId": itemID, "agentId": agentID,
	})
	return &cp, nil
}

// DeleteItem removes the item from the plan and the CRDT index and removes
// its id from the parent's subtask set. A concurrent add of the same subtask
// id on another node survives the OR-Set merge; that resurfacing is correct.
func (s *Service) DeleteItem(planID, itemID string) error {
	s.mu.Lock()
	st, ok := s.plans[planID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("plan %q: %w", planID, domain.ErrNotFound)
	}
	if _, ok := st.items[itemID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("item %q: %w", itemID, domain.ErrNotFound)
	}
	s.deleteItemLocked(st, itemID, s.node, nowMillis())
	s.recordLocked(st, domain.OpItemDeleted, itemID, nil)
	s.mu.Unlock()

	events.Emit(s.sink, events.ItemDeleted, map[string]any{"planId": planID, "itemId": itemID})
	return nil
}

func (s *Service) deleteItemLocked(st *planState, itemID, node string, ts int64) {
	item, ok := st.items[itemID]
	if !ok {
		return
	}
	if parentID := item.ParentID.Value; parentID != "" {
		if parent, ok := st.items[parentID]; ok {
			parent.SubtaskIDs.Remove(itemID, node, ts)
			s.refreshItemLocked(st, parentID)
		}
	}
	delete(st.items, itemID)
	delete(st.plan.Items, itemID)
	s.recomputeLocked(st)
}

// GetPlan returns the plain view of a plan.
func (s *Service) GetPlan(planID string) (*domain.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.plans[planID]
	if !ok {
		return nil, fmt.Errorf("plan %q: %w", planID, domain.ErrNotFound)
	}
	return s.planViewLocked(st), nil
}

// Plans returns the ids of every plan held locally.
func (s *Service) Plans() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.plans))
	for id := range s.plans {
		out = append(out, id)
	}
	return out
}

// Snapshot exports the full CRDT state of a plan for transfer or storage.
func (s *Service) Snapshot(planID string) (*PlanSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.plans[planID]
	if !ok {
		return nil, fmt.Errorf("plan %q: %w", planID, domain.ErrNotFound)
	}
	snap := &PlanSnapshot{
		Plan:        *s.planViewLocked(st),
		Items:       make(map[string]crdt.ItemState, len(st.items)),
		VectorClock: st.clock.Snapshot(),
		Version:     st.plan.Version,
		SourceNode:  s.node,
		TakenAt:     nowMillis(),
	}
	for id, item := range st.items {
		snap.Items[id] = item.State()
	}
	return snap, nil
}

// ApplySnapshot merges a remote snapshot into local state. Causally older
// snapshots are ignored; newer ones replace local state; concurrent ones
// merge item by item and bump the version past both sides.
func (s *Service) ApplySnapshot(snap *PlanSnapshot) error {
	if snap == nil || snap.Plan.ID == "" {
		return fmt.Errorf("%w: snapshot missing plan", domain.ErrInvalid)
	}
	if snap.SourceNode == s.node {
		return nil
	}
	remoteClock := crdt.FromEntries(snap.SourceNode, snap.VectorClock)

	s.mu.Lock()
	st, known := s.plans[snap.Plan.ID]
	if !known {
		s.adoptSnapshotLocked(snap, remoteClock)
		s.mu.Unlock()
		events.Emit(s.sink, events.PlanUpdated, map[string]any{
			"planId": snap.Plan.ID, "source": snap.SourceNode,
		})
		return nil
	}

	switch st.clock.Compare(remoteClock) {
	case crdt.After, crdt.Equal:
		s.mu.Unlock()
		return nil
	case crdt.Before:
		s.adoptSnapshotLocked(snap, remoteClock)
		s.mu.Unlock()
		events.Emit(s.sink, events.PlanUpdated, map[string]any{
			"planId": snap.Plan.ID, "source": snap.SourceNode,
		})
		return nil
	}

	// Concurrent: item-wise merge, adopt unknown remote items verbatim.
	for id, state := range snap.Items {
		remote := crdt.ItemFromState(state)
		if local, ok := st.items[id]; ok {
			st.items[id] = local.Merge(remote)
		} else {
			st.items[id] = remote
		}
	}
	st.clock.Merge(remoteClock)
	if snap.Version > st.plan.Version {
		st.plan.Version = snap.Version
	}
	st.plan.Version++
	s.rebuildPlainLocked(st)
	s.conflictsResolved++
	s.mu.Unlock()

	s.logger.Printf("plan %s: concurrent snapshot from %s merged", snap.Plan.ID, snap.SourceNode)
	events.Emit(s.sink, events.ConflictDetected, map[string]any{
		"planId": snap.Plan.ID, "source": snap.SourceNode, "kind": "snapshot",
	})
	events.Emit(s.sink, events.PlanUpdated, map[string]any{
		"planId": snap.Plan.ID, "source": snap.SourceNode,
	})
	return nil
}

// Restore materializes a stored snapshot, including one this node produced
// itself in an earlier process. Used at startup before any mutations.
func (s *Service) Restore(snap *PlanSnapshot) error {
	if snap == nil || snap.Plan.ID == "" {
		return fmt.Errorf("%w: snapshot missing plan", domain.ErrInvalid)
	}
	s.mu.Lock()
	s.adoptSnapshotLocked(snap, crdt.FromEntries(snap.SourceNode, snap.VectorClock))
	s.mu.Unlock()
	return nil
}

// adoptSnapshotLocked materializes remote state wholesale, keeping the local
// node as the clock owner.
func (s *Service) adoptSnapshotLocked(snap *PlanSnapshot, remoteClock *crdt.VectorClock) {
	plan := snap.Plan
	plan.Items = make(map[string]*domain.PlanItem, len(snap.Items))
	st := &planState{
		plan:  &plan,
		items: make(map[string]*crdt.Item, len(snap.Items)),
		clock: crdt.NewVectorClock(s.node),
	}
	if existing, ok := s.plans[plan.ID]; ok {
		st.clock = existing.clock
	}
	st.clock.Merge(remoteClock)
	for id, state := range snap.Items {
		st.items[id] = crdt.ItemFromState(state)
	}
	if snap.Version > plan.Version {
		plan.Version = snap.Version
	}
	s.plans[plan.ID] = st
	s.rebuildPlainLocked(st)
}

// ApplyOperation applies one remote operation, idempotent by operation id.
// A concurrent operation bumps the conflicts-detected counter; the intent is
// then reapplied with the remote (timestamp, node) so the LWW and OR-Set
// layers resolve it identically on every node.
func (s *Service) ApplyOperation(op *domain.PlanOperation) error {
	if op == nil || op.ID == "" {
		return fmt.Errorf("%w: operation missing id", domain.ErrInvalid)
	}
	s.mu.Lock()
	if _, done := s.applied[op.ID]; done {
		s.mu.Unlock()
		return nil
	}
	st, ok := s.plans[op.PlanID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("plan %q: %w", op.PlanID, domain.ErrNotFound)
	}
	remoteClock := crdt.FromEntries(op.SourceNode, op.VectorClock)
	concurrent := st.clock.ConcurrentWith(remoteClock)
	if concurrent {
		s.conflictsDetected++
	}
	st.clock.Merge(remoteClock)

	switch op.Type {
	case domain.OpPlanUpdated:
		s.applyPlanUpdatesLocked(st, op.Payload)
	case domain.OpItemAdded:
		s.addItemLocked(st, itemInputFromPayload(op.Payload, op.ItemID), op.SourceNode, op.Timestamp)
	case domain.OpItemUpdated, domain.OpStatusSet, domain.OpItemAssigned:
		s.updateItemLocked(st, op.ItemID, op.Payload, op.SourceNode, op.Timestamp)
	case domain.OpItemDeleted:
		s.deleteItemLocked(st, op.ItemID, op.SourceNode, op.Timestamp)
	default:
		s.mu.Unlock()
		return fmt.Errorf("%w: operation type %q", domain.ErrInvalid, op.Type)
	}
	s.applied[op.ID] = struct{}{}
	st.plan.Version++
	s.recomputeLocked(st)
	s.mu.Unlock()

	if concurrent {
		events.Emit(s.sink, events.ConflictDetected, map[string]any{
			"planId": op.PlanID, "opId": op.ID, "source": op.SourceNode, "kind": "operation",
		})
	}
	events.Emit(s.sink, events.OperationApplied, map[string]any{
		"planId": op.PlanID, "opId": op.ID, "type": op.Type,
	})
	return nil
}

// FlushOperations drains and returns the pending operation queue, oldest
// first. The exchange and store call this after mutations.
func (s *Service) FlushOperations() []*domain.PlanOperation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out
}

// PendingOperations reports the current queue length.
func (s *Service) PendingOperations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// ConflictsDetected returns how many concurrent operations were seen.
func (s *Service) ConflictsDetected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conflictsDetected
}

// ConflictsResolved returns how many concurrent snapshot merges completed.
func (s *Service) ConflictsResolved() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conflictsResolved
}

// recordLocked increments the clock, snapshots it into a new operation, and
// queues the operation. Local operations are pre-marked applied so an echo
// through the exchange is a no-op.
func (s *Service) recordLocked(st *planState, typ domain.OperationType, itemID string, payload map[string]any) {
	st.clock.Increment()
	op := &domain.PlanOperation{
		ID:          domain.NewID("op"),
		PlanID:      st.plan.ID,
		Type:        typ,
		ItemID:      itemID,
		Payload:     payload,
		SourceNode:  s.node,
		Timestamp:   nowMillis(),
		VectorClock: st.clock.Snapshot(),
	}
	s.pending = append(s.pending, op)
	s.applied[op.ID] = struct{}{}
	st.plan.Version++
	s.recomputeLocked(st)
	events.Emit(s.sink, events.OperationRecorded, map[string]any{
		"planId": st.plan.ID, "opId": op.ID, "type": typ,
	})
}

// refreshItemLocked re-projects one item's plain view and recomputes derived
// plan fields.
func (s *Service) refreshItemLocked(st *planState, itemID string) {
	if item, ok := st.items[itemID]; ok {
		st.plan.Items[itemID] = item.Snapshot()
	}
	s.recomputeLocked(st)
}

// rebuildPlainLocked re-projects every item.
func (s *Service) rebuildPlainLocked(st *planState) {
	st.plan.Items = make(map[string]*domain.PlanItem, len(st.items))
	for id, item := range st.items {
		st.plan.Items[id] = item.Snapshot()
	}
	s.recomputeLocked(st)
}

// recomputeLocked re-derives overall progress (rounded mean of item
// progresses) and refreshes bookkeeping fields.
func (s *Service) recomputeLocked(st *planState) {
	if len(st.plan.Items) == 0 {
		st.plan.OverallProgress = 0
	} else {
		sum := 0.0
		for _, item := range st.plan.Items {
			sum += item.Progress
		}
		st.plan.OverallProgress = math.Round(sum / float64(len(st.plan.Items)))
	}
	st.plan.UpdatedAt = time.Now()
	st.plan.VectorClock = st.clock.Snapshot()
}

// planViewLocked returns a deep copy of the plain view.
func (s *Service) planViewLocked(st *planState) *domain.Plan {
	cp := *st.plan
	cp.Collaborators = append([]string(nil), st.plan.Collaborators...)
	cp.Items = make(map[string]*domain.PlanItem, len(st.plan.Items))
	for id, item := range st.plan.Items {
		ic := *item
		cp.Items[id] = &ic
	}
	cp.VectorClock = st.clock.Snapshot()
	return &cp
}

func clampProgress(p float64) float64 {
	return math.Max(0, math.Min(100, p))
}

func itemPayload(in ItemInput, id string) map[string]any {
	p := map[string]any{"id": id, "title": in.Title}
	if in.Description != "" {
		p["description"] = in.Description
	}
	if in.Priority != "" {
		p["priority"] = string(in.Priority)
	}
	if in.ParentID != "" {
		p["parent_id"] = in.ParentID
	}
	if in.AssignedTo != "" {
		p["assigned_to"] = in.AssignedTo
	}
	if in.EstimatedMinutes > 0 {
		p["estimated_minutes"] = in.EstimatedMinutes
	}
	if len(in.Dependencies) > 0 {
		p["dependencies"] = in.Dependencies
	}
	if len(in.Tags) > 0 {
		p["tags"] = in.Tags
	}
	if len(in.Notes) > 0 {
		p["notes"] = in.Notes
	}
	return p
}

func itemInputFromPayload(p map[string]any, itemID string) ItemInput {
	in := ItemInput{ID: itemID}
	if v, ok := asString(p["id"]); ok && in.ID == "" {
		in.ID = v
	}
	in.Title, _ = asString(p["title"])
	in.Description, _ = asString(p["description"])
	if v, ok := asString(p["priority"]); ok {
		in.Priority = domain.PlanItemPriority(v)
	}
	in.ParentID, _ = asString(p["parent_id"])
	in.AssignedTo, _ = asString(p["assigned_to"])
	in.EstimatedMinutes, _ = asFloat(p["estimated_minutes"])
	in.Dependencies, _ = asStrings(p["dependencies"])
	in.Tags, _ = asStrings(p["tags"])
	in.Notes, _ = asStrings(p["notes"])
	return in
}

// Payload values may arrive as native Go values or as decoded JSON; these
// helpers accept both shapes.
func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func asStrings(v any) ([]string, bool) {
	switch vs := v.(type) {
	case []string:
		return append([]string(nil), vs...), true
	case []any:
		out := make([]string, 0, len(vs))
		for _, e := range vs {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	}
	return nil, false
}
