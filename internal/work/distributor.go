// Package work implements the work distributor: task lifecycle, claims with
// optimistic locking, claim/progress timeouts, retries, and dependency-driven
// unblocking.
package work

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jaakkos/meshwork/internal/bus"
	"github.com/jaakkos/meshwork/internal/domain"
	"github.com/jaakkos/meshwork/internal/events"
	"github.com/jaakkos/meshwork/internal/policy"
	"github.com/jaakkos/meshwork/internal/registry"
)

// AnyVersion disables the optimistic-lock check on a claim.
const AnyVersion = -1

// StatusTopic is the bus topic task lifecycle transitions are published on.
const StatusTopic = "task.status"

// TaskOptions customizes CreateTask. Zero values fall back to defaults
// (normal priority, policy max retries).
type TaskOptions struct {
	Priority             domain.MessagePriority
	RequiredRole         domain.AgentRole
	RequiredCapabilities []string
	Dependencies         []string
	EstimatedMinutes     float64
	ParentTaskID         string
	Metadata             map[string]any
	MaxRetries           int
}

// Distributor owns Task records. Every lifecycle transition emits a local
// event and, when a bus is wired, a task.status topic publication.
type Distributor struct {
	pol    *policy.Policy
	logger *log.Logger
	sink   events.Sink
	reg    *registry.Registry
	bus    *bus.Bus

	mu             sync.Mutex
	tasks          map[string]*domain.Task
	claimTimers    map[string]*time.Timer
	progressTimers map[string]*time.Timer
}

// Option configures the distributor.
type Option func(*Distributor)

// WithSink sets the event sink.
func WithSink(s events.Sink) Option {
	return func(d *Distributor) { d.sink = s }
}

// WithBus wires the bus for task.status publications.
func WithBus(b *bus.Bus) Option {
	return func(d *Distributor) { d.bus = b }
}

// New returns a Distributor backed by the registry for agent eligibility.
func New(pol *policy.Policy, reg *registry.Registry, logger *log.Logger, opts ...Option) *Distributor {
	d := &Distributor{
		pol:            pol,
		logger:         logger,
		sink:           events.NopSink{},
		reg:            reg,
		tasks:          make(map[string]*domain.Task),
		claimTimers:    make(map[string]*time.Timer),
		progressTimers: make(map[string]*time.Timer),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// CreateTask validates dependencies and registers a new task. The initial
// status is available unless a dependency is incomplete, in which case the
// task starts blocked.
func (d *Distributor) CreateTask(title, description string, opts TaskOptions) (*domain.Task, error) {
	if title == "" {
		return nil, fmt.Errorf("%w: task title required", domain.ErrInvalid)
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityNormal
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = d.pol.MaxRetries()
	}

	d.mu.Lock()
	for _, dep := range opts.Dependencies {
		if _, ok := d.tasks[dep]; !ok {
			d.mu.Unlock()
			return nil, fmt.Errorf("%w: dependency task %q not found", domain.ErrInvalid, dep)
		}
	}

	now := time.Now()
	t := &domain.Task{
		ID:                   domain.NewID("task"),
		Title:                title,
		Description:          description,
		Status:               domain.TaskAvailable,
		Priority:             opts.Priority,
		RequiredRole:         opts.RequiredRole,
		RequiredCapabilities: append([]string(nil), opts.RequiredCapabilities...),
		Dependencies:         append([]string(nil), opts.Dependencies...),
		CreatedAt:            now,
		UpdatedAt:            now,
		EstimatedMinutes:     opts.EstimatedMinutes,
		Metadata:             opts.Metadata,
		ParentTaskID:         opts.ParentTaskID,
		MaxRetries:           opts.MaxRetries,
	}
	if !d.dependenciesMetLocked(t) {
		t.Status = domain.TaskBlocked
	}
	if opts.ParentTaskID != "" {
		if parent, ok := d.tasks[opts.ParentTaskID]; ok {
			parent.SubtaskIDs = append(parent.SubtaskIDs, t.ID)
		}
	}
	d.tasks[t.ID] = t
	out := t.Clone()
	d.mu.Unlock()

	d.logger.Printf("task %s created: %s (status=%s)", t.ID, title, out.Status)
	events.Emit(d.sink, events.TaskCreated, map[string]any{"taskId": t.ID, "status": out.Status})
	d.publishStatus(t.ID, out.Status, "", nil)
	return out, nil
}

func (d *Distributor) dependenciesMetLocked(t *domain.Task) bool {
	for _, dep := range t.Dependencies {
		if other, ok := d.tasks[dep]; !ok || other.Status != domain.TaskCompleted {
			return false
		}
	}
	return true
}

// ClaimTask is the central consistency point. expectedVersion of AnyVersion
// skips the optimistic-lock check. Expected negative outcomes come back in
// the ClaimResult rather than as an error.
func (d *Distributor) ClaimTask(taskID, agentID string, expectedVersion int) domain.ClaimResult {
	d.mu.Lock()
	t, ok := d.tasks[taskID]
	if !ok {
		d.mu.Unlock()
		return domain.ClaimResult{
			Reason: fmt.Sprintf("task %q not found", taskID),
			Kind:   domain.ErrNotFound,
		}
	}

	if t.Status == domain.TaskBlocked || !d.dependenciesMetLocked(t) {
		res := domain.ClaimResult{
			Reason: "task has incomplete dependencies",
			Kind:   domain.ErrDependenciesPending,
		}
		d.mu.Unlock()
		return res
	}
	if t.Status != domain.TaskAvailable {
		res := domain.ClaimResult{
			Reason: fmt.Sprintf("task is %s", t.Status),
			Kind:   domain.ErrAlreadyClaimed,
		}
		if t.ClaimedBy != "" {
			res.Conflict = &domain.ClaimConflict{
				ClaimedBy:    t.ClaimedBy,
				ClaimedAt:    t.ClaimedAt,
				ClaimVersion: t.ClaimVersion,
			}
		}
		d.mu.Unlock()
		return res
	}
	if expectedVersion != AnyVersion && expectedVersion != t.ClaimVersion {
		res := domain.ClaimResult{
			Reason: fmt.Sprintf("claim version is %d, expected %d", t.ClaimVersion, expectedVersion),
			Kind:   domain.ErrVersionMismatch,
			Conflict: &domain.ClaimConflict{
				ClaimedBy:    t.ClaimedBy,
				ClaimedAt:    t.ClaimedAt,
				ClaimVersion: t.ClaimVersion,
			},
		}
		d.mu.Unlock()
		return res
	}
	if reason := d.eligibility(t, agentID); reason != "" {
		d.mu.Unlock()
		return domain.ClaimResult{Reason: reason, Kind: domain.ErrIneligible}
	}

	now := time.Now()
	t.Status = domain.TaskClaimed
	t.ClaimedBy = agentID
	t.ClaimedAt = now
	t.ClaimVersion++
	t.UpdatedAt = now
	version := t.ClaimVersion
	d.scheduleClaimTimeoutLocked(t.ID, version)
	out := t.Clone()
	d.mu.Unlock()

	if err := d.reg.UpdateCurrentTask(agentID, taskID); err != nil {
		d.logger.Printf("claim %s: current-task link failed: %v", taskID, err)
	}
	d.logger.Printf("task %s claimed by %s (version %d)", taskID, agentID, version)
	events.Emit(d.sink, events.TaskClaimed, map[string]any{
		"taskId": taskID, "agentId": agentID, "claimVersion": version,
	})
	d.publishStatus(taskID, domain.TaskClaimed, agentID, nil)
	return domain.ClaimResult{Success: true, Task: out}
}

// eligibility returns a human-readable reason when the agent cannot take the
// task, or "" when eligible. Registry reads happen outside the registry's
// mutations, but the distributor lock is held; the registry never calls back
// into the distributor under its own lock.
func (d *Distributor) eligibility(t *domain.Task, agentID string) string {
	a, ok := d.reg.Get(agentID)
	if !ok {
		return fmt.Sprintf("agent %q is not registered", agentID)
	}
	if a.Status != domain.AgentActive && a.Status != domain.AgentIdle {
		return fmt.Sprintf("agent %q is %s, not active or idle", agentID, a.Status)
	}
	if t.RequiredRole != "" && a.Role != t.RequiredRole {
		return fmt.Sprintf("task requires role %s, agent is %s", t.RequiredRole, a.Role)
	}
	for _, cap := range t.RequiredCapabilities {
		if !a.HasCapability(cap) {
			return fmt.Sprintf("agent lacks required capability %q", cap)
		}
	}
	return ""
}

// scheduleClaimTimeoutLocked installs the one-shot claim timer. The captured
// claim version guards against releasing a later claim.
func (d *Distributor) scheduleClaimTimeoutLocked(taskID string, version int) {
	d.cancelTimersLocked(taskID)
	d.claimTimers[taskID] = time.AfterFunc(d.pol.ClaimTimeout(), func() {
		d.claimTimeoutFired(taskID, version)
	})
}

func (d *Distributor) claimTimeoutFired(taskID string, version int) {
	d.mu.Lock()
	t, ok := d.tasks[taskID]
	if !ok || t.Status != domain.TaskClaimed || t.ClaimVersion != version {
		d.mu.Unlock()
		return
	}
	agentID := t.ClaimedBy
	t.Status = domain.TaskAvailable
	t.ClaimedBy = ""
	t.ClaimedAt = time.Time{}
	t.UpdatedAt = time.Now()
	delete(d.claimTimers, taskID)
	d.mu.Unlock()

	if agentID != "" {
		if err := d.reg.UpdateCurrentTask(agentID, ""); err != nil {
			d.logger.Printf("claim timeout %s: clearing current task failed: %v", taskID, err)
		}
	}
	d.logger.Printf("task %s claim timed out, released from %s", taskID, agentID)
	events.Emit(d.sink, events.ClaimTimeout, map[string]any{"taskId": taskID, "agentId": agentID})
	d.publishStatus(taskID, domain.TaskAvailable, agentID, map[string]any{"cause": "claimTimeout"})
}

// StartTask transitions claimed to in_progress for the current claimant,
// cancels the claim timer, and installs the advisory progress timer.
func (d *Distributor) StartTask(taskID, agentID string) error {
	d.mu.Lock()
	t, ok := d.tasks[taskID]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("task %q: %w", taskID, domain.ErrNotFound)
	}
	if t.Status != domain.TaskClaimed || t.ClaimedBy != agentID {
		status, claimedBy := t.Status, t.ClaimedBy
		d.mu.Unlock()
		return fmt.Errorf("%w: task %q is %s (claimed by %q)", domain.ErrInvalid, taskID, status, claimedBy)
	}
	now := time.Now()
	t.Status = domain.TaskInProgress
	t.StartedAt = now
	t.UpdatedAt = now
	d.cancelTimersLocked(taskID)
	d.progressTimers[taskID] = time.AfterFunc(d.pol.ProgressTimeout(), func() {
		d.progressTimeoutFired(taskID)
	})
	d.mu.Unlock()

	events.Emit(d.sink, events.TaskStarted, map[string]any{"taskId": taskID, "agentId": agentID})
	d.publishStatus(taskID, domain.TaskInProgress, agentID, nil)
	return nil
}

// progressTimeoutFired is advisory only: the task keeps running so a
// coordinator can decide whether to intervene.
func (d *Distributor) progressTimeoutFired(taskID string) {
	d.mu.Lock()
	t, ok := d.tasks[taskID]
	if !ok || t.Status != domain.TaskInProgress {
		d.mu.Unlock()
		return
	}
	agentID := t.ClaimedBy
	delete(d.progressTimers, taskID)
	d.mu.Unlock()

	events.Emit(d.sink, events.ProgressTimeout, map[string]any{"taskId": taskID, "agentId": agentID})
	d.publishStatus(taskID, domain.TaskInProgress, agentID, map[string]any{"cause": "progressTimeout"})
}

// CompleteTask finalizes a task, records actual time, unblocks dependents,
// and clears the agent's current-task link.
func (d *Distributor) CompleteTask(taskID, agentID string, result any) error {
	d.mu.Lock()
	t, ok := d.tasks[taskID]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("task %q: %w", taskID, domain.ErrNotFound)
	}
	if (t.Status != domain.TaskClaimed && t.Status != domain.TaskInProgress) || t.ClaimedBy != agentID {
		status := t.Status
		d.mu.Unlock()
		return fmt.Errorf("%w: task %q is %s and not held by %q", domain.ErrInvalid, taskID, status, agentID)
	}
	now := time.Now()
	t.Status = domain.TaskCompleted
	t.CompletedAt = now
	t.Result = result
	started := t.StartedAt
	if started.IsZero() {
		started = t.ClaimedAt
	}
	t.ActualMinutes = now.Sub(started).Minutes()
	t.UpdatedAt = now
	d.cancelTimersLocked(taskID)
	unblocked := d.unblockDependentsLocked(taskID)
	d.mu.Unlock()

	if err := d.reg.UpdateCurrentTask(agentID, ""); err != nil {
		d.logger.Printf("complete %s: clearing current task failed: %v", taskID, err)
	}
	d.logger.Printf("task %s completed by %s (%.1f min)", taskID, agentID, t.ActualMinutes)
	events.Emit(d.sink, events.TaskCompleted, map[string]any{"taskId": taskID, "agentId": agentID})
	d.publishStatus(taskID, domain.TaskCompleted, agentID, nil)
	for _, id := range unblocked {
		events.Emit(d.sink, events.TaskUnblocked, map[string]any{"taskId": id})
		d.publishStatus(id, domain.TaskAvailable, "", map[string]any{"cause": "taskUnblocked"})
	}
	return nil
}

// unblockDependentsLocked moves blocked tasks whose dependencies are now all
// completed to available, returning their ids.
func (d *Distributor) unblockDependentsLocked(completedID string) []string {
	var unblocked []string
	for _, t := range d.tasks {
		if t.Status != domain.TaskBlocked {
			continue
		}
		depends := false
		for _, dep := range t.Dependencies {
			if dep == completedID {
				depends = true
				break
			}
		}
		if !depends || !d.dependenciesMetLocked(t) {
			continue
		}
		t.Status = domain.TaskAvailable
		t.UpdatedAt = time.Now()
		unblocked = append(unblocked, t.ID)
	}
	return unblocked
}

// FailTask increments the retry count. Below the retry budget the task
// returns to available with its claim version retained; at the budget it is
// failed for good.
func (d *Distributor) FailTask(taskID, agentID, errMsg string) error {
	d.mu.Lock()
	t, ok := d.tasks[taskID]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("task %q: %w", taskID, domain.ErrNotFound)
	}
	if (t.Status != domain.TaskClaimed && t.Status != domain.TaskInProgress) || t.ClaimedBy != agentID {
		status := t.Status
		d.mu.Unlock()
		return fmt.Errorf("%w: task %q is %s and not held by %q", domain.ErrInvalid, taskID, status, agentID)
	}
	now := time.Now()
	t.RetryCount++
	t.Error = errMsg
	t.UpdatedAt = now
	retrying := t.RetryCount < t.MaxRetries
	if retrying {
		t.Status = domain.TaskAvailable
		t.ClaimedBy = ""
		t.ClaimedAt = time.Time{}
		t.StartedAt = time.Time{}
	} else {
		t.Status = domain.TaskFailed
	}
	retryCount := t.RetryCount
	status := t.Status
	d.cancelTimersLocked(taskID)
	d.mu.Unlock()

	if err := d.reg.UpdateCurrentTask(agentID, ""); err != nil {
		d.logger.Printf("fail %s: clearing current task failed: %v", taskID, err)
	}
	if retrying {
		d.logger.Printf("task %s failed (attempt %d), released for retry", taskID, retryCount)
		events.Emit(d.sink, events.TaskRetrying, map[string]any{
			"taskId": taskID, "agentId": agentID, "retryCount": retryCount,
		})
	} else {
		d.logger.Printf("task %s failed permanently: %s", taskID, errMsg)
		events.Emit(d.sink, events.TaskFailed, map[string]any{
			"taskId": taskID, "agentId": agentID, "error": errMsg,
		})
	}
	d.publishStatus(taskID, status, agentID, map[string]any{"error": errMsg, "retryCount": retryCount})
	return nil
}

// ReleaseTask returns a held task to available without counting a retry.
func (d *Distributor) ReleaseTask(taskID, agentID string) error {
	d.mu.Lock()
	t, ok := d.tasks[taskID]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("task %q: %w", taskID, domain.ErrNotFound)
	}
	if (t.Status != domain.TaskClaimed && t.Status != domain.TaskInProgress) || t.ClaimedBy != agentID {
		status := t.Status
		d.mu.Unlock()
		return fmt.Errorf("%w: task %q is %s and not held by %q", domain.ErrInvalid, taskID, status, agentID)
	}
	t.Status = domain.TaskAvailable
	t.ClaimedBy = ""
	t.ClaimedAt = time.Time{}
	t.StartedAt = time.Time{}
	t.UpdatedAt = time.Now()
	d.cancelTimersLocked(taskID)
	d.mu.Unlock()

	if err := d.reg.UpdateCurrentTask(agentID, ""); err != nil {
		d.logger.Printf("release %s: clearing current task failed: %v", taskID, err)
	}
	events.Emit(d.sink, events.TaskReleased, map[string]any{"taskId": taskID, "agentId": agentID})
	d.publishStatus(taskID, domain.TaskAvailable, agentID, map[string]any{"cause": "released"})
	return nil
}

// CancelTask cancels a task. Cancelling is idempotent except that a
// completed task cannot be cancelled.
func (d *Distributor) CancelTask(taskID string) bool {
	d.mu.Lock()
	t, ok := d.tasks[taskID]
	if !ok {
		d.mu.Unlock()
		return false
	}
	if t.Status == domain.TaskCompleted {
		d.mu.Unlock()
		return false
	}
	if t.Status == domain.TaskCancelled {
		d.mu.Unlock()
		return true
	}
	agentID := t.ClaimedBy
	t.Status = domain.TaskCancelled
	t.ClaimedBy = ""
	t.UpdatedAt = time.Now()
	d.cancelTimersLocked(taskID)
	d.mu.Unlock()

	if agentID != "" {
		if err := d.reg.UpdateCurrentTask(agentID, ""); err != nil {
			d.logger.Printf("cancel %s: clearing current task failed: %v", taskID, err)
		}
	}
	events.Emit(d.sink, events.TaskCancelled, map[string]any{"taskId": taskID})
	d.publishStatus(taskID, domain.TaskCancelled, agentID, nil)
	return true
}

func (d *Distributor) cancelTimersLocked(taskID string) {
	if timer, ok := d.claimTimers[taskID]; ok {
		timer.Stop()
		delete(d.claimTimers, taskID)
	}
	if timer, ok := d.progressTimers[taskID]; ok {
		timer.Stop()
		delete(d.progressTimers, taskID)
	}
}

// GetTask returns a copy of the task.
func (d *Distributor) GetTask(taskID string) (*domain.Task, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tasks[taskID]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// GetTasks returns copies of tasks matching the filter, ordered by priority
// then oldest first.
func (d *Distributor) GetTasks(f domain.TaskFilter) []*domain.Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*domain.Task
	for _, t := range d.tasks {
		if f.Matches(t) {
			out = append(out, t.Clone())
		}
	}
	sortTasks(out)
	return out
}

// PendingFor counts available, dependency-satisfied tasks the agent could
// claim; used for heartbeat piggyback.
func (d *Distributor) PendingFor(agentID string) int {
	return len(d.GetAvailableTasksForAgent(agentID))
}

// GetAvailableTasksForAgent returns tasks the agent is eligible to claim.
func (d *Distributor) GetAvailableTasksForAgent(agentID string) []*domain.Task {
	a, ok := d.reg.Get(agentID)
	if !ok {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*domain.Task
	for _, t := range d.tasks {
		if t.Status != domain.TaskAvailable || !d.dependenciesMetLocked(t) {
			continue
		}
		if t.RequiredRole != "" && a.Role != t.RequiredRole {
			continue
		}
		eligible := true
		for _, cap := range t.RequiredCapabilities {
			if !a.HasCapability(cap) {
				eligible = false
				break
			}
		}
		if eligible {
			out = append(out, t.Clone())
		}
	}
	sortTasks(out)
	return out
}
