// Package registry tracks agent liveness, hierarchy, and discovery.
// It exclusively owns Agent records; other components hold agent ids only.
package registry

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/jaakkos/meshwork/internal/domain"
	"github.com/jaakkos/meshwork/internal/events"
	"github.com/jaakkos/meshwork/internal/policy"
)

// PendingProvider reports how many items are waiting for an agent. The bus
// and distributor register themselves so heartbeat responses can piggyback
// pending counts.
type PendingProvider func(agentID string) int

// Registration is the input to Register.
type Registration struct {
	ID           string
	Role         domain.AgentRole
	Capabilities []domain.Capability
	ParentID     string
	Surface      string
	SessionID    string
	Metadata     map[string]any
}

// Registry is the liveness registry. A single monitor loop (started with
// Start) increments missed-heartbeat counters and transitions silent agents
// to offline; crashed records are garbage-collected after a retention window.
type Registry struct {
	pol    *policy.Policy
	logger *log.Logger
	sink   events.Sink

	mu        sync.Mutex
	agents    map[string]*domain.Agent
	missed    map[string]int
	crashedAt map[string]time.Time

	pendingMessages PendingProvider
	pendingTasks    PendingProvider

	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Option configures the registry.
type Option func(*Registry)

// WithSink sets the event sink.
func WithSink(s events.Sink) Option {
	return func(r *Registry) { r.sink = s }
}

// New returns a Registry. The monitor loop is not started until Start.
func New(pol *policy.Policy, logger *log.Logger, opts ...Option) *Registry {
	r := &Registry{
		pol:       pol,
		logger:    logger,
		sink:      events.NopSink{},
		agents:    make(map[string]*domain.Agent),
		missed:    make(map[string]int),
		crashedAt: make(map[string]time.Time),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetPendingProviders wires the sources for heartbeat piggyback counts.
func (r *Registry) SetPendingProviders(messages, tasks PendingProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingMessages = messages
	r.pendingTasks = tasks
}

// Register adds an agent. An id held by a live agent fails with
// ErrAlreadyRegistered; an offline or crashed record's slot is reused.
func (r *Registry) Register(reg Registration) (*domain.Agent, error) {
	if reg.ID == "" {
		return nil, fmt.Errorf("%w: agent id required", domain.ErrInvalid)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.agents[reg.ID]; ok && !existing.Status.Terminal() {
		return nil, fmt.Errorf("agent %q: %w (status %s)", reg.ID, domain.ErrAlreadyRegistered, existing.Status)
	}
	// Reusing a terminal slot: detach the stale record first so parent and
	// child links are rebuilt from scratch.
	if existing, ok := r.agents[reg.ID]; ok {
		r.detachLocked(existing)
		delete(r.crashedAt, reg.ID)
	}

	now := time.Now()
	a := &domain.Agent{
		ID:            reg.ID,
		Role:          reg.Role,
		Capabilities:  append([]domain.Capability(nil), reg.Capabilities...),
		Status:        domain.AgentInitializing,
		ParentID:      reg.ParentID,
		Surface:       reg.Surface,
		SessionID:     reg.SessionID,
		RegisteredAt:  now,
		LastHeartbeat: now,
		LastActivity:  now,
		Metadata:      reg.Metadata,
	}
	if reg.ParentID != "" {
		if parent, ok := r.agents[reg.ParentID]; ok {
			parent.ChildIDs = append(parent.ChildIDs, reg.ID)
		}
	}
	r.agents[reg.ID] = a
	r.missed[reg.ID] = 0

	r.logger.Printf("agent %s registered (role=%s, surface=%s)", reg.ID, reg.Role, reg.Surface)
	events.Emit(r.sink, events.AgentRegistered, map[string]any{"agentId": reg.ID, "role": reg.Role})
	return a.Clone(), nil
}

// Unregister transitions the agent through shutting_down, detaches hierarchy
// links, and removes the record. Returns false for unknown ids.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return false
	}
	r.setStatusLocked(a, domain.AgentShuttingDown)
	r.detachLocked(a)
	delete(r.agents, id)
	delete(r.missed, id)
	delete(r.crashedAt, id)

	r.logger.Printf("agent %s unregistered", id)
	events.Emit(r.sink, events.AgentUnregistered, map[string]any{"agentId": id})
	return true
}

// detachLocked removes the agent from its parent's child list and orphans
// its children. Links are identity references, so this never touches the
// children beyond clearing their parent id.
func (r *Registry) detachLocked(a *domain.Agent) {
	if a.ParentID != "" {
		if parent, ok := r.agents[a.ParentID]; ok {
			kept := parent.ChildIDs[:0]
			for _, cid := range parent.ChildIDs {
				if cid != a.ID {
					kept = append(kept, cid)
				}
			}
			parent.ChildIDs = kept
		}
	}
	for _, cid := range a.ChildIDs {
		if child, ok := r.agents[cid]; ok && child.ParentID == a.ID {
			child.ParentID = ""
		}
	}
}

// Heartbeat records liveness. Unknown ids get an empty, unaccepted result so
// the caller knows to re-register. An offline agent's heartbeat is accepted
// but only revives the agent when an explicit status accompanies it.
func (r *Registry) Heartbeat(id string, status domain.AgentStatus, currentTaskID string) domain.HeartbeatResult {
	now := time.Now()

	r.mu.Lock()
	a, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return domain.HeartbeatResult{ServerTime: now}
	}

	a.LastHeartbeat = now
	a.LastActivity = now
	r.missed[id] = 0

	if status != "" && status != a.Status {
		r.setStatusLocked(a, status)
	}
	if currentTaskID != "" {
		r.setCurrentTaskLocked(a, currentTaskID)
	}
	messages, tasks := r.pendingMessages, r.pendingTasks
	r.mu.Unlock()

	// Providers reach into the bus and distributor; called outside the lock
	// so lock ordering stays one-way.
	res := domain.HeartbeatResult{
		Accepted:        true,
		NextHeartbeatIn: r.pol.HeartbeatInterval(),
		ServerTime:      now,
	}
	if messages != nil {
		res.PendingMessages = messages(id)
	}
	if tasks != nil {
		res.PendingTasks = tasks(id)
	}
	return res
}

// UpdateStatus sets the agent's status, emitting agentStatusChanged (and
// agentCrashed when the new status is crashed).
func (r *Registry) UpdateStatus(id string, status domain.AgentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return fmt.Errorf("agent %q: %w", id, domain.ErrNotFound)
	}
	a.LastActivity = time.Now()
	r.setStatusLocked(a, status)
	return nil
}

func (r *Registry) setStatusLocked(a *domain.Agent, status domain.AgentStatus) {
	if a.Status == status {
		return
	}
	old := a.Status
	a.Status = status
	if status == domain.AgentCrashed {
		r.crashedAt[a.ID] = time.Now()
		events.Emit(r.sink, events.AgentCrashed, map[string]any{"agentId": a.ID})
	}
	events.Emit(r.sink, events.AgentStatusChanged, map[string]any{
		"agentId": a.ID, "old": old, "new": status,
	})
}

// UpdateCurrentTask links or clears the agent's current task. A non-empty
// task id forces the agent busy; clearing moves busy back to idle.
func (r *Registry) UpdateCurrentTask(id, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return fmt.Errorf("agent %q: %w", id, domain.ErrNotFound)
	}
	a.LastActivity = time.Now()
	r.setCurrentTaskLocked(a, taskID)
	return nil
}

func (r *Registry) setCurrentTaskLocked(a *domain.Agent, taskID string) {
	a.CurrentTaskID = taskID
	if taskID != "" {
		r.setStatusLocked(a, domain.AgentBusy)
	} else if a.Status == domain.AgentBusy {
		r.setStatusLocked(a, domain.AgentIdle)
	}
}

// Get returns a copy of the agent record.
func (r *Registry) Get(id string) (*domain.Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// DiscoverPeers returns agents matching the filter, most recently active
// first. Filter fields compose with AND semantics.
func (r *Registry) DiscoverPeers(f domain.AgentFilter) []*domain.Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Agent
	for _, a := range r.agents {
		if f.Matches(a) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}

// FindByCapability returns live agents holding the capability at or above
// the proficiency floor.
func (r *Registry) FindByCapability(name string, minProficiency float64) []*domain.Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Agent
	for _, a := range r.agents {
		if !a.Status.Live() {
			continue
		}
		if a.HasCapability(name) && a.CapabilityProficiency(name) >= minProficiency {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}

// FindByRole returns agents with the role; activeOnly restricts to live ones.
func (r *Registry) FindByRole(role domain.AgentRole, activeOnly bool) []*domain.Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Agent
	for _, a := range r.agents {
		if a.Role != role {
			continue
		}
		if activeOnly && !a.Status.Live() {
			continue
		}
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}

// LiveAgents returns every agent eligible for broadcast delivery.
func (r *Registry) LiveAgents() []*domain.Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Agent
	for _, a := range r.agents {
		if a.Status.Live() {
			out = append(out, a.Clone())
		}
	}
	return out
}

// Deliverable reports whether messages should be processed for the agent
// (registered and not offline or crashed).
func (r *Registry) Deliverable(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	return ok && !a.Status.Terminal()
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.agents)
}

// Start runs the monitor loop until ctx is cancelled or Stop is called.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()
	defer close(r.doneCh)
	interval := r.pol.HeartbeatInterval()
	r.logger.Printf("registry monitor started (interval=%s, threshold=%d)",
		interval, r.pol.MissedHeartbeatThreshold())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.CheckOnce()
		}
	}
}

// Stop signals the monitor loop to stop and waits for it. A registry whose
// loop was never started stops immediately.
func (r *Registry) Stop() {
	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if started {
		<-r.doneCh
	}
}

// CheckOnce runs one monitor pass (exported for tests and manual trigger).
// Each heartbeat interval elapsed without a heartbeat counts as one miss;
// at the threshold the agent goes offline. Crashed records past retention
// are removed.
func (r *Registry) CheckOnce() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	interval := r.pol.HeartbeatInterval()
	threshold := r.pol.MissedHeartbeatThreshold()

	for id, a := range r.agents {
		if a.Status.Terminal() || a.Status == domain.AgentShuttingDown {
			continue
		}
		intervals := int(now.Sub(a.LastHeartbeat) / interval)
		if intervals <= r.missed[id] {
			continue
		}
		r.missed[id] = intervals
		events.Emit(r.sink, events.HeartbeatMissed, map[string]any{"agentId": id, "count": intervals})
		if intervals >= threshold {
			r.logger.Printf("agent %s missed %d heartbeats, marking offline", id, intervals)
			r.setStatusLocked(a, domain.AgentOffline)
		}
	}

	retention := r.pol.CrashedRetention()
	for id, at := range r.crashedAt {
		if now.Sub(at) < retention {
			continue
		}
		if a, ok := r.agents[id]; ok && a.Status == domain.AgentCrashed {
			r.detachLocked(a)
			delete(r.agents, id)
			delete(r.missed, id)
			r.logger.Printf("crashed agent %s garbage-collected", id)
		}
		delete(r.crashedAt, id)
	}
}
