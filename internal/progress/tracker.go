// Package progress tracks per-task progress history, per-agent statistics,
// and milestones whose completion is derived from task progress and child
// milestones.
package progress

import (
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/jaakkos/meshwork/internal/bus"
	"github.com/jaakkos/meshwork/internal/domain"
	"github.com/jaakkos/meshwork/internal/events"
	"github.com/jaakkos/meshwork/internal/policy"
)

// Topic is the bus topic progress entries are published on.
const Topic = "progress"

// ReportOptions carries the optional fields of a progress report.
type ReportOptions struct {
	Message            string
	Details            string
	TimeSpentMinutes   float64
	EstimatedRemaining float64
	Blockers           []string
	Metadata           map[string]any
}

// MilestoneOptions customizes CreateMilestone.
type MilestoneOptions struct {
	RequiredTaskIDs   []string
	TargetDate        time.Time
	ParentMilestoneID string
	Owner             string
	Tags              []string
}

// Tracker owns progress history and milestones.
type Tracker struct {
	pol    *policy.Policy
	logger *log.Logger
	sink   events.Sink
	bus    *bus.Bus

	mu         sync.Mutex
	history    map[string][]*domain.ProgressEntry
	latest     map[string]*domain.ProgressEntry
	taskTime   map[string]float64
	milestones map[string]*domain.Milestone
	agentStats map[string]*domain.AgentStats
}

// Option configures the tracker.
type Option func(*Tracker)

// WithSink sets the event sink.
func WithSink(s events.Sink) Option {
	return func(t *Tracker) { t.sink = s }
}

// WithBus wires the bus for progress topic publications.
func WithBus(b *bus.Bus) Option {
	return func(t *Tracker) { t.bus = b }
}

// New returns a Tracker.
func New(pol *policy.Policy, logger *log.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		pol:        pol,
		logger:     logger,
		sink:       events.NopSink{},
		history:    make(map[string][]*domain.ProgressEntry),
		latest:     make(map[string]*domain.ProgressEntry),
		taskTime:   make(map[string]float64),
		milestones: make(map[string]*domain.Milestone),
		agentStats: make(map[string]*domain.AgentStats),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// ReportProgress appends a progress entry for a task. The percentage is
// clamped to [0,100]; history is bounded; affected milestones are recomputed.
func (t *Tracker) ReportProgress(agentID, taskID string, percentage float64, status domain.TaskStatus, opts ReportOptions) (*domain.ProgressEntry, error) {
	if taskID == "" || agentID == "" {
		return nil, fmt.Errorf("%w: task and agent ids required", domain.ErrInvalid)
	}
	entry := &domain.ProgressEntry{
		ID:                 domain.NewID("prog"),
		TaskID:             taskID,
		AgentID:            agentID,
		Percentage:         clamp(percentage),
		Status:             status,
		Message:            opts.Message,
		Details:            opts.Details,
		Timestamp:          time.Now(),
		TimeSpentMinutes:   opts.TimeSpentMinutes,
		EstimatedRemaining: opts.EstimatedRemaining,
		Blockers:           append([]string(nil), opts.Blockers...),
		Metadata:           opts.Metadata,
	}

	t.mu.Lock()
	t.appendLocked(entry)
	t.accrueLocked(entry)
	changed := t.recomputeForTaskLocked(taskID)
	t.mu.Unlock()

	events.Emit(t.sink, events.ProgressReported, map[string]any{
		"taskId": taskID, "agentId": agentID, "percentage": entry.Percentage,
	})
	t.emitMilestoneChanges(changed)
	t.publish(entry)
	return entry, nil
}

// ReceiveRemoteProgress ingests an entry produced on another node, updating
// history and milestones without re-publishing it.
func (t *Tracker) ReceiveRemoteProgress(entry *domain.ProgressEntry) {
	if entry == nil || entry.TaskID == "" {
		return
	}
	cp := *entry
	cp.Percentage = clamp(cp.Percentage)

	t.mu.Lock()
	t.appendLocked(&cp)
	changed := t.recomputeForTaskLocked(cp.TaskID)
	t.mu.Unlock()

	events.Emit(t.sink, events.RemoteProgressReceived, map[string]any{
		"taskId": cp.TaskID, "agentId": cp.AgentID, "percentage": cp.Percentage,
	})
	t.emitMilestoneChanges(changed)
}

func (t *Tracker) appendLocked(entry *domain.ProgressEntry) {
	h := append(t.history[entry.TaskID], entry)
	if max := t.pol.ProgressHistoryMax(); len(h) > max {
		h = h[len(h)-max:]
	}
	t.history[entry.TaskID] = h
	t.latest[entry.TaskID] = entry
}

// accrueLocked folds the report into time tracking and agent statistics.
func (t *Tracker) accrueLocked(entry *domain.ProgressEntry) {
	if entry.TimeSpentMinutes > 0 {
		t.taskTime[entry.TaskID] += entry.TimeSpentMinutes
	}
	stats, ok := t.agentStats[entry.AgentID]
	if !ok {
		stats = &domain.AgentStats{AgentID: entry.AgentID}
		t.agentStats[entry.AgentID] = stats
	}
	stats.TotalTimeMinutes += entry.TimeSpentMinutes
	switch entry.Status {
	case domain.TaskCompleted:
		stats.TasksCompleted++
		elapsed := t.taskTime[entry.TaskID]
		if elapsed <= 0 {
			elapsed = entry.TimeSpentMinutes
		}
		stats.CompletionTimes = append(stats.CompletionTimes, elapsed)
		if max := t.pol.CompletionWindowMax(); len(stats.CompletionTimes) > max {
			stats.CompletionTimes = stats.CompletionTimes[len(stats.CompletionTimes)-max:]
		}
	case domain.TaskFailed:
		stats.TasksFailed++
	}
}

func clamp(p float64) float64 {
	return math.Max(0, math.Min(100, p))
}

// CreateMilestone registers a milestone; linking to a parent appends this
// milestone to the parent's children.
func (t *Tracker) CreateMilestone(name, description string, opts MilestoneOptions) (*domain.Milestone, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: milestone name required", domain.ErrInvalid)
	}
	now := time.Now()
	m := &domain.Milestone{
		ID:                domain.NewID("ms"),
		Name:              name,
		Description:       description,
		Status:            domain.MilestonePending,
		TargetDate:        opts.TargetDate,
		RequiredTaskIDs:   append([]string(nil), opts.RequiredTaskIDs...),
		ParentMilestoneID: opts.ParentMilestoneID,
		CreatedAt:         now,
		UpdatedAt:         now,
		Owner:             opts.Owner,
		Tags:              append([]string(nil), opts.Tags...),
	}

	t.mu.Lock()
	if opts.ParentMilestoneID != "" {
		parent, ok := t.milestones[opts.ParentMilestoneID]
		if !ok {
			t.mu.Unlock()
			return nil, fmt.Errorf("%w: parent milestone %q", domain.ErrNotFound, opts.ParentMilestoneID)
		}
		parent.ChildMilestoneIDs = append(parent.ChildMilestoneIDs, m.ID)
	}
	t.milestones[m.ID] = m
	changed := t.recomputeLocked(m.ID)
	out := m.Clone()
	t.mu.Unlock()

	t.logger.Printf("milestone %s created: %s", m.ID, name)
	events.Emit(t.sink, events.MilestoneCreated, map[string]any{"milestoneId": m.ID, "name": name})
	t.emitMilestoneChanges(changed)
	return out, nil
}

// GetMilestone returns a copy of the milestone.
func (t *Tracker) GetMilestone(id string) (*domain.Milestone, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.milestones[id]
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// Milestones returns copies of every milestone, oldest first.
func (t *Tracker) Milestones() []*domain.Milestone {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*domain.Milestone, 0, len(t.milestones))
	for _, m := range t.milestones {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// SetMilestoneStatus forces a non-derived status (missed, deferred).
// Progress stays derived; achieving still requires derived progress of 100.
func (t *Tracker) SetMilestoneStatus(id string, status domain.MilestoneStatus) error {
	if status != domain.MilestoneMissed && status != domain.MilestoneDeferred {
		return fmt.Errorf("%w: milestone status %q is derived, not forced", domain.ErrInvalid, status)
	}
	t.mu.Lock()
	m, ok := t.milestones[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("milestone %q: %w", id, domain.ErrNotFound)
	}
	old := m.Status
	m.Status = status
	m.UpdatedAt = time.Now()
	t.mu.Unlock()

	if old != status {
		events.Emit(t.sink, events.MilestoneStatusChanged, map[string]any{
			"milestoneId": id, "old": old, "new": status,
		})
	}
	return nil
}

// statusChange is a pending milestoneStatusChanged emission.
type statusChange struct {
	id       string
	old, new domain.MilestoneStatus
}

// recomputeForTaskLocked recomputes every milestone requiring the task.
func (t *Tracker) recomputeForTaskLocked(taskID string) []statusChange {
	var changed []statusChange
	for id, m := range t.milestones {
		for _, req := range m.RequiredTaskIDs {
			if req == taskID {
				changed = append(changed, t.recomputeLocked(id)...)
				break
			}
		}
	}
	return changed
}

// recomputeLocked derives the milestone's progress and status, then cascades
// to its parent. The milestone graph is acyclic by construction; parentless
// roots terminate the recursion.
func (t *Tracker) recomputeLocked(id string) []statusChange {
	m, ok := t.milestones[id]
	if !ok {
		return nil
	}
	m.Progress = t.deriveProgressLocked(m)
	m.UpdatedAt = time.Now()

	var changed []statusChange
	switch {
	case m.Progress >= 100 && m.Status != domain.MilestoneAchieved:
		changed = append(changed, statusChange{id, m.Status, domain.MilestoneAchieved})
		m.Status = domain.MilestoneAchieved
		m.CompletedDate = time.Now()
	case m.Progress > 0 && m.Progress < 100 && m.Status == domain.MilestonePending:
		changed = append(changed, statusChange{id, m.Status, domain.MilestoneInProgress})
		m.Status = domain.MilestoneInProgress
	}

	if m.ParentMilestoneID != "" {
		changed = append(changed, t.recomputeLocked(m.ParentMilestoneID)...)
	}
	return changed
}

// deriveProgressLocked: required tasks dominate; otherwise children; else 0.
// Missing task entries count as zero percent.
func (t *Tracker) deriveProgressLocked(m *domain.Milestone) float64 {
	if len(m.RequiredTaskIDs) > 0 {
		sum := 0.0
		for _, taskID := range m.RequiredTaskIDs {
			if entry, ok := t.latest[taskID]; ok {
				sum += entry.Percentage
			}
		}
		return sum / float64(len(m.RequiredTaskIDs))
	}
	if len(m.ChildMilestoneIDs) > 0 {
		sum := 0.0
		for _, childID := range m.ChildMilestoneIDs {
			if child, ok := t.milestones[childID]; ok {
				sum += child.Progress
			}
		}
		return sum / float64(len(m.ChildMilestoneIDs))
	}
	return 0
}

func (t *Tracker) emitMilestoneChanges(changes []statusChange) {
	for _, c := range changes {
		events.Emit(t.sink, events.MilestoneStatusChanged, map[string]any{
			"milestoneId": c.id, "old": c.old, "new": c.new,
		})
	}
}

// publish mirrors a progress entry onto the progress topic when a bus is wired.
func (t *Tracker) publish(entry *domain.ProgressEntry) {
	if t.bus == nil {
		return
	}
	body := map[string]any{
		"taskId":     entry.TaskID,
		"agentId":    entry.AgentID,
		"percentage": entry.Percentage,
		"status":     string(entry.Status),
		"message":    entry.Message,
		"timestamp":  entry.Timestamp.UnixMilli(),
	}
	if _, err := t.bus.PublishToTopic(entry.AgentID, Topic, "progress report", body); err != nil {
		t.logger.Printf("progress publish for task %s failed: %v", entry.TaskID, err)
	}
}

// LatestProgress returns the newest entry for the task.
func (t *Tracker) LatestProgress(taskID string) (*domain.ProgressEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.latest[taskID]
	if !ok {
		return nil, false
	}
	cp := *entry
	return &cp, true
}

// History returns the bounded progress history for the task, oldest first.
func (t *Tracker) History(taskID string) []*domain.ProgressEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.history[taskID]
	out := make([]*domain.ProgressEntry, len(h))
	for i, e := range h {
		cp := *e
		out[i] = &cp
	}
	return out
}

// AgentStatistics returns a copy of the agent's stats; an agent with no
// history has a success rate of 1.0.
func (t *Tracker) AgentStatistics(agentID string) domain.AgentStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats, ok := t.agentStats[agentID]
	if !ok {
		return domain.AgentStats{AgentID: agentID}
	}
	cp := *stats
	cp.CompletionTimes = append([]float64(nil), stats.CompletionTimes...)
	return cp
}

// OverallStatus folds a set of task statuses into one summary state.
func OverallStatus(statuses []domain.TaskStatus) domain.OverallStatus {
	if len(statuses) == 0 {
		return domain.OverallNotStarted
	}
	completed, blocked, inProgress := 0, 0, 0
	for _, s := range statuses {
		switch s {
		case domain.TaskCompleted:
			completed++
		case domain.TaskBlocked:
			blocked++
		case domain.TaskInProgress:
			inProgress++
		}
	}
	switch {
	case completed == len(statuses):
		return domain.OverallCompleted
	case blocked > 0 && inProgress == 0:
		return domain.OverallBlocked
	case inProgress > 0:
		return domain.OverallInProgress
	default:
		return domain.OverallNotStarted
	}
}
