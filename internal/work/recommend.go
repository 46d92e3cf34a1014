package work

import (
	"sort"
	"time"

	"github.com/jaakkos/meshwork/internal/domain"
)

// Scoring weights for assignment recommendations.
const (
	scoreRoleMatch       = 20.0
	scorePerCapability   = 10.0
	scoreIdleAgent       = 15.0
	scoreRecentlyActive  = 5.0
	recentActivityWindow = 60 * time.Second
)

// GetAssignmentRecommendations scores every eligible agent against every
// available, dependency-satisfied task and returns up to limit pairs, best
// first.
func (d *Distributor) GetAssignmentRecommendations(limit int) []domain.Recommendation {
	agents := d.reg.DiscoverPeers(domain.AgentFilter{
		Statuses: []domain.AgentStatus{domain.AgentActive, domain.AgentIdle},
	})

	d.mu.Lock()
	var candidates []*domain.Task
	for _, t := range d.tasks {
		if t.Status == domain.TaskAvailable && d.dependenciesMetLocked(t) {
			candidates = append(candidates, t.Clone())
		}
	}
	d.mu.Unlock()

	now := time.Now()
	var recs []domain.Recommendation
	for _, t := range candidates {
		for _, a := range agents {
			rec, ok := scorePair(t, a, now)
			if ok {
				recs = append(recs, rec)
			}
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Score > recs[j].Score })
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs
}

// scorePair scores one task/agent pairing; ok is false when the agent is not
// eligible for the task at all.
func scorePair(t *domain.Task, a *domain.Agent, now time.Time) (domain.Recommendation, bool) {
	if t.RequiredRole != "" && a.Role != t.RequiredRole {
		return domain.Recommendation{}, false
	}
	for _, cap := range t.RequiredCapabilities {
		if !a.HasCapability(cap) {
			return domain.Recommendation{}, false
		}
	}

	rec := domain.Recommendation{TaskID: t.ID, AgentID: a.ID}
	if t.RequiredRole != "" && a.Role == t.RequiredRole {
		rec.Score += scoreRoleMatch
		rec.Reasons = append(rec.Reasons, "role matches "+string(t.RequiredRole))
	}
	for _, cap := range t.RequiredCapabilities {
		rec.Score += scorePerCapability
		rec.Score += scorePerCapability * a.CapabilityProficiency(cap)
		rec.Reasons = append(rec.Reasons, "has capability "+cap)
	}
	if a.Status == domain.AgentIdle {
		rec.Score += scoreIdleAgent
		rec.Reasons = append(rec.Reasons, "agent is idle")
	}
	if now.Sub(a.LastActivity) <= recentActivityWindow {
		rec.Score += scoreRecentlyActive
		rec.Reasons = append(rec.Reasons, "recently active")
	}
	return rec, true
}

// sortTasks orders by priority (critical first), then oldest creation.
func sortTasks(tasks []*domain.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		pi, pj := tasks[i].Priority.Ordinal(), tasks[j].Priority.Ordinal()
		if pi != pj {
			return pi < pj
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}

// publishStatus mirrors a lifecycle transition onto the task.status topic
// when a bus is wired. Called outside the distributor lock.
func (d *Distributor) publishStatus(taskID string, status domain.TaskStatus, agentID string, extra map[string]any) {
	if d.bus == nil {
		return
	}
	body := map[string]any{
		"taskId":    taskID,
		"status":    string(status),
		"agentId":   agentID,
		"timestamp": time.Now().UnixMilli(),
	}
	for k, v := range extra {
		body[k] = v
	}
	if _, err := d.bus.PublishToTopic("distributor", StatusTopic, "task status", body); err != nil {
		d.logger.Printf("task.status publish for %s failed: %v", taskID, err)
	}
}
