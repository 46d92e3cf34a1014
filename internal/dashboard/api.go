// Package dashboard provides a web dashboard and JSON API for monitoring the
// coordination runtime in real time. It is read-only: every mutation goes
// through the MCP tools.
package dashboard

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/jaakkos/meshwork/internal/coord"
	"github.com/jaakkos/meshwork/internal/domain"
)

// StateSnapshot is the JSON response from /api/state.
type StateSnapshot struct {
	Timestamp  string              `json:"timestamp"`
	Node       string              `json:"node"`
	Agents     []AgentSnapshot     `json:"agents"`
	Tasks      []TaskSnapshot      `json:"tasks"`
	Messages   []MessageSnapshot   `json:"messages"`
	Plans      []PlanSnapshot      `json:"plans,omitempty"`
	Milestones []MilestoneSnapshot `json:"milestones,omitempty"`
	Bus        BusSnapshot         `json:"bus"`
}

// AgentSnapshot is a per-agent summary.
type AgentSnapshot struct {
	ID            string   `json:"id"`
	Role          string   `json:"role"`
	Status        string   `json:"status"`
	CurrentTaskID string   `json:"current_task_id,omitempty"`
	Capabilities  []string `json:"capabilities,omitempty"`
	LastHeartbeat string   `json:"last_heartbeat"`
	LastActivity  string   `json:"last_activity"`
}

// TaskSnapshot is a per-task summary.
type TaskSnapshot struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Status       string  `json:"status"`
	Priority     string  `json:"priority"`
	ClaimedBy    string  `json:"claimed_by,omitempty"`
	ClaimVersion int     `json:"claim_version"`
	Progress     float64 `json:"progress,omitempty"`
	Retries      string  `json:"retries,omitempty"`
	Age          string  `json:"age"`
}

// MessageSnapshot is a per-message summary from the bus history.
type MessageSnapshot struct {
	ID       string `json:"id"`
	From     string `json:"from"`
	To       string `json:"to,omitempty"`
	Subject  string `json:"subject"`
	Type     string `json:"type"`
	Priority string `json:"priority"`
	Status   string `json:"status"`
	Age      string `json:"age"`
}

// PlanSnapshot is a per-plan summary.
type PlanSnapshot struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	Owner           string             `json:"owner"`
	Version         int                `json:"version"`
	OverallProgress float64            `json:"overall_progress"`
	Items           []PlanItemSnapshot `json:"items,omitempty"`
}

// PlanItemSnapshot is a per-plan-item summary.
type PlanItemSnapshot struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Status     string  `json:"status"`
	Progress   float64 `json:"progress"`
	AssignedTo string  `json:"assigned_to,omitempty"`
}

// MilestoneSnapshot is a per-milestone summary.
type MilestoneSnapshot struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
}

// BusSnapshot carries the bus counters.
type BusSnapshot struct {
	Sent       int `json:"sent"`
	Delivered  int `json:"delivered"`
	Failed     int `json:"failed"`
	Expired    int `json:"expired"`
	Broadcasts int `json:"broadcasts"`
}

// Handler holds dependencies for dashboard HTTP handlers.
type Handler struct {
	rt *coord.Runtime
}

// NewHandler creates a dashboard handler over the runtime.
func NewHandler(rt *coord.Runtime) *Handler {
	return &Handler{rt: rt}
}

// RegisterRoutes adds dashboard routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/state", h.handleAPIState)
	mux.HandleFunc("/dashboard", h.handleDashboard)
	mux.HandleFunc("/dashboard/", h.handleDashboard)
}

func (h *Handler) handleAPIState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "no-cache")

	now := time.Now()
	snap := StateSnapshot{
		Timestamp: now.Format(time.RFC3339),
		Node:      h.rt.Plans.Node(),
	}

	for _, a := range h.rt.Registry.DiscoverPeers(domain.AgentFilter{}) {
		as := AgentSnapshot{
			ID:            a.ID,
			Role:          string(a.Role),
			Status:        string(a.Status),
			CurrentTaskID: a.CurrentTaskID,
			LastHeartbeat: relTime(a.LastHeartbeat, now),
			LastActivity:  relTime(a.LastActivity, now),
		}
		for _, c := range a.Capabilities {
			as.Capabilities = append(as.Capabilities, c.Name)
		}
		snap.Agents = append(snap.Agents, as)
	}

	for _, t := range h.rt.Distributor.GetTasks(domain.TaskFilter{}) {
		ts := TaskSnapshot{
			ID:           t.ID,
			Title:        truncate(t.Title, 80),
			Status:       string(t.Status),
			Priority:     string(t.Priority),
			ClaimedBy:    t.ClaimedBy,
			ClaimVersion: t.ClaimVersion,
			Age:          relTime(t.CreatedAt, now),
		}
		if latest, ok := h.rt.Tracker.LatestProgress(t.ID); ok {
			ts.Progress = latest.Percentage
		}
		if t.RetryCount > 0 {
			ts.Retries = itoa(t.RetryCount) + "/" + itoa(t.MaxRetries)
		}
		snap.Tasks = append(snap.Tasks, ts)
	}

	for _, m := range h.rt.Bus.History(domain.MessageFilter{Limit: 30}) {
		snap.Messages = append(snap.Messages, MessageSnapshot{
			ID:       m.ID,
			From:     m.SenderID,
			To:       m.RecipientID,
			Subject:  truncate(m.Subject, 120),
			Type:     string(m.Type),
			Priority: string(m.Priority),
			Status:   string(m.Status),
			Age:      relTime(m.CreatedAt, now),
		})
	}

	for _, id := range h.rt.Plans.Plans() {
		plan, err := h.rt.Plans.GetPlan(id)
		if err != nil {
			continue
		}
		ps := PlanSnapshot{
			ID:              plan.ID,
			Name:            plan.Name,
			Owner:           plan.Owner,
			Version:         plan.Version,
			OverallProgress: plan.OverallProgress,
		}
		for _, item := range plan.Items {
			ps.Items = append(ps.Items, PlanItemSnapshot{
				ID:         item.ID,
				Title:      truncate(item.Title, 60),
				Status:     string(item.Status),
				Progress:   item.Progress,
				AssignedTo: item.AssignedTo,
			})
		}
		snap.Plans = append(snap.Plans, ps)
	}

	for _, m := range h.rt.Tracker.Milestones() {
		snap.Milestones = append(snap.Milestones, MilestoneSnapshot{
			ID:       m.ID,
			Name:     m.Name,
			Status:   string(m.Status),
			Progress: m.Progress,
		})
	}

	stats := h.rt.Bus.GetStats()
	snap.Bus = BusSnapshot{
		Sent:       stats.Sent,
		Delivered:  stats.Delivered,
		Failed:     stats.Failed,
		Expired:    stats.Expired,
		Broadcasts: stats.Broadcasts,
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(snap)
}

func relTime(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	switch {
	case d < time.Second:
		return "just now"
	case d < time.Minute:
		return itoa(int(d.Seconds())) + "s ago"
	case d < time.Hour:
		return itoa(int(d.Minutes())) + "m ago"
	case d < 24*time.Hour:
		return itoa(int(d.Hours())) + "h ago"
	default:
		return t.Format("Jan 2 15:04")
	}
}

func itoa(n int) string { return strconv.Itoa(n) }

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
