package coordtools

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/meshwork/internal/coord"
	"github.com/jaakkos/meshwork/internal/domain"
	"github.com/jaakkos/meshwork/internal/work"
)

// parsePriority maps a priority argument to the domain type, defaulting to
// normal on unknown input.
func parsePriority(s string) domain.MessagePriority {
	switch domain.MessagePriority(s) {
	case domain.PriorityCritical, domain.PriorityHigh, domain.PriorityNormal, domain.PriorityLow:
		return domain.MessagePriority(s)
	}
	return domain.PriorityNormal
}

// registerCreateTask registers the create_task tool.
func registerCreateTask(s *server.MCPServer, rt *coord.Runtime, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("create_task",
			mcp.WithDescription("Create a task for distribution. Tasks with unmet dependencies start blocked and unblock automatically."),
			mcp.WithString("title", mcp.Required(), mcp.Description("Short task title")),
			mcp.WithString("description", mcp.Description("What the task involves")),
			mcp.WithString("priority", mcp.Description("critical, high, normal, or low (default: normal)")),
			mcp.WithString("required_role", mcp.Description("Only agents with this role may claim")),
			mcp.WithArray("required_capabilities", mcp.Description("Capability names a claimant must have")),
			mcp.WithArray("dependencies", mcp.Description("Task ids that must complete first")),
			mcp.WithString("parent_task_id", mcp.Description("Parent task for subtask grouping")),
			mcp.WithNumber("estimated_minutes", mcp.Description("Estimated effort in minutes")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			title, err := requireString(args, "title")
			if err != nil {
				return nil, err
			}
			task, err := rt.Distributor.CreateTask(title, optionalString(args, "description", ""), work.TaskOptions{
				Priority:             parsePriority(optionalString(args, "priority", "")),
				RequiredRole:         domain.AgentRole(optionalString(args, "required_role", "")),
				RequiredCapabilities: optionalStrings(args, "required_capabilities"),
				Dependencies:         optionalStrings(args, "dependencies"),
				ParentTaskID:         optionalString(args, "parent_task_id", ""),
				EstimatedMinutes:     optionalFloat64(args, "estimated_minutes", 0),
			})
			if err != nil {
				return nil, err
			}
			logger.Printf("task %s created: %s", task.ID, title)
			return mcp.NewToolResultText(fmt.Sprintf("Task %s created (status=%s, priority=%s)",
				task.ID, task.Status, task.Priority)), nil
		},
	)
}

// registerClaimTask registers the claim_task tool. Claim conflicts come back
// as text results, not errors, so callers can retry with the reported version.
func registerClaimTask(s *server.MCPServer, rt *coord.Runtime, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("claim_task",
			mcp.WithDescription("Claim an available task. Pass expected_version for optimistic locking; omit it to claim at any version."),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task identifier")),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("Claiming agent id")),
			mcp.WithNumber("expected_version", mcp.Description("Claim version observed by the caller")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			taskID, err := requireString(args, "task_id")
			if err != nil {
				return nil, err
			}
			agentID, err := requireString(args, "agent_id")
			if err != nil {
				return nil, err
			}
			version := int(optionalFloat64(args, "expected_version", float64(work.AnyVersion)))

			res := rt.Distributor.ClaimTask(taskID, agentID, version)
			if !res.Success {
				txt := fmt.Sprintf("Claim failed: %s", res.Reason)
				if res.Conflict != nil {
					txt += fmt.Sprintf(" (claimed by %s, version %d)", res.Conflict.ClaimedBy, res.Conflict.ClaimVersion)
				}
				return mcp.NewToolResultText(txt), nil
			}
			logger.Printf("task %s claimed by %s", taskID, agentID)
			return mcp.NewToolResultText(fmt.Sprintf("Task %s claimed by %s (version %d). Start it within %s.",
				taskID, agentID, res.Task.ClaimVersion, rt.Policy.ClaimTimeout())), nil
		},
	)
}

// registerStartTask registers the start_task tool.
func registerStartTask(s *server.MCPServer, rt *coord.Runtime, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("start_task",
			mcp.WithDescription("Transition a claimed task to in-progress, cancelling its claim timer."),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task identifier")),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent that claimed the task")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			taskID, err := requireString(args, "task_id")
			if err != nil {
				return nil, err
			}
			agentID, err := requireString(args, "agent_id")
			if err != nil {
				return nil, err
			}
			if err := rt.Distributor.StartTask(taskID, agentID); err != nil {
				return nil, err
			}
			logger.Printf("task %s started by %s", taskID, agentID)
			return mcp.NewToolResultText(fmt.Sprintf("Task %s in progress", taskID)), nil
		},
	)
}

// registerCompleteTask registers the complete_task tool.
func registerCompleteTask(s *server.MCPServer, rt *coord.Runtime, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("complete_task",
			mcp.WithDescription("Mark a task completed. Dependent tasks with all dependencies met unblock automatically."),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task identifier")),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent completing the task")),
			mcp.WithString("result", mcp.Description("Result summary")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			taskID, err := requireString(args, "task_id")
			if err != nil {
				return nil, err
			}
			agentID, err := requireString(args, "agent_id")
			if err != nil {
				return nil, err
			}
			if err := rt.Distributor.CompleteTask(taskID, agentID, optionalString(args, "result", "")); err != nil {
				return nil, err
			}
			logger.Printf("task %s completed by %s", taskID, agentID)
			if task, ok := rt.Distributor.GetTask(taskID); ok {
				return mcp.NewToolResultText(fmt.Sprintf("Task %s completed in %.1f minute(s)", taskID, task.ActualMinutes)), nil
			}
			return mcp.NewToolResultText(fmt.Sprintf("Task %s completed", taskID)), nil
		},
	)
}

// registerFailTask registers the fail_task tool.
func registerFailTask(s *server.MCPServer, rt *coord.Runtime, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("fail_task",
			mcp.WithDescription("Report a task failure. The task is retried as available until its retry budget runs out."),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task identifier")),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent reporting the failure")),
			mcp.WithString("reason", mcp.Description("What went wrong")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			taskID, err := requireString(args, "task_id")
			if err != nil {
				return nil, err
			}
			agentID, err := requireString(args, "agent_id")
			if err != nil {
				return nil, err
			}
			if err := rt.Distributor.FailTask(taskID, agentID, optionalString(args, "reason", "")); err != nil {
				return nil, err
			}
			task, ok := rt.Distributor.GetTask(taskID)
			if !ok {
				return mcp.NewToolResultText(fmt.Sprintf("Task %s failure recorded", taskID)), nil
			}
			logger.Printf("task %s failed (attempt %d/%d)", taskID, task.RetryCount, task.MaxRetries)
			if task.Status == domain.TaskFailed {
				return mcp.NewToolResultText(fmt.Sprintf("Task %s failed permanently after %d attempt(s)", taskID, task.RetryCount)), nil
			}
			return mcp.NewToolResultText(fmt.Sprintf("Task %s returned to available (attempt %d of %d)",
				taskID, task.RetryCount, task.MaxRetries)), nil
		},
	)
}

// registerListTasks registers the list_tasks tool.
func registerListTasks(s *server.MCPServer, rt *coord.Runtime, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("list_tasks",
			mcp.WithDescription("List tasks, optionally filtered by status or agent eligibility."),
			mcp.WithString("status", mcp.Description("Filter by status (available, claimed, in_progress, completed, failed, blocked, cancelled)")),
			mcp.WithString("available_for", mcp.Description("Only tasks the given agent could claim, best matches first")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			var tasks []*domain.Task
			if agentID := optionalString(args, "available_for", ""); agentID != "" {
				tasks = rt.Distributor.GetAvailableTasksForAgent(agentID)
			} else {
				f := domain.TaskFilter{}
				if st := optionalString(args, "status", ""); st != "" {
					f.Status = domain.TaskStatus(st)
				}
				tasks = rt.Distributor.GetTasks(f)
			}
			if len(tasks) == 0 {
				return mcp.NewToolResultText("No tasks"), nil
			}
			var b strings.Builder
			for _, t := range tasks {
				fmt.Fprintf(&b, "%s  [%s/%s] %s", t.ID, t.Status, t.Priority, t.Title)
				if t.ClaimedBy != "" {
					fmt.Fprintf(&b, " claimedBy=%s v%d", t.ClaimedBy, t.ClaimVersion)
				}
				if len(t.Dependencies) > 0 {
					fmt.Fprintf(&b, " deps=%s", strings.Join(t.Dependencies, ","))
				}
				b.WriteByte('\n')
			}
			return mcp.NewToolResultText(b.String()), nil
		},
	)
}

// registerRecommendations registers the task_recommendations tool.
func registerRecommendations(s *server.MCPServer, rt *coord.Runtime, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("task_recommendations",
			mcp.WithDescription("Score eligible agents against available tasks and return the best assignment pairs."),
			mcp.WithNumber("limit", mcp.Description("Maximum pairs to return (default: 10)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			limit := int(optionalFloat64(req.GetArguments(), "limit", 10))
			recs := rt.Distributor.GetAssignmentRecommendations(limit)
			if len(recs) == 0 {
				return mcp.NewToolResultText("No recommendations"), nil
			}
			var b strings.Builder
			for _, r := range recs {
				fmt.Fprintf(&b, "%s -> %s  score=%.1f  (%s)\n",
					r.TaskID, r.AgentID, r.Score, strings.Join(r.Reasons, "; "))
			}
			return mcp.NewToolResultText(b.String()), nil
		},
	)
}
