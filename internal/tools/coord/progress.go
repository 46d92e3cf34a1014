package coordtools

import (
	"context"
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/meshwork/internal/coord"
	"github.com/jaakkos/meshwork/internal/domain"
	"github.com/jaakkos/meshwork/internal/progress"
)

// registerReportProgress registers the report_progress tool.
func registerReportProgress(s *server.MCPServer, rt *coord.Runtime, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("report_progress",
			mcp.WithDescription("Report task progress. Percentage is clamped to 0-100; milestones requiring the task are recomputed."),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("Reporting agent id")),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task identifier")),
			mcp.WithNumber("percentage", mcp.Required(), mcp.Description("Completion percentage (0-100)")),
			mcp.WithString("status", mcp.Description("Task status at report time (default: in_progress)")),
			mcp.WithString("message", mcp.Description("Short progress note")),
			mcp.WithNumber("time_spent_minutes", mcp.Description("Minutes spent since the last report")),
			mcp.WithArray("blockers", mcp.Description("Current blockers, if any")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			agentID, err := requireString(args, "agent_id")
			if err != nil {
				return nil, err
			}
			taskID, err := requireString(args, "task_id")
			if err != nil {
				return nil, err
			}
			pct, err := requireFloat64(args, "percentage")
			if err != nil {
				return nil, err
			}
			status := domain.TaskStatus(optionalString(args, "status", string(domain.TaskInProgress)))
			entry, err := rt.Tracker.ReportProgress(agentID, taskID, pct, status, progress.ReportOptions{
				Message:          optionalString(args, "message", ""),
				TimeSpentMinutes: optionalFloat64(args, "time_spent_minutes", 0),
				Blockers:         optionalStrings(args, "blockers"),
			})
			if err != nil {
				return nil, err
			}
			logger.Printf("progress %s: task %s at %.0f%%", entry.ID, taskID, entry.Percentage)
			return mcp.NewToolResultText(fmt.Sprintf("Progress recorded: task %s at %.0f%% (%s)",
				taskID, entry.Percentage, status)), nil
		},
	)
}

// registerCreateMilestone registers the create_milestone tool.
func registerCreateMilestone(s *server.MCPServer, rt *coord.Runtime, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("create_milestone",
			mcp.WithDescription("Create a milestone whose progress derives from required tasks or child milestones."),
			mcp.WithString("name", mcp.Required(), mcp.Description("Milestone name")),
			mcp.WithString("description", mcp.Description("What achieving it means")),
			mcp.WithArray("required_task_ids", mcp.Description("Tasks whose mean progress drives this milestone")),
			mcp.WithString("parent_milestone_id", mcp.Description("Parent milestone for rollup")),
			mcp.WithString("owner", mcp.Description("Responsible agent id")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			name, err := requireString(args, "name")
			if err != nil {
				return nil, err
			}
			m, err := rt.Tracker.CreateMilestone(name, optionalString(args, "description", ""), progress.MilestoneOptions{
				RequiredTaskIDs:   optionalStrings(args, "required_task_ids"),
				ParentMilestoneID: optionalString(args, "parent_milestone_id", ""),
				Owner:             optionalString(args, "owner", ""),
			})
			if err != nil {
				return nil, err
			}
			logger.Printf("milestone %s created: %s", m.ID, name)
			return mcp.NewToolResultText(fmt.Sprintf("Milestone %s created (status=%s, progress=%.0f%%)",
				m.ID, m.Status, m.Progress)), nil
		},
	)
}

// registerAgentStats registers the agent_stats tool.
func registerAgentStats(s *server.MCPServer, rt *coord.Runtime, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("agent_stats",
			mcp.WithDescription("Per-agent completion statistics and success rate."),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			agentID, err := requireString(req.GetArguments(), "agent_id")
			if err != nil {
				return nil, err
			}
			stats := rt.Tracker.AgentStatistics(agentID)
			return mcp.NewToolResultText(fmt.Sprintf(
				"%s: completed=%d failed=%d successRate=%.2f totalMinutes=%.1f",
				agentID, stats.TasksCompleted, stats.TasksFailed, stats.SuccessRate(), stats.TotalTimeMinutes)), nil
		},
	)
}
