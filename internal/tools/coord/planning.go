package coordtools

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/meshwork/internal/coord"
	"github.com/jaakkos/meshwork/internal/domain"
	"github.com/jaakkos/meshwork/internal/plansync"
)

// flush persists and publishes plan state after a mutation. Failures are
// logged, not surfaced, so a broken store never blocks plan edits.
func flush(rt *coord.Runtime, logger *log.Logger) {
	if err := rt.FlushState(); err != nil {
		logger.Printf("plan flush failed: %v", err)
	}
}

// registerPlanCreate registers the plan_create tool.
func registerPlanCreate(s *server.MCPServer, rt *coord.Runtime, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("plan_create",
			mcp.WithDescription("Create a shared plan. Edits converge across nodes without coordination."),
			mcp.WithString("name", mcp.Required(), mcp.Description("Plan name")),
			mcp.WithString("owner", mcp.Required(), mcp.Description("Owning agent id")),
			mcp.WithString("description", mcp.Description("What the plan is for")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			name, err := requireString(args, "name")
			if err != nil {
				return nil, err
			}
			owner, err := requireString(args, "owner")
			if err != nil {
				return nil, err
			}
			plan, err := rt.Plans.CreatePlan(name, optionalString(args, "description", ""), owner)
			if err != nil {
				return nil, err
			}
			flush(rt, logger)
			logger.Printf("plan %s created by %s", plan.ID, owner)
			return mcp.NewToolResultText(fmt.Sprintf("Plan %s created (version %d)", plan.ID, plan.Version)), nil
		},
	)
}

// registerPlanAddItem registers the plan_add_item tool.
func registerPlanAddItem(s *server.MCPServer, rt *coord.Runtime, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("plan_add_item",
			mcp.WithDescription("Add an item to a plan. Linking to a parent item records it as a subtask."),
			mcp.WithString("plan_id", mcp.Required(), mcp.Description("Plan identifier")),
			mcp.WithString("title", mcp.Required(), mcp.Description("Item title")),
			mcp.WithString("description", mcp.Description("Item description")),
			mcp.WithString("priority", mcp.Description("low, medium, high, or critical (default: medium)")),
			mcp.WithString("parent_id", mcp.Description("Parent item id")),
			mcp.WithArray("dependencies", mcp.Description("Item ids this item depends on")),
			mcp.WithArray("tags", mcp.Description("Free-form tags")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			planID, err := requireString(args, "plan_id")
			if err != nil {
				return nil, err
			}
			title, err := requireString(args, "title")
			if err != nil {
				return nil, err
			}
			item, err := rt.Plans.AddItem(planID, plansync.ItemInput{
				Title:        title,
				Description:  optionalString(args, "description", ""),
				Priority:     domain.PlanItemPriority(optionalString(args, "priority", "")),
				ParentID:     optionalString(args, "parent_id", ""),
				Dependencies: optionalStrings(args, "dependencies"),
				Tags:         optionalStrings(args, "tags"),
			})
			if err != nil {
				return nil, err
			}
			flush(rt, logger)
			logger.Printf("plan %s: item %s added", planID, item.ID)
			return mcp.NewToolResultText(fmt.Sprintf("Item %s added to plan %s", item.ID, planID)), nil
		},
	)
}

// registerPlanUpdateStatus registers the plan_update_status tool.
func registerPlanUpdateStatus(s *server.MCPServer, rt *coord.Runtime, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("plan_update_status",
			mcp.WithDescription("Set a plan item's status. Completing an item sets its progress to 100 unless an explicit progress is given."),
			mcp.WithString("plan_id", mcp.Required(), mcp.Description("Plan identifier")),
			mcp.WithString("item_id", mcp.Required(), mcp.Description("Item identifier")),
			mcp.WithString("status", mcp.Required(), mcp.Description("pending, in_progress, completed, blocked, or cancelled")),
			mcp.WithNumber("progress", mcp.Description("Explicit progress percentage")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			planID, err := requireString(args, "plan_id")
			if err != nil {
				return nil, err
			}
			itemID, err := requireString(args, "item_id")
			if err != nil {
				return nil, err
			}
			status, err := requireString(args, "status")
			if err != nil {
				return nil, err
			}
			var progress *float64
			if v, ok := args["progress"].(float64); ok {
				progress = &v
			}
			item, err := rt.Plans.UpdateItemStatus(planID, itemID, domain.PlanItemStatus(status), progress)
			if err != nil {
				return nil, err
			}
			flush(rt, logger)
			logger.Printf("plan %s: item %s -> %s", planID, itemID, status)
			return mcp.NewToolResultText(fmt.Sprintf("Item %s is %s (progress %.0f%%)", itemID, item.Status, item.Progress)), nil
		},
	)
}

// registerPlanAssignItem registers the plan_assign_item tool.
func registerPlanAssignItem(s *server.MCPServer, rt *coord.Runtime, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("plan_assign_item",
			mcp.WithDescription("Assign a plan item to an agent."),
			mcp.WithString("plan_id", mcp.Required(), mcp.Description("Plan identifier")),
			mcp.WithString("item_id", mcp.Required(), mcp.Description("Item identifier")),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("Assignee agent id")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			planID, err := requireString(args, "plan_id")
			if err != nil {
				return nil, err
			}
			itemID, err := requireString(args, "item_id")
			if err != nil {
				return nil, err
			}
			agentID, err := requireString(args, "agent_id")
			if err != nil {
				return nil, err
			}
			if _, err := rt.Plans.AssignItem(planID, itemID, agentID); err != nil {
				return nil, err
			}
			flush(rt, logger)
			logger.Printf("plan %s: item %s assigned to %s", planID, itemID, agentID)
			return mcp.NewToolResultText(fmt.Sprintf("Item %s assigned to %s", itemID, agentID)), nil
		},
	)
}

// registerPlanGet registers the plan_get tool.
func registerPlanGet(s *server.MCPServer, rt *coord.Runtime, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("plan_get",
			mcp.WithDescription("Show a plan and its items."),
			mcp.WithString("plan_id", mcp.Required(), mcp.Description("Plan identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			planID, err := requireString(req.GetArguments(), "plan_id")
			if err != nil {
				return nil, err
			}
			plan, err := rt.Plans.GetPlan(planID)
			if err != nil {
				return nil, err
			}
			var b strings.Builder
			fmt.Fprintf(&b, "Plan %s: %s (owner=%s, version=%d, progress=%.0f%%)\n",
				plan.ID, plan.Name, plan.Owner, plan.Version, plan.OverallProgress)
			ids := make([]string, 0, len(plan.Items))
			for id := range plan.Items {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				item := plan.Items[id]
				fmt.Fprintf(&b, "  %s  [%s/%s] %s  %.0f%%", item.ID, item.Status, item.Priority, item.Title, item.Progress)
				if item.AssignedTo != "" {
					fmt.Fprintf(&b, "  -> %s", item.AssignedTo)
				}
				b.WriteByte('\n')
			}
			return mcp.NewToolResultText(b.String()), nil
		},
	)
}

// registerPlanSnapshot registers the plan_snapshot tool.
func registerPlanSnapshot(s *server.MCPServer, rt *coord.Runtime, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("plan_snapshot",
			mcp.WithDescription("Export a plan's full synchronization state as JSON, suitable for applying on another node."),
			mcp.WithString("plan_id", mcp.Required(), mcp.Description("Plan identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			planID, err := requireString(req.GetArguments(), "plan_id")
			if err != nil {
				return nil, err
			}
			snap, err := rt.Plans.Snapshot(planID)
			if err != nil {
				return nil, err
			}
			data, err := json.MarshalIndent(snap, "", "  ")
			if err != nil {
				return nil, err
			}
			return mcp.NewToolResultText(string(data)), nil
		},
	)
}

// registerPlanApplySnapshot registers the plan_apply_snapshot tool.
func registerPlanApplySnapshot(s *server.MCPServer, rt *coord.Runtime, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("plan_apply_snapshot",
			mcp.WithDescription("Merge a snapshot produced on another node into the local plan state."),
			mcp.WithString("snapshot", mcp.Required(), mcp.Description("Snapshot JSON from plan_snapshot")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			raw, err := requireString(req.GetArguments(), "snapshot")
			if err != nil {
				return nil, err
			}
			var snap plansync.PlanSnapshot
			if err := json.Unmarshal([]byte(raw), &snap); err != nil {
				return nil, fmt.Errorf("snapshot must be valid JSON: %w", err)
			}
			if err := rt.Plans.ApplySnapshot(&snap); err != nil {
				return nil, err
			}
			flush(rt, logger)
			logger.Printf("plan %s: snapshot from %s applied", snap.Plan.ID, snap.SourceNode)
			return mcp.NewToolResultText(fmt.Sprintf("Snapshot for plan %s applied", snap.Plan.ID)), nil
		},
	)
}
