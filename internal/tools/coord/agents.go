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
	"github.com/jaakkos/meshwork/internal/registry"
)

// registerRegisterAgent registers the register_agent tool.
func registerRegisterAgent(s *server.MCPServer, rt *coord.Runtime, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("register_agent",
			mcp.WithDescription("Register an agent with the coordination runtime. The agent becomes discoverable and must heartbeat to stay live."),
			mcp.WithString("id", mcp.Required(), mcp.Description("Stable agent identifier (e.g. 'impl-1')")),
			mcp.WithString("role", mcp.Required(), mcp.Description("Agent role: planner, implementer, auditor, cleaner, researcher, coordinator, or specialist")),
			mcp.WithArray("capabilities", mcp.Description("Capability names this agent offers")),
			mcp.WithString("parent_id", mcp.Description("Id of the agent that spawned this one")),
			mcp.WithString("surface", mcp.Description("Surface the agent runs on (e.g. 'cli', 'editor')")),
			mcp.WithString("session_id", mcp.Description("Transport session identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			id, err := requireString(args, "id")
			if err != nil {
				return nil, err
			}
			role, err := requireString(args, "role")
			if err != nil {
				return nil, err
			}

			var caps []domain.Capability
			for _, name := range optionalStrings(args, "capabilities") {
				caps = append(caps, domain.Capability{Name: name, Proficiency: 1})
			}
			agent, err := rt.Registry.Register(registry.Registration{
				ID:           id,
				Role:         domain.AgentRole(role),
				Capabilities: caps,
				ParentID:     optionalString(args, "parent_id", ""),
				Surface:      optionalString(args, "surface", ""),
				SessionID:    optionalString(args, "session_id", ""),
			})
			if err != nil {
				return nil, err
			}

			logger.Printf("agent %s registered as %s", agent.ID, agent.Role)
			return mcp.NewToolResultText(fmt.Sprintf("Agent %s registered (role=%s, status=%s). Heartbeat every %s.",
				agent.ID, agent.Role, agent.Status, rt.Policy.HeartbeatInterval())), nil
		},
	)
}

// registerUnregisterAgent registers the unregister_agent tool.
func registerUnregisterAgent(s *server.MCPServer, rt *coord.Runtime, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("unregister_agent",
			mcp.WithDescription("Unregister an agent. Its children are orphaned, not removed."),
			mcp.WithString("id", mcp.Required(), mcp.Description("Agent identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			id, err := requireString(req.GetArguments(), "id")
			if err != nil {
				return nil, err
			}
			if !rt.Registry.Unregister(id) {
				return mcp.NewToolResultText(fmt.Sprintf("Agent %s was not registered", id)), nil
			}
			logger.Printf("agent %s unregistered", id)
			return mcp.NewToolResultText(fmt.Sprintf("Agent %s unregistered", id)), nil
		},
	)
}

// registerHeartbeat registers the heartbeat tool.
func registerHeartbeat(s *server.MCPServer, rt *coord.Runtime, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("heartbeat",
			mcp.WithDescription("Report liveness. The response piggybacks pending message and task counts so agents learn about waiting work without extra calls."),
			mcp.WithString("id", mcp.Required(), mcp.Description("Agent identifier")),
			mcp.WithString("status", mcp.Description("Optional status transition: active, idle, or busy")),
			mcp.WithString("current_task_id", mcp.Description("Task the agent is working on, if any")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			id, err := requireString(args, "id")
			if err != nil {
				return nil, err
			}
			res := rt.Registry.Heartbeat(id,
				domain.AgentStatus(optionalString(args, "status", "")),
				optionalString(args, "current_task_id", ""))
			if !res.Accepted {
				return mcp.NewToolResultText(fmt.Sprintf("Heartbeat rejected: agent %s is not registered", id)), nil
			}
			return mcp.NewToolResultText(fmt.Sprintf(
				"Heartbeat accepted. Next in %s. Pending: %d message(s), %d task(s).",
				res.NextHeartbeatIn, res.PendingMessages, res.PendingTasks)), nil
		},
	)
}

// registerListAgents registers the list_agents tool.
func registerListAgents(s *server.MCPServer, rt *coord.Runtime, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("list_agents",
			mcp.WithDescription("Discover registered agents, most recently active first."),
			mcp.WithString("role", mcp.Description("Filter by role")),
			mcp.WithString("capability", mcp.Description("Filter by capability name")),
			mcp.WithBoolean("live_only", mcp.Description("Only show live agents (default: false)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			f := domain.AgentFilter{}
			if role := optionalString(args, "role", ""); role != "" {
				f.Role = domain.AgentRole(role)
			}
			if cap := optionalString(args, "capability", ""); cap != "" {
				f.Capabilities = []string{cap}
			}
			if optionalBool(args, "live_only", false) {
				f.Statuses = []domain.AgentStatus{domain.AgentActive, domain.AgentIdle, domain.AgentBusy}
			}
			agents := rt.Registry.DiscoverPeers(f)
			if len(agents) == 0 {
				return mcp.NewToolResultText("No agents registered"), nil
			}

			var b strings.Builder
			for _, a := range agents {
				fmt.Fprintf(&b, "%s  role=%s status=%s", a.ID, a.Role, a.Status)
				if a.CurrentTaskID != "" {
					fmt.Fprintf(&b, " task=%s", a.CurrentTaskID)
				}
				if len(a.Capabilities) > 0 {
					names := make([]string, len(a.Capabilities))
					for i, c := range a.Capabilities {
						names[i] = c.Name
					}
					fmt.Fprintf(&b, " caps=%s", strings.Join(names, ","))
				}
				b.WriteByte('\n')
			}
			return mcp.NewToolResultText(b.String()), nil
		},
	)
}
