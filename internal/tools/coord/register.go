// Package coordtools exposes the coordination runtime over MCP. Each tool is
// a thin argument-parsing shim over one runtime operation.
package coordtools

import (
	"log"

	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/meshwork/internal/coord"
)

// Register registers every coordination tool with the mcp-go server.
func Register(s *server.MCPServer, rt *coord.Runtime, logger *log.Logger) {
	// Agent lifecycle (4)
	registerRegisterAgent(s, rt, logger)
	registerUnregisterAgent(s, rt, logger)
	registerHeartbeat(s, rt, logger)
	registerListAgents(s, rt, logger)

	// Messaging (5)
	registerSendMessage(s, rt, logger)
	registerBroadcast(s, rt, logger)
	registerPublishTopic(s, rt, logger)
	registerGetMessages(s, rt, logger)
	registerAcknowledge(s, rt, logger)

	// Work distribution (7)
	registerCreateTask(s, rt, logger)
	registerClaimTask(s, rt, logger)
	registerStartTask(s, rt, logger)
	registerCompleteTask(s, rt, logger)
	registerFailTask(s, rt, logger)
	registerListTasks(s, rt, logger)
	registerRecommendations(s, rt, logger)

	// Progress (3)
	registerReportProgress(s, rt, logger)
	registerCreateMilestone(s, rt, logger)
	registerAgentStats(s, rt, logger)

	// Plans (7)
	registerPlanCreate(s, rt, logger)
	registerPlanAddItem(s, rt, logger)
	registerPlanUpdateStatus(s, rt, logger)
	registerPlanAssignItem(s, rt, logger)
	registerPlanGet(s, rt, logger)
	registerPlanSnapshot(s, rt, logger)
	registerPlanApplySnapshot(s, rt, logger)
}
