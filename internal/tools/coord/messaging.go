package coordtools

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/meshwork/internal/bus"
	"github.com/jaakkos/meshwork/internal/coord"
)

// registerSendMessage registers the send_message tool.
func registerSendMessage(s *server.MCPServer, rt *coord.Runtime, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("send_message",
			mcp.WithDescription("Send a direct message to another agent. Higher priority messages are delivered first."),
			mcp.WithString("from", mcp.Required(), mcp.Description("Sender agent id")),
			mcp.WithString("to", mcp.Required(), mcp.Description("Recipient agent id")),
			mcp.WithString("subject", mcp.Required(), mcp.Description("Short subject line")),
			mcp.WithString("body", mcp.Description("Message body")),
			mcp.WithString("priority", mcp.Description("critical, high, normal, or low (default: normal)")),
			mcp.WithBoolean("requires_ack", mcp.Description("Keep the message pending until explicitly acknowledged")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			from, err := requireString(args, "from")
			if err != nil {
				return nil, err
			}
			to, err := requireString(args, "to")
			if err != nil {
				return nil, err
			}
			subject, err := requireString(args, "subject")
			if err != nil {
				return nil, err
			}

			opts := messageOptions(args)
			m, err := rt.Bus.SendToAgent(from, to, subject, optionalString(args, "body", ""), opts...)
			if err != nil {
				return nil, err
			}
			logger.Printf("message %s sent %s -> %s", m.ID, from, to)
			return mcp.NewToolResultText(fmt.Sprintf("Message %s queued for %s (priority=%s)", m.ID, to, m.Priority)), nil
		},
	)
}

// registerBroadcast registers the broadcast tool.
func registerBroadcast(s *server.MCPServer, rt *coord.Runtime, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("broadcast",
			mcp.WithDescription("Broadcast a message to every live agent except the sender."),
			mcp.WithString("from", mcp.Required(), mcp.Description("Sender agent id")),
			mcp.WithString("subject", mcp.Required(), mcp.Description("Short subject line")),
			mcp.WithString("body", mcp.Description("Message body")),
			mcp.WithString("priority", mcp.Description("critical, high, normal, or low (default: normal)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			from, err := requireString(args, "from")
			if err != nil {
				return nil, err
			}
			subject, err := requireString(args, "subject")
			if err != nil {
				return nil, err
			}
			m, err := rt.Bus.BroadcastToAll(from, subject, optionalString(args, "body", ""), messageOptions(args)...)
			if err != nil {
				return nil, err
			}
			logger.Printf("broadcast %s from %s", m.ID, from)
			return mcp.NewToolResultText(fmt.Sprintf("Broadcast %s queued for all live agents", m.ID)), nil
		},
	)
}

// registerPublishTopic registers the publish_topic tool.
func registerPublishTopic(s *server.MCPServer, rt *coord.Runtime, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("publish_topic",
			mcp.WithDescription("Publish a message to a topic; every subscriber except the sender receives a copy."),
			mcp.WithString("from", mcp.Required(), mcp.Description("Sender agent id")),
			mcp.WithString("topic", mcp.Required(), mcp.Description("Topic name (e.g. 'task.status')")),
			mcp.WithString("subject", mcp.Required(), mcp.Description("Short subject line")),
			mcp.WithString("body", mcp.Description("Message body")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			from, err := requireString(args, "from")
			if err != nil {
				return nil, err
			}
			topic, err := requireString(args, "topic")
			if err != nil {
				return nil, err
			}
			subject, err := requireString(args, "subject")
			if err != nil {
				return nil, err
			}
			m, err := rt.Bus.PublishToTopic(from, topic, subject, optionalString(args, "body", ""))
			if err != nil {
				return nil, err
			}
			logger.Printf("topic %s publication %s from %s", topic, m.ID, from)
			return mcp.NewToolResultText(fmt.Sprintf("Published %s to topic %s", m.ID, topic)), nil
		},
	)
}

// registerGetMessages registers the get_messages tool.
func registerGetMessages(s *server.MCPServer, rt *coord.Runtime, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("get_messages",
			mcp.WithDescription("Read the queued messages for an agent in delivery order (priority, then FIFO)."),
			mcp.WithString("for", mcp.Required(), mcp.Description("Agent id whose queue to read")),
			mcp.WithBoolean("acknowledge", mcp.Description("Acknowledge returned messages (default: false)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			agentID, err := requireString(args, "for")
			if err != nil {
				return nil, err
			}
			msgs := rt.Bus.GetMessages(agentID)
			if len(msgs) == 0 {
				return mcp.NewToolResultText("No messages"), nil
			}
			ack := optionalBool(args, "acknowledge", false)

			var b strings.Builder
			for _, m := range msgs {
				fmt.Fprintf(&b, "--- %s [%s/%s] from %s ---\n%s\n",
					m.ID, m.Type, m.Priority, m.SenderID, m.Subject)
				if m.Body != nil {
					fmt.Fprintf(&b, "%v\n", m.Body)
				}
				b.WriteByte('\n')
				if ack {
					if err := rt.Bus.Acknowledge(m.ID); err != nil {
						logger.Printf("acknowledge %s failed: %v", m.ID, err)
					}
				}
			}
			logger.Printf("returned %d message(s) for %s", len(msgs), agentID)
			return mcp.NewToolResultText(b.String()), nil
		},
	)
}

// registerAcknowledge registers the acknowledge tool.
func registerAcknowledge(s *server.MCPServer, rt *coord.Runtime, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("acknowledge",
			mcp.WithDescription("Acknowledge a message, removing it from its recipient queue."),
			mcp.WithString("message_id", mcp.Required(), mcp.Description("Message identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			id, err := requireString(req.GetArguments(), "message_id")
			if err != nil {
				return nil, err
			}
			if err := rt.Bus.Acknowledge(id); err != nil {
				return nil, err
			}
			return mcp.NewToolResultText(fmt.Sprintf("Message %s acknowledged", id)), nil
		},
	)
}

func messageOptions(args map[string]any) []bus.MessageOption {
	var opts []bus.MessageOption
	if p := optionalString(args, "priority", ""); p != "" {
		opts = append(opts, bus.WithPriority(parsePriority(p)))
	}
	if optionalBool(args, "requires_ack", false) {
		opts = append(opts, bus.WithAck())
	}
	return opts
}
