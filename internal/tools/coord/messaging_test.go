package coordtools

import (
	"strings"
	"testing"
)

func TestSendAndGetMessages(t *testing.T) {
	s, _ := testServer(t)
	registerActive(t, s, "impl-1", "implementer")
	registerActive(t, s, "impl-2", "implementer")

	mustCall(t, s, "send_message", map[string]any{
		"from": "impl-1", "to": "impl-2", "subject": "review",
		"body": "look at the parser", "priority": "high",
	})

	text := mustCall(t, s, "get_messages", map[string]any{"for": "impl-2", "acknowledge": true})
	if !strings.Contains(text, "review") || !strings.Contains(text, "look at the parser") {
		t.Errorf("message content missing: %q", text)
	}

	// Acknowledged on read, so the queue is now empty.
	if text := mustCall(t, s, "get_messages", map[string]any{"for": "impl-2"}); text != "No messages" {
		t.Errorf("queue after acknowledge = %q", text)
	}
}

func TestSendMessage_UnknownRecipient(t *testing.T) {
	s, _ := testServer(t)
	registerActive(t, s, "impl-1", "implementer")
	if _, err := callTool(t, s, "send_message", map[string]any{
		"from": "impl-1", "to": "ghost", "subject": "hello",
	}); err == nil {
		t.Error("expected error for unknown recipient")
	}
}

func TestBroadcast(t *testing.T) {
	s, _ := testServer(t)
	for _, id := range []string{"impl-1", "impl-2", "impl-3"} {
		registerActive(t, s, id, "implementer")
	}
	mustCall(t, s, "broadcast", map[string]any{"from": "impl-1", "subject": "standup in 5"})

	// Every live agent except the sender gets a copy.
	if text := mustCall(t, s, "get_messages", map[string]any{"for": "impl-2"}); !strings.Contains(text, "standup in 5") {
		t.Errorf("impl-2 queue = %q", text)
	}
	if text := mustCall(t, s, "get_messages", map[string]any{"for": "impl-1"}); text != "No messages" {
		t.Errorf("sender queue = %q", text)
	}
}

func TestPublishTopic(t *testing.T) {
	s, rt := testServer(t)
	registerActive(t, s, "impl-1", "implementer")
	registerActive(t, s, "impl-2", "implementer")
	rt.Bus.Subscribe("impl-2", "deploys", nil)

	mustCall(t, s, "publish_topic", map[string]any{
		"from": "impl-1", "topic": "deploys", "subject": "v2 shipping",
	})
	if text := mustCall(t, s, "get_messages", map[string]any{"for": "impl-2"}); !strings.Contains(text, "v2 shipping") {
		t.Errorf("subscriber queue = %q", text)
	}
}

func TestAcknowledge_UnknownMessage(t *testing.T) {
	s, _ := testServer(t)
	if _, err := callTool(t, s, "acknowledge", map[string]any{"message_id": "msg-missing"}); err == nil {
		t.Error("expected error for unknown message")
	}
}
