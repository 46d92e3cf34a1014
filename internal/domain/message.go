package domain

import "time"

// MessageType tags how a message is routed and interpreted.
type MessageType string

const (
	MessageDirect    MessageType = "direct"
	MessageBroadcast MessageType = "broadcast"
	MessageTopic     MessageType = "topic"
	MessageRequest   MessageType = "request"
	MessageResponse  MessageType = "response"
	MessageProgress  MessageType = "progress"
	MessageSystem    MessageType = "system"
	MessageError     MessageType = "error"
)

// MessagePriority orders delivery within a recipient's queue.
type MessagePriority string

const (
	PriorityCritical MessagePriority = "critical"
	PriorityHigh     MessagePriority = "high"
	PriorityNormal   MessagePriority = "normal"
	PriorityLow      MessagePriority = "low"
)

// Ordinal returns the queue position weight: lower delivers first.
func (p MessagePriority) Ordinal() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	default:
		return 3
	}
}

// MessageStatus is the delivery state of a single message copy.
type MessageStatus string

const (
	MessageQueued    MessageStatus = "queued"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageFailed    MessageStatus = "failed"
	MessageExpired   MessageStatus = "expired"
)

// Message is one deliverable unit. Fan-out (broadcast, topic) clones the
// message per recipient with a fresh id; each clone tracks its own status.
// The body is opaque to the runtime.
type Message struct {
	ID               string          `json:"id"`
	Type             MessageType     `json:"type"`
	Priority         MessagePriority `json:"priority"`
	SenderID         string          `json:"sender_id"`
	RecipientID      string          `json:"recipient_id,omitempty"`
	Topic            string          `json:"topic,omitempty"`
	RequestID        string          `json:"request_id,omitempty"`
	Subject          string          `json:"subject,omitempty"`
	Body             any             `json:"body,omitempty"`
	Metadata         map[string]any  `json:"metadata,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	ExpiresAt        time.Time       `json:"expires_at"`
	Status           MessageStatus   `json:"status"`
	DeliveryAttempts int             `json:"delivery_attempts"`
	LastAttemptAt    time.Time       `json:"last_attempt_at,omitempty"`
	DeliveryError    string          `json:"delivery_error,omitempty"`
	RequiresAck      bool            `json:"requires_ack"`
	Acknowledged     bool            `json:"acknowledged"`
	AcknowledgedAt   time.Time       `json:"acknowledged_at,omitempty"`
}

// Expired reports whether the message deadline has passed at the given time.
func (m *Message) Expired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && now.After(m.ExpiresAt)
}

// MessageFilter selects messages from the log. All set fields must match.
type MessageFilter struct {
	SenderID    string
	RecipientID string
	Type        MessageType
	Topic       string
	Since       time.Time
	Limit       int
}

// Matches reports whether the message satisfies every set field.
func (f MessageFilter) Matches(m *Message) bool {
	if f.SenderID != "" && m.SenderID != f.SenderID {
		return false
	}
	if f.RecipientID != "" && m.RecipientID != f.RecipientID {
		return false
	}
	if f.Type != "" && m.Type != f.Type {
		return false
	}
	if f.Topic != "" && m.Topic != f.Topic {
		return false
	}
	if !f.Since.IsZero() && m.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}
