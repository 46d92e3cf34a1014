// Package bus implements the priority message bus: direct, broadcast, topic
// pub/sub, and request/response delivery with acknowledgment and expiry.
//
// Each recipient has one priority queue (critical before high before normal
// before low, FIFO within a priority). A processing loop drains queues for
// recipients that are deliverable per the registry; fan-out sends clone the
// message per recipient so every copy tracks its own delivery status.
package bus

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jaakkos/meshwork/internal/domain"
	"github.com/jaakkos/meshwork/internal/events"
	"github.com/jaakkos/meshwork/internal/policy"
	"github.com/jaakkos/meshwork/internal/registry"
)

// Handler consumes a delivered message. A returned error marks the copy
// failed and leaves it queued for the next processing pass.
type Handler func(msg *domain.Message) error

// RequestHandler answers a request-typed message; the returned body is
// wrapped as a response at the request's priority.
type RequestHandler func(msg *domain.Message) (any, error)

// TopicFilter restricts a subscription; nil accepts everything.
type TopicFilter func(msg *domain.Message) bool

// Subscription is one agent's interest in a topic.
type Subscription struct {
	ID      string
	AgentID string
	Topic   string
	Filter  TopicFilter
}

// Stats counts bus activity. Broadcast and topic publications count once per
// logical send, not per fan-out copy.
type Stats struct {
	Sent       int                              `json:"sent"`
	Delivered  int                              `json:"delivered"`
	Failed     int                              `json:"failed"`
	Expired    int                              `json:"expired"`
	Broadcasts int                              `json:"broadcasts"`
	Published  int                              `json:"published"`
	Requests   int                              `json:"requests"`
	ByType     map[domain.MessageType]int       `json:"by_type"`
	ByPriority map[domain.MessagePriority]int   `json:"by_priority"`
}

type pendingRequest struct {
	requesterID string
	priority    domain.MessagePriority
	respCh      chan any
	timer       *time.Timer
}

// Bus is the message bus. All public methods are safe for concurrent use.
type Bus struct {
	pol    *policy.Policy
	logger *log.Logger
	sink   events.Sink
	reg    *registry.Registry

	mu              sync.Mutex
	queues          map[string][]*domain.Message
	index           map[string]*domain.Message // every live message copy by id
	handlers        map[string][]Handler
	requestHandlers map[string]RequestHandler
	subs            map[string][]*Subscription
	pending         map[string]*pendingRequest // request message id -> waiter
	ring            []*domain.Message
	stats           Stats

	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Option configures the bus.
type Option func(*Bus)

// WithSink sets the event sink.
func WithSink(s events.Sink) Option {
	return func(b *Bus) { b.sink = s }
}

// New returns a Bus wired to the registry for recipient liveness.
func New(pol *policy.Policy, reg *registry.Registry, logger *log.Logger, opts ...Option) *Bus {
	b := &Bus{
		pol:             pol,
		logger:          logger,
		sink:            events.NopSink{},
		reg:             reg,
		queues:          make(map[string][]*domain.Message),
		index:           make(map[string]*domain.Message),
		handlers:        make(map[string][]Handler),
		requestHandlers: make(map[string]RequestHandler),
		subs:            make(map[string][]*Subscription),
		pending:         make(map[string]*pendingRequest),
		stats: Stats{
			ByType:     make(map[domain.MessageType]int),
			ByPriority: make(map[domain.MessagePriority]int),
		},
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// MessageOption customizes an outgoing message.
type MessageOption func(*domain.Message)

// WithPriority sets the delivery priority (default normal).
func WithPriority(p domain.MessagePriority) MessageOption {
	return func(m *domain.Message) { m.Priority = p }
}

// WithExpiry overrides the default message expiry.
func WithExpiry(d time.Duration) MessageOption {
	return func(m *domain.Message) { m.ExpiresAt = m.CreatedAt.Add(d) }
}

// WithAck requires an explicit Acknowledge after delivery.
func WithAck() MessageOption {
	return func(m *domain.Message) { m.RequiresAck = true }
}

// WithMetadata attaches opaque metadata.
func WithMetadata(md map[string]any) MessageOption {
	return func(m *domain.Message) { m.Metadata = md }
}

func (b *Bus) newMessage(typ domain.MessageType, sender, subject string, body any, opts ...MessageOption) *domain.Message {
	now := time.Now()
	m := &domain.Message{
		ID:        domain.NewID("msg"),
		Type:      typ,
		Priority:  domain.PriorityNormal,
		SenderID:  sender,
		Subject:   subject,
		Body:      body,
		CreatedAt: now,
		ExpiresAt: now.Add(b.pol.MessageExpiry()),
		Status:    domain.MessageQueued,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// recordLocked appends the message to the bounded log ring.
func (b *Bus) recordLocked(m *domain.Message) {
	b.ring = append(b.ring, m)
	if max := b.pol.MessageLogMax(); len(b.ring) > max {
		b.ring = b.ring[len(b.ring)-max:]
	}
}

// enqueueLocked inserts the message before the first queued entry with a
// strictly lower priority, keeping FIFO order within each priority.
func (b *Bus) enqueueLocked(recipient string, m *domain.Message) {
	q := b.queues[recipient]
	pos := len(q)
	for i, queued := range q {
		if queued.Priority.Ordinal() > m.Priority.Ordinal() {
			pos = i
			break
		}
	}
	q = append(q, nil)
	copy(q[pos+1:], q[pos:])
	q[pos] = m
	b.queues[recipient] = q
	b.index[m.ID] = m
	events.Emit(b.sink, events.MessageQueued, map[string]any{
		"messageId": m.ID, "recipientId": recipient, "priority": m.Priority,
	})
}

func (b *Bus) cloneFor(m *domain.Message, recipient string) *domain.Message {
	cp := *m
	cp.ID = domain.NewID("msg")
	cp.RecipientID = recipient
	return &cp
}

// SendToAgent queues a direct message for one recipient.
func (b *Bus) SendToAgent(senderID, recipientID, subject string, body any, opts ...MessageOption) (*domain.Message, error) {
	if recipientID == "" {
		return nil, fmt.Errorf("%w: direct message requires a recipient", domain.ErrInvalid)
	}
	m := b.newMessage(domain.MessageDirect, senderID, subject, body, opts...)
	m.RecipientID = recipientID

	b.mu.Lock()
	defer b.mu.Unlock()
	b.recordLocked(m)
	b.enqueueLocked(recipientID, m)
	b.stats.Sent++
	b.stats.ByType[m.Type]++
	b.stats.ByPriority[m.Priority]++
	return m, nil
}

// BroadcastToAll queues a clone for every live agent except the sender.
// The logical message is logged exactly once even with zero recipients.
func (b *Bus) BroadcastToAll(senderID, subject string, body any, opts ...MessageOption) (*domain.Message, error) {
	m := b.newMessage(domain.MessageBroadcast, senderID, subject, body, opts...)
	live := b.reg.LiveAgents()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.recordLocked(m)
	for _, a := range live {
		if a.ID == senderID {
			continue
		}
		b.enqueueLocked(a.ID, b.cloneFor(m, a.ID))
	}
	b.stats.Sent++
	b.stats.Broadcasts++
	b.stats.ByType[m.Type]++
	b.stats.ByPriority[m.Priority]++
	return m, nil
}

// PublishToTopic queues a clone for every matching subscriber except the sender.
func (b *Bus) PublishToTopic(senderID, topic, subject string, body any, opts ...MessageOption) (*domain.Message, error) {
	if topic == "" {
		return nil, fmt.Errorf("%w: topic publication requires a topic", domain.ErrInvalid)
	}
	m := b.newMessage(domain.MessageTopic, senderID, subject, body, opts...)
	m.Topic = topic

	b.mu.Lock()
	defer b.mu.Unlock()
	b.recordLocked(m)
	for _, sub := range b.subs[topic] {
		if sub.AgentID == senderID {
			continue
		}
		if sub.Filter != nil && !sub.Filter(m) {
			continue
		}
		b.enqueueLocked(sub.AgentID, b.cloneFor(m, sub.AgentID))
	}
	b.stats.Sent++
	b.stats.Published++
	b.stats.ByType[m.Type]++
	b.stats.ByPriority[m.Priority]++
	return m, nil
}

// SendRequest queues a request and blocks until the matching response is
// acknowledged or the timeout fires (zero timeout means the configured
// default). The response body is returned.
func (b *Bus) SendRequest(ctx context.Context, senderID, recipientID, subject string, body any, timeout time.Duration, opts ...MessageOption) (any, error) {
	if recipientID == "" {
		return nil, fmt.Errorf("%w: request requires a recipient", domain.ErrInvalid)
	}
	if timeout <= 0 {
		timeout = b.pol.RequestTimeout()
	}
	m := b.newMessage(domain.MessageRequest, senderID, subject, body, opts...)
	m.RecipientID = recipientID

	respCh := make(chan any, 1)
	pr := &pendingRequest{requesterID: senderID, priority: m.Priority, respCh: respCh}

	b.mu.Lock()
	b.recordLocked(m)
	b.pending[m.ID] = pr
	b.enqueueLocked(recipientID, m)
	b.stats.Sent++
	b.stats.Requests++
	b.stats.ByType[m.Type]++
	b.stats.ByPriority[m.Priority]++
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case body := <-respCh:
		return body, nil
	case <-timer.C:
		b.dropPending(m.ID)
		return nil, fmt.Errorf("request %s: %w after %s", m.ID, domain.ErrExpired, timeout)
	case <-ctx.Done():
		b.dropPending(m.ID)
		return nil, ctx.Err()
	}
}

func (b *Bus) dropPending(requestID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, requestID)
}

// SendResponse queues a response for an outstanding request. Responses
// inherit the request's priority and do not require an ack unless WithAck
// is supplied.
func (b *Bus) SendResponse(senderID, requestID string, body any, opts ...MessageOption) (*domain.Message, error) {
	b.mu.Lock()
	pr, ok := b.pending[requestID]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("request %q: %w (no outstanding request)", requestID, domain.ErrNotFound)
	}

	m := b.newMessage(domain.MessageResponse, senderID, "", body)
	m.RecipientID = pr.requesterID
	m.RequestID = requestID
	m.Priority = pr.priority
	for _, o := range opts {
		o(m)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.recordLocked(m)
	b.enqueueLocked(m.RecipientID, m)
	b.stats.Sent++
	b.stats.ByType[m.Type]++
	b.stats.ByPriority[m.Priority]++
	return m, nil
}

// Subscribe registers interest in a topic. The filter may be nil.
func (b *Bus) Subscribe(agentID, topic string, filter TopicFilter) *Subscription {
	sub := &Subscription{
		ID:      domain.NewID("sub"),
		AgentID: agentID,
		Topic:   topic,
		Filter:  filter,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], sub)
	return sub
}

// Unsubscribe removes a subscription by id. Returns false when unknown.
func (b *Bus) Unsubscribe(subID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, subs := range b.subs {
		for i, sub := range subs {
			if sub.ID == subID {
				b.subs[topic] = append(subs[:i], subs[i+1:]...)
				return true
			}
		}
	}
	return false
}

// RegisterHandler appends a delivery handler for the agent. Handlers run in
// registration order.
func (b *Bus) RegisterHandler(agentID string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[agentID] = append(b.handlers[agentID], h)
}

// RegisterRequestHandler sets the single request handler for the agent.
func (b *Bus) RegisterRequestHandler(agentID string, h RequestHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requestHandlers[agentID] = h
}

// GetMessages returns the agent's queued messages in delivery order.
func (b *Bus) GetMessages(agentID string) []*domain.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[agentID]
	out := make([]*domain.Message, len(q))
	for i, m := range q {
		cp := *m
		out[i] = &cp
	}
	return out
}

// PendingCount returns how many messages are queued for the agent.
func (b *Bus) PendingCount(agentID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[agentID])
}

// Acknowledge marks a message acknowledged. Acknowledging a response
// resolves the originating request's waiter with the response body.
func (b *Bus) Acknowledge(messageID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.index[messageID]
	if !ok {
		return fmt.Errorf("message %q: %w", messageID, domain.ErrNotFound)
	}
	b.acknowledgeLocked(m)
	return nil
}

func (b *Bus) acknowledgeLocked(m *domain.Message) {
	if !m.Acknowledged {
		m.Acknowledged = true
		m.AcknowledgedAt = time.Now()
	}
	if m.Status == domain.MessageSent {
		m.Status = domain.MessageDelivered
	}
	if m.Type == domain.MessageResponse && m.RequestID != "" {
		if pr, ok := b.pending[m.RequestID]; ok {
			pr.respCh <- m.Body
			delete(b.pending, m.RequestID)
		}
	}
}

// MarkAsRead marks a delivered message read.
func (b *Bus) MarkAsRead(messageID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.index[messageID]
	if !ok {
		return fmt.Errorf("message %q: %w", messageID, domain.ErrNotFound)
	}
	m.Status = domain.MessageRead
	return nil
}

// History queries the bounded message log, newest first. Filter fields
// compose with AND semantics.
func (b *Bus) History(f domain.MessageFilter) []*domain.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*domain.Message
	for i := len(b.ring) - 1; i >= 0; i-- {
		m := b.ring[i]
		if !f.Matches(m) {
			continue
		}
		cp := *m
		out = append(out, &cp)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// GetStats returns a copy of the counters.
func (b *Bus) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.stats
	st.ByType = make(map[domain.MessageType]int, len(b.stats.ByType))
	for k, v := range b.stats.ByType {
		st.ByType[k] = v
	}
	st.ByPriority = make(map[domain.MessagePriority]int, len(b.stats.ByPriority))
	for k, v := range b.stats.ByPriority {
		st.ByPriority[k] = v
	}
	return st
}

// Start runs the delivery loop at the processing tick until ctx is cancelled
// or Stop is called.
func (b *Bus) Start(ctx context.Context) {
	b.mu.Lock()
	b.started = true
	b.mu.Unlock()
	defer close(b.doneCh)
	ticker := time.NewTicker(b.pol.ProcessingTick())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.ProcessOnce()
		}
	}
}

// Stop signals the delivery loop to stop and waits for it.
func (b *Bus) Stop() {
	select {
	case <-b.stopCh:
	default:
		close(b.stopCh)
	}
	b.mu.Lock()
	started := b.started
	b.mu.Unlock()
	if started {
		<-b.doneCh
	}
}

// delivery is one message pulled out of a queue with the handlers to run.
type delivery struct {
	recipient  string
	msg        *domain.Message
	handlers   []Handler
	reqHandler RequestHandler
}

// ProcessOnce runs one delivery pass (exported for tests). Expired messages
// are dropped; deliverable ones are handed to their handlers; responses to
// outstanding requests are consumed by the waiting requester directly.
func (b *Bus) ProcessOnce() {
	now := time.Now()

	b.mu.Lock()
	var work []delivery
	for recipient, q := range b.queues {
		if b.reg != nil && !b.reg.Deliverable(recipient) {
			continue
		}
		handlers := b.handlers[recipient]
		reqHandler := b.requestHandlers[recipient]

		kept := q[:0]
		for _, m := range q {
			if m.Expired(now) {
				m.Status = domain.MessageExpired
				delete(b.index, m.ID)
				b.stats.Expired++
				events.Emit(b.sink, events.MessageExpired, map[string]any{
					"messageId": m.ID, "recipientId": recipient,
				})
				continue
			}
			_, awaited := b.pending[m.RequestID]
			deliverable := len(handlers) > 0 ||
				(m.Type == domain.MessageRequest && reqHandler != nil) ||
				(m.Type == domain.MessageResponse && awaited)
			if !deliverable {
				kept = append(kept, m)
				continue
			}
			m.Status = domain.MessageSent
			m.DeliveryAttempts++
			m.LastAttemptAt = now
			work = append(work, delivery{
				recipient:  recipient,
				msg:        m,
				handlers:   handlers,
				reqHandler: reqHandler,
			})
		}
		b.queues[recipient] = kept
	}
	b.mu.Unlock()

	for _, d := range work {
		b.deliver(d)
	}
}

// deliver runs handlers outside the bus lock, then finalizes the copy's
// status under the lock.
func (b *Bus) deliver(d delivery) {
	var handlerErr error
	for _, h := range d.handlers {
		if err := h(d.msg); err != nil {
			handlerErr = err
			break
		}
	}

	var responseBody any
	respond := false
	if handlerErr == nil && d.msg.Type == domain.MessageRequest && d.reqHandler != nil {
		body, err := d.reqHandler(d.msg)
		if err != nil {
			handlerErr = err
		} else {
			responseBody = body
			respond = true
		}
	}

	b.mu.Lock()
	if handlerErr != nil {
		d.msg.Status = domain.MessageFailed
		d.msg.DeliveryError = handlerErr.Error()
		b.stats.Failed++
		// Keep the copy queued; the next pass retries it.
		b.enqueueLocked(d.recipient, d.msg)
		events.Emit(b.sink, events.HandlerError, map[string]any{
			"messageId": d.msg.ID, "recipientId": d.recipient, "error": handlerErr.Error(),
		})
		events.Emit(b.sink, events.DeliveryFailed, map[string]any{
			"messageId": d.msg.ID, "recipientId": d.recipient,
		})
		b.mu.Unlock()
		return
	}

	if !d.msg.RequiresAck {
		d.msg.Status = domain.MessageDelivered
		b.acknowledgeLocked(d.msg)
	}
	b.stats.Delivered++
	events.Emit(b.sink, events.MessageDelivered, map[string]any{
		"messageId": d.msg.ID, "recipientId": d.recipient,
	})
	b.mu.Unlock()

	if respond {
		if _, err := b.SendResponse(d.recipient, d.msg.ID, responseBody); err != nil {
			b.logger.Printf("auto-response for request %s failed: %v", d.msg.ID, err)
		}
	}
}
