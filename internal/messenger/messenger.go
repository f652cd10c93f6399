// Package messenger provides inter-colony communication: priority message
// queues per colony and an advisory resource lock manager with deadlock
// detection.
package messenger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/k-iijima/hiveforge/internal/akashic"
	"github.com/k-iijima/hiveforge/internal/logging"
)

// Priority orders message delivery. Within one priority, delivery is FIFO.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

// String returns the wire name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "URGENT"
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	default:
		return "LOW"
	}
}

// ParsePriority maps a wire name to a Priority, defaulting to NORMAL.
func ParsePriority(s string) Priority {
	switch s {
	case "URGENT":
		return PriorityUrgent
	case "HIGH":
		return PriorityHigh
	case "LOW":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// Message is one queued item.
type Message struct {
	ID            string                 `json:"id"`
	From          string                 `json:"from"`
	To            string                 `json:"to"`
	Type          string                 `json:"type"`
	Payload       map[string]interface{} `json:"payload"`
	Priority      Priority               `json:"priority"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	SentAt        time.Time              `json:"sent_at"`
}

// ErrColonyNotRegistered indicates a send to an unknown recipient.
var ErrColonyNotRegistered = errors.New("colony not registered")

// Messenger routes messages between registered colonies. Each colony owns
// one queue ordered by priority then arrival.
type Messenger struct {
	mu     sync.Mutex
	queues map[string][]*Message
}

// NewMessenger creates an empty messenger.
func NewMessenger() *Messenger {
	return &Messenger{queues: map[string][]*Message{}}
}

// Register creates the colony's queue. Registering twice is a no-op.
func (m *Messenger) Register(colonyID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queues[colonyID]; !ok {
		m.queues[colonyID] = nil
	}
}

// Unregister drops the colony and its queued messages.
func (m *Messenger) Unregister(colonyID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.queues, colonyID)
}

// Send enqueues a message for one colony and returns its id. The message
// is inserted before the first strictly lower-priority entry, keeping
// arrival order within each priority.
func (m *Messenger) Send(from, to, msgType string, payload map[string]interface{}, priority Priority, correlationID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queue, ok := m.queues[to]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrColonyNotRegistered, to)
	}

	msg := &Message{
		ID:            akashic.NewEventID(),
		From:          from,
		To:            to,
		Type:          msgType,
		Payload:       payload,
		Priority:      priority,
		CorrelationID: correlationID,
		SentAt:        time.Now().UTC(),
	}

	pos := len(queue)
	for i, queued := range queue {
		if queued.Priority < priority {
			pos = i
			break
		}
	}
	queue = append(queue, nil)
	copy(queue[pos+1:], queue[pos:])
	queue[pos] = msg
	m.queues[to] = queue

	logging.Messenger("queued %s %s -> %s (%s)", msgType, from, to, priority)
	return msg.ID, nil
}

// Broadcast enqueues one copy per registered colony except the sender.
func (m *Messenger) Broadcast(from, msgType string, payload map[string]interface{}) []string {
	m.mu.Lock()
	recipients := make([]string, 0, len(m.queues))
	for colony := range m.queues {
		if colony != from {
			recipients = append(recipients, colony)
		}
	}
	m.mu.Unlock()

	var ids []string
	for _, to := range recipients {
		if id, err := m.Send(from, to, msgType, payload, PriorityNormal, ""); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// Receive pops the head of the colony's queue, or nil when empty.
func (m *Messenger) Receive(colonyID string) *Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	queue := m.queues[colonyID]
	if len(queue) == 0 {
		return nil
	}
	msg := queue[0]
	m.queues[colonyID] = queue[1:]
	return msg
}

// Respond sends a reply correlated to a request message.
func (m *Messenger) Respond(request *Message, from string, payload map[string]interface{}) (string, error) {
	correlation := request.CorrelationID
	if correlation == "" {
		correlation = request.ID
	}
	return m.Send(from, request.From, request.Type+".response", payload, request.Priority, correlation)
}

// DiscardFor drops every queued message for a colony (cancellation) and
// returns how many were dropped.
func (m *Messenger) DiscardFor(colonyID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.queues[colonyID])
	if _, ok := m.queues[colonyID]; ok {
		m.queues[colonyID] = nil
	}
	return n
}

// Pending returns the queue depth for a colony.
func (m *Messenger) Pending(colonyID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[colonyID])
}
