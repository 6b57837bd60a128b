// Package events publishes the registry change feed to RabbitMQ.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/Secineralyr/Cotonestrum/internal/domain"
	"github.com/Secineralyr/Cotonestrum/internal/protocol"
	"github.com/Secineralyr/Cotonestrum/internal/reducer"
)

// Routing keys for events.
const (
	// RoutingKeyNotice carries server error pushes.
	RoutingKeyNotice = "server.notice"
	// RoutingKeyConnection carries connection state transitions.
	RoutingKeyConnection = "client.connection"
)

// RoutingKeyChanged returns the routing key for changes to one kind,
// e.g. "registry.emoji.changed".
func RoutingKeyChanged(kind domain.Kind) string {
	return "registry." + kind.String() + ".changed"
}

// Event types.
const (
	EventTypeRegistryChanged = "registry.changed"
	EventTypeServerNotice    = "server.notice"
	EventTypeConnection      = "client.connection"
)

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
}

// NewBaseEvent creates a new BaseEvent with auto-generated event_id.
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
		Source:    "cotonestrum",
	}
}

// RegistryChangedEvent is published for every push that changed the
// registry.
type RegistryChangedEvent struct {
	BaseEvent
	Kind    domain.Kind `json:"kind"`
	Op      protocol.Op `json:"op"`
	Added   []string    `json:"added,omitempty"`
	Updated []string    `json:"updated,omitempty"`
	Removed []string    `json:"removed,omitempty"`
}

// NewRegistryChangedEvent creates a new RegistryChangedEvent.
func NewRegistryChangedEvent(cs reducer.ChangeSet) *RegistryChangedEvent {
	return &RegistryChangedEvent{
		BaseEvent: NewBaseEvent(EventTypeRegistryChanged),
		Kind:      cs.Kind,
		Op:        cs.Op,
		Added:     cs.Added,
		Updated:   cs.Updated,
		Removed:   cs.Removed,
	}
}

// NoticeEvent is published for server error pushes.
type NoticeEvent struct {
	BaseEvent
	Op      protocol.Op     `json:"op"`
	Subject string          `json:"subject"`
	Text    string          `json:"text"`
	Body    json.RawMessage `json:"body,omitempty"`
}

// NewNoticeEvent creates a new NoticeEvent.
func NewNoticeEvent(n reducer.Notice) *NoticeEvent {
	return &NoticeEvent{
		BaseEvent: NewBaseEvent(EventTypeServerNotice),
		Op:        n.Op,
		Subject:   n.Subject,
		Text:      n.Text,
		Body:      n.Body,
	}
}

// ConnectionEvent is published when the connection state changes.
type ConnectionEvent struct {
	BaseEvent
	State   string `json:"state"`
	Address string `json:"address,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewConnectionEvent creates a new ConnectionEvent.
func NewConnectionEvent(state, address string, err error) *ConnectionEvent {
	e := &ConnectionEvent{
		BaseEvent: NewBaseEvent(EventTypeConnection),
		State:     state,
		Address:   address,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}
