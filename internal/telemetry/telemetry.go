// Package telemetry publishes arm events to a NATS broker so external systems
// can follow session progress without polling the control panel.
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// TypeConnectivity marks events published when the link to the control
// panel or the cloud service changes state. Session lifecycle events carry
// the eventstore type names instead.
const TypeConnectivity = "connectivity_changed"

// Event is the payload published for each arm event.
type Event struct {
	// ID uniquely identifies the event so consumers can deduplicate
	// across reconnects. Assigned on publish when empty.
	ID        string          `json:"id"`
	ArmID     string          `json:"arm_id"`
	SessionID string          `json:"session_id,omitempty"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Publisher emits arm events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(event Event) error
	Close()
}

// NATSPublisher publishes events to sorterbot.arm.{arm_id}.events (or a
// configured subject).
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// Connect dials the broker. The subject may be empty, in which case the
// default per-arm subject is used.
func Connect(url, subject, armID string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name(fmt.Sprintf("sorterbot-%s", armID)),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	if subject == "" {
		subject = fmt.Sprintf("sorterbot.arm.%s.events", armID)
	}
	return &NATSPublisher{conn: conn, subject: subject}, nil
}

func (p *NATSPublisher) Publish(event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal telemetry event: %w", err)
	}
	return p.conn.Publish(p.subject, data)
}

func (p *NATSPublisher) Close() {
	p.conn.Drain()
}

// NopPublisher discards events (default when no broker is configured).
type NopPublisher struct{}

func (NopPublisher) Publish(Event) error { return nil }
func (NopPublisher) Close()              {}
