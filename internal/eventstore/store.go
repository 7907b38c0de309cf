// Package eventstore journals session events to a local SQLite database so
// the device keeps a history of what it did even when the Control Panel is
// unreachable.
package eventstore

import (
	"context"
	"time"
)

// Event represents a recorded session event.
type Event struct {
	ID        int64
	SessionID string
	Type      string
	Timestamp time.Time
	Payload   []byte
	Metadata  map[string]string
}

// Session event types.
const (
	TypeSessionStarted   = "SessionStarted"
	TypeSweepCompleted   = "SweepCompleted"
	TypeCommandsReceived = "CommandsReceived"
	TypeCommandExecuted  = "CommandExecuted"
	TypeSessionFinished  = "SessionFinished"
	TypeSessionFailed    = "SessionFailed"
)

// Store defines the interface for persisting and retrieving session events.
type Store interface {
	// Append adds a new event to the store.
	Append(ctx context.Context, sessionID, eventType string, payload []byte, metadata map[string]string) error

	// GetBySessionID retrieves all events for a specific session.
	GetBySessionID(ctx context.Context, sessionID string) ([]Event, error)

	// GetRange retrieves events within a time range.
	GetRange(ctx context.Context, start, end time.Time) ([]Event, error)

	// RecentSessions returns the IDs of the most recently started sessions,
	// newest first.
	RecentSessions(ctx context.Context, limit int) ([]string, error)

	// Close closes the store and releases resources.
	Close() error
}

// NopStore discards everything; used when journaling is disabled.
type NopStore struct{}

func (NopStore) Append(context.Context, string, string, []byte, map[string]string) error {
	return nil
}
func (NopStore) GetBySessionID(context.Context, string) ([]Event, error)    { return nil, nil }
func (NopStore) GetRange(context.Context, time.Time, time.Time) ([]Event, error) { return nil, nil }
func (NopStore) RecentSessions(context.Context, int) ([]string, error)      { return nil, nil }
func (NopStore) Close() error                                               { return nil }
