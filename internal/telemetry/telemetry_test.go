package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(Event{ArmID: "arm_1", Type: "session_started"}))
	p.Close()
}

func TestConnectRefused(t *testing.T) {
	_, err := Connect("nats://127.0.0.1:1", "", "arm_1")
	assert.Error(t, err)
}

func TestEventDefaults(t *testing.T) {
	e := Event{ArmID: "arm_1", Type: "sweep_completed"}
	assert.True(t, e.Timestamp.IsZero())
	e.Timestamp = time.Now()
	assert.False(t, e.Timestamp.IsZero())
}
