package servo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorterbot/raspberry/internal/config"
	"github.com/sorterbot/raspberry/internal/pigpio"
)

func testConfig() config.ServoConfig {
	return config.ServoConfig{
		Pins:           []int{14, 15, 18, 24, 25},
		StartPositions: []int{1425, 500, 1800, 1780, 1150},
		Speeds:         map[string]float64{SpeedDataset: 20, SpeedFast: 700},
	}
}

func newTestController(t *testing.T) (*Controller, *pigpio.Fake) {
	t.Helper()
	fake := pigpio.NewFake()
	c := NewController(fake, testConfig())
	c.sleep = func(time.Duration) {} // don't wait out trajectories in tests
	return c, fake
}

func TestExecuteCommandReachesTarget(t *testing.T) {
	c, fake := newTestController(t)

	err := c.ExecuteCommand(context.Background(), Command{Servo: 0, PulseWidth: 2000})
	require.NoError(t, err)

	history := fake.HistoryOf(14)
	require.NotEmpty(t, history)
	assert.Equal(t, 2000, history[len(history)-1], "trajectory must land on the target")
	assert.Equal(t, 2000.0, c.Positions()[0], "current position tracks the trajectory tail")
}

func TestExecuteCommandZeroDeltaPinsServo(t *testing.T) {
	c, fake := newTestController(t)

	// Start and end identical: no valid trajectory, servo fixed in place.
	err := c.ExecuteCommand(context.Background(), Command{Servo: 1, PulseWidth: 500})
	require.NoError(t, err)
	assert.Equal(t, []int{500}, fake.HistoryOf(15))
}

func TestExecuteCommandValidation(t *testing.T) {
	c, _ := newTestController(t)

	err := c.ExecuteCommand(context.Background(), Command{Servo: 9, PulseWidth: 1500})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")

	err = c.ExecuteCommand(context.Background(), Command{Servo: 0, PulseWidth: 1500, Speed: "warp"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown servo speed")
}

func TestExecuteCommandHonorsCancel(t *testing.T) {
	c, _ := newTestController(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.ExecuteCommand(ctx, Command{Servo: 0, PulseWidth: 2200})
	require.ErrorIs(t, err, context.Canceled)
}

func TestExecuteCommandsParallel(t *testing.T) {
	c, fake := newTestController(t)

	err := c.ExecuteCommands(context.Background(), []Command{
		{Servo: 0, PulseWidth: 2000},
		{Servo: 1, PulseWidth: 1200},
	}, true)
	require.NoError(t, err)

	h0 := fake.HistoryOf(14)
	h1 := fake.HistoryOf(15)
	require.NotEmpty(t, h0)
	require.NotEmpty(t, h1)
	assert.Equal(t, 2000, h0[len(h0)-1])
	assert.Equal(t, 1200, h1[len(h1)-1])
}

func TestMoveToPositionCouplesServos(t *testing.T) {
	c, fake := newTestController(t)

	pos := Position{Angle: 1600, Distance: 1500}
	require.NoError(t, c.MoveToPosition(context.Background(), pos, false))

	s1 := 1500.0
	wantServo2 := -7.83e-7*s1*s1*s1 + 5.26e-3*s1*s1 - 10.3*s1 + 7341
	wantServo3 := 1.48e-6*s1*s1*s1 - 8.11e-3*s1*s1 + 14.2*s1 - 6634

	h0 := fake.HistoryOf(14)
	h1 := fake.HistoryOf(15)
	h2 := fake.HistoryOf(18)
	h3 := fake.HistoryOf(24)
	require.NotEmpty(t, h2)
	assert.Equal(t, 1600, h0[len(h0)-1])
	assert.Equal(t, 1500, h1[len(h1)-1])
	assert.InDelta(t, wantServo2, float64(h2[len(h2)-1]), 1)
	assert.InDelta(t, wantServo3, float64(h3[len(h3)-1]), 1)
}

func TestMoveToPositionContainerRaisesTarget(t *testing.T) {
	c, _ := newTestController(t)

	require.NoError(t, c.MoveToPosition(context.Background(), Position{Angle: 1600, Distance: 1500}, true))

	// Drop-off height: servo 1 aims 300 units short of the distance.
	assert.InDelta(t, 1200, c.Positions()[1], 0.5)
}

func TestInitPositionForInference(t *testing.T) {
	c, _ := newTestController(t)

	require.NoError(t, c.InitPosition(context.Background(), true))
	pos := c.Positions()
	assert.InDelta(t, 2000, pos[0], 0.5)
	assert.InDelta(t, 1200, pos[1], 0.5)

	require.NoError(t, c.InitPosition(context.Background(), false))
	assert.InDelta(t, 2200, c.Positions()[0], 0.5)
}

func TestResetNeutralizesServos(t *testing.T) {
	c, fake := newTestController(t)

	require.NoError(t, c.ExecuteCommand(context.Background(), Command{Servo: 0, PulseWidth: 2000}))
	require.NoError(t, c.Reset(context.Background()))

	for _, pin := range []int{14, 15, 18, 24, 25} {
		h := fake.HistoryOf(pin)
		require.NotEmpty(t, h, "pin %d", pin)
		assert.Equal(t, 0, h[len(h)-1], "pin %d must end released", pin)
	}
}

type captureMoveRecorder struct {
	moves []string
}

func (c *captureMoveRecorder) ObserveServoMoveDuration(servo string, _ time.Duration) {
	c.moves = append(c.moves, servo)
}

func TestExecuteCommandRecordsMoveDuration(t *testing.T) {
	fake := pigpio.NewFake()
	rec := &captureMoveRecorder{}
	c := NewController(fake, testConfig(), WithRecorder(rec))
	c.sleep = func(time.Duration) {}

	require.NoError(t, c.ExecuteCommand(context.Background(), Command{Servo: 0, PulseWidth: 2000}))
	require.NoError(t, c.ExecuteCommand(context.Background(), Command{Servo: 1, PulseWidth: 1200}))

	assert.Equal(t, []string{"0", "1"}, rec.moves)
}
