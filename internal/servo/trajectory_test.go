package servo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrajectoryEndpoints(t *testing.T) {
	traj := Trajectory(1425, 2000, 700, false)
	require.NotEmpty(t, traj)
	assert.InDelta(t, 1425, traj[0], 0.01, "sine easing starts at rest")
	assert.Equal(t, 2000.0, traj[len(traj)-1], "must land exactly on target")
}

func TestTrajectoryMonotonicForward(t *testing.T) {
	traj := Trajectory(1000, 1800, 700, false)
	for i := 1; i < len(traj); i++ {
		assert.GreaterOrEqual(t, traj[i], traj[i-1], "step %d", i)
	}
}

func TestTrajectoryReverseDirection(t *testing.T) {
	traj := Trajectory(2000, 1000, 700, false)
	require.NotEmpty(t, traj)
	assert.Equal(t, 1000.0, traj[len(traj)-1])
	for i := 1; i < len(traj); i++ {
		assert.LessOrEqual(t, traj[i], traj[i-1], "step %d", i)
	}
}

func TestTrajectoryZeroDelta(t *testing.T) {
	assert.Nil(t, Trajectory(1500, 1500, 700, false))
}

func TestTrajectoryTinyDelta(t *testing.T) {
	// Delta below one step at this speed: no valid trajectory.
	assert.Nil(t, Trajectory(1500, 1501, 700, false))
}

func TestTrajectoryDatasetIsLinear(t *testing.T) {
	traj := Trajectory(1425, 1025, 20, true)
	require.Greater(t, len(traj), 2)

	first := traj[1] - traj[0]
	for i := 2; i < len(traj)-1; i++ {
		assert.InDelta(t, first, traj[i]-traj[i-1], 0.01, "dataset steps must be even")
	}
	assert.Equal(t, 1025.0, traj[len(traj)-1])
}

func TestTrajectorySineEasesInAndOut(t *testing.T) {
	traj := Trajectory(1000, 2000, 700, false)
	require.Greater(t, len(traj), 4)

	// Eased trajectories move less at the edges than in the middle.
	firstStep := traj[1] - traj[0]
	midStep := traj[len(traj)/2] - traj[len(traj)/2-1]
	lastStep := traj[len(traj)-1] - traj[len(traj)-2]
	assert.Less(t, firstStep, midStep)
	assert.Less(t, lastStep, midStep)
}
