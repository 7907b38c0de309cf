package servo

import (
	"math"
	"time"
)

// Step rates: dataset recording needs even, slow periods between positions;
// everything else runs at the 50 Hz servo pulse cycle.
const (
	fastStepsPerSec    = 50.0
	datasetStepsPerSec = 2.0
)

func stepInterval(dataset bool) time.Duration {
	if dataset {
		return time.Second * 2 / 3
	}
	return time.Second / 50
}

// Trajectory generates the intermediate pulse widths for a move from start
// to end at the given speed (pulse-width units per second). For dataset
// recording the interpolation is linear; otherwise a sine easing slows the
// movement at the beginning and end. The final element is always exactly
// end, so repeated moves cannot drift. An empty result means start and end
// are too close for a valid trajectory.
func Trajectory(start, end, speed float64, dataset bool) []float64 {
	stepsPerSec := fastStepsPerSec
	if dataset {
		stepsPerSec = datasetStepsPerSec
	}

	delta := end - start
	duration := delta / speed
	steps := math.Abs(stepsPerSec * duration)

	n := int(steps)
	if n == 0 {
		return nil
	}
	deltaPerStep := delta / steps

	traj := make([]float64, 0, n+1)
	for step := 0; step <= n; step++ {
		linear := float64(step) * deltaPerStep

		if dataset {
			traj = append(traj, start+linear)
			continue
		}

		// Sine easing: maps the linear progress onto a half sine wave so
		// velocity ramps up from zero and back down to zero.
		sine := math.Sin(0.25*linear*math.Pi/(0.25*delta)-0.5*math.Pi)*delta/2 + delta/2
		traj = append(traj, start+sine)
	}

	// Land exactly on the target regardless of step rounding.
	traj[len(traj)-1] = end
	return traj
}
