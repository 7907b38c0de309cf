// Package servo issues the low level pulse-width commands that move the
// arm. Higher level operations (sessions, pick-and-place sequencing) live in
// the session package and are expressed in terms of this controller.
package servo

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sorterbot/raspberry/internal/config"
	"github.com/sorterbot/raspberry/internal/pigpio"
)

// SpeedFast is the default named speed; SpeedDataset is the slow sweep used
// while recording training video, where a fast move would make the camera
// resonate and blur the footage.
const (
	SpeedFast    = "fast"
	SpeedDataset = "dataset"
)

// Command moves a single servo to a pulse width. Servo is an index into the
// configured pin list, not a GPIO number. Speed names an entry in the
// configured speeds map; empty means fast.
type Command struct {
	Servo      int
	PulseWidth float64
	Speed      string
}

// Position is a polar destination: Angle is the pulse width for servo 0,
// Distance maps onto servo 1 (derived from the pixel distance in the
// inference image).
type Position struct {
	Angle    float64
	Distance float64
}

// MoveRecorder observes completed servo movements. metrics.Recorder
// satisfies it.
type MoveRecorder interface {
	ObserveServoMoveDuration(servo string, d time.Duration)
}

// Controller owns the per-servo positions and turns movement commands into
// smoothed pulse-width trajectories on the pigpio daemon.
type Controller struct {
	pi       pigpio.Pi
	pins     []int
	start    []int
	speeds   map[string]float64
	recorder MoveRecorder

	mu   sync.Mutex
	curr []float64

	// sleep is a seam for tests; production uses time.Sleep.
	sleep func(time.Duration)
}

// Option configures a Controller.
type Option func(*Controller)

// WithRecorder attaches a movement metrics recorder.
func WithRecorder(rec MoveRecorder) Option {
	return func(c *Controller) { c.recorder = rec }
}

// NewController creates a controller with every servo assumed to rest at its
// start position.
func NewController(pi pigpio.Pi, cfg config.ServoConfig, opts ...Option) *Controller {
	curr := make([]float64, len(cfg.StartPositions))
	for i, pw := range cfg.StartPositions {
		curr[i] = float64(pw)
	}
	c := &Controller{
		pi:     pi,
		pins:   cfg.Pins,
		start:  cfg.StartPositions,
		speeds: cfg.Speeds,
		curr:   curr,
		sleep:  time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartPosition returns the configured start pulse width for a servo.
func (c *Controller) StartPosition(servo int) float64 {
	return float64(c.start[servo])
}

// Positions returns a snapshot of the current pulse widths.
func (c *Controller) Positions() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]float64, len(c.curr))
	copy(out, c.curr)
	return out
}

// ExecuteCommands runs the commands sequentially, or concurrently when
// parallel is set. Parallel execution gives faster and smoother combined
// movement, but is not always safe: after picking up an object the arm has
// to lift before swinging sideways, or it bumps into neighbouring objects.
func (c *Controller) ExecuteCommands(ctx context.Context, cmds []Command, parallel bool) error {
	if parallel {
		g, ctx := errgroup.WithContext(ctx)
		for _, cmd := range cmds {
			g.Go(func() error {
				return c.ExecuteCommand(ctx, cmd)
			})
		}
		return g.Wait()
	}
	for _, cmd := range cmds {
		if err := c.ExecuteCommand(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteCommand moves one servo. Servos move to a commanded position as
// fast as they can, which is too fast and shakes the arm, so instead of the
// final position directly we send a series of intermediate positions at a
// fixed rate. Outside dataset recording the trajectory is sine-smoothed to
// ease in and out of the movement.
func (c *Controller) ExecuteCommand(ctx context.Context, cmd Command) error {
	if cmd.Servo < 0 || cmd.Servo >= len(c.pins) {
		return fmt.Errorf("servo index %d out of range (have %d servos)", cmd.Servo, len(c.pins))
	}
	pin := c.pins[cmd.Servo]

	speedName := cmd.Speed
	if speedName == "" {
		speedName = SpeedFast
	}
	speed, ok := c.speeds[speedName]
	if !ok {
		return fmt.Errorf("unknown servo speed %q", speedName)
	}
	dataset := speedName == SpeedDataset

	c.mu.Lock()
	start := c.curr[cmd.Servo]
	c.mu.Unlock()

	traj := Trajectory(start, cmd.PulseWidth, speed, dataset)
	if len(traj) == 0 {
		// Start and end too close for a valid trajectory; pin the servo
		// where it is.
		return c.pi.ServoPulsewidth(pin, int(start+0.5))
	}

	began := time.Now()
	stepSleep := stepInterval(dataset)
	for _, pw := range traj {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := c.pi.ServoPulsewidth(pin, int(pw+0.5)); err != nil {
			return err
		}
		c.sleep(stepSleep)
	}

	c.mu.Lock()
	c.curr[cmd.Servo] = traj[len(traj)-1]
	c.mu.Unlock()
	if c.recorder != nil {
		c.recorder.ObserveServoMoveDuration(strconv.Itoa(cmd.Servo), time.Since(began))
	}
	return nil
}

// MoveToPosition drives the arm to a polar destination. Servo 2 and 3
// targets are functions of servo 1, fitted as polynomial curves over
// recorded datapoints of correct pick-up poses. Container drop-offs aim
// higher so the object clears the container wall.
func (c *Controller) MoveToPosition(ctx context.Context, pos Position, isContainer bool) error {
	heightOffset := 0.0
	if isContainer {
		heightOffset = 300
	}

	servo1 := pos.Distance - heightOffset
	servo2 := -7.83e-7*servo1*servo1*servo1 + 5.26e-3*servo1*servo1 - 10.3*servo1 + 7341 + heightOffset
	servo3 := 1.48e-6*servo1*servo1*servo1 - 8.11e-3*servo1*servo1 + 14.2*servo1 - 6634

	c.mu.Lock()
	curr2, curr3 := c.curr[2], c.curr[3]
	c.mu.Unlock()

	// Fix servos 2 and 3 before anything else. This only does meaningful
	// work on the first movement after the starting sequence; afterwards it
	// just holds them in place.
	if err := c.ExecuteCommands(ctx, []Command{
		{Servo: 2, PulseWidth: curr2},
		{Servo: 3, PulseWidth: curr3},
	}, true); err != nil {
		return err
	}

	// Lift servo 2 first so the arm clears objects while swinging.
	if err := c.ExecuteCommand(ctx, Command{Servo: 2, PulseWidth: float64(c.start[2])}); err != nil {
		return err
	}

	if err := c.ExecuteCommands(ctx, []Command{
		{Servo: 1, PulseWidth: servo1},
		{Servo: 0, PulseWidth: pos.Angle},
	}, true); err != nil {
		return err
	}

	return c.ExecuteCommands(ctx, []Command{
		{Servo: 2, PulseWidth: servo2},
		{Servo: 3, PulseWidth: servo3},
	}, true)
}

// InitPosition moves the arm to the starting pose for taking inference
// pictures or recording a training video.
func (c *Controller) InitPosition(ctx context.Context, forInference bool) error {
	axis0 := 2200.0
	if forInference {
		axis0 = 2000.0
	}

	if err := c.ExecuteCommand(ctx, Command{Servo: 2, PulseWidth: 1810}); err != nil {
		return err
	}
	return c.ExecuteCommands(ctx, []Command{
		{Servo: 0, PulseWidth: axis0},
		{Servo: 1, PulseWidth: 1200},
		{Servo: 3, PulseWidth: float64(c.start[3])},
		{Servo: 4, PulseWidth: float64(c.start[4])},
	}, true)
}

// Reset returns the arm to its start position and releases the servos.
// Servo 2 moves first to lift clear before the others swing back.
func (c *Controller) Reset(ctx context.Context) error {
	if err := c.ExecuteCommand(ctx, Command{Servo: 2, PulseWidth: float64(c.start[2])}); err != nil {
		return err
	}
	if err := c.ExecuteCommands(ctx, []Command{
		{Servo: 0, PulseWidth: float64(c.start[0])},
		{Servo: 1, PulseWidth: float64(c.start[1])},
		{Servo: 3, PulseWidth: float64(c.start[3])},
	}, true); err != nil {
		return err
	}
	return c.Neutralize()
}

// Neutralize sends a zero pulse width to every servo, releasing the shafts
// so the arm becomes movable by hand.
func (c *Controller) Neutralize() error {
	for _, pin := range c.pins {
		if err := c.pi.ServoPulsewidth(pin, 0); err != nil {
			return err
		}
	}
	return nil
}
