// Package magnet controls the electromagnet end-effector used to pick up
// objects. A Grove electromagnet carries its own drive electronics, so a
// plain logical high/low on the control pin switches it.
package magnet

import (
	"fmt"

	"github.com/sorterbot/raspberry/internal/pigpio"
)

// Control switches the magnet on and off.
type Control struct {
	pi  pigpio.Pi
	pin int
}

// New configures the magnet pin as an output and returns the control.
func New(pi pigpio.Pi, pin int) (*Control, error) {
	if err := pi.SetMode(pin, pigpio.ModeOutput); err != nil {
		return nil, fmt.Errorf("failed to configure magnet pin %d: %w", pin, err)
	}
	return &Control{pi: pi, pin: pin}, nil
}

// On energizes the magnet.
func (c *Control) On() error {
	return c.pi.Write(c.pin, pigpio.High)
}

// Off releases the magnet.
func (c *Control) Off() error {
	return c.pi.Write(c.pin, pigpio.Low)
}
