package config

import (
	"errors"
	"fmt"
)

// Servos accept pulse widths between 0.5ms and 2.5ms; values outside that
// range can physically damage the arm.
const (
	MinPulseWidth = 500
	MaxPulseWidth = 2500
)

// Validate checks structural invariants after defaults have been applied.
func (c *Config) Validate() error {
	if c.ArmID == "" {
		return errors.New("arm_id is required")
	}
	if c.ControlHost == "" {
		return errors.New("control_host is required")
	}
	if c.ControlPort <= 0 || c.ControlPort > 65535 {
		return fmt.Errorf("control_port must be a valid port, got %d", c.ControlPort)
	}
	if c.CloudPort <= 0 || c.CloudPort > 65535 {
		return fmt.Errorf("cloud_port must be a valid port, got %d", c.CloudPort)
	}
	if c.HeartRate <= 0 {
		return fmt.Errorf("heart_rate must be positive, got %d", c.HeartRate)
	}

	if err := c.validateServos(); err != nil {
		return err
	}
	if err := c.validateSweep(); err != nil {
		return err
	}

	if c.Magnet.Pin <= 0 {
		return fmt.Errorf("magnet pin must be positive, got %d", c.Magnet.Pin)
	}
	return nil
}

func (c *Config) validateServos() error {
	if len(c.Servos.Pins) != len(c.Servos.StartPositions) {
		return fmt.Errorf("servo pins (%d) and start_positions (%d) must have the same length",
			len(c.Servos.Pins), len(c.Servos.StartPositions))
	}
	if len(c.Servos.Pins) == 0 {
		return errors.New("at least one servo must be configured")
	}
	for i, pin := range c.Servos.Pins {
		if pin <= 0 {
			return fmt.Errorf("servo %d: pin must be positive, got %d", i, pin)
		}
	}
	for i, pw := range c.Servos.StartPositions {
		if pw < MinPulseWidth || pw > MaxPulseWidth {
			return fmt.Errorf("servo %d: start position %d outside [%d, %d]",
				i, pw, MinPulseWidth, MaxPulseWidth)
		}
	}
	for name, speed := range c.Servos.Speeds {
		if speed <= 0 {
			return fmt.Errorf("servo speed %q must be positive, got %v", name, speed)
		}
	}
	return nil
}

func (c *Config) validateSweep() error {
	if c.Sweep.Step <= 0 {
		return fmt.Errorf("sweep step must be positive, got %d", c.Sweep.Step)
	}
	if c.Sweep.Start >= c.Sweep.End {
		return fmt.Errorf("sweep start (%d) must be below end (%d)", c.Sweep.Start, c.Sweep.End)
	}
	if c.Sweep.Start < MinPulseWidth || c.Sweep.End > MaxPulseWidth {
		return fmt.Errorf("sweep range [%d, %d] outside [%d, %d]",
			c.Sweep.Start, c.Sweep.End, MinPulseWidth, MaxPulseWidth)
	}
	return nil
}
