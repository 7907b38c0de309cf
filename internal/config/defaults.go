package config

// Hardware defaults match the reference arm build: five servos on BCM pins
// 14/15/18/24/25 with the magnet on pin 23, driven through a local pigpiod.
func (c *Config) applyDefaults() {
	if c.HeartRate == 0 {
		c.HeartRate = 3
	}

	if c.Pigpio.Addr == "" {
		c.Pigpio.Addr = "localhost:8888"
	}

	if len(c.Servos.Pins) == 0 {
		c.Servos.Pins = []int{14, 15, 18, 24, 25}
	}
	if len(c.Servos.StartPositions) == 0 {
		c.Servos.StartPositions = []int{1425, 500, 1800, 1780, 1150}
	}
	if len(c.Servos.Speeds) == 0 {
		c.Servos.Speeds = map[string]float64{
			"dataset": 20,
			"fast":    700,
		}
	}

	if c.Magnet.Pin == 0 {
		c.Magnet.Pin = 23
	}

	if c.Camera.StillBinary == "" {
		c.Camera.StillBinary = "libcamera-still"
	}
	if c.Camera.VideoBinary == "" {
		c.Camera.VideoBinary = "libcamera-vid"
	}
	if c.Camera.Width == 0 {
		// Highest resolution that still covers the full field of view.
		c.Camera.Width = 1640
	}
	if c.Camera.Height == 0 {
		c.Camera.Height = 1232
	}
	if c.Camera.Framerate == 0 {
		c.Camera.Framerate = 30
	}
	if c.Camera.WarmupMS == 0 {
		c.Camera.WarmupMS = 500
	}

	if c.Sweep.Start == 0 {
		c.Sweep.Start = 1000
	}
	if c.Sweep.End == 0 {
		c.Sweep.End = 2000
	}
	if c.Sweep.Step == 0 {
		c.Sweep.Step = 250
	}
	if c.Sweep.StabilizeMS == 0 {
		c.Sweep.StabilizeMS = 750
	}

	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "./data"
	}
	if c.Storage.TrainingBucket == "" {
		c.Storage.TrainingBucket = "sorterbot-training-videos"
	}

	if c.Metrics.Listen == "" {
		c.Metrics.Listen = ":9100"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if c.Retry.Backoff == "" {
		c.Retry.Backoff = "linear"
	}
	if c.Retry.InitialMS == 0 {
		c.Retry.InitialMS = 1000
	}
	if c.Retry.MaxMS == 0 {
		c.Retry.MaxMS = 30000
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = 2
	}
}
