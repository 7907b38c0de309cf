package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the arm configuration (arm_config.yaml).
type Config struct {
	ArmID       string `yaml:"arm_id"`
	ControlHost string `yaml:"control_host"`
	ControlPort int    `yaml:"control_port"`
	CloudHost   string `yaml:"cloud_host"`
	CloudPort   int    `yaml:"cloud_port"`

	// HeartRate is the heartbeat interval in seconds.
	HeartRate int `yaml:"heart_rate,omitempty"`

	Pigpio    PigpioConfig    `yaml:"pigpio,omitempty"`
	Servos    ServoConfig     `yaml:"servos,omitempty"`
	Magnet    MagnetConfig    `yaml:"magnet,omitempty"`
	Camera    CameraConfig    `yaml:"camera,omitempty"`
	Sweep     SweepConfig     `yaml:"sweep,omitempty"`
	Storage   StorageConfig   `yaml:"storage,omitempty"`
	Metrics   MetricsConfig   `yaml:"metrics,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
	Retry     RetryConfig     `yaml:"retry,omitempty"`
}

// PigpioConfig points at the pigpiod daemon socket interface.
type PigpioConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// ServoConfig describes the servo hardware layout and movement speeds.
type ServoConfig struct {
	// Pins holds BCM GPIO numbers, one per servo.
	Pins []int `yaml:"pins,omitempty"`
	// StartPositions holds per-servo start pulse widths in microseconds.
	StartPositions []int `yaml:"start_positions,omitempty"`
	// Speeds maps named speeds to pulse-width change per second.
	Speeds map[string]float64 `yaml:"speeds,omitempty"`
}

// MagnetConfig describes the electromagnet end-effector.
type MagnetConfig struct {
	Pin int `yaml:"pin,omitempty"`
}

// CameraConfig describes the capture tooling.
type CameraConfig struct {
	StillBinary string `yaml:"still_binary,omitempty"`
	VideoBinary string `yaml:"video_binary,omitempty"`
	Width       int    `yaml:"width,omitempty"`
	Height      int    `yaml:"height,omitempty"`
	Framerate   int    `yaml:"framerate,omitempty"`
	// WarmupMS is the preview delay before a still capture, letting the
	// sensor adjust to the light.
	WarmupMS int `yaml:"warmup_ms,omitempty"`
}

// SweepConfig describes the servo-0 pulse widths where inference pictures
// are taken. Positions are executed in descending order.
type SweepConfig struct {
	Start int `yaml:"start,omitempty"`
	End   int `yaml:"end,omitempty"`
	Step  int `yaml:"step,omitempty"`
	// StabilizeMS is the pause after moving into position, before capture.
	StabilizeMS int `yaml:"stabilize_ms,omitempty"`
}

// Positions returns the sweep pulse widths in execution (descending) order.
func (s SweepConfig) Positions() []int {
	var asc []int
	for pw := s.Start; pw < s.End; pw += s.Step {
		asc = append(asc, pw)
	}
	positions := make([]int, 0, len(asc))
	for i := len(asc) - 1; i >= 0; i-- {
		positions = append(positions, asc[i])
	}
	return positions
}

// StorageConfig describes local data directories and the S3 upload target.
type StorageConfig struct {
	DataDir        string `yaml:"data_dir,omitempty"`
	Region         string `yaml:"region,omitempty"`
	TrainingBucket string `yaml:"training_bucket,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Listen  string `yaml:"listen,omitempty"`
}

// TelemetryConfig controls optional NATS fleet telemetry.
type TelemetryConfig struct {
	URL     string `yaml:"url,omitempty"`
	Subject string `yaml:"subject,omitempty"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`  // debug|info|warn|error
	Format string `yaml:"format,omitempty"` // text|json
	// Remote forwards log records to the Control Panel /log/ endpoint.
	Remote bool `yaml:"remote,omitempty"`
}

// RetryConfig tunes reconnect/upload backoff.
type RetryConfig struct {
	Backoff    string `yaml:"backoff,omitempty"` // fixed|linear|exponential
	InitialMS  int    `yaml:"initial_ms,omitempty"`
	MaxMS      int    `yaml:"max_ms,omitempty"`
	MaxRetries int    `yaml:"max_retries,omitempty"`
}

// Load loads configuration from the specified file.
func Load(configPath string) (*Config, error) {
	// Load .env files if present; the process environment wins.
	if err := godotenv.Load(); err != nil {
		_ = godotenv.Load(".env.local")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Save persists the configuration back to disk. Used when the Control Panel
// hands out a new Cloud service host. The write is atomic (temp file +
// rename) so a crash never leaves a truncated config behind.
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(configPath)
	tmp, err := os.CreateTemp(dir, ".arm_config-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp config: %w", err)
	}

	if err := os.Rename(tmpName, configPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// HeartRateDuration returns the heartbeat interval as a duration.
func (c *Config) HeartRateDuration() time.Duration {
	return time.Duration(c.HeartRate) * time.Second
}

// ControlWSURL returns the Control Panel WebSocket endpoint for this arm.
func (c *Config) ControlWSURL() string {
	return fmt.Sprintf("ws://%s:%d/rpi/", c.ControlHost, c.ControlPort)
}

// ControlHTTPURL returns the Control Panel REST base URL. The trailing
// slash matters: callers append relative paths like "api/sessions/".
func (c *Config) ControlHTTPURL() string {
	return fmt.Sprintf("http://%s:%d/", c.ControlHost, c.ControlPort)
}

// CloudWSURL returns the Cloud service WebSocket endpoint for the given
// host, falling back to the configured host when empty.
func (c *Config) CloudWSURL(host string) string {
	if host == "" {
		host = c.CloudHost
	}
	return fmt.Sprintf("ws://%s:%d", host, c.CloudPort)
}

// RetryPolicyArgs returns the retry section as durations for retry.NewPolicy.
func (c *Config) RetryPolicyArgs() (mode string, initial, maxDelay time.Duration, maxRetries int) {
	return c.Retry.Backoff,
		time.Duration(c.Retry.InitialMS) * time.Millisecond,
		time.Duration(c.Retry.MaxMS) * time.Millisecond,
		c.Retry.MaxRetries
}

// ArmConstants returns the configuration as a generic map. The Cloud service
// receives it with every command-generation request so the inference side
// can convert pixel locations into pulse widths for this specific arm.
func (c *Config) ArmConstants() (map[string]any, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal arm constants: %w", err)
	}
	var constants map[string]any
	if err := yaml.Unmarshal(data, &constants); err != nil {
		return nil, fmt.Errorf("failed to unmarshal arm constants: %w", err)
	}
	return constants, nil
}

// Init creates a new configuration file with example content
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	example := Config{
		ArmID:       "arm_1",
		ControlHost: "192.168.1.10",
		ControlPort: 8000,
		CloudHost:   "192.168.1.20",
		CloudPort:   6000,
	}
	example.applyDefaults()

	data, err := yaml.Marshal(&example)
	if err != nil {
		return fmt.Errorf("failed to marshal example config: %w", err)
	}

	header := "# SorterBot arm configuration.\n# Values support environment variable expansion ($VAR / ${VAR}).\n"
	if err := os.WriteFile(configPath, append([]byte(header), data...), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
