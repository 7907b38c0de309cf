package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "arm_config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalYAML = `
arm_id: arm_1
control_host: 192.168.1.10
control_port: 8000
cloud_host: 192.168.1.20
cloud_port: 6000
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "arm_1", cfg.ArmID)
	assert.Equal(t, 3, cfg.HeartRate)
	assert.Equal(t, "localhost:8888", cfg.Pigpio.Addr)
	assert.Equal(t, []int{14, 15, 18, 24, 25}, cfg.Servos.Pins)
	assert.Equal(t, []int{1425, 500, 1800, 1780, 1150}, cfg.Servos.StartPositions)
	assert.Equal(t, 23, cfg.Magnet.Pin)
	assert.Equal(t, 1640, cfg.Camera.Width)
	assert.Equal(t, 1232, cfg.Camera.Height)
	assert.Equal(t, "sorterbot-training-videos", cfg.Storage.TrainingBucket)
	assert.Equal(t, "linear", cfg.Retry.Backoff)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("SORTERBOT_CONTROL_HOST", "panel.local")
	cfg, err := Load(writeConfig(t, `
arm_id: arm_1
control_host: ${SORTERBOT_CONTROL_HOST}
control_port: 8000
cloud_host: 192.168.1.20
cloud_port: 6000
`))
	require.NoError(t, err)
	assert.Equal(t, "panel.local", cfg.ControlHost)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"missing arm id", `
control_host: h
control_port: 8000
cloud_port: 6000
`, "arm_id"},
		{"bad heart rate", minimalYAML + "heart_rate: -1\n", "heart_rate"},
		{"servo length mismatch", minimalYAML + `
servos:
  pins: [14, 15]
  start_positions: [1425]
`, "same length"},
		{"start position out of range", minimalYAML + `
servos:
  pins: [14]
  start_positions: [3000]
`, "outside"},
		{"inverted sweep", minimalYAML + `
sweep:
  start: 1800
  end: 1200
  step: 100
`, "below end"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestSweepPositionsDescending(t *testing.T) {
	s := SweepConfig{Start: 1000, End: 2000, Step: 250}
	assert.Equal(t, []int{1750, 1500, 1250, 1000}, s.Positions())
}

func TestSaveRoundTrip(t *testing.T) {
	path := writeConfig(t, minimalYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	// Simulate the Control Panel handing out a new Cloud host.
	cfg.CloudHost = "10.1.2.3"
	require.NoError(t, cfg.Save(path))

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "10.1.2.3", reloaded.CloudHost)
	assert.Equal(t, cfg.ArmID, reloaded.ArmID)
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arm_config.yaml")
	require.NoError(t, Init(path, false))

	// Refuses to overwrite without force.
	require.Error(t, Init(path, false))
	require.NoError(t, Init(path, true))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.ArmID)
}

func TestURLHelpers(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "ws://192.168.1.10:8000/rpi/", cfg.ControlWSURL())
	// The REST base keeps its trailing slash so relative paths append
	// cleanly.
	assert.Equal(t, "http://192.168.1.10:8000/", cfg.ControlHTTPURL())
	assert.Equal(t, "ws://192.168.1.20:6000", cfg.CloudWSURL(""))
	assert.Equal(t, "ws://10.0.0.9:6000", cfg.CloudWSURL("10.0.0.9"))
}

func TestArmConstants(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	constants, err := cfg.ArmConstants()
	require.NoError(t, err)
	assert.Equal(t, "arm_1", constants["arm_id"])
	assert.Contains(t, constants, "servos")
}
