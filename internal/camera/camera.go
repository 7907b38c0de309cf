// Package camera wraps the Raspberry Pi camera tooling used for inference
// stills and training videos.
package camera

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/sorterbot/raspberry/internal/config"
)

// Camera captures inference stills and records training videos.
type Camera interface {
	// TakePicture captures a still to path. The implementation gives the
	// sensor a short warmup so it can adjust to the light.
	TakePicture(ctx context.Context, path string) error
	// StartRecording begins a video recording to path.
	StartRecording(path string) error
	// StopRecording stops a running recording; it is an error when idle.
	StopRecording() error
	// Recording reports whether a recording is in progress.
	Recording() bool
}

// LibCamera shells out to the libcamera command line tools (or the legacy
// raspistill/raspivid, depending on configuration).
type LibCamera struct {
	cfg config.CameraConfig

	mu  sync.Mutex
	vid *exec.Cmd
}

// New returns a LibCamera using the configured binaries and geometry.
func New(cfg config.CameraConfig) *LibCamera {
	return &LibCamera{cfg: cfg}
}

// TakePicture captures a still to path.
func (c *LibCamera) TakePicture(ctx context.Context, path string) error {
	args := []string{
		"-o", path,
		"--width", strconv.Itoa(c.cfg.Width),
		"--height", strconv.Itoa(c.cfg.Height),
		"-t", strconv.Itoa(c.cfg.WarmupMS),
		"-n", // no preview window
	}
	cmd := exec.CommandContext(ctx, c.cfg.StillBinary, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s failed: %w: %s", c.cfg.StillBinary, err, out)
	}
	return nil
}

// StartRecording begins an unbounded video recording to path.
func (c *LibCamera) StartRecording(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.vid != nil {
		return fmt.Errorf("recording already in progress")
	}

	args := []string{
		"-o", path,
		"--width", strconv.Itoa(c.cfg.Width),
		"--height", strconv.Itoa(c.cfg.Height),
		"--framerate", strconv.Itoa(c.cfg.Framerate),
		"-t", "0", // record until stopped
		"-n",
	}
	cmd := exec.Command(c.cfg.VideoBinary, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%s failed to start: %w", c.cfg.VideoBinary, err)
	}
	c.vid = cmd
	return nil
}

// StopRecording interrupts the recorder so it finalizes the file.
func (c *LibCamera) StopRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.vid == nil {
		return fmt.Errorf("no recording in progress")
	}

	// SIGINT lets the encoder flush and close the container cleanly.
	if err := c.vid.Process.Signal(os.Interrupt); err != nil {
		_ = c.vid.Process.Kill()
	}
	err := c.vid.Wait()
	c.vid = nil
	if err != nil {
		// The recorder exits non-zero after an interrupt; only surface
		// errors that are not plain exit statuses.
		if _, ok := err.(*exec.ExitError); !ok {
			return fmt.Errorf("recorder did not stop cleanly: %w", err)
		}
	}
	return nil
}

// Recording reports whether a recording is in progress.
func (c *LibCamera) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vid != nil
}
