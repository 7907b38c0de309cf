// Package session orchestrates a full sorting session: register with the
// control panel, sweep the workspace with the camera, ship images to the
// cloud service, execute the returned pick-and-place commands and record the
// after state.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sorterbot/raspberry/internal/camera"
	"github.com/sorterbot/raspberry/internal/cloud"
	"github.com/sorterbot/raspberry/internal/config"
	"github.com/sorterbot/raspberry/internal/eventstore"
	"github.com/sorterbot/raspberry/internal/logfields"
	"github.com/sorterbot/raspberry/internal/metrics"
	"github.com/sorterbot/raspberry/internal/servo"
	"github.com/sorterbot/raspberry/internal/storage"
	"github.com/sorterbot/raspberry/internal/telemetry"
)

// Arm is the servo surface a session needs.
type Arm interface {
	ExecuteCommands(ctx context.Context, cmds []servo.Command, parallel bool) error
	MoveToPosition(ctx context.Context, pos servo.Position, isContainer bool) error
	InitPosition(ctx context.Context, forInference bool) error
	Reset(ctx context.Context) error
}

// Magnet switches the electromagnet.
type Magnet interface {
	On() error
	Off() error
}

// ControlPanel registers sessions.
type ControlPanel interface {
	CreateSession(ctx context.Context, logFilenames []string) (string, error)
}

// Cloud is the cloud-service surface a session needs.
type Cloud interface {
	SendImage(ctx context.Context, header cloud.ImageHeader, imageBytes []byte) (bool, error)
	SessionCommands(ctx context.Context, sessionFolder string, armConstants map[string]any) ([]cloud.Command, error)
	RequestAfterStitch(armID, sessionFolder string) error
}

// ConfigSource returns the current arm configuration. The agent swaps the
// pointer on a hot reload; the runner snapshots it once per session so a
// reload mid-session cannot change the sweep under a running arm.
type ConfigSource func() *config.Config

// Runner executes sessions for one arm.
type Runner struct {
	source   ConfigSource
	arm      Arm
	magnet   Magnet
	camera   camera.Camera
	control  ControlPanel
	cloud    Cloud
	uploader storage.Uploader
	events   eventstore.Store
	telem    telemetry.Publisher
	recorder metrics.Recorder
	logger   *slog.Logger

	// sleep is a seam for tests; production uses time.Sleep.
	sleep func(time.Duration)
}

// Deps carries the collaborators for NewRunner. Events, Telemetry and
// Recorder may be nil; no-op implementations are substituted.
type Deps struct {
	Arm      Arm
	Magnet   Magnet
	Camera   camera.Camera
	Control  ControlPanel
	Cloud    Cloud
	Uploader storage.Uploader
	Events   eventstore.Store
	Telem    telemetry.Publisher
	Recorder metrics.Recorder
	Logger   *slog.Logger
}

func NewRunner(source ConfigSource, deps Deps) *Runner {
	r := &Runner{
		source:   source,
		arm:      deps.Arm,
		magnet:   deps.Magnet,
		camera:   deps.Camera,
		control:  deps.Control,
		cloud:    deps.Cloud,
		uploader: deps.Uploader,
		events:   deps.Events,
		telem:    deps.Telem,
		recorder: deps.Recorder,
		logger:   deps.Logger,
		sleep:    time.Sleep,
	}
	if r.events == nil {
		r.events = eventstore.NopStore{}
	}
	if r.telem == nil {
		r.telem = telemetry.NopPublisher{}
	}
	if r.recorder == nil {
		r.recorder = metrics.NoopRecorder{}
	}
	return r
}

// Run executes one full session. The arm is reset on the way out even when a
// step fails or the context is canceled.
func (r *Runner) Run(ctx context.Context) (err error) {
	start := time.Now()
	cfg := r.source()

	sessionDir, err := storage.NextSessionDir(cfg.Storage.DataDir, time.Now())
	if err != nil {
		return fmt.Errorf("create session folder: %w", err)
	}
	sessionFolder := filepath.Base(sessionDir)

	// The panel expects log names in ascending pulse-width order even
	// though the sweep itself runs descending.
	positions := cfg.Sweep.Positions()
	logNames := make([]string, len(positions))
	for i, pw := range positions {
		logNames[len(positions)-1-i] = fmt.Sprintf("%d", pw)
	}
	sessionID, err := r.control.CreateSession(ctx, logNames)
	if err != nil {
		return fmt.Errorf("register session: %w", err)
	}

	logger := r.logger.With(
		logfields.ArmID(cfg.ArmID),
		logfields.SessionID(sessionID),
	)
	logger.Info("session started", logfields.Path(sessionDir))
	r.journal(ctx, cfg.ArmID, sessionID, eventstore.TypeSessionStarted,
		map[string]any{"folder": sessionFolder})

	defer func() {
		// Reset runs on a fresh context so cancellation cannot leave the
		// arm hanging mid-air with the magnet energized.
		resetCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		r.magnet.Off()
		if resetErr := r.arm.Reset(resetCtx); resetErr != nil && err == nil {
			err = fmt.Errorf("reset arm: %w", resetErr)
		}
		r.recorder.ObserveSessionDuration(time.Since(start))
		if err != nil {
			r.recorder.IncSessionOutcome(metrics.ResultFailed)
			r.journal(ctx, cfg.ArmID, sessionID, eventstore.TypeSessionFailed,
				map[string]any{"error": err.Error()})
			logger.Error("session failed", logfields.Error(err))
			return
		}
		r.recorder.IncSessionOutcome(metrics.ResultSuccess)
		r.journal(ctx, cfg.ArmID, sessionID, eventstore.TypeSessionFinished, nil)
		logger.Info("arm reset to initial position, session finished",
			logfields.DurationMS(float64(time.Since(start).Milliseconds())))
	}()

	allSuccess, err := r.sweep(ctx, logger, cfg, sessionDir, sessionID, false)
	if err != nil {
		return err
	}

	var commands []cloud.Command
	if allSuccess {
		logger.Info("all images successfully processed, requesting commands")
		constants, err := cfg.ArmConstants()
		if err != nil {
			return fmt.Errorf("collect arm constants: %w", err)
		}
		commands, err = r.cloud.SessionCommands(ctx, sessionFolder, constants)
		if err != nil {
			return err
		}
		logger.Info("commands received", slog.Int("count", len(commands)))
		r.journal(ctx, cfg.ArmID, sessionID, eventstore.TypeCommandsReceived,
			map[string]any{"count": len(commands)})
		if len(commands) == 0 {
			logger.Warn("no containers were found, moving to initial position")
		}
	} else {
		logger.Error("at least one image failed processing, moving to initial position")
	}

	for _, cmd := range commands {
		if err := r.execute(ctx, logger, cfg.ArmID, sessionID, cmd); err != nil {
			return err
		}
	}
	logger.Info("commands executed")

	if _, err := r.sweep(ctx, logger, cfg, sessionDir, sessionID, true); err != nil {
		return err
	}
	logger.Info("all after pictures taken and uploads finished")

	if err := r.cloud.RequestAfterStitch(cfg.ArmID, sessionFolder); err != nil {
		return err
	}
	logger.Info("stitching of after images started")

	return nil
}

// sweep moves servo 0 through the configured positions, captures an image at
// each and uploads them to the cloud service while the arm keeps moving.
// It reports whether every image was processed successfully.
func (r *Runner) sweep(ctx context.Context, logger *slog.Logger, cfg *config.Config, sessionDir, sessionID string, after bool) (bool, error) {
	stage := "sweep"
	command := cloud.CommandProcessImage
	if after {
		stage = "after_sweep"
		command = cloud.CommandAfterImage
	}
	stageStart := time.Now()
	defer func() { r.recorder.ObserveStageDuration(stage, time.Since(stageStart)) }()

	if err := r.arm.InitPosition(ctx, true); err != nil {
		return false, fmt.Errorf("init arm for %s: %w", stage, err)
	}

	var (
		mu       sync.Mutex
		failures []string
	)
	group, groupCtx := errgroup.WithContext(ctx)

	for _, pw := range cfg.Sweep.Positions() {
		if err := ctx.Err(); err != nil {
			break
		}
		imageName := fmt.Sprintf("%d.jpg", pw)
		imagePath := filepath.Join(sessionDir, imageName)

		if err := r.arm.ExecuteCommands(ctx, []servo.Command{
			{Servo: 0, PulseWidth: float64(pw)},
		}, false); err != nil {
			group.Wait()
			return false, fmt.Errorf("move to sweep position %d: %w", pw, err)
		}
		logger.Debug("arm is in position for picture",
			logfields.Stage(stage), logfields.PulseWidth(pw))

		r.sleep(time.Duration(cfg.Sweep.StabilizeMS) * time.Millisecond)

		if err := r.camera.TakePicture(ctx, imagePath); err != nil {
			group.Wait()
			return false, fmt.Errorf("take picture %s: %w", imageName, err)
		}
		logger.Debug("picture taken", logfields.Stage(stage), logfields.Image(imageName))

		group.Go(func() error {
			ok, err := r.uploadImage(groupCtx, command, cfg.ArmID, sessionID, imagePath)
			if err != nil || !ok {
				mu.Lock()
				failures = append(failures, imageName)
				mu.Unlock()
			}
			if err != nil {
				logger.Warn("image upload failed",
					logfields.Image(imageName), logfields.Error(err))
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	allSuccess := len(failures) == 0
	if !allSuccess {
		logger.Error("processing failed for some images",
			logfields.Stage(stage), slog.Any("images", failures))
	}
	r.journal(ctx, cfg.ArmID, sessionID, eventstore.TypeSweepCompleted,
		map[string]any{"stage": stage, "all_success": allSuccess})
	return allSuccess, nil
}

// uploadImage ships one image and deletes the local copy when the service
// reports success.
func (r *Runner) uploadImage(ctx context.Context, command, armID, sessionID, imagePath string) (bool, error) {
	imageBytes, err := os.ReadFile(imagePath)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", imagePath, err)
	}
	ok, err := r.cloud.SendImage(ctx, cloud.ImageHeader{
		Command:   command,
		ArmID:     armID,
		SessionID: sessionID,
		ImageName: filepath.Base(imagePath),
	}, imageBytes)
	if err != nil {
		return false, err
	}
	if ok {
		r.recorder.IncImagesUploaded(1)
		if err := os.Remove(imagePath); err != nil {
			return true, fmt.Errorf("remove %s: %w", imagePath, err)
		}
	}
	return ok, nil
}

// execute runs one pick-and-place command: move to the object, energize the
// magnet, carry to the container, release.
func (r *Runner) execute(ctx context.Context, logger *slog.Logger, armID, sessionID string, cmd cloud.Command) (err error) {
	defer func() {
		if err != nil {
			r.recorder.IncCommandsExecuted(metrics.ResultFailed)
			return
		}
		r.recorder.IncCommandsExecuted(metrics.ResultSuccess)
		r.journal(ctx, armID, sessionID, eventstore.TypeCommandExecuted, map[string]any{
			"object":    cmd.Object,
			"container": cmd.Container,
		})
	}()

	object := servo.Position{Angle: cmd.Object[0], Distance: cmd.Object[1]}
	container := servo.Position{Angle: cmd.Container[0], Distance: cmd.Container[1]}

	if err := r.arm.MoveToPosition(ctx, object, false); err != nil {
		return fmt.Errorf("move to object: %w", err)
	}
	logger.Info("arm moved to object for pick up",
		slog.Int("angle", int(object.Angle)), slog.Int("distance", int(object.Distance)))

	if err := r.magnet.On(); err != nil {
		return fmt.Errorf("magnet on: %w", err)
	}
	r.recorder.IncMagnetToggle(true)
	logger.Info("magnet on")

	if err := r.arm.MoveToPosition(ctx, container, true); err != nil {
		r.magnet.Off()
		return fmt.Errorf("move to container: %w", err)
	}
	logger.Info("arm moved to container for drop off",
		slog.Int("angle", int(container.Angle)), slog.Int("distance", int(container.Distance)))

	if err := r.magnet.Off(); err != nil {
		return fmt.Errorf("magnet off: %w", err)
	}
	r.recorder.IncMagnetToggle(false)
	logger.Info("magnet off")
	return nil
}

// journal records a session event locally and publishes it to telemetry.
// Journaling failures are logged, never fatal to the session.
func (r *Runner) journal(ctx context.Context, armID, sessionID, eventType string, data map[string]any) {
	// A canceled session still journals its final events.
	ctx = context.WithoutCancel(ctx)
	var payload []byte
	if data != nil {
		payload, _ = json.Marshal(data)
	}
	if err := r.events.Append(ctx, sessionID, eventType, payload,
		map[string]string{"arm_id": armID}); err != nil {
		r.logger.Warn("journal append failed",
			logfields.SessionID(sessionID), logfields.Error(err))
	}
	if err := r.telem.Publish(telemetry.Event{
		ArmID:     armID,
		SessionID: sessionID,
		Type:      eventType,
		Data:      payload,
	}); err != nil {
		r.logger.Warn("telemetry publish failed",
			logfields.SessionID(sessionID), logfields.Error(err))
	}
}
