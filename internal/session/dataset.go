package session

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sorterbot/raspberry/internal/logfields"
	"github.com/sorterbot/raspberry/internal/servo"
	"github.com/sorterbot/raspberry/internal/storage"
)

const videoTimestamp = "02.01.2006_15:04:05"

// RecordTrainingVideo records a slow sweep on video for dataset labeling and
// uploads it to the training bucket. The upload and the arm re-init run
// concurrently so the arm is ready again while bytes are still in flight.
func (r *Runner) RecordTrainingVideo(ctx context.Context) error {
	cfg := r.source()
	recordingDir, err := storage.NextRecordingDir(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("create recording folder: %w", err)
	}

	videoPath := filepath.Join(recordingDir, time.Now().Format(videoTimestamp)+".h264")
	if err := r.camera.StartRecording(videoPath); err != nil {
		return fmt.Errorf("start recording: %w", err)
	}
	r.logger.Info("training video recording started", logfields.Path(videoPath))

	sweepErr := r.arm.ExecuteCommands(ctx, []servo.Command{
		{Servo: 0, PulseWidth: 800, Speed: servo.SpeedDataset},
	}, false)
	if err := r.camera.StopRecording(); err != nil {
		return fmt.Errorf("stop recording: %w", err)
	}
	if sweepErr != nil {
		return fmt.Errorf("dataset sweep: %w", sweepErr)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := r.uploader.Upload(groupCtx, cfg.Storage.TrainingBucket, videoPath); err != nil {
			return fmt.Errorf("upload training video: %w", err)
		}
		r.logger.Info("training video uploaded",
			logfields.Bucket(cfg.Storage.TrainingBucket),
			logfields.Path(videoPath))
		return nil
	})
	group.Go(func() error {
		return r.arm.InitPosition(groupCtx, false)
	})
	return group.Wait()
}
