package metrics

import "time"

// ResultLabel enumerates operation result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultFailed   ResultLabel = "failed"
	ResultCanceled ResultLabel = "canceled"
)

// Recorder defines observability hooks for arm and session metrics.
// Implementations may forward to Prometheus, OpenTelemetry, etc. All methods
// must be safe for nil receivers when using the NoopRecorder (allowing
// optional injection).
type Recorder interface {
	ObserveSessionDuration(d time.Duration)
	ObserveStageDuration(stage string, d time.Duration)
	IncSessionOutcome(result ResultLabel)
	IncHeartbeat(connected bool)
	ObserveUploadDuration(d time.Duration, success bool)
	IncImagesUploaded(n int)
	IncCommandsExecuted(result ResultLabel)
	ObserveServoMoveDuration(servo string, d time.Duration)
	IncMagnetToggle(on bool)
	IncWSReconnect(endpoint string)
	SetConnectionState(endpoint string, connected bool)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveSessionDuration(time.Duration)          {}
func (NoopRecorder) ObserveStageDuration(string, time.Duration)    {}
func (NoopRecorder) IncSessionOutcome(ResultLabel)                 {}
func (NoopRecorder) IncHeartbeat(bool)                             {}
func (NoopRecorder) ObserveUploadDuration(time.Duration, bool)     {}
func (NoopRecorder) IncImagesUploaded(int)                         {}
func (NoopRecorder) IncCommandsExecuted(ResultLabel)               {}
func (NoopRecorder) ObserveServoMoveDuration(string, time.Duration) {}
func (NoopRecorder) IncMagnetToggle(bool)                          {}
func (NoopRecorder) IncWSReconnect(string)                         {}
func (NoopRecorder) SetConnectionState(string, bool)               {}
