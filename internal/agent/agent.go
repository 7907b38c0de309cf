// Package agent runs the long-lived arm daemon: it keeps connections to the
// Control Panel and the Cloud service alive, heartbeats on a schedule and
// launches sorting sessions when the operator presses start.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/sorterbot/raspberry/internal/camera"
	"github.com/sorterbot/raspberry/internal/cloud"
	"github.com/sorterbot/raspberry/internal/config"
	"github.com/sorterbot/raspberry/internal/controlpanel"
	"github.com/sorterbot/raspberry/internal/eventstore"
	"github.com/sorterbot/raspberry/internal/logfields"
	"github.com/sorterbot/raspberry/internal/logship"
	"github.com/sorterbot/raspberry/internal/magnet"
	"github.com/sorterbot/raspberry/internal/metrics"
	"github.com/sorterbot/raspberry/internal/pigpio"
	"github.com/sorterbot/raspberry/internal/retry"
	"github.com/sorterbot/raspberry/internal/servo"
	"github.com/sorterbot/raspberry/internal/session"
	"github.com/sorterbot/raspberry/internal/storage"
	"github.com/sorterbot/raspberry/internal/telemetry"
)

// Status represents the current state of the agent.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// controlConn is the Control Panel surface the agent drives.
type controlConn interface {
	Connect(ctx context.Context) error
	Connected() bool
	SendConnStatus(ctx context.Context, cloudConnStatus int) (bool, error)
	CloudHost(ctx context.Context) (string, error)
	Close()
}

// cloudConn is the Cloud service surface the agent drives.
type cloudConn interface {
	Connect(ctx context.Context) error
	Connected() bool
	Ping() error
	URL() string
	Close()
}

// sessionRunner executes sessions.
type sessionRunner interface {
	Run(ctx context.Context) error
}

// Agent is the main daemon service.
type Agent struct {
	mu             sync.RWMutex
	cfg            *config.Config
	configFilePath string
	status         atomic.Value // Status
	startTime      time.Time
	stopChan       chan struct{}

	// Core components
	pi            pigpio.Pi
	arm           *servo.Controller
	magnet        *magnet.Control
	camera        camera.Camera
	control       controlConn
	cloud         cloudConn
	newCloud      func(url string) cloudConn
	runner        sessionRunner
	events        eventstore.Store
	telem         telemetry.Publisher
	recorder      metrics.Recorder
	registry      *prom.Registry
	scheduler     gocron.Scheduler
	httpServer    *httpServer
	configWatcher *ConfigWatcher
	workers       WorkerGroup
	logger        *slog.Logger
	logLevel      *slog.LevelVar

	heartbeatJob gocron.Job
	runCtx       context.Context

	connMu    sync.Mutex
	connState map[string]bool

	sessionActive atomic.Bool
}

// New wires an agent against real hardware: the pigpiod socket, the
// libcamera tools and the configured network endpoints.
func New(cfg *config.Config, configFilePath string, logger *slog.Logger) (*Agent, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}

	a := &Agent{
		cfg:            cfg,
		configFilePath: configFilePath,
		stopChan:       make(chan struct{}),
		logger:         logger,
		recorder:       metrics.NoopRecorder{},
		telem:          telemetry.NopPublisher{},
	}
	a.status.Store(StatusStopped)

	if cfg.Metrics.Enabled {
		a.registry = prom.NewRegistry()
		a.recorder = metrics.NewPrometheusRecorder(a.registry)
	}

	pi, err := pigpio.Dial(cfg.Pigpio.Addr)
	if err != nil {
		return nil, fmt.Errorf("connect to pigpiod at %s: %w", cfg.Pigpio.Addr, err)
	}
	a.pi = pi
	a.arm = servo.NewController(pi, cfg.Servos, servo.WithRecorder(a.recorder))
	mag, err := magnet.New(pi, cfg.Magnet.Pin)
	if err != nil {
		pi.Close()
		return nil, err
	}
	a.magnet = mag
	a.camera = camera.New(cfg.Camera)

	policy := retry.NewPolicy(retryArgs(cfg))
	a.control = controlpanel.New(cfg.ControlWSURL(), cfg.ControlHTTPURL(), cfg.ArmID,
		logger, controlpanel.WithRetryPolicy(policy), controlpanel.WithRecorder(a.recorder))
	a.newCloud = func(url string) cloudConn {
		return cloud.New(url, logger, cloud.WithRecorder(a.recorder))
	}
	a.cloud = a.newCloud(cfg.CloudWSURL(""))

	events, err := eventstore.NewSQLiteStore(filepath.Join(cfg.Storage.DataDir, "events.db"))
	if err != nil {
		pi.Close()
		return nil, fmt.Errorf("open event store: %w", err)
	}
	a.events = events

	if cfg.Telemetry.URL != "" {
		pub, err := telemetry.Connect(cfg.Telemetry.URL, cfg.Telemetry.Subject, cfg.ArmID)
		if err != nil {
			// Telemetry is best-effort; the arm works without a broker.
			logger.Warn("telemetry disabled", logfields.Error(err))
		} else {
			a.telem = pub
		}
	}

	a.runner = session.NewRunner(a.Config, session.Deps{
		Arm:      a.arm,
		Magnet:   a.magnet,
		Camera:   a.camera,
		Control:  a.control.(*controlpanel.Client),
		Cloud:    &cloudAdapter{agent: a},
		Uploader: storage.NewS3Uploader(cfg.Storage.Region),
		Events:   a.events,
		Telem:    a.telem,
		Recorder: a.recorder,
		Logger:   logger,
	})

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		pi.Close()
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	a.scheduler = scheduler

	if cfg.Metrics.Enabled {
		a.httpServer = newHTTPServer(cfg.Metrics.Listen, a)
	}

	if configFilePath != "" {
		a.configWatcher, err = NewConfigWatcher(configFilePath, a)
		if err != nil {
			pi.Close()
			return nil, err
		}
	}

	return a, nil
}

func retryArgs(cfg *config.Config) (retry.BackoffMode, time.Duration, time.Duration, int) {
	mode, initial, maxDelay, maxRetries := cfg.RetryPolicyArgs()
	return retry.NormalizeBackoff(mode), initial, maxDelay, maxRetries
}

// cloudAdapter routes session cloud calls through the agent's current cloud
// client, which may be swapped when the host address changes.
type cloudAdapter struct {
	agent *Agent
}

func (ca *cloudAdapter) SendImage(ctx context.Context, header cloud.ImageHeader, imageBytes []byte) (bool, error) {
	c, err := ca.client()
	if err != nil {
		return false, err
	}
	return c.SendImage(ctx, header, imageBytes)
}

func (ca *cloudAdapter) SessionCommands(ctx context.Context, sessionFolder string, armConstants map[string]any) ([]cloud.Command, error) {
	c, err := ca.client()
	if err != nil {
		return nil, err
	}
	return c.SessionCommands(ctx, sessionFolder, armConstants)
}

func (ca *cloudAdapter) RequestAfterStitch(armID, sessionFolder string) error {
	c, err := ca.client()
	if err != nil {
		return err
	}
	return c.RequestAfterStitch(armID, sessionFolder)
}

func (ca *cloudAdapter) client() (*cloud.Client, error) {
	ca.agent.mu.RLock()
	defer ca.agent.mu.RUnlock()
	c, ok := ca.agent.cloud.(*cloud.Client)
	if !ok || !c.Connected() {
		return nil, fmt.Errorf("cloud service not connected")
	}
	return c, nil
}

// Start starts the agent and blocks until ctx is canceled or Stop is called.
func (a *Agent) Start(ctx context.Context) error {
	if a.GetStatus() != StatusStopped {
		return fmt.Errorf("agent is not in stopped state: %s", a.GetStatus())
	}

	a.status.Store(StatusStarting)
	a.startTime = time.Now()
	a.logger.Info("starting sorterbot agent", logfields.ArmID(a.Config().ArmID))

	if a.httpServer != nil {
		if err := a.httpServer.Start(ctx); err != nil {
			a.status.Store(StatusError)
			return fmt.Errorf("start http server: %w", err)
		}
	}

	// The first heartbeat insists on a control connection the way the arm
	// insists on its panel at boot.
	if err := a.control.Connect(ctx); err != nil {
		a.logger.Warn("control panel not reachable at startup, heartbeat will retry",
			logfields.Error(err))
	}

	a.runCtx = ctx
	job, err := a.scheduler.NewJob(
		gocron.DurationJob(a.Config().HeartRateDuration()),
		gocron.NewTask(a.heartbeat, ctx),
		gocron.WithName("heartbeat"),
	)
	if err != nil {
		a.status.Store(StatusError)
		return fmt.Errorf("schedule heartbeat: %w", err)
	}
	a.heartbeatJob = job
	a.scheduler.Start()

	if a.configWatcher != nil {
		if err := a.configWatcher.Start(ctx); err != nil {
			a.logger.Warn("config watcher failed to start", logfields.Error(err))
		}
	}

	a.status.Store(StatusRunning)
	a.logger.Info("agent started",
		logfields.Host(a.Config().ControlWSURL()),
		slog.Duration("heart_rate", a.Config().HeartRateDuration()))

	select {
	case <-ctx.Done():
		a.logger.Info("agent stopping on context cancellation")
	case <-a.stopChan:
		a.logger.Info("agent stopping on stop signal")
	}
	a.status.Store(StatusStopping)
	return nil
}

// Stop gracefully shuts down the agent: the scheduler, the running session
// workers, the network connections, and finally the hardware.
func (a *Agent) Stop(ctx context.Context) error {
	current := a.GetStatus()
	if current == StatusStopped {
		return nil
	}
	a.status.Store(StatusStopping)

	select {
	case <-a.stopChan:
	default:
		close(a.stopChan)
	}

	if a.configWatcher != nil {
		a.configWatcher.Stop(ctx)
	}
	if err := a.scheduler.Shutdown(); err != nil {
		a.logger.Warn("scheduler shutdown", logfields.Error(err))
	}
	if err := a.workers.StopAndWait(ctx); err != nil {
		a.logger.Warn("workers did not stop in time", logfields.Error(err))
	}
	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.logger.Warn("http server shutdown", logfields.Error(err))
		}
	}

	a.control.Close()
	a.currentCloud().Close()
	a.telem.Close()
	if err := a.events.Close(); err != nil {
		a.logger.Warn("closing event store", logfields.Error(err))
	}

	// Leave the hardware safe: camera idle, shafts released.
	if a.camera != nil && a.camera.Recording() {
		if err := a.camera.StopRecording(); err != nil {
			a.logger.Warn("stopping camera", logfields.Error(err))
		}
	}
	if a.arm != nil {
		if err := a.arm.Neutralize(); err != nil {
			a.logger.Warn("neutralizing servos", logfields.Error(err))
		}
	}
	if a.pi != nil {
		a.pi.Close()
	}

	a.status.Store(StatusStopped)
	a.logger.Info("agent stopped", slog.Duration("uptime", time.Since(a.startTime)))
	return nil
}

// GetStatus returns the current agent status.
func (a *Agent) GetStatus() Status {
	status, ok := a.status.Load().(Status)
	if !ok {
		return StatusError
	}
	return status
}

// Config returns the current configuration.
func (a *Agent) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// currentCloud returns the cloud connection under the lock; the heartbeat
// swaps it when the host address changes.
func (a *Agent) currentCloud() cloudConn {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cloud
}

// SetLogLevel registers the level var that configuration reloads adjust.
func (a *Agent) SetLogLevel(level *slog.LevelVar) {
	a.logLevel = level
}

// ReloadConfig swaps in a validated new configuration. The heartbeat
// interval and log level apply immediately; connection endpoints take
// effect on the next heartbeat reconnect, and the running session keeps
// the snapshot it started with.
func (a *Agent) ReloadConfig(newConfig *config.Config) {
	a.mu.Lock()
	old := a.cfg
	a.cfg = newConfig
	a.mu.Unlock()

	if a.logLevel != nil && newConfig.Logging.Level != old.Logging.Level {
		if level, err := logship.ParseLevel(newConfig.Logging.Level); err == nil {
			a.logLevel.Set(level)
			a.logger.Info("log level changed", slog.String("level", newConfig.Logging.Level))
		}
	}
	if a.heartbeatJob != nil && newConfig.HeartRate != old.HeartRate {
		a.rescheduleHeartbeat(newConfig.HeartRateDuration())
	}
}

// rescheduleHeartbeat replaces the heartbeat job with one on the new
// interval.
func (a *Agent) rescheduleHeartbeat(interval time.Duration) {
	job, err := a.scheduler.Update(a.heartbeatJob.ID(),
		gocron.DurationJob(interval),
		gocron.NewTask(a.heartbeat, a.runCtx),
		gocron.WithName("heartbeat"),
	)
	if err != nil {
		a.logger.Warn("could not reschedule heartbeat", logfields.Error(err))
		return
	}
	a.heartbeatJob = job
	a.logger.Info("heartbeat rescheduled", slog.Duration("heart_rate", interval))
}

// noteConnState updates the connection gauge for an endpoint and publishes
// a telemetry event when the state changes.
func (a *Agent) noteConnState(endpoint string, connected bool) {
	a.recorder.SetConnectionState(endpoint, connected)

	a.connMu.Lock()
	if a.connState == nil {
		a.connState = make(map[string]bool)
	}
	prev, seen := a.connState[endpoint]
	a.connState[endpoint] = connected
	a.connMu.Unlock()
	if seen && prev == connected {
		return
	}

	data, _ := json.Marshal(map[string]any{"endpoint": endpoint, "connected": connected})
	if err := a.telem.Publish(telemetry.Event{
		ArmID: a.Config().ArmID,
		Type:  telemetry.TypeConnectivity,
		Data:  data,
	}); err != nil {
		a.logger.Warn("telemetry publish failed", logfields.Error(err))
	}
}

// SessionActive reports whether a sorting session is currently running.
func (a *Agent) SessionActive() bool {
	return a.sessionActive.Load()
}
