package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/sorterbot/raspberry/internal/agent"
	"github.com/sorterbot/raspberry/internal/camera"
	"github.com/sorterbot/raspberry/internal/cloud"
	"github.com/sorterbot/raspberry/internal/config"
	"github.com/sorterbot/raspberry/internal/controlpanel"
	"github.com/sorterbot/raspberry/internal/logship"
	"github.com/sorterbot/raspberry/internal/magnet"
	"github.com/sorterbot/raspberry/internal/pigpio"
	"github.com/sorterbot/raspberry/internal/servo"
	"github.com/sorterbot/raspberry/internal/session"
	"github.com/sorterbot/raspberry/internal/storage"
	"github.com/sorterbot/raspberry/internal/version"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"arm_config.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Run struct {
	} `cmd:"" help:"Run the arm agent: heartbeat to the Control Panel and start sessions on demand"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`

	Session struct {
	} `cmd:"" help:"Run a single sorting session and exit"`

	Record struct {
	} `cmd:"" help:"Record a training video and upload it to the training bucket"`

	Servo struct {
		Servo      int     `short:"s" required:"" help:"Servo index"`
		PulseWidth float64 `short:"p" required:"" help:"Target pulse width in microseconds"`
		Speed      string  `help:"Movement speed (fast or dataset)" default:"fast"`
	} `cmd:"" help:"Move a single servo to a pulse width"`

	Magnet struct {
		On  bool `help:"Energize the magnet" xor:"state" required:""`
		Off bool `help:"Release the magnet" xor:"state" required:""`
	} `cmd:"" help:"Switch the electromagnet"`

	Version struct {
	} `cmd:"" help:"Print version information"`
}

func main() {
	ctx := kong.Parse(&CLI)

	var err error
	switch ctx.Command() {
	case "run":
		err = runAgent()
	case "init":
		err = config.Init(CLI.Config, CLI.Init.Force)
	case "session":
		err = runSession()
	case "record":
		err = runRecord()
	case "servo":
		err = runServo()
	case "magnet":
		err = runMagnet()
	case "version":
		fmt.Println(version.Version)
	}
	if err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// setupLogger builds the process logger from the logging config. When remote
// logging is enabled, records are also shipped to the Control Panel; the
// returned closer drains the shipper. The level var is shared with the
// agent so a configuration reload can adjust verbosity at runtime.
func setupLogger(cfg *config.Config) (*slog.Logger, *slog.LevelVar, func(), error) {
	level, err := logship.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, nil, nil, err
	}
	if CLI.Verbose {
		level = slog.LevelDebug
	}
	levelVar := new(slog.LevelVar)
	levelVar.Set(level)

	opts := &slog.HandlerOptions{Level: levelVar}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	closer := func() {}
	if cfg.Logging.Remote {
		shipper := logship.NewShipper(cfg.ArmID, cfg.ControlHTTPURL()+"api/log/")
		handler = logship.NewHandler(handler, shipper)
		closer = shipper.Close
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, levelVar, closer, nil
}

func runAgent() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}
	logger, levelVar, closeLogs, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLogs()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := agent.New(cfg, CLI.Config, logger)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	a.SetLogLevel(levelVar)

	errChan := make(chan error, 1)
	go func() {
		errChan <- a.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("agent error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping agent")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	return a.Stop(stopCtx)
}

func runSession() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}
	logger, _, closeLogs, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLogs()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pi, err := pigpio.Dial(cfg.Pigpio.Addr)
	if err != nil {
		return fmt.Errorf("connect to pigpiod: %w", err)
	}
	defer pi.Close()

	mag, err := magnet.New(pi, cfg.Magnet.Pin)
	if err != nil {
		return err
	}

	control := controlpanel.New(cfg.ControlWSURL(), cfg.ControlHTTPURL(), cfg.ArmID, logger)
	if err := control.Connect(ctx); err != nil {
		return err
	}
	defer control.Close()

	cl := cloud.New(cfg.CloudWSURL(""), logger)
	if err := cl.Connect(ctx); err != nil {
		return err
	}
	defer cl.Close()

	runner := session.NewRunner(func() *config.Config { return cfg }, session.Deps{
		Arm:      servo.NewController(pi, cfg.Servos),
		Magnet:   mag,
		Camera:   camera.New(cfg.Camera),
		Control:  control,
		Cloud:    cl,
		Uploader: storage.NewS3Uploader(cfg.Storage.Region),
		Logger:   logger,
	})
	return runner.Run(ctx)
}

func runRecord() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}
	logger, _, closeLogs, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLogs()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pi, err := pigpio.Dial(cfg.Pigpio.Addr)
	if err != nil {
		return fmt.Errorf("connect to pigpiod: %w", err)
	}
	defer pi.Close()

	runner := session.NewRunner(func() *config.Config { return cfg }, session.Deps{
		Arm:      servo.NewController(pi, cfg.Servos),
		Camera:   camera.New(cfg.Camera),
		Uploader: storage.NewS3Uploader(cfg.Storage.Region),
		Logger:   logger,
	})
	return runner.RecordTrainingVideo(ctx)
}

func runServo() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}
	logger, _, closeLogs, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLogs()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pi, err := pigpio.Dial(cfg.Pigpio.Addr)
	if err != nil {
		return fmt.Errorf("connect to pigpiod: %w", err)
	}
	defer pi.Close()

	arm := servo.NewController(pi, cfg.Servos)
	logger.Info("moving servo",
		slog.Int("servo", CLI.Servo.Servo),
		slog.Float64("pulse_width", CLI.Servo.PulseWidth),
		slog.String("speed", CLI.Servo.Speed))
	return arm.ExecuteCommands(ctx, []servo.Command{{
		Servo:      CLI.Servo.Servo,
		PulseWidth: CLI.Servo.PulseWidth,
		Speed:      CLI.Servo.Speed,
	}}, false)
}

func runMagnet() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}
	if _, _, _, err := setupLogger(cfg); err != nil {
		return err
	}

	pi, err := pigpio.Dial(cfg.Pigpio.Addr)
	if err != nil {
		return fmt.Errorf("connect to pigpiod: %w", err)
	}
	defer pi.Close()

	mag, err := magnet.New(pi, cfg.Magnet.Pin)
	if err != nil {
		return err
	}
	if CLI.Magnet.On {
		return mag.On()
	}
	return mag.Off()
}
