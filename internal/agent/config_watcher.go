package agent

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sorterbot/raspberry/internal/config"
	"github.com/sorterbot/raspberry/internal/logfields"
)

// ConfigWatcher monitors arm_config.yaml for changes and applies reloads to
// the agent. The agent itself rewrites the file when it learns a new cloud
// host, so reloads triggered by its own save are expected.
type ConfigWatcher struct {
	configPath   string
	agent        *Agent
	watcher      *fsnotify.Watcher
	mu           sync.Mutex
	stopChan     chan struct{}
	reloadChan   chan struct{}
	debounceTime time.Duration
}

// NewConfigWatcher creates a watcher for configPath.
func NewConfigWatcher(configPath string, agent *Agent) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	return &ConfigWatcher{
		configPath:   absPath,
		agent:        agent,
		watcher:      watcher,
		stopChan:     make(chan struct{}),
		reloadChan:   make(chan struct{}, 1),
		debounceTime: 2 * time.Second,
	}, nil
}

// Start begins monitoring the configuration file.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	// Watch the directory; atomic saves replace the file, so watching the
	// file itself would lose the watch after the first rename.
	configDir := filepath.Dir(cw.configPath)
	if err := cw.watcher.Add(configDir); err != nil {
		return fmt.Errorf("watch config directory %s: %w", configDir, err)
	}

	cw.agent.logger.Info("config watcher started", logfields.Path(cw.configPath))

	go cw.watchLoop(ctx)
	go cw.reloadLoop(ctx)

	return nil
}

// Stop stops the configuration watcher.
func (cw *ConfigWatcher) Stop(context.Context) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	close(cw.stopChan)
	if cw.watcher != nil {
		if err := cw.watcher.Close(); err != nil {
			cw.agent.logger.Warn("closing file watcher", logfields.Error(err))
		}
	}
	return nil
}

func (cw *ConfigWatcher) watchLoop(ctx context.Context) {
	configFile := filepath.Base(cw.configPath)

	for {
		select {
		case <-ctx.Done():
			return
		case <-cw.stopChan:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != configFile {
				continue
			}
			switch {
			case event.Op.Has(fsnotify.Write), event.Op.Has(fsnotify.Create), event.Op.Has(fsnotify.Rename):
				cw.triggerReload()
			case event.Op.Has(fsnotify.Remove):
				cw.agent.logger.Warn("config file removed", logfields.Path(event.Name))
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.agent.logger.Warn("config watcher error", logfields.Error(err))
		}
	}
}

func (cw *ConfigWatcher) reloadLoop(ctx context.Context) {
	var reloadTimer *time.Timer
	stop := func() {
		if reloadTimer != nil {
			reloadTimer.Stop()
		}
	}

	for {
		select {
		case <-ctx.Done():
			stop()
			return
		case <-cw.stopChan:
			stop()
			return
		case <-cw.reloadChan:
			stop()
			reloadTimer = time.AfterFunc(cw.debounceTime, func() {
				if err := cw.performReload(); err != nil {
					cw.agent.logger.Error("config reload failed", logfields.Error(err))
				}
			})
		}
	}
}

func (cw *ConfigWatcher) triggerReload() {
	select {
	case cw.reloadChan <- struct{}{}:
	default:
	}
}

func (cw *ConfigWatcher) performReload() error {
	newConfig, err := config.Load(cw.configPath)
	if err != nil {
		return fmt.Errorf("load new configuration: %w", err)
	}
	if err := cw.validateConfigChange(newConfig); err != nil {
		return fmt.Errorf("validate configuration change: %w", err)
	}
	cw.agent.ReloadConfig(newConfig)
	cw.agent.logger.Info("configuration reloaded", logfields.Path(cw.configPath))
	return nil
}

// validateConfigChange rejects changes that would require a restart. The
// servo controller and magnet bind their GPIO pins at startup, so any pin
// change, not just a different count, needs a restart.
func (cw *ConfigWatcher) validateConfigChange(newConfig *config.Config) error {
	current := cw.agent.Config()
	if newConfig.ArmID != current.ArmID {
		return fmt.Errorf("arm_id change requires restart")
	}
	if !slices.Equal(newConfig.Servos.Pins, current.Servos.Pins) {
		return fmt.Errorf("servo pin layout change requires restart")
	}
	if newConfig.Magnet.Pin != current.Magnet.Pin {
		return fmt.Errorf("magnet pin change requires restart")
	}
	if newConfig.Metrics.Listen != current.Metrics.Listen {
		slog.Warn("metrics listen address change takes effect after restart")
	}
	return nil
}
