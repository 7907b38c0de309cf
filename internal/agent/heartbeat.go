package agent

import (
	"context"

	"github.com/sorterbot/raspberry/internal/logfields"
)

// heartbeat runs once per heart_rate tick. It verifies the Cloud connection,
// reports the status to the Control Panel and starts a session when the
// operator asked for one. Ticks are skipped while a session is running so
// the arm is never asked to do two things at once.
func (a *Agent) heartbeat(ctx context.Context) {
	if a.GetStatus() != StatusRunning {
		return
	}
	if a.SessionActive() {
		a.logger.Debug("heartbeat skipped, session in progress")
		return
	}

	if !a.control.Connected() {
		if err := a.control.Connect(ctx); err != nil {
			a.logger.Warn("control panel unreachable", logfields.Error(err))
			a.noteConnState("control", false)
			return
		}
	}
	a.noteConnState("control", true)

	cloudConnStatus := a.ensureCloud(ctx)
	a.recorder.IncHeartbeat(cloudConnStatus == 1)
	a.noteConnState("cloud", cloudConnStatus == 1)

	shouldStart, err := a.control.SendConnStatus(ctx, cloudConnStatus)
	if err != nil {
		// The client tears the connection down on send failure; the next
		// tick reconnects.
		a.logger.Warn("heartbeat send failed", logfields.Error(err))
		a.noteConnState("control", false)
		return
	}

	if shouldStart && cloudConnStatus == 1 {
		a.startSession(ctx)
	}
}

// ensureCloud returns 1 when a responsive Cloud connection exists, opening or
// repairing one if needed. When the saved host is dead it asks the Control
// Panel for the current address, and persists it on success.
func (a *Agent) ensureCloud(ctx context.Context) int {
	cl := a.currentCloud()
	if cl.Connected() {
		if cl.Ping() == nil {
			return 1
		}
		// Ping closed the unresponsive connection; fall through to reconnect.
	}

	if err := cl.Connect(ctx); err == nil {
		return 1
	}
	a.logger.Warn("cloud service offline", logfields.Host(cl.URL()))

	host, err := a.control.CloudHost(ctx)
	if err != nil {
		a.logger.Warn("could not get cloud host from control panel", logfields.Error(err))
		return 0
	}

	cfg := a.Config()
	fresh := a.newCloud(cfg.CloudWSURL(host))
	if err := fresh.Connect(ctx); err != nil {
		a.logger.Warn("cloud service offline with latest host as well",
			logfields.Host(fresh.URL()))
		fresh.Close()
		return 0
	}

	a.mu.Lock()
	a.cloud.Close()
	a.cloud = fresh
	a.cfg.CloudHost = host
	a.mu.Unlock()

	if a.configFilePath != "" {
		if err := cfg.Save(a.configFilePath); err != nil {
			a.logger.Warn("could not persist new cloud host", logfields.Error(err))
		}
	}
	return 1
}

// startSession launches a session worker unless one is already running.
func (a *Agent) startSession(ctx context.Context) {
	if !a.sessionActive.CompareAndSwap(false, true) {
		return
	}
	started := a.workers.Go("session", func() {
		defer a.sessionActive.Store(false)
		if err := a.runner.Run(ctx); err != nil {
			a.logger.Error("session failed", logfields.Error(err))
		}
	})
	if !started {
		a.sessionActive.Store(false)
	}
}
