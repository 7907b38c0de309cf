package agent

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/sorterbot/raspberry/internal/logfields"
	"github.com/sorterbot/raspberry/internal/metrics"
	"github.com/sorterbot/raspberry/internal/version"
)

// httpServer exposes liveness and Prometheus metrics for the agent.
type httpServer struct {
	agent *Agent
	addr  string
	srv   *http.Server
}

func newHTTPServer(addr string, agent *Agent) *httpServer {
	return &httpServer{agent: agent, addr: addr}
}

// healthResponse is the /healthz payload.
type healthResponse struct {
	Status         string    `json:"status"`
	ArmID          string    `json:"arm_id"`
	Version        string    `json:"version"`
	Uptime         string    `json:"uptime"`
	Timestamp      time.Time `json:"timestamp"`
	SessionActive  bool      `json:"session_active"`
	ControlOnline  bool      `json:"control_online"`
	CloudOnline    bool      `json:"cloud_online"`
	RecentSessions []string  `json:"recent_sessions,omitempty"`
}

func (h *httpServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	if h.agent.registry != nil {
		mux.Handle("/metrics", metrics.HTTPHandler(h.agent.registry))
	}

	listener, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}
	h.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := h.srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			h.agent.logger.Error("http server failed", logfields.Error(err))
		}
	}()
	h.agent.logger.Info("http server listening", logfields.Host(h.addr))
	return nil
}

func (h *httpServer) Stop(ctx context.Context) error {
	if h.srv == nil {
		return nil
	}
	return h.srv.Shutdown(ctx)
}

func (h *httpServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	a := h.agent
	resp := healthResponse{
		Status:        string(a.GetStatus()),
		ArmID:         a.Config().ArmID,
		Version:       version.Version,
		Uptime:        time.Since(a.startTime).Round(time.Second).String(),
		Timestamp:     time.Now(),
		SessionActive: a.SessionActive(),
		ControlOnline: a.control.Connected(),
		CloudOnline:   a.currentCloud().Connected(),
	}
	if a.events != nil {
		recent, err := a.events.RecentSessions(r.Context(), 5)
		if err != nil {
			a.logger.Warn("listing recent sessions", logfields.Error(err))
		} else {
			resp.RecentSessions = recent
		}
	}
	code := http.StatusOK
	if resp.Status != string(StatusRunning) {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}
