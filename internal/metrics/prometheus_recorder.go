package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once             sync.Once
	sessionDuration  prom.Histogram
	stageDuration    *prom.HistogramVec
	sessionOutcomes  *prom.CounterVec
	heartbeats       *prom.CounterVec
	uploadDuration   *prom.HistogramVec
	imagesUploaded   prom.Counter
	commandsExecuted *prom.CounterVec
	servoMoves       *prom.HistogramVec
	magnetToggles    *prom.CounterVec
	wsReconnects     *prom.CounterVec
	connectionState  *prom.GaugeVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.sessionDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "sorterbot",
			Name:      "session_duration_seconds",
			Help:      "Total sorting session duration",
			Buckets:   prom.DefBuckets,
		})
		pr.stageDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "sorterbot",
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual session stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"})
		pr.sessionOutcomes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "sorterbot",
			Name:      "session_outcomes_total",
			Help:      "Session outcomes by final status",
		}, []string{"result"})
		pr.heartbeats = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "sorterbot",
			Name:      "heartbeats_total",
			Help:      "Heartbeats sent to the control panel by connection state",
		}, []string{"state"})
		pr.uploadDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "sorterbot",
			Name:      "upload_duration_seconds",
			Help:      "Duration of individual image uploads to the cloud service",
			Buckets:   prom.DefBuckets,
		}, []string{"result"})
		pr.imagesUploaded = prom.NewCounter(prom.CounterOpts{
			Namespace: "sorterbot",
			Name:      "images_uploaded_total",
			Help:      "Images captured and uploaded across all sessions",
		})
		pr.commandsExecuted = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "sorterbot",
			Name:      "commands_executed_total",
			Help:      "Pick and place commands executed by result",
		}, []string{"result"})
		pr.servoMoves = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "sorterbot",
			Name:      "servo_move_duration_seconds",
			Help:      "Duration of individual servo movements",
			Buckets:   prom.DefBuckets,
		}, []string{"servo"})
		pr.magnetToggles = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "sorterbot",
			Name:      "magnet_toggles_total",
			Help:      "Electromagnet state changes",
		}, []string{"state"})
		pr.wsReconnects = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "sorterbot",
			Name:      "ws_reconnects_total",
			Help:      "WebSocket reconnect attempts by endpoint",
		}, []string{"endpoint"})
		pr.connectionState = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "sorterbot",
			Name:      "connection_state",
			Help:      "Whether the link to an endpoint is currently up (1) or down (0)",
		}, []string{"endpoint"})
		reg.MustRegister(pr.sessionDuration, pr.stageDuration, pr.sessionOutcomes, pr.heartbeats,
			pr.uploadDuration, pr.imagesUploaded, pr.commandsExecuted, pr.servoMoves, pr.magnetToggles,
			pr.wsReconnects, pr.connectionState)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveSessionDuration(d time.Duration) {
	if p == nil || p.sessionDuration == nil {
		return
	}
	p.sessionDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil || p.stageDuration == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncSessionOutcome(result ResultLabel) {
	if p == nil || p.sessionOutcomes == nil {
		return
	}
	p.sessionOutcomes.WithLabelValues(string(result)).Inc()
}

func (p *PrometheusRecorder) IncHeartbeat(connected bool) {
	if p == nil || p.heartbeats == nil {
		return
	}
	state := "disconnected"
	if connected {
		state = "connected"
	}
	p.heartbeats.WithLabelValues(state).Inc()
}

func (p *PrometheusRecorder) ObserveUploadDuration(d time.Duration, success bool) {
	if p == nil || p.uploadDuration == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.uploadDuration.WithLabelValues(res).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncImagesUploaded(n int) {
	if p == nil || p.imagesUploaded == nil {
		return
	}
	p.imagesUploaded.Add(float64(n))
}

func (p *PrometheusRecorder) IncCommandsExecuted(result ResultLabel) {
	if p == nil || p.commandsExecuted == nil {
		return
	}
	p.commandsExecuted.WithLabelValues(string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveServoMoveDuration(servo string, d time.Duration) {
	if p == nil || p.servoMoves == nil {
		return
	}
	p.servoMoves.WithLabelValues(servo).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncMagnetToggle(on bool) {
	if p == nil || p.magnetToggles == nil {
		return
	}
	state := "off"
	if on {
		state = "on"
	}
	p.magnetToggles.WithLabelValues(state).Inc()
}

func (p *PrometheusRecorder) IncWSReconnect(endpoint string) {
	if p == nil || p.wsReconnects == nil {
		return
	}
	p.wsReconnects.WithLabelValues(endpoint).Inc()
}

func (p *PrometheusRecorder) SetConnectionState(endpoint string, connected bool) {
	if p == nil || p.connectionState == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1
	}
	p.connectionState.WithLabelValues(endpoint).Set(v)
}
