// Package logship forwards log records from the arm to the control panel so
// operators can inspect arm activity without shelling into the device. Records
// are queued and shipped asynchronously; the shipper never blocks the caller
// and drops records when the queue is full.
package logship

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultQueueSize   = 256
	defaultPostTimeout = 5 * time.Second
)

// Record is the wire format for a shipped log line.
type Record struct {
	ArmID     string            `json:"arm_id"`
	Level     string            `json:"level"`
	Message   string            `json:"message"`
	Timestamp time.Time         `json:"timestamp"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Shipper posts log records to the control panel's log endpoint.
type Shipper struct {
	armID    string
	endpoint string
	client   *http.Client

	queue   chan Record
	dropped atomic.Int64

	wg       sync.WaitGroup
	stopOnce sync.Once
	stop     chan struct{}
}

// NewShipper starts a shipper posting to endpoint (the control panel's
// api/log/ URL). Call Close to flush and stop the worker.
func NewShipper(armID, endpoint string) *Shipper {
	s := &Shipper{
		armID:    armID,
		endpoint: endpoint,
		client:   &http.Client{Timeout: defaultPostTimeout},
		queue:    make(chan Record, defaultQueueSize),
		stop:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Enqueue queues a record for shipping. It never blocks: when the queue is
// full the record is dropped and counted.
func (s *Shipper) Enqueue(rec Record) {
	rec.ArmID = s.armID
	select {
	case s.queue <- rec:
	default:
		s.dropped.Add(1)
	}
}

// Dropped reports how many records were discarded due to a full queue.
func (s *Shipper) Dropped() int64 { return s.dropped.Load() }

// Close stops the worker after draining queued records.
func (s *Shipper) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Shipper) run() {
	defer s.wg.Done()
	for {
		select {
		case rec := <-s.queue:
			s.post(rec)
		case <-s.stop:
			for {
				select {
				case rec := <-s.queue:
					s.post(rec)
				default:
					return
				}
			}
		}
	}
}

func (s *Shipper) post(rec Record) {
	body, err := json.Marshal(rec)
	if err != nil {
		s.dropped.Add(1)
		return
	}
	resp, err := s.client.Post(s.endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		s.dropped.Add(1)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		s.dropped.Add(1)
	}
}

// Handler is a slog.Handler that forwards records to a Shipper in addition to
// passing them to a wrapped handler.
type Handler struct {
	next    slog.Handler
	shipper *Shipper
	attrs   []slog.Attr
}

// NewHandler wraps next so every record at or above its level is also shipped.
func NewHandler(next slog.Handler, shipper *Shipper) *Handler {
	return &Handler{next: next, shipper: shipper}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	fields := make(map[string]string, r.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		fields[a.Key] = a.Value.String()
	}
	r.Attrs(func(a slog.Attr) bool {
		fields[a.Key] = a.Value.String()
		return true
	})
	h.shipper.Enqueue(Record{
		Level:     r.Level.String(),
		Message:   r.Message,
		Timestamp: r.Time,
		Fields:    fields,
	})
	return h.next.Handle(ctx, r)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &Handler{next: h.next.WithAttrs(attrs), shipper: h.shipper, attrs: merged}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{next: h.next.WithGroup(name), shipper: h.shipper, attrs: h.attrs}
}

// ParseLevel maps a config level string to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch level {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}
