package logship

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureServer struct {
	mu      sync.Mutex
	records []Record
	srv     *httptest.Server
}

func newCaptureServer(t *testing.T) *captureServer {
	t.Helper()
	cs := &captureServer{}
	cs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var rec Record
		require.NoError(t, json.Unmarshal(body, &rec))
		cs.mu.Lock()
		cs.records = append(cs.records, rec)
		cs.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(cs.srv.Close)
	return cs
}

func (cs *captureServer) all() []Record {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]Record, len(cs.records))
	copy(out, cs.records)
	return out
}

func TestShipperPostsRecords(t *testing.T) {
	cs := newCaptureServer(t)
	shipper := NewShipper("arm_1", cs.srv.URL)

	shipper.Enqueue(Record{Level: "INFO", Message: "session started", Timestamp: time.Now()})
	shipper.Close()

	records := cs.all()
	require.Len(t, records, 1)
	assert.Equal(t, "arm_1", records[0].ArmID)
	assert.Equal(t, "session started", records[0].Message)
}

func TestShipperCountsDropsOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	shipper := NewShipper("arm_1", srv.URL)
	shipper.Enqueue(Record{Message: "lost"})
	shipper.Close()

	assert.Equal(t, int64(1), shipper.Dropped())
}

func TestHandlerForwardsAndPassesThrough(t *testing.T) {
	cs := newCaptureServer(t)
	shipper := NewShipper("arm_1", cs.srv.URL)

	var local []string
	next := slog.NewTextHandler(writerFunc(func(p []byte) (int, error) {
		local = append(local, string(p))
		return len(p), nil
	}), &slog.HandlerOptions{Level: slog.LevelInfo})

	logger := slog.New(NewHandler(next, shipper))
	logger.With(slog.String("arm_id", "arm_1")).Info("sweep done", slog.Int("images", 4))
	shipper.Close()

	require.Len(t, local, 1)
	assert.Contains(t, local[0], "sweep done")

	records := cs.all()
	require.Len(t, records, 1)
	assert.Equal(t, "sweep done", records[0].Message)
	assert.Equal(t, "4", records[0].Fields["images"])
	assert.Equal(t, "arm_1", records[0].Fields["arm_id"])
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

func TestParseLevel(t *testing.T) {
	for input, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(input)
		require.NoError(t, err)
		assert.Equal(t, want, got, "level %q", input)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}
