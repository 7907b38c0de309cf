package controlpanel

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorterbot/raspberry/internal/config"
	"github.com/sorterbot/raspberry/internal/retry"
)

var upgrader = websocket.Upgrader{}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakePanel serves both the /rpi/ WebSocket channel and the sessions REST
// endpoint the way the control panel does.
func fakePanel(t *testing.T, shouldStart int, cloudHost string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/rpi/", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			var req map[string]any
			if err := ws.ReadJSON(&req); err != nil {
				return
			}
			switch req["command"] {
			case "send_conn_status":
				ws.WriteJSON(shouldStart)
			case "get_cloud_ip":
				ws.WriteJSON(cloudHost)
			}
		}
	})
	mux.HandleFunc("/api/sessions/", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "arm_1", payload["arm"])
		assert.Equal(t, "In Progress", payload["status"])
		// Reply double-encoded, matching the panel's serializer.
		inner, _ := json.Marshal(map[string]any{"new_session_id": 42})
		json.NewEncoder(w).Encode(string(inner))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func clientFor(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/rpi/"
	httpBase := srv.URL + "/"
	return New(wsURL, httpBase, "arm_1", discardLogger(), opts...)
}

func TestConnectAndHeartbeat(t *testing.T) {
	srv := fakePanel(t, 1, "10.0.0.9")
	c := clientFor(t, srv)
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.Connected())

	shouldStart, err := c.SendConnStatus(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, shouldStart)
}

func TestSendConnStatusNotStarting(t *testing.T) {
	srv := fakePanel(t, 0, "")
	c := clientFor(t, srv)
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))
	shouldStart, err := c.SendConnStatus(context.Background(), 0)
	require.NoError(t, err)
	assert.False(t, shouldStart)
}

func TestCloudHost(t *testing.T) {
	srv := fakePanel(t, 0, "203.0.113.7")
	c := clientFor(t, srv)
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))
	host, err := c.CloudHost(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", host)
}

func TestConnectRetriesThenFails(t *testing.T) {
	policy := retry.NewPolicy(retry.BackoffFixed, time.Millisecond, time.Millisecond, 1)

	c := New("ws://127.0.0.1:1/rpi/", "http://127.0.0.1:1/", "arm_1",
		discardLogger(), WithRetryPolicy(policy))
	start := time.Now()
	err := c.Connect(context.Background())
	assert.Error(t, err)
	assert.False(t, c.Connected())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRequestsRequireConnection(t *testing.T) {
	c := New("ws://127.0.0.1:1/rpi/", "http://127.0.0.1:1/", "arm_1", discardLogger())
	_, err := c.SendConnStatus(context.Background(), 0)
	assert.Error(t, err)
	_, err = c.CloudHost(context.Background())
	assert.Error(t, err)
}

func TestCreateSession(t *testing.T) {
	srv := fakePanel(t, 0, "")
	c := clientFor(t, srv)

	id, err := c.CreateSession(context.Background(), []string{"1750", "1500", "1250", "1000"})
	require.NoError(t, err)
	assert.Equal(t, "42", id)
}

func TestCreateSessionServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New("ws://unused/", srv.URL+"/", "arm_1", discardLogger())
	_, err := c.CreateSession(context.Background(), nil)
	assert.Error(t, err)
}

// The client is wired from config-derived URLs in production, so the REST
// base has to append cleanly against relative endpoint paths.
func TestCreateSessionFromConfigURLs(t *testing.T) {
	srv := fakePanel(t, 0, "")
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	cfg := &config.Config{ControlHost: u.Hostname(), ControlPort: port}
	c := New(cfg.ControlWSURL(), cfg.ControlHTTPURL(), "arm_1", discardLogger())

	id, err := c.CreateSession(context.Background(), []string{"1000", "1250"})
	require.NoError(t, err)
	assert.Equal(t, "42", id)
}

func TestWithRetryPolicyKeepsDefaultWhenInvalid(t *testing.T) {
	c := New("ws://unused/", "http://unused/", "arm_1", discardLogger(),
		WithRetryPolicy(retry.Policy{Initial: -time.Second}))
	assert.Equal(t, retry.DefaultPolicy(), c.policy)
}
