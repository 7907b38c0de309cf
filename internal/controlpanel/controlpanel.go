// Package controlpanel talks to the SorterBot Control Panel: a WebSocket
// channel for heartbeat exchanges and a REST endpoint for session
// registration.
package controlpanel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sorterbot/raspberry/internal/logfields"
	"github.com/sorterbot/raspberry/internal/metrics"
	"github.com/sorterbot/raspberry/internal/retry"
	"github.com/sorterbot/raspberry/internal/wsconn"
)

// Client connects an arm to the Control Panel.
type Client struct {
	wsURL    string
	httpBase string
	armID    string

	conn     *wsconn.Conn
	httpc    *http.Client
	policy   retry.Policy
	logger   *slog.Logger
	recorder metrics.Recorder
}

// Option configures a Client.
type Option func(*Client)

// WithRetryPolicy overrides the connect retry policy. Invalid policies are
// ignored and the default stays in place.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) {
		if p.Validate() == nil {
			c.policy = p
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// New creates a client for the given Control Panel endpoints. wsURL is the
// ws://host:port/rpi/ channel, httpBase the http://host:port/ REST base.
func New(wsURL, httpBase, armID string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		wsURL:    wsURL,
		httpBase: httpBase,
		armID:    armID,
		httpc:    &http.Client{Timeout: 10 * time.Second},
		policy:   retry.DefaultPolicy(),
		logger:   logger,
		recorder: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connected reports whether the WebSocket channel is up.
func (c *Client) Connected() bool { return c.conn != nil }

// Connect dials the Control Panel WebSocket channel, retrying per the
// configured policy. The connection is ping-verified before Connect returns.
func (c *Client) Connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	var lastErr error
	for attempt := 0; attempt <= c.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			c.recorder.IncWSReconnect("control")
			select {
			case <-time.After(c.policy.Delay(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		conn, err := wsconn.Dial(ctx, c.wsURL)
		if err == nil {
			c.conn = conn
			c.logger.Info("control panel is online", logfields.Host(c.wsURL))
			return nil
		}
		lastErr = err
		c.logger.Warn("control panel is offline",
			logfields.Host(c.wsURL), logfields.Error(err))
	}
	return fmt.Errorf("connect to control panel: %w", lastErr)
}

// SendConnStatus reports the cloud connection status (1 connected, 0 not) and
// returns whether the operator requested a session start.
func (c *Client) SendConnStatus(ctx context.Context, cloudConnStatus int) (bool, error) {
	if c.conn == nil {
		return false, wsconn.ErrClosed
	}
	resp, err := c.conn.Request(ctx, map[string]any{
		"command":           "send_conn_status",
		"arm_id":            c.armID,
		"cloud_conn_status": cloudConnStatus,
	})
	if err != nil {
		c.drop()
		return false, fmt.Errorf("send connection status: %w", err)
	}
	var shouldStart int
	if err := json.Unmarshal(resp, &shouldStart); err != nil {
		return false, fmt.Errorf("decode connection status reply %q: %w", resp, err)
	}
	return shouldStart == 1, nil
}

// CloudHost asks the Control Panel for the current Cloud service address.
func (c *Client) CloudHost(ctx context.Context) (string, error) {
	if c.conn == nil {
		return "", wsconn.ErrClosed
	}
	resp, err := c.conn.Request(ctx, map[string]any{
		"command": "get_cloud_ip",
		"arm_id":  c.armID,
	})
	if err != nil {
		c.drop()
		return "", fmt.Errorf("get cloud host: %w", err)
	}
	var host string
	if err := json.Unmarshal(resp, &host); err != nil {
		return "", fmt.Errorf("decode cloud host reply %q: %w", resp, err)
	}
	return host, nil
}

// Close tears down the WebSocket channel.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) drop() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// CreateSession registers a new session over REST and returns its ID.
// logFilenames lists the per-position log names in capture order.
func (c *Client) CreateSession(ctx context.Context, logFilenames []string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"arm":             c.armID,
		"session_started": float64(time.Now().UnixMilli()) / 1000,
		"status":          "In Progress",
		"log_filenames":   strings.Join(logFilenames, ","),
	})
	if err != nil {
		return "", fmt.Errorf("encode session payload: %w", err)
	}

	url := c.httpBase + "api/sessions/"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read session reply: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("create session: unexpected status %d: %s", resp.StatusCode, body)
	}

	// The endpoint double-encodes its reply as a JSON string containing a
	// JSON object. Unwrap before decoding, tolerating the plain form too.
	var wrapped string
	if err := json.Unmarshal(body, &wrapped); err == nil {
		body = []byte(wrapped)
	}
	var reply struct {
		NewSessionID json.Number `json:"new_session_id"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return "", fmt.Errorf("decode session reply %q: %w", body, err)
	}
	if reply.NewSessionID == "" {
		return "", fmt.Errorf("session reply %q missing new_session_id", body)
	}
	return reply.NewSessionID.String(), nil
}
