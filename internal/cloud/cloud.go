// Package cloud talks to the SorterBot Cloud service over WebSockets: image
// upload for inference, command generation for a session, and after-image
// stitching.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sorterbot/raspberry/internal/logfields"
	"github.com/sorterbot/raspberry/internal/metrics"
	"github.com/sorterbot/raspberry/internal/wsconn"
)

// frameSeparator splits the JSON header from the raw image bytes within a
// single binary frame.
var frameSeparator = []byte("___")

// Image header commands understood by the cloud service.
const (
	CommandProcessImage = "recv_img_proc"
	CommandAfterImage   = "recv_img_after"
)

// ImageHeader describes an uploaded image.
type ImageHeader struct {
	Command   string `json:"command"`
	ArmID     string `json:"arm_id"`
	SessionID string `json:"session_id"`
	ImageName string `json:"image_name"`
}

// Command is one pick-and-place instruction: polar coordinates of the object
// to pick up and of the container to drop it into.
type Command struct {
	Object    [2]float64
	Container [2]float64
}

// UnmarshalJSON accepts the wire form [[angle, distance], [angle, distance]].
func (c *Command) UnmarshalJSON(data []byte) error {
	var pair [2][2]float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	c.Object = pair[0]
	c.Container = pair[1]
	return nil
}

// Client is a connection to the cloud service.
type Client struct {
	url      string
	conn     *wsconn.Conn
	logger   *slog.Logger
	recorder metrics.Recorder
}

// Option configures a Client.
type Option func(*Client)

// WithRecorder attaches a metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// New creates an unconnected client for the given ws://host:port endpoint.
func New(url string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		url:      url,
		logger:   logger,
		recorder: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL returns the endpoint this client dials.
func (c *Client) URL() string { return c.url }

// Connected reports whether the connection is up.
func (c *Client) Connected() bool { return c.conn != nil }

// Connect dials the cloud service and verifies it answers a ping. Unlike the
// control panel connection there is no retry loop here: the heartbeat decides
// when to try again, possibly with a fresh host address.
func (c *Client) Connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	conn, err := wsconn.Dial(ctx, c.url)
	if err != nil {
		return fmt.Errorf("connect to cloud service: %w", err)
	}
	c.conn = conn
	c.logger.Info("cloud service is online", logfields.Host(c.url))
	return nil
}

// Ping verifies the connection is responsive. An unresponsive connection is
// closed so the next heartbeat reconnects.
func (c *Client) Ping() error {
	if c.conn == nil {
		return wsconn.ErrClosed
	}
	if err := c.conn.Ping(5 * time.Second); err != nil {
		c.logger.Warn("cloud connection unresponsive, closing", logfields.Error(err))
		c.drop()
		return err
	}
	return nil
}

// SendImage uploads one image as a binary frame of JSON header, separator and
// raw bytes, then waits for the service's acknowledgment. It returns whether
// the service reported successful processing.
func (c *Client) SendImage(ctx context.Context, header ImageHeader, imageBytes []byte) (bool, error) {
	if c.conn == nil {
		return false, wsconn.ErrClosed
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return false, fmt.Errorf("encode image header: %w", err)
	}
	frame := bytes.Join([][]byte{headerBytes, imageBytes}, frameSeparator)

	start := time.Now()
	resp, err := c.conn.RequestBinary(ctx, frame)
	if err != nil {
		c.recorder.ObserveUploadDuration(time.Since(start), false)
		c.drop()
		return false, fmt.Errorf("send image %s: %w", header.ImageName, err)
	}

	success := parseAck(resp)
	c.recorder.ObserveUploadDuration(time.Since(start), success)
	c.logger.Debug("image acknowledged",
		logfields.Image(header.ImageName),
		logfields.Command(header.Command),
		logfields.DurationMS(float64(time.Since(start).Milliseconds())))
	return success, nil
}

// parseAck interprets the per-image acknowledgment. The service replies with
// a truthy value on success; tolerate JSON booleans, numbers and bare text.
func parseAck(resp []byte) bool {
	var b bool
	if err := json.Unmarshal(resp, &b); err == nil {
		return b
	}
	var n int
	if err := json.Unmarshal(resp, &n); err == nil {
		return n != 0
	}
	s := string(bytes.TrimSpace(resp))
	return s != "" && s != "false" && s != "0"
}

// SessionCommands asks the service to turn the session's processed images
// into pick-and-place commands. armConstants carries the arm's physical
// configuration for pixel-to-pulse-width conversion.
func (c *Client) SessionCommands(ctx context.Context, sessionFolder string, armConstants map[string]any) ([]Command, error) {
	if c.conn == nil {
		return nil, wsconn.ErrClosed
	}
	resp, err := c.conn.Request(ctx, map[string]any{
		"command":       "get_commands_of_session",
		"session_id":    sessionFolder,
		"arm_constants": armConstants,
	})
	if err != nil {
		c.drop()
		return nil, fmt.Errorf("get session commands: %w", err)
	}
	var commands []Command
	if err := json.Unmarshal(resp, &commands); err != nil {
		return nil, fmt.Errorf("decode session commands %q: %w", resp, err)
	}
	return commands, nil
}

// RequestAfterStitch asks the service to stitch the after-images of a session
// into a single overview. Fire-and-forget: the service does not reply.
func (c *Client) RequestAfterStitch(armID, sessionFolder string) error {
	if c.conn == nil {
		return wsconn.ErrClosed
	}
	err := c.conn.SendJSON(map[string]any{
		"command":    "stitch_after_image",
		"arm_id":     armID,
		"session_id": sessionFolder,
	})
	if err != nil {
		c.drop()
		return fmt.Errorf("request after stitch: %w", err)
	}
	return nil
}

// Close tears down the connection.
func (c *Client) Close() {
	c.drop()
}

func (c *Client) drop() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
