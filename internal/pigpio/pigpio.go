// Package pigpio implements a client for the pigpiod daemon socket
// interface. pigpiod generates pulses with DMA-backed hardware timing, so
// servo pulse widths stay accurate even when the CPU is busy uploading a
// video at the same time.
package pigpio

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// Pi is the subset of the pigpiod command set the arm needs. The TCP client
// implements it against a real daemon; tests use the in-memory fake.
type Pi interface {
	// SetMode configures a GPIO as input or output.
	SetMode(gpio int, mode Mode) error
	// Write sets the digital level of an output GPIO.
	Write(gpio int, level Level) error
	// ServoPulsewidth sends a servo pulse width in microseconds.
	// 0 switches pulses off, releasing the shaft.
	ServoPulsewidth(gpio int, pulseWidth int) error
	Close() error
}

// Mode is a GPIO mode as understood by pigpiod.
type Mode uint32

const (
	ModeInput  Mode = 0
	ModeOutput Mode = 1
)

// Level is a digital GPIO level.
type Level uint32

const (
	Low  Level = 0
	High Level = 1
)

// pigpiod command codes (subset).
const (
	cmdModes uint32 = 0
	cmdWrite uint32 = 4
	cmdServo uint32 = 8
)

// Client talks to a pigpiod daemon over its TCP socket interface. Each
// request is four little-endian uint32 words (command, p1, p2, extension
// length); the daemon echoes the words back with the result in the fourth.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
	addr string
}

// Dial connects to the pigpiod daemon at addr (host:port).
func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to pigpiod at %s: %w", addr, err)
	}
	return &Client{conn: conn, addr: addr}, nil
}

// do sends a single command and returns the daemon's result word.
// Commands are serialized; pigpiod replies in request order on one socket.
func (c *Client) do(cmd, p1, p2 uint32) (int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var req [16]byte
	binary.LittleEndian.PutUint32(req[0:4], cmd)
	binary.LittleEndian.PutUint32(req[4:8], p1)
	binary.LittleEndian.PutUint32(req[8:12], p2)
	binary.LittleEndian.PutUint32(req[12:16], 0)

	if _, err := c.conn.Write(req[:]); err != nil {
		return 0, fmt.Errorf("pigpiod write (cmd %d): %w", cmd, err)
	}

	var resp [16]byte
	if _, err := io.ReadFull(c.conn, resp[:]); err != nil {
		return 0, fmt.Errorf("pigpiod read (cmd %d): %w", cmd, err)
	}

	res := int32(binary.LittleEndian.Uint32(resp[12:16]))
	if res < 0 {
		return res, fmt.Errorf("pigpiod command %d failed with status %d", cmd, res)
	}
	return res, nil
}

// SetMode configures a GPIO as input or output.
func (c *Client) SetMode(gpio int, mode Mode) error {
	_, err := c.do(cmdModes, uint32(gpio), uint32(mode))
	return err
}

// Write sets the digital level of an output GPIO.
func (c *Client) Write(gpio int, level Level) error {
	_, err := c.do(cmdWrite, uint32(gpio), uint32(level))
	return err
}

// ServoPulsewidth sends a servo pulse width in microseconds.
func (c *Client) ServoPulsewidth(gpio int, pulseWidth int) error {
	if pulseWidth < 0 {
		return fmt.Errorf("pulse width cannot be negative, got %d", pulseWidth)
	}
	_, err := c.do(cmdServo, uint32(gpio), uint32(pulseWidth))
	return err
}

// Close closes the daemon connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}
