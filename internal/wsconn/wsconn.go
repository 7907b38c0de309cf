// Package wsconn wraps a gorilla WebSocket connection with a background read
// pump so pings can be answered and verified while callers run serialized
// request/response exchanges.
package wsconn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned when an operation is attempted on a closed connection.
var ErrClosed = errors.New("websocket connection closed")

const defaultPingTimeout = 5 * time.Second

// Conn is a WebSocket connection with a read pump. Incoming data messages are
// delivered through Receive in arrival order; control frames are handled by
// the pump.
type Conn struct {
	ws      *websocket.Conn
	msgs    chan []byte
	pong    chan struct{}
	done    chan struct{}
	readErr error

	writeMu   sync.Mutex
	reqMu     sync.Mutex
	closeOnce sync.Once
}

// Dial connects to url and verifies the peer answers a ping before returning.
func Dial(ctx context.Context, url string) (*Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Conn{
		ws:   ws,
		msgs: make(chan []byte, 8),
		pong: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	ws.SetPongHandler(func(string) error {
		select {
		case c.pong <- struct{}{}:
		default:
		}
		return nil
	})
	go c.readPump()

	if err := c.Ping(defaultPingTimeout); err != nil {
		c.Close()
		return nil, fmt.Errorf("ping %s: %w", url, err)
	}
	return c, nil
}

func (c *Conn) readPump() {
	defer close(c.msgs)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.readErr = err
			return
		}
		select {
		case c.msgs <- data:
		case <-c.done:
			return
		}
	}
}

// Ping sends a ping frame and waits for the pong.
func (c *Conn) Ping(timeout time.Duration) error {
	if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout)); err != nil {
		return err
	}
	select {
	case <-c.pong:
		return nil
	case <-time.After(timeout):
		return errors.New("pong not received")
	case <-c.done:
		return ErrClosed
	}
}

// SendJSON writes v as a JSON text message.
func (c *Conn) SendJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

// SendBinary writes data as a single binary message.
func (c *Conn) SendBinary(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

// Receive returns the next incoming data message.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg, ok := <-c.msgs:
		if !ok {
			if c.readErr != nil {
				return nil, c.readErr
			}
			return nil, ErrClosed
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Request sends payload and returns the next incoming message as the
// response. Exchanges are serialized so concurrent callers cannot interleave
// request/response pairs.
func (c *Conn) Request(ctx context.Context, payload any) ([]byte, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	if err := c.SendJSON(payload); err != nil {
		return nil, err
	}
	return c.Receive(ctx)
}

// RequestBinary behaves like Request for a pre-encoded binary payload.
func (c *Conn) RequestBinary(ctx context.Context, payload []byte) ([]byte, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	if err := c.SendBinary(payload); err != nil {
		return nil, err
	}
	return c.Receive(ctx)
}

// Close sends a close frame best-effort and tears down the connection.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(time.Second)
		c.writeMu.Lock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
