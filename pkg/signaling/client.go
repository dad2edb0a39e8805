package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is the peer side of the relay: both the phone and the laptop use
// it to announce their role and exchange handshake events.
type Client struct {
	url    string
	conn   *websocket.Conn
	mu     sync.Mutex
	logger *slog.Logger
	events chan Envelope
	errs   chan error
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Dial connects to the relay's websocket endpoint and starts reading
// events.
func Dial(ctx context.Context, url string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}

	clientCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		url:    url,
		conn:   conn,
		logger: logger,
		events: make(chan Envelope, 100),
		errs:   make(chan error, 10),
		ctx:    clientCtx,
		cancel: cancel,
	}

	c.wg.Add(1)
	go c.readLoop()

	logger.Info("connected to relay", "url", url)
	return c, nil
}

// readLoop delivers incoming envelopes on the events channel. A slow
// consumer loses events rather than stalling the socket.
func (c *Client) readLoop() {
	defer c.wg.Done()

	conn := c.conn

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if c.ctx.Err() == nil {
				c.logger.Debug("relay read error", "error", err)
				select {
				case c.errs <- err:
				default:
				}
			}
			return
		}

		select {
		case c.events <- env:
		case <-c.ctx.Done():
			return
		default:
			c.logger.Warn("event channel full, dropping event", "event", env.Event)
		}
	}
}

// Announce declares this connection's role to the relay.
func (c *Client) Announce(role Role) error {
	return c.Send(EventDeviceType, string(role))
}

// Send emits one event with a JSON-serializable payload.
func (c *Client) Send(event string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("connection closed")
	}

	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", event, err)
		}
		env.Payload = data
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(env)
}

// Events returns the channel of envelopes received from the relay.
func (c *Client) Events() <-chan Envelope {
	return c.events
}

// Errors returns the channel of transport errors.
func (c *Client) Errors() <-chan error {
	return c.errs
}

// Close shuts the connection down and waits for the read loop to exit.
func (c *Client) Close() error {
	c.cancel()

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	c.wg.Wait()
	return nil
}
