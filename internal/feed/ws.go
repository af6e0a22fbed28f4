// Package feed delivers raw exchange push frames into the connector's
// market-data and user-stream queues over WebSocket. It owns the connection
// lifecycle only; payload interpretation belongs to the exchange adapter.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// dialTimeout bounds the WebSocket handshake, not the connection lifetime.
	dialTimeout = 15 * time.Second

	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// FrameSink receives every raw frame read from the connection, in arrival
// order. Blocking the sink blocks the read loop, which is the intended
// backpressure.
type FrameSink func(ctx context.Context, raw []byte) error

// Command is a subscription command sent to the venue after connecting and
// after every reconnect.
type Command struct {
	Type    string   `json:"type"`
	Channel string   `json:"channel"`
	Symbols []string `json:"symbols,omitempty"`
}

// Client is a WebSocket client that feeds raw frames into a single sink.
// It keeps subscriptions across reconnects and backs off exponentially.
type Client struct {
	wsURL string
	sink  FrameSink

	mu            sync.Mutex
	conn          *websocket.Conn
	gen           int
	closed        bool
	subscriptions []Command

	done   chan struct{}
	logger *slog.Logger
}

// NewClient creates a client for the given WebSocket URL. Frames are passed
// to sink in arrival order.
func NewClient(wsURL string, sink FrameSink, logger *slog.Logger) *Client {
	return &Client{
		wsURL:  wsURL,
		sink:   sink,
		done:   make(chan struct{}),
		logger: logger.With(slog.String("component", "feed"), slog.String("url", wsURL)),
	}
}

// Connect establishes the connection and starts the read and ping loops.
// ctx bounds the lifetime of the loops, not just the dial; cancel it to stop
// reading. The dial itself is bounded by dialTimeout.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dialLocked(ctx)
}

// dialLocked dials, replaces the current connection, and starts loops bound
// to the new connection. Caller must hold c.mu. ctx is the long-lived run
// context handed to the loops.
func (c *Client) dialLocked(ctx context.Context) error {
	if c.closed {
		return fmt.Errorf("feed: connect: client closed")
	}

	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(dctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.gen++
	gen := c.gen

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readLoop(ctx, conn, gen)
	go c.pingLoop(conn, gen)

	// Restore prior subscriptions after a reconnect.
	for _, cmd := range c.subscriptions {
		if err := c.sendCommand(cmd); err != nil {
			return fmt.Errorf("feed: restore subscription: %w", err)
		}
	}
	return nil
}

// Subscribe sends subscription commands and tracks them for reconnects.
func (c *Client) Subscribe(channels []string, symbols []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("feed: subscribe: not connected")
	}
	for _, ch := range channels {
		cmd := Command{Type: "subscribe", Channel: ch, Symbols: symbols}
		if err := c.sendCommand(cmd); err != nil {
			return fmt.Errorf("feed: subscribe %s: %w", ch, err)
		}
		c.subscriptions = append(c.subscriptions, cmd)
	}
	return nil
}

// Close shuts the connection down and stops the loops.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	if c.conn != nil {
		_ = c.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return c.conn.Close()
	}
	return nil
}

// sendCommand sends a JSON command. Caller must hold c.mu.
func (c *Client) sendCommand(cmd Command) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// current reports whether gen is still the live connection generation.
// Loops started for a superseded connection use this to exit.
func (c *Client) current(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, gen int) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			case <-ctx.Done():
				return
			default:
			}
			if !c.current(gen) {
				return
			}
			c.logger.Warn("read failed, reconnecting", slog.String("error", err.Error()))
			c.reconnect(ctx)
			return // readLoop restarted by reconnect -> dialLocked
		}

		if err := c.sink(ctx, raw); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("frame sink rejected message", slog.String("error", err.Error()))
		}
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, gen int) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if !c.current(gen) {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reconnect re-establishes the connection with exponential backoff, passing
// the long-lived run context through to the loops started for the new
// connection. It returns once connected or once the client shuts down.
func (c *Client) reconnect(ctx context.Context) {
	delay := reconnectDelay
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		c.mu.Lock()
		err := c.dialLocked(ctx)
		c.mu.Unlock()
		if err == nil {
			c.logger.Info("reconnected")
			return
		}
		if ctx.Err() != nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
