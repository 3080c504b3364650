// Package websocket manages a single resilient WebSocket connection:
// dial with retry, heartbeat pings, read-loop dispatch to per-topic
// handlers and automatic reconnection with handler re-registration.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/gorilla/websocket"

	"github.com/optimuslab/delta-feed/pkg/logging"
)

// MessageHandler receives the raw bytes of each message on a topic.
type MessageHandler func(message []byte)

// WSConnector is the connection surface used by exchange feeds.
type WSConnector interface {
	// Connect establishes the connection, retrying per the config.
	Connect(ctx context.Context) error

	// Close cleanly shuts the connection down.
	Close() error

	// Subscribe registers a handler for a topic. Registration is local;
	// sending a subscribe frame to the exchange is the caller's job.
	Subscribe(topic string, handler MessageHandler) error

	// Unsubscribe removes the handler for a topic.
	Unsubscribe(topic string) error

	// Send writes a message to the connection. Byte slices pass through
	// verbatim; anything else is marshaled to JSON.
	Send(message interface{}) error

	// IsConnected reports the current connection status.
	IsConnected() bool
}

// Config holds connection configuration.
type Config struct {
	URL               string
	HeartbeatInterval time.Duration
	ReconnectInterval time.Duration
	MaxRetries        int

	// TopicField is the JSON key whose value routes a message to its
	// handler. Delta frames carry the channel name under "type".
	TopicField string

	// OnReconnect runs after a successful automatic reconnect, once
	// handlers are re-registered. Exchange feeds use it to re-send
	// their subscribe frames.
	OnReconnect func()

	Logger logging.Logger
}

// Metrics holds connection and message statistics.
type Metrics struct {
	ConnectedTime  time.Time
	MessageCount   int64
	ReconnectCount int64
	ErrorCount     int64
}

type connector struct {
	config Config
	conn   *websocket.Conn

	handlers   map[string]MessageHandler
	handlersMu sync.RWMutex
	writeMu    sync.Mutex

	connected bool
	done      chan struct{}
	doneMu    sync.Mutex
	closed    bool

	reconnectMu  sync.Mutex
	reconnecting bool

	metrics   Metrics
	metricsMu sync.RWMutex

	logger logging.Logger
}

// NewConnector creates a connector for the given configuration.
func NewConnector(config Config) WSConnector {
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 20 * time.Second
	}
	if config.ReconnectInterval <= 0 {
		config.ReconnectInterval = 5 * time.Second
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.TopicField == "" {
		config.TopicField = "type"
	}
	if config.Logger == nil {
		config.Logger = logging.NewNopLogger()
	}
	return &connector{
		config:   config,
		handlers: make(map[string]MessageHandler),
		logger:   config.Logger,
	}
}

// GetMetrics returns the current connection metrics.
func (c *connector) GetMetrics() Metrics {
	c.metricsMu.RLock()
	defer c.metricsMu.RUnlock()
	return c.metrics
}

// Connect establishes the connection and starts the read and heartbeat
// loops. It retries up to MaxRetries times before giving up.
func (c *connector) Connect(ctx context.Context) error {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()

	if c.connected {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("context already cancelled: %w", ctx.Err())
	}

	c.logger.Debug("dialing websocket",
		logging.String("url", c.config.URL),
		logging.Duration("heartbeat", c.config.HeartbeatInterval),
	)

	var lastErr error
	for attempt := 1; attempt <= c.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		conn, _, err := dialer.DialContext(ctx, c.config.URL, nil)
		if err != nil {
			lastErr = err
			c.countError()
			c.logger.Warn("websocket dial failed",
				logging.Int("attempt", attempt),
				logging.Error(err),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.config.ReconnectInterval):
				continue
			}
		}

		c.conn = conn
		c.connected = true
		c.metricsMu.Lock()
		c.metrics.ConnectedTime = time.Now()
		c.metricsMu.Unlock()

		c.doneMu.Lock()
		c.done = make(chan struct{})
		c.closed = false
		c.doneMu.Unlock()

		go c.readPump(ctx)
		go c.heartbeat()
		go func() {
			select {
			case <-ctx.Done():
				c.logger.Info("context cancelled, closing websocket")
				c.Close()
			case <-c.done:
			}
		}()

		c.logger.Info("websocket connected", logging.String("url", c.config.URL))
		return nil
	}

	return fmt.Errorf("websocket connect: max retries exceeded: %w", lastErr)
}

// readPump reads frames until the connection drops, dispatching each to
// its topic handler. On an unexpected drop it kicks off reconnection.
func (c *connector) readPump(ctx context.Context) {
	defer func() {
		c.connected = false
		if c.conn != nil {
			_ = c.conn.Close()
		}

		c.doneMu.Lock()
		if !c.closed {
			close(c.done)
			c.closed = true
		}
		c.doneMu.Unlock()

		if !c.reconnecting && ctx.Err() == nil {
			go c.reconnect()
		}
	}()

	deadline := c.config.HeartbeatInterval * 3
	c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(deadline))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			c.conn.SetReadDeadline(time.Now().Add(deadline))
			_, message, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					c.logger.Warn("websocket read error", logging.Error(err))
					c.countError()
				}
				return
			}

			c.metricsMu.Lock()
			c.metrics.MessageCount++
			c.metricsMu.Unlock()

			c.dispatch(message)
		}
	}
}

// dispatch routes a message to the handler registered for its topic.
// Messages without the topic field, or without a handler, are dropped.
func (c *connector) dispatch(message []byte) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(message, &probe); err != nil {
		c.logger.Debug("dropping unparseable frame", logging.Error(err))
		return
	}

	var topic string
	if raw, ok := probe[c.config.TopicField]; ok {
		_ = json.Unmarshal(raw, &topic)
	}
	if topic == "" {
		return
	}

	c.handlersMu.RLock()
	handler, exists := c.handlers[topic]
	c.handlersMu.RUnlock()
	if !exists {
		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("handler panic recovered",
					logging.String("topic", topic),
					logging.String("panic", fmt.Sprintf("%v", r)),
				)
			}
		}()
		handler(message)
	}()
}

// heartbeat sends periodic pings to keep the connection alive.
func (c *connector) heartbeat() {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			if !c.connected {
				c.writeMu.Unlock()
				return
			}
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// reconnect re-establishes a dropped connection with backoff and then
// runs the OnReconnect hook so the owner can re-subscribe server-side.
func (c *connector) reconnect() {
	c.reconnectMu.Lock()
	if c.reconnecting {
		c.reconnectMu.Unlock()
		return
	}
	c.reconnecting = true
	c.reconnectMu.Unlock()

	defer func() {
		c.reconnectMu.Lock()
		c.reconnecting = false
		c.reconnectMu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	c.metricsMu.Lock()
	c.metrics.ReconnectCount++
	c.metricsMu.Unlock()

	err := retry.Do(
		func() error {
			if ctx.Err() != nil {
				return retry.Unrecoverable(ctx.Err())
			}
			return c.Connect(ctx)
		},
		retry.Attempts(uint(c.config.MaxRetries)),
		retry.Delay(c.config.ReconnectInterval),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("reconnection attempt failed",
				logging.Int("attempt", int(n)+1),
				logging.Error(err))
		}),
	)
	if err != nil {
		c.logger.Error("reconnection failed", logging.Error(err))
		c.countError()
		return
	}

	c.logger.Info("reconnection successful")
	if c.config.OnReconnect != nil {
		c.config.OnReconnect()
	}
}

// Subscribe implements WSConnector interface
func (c *connector) Subscribe(topic string, handler MessageHandler) error {
	if !c.IsConnected() {
		return fmt.Errorf("websocket not connected")
	}

	c.handlersMu.Lock()
	c.handlers[topic] = handler
	c.handlersMu.Unlock()
	return nil
}

// Unsubscribe implements WSConnector interface
func (c *connector) Unsubscribe(topic string) error {
	c.handlersMu.Lock()
	delete(c.handlers, topic)
	c.handlersMu.Unlock()
	return nil
}

// Send implements WSConnector interface
func (c *connector) Send(message interface{}) error {
	if !c.connected {
		return fmt.Errorf("websocket not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if data, ok := message.([]byte); ok {
		return c.conn.WriteMessage(websocket.TextMessage, data)
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// IsConnected implements WSConnector interface
func (c *connector) IsConnected() bool {
	return c.connected
}

// Close implements WSConnector interface
func (c *connector) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.doneMu.Lock()
	wasClosed := c.closed
	if !c.closed && c.done != nil {
		close(c.done)
		c.closed = true
	}
	c.doneMu.Unlock()

	if wasClosed {
		return nil
	}

	c.connected = false

	if c.conn != nil {
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closed connection"))

		// Give the close frame a moment on the wire.
		time.Sleep(100 * time.Millisecond)

		err := c.conn.Close()
		if err != nil && !strings.Contains(err.Error(), "use of closed network connection") {
			return err
		}
	}

	return nil
}

func (c *connector) countError() {
	c.metricsMu.Lock()
	c.metrics.ErrorCount++
	c.metricsMu.Unlock()
}
