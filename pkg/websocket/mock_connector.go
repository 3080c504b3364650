package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MockConnector is a WSConnector test double. It records every call,
// captures sent messages and can be told to fail any operation.
type MockConnector struct {
	mu sync.RWMutex

	connected bool
	handlers  map[string]MessageHandler
	config    Config

	connectCalls     int
	subscribeCalls   map[string]int
	unsubscribeCalls map[string]int
	closeCalls       int
	sent             [][]byte

	connectErr     error
	subscribeErr   error
	unsubscribeErr error
	sendErr        error
	closeErr       error
}

// NewMockConnector creates a mock that starts connected, so feeds built
// around it can subscribe immediately.
func NewMockConnector() *MockConnector {
	return &MockConnector{
		connected:        true,
		handlers:         make(map[string]MessageHandler),
		subscribeCalls:   make(map[string]int),
		unsubscribeCalls: make(map[string]int),
		config: Config{
			URL:               "ws://mock-server.test",
			HeartbeatInterval: 20 * time.Second,
			ReconnectInterval: 5 * time.Second,
			MaxRetries:        3,
			TopicField:        "type",
		},
	}
}

// Connect implements WSConnector.
func (m *MockConnector) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connectCalls++
	if m.connectErr != nil {
		return m.connectErr
	}
	m.connected = true
	return nil
}

// Close implements WSConnector.
func (m *MockConnector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeCalls++
	if m.closeErr != nil {
		return m.closeErr
	}
	m.connected = false
	return nil
}

// Subscribe implements WSConnector.
func (m *MockConnector) Subscribe(topic string, handler MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.subscribeCalls[topic]++
	if m.subscribeErr != nil {
		return m.subscribeErr
	}
	m.handlers[topic] = handler
	return nil
}

// Unsubscribe implements WSConnector.
func (m *MockConnector) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.unsubscribeCalls[topic]++
	if m.unsubscribeErr != nil {
		return m.unsubscribeErr
	}
	delete(m.handlers, topic)
	return nil
}

// Send implements WSConnector. Non-byte messages are marshaled to JSON
// before capture, matching the real connector's wire behavior.
func (m *MockConnector) Send(message interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sendErr != nil {
		return m.sendErr
	}

	data, ok := message.([]byte)
	if !ok {
		var err error
		data, err = json.Marshal(message)
		if err != nil {
			return err
		}
	}
	m.sent = append(m.sent, data)
	return nil
}

// IsConnected implements WSConnector.
func (m *MockConnector) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// SimulateMessage delivers a frame to the handler registered for topic,
// as if it had arrived on the wire.
func (m *MockConnector) SimulateMessage(topic string, message []byte) {
	m.mu.RLock()
	handler, ok := m.handlers[topic]
	m.mu.RUnlock()
	if ok {
		handler(message)
	}
}

// SetConnectError makes Connect fail with err.
func (m *MockConnector) SetConnectError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectErr = err
}

// SetSubscribeError makes Subscribe fail with err.
func (m *MockConnector) SetSubscribeError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribeErr = err
}

// SetUnsubscribeError makes Unsubscribe fail with err.
func (m *MockConnector) SetUnsubscribeError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribeErr = err
}

// SetSendError makes Send fail with err.
func (m *MockConnector) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// SetCloseError makes Close fail with err.
func (m *MockConnector) SetCloseError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeErr = err
}

// SetDisconnected marks the mock as not connected.
func (m *MockConnector) SetDisconnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

// ConnectCalls returns how many times Connect was called.
func (m *MockConnector) ConnectCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connectCalls
}

// SubscribeCalls returns how many times Subscribe was called for topic.
func (m *MockConnector) SubscribeCalls(topic string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.subscribeCalls[topic]
}

// UnsubscribeCalls returns how many times Unsubscribe was called for
// topic.
func (m *MockConnector) UnsubscribeCalls(topic string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unsubscribeCalls[topic]
}

// CloseCalls returns how many times Close was called.
func (m *MockConnector) CloseCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closeCalls
}

// Sent returns a copy of every message passed to Send, in order.
func (m *MockConnector) Sent() [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]byte, len(m.sent))
	copy(out, m.sent)
	return out
}
