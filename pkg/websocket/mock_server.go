package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// MockServer is an in-process WebSocket server for tests. It tracks
// connections, buffers received messages and can simulate rejected or
// dropped connections. Exchange feed tests point their WSURL at it.
type MockServer struct {
	server *httptest.Server
	url    string

	mu          sync.RWMutex
	connections map[*websocket.Conn]bool
	received    [][]byte
	onConnect   func(*websocket.Conn)
	onMessage   func(*websocket.Conn, []byte)
	reject      bool
	drop        bool
	echo        bool
}

// NewMockServer starts a server that accepts WebSocket upgrades and
// echoes text frames back by default.
func NewMockServer() *MockServer {
	m := &MockServer{
		connections: make(map[*websocket.Conn]bool),
		echo:        true,
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	m.url = "ws" + strings.TrimPrefix(m.server.URL, "http")
	return m
}

// URL returns the ws:// address of the server.
func (m *MockServer) URL() string {
	return m.url
}

// Close shuts the server down.
func (m *MockServer) Close() {
	m.server.Close()
}

// SetRejectConnection makes the server refuse upgrades when set.
func (m *MockServer) SetRejectConnection(reject bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reject = reject
}

// SetDropConnection makes the server close live connections when set.
func (m *MockServer) SetDropConnection(drop bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drop = drop
}

// SetEcho controls whether received frames are echoed back.
func (m *MockServer) SetEcho(echo bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.echo = echo
}

// OnConnect registers a callback invoked for each new connection.
func (m *MockServer) OnConnect(fn func(*websocket.Conn)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnect = fn
}

// OnMessage registers a callback invoked for each received frame.
func (m *MockServer) OnMessage(fn func(*websocket.Conn, []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onMessage = fn
}

// Broadcast writes a text frame to every connected client.
func (m *MockServer) Broadcast(message []byte) {
	m.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(m.connections))
	for conn := range m.connections {
		conns = append(conns, conn)
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			m.removeConnection(conn)
		}
	}
}

// ConnectionCount returns the number of live connections.
func (m *MockServer) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// Received returns a copy of every frame the server has read so far.
func (m *MockServer) Received() [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]byte, len(m.received))
	copy(out, m.received)
	return out
}

// ClearReceived drops the buffered frames.
func (m *MockServer) ClearReceived() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = nil
}

func (m *MockServer) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	reject := m.reject
	onConnect := m.onConnect
	m.mu.RUnlock()

	if reject {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	m.mu.Lock()
	m.connections[conn] = true
	m.mu.Unlock()
	if onConnect != nil {
		onConnect(conn)
	}

	defer func() {
		m.removeConnection(conn)
		conn.Close()
	}()

	for {
		m.mu.RLock()
		drop := m.drop
		m.mu.RUnlock()
		if drop {
			return
		}

		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		m.mu.Lock()
		m.received = append(m.received, message)
		onMessage := m.onMessage
		echo := m.echo
		m.mu.Unlock()

		if onMessage != nil {
			onMessage(conn, message)
		}
		if echo {
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		}
	}
}

func (m *MockServer) removeConnection(conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.connections, conn)
}

func setupMockServer(t *testing.T) (*MockServer, string) {
	t.Helper()
	mock := NewMockServer()
	t.Cleanup(mock.Close)
	return mock, mock.URL()
}
