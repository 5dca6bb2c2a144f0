package testing

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/snowflake-kv/sfdash/rpc/common"
)

// --------------------------------------------------------------------------
// Scripted replies
// --------------------------------------------------------------------------

// Reply describes how the backend answers one request
type Reply struct {
	Success bool
	Data    any           // Sent as the data object, nil becomes {}
	Delay   time.Duration // Answer after this delay (without blocking other requests)
	Drop    bool          // Never answer
}

// HandlerFunc answers the requests of one endpoint
type HandlerFunc func(req common.Request) Reply

// OK is a shortcut for a successful reply
func OK(data any) Reply {
	return Reply{Success: true, Data: data}
}

// Fail is a shortcut for a failed reply carrying a message id
func Fail(msgID, msg string) Reply {
	return Reply{Success: false, Data: map[string]any{"msgId": msgID, "msg": msg}}
}

// --------------------------------------------------------------------------
// Backend
// --------------------------------------------------------------------------

// Backend is a scripted dashboard socket server running on a local port.
// Every connection receives the configured accepted action and the replies of
// the registered handlers.
type Backend struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu        sync.Mutex
	handlers  map[string]HandlerFunc
	accepted  *common.AcceptedPayload
	authorize func(token string) bool
	conns     map[*backendConn]struct{}
	tokens    []string
	requests  []common.Request
	connected chan struct{}
}

type backendConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *backendConn) write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// NewBackend starts a new backend. Close it when the test is done.
func NewBackend() *Backend {
	b := &Backend{
		handlers:  make(map[string]HandlerFunc),
		conns:     make(map[*backendConn]struct{}),
		connected: make(chan struct{}, 64),
	}
	b.server = httptest.NewServer(http.HandlerFunc(b.serve))
	return b
}

// Close stops the server and drops all connections
func (b *Backend) Close() {
	b.CloseConnections()
	b.server.Close()
}

// Config returns a client configuration pointing at the backend
func (b *Backend) Config() common.ClientConfig {
	u, _ := url.Parse(b.server.URL)
	host, portStr, _ := net.SplitHostPort(u.Host)
	port, _ := strconv.Atoi(portStr)
	return common.ClientConfig{
		Host:               host,
		Port:               port,
		TimeoutMillisecond: 2000,
	}
}

// Handle registers the handler of an endpoint (replacing an existing one)
func (b *Backend) Handle(endpoint string, fn HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[endpoint] = fn
}

// SetAccepted configures the accepted action sent to every new connection.
// Without it the backend never completes the handshake.
func (b *Backend) SetAccepted(info common.AppInfo, access *common.AccessData) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accepted = &common.AcceptedPayload{Info: info, Access: access}
}

// Authorize sets the function deciding which tokens may connect.
// Rejected tokens fail the websocket handshake with 401.
func (b *Backend) Authorize(fn func(token string) bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.authorize = fn
}

// Push sends an unsolicited message (no requestId) to every connection
func (b *Backend) Push(data any) error {
	frame, err := json.Marshal(map[string]any{"success": true, "data": orEmpty(data)})
	if err != nil {
		return err
	}
	b.SendRaw(frame)
	return nil
}

// SendAction sends a control action to every connection
func (b *Backend) SendAction(action string, data any) error {
	frame, err := json.Marshal(map[string]any{
		"success":   true,
		"requestId": common.ControlPrefix + action,
		"data":      orEmpty(data),
	})
	if err != nil {
		return err
	}
	b.SendRaw(frame)
	return nil
}

// SendRaw writes an arbitrary frame to every connection
func (b *Backend) SendRaw(frame []byte) {
	for _, c := range b.snapshot() {
		c.write(frame)
	}
}

// CloseConnections closes all connections abruptly (without a close frame)
func (b *Backend) CloseConnections() {
	b.mu.Lock()
	conns := b.conns
	b.conns = make(map[*backendConn]struct{})
	b.mu.Unlock()

	for c := range conns {
		c.conn.Close()
	}
}

// Connections returns the number of open connections
func (b *Backend) Connections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// WaitConnected blocks until a new connection was accepted or the timeout expired
func (b *Backend) WaitConnected(timeout time.Duration) bool {
	select {
	case <-b.connected:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Tokens returns the tokens of all connection attempts in order
func (b *Backend) Tokens() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.tokens...)
}

// Requests returns all received requests in order
func (b *Backend) Requests() []common.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]common.Request(nil), b.requests...)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (b *Backend) snapshot() []*backendConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	conns := make([]*backendConn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	return conns
}

func (b *Backend) serve(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	b.mu.Lock()
	b.tokens = append(b.tokens, token)
	authorize := b.authorize
	b.mu.Unlock()

	if authorize != nil && !authorize(token) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &backendConn{conn: ws}
	b.mu.Lock()
	b.conns[c] = struct{}{}
	accepted := b.accepted
	b.mu.Unlock()

	select {
	case b.connected <- struct{}{}:
	default:
	}

	if accepted != nil {
		frame, _ := json.Marshal(map[string]any{
			"success":   true,
			"requestId": common.ControlPrefix + common.ActionAccepted,
			"data":      accepted,
		})
		c.write(frame)
	}

	defer func() {
		b.mu.Lock()
		delete(b.conns, c)
		b.mu.Unlock()
		ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var req common.Request
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}

		b.mu.Lock()
		b.requests = append(b.requests, req)
		handler, ok := b.handlers[req.Endpoint]
		b.mu.Unlock()

		reply := Fail("unknown_endpoint", fmt.Sprintf("unknown endpoint %q", req.Endpoint))
		if ok {
			reply = handler(req)
		}
		if reply.Drop {
			continue
		}

		frame, err := json.Marshal(map[string]any{
			"success":   reply.Success,
			"requestId": req.RequestID,
			"data":      orEmpty(reply.Data),
		})
		if err != nil {
			continue
		}

		if reply.Delay > 0 {
			time.AfterFunc(reply.Delay, func() { c.write(frame) })
			continue
		}
		c.write(frame)
	}
}

func orEmpty(data any) any {
	if data == nil {
		return map[string]any{}
	}
	return data
}

// Field returns a top level field of the request data
func Field(req common.Request, key string) any {
	if m, ok := req.Data.(map[string]any); ok {
		return m[key]
	}
	return nil
}
