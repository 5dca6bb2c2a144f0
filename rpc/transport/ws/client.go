package ws

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/snowflake-kv/sfdash/rpc/common"
	"github.com/snowflake-kv/sfdash/rpc/transport"
)

var Logger = logger.GetLogger("transport/ws")

// closeGracePeriod bounds how long Close waits for the close frame to be written
const closeGracePeriod = time.Second

// --------------------------------------------------------------------------
// Transport Factory Methods
// --------------------------------------------------------------------------

// NewWSClientTransport creates a new, unconnected WebSocket transport
func NewWSClientTransport(config common.ClientConfig) transport.IClientTransport {
	return &wsClientTransport{
		id:     uuid.NewString(),
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.Timeout(),
		},
	}
}

// NewDialer returns a transport.Dialer creating WebSocket transports for config
func NewDialer(config common.ClientConfig) transport.Dialer {
	return func() transport.IClientTransport {
		return NewWSClientTransport(config)
	}
}

type wsClientTransport struct {
	id       string
	config   common.ClientConfig
	dialer   *websocket.Dialer
	listener transport.Listener

	mu      sync.Mutex // Protects conn, cancel and all writes
	conn    *websocket.Conn
	cancel  context.CancelFunc
	started bool

	closed   atomic.Bool
	doneOnce sync.Once
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IClientTransport)
// --------------------------------------------------------------------------

func (t *wsClientTransport) Connect(rawURL string, l transport.Listener) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return fmt.Errorf("transport %s was already connected", t.id)
	}
	if t.closed.Load() {
		return fmt.Errorf("transport %s is closed", t.id)
	}

	t.started = true
	t.listener = l

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	go t.run(ctx, rawURL)
	return nil
}

func (t *wsClientTransport) Send(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil || t.closed.Load() {
		return transport.ErrNotOpen
	}

	if err := t.conn.SetWriteDeadline(time.Now().Add(t.config.Timeout())); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

func (t *wsClientTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}

	t.mu.Lock()
	conn, cancel := t.conn, t.cancel
	t.mu.Unlock()

	// Abort a running handshake
	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return nil
	}

	Logger.Debugf("Closing transport %s", t.id)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod)); err != nil {
		Logger.Debugf("Transport %s: failed to write close frame: %v", t.id, err)
	}
	return conn.Close()
}

func (t *wsClientTransport) ID() string {
	return t.id
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// run dials the server and reads frames until the connection ends
func (t *wsClientTransport) run(ctx context.Context, rawURL string) {
	Logger.Debugf("Transport %s: dialing %s", t.id, redactURL(rawURL))

	conn, _, err := t.dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		if t.closed.Load() {
			t.finish(nil)
			return
		}
		err = fmt.Errorf("failed to connect to %s: %w", redactURL(rawURL), err)
		Logger.Warningf("Transport %s: %v", t.id, err)
		t.fail(err)
		return
	}

	t.mu.Lock()
	if t.closed.Load() {
		t.mu.Unlock()
		conn.Close()
		t.finish(nil)
		return
	}
	t.conn = conn
	t.mu.Unlock()

	Logger.Infof("Transport %s: connected to %s", t.id, redactURL(rawURL))
	if t.listener.OnOpen != nil {
		t.listener.OnOpen()
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			switch {
			case t.closed.Load():
				t.finish(nil)
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				Logger.Infof("Transport %s: server closed the connection", t.id)
				t.closed.Store(true)
				conn.Close()
				t.finish(nil)
			default:
				Logger.Warningf("Transport %s: read failed: %v", t.id, err)
				t.closed.Store(true)
				conn.Close()
				t.fail(fmt.Errorf("connection lost: %w", err))
			}
			return
		}

		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		if t.listener.OnMessage != nil {
			t.listener.OnMessage(data)
		}
	}
}

// fail reports err and closes the transport
func (t *wsClientTransport) fail(err error) {
	if t.listener.OnError != nil {
		t.listener.OnError(err)
	}
	t.finish(err)
}

// finish reports the close event exactly once
func (t *wsClientTransport) finish(err error) {
	t.doneOnce.Do(func() {
		t.mu.Lock()
		if t.cancel != nil {
			t.cancel()
		}
		t.mu.Unlock()

		if t.listener.OnClose != nil {
			t.listener.OnClose(err)
		}
	})
}

// redactURL strips the query (holding the access token) from a socket url
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}
	u.RawQuery = ""
	return u.String()
}
