package transport

import "errors"

// ErrNotOpen is returned by Send while the transport has no open connection
var ErrNotOpen = errors.New("transport is not open")

// --------------------------------------------------------------------------
// Transport events
// --------------------------------------------------------------------------

// Listener receives the events of one transport instance. Every callback is
// optional. Callbacks are invoked from the goroutine owned by the transport
// and must not block for long.
type Listener struct {
	// OnOpen is called once the connection is established
	OnOpen func()
	// OnMessage is called for every inbound frame
	OnMessage func(frame []byte)
	// OnError is called when the connection fails. OnClose always follows.
	OnError func(err error)
	// OnClose is called exactly once when the connection has ended.
	// err is nil for a clean or locally requested close.
	OnClose func(err error)
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IClientTransport is a single persistent, message oriented connection to
// the dashboard socket. An instance is used for one connection only.
type IClientTransport interface {
	// Connect starts connecting to url and returns immediately.
	// The outcome is reported through the listener.
	Connect(url string, l Listener) error
	// Send writes one frame. It fails with ErrNotOpen before OnOpen and after Close.
	Send(frame []byte) error
	// Close closes the connection. It is safe to call more than once.
	Close() error
	// ID returns the unique id of this transport instance (used in logs)
	ID() string
}

// Dialer creates a fresh, unconnected transport instance
type Dialer func() IClientTransport
