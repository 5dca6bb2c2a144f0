package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/snowflake-kv/sfdash/lib/access"
	"github.com/snowflake-kv/sfdash/lib/eventbus"
	"github.com/snowflake-kv/sfdash/rpc/client"
	"github.com/snowflake-kv/sfdash/rpc/common"
	"github.com/snowflake-kv/sfdash/rpc/serializer"
	"github.com/snowflake-kv/sfdash/rpc/transport"
)

var Logger = logger.GetLogger("session")

var (
	// ErrNoCredential is returned when an operation needs a credential and none is set
	ErrNoCredential = errors.New("no credential")
	// ErrAccessDenied is returned by WaitReady when the grant lacks the control panel capability
	ErrAccessDenied = errors.New("access denied: the credential has no control panel access")
	// ErrDisconnected is returned by WaitReady when the server closed the connection
	ErrDisconnected = errors.New("disconnected")
	// ErrConnectionFailed is returned by WaitReady when the transport reported an error
	ErrConnectionFailed = errors.New("connection failed")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("session closed")
)

// --------------------------------------------------------------------------
// Lifecycle states
// --------------------------------------------------------------------------

// State is the lifecycle state of the connection
type State uint8

const (
	StateInit State = iota
	StateConnecting
	StateConnected
	StateDisconnecting // Enumerated, never entered
	StateDisconnected
	StateError
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnecting:
		return "DISCONNECTING"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// StateChange is the payload of eventbus.KindStateChanged
type StateChange struct {
	Previous State
	Current  State
}

// --------------------------------------------------------------------------
// Controller
// --------------------------------------------------------------------------

// connection is one transport instance together with its multiplexer
type connection struct {
	gen       uint64
	transport transport.IClientTransport
	helper    *client.SocketHelper
	errored   bool // An error was reported, the following close must not report DISCONNECTED
	accepted  bool // The accepted action carried a grant
}

// Controller owns the connection to the dashboard socket. It connects when a
// credential is available, replaces the transport on every reconnect and
// keeps the store in sync with the handshake and the connection state.
type Controller struct {
	config           common.ClientConfig
	dial             transport.Dialer
	serializer       serializer.IRPCSerializer
	bus              *eventbus.Bus
	store            *Store
	removeCredential func() error

	mu        sync.Mutex
	state     State
	firstLoad bool
	gen       uint64
	conn      *connection
	lastErr   error
	closed    bool
	changed   chan struct{} // Closed and replaced on every change
	subs      []*eventbus.Subscription
}

// New creates a new controller. removeCredential deletes the persisted
// credential on Logout and may be nil.
func New(
	config common.ClientConfig,
	dial transport.Dialer,
	s serializer.IRPCSerializer,
	bus *eventbus.Bus,
	store *Store,
	removeCredential func() error,
) *Controller {
	c := &Controller{
		config:           config,
		dial:             dial,
		serializer:       s,
		bus:              bus,
		store:            store,
		removeCredential: removeCredential,
		state:            StateInit,
		firstLoad:        true,
		changed:          make(chan struct{}),
	}

	c.subs = []*eventbus.Subscription{
		bus.Subscribe(eventbus.KindActionReceived, c.handleAction),
		bus.Subscribe(eventbus.KindMessageReceived, func(e eventbus.Event) {
			Logger.Debugf("Received push message: %s", e.Envelope.Data)
		}),
	}
	return c
}

// Start connects if a credential is present
func (c *Controller) Start() error {
	if _, ok := c.store.Credential(); !ok {
		Logger.Infof("No credential present, waiting for credential entry")
		return nil
	}
	return c.connect()
}

// SetCredential stores a new credential and reconnects if it changed
func (c *Controller) SetCredential(token string) error {
	if !c.store.setCredential(token) {
		return nil
	}
	return c.connect()
}

// ClearCredential removes the credential and tears the connection down.
// The controller returns to INIT and waits for a new credential.
func (c *Controller) ClearCredential() {
	c.store.clearCredential()

	c.mu.Lock()
	old := c.detachLocked()
	c.store.reset()
	c.lastErr = nil
	change, ok := c.setStateLocked(StateInit)
	c.mu.Unlock()

	c.teardown(old)
	c.publish(change, ok)
}

// Reconnect replaces the transport with a fresh one.
// It fails with ErrNoCredential while no credential is present.
func (c *Controller) Reconnect() error {
	if _, ok := c.store.Credential(); !ok {
		return ErrNoCredential
	}
	return c.connect()
}

// Logout removes the persisted credential and tears the connection down
func (c *Controller) Logout() error {
	var err error
	if c.removeCredential != nil {
		if err = c.removeCredential(); err != nil {
			err = fmt.Errorf("failed to remove credential: %w", err)
		}
	}
	c.ClearCredential()
	return err
}

// Close unsubscribes from the bus and closes the connection. The controller
// can not be used afterwards.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	old := c.detachLocked()
	c.notifyLocked()
	c.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	c.teardown(old)
	return nil
}

// --------------------------------------------------------------------------
// Readers
// --------------------------------------------------------------------------

// State returns the current lifecycle state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// FirstLoad is true until the first transport opened
func (c *Controller) FirstLoad() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.firstLoad
}

// Err returns the error of the last failed transport, if any
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Store returns the session store
func (c *Controller) Store() *Store {
	return c.store
}

// Helper returns the multiplexer of the current transport, nil if there is none
func (c *Controller) Helper() *client.SocketHelper {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.helper
}

// NeedsCredential is true while no credential is present
func (c *Controller) NeedsCredential() bool {
	_, ok := c.store.Credential()
	return !ok
}

// Ready reports whether dependent content may be shown: a transport opened
// at least once and the application metadata is loaded.
func (c *Controller) Ready() bool {
	c.mu.Lock()
	firstLoad := c.firstLoad
	c.mu.Unlock()

	_, infoState := c.store.AppInfo()
	return !firstLoad && infoState == LoadLoaded
}

// WaitReady blocks until the session is ready or can not become ready
// without user interaction (missing credential, error, disconnect, denied
// access, Close).
func (c *Controller) WaitReady(ctx context.Context) error {
	for {
		if c.Ready() {
			return nil
		}

		c.mu.Lock()
		state, lastErr, closed, changed := c.state, c.lastErr, c.closed, c.changed
		accepted := c.conn != nil && c.conn.accepted
		c.mu.Unlock()

		switch {
		case closed:
			return ErrClosed
		case c.NeedsCredential():
			return ErrNoCredential
		case state == StateError:
			return fmt.Errorf("%w: %v", ErrConnectionFailed, lastErr)
		case state == StateDisconnected:
			return ErrDisconnected
		case accepted && !c.store.Grant().HasAccess(access.ControlPanel):
			return ErrAccessDenied
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// --------------------------------------------------------------------------
// Request forwarding (implements client.IFetcher)
// --------------------------------------------------------------------------

// Fetch issues a request on the current transport
func (c *Controller) Fetch(ctx context.Context, endpoint string, data any, timeout ...time.Duration) (*common.Envelope, error) {
	h := c.Helper()
	if h == nil {
		return nil, client.ErrNotConnected
	}
	return h.Fetch(ctx, endpoint, data, timeout...)
}

// FetchWithMinDelay issues a request with a latency floor on the current transport
func (c *Controller) FetchWithMinDelay(ctx context.Context, endpoint string, data any, minDelay time.Duration) (*common.Envelope, error) {
	h := c.Helper()
	if h == nil {
		return nil, client.ErrNotConnected
	}
	return h.FetchWithMinDelay(ctx, endpoint, data, minDelay)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// connect supersedes the current transport with a new one
func (c *Controller) connect() error {
	token, ok := c.store.Credential()
	if !ok {
		return ErrNoCredential
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	old := c.detachLocked()
	if old != nil {
		// the handshake has to be repeated on the new transport
		c.store.revoke()
	}

	t := c.dial()
	conn := &connection{
		gen:       c.gen,
		transport: t,
		helper:    client.NewSocketHelper(t, c.serializer, c.bus, c.config),
	}
	c.conn = conn
	c.lastErr = nil
	change, changed := c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	c.teardown(old)
	c.publish(change, changed)

	Logger.Infof("Connecting transport %s to %s:%d", t.ID(), c.config.Host, c.config.Port)

	gen := conn.gen
	err := t.Connect(c.config.URL(token), transport.Listener{
		OnOpen: func() { c.onOpen(gen) },
		OnMessage: func(frame []byte) {
			if c.isCurrent(gen) {
				conn.helper.HandleFrame(frame)
			}
		},
		OnError: func(err error) { c.onError(gen, err) },
		OnClose: func(err error) { c.onClose(gen) },
	})
	if err != nil {
		err = fmt.Errorf("failed to connect transport %s: %w", t.ID(), err)
		c.onError(gen, err)
		c.onClose(gen)
		return err
	}
	return nil
}

func (c *Controller) onOpen(gen uint64) {
	c.mu.Lock()
	if !c.isCurrentLocked(gen) {
		c.mu.Unlock()
		return
	}
	c.firstLoad = false
	change, changed := c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.publish(change, changed)
}

func (c *Controller) onError(gen uint64, err error) {
	c.mu.Lock()
	if !c.isCurrentLocked(gen) {
		c.mu.Unlock()
		return
	}
	c.conn.errored = true
	c.lastErr = err
	helper := c.conn.helper
	c.store.revoke()
	change, changed := c.setStateLocked(StateError)
	c.mu.Unlock()

	Logger.Warningf("Connection failed: %v", err)
	helper.Close()
	c.publish(change, changed)
}

func (c *Controller) onClose(gen uint64) {
	c.mu.Lock()
	if !c.isCurrentLocked(gen) {
		c.mu.Unlock()
		return
	}
	helper := c.conn.helper
	c.store.revoke()

	// an error takes precedence over the close of the same transport
	var change StateChange
	changed := false
	if !c.conn.errored {
		change, changed = c.setStateLocked(StateDisconnected)
	} else {
		c.notifyLocked()
	}
	c.mu.Unlock()

	helper.Close()
	c.publish(change, changed)
}

// handleAction processes control actions. Actions of other transports
// sharing the bus, superseded ones included, are ignored.
func (c *Controller) handleAction(e eventbus.Event) {
	if e.Action != common.ActionAccepted {
		Logger.Debugf("Ignoring control action %q", e.Action)
		return
	}

	var payload common.AcceptedPayload
	if e.Envelope != nil {
		if err := e.Envelope.DecodeData(&payload); err != nil {
			Logger.Warningf("Failed to decode accepted action: %v", err)
			return
		}
	}
	if payload.Access == nil {
		Logger.Warningf("Accepted action without access grant")
		return
	}

	grant := access.NewGrant(payload.Access)

	c.mu.Lock()
	if c.conn == nil || c.closed || c.conn.transport.ID() != e.TransportID {
		c.mu.Unlock()
		Logger.Debugf("Ignoring accepted action of transport %s", e.TransportID)
		return
	}
	c.conn.accepted = true
	c.store.setGrant(grant)
	if grant.HasAccess(access.ControlPanel) {
		c.store.markLoaded(payload.Info)
		Logger.Infof("Handshake completed: %s %s as %q", payload.Info.Name, payload.Info.Version, grant.Alias())
	} else {
		Logger.Warningf("Handshake completed without control panel access for %q", grant.Alias())
	}
	c.notifyLocked()
	c.mu.Unlock()
}

// detachLocked invalidates the current connection and returns it for teardown
func (c *Controller) detachLocked() *connection {
	c.gen++
	old := c.conn
	c.conn = nil
	return old
}

// teardown closes a detached connection. Its events are ignored from now on.
func (c *Controller) teardown(old *connection) {
	if old == nil {
		return
	}
	old.helper.Close()
	if err := old.transport.Close(); err != nil {
		Logger.Debugf("Failed to close transport %s: %v", old.transport.ID(), err)
	}
}

func (c *Controller) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isCurrentLocked(gen)
}

func (c *Controller) isCurrentLocked(gen uint64) bool {
	return c.conn != nil && c.conn.gen == gen && !c.closed
}

// setStateLocked changes the state and wakes up waiters
func (c *Controller) setStateLocked(s State) (StateChange, bool) {
	change := StateChange{Previous: c.state, Current: s}
	c.notifyLocked()
	if c.state == s {
		return change, false
	}
	c.state = s
	return change, true
}

func (c *Controller) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// publish announces a state change on the bus (must be called without holding mu)
func (c *Controller) publish(change StateChange, changed bool) {
	if !changed {
		return
	}
	Logger.Infof("State %s -> %s", change.Previous, change.Current)
	c.bus.Publish(eventbus.Event{Kind: eventbus.KindStateChanged, Payload: change})
}
