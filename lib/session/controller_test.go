package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/snowflake-kv/sfdash/lib/access"
	"github.com/snowflake-kv/sfdash/lib/eventbus"
	"github.com/snowflake-kv/sfdash/rpc/client"
	"github.com/snowflake-kv/sfdash/rpc/common"
	"github.com/snowflake-kv/sfdash/rpc/serializer"
	"github.com/snowflake-kv/sfdash/rpc/transport"
)

// --------------------------------------------------------------------------
// Scripted transport (events are triggered by the test)
// --------------------------------------------------------------------------

type scriptedTransport struct {
	id string

	mu       sync.Mutex
	listener transport.Listener
	url      string
	closed   bool
	sent     []common.Request
}

func (s *scriptedTransport) Connect(url string, l transport.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.url = url
	s.listener = l
	return nil
}

func (s *scriptedTransport) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return transport.ErrNotOpen
	}
	var req common.Request
	if err := json.Unmarshal(frame, &req); err != nil {
		return err
	}
	s.sent = append(s.sent, req)
	return nil
}

func (s *scriptedTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *scriptedTransport) ID() string { return s.id }

func (s *scriptedTransport) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *scriptedTransport) open()             { s.listener.OnOpen() }
func (s *scriptedTransport) message(f string)  { s.listener.OnMessage([]byte(f)) }
func (s *scriptedTransport) fail(err error)    { s.listener.OnError(err) }
func (s *scriptedTransport) close()            { s.listener.OnClose(nil) }
func (s *scriptedTransport) closeWith(e error) { s.listener.OnClose(e) }

const acceptedFrame = `{"success":true,"requestId":":accepted","data":{` +
	`"info":{"name":"Snowflake","version":"1.2.0","encryption":true,"monitor":true,"cliPort":6402},` +
	`"access":{"alias":"admin","permissions":["control_panel","db_read"]}}}`

const acceptedNoPanelFrame = `{"success":true,"requestId":":accepted","data":{` +
	`"info":{"name":"Snowflake"},"access":{"alias":"reader","permissions":["db_read"]}}}`

// fixture bundles a controller with its scripted transports
type fixture struct {
	c          *Controller
	bus        *eventbus.Bus
	store      *Store
	mu         sync.Mutex
	transports []*scriptedTransport
	states     []State
	removed    int
}

func newFixture(t *testing.T, store *Store) *fixture {
	t.Helper()
	return newFixtureOnBus(t, store, eventbus.New(), "t")
}

// newFixtureOnBus creates a fixture publishing on bus. Transport ids are
// prefix followed by the dial count.
func newFixtureOnBus(t *testing.T, store *Store, bus *eventbus.Bus, prefix string) *fixture {
	t.Helper()
	f := &fixture{bus: bus, store: store}

	dial := func() transport.IClientTransport {
		f.mu.Lock()
		defer f.mu.Unlock()
		tr := &scriptedTransport{id: fmt.Sprintf("%s%d", prefix, len(f.transports)+1)}
		f.transports = append(f.transports, tr)
		return tr
	}

	f.bus.Subscribe(eventbus.KindStateChanged, func(e eventbus.Event) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.states = append(f.states, e.Payload.(StateChange).Current)
	})

	cfg := common.ClientConfig{Host: "db.local", Port: 6401, TimeoutMillisecond: 2000}
	f.c = New(cfg, dial, serializer.NewJSONSerializer(), f.bus, store, func() error {
		f.removed++
		return nil
	})
	t.Cleanup(func() { f.c.Close() })
	return f
}

func (f *fixture) transport(i int) *scriptedTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transports[i]
}

func (f *fixture) dialed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transports)
}

func (f *fixture) stateLog() []State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]State(nil), f.states...)
}

func equalStates(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestStartWithoutCredential(t *testing.T) {
	f := newFixture(t, NewStore())

	if err := f.c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if f.dialed() != 0 {
		t.Errorf("dialed without credential")
	}
	if f.c.State() != StateInit || !f.c.NeedsCredential() {
		t.Errorf("expected INIT waiting for a credential, got %s", f.c.State())
	}
	if o := f.c.Overlay(); !o.Open || !o.NeedsCredential {
		t.Errorf("expected credential prompt, got %+v", o)
	}
	if err := f.c.Reconnect(); !errors.Is(err, ErrNoCredential) {
		t.Errorf("Reconnect() = %v, want ErrNoCredential", err)
	}
	if err := f.c.WaitReady(context.Background()); !errors.Is(err, ErrNoCredential) {
		t.Errorf("WaitReady() = %v, want ErrNoCredential", err)
	}
	if _, err := f.c.Fetch(context.Background(), "get", nil); !errors.Is(err, client.ErrNotConnected) {
		t.Errorf("Fetch() = %v, want ErrNotConnected", err)
	}
}

func TestHandshake(t *testing.T) {
	f := newFixture(t, NewStoreWithCredential("a b"))

	if err := f.c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	tr := f.transport(0)
	if tr.url != "ws://db.local:6401?token=a+b" {
		t.Errorf("unexpected url %s", tr.url)
	}
	if f.c.State() != StateConnecting || !f.c.FirstLoad() {
		t.Errorf("expected CONNECTING on first load, got %s", f.c.State())
	}
	if o := f.c.Overlay(); !o.Open || o.Status != StatusFetchingData || !o.Spinner || o.CanReconnect {
		t.Errorf("unexpected overlay %+v", o)
	}

	tr.open()
	if f.c.State() != StateConnected || f.c.FirstLoad() {
		t.Errorf("expected CONNECTED, got %s", f.c.State())
	}
	if f.c.Ready() {
		t.Errorf("ready before the handshake")
	}
	if o := f.c.Overlay(); !o.Open || o.Status != StatusFetchingData {
		t.Errorf("overlay must block until the handshake, got %+v", o)
	}

	tr.message(acceptedFrame)
	if !f.c.Ready() {
		t.Fatalf("not ready after the handshake")
	}
	if o := f.c.Overlay(); o.Open || o.Status != "" {
		t.Errorf("overlay still open %+v", o)
	}

	info, state := f.store.AppInfo()
	if state != LoadLoaded || info.Name != "Snowflake" || info.CLIPort != 6402 || !info.Encryption {
		t.Errorf("unexpected app info %+v (%s)", info, state)
	}
	grant := f.store.Grant()
	if grant.Alias() != "admin" || !grant.HasAccess(access.DBRead) || grant.HasAccess(access.DBWrite) {
		t.Errorf("unexpected grant %+v", grant.Export())
	}
	if err := f.c.WaitReady(context.Background()); err != nil {
		t.Errorf("WaitReady() = %v", err)
	}

	if got := f.stateLog(); !equalStates(got, []State{StateConnecting, StateConnected}) {
		t.Errorf("unexpected state changes %v", got)
	}
}

func TestAcceptedWithoutControlPanel(t *testing.T) {
	f := newFixture(t, NewStoreWithCredential("token"))
	f.c.Start()
	tr := f.transport(0)
	tr.open()
	tr.message(acceptedNoPanelFrame)

	if f.c.Ready() {
		t.Errorf("ready without control panel access")
	}
	if _, state := f.store.AppInfo(); state != LoadPending {
		t.Errorf("app info must stay pending, got %s", state)
	}
	if !f.store.Grant().HasAccess(access.DBRead) {
		t.Errorf("grant was not applied")
	}
	if err := f.c.WaitReady(context.Background()); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("WaitReady() = %v, want ErrAccessDenied", err)
	}
}

func TestOtherActionsIgnored(t *testing.T) {
	f := newFixture(t, NewStoreWithCredential("token"))
	f.c.Start()
	tr := f.transport(0)
	tr.open()
	tr.message(`{"success":true,"requestId":":ping","data":{}}`)
	tr.message(`{"success":true,"requestId":":accepted","data":{"info":{"name":"x"}}}`)
	tr.message(`{"success":true,"data":{"notice":"hello"}}`)

	if f.c.Ready() || !f.store.Grant().IsEmpty() {
		t.Errorf("actions without grant must not complete the handshake")
	}
}

// TestErrorThenClose tests that an error takes precedence over the following close
func TestErrorThenClose(t *testing.T) {
	f := newFixture(t, NewStoreWithCredential("token"))
	f.c.Start()
	tr := f.transport(0)
	tr.open()
	tr.message(acceptedFrame)

	tr.fail(errors.New("boom"))
	tr.closeWith(errors.New("boom"))

	if f.c.State() != StateError {
		t.Fatalf("expected ERROR, got %s", f.c.State())
	}
	grant := f.store.Grant()
	for _, capability := range []string{access.ControlPanel, access.DBRead, access.DBWrite, ""} {
		if grant.HasAccess(capability) {
			t.Errorf("grant still allows %q", capability)
		}
	}
	if _, state := f.store.AppInfo(); state != LoadNotLoaded {
		t.Errorf("expected app info not loaded, got %s", state)
	}
	if f.c.Ready() {
		t.Errorf("ready after error")
	}

	o := f.c.Overlay()
	if !o.Open || o.Status != StatusError || o.Spinner || !o.CanReconnect || !o.CanLogout {
		t.Errorf("unexpected overlay %+v", o)
	}

	err := f.c.WaitReady(context.Background())
	if !errors.Is(err, ErrConnectionFailed) || !strings.Contains(err.Error(), "boom") {
		t.Errorf("WaitReady() = %v, want ErrConnectionFailed", err)
	}

	want := []State{StateConnecting, StateConnected, StateError}
	if got := f.stateLog(); !equalStates(got, want) {
		t.Errorf("state changes %v, want %v", got, want)
	}
}

func TestCloseWithoutError(t *testing.T) {
	f := newFixture(t, NewStoreWithCredential("token"))
	f.c.Start()
	tr := f.transport(0)
	tr.open()
	tr.message(acceptedFrame)
	tr.close()

	if f.c.State() != StateDisconnected {
		t.Fatalf("expected DISCONNECTED, got %s", f.c.State())
	}
	if !f.store.Grant().IsEmpty() {
		t.Errorf("grant survived the disconnect")
	}
	if o := f.c.Overlay(); o.Status != StatusDisconnected || !o.CanReconnect {
		t.Errorf("unexpected overlay %+v", o)
	}
	if err := f.c.WaitReady(context.Background()); !errors.Is(err, ErrDisconnected) {
		t.Errorf("WaitReady() = %v, want ErrDisconnected", err)
	}

	// a manual reconnect restores the session
	if err := f.c.Reconnect(); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}
	tr2 := f.transport(1)
	tr2.open()
	tr2.message(acceptedFrame)
	if !f.c.Ready() || f.c.State() != StateConnected {
		t.Errorf("reconnect did not restore the session (%s)", f.c.State())
	}
}

func TestConnectFailure(t *testing.T) {
	f := newFixture(t, NewStoreWithCredential("token"))
	f.c.Start()
	tr := f.transport(0)

	tr.fail(errors.New("refused"))
	tr.close()

	if f.c.State() != StateError || !f.c.FirstLoad() {
		t.Errorf("expected ERROR on first load, got %s", f.c.State())
	}
	if o := f.c.Overlay(); o.Status != StatusError {
		t.Errorf("unexpected overlay %+v", o)
	}
	if f.c.Err() == nil {
		t.Errorf("error was not recorded")
	}
}

// TestSupersededTransport tests that events of replaced transports are ignored
func TestSupersededTransport(t *testing.T) {
	f := newFixture(t, NewStoreWithCredential("token"))
	f.c.Start()
	old := f.transport(0)
	old.open()

	// request pending on the old transport
	done := make(chan error, 1)
	go func() {
		_, err := f.c.Fetch(context.Background(), "get", nil)
		done <- err
	}()
	for f.c.Helper().Pending() == 0 {
		time.Sleep(time.Millisecond)
	}

	if err := f.c.Reconnect(); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}
	if !old.isClosed() {
		t.Errorf("superseded transport was not closed")
	}
	if err := <-done; !errors.Is(err, client.ErrConnectionClosed) {
		t.Errorf("pending request = %v, want ErrConnectionClosed", err)
	}

	old.message(acceptedFrame)
	old.fail(errors.New("late"))
	old.close()

	if f.c.State() != StateConnecting {
		t.Errorf("superseded transport changed the state to %s", f.c.State())
	}
	if f.c.Ready() {
		t.Errorf("superseded transport completed the handshake")
	}

	cur := f.transport(1)
	cur.open()
	if f.c.State() != StateConnected || f.c.FirstLoad() {
		t.Errorf("expected CONNECTED, got %s", f.c.State())
	}
}

// TestSharedBus tests that controllers sharing a bus only apply the
// handshake of their own transport
func TestSharedBus(t *testing.T) {
	bus := eventbus.New()
	a := newFixtureOnBus(t, NewStoreWithCredential("token-a"), bus, "a")
	b := newFixtureOnBus(t, NewStoreWithCredential("token-b"), bus, "b")
	a.c.Start()
	b.c.Start()

	trA := a.transport(0)
	trA.open()
	trA.message(acceptedFrame)

	if !a.c.Ready() {
		t.Errorf("controller a did not complete its handshake")
	}
	if b.c.State() != StateConnecting || b.c.Ready() {
		t.Errorf("controller b changed to %s (ready=%v) without its own transport", b.c.State(), b.c.Ready())
	}
	if !b.store.Grant().IsEmpty() {
		t.Errorf("controller b adopted the grant %q of another transport", b.store.Grant().Alias())
	}

	trB := b.transport(0)
	trB.open()
	trB.message(acceptedNoPanelFrame)

	if got := b.store.Grant().Alias(); got != "reader" {
		t.Errorf("controller b grant alias = %q, want reader", got)
	}
	if got := a.store.Grant().Alias(); got != "admin" {
		t.Errorf("controller a grant alias = %q, want admin", got)
	}
	if !a.c.Ready() || b.c.Ready() {
		t.Errorf("ready a=%v b=%v, want a=true b=false", a.c.Ready(), b.c.Ready())
	}
}

// TestStaleAcceptedAction tests that an accepted action of a superseded
// transport, published after the reconnect, does not complete the handshake
func TestStaleAcceptedAction(t *testing.T) {
	f := newFixture(t, NewStoreWithCredential("token"))
	f.c.Start()
	f.transport(0).open()

	if err := f.c.Reconnect(); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}
	f.transport(1).open()

	env := &common.Envelope{}
	if err := serializer.NewJSONSerializer().Deserialize([]byte(acceptedFrame), env); err != nil {
		t.Fatalf("Deserialize() error = %v", err)
	}
	accepted := func(transportID string) eventbus.Event {
		return eventbus.Event{
			Kind:        eventbus.KindActionReceived,
			Action:      common.ActionAccepted,
			TransportID: transportID,
			Envelope:    env,
		}
	}

	f.bus.Publish(accepted("t1"))
	if f.c.Ready() || !f.store.Grant().IsEmpty() {
		t.Errorf("accepted action of the superseded transport was applied")
	}

	f.bus.Publish(accepted("t2"))
	if !f.c.Ready() || f.store.Grant().Alias() != "admin" {
		t.Errorf("accepted action of the current transport was not applied")
	}
}

func TestSetCredential(t *testing.T) {
	f := newFixture(t, NewStore())
	f.c.Start()

	if err := f.c.SetCredential("one"); err != nil {
		t.Fatalf("SetCredential() error = %v", err)
	}
	if f.dialed() != 1 || !strings.HasSuffix(f.transport(0).url, "token=one") {
		t.Fatalf("credential did not trigger a connect")
	}

	f.c.SetCredential("one")
	if f.dialed() != 1 {
		t.Errorf("unchanged credential triggered a reconnect")
	}

	f.c.SetCredential("two")
	if f.dialed() != 2 || !strings.HasSuffix(f.transport(1).url, "token=two") {
		t.Errorf("changed credential did not reconnect")
	}
	if !f.transport(0).isClosed() {
		t.Errorf("old transport still open")
	}
}

func TestLogout(t *testing.T) {
	f := newFixture(t, NewStoreWithCredential("token"))
	f.c.Start()
	tr := f.transport(0)
	tr.open()
	tr.message(acceptedFrame)

	if err := f.c.Logout(); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if f.removed != 1 {
		t.Errorf("persisted credential was not removed")
	}
	if !tr.isClosed() {
		t.Errorf("transport still open")
	}
	if f.c.State() != StateInit || !f.c.NeedsCredential() || f.c.Helper() != nil {
		t.Errorf("expected INIT without credential, got %s", f.c.State())
	}
	if !f.store.Grant().IsEmpty() {
		t.Errorf("grant survived the logout")
	}
	if _, state := f.store.AppInfo(); state != LoadPending {
		t.Errorf("expected pending app info, got %s", state)
	}

	// the close of the torn down transport is ignored
	tr.close()
	if f.c.State() != StateInit {
		t.Errorf("state changed to %s after logout", f.c.State())
	}
}

func TestWaitReadyBlocks(t *testing.T) {
	f := newFixture(t, NewStoreWithCredential("token"))
	f.c.Start()
	tr := f.transport(0)

	done := make(chan error, 1)
	go func() { done <- f.c.WaitReady(context.Background()) }()

	select {
	case err := <-done:
		t.Fatalf("WaitReady() returned early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	tr.open()
	tr.message(acceptedFrame)

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WaitReady() = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("WaitReady() did not return")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	f.c.Reconnect()
	if err := f.c.WaitReady(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitReady() = %v, want DeadlineExceeded", err)
	}
}

func TestControllerClose(t *testing.T) {
	f := newFixture(t, NewStoreWithCredential("token"))
	f.c.Start()
	tr := f.transport(0)

	if err := f.c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if f.bus.Listeners(eventbus.KindActionReceived) != 0 || f.bus.Listeners(eventbus.KindMessageReceived) != 0 {
		t.Errorf("controller is still subscribed")
	}
	if !tr.isClosed() {
		t.Errorf("transport still open")
	}
	if err := f.c.Reconnect(); !errors.Is(err, ErrClosed) {
		t.Errorf("Reconnect() after Close = %v, want ErrClosed", err)
	}
	if err := f.c.WaitReady(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("WaitReady() after Close = %v, want ErrClosed", err)
	}
	f.c.Close()
}

func TestStateString(t *testing.T) {
	if StateDisconnecting.String() != "DISCONNECTING" || State(42).String() != "UNKNOWN" {
		t.Errorf("unexpected state names")
	}
	if LoadNotLoaded.String() != "not loaded" {
		t.Errorf("unexpected load state name")
	}
}
