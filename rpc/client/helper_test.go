package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/snowflake-kv/sfdash/lib/eventbus"
	"github.com/snowflake-kv/sfdash/rpc/common"
	"github.com/snowflake-kv/sfdash/rpc/serializer"
	"github.com/snowflake-kv/sfdash/rpc/transport"
)

// --------------------------------------------------------------------------
// Fake transport
// --------------------------------------------------------------------------

type fakeTransport struct {
	mu      sync.Mutex
	sent    []common.Request
	sendErr error
	onSend  func(req common.Request)
	notify  chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{notify: make(chan struct{}, 64)}
}

func (f *fakeTransport) Connect(url string, l transport.Listener) error { return nil }
func (f *fakeTransport) Close() error                                   { return nil }
func (f *fakeTransport) ID() string                                     { return "fake" }

func (f *fakeTransport) Send(frame []byte) error {
	var req common.Request
	if err := json.Unmarshal(frame, &req); err != nil {
		return err
	}

	f.mu.Lock()
	if f.sendErr != nil {
		f.mu.Unlock()
		return f.sendErr
	}
	f.sent = append(f.sent, req)
	onSend := f.onSend
	f.mu.Unlock()

	f.notify <- struct{}{}
	if onSend != nil {
		onSend(req)
	}
	return nil
}

func (f *fakeTransport) requests() []common.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]common.Request(nil), f.sent...)
}

// waitSent blocks until n more frames were sent
func (f *fakeTransport) waitSent(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-f.notify:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d frames were sent", i, n)
		}
	}
}

func newTestHelper(timeoutMs int) (*SocketHelper, *fakeTransport, *eventbus.Bus) {
	tr := newFakeTransport()
	bus := eventbus.New()
	h := NewSocketHelper(tr, serializer.NewJSONSerializer(), bus, common.ClientConfig{TimeoutMillisecond: timeoutMs})
	return h, tr, bus
}

func reply(t *testing.T, h *SocketHelper, requestID string, success bool, data any) {
	t.Helper()
	frame, err := json.Marshal(map[string]any{"success": success, "requestId": requestID, "data": data})
	if err != nil {
		t.Errorf("marshal failed: %v", err)
		return
	}
	h.HandleFrame(frame)
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

// TestOutOfOrderCorrelation tests that responses are matched by id, not by order
func TestOutOfOrderCorrelation(t *testing.T) {
	h, tr, _ := newTestHelper(2000)

	type result struct {
		env *common.Envelope
		err error
	}
	resA, resB := make(chan result, 1), make(chan result, 1)

	go func() {
		env, err := h.Fetch(context.Background(), "a", nil)
		resA <- result{env, err}
	}()
	tr.waitSent(t, 1)
	go func() {
		env, err := h.Fetch(context.Background(), "b", nil)
		resB <- result{env, err}
	}()
	tr.waitSent(t, 1)

	sent := tr.requests()
	if sent[0].RequestID != "req_1" || sent[1].RequestID != "req_2" {
		t.Fatalf("unexpected request ids %s, %s", sent[0].RequestID, sent[1].RequestID)
	}

	reply(t, h, "req_2", true, map[string]any{"from": "b"})
	reply(t, h, "req_1", true, map[string]any{"from": "a"})

	for name, ch := range map[string]chan result{"a": resA, "b": resB} {
		r := <-ch
		if r.err != nil {
			t.Fatalf("request %s failed: %v", name, r.err)
		}
		var data struct{ From string }
		if err := r.env.DecodeData(&data); err != nil || data.From != name {
			t.Errorf("request %s got response of %q (%v)", name, data.From, err)
		}
	}

	if h.Pending() != 0 {
		t.Errorf("expected no pending requests, got %d", h.Pending())
	}
}

// TestLateResponseDropped tests that a response arriving after the timeout is ignored
func TestLateResponseDropped(t *testing.T) {
	h, tr, bus := newTestHelper(2000)

	responses := 0
	bus.Subscribe(eventbus.KindMessageResponse, func(e eventbus.Event) { responses++ })

	start := time.Now()
	_, err := h.Fetch(context.Background(), "get", nil, 30*time.Millisecond)
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("expected ErrTimedOut, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond || elapsed > time.Second {
		t.Errorf("timeout fired after %s", elapsed)
	}
	tr.waitSent(t, 1)

	reply(t, h, "req_1", true, map[string]any{"value": "late"})

	if responses != 1 {
		t.Errorf("expected the late response to be published once, got %d", responses)
	}
	if h.Pending() != 0 {
		t.Errorf("expected no pending requests, got %d", h.Pending())
	}
}

// TestControlFrame tests that control frames publish exactly one action event
func TestControlFrame(t *testing.T) {
	h, _, bus := newTestHelper(2000)

	var actions []eventbus.Event
	others := 0
	bus.Subscribe(eventbus.KindActionReceived, func(e eventbus.Event) { actions = append(actions, e) })
	bus.Subscribe(eventbus.KindMessageResponse, func(e eventbus.Event) { others++ })
	bus.Subscribe(eventbus.KindMessageReceived, func(e eventbus.Event) { others++ })

	h.HandleFrame([]byte(`{"success":true,"requestId":":accepted","data":{"info":{"name":"Snowflake"}}}`))

	if len(actions) != 1 {
		t.Fatalf("expected 1 action event, got %d", len(actions))
	}
	if actions[0].Action != "accepted" {
		t.Errorf("expected action accepted, got %q", actions[0].Action)
	}
	if actions[0].Envelope == nil || !actions[0].Envelope.Success {
		t.Errorf("action event lost the envelope")
	}
	if others != 0 {
		t.Errorf("control frame published %d other events", others)
	}
}

// TestFrameClassification tests the routing of all frame classes
func TestFrameClassification(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		kind  eventbus.Kind
	}{
		{"control action", `{"requestId":":ping"}`, eventbus.KindActionReceived},
		{"response", `{"success":true,"requestId":"req_9","data":{}}`, eventbus.KindMessageResponse},
		{"empty request id", `{"requestId":""}`, eventbus.KindMessageResponse},
		{"push", `{"success":true,"data":{"x":1}}`, eventbus.KindMessageReceived},
		{"numeric request id", `{"requestId":5}`, eventbus.KindMessageReceived},
		{"malformed", `{"requestId":`, eventbus.KindMessageReceived},
		{"array", `[1,2]`, eventbus.KindMessageReceived},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, bus := newTestHelper(2000)

			var got []eventbus.Kind
			var sources []string
			for _, k := range []eventbus.Kind{eventbus.KindActionReceived, eventbus.KindMessageResponse, eventbus.KindMessageReceived} {
				bus.Subscribe(k, func(e eventbus.Event) {
					got = append(got, e.Kind)
					sources = append(sources, e.TransportID)
				})
			}

			h.HandleFrame([]byte(tt.frame))

			if len(got) != 1 || got[0] != tt.kind {
				t.Errorf("frame %s published %v, want [%s]", tt.frame, got, tt.kind)
			}
			if len(sources) != 1 || sources[0] != "fake" {
				t.Errorf("frame %s published transport ids %v, want [fake]", tt.frame, sources)
			}
		})
	}
}

// TestMalformedFrames tests that malformed frames become empty push events
func TestMalformedFrames(t *testing.T) {
	h, _, bus := newTestHelper(2000)

	var pushes []eventbus.Event
	bus.Subscribe(eventbus.KindMessageReceived, func(e eventbus.Event) { pushes = append(pushes, e) })

	h.HandleFrame([]byte("not json"))
	h.HandleFrame([]byte("not json"))

	if len(pushes) != 2 {
		t.Fatalf("expected 2 push events, got %d", len(pushes))
	}
	for _, e := range pushes {
		if e.Envelope == nil || e.Envelope.Success || e.Envelope.HasRequestID || len(e.Envelope.Data) != 0 {
			t.Errorf("expected an empty envelope, got %+v", e.Envelope)
		}
	}
}

// TestFetchWithMinDelay tests the latency floor and that errors are not delayed
func TestFetchWithMinDelay(t *testing.T) {
	h, tr, _ := newTestHelper(2000)
	tr.onSend = func(req common.Request) {
		reply(t, h, req.RequestID, true, map[string]any{})
	}

	start := time.Now()
	env, err := h.FetchWithMinDelay(context.Background(), "dbStats", nil, 80*time.Millisecond)
	if err != nil {
		t.Fatalf("FetchWithMinDelay() error = %v", err)
	}
	if !env.Success {
		t.Errorf("expected a successful envelope")
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("returned after %s, before the floor", elapsed)
	}

	// errors skip the floor
	h2, _, _ := newTestHelper(20)
	start = time.Now()
	if _, err := h2.FetchWithMinDelay(context.Background(), "dbStats", nil, time.Second); !errors.Is(err, ErrTimedOut) {
		t.Fatalf("expected ErrTimedOut, got %v", err)
	}
	if elapsed := time.Since(start); elapsed >= time.Second {
		t.Errorf("error was delayed by the floor (%s)", elapsed)
	}
}

// TestResponseDuringSend tests that a response arriving before Send returns is matched
func TestResponseDuringSend(t *testing.T) {
	h, tr, _ := newTestHelper(2000)
	tr.onSend = func(req common.Request) {
		reply(t, h, req.RequestID, false, map[string]any{"msgId": "no_access", "msg": "denied"})
	}

	env, err := h.Fetch(context.Background(), "set", map[string]any{"key": "k"})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if env.Success || env.MsgID() != "no_access" || env.Msg() != "denied" {
		t.Errorf("unexpected envelope %+v", env)
	}
}

// TestCloseRejectsPending tests that Close completes outstanding requests
func TestCloseRejectsPending(t *testing.T) {
	h, tr, _ := newTestHelper(10000)

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := h.Fetch(context.Background(), "read", nil)
			errs <- err
		}()
	}
	tr.waitSent(t, 3)

	h.Close()

	for i := 0; i < 3; i++ {
		select {
		case err := <-errs:
			if !errors.Is(err, ErrConnectionClosed) {
				t.Errorf("expected ErrConnectionClosed, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("pending request was not rejected")
		}
	}

	if _, err := h.Fetch(context.Background(), "read", nil); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Fetch() after Close = %v, want ErrConnectionClosed", err)
	}
	h.Close()
}

// TestContextCancel tests that a cancelled context removes the pending request
func TestContextCancel(t *testing.T) {
	h, tr, _ := newTestHelper(10000)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.Fetch(ctx, "read", nil)
		done <- err
	}()
	tr.waitSent(t, 1)
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if h.Pending() != 0 {
		t.Errorf("expected no pending requests, got %d", h.Pending())
	}
}

// TestSendError tests that a failed write is returned and leaves nothing pending
func TestSendError(t *testing.T) {
	h, tr, _ := newTestHelper(2000)
	tr.sendErr = transport.ErrNotOpen

	if _, err := h.Fetch(context.Background(), "get", nil); !errors.Is(err, transport.ErrNotOpen) {
		t.Errorf("expected ErrNotOpen, got %v", err)
	}
	if h.Pending() != 0 {
		t.Errorf("expected no pending requests, got %d", h.Pending())
	}

	var nilHelper *SocketHelper
	if _, err := nilHelper.Fetch(context.Background(), "get", nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

// TestRequestFrame tests the exact request frame and id sequence
func TestRequestFrame(t *testing.T) {
	h, tr, _ := newTestHelper(2000)
	tr.onSend = func(req common.Request) {
		reply(t, h, req.RequestID, true, nil)
	}

	for i := 0; i < 3; i++ {
		if _, err := h.Fetch(context.Background(), "get", map[string]any{"key": "k"}); err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
	}
	if _, err := h.Fetch(context.Background(), "persistent", nil); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	sent := tr.requests()
	for i, want := range []string{"req_1", "req_2", "req_3", "req_4"} {
		if sent[i].RequestID != want {
			t.Errorf("request %d has id %s, want %s", i, sent[i].RequestID, want)
		}
	}
	if data, ok := sent[0].Data.(map[string]any); !ok || data["key"] != "k" {
		t.Errorf("unexpected data %v", sent[0].Data)
	}
	if data, ok := sent[3].Data.(map[string]any); !ok || len(data) != 0 {
		t.Errorf("nil data must be sent as empty object, got %v", sent[3].Data)
	}
}

// TestConcurrentFetch tests many concurrent exchanges over one helper
func TestConcurrentFetch(t *testing.T) {
	h, tr, _ := newTestHelper(5000)
	tr.onSend = func(req common.Request) {
		go reply(t, h, req.RequestID, true, map[string]any{"id": req.RequestID})
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env, err := h.Fetch(context.Background(), "get", nil)
			if err != nil {
				t.Errorf("Fetch() error = %v", err)
				return
			}
			var data struct{ ID string }
			if err := env.DecodeData(&data); err != nil || data.ID != env.RequestID {
				t.Errorf("response %s carries data of %s", env.RequestID, data.ID)
			}
		}()
	}
	wg.Wait()

	if h.Pending() != 0 {
		t.Errorf("expected no pending requests, got %d", h.Pending())
	}
}
