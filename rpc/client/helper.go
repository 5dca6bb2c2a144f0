package client

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/snowflake-kv/sfdash/lib/eventbus"
	"github.com/snowflake-kv/sfdash/rpc/common"
	"github.com/snowflake-kv/sfdash/rpc/serializer"
	"github.com/snowflake-kv/sfdash/rpc/transport"
)

var (
	Logger = logger.GetLogger("rpc")
)

var (
	// ErrTimedOut is returned when no response arrived within the request timeout
	ErrTimedOut = errors.New("timed_out")
	// ErrConnectionClosed is returned for requests outstanding when the transport closed
	ErrConnectionClosed = errors.New("connection closed")
	// ErrNotConnected is returned when there is no transport to send on
	ErrNotConnected = errors.New("not connected")
)

// DefaultMinDelay is the latency floor of FetchWithMinDelay
const DefaultMinDelay = 100 * time.Millisecond

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

// response is the outcome of one pending request
type response struct {
	env *common.Envelope
	err error
}

// pendingRequest is an in-flight request waiting for its response.
// The channel is buffered so the completing side never blocks.
type pendingRequest struct {
	endpoint string
	ch       chan response
}

// --------------------------------------------------------------------------
// SocketHelper
// --------------------------------------------------------------------------

// SocketHelper multiplexes correlated request/response exchanges and
// unsolicited events over one transport. Inbound frames must be handed to
// HandleFrame, the owner of the transport wires it to the message event.
//
// A pending request is completed exactly once: by its response, by its
// timeout, by the cancellation of its context or by Close.
type SocketHelper struct {
	transport  transport.IClientTransport
	serializer serializer.IRPCSerializer
	bus        *eventbus.Bus
	config     common.ClientConfig

	nextRequestID atomic.Uint64
	pending       *xsync.MapOf[string, *pendingRequest]
	closed        atomic.Bool
}

// NewSocketHelper creates a new helper sending on t. Events are published on bus.
func NewSocketHelper(
	t transport.IClientTransport,
	s serializer.IRPCSerializer,
	bus *eventbus.Bus,
	config common.ClientConfig,
) *SocketHelper {
	return &SocketHelper{
		transport:  t,
		serializer: s,
		bus:        bus,
		config:     config,
		pending:    xsync.NewMapOf[string, *pendingRequest](),
	}
}

// Fetch sends a request to endpoint and waits for the response with the
// same request id. The timeout defaults to the configured socket timeout, a
// positive override replaces it.
//
// An envelope with Success=false is a regular response and returned without
// error. Errors are ErrTimedOut, ErrConnectionClosed, the context error or a
// failed write.
func (h *SocketHelper) Fetch(ctx context.Context, endpoint string, data any, timeout ...time.Duration) (*common.Envelope, error) {
	if h == nil || h.transport == nil {
		return nil, ErrNotConnected
	}
	if h.closed.Load() {
		return nil, ErrConnectionClosed
	}

	wait := h.config.Timeout()
	if len(timeout) > 0 && timeout[0] > 0 {
		wait = timeout[0]
	}

	// Generate a unique request ID
	requestID := common.RequestIDPrefix + strconv.FormatUint(h.nextRequestID.Add(1), 10)

	frame, err := h.serializer.Serialize(*common.NewRequest(requestID, endpoint, data))
	if err != nil {
		return nil, fmt.Errorf("failed to serialize request %s (%s): %w", requestID, endpoint, err)
	}

	// Register the request before sending, the response may arrive before Send returns
	p := &pendingRequest{endpoint: endpoint, ch: make(chan response, 1)}
	h.pending.Store(requestID, p)
	if h.closed.Load() {
		h.pending.Delete(requestID)
		return nil, ErrConnectionClosed
	}

	start := time.Now()
	requestsTotal(endpoint).Inc()

	if err := h.transport.Send(frame); err != nil {
		if _, ok := h.pending.LoadAndDelete(requestID); !ok {
			// rejected by Close while sending
			res := <-p.ch
			return res.env, res.err
		}
		return nil, fmt.Errorf("failed to send request %s (%s): %w", requestID, endpoint, err)
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case res := <-p.ch:
		requestDuration(endpoint).Update(time.Since(start).Seconds())
		return res.env, res.err

	case <-timer.C:
		if _, ok := h.pending.LoadAndDelete(requestID); ok {
			timeoutsTotal(endpoint).Inc()
			Logger.Debugf("Request %s (%s) timed out after %s", requestID, endpoint, wait)
			return nil, fmt.Errorf("%w: %s after %s", ErrTimedOut, endpoint, wait)
		}

	case <-ctx.Done():
		if _, ok := h.pending.LoadAndDelete(requestID); ok {
			return nil, ctx.Err()
		}
	}

	// The request was completed concurrently, the result is already buffered
	res := <-p.ch
	return res.env, res.err
}

// FetchWithMinDelay behaves like Fetch but does not return a response before
// minDelay has elapsed since the call. Errors are returned immediately.
// A non-positive minDelay selects DefaultMinDelay.
func (h *SocketHelper) FetchWithMinDelay(ctx context.Context, endpoint string, data any, minDelay time.Duration) (*common.Envelope, error) {
	if minDelay <= 0 {
		minDelay = DefaultMinDelay
	}

	start := time.Now()
	env, err := h.Fetch(ctx, endpoint, data)
	if err != nil {
		return nil, err
	}

	remaining := minDelay - time.Since(start)
	if remaining <= 0 {
		return env, nil
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-timer.C:
		return env, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// HandleFrame classifies one inbound frame:
//   - a requestId starting with ":" publishes KindActionReceived and nothing else
//   - any other string requestId publishes KindMessageResponse and completes the pending request
//   - frames without a requestId publish KindMessageReceived
//
// Malformed frames are treated as an empty push message.
func (h *SocketHelper) HandleFrame(frame []byte) {
	env := &common.Envelope{}
	if err := h.serializer.Deserialize(frame, env); err != nil {
		malformedFramesTotal.Inc()
		Logger.Warningf("Received malformed frame, handling it as empty message: %v", err)
		env = &common.Envelope{}
	}

	transportID := h.TransportID()

	switch {
	case env.HasRequestID && strings.HasPrefix(env.RequestID, common.ControlPrefix):
		controlActionsTotal.Inc()
		h.bus.Publish(eventbus.Event{
			Kind:        eventbus.KindActionReceived,
			Action:      strings.TrimPrefix(env.RequestID, common.ControlPrefix),
			TransportID: transportID,
			Envelope:    env,
		})

	case env.HasRequestID:
		responsesTotal.Inc()
		h.bus.Publish(eventbus.Event{
			Kind:        eventbus.KindMessageResponse,
			RequestID:   env.RequestID,
			TransportID: transportID,
			Envelope:    env,
		})

		if p, ok := h.pending.LoadAndDelete(env.RequestID); ok {
			p.ch <- response{env: env}
			return
		}
		lateResponsesTotal.Inc()
		Logger.Debugf("Dropping response for unknown request %s", env.RequestID)

	default:
		pushMessagesTotal.Inc()
		h.bus.Publish(eventbus.Event{
			Kind:        eventbus.KindMessageReceived,
			TransportID: transportID,
			Envelope:    env,
		})
	}
}

// Close rejects every outstanding request with ErrConnectionClosed.
// Later calls to Fetch fail immediately. The transport itself is not closed.
func (h *SocketHelper) Close() {
	if h.closed.Swap(true) {
		return
	}

	rejected := 0
	h.pending.Range(func(requestID string, _ *pendingRequest) bool {
		if p, ok := h.pending.LoadAndDelete(requestID); ok {
			p.ch <- response{err: fmt.Errorf("%w: request %s (%s)", ErrConnectionClosed, requestID, p.endpoint)}
			rejected++
		}
		return true
	})

	if rejected > 0 {
		Logger.Infof("Rejected %d outstanding requests of transport %s", rejected, h.transport.ID())
	}
}

// Pending returns the number of outstanding requests
func (h *SocketHelper) Pending() int {
	return h.pending.Size()
}

// TransportID returns the id of the underlying transport
func (h *SocketHelper) TransportID() string {
	if h == nil || h.transport == nil {
		return ""
	}
	return h.transport.ID()
}
