package eventbus

import (
	"sync"

	"github.com/snowflake-kv/sfdash/rpc/common"
)

// --------------------------------------------------------------------------
// Event kinds
// --------------------------------------------------------------------------

// Kind identifies an event. Listeners subscribe to exactly one kind.
type Kind uint8

const (
	KindUnknown Kind = iota

	// Socket events

	KindActionReceived  // Control action received (requestId starting with ":")
	KindMessageResponse // Response to a correlated request received
	KindMessageReceived // Unsolicited push message received
	KindStateChanged    // Connection lifecycle state changed

	// Application events

	KindReloadOverview      // Overview statistics are stale
	KindReloadDatabase      // Database entries are stale
	KindReloadDatabaseStats // Database statistics are stale
)

// String returns the string representation of a Kind.
func (k Kind) String() string {
	switch k {
	case KindActionReceived:
		return "socket_action_received"
	case KindMessageResponse:
		return "socket_message_response"
	case KindMessageReceived:
		return "socket_message_received"
	case KindStateChanged:
		return "socket_state_changed"
	case KindReloadOverview:
		return "reload_overview"
	case KindReloadDatabase:
		return "reload_database"
	case KindReloadDatabaseStats:
		return "reload_database_stats"
	default:
		return "unknown"
	}
}

// Event is a single published event. Which fields are set depends on the kind.
type Event struct {
	Kind Kind

	Action      string           // Used for: KindActionReceived (prefix stripped)
	RequestID   string           // Used for: KindMessageResponse
	TransportID string           // Used for: all socket message kinds (transport the frame arrived on)
	Envelope    *common.Envelope // Used for: all socket message kinds
	Payload     any              // Used for: KindStateChanged and application events
}

// Handler is called synchronously for every published event of the subscribed kind
type Handler func(e Event)

// --------------------------------------------------------------------------
// Bus
// --------------------------------------------------------------------------

type listener struct {
	id      uint64
	handler Handler
}

// Bus is a publish/subscribe hub. Listeners of one kind run in registration
// order on the publishing goroutine. Listener lists are copied on write, so
// handlers may subscribe or unsubscribe while an event is dispatched.
type Bus struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[Kind][]listener
}

// New creates an empty bus
func New() *Bus {
	return &Bus{
		listeners: make(map[Kind][]listener),
	}
}

// Subscribe registers a handler for one event kind.
// The returned subscription must be unsubscribed when the owner is torn down.
func (b *Bus) Subscribe(kind Kind, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	current := b.listeners[kind]
	updated := make([]listener, len(current), len(current)+1)
	copy(updated, current)
	b.listeners[kind] = append(updated, listener{id: b.nextID, handler: handler})

	return &Subscription{bus: b, kind: kind, id: b.nextID}
}

// Publish delivers the event to all current listeners of its kind.
// Listeners registered later never see it.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	snapshot := b.listeners[e.Kind]
	b.mu.RUnlock()

	for _, l := range snapshot {
		l.handler(e)
	}
}

// Listeners returns the number of listeners registered for a kind
func (b *Bus) Listeners(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[kind])
}

func (b *Bus) remove(kind Kind, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := b.listeners[kind]
	updated := make([]listener, 0, len(current))
	for _, l := range current {
		if l.id != id {
			updated = append(updated, l)
		}
	}

	if len(updated) == 0 {
		delete(b.listeners, kind)
		return
	}
	b.listeners[kind] = updated
}

// --------------------------------------------------------------------------
// Subscription
// --------------------------------------------------------------------------

// Subscription is the handle returned by Subscribe
type Subscription struct {
	bus  *Bus
	kind Kind
	id   uint64
	once sync.Once
}

// Unsubscribe removes the handler from the bus. Calling it more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.bus.remove(s.kind, s.id)
	})
}

// Kind returns the event kind of the subscription
func (s *Subscription) Kind() Kind {
	return s.kind
}
