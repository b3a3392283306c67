// Package notify implements the session-scoped notification bus (spec
// §4.7): subscribers register by session id, the orchestrator publishes
// every event it persists, and delivery is best-effort, at-most-once per
// subscriber, with drop-oldest back-pressure for a slow reader.
//
// Generalized from tarsy's pkg/events.ConnectionManager, which keys
// subscriptions by an arbitrary PostgreSQL LISTEN/NOTIFY channel string and
// pushes over a *websocket.Conn directly. This bus keys subscriptions by
// ids.SessionID and pushes onto a plain buffered Go channel; a transport
// adapter (e.g. a WebSocket handler) drains that channel instead of the bus
// writing to the wire itself.
package notify

import (
	"sync"
	"sync/atomic"

	"github.com/conductorhq/sessioncore/internal/eventlog"
	"github.com/conductorhq/sessioncore/internal/ids"
	"github.com/google/uuid"
)

// DefaultBufferSize is the per-subscriber channel capacity used when Bus is
// constructed with a non-positive size.
const DefaultBufferSize = 256

// Message is one item delivered to a subscriber: either a persisted event
// or a purely transient notification such as "catching_up", which carries
// no event and is never replayed by catchup.
type Message struct {
	Event     *eventlog.Event
	Transient string
}

type subscriber struct {
	id      string
	ch      chan Message
	dropped atomic.Int64
}

// Subscription is a live handle returned by Bus.Subscribe. Callers read
// Messages() until they call Close.
type Subscription struct {
	bus       *Bus
	sessionID ids.SessionID
	sub       *subscriber
}

// Messages returns the channel this subscription delivers on.
func (s *Subscription) Messages() <-chan Message { return s.sub.ch }

// Dropped returns the number of messages dropped for this subscriber so
// far due to a full buffer (spec §5: "overflow policy is drop-oldest with
// a dropped-count notification to the subscriber").
func (s *Subscription) Dropped() int64 { return s.sub.dropped.Load() }

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() { s.bus.unsubscribe(s.sessionID, s.sub.id) }

// Bus is a process-wide, session-scoped pub/sub. The zero value is not
// usable; construct with NewBus.
type Bus struct {
	mu         sync.RWMutex
	sessions   map[ids.SessionID]map[string]*subscriber
	bufferSize int
}

// NewBus constructs a Bus whose per-subscriber channels hold bufferSize
// messages before back-pressure starts dropping the oldest. A non-positive
// bufferSize falls back to DefaultBufferSize.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		sessions:   make(map[ids.SessionID]map[string]*subscriber),
		bufferSize: bufferSize,
	}
}

// Subscribe registers a new subscriber for sessionID. The returned
// Subscription must be closed by the caller when done.
func (b *Bus) Subscribe(sessionID ids.SessionID) *Subscription {
	sub := &subscriber{id: uuid.NewString(), ch: make(chan Message, b.bufferSize)}

	b.mu.Lock()
	if b.sessions[sessionID] == nil {
		b.sessions[sessionID] = make(map[string]*subscriber)
	}
	b.sessions[sessionID][sub.id] = sub
	b.mu.Unlock()

	return &Subscription{bus: b, sessionID: sessionID, sub: sub}
}

func (b *Bus) unsubscribe(sessionID ids.SessionID, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.sessions[sessionID]
	if subs == nil {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(b.sessions, sessionID)
	}
}

// Publish broadcasts ev to every subscriber of its session. Its signature
// matches the orchestrator.Publisher interface so a *Bus can be wired in
// directly with no adapter.
func (b *Bus) Publish(sessionID ids.SessionID, ev eventlog.Event) {
	b.broadcast(sessionID, Message{Event: &ev})
}

// PublishTransient broadcasts a transient, non-persisted notification
// (e.g. "catching_up") to every subscriber of sessionID.
func (b *Bus) PublishTransient(sessionID ids.SessionID, kind string) {
	b.broadcast(sessionID, Message{Transient: kind})
}

func (b *Bus) broadcast(sessionID ids.SessionID, msg Message) {
	b.mu.RLock()
	subs := b.sessions[sessionID]
	snapshot := make([]*subscriber, 0, len(subs))
	for _, s := range subs {
		snapshot = append(snapshot, s)
	}
	b.mu.RUnlock()

	for _, s := range snapshot {
		deliver(s, msg)
	}
}

// deliver is a non-blocking send that drops the oldest queued message and
// retries when the subscriber's channel is full, rather than ever blocking
// the publisher (spec §5: the bus must never make bus.publish a suspension
// point the orchestrator can stall on indefinitely).
func deliver(s *subscriber, msg Message) {
	for {
		select {
		case s.ch <- msg:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
			// Another goroutine drained concurrently; just retry the send.
		}
	}
}

// SubscriberCount returns the number of active subscribers for sessionID.
// Used by tests to poll instead of sleeping.
func (b *Bus) SubscriberCount(sessionID ids.SessionID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions[sessionID])
}
