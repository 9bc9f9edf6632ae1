package hub

import (
	"fmt"
	"sync"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/studyflow/tracker-sync/internal/domain"
	"github.com/studyflow/tracker-sync/internal/logger"
)

// Subscriber is a live client connection the hub delivers events to.
// Send must be safe for use from a single hub goroutine at a time and should
// return an error when the connection is no longer usable.
type Subscriber interface {
	// ID returns a stable identifier for the connection
	ID() string
	// Send delivers one event to the connection
	Send(event *domain.CRUDEvent) error
}

// Config holds the broadcast hub configuration
type Config struct {
	// FanoutWorkers bounds the number of concurrent deliveries across all subscribers
	FanoutWorkers int
	// SubscriberQueue bounds the per-subscriber pending queue; a subscriber
	// that falls further behind is treated as dead and removed
	SubscriberQueue int
}

// subscription holds the per-subscriber delivery state. Events are queued in
// publish order and drained by at most one pool task at a time, which
// preserves per-entity delivery order without letting a slow connection
// block the others.
type subscription struct {
	sub Subscriber

	mu       sync.Mutex
	queue    []*domain.CRUDEvent
	draining bool
	dead     bool
}

// Hub fans out committed mutations to all registered subscribers. It owns
// the per-entity-id sequence counters attached to events at publish time.
// Delivery is best-effort and asynchronous; a failure on one subscriber
// never blocks delivery to others and never propagates to the writer.
type Hub struct {
	mu       sync.Mutex
	subs     map[string]*subscription
	seqs     map[string]uint64
	pool     pond.Pool
	maxQueue int
}

// New creates a broadcast hub
func New(cfg Config) *Hub {
	workers := cfg.FanoutWorkers
	if workers <= 0 {
		workers = 32
	}
	maxQueue := cfg.SubscriberQueue
	if maxQueue <= 0 {
		maxQueue = 64
	}

	return &Hub{
		subs:     make(map[string]*subscription),
		seqs:     make(map[string]uint64),
		pool:     pond.NewPool(workers),
		maxQueue: maxQueue,
	}
}

// Subscribe registers a subscriber. Registering the same ID again replaces
// the previous registration (idempotent for reconnects reusing an ID).
func (h *Hub) Subscribe(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.subs[sub.ID()]; ok {
		old.mu.Lock()
		old.dead = true
		old.queue = nil
		old.mu.Unlock()
	}
	h.subs[sub.ID()] = &subscription{sub: sub}
}

// Unsubscribe removes a subscriber. Removing an unknown ID is a no-op.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if st, ok := h.subs[id]; ok {
		st.mu.Lock()
		st.dead = true
		st.queue = nil
		st.mu.Unlock()
		delete(h.subs, id)
	}
}

// Len returns the number of registered subscribers
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Publish stamps the event with its per-entity sequence number and enqueues
// it to every registered subscriber. Stamping and enqueueing happen under the
// same lock so concurrent publishers cannot interleave a given entity's
// events out of sequence. Returns immediately; delivery happens on the
// worker pool.
func (h *Hub) Publish(event *domain.CRUDEvent) {
	h.mu.Lock()
	key := entityKey(event)
	h.seqs[key]++
	event.Seq = h.seqs[key]

	var schedule []*subscription
	var dropped []string
	for id, st := range h.subs {
		switch h.enqueue(st, event) {
		case enqueueSchedule:
			schedule = append(schedule, st)
		case enqueueDrop:
			dropped = append(dropped, id)
		}
	}
	for _, id := range dropped {
		delete(h.subs, id)
	}
	h.mu.Unlock()

	for _, st := range schedule {
		h.pool.Submit(func() {
			h.drain(st)
		})
	}
}

// entityKey builds the sequence-counter key for an event's entity
func entityKey(event *domain.CRUDEvent) string {
	return fmt.Sprintf("%s/%d", event.Entity.Kind, event.Entity.ID)
}

type enqueueResult int

const (
	enqueueQueued enqueueResult = iota
	enqueueSchedule
	enqueueDrop
)

// enqueue appends the event to the subscriber's ordered queue. Called with
// the hub lock held; the caller schedules a drain task or removes the
// subscriber according to the result.
func (h *Hub) enqueue(st *subscription, event *domain.CRUDEvent) enqueueResult {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.dead {
		return enqueueQueued
	}
	if len(st.queue) >= h.maxQueue {
		// Too far behind; treat as a failed write and remove lazily
		st.dead = true
		st.queue = nil
		logger.Warn("Dropping slow subscriber", zap.String("subscriber", st.sub.ID()))
		return enqueueDrop
	}
	st.queue = append(st.queue, event)
	if !st.draining {
		st.draining = true
		return enqueueSchedule
	}
	return enqueueQueued
}

// drain delivers the subscriber's queued events in order. Only one drain
// task runs per subscriber at a time.
func (h *Hub) drain(st *subscription) {
	for {
		st.mu.Lock()
		if st.dead || len(st.queue) == 0 {
			st.draining = false
			st.mu.Unlock()
			return
		}
		event := st.queue[0]
		st.queue = st.queue[1:]
		st.mu.Unlock()

		if err := st.sub.Send(event); err != nil {
			logger.Warn("Failed to deliver event, removing subscriber",
				zap.String("subscriber", st.sub.ID()),
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
			h.remove(st)
			return
		}
	}
}

// remove kills a subscription and deletes its registry entry, but only while
// the entry still points at it; a reconnect may have replaced the id already
// and the fresh registration must survive the old connection's failed send
func (h *Hub) remove(st *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.subs[st.sub.ID()]; ok && cur == st {
		delete(h.subs, st.sub.ID())
	}
	st.mu.Lock()
	st.dead = true
	st.queue = nil
	st.mu.Unlock()
}

// Close stops the delivery pool, waiting for in-flight sends
func (h *Hub) Close() {
	h.pool.StopAndWait()
}
