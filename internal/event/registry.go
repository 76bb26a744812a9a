package event

import (
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Registry is a synchronous typed pub/sub fan-out for one event category.
// Handlers for a given minion are invoked in the order events are published
// for that minion; one panicking handler cannot block delivery to others.
type Registry[E any] struct {
	mu     sync.RWMutex
	subs   map[uint64]func(E)
	nextID atomic.Uint64
}

// NewRegistry creates an empty registry.
func NewRegistry[E any]() *Registry[E] {
	return &Registry[E]{subs: make(map[uint64]func(E))}
}

// Subscribe registers a handler and returns its subscription ID.
func (r *Registry[E]) Subscribe(handler func(E)) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID.Add(1)
	r.subs[id] = handler
	return id
}

// Unsubscribe removes a subscription by ID.
// Returns true if the subscription was found and removed.
func (r *Registry[E]) Unsubscribe(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[id]; !ok {
		return false
	}
	delete(r.subs, id)
	return true
}

// Publish dispatches an event to all registered handlers synchronously.
// Handler panics are logged with stack traces, recovered, and dispatch
// continues to remaining handlers.
func (r *Registry[E]) Publish(e E) {
	r.mu.RLock()
	handlers := make([]func(E), 0, len(r.subs))
	for _, h := range r.subs {
		handlers = append(handlers, h)
	}
	r.mu.RUnlock()

	for _, h := range handlers {
		safeCall(h, e)
	}
}

// SubscriberCount returns the number of active subscriptions.
func (r *Registry[E]) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Clear removes all subscriptions.
func (r *Registry[E]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = make(map[uint64]func(E))
}

func safeCall[E any](handler func(E), e E) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("ERROR: event handler panicked: %v\n%s", rec, debug.Stack())
		}
	}()
	handler(e)
}

// Hub bundles the three orchestrator event registries.
type Hub struct {
	Chat     *Registry[ChatEvent]
	Metadata *Registry[MetadataEvent]
	Activity *Registry[ActivityEvent]
}

// NewHub creates a Hub with empty registries.
func NewHub() *Hub {
	return &Hub{
		Chat:     NewRegistry[ChatEvent](),
		Metadata: NewRegistry[MetadataEvent](),
		Activity: NewRegistry[ActivityEvent](),
	}
}
