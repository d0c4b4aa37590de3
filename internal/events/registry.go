package events

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Handler consumes an invalidation event. Handlers run synchronously on the
// publishing goroutine; concurrency correctness is the publisher's concern.
type Handler func(Event)

// Wildcard subscribes a handler to every event name.
const Wildcard = "*"

type subscription struct {
	id      int
	handler Handler
}

// Registry is the subscription registry for invalidation events: a closed
// replacement for a string-keyed global bus. Delivery order is deterministic:
// handlers run in the order they subscribed, wildcard and exact alike.
// Subscribe returns an unsubscribe func for teardown.
type Registry struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string][]subscription
	logger *zap.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		subs:   make(map[string][]subscription),
		logger: logger,
	}
}

// Subscribe registers a handler for one event name (or Wildcard). The
// returned func removes the subscription; calling it twice is harmless.
func (r *Registry) Subscribe(name string, h Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.subs[name] = append(r.subs[name], subscription{id: id, handler: h})

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		list := r.subs[name]
		for i, s := range list {
			if s.id == id {
				r.subs[name] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers an event to its subscribers in subscription order.
func (r *Registry) Publish(ev Event) {
	r.mu.RLock()
	matched := r.subs[ev.Name]
	wild := r.subs[Wildcard]
	handlers := make([]subscription, 0, len(matched)+len(wild))
	handlers = append(handlers, matched...)
	handlers = append(handlers, wild...)
	r.mu.RUnlock()

	sort.SliceStable(handlers, func(i, j int) bool { return handlers[i].id < handlers[j].id })

	for _, s := range handlers {
		s.handler(ev)
	}
}

// PublishChange classifies a raw mutation and, when it yields an event,
// delivers it. This is the single path from store mutations to subscribers.
func (r *Registry) PublishChange(table, operation string, before, after map[string]any) {
	ev, ok := Classify(table, operation, before, after)
	if !ok {
		return
	}
	if r.logger != nil {
		r.logger.Debug("invalidation event",
			zap.String("event", ev.Name),
			zap.String("table", table),
			zap.String("operation", operation),
		)
	}
	r.Publish(ev)
}
