package realtime

import (
	"encoding/json"
	"log"
	"sort"
	"sync"
)

// Handler receives the raw payload of a push event.
type Handler func(data json.RawMessage)

// Subscription identifies a registered handler so it can be removed.
type Subscription int

// eventRegistry is a typed publish/subscribe registry keyed by event name.
// Handlers for an event run in registration order; a panic in one handler
// does not suppress the rest.
type eventRegistry struct {
	mu      sync.Mutex
	nextID  Subscription
	entries map[string]map[Subscription]Handler
	verbose bool
}

func newEventRegistry() *eventRegistry {
	return &eventRegistry{entries: make(map[string]map[Subscription]Handler)}
}

// add registers a handler for an event and returns its subscription id.
func (r *eventRegistry) add(event string, h Handler) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	if r.entries[event] == nil {
		r.entries[event] = make(map[Subscription]Handler)
	}
	r.entries[event][id] = h
	return id
}

// remove deregisters a handler. Removing an unknown id is a no-op.
func (r *eventRegistry) remove(event string, id Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries[event], id)
}

// emit invokes all handlers for an event in registration order.
func (r *eventRegistry) emit(event string, data json.RawMessage) {
	r.mu.Lock()
	reg := r.entries[event]
	ids := make([]Subscription, 0, len(reg))
	for id := range reg {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]Handler, len(ids))
	for i, id := range ids {
		handlers[i] = reg[id]
	}
	r.mu.Unlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					if r.verbose {
						log.Printf("[realtime] handler panic on %q: %v", event, rec)
					}
				}
			}()
			h(data)
		}()
	}
}
