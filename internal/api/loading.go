package api

import "sync"

// LoadingRegistry maps a call signature (method + endpoint) to an in-flight
// flag. Entries are created on first use and reset to false rather than
// deleted, so repeated calls reuse the same key.
type LoadingRegistry struct {
	mu    sync.RWMutex
	flags map[string]bool
}

// NewLoadingRegistry creates an empty registry.
func NewLoadingRegistry() *LoadingRegistry {
	return &LoadingRegistry{flags: make(map[string]bool)}
}

// LoadingKey builds the registry key for a call signature.
func LoadingKey(method, endpoint string) string {
	return method + " " + endpoint
}

// Set records the in-flight state for a key.
func (r *LoadingRegistry) Set(key string, inFlight bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flags[key] = inFlight
}

// IsLoading reports whether a call with the given key is in flight.
func (r *LoadingRegistry) IsLoading(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.flags[key]
}

// Any reports whether any call is currently in flight.
func (r *LoadingRegistry) Any() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.flags {
		if v {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of all known flags.
func (r *LoadingRegistry) Snapshot() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(r.flags))
	for k, v := range r.flags {
		out[k] = v
	}
	return out
}
