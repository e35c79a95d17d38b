// Package cancel tracks which in-flight streams have been asked to stop.
// The registry is process-local and shared by every request handler; streams
// poll it between chunks, so cancellation is cooperative and takes effect at
// the next chunk boundary.
package cancel

import "sync"

// Registry is a concurrency-safe set of request identifiers flagged for
// cancellation. Only identifiers with a live stream (announced via Begin)
// can be flagged; cancelling an unknown or already-finished id is a no-op,
// so a cancel request can never plant a dangling entry. The zero value is
// not usable; construct with NewRegistry.
type Registry struct {
	mu      sync.Mutex
	active  map[string]struct{}
	flagged map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		active:  make(map[string]struct{}),
		flagged: make(map[string]struct{}),
	}
}

// Begin announces that a stream now owns id. Reusing an id across two live
// streams is not rejected; cancellation of one then affects the other, which
// is documented as undefined behavior. Empty ids are ignored.
func (r *Registry) Begin(id string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	r.active[id] = struct{}{}
	r.mu.Unlock()
}

// Request marks id as cancellation-requested. Idempotent; requesting an id
// with no live stream is a harmless no-op, including a request that races
// with the stream's own cleanup (cancellation of a finished stream is moot).
func (r *Registry) Request(id string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	if _, ok := r.active[id]; ok {
		r.flagged[id] = struct{}{}
	}
	r.mu.Unlock()
}

// IsRequested reports whether id has been flagged for cancellation.
func (r *Registry) IsRequested(id string) bool {
	if id == "" {
		return false
	}
	r.mu.Lock()
	_, ok := r.flagged[id]
	r.mu.Unlock()
	return ok
}

// Clear removes id entirely. Idempotent; safe on absent ids. The stream
// that owns id calls this exactly once as its final step, whichever way its
// loop terminated.
func (r *Registry) Clear(id string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	delete(r.active, id)
	delete(r.flagged, id)
	r.mu.Unlock()
}

// Len returns the number of currently flagged identifiers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flagged)
}

// ActiveLen returns the number of announced live identifiers.
func (r *Registry) ActiveLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
