package paymaster

import "sync"

// FailedRegistry remembers sponsorship service ids whose paymaster calls
// failed during this process lifetime. Membership is append-only: once a
// service id fails, it stays excluded until restart and the flow falls back
// to self-paid. The registry is injected into each Coordinator instead of
// being a package singleton so tests can isolate it.
type FailedRegistry struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func NewFailedRegistry() *FailedRegistry {
	return &FailedRegistry{ids: make(map[string]struct{})}
}

// MarkFailed records a failed sponsorship id. Idempotent.
func (r *FailedRegistry) MarkFailed(id string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids[id] = struct{}{}
}

// Failed reports whether the id has failed before.
func (r *FailedRegistry) Failed(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ids[id]
	return ok
}
