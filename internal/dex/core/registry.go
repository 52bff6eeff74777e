package core

import (
	"sort"
	"sync"
)

// Registry holds the pools the daemon quotes, by configured name.
type Registry struct {
	mu    sync.RWMutex
	pools map[string]State
}

func NewRegistry() *Registry { return &Registry{pools: make(map[string]State)} }

func (r *Registry) Register(name string, s State) {
	r.mu.Lock()
	r.pools[name] = s
	r.mu.Unlock()
}

func (r *Registry) Get(name string) State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pools[name]
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.pools))
	for n := range r.pools {
		out = append(out, n)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Enabled returns the registered pools among names, skipping unknown ones.
func (r *Registry) Enabled(names []string) map[string]State {
	out := make(map[string]State, len(names))
	for _, n := range names {
		if s := r.Get(n); s != nil {
			out[n] = s
		}
	}
	return out
}
