// Package proxy tracks capability proxies handed to consumers: two
// per-module multimaps, cleared in a single O(entries) step when their
// provider is reloaded or destroyed so stale bindings fail fast.
package proxy

import (
	"sync"

	"github.com/AntelopeJS/antelopejs-sub000/internal/model"
)

// Handle is an opaque capability proxy a consumer cached during
// construct. The tracker does not interpret it.
type Handle any

// Tracker keeps asyncProxies and registeringProxies, both keyed by the
// provider ModuleID that issued the entries.
type Tracker struct {
	mu                 sync.RWMutex
	asyncProxies       map[model.ModuleID][]Handle
	registeringProxies map[model.ModuleID][]Handle
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{
		asyncProxies:       make(map[model.ModuleID][]Handle),
		registeringProxies: make(map[model.ModuleID][]Handle),
	}
}

// AddAsync records a proxy handle issued by provider.
func (t *Tracker) AddAsync(provider model.ModuleID, h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.asyncProxies[provider] = append(t.asyncProxies[provider], h)
}

// AddRegistering records a registering-phase proxy handle issued by
// provider.
func (t *Tracker) AddRegistering(provider model.ModuleID, h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.registeringProxies[provider] = append(t.registeringProxies[provider], h)
}

// AsyncProxies returns a copy of the async proxy handles for provider.
func (t *Tracker) AsyncProxies(provider model.ModuleID) []Handle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Handle, len(t.asyncProxies[provider]))
	copy(out, t.asyncProxies[provider])
	return out
}

// RegisteringProxies returns a copy of the registering proxy handles for
// provider.
func (t *Tracker) RegisteringProxies(provider model.ModuleID) []Handle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Handle, len(t.registeringProxies[provider]))
	copy(out, t.registeringProxies[provider])
	return out
}

// Clear removes every entry issued under provider from both multimaps in
// a single step. Never touches other modules' entries.
func (t *Tracker) Clear(provider model.ModuleID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.asyncProxies, provider)
	delete(t.registeringProxies, provider)
}

// Empty reports whether both multimaps are empty, so teardown can
// verify nothing was left behind.
func (t *Tracker) Empty() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.asyncProxies) == 0 && len(t.registeringProxies) == 0
}
