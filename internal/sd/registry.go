package sd

import (
	"slices"
	"sync"
)

type registryKey struct {
	category Category
	instance string
}

// Registry tracks the endpoints announced per category and instance name, and classifies
// each announcement as a change kind.
type Registry struct {
	mu      sync.RWMutex
	entries map[registryKey]Endpoint
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[registryKey]Endpoint)}
}

// Observe records an announcement. It reports Added for a new instance and Updated when the
// port changed or new addresses showed up; changed is false for identical re-announcements.
func (r *Registry) Observe(category Category, ep Endpoint) (kind ChangeKind, changed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := registryKey{category: category, instance: ep.Instance}

	existing, found := r.entries[key]
	if !found {
		ep.Addresses = slices.Clone(ep.Addresses)
		r.entries[key] = ep
		return Added, true
	}

	merged := mergeAddresses(existing.Addresses, ep.Addresses)
	changed = len(merged) != len(existing.Addresses) || existing.Port != ep.Port || (ep.Host != "" && existing.Host != ep.Host)

	existing.Addresses = merged
	existing.Port = ep.Port
	if ep.Host != "" {
		existing.Host = ep.Host
	}
	r.entries[key] = existing

	return Updated, changed
}

// Forget drops the given addresses of an instance. The instance is removed once it has no
// addresses left, or immediately when no addresses are given.
func (r *Registry) Forget(category Category, instance string, addresses []string) (kind ChangeKind, changed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := registryKey{category: category, instance: instance}

	existing, found := r.entries[key]
	if !found {
		return Removed, false
	}

	remaining := removeAddresses(existing.Addresses, addresses)
	if len(addresses) == 0 || len(remaining) == 0 {
		delete(r.entries, key)
		return Removed, true
	}

	if len(remaining) == len(existing.Addresses) {
		return Updated, false
	}

	existing.Addresses = remaining
	r.entries[key] = existing
	return Updated, true
}

func (r *Registry) Lookup(category Category, instance string) (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ep, found := r.entries[registryKey{category: category, instance: instance}]
	if !found {
		return Endpoint{}, false
	}

	ep.Addresses = slices.Clone(ep.Addresses)
	return ep, true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// mergeAddresses appends addresses not yet present, keeping the original order.
func mergeAddresses(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	result := slices.Clone(existing)
	for _, addr := range existing {
		seen[addr] = true
	}

	for _, addr := range added {
		if !seen[addr] {
			result = append(result, addr)
			seen[addr] = true
		}
	}
	return result
}

func removeAddresses(addresses, gone []string) []string {
	toRemove := make(map[string]bool, len(gone))
	for _, addr := range gone {
		toRemove[addr] = true
	}

	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !toRemove[addr] {
			result = append(result, addr)
		}
	}
	return result
}
