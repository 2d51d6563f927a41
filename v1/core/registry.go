package core

import (
	"slices"
	"sync"

	"github.com/samber/lo"
)

// Registry maps group keys to groups. Groups are created on first lookup and
// live until Reset. A host normally owns a single Registry for its lifetime.
type Registry struct {
	opts []Option

	mu     sync.Mutex
	groups map[string]*Group
}

// NewRegistry returns an empty registry. opts apply to every group it creates.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{opts: opts, groups: make(map[string]*Group)}
}

// Get returns the group stored under key. When key is unknown the first
// fallback key that has a group is used instead; otherwise a new group is
// created under key.
//
// If key and a fallback both already map to different groups, the group under
// key wins and the two are not merged.
func (r *Registry) Get(key string, fallback ...string) *Group {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.groups[key]; ok {
		return g
	}
	for _, fb := range fallback {
		if fb == "" {
			continue
		}
		if g, ok := r.groups[fb]; ok {
			return g
		}
	}
	g := NewGroup(key, r.opts...)
	r.groups[key] = g
	return g
}

// Key namespaces a sync target so separate annotation trees do not share
// groups. An empty namespace returns target unchanged.
func Key(namespace, target string) string {
	if namespace == "" {
		return target
	}
	return namespace + "/" + target
}

// Join resolves the group for a component called name that declared target as
// its sync target. Its own name is the fallback key, so two components that
// point at each other end up in the same group whichever joins first.
func (r *Registry) Join(namespace, name, target string) *Group {
	if target == "" {
		target = name
	}
	return r.Get(Key(namespace, target), Key(namespace, name))
}

// Lookup returns the group stored under key without creating it.
func (r *Registry) Lookup(key string) (*Group, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[key]
	return g, ok
}

// Keys returns the sorted group keys.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	keys := lo.Keys(r.groups)
	r.mu.Unlock()
	slices.Sort(keys)
	return keys
}

// Len returns the number of groups.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.groups)
}

// Reset drops every group and cancels pending window releases.
func (r *Registry) Reset() {
	r.mu.Lock()
	groups := r.groups
	r.groups = make(map[string]*Group)
	r.mu.Unlock()
	for _, g := range groups {
		g.Close()
	}
}
