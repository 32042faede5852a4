package registry

import (
	"errors"

	"github.com/samber/lo"
)

// Unbounded disables the capacity check when passed to New.
const Unbounded = 0

var (
	// ErrExists is returned by Add when the key is already registered.
	ErrExists = errors.New("registry: key already present")
	// ErrFull is returned by Add when the registry is at capacity.
	ErrFull = errors.New("registry: capacity reached")
	// ErrMissing is returned by Remove when the key is not registered.
	// Callers that treat removal as idempotent can ignore it.
	ErrMissing = errors.New("registry: key not present")
)

// Registry is a capacity-bounded, unique-keyed collection that remembers
// insertion order. Iteration and list conversion always follow that order,
// which is what keeps broadcasts and list messages stable between ticks.
//
// A Registry is not safe for concurrent use. Every registry in this module is
// owned by exactly one goroutine (the server dispatcher or the client loop).
type Registry[K comparable, V any] struct {
	keys   []K
	values map[K]V
	max    int
}

// New creates an empty registry holding at most max entries.
// A max of Unbounded (or any value <= 0) means no limit.
func New[K comparable, V any](max int) *Registry[K, V] {
	if max < 0 {
		max = Unbounded
	}
	return &Registry[K, V]{
		values: make(map[K]V),
		max:    max,
	}
}

// Add appends key at the end of the iteration order.
func (r *Registry[K, V]) Add(key K, value V) error {
	if _, ok := r.values[key]; ok {
		return ErrExists
	}
	if r.Full() {
		return ErrFull
	}
	r.keys = append(r.keys, key)
	r.values[key] = value
	return nil
}

// Remove deletes key while preserving the order of the remaining entries.
func (r *Registry[K, V]) Remove(key K) error {
	if _, ok := r.values[key]; !ok {
		return ErrMissing
	}
	delete(r.values, key)
	for i, k := range r.keys {
		if k == key {
			r.keys = append(r.keys[:i], r.keys[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns the value stored under key.
func (r *Registry[K, V]) Get(key K) (V, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Has reports whether key is registered.
func (r *Registry[K, V]) Has(key K) bool {
	_, ok := r.values[key]
	return ok
}

// Len returns the number of entries.
func (r *Registry[K, V]) Len() int {
	return len(r.keys)
}

// Cap returns the configured capacity, Unbounded if there is none.
func (r *Registry[K, V]) Cap() int {
	return r.max
}

// Full reports whether another Add would fail with ErrFull.
func (r *Registry[K, V]) Full() bool {
	return r.max != Unbounded && len(r.keys) >= r.max
}

// Keys returns a copy of the keys in insertion order.
func (r *Registry[K, V]) Keys() []K {
	out := make([]K, len(r.keys))
	copy(out, r.keys)
	return out
}

// Values returns the values in insertion order.
func (r *Registry[K, V]) Values() []V {
	return Map(r, func(_ K, v V) V { return v })
}

// Each calls fn for every entry in insertion order. Iteration stops as soon
// as fn returns true, in which case Each returns true as well.
//
// Each walks a snapshot of the keys, so fn may remove entries (including the
// current one) without skipping or repeating any of the others.
func (r *Registry[K, V]) Each(fn func(K, V) bool) bool {
	for _, k := range r.Keys() {
		v, ok := r.values[k]
		if !ok {
			continue
		}
		if fn(k, v) {
			return true
		}
	}
	return false
}

// EachExcept is like Each but skips the keys in exclude and never stops early.
func (r *Registry[K, V]) EachExcept(exclude []K, fn func(K, V)) {
	r.Each(func(k K, v V) bool {
		if !lo.Contains(exclude, k) {
			fn(k, v)
		}
		return false
	})
}

// Clear removes every entry. Capacity is kept.
func (r *Registry[K, V]) Clear() {
	r.keys = nil
	r.values = make(map[K]V)
}

// Map converts the registry into a list in insertion order.
func Map[K comparable, V any, T any](r *Registry[K, V], fn func(K, V) T) []T {
	return lo.Map(r.keys, func(k K, _ int) T {
		return fn(k, r.values[k])
	})
}
