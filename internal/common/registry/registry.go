// Package registry provides a generic, thread-safe registry keyed by a
// type tag. Providers register one entry per tag and callers look them up
// by the tag stored on an integration.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"calsync/internal/common/errors"
)

// Entry is anything that can report the tag it is registered under
type Entry interface {
	// Type returns the identifier for this entry
	Type() string
}

// Registry holds entries of type T keyed by tag
type Registry[T Entry] struct {
	entries map[string]T
	mu      sync.RWMutex
}

// New creates an empty registry
func New[T Entry]() *Registry[T] {
	return &Registry[T]{
		entries: make(map[string]T),
	}
}

// Register adds entry under its own Type(), replacing any previous entry
func (r *Registry[T]) Register(entry T) {
	r.RegisterAs(entry.Type(), entry)
}

// RegisterAs adds entry under tag. Used for aliases such as nextcloud
// sharing an implementation with owncloud.
func (r *Registry[T]) RegisterAs(tag string, entry T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[tag] = entry
}

// Get returns the entry for tag, or a not_found AppError
func (r *Registry[T]) Get(tag string) (T, error) {
	r.mu.RLock()
	entry, ok := r.entries[tag]
	r.mu.RUnlock()

	if !ok {
		var zero T
		return zero, errors.NotFoundError(fmt.Sprintf("registry entry %s", tag))
	}
	return entry, nil
}

// Has reports whether tag is registered
func (r *Registry[T]) Has(tag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[tag]
	return ok
}

// Tags returns the registered tags in sorted order
func (r *Registry[T]) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]string, 0, len(r.entries))
	for tag := range r.entries {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Len returns the number of registered tags
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
