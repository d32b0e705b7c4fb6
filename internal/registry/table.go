package registry

import "sync"

// Table is a keyed collection of live service handles. It does no
// locking of its own: the owning service serializes every access
// through its operation lock and passes that lock in so deferred
// removals can re-acquire it.
type Table[K comparable, V any] struct {
	lock    sync.Locker
	remover *Remover
	entries map[K]V

	// OnAdd and OnDelete fire synchronously inside Add and Delete,
	// under the same lock as the mutation. Used for gauge upkeep.
	OnAdd    func(V)
	OnDelete func(V)
}

// New creates an empty table. A nil remover makes Remove synchronous.
func New[K comparable, V any](lock sync.Locker, remover *Remover) *Table[K, V] {
	return &Table[K, V]{
		lock:    lock,
		remover: remover,
		entries: make(map[K]V),
	}
}

// Add registers a handle under key, replacing any previous entry. The
// replaced entry does not fire OnDelete; callers replace only after
// deleting when the hooks matter.
func (t *Table[K, V]) Add(key K, value V) {
	t.entries[key] = value
	if t.OnAdd != nil {
		t.OnAdd(value)
	}
}

// Get returns the handle registered under key.
func (t *Table[K, V]) Get(key K) (V, bool) {
	v, ok := t.entries[key]
	return v, ok
}

// Count returns the number of registered handles.
func (t *Table[K, V]) Count() int {
	return len(t.entries)
}

// IsUnidirectionallyOccupied reports whether at least one handle is
// registered.
func (t *Table[K, V]) IsUnidirectionallyOccupied() bool {
	return len(t.entries) >= 1
}

// IsBidirectionallyOccupied reports whether the table already holds a
// full session pair.
func (t *Table[K, V]) IsBidirectionallyOccupied() bool {
	return len(t.entries) >= 2
}

// AnyOne returns an arbitrary registered handle. Callers use it only
// when exactly one handle is registered.
func (t *Table[K, V]) AnyOne() (V, bool) {
	for _, v := range t.entries {
		return v, true
	}
	var zero V
	return zero, false
}

// Values returns the registered handles in map order.
func (t *Table[K, V]) Values() []V {
	out := make([]V, 0, len(t.entries))
	for _, v := range t.entries {
		out = append(out, v)
	}
	return out
}

// Delete removes the handle under key immediately. No-op for an absent
// key.
func (t *Table[K, V]) Delete(key K) {
	v, ok := t.entries[key]
	if !ok {
		return
	}
	delete(t.entries, key)
	if t.OnDelete != nil {
		t.OnDelete(v)
	}
}

// Remove schedules the handle under key for removal on the background
// remover. Until the remover runs, the entry stays in the table and
// keeps counting toward admission limits. With a nil remover the
// removal happens inline.
func (t *Table[K, V]) Remove(key K) {
	if t.remover == nil {
		t.Delete(key)
		return
	}
	t.remover.Enqueue(func() {
		t.lock.Lock()
		defer t.lock.Unlock()
		t.Delete(key)
	})
}
