package maps

import "github.com/puzpuzpuz/xsync/v3"

// XSyncMap is a generic, concurrent map that implements the ConcurrentMap
// interface using the puzpuzpuz/xsync library. This is the default: the
// goroutine-id index is read-heavy with steady churn at the edges, which is
// exactly the mixed workload xsync's map is built for.
type XSyncMap[K Integer, V any] struct {
	m *xsync.MapOf[K, V]
}

// NewXSyncMap creates a new XSyncMap, returning it as a ConcurrentMap.
func NewXSyncMap[K Integer, V any]() ConcurrentMap[K, V] {
	return &XSyncMap[K, V]{m: xsync.NewMapOf[K, V]()}
}

// Load returns the value for a given key.
func (m *XSyncMap[K, V]) Load(key K) (V, bool) {
	return m.m.Load(key)
}

// Store sets the value for a given key.
func (m *XSyncMap[K, V]) Store(key K, value V) {
	m.m.Store(key, value)
}

// Delete removes a key from the map.
func (m *XSyncMap[K, V]) Delete(key K) {
	m.m.Delete(key)
}

// LoadAndDelete deletes a key and returns the value it was associated with.
func (m *XSyncMap[K, V]) LoadAndDelete(key K) (V, bool) {
	return m.m.LoadAndDelete(key)
}

// LoadOrStore uses LoadOrCompute for a factory-based get-or-create: the
// factory only runs when the key is absent, and the returned boolean matches
// the interface contract (true when the value was already present).
func (m *XSyncMap[K, V]) LoadOrStore(key K, valueFactory func() V) (V, bool) {
	return m.m.LoadOrTryCompute(key, func() (V, bool) {
		// The factory for LoadOrTryCompute returns (value, cancel).
		// We never want to cancel, so we always return false.
		return valueFactory(), false
	})
}

// Range iterates over all items in the map.
func (m *XSyncMap[K, V]) Range(f func(key K, value V) bool) {
	m.m.Range(f)
}
