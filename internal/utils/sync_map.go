package utils

import "sync"

// SyncMap is a typed view over sync.Map.
type SyncMap[K comparable, V any] struct {
	sm sync.Map
}

func (m *SyncMap[K, V]) Store(key K, value V) {
	m.sm.Store(key, value)
}

func (m *SyncMap[K, V]) Load(key K) (V, bool) {
	val, ok := m.sm.Load(key)
	if !ok {
		var zero V
		return zero, false
	}
	return val.(V), true
}

func (m *SyncMap[K, V]) LoadAndDelete(key K) (V, bool) {
	val, ok := m.sm.LoadAndDelete(key)
	if !ok {
		var zero V
		return zero, false
	}
	return val.(V), true
}

func (m *SyncMap[K, V]) Range(f func(key K, value V) bool) {
	m.sm.Range(func(key, value any) bool {
		return f(key.(K), value.(V))
	})
}

func (m *SyncMap[K, V]) Len() int {
	count := 0
	m.sm.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}
