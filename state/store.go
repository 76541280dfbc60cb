// Package state хранит разделяемое состояние процесса по ключам
// с атомарными операциями над одним ключом.
package state

import "sync"

// Store хранилище ключ-значение с атомарными операциями над ключом
type Store[K comparable, V any] interface {
	// Load возвращает значение по ключу
	Load(key K) (V, bool)
	// LoadOrStore сохраняет value, если ключ свободен. loaded=true, если значение уже было
	LoadOrStore(key K, value V) (actual V, loaded bool)
	// Update атомарно заменяет значение результатом fn. keep=false удаляет ключ
	Update(key K, fn func(current V, ok bool) (next V, keep bool)) (V, bool)
	// DeleteIf удаляет значение, только если pred вернул true
	DeleteIf(key K, pred func(V) bool) (V, bool)
	// Delete удаляет ключ и возвращает прежнее значение
	Delete(key K) (V, bool)
	// Len возвращает количество ключей
	Len() int
	// Range обходит снимок хранилища. fn возвращает false для остановки
	Range(fn func(K, V) bool)
}

// Memory реализация Store в памяти процесса
type Memory[K comparable, V any] struct {
	mu   sync.Mutex
	data map[K]V
}

// NewMemory создает пустое хранилище в памяти
func NewMemory[K comparable, V any]() *Memory[K, V] {
	return &Memory[K, V]{data: make(map[K]V)}
}

func (m *Memory[K, V]) Load(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *Memory[K, V]) LoadOrStore(key K, value V) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, true
	}
	m.data[key] = value
	return value, false
}

func (m *Memory[K, V]) Update(key K, fn func(V, bool) (V, bool)) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.data[key]
	next, keep := fn(current, ok)
	if !keep {
		delete(m.data, key)
		var zero V
		return zero, false
	}
	m.data[key] = next
	return next, true
}

func (m *Memory[K, V]) DeleteIf(key K, pred func(V) bool) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.data[key]
	if !ok || !pred(v) {
		var zero V
		return zero, false
	}
	delete(m.data, key)
	return v, true
}

func (m *Memory[K, V]) Delete(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	delete(m.data, key)
	return v, ok
}

func (m *Memory[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

func (m *Memory[K, V]) Range(fn func(K, V) bool) {
	m.mu.Lock()
	snapshot := make(map[K]V, len(m.data))
	for k, v := range m.data {
		snapshot[k] = v
	}
	m.mu.Unlock()

	for k, v := range snapshot {
		if !fn(k, v) {
			return
		}
	}
}
