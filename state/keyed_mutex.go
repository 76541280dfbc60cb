package state

import "sync"

// KeyedMutex мьютекс на каждый ключ. Записи удаляются, когда ключ никто не держит
type KeyedMutex[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex создает пустой набор мьютексов
func NewKeyedMutex[K comparable]() *KeyedMutex[K] {
	return &KeyedMutex[K]{locks: make(map[K]*keyedEntry)}
}

// Lock захватывает мьютекс ключа и возвращает функцию освобождения
func (k *KeyedMutex[K]) Lock(key K) (unlock func()) {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Unlock()

			k.mu.Lock()
			entry.refs--
			if entry.refs == 0 {
				delete(k.locks, key)
			}
			k.mu.Unlock()
		})
	}
}

// Size возвращает число ключей, по которым сейчас есть владельцы или ожидающие
func (k *KeyedMutex[K]) Size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
