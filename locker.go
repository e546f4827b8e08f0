package mediacache

import (
	"log"
	"sync"
)

// KeyLockManager manages a map of mutexes, one for each cache key.
// It uses sync.Map for efficient concurrent access.
type KeyLockManager struct {
	locks sync.Map // map[string]*sync.Mutex
}

// NewKeyLockManager creates a new lock manager.
func NewKeyLockManager() *KeyLockManager {
	return &KeyLockManager{}
}

// Lock acquires the mutex associated with the given cache key.
// If the mutex does not exist, it is created.
// This operation blocks until the lock is acquired.
func (m *KeyLockManager) Lock(key string) {
	if key == "" {
		// Avoid locking on empty key, though this shouldn't happen in practice.
		return
	}
	// LoadOrStore ensures that only one mutex is created per key.
	mutex, _ := m.locks.LoadOrStore(key, &sync.Mutex{})
	mutex.(*sync.Mutex).Lock()
}

// Unlock releases the mutex associated with the given cache key.
// Typically used with defer: `defer locker.Unlock(key)`.
func (m *KeyLockManager) Unlock(key string) {
	if key == "" {
		return
	}
	if mutex, ok := m.locks.Load(key); ok {
		mutex.(*sync.Mutex).Unlock()
	} else {
		// This case should ideally not happen if Lock was called correctly.
		log.Printf("WARN: Attempted to Unlock a key ('%s') that was not locked or doesn't exist.", key)
	}
}
