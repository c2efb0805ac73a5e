// Package convlock serializes processing per conversation id so concurrent
// webhook deliveries for one thread cannot race conversation resolution or
// trigger overlapping AI generations.
package convlock

import "sync"

// KeyedMutex hands out one mutex per key. Entries are reference-counted and
// released when the last holder unlocks, so the map does not grow with the
// number of conversations ever seen.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func New() *KeyedMutex {
	return &KeyedMutex{locks: map[string]*entry{}}
}

// Lock blocks until the key's mutex is held and returns the unlock function.
func (k *KeyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
