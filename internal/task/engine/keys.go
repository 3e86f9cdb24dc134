package engine

import "sync"

// keySet is the set of concurrency keys with work queued or running.
// Entries are removed on release, so the set only holds busy keys.
type keySet struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newKeySet() *keySet {
	return &keySet{held: make(map[string]struct{})}
}

func (k *keySet) acquire(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, busy := k.held[key]; busy {
		return false
	}
	k.held[key] = struct{}{}
	return true
}

func (k *keySet) release(key string) {
	k.mu.Lock()
	delete(k.held, key)
	k.mu.Unlock()
}

func (k *keySet) busy(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.held[key]
	return ok
}

func (k *keySet) len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.held)
}
