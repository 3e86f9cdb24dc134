package notifier

import (
	"sync"
	"time"
)

// recentSet remembers delivery keys until their expiry. When it grows past
// its cap it drops expired keys first, then the ones expiring soonest.
type recentSet struct {
	mu      sync.Mutex
	max     int
	expires map[string]time.Time
}

func newRecentSet() *recentSet {
	return &recentSet{max: 2000, expires: make(map[string]time.Time)}
}

func (r *recentSet) resize(n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	r.max = n
	r.mu.Unlock()
}

// add records key until expiry and reports whether it was absent or
// already expired.
func (r *recentSet) add(key string, expiry time.Time) bool {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	if until, ok := r.expires[key]; ok && now.Before(until) {
		return false
	}
	r.expires[key] = expiry
	if len(r.expires) > r.max {
		r.evict(now)
	}
	return true
}

func (r *recentSet) evict(now time.Time) {
	for k, until := range r.expires {
		if !now.Before(until) {
			delete(r.expires, k)
		}
	}
	for len(r.expires) > r.max {
		var oldest string
		var at time.Time
		for k, until := range r.expires {
			if oldest == "" || until.Before(at) {
				oldest, at = k, until
			}
		}
		delete(r.expires, oldest)
	}
}

func (r *recentSet) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.expires)
}
