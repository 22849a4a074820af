package breaker

import (
	"hash/fnv"
	"sync"
	"time"
)

/* Registry holds one breaker per destination URL.
 * Breakers are keyed by the FNV-1a hash of the URL and created lazily with
 * the settings of the first caller. Colliding URLs share a breaker.
 */
type Registry struct {
	mu       sync.Mutex
	breakers map[uint32]*Breaker
	now      func() time.Time
}

func NewRegistry(now func() time.Time) *Registry {
	return &Registry{
		breakers: make(map[uint32]*Breaker),
		now:      now,
	}
}

// Get returns the breaker for url, creating it if needed
func (r *Registry) Get(url string, threshold int, timeout time.Duration) *Breaker {
	key := Key(url)

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[key]
	if !ok {
		b = New(threshold, timeout, r.now)
		r.breakers[key] = b
	}
	return b
}

// OpenCount counts breakers currently rejecting or probing
func (r *Registry) OpenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, b := range r.breakers {
		if b.State() != Closed {
			n++
		}
	}
	return n
}

// Len is the number of tracked destinations
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.breakers)
}

// Key hashes a URL with 32-bit FNV-1a
func Key(url string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(url))
	return h.Sum32()
}
