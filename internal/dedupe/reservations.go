// ABOUTME: Short-lived name reservations that close the check-then-enqueue window.
// ABOUTME: A create holds its name until the database worker has applied it or the TTL lapses.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type reservation struct {
	at      time.Time
	element *list.Element
}

// Reservations is a thread-safe set of keys that expire after a TTL. Each
// key is held by at most one caller at a time. The set is bounded: when
// full, the oldest reservation is dropped.
type Reservations struct {
	mu      sync.Mutex
	held    map[string]*reservation
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a reservation set. A background goroutine drops expired
// reservations every sweep interval.
func New(ttl time.Duration, maxSize int) *Reservations {
	r := &Reservations{
		held:    make(map[string]*reservation),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go r.sweepLoop(sweepInterval(ttl))
	return r
}

func sweepInterval(ttl time.Duration) time.Duration {
	if ttl > 0 && ttl < time.Minute {
		return ttl
	}
	return time.Minute
}

// Reserve claims key. It returns false if another caller holds an unexpired
// reservation for it.
func (r *Reservations) Reserve(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res, ok := r.held[key]; ok {
		if time.Since(res.at) < r.ttl {
			return false
		}
		r.order.Remove(res.element)
		delete(r.held, key)
	}

	if len(r.held) >= r.maxSize {
		r.dropOldest()
	}

	r.held[key] = &reservation{at: time.Now(), element: r.order.PushBack(key)}
	return true
}

// Held reports whether key has an unexpired reservation.
func (r *Reservations) Held(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.held[key]
	return ok && time.Since(res.at) < r.ttl
}

// Release drops the reservation for key, if any.
func (r *Reservations) Release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res, ok := r.held[key]; ok {
		r.order.Remove(res.element)
		delete(r.held, key)
	}
}

// Len returns the number of reservations, expired or not.
func (r *Reservations) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.held)
}

// dropOldest must be called with mu held.
func (r *Reservations) dropOldest() {
	front := r.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	r.order.Remove(front)
	delete(r.held, key)
}

func (r *Reservations) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.done:
			return
		}
	}
}

// sweep drops expired reservations. Insertion order equals age order, so it
// stops at the first live one.
func (r *Reservations) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for e := r.order.Front(); e != nil; {
		key, _ := e.Value.(string)
		res := r.held[key]
		if now.Sub(res.at) < r.ttl {
			return
		}
		next := e.Next()
		r.order.Remove(e)
		delete(r.held, key)
		e = next
	}
}

// Close stops the background sweep. It is safe to call multiple times.
func (r *Reservations) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.closed {
		close(r.done)
		r.closed = true
	}
}
