// ABOUTME: Thread-safe TTL set tracking recently seen session ids.
// ABOUTME: Bounded by size and age so the active-session metric cannot grow without limit.

package recent

import (
	"container/list"
	"sync"
	"time"
)

// entry stores the last-seen time and list element for a key.
type entry struct {
	seen    time.Time
	element *list.Element
}

// Set is a size-limited, TTL-based set of keys. Keys are kept in last-seen
// order (oldest at the front) so both eviction and expiry are O(1) per key.
type Set struct {
	mu      sync.Mutex
	keys    map[string]*entry
	order   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a set with the given window and capacity. A background goroutine
// periodically drops expired keys until Close is called.
func New(ttl time.Duration, maxSize int) *Set {
	s := newSet(ttl, maxSize, time.Now)
	go s.cleanup()
	return s
}

func newSet(ttl time.Duration, maxSize int, now func() time.Time) *Set {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Set{
		keys:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
		done:    make(chan struct{}),
	}
}

// Mark records key as seen now. At capacity the least recently seen key is evicted.
func (s *Set) Mark(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.keys[key]; ok {
		e.seen = now
		s.order.MoveToBack(e.element)
		return
	}

	if len(s.keys) >= s.maxSize {
		s.evictOldest()
	}

	s.keys[key] = &entry{seen: now, element: s.order.PushBack(key)}
}

// Contains reports whether key was seen within the window.
func (s *Set) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.keys[key]
	return ok && s.now().Sub(e.seen) < s.ttl
}

// Len returns the number of keys seen within the window.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked()
	return len(s.keys)
}

// evictOldest removes the front of the list. Must be called with mu held.
func (s *Set) evictOldest() {
	front := s.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	s.order.Remove(front)
	delete(s.keys, key)
}

// expireLocked drops expired keys from the front. Must be called with mu held.
func (s *Set) expireLocked() {
	now := s.now()
	for front := s.order.Front(); front != nil; front = s.order.Front() {
		key, _ := front.Value.(string)
		if now.Sub(s.keys[key].seen) < s.ttl {
			return
		}
		s.order.Remove(front)
		delete(s.keys, key)
	}
}

// cleanup runs in a background goroutine, periodically removing expired keys.
func (s *Set) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			s.expireLocked()
			s.mu.Unlock()
		case <-s.done:
			return
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (s *Set) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		close(s.done)
		s.closed = true
	}
}
