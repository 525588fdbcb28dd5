// ABOUTME: Tests for the recently-seen set.
// ABOUTME: Validates TTL expiry, size limits, refresh ordering, and concurrency safety.

package recent

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestSet_MarkAndContains(t *testing.T) {
	s := New(5*time.Minute, 100)
	defer s.Close()

	assert.False(t, s.Contains("s1"))
	s.Mark("s1")
	assert.True(t, s.Contains("s1"))
	assert.Equal(t, 1, s.Len())
}

func TestSet_DuplicateMarksCountOnce(t *testing.T) {
	s := New(5*time.Minute, 100)
	defer s.Close()

	s.Mark("s1")
	s.Mark("s1")
	s.Mark("s2")
	assert.Equal(t, 2, s.Len())
}

func TestSet_Expiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	s := newSet(time.Minute, 100, clock.Now)

	s.Mark("old")
	clock.Advance(30 * time.Second)
	s.Mark("new")
	assert.Equal(t, 2, s.Len())

	clock.Advance(40 * time.Second)
	assert.False(t, s.Contains("old"))
	assert.True(t, s.Contains("new"))
	assert.Equal(t, 1, s.Len())
}

func TestSet_RefreshKeepsAlive(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	s := newSet(time.Minute, 100, clock.Now)

	s.Mark("a")
	clock.Advance(50 * time.Second)
	s.Mark("a")
	clock.Advance(50 * time.Second)
	assert.Equal(t, 1, s.Len())
}

func TestSet_EvictsOldestAtCapacity(t *testing.T) {
	s := New(time.Hour, 3)
	defer s.Close()

	s.Mark("a")
	s.Mark("b")
	s.Mark("c")
	s.Mark("a") // refresh, b is now oldest
	s.Mark("d")

	assert.Equal(t, 3, s.Len())
	assert.False(t, s.Contains("b"))
	assert.True(t, s.Contains("a"))
	assert.True(t, s.Contains("d"))
}

func TestSet_Concurrent(t *testing.T) {
	s := New(time.Hour, 1000)
	defer s.Close()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Mark(fmt.Sprintf("g%d-%d", g, i%10))
				_ = s.Len()
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 80, s.Len())
}

func TestSet_CloseTwice(t *testing.T) {
	s := New(time.Minute, 10)
	s.Close()
	s.Close()
}
