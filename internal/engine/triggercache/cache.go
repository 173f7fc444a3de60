package triggercache

import (
	"iter"
	"sync"
	"time"

	domain "github.com/oshokin/alarm-relay/internal/domain/alarm"
)

// DefaultCapacity bounds the cache when no capacity is configured.
const DefaultCapacity = 300

// Cache is a fixed-capacity ring buffer of activation records.
// The oldest record is evicted first once the buffer is full.
// It is safe for concurrent use.
type Cache struct {
	// records is the ring storage, len(records) is the capacity.
	records []domain.ActivationRecord
	// head is the index of the oldest record.
	head int
	// size is the number of stored records.
	size int
	// mu guards the ring state.
	mu sync.RWMutex
}

// New creates a cache with the given capacity, or DefaultCapacity when capacity <= 0.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Cache{
		records: make([]domain.ActivationRecord, capacity),
	}
}

// Append stores a record, evicting the oldest one when the cache is full.
func (c *Cache) Append(record domain.ActivationRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	capacity := len(c.records)
	if c.size < capacity {
		c.records[(c.head+c.size)%capacity] = record
		c.size++

		return
	}

	c.records[c.head] = record
	c.head = (c.head + 1) % capacity
}

// Len returns the number of stored records.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.size
}

// Cap returns the fixed capacity.
func (c *Cache) Cap() int {
	return len(c.records)
}

// Snapshot returns a copy of the stored records, oldest first.
func (c *Cache) Snapshot() []domain.ActivationRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.snapshotLocked()
}

// Since yields records with now - timestamp <= window, newest first.
// The sequence works on a snapshot taken when iteration starts, so it never
// observes a half-applied Append and can be ranged over repeatedly.
func (c *Cache) Since(now time.Time, window time.Duration) iter.Seq[domain.ActivationRecord] {
	return func(yield func(domain.ActivationRecord) bool) {
		records := c.Snapshot()

		for i := len(records) - 1; i >= 0; i-- {
			if now.Sub(records[i].Timestamp) > window {
				continue
			}

			if !yield(records[i]) {
				return
			}
		}
	}
}

// snapshotLocked copies the ring in insertion order. The caller holds mu.
func (c *Cache) snapshotLocked() []domain.ActivationRecord {
	result := make([]domain.ActivationRecord, c.size)

	capacity := len(c.records)
	for i := range c.size {
		result[i] = c.records[(c.head+i)%capacity]
	}

	return result
}
