package triggercache

import (
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/oshokin/alarm-relay/internal/domain/alarm"
)

// base is a fixed reference instant for deterministic timestamps.
//
//nolint:gochecknoglobals // Test fixture.
var base = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func record(i int) domain.ActivationRecord {
	return domain.ActivationRecord{
		Timestamp:   base.Add(time.Duration(i) * time.Second),
		EntityID:    fmt.Sprintf("binary_sensor.s%d", i),
		DisplayName: fmt.Sprintf("Sensor %d", i),
		Category:    "door",
		State:       "on",
	}
}

func entityIDs(records []domain.ActivationRecord) []string {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.EntityID)
	}

	return ids
}

// TestNew_DefaultCapacity checks the fallback capacity.
func TestNew_DefaultCapacity(t *testing.T) {
	t.Parallel()

	require.Equal(t, DefaultCapacity, New(0).Cap())
	require.Equal(t, DefaultCapacity, New(-5).Cap())
	require.Equal(t, 7, New(7).Cap())
}

// TestAppend_EvictsOldestFirst inserts capacity+k records and expects the capacity newest to remain.
func TestAppend_EvictsOldestFirst(t *testing.T) {
	t.Parallel()

	const (
		capacity = 5
		extra    = 3
	)

	c := New(capacity)
	for i := range capacity + extra {
		c.Append(record(i))
		require.LessOrEqual(t, c.Len(), capacity)
	}

	require.Equal(t, capacity, c.Len())

	want := make([]domain.ActivationRecord, 0, capacity)
	for i := extra; i < capacity+extra; i++ {
		want = append(want, record(i))
	}

	require.Equal(t, want, c.Snapshot())
}

// TestSince_EmptyCache yields nothing.
func TestSince_EmptyCache(t *testing.T) {
	t.Parallel()

	c := New(3)
	require.Empty(t, slices.Collect(c.Since(base, time.Hour)))
}

// TestSince_WindowNewestFirst verifies ordering and the window boundary.
func TestSince_WindowNewestFirst(t *testing.T) {
	t.Parallel()

	c := New(10)
	for i := range 6 {
		c.Append(record(i))
	}

	now := base.Add(5 * time.Second)

	// Records 2..5 are at most 3s old; record 2 sits exactly on the boundary.
	got := slices.Collect(c.Since(now, 3*time.Second))
	require.Equal(t, []string{
		"binary_sensor.s5",
		"binary_sensor.s4",
		"binary_sensor.s3",
		"binary_sensor.s2",
	}, entityIDs(got))

	for _, r := range got {
		require.LessOrEqual(t, now.Sub(r.Timestamp), 3*time.Second)
	}

	// Restartable: a second pass yields the same sequence.
	require.Equal(t, got, slices.Collect(c.Since(now, 3*time.Second)))

	// Early stop is honored.
	var first []domain.ActivationRecord
	for r := range c.Since(now, time.Minute) {
		first = append(first, r)

		break
	}

	require.Equal(t, []string{"binary_sensor.s5"}, entityIDs(first))
}

// TestSince_DoesNotMutate checks the query has no side effects.
func TestSince_DoesNotMutate(t *testing.T) {
	t.Parallel()

	c := New(4)
	for i := range 4 {
		c.Append(record(i))
	}

	before := c.Snapshot()
	_ = slices.Collect(c.Since(base.Add(time.Hour), time.Second))
	require.Equal(t, before, c.Snapshot())
}

// TestConcurrentAppendAndQuery exercises the lock under the race detector.
func TestConcurrentAppendAndQuery(t *testing.T) {
	t.Parallel()

	c := New(16)

	var (
		wg    sync.WaitGroup
		blank int
	)

	wg.Go(func() {
		for i := range 500 {
			c.Append(record(i))
		}
	})

	wg.Go(func() {
		for range 200 {
			for r := range c.Since(base.Add(time.Hour), 2*time.Hour) {
				if r.EntityID == "" {
					blank++
				}
			}
		}
	})

	wg.Wait()
	require.Zero(t, blank)
	require.Equal(t, 16, c.Len())
}
