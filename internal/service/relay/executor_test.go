package relay

import (
	"context"
	"testing"
	"testing/synctest"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-relay/internal/metrics"
)

// TestExecutor_RunsInOrder executes tasks sequentially in submission order.
func TestExecutor_RunsInOrder(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		e := newExecutor(0, nil)

		var order []int

		for i := range 5 {
			require.True(t, e.Submit(context.Background(), "step", func(context.Context) {
				order = append(order, i)
			}))
		}

		e.Close()

		require.Equal(t, []int{0, 1, 2, 3, 4}, order)
	})
}

// TestExecutor_DropsWhenFull never blocks the submitter and counts drops.
func TestExecutor_DropsWhenFull(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		m := metrics.New(prometheus.NewRegistry())
		e := newExecutor(1, m)
		release := make(chan struct{})

		require.True(t, e.Submit(context.Background(), "blocker", func(context.Context) {
			<-release
		}))

		// The worker now holds the blocker, the queue is empty.
		synctest.Wait()

		require.True(t, e.Submit(context.Background(), "queued", func(context.Context) {}))
		require.False(t, e.Submit(context.Background(), "dropped", func(context.Context) {}))
		require.InDelta(t, 1, testutil.ToFloat64(m.DroppedTasks), 0)

		close(release)
		e.Close()

		require.False(t, e.Submit(context.Background(), "late", func(context.Context) {}))
		require.InDelta(t, 2, testutil.ToFloat64(m.DroppedTasks), 0)
	})
}

// TestExecutor_SurvivesPanic keeps the worker alive after a panicking task.
func TestExecutor_SurvivesPanic(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		e := newExecutor(4, nil)
		ran := false

		e.Submit(context.Background(), "panics", func(context.Context) {
			panic("boom")
		})
		e.Submit(context.Background(), "after", func(context.Context) {
			ran = true
		})

		e.Close()
		e.Close()

		require.True(t, ran)
	})
}

// TestExecutor_DetachesCancellation runs tasks even when the submitting context is canceled.
func TestExecutor_DetachesCancellation(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		e := newExecutor(1, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		var taskErr error

		e.Submit(ctx, "detached", func(ctx context.Context) {
			taskErr = ctx.Err()
		})
		e.Close()

		require.NoError(t, taskErr)
	})
}
