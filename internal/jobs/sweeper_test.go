package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amanthanvi/wardkeeper/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type stubMarker struct {
	calls  atomic.Int32
	marked int
	err    error
	grace  atomic.Int64
}

func (m *stubMarker) MarkNoShows(_ context.Context, grace time.Duration) (int, error) {
	m.calls.Add(1)
	m.grace.Store(int64(grace))
	return m.marked, m.err
}

func TestNewSweeperValidatesOptions(t *testing.T) {
	t.Parallel()

	_, err := NewSweeper(nil, Options{Interval: time.Minute})
	require.Error(t, err)

	_, err = NewSweeper(&stubMarker{}, Options{})
	require.Error(t, err)

	_, err = NewSweeper(&stubMarker{}, Options{Interval: time.Minute, Grace: -time.Second})
	require.Error(t, err)

	sweeper, err := NewSweeper(&stubMarker{}, Options{Interval: time.Minute})
	require.NoError(t, err)
	require.NotNil(t, sweeper.opts.Logger)
	require.NotNil(t, sweeper.opts.Clock)
}

func TestRunOnceRecordsOutcome(t *testing.T) {
	marker := &stubMarker{marked: 3}
	sweeper, err := NewSweeper(marker, Options{Interval: time.Minute, Grace: 30 * time.Minute})
	require.NoError(t, err)

	okBefore := testutil.ToFloat64(metrics.SweepRuns.WithLabelValues("ok"))
	marked, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, marked)
	require.Equal(t, int64(30*time.Minute), marker.grace.Load())
	require.Equal(t, okBefore+1, testutil.ToFloat64(metrics.SweepRuns.WithLabelValues("ok")))

	marker.err = errors.New("database is locked")
	errBefore := testutil.ToFloat64(metrics.SweepRuns.WithLabelValues("error"))
	_, err = sweeper.RunOnce(context.Background())
	require.Error(t, err)
	require.Equal(t, errBefore+1, testutil.ToFloat64(metrics.SweepRuns.WithLabelValues("error")))
}

func TestStartRunsPeriodicallyUntilStopped(t *testing.T) {
	t.Parallel()

	marker := &stubMarker{}
	sweeper, err := NewSweeper(marker, Options{Interval: 20 * time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, sweeper.Start(context.Background()))
	require.Error(t, sweeper.Start(context.Background()))

	require.Eventually(t, func() bool { return marker.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	sweeper.Stop()
	sweeper.Stop()
	stopped := marker.calls.Load()
	time.Sleep(100 * time.Millisecond)
	require.LessOrEqual(t, marker.calls.Load(), stopped+1)
}

func TestStartStopsWhenContextEnds(t *testing.T) {
	t.Parallel()

	marker := &stubMarker{}
	sweeper, err := NewSweeper(marker, Options{Interval: 20 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, sweeper.Start(ctx))
	require.Eventually(t, func() bool { return marker.calls.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool {
		sweeper.mu.Lock()
		defer sweeper.mu.Unlock()
		return sweeper.scheduler == nil
	}, 2*time.Second, 5*time.Millisecond)
}
