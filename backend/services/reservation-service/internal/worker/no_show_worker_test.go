package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingMarker struct {
	calls atomic.Int32
	err   error
}

func (m *countingMarker) MarkNoShows(context.Context) (int, error) {
	m.calls.Add(1)
	return 1, m.err
}

func TestNoShowWorkerSweepsUntilCancelled(t *testing.T) {
	marker := &countingMarker{}
	w := NewNoShowWorker(marker, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return marker.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}

func TestNoShowWorkerKeepsRunningAfterFailure(t *testing.T) {
	marker := &countingMarker{err: errors.New("db down")}
	w := NewNoShowWorker(marker, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.Eventually(t, func() bool { return marker.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestNewNoShowWorkerDefaultsInterval(t *testing.T) {
	w := NewNoShowWorker(&countingMarker{}, 0, zap.NewNop())
	require.Equal(t, time.Minute, w.interval)
}
