package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// NoShowMarker transitions overdue reservations.
type NoShowMarker interface {
	MarkNoShows(ctx context.Context) (int, error)
}

// NoShowWorker sweeps confirmed reservations whose no-show deadline passed.
type NoShowWorker struct {
	marker   NoShowMarker
	interval time.Duration
	logger   *zap.Logger
}

// NewNoShowWorker builds worker. Interval defaults to one minute.
func NewNoShowWorker(marker NoShowMarker, interval time.Duration, logger *zap.Logger) *NoShowWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &NoShowWorker{marker: marker, interval: interval, logger: logger}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (w *NoShowWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *NoShowWorker) sweep(ctx context.Context) {
	marked, err := w.marker.MarkNoShows(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("no-show sweep failed", zap.Error(err))
		}
		return
	}
	if marked > 0 {
		w.logger.Info("reservations marked as no-show", zap.Int("count", marked))
	}
}
