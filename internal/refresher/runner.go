package refresher

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Run 立即刷新一次，之后按固定间隔刷新，直到 ctx 取消
// 每个 tick 在独立 goroutine 中拉取；上一次未结束时跳过本 tick
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	r.logger.Info("Starting queue view refresher",
		zap.Duration("interval", r.opts.Interval),
		zap.Duration("timeout", r.opts.Timeout),
	)

	tick := func() {
		if r.inFlight.Load() {
			r.recordSkip()
			r.logger.Debug("Skipping queue refresh tick, previous fetch still in flight")
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.runOnce(ctx)
		}()
	}

	tick()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Queue view refresher stopped")
			return
		case <-ticker.C:
			tick()
		}
	}
}

func (r *Refresher) runOnce(ctx context.Context) {
	view, err := r.Refresh(ctx)
	switch {
	case errors.Is(err, ErrRefreshInProgress):
		r.recordSkip()
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		r.logger.Error("Failed to refresh queue view, keeping previous view", zap.Error(err))
	default:
		r.logger.Debug("Queue view refreshed",
			zap.Uint64("version", view.Version),
			zap.Int("patient_count", view.PatientCount()),
		)
	}
}
