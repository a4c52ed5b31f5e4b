package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/reelhub/publish-queue/internal/domain"
)

// StatusSource is satisfied by *Scheduler.
type StatusSource interface {
	QueueStatus(ctx context.Context) (*domain.QueueStatus, error)
}

// DepthReporter periodically publishes queue counts and rate-limit usage to
// the metrics hook.
type DepthReporter struct {
	source   StatusSource
	interval time.Duration
	logger   *zap.Logger
	observe  func(*domain.QueueStatus)
}

func NewDepthReporter(source StatusSource, interval time.Duration, logger *zap.Logger, observe func(*domain.QueueStatus)) *DepthReporter {
	return &DepthReporter{source: source, interval: interval, logger: logger, observe: observe}
}

// Run ticks every interval and reports the current status.
// Stops cleanly when ctx is cancelled.
func (d *DepthReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("depth reporter started", zap.Duration("interval", d.interval))
	d.report(ctx)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("depth reporter stopping")
			return
		case <-ticker.C:
			d.report(ctx)
		}
	}
}

func (d *DepthReporter) report(ctx context.Context) {
	status, err := d.source.QueueStatus(ctx)
	if err != nil {
		d.logger.Warn("queue status poll error", zap.Error(err))
		return
	}
	d.observe(status)
}
