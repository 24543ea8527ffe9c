package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// PoolReplenisher periodically tops the reserved pool up to its target size.
type PoolReplenisher struct {
	logger   *zap.Logger
	pool     TokenPool
	target   int
	interval time.Duration
	stopChan chan struct{}
	done     chan struct{}
}

// NewPoolReplenisher creates a replenisher running every interval.
func NewPoolReplenisher(logger *zap.Logger, pool TokenPool, target int, interval time.Duration) *PoolReplenisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PoolReplenisher{
		logger:   logger,
		pool:     pool,
		target:   target,
		interval: interval,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs one replenishment immediately, then one per tick.
func (r *PoolReplenisher) Start() {
	go r.run()
}

// Stop stops the ticker and waits for an in-flight replenishment to finish.
func (r *PoolReplenisher) Stop() {
	close(r.stopChan)
	<-r.done
}

func (r *PoolReplenisher) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.runOnce()
	for {
		select {
		case <-ticker.C:
			r.runOnce()
		case <-r.stopChan:
			r.logger.Info("pool replenisher stopped")
			return
		}
	}
}

func (r *PoolReplenisher) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), r.interval)
	defer cancel()

	created, err := r.pool.Replenish(ctx, r.target)
	if err != nil {
		r.logger.Error("failed to replenish reserved pool",
			zap.Int("created", created),
			zap.Int("target", r.target),
			zap.Error(err),
		)
		return
	}
	if created > 0 {
		r.logger.Debug("replenish tick", zap.Int("created", created))
	}
}
