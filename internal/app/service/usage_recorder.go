package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/PoolURL/internal/app/model"
	"github.com/sifan077/PoolURL/internal/app/repository"
	"github.com/sifan077/PoolURL/internal/infra/prometheus"
	"go.uber.org/zap"
)

// UsageRecorder records that a binding served a redirect. Recording is best effort and never fails the caller.
type UsageRecorder interface {
	Record(ctx context.Context, bindingID uint64, observedAt time.Time)
}

// asyncPublisher is the part of nats.JetStreamContext the queued recorder needs.
type asyncPublisher interface {
	PublishAsync(subj string, data []byte, opts ...nats.PubOpt) (nats.PubAckFuture, error)
}

// NewUsageRecorder returns a queued recorder when js is set and a direct recorder otherwise.
func NewUsageRecorder(repo repository.UsageEventRepository, js nats.JetStreamContext, async bool, logger *zap.Logger) UsageRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if async && js != nil {
		return NewQueuedRecorder(js, logger)
	}
	if async {
		logger.Warn("async usage logging requested without jetstream, recording inline")
	}
	return NewDirectRecorder(repo, logger)
}

// DirectRecorder writes usage events inline.
type DirectRecorder struct {
	repo   repository.UsageEventRepository
	logger *zap.Logger
}

// NewDirectRecorder creates a recorder writing through repo.
func NewDirectRecorder(repo repository.UsageEventRepository, logger *zap.Logger) *DirectRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectRecorder{repo: repo, logger: logger}
}

func (r *DirectRecorder) Record(ctx context.Context, bindingID uint64, observedAt time.Time) {
	err := r.repo.Create(ctx, &model.UsageEvent{BindingID: bindingID, ObservedAt: observedAt})
	switch {
	case err == nil:
		prometheus.UsageEventsTotal.WithLabelValues(prometheus.UsageRecorded).Inc()
	case errors.Is(err, model.ErrMalformedTimestamp):
		prometheus.UsageEventsTotal.WithLabelValues(prometheus.UsageDropped).Inc()
		r.logger.Warn("usage event dropped", zap.Uint64("binding_id", bindingID), zap.Error(err))
	default:
		prometheus.UsageEventsTotal.WithLabelValues(prometheus.UsageFailed).Inc()
		r.logger.Error("failed to store usage event", zap.Uint64("binding_id", bindingID), zap.Error(err))
	}
}

// QueuedRecorder publishes usage events to NATS JetStream for the UsageConsumer.
type QueuedRecorder struct {
	js     asyncPublisher
	logger *zap.Logger
}

// NewQueuedRecorder creates a recorder publishing through js.
func NewQueuedRecorder(js nats.JetStreamContext, logger *zap.Logger) *QueuedRecorder {
	return newQueuedRecorder(js, logger)
}

func newQueuedRecorder(js asyncPublisher, logger *zap.Logger) *QueuedRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueuedRecorder{js: js, logger: logger}
}

// Record does not wait for the publish acknowledgement.
func (r *QueuedRecorder) Record(_ context.Context, bindingID uint64, observedAt time.Time) {
	if observedAt.IsZero() {
		prometheus.UsageEventsTotal.WithLabelValues(prometheus.UsageDropped).Inc()
		r.logger.Warn("usage event dropped", zap.Uint64("binding_id", bindingID), zap.Error(model.ErrMalformedTimestamp))
		return
	}

	data, err := json.Marshal(model.UsageMessage{
		BindingID:  bindingID,
		ObservedAt: model.FormatObservedAt(observedAt),
	})
	if err != nil {
		prometheus.UsageEventsTotal.WithLabelValues(prometheus.UsageFailed).Inc()
		r.logger.Error("failed to encode usage event", zap.Error(err))
		return
	}

	if _, err := r.js.PublishAsync(model.UsageStreamSubject, data); err != nil {
		prometheus.UsageEventsTotal.WithLabelValues(prometheus.UsageFailed).Inc()
		r.logger.Error("failed to publish usage event", zap.Uint64("binding_id", bindingID), zap.Error(err))
		return
	}
	prometheus.UsageEventsTotal.WithLabelValues(prometheus.UsageQueued).Inc()
}
